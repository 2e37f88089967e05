// Package symtab resolves module indices to human-readable names.
//
// A Table is built once from a decoded module and is read-only afterwards.
// Resolution order for any index: the custom name section first, then an
// export of matching index and kind, then a synthetic "kind#index" label
// such as "func#3". Every index therefore always has a printable name.
//
// The table also supports the reverse direction, mapping a name back to
// its kind and index, which is how shell commands address functions by
// name instead of number.
package symtab
