package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/wippyai/wasmdbg"
	"github.com/wippyai/wasmdbg/code"
)

type styles struct {
	title  lipgloss.Style
	header lipgloss.Style
	addr   lipgloss.Style
	pc     lipgloss.Style
	mark   lipgloss.Style
	result lipgloss.Style
	errTxt lipgloss.Style
	help   lipgloss.Style
}

func newStyles(color bool) *styles {
	if !color {
		plain := lipgloss.NewStyle()
		return &styles{
			title: plain, header: plain, addr: plain, pc: plain,
			mark: plain, result: plain, errTxt: plain, help: plain,
		}
	}
	return &styles{
		title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Background(lipgloss.Color("#7D56F4")).
			Padding(0, 1),
		header: lipgloss.NewStyle().Foreground(lipgloss.Color("#5F87D7")),
		addr:   lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
		pc:     lipgloss.NewStyle().Foreground(lipgloss.Color("#98FB98")),
		mark:   lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		result: lipgloss.NewStyle().Foreground(lipgloss.Color("#90EE90")),
		errTxt: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")),
		help:   lipgloss.NewStyle().Foreground(lipgloss.Color("#666666")),
	}
}

func (s *session) printf(format string, args ...any) {
	fmt.Fprintf(s.w, format+"\n", args...)
}

// header prints a section rule like "──[ disasm ]──────" padded to the
// terminal width.
func (s *session) header(text string) {
	w := s.width
	if w <= 0 {
		w = 80
	}
	line := "──[ " + text + " ]──"
	if pad := w - lipgloss.Width(line); pad > 0 {
		line += strings.Repeat("─", pad)
	}
	s.printf("%s", s.st.header.Render(line))
}

// context is the pause block: where we are, the code around it, and the
// top of the value stack.
func (s *session) context() {
	pos, ok := s.dbg.Position()
	if !ok {
		return
	}
	s.header(fmt.Sprintf("%s (%s)", s.dbg.Symbols().FuncName(pos.Func), pos))
	s.nearPC(pos, 2, 8)
	s.header("stack")
	s.printStack(6)
}

// nearPC lists the disassembly window around pos.
func (s *session) nearPC(pos wasmdbg.CodePosition, back, forward uint32) {
	fn := s.dbg.Func(pos.Func)
	if fn == nil {
		s.printf("<function %d has no code>", pos.Func)
		return
	}
	lines := code.Disassemble(fn, s.dbg.Symbols())
	start := uint32(0)
	if pos.Instr > back {
		start = pos.Instr - back
	}
	end := pos.Instr + forward
	if end > uint32(len(lines)) {
		end = uint32(len(lines))
	}
	if start > 0 {
		s.printf("        ...")
	}
	s.listing(lines[start:end])
	if end < uint32(len(lines)) {
		s.printf("        ...")
	}
}

// listing prints disassembly lines with the pc arrow and breakpoint marks.
func (s *session) listing(lines []code.Line) {
	cur, running := s.dbg.Position()
	marks := make(map[wasmdbg.CodePosition]bool)
	for _, bp := range s.dbg.Breakpoints() {
		if bp.Enabled {
			marks[bp.Pos] = true
		}
	}
	for _, ln := range lines {
		arrow := "   "
		if running && ln.Pos == cur {
			arrow = s.st.pc.Render("=> ")
		}
		mark := " "
		if marks[ln.Pos] {
			mark = s.st.mark.Render("*")
		}
		addr := fmt.Sprintf("%d:%-4d", ln.Pos.Func, ln.Pos.Instr)
		if running && ln.Pos == cur {
			addr = s.st.pc.Render(addr)
		} else {
			addr = s.st.addr.Render(addr)
		}
		s.printf("%s%s%s  %s", arrow, mark, addr, ln.Text)
	}
}

// printStack shows the value stack top first, trimmed to max entries.
func (s *session) printStack(max int) {
	vals, err := s.dbg.StackValues()
	if err != nil {
		s.printf("<%v>", err)
		return
	}
	if len(vals) == 0 {
		s.printf("<empty>")
		return
	}
	wi := len(strconv.Itoa(len(vals) - 1))
	shown := 0
	for i := len(vals) - 1; i >= 0; i-- {
		if max > 0 && shown >= max {
			s.printf("  ...")
			break
		}
		s.printf("  %*d: %s", wi, i, vals[i])
		shown++
	}
}

// hexdump prints data in 16-byte rows with an ASCII gutter.
func (s *session) hexdump(base uint32, data []byte) {
	for off := 0; off < len(data); off += 16 {
		row := data[off:min(off+16, len(data))]
		var hexCol, ascii strings.Builder
		for i, b := range row {
			if i == 8 {
				hexCol.WriteByte(' ')
			}
			fmt.Fprintf(&hexCol, "%02x ", b)
			if b >= 0x20 && b < 0x7F {
				ascii.WriteByte(b)
			} else {
				ascii.WriteByte('.')
			}
		}
		s.printf("%s  %-49s |%s|",
			s.st.addr.Render(fmt.Sprintf("0x%08x", base+uint32(off))),
			hexCol.String(), ascii.String())
	}
}

// resolveFunc accepts "#3", a symtab name, or a bare index.
func (s *session) resolveFunc(tok string) (uint32, error) {
	if rest, ok := strings.CutPrefix(tok, "#"); ok {
		return parseU32(rest)
	}
	if idx, ok := s.dbg.Symbols().LookupFunc(tok); ok {
		return idx, nil
	}
	if idx, err := parseU32(tok); err == nil {
		return idx, nil
	}
	return 0, fmt.Errorf("unknown function %q (try a name, #index, or \"info functions\")", tok)
}

// parseU32 accepts decimal and 0x/0o/0b prefixed forms.
func parseU32(tok string) (uint32, error) {
	n, err := strconv.ParseUint(tok, 0, 32)
	if err != nil {
		return 0, fmt.Errorf("not a valid index or address: %q", tok)
	}
	return uint32(n), nil
}

// guessValue parses a literal without a declared type: the narrowest
// integer kind that holds it, else f64.
func guessValue(tok string) (wasmdbg.Value, error) {
	if v, err := wasmdbg.ParseValue(tok, wasmdbg.KindI32); err == nil {
		return v, nil
	}
	if v, err := wasmdbg.ParseValue(tok, wasmdbg.KindI64); err == nil {
		return v, nil
	}
	if v, err := wasmdbg.ParseValue(tok, wasmdbg.KindF64); err == nil {
		return v, nil
	}
	return wasmdbg.Value{}, fmt.Errorf("cannot parse %q as a wasm value", tok)
}
