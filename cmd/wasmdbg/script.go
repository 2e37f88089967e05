package main

import (
	"bufio"
	"errors"
	"os"
	"strings"

	"go.uber.org/zap"
)

// initFile is replayed from the working directory at startup, the same
// convention as .gdbinit.
const initFile = ".wasmdbg_init"

// runScript feeds a file of commands through the session, one per line.
// Blank lines are skipped rather than repeating the previous command,
// and # starts a comment. With optional set a missing file is fine,
// which keeps startup quiet when the working directory has no init
// script.
func (s *session) runScript(path string, optional bool) error {
	f, err := os.Open(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	defer f.Close()

	s.logger.Info("running script", zap.String("path", path))
	in := bufio.NewScanner(f)
	for in.Scan() {
		line := strings.TrimSpace(in.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		s.logger.Debug("script line", zap.String("line", line))
		s.Exec(line)
		if s.quitting {
			break
		}
	}
	return in.Err()
}
