package main

import (
	"bufio"
	"bytes"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"golang.org/x/term"
)

// shellModel is the interactive shell: a viewport holding the scrollback
// and a prompt line under it. Commands run on their own goroutine so the
// UI stays live while wasm code executes; the session writes into out,
// which is drained into the scrollback only after the command goroutine
// has finished, on cmdDoneMsg. While busy the model touches nothing the
// session reads, except Interrupt, which is safe from any goroutine.
type shellModel struct {
	sess  *session
	out   *bytes.Buffer
	input textinput.Model
	vp    viewport.Model

	history []string
	histPos int
	pending string

	scroll string
	file   string
	width  int
	height int
	busy   bool
	ready  bool
}

type cmdDoneMsg struct{}

func newShellModel(sess *session, out *bytes.Buffer) *shellModel {
	input := textinput.New()
	input.Prompt = prompt
	input.Focus()
	return &shellModel{
		sess:    sess,
		out:     out,
		input:   input,
		histPos: -1,
		file:    sess.file,
	}
}

func (m *shellModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m *shellModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		vpHeight := msg.Height - 2
		if vpHeight < 1 {
			vpHeight = 1
		}
		if !m.ready {
			m.vp = viewport.New(msg.Width, vpHeight)
			m.ready = true
		} else {
			m.vp.Width = msg.Width
			m.vp.Height = vpHeight
		}
		m.input.Width = msg.Width - len(prompt) - 1
		if !m.busy {
			m.sess.width = msg.Width
		}
		m.vp.SetContent(m.scroll)
		m.vp.GotoBottom()
		return m, nil

	case tea.KeyMsg:
		switch msg.String() {
		case "ctrl+c":
			if m.busy {
				m.sess.dbg.Interrupt()
				return m, nil
			}
			m.input.Reset()
			m.histPos = -1
			return m, nil

		case "ctrl+d":
			if !m.busy && m.input.Value() == "" {
				m.push(prompt + "quit")
				return m, tea.Quit
			}
			return m, nil

		case "enter":
			if m.busy {
				return m, nil
			}
			line := m.input.Value()
			m.push(prompt + line)
			if trimmed := strings.TrimSpace(line); trimmed != "" {
				if n := len(m.history); n == 0 || m.history[n-1] != trimmed {
					m.history = append(m.history, trimmed)
				}
			}
			m.histPos = -1
			m.input.Reset()
			m.busy = true
			return m, m.execCmd(line)

		case "up":
			if m.busy || len(m.history) == 0 {
				return m, nil
			}
			if m.histPos == -1 {
				m.pending = m.input.Value()
				m.histPos = len(m.history) - 1
			} else if m.histPos > 0 {
				m.histPos--
			}
			m.input.SetValue(m.history[m.histPos])
			m.input.CursorEnd()
			return m, nil

		case "down":
			if m.busy || m.histPos == -1 {
				return m, nil
			}
			m.histPos++
			if m.histPos >= len(m.history) {
				m.histPos = -1
				m.input.SetValue(m.pending)
			} else {
				m.input.SetValue(m.history[m.histPos])
			}
			m.input.CursorEnd()
			return m, nil

		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.vp, cmd = m.vp.Update(msg)
			return m, cmd
		}

	case cmdDoneMsg:
		m.busy = false
		m.file = m.sess.file
		if text := strings.TrimRight(m.out.String(), "\n"); text != "" {
			m.push(text)
		}
		m.out.Reset()
		if m.sess.quitting {
			return m, tea.Quit
		}
		return m, textinput.Blink
	}

	if m.busy {
		return m, nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

// execCmd runs one command line off the UI goroutine. The returned
// cmdDoneMsg is what hands the session back to the model.
func (m *shellModel) execCmd(line string) tea.Cmd {
	sess := m.sess
	return func() tea.Msg {
		sess.Exec(line)
		return cmdDoneMsg{}
	}
}

// push appends text to the scrollback and keeps the view pinned to the
// bottom.
func (m *shellModel) push(text string) {
	if m.scroll != "" {
		m.scroll += "\n"
	}
	m.scroll += text
	if m.ready {
		m.vp.SetContent(m.scroll)
		m.vp.GotoBottom()
	}
}

func (m *shellModel) View() string {
	if !m.ready {
		return "starting..."
	}
	var b strings.Builder
	title := m.sess.st.title.Render("wasmdbg")
	if m.file != "" {
		title += " " + m.file
	}
	b.WriteString(title)
	b.WriteString("\n")
	b.WriteString(m.vp.View())
	b.WriteString("\n")
	if m.busy {
		b.WriteString(m.sess.st.help.Render("running... press ctrl+c to interrupt"))
	} else {
		b.WriteString(m.input.View())
	}
	return b.String()
}

// runShell picks the right front end: the full-screen shell on a
// terminal, a line reader when stdin or stdout is a pipe.
func runShell(sess *session) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) || !term.IsTerminal(int(os.Stdout.Fd())) {
		return runPlain(sess)
	}
	var out bytes.Buffer
	sess.w = &out
	p := tea.NewProgram(newShellModel(sess, &out), tea.WithAltScreen())
	_, err := p.Run()
	return err
}

// runPlain is the REPL for piped input: read a line, run it, repeat.
// SIGINT maps to Interrupt so a runaway run can still be paused.
func runPlain(sess *session) error {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)
	defer signal.Stop(sigs)
	go func() {
		for range sigs {
			sess.dbg.Interrupt()
		}
	}()

	showPrompt := term.IsTerminal(int(os.Stdin.Fd()))
	in := bufio.NewScanner(os.Stdin)
	for {
		if showPrompt {
			fmt.Fprint(sess.w, prompt)
		}
		if !in.Scan() {
			break
		}
		sess.Exec(in.Text())
		if sess.quitting {
			break
		}
	}
	return in.Err()
}
