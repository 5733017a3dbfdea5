package display

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/mattn/go-isatty"
)

var (
	cyan    = lipgloss.NewStyle().Foreground(lipgloss.Color("86"))
	white   = lipgloss.NewStyle().Foreground(lipgloss.Color("255"))
	dim     = lipgloss.NewStyle().Foreground(lipgloss.Color("242"))
	dimmer  = lipgloss.NewStyle().Foreground(lipgloss.Color("238"))
	green   = lipgloss.NewStyle().Foreground(lipgloss.Color("82"))
	yellow  = lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	magenta = lipgloss.NewStyle().Foreground(lipgloss.Color("213"))
)

type frameMsg View

type awaitMsg struct{}

type model struct {
	title   string
	view    View
	history []float64
	waiting bool
	width   int
	height  int
	confirm chan<- struct{}
}

func newModel(title string, confirm chan<- struct{}) model {
	return model{title: title, width: 80, height: 30, confirm: confirm}
}

func (m model) Init() tea.Cmd { return nil }

func (m model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case frameMsg:
		m.view = View(msg)
		m.history = append(m.history, msg.ErrorSquared)
	case awaitMsg:
		m.waiting = true
	case tea.WindowSizeMsg:
		m.width, m.height = msg.Width, msg.Height
	case tea.KeyMsg:
		switch msg.String() {
		case "enter", " ":
			if m.waiting {
				m.waiting = false
				select {
				case m.confirm <- struct{}{}:
				default:
				}
			}
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}
	}
	return m, nil
}

func (m model) View() string {
	cw := m.width - 6
	ch := m.height - 12
	if cw < 40 {
		cw = 40
	}
	if ch < 10 {
		ch = 10
	}

	cur, des := NewCanvas(cw, ch), NewCanvas(cw, ch)
	cur.DrawFrame(m.view.Current)
	des.DrawFrame(m.view.Desired)

	var b strings.Builder
	status := green.Render("● servoing")
	if m.waiting {
		status = yellow.Render("○ waiting")
	}
	b.WriteString(fmt.Sprintf("\n   %s  %s  %s\n\n", cyan.Render(m.title), status,
		dim.Render(fmt.Sprintf("iter %d", m.view.Iteration))))

	for row := 0; row < ch; row++ {
		b.WriteString("   ")
		for col := 0; col < cw; col++ {
			c, d := cur.Grid[row][col], des.Grid[row][col]
			switch {
			case c != blank:
				b.WriteString(white.Render(string(c | d)))
			case d != blank:
				b.WriteString(magenta.Render(string(d)))
			default:
				b.WriteRune(blank)
			}
		}
		b.WriteByte('\n')
	}

	b.WriteString(fmt.Sprintf("\n   %s %s  %s %s\n",
		dim.Render("|e|²"), white.Render(fmt.Sprintf("%.3e", m.view.ErrorSquared)),
		dim.Render("pose"), white.Render(m.view.Pose.String())))
	v := m.view.Velocity
	b.WriteString(fmt.Sprintf("   %s %s\n", dim.Render("v"),
		white.Render(fmt.Sprintf("[%.3f %.3f %.3f | %.3f %.3f %.3f]", v[0], v[1], v[2], v[3], v[4], v[5]))))
	if len(m.history) > 1 {
		b.WriteString(fmt.Sprintf("   %s %s\n", dim.Render("log|e|²"), cyan.Render(sparkline(m.history, 32))))
	}

	hint := "q quit"
	if m.waiting {
		hint = "enter continue  q quit"
	}
	b.WriteString("\n" + dimmer.Render("   "+hint) + "\n")
	return b.String()
}

// sparkline plots the last width samples on a log scale.
func sparkline(data []float64, width int) string {
	chars := []rune{'▁', '▂', '▃', '▄', '▅', '▆', '▇', '█'}
	if len(data) > width {
		data = data[len(data)-width:]
	}
	logs := make([]float64, len(data))
	lo, hi := math.Inf(1), math.Inf(-1)
	for i, v := range data {
		logs[i] = math.Log10(math.Max(v, 1e-300))
		lo = math.Min(lo, logs[i])
		hi = math.Max(hi, logs[i])
	}
	span := hi - lo
	if span == 0 {
		span = 1
	}
	var sb strings.Builder
	for _, v := range logs {
		idx := int((v - lo) / span * 7)
		if idx < 0 {
			idx = 0
		}
		if idx > 7 {
			idx = 7
		}
		sb.WriteRune(chars[idx])
	}
	return sb.String()
}

// Terminal runs a bubbletea program showing the image plane.
type Terminal struct {
	prog    *tea.Program
	confirm chan struct{}
	done    chan struct{}
	once    sync.Once
	err     error
}

// NewTerminal starts the view on out. It fails with ErrNoTerminal when out
// is not a TTY.
func NewTerminal(title string, in io.Reader, out *os.File) (*Terminal, error) {
	if !isatty.IsTerminal(out.Fd()) && !isatty.IsCygwinTerminal(out.Fd()) {
		return nil, ErrNoTerminal
	}
	return start(title, tea.WithInput(in), tea.WithOutput(out), tea.WithAltScreen()), nil
}

func start(title string, opts ...tea.ProgramOption) *Terminal {
	t := &Terminal{
		confirm: make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	t.prog = tea.NewProgram(newModel(title, t.confirm), opts...)
	go func() {
		_, err := t.prog.Run()
		t.err = err
		close(t.done)
	}()
	return t
}

func (t *Terminal) Show(v View) error {
	select {
	case <-t.done:
		return ErrClosed
	default:
	}
	t.prog.Send(frameMsg(v))
	return nil
}

func (t *Terminal) Confirm(ctx context.Context) error {
	t.prog.Send(awaitMsg{})
	select {
	case <-t.confirm:
		return nil
	case <-t.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops the program and waits for it to restore the terminal.
func (t *Terminal) Close() error {
	t.once.Do(func() { t.prog.Quit() })
	<-t.done
	return t.err
}
