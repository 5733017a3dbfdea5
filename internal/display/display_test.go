package display

import (
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/san-kum/momentservo/internal/geometry"
	"github.com/san-kum/momentservo/internal/scene"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
)

func frameAt(t *testing.T, z float64) *scene.Frame {
	t.Helper()
	r := scene.NewProjectionRenderer(scene.Rectangle(0.4, 0.2), scene.DefaultIntrinsics())
	f, err := r.Render(geometry.NewPose(r3.Vec{Z: z}, r3.Vec{}))
	require.NoError(t, err)
	return f
}

func TestHeadless(t *testing.T) {
	h := NewHeadless()
	require.NoError(t, h.Show(View{Iteration: 1}))
	require.NoError(t, h.Show(View{Iteration: 2}))
	require.NoError(t, h.Confirm(context.Background()))

	shows, confirms := h.Counts()
	assert.Equal(t, 2, shows)
	assert.Equal(t, 1, confirms)
	assert.Equal(t, 2, h.Last().Iteration)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, h.Confirm(ctx), context.Canceled)

	require.NoError(t, h.Close())
	assert.ErrorIs(t, h.Show(View{}), ErrClosed)
}

func TestCanvasLine(t *testing.T) {
	c := NewCanvas(4, 2)
	c.DrawLine(0, 0, 7, 7)
	for i := 0; i < 8; i++ {
		assert.True(t, c.Lit(i, i), "dot (%d,%d)", i, i)
	}
	assert.False(t, c.Lit(7, 0))
	c.Clear()
	assert.False(t, c.Lit(0, 0))
}

func TestCanvasFrame(t *testing.T) {
	c := NewCanvas(32, 12)
	c.DrawFrame(frameAt(t, 1))

	// The rectangle spans pixels 192..448 x 192..288 of the 640x480 image.
	assert.True(t, c.Lit(19, 19))
	assert.True(t, c.Lit(45, 29))
	assert.False(t, c.Lit(32, 24), "centre must stay empty")
	assert.Len(t, strings.Split(strings.TrimSuffix(c.String(), "\n"), "\n"), 12)
}

func TestModelConfirm(t *testing.T) {
	confirm := make(chan struct{}, 1)
	var m tea.Model = newModel("test", confirm)

	m, _ = m.Update(frameMsg(View{Iteration: 3, Current: frameAt(t, 1.2), Desired: frameAt(t, 1), ErrorSquared: 0.5}))
	m, _ = m.Update(frameMsg(View{Iteration: 4, ErrorSquared: 0.05}))

	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	select {
	case <-confirm:
		t.Fatal("confirmed without a pending request")
	default:
	}

	m, _ = m.Update(awaitMsg{})
	assert.Contains(t, m.View(), "waiting")
	m, _ = m.Update(tea.KeyMsg{Type: tea.KeyEnter})
	select {
	case <-confirm:
	default:
		t.Fatal("expected confirmation")
	}
	assert.Contains(t, m.View(), "iter 4")

	_, cmd := m.Update(tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune("q")})
	require.NotNil(t, cmd)
	assert.IsType(t, tea.QuitMsg{}, cmd())
}

func TestSparkline(t *testing.T) {
	s := sparkline([]float64{1, 1e-2, 1e-4}, 8)
	assert.Equal(t, "█▄▁", s)
	assert.Equal(t, 8, len([]rune(sparkline(make([]float64, 20), 8))))
}

func TestTerminalRequiresTTY(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "out")
	require.NoError(t, err)
	defer f.Close()

	_, err = NewTerminal("test", strings.NewReader(""), f)
	assert.ErrorIs(t, err, ErrNoTerminal)
}

func TestTerminalProgram(t *testing.T) {
	term := start("test", tea.WithInput(nil), tea.WithOutput(io.Discard), tea.WithoutRenderer(), tea.WithoutSignalHandler())
	require.NoError(t, term.Show(View{Iteration: 1}))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- term.Confirm(ctx) }()

	tick := time.NewTicker(10 * time.Millisecond)
	defer tick.Stop()
	for confirmed := false; !confirmed; {
		select {
		case err := <-done:
			require.NoError(t, err)
			confirmed = true
		case <-tick.C:
			term.prog.Send(tea.KeyMsg{Type: tea.KeyEnter})
		}
	}

	require.NoError(t, term.Close())
	assert.True(t, errors.Is(term.Show(View{}), ErrClosed))
}
