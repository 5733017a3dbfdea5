// Package display shows the servo loop to an operator and collects the
// confirmations it waits for.
package display

import (
	"context"
	"errors"
	"sync"

	"github.com/san-kum/momentservo/internal/geometry"
	"github.com/san-kum/momentservo/internal/scene"
)

var (
	ErrNoTerminal = errors.New("display: output is not a terminal")
	ErrClosed     = errors.New("display: closed")
)

// View is what the loop shows each tick.
type View struct {
	Iteration    int
	Pose         geometry.Pose
	Current      *scene.Frame
	Desired      *scene.Frame
	ErrorSquared float64
	Velocity     geometry.Twist
}

// Display is the operator-facing capability of the loop.
type Display interface {
	Show(v View) error
	// Confirm blocks until the operator acknowledges or ctx is done.
	Confirm(ctx context.Context) error
	Close() error
}

// Headless discards frames and confirms immediately. It counts calls.
type Headless struct {
	mu       sync.Mutex
	shows    int
	confirms int
	last     View
	closed   bool
}

func NewHeadless() *Headless { return &Headless{} }

func (h *Headless) Show(v View) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return ErrClosed
	}
	h.shows++
	h.last = v
	return nil
}

func (h *Headless) Confirm(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h.mu.Lock()
	h.confirms++
	h.mu.Unlock()
	return nil
}

func (h *Headless) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

// Counts returns the number of Show and Confirm calls.
func (h *Headless) Counts() (shows, confirms int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.shows, h.confirms
}

// Last returns the last view shown.
func (h *Headless) Last() View {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.last
}
