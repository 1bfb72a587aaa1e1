// Package platformtest provides an in-memory window system for tests.
package platformtest

import (
	"fmt"
	"sync"

	"jordanella.com/aimloop/internal/faults"
	"jordanella.com/aimloop/internal/platform"
)

// Backend is a scriptable platform.Backend.
type Backend struct {
	mu         sync.Mutex
	windows    map[platform.Handle]platform.Window
	order      []platform.Handle
	foreground platform.Handle
	next       platform.Handle
	activated  []platform.Handle
	ListErr    error
}

// New returns an empty fake window system.
func New() *Backend {
	return &Backend{windows: make(map[platform.Handle]platform.Window), next: 0x100}
}

// Open adds a visible window and returns its handle.
func (b *Backend) Open(title, process string, r platform.Rect) platform.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next += 0x10
	h := b.next
	b.windows[h] = platform.Window{Handle: h, Title: title, Process: process, Rect: r, Visible: true}
	b.order = append(b.order, h)
	return h
}

// Close removes a window, making its handle stale.
func (b *Backend) Close(h platform.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.windows, h)
	for i, o := range b.order {
		if o == h {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
	if b.foreground == h {
		b.foreground = 0
	}
}

// Move changes a window's rectangle.
func (b *Backend) Move(h platform.Handle, r platform.Rect) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if w, ok := b.windows[h]; ok {
		w.Rect = r
		b.windows[h] = w
	}
}

// Focus makes h the foreground window.
func (b *Backend) Focus(h platform.Handle) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.foreground = h
}

// Activated returns every handle passed to Activate.
func (b *Backend) Activated() []platform.Handle {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]platform.Handle(nil), b.activated...)
}

func (b *Backend) Name() string { return "fake" }

func (b *Backend) Windows() ([]platform.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.ListErr != nil {
		return nil, b.ListErr
	}
	out := make([]platform.Window, 0, len(b.order))
	for _, h := range b.order {
		if w := b.windows[h]; w.Visible {
			out = append(out, w)
		}
	}
	return out, nil
}

func (b *Backend) Window(h platform.Handle) (platform.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.windows[h]
	if !ok {
		return platform.Window{}, faults.New(faults.ErrStaleHandle, faults.StageTrack, "window", fmt.Errorf("no window %s", h))
	}
	return w, nil
}

func (b *Backend) Foreground() (platform.Window, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.windows[b.foreground]
	if !ok {
		return platform.Window{}, faults.New(faults.ErrTargetNotFound, faults.StageTrack, "foreground", nil)
	}
	return w, nil
}

func (b *Backend) Activate(h platform.Handle) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.windows[h]; !ok {
		return fmt.Errorf("activate: no window %s", h)
	}
	b.activated = append(b.activated, h)
	b.foreground = h
	return nil
}
