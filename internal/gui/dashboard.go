package gui

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"jordanella.com/aimloop/internal/control"
	"jordanella.com/aimloop/internal/events"
	"jordanella.com/aimloop/internal/gui/components"
)

// Field is one labelled value on the dashboard.
type Field struct {
	Name  string
	Value string
}

// StatusFields flattens a status snapshot into dashboard rows.
func StatusFields(st control.Status) []Field {
	target := "none"
	if st.TargetID != "" {
		target = st.TargetID
	}
	handle := "-"
	if st.Handle != "" {
		handle = st.Handle
		if !st.HandleValid {
			handle += " (stale)"
		}
	}
	rect := "-"
	if !st.Rect.Empty() {
		rect = fmt.Sprintf("%dx%d at (%d, %d)", st.Rect.Width, st.Rect.Height, st.Rect.X, st.Rect.Y)
	}
	phase := st.Loop.Phase
	if st.Loop.PauseReason != "" {
		phase += ": " + st.Loop.PauseReason
	}
	lastAction := "-"
	if !st.Loop.LastAction.IsZero() {
		lastAction = fmt.Sprintf("%s ago via %s", time.Since(st.Loop.LastAction).Round(time.Second), st.Loop.LastSource)
	}
	lastErr := "-"
	if st.LastError != "" {
		lastErr = st.LastError
		if st.LastErrorAt != nil {
			lastErr = st.LastErrorAt.Format("15:04:05") + " " + lastErr
		}
	}

	hits := make([]string, 0, len(st.Loop.Hits))
	for src, n := range st.Loop.Hits {
		hits = append(hits, fmt.Sprintf("%s=%d", src, n))
	}
	sort.Strings(hits)
	hitText := "-"
	if len(hits) > 0 {
		hitText = strings.Join(hits, " ")
	}

	return []Field{
		{"Target", target},
		{"Window", nonEmpty(st.Title)},
		{"Handle", handle},
		{"Rect", rect},
		{"Session", nonEmpty(st.Session)},
		{"Input", nonEmpty(st.Input)},
		{"Loop", phase},
		{"Cycles", fmt.Sprintf("%d (%d actions, %d misses, %d errors)", st.Loop.Cycles, st.Loop.Actions, st.Loop.Misses, st.Loop.Errors)},
		{"Detections", hitText},
		{"Last action", lastAction},
		{"Last error", lastErr},
	}
}

// StateChip picks the badge shown next to the dashboard heading.
func StateChip(st control.Status) (string, components.ChipStyle) {
	switch {
	case st.Running && st.Loop.PauseReason != "":
		return "Paused", components.ChipStyleWarning
	case st.Running:
		return "Running", components.ChipStyleSuccess
	case st.TargetID != "" && !st.HandleValid:
		return "Target lost", components.ChipStyleDanger
	default:
		return "Stopped", components.ChipStyleDefault
	}
}

func nonEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

// DashboardTab shows the live engine status
type DashboardTab struct {
	controller *Controller

	state  *components.Chip
	values []*widget.Label
}

// NewDashboardTab creates a new dashboard tab
func NewDashboardTab(ctrl *Controller) *DashboardTab {
	return &DashboardTab{controller: ctrl}
}

// Build constructs the dashboard UI
func (d *DashboardTab) Build() fyne.CanvasObject {
	d.state = components.NewChip("Stopped", components.ChipStyleDefault)

	grid := container.NewGridWithColumns(2)
	for _, f := range StatusFields(control.Status{}) {
		value := widget.NewLabel(f.Value)
		value.Wrapping = fyne.TextWrapWord
		d.values = append(d.values, value)
		grid.Add(widget.NewLabelWithStyle(f.Name, fyne.TextAlignTrailing, fyne.TextStyle{Bold: true}))
		grid.Add(value)
	}

	refreshBtn := widget.NewButton("Refresh", d.refresh)

	d.refresh()
	return container.NewBorder(
		container.NewHBox(components.Heading("Engine Status"), container.NewCenter(d.state.Container), refreshBtn),
		nil, nil, nil,
		container.NewVScroll(components.Card(grid)),
	)
}

// OnEvent refreshes on lifecycle events so the view does not wait for the
// next poll.
func (d *DashboardTab) OnEvent(e events.Event) {
	switch e.Type {
	case events.EventTypeCycleAction, events.EventTypeCycleMiss, events.EventTypeTemplateDetected:
		return
	}
	d.refresh()
}

// refresh redraws from a fresh status snapshot. UI thread only.
func (d *DashboardTab) refresh() {
	if d.state == nil || d.controller.ctrl == nil {
		return
	}
	st := d.controller.ctrl.Status()

	d.state.Set(StateChip(st))

	for i, f := range StatusFields(st) {
		if i < len(d.values) {
			d.values[i].SetText(f.Value)
		}
	}
}

func (d *DashboardTab) autoRefresh(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fyne.Do(d.refresh)
		}
	}
}
