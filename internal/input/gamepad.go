package input

import (
	"strings"
	"sync"
)

// PadButton names an Xbox 360 controller button.
type PadButton string

const (
	PadA         PadButton = "A"
	PadB         PadButton = "B"
	PadX         PadButton = "X"
	PadY         PadButton = "Y"
	PadStart     PadButton = "START"
	PadBack      PadButton = "BACK"
	PadLB        PadButton = "LB"
	PadRB        PadButton = "RB"
	PadDpadUp    PadButton = "DPAD_UP"
	PadDpadDown  PadButton = "DPAD_DOWN"
	PadDpadLeft  PadButton = "DPAD_LEFT"
	PadDpadRight PadButton = "DPAD_RIGHT"
)

// XUSB button bits.
var padButtons = map[PadButton]uint16{
	PadDpadUp:    0x0001,
	PadDpadDown:  0x0002,
	PadDpadLeft:  0x0004,
	PadDpadRight: 0x0008,
	PadStart:     0x0010,
	PadBack:      0x0020,
	PadLB:        0x0100,
	PadRB:        0x0200,
	PadA:         0x1000,
	PadB:         0x2000,
	PadX:         0x4000,
	PadY:         0x8000,
}

// ParsePadButton accepts button names in any case.
func ParsePadButton(s string) (PadButton, bool) {
	b := PadButton(strings.ToUpper(strings.TrimSpace(s)))
	_, ok := padButtons[b]
	return b, ok
}

// Report is the full controller state sent to the driver on every change.
type Report struct {
	Buttons      uint16
	LeftTrigger  uint8
	RightTrigger uint8
	LX, LY       int16
	RX, RY       int16
}

// Neutral reports whether nothing is pressed or deflected.
func (r Report) Neutral() bool {
	return r == Report{}
}

// Gamepad is a virtual controller.
type Gamepad interface {
	SetStick(stick Stick, x, y int16) error
	SetButton(b PadButton, down bool) error
	// Neutral releases every button and centres both sticks.
	Neutral() error
	State() Report
	Close() error
}

// reportSink pushes a report to a driver.
type reportSink interface {
	update(Report) error
	close() error
}

// virtualPad keeps controller state and pushes it through a sink.
type virtualPad struct {
	mu     sync.Mutex
	report Report
	sink   reportSink
}

func newVirtualPad(sink reportSink) *virtualPad {
	return &virtualPad{sink: sink}
}

func (p *virtualPad) SetStick(stick Stick, x, y int16) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if stick == StickRight {
		p.report.RX, p.report.RY = x, y
	} else {
		p.report.LX, p.report.LY = x, y
	}
	return p.sink.update(p.report)
}

func (p *virtualPad) SetButton(b PadButton, down bool) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if down {
		p.report.Buttons |= padButtons[b]
	} else {
		p.report.Buttons &^= padButtons[b]
	}
	return p.sink.update(p.report)
}

func (p *virtualPad) Neutral() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.report = Report{}
	return p.sink.update(p.report)
}

func (p *virtualPad) State() Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.report
}

func (p *virtualPad) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.report = Report{}
	_ = p.sink.update(p.report)
	return p.sink.close()
}
