package input

import (
	"bufio"
	"context"
	"fmt"
	"image"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tarm/serial"
)

// SerialConfig selects the USB HID bridge port.
type SerialConfig struct {
	Port string `mapstructure:"port"`
	Baud int    `mapstructure:"baud"`
	// Ack waits for an "ok" line after every command.
	Ack bool `mapstructure:"ack"`
}

// SerialInjector drives an Arduino-class board that presents itself to the OS
// as a real USB mouse and keyboard. Commands are newline-terminated text.
type SerialInjector struct {
	mu   sync.Mutex
	port io.ReadWriteCloser
	r    *bufio.Reader
	ack  bool
}

// OpenSerial opens the configured port.
func OpenSerial(cfg SerialConfig, timeout time.Duration) (*SerialInjector, error) {
	if cfg.Port == "" {
		return nil, fmt.Errorf("input.serial.port is not set")
	}
	baud := cfg.Baud
	if baud == 0 {
		baud = 115200
	}
	port, err := serial.OpenPort(&serial.Config{Name: cfg.Port, Baud: baud, ReadTimeout: timeout})
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", cfg.Port, err)
	}
	return NewSerialInjector(port, cfg.Ack), nil
}

// NewSerialInjector wraps an open port.
func NewSerialInjector(port io.ReadWriteCloser, ack bool) *SerialInjector {
	return &SerialInjector{port: port, r: bufio.NewReader(port), ack: ack}
}

func (s *SerialInjector) Name() string { return "serial" }

func (s *SerialInjector) send(ctx context.Context, format string, args ...any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	line := fmt.Sprintf(format, args...) + "\n"
	if _, err := io.WriteString(s.port, line); err != nil {
		return fmt.Errorf("serial write failed: %w", err)
	}
	if !s.ack {
		return nil
	}
	reply, err := s.r.ReadString('\n')
	if err != nil {
		return fmt.Errorf("no ack for %q: %w", strings.TrimSpace(line), err)
	}
	if reply = strings.TrimSpace(reply); reply != "ok" {
		return fmt.Errorf("device rejected %q: %s", strings.TrimSpace(line), reply)
	}
	return nil
}

// MoveTo sends an absolute screen position; the board computes the relative
// HID reports. Both paths are the same hardware path here.
func (s *SerialInjector) MoveTo(ctx context.Context, p image.Point, _ PointerPath) error {
	return s.send(ctx, "move:%d,%d", p.X, p.Y)
}

func (s *SerialInjector) ButtonDown(ctx context.Context, b Button) error {
	return s.send(ctx, "mouse_down:%s", b)
}

func (s *SerialInjector) ButtonUp(ctx context.Context, b Button) error {
	return s.send(ctx, "mouse_up:%s", b)
}

func (s *SerialInjector) KeyDown(ctx context.Context, key string) error {
	return s.send(ctx, "key_down:%s", KeyName(key))
}

func (s *SerialInjector) KeyUp(ctx context.Context, key string) error {
	return s.send(ctx, "key_up:%s", KeyName(key))
}

// Close closes the port
func (s *SerialInjector) Close() error {
	return s.port.Close()
}
