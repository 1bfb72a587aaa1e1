package adb

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"sync"
)

// Runner executes one adb invocation and returns its combined output.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

// Controller drives one Android device (usually an emulator) through adb.
type Controller struct {
	path   string
	device string // "127.0.0.1:16384" or a serial from `adb devices`
	run    Runner

	mu        sync.Mutex
	connected bool
}

// NewController creates a controller for device using the adb binary at adbPath.
func NewController(adbPath, device string) *Controller {
	c := &Controller{path: adbPath, device: device}
	c.run = c.exec
	return c
}

// WithRunner replaces process execution, for tests.
func (c *Controller) WithRunner(r Runner) *Controller {
	c.run = r
	return c
}

// Device returns the device id.
func (c *Controller) Device() string {
	return c.device
}

func (c *Controller) exec(ctx context.Context, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, c.path, args...).CombinedOutput()
}

// Connect attaches to a network device. Serial-attached devices need no connect.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !strings.Contains(c.device, ":") {
		c.connected = true
		return nil
	}
	output, err := c.run(ctx, "connect", c.device)
	if err != nil {
		return fmt.Errorf("failed to connect to device %s: %w, output: %s", c.device, err, output)
	}
	if !strings.Contains(string(output), "connected") {
		return fmt.Errorf("unexpected connect output: %s", strings.TrimSpace(string(output)))
	}
	c.connected = true
	return nil
}

// Disconnect detaches a network device.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.connected && strings.Contains(c.device, ":") {
		if out, err := c.run(ctx, "disconnect", c.device); err != nil {
			return fmt.Errorf("failed to disconnect %s: %w, output: %s", c.device, err, out)
		}
	}
	c.connected = false
	return nil
}

// IsConnected returns whether the controller is connected
func (c *Controller) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}
