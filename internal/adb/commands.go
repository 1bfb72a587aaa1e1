package adb

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"strings"
	"time"
)

// Shell executes a shell command on the device and returns trimmed output.
func (c *Controller) Shell(ctx context.Context, command string) (string, error) {
	output, err := c.run(ctx, "-s", c.device, "shell", command)
	if err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("shell command %q timed out: %w", command, ctx.Err())
		}
		return "", fmt.Errorf("shell command failed: %w, output: %s", err, output)
	}
	return strings.TrimSpace(string(output)), nil
}

// ShellWithTimeout executes a shell command, killing adb after timeout.
func (c *Controller) ShellWithTimeout(ctx context.Context, command string, timeout time.Duration) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return c.Shell(ctx, command)
}

// Tap performs a tap at device coordinates.
func (c *Controller) Tap(ctx context.Context, x, y int) error {
	_, err := c.Shell(ctx, fmt.Sprintf("input tap %d %d", x, y))
	return err
}

// Press holds a touch at one point for the given duration.
func (c *Controller) Press(ctx context.Context, x, y int, hold time.Duration) error {
	return c.Swipe(ctx, x, y, x, y, hold)
}

// Swipe performs a swipe gesture
func (c *Controller) Swipe(ctx context.Context, x1, y1, x2, y2 int, duration time.Duration) error {
	_, err := c.Shell(ctx, fmt.Sprintf("input swipe %d %d %d %d %d", x1, y1, x2, y2, duration.Milliseconds()))
	return err
}

// KeyEvent sends a key event (e.g., "KEYCODE_BACK", "KEYCODE_Z")
func (c *Controller) KeyEvent(ctx context.Context, keycode string) error {
	_, err := c.Shell(ctx, "input keyevent "+keycode)
	return err
}

// Text types text; spaces become %s as `input text` requires.
func (c *Controller) Text(ctx context.Context, text string) error {
	escaped := strings.ReplaceAll(text, " ", "%s")
	for _, ch := range []string{`\`, `"`, `'`, "&", "<", ">", "|", ";", "(", ")", "$", "`"} {
		escaped = strings.ReplaceAll(escaped, ch, `\`+ch)
	}
	_, err := c.Shell(ctx, "input text "+escaped)
	return err
}

// Screencap grabs the display as an image.
func (c *Controller) Screencap(ctx context.Context) (image.Image, error) {
	output, err := c.run(ctx, "-s", c.device, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, fmt.Errorf("screencap failed: %w", err)
	}
	img, err := png.Decode(bytes.NewReader(output))
	if err != nil {
		return nil, fmt.Errorf("failed to decode screencap: %w", err)
	}
	return img, nil
}

// WindowSize returns the display size, preferring an override over the physical size.
func (c *Controller) WindowSize(ctx context.Context) (width, height int, err error) {
	output, err := c.Shell(ctx, "wm size")
	if err != nil {
		return 0, 0, err
	}
	return parseWindowSize(output)
}

func parseWindowSize(output string) (int, int, error) {
	var w, h int
	found := false
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		var pw, ph int
		switch {
		case strings.HasPrefix(line, "Override size:"):
			if _, err := fmt.Sscanf(line, "Override size: %dx%d", &pw, &ph); err == nil {
				return pw, ph, nil
			}
		case strings.HasPrefix(line, "Physical size:"):
			if _, err := fmt.Sscanf(line, "Physical size: %dx%d", &pw, &ph); err == nil {
				w, h, found = pw, ph, true
			}
		}
	}
	if !found {
		return 0, 0, fmt.Errorf("failed to parse window size from %q", output)
	}
	return w, h, nil
}

// Keycode maps a key name to an Android keycode name.
func Keycode(key string) string {
	k := strings.ToLower(key)
	switch k {
	case "enter", "return":
		return "KEYCODE_ENTER"
	case "space", " ":
		return "KEYCODE_SPACE"
	case "esc", "escape", "back":
		return "KEYCODE_BACK"
	case "tab":
		return "KEYCODE_TAB"
	case "backspace":
		return "KEYCODE_DEL"
	case "up", "down", "left", "right":
		return "KEYCODE_DPAD_" + strings.ToUpper(k)
	case "home":
		return "KEYCODE_HOME"
	}
	if len(k) == 1 && (k[0] >= 'a' && k[0] <= 'z' || k[0] >= '0' && k[0] <= '9') {
		return "KEYCODE_" + strings.ToUpper(k)
	}
	return strings.ToUpper(key)
}
