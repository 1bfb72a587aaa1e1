package input

import (
	"context"
	"fmt"

	"jordanella.com/aimloop/internal/adb"
	"jordanella.com/aimloop/internal/platform"
)

// OpenBackend builds the injector named by cfg.Backend. window supplies the
// tracked target's rectangle for backends that map into a window.
func OpenBackend(ctx context.Context, cfg Config, window func() platform.Rect) (Injector, error) {
	switch cfg.Backend {
	case "", "native":
		return NewNative()
	case "serial":
		return OpenSerial(cfg.Serial, cfg.Timeout)
	case "adb":
		dev, err := OpenADB(ctx, cfg.ADB)
		if err != nil {
			return nil, err
		}
		return NewADBInjector(dev, window, cfg.ADB.TitleBar), nil
	}
	return nil, fmt.Errorf("unknown input backend %q", cfg.Backend)
}

// OpenADB locates adb and connects to the configured or first attached device.
func OpenADB(ctx context.Context, cfg ADBConfig) (*adb.Controller, error) {
	path, err := adb.FindADB(cfg.Path)
	if err != nil {
		return nil, err
	}
	device := cfg.Device
	if device == "" {
		if device, err = adb.FirstDevice(ctx, path); err != nil {
			return nil, err
		}
	}
	c := adb.NewController(path, device)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}
