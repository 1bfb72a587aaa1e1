//go:build !windows && !linux

package platform

import (
	"os"
	"runtime"

	"jordanella.com/aimloop/internal/faults"
)

type unsupportedBackend struct{}

// Native returns the backend for the running OS.
func Native() Backend {
	return unsupportedBackend{}
}

func (unsupportedBackend) Name() string { return runtime.GOOS }

func (unsupportedBackend) Windows() ([]Window, error) {
	return nil, faults.Unsupported("windows", "window enumeration is not implemented on "+runtime.GOOS)
}

func (unsupportedBackend) Window(Handle) (Window, error) {
	return Window{}, faults.Unsupported("window", "window lookup is not implemented on "+runtime.GOOS)
}

func (unsupportedBackend) Foreground() (Window, error) {
	return Window{}, faults.Unsupported("foreground", "foreground lookup is not implemented on "+runtime.GOOS)
}

func (unsupportedBackend) Activate(Handle) error {
	return faults.Unsupported("activate", "window activation is not implemented on "+runtime.GOOS)
}

func Launch(string) error {
	return faults.Unsupported("launch", "launching is not implemented on "+runtime.GOOS)
}

func IsElevated() bool {
	return os.Geteuid() == 0
}
