package adb

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/mitchellh/go-homedir"
)

// FindADB attempts to locate the ADB executable
func FindADB(preferred string) (string, error) {
	if preferred != "" {
		p, err := homedir.Expand(preferred)
		if err != nil {
			return "", fmt.Errorf("failed to expand %s: %w", preferred, err)
		}
		if info, err := os.Stat(p); err == nil {
			if !info.IsDir() {
				return p, nil
			}
			for _, cand := range []string{filepath.Join(p, "adb.exe"), filepath.Join(p, "adb")} {
				if _, err := os.Stat(cand); err == nil {
					return cand, nil
				}
			}
		}
	}

	commonPaths := []string{
		// MuMu Player
		`C:\Program Files\Netease\MuMuPlayer-12.0\shell\adb.exe`,
		`C:\Program Files (x86)\Netease\MuMuPlayer-12.0\shell\adb.exe`,
		// LDPlayer, BlueStacks
		`C:\LDPlayer\LDPlayer9\adb.exe`,
		`C:\Program Files\BlueStacks_nxt\HD-Adb.exe`,
		// Android SDK
		`%LOCALAPPDATA%\Android\Sdk\platform-tools\adb.exe`,
	}
	if runtime.GOOS != "windows" {
		commonPaths = []string{
			"/usr/bin/adb",
			"/usr/local/bin/adb",
			"~/Android/Sdk/platform-tools/adb",
		}
	}

	for _, path := range commonPaths {
		expanded, err := homedir.Expand(os.ExpandEnv(strings.ReplaceAll(path, "%LOCALAPPDATA%", "$LOCALAPPDATA")))
		if err != nil {
			continue
		}
		if _, err := os.Stat(expanded); err == nil {
			return expanded, nil
		}
	}
	if p, err := exec.LookPath("adb"); err == nil {
		return p, nil
	}
	return "", fmt.Errorf("adb not found, set input.adb.path in the config")
}

// FirstDevice returns the first device `adb devices` reports as ready.
func FirstDevice(ctx context.Context, adbPath string) (string, error) {
	output, err := exec.CommandContext(ctx, adbPath, "devices").CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("adb devices failed: %w", err)
	}
	return parseDevices(string(output))
}

func parseDevices(output string) (string, error) {
	for _, line := range strings.Split(output, "\n") {
		parts := strings.Fields(line)
		if len(parts) >= 2 && parts[1] == "device" {
			return parts[0], nil
		}
	}
	return "", fmt.Errorf("no adb device is attached")
}
