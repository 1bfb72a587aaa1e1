//go:build windows

package platform

import (
	"fmt"
	"path/filepath"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"jordanella.com/aimloop/internal/faults"
)

var (
	user32  = windows.NewLazySystemDLL("user32.dll")
	shell32 = windows.NewLazySystemDLL("shell32.dll")

	procEnumWindows         = user32.NewProc("EnumWindows")
	procGetWindowTextW      = user32.NewProc("GetWindowTextW")
	procGetWindowTextLength = user32.NewProc("GetWindowTextLengthW")
	procGetWindowRect       = user32.NewProc("GetWindowRect")
	procGetClientRect       = user32.NewProc("GetClientRect")
	procClientToScreen      = user32.NewProc("ClientToScreen")
	procIsWindow            = user32.NewProc("IsWindow")
	procIsWindowVisible     = user32.NewProc("IsWindowVisible")
	procGetForegroundWindow = user32.NewProc("GetForegroundWindow")
	procSetForegroundWindow = user32.NewProc("SetForegroundWindow")
	procShowWindow          = user32.NewProc("ShowWindow")
	procIsIconic            = user32.NewProc("IsIconic")
	procGetWindowThreadPID  = user32.NewProc("GetWindowThreadProcessId")
	procShellExecuteW       = shell32.NewProc("ShellExecuteW")
)

const swRestore = 9

type rect struct {
	Left, Top, Right, Bottom int32
}

type point struct {
	X, Y int32
}

type windowsBackend struct{}

// Native returns the backend for the running OS.
func Native() Backend {
	return windowsBackend{}
}

func (windowsBackend) Name() string { return "win32" }

func (b windowsBackend) Windows() ([]Window, error) {
	var out []Window
	cb := syscall.NewCallback(func(hwnd uintptr, _ uintptr) uintptr {
		if !isVisible(hwnd) {
			return 1
		}
		title := windowText(hwnd)
		if title == "" {
			return 1
		}
		w, err := b.describe(hwnd, title)
		if err == nil {
			out = append(out, w)
		}
		return 1
	})
	ret, _, err := procEnumWindows.Call(cb, 0)
	if ret == 0 {
		return nil, fmt.Errorf("EnumWindows failed: %w", err)
	}
	return out, nil
}

func (b windowsBackend) Window(h Handle) (Window, error) {
	hwnd := uintptr(h)
	if ret, _, _ := procIsWindow.Call(hwnd); ret == 0 {
		return Window{}, faults.New(faults.ErrStaleHandle, faults.StageTrack, "IsWindow", fmt.Errorf("window %s is gone", h))
	}
	return b.describe(hwnd, windowText(hwnd))
}

func (b windowsBackend) Foreground() (Window, error) {
	hwnd, _, _ := procGetForegroundWindow.Call()
	if hwnd == 0 {
		return Window{}, faults.New(faults.ErrTargetNotFound, faults.StageTrack, "GetForegroundWindow", nil)
	}
	return b.describe(hwnd, windowText(hwnd))
}

func (windowsBackend) Activate(h Handle) error {
	hwnd := uintptr(h)
	if ret, _, _ := procIsIconic.Call(hwnd); ret != 0 {
		procShowWindow.Call(hwnd, swRestore)
	}
	ret, _, err := procSetForegroundWindow.Call(hwnd)
	if ret == 0 {
		return fmt.Errorf("SetForegroundWindow %s: %w", h, err)
	}
	return nil
}

// describe reads the client area in screen coordinates; the title bar and borders
// are never part of the capture region.
func (windowsBackend) describe(hwnd uintptr, title string) (Window, error) {
	var cr rect
	if ret, _, err := procGetClientRect.Call(hwnd, uintptr(unsafe.Pointer(&cr))); ret == 0 {
		return Window{}, faults.New(faults.ErrStaleHandle, faults.StageTrack, "GetClientRect", err)
	}
	var origin point
	if ret, _, err := procClientToScreen.Call(hwnd, uintptr(unsafe.Pointer(&origin))); ret == 0 {
		return Window{}, faults.New(faults.ErrStaleHandle, faults.StageTrack, "ClientToScreen", err)
	}

	var pid uint32
	procGetWindowThreadPID.Call(hwnd, uintptr(unsafe.Pointer(&pid)))

	return Window{
		Handle:  Handle(hwnd),
		Title:   title,
		PID:     int(pid),
		Process: processName(pid),
		Rect: Rect{
			X:      int(origin.X),
			Y:      int(origin.Y),
			Width:  int(cr.Right - cr.Left),
			Height: int(cr.Bottom - cr.Top),
		},
		Visible: isVisible(hwnd),
	}, nil
}

func isVisible(hwnd uintptr) bool {
	ret, _, _ := procIsWindowVisible.Call(hwnd)
	return ret != 0
}

func windowText(hwnd uintptr) string {
	n, _, _ := procGetWindowTextLength.Call(hwnd)
	if n == 0 {
		return ""
	}
	buf := make([]uint16, n+1)
	procGetWindowTextW.Call(hwnd, uintptr(unsafe.Pointer(&buf[0])), n+1)
	return windows.UTF16ToString(buf)
}

func processName(pid uint32) string {
	if pid == 0 {
		return ""
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, pid)
	if err != nil {
		return ""
	}
	defer windows.CloseHandle(h)

	buf := make([]uint16, windows.MAX_PATH)
	size := uint32(len(buf))
	if err := windows.QueryFullProcessImageName(h, 0, &buf[0], &size); err != nil {
		return ""
	}
	return filepath.Base(windows.UTF16ToString(buf[:size]))
}

// Launch opens a protocol link or starts an executable through ShellExecute, so the
// child does not inherit an elevated token from a console run as administrator.
func Launch(target string) error {
	verb, err := windows.UTF16PtrFromString("open")
	if err != nil {
		return err
	}
	file, err := windows.UTF16PtrFromString(target)
	if err != nil {
		return err
	}
	var dir *uint16
	if !IsURL(target) {
		if dir, err = windows.UTF16PtrFromString(filepath.Dir(target)); err != nil {
			return err
		}
	}

	ret, _, _ := procShellExecuteW.Call(
		0,
		uintptr(unsafe.Pointer(verb)),
		uintptr(unsafe.Pointer(file)),
		0,
		uintptr(unsafe.Pointer(dir)),
		1, // SW_SHOWNORMAL
	)
	// ShellExecute returns a value > 32 on success
	if ret <= 32 {
		return fmt.Errorf("ShellExecute %q failed with code %d", target, ret)
	}
	return nil
}

// IsElevated reports whether the process runs with an administrator token.
// Input sent to an elevated window from a non-elevated process is dropped by UIPI.
func IsElevated() bool {
	return windows.GetCurrentProcessToken().IsElevated()
}
