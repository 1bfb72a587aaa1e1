//go:build linux

package platform

import (
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/xgb/xproto"
	"github.com/BurntSushi/xgbutil"
	"github.com/BurntSushi/xgbutil/ewmh"
	"github.com/BurntSushi/xgbutil/icccm"

	"jordanella.com/aimloop/internal/faults"
)

var (
	xOnce sync.Once
	xConn *xgbutil.XUtil
	xErr  error
)

// X returns the shared X connection, opening it on first use.
func X() (*xgbutil.XUtil, error) {
	xOnce.Do(func() {
		xConn, xErr = xgbutil.NewConn()
		if xErr != nil {
			xErr = fmt.Errorf("failed to connect to X server: %w", xErr)
		}
	})
	return xConn, xErr
}

type x11Backend struct{}

// Native returns the backend for the running OS.
func Native() Backend {
	return x11Backend{}
}

func (x11Backend) Name() string { return "x11" }

func (x11Backend) Windows() ([]Window, error) {
	xu, err := X()
	if err != nil {
		return nil, faults.New(faults.ErrUnsupported, faults.StageTrack, "windows", err)
	}
	clients, err := ewmh.ClientListGet(xu)
	if err != nil {
		return nil, fmt.Errorf("failed to read _NET_CLIENT_LIST: %w", err)
	}

	out := make([]Window, 0, len(clients))
	for _, win := range clients {
		w, err := describe(xu, win)
		if err != nil || w.Title == "" || !w.Visible {
			continue
		}
		out = append(out, w)
	}
	return out, nil
}

func (x11Backend) Window(h Handle) (Window, error) {
	xu, err := X()
	if err != nil {
		return Window{}, faults.New(faults.ErrUnsupported, faults.StageTrack, "window", err)
	}
	w, err := describe(xu, xproto.Window(h))
	if err != nil {
		return Window{}, faults.New(faults.ErrStaleHandle, faults.StageTrack, "window", err)
	}
	return w, nil
}

func (x11Backend) Foreground() (Window, error) {
	xu, err := X()
	if err != nil {
		return Window{}, faults.New(faults.ErrUnsupported, faults.StageTrack, "foreground", err)
	}
	active, err := ewmh.ActiveWindowGet(xu)
	if err != nil || active == 0 {
		return Window{}, faults.New(faults.ErrTargetNotFound, faults.StageTrack, "_NET_ACTIVE_WINDOW", err)
	}
	return describe(xu, active)
}

func (x11Backend) Activate(h Handle) error {
	xu, err := X()
	if err != nil {
		return faults.New(faults.ErrUnsupported, faults.StageControl, "activate", err)
	}
	if err := ewmh.ActiveWindowReq(xu, xproto.Window(h)); err != nil {
		return fmt.Errorf("_NET_ACTIVE_WINDOW request for %s: %w", h, err)
	}
	return nil
}

func describe(xu *xgbutil.XUtil, win xproto.Window) (Window, error) {
	geom, err := xproto.GetGeometry(xu.Conn(), xproto.Drawable(win)).Reply()
	if err != nil {
		return Window{}, fmt.Errorf("get geometry of %d: %w", win, err)
	}
	pos, err := xproto.TranslateCoordinates(xu.Conn(), win, xu.RootWin(), 0, 0).Reply()
	if err != nil {
		return Window{}, fmt.Errorf("translate coordinates of %d: %w", win, err)
	}

	title, err := ewmh.WmNameGet(xu, win)
	if err != nil || title == "" {
		title, _ = icccm.WmNameGet(xu, win)
	}

	visible := true
	if states, err := ewmh.WmStateGet(xu, win); err == nil {
		for _, s := range states {
			if s == "_NET_WM_STATE_HIDDEN" {
				visible = false
			}
		}
	}

	w := Window{
		Handle:  Handle(win),
		Title:   title,
		Visible: visible,
		Rect: Rect{
			X:      int(pos.DstX),
			Y:      int(pos.DstY),
			Width:  int(geom.Width),
			Height: int(geom.Height),
		},
	}
	if pid, err := ewmh.WmPidGet(xu, win); err == nil {
		w.PID = int(pid)
		w.Process = processName(int(pid))
	}
	return w, nil
}

func processName(pid int) string {
	b, err := os.ReadFile("/proc/" + strconv.Itoa(pid) + "/comm")
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(b))
}

// Launch opens a protocol link with xdg-open or starts an executable detached.
func Launch(target string) error {
	var cmd *exec.Cmd
	if IsURL(target) {
		cmd = exec.Command("xdg-open", target)
	} else {
		cmd = exec.Command(target)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to launch %q: %w", target, err)
	}
	go cmd.Wait()
	return nil
}

// IsElevated reports whether the process runs as root.
func IsElevated() bool {
	return os.Geteuid() == 0
}
