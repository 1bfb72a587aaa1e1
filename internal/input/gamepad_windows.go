//go:build windows

package input

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"jordanella.com/aimloop/internal/faults"
)

const vigemErrorNone = 0x20000000

var (
	vigem                = windows.NewLazyDLL("ViGEmClient.dll")
	procVigemAlloc       = vigem.NewProc("vigem_alloc")
	procVigemConnect     = vigem.NewProc("vigem_connect")
	procVigemDisconnect  = vigem.NewProc("vigem_disconnect")
	procVigemFree        = vigem.NewProc("vigem_free")
	procTargetX360Alloc  = vigem.NewProc("vigem_target_x360_alloc")
	procTargetAdd        = vigem.NewProc("vigem_target_add")
	procTargetRemove     = vigem.NewProc("vigem_target_remove")
	procTargetFree       = vigem.NewProc("vigem_target_free")
	procTargetX360Update = vigem.NewProc("vigem_target_x360_update")
)

// xusbReport mirrors XUSB_REPORT.
type xusbReport struct {
	Buttons      uint16
	LeftTrigger  uint8
	RightTrigger uint8
	ThumbLX      int16
	ThumbLY      int16
	ThumbRX      int16
	ThumbRY      int16
}

type vigemSink struct {
	client uintptr
	target uintptr
}

// OpenGamepad plugs in a virtual Xbox 360 controller through ViGEmBus.
func OpenGamepad() (Gamepad, error) {
	if err := vigem.Load(); err != nil {
		return nil, faults.Unsupported("gamepad", "ViGEmClient.dll not found, is ViGEmBus installed?")
	}
	client, _, _ := procVigemAlloc.Call()
	if client == 0 {
		return nil, faults.Newf(faults.ErrActuation, faults.StageAct, "gamepad", "vigem_alloc failed")
	}
	if ret, _, _ := procVigemConnect.Call(client); ret != vigemErrorNone {
		procVigemFree.Call(client)
		return nil, faults.Unsupported("gamepad", fmt.Sprintf("ViGEmBus unavailable (0x%X)", ret))
	}
	target, _, _ := procTargetX360Alloc.Call()
	if ret, _, _ := procTargetAdd.Call(client, target); ret != vigemErrorNone {
		procTargetFree.Call(target)
		procVigemDisconnect.Call(client)
		procVigemFree.Call(client)
		return nil, faults.Newf(faults.ErrActuation, faults.StageAct, "gamepad", "vigem_target_add failed (0x%X)", ret)
	}
	return newVirtualPad(&vigemSink{client: client, target: target}), nil
}

func (s *vigemSink) update(r Report) error {
	rep := xusbReport{
		Buttons:      r.Buttons,
		LeftTrigger:  r.LeftTrigger,
		RightTrigger: r.RightTrigger,
		ThumbLX:      r.LX,
		ThumbLY:      r.LY,
		ThumbRX:      r.RX,
		ThumbRY:      r.RY,
	}
	ret, _, _ := procTargetX360Update.Call(s.client, s.target, uintptr(unsafe.Pointer(&rep)))
	if ret != vigemErrorNone {
		return faults.Newf(faults.ErrActuation, faults.StageAct, "gamepad", "vigem_target_x360_update failed (0x%X)", ret)
	}
	return nil
}

func (s *vigemSink) close() error {
	procTargetRemove.Call(s.client, s.target)
	procTargetFree.Call(s.target)
	procVigemDisconnect.Call(s.client)
	procVigemFree.Call(s.client)
	return nil
}
