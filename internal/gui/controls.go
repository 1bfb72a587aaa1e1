package gui

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image"
	"image/jpeg"
	"strconv"
	"strings"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/canvas"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/widget"

	"jordanella.com/aimloop/internal/control"
	"jordanella.com/aimloop/internal/cv"
	"jordanella.com/aimloop/internal/gui/components"
)

// ActionForm is the raw text of the manual action form.
type ActionForm struct {
	Type, Subtype, Key, Text string
	X, Y, Duration           string
}

// Request parses the form into a control request. Blank numeric fields are
// left unset.
func (f ActionForm) Request() (control.ActionRequest, error) {
	req := control.ActionRequest{
		Type:    strings.TrimSpace(f.Type),
		Subtype: strings.TrimSpace(f.Subtype),
		Key:     strings.TrimSpace(f.Key),
		Text:    f.Text,
	}
	var err error
	if req.X, err = optionalFloat("x", f.X); err != nil {
		return req, err
	}
	if req.Y, err = optionalFloat("y", f.Y); err != nil {
		return req, err
	}
	if req.Duration, err = optionalFloat("duration", f.Duration); err != nil {
		return req, err
	}
	return req, nil
}

func optionalFloat(name, s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("%s must be a number: %q", name, s)
	}
	return &v, nil
}

// DecodePreview turns a snapshot back into an image for display.
func DecodePreview(p cv.Preview) (image.Image, error) {
	raw, err := base64.StdEncoding.DecodeString(p.Image)
	if err != nil {
		return nil, fmt.Errorf("invalid preview encoding: %w", err)
	}
	img, err := jpeg.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid preview image: %w", err)
	}
	return img, nil
}

// ControlTab drives the controller by hand
type ControlTab struct {
	controller *Controller

	targetEntry *widget.SelectEntry
	exeEntry    *widget.Entry
	startBtn    *widget.Button
	stopBtn     *widget.Button

	actionType *widget.Select
	subtype    *widget.Entry
	keyEntry   *widget.Entry
	textEntry  *widget.Entry
	xEntry     *widget.Entry
	yEntry     *widget.Entry
	durEntry   *widget.Entry

	launchEntry *widget.Entry
	windowList  *widget.List
	windows     []control.WindowInfo

	preview      *canvas.Image
	previewLabel *widget.Label
}

// NewControlTab creates a new control tab
func NewControlTab(ctrl *Controller) *ControlTab {
	return &ControlTab{controller: ctrl}
}

// Build constructs the control UI
func (c *ControlTab) Build() fyne.CanvasObject {
	// Target
	c.targetEntry = widget.NewSelectEntry(c.controller.aliases)
	c.targetEntry.SetPlaceHolder("alias, executable or title")
	c.exeEntry = widget.NewEntry()
	c.exeEntry.SetPlaceHolder("exe (optional)")

	connectBtn := widget.NewButton("Connect", c.connect)
	foregroundBtn := widget.NewButton("Hook Foreground", c.connectForeground)
	disconnectBtn := widget.NewButton("Disconnect", c.disconnect)

	targetSection := components.Section("Target",
		container.NewGridWithColumns(2, c.targetEntry, c.exeEntry),
		container.NewGridWithColumns(3, connectBtn, foregroundBtn, disconnectBtn),
	)

	// Loop
	c.startBtn = widget.NewButton("Start Loop", c.startLoop)
	c.stopBtn = widget.NewButton("Stop Loop", c.stopLoop)
	loopSection := components.Section("Loop",
		container.NewGridWithColumns(2, c.startBtn, c.stopBtn),
	)

	// Manual action
	c.actionType = widget.NewSelect([]string{"key", "mouse", "text", "gamepad"}, nil)
	c.actionType.SetSelected("key")
	c.subtype = widget.NewEntry()
	c.subtype.SetPlaceHolder("subtype (left_click, move, stick)")
	c.keyEntry = widget.NewEntry()
	c.keyEntry.SetPlaceHolder("key / button")
	c.textEntry = widget.NewEntry()
	c.textEntry.SetPlaceHolder("text")
	c.xEntry = widget.NewEntry()
	c.xEntry.SetPlaceHolder("x")
	c.yEntry = widget.NewEntry()
	c.yEntry.SetPlaceHolder("y")
	c.durEntry = widget.NewEntry()
	c.durEntry.SetPlaceHolder("hold (s)")

	actionSection := components.Section("Manual Action",
		container.NewGridWithColumns(4, c.actionType, c.subtype, c.keyEntry, c.textEntry),
		container.NewGridWithColumns(4, c.xEntry, c.yEntry, c.durEntry, widget.NewButton("Execute", c.execute)),
	)

	// Launch and windows
	c.launchEntry = widget.NewEntry()
	c.launchEntry.SetPlaceHolder("path or URL")
	c.windowList = widget.NewList(
		func() int { return len(c.windows) },
		func() fyne.CanvasObject { return widget.NewLabel("window") },
		func(id widget.ListItemID, item fyne.CanvasObject) {
			if id < len(c.windows) {
				w := c.windows[id]
				item.(*widget.Label).SetText(fmt.Sprintf("%s  [%s]  %s", w.Title, w.Process, w.Handle))
			}
		},
	)
	c.windowList.OnSelected = func(id widget.ListItemID) {
		if id < len(c.windows) {
			c.targetEntry.SetText(c.windows[id].Title)
			c.exeEntry.SetText(c.windows[id].Process)
		}
	}

	launchSection := components.Section("Launch",
		container.NewBorder(nil, nil, nil, widget.NewButton("Launch", c.launch), c.launchEntry),
		container.NewHBox(components.Subheading("Windows"), widget.NewButton("Refresh", c.refreshWindows)),
	)

	// Snapshot
	c.preview = canvas.NewImageFromImage(nil)
	c.preview.FillMode = canvas.ImageFillContain
	c.preview.SetMinSize(fyne.NewSize(400, 300))
	c.previewLabel = widget.NewLabel("No snapshot")
	snapshotSection := container.NewBorder(
		container.NewHBox(
			components.Subheading("Snapshot"),
			widget.NewButton("Capture", c.snapshot),
			c.previewLabel,
		),
		nil, nil, nil,
		c.preview,
	)

	left := container.NewBorder(
		container.NewVBox(targetSection, loopSection, actionSection, launchSection),
		nil, nil, nil,
		c.windowList,
	)
	return container.NewHSplit(left, snapshotSection)
}

func (c *ControlTab) connect() {
	id, exe := c.targetEntry.Text, c.exeEntry.Text
	c.controller.request("connect", func(ctx context.Context) (string, error) {
		res, err := c.controller.ctrl.Connect(ctx, id, exe)
		return res.Message, err
	}, nil)
}

func (c *ControlTab) connectForeground() {
	c.controller.request("connect_foreground", func(ctx context.Context) (string, error) {
		res, err := c.controller.ctrl.ConnectForeground(ctx)
		return res.Message, err
	}, nil)
}

func (c *ControlTab) disconnect() {
	c.controller.request("disconnect", func(context.Context) (string, error) {
		res, err := c.controller.ctrl.Disconnect()
		return res.Message, err
	}, nil)
}

func (c *ControlTab) startLoop() {
	c.startBtn.Disable()
	c.controller.request("start_loop", func(ctx context.Context) (string, error) {
		res, err := c.controller.ctrl.StartLoop(ctx)
		return "Loop " + res.Status, err
	}, c.startBtn.Enable)
}

func (c *ControlTab) stopLoop() {
	c.stopBtn.Disable()
	c.controller.request("stop_loop", func(ctx context.Context) (string, error) {
		res, err := c.controller.ctrl.StopLoop(ctx)
		return "Loop " + res.Status, err
	}, c.stopBtn.Enable)
}

func (c *ControlTab) execute() {
	req, formErr := ActionForm{
		Type:     c.actionType.Selected,
		Subtype:  c.subtype.Text,
		Key:      c.keyEntry.Text,
		Text:     c.textEntry.Text,
		X:        c.xEntry.Text,
		Y:        c.yEntry.Text,
		Duration: c.durEntry.Text,
	}.Request()
	c.controller.request("execute", func(ctx context.Context) (string, error) {
		if formErr != nil {
			return "", formErr
		}
		res, err := c.controller.ctrl.ExecuteOnce(ctx, req)
		return "Sent " + res.Action, err
	}, nil)
}

func (c *ControlTab) launch() {
	path := c.launchEntry.Text
	c.controller.request("launch", func(ctx context.Context) (string, error) {
		res, err := c.controller.ctrl.Launch(ctx, path)
		return res.Message, err
	}, nil)
}

func (c *ControlTab) refreshWindows() {
	var windows []control.WindowInfo
	c.controller.request("list_windows", func(context.Context) (string, error) {
		var err error
		windows, err = c.controller.ctrl.ListWindows()
		return "", err
	}, func() {
		c.windows = windows
		c.windowList.UnselectAll()
		c.windowList.Refresh()
	})
}

func (c *ControlTab) snapshot() {
	var (
		img  image.Image
		info string
	)
	c.controller.request("snapshot", func(ctx context.Context) (string, error) {
		p, err := c.controller.ctrl.Snapshot(ctx)
		if err != nil {
			return "", err
		}
		img, err = DecodePreview(p)
		info = fmt.Sprintf("%dx%d", p.Width, p.Height)
		return "", err
	}, func() {
		if img == nil {
			return
		}
		c.preview.Image = img
		c.preview.Refresh()
		c.previewLabel.SetText(info)
	})
}
