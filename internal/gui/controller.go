package gui

import (
	"context"
	"sync"
	"time"

	"fyne.io/fyne/v2"
	"fyne.io/fyne/v2/container"
	"fyne.io/fyne/v2/dialog"
	"fyne.io/fyne/v2/widget"

	"jordanella.com/aimloop/internal/control"
	"jordanella.com/aimloop/internal/events"
	"jordanella.com/aimloop/internal/logging"
)

// Options wires the panel to a running engine.
type Options struct {
	App     fyne.App
	Window  fyne.Window
	Control *control.Controller
	Bus     events.EventBus

	// Aliases fills the target picker on the controls tab.
	Aliases []string

	// RequestTimeout bounds each button's call into the controller.
	RequestTimeout time.Duration
}

// Controller manages the panel state and its tabs
type Controller struct {
	app     fyne.App
	window  fyne.Window
	ctrl    *control.Controller
	relay   *EventRelay
	log     *logging.Logger
	aliases []string
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	dashboard  *DashboardTab
	controlTab *ControlTab
	logTab     *LogTab

	contentArea *fyne.Container
	currentTab  int
	mu          sync.RWMutex
}

// NewController creates the panel controller. ctx bounds every request the
// panel makes; Shutdown cancels it.
func NewController(ctx context.Context, opts Options) *Controller {
	ctx, cancel := context.WithCancel(ctx)
	c := &Controller{
		app:     opts.App,
		window:  opts.Window,
		ctrl:    opts.Control,
		relay:   NewEventRelay(opts.Bus),
		log:     logging.NewLogger("gui"),
		aliases: opts.Aliases,
		timeout: opts.RequestTimeout,
		ctx:     ctx,
		cancel:  cancel,
	}
	if c.timeout <= 0 {
		c.timeout = 30 * time.Second
	}

	c.dashboard = NewDashboardTab(c)
	c.controlTab = NewControlTab(c)
	c.logTab = NewLogTab(c)

	c.relay.Handle(c.logTab.AddEvent)
	c.relay.Handle(c.dashboard.OnEvent)
	return c
}

// BuildUI constructs the main UI with horizontal tabs
func (c *Controller) BuildUI() fyne.CanvasObject {
	tabButtons := container.NewHBox(
		widget.NewButton("Dashboard", func() { c.switchTab(0) }),
		widget.NewButton("Controls", func() { c.switchTab(1) }),
		widget.NewButton("Event Log", func() { c.switchTab(2) }),
	)

	c.mu.Lock()
	c.contentArea = container.NewStack(
		c.dashboard.Build(),
		c.controlTab.Build(),
		c.logTab.Build(),
	)
	contentArea := c.contentArea
	c.mu.Unlock()

	c.showTab(0, contentArea)

	return container.NewBorder(tabButtons, nil, nil, nil, contentArea)
}

// Start begins event relaying and status polling. Call it once the window
// content is set.
func (c *Controller) Start() {
	c.relay.Start()
	go c.dashboard.autoRefresh(c.ctx)
}

// Shutdown stops polling, detaches from the engine bus and cancels any
// in-flight request.
func (c *Controller) Shutdown() {
	c.cancel()
	c.relay.Stop()
}

// switchTab changes the active tab
func (c *Controller) switchTab(tabIndex int) {
	c.mu.Lock()
	c.currentTab = tabIndex
	contentArea := c.contentArea
	c.mu.Unlock()

	if contentArea != nil {
		c.showTab(tabIndex, contentArea)
	}
}

// showTab updates which tab content is visible
func (c *Controller) showTab(tabIndex int, contentArea *fyne.Container) {
	for i, obj := range contentArea.Objects {
		if i == tabIndex {
			obj.Show()
		} else {
			obj.Hide()
		}
	}
	contentArea.Refresh()
}

// request runs fn off the UI thread with the request timeout, then hands the
// outcome back on the UI thread: errors become a dialog and a log line,
// success messages go to the log.
func (c *Controller) request(op string, fn func(ctx context.Context) (string, error), done func()) {
	go func() {
		ctx, cancel := context.WithTimeout(c.ctx, c.timeout)
		defer cancel()

		msg, err := fn(ctx)
		fyne.Do(func() {
			if err != nil {
				c.log.WarnWithContext("Panel request failed", map[string]interface{}{
					"op":    op,
					"error": err.Error(),
				})
				c.logTab.AddLog(LogLevelError, op+": "+err.Error())
				if c.window != nil {
					dialog.ShowError(err, c.window)
				}
			} else if msg != "" {
				c.logTab.AddLog(LogLevelInfo, msg)
			}
			if done != nil {
				done()
			}
			c.dashboard.refresh()
		})
	}()
}
