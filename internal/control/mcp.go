package control

import (
	"context"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

const (
	ServerName    = "aimloop"
	ServerVersion = "0.1.0"
)

// MCPServer exposes a Controller as MCP tools over stdio.
type MCPServer struct {
	mcpServer *mcpsdk.Server
	ctrl      *Controller
}

// NewMCPServer registers the control tools.
func NewMCPServer(ctrl *Controller) *MCPServer {
	s := &MCPServer{ctrl: ctrl}
	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    ServerName,
			Version: ServerVersion,
		},
		nil,
	)
	s.registerTools()
	return s
}

// Run serves on stdin/stdout until ctx ends or the client disconnects.
func (s *MCPServer) Run(ctx context.Context) error {
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Server returns the underlying MCP server, for in-memory transports in tests.
func (s *MCPServer) Server() *mcpsdk.Server {
	return s.mcpServer
}

type ConnectInput struct {
	GameID string `json:"game_id" jsonschema:"Alias (osu, minecraft, notepad...), executable or window title fragment"`
	Exe    string `json:"exe,omitempty" jsonschema:"Executable name used when game_id is not a known alias"`
}

type EmptyInput struct{}

type StatusOutput struct {
	Status      string `json:"status"`
	Running     bool   `json:"running"`
	TargetID    string `json:"target_id,omitempty"`
	Handle      string `json:"hwnd,omitempty"`
	Title       string `json:"title,omitempty"`
	HandleValid bool   `json:"handle_valid"`
	Phase       string `json:"phase"`
	PauseReason string `json:"pause_reason,omitempty"`
	Cycles      int64  `json:"cycles"`
	Actions     int64  `json:"actions"`
	Misses      int64  `json:"misses"`
	Errors      int64  `json:"errors"`
	LastSource  string `json:"last_source,omitempty"`
	LastError   string `json:"last_error,omitempty"`
}

type LaunchInput struct {
	Path string `json:"path" jsonschema:"Executable path or protocol link such as steam://rungameid/123"`
}

type ListWindowsOutput struct {
	Windows []WindowInfo `json:"windows"`
}

func (s *MCPServer) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "connect",
		Description: "Track the first visible window matching a target alias, executable name or title fragment. Fails with the list of visible titles when nothing matches.",
	}, s.handleConnect)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "connect_foreground",
		Description: "Wait briefly (2s by default) so the user can focus the target, then track the foreground window.",
	}, s.handleConnectForeground)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "disconnect",
		Description: "Stop the loop and forget the tracked window.",
	}, s.handleDisconnect)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "status",
		Description: "Report whether the loop is running, the tracked window, handle validity, the last error and loop counters.",
	}, s.handleStatus)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "execute",
		Description: "Send one input action: key (optional x/y fractions to aim first), mouse (left_click, right_click, move), text, or gamepad (button or stick with x/y deflection in -1..1).",
	}, s.handleExecute)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "start_loop",
		Description: "Start the detect and act loop on the tracked window. Reports already_running when it is active.",
	}, s.handleStartLoop)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "stop_loop",
		Description: "Stop the loop and release every held key, button and stick.",
	}, s.handleStopLoop)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "snapshot",
		Description: "Capture the tracked window as a base64 JPEG thumbnail.",
	}, s.handleSnapshot)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "launch",
		Description: "Start a program or open a protocol link with its registered handler.",
	}, s.handleLaunch)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_windows",
		Description: "List visible titled windows with handle, process and rectangle.",
	}, s.handleListWindows)
}

func (s *MCPServer) handleConnect(ctx context.Context, _ *mcpsdk.CallToolRequest, args ConnectInput) (*mcpsdk.CallToolResult, ConnectResult, error) {
	res, err := s.ctrl.Connect(ctx, args.GameID, args.Exe)
	return nil, res, err
}

func (s *MCPServer) handleConnectForeground(ctx context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, ConnectResult, error) {
	res, err := s.ctrl.ConnectForeground(ctx)
	return nil, res, err
}

func (s *MCPServer) handleDisconnect(_ context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, Result, error) {
	res, err := s.ctrl.Disconnect()
	return nil, res, err
}

func (s *MCPServer) handleStatus(_ context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, StatusOutput, error) {
	st := s.ctrl.Status()
	return nil, StatusOutput{
		Status:      st.Status,
		Running:     st.Running,
		TargetID:    st.TargetID,
		Handle:      st.Handle,
		Title:       st.Title,
		HandleValid: st.HandleValid,
		Phase:       st.Loop.Phase,
		PauseReason: st.Loop.PauseReason,
		Cycles:      st.Loop.Cycles,
		Actions:     st.Loop.Actions,
		Misses:      st.Loop.Misses,
		Errors:      st.Loop.Errors,
		LastSource:  st.Loop.LastSource,
		LastError:   st.LastError,
	}, nil
}

func (s *MCPServer) handleExecute(ctx context.Context, _ *mcpsdk.CallToolRequest, args ActionRequest) (*mcpsdk.CallToolResult, ActionResult, error) {
	res, err := s.ctrl.ExecuteOnce(ctx, args)
	return nil, res, err
}

func (s *MCPServer) handleStartLoop(ctx context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, Result, error) {
	res, err := s.ctrl.StartLoop(ctx)
	return nil, res, err
}

func (s *MCPServer) handleStopLoop(ctx context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, Result, error) {
	res, err := s.ctrl.StopLoop(ctx)
	return nil, res, err
}

type SnapshotOutput struct {
	Success bool   `json:"success"`
	Image   string `json:"image"`
	Width   int    `json:"width"`
	Height  int    `json:"height"`
}

func (s *MCPServer) handleSnapshot(ctx context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, SnapshotOutput, error) {
	p, err := s.ctrl.Snapshot(ctx)
	if err != nil {
		return nil, SnapshotOutput{}, err
	}
	return nil, SnapshotOutput{Success: true, Image: p.Image, Width: p.Width, Height: p.Height}, nil
}

func (s *MCPServer) handleLaunch(ctx context.Context, _ *mcpsdk.CallToolRequest, args LaunchInput) (*mcpsdk.CallToolResult, Result, error) {
	res, err := s.ctrl.Launch(ctx, args.Path)
	return nil, res, err
}

func (s *MCPServer) handleListWindows(_ context.Context, _ *mcpsdk.CallToolRequest, _ EmptyInput) (*mcpsdk.CallToolResult, ListWindowsOutput, error) {
	windows, err := s.ctrl.ListWindows()
	if err != nil {
		return nil, ListWindowsOutput{}, err
	}
	return nil, ListWindowsOutput{Windows: windows}, nil
}
