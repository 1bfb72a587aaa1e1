package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"jordanella.com/aimloop/internal/faults"
	"jordanella.com/aimloop/internal/logging"
)

// HTTPServer serves the controller as a small JSON API.
type HTTPServer struct {
	ctrl       *Controller
	log        *logging.Logger
	httpServer *http.Server
}

// NewHTTPServer builds the router; call Run to listen on addr.
func NewHTTPServer(ctrl *Controller, addr string) *HTTPServer {
	s := &HTTPServer{ctrl: ctrl, log: logging.NewLogger("http")}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Routes returns the handler with every control route mounted.
func (s *HTTPServer) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(corsMiddleware)
	r.Use(s.requestLogger)

	r.Get("/status", s.handleStatus)
	r.Get("/windows", s.handleWindows)

	r.Post("/connect", s.handleConnect)
	r.Post("/connect/active", s.handleConnectForeground)
	r.Post("/disconnect", s.handleDisconnect)
	r.Post("/stop", s.handleDisconnect)

	r.Route("/actions", func(r chi.Router) {
		r.Get("/snapshot", s.handleSnapshot)
		r.Post("/execute", s.handleExecute)
	})

	for _, prefix := range []string{"/loop", "/bot"} {
		r.Route(prefix, func(r chi.Router) {
			r.Post("/start", s.handleStartLoop)
			r.Post("/stop", s.handleStopLoop)
		})
	}

	r.Post("/launch", s.handleLaunch)
	return r
}

// Run listens until ctx is cancelled, then shuts down gracefully.
func (s *HTTPServer) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.log.InfoWithContext("HTTP control surface listening", map[string]interface{}{"addr": s.httpServer.Addr})
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("http server: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("http shutdown: %w", err)
	}
	return nil
}

type connectRequest struct {
	GameID string `json:"gameId"`
	Exe    string `json:"exe"`
}

type launchRequest struct {
	Path string `json:"path"`
}

func (s *HTTPServer) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.respond(w, http.StatusOK, s.ctrl.Status())
}

func (s *HTTPServer) handleWindows(w http.ResponseWriter, _ *http.Request) {
	windows, err := s.ctrl.ListWindows()
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{"success": true, "windows": windows})
}

func (s *HTTPServer) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.ctrl.Connect(r.Context(), req.GameID, req.Exe)
	s.reply(w, res, err)
}

func (s *HTTPServer) handleConnectForeground(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.ConnectForeground(r.Context())
	s.reply(w, res, err)
}

func (s *HTTPServer) handleDisconnect(w http.ResponseWriter, _ *http.Request) {
	res, err := s.ctrl.Disconnect()
	s.reply(w, res, err)
}

func (s *HTTPServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	p, err := s.ctrl.Snapshot(r.Context())
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	s.respond(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"image":   p.Image,
		"width":   p.Width,
		"height":  p.Height,
	})
}

func (s *HTTPServer) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.ctrl.ExecuteOnce(r.Context(), req)
	s.reply(w, res, err)
}

func (s *HTTPServer) handleStartLoop(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.StartLoop(r.Context())
	s.reply(w, res, err)
}

func (s *HTTPServer) handleStopLoop(w http.ResponseWriter, r *http.Request) {
	res, err := s.ctrl.StopLoop(r.Context())
	s.reply(w, res, err)
}

func (s *HTTPServer) handleLaunch(w http.ResponseWriter, r *http.Request) {
	var req launchRequest
	if !s.decode(w, r, &req) {
		return
	}
	res, err := s.ctrl.Launch(r.Context(), req.Path)
	s.reply(w, res, err)
}

// decode reads a JSON body. An empty body leaves v at its zero value.
func (s *HTTPServer) decode(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, 1<<20)).Decode(v)
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	s.respondWithError(w, fmt.Errorf("%w: invalid request body: %v", ErrInvalidRequest, err))
	return false
}

func (s *HTTPServer) reply(w http.ResponseWriter, data interface{}, err error) {
	if err != nil {
		s.respondWithError(w, err)
		return
	}
	s.respond(w, http.StatusOK, data)
}

func (s *HTTPServer) respondWithError(w http.ResponseWriter, err error) {
	s.respond(w, statusFor(err), map[string]interface{}{
		"success": false,
		"error":   err.Error(),
	})
}

func (s *HTTPServer) respond(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("Failed to encode response", err)
	}
}

// statusFor maps a control error to an HTTP status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, faults.ErrTargetNotFound):
		return http.StatusNotFound
	case errors.Is(err, faults.ErrStaleHandle):
		return http.StatusConflict
	case errors.Is(err, faults.ErrUnsupported):
		return http.StatusNotImplemented
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte(`{"status":"ok"}`))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *HTTPServer) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		// status polls are too frequent to log at info
		ctx := map[string]interface{}{
			"method":     r.Method,
			"path":       r.URL.Path,
			"status":     ww.Status(),
			"duration":   time.Since(start).String(),
			"request_id": middleware.GetReqID(r.Context()),
		}
		if r.URL.Path == "/status" {
			s.log.DebugWithContext("HTTP request", ctx)
			return
		}
		s.log.InfoWithContext("HTTP request", ctx)
	})
}
