// Package api exposes the workflow handler over HTTP: tool execution,
// restarts, record and report inspection, a completion feed and the
// Prometheus scrape endpoint.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kingrea/taskgate/internal/failure"
	"github.com/kingrea/taskgate/internal/task"
	"github.com/kingrea/taskgate/internal/taskstate"
	"github.com/kingrea/taskgate/internal/tool"
	"github.com/kingrea/taskgate/internal/workflow/engine"
	"github.com/kingrea/taskgate/internal/workflow/resolver"
)

// HeaderRequestID carries the request id on requests and responses.
const HeaderRequestID = "X-Request-ID"

// ServerStatus reports runtime lifecycle states for the HTTP server.
type ServerStatus string

const (
	StatusStarting ServerStatus = "starting"
	StatusReady    ServerStatus = "ready"
	StatusDraining ServerStatus = "draining"
)

// Logger is the subset of *logging.Logger the server needs.
type Logger interface {
	Printf(format string, args ...any)
}

// Workflow is the handler surface served over HTTP. *engine.Handler
// satisfies it.
type Workflow interface {
	Execute(ctx context.Context, taskID, toolName string, inputs map[string]any) (engine.Result, error)
	Restart(ctx context.Context, req engine.RestartRequest) (engine.Result, error)
	Record(ctx context.Context, taskID string) (taskstate.Record, error)
	Report(ctx context.Context, taskID string) (resolver.Report, error)
	Registry() *tool.Registry
}

var _ Workflow = (*engine.Handler)(nil)

// TaskLister enumerates tasks for GET /v1/tasks.
type TaskLister interface {
	List(ctx context.Context) ([]task.Task, error)
}

// Server wraps the HTTP listener and handlers.
type Server struct {
	settings Settings
	workflow Workflow
	tasks    TaskLister
	feed     *Feed
	gatherer prometheus.Gatherer
	logger   Logger
	clock    func() time.Time

	mu        sync.RWMutex
	server    *http.Server
	listener  net.Listener
	status    ServerStatus
	startTime time.Time
}

// Option customizes server construction.
type Option func(*Server)

// WithLogger overrides the default no-op logger.
func WithLogger(l Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithClock allows tests to control timestamps.
func WithClock(clock func() time.Time) Option {
	return func(s *Server) {
		if clock != nil {
			s.clock = clock
		}
	}
}

// WithTasks enables GET /v1/tasks.
func WithTasks(tasks TaskLister) Option {
	return func(s *Server) {
		s.tasks = tasks
	}
}

// WithFeed serves completion history from feed.
func WithFeed(feed *Feed) Option {
	return func(s *Server) {
		s.feed = feed
	}
}

// WithGatherer serves gatherer on /metrics.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// NewServer prepares a server for workflow using the provided settings.
func NewServer(settings Settings, workflow Workflow, opts ...Option) *Server {
	settings.normalize()
	s := &Server{
		settings: settings,
		workflow: workflow,
		logger:   nopLogger{},
		clock:    func() time.Time { return time.Now().UTC() },
		status:   StatusStarting,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Handler returns the routed HTTP handler without binding a listener.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	if s.gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	}
	mux.HandleFunc("GET /v1/tools", s.handleTools)
	mux.HandleFunc("GET /v1/tasks", s.handleTasks)
	mux.HandleFunc("GET /v1/tasks/{id}/record", s.handleRecord)
	mux.HandleFunc("GET /v1/tasks/{id}/report", s.handleReport)
	mux.HandleFunc("GET /v1/tasks/{id}/completions", s.handleCompletions)
	mux.HandleFunc("POST /v1/tasks/{id}/tools/{tool}", s.handleExecute)
	mux.HandleFunc("POST /v1/tasks/{id}/restart", s.handleRestart)
	return s.withRequestID(mux)
}

// Start binds the TCP listener and begins serving HTTP traffic.
func (s *Server) Start(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("api: server is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		return fmt.Errorf("api: server already started")
	}
	listener, err := net.Listen("tcp", s.settings.Addr)
	if err != nil {
		return fmt.Errorf("api: listen %s: %w", s.settings.Addr, err)
	}
	s.listener = listener
	s.startTime = s.clock()
	server := &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  s.settings.ReadTimeout,
		WriteTimeout: s.settings.WriteTimeout,
		IdleTimeout:  s.settings.IdleTimeout,
	}
	if ctx != nil {
		server.BaseContext = func(net.Listener) context.Context { return ctx }
	}
	s.server = server
	s.status = StatusReady
	go func() {
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("api: serve error: %v", err)
		}
	}()
	s.logger.Printf("api: listening on %s", listener.Addr().String())
	return nil
}

// Shutdown stops accepting new connections and waits for in-flight requests to exit.
func (s *Server) Shutdown(ctx context.Context) error {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil || s.server == nil {
		return nil
	}
	s.status = StatusDraining
	if ctx == nil {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
	}
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	s.listener = nil
	s.server = nil
	return nil
}

// Addr returns the bound TCP address once the server has started.
func (s *Server) Addr() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// BaseURL returns the HTTP base URL for the running server.
func (s *Server) BaseURL() string {
	addr := s.Addr()
	if addr == "" {
		return s.settings.URL()
	}
	return "http://" + addr
}

// Status reports the server's lifecycle state.
func (s *Server) Status() ServerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

func (s *Server) uptimeSeconds() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.startTime.IsZero() {
		return 0
	}
	return int64(s.clock().Sub(s.startTime).Seconds())
}

type requestIDKey struct{}

func (s *Server) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderRequestID))
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey{}, id)))
	})
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(requestIDKey{}).(string)
	return id
}

type healthResponse struct {
	Status        string `json:"status"`
	Tools         int    `json:"tools"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        string(s.Status()),
		Tools:         s.workflow.Registry().Len(),
		UptimeSeconds: s.uptimeSeconds(),
	})
}

type toolView struct {
	Name          string        `json:"name"`
	Description   string        `json:"description,omitempty"`
	Initial       string        `json:"initial_state"`
	Terminal      string        `json:"terminal_state"`
	EntryStatuses []task.Status `json:"entry_statuses"`
	ExitStatus    task.Status   `json:"exit_status,omitempty"`
	DependsOn     string        `json:"depends_on,omitempty"`
	AutoDispatch  bool          `json:"auto_dispatch,omitempty"`
}

func (s *Server) handleTools(w http.ResponseWriter, _ *http.Request) {
	defs := s.workflow.Registry().All()
	views := make([]toolView, 0, len(defs))
	for _, def := range defs {
		views = append(views, toolView{
			Name:          def.Name,
			Description:   def.Description,
			Initial:       def.Initial(),
			Terminal:      def.TerminalState,
			EntryStatuses: def.EntryStatuses,
			ExitStatus:    def.ExitStatus,
			DependsOn:     def.DependsOn,
			AutoDispatch:  def.AutoDispatch,
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"tools": views})
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	if s.tasks == nil {
		writeJSON(w, http.StatusNotImplemented, errorResponse{Error: "task listing is not configured", RequestID: requestID(r)})
		return
	}
	tasks, err := s.tasks.List(r.Context())
	if err != nil {
		s.logger.Printf("api: list tasks: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "unable to list tasks", RequestID: requestID(r)})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (s *Server) handleRecord(w http.ResponseWriter, r *http.Request) {
	rec, err := s.workflow.Record(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	report, err := s.workflow.Report(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleCompletions(w http.ResponseWriter, r *http.Request) {
	var events []Event
	if s.feed != nil {
		events = s.feed.History(r.PathValue("id"))
	}
	if events == nil {
		events = []Event{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": events})
}

// executeRequest is the body of POST /v1/tasks/{id}/tools/{tool}.
type executeRequest struct {
	Trigger string         `json:"trigger,omitempty"`
	Inputs  map[string]any `json:"inputs,omitempty"`
}

func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	var req executeRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	inputs := make(map[string]any, len(req.Inputs)+1)
	for k, v := range req.Inputs {
		inputs[k] = v
	}
	if trigger := strings.TrimSpace(req.Trigger); trigger != "" {
		inputs[engine.InputTrigger] = trigger
	}
	res, err := s.workflow.Execute(r.Context(), r.PathValue("id"), r.PathValue("tool"), inputs)
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: res, Actor: res.Actor()})
}

// restartRequest is the body of POST /v1/tasks/{id}/restart.
type restartRequest struct {
	Tool   string   `json:"tool"`
	State  string   `json:"state,omitempty"`
	Status string   `json:"status,omitempty"`
	Keep   []string `json:"keep,omitempty"`
}

func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	var req restartRequest
	if !s.decodeBody(w, r, &req) {
		return
	}
	var status task.Status
	if strings.TrimSpace(req.Status) != "" {
		parsed, err := task.ParseStatus(req.Status)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error(), RequestID: requestID(r)})
			return
		}
		status = parsed
	}
	res, err := s.workflow.Restart(r.Context(), engine.RestartRequest{
		TaskID: r.PathValue("id"),
		Tool:   req.Tool,
		State:  req.State,
		Status: status,
		Keep:   req.Keep,
	})
	if err != nil {
		s.writeFailure(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resultResponse{Result: res, Actor: res.Actor()})
}

type resultResponse struct {
	engine.Result
	Actor string `json:"actor,omitempty"`
}

type errorResponse struct {
	Error     string       `json:"error"`
	Kind      failure.Kind `json:"kind,omitempty"`
	RequestID string       `json:"request_id,omitempty"`
}

// decodeBody reads an optional JSON body into dst. It writes the error
// response itself and reports whether handling should continue.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Body == nil {
		return true
	}
	reader := http.MaxBytesReader(w, r.Body, s.settings.MaxBodyBytes)
	defer reader.Close()
	body, err := io.ReadAll(reader)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{Error: "payload exceeds limit", RequestID: requestID(r)})
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unable to read body", RequestID: requestID(r)})
		return false
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		return true
	}
	if err := json.Unmarshal(body, dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid JSON", RequestID: requestID(r)})
		return false
	}
	return true
}

func (s *Server) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	fe := failure.Ensure(err, r.PathValue("id"), r.PathValue("tool"))
	status := StatusForKind(fe.Kind)
	if status >= http.StatusInternalServerError {
		s.logger.Printf("api: %s %s [%s]: %v", r.Method, r.URL.Path, requestID(r), err)
	}
	writeJSON(w, status, errorResponse{Error: fe.Error(), Kind: fe.Kind, RequestID: requestID(r)})
}

// StatusForKind maps a failure kind to the HTTP status returned for it.
func StatusForKind(kind failure.Kind) int {
	switch kind {
	case failure.KindTaskNotFound, failure.KindUnknownTool:
		return http.StatusNotFound
	case failure.KindInvalidTrigger, failure.KindInvalidDefinition:
		return http.StatusBadRequest
	case failure.KindEntryStatusInvalid, failure.KindMissingDependency,
		failure.KindCustomValidationFailed, failure.KindMissingPrerequisite:
		return http.StatusUnprocessableEntity
	case failure.KindToolBusy:
		return http.StatusConflict
	case failure.KindLockTimeout:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type nopLogger struct{}

func (nopLogger) Printf(string, ...any) {}
