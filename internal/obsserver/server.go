// Package obsserver implements the observation server (spec.md §4.8,
// §6): an HTTP surface plus a per-connection SSE multiplexer over the
// log tail, SDK output, and derived-state-snapshot watchers. Grounded
// on _examples/original_source/src/jeeves/viewer/server.py's
// JeevesState/JeevesViewerHandler classes, read in full, ported onto
// github.com/go-chi/chi/v5 in the SSE-over-http.Flusher idiom seen in
// kadirpekel-hector's pkg/a2a/server.go (sendSSEEvent), since the
// teacher has no HTTP server of its own.
package obsserver

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/andywolf/agentium/internal/issuestate"
	"github.com/andywolf/agentium/internal/jeeveserr"
	"github.com/andywolf/agentium/internal/orchestrator"
	"github.com/andywolf/agentium/internal/watch"
	"github.com/andywolf/agentium/internal/workflow"
)

// Server is the observation server: the HTTP surface named in spec.md
// §6 plus the SSE multiplexer of §4.8, wrapping one Orchestrator.
type Server struct {
	logger         *log.Logger
	store          *issuestate.Store
	workflowStore  *workflow.Store
	orch           *orchestrator.Orchestrator
	allowRemoteRun bool

	mu           sync.Mutex
	ref          issuestate.IssueRef
	refSet       bool
	stateDir     string
	logWatcher   *watch.LogWatcher
	sdkWatcher   *watch.SDKOutputWatcher
	viewerWatch  *watch.LogWatcher
	stateBuilder *StateBuilder

	router chi.Router
}

// Config wires a Server's collaborators.
type Config struct {
	Store          *issuestate.Store
	WorkflowStore  *workflow.Store
	Orchestrator   *orchestrator.Orchestrator
	AllowRemoteRun bool
	Logger         *log.Logger
}

// NewServer constructs a Server and wires its routes.
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	s := &Server{
		logger:         logger,
		store:          cfg.Store,
		workflowStore:  cfg.WorkflowStore,
		orch:           cfg.Orchestrator,
		allowRemoteRun: cfg.AllowRemoteRun,
	}
	if ref, dir, ok := cfg.Orchestrator.CurrentIssue(); ok {
		s.setActiveIssueLocked(ref, dir)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements http.Handler so a Server can be dropped
// straight into an *http.Server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(s.requestIDMiddleware)

	r.Get("/api/state", s.handleGetState)
	r.Get("/api/stream", s.handleStream)
	r.Get("/api/logs", s.handleGetLogs)
	r.Get("/api/sdk-output", s.handleGetSDKOutput)
	r.Get("/api/sdk-output/messages", s.handleGetSDKMessages)
	r.Get("/api/sdk-output/tool-calls", s.handleGetSDKToolCalls)
	r.Get("/api/run", s.handleGetRun)
	r.Get("/api/run/logs", s.handleGetRunLogs)

	r.With(s.requireLocalOriginUnlessAllowed).Post("/api/run", s.handlePostRun)
	r.With(s.requireLocalOrigin).Post("/api/run/stop", s.handlePostRunStop)
	r.With(s.requireLocalOrigin).Post("/api/issue/status", s.handlePostIssueStatus)
	r.With(s.requireLocalOrigin).Post("/api/issues/select", s.handlePostIssueSelect)

	r.Get("/api/workflows", s.handleListWorkflows)
	r.Get("/api/workflow/{name}/full", s.handleGetWorkflowFull)
	r.With(s.requireLocalOrigin).Post("/api/workflow/{name}", s.handleSaveWorkflow)
	r.With(s.requireLocalOrigin).Post("/api/workflow/{name}/validate", s.handleValidateWorkflow)
	r.With(s.requireLocalOrigin).Post("/api/workflow/{name}/duplicate", s.handleDuplicateWorkflow)
	r.With(s.requireLocalOrigin).Delete("/api/workflow/{name}", s.handleDeleteWorkflow)

	return r
}

// requestIDMiddleware stamps every request with an X-Request-Id
// (generated when the caller didn't supply one) so a given request
// can be correlated across the access log and any error it produced.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set("X-Request-Id", id)
		s.logger.Printf("%s %s request_id=%s", r.Method, r.URL.Path, id)
		next.ServeHTTP(w, r)
	})
}

// requireLocalOriginUnlessAllowed rejects remote requests with 403
// unless AllowRemoteRun is set (SPEC_FULL.md §C.8, spec.md §6 "Errors
// ... 403 (remote origin without explicit opt-in)").
func (s *Server) requireLocalOriginUnlessAllowed(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.allowRemoteRun || isLocalRequest(r) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusForbidden, "remote run requests are disabled; set allow_remote_run to opt in")
	})
}

// requireLocalOrigin rejects remote requests with 403 unconditionally
// (control-mutating endpoints other than POST /api/run), per
// SPEC_FULL.md §C.8.
func (s *Server) requireLocalOrigin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isLocalRequest(r) {
			next.ServeHTTP(w, r)
			return
		}
		writeError(w, http.StatusForbidden, "this endpoint only accepts requests from the local machine")
	})
}

// isLocalRequest reports whether r's remote address is loopback,
// grounded on _is_local_request in the original JeevesViewerHandler.
func isLocalRequest(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeMappedError maps a jeeveserr error category onto the HTTP
// status spec.md §7 assigns it; anything else is a 500.
func writeMappedError(w http.ResponseWriter, err error) {
	var notFound *jeeveserr.NotFoundError
	var conflict *jeeveserr.ConflictError
	var validation *jeeveserr.ValidationError
	switch {
	case errors.As(err, &notFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.As(err, &conflict):
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &validation):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func decodeJSON(r *http.Request, v interface{}) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !strings.Contains(err.Error(), "EOF") {
		return err
	}
	return nil
}

// setActiveIssueLocked (re)points the server's watchers and state
// builder at ref's state directory. Callers must hold s.mu, except
// the constructor which runs before any concurrent access.
func (s *Server) setActiveIssueLocked(ref issuestate.IssueRef, stateDir string) {
	s.ref = ref
	s.refSet = true
	s.stateDir = stateDir
	s.logWatcher = watch.NewLogWatcher(stateDir + "/last-run.log")
	s.sdkWatcher = watch.NewSDKOutputWatcher(stateDir + "/sdk-output.json")
	s.viewerWatch = watch.NewLogWatcher(stateDir + "/viewer-run.log")
	s.stateBuilder = NewStateBuilder(stateDir, s.store, ref, s.orch)
}

func (s *Server) activeWatchers() (ref issuestate.IssueRef, stateDir string, logW *watch.LogWatcher, sdkW *watch.SDKOutputWatcher, viewerW *watch.LogWatcher, builder *StateBuilder, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.refSet {
		return issuestate.IssueRef{}, "", nil, nil, nil, nil, false
	}
	return s.ref, s.stateDir, s.logWatcher, s.sdkWatcher, s.viewerWatch, s.stateBuilder, true
}
