// Package api is the HTTP transport. Handlers decode requests, delegate to
// the orchestrator and write envelope bodies; the envelope's htmlcode always
// mirrors the transport status.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/vmdemo/vm-provisioner/pkg/envelope"
	"github.com/vmdemo/vm-provisioner/pkg/errdefs"
	"github.com/vmdemo/vm-provisioner/pkg/logging"
	"github.com/vmdemo/vm-provisioner/pkg/metrics"
	"github.com/vmdemo/vm-provisioner/pkg/models"
	"github.com/vmdemo/vm-provisioner/pkg/service"
	"github.com/vmdemo/vm-provisioner/pkg/store"
)

// Server is the vmd HTTP API
type Server struct {
	svc    *service.VMService
	store  store.Store
	logger *logging.Logger
	router *mux.Router
}

// NewServer creates the API server and registers all routes
func NewServer(svc *service.VMService, st store.Store, logger *logging.Logger) *Server {
	s := &Server{
		svc:    svc,
		store:  st,
		logger: logger,
		router: mux.NewRouter(),
	}
	s.routes()
	return s
}

// Router returns the configured router
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) routes() {
	s.router.Use(s.requestIDMiddleware)
	s.router.Use(s.metricsMiddleware)

	// Specific routes first: /{id} would otherwise shadow them
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/instances/{id}", s.handleDescribe).Methods("GET")
	s.router.HandleFunc("/instances/{id}", s.handleDelete).Methods("DELETE")
	s.router.HandleFunc("/", s.handleCreate).Methods("POST")
	s.router.HandleFunc("/", s.handleList).Methods("GET")
	s.router.HandleFunc("/{id}", s.handleGet).Methods("GET")
}

// handleCreate handles POST /
func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req models.CreateVMRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeFailure(w, decodeError(err))
		return
	}

	vm, err := s.svc.Create(r.Context(), &req)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	s.writeEnvelope(w, envelope.NewObject(vm, http.StatusCreated))
}

// handleList handles GET /?page=&onpage=
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	page := queryInt(r, "page", 1)
	onPage := queryInt(r, "onpage", envelope.DefaultOnPage)
	if onPage < 1 {
		onPage = envelope.DefaultOnPage
	}

	vms, total, err := s.svc.List(r.Context(), page, onPage)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	s.writeEnvelope(w, envelope.NewList(vms, total, onPage, http.StatusOK))
}

// handleGet handles GET /{id}
func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := s.vmID(w, r)
	if !ok {
		return
	}

	vm, err := s.svc.Get(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	s.writeEnvelope(w, envelope.NewObject(vm, http.StatusOK))
}

// handleDescribe handles GET /instances/{id}
func (s *Server) handleDescribe(w http.ResponseWriter, r *http.Request) {
	id, ok := s.vmID(w, r)
	if !ok {
		return
	}

	info, err := s.svc.DescribeSync(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	s.writeEnvelope(w, envelope.NewObject(info, http.StatusOK))
}

// handleDelete handles DELETE /instances/{id}
func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	id, ok := s.vmID(w, r)
	if !ok {
		return
	}

	vm, err := s.svc.Delete(r.Context(), id)
	if err != nil {
		s.writeFailure(w, err)
		return
	}

	s.writeEnvelope(w, envelope.NewObject(vm, http.StatusOK))
}

// handleHealth handles GET /health
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	dbStatus := "ok"
	code := http.StatusOK
	if err := s.store.HealthCheck(); err != nil {
		status = "degraded"
		dbStatus = err.Error()
		code = http.StatusServiceUnavailable
	}

	s.writeEnvelope(w, envelope.NewObject(map[string]string{
		"status":   status,
		"database": dbStatus,
	}, code))
}

// vmID parses the id path variable. A non-numeric id is indistinguishable
// from an absent VM to callers: both are a 404 "VM not found" envelope.
func (s *Server) vmID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 1 {
		s.writeFailure(w, errdefs.NotFound("VM not found"))
		return 0, false
	}
	return id, true
}

func (s *Server) writeEnvelope(w http.ResponseWriter, v interface{}) {
	var status int
	switch e := envelope.Wrap(v, http.StatusOK).(type) {
	case *envelope.Object:
		status = e.StatusCode
		v = e
	case *envelope.List:
		status = e.StatusCode
		v = e
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("Failed to encode response", map[string]interface{}{"error": err.Error()})
	}
}

func (s *Server) writeFailure(w http.ResponseWriter, err error) {
	obj, status := envelope.Failure(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("Request failed", map[string]interface{}{"error": err.Error()})
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if encErr := json.NewEncoder(w).Encode(obj); encErr != nil {
		s.logger.Error("Failed to encode error response", map[string]interface{}{"error": encErr.Error()})
	}
}

// decodeError converts a JSON decode failure into a validation error so the
// response matches field-level validation output.
func decodeError(err error) error {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field != "" {
		field := typeErr.Field
		var msg string
		switch field {
		case "minCount", "maxCount":
			msg = field + " must be an integer >= 1 when provided."
		default:
			msg = field + " is required and must be a string."
		}
		return &errdefs.ValidationError{Fields: []errdefs.FieldError{{Field: field, Message: msg}}}
	}
	return &errdefs.ValidationError{Fields: []errdefs.FieldError{
		{Field: "body", Message: "Request body must be valid JSON."},
	}}
}

func queryInt(r *http.Request, key string, def int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return n
}

// requestIDMiddleware assigns each request an id and logs completion
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", reqID)

		start := time.Now()
		next.ServeHTTP(w, r)

		s.logger.Debug("Request handled", map[string]interface{}{
			"request_id": reqID,
			"method":     r.Method,
			"path":       r.URL.Path,
			"duration":   time.Since(start).String(),
		})
	})
}

// statusRecorder captures the response status for metrics
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

// metricsMiddleware records request counters and latency per route template
func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}

		metrics.RequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
		metrics.RequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	})
}
