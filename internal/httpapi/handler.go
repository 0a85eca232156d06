package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sentinela/sentinela/internal/core/service"
	"github.com/sentinela/sentinela/internal/domain/monitor"
	"github.com/sentinela/sentinela/internal/registry"
	"github.com/sentinela/sentinela/internal/storage"
)

// Store is the subset of storage.Store the admin surface drives.
type Store interface {
	storage.Store
}

// Registry is the subset of registry.Registry the admin surface reads
// from. SignalReload lets /monitor/register ask for a faster pickup
// without waiting out the full reload interval.
type Registry interface {
	Lookup(name string) (registry.Definition, bool)
	Len() int
	SignalReload()
}

// Compiler validates a Monitor's source without persisting it.
type Compiler interface {
	Compile(m monitor.Monitor) (registry.Callable, error)
}

// NewHandler builds the chi router for every route spec.md §6 names.
// compiler may be nil, in which case /monitor/validate reports 503 rather
// than silently skipping validation.
func NewHandler(store Store, reg Registry, compiler Compiler, metricsHandler http.Handler) http.Handler {
	h := &handler{store: store, reg: reg, compiler: compiler, startedAt: time.Now()}

	r := chi.NewRouter()
	r.Get("/status", h.handleStatus)
	r.Handle("/metrics", metricsHandler)

	r.Route("/monitor", func(r chi.Router) {
		r.Get("/list", h.handleMonitorList)
		r.Get("/{name}", h.handleMonitorGet)
		r.Get("/{name}/executions", h.handleMonitorExecutions)
		r.Post("/validate", h.handleMonitorValidate)
		r.Post("/register/{name}", h.handleMonitorRegister)
		r.Post("/{name}/enable", h.handleMonitorEnable)
		r.Post("/{name}/disable", h.handleMonitorDisable)
	})

	r.Route("/alert", func(r chi.Router) {
		r.Post("/{id}/acknowledge", h.handleAlertAcknowledge)
		r.Post("/{id}/lock", h.handleAlertLock)
		r.Post("/{id}/solve", h.handleAlertSolve)
	})

	r.Route("/issue", func(r chi.Router) {
		r.Post("/{id}/drop", h.handleIssueDrop)
	})

	return r
}

type handler struct {
	store     Store
	reg       Registry
	compiler  Compiler
	startedAt time.Time
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

func (h *handler) handleMonitorList(w http.ResponseWriter, r *http.Request) {
	monitors, err := h.store.ListMonitors(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, monitors)
}

func (h *handler) handleMonitorGet(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	m, err := h.store.GetMonitorByName(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

// handleMonitorExecutions lists a monitor's most recent runs, newest
// first. ?limit= is clamped to [1, 200], defaulting to 50.
func (h *handler) handleMonitorExecutions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	m, err := h.store.GetMonitorByName(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	}

	limit := service.LimitFromQuery(r.URL.Query().Get("limit"), 50, 200)

	execs, err := h.store.ListExecutions(r.Context(), m.ID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, execs)
}

// handleMonitorValidate compiles the submitted Monitor without persisting
// it, so authors can catch a syntax error before /register.
func (h *handler) handleMonitorValidate(w http.ResponseWriter, r *http.Request) {
	if h.compiler == nil {
		writeError(w, http.StatusServiceUnavailable, "validation unavailable")
		return
	}
	var m monitor.Monitor
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid monitor payload")
		return
	}
	if _, err := h.compiler.Compile(m); err != nil {
		writeJSON(w, http.StatusOK, map[string]any{"valid": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true})
}

// handleMonitorRegister upserts a Monitor by name and nudges the Registry
// to pick it up before its next scheduled reload.
func (h *handler) handleMonitorRegister(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	var m monitor.Monitor
	if err := json.NewDecoder(r.Body).Decode(&m); err != nil {
		writeError(w, http.StatusBadRequest, "invalid monitor payload")
		return
	}
	m.Name = monitor.Normalize(name)

	registered, err := h.store.RegisterMonitor(r.Context(), m)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.reg.SignalReload()
	writeJSON(w, http.StatusOK, registered)
}

func (h *handler) setEnabled(w http.ResponseWriter, r *http.Request, enabled bool) {
	name := chi.URLParam(r, "name")
	m, err := h.store.GetMonitorByName(r.Context(), name)
	if err != nil {
		writeError(w, http.StatusNotFound, "monitor not found")
		return
	}
	committed, err := h.store.SetEnabled(r.Context(), m.ID, enabled)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	h.reg.SignalReload()
	writeJSON(w, http.StatusOK, committed.Result)
}

func (h *handler) handleMonitorEnable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, true)
}

func (h *handler) handleMonitorDisable(w http.ResponseWriter, r *http.Request) {
	h.setEnabled(w, r, false)
}

func (h *handler) handleAlertAcknowledge(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	a, err := h.store.GetAlert(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusNotFound, "alert not found")
		return
	}
	committed, err := h.store.AcknowledgeAlert(r.Context(), id, a.Priority)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, committed.Result)
}

func (h *handler) handleAlertLock(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	committed, err := h.store.LockAlert(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, committed.Result)
}

func (h *handler) handleAlertSolve(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert id")
		return
	}
	committed, err := h.store.SolveAlert(r.Context(), id, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, committed.Result)
}

func (h *handler) handleIssueDrop(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid issue id")
		return
	}
	committed, err := h.store.MarkIssueDropped(r.Context(), id, time.Now().UTC())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, committed.Result)
}
