// Package drivers exposes the driver and load operations over HTTP.
package drivers

import (
	"net/http"
	"strings"

	"github.com/kilianp07/freight/core/assignment"
	"github.com/kilianp07/freight/core/logger"
	"github.com/kilianp07/freight/core/model"
	"github.com/kilianp07/freight/core/store"
	"github.com/kilianp07/freight/internal/eventbus"
)

// Handler serves the driver facing API.
type Handler struct {
	svc *assignment.Service
	bus eventbus.EventBus
	log logger.Logger
}

// NewHandler creates a handler over svc. bus feeds the per-driver event
// stream and may be nil to disable it.
func NewHandler(svc *assignment.Service, bus eventbus.EventBus, log logger.Logger) *Handler {
	return &Handler{svc: svc, bus: bus, log: logger.OrNop(log)}
}

// Register adds the routes to mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/drivers", h.createDriver)
	mux.HandleFunc("GET /api/drivers/{id}", h.getDriver)
	mux.HandleFunc("GET /api/drivers/{id}/state", h.driverState)
	mux.HandleFunc("POST /api/drivers/{id}/shift", h.startShift)
	mux.HandleFunc("DELETE /api/drivers/{id}/shift", h.endShift)
	mux.HandleFunc("GET /api/drivers/{id}/assignment", h.currentAssignment)
	mux.HandleFunc("POST /api/drivers/{id}/loads/{load}/complete", h.complete)
	mux.HandleFunc("POST /api/drivers/{id}/loads/{load}/reject", h.reject)
	mux.HandleFunc("GET /api/drivers/{id}/events", h.stream)
	mux.HandleFunc("POST /api/loads", h.createLoad)
	mux.HandleFunc("GET /api/loads", h.listLoads)
	mux.HandleFunc("GET /api/loads/{id}", h.getLoad)
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.log.Errorf("%s %s: %v", r.Method, r.URL.Path, err)
		writeError(w, status, "internal error")
		return
	}
	writeError(w, status, err.Error())
}

func (h *Handler) createDriver(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name string `json:"name"`
	}
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	d, err := h.svc.CreateDriver(r.Context(), body.Name)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, d)
}

func (h *Handler) getDriver(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetDriver(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

func (h *Handler) driverState(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.DriverState(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) startShift(w http.ResponseWriter, r *http.Request) {
	var p model.Point
	if err := decode(w, r, &p); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	sh, err := h.svc.StartShift(r.Context(), r.PathValue("id"), p.Lat, p.Lng)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sh)
}

func (h *Handler) endShift(w http.ResponseWriter, r *http.Request) {
	sh, err := h.svc.EndShift(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sh)
}

// currentAssignment returns the driver's open load, reserving one if possible.
// 204 means there is no work for the driver right now.
func (h *Handler) currentAssignment(w http.ResponseWriter, r *http.Request) {
	a, err := h.svc.GetOrReserveLoad(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if a == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h *Handler) complete(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.CompleteNextStop(r.Context(), r.PathValue("id"), r.PathValue("load"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) reject(w http.ResponseWriter, r *http.Request) {
	out, err := h.svc.RejectReservedLoadAndEndShift(r.Context(), r.PathValue("id"), r.PathValue("load"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) createLoad(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Pickup  model.Point `json:"pickup"`
		Dropoff model.Point `json:"dropoff"`
	}
	if err := decode(w, r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid body")
		return
	}
	l, err := h.svc.CreateLoad(r.Context(), body.Pickup, body.Dropoff)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (h *Handler) getLoad(w http.ResponseWriter, r *http.Request) {
	l, err := h.svc.GetLoad(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

// listLoads accepts a comma separated status list and a driver_id filter.
func (h *Handler) listLoads(w http.ResponseWriter, r *http.Request) {
	f := store.LoadFilter{DriverID: r.URL.Query().Get("driver_id")}
	if s := r.URL.Query().Get("status"); s != "" {
		for _, part := range strings.Split(s, ",") {
			st, err := model.ParseLoadStatus(strings.TrimSpace(part))
			if err != nil {
				h.fail(w, r, err)
				return
			}
			f.Statuses = append(f.Statuses, st)
		}
	}
	ls, err := h.svc.ListLoads(r.Context(), f)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ls == nil {
		ls = []model.Load{}
	}
	writeJSON(w, http.StatusOK, ls)
}
