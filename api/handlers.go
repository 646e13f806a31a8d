/*
handlers.go - HTTP API handlers for the parking engine

PURPOSE:
  Exposes the reconciliation engine over HTTP. Handlers parse query
  parameters, call the Engine, and serialize DTOs. No business rule lives
  here.

ENDPOINTS:
  Supervision:
    GET    /status                 Lot status and per-slot occupancy
    GET    /events?limit=20        Recent event log, newest first
    GET    /ws                     WebSocket status stream

  Device (firmware sends query parameters):
    POST   /iot/slot?slot_id=&occupied=&plate=   Ultrasonic sensor transition
    POST   /iot/plate?plate=&slot_id=            Plate recognized at entry

  Sessions:
    GET    /sessions?active=&limit=              List, newest first
    GET    /sessions/{id}                        Single session
    POST   /sessions/stop?session_id=            Manual stop
    POST   /sessions/pay?session_id=             Bill a stopped session

  Ops:
    GET    /healthz
    GET    /metrics

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Missing or malformed parameters
  - 404: Unknown slot or session
  - 409: Lifecycle conflict (double stop, double pay, pay before stop),
         lot full, slot already holding an open session
  - 429: Sensor endpoints rate limited
  - 500: Internal errors

SECURITY NOTE:
  No authentication. The lot network is trusted.

SEE ALSO:
  - dto.go: Response types
  - hub.go: WebSocket fan-out
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"gopkg.in/guregu/null.v4"

	"github.com/warp/parking-engine/parking"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Pinger reports whether the backing database is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *parking.Engine
	Hub    *Hub
	DB     Pinger
}

// NewHandler creates a handler. hub and db may be nil.
func NewHandler(engine *parking.Engine, hub *Hub, db Pinger) *Handler {
	return &Handler{Engine: engine, Hub: hub, DB: db}
}

// =============================================================================
// STATUS / EVENTS
// =============================================================================

// GetStatus returns the aggregated lot status.
func (h *Handler) GetStatus(w http.ResponseWriter, r *http.Request) {
	st, err := h.Engine.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load status", err)
		return
	}
	writeJSON(w, http.StatusOK, toStatusDTO(st))
}

// ListEvents returns the most recent events.
func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := optionalInt(r, "limit", parking.DefaultEventLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}

	events, err := h.Engine.RecentEvents(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list events", err)
		return
	}
	writeJSON(w, http.StatusOK, toEventDTOs(events))
}

// =============================================================================
// DEVICE HANDLERS
// =============================================================================

// ReportSlot applies an occupancy transition sent by a slot sensor.
func (h *Handler) ReportSlot(w http.ResponseWriter, r *http.Request) {
	slotID, err := requiredInt(r, "slot_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid slot_id", err)
		return
	}
	occupied, err := requiredBool(r, "occupied")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid occupied", err)
		return
	}
	plate := r.URL.Query().Get("plate")

	res, err := h.Engine.ReportOccupancy(r.Context(), parking.SlotID(slotID), occupied, plate)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	if res.Changed {
		h.publishStatus(r.Context())
	}

	writeJSON(w, http.StatusOK, ReportSlotResponse{
		OK:       true,
		SlotID:   int(res.SlotID),
		Occupied: res.Occupied,
		Changed:  res.Changed,
	})
}

// RecordPlate opens a session for a plate detected at the entrance.
func (h *Handler) RecordPlate(w http.ResponseWriter, r *http.Request) {
	plate := r.URL.Query().Get("plate")
	if strings.TrimSpace(plate) == "" {
		writeError(w, http.StatusBadRequest, "plate is required", nil)
		return
	}
	var slotID null.Int
	if raw := r.URL.Query().Get("slot_id"); raw != "" {
		n, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid slot_id", err)
			return
		}
		slotID = null.IntFrom(n)
	}

	id, err := h.Engine.RecordPlateEntry(r.Context(), plate, slotID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, PlateEntryResponse{SessionID: int64(id)})
}

// =============================================================================
// SESSION HANDLERS
// =============================================================================

// ListSessions returns sessions, newest first.
func (h *Handler) ListSessions(w http.ResponseWriter, r *http.Request) {
	limit, err := optionalInt(r, "limit", parking.DefaultSessionLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid limit", err)
		return
	}
	var activeOnly bool
	if r.URL.Query().Has("active") {
		if activeOnly, err = requiredBool(r, "active"); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid active", err)
			return
		}
	}

	sessions, err := h.Engine.ListSessions(r.Context(), parking.SessionFilter{ActiveOnly: activeOnly, Limit: limit})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list sessions", err)
		return
	}

	dtos := make([]SessionDTO, len(sessions))
	for i, s := range sessions {
		dtos[i] = toSessionDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetSession returns one session.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session id", err)
		return
	}

	sess, err := h.Engine.GetSession(r.Context(), parking.SessionID(id))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toSessionDTO(sess))
}

// StopSession ends a session manually.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	id, err := requiredInt(r, "session_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session_id", err)
		return
	}

	if err := h.Engine.StopSession(r.Context(), parking.SessionID(id)); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, OKResponse{OK: true})
}

// PaySession bills a stopped session.
func (h *Handler) PaySession(w http.ResponseWriter, r *http.Request) {
	id, err := requiredInt(r, "session_id")
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid session_id", err)
		return
	}

	amount, err := h.Engine.PaySession(r.Context(), parking.SessionID(id))
	if err != nil {
		writeEngineError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PaymentResponse{Status: "paid", Amount: amount.InexactFloat64()})
}

// =============================================================================
// OPS
// =============================================================================

// Health reports database reachability.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	if h.DB != nil {
		if err := h.DB.Ping(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, "Database unreachable", err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// HELPERS
// =============================================================================

// publishStatus pushes the committed status to WebSocket subscribers.
func (h *Handler) publishStatus(ctx context.Context) {
	if h.Hub == nil || h.Hub.Len() == 0 {
		return
	}
	st, err := h.Engine.Status(ctx)
	if err != nil {
		log.Printf("ws: failed to load status for broadcast: %v", err)
		return
	}
	h.Hub.Broadcast(StatusMessage{Type: "status", Status: toStatusDTO(st)})
}

func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case parking.IsNotFound(err):
		writeError(w, http.StatusNotFound, notFoundMessage(err), err)
	case parking.IsCapacityExceeded(err):
		writeError(w, http.StatusConflict, "Parking is full", err)
	case parking.IsConflict(err):
		writeError(w, http.StatusConflict, conflictMessage(err), err)
	case errors.Is(err, parking.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, "Invalid request", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}

func notFoundMessage(err error) string {
	if errors.Is(err, parking.ErrSlotNotFound) {
		return "Slot not found"
	}
	return "Session not found"
}

func conflictMessage(err error) string {
	switch {
	case errors.Is(err, parking.ErrSessionAlreadyStopped):
		return "Session already stopped"
	case errors.Is(err, parking.ErrSessionNotStopped):
		return "Stop the session before paying"
	case errors.Is(err, parking.ErrSessionAlreadyPaid):
		return "Session already paid"
	default:
		return "Slot already has an open session"
	}
}

func requiredInt(r *http.Request, name string) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, fmt.Errorf("%s is required", name)
	}
	return strconv.ParseInt(raw, 10, 64)
}

func optionalInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("%s must not be negative", name)
	}
	return n, nil
}

// requiredBool accepts the spellings microcontroller firmware tends to send.
func requiredBool(r *http.Request, name string) (bool, error) {
	raw := strings.ToLower(strings.TrimSpace(r.URL.Query().Get(name)))
	switch raw {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	case "":
		return false, fmt.Errorf("%s is required", name)
	default:
		return false, fmt.Errorf("%s: cannot parse %q as boolean", name, raw)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
