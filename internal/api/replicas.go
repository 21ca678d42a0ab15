package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/medtwin-core/internal/audit"
	"github.com/nerrad567/medtwin-core/internal/pairing"
	"github.com/nerrad567/medtwin-core/internal/replica"
	"github.com/nerrad567/medtwin-core/internal/twin"
)

// PairRequest is the body of POST /replicas/pair.
type PairRequest struct {
	DeviceID string `json:"deviceId"`
	Name     string `json:"name"`
}

// LimitsRequest is the body of PUT /replicas/{id}/limits.
type LimitsRequest struct {
	Kind replica.ReadingKind `json:"kind"`
	Min  *float64            `json:"min"`
	Max  *float64            `json:"max"`
}

// MessageRequest is the body of POST /replicas/{id}/message.
type MessageRequest struct {
	Text string `json:"text"`
}

// LEDRequest is the body of POST /devices/leds.
type LEDRequest struct {
	States string `json:"states"`
}

// ownedReplica loads the replica named in the URL if the caller owns it.
func (s *Server) ownedReplica(w http.ResponseWriter, r *http.Request) (*replica.Replica, bool) {
	rep, err := s.replicas.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeDomainError(w, r, err)
		return nil, false
	}
	if rep.OwnerUserID != principal(r).UserID {
		s.writeDomainError(w, r, twin.ErrUnauthorized)
		return nil, false
	}
	return rep, true
}

func (s *Server) unavailable(w http.ResponseWriter, what string) {
	writeError(w, http.StatusServiceUnavailable, ErrCodeUnavailable, what+" is not available")
}

// handlePairReplica blocks until the device confirms or the handshake
// times out.
func (s *Server) handlePairReplica(w http.ResponseWriter, r *http.Request) {
	if s.pairing == nil {
		s.unavailable(w, "pairing")
		return
	}
	var req PairRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	rep, err := s.pairing.Pair(r.Context(), pairing.Request{
		DeviceID:    req.DeviceID,
		Name:        req.Name,
		OwnerUserID: principal(r).UserID,
	})
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionPair, audit.EntityReplica, rep.ID, map[string]any{"name": rep.Name})
	writeJSON(w, http.StatusCreated, rep)
}

func (s *Server) handleListReplicas(w http.ResponseWriter, r *http.Request) {
	reps, err := s.replicas.ListByOwner(r.Context(), principal(r).UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"replicas": reps, "count": len(reps)})
}

func (s *Server) handleGetReplica(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.ownedReplica(w, r)
	if !ok {
		return
	}
	twinID, err := s.twins.ResolveTwinForReplica(r.Context(), replica.Type, rep.ID)
	if err != nil && !errors.Is(err, twin.ErrTwinNotFound) {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"replica": rep, "twinId": twinID})
}

func (s *Server) handleDeleteReplica(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.ownedReplica(w, r)
	if !ok {
		return
	}
	if err := s.twins.DeleteReplica(r.Context(), rep.ID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionDelete, audit.EntityReplica, rep.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateWindow(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.ownedReplica(w, r)
	if !ok {
		return
	}
	var win replica.Window
	if err := decodeJSON(r, &win); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	rt, err := s.twins.RuntimeForReplica(r.Context(), rep.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := rt.UpdateWindow(r.Context(), rep.ID, win); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionUpdate, audit.EntityReplica, rep.ID, map[string]any{"window_start": win.Start, "window_end": win.End})
	writeJSON(w, http.StatusOK, map[string]any{"replicaId": rep.ID, "medicineWindow": win})
}

func (s *Server) handleGetLimits(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.ownedReplica(w, r)
	if !ok {
		return
	}
	rt, err := s.twins.RuntimeForReplica(r.Context(), rep.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	view, err := rt.Limits(r.Context(), rep.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleSetLimits(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.ownedReplica(w, r)
	if !ok {
		return
	}
	var req LimitsRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.Min == nil || req.Max == nil {
		writeError(w, http.StatusBadRequest, ErrCodeValidation, "min and max are required")
		return
	}
	if !req.Kind.Valid() {
		s.writeDomainError(w, r, replica.ErrInvalidKind)
		return
	}

	rt, err := s.twins.RuntimeForReplica(r.Context(), rep.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	if err := rt.SetLimits(r.Context(), rep.ID, req.Kind, *req.Min, *req.Max); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionUpdate, audit.EntityReplica, rep.ID, map[string]any{
		"kind": string(req.Kind), "min": *req.Min, "max": *req.Max,
	})
	view, err := rt.Limits(r.Context(), rep.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDisplayMessage(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		s.unavailable(w, "device commands")
		return
	}
	rep, ok := s.ownedReplica(w, r)
	if !ok {
		return
	}
	var req MessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.devices.Display(r.Context(), rep.ID, req.Text); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionCommand, audit.EntityReplica, rep.ID, map[string]any{"command": "message"})
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleResolveEmergency(w http.ResponseWriter, r *http.Request) {
	rep, ok := s.ownedReplica(w, r)
	if !ok {
		return
	}
	rt, err := s.twins.RuntimeForReplica(r.Context(), rep.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	n, err := rt.ResolveEmergency(r.Context(), rep.ID, s.now())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionResolve, audit.EntityReplica, rep.ID, map[string]any{"resolved": n})
	writeJSON(w, http.StatusOK, map[string]any{"replicaId": rep.ID, "resolved": n})
}

func (s *Server) handleBroadcastLEDs(w http.ResponseWriter, r *http.Request) {
	if s.devices == nil {
		s.unavailable(w, "device commands")
		return
	}
	var req LEDRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if err := s.devices.BroadcastLEDStates(r.Context(), req.States); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionCommand, audit.EntityFleet, "", map[string]any{"command": "led_states"})
	w.WriteHeader(http.StatusAccepted)
}

// handleListAudit lists the caller's own audit entries.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		s.unavailable(w, "audit log")
		return
	}
	q := r.URL.Query()
	filter := audit.Filter{
		Action:     q.Get("action"),
		EntityType: q.Get("entity_type"),
		EntityID:   q.Get("entity_id"),
		UserID:     principal(r).UserID,
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := q.Get(name); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				writeBadRequest(w, name+" must be an integer")
				return
			}
			*dst = n
		}
	}

	res, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
