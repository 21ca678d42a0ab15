package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/medtwin-core/internal/audit"
	"github.com/nerrad567/medtwin-core/internal/replica"
	"github.com/nerrad567/medtwin-core/internal/twin"
)

// CreateTwinRequest is the body of POST /twins.
type CreateTwinRequest struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// LinkReplicaRequest is the body of POST /twins/{id}/replicas.
type LinkReplicaRequest struct {
	ReplicaType string `json:"replicaType"`
	ReplicaID   string `json:"replicaId"`
}

// authorizedTwin loads the twin named in the URL if the caller owns it.
func (s *Server) authorizedTwin(w http.ResponseWriter, r *http.Request) (*twin.Twin, bool) {
	t, err := s.twins.Authorize(r.Context(), chi.URLParam(r, "id"), principal(r).UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return nil, false
	}
	return t, true
}

func (s *Server) handleCreateTwin(w http.ResponseWriter, r *http.Request) {
	var req CreateTwinRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	res, err := s.twins.CreateTwin(r.Context(), principal(r).UserID, req.Name, req.Description)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionCreate, audit.EntityTwin, res.Twin.ID, map[string]any{"name": res.Twin.Name})
	writeJSON(w, http.StatusCreated, res)
}

func (s *Server) handleListTwins(w http.ResponseWriter, r *http.Request) {
	twins, err := s.twins.ListTwinsForOwner(r.Context(), principal(r).UserID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"twins": twins, "count": len(twins)})
}

func (s *Server) handleGetTwin(w http.ResponseWriter, r *http.Request) {
	t, ok := s.authorizedTwin(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTwin(w http.ResponseWriter, r *http.Request) {
	t, ok := s.authorizedTwin(w, r)
	if !ok {
		return
	}
	if err := s.twins.DeleteTwin(r.Context(), t.ID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionDelete, audit.EntityTwin, t.ID, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleLinkReplica(w http.ResponseWriter, r *http.Request) {
	t, ok := s.authorizedTwin(w, r)
	if !ok {
		return
	}
	var req LinkReplicaRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "invalid JSON body")
		return
	}
	if req.ReplicaType == "" {
		req.ReplicaType = replica.Type
	}

	movedFrom, err := s.twins.LinkReplica(r.Context(), t.ID, req.ReplicaType, req.ReplicaID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionLink, audit.EntityTwin, t.ID, map[string]any{"replica_id": req.ReplicaID, "moved_from": movedFrom})
	writeJSON(w, http.StatusOK, map[string]any{
		"twinId":    t.ID,
		"replicaId": req.ReplicaID,
		"movedFrom": movedFrom,
	})
}

func (s *Server) handleUnlinkReplica(w http.ResponseWriter, r *http.Request) {
	t, ok := s.authorizedTwin(w, r)
	if !ok {
		return
	}
	replicaID := chi.URLParam(r, "replicaID")
	if err := s.twins.UnlinkReplica(r.Context(), t.ID, replica.Type, replicaID); err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionUnlink, audit.EntityTwin, t.ID, map[string]any{"replica_id": replicaID})
	w.WriteHeader(http.StatusNoContent)
}

// handleCheckTwin returns the irregularity report without notifying.
func (s *Server) handleCheckTwin(w http.ResponseWriter, r *http.Request) {
	t, ok := s.authorizedTwin(w, r)
	if !ok {
		return
	}
	rt, err := s.twins.Runtime(r.Context(), t.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	report, err := rt.CheckIrregularities(r.Context(), s.now())
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleLoginTwin(w http.ResponseWriter, r *http.Request) {
	t, ok := s.authorizedTwin(w, r)
	if !ok {
		return
	}
	op := principal(r).Operator()
	added, err := s.twins.AddOperator(r.Context(), t.ID, op)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionLogin, audit.EntityTwin, t.ID, map[string]any{"operator_id": op})
	writeJSON(w, http.StatusOK, map[string]any{"twinId": t.ID, "operatorId": op, "added": added})
}

func (s *Server) handleLogoutTwin(w http.ResponseWriter, r *http.Request) {
	t, ok := s.authorizedTwin(w, r)
	if !ok {
		return
	}
	op := principal(r).Operator()
	removed, err := s.twins.RemoveOperator(r.Context(), t.ID, op)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	s.record(r, audit.ActionLogout, audit.EntityTwin, t.ID, map[string]any{"operator_id": op})
	writeJSON(w, http.StatusOK, map[string]any{"twinId": t.ID, "operatorId": op, "removed": removed})
}

func (s *Server) handleListServices(w http.ResponseWriter, r *http.Request) {
	t, ok := s.authorizedTwin(w, r)
	if !ok {
		return
	}
	rt, err := s.twins.Runtime(r.Context(), t.ID)
	if err != nil {
		s.writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"twinId": t.ID, "services": rt.ListServices()})
}
