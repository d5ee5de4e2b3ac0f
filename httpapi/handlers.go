package httpapi

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ajazfarhad/chainofcustody/custody"
)

func (s *Server) requireCaller(w http.ResponseWriter, r *http.Request) (caller, bool) {
	c, ok := callerFrom(r.Context())
	if !ok {
		WriteError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "authentication required", nil)
	}
	return c, ok
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	c, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	role, err := s.svc.Permissions(c.user.Role)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, map[string]any{"user": c.user, "role": role})
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	c, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		CaseID         string    `json:"caseId"`
		Type           string    `json:"type"`
		Description    string    `json:"description"`
		CollectionDate time.Time `json:"collectionDate"`
		Location       string    `json:"location"`
		Status         string    `json:"status"`
	}
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	ev, err := s.svc.RegisterEvidence(r.Context(), c.actor, custody.RegisterInput{
		CaseID:      req.CaseID,
		Type:        custody.EvidenceType(req.Type),
		Description: req.Description,
		Location:    req.Location,
		Status:      req.Status,
		CollectedAt: req.CollectionDate,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusCreated, map[string]any{"evidence": ev})
}

func (s *Server) handleGetEvidence(w http.ResponseWriter, r *http.Request) {
	c, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	ev, err := s.svc.GetEvidence(r.Context(), c.actor, chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, map[string]any{"evidence": ev})
}

func (s *Server) handleInitiate(w http.ResponseWriter, r *http.Request) {
	c, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		ToUserID string `json:"toUserId"`
		Reason   string `json:"reason"`
	}
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	e, err := s.svc.InitiateTransfer(r.Context(), c.actor, custody.TransferInput{
		EvidenceID: chi.URLParam(r, "id"),
		ToUserID:   req.ToUserID,
		Reason:     req.Reason,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusCreated, map[string]any{
		"message": "custody transfer initiated; awaiting recipient approval",
		"transfer": map[string]any{
			"transferId": e.ID,
			"evidenceId": e.EvidenceID,
			"fromUserId": e.FromUserID,
			"toUserId":   e.ToUserID,
			"reason":     e.Reason,
			"status":     e.Status,
			"timestamp":  e.Timestamp,
			"locked":     true,
		},
	})
}

func (s *Server) handleApprove(w http.ResponseWriter, r *http.Request) {
	c, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Signature string `json:"signature"`
	}
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	e, err := s.svc.ApproveTransfer(r.Context(), c.actor, chi.URLParam(r, "id"), req.Signature)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, map[string]any{
		"message": "custody transfer approved",
		"transfer": map[string]any{
			"transferId":     e.ID,
			"evidenceId":     e.EvidenceID,
			"status":         e.Status,
			"signature":      e.Signature,
			"prevSignature":  e.PrevSignature,
			"newCustodianId": e.ToUserID,
			"resolvedAt":     e.ResolvedAt,
			"locked":         false,
		},
	})
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	c, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	if err := ReadJSON(r, &req); err != nil {
		WriteError(w, r, http.StatusBadRequest, "BAD_JSON", err.Error(), nil)
		return
	}

	e, err := s.svc.RejectTransfer(r.Context(), c.actor, chi.URLParam(r, "id"), req.Reason)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, map[string]any{
		"message": "custody transfer rejected",
		"transfer": map[string]any{
			"transferId": e.ID,
			"evidenceId": e.EvidenceID,
			"status":     e.Status,
			"reason":     e.Reason,
			"resolvedAt": e.ResolvedAt,
			"locked":     false,
		},
	})
}

func (s *Server) handlePending(w http.ResponseWriter, r *http.Request) {
	c, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	p, err := s.svc.PendingFor(r.Context(), c.actor.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, map[string]any{
		"incoming": p.Incoming,
		"outgoing": p.Outgoing,
		"total":    len(p.Incoming) + len(p.Outgoing),
	})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	c, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	h, err := s.svc.History(r.Context(), c.actor, chi.URLParam(r, "evidenceId"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeOK(w, r, http.StatusOK, map[string]any{
		"evidence":         h.Evidence,
		"chain_of_custody": h.Events,
		"total_events":     len(h.Events),
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	c, ok := s.requireCaller(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "evidenceId")
	report, err := s.svc.VerifyChainAs(r.Context(), c.actor, id)

	var verr *custody.VerifyError
	switch {
	case errors.As(err, &verr):
		writeOK(w, r, http.StatusOK, map[string]any{
			"verification": map[string]any{
				"evidenceId": id,
				"valid":      false,
				"failure": map[string]any{
					"eventId": verr.EventID,
					"index":   verr.Index,
					"reason":  verr.Reason,
				},
			},
		})
	case err != nil:
		s.writeServiceError(w, r, err)
	default:
		writeOK(w, r, http.StatusOK, map[string]any{
			"verification": map[string]any{
				"evidenceId": report.EvidenceID,
				"valid":      true,
				"events":     report.Events,
				"approved":   report.Approved,
				"head":       report.Head,
			},
		})
	}
}
