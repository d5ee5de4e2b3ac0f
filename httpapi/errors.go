package httpapi

import (
	"errors"
	"net/http"

	"github.com/ajazfarhad/chainofcustody/custody"
	"github.com/ajazfarhad/chainofcustody/rbac"
)

// writeServiceError maps a service error onto a status code and error code.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		denied   *rbac.PermissionDeniedError
		unknown  *rbac.UnknownRoleError
		invalid  *custody.ValidationError
		resolved *custody.AlreadyResolvedError
		locked   *custody.LockedError
		dup      *custody.DuplicateError
	)

	switch {
	case errors.As(err, &denied):
		WriteError(w, r, http.StatusForbidden, "PERMISSION_DENIED", err.Error(), map[string]any{
			"role":         denied.Role,
			"display_name": denied.DisplayName,
			"required":     denied.Required,
			"missing":      denied.Missing,
			"granted":      denied.Granted,
		})
	case errors.As(err, &unknown):
		WriteError(w, r, http.StatusForbidden, "UNKNOWN_ROLE", err.Error(), map[string]any{"role": unknown.Role})
	case errors.As(err, &invalid):
		var details any
		if len(invalid.Allowed) > 0 {
			details = map[string]any{"allowed": invalid.Allowed}
		}
		WriteError(w, r, http.StatusBadRequest, "VALIDATION_ERROR", invalid.Message, details)
	case errors.As(err, &resolved):
		WriteError(w, r, http.StatusBadRequest, "ALREADY_RESOLVED", err.Error(), map[string]any{"status": resolved.Status})
	case errors.As(err, &locked):
		WriteError(w, r, http.StatusConflict, "EVIDENCE_LOCKED", err.Error(), map[string]any{"evidenceId": locked.EvidenceID})
	case errors.As(err, &dup):
		WriteError(w, r, http.StatusConflict, "DUPLICATE", err.Error(), map[string]any{"field": dup.Field})
	case errors.Is(err, custody.ErrNotFound):
		WriteError(w, r, http.StatusNotFound, "NOT_FOUND", err.Error(), nil)
	case errors.Is(err, custody.ErrForbidden):
		WriteError(w, r, http.StatusForbidden, "FORBIDDEN", err.Error(), nil)
	case errors.Is(err, custody.ErrConflict):
		WriteError(w, r, http.StatusConflict, "CONFLICT", err.Error(), nil)
	default:
		s.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"request_id", RequestID(r.Context()),
			"error", err,
		)
		WriteError(w, r, http.StatusInternalServerError, "INTERNAL", "internal error", nil)
	}
}
