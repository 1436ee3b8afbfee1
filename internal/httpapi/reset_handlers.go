package httpapi

import (
	"net/http"

	"scolara.org/internal/audit"
	"scolara.org/internal/auth"
)

// handleReset triggers the fresh-month flag reset across every school. The
// scheduler calls this on the 1st; it is also the manual re-run escape hatch,
// so only platform super-admins may reach it.
func (a *API) handleReset(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	uid, ok := auth.UserIDFromContext(r.Context())
	if !ok || uid == "" {
		writeError(w, r, http.StatusUnauthorized, "authentication required")
		return
	}
	isSuper, err := a.users.IsSuperAdmin(r.Context(), uid)
	if err != nil || !isSuper {
		writeError(w, r, http.StatusForbidden, "super admin required")
		return
	}

	report, err := a.ledger.ResetMensuel(r.Context())
	if err != nil {
		writeAppError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "paiements.reset.triggered", map[string]any{
		"ecoles":   report.Ecoles,
		"eleves":   report.Eleves,
		"failures": report.Failures,
	})
	writeJSON(w, http.StatusOK, report)
}
