package handler

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/visiongate/visiongate/internal/ledger"
	"github.com/visiongate/visiongate/internal/model"
	"github.com/visiongate/visiongate/internal/server/middleware"
	"github.com/visiongate/visiongate/internal/store"
)

// AccountHandler serves the token-authenticated, owner-scoped reporting
// endpoints.
type AccountHandler struct {
	store  *store.Store
	ledger *ledger.Ledger
}

// NewAccountHandler creates an AccountHandler.
func NewAccountHandler(st *store.Store, l *ledger.Ledger) *AccountHandler {
	return &AccountHandler{store: st, ledger: l}
}

// Me returns the caller's own account and the current billing period.
// GET /api/v1/me
func (h *AccountHandler) Me(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	if caller == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	resp := map[string]interface{}{
		"owner": map[string]interface{}{
			"id":    caller.Owner.ID,
			"email": caller.Owner.Email,
			"name":  caller.Owner.Name,
		},
		"token": map[string]interface{}{
			"id":           caller.Token.ID,
			"name":         caller.Token.Name,
			"fingerprint":  caller.Token.Fingerprint,
			"created_at":   caller.Token.CreatedAt,
			"last_used_at": caller.Token.LastUsedAt,
		},
		"cost_per_request_cents": h.ledger.CostPerRequestCents(),
	}

	period, err := h.ledger.GetOrCreateCurrentPeriod(r.Context(), caller.Owner.ID)
	if err == nil {
		resp["current_period"] = summarizePeriod(period)
	}

	writeJSON(w, http.StatusOK, resp)
}

// Usage returns the caller's billing periods, newest first.
// GET /api/v1/usage
func (h *AccountHandler) Usage(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	if caller == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	periods, err := h.store.ListPeriodsByOwner(r.Context(), caller.Owner.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list billing periods: "+err.Error())
		return
	}

	resources := make([]periodSummary, 0, len(periods))
	for i := range periods {
		resources = append(resources, summarizePeriod(&periods[i]))
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: resources,
		Meta:     &model.ResponseMeta{Count: len(resources)},
	})
}

// UsageRecords returns the caller's usage audit trail, newest first.
// GET /api/v1/usage/records?limit=&offset=
func (h *AccountHandler) UsageRecords(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	if caller == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	limit := clampInt(queryInt(r, "limit", 50), 1, 500)
	offset := clampInt(queryInt(r, "offset", 0), 0, 1<<30)

	records, err := h.store.ListUsageRecordsByOwner(r.Context(), caller.Owner.ID, limit, offset)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list usage records: "+err.Error())
		return
	}

	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: records,
		Meta: &model.ResponseMeta{
			Count:  len(records),
			Limit:  limit,
			Offset: offset,
		},
	})
}

// ListTokens returns the caller's own tokens, revoked ones included.
// GET /api/v1/tokens
func (h *AccountHandler) ListTokens(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	if caller == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}

	tokens, err := h.store.ListTokensByOwner(r.Context(), caller.Owner.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tokens: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: tokens,
		Meta:     &model.ResponseMeta{Count: len(tokens)},
	})
}

// RevokeOwnToken revokes one of the caller's tokens.
// DELETE /api/v1/tokens/{tokenID}
func (h *AccountHandler) RevokeOwnToken(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	if caller == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	id := chi.URLParam(r, "tokenID")

	token, err := h.store.GetToken(r.Context(), id)
	if err != nil || token.OwnerID != caller.Owner.ID {
		// Other owners' tokens look like they don't exist.
		writeError(w, http.StatusNotFound, "Token not found: "+id)
		return
	}

	if err := h.store.RevokeToken(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrAlreadyRevoked) {
			writeError(w, http.StatusConflict, "Token already revoked")
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to revoke token: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Token revoked",
	})
}
