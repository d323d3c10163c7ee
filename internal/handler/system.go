package handler

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/visiongate/visiongate/internal/auth"
	"github.com/visiongate/visiongate/internal/ledger"
	"github.com/visiongate/visiongate/internal/model"
	"github.com/visiongate/visiongate/internal/secret"
	"github.com/visiongate/visiongate/internal/service"
	"github.com/visiongate/visiongate/internal/store"
)

// SystemHandler manages owners, tokens, billing, and admin accounts
// through the JWT-protected management API.
type SystemHandler struct {
	store    *store.Store
	authSvc  *service.AuthService
	ledger   *ledger.Ledger
	resolver *auth.Resolver
}

// NewSystemHandler creates a new SystemHandler.
func NewSystemHandler(st *store.Store, authSvc *service.AuthService, l *ledger.Ledger, resolver *auth.Resolver) *SystemHandler {
	return &SystemHandler{
		store:    st,
		authSvc:  authSvc,
		ledger:   l,
		resolver: resolver,
	}
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

// loginRequest is the expected payload for the Login endpoint.
type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// loginResponse is the response payload for a successful login.
type loginResponse struct {
	Token     string `json:"session_token"`
	TokenType string `json:"token_type"`
	ExpiresIn int    `json:"expires_in"`
	Email     string `json:"email"`
}

// Login authenticates an admin user and returns a JWT session token.
// POST /api/v1/system/admin/session
func (h *SystemHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	ttl := 24 * time.Hour
	token, err := h.authSvc.Login(r.Context(), req.Email, req.Password, ttl)
	if err != nil {
		if errors.Is(err, service.ErrAdminDisabled) {
			writeError(w, http.StatusUnauthorized, "Account is disabled")
			return
		}
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	writeJSON(w, http.StatusOK, loginResponse{
		Token:     token,
		TokenType: "bearer",
		ExpiresIn: int(ttl.Seconds()),
		Email:     req.Email,
	})
}

// Logout invalidates the current session. Since JWTs are stateless, this is
// a no-op on the server side. Clients should discard their token.
// DELETE /api/v1/system/admin/session
func (h *SystemHandler) Logout(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Session invalidated",
	})
}

// ---------------------------------------------------------------------------
// Owner management
// ---------------------------------------------------------------------------

// ListOwners returns all owner accounts.
// GET /api/v1/system/owners
func (h *SystemHandler) ListOwners(w http.ResponseWriter, r *http.Request) {
	owners, err := h.store.ListOwners(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list owners: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: owners,
		Meta:     &model.ResponseMeta{Count: len(owners)},
	})
}

// CreateOwner registers a new owner account.
// POST /api/v1/system/owners
func (h *SystemHandler) CreateOwner(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email    string `json:"email"`
		Name     string `json:"name"`
		IsActive *bool  `json:"is_active,omitempty"`
		Verified bool   `json:"verified,omitempty"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if body.Email == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}

	if existing, err := h.store.GetOwnerByEmail(r.Context(), body.Email); err == nil && existing != nil {
		writeError(w, http.StatusConflict, "Owner with this email already exists")
		return
	}

	owner := &model.Owner{
		Email:    body.Email,
		Name:     body.Name,
		IsActive: true,
	}
	if body.IsActive != nil {
		owner.IsActive = *body.IsActive
	}
	if body.Verified {
		now := time.Now().UTC()
		owner.EmailVerifiedAt = &now
	}

	if err := h.store.CreateOwner(r.Context(), owner); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create owner: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, owner)
}

// GetOwner returns a single owner with billing context.
// GET /api/v1/system/owners/{ownerID}
func (h *SystemHandler) GetOwner(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerFromPath(w, r)
	if !ok {
		return
	}

	resp := map[string]interface{}{"owner": owner}
	if periods, err := h.store.ListPeriodsByOwner(r.Context(), owner.ID); err == nil {
		summaries := make([]periodSummary, 0, len(periods))
		for i := range periods {
			summaries = append(summaries, summarizePeriod(&periods[i]))
		}
		resp["periods"] = summaries
	}
	if tokens, err := h.store.ListTokensByOwner(r.Context(), owner.ID); err == nil {
		resp["tokens"] = tokens
	}
	writeJSON(w, http.StatusOK, resp)
}

// SetOwnerActive enables or disables an owner account. Disabling takes
// effect on new authentications within one cache TTL.
// PATCH /api/v1/system/owners/{ownerID}
func (h *SystemHandler) SetOwnerActive(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerFromPath(w, r)
	if !ok {
		return
	}

	var body struct {
		IsActive bool `json:"is_active"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.store.SetOwnerActive(r.Context(), owner.ID, body.IsActive); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to update owner: "+err.Error())
		return
	}
	owner.IsActive = body.IsActive
	writeJSON(w, http.StatusOK, owner)
}

// VerifyOwnerEmail marks an owner's email as verified. Idempotent: the
// first verification timestamp is kept.
// POST /api/v1/system/owners/{ownerID}/verify
func (h *SystemHandler) VerifyOwnerEmail(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerFromPath(w, r)
	if !ok {
		return
	}

	if err := h.store.MarkOwnerEmailVerified(r.Context(), owner.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to verify owner: "+err.Error())
		return
	}
	updated, err := h.store.GetOwner(r.Context(), owner.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload owner: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ---------------------------------------------------------------------------
// Token management
// ---------------------------------------------------------------------------

// issueTokenResponse includes the plaintext token (shown once only).
type issueTokenResponse struct {
	Token       string    `json:"token"` // Plaintext, shown ONCE.
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Fingerprint string    `json:"fingerprint"`
	OwnerID     int64     `json:"owner_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// IssueToken mints a new bearer token for an owner and returns the
// plaintext exactly once.
// POST /api/v1/system/owners/{ownerID}/tokens
func (h *SystemHandler) IssueToken(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerFromPath(w, r)
	if !ok {
		return
	}

	var body struct {
		Name string `json:"name"`
	}
	if err := readJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	raw, token, err := auth.Issue(r.Context(), h.store, owner.ID, body.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to issue token: "+err.Error())
		return
	}

	// Return the plaintext token. This is the ONLY time it will be visible.
	writeJSON(w, http.StatusCreated, issueTokenResponse{
		Token:       raw,
		ID:          token.ID,
		Name:        token.Name,
		Fingerprint: token.Fingerprint,
		OwnerID:     token.OwnerID,
		CreatedAt:   token.CreatedAt,
	})
}

// ListOwnerTokens returns all tokens for an owner, revoked included.
// GET /api/v1/system/owners/{ownerID}/tokens
func (h *SystemHandler) ListOwnerTokens(w http.ResponseWriter, r *http.Request) {
	owner, ok := h.ownerFromPath(w, r)
	if !ok {
		return
	}

	tokens, err := h.store.ListTokensByOwner(r.Context(), owner.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list tokens: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: tokens,
		Meta:     &model.ResponseMeta{Count: len(tokens)},
	})
}

// RevokeToken revokes a token by ID. Revocation is one-way; cached
// positives may keep authenticating for up to one cache TTL.
// DELETE /api/v1/system/tokens/{tokenID}
func (h *SystemHandler) RevokeToken(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "tokenID")

	if err := h.store.RevokeToken(r.Context(), id); err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			writeError(w, http.StatusNotFound, "Token not found: "+id)
		case errors.Is(err, store.ErrAlreadyRevoked):
			writeError(w, http.StatusConflict, "Token already revoked")
		default:
			writeError(w, http.StatusInternalServerError, "Failed to revoke token: "+err.Error())
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"message": "Token revoked",
	})
}

// ---------------------------------------------------------------------------
// Billing management
// ---------------------------------------------------------------------------

// ListPeriods returns billing periods, filterable by payment status.
// GET /api/v1/system/billing?status=
func (h *SystemHandler) ListPeriods(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")

	var (
		periods []model.BillingPeriod
		err     error
	)
	if status != "" {
		periods, err = h.store.ListPeriodsByStatus(r.Context(), model.PaymentStatus(status))
	} else {
		periods, err = h.store.ListPeriods(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list billing periods: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: periods,
		Meta:     &model.ResponseMeta{Count: len(periods)},
	})
}

// MarkPaid records payment for a closed period.
// POST /api/v1/system/billing/{periodID}/paid
func (h *SystemHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "periodID")

	var body struct {
		AmountCents int64   `json:"amount_cents,omitempty"`
		Reference   *string `json:"reference,omitempty"`
		Notes       *string `json:"notes,omitempty"`
	}
	// An empty body means "amount defaults to the accrued total".
	if err := readJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.ledger.MarkPaid(r.Context(), id, body.AmountCents, body.Reference, body.Notes); err != nil {
		h.writeTransitionError(w, id, err)
		return
	}
	h.writePeriod(w, r, id)
}

// MarkOverdue flags a closed pending period as overdue.
// POST /api/v1/system/billing/{periodID}/overdue
func (h *SystemHandler) MarkOverdue(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "periodID")
	if err := h.ledger.MarkOverdue(r.Context(), id); err != nil {
		h.writeTransitionError(w, id, err)
		return
	}
	h.writePeriod(w, r, id)
}

// MarkWaived forgives a closed period's balance.
// POST /api/v1/system/billing/{periodID}/waived
func (h *SystemHandler) MarkWaived(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "periodID")

	var body struct {
		Notes *string `json:"notes,omitempty"`
	}
	if err := readJSON(r, &body); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}

	if err := h.ledger.MarkWaived(r.Context(), id, body.Notes); err != nil {
		h.writeTransitionError(w, id, err)
		return
	}
	h.writePeriod(w, r, id)
}

// ---------------------------------------------------------------------------
// Admin accounts and diagnostics
// ---------------------------------------------------------------------------

// ListAdmins returns all admin accounts.
// GET /api/v1/system/admins
func (h *SystemHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	admins, err := h.store.ListAdmins(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list admins: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, model.ListResponse{
		Resource: admins,
		Meta:     &model.ResponseMeta{Count: len(admins)},
	})
}

// CreateAdmin creates a new admin account.
// POST /api/v1/system/admins
func (h *SystemHandler) CreateAdmin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email        string `json:"email"`
		Password     string `json:"password"`
		Name         string `json:"name"`
		IsSuperAdmin bool   `json:"is_super_admin"`
	}
	if err := readJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if body.Email == "" {
		writeError(w, http.StatusBadRequest, "Email is required")
		return
	}
	if len(body.Password) < 8 {
		writeError(w, http.StatusBadRequest, "Password must be at least 8 characters")
		return
	}

	if existing, err := h.store.GetAdminByEmail(r.Context(), body.Email); err == nil && existing != nil {
		writeError(w, http.StatusConflict, "Admin with this email already exists")
		return
	}

	hash, err := secret.Hash(body.Password, secret.DefaultParams())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to hash password: "+err.Error())
		return
	}

	admin := &model.Admin{
		Email:        body.Email,
		PasswordHash: hash,
		Name:         body.Name,
		IsActive:     true,
		IsSuperAdmin: body.IsSuperAdmin,
	}
	if err := h.store.CreateAdmin(r.Context(), admin); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create admin: "+err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, admin)
}

// CacheStats reports the validation cache's hit/miss counters.
// GET /api/v1/system/cache
func (h *SystemHandler) CacheStats(w http.ResponseWriter, r *http.Request) {
	hits, misses := h.resolver.CacheStats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"hits":   hits,
		"misses": misses,
	})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (h *SystemHandler) ownerFromPath(w http.ResponseWriter, r *http.Request) (*model.Owner, bool) {
	idStr := chi.URLParam(r, "ownerID")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid owner ID: "+idStr)
		return nil, false
	}

	owner, err := h.store.GetOwner(r.Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "Owner not found: "+idStr)
			return nil, false
		}
		writeError(w, http.StatusInternalServerError, "Failed to get owner: "+err.Error())
		return nil, false
	}
	return owner, true
}

func (h *SystemHandler) writeTransitionError(w http.ResponseWriter, id string, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "Billing period not found: "+id)
	case errors.Is(err, ledger.ErrIllegalTransition):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "Failed to update billing period: "+err.Error())
	}
}

func (h *SystemHandler) writePeriod(w http.ResponseWriter, r *http.Request, id string) {
	period, err := h.store.GetPeriod(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to reload billing period: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, period)
}
