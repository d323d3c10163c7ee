package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/visiongate/visiongate/internal/auth"
	"github.com/visiongate/visiongate/internal/authcache"
	"github.com/visiongate/visiongate/internal/ledger"
	"github.com/visiongate/visiongate/internal/model"
	"github.com/visiongate/visiongate/internal/secret"
	"github.com/visiongate/visiongate/internal/server/middleware"
	"github.com/visiongate/visiongate/internal/service"
	"github.com/visiongate/visiongate/internal/store"
	"github.com/visiongate/visiongate/internal/vision"
)

const (
	testJWTSecret = "test-secret-for-handler-tests"
	testPassword  = "supersecretpassword"
)

// fakeVision is a programmable stand-in for the upstream model.
type fakeVision struct {
	fn    func(ctx context.Context, req vision.Request) (*vision.Result, error)
	calls int
}

func (f *fakeVision) Solve(ctx context.Context, req vision.Request) (*vision.Result, error) {
	f.calls++
	if f.fn != nil {
		return f.fn(ctx, req)
	}
	return &vision.Result{Answer: "ANSWER", Model: "fake-vision"}, nil
}

// testEnv holds shared state for handler integration tests.
type testEnv struct {
	store    *store.Store
	authSvc  *service.AuthService
	ledger   *ledger.Ledger
	resolver *auth.Resolver
	vision   *fakeVision
	router   chi.Router
}

// newTestEnv creates a fresh environment over an in-memory store with the
// full router wired: bearer auth on the API routes, no admin middleware
// on the system routes so handlers are tested directly.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	st, err := store.Open("") // in-memory SQLite
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cache, err := authcache.New(authcache.DefaultCapacity, authcache.DefaultTTL)
	if err != nil {
		t.Fatalf("authcache.New: %v", err)
	}

	authSvc := service.NewAuthService(st, testJWTSecret)
	resolver := auth.NewResolver(st, cache, logger)
	l := ledger.New(st, logger, ledger.Options{})
	fake := &fakeVision{}

	solveH := NewSolveHandler(fake, l, st, logger)
	accountH := NewAccountHandler(st, l)
	sysH := NewSystemHandler(st, authSvc, l, resolver)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Route("/api/v1", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.BearerAuth(resolver))
			r.Post("/solve", solveH.Solve)
			r.Get("/me", accountH.Me)
			r.Get("/usage", accountH.Usage)
			r.Get("/usage/records", accountH.UsageRecords)
			r.Get("/tokens", accountH.ListTokens)
			r.Delete("/tokens/{tokenID}", accountH.RevokeOwnToken)
		})

		r.Route("/system", func(r chi.Router) {
			r.Post("/admin/session", sysH.Login)
			r.Delete("/admin/session", sysH.Logout)

			r.Get("/owners", sysH.ListOwners)
			r.Post("/owners", sysH.CreateOwner)
			r.Get("/owners/{ownerID}", sysH.GetOwner)
			r.Patch("/owners/{ownerID}", sysH.SetOwnerActive)
			r.Post("/owners/{ownerID}/verify", sysH.VerifyOwnerEmail)
			r.Get("/owners/{ownerID}/tokens", sysH.ListOwnerTokens)
			r.Post("/owners/{ownerID}/tokens", sysH.IssueToken)
			r.Delete("/tokens/{tokenID}", sysH.RevokeToken)

			r.Get("/billing", sysH.ListPeriods)
			r.Post("/billing/{periodID}/paid", sysH.MarkPaid)
			r.Post("/billing/{periodID}/overdue", sysH.MarkOverdue)
			r.Post("/billing/{periodID}/waived", sysH.MarkWaived)

			r.Get("/admins", sysH.ListAdmins)
			r.Post("/admins", sysH.CreateAdmin)
			r.Get("/cache", sysH.CacheStats)
		})
	})

	return &testEnv{
		store:    st,
		authSvc:  authSvc,
		ledger:   l,
		resolver: resolver,
		vision:   fake,
		router:   r,
	}
}

// seedAdmin creates a default admin account and returns it.
func (e *testEnv) seedAdmin(t *testing.T) *model.Admin {
	t.Helper()
	hash, err := secret.Hash(testPassword, secret.Params{Time: 1, Memory: 8 * 1024, Threads: 1, SaltLen: 16, KeyLen: 32})
	if err != nil {
		t.Fatalf("secret.Hash: %v", err)
	}
	admin := &model.Admin{
		Email:        "admin@example.com",
		PasswordHash: hash,
		Name:         "Test Admin",
		IsActive:     true,
		IsSuperAdmin: true,
	}
	if err := e.store.CreateAdmin(context.Background(), admin); err != nil {
		t.Fatalf("seedAdmin: %v", err)
	}
	return admin
}

// seedOwner creates an eligible owner.
func (e *testEnv) seedOwner(t *testing.T, email string) *model.Owner {
	t.Helper()
	now := time.Now().UTC()
	owner := &model.Owner{
		Email:           email,
		Name:            "Test Owner",
		IsActive:        true,
		EmailVerifiedAt: &now,
	}
	if err := e.store.CreateOwner(context.Background(), owner); err != nil {
		t.Fatalf("seedOwner: %v", err)
	}
	return owner
}

// issueToken mints a real token for an owner and returns the raw secret.
func (e *testEnv) issueToken(t *testing.T, ownerID int64) (string, *model.Token) {
	t.Helper()
	raw, token, err := auth.Issue(context.Background(), e.store, ownerID, "handler-test")
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	return raw, token
}

// do executes an HTTP request against the test router and returns the recorder.
func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, bearer ...string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if len(bearer) > 0 {
		req.Header.Set("Authorization", "Bearer "+bearer[0])
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func toJSON(t *testing.T, v interface{}) *bytes.Buffer {
	t.Helper()
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(v); err != nil {
		t.Fatalf("toJSON: %v", err)
	}
	return buf
}

func assertStatus(t *testing.T, rr *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rr.Code != want {
		t.Errorf("status = %d, want %d; body = %s", rr.Code, want, rr.Body.String())
	}
}

func decodeJSON(t *testing.T, rr *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rr.Body).Decode(v); err != nil {
		t.Fatalf("decodeJSON: %v; body = %s", err, rr.Body.String())
	}
}
