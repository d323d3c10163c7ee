package handler

import (
	"context"
	"net/http"
	"testing"

	"github.com/visiongate/visiongate/internal/model"
)

func TestMe(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedOwner(t, "me@example.com")
	raw, token := env.issueToken(t, owner.ID)

	rr := env.do(t, "GET", "/api/v1/me", nil, raw)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Owner struct {
			ID    int64  `json:"id"`
			Email string `json:"email"`
		} `json:"owner"`
		Token struct {
			ID          string `json:"id"`
			Fingerprint string `json:"fingerprint"`
		} `json:"token"`
		CurrentPeriod *periodSummary `json:"current_period"`
		CostCents     int64          `json:"cost_per_request_cents"`
	}
	decodeJSON(t, rr, &resp)

	if resp.Owner.ID != owner.ID || resp.Owner.Email != owner.Email {
		t.Errorf("owner = %+v", resp.Owner)
	}
	if resp.Token.ID != token.ID {
		t.Errorf("token id = %q, want %q", resp.Token.ID, token.ID)
	}
	if resp.CurrentPeriod == nil || !resp.CurrentPeriod.IsCurrent {
		t.Error("expected a current period in the response")
	}
	if resp.CostCents <= 0 {
		t.Errorf("cost_per_request_cents = %d", resp.CostCents)
	}
}

func TestUsageEndpoints(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedOwner(t, "usage@example.com")
	raw, _ := env.issueToken(t, owner.ID)

	// Generate three solves worth of history.
	for i := 0; i < 3; i++ {
		rr := env.do(t, "POST", "/api/v1/solve",
			toJSON(t, map[string]string{"image_base64": testImage}), raw)
		assertStatus(t, rr, http.StatusOK)
	}

	rr := env.do(t, "GET", "/api/v1/usage", nil, raw)
	assertStatus(t, rr, http.StatusOK)
	var periods struct {
		Resource []periodSummary `json:"resource"`
	}
	decodeJSON(t, rr, &periods)
	if len(periods.Resource) != 1 {
		t.Fatalf("periods = %d, want 1", len(periods.Resource))
	}
	if periods.Resource[0].TotalRequests != 3 {
		t.Errorf("total_requests = %d, want 3", periods.Resource[0].TotalRequests)
	}

	rr = env.do(t, "GET", "/api/v1/usage/records?limit=2", nil, raw)
	assertStatus(t, rr, http.StatusOK)
	var records struct {
		Resource []model.UsageRecord `json:"resource"`
		Meta     *model.ResponseMeta `json:"meta"`
	}
	decodeJSON(t, rr, &records)
	if len(records.Resource) != 2 {
		t.Errorf("limited records = %d, want 2", len(records.Resource))
	}
	if records.Meta == nil || records.Meta.Limit != 2 {
		t.Errorf("meta = %+v", records.Meta)
	}
}

func TestRevokeOwnToken(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedOwner(t, "revoker@example.com")
	other := env.seedOwner(t, "other@example.com")
	raw, _ := env.issueToken(t, owner.ID)
	_, victim := env.issueToken(t, owner.ID)
	_, foreign := env.issueToken(t, other.ID)

	// Cannot revoke another owner's token; it looks absent.
	rr := env.do(t, "DELETE", "/api/v1/tokens/"+foreign.ID, nil, raw)
	assertStatus(t, rr, http.StatusNotFound)

	rr = env.do(t, "DELETE", "/api/v1/tokens/"+victim.ID, nil, raw)
	assertStatus(t, rr, http.StatusOK)

	got, err := env.store.GetToken(context.Background(), victim.ID)
	if err != nil {
		t.Fatalf("GetToken: %v", err)
	}
	if !got.Revoked() {
		t.Error("token not revoked")
	}

	// Second revoke conflicts.
	rr = env.do(t, "DELETE", "/api/v1/tokens/"+victim.ID, nil, raw)
	assertStatus(t, rr, http.StatusConflict)
}

func TestListOwnTokens(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedOwner(t, "lister@example.com")
	raw, _ := env.issueToken(t, owner.ID)
	env.issueToken(t, owner.ID)

	rr := env.do(t, "GET", "/api/v1/tokens", nil, raw)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Resource []model.Token `json:"resource"`
	}
	decodeJSON(t, rr, &resp)
	if len(resp.Resource) != 2 {
		t.Errorf("tokens = %d, want 2", len(resp.Resource))
	}
	for _, tok := range resp.Resource {
		if tok.SecretHash != "" {
			t.Error("secret hash leaked in token listing")
		}
	}
}
