package handler

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"

	"github.com/visiongate/visiongate/internal/ledger"
	"github.com/visiongate/visiongate/internal/model"
	"github.com/visiongate/visiongate/internal/vision"
)

var testImage = base64.StdEncoding.EncodeToString([]byte("not really a png"))

func TestSolve_Success(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedOwner(t, "solver@example.com")
	raw, _ := env.issueToken(t, owner.ID)

	rr := env.do(t, "POST", "/api/v1/solve",
		toJSON(t, map[string]string{"image_base64": testImage}), raw)
	assertStatus(t, rr, http.StatusOK)

	var resp struct {
		Answer    string         `json:"answer"`
		RequestID string         `json:"request_id"`
		Period    *periodSummary `json:"period"`
	}
	decodeJSON(t, rr, &resp)

	if resp.Answer != "ANSWER" {
		t.Errorf("answer = %q, want %q", resp.Answer, "ANSWER")
	}
	if resp.RequestID == "" {
		t.Error("expected request_id in response")
	}
	if resp.Period == nil {
		t.Fatal("expected period summary in response")
	}
	if resp.Period.TotalRequests != 1 {
		t.Errorf("period total_requests = %d, want 1", resp.Period.TotalRequests)
	}
	if resp.Period.TotalCostCents != ledger.DefaultCostPerRequestCents {
		t.Errorf("period total_cost_cents = %d, want %d",
			resp.Period.TotalCostCents, ledger.DefaultCostPerRequestCents)
	}

	// One audit row, linked to this request.
	record, err := env.store.GetUsageRecordByRequestID(context.Background(), resp.RequestID)
	if err != nil {
		t.Fatalf("GetUsageRecordByRequestID: %v", err)
	}
	if record.Status != model.UsageSuccess {
		t.Errorf("record status = %q, want success", record.Status)
	}
	if record.Result == nil || *record.Result != "ANSWER" {
		t.Error("record missing the model's answer")
	}
}

func TestSolve_UpstreamFailureStillBilled(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedOwner(t, "solver@example.com")
	raw, _ := env.issueToken(t, owner.ID)

	env.vision.fn = func(ctx context.Context, req vision.Request) (*vision.Result, error) {
		return nil, vision.ErrUpstream
	}

	rr := env.do(t, "POST", "/api/v1/solve",
		toJSON(t, map[string]string{"image_base64": testImage}), raw)
	assertStatus(t, rr, http.StatusBadGateway)

	// The attempt reached the upstream: it costs money either way.
	period, err := env.store.GetCurrentPeriod(context.Background(), owner.ID)
	if err != nil {
		t.Fatalf("GetCurrentPeriod: %v", err)
	}
	if period.TotalRequests != 1 {
		t.Errorf("failed attempt not billed: total_requests = %d", period.TotalRequests)
	}

	records, err := env.store.ListUsageRecordsByOwner(context.Background(), owner.ID, 10, 0)
	if err != nil {
		t.Fatalf("ListUsageRecordsByOwner: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	if records[0].Status != model.UsageError || records[0].ErrorCode == nil {
		t.Error("error outcome not recorded on the audit row")
	}
}

func TestSolve_BadRequestNotBilled(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedOwner(t, "solver@example.com")
	raw, _ := env.issueToken(t, owner.ID)

	cases := []struct {
		name string
		body map[string]string
	}{
		{"missing image", map[string]string{}},
		{"invalid base64", map[string]string{"image_base64": "!!not base64!!"}},
	}
	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, "POST", "/api/v1/solve", toJSON(t, tt.body), raw)
			assertStatus(t, rr, http.StatusBadRequest)
		})
	}

	if env.vision.calls != 0 {
		t.Errorf("upstream called %d times for rejected requests", env.vision.calls)
	}
	if _, err := env.store.GetCurrentPeriod(context.Background(), owner.ID); err == nil {
		t.Error("rejected requests created a billing period")
	}
}

func TestSolve_Unauthenticated(t *testing.T) {
	env := newTestEnv(t)

	rr := env.do(t, "POST", "/api/v1/solve",
		toJSON(t, map[string]string{"image_base64": testImage}))
	assertStatus(t, rr, http.StatusUnauthorized)

	if env.vision.calls != 0 {
		t.Error("upstream called without authentication")
	}
}

func TestSolve_RevokedTokenRejected(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedOwner(t, "solver@example.com")
	raw, token := env.issueToken(t, owner.ID)

	if err := env.store.RevokeToken(context.Background(), token.ID); err != nil {
		t.Fatalf("RevokeToken: %v", err)
	}

	rr := env.do(t, "POST", "/api/v1/solve",
		toJSON(t, map[string]string{"image_base64": testImage}), raw)
	assertStatus(t, rr, http.StatusUnauthorized)
}

func TestSolve_EmptyAnswerBilledAsError(t *testing.T) {
	env := newTestEnv(t)
	owner := env.seedOwner(t, "solver@example.com")
	raw, _ := env.issueToken(t, owner.ID)

	env.vision.fn = func(ctx context.Context, req vision.Request) (*vision.Result, error) {
		return nil, vision.ErrEmptyAnswer
	}

	rr := env.do(t, "POST", "/api/v1/solve",
		toJSON(t, map[string]string{"image_base64": testImage}), raw)
	assertStatus(t, rr, http.StatusBadGateway)

	records, err := env.store.ListUsageRecordsByOwner(context.Background(), owner.ID, 10, 0)
	if err != nil || len(records) != 1 {
		t.Fatalf("records: %v, err %v", records, err)
	}
	if records[0].ErrorCode == nil || *records[0].ErrorCode != "empty_answer" {
		t.Errorf("error_code = %v, want empty_answer", records[0].ErrorCode)
	}
}

func TestErrorCode(t *testing.T) {
	if got := errorCode(vision.ErrUpstream); got != "upstream_error" {
		t.Errorf("ErrUpstream -> %q", got)
	}
	if got := errorCode(vision.ErrEmptyAnswer); got != "empty_answer" {
		t.Errorf("ErrEmptyAnswer -> %q", got)
	}
	if got := errorCode(errors.New("boom")); got != "internal_error" {
		t.Errorf("unknown -> %q", got)
	}
}
