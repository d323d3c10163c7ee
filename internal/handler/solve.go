package handler

import (
	"encoding/base64"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/visiongate/visiongate/internal/ledger"
	"github.com/visiongate/visiongate/internal/model"
	"github.com/visiongate/visiongate/internal/server/middleware"
	"github.com/visiongate/visiongate/internal/store"
	"github.com/visiongate/visiongate/internal/vision"
)

// SolveHandler serves the billable solve endpoint: one image in, one
// answer out, one ledger entry per attempt.
type SolveHandler struct {
	vision vision.Client
	ledger *ledger.Ledger
	store  *store.Store
	logger *slog.Logger
}

// NewSolveHandler creates a SolveHandler.
func NewSolveHandler(client vision.Client, l *ledger.Ledger, st *store.Store, logger *slog.Logger) *SolveHandler {
	return &SolveHandler{
		vision: client,
		ledger: l,
		store:  st,
		logger: logger,
	}
}

// solveRequest is the expected payload for the Solve endpoint.
type solveRequest struct {
	ImageBase64 string `json:"image_base64"`
	MIMEType    string `json:"mime_type,omitempty"`
	Prompt      string `json:"prompt,omitempty"`
}

// solveResponse is the payload for a successful solve.
type solveResponse struct {
	Answer     string         `json:"answer"`
	Model      string         `json:"model,omitempty"`
	RequestID  string         `json:"request_id"`
	DurationMs int64          `json:"duration_ms"`
	Period     *periodSummary `json:"period,omitempty"`
}

// Solve reads an image through the upstream vision model.
// POST /api/v1/solve
//
// Every attempt that reaches the upstream call is metered, including
// upstream failures: the money is spent either way. Requests rejected
// before the upstream call (bad body, bad base64) are not billed.
func (h *SolveHandler) Solve(w http.ResponseWriter, r *http.Request) {
	caller := middleware.GetCaller(r.Context())
	if caller == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return
	}
	requestID := middleware.GetRequestID(r.Context())

	var req solveRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.ImageBase64 == "" {
		writeError(w, http.StatusBadRequest, "image_base64 is required")
		return
	}
	if _, err := base64.StdEncoding.DecodeString(req.ImageBase64); err != nil {
		writeError(w, http.StatusBadRequest, "image_base64 is not valid base64")
		return
	}

	start := time.Now()
	result, visionErr := h.vision.Solve(r.Context(), vision.Request{
		ImageBase64: req.ImageBase64,
		MIMEType:    req.MIMEType,
		Prompt:      req.Prompt,
	})
	duration := time.Since(start)

	entry := ledger.Entry{
		OwnerID:      caller.Owner.ID,
		TokenID:      &caller.Token.ID,
		Service:      "vision.solve",
		DurationMs:   duration.Milliseconds(),
		RequestBytes: int64(len(req.ImageBase64)),
		RequestID:    requestID,
	}
	if visionErr != nil {
		entry.Status = model.UsageError
		code := errorCode(visionErr)
		entry.ErrorCode = &code
	} else {
		entry.Status = model.UsageSuccess
		entry.ResponseBytes = int64(len(result.Answer))
		entry.Result = &result.Answer
	}

	record, ledgerErr := h.ledger.RecordUsage(r.Context(), entry)
	if ledgerErr != nil {
		// The attempt happened; losing the response over a metering error
		// helps nobody. Log loudly and keep going.
		h.logger.Error("usage metering failed",
			"owner_id", caller.Owner.ID, "request_id", requestID, "error", ledgerErr)
	}

	if visionErr != nil {
		h.logger.Warn("upstream solve failed",
			"owner_id", caller.Owner.ID, "request_id", requestID, "error", visionErr)
		writeError(w, http.StatusBadGateway, "Upstream vision model failed", map[string]interface{}{
			"request_id": requestID,
			"error_code": errorCode(visionErr),
		})
		return
	}

	resp := solveResponse{
		Answer:     result.Answer,
		Model:      result.Model,
		RequestID:  requestID,
		DurationMs: duration.Milliseconds(),
	}
	if record != nil && record.BillingPeriodID != nil {
		if period, err := h.store.GetPeriod(r.Context(), *record.BillingPeriodID); err == nil {
			s := summarizePeriod(period)
			resp.Period = &s
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func errorCode(err error) string {
	switch {
	case errors.Is(err, vision.ErrEmptyAnswer):
		return "empty_answer"
	case errors.Is(err, vision.ErrUpstream):
		return "upstream_error"
	default:
		return "internal_error"
	}
}
