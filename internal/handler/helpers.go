package handler

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/visiongate/visiongate/internal/model"
)

// writeJSON serializes v as JSON and writes it to the response with the given
// HTTP status code. The Content-Type header is set to application/json.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeError writes a structured error response using the standard error
// envelope. The optional ctx map provides additional context fields.
func writeError(w http.ResponseWriter, code int, message string, ctx ...map[string]interface{}) {
	var ctxMap map[string]interface{}
	if len(ctx) > 0 {
		ctxMap = ctx[0]
	}
	writeJSON(w, code, model.ErrorResponse{
		Error: model.ErrorDetail{
			Code:    code,
			Message: message,
			Context: ctxMap,
		},
	})
}

// readJSON decodes the request body as JSON into v. The body is closed after
// decoding regardless of success or failure.
func readJSON(r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryInt extracts an integer query parameter, returning defaultVal if the
// parameter is missing or cannot be parsed.
func queryInt(r *http.Request, key string, defaultVal int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return n
}

// clampInt constrains val to be within [min, max].
func clampInt(val, min, max int) int {
	if val < min {
		return min
	}
	if val > max {
		return max
	}
	return val
}

// periodSummary is the owner-visible view of a billing period.
type periodSummary struct {
	ID             string `json:"id"`
	Period         string `json:"period"` // YYYY-MM
	TotalRequests  int64  `json:"total_requests"`
	TotalCostCents int64  `json:"total_cost_cents"`
	IsCurrent      bool   `json:"is_current"`
	PaymentStatus  string `json:"payment_status"`
}

func summarizePeriod(p *model.BillingPeriod) periodSummary {
	return periodSummary{
		ID:             p.ID,
		Period:         p.PeriodLabel(),
		TotalRequests:  p.TotalRequests,
		TotalCostCents: p.TotalCostCents,
		IsCurrent:      p.IsCurrent,
		PaymentStatus:  string(p.PaymentStatus),
	}
}
