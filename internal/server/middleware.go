package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/quotaflow/quotaflow/internal/limiter"
)

// errorBody is the JSON envelope written with 429 responses.
type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	Limit      int    `json:"limit"`
	Remaining  int    `json:"remaining"`
	ResetTime  string `json:"resetTime,omitempty"`
	RetryAfter int    `json:"retryAfter,omitempty"`
}

// setRateLimitHeaders writes the configured rate limit headers for res.
// Standard headers carry an RFC3339 reset, legacy headers epoch seconds,
// mirroring what clients of each generation expect.
func setRateLimitHeaders(h http.Header, cfg limiter.Config, res limiter.Result) {
	if cfg.StandardHeaders {
		h.Set("RateLimit-Limit", strconv.Itoa(res.Limit))
		h.Set("RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.ResetTime.IsZero() {
			h.Set("RateLimit-Reset", res.ResetTime.UTC().Format(time.RFC3339))
		}
	}
	if cfg.LegacyHeaders {
		h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
		if !res.ResetTime.IsZero() {
			h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetTime.Unix(), 10))
		}
	}
	if res.RetryAfter > 0 {
		h.Set("Retry-After", strconv.Itoa(int(res.RetryAfter.Seconds())))
	}
}

// writeLimitExceeded writes the 429 response for a denied check. The rate
// limit headers must already be on the response.
func writeLimitExceeded(w http.ResponseWriter, lim *limiter.Limiter, res limiter.Result) {
	msg := lim.Message()
	if msg == "" {
		msg = "Too many requests, please try again later."
	}

	body := errorBody{Error: errorDetail{
		Code:       "RATE_LIMIT_EXCEEDED",
		Message:    msg,
		Limit:      res.Limit,
		Remaining:  res.Remaining,
		RetryAfter: int(res.RetryAfter.Seconds()),
	}}
	if !res.ResetTime.IsZero() {
		body.Error.ResetTime = res.ResetTime.UTC().Format(time.RFC3339)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusTooManyRequests)
	json.NewEncoder(w).Encode(body)
}

// Middleware guards next with lim: every request is counted, decorated with
// the configured headers, and answered with 429 once the window is spent.
func Middleware(lim *limiter.Limiter) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := lim.Check(r.Context(), r)
			setRateLimitHeaders(w.Header(), lim.Config(), res)

			if !res.Allowed {
				writeLimitExceeded(w, lim, res)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
