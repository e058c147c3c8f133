package observability

import (
	"context"
	"encoding/json"
	"net/http"
)

const (
	healthStatusOK          = "ok"
	healthStatusUnavailable = "unavailable"
)

// ReadyCheck reports whether a subsystem can serve. Nil means ready.
type ReadyCheck func(ctx context.Context) error

// HealthHandler serves liveness at /healthz. It always answers 200.
func HealthHandler() http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, _ *http.Request) {
		writeHealth(rw, http.StatusOK, healthStatusOK, "")
	})
}

// ReadyHandler serves readiness at /readyz. The first failing check answers
// 503 with its error text; otherwise 200.
func ReadyHandler(checks ...ReadyCheck) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, hr *http.Request) {
		for _, check := range checks {
			err := check(hr.Context())
			if err != nil {
				writeHealth(rw, http.StatusServiceUnavailable, healthStatusUnavailable, err.Error())

				return
			}
		}

		writeHealth(rw, http.StatusOK, healthStatusOK, "")
	})
}

func writeHealth(rw http.ResponseWriter, code int, status, reason string) {
	body := map[string]string{"status": status}
	if reason != "" {
		body["reason"] = reason
	}

	rw.Header().Set("Content-Type", "application/json")
	rw.WriteHeader(code)

	// The status line is already out; a failed body write has no recovery.
	_ = json.NewEncoder(rw).Encode(body)
}
