package admission

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/casemark/gatekeeper/internal/hitlog"
)

// WriteDenial maps a denial to its HTTP shape: 400 for file validation
// failures, 429 for everything else, with limit state echoed as headers so
// clients can back off without parsing the body.
func WriteDenial(w http.ResponseWriter, d *Denial) {
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	if d.ResetsAt != nil {
		h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetsAt.Unix(), 10))
	}
	if d.RetryAfter > 0 {
		secs := int(d.RetryAfter / time.Second)
		if d.RetryAfter%time.Second != 0 {
			secs++ // round up so clients never retry early
		}
		h.Set("Retry-After", strconv.Itoa(secs))
	}

	status := http.StatusTooManyRequests
	if d.Kind == hitlog.KindFileSize || d.Kind == hitlog.KindFileType {
		status = http.StatusBadRequest
	}
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(struct {
		Denial *Denial `json:"denial"`
	}{d})
}
