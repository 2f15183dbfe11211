package httpapi

import (
	"net/http"
	"strings"

	"github.com/webpods-org/webpods/internal/cache"
)

// handleHealth implements the liveness probe listed in SPEC_FULL.md's
// SUPPLEMENTED FEATURES: a DB round-trip, not just a process-alive check,
// matching the teacher's own health handler pattern of touching the
// database rather than trusting the process is enough.
func (h *handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := h.cfg.DB.PingContext(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTestUtils implements the /test-utils/* surface (SPEC_FULL.md
// SUPPLEMENTED FEATURES), gated by Config.TestUtilsEnabled: cache-stats
// for inspecting pool hit/miss/eviction counters between test assertions,
// and reset for clearing all four pools between scenarios.
func (h *handler) handleTestUtils(w http.ResponseWriter, r *http.Request, sub string) {
	sub = strings.Trim(sub, "/")
	switch {
	case sub == "cache-stats" && r.Method == http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]poolStats{
			"pods":           statsFor(h.cfg.Caches.Pods),
			"streams":        statsFor(h.cfg.Caches.Streams),
			"single_records": statsFor(h.cfg.Caches.SingleRecords),
			"record_lists":   statsFor(h.cfg.Caches.RecordLists),
		})
	case sub == "reset" && r.Method == http.MethodPost:
		h.cfg.Caches.Reset()
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

type poolStats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	Evictions   int64 `json:"evictions"`
	CurrentSize int   `json:"current_size"`
	EntryCount  int   `json:"entry_count"`
}

func statsFor(p *cache.Pool) poolStats {
	s := p.Stats()
	return poolStats{Hits: s.Hits, Misses: s.Misses, Evictions: s.Evictions, CurrentSize: p.Size(), EntryCount: p.Len()}
}
