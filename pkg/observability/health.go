package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"time"
)

// HealthHandler answers liveness and readiness probes. Readiness pings the
// database; liveness never touches it.
type HealthHandler struct {
	db *sql.DB
}

// NewHealthHandler creates a health handler over db.
func NewHealthHandler(db *sql.DB) *HealthHandler {
	return &HealthHandler{db: db}
}

// Live reports process liveness.
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	writeHealth(w, http.StatusOK, "ok", nil)
}

// Ready reports readiness: the database must answer a ping.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := h.db.PingContext(ctx); err != nil {
		writeHealth(w, http.StatusServiceUnavailable, "unavailable", err)
		return
	}
	writeHealth(w, http.StatusOK, "ok", nil)
}

// CollectDBStats copies connection pool stats into the gauges.
func (h *HealthHandler) CollectDBStats(m *Metrics) {
	stats := h.db.Stats()
	m.DBConnectionsActive.Set(float64(stats.InUse))
	m.DBConnectionsIdle.Set(float64(stats.Idle))
}

func writeHealth(w http.ResponseWriter, status int, state string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	body := map[string]string{"status": state}
	if err != nil {
		body["error"] = err.Error()
	}
	json.NewEncoder(w).Encode(body)
}
