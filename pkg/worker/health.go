package worker

import (
	"context"
)

// PoolHealth is the worker health snapshot served on /health.
type PoolHealth struct {
	IsHealthy    bool           `json:"is_healthy"`
	DBReachable  bool           `json:"db_reachable"`
	DBError      string         `json:"db_error,omitempty"`
	PodID        string         `json:"pod_id"`
	EventBacklog map[string]int `json:"event_backlog"`
}

// Health reports DB reachability and backlog depth per event type.
func (p *Pool) Health(ctx context.Context) *PoolHealth {
	h := &PoolHealth{PodID: p.podID, DBReachable: true}

	backlog, err := p.store.CountEventBacklog(ctx)
	if err != nil {
		h.DBReachable = false
		h.DBError = err.Error()
	} else {
		h.EventBacklog = backlog
		p.metrics.SetEventBacklog(backlog)
	}

	h.IsHealthy = h.DBReachable
	return h
}
