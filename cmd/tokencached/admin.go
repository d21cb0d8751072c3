package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonwraymond/tokencache/auth"
	"github.com/jonwraymond/tokencache/health"
	"github.com/jonwraymond/tokencache/memo"
	"github.com/jonwraymond/tokencache/observe"
	"github.com/jonwraymond/tokencache/token"
)

// adminAPI serves segment tokens and sweeps over HTTP.
type adminAPI struct {
	registry *token.Registry
	sweeper  *memo.Sweeper
	logger   observe.Logger
	now      func() time.Time
}

type segmentResponse struct {
	Segment string    `json:"segment"`
	Token   time.Time `json:"token"`
}

type sweepResponse struct {
	Started    time.Time `json:"started"`
	DurationMS int64     `json:"duration_ms"`
	Referenced int       `json:"referenced"`
	Scanned    int       `json:"scanned"`
	Suspected  int       `json:"suspected"`
	Deleted    int       `json:"deleted"`
	Orphans    int       `json:"orphans"`
}

func (a *adminAPI) routes(guard *auth.Guard, checks *health.Aggregator, metrics prometheus.Gatherer) *http.ServeMux {
	mux := http.NewServeMux()
	health.Register(mux, checks)
	mux.Handle("GET /metrics", promhttp.HandlerFor(metrics, promhttp.HandlerOpts{}))
	mux.Handle("GET /v1/segments", guard.Require(auth.ActionReadSegments, http.HandlerFunc(a.listSegments)))
	mux.Handle("POST /v1/segments/{segment}", guard.Require(auth.ActionWriteSegments, http.HandlerFunc(a.updateSegment)))
	mux.Handle("POST /v1/sweep", guard.Require(auth.ActionSweep, http.HandlerFunc(a.sweep)))
	return mux
}

func (a *adminAPI) listSegments(w http.ResponseWriter, r *http.Request) {
	tokens, err := a.registry.Snapshot(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	out := make([]segmentResponse, 0, len(tokens))
	for seg, t := range tokens {
		out = append(out, segmentResponse{Segment: string(seg), Token: t})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Segment < out[j].Segment })
	writeJSON(w, http.StatusOK, map[string]any{"segments": out})
}

// updateSegment sets a segment's token to ?at=<RFC3339>, or to now.
func (a *adminAPI) updateSegment(w http.ResponseWriter, r *http.Request) {
	seg := token.Segment(r.PathValue("segment"))
	at := a.now()
	if v := r.URL.Query().Get("at"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		at = t
	}
	if err := a.registry.Update(r.Context(), seg, at); err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	a.logger.Info(r.Context(), "segment updated",
		observe.Field{Key: "segment", Value: string(seg)},
		observe.Field{Key: "latest", Value: at},
		observe.Field{Key: "principal", Value: auth.PrincipalFromContext(r.Context())})
	writeJSON(w, http.StatusOK, segmentResponse{Segment: string(seg), Token: at})
}

func (a *adminAPI) sweep(w http.ResponseWriter, r *http.Request) {
	st, err := a.sweeper.Sweep(r.Context())
	if err != nil {
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	writeJSON(w, http.StatusOK, toSweepResponse(st))
}

func (a *adminAPI) sweepEvery(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		st, err := a.sweeper.Sweep(ctx)
		if err != nil {
			if ctx.Err() == nil {
				a.logger.Warn(ctx, "sweep failed", observe.Field{Key: "error", Value: err.Error()})
			}
			continue
		}
		a.logger.Debug(ctx, "sweep finished",
			observe.Field{Key: "deleted", Value: st.Deleted},
			observe.Field{Key: "suspected", Value: st.Suspected},
			observe.Field{Key: "duration", Value: st.Duration})
	}
}

func toSweepResponse(st memo.SweepStats) sweepResponse {
	return sweepResponse{
		Started:    st.Started,
		DurationMS: st.Duration.Milliseconds(),
		Referenced: st.Referenced,
		Scanned:    st.Scanned,
		Suspected:  st.Suspected,
		Deleted:    st.Deleted,
		Orphans:    st.Orphans,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
