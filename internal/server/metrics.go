package server

import (
	"encoding/json"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"emberfall/internal/game"
)

// Metrics with bounded cardinality: no per-player or per-entity labels.
var (
	tickDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Time spent in one simulation tick",
		Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.016, 0.033, 0.1},
	})

	playerCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "world_player_count",
		Help: "Current number of player entities",
	})

	monsterCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "world_monster_count",
		Help: "Current number of monster entities",
	})

	projectileCount = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "world_projectile_count",
		Help: "Current number of projectile entities",
	})

	wsConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "websocket_connections_active",
		Help: "Currently active WebSocket connections",
	})

	wsMessagesSent = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_sent_total",
		Help: "Total WebSocket messages sent",
	})

	wsMessagesReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_received_total",
		Help: "Total WebSocket messages received",
	})

	wsMessagesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "websocket_messages_dropped_total",
		Help: "Outbound messages dropped on full send queues",
	})

	connectionRejected = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "connection_rejected_total",
		Help: "Connections rejected before a player was created",
	}, []string{"reason"}) // bounded: rate_limit, origin, version, capacity, handshake

	violationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "anticheat_violations_total",
		Help: "Anti-cheat violations counted",
	}, []string{"reason"}) // bounded: validation, rate_limit, position_desync, sequence
)

// StartDebugServer serves prometheus, pprof and a JSON state dump on a
// localhost-only listener. Never expose this address externally.
func StartDebugServer(addr string, eng *game.Engine, log zerolog.Logger) {
	mux := http.NewServeMux()

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/debug/state", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(eng.Stats())
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	go func() {
		log.Info().Str("addr", addr).Msg("debug server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("debug server failed")
		}
	}()
}

// observeWorldGauges refreshes the world gauges from engine stats.
// Called on a coarse timer; the stats call takes the engine lock.
func observeWorldGauges(eng *game.Engine) {
	stats := eng.Stats()
	if v, ok := stats["players"].(int); ok {
		playerCount.Set(float64(v))
	}
	if v, ok := stats["monsters"].(int); ok {
		monsterCount.Set(float64(v))
	}
	if v, ok := stats["projectiles"].(int); ok {
		projectileCount.Set(float64(v))
	}
}

// StartGaugeLoop keeps world gauges fresh until stop is closed.
func StartGaugeLoop(eng *game.Engine, stop <-chan struct{}) {
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				observeWorldGauges(eng)
			}
		}
	}()
}

// ObserveTick records one simulation tick duration. Wired into the
// engine as its tick observer.
func ObserveTick(d time.Duration) {
	tickDuration.Observe(d.Seconds())
}
