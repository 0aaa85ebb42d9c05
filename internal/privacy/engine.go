// Package privacy computes the privacy score from session, network and
// device signals, derives insights, and keeps a cached score fresh.
package privacy

import (
	"context"
	"encoding/json"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"phenix-chat/go-backend/internal/localstore"
	"phenix-chat/go-backend/internal/platform/metrics"
	"phenix-chat/go-backend/pkg/models"
)

const (
	degradedMessagingLatency = 5000
	degradedAnyoneLatency    = 2000
)

// Options configures an Engine. Store defaults to an in-memory store.
type Options struct {
	Config  Config
	Store   localstore.Store
	Prober  Prober
	Metrics *metrics.Registry
	Logger  zerolog.Logger
	Now     func() time.Time
}

// Snapshot is a consistent copy of the engine's presented state.
type Snapshot struct {
	Metrics     models.PrivacyMetrics   `json:"metrics"`
	Insights    []models.PrivacyInsight `json:"insights"`
	Health      models.NetworkHealth    `json:"networkHealth"`
	LastUpdated time.Time               `json:"lastUpdated"`
	Calculating bool                    `json:"isCalculating"`
}

// Engine keeps the privacy score, its insights and network health current.
type Engine struct {
	cfg     Config
	store   localstore.Store
	prober  Prober
	metrics *metrics.Registry
	logger  zerolog.Logger
	now     func() time.Time

	refreshMu sync.Mutex

	mu                sync.RWMutex
	signals           Signals
	observed          bool
	last              watched
	current           models.PrivacyMetrics
	insights          []models.PrivacyInsight
	health            models.NetworkHealth
	lastUpdated       time.Time
	calculating       bool
	disconnectedSince time.Time
	purged            bool
}

// New builds an Engine and loads any stored score.
func New(opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Store == nil {
		opts.Store = localstore.NewMemory()
	}
	e := &Engine{
		cfg:     opts.Config.withDefaults(),
		store:   opts.Store,
		prober:  opts.Prober,
		metrics: opts.Metrics,
		logger:  opts.Logger.With().Str("component", "privacy").Logger(),
		now:     opts.Now,
		health:  models.OfflineHealth(),
	}
	e.loadCache()
	return e
}

func (e *Engine) Config() Config { return e.cfg }

func (e *Engine) loadCache() {
	raw, ok, err := e.store.Get(localstore.KeyPrivacyMetrics)
	if err != nil {
		e.logger.Warn().Err(err).Msg("failed to load stored privacy metrics")
		return
	}
	if ok {
		var m models.PrivacyMetrics
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			e.logger.Warn().Err(err).Msg("failed to load stored privacy metrics")
		} else {
			e.current = m
		}
	}
	if stamp, ok, _ := e.store.Get(localstore.KeyPrivacyLastUpdated); ok {
		if t, err := time.Parse(time.RFC3339Nano, stamp); err == nil {
			e.lastUpdated = t
		} else {
			e.logger.Warn().Err(err).Msg("failed to load stored last updated")
		}
	}
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return Snapshot{
		Metrics:     e.current,
		Insights:    append([]models.PrivacyInsight(nil), e.insights...),
		Health:      e.health,
		LastUpdated: e.lastUpdated,
		Calculating: e.calculating,
	}
}

// staleLocked: no score, never updated, or older than StaleAfter.
func (e *Engine) staleLocked(now time.Time) bool {
	if e.current.OverallScore == 0 || e.lastUpdated.IsZero() {
		return true
	}
	return now.Sub(e.lastUpdated) > e.cfg.StaleAfter
}

// Observe records the latest signals. It refreshes when a watched signal
// changed and the cached score is stale, and reports whether it did.
func (e *Engine) Observe(ctx context.Context, s Signals) bool {
	now := e.now()
	e.mu.Lock()
	changed := !e.observed || e.last != s.watched()
	e.observed = true
	e.last = s.watched()
	e.signals = s
	stale := e.staleLocked(now)
	e.mu.Unlock()

	resumed := e.checkPurge(now, s)
	if (changed && stale) || resumed {
		e.Refresh(ctx)
		return true
	}
	return false
}

// Tick is the periodic check: refresh only when stale.
func (e *Engine) Tick(ctx context.Context) bool {
	now := e.now()
	e.mu.RLock()
	stale := e.staleLocked(now)
	s := e.signals
	e.mu.RUnlock()

	resumed := e.checkPurge(now, s)
	if stale || resumed {
		e.Refresh(ctx)
		return true
	}
	return false
}

// Run ticks every TickInterval until ctx ends.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.TickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.Tick(ctx)
		}
	}
}

// checkPurge drops the persisted score once both networks have stayed
// disconnected for longer than PurgeAfter. Nothing is persisted again until
// a network reconnects. It reports true when a purged engine sees a network
// again, so the caller refreshes and persists regardless of staleness.
func (e *Engine) checkPurge(now time.Time, s Signals) bool {
	e.mu.Lock()
	if s.MessagingConnected || s.AnyoneConnected {
		resumed := e.purged
		e.disconnectedSince = time.Time{}
		e.purged = false
		e.mu.Unlock()
		return resumed
	}
	if e.disconnectedSince.IsZero() {
		e.disconnectedSince = now
		e.mu.Unlock()
		return false
	}
	expired := !e.purged && now.Sub(e.disconnectedSince) > e.cfg.PurgeAfter
	e.mu.Unlock()
	if !expired {
		return false
	}
	if err := e.store.Delete(localstore.KeyPrivacyMetrics, localstore.KeyPrivacyLastUpdated); err != nil {
		e.logger.Warn().Err(err).Msg("failed to clear privacy storage")
		return false
	}
	e.mu.Lock()
	e.purged = true
	e.mu.Unlock()
	e.logger.Debug().Msg("cleared stored privacy score after prolonged disconnect")
	return false
}

// Refresh recomputes everything from the latest signals and persists the
// result.
func (e *Engine) Refresh(ctx context.Context) Snapshot {
	e.refreshMu.Lock()
	defer e.refreshMu.Unlock()

	e.mu.Lock()
	e.calculating = true
	s := e.signals
	e.mu.Unlock()

	m := Compute(e.cfg.Weights, s)
	insights := Insights(s, m)
	health := e.probeHealth(ctx, s)
	now := e.now()

	e.mu.Lock()
	e.current = m
	e.insights = insights
	e.health = health
	e.lastUpdated = now
	e.calculating = false
	purged := e.purged
	e.mu.Unlock()

	e.metrics.PrivacyScore(m.OverallScore)
	if !purged {
		e.persist(m, now)
	}
	e.logger.Debug().Int("overall", m.OverallScore).Int("insights", len(insights)).Msg("privacy score refreshed")
	return e.Snapshot()
}

func (e *Engine) persist(m models.PrivacyMetrics, at time.Time) {
	raw, err := json.Marshal(m)
	if err != nil {
		e.logger.Error().Err(err).Msg("failed to encode privacy metrics")
		return
	}
	if err := e.store.Set(localstore.KeyPrivacyMetrics, string(raw)); err != nil {
		e.logger.Error().Err(err).Msg("failed to save privacy metrics")
		return
	}
	if err := e.store.Set(localstore.KeyPrivacyLastUpdated, at.UTC().Format(time.RFC3339Nano)); err != nil {
		e.logger.Error().Err(err).Msg("failed to save privacy metrics")
	}
}

func (e *Engine) probeHealth(ctx context.Context, s Signals) models.NetworkHealth {
	h := models.OfflineHealth()
	if s.MessagingConnected {
		start := e.now()
		err := e.probeMessaging(ctx)
		if err == nil {
			latency := e.now().Sub(start)
			h.MessagingLatency = latency.Milliseconds()
			h.MessagingStatus = classify(latency, e.cfg.MessagingHealthyBelow)
			h.MessagingNodes = 120 + rand.IntN(30)
		} else {
			e.logger.Debug().Err(err).Msg("messaging health probe failed")
			h.MessagingStatus = models.HealthDegraded
			h.MessagingLatency = degradedMessagingLatency
			h.MessagingNodes = 80 + rand.IntN(20)
		}
	}
	if s.AnyoneConnected {
		start := e.now()
		err := e.probeAnyone(ctx)
		if err == nil {
			latency := e.now().Sub(start)
			h.AnyoneLatency = latency.Milliseconds()
			h.AnyoneStatus = classify(latency, e.cfg.AnyoneHealthyBelow)
			h.AnyoneRelays = s.RelayCount
			if h.AnyoneRelays == 0 {
				h.AnyoneRelays = 3 + rand.IntN(8)
			}
		} else {
			e.logger.Debug().Err(err).Msg("anyone health probe failed")
			h.AnyoneStatus = models.HealthDegraded
			h.AnyoneLatency = degradedAnyoneLatency
			h.AnyoneRelays = max(1, s.RelayCount)
		}
	}
	return h
}

func (e *Engine) probeMessaging(ctx context.Context) error {
	if e.prober == nil {
		return errNoClient
	}
	return e.prober.ProbeMessaging(ctx)
}

func (e *Engine) probeAnyone(ctx context.Context) error {
	if e.prober == nil {
		return errNoClient
	}
	return e.prober.ProbeAnyone(ctx)
}

func classify(latency, healthyBelow time.Duration) models.HealthStatus {
	if latency < healthyBelow {
		return models.HealthHealthy
	}
	return models.HealthDegraded
}
