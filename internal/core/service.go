package core

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ServiceConfig carries the tunables the Service needs. The server and CLI
// build it from internal/config.
type ServiceConfig struct {
	Policy PolicyConfig

	BatchSize            int
	ChunkSize            int
	ImportTimeout        time.Duration
	MaxConcurrentImports int
	ImportMaxWait        time.Duration

	DefaultSamples           int
	SimulationTimeout        time.Duration
	MaxConcurrentSimulations int
	SimulationMaxWait        time.Duration
}

// DefaultServiceConfig returns the standard operational settings.
func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		Policy:                   DefaultPolicy(),
		BatchSize:                DefaultBatchSize,
		ChunkSize:                DefaultChunkSize,
		ImportTimeout:            10 * time.Minute,
		MaxConcurrentImports:     DefaultMaxConcurrentImports,
		ImportMaxWait:            DefaultMaxWaitTime,
		DefaultSamples:           DefaultSampleCount,
		SimulationTimeout:        30 * time.Second,
		MaxConcurrentSimulations: 4,
		SimulationMaxWait:        5 * time.Second,
	}
}

// Service provides conjunction triage operations over an EventStore.
type Service struct {
	store   EventStore
	cfg     ServiceConfig
	source  *Source
	metrics *Metrics
	now     func() time.Time

	ingester      *Ingester
	estimator     *Estimator
	generator     *Generator
	importLimiter *Limiter
	simLimiter    *Limiter

	policyMu sync.RWMutex
	policy   PolicyConfig

	// writeMu is held exclusively by full-store re-classification and shared
	// by every other writer, so a pass never writes back a stale copy over a
	// refinement, import batch, seed, or clear.
	writeMu sync.RWMutex

	mu      sync.RWMutex
	imports map[string]*activeImport
}

// Option configures a Service.
type Option func(*Service)

// WithSource injects the random source used for generation, import
// placeholders, and simulation.
func WithSource(src *Source) Option {
	return func(s *Service) { s.source = src }
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides time.Now for classification and generation.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService creates a Service. The configured policy must be valid.
func NewService(store EventStore, cfg ServiceConfig, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("event store is required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, err
	}
	if cfg.DefaultSamples <= 0 {
		cfg.DefaultSamples = DefaultSampleCount
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}

	s := &Service{
		store:   store,
		cfg:     cfg,
		now:     time.Now,
		policy:  cfg.Policy,
		imports: make(map[string]*activeImport),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.source == nil {
		s.source = NewTimeSeededSource()
	}

	s.ingester = &Ingester{
		Store:      store,
		BatchSize:  cfg.BatchSize,
		ChunkSize:  cfg.ChunkSize,
		Source:     s.source,
		Now:        s.now,
		Metrics:    s.metrics,
		WriteGuard: s.writeMu.RLocker(),
	}
	s.estimator = NewEstimator(s.source)
	s.generator = &Generator{Source: s.source, Now: s.now}
	s.importLimiter = NewImportLimiter(cfg.MaxConcurrentImports, cfg.ImportMaxWait)
	s.simLimiter = NewSimulationLimiter(cfg.MaxConcurrentSimulations, cfg.SimulationMaxWait)
	return s, nil
}

// Policy returns the active policy.
func (s *Service) Policy() PolicyConfig {
	s.policyMu.RLock()
	defer s.policyMu.RUnlock()
	return s.policy
}

// ApplyPolicy validates and installs p, then re-classifies every stored event
// under it. Returns the number of events re-written.
func (s *Service) ApplyPolicy(ctx context.Context, p PolicyConfig) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}
	s.policyMu.Lock()
	s.policy = p
	s.policyMu.Unlock()

	slog.Info("policy applied", append([]any{
		"pc_red_threshold", p.PcRedThreshold,
		"eta_threshold", p.EtaThreshold,
		"tangency_threshold", p.TangencyThreshold,
		"conditioning_threshold", p.ConditioningThreshold,
		"warning_time_threshold", p.WarningTimeThreshold,
	}, requesterAttrs(ctx)...)...)
	return s.reclassifyStored(ctx, p)
}

// Retriage re-classifies every stored event under the current policy.
// Lanes depend on time-to-TCA, so this is run periodically.
func (s *Service) Retriage(ctx context.Context) (int, error) {
	return s.reclassifyStored(ctx, s.Policy())
}

func (s *Service) reclassifyStored(ctx context.Context, p PolicyConfig) (int, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	events, err := s.store.FetchAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch events: %w", err)
	}
	updated := ReclassifyAllAt(events, p, s.now())
	if err := s.writeBatches(ctx, updated); err != nil {
		return 0, err
	}
	s.metrics.observeLanes(updated)
	return len(updated), nil
}

// writeBatches upserts events in chunks of the configured batch size.
func (s *Service) writeBatches(ctx context.Context, events []Event) error {
	for start := 0; start < len(events); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(events))
		if err := s.store.BulkUpsert(ctx, events[start:end]); err != nil {
			return fmt.Errorf("write batch %d: %w", start/s.cfg.BatchSize+1, err)
		}
	}
	return nil
}

// LaneFilter restricts a listing to the given lanes. Empty matches all.
type LaneFilter []Lane

// Match reports whether l passes the filter.
func (f LaneFilter) Match(l Lane) bool {
	if len(f) == 0 {
		return true
	}
	for _, want := range f {
		if want == l {
			return true
		}
	}
	return false
}

// ListEvents returns stored events, ordered by id, that match the filter.
func (s *Service) ListEvents(ctx context.Context, filter LaneFilter) ([]Event, error) {
	events, err := s.store.FetchAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch events: %w", err)
	}
	if len(filter) == 0 {
		return events, nil
	}
	out := events[:0]
	for _, ev := range events {
		if filter.Match(ev.Lane) {
			out = append(out, ev)
		}
	}
	return out, nil
}

// GetEvent returns one stored event or ErrEventNotFound.
func (s *Service) GetEvent(ctx context.Context, id string) (*Event, error) {
	ev, ok, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get event %s: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEventNotFound, id)
	}
	return ev, nil
}

// Clear removes every stored event.
func (s *Service) Clear(ctx context.Context) error {
	s.writeMu.RLock()
	defer s.writeMu.RUnlock()
	if err := s.store.Clear(ctx); err != nil {
		return fmt.Errorf("clear events: %w", err)
	}
	slog.Info("event store cleared", requesterAttrs(ctx)...)
	return nil
}

// Seed generates count synthetic events under the current policy and stores them.
func (s *Service) Seed(ctx context.Context, count int) (int, error) {
	events := s.generator.Generate(count, s.Policy())
	s.writeMu.RLock()
	err := s.writeBatches(ctx, events)
	s.writeMu.RUnlock()
	if err != nil {
		return 0, err
	}
	s.metrics.observeLanes(events)
	slog.Info("seeded synthetic events", "count", len(events))
	return len(events), nil
}

// Refine runs a Monte Carlo estimate for one stored event, records the
// refined Pc, re-classifies, and persists the updated event under the same id.
// samples == 0 uses the configured default.
func (s *Service) Refine(ctx context.Context, id string, samples int) (*Event, *SimulationResult, error) {
	if samples == 0 {
		samples = s.cfg.DefaultSamples
	}
	if samples < 0 {
		return nil, nil, ErrInvalidSampleCount
	}

	if err := s.simLimiter.Acquire(ctx); err != nil {
		return nil, nil, err
	}
	defer s.simLimiter.Release()

	if s.cfg.SimulationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.SimulationTimeout)
		defer cancel()
	}

	// Read, estimate, and write back without a re-classification pass in between.
	s.writeMu.RLock()
	defer s.writeMu.RUnlock()

	start := time.Now()
	ev, err := s.GetEvent(ctx, id)
	if err != nil {
		return nil, nil, err
	}

	res, err := s.estimator.Estimate(ctx, *ev, samples)
	if err != nil {
		s.metrics.observeSimulation(importStatus(err), time.Since(start))
		return nil, nil, fmt.Errorf("estimate %s: %w", id, err)
	}

	pc := res.PC
	ev.PcMC = &pc
	refined := ClassifyAt(*ev, s.Policy(), s.now())
	if err := s.store.BulkUpsert(ctx, []Event{refined}); err != nil {
		s.metrics.observeSimulation("failed", time.Since(start))
		return nil, nil, fmt.Errorf("persist refined %s: %w", id, err)
	}

	s.metrics.observeSimulation("complete", time.Since(start))
	s.metrics.observeLanes([]Event{refined})
	slog.Info("event refined",
		"event_id", id,
		"samples", samples,
		"pc_mc", pc,
		"ci_lower", res.CILower,
		"ci_upper", res.CIUpper,
		"lane", refined.Lane.String(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return &refined, res, nil
}

// ImportLimiterStatus returns the import limiter state.
func (s *Service) ImportLimiterStatus() LimiterStatus {
	return s.importLimiter.Status()
}

// SimulationLimiterStatus returns the simulation limiter state.
func (s *Service) SimulationLimiterStatus() LimiterStatus {
	return s.simLimiter.Status()
}
