package session

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ardhilink/plotsync/internal/connectivity"
	"github.com/ardhilink/plotsync/internal/geo"
	"github.com/ardhilink/plotsync/internal/logger"
	"github.com/ardhilink/plotsync/internal/metrics"
	"github.com/ardhilink/plotsync/internal/models"
	"github.com/ardhilink/plotsync/internal/normalize"
	"github.com/ardhilink/plotsync/internal/render"
	"github.com/ardhilink/plotsync/internal/source"
)

// Session-level errors.
var (
	// ErrSourceUnhealthy gates a refresh when the cached health says the
	// source is down. It is a transport-category failure.
	ErrSourceUnhealthy = fmt.Errorf("%w: health gate closed", source.ErrTransport)
	// ErrPlotNotFound marks a lookup that matched nothing locally or upstream.
	ErrPlotNotFound = errors.New("plot not found")
	// ErrPlotMalformed marks a single-plot fetch whose record could not be
	// normalized into a usable plot.
	ErrPlotMalformed = errors.New("plot record is malformed")
)

// plotEntry pairs a plot with its geometry-validation verdict. Invalid plots
// stay in the set for diagnostics and statistics but never render.
type plotEntry struct {
	plot       models.Plot
	renderable bool
}

// Statistics are the aggregate counts surfaced to the UI layer.
type Statistics struct {
	ByStatus          map[models.PlotStatus]int `json:"byStatus"`
	Total             int                       `json:"total"`
	Renderable        int                       `json:"renderable"`
	GeometryExcluded  int                       `json:"geometryExcluded"`
	RecordsDropped    int                       `json:"recordsDropped"`
	TotalAreaHectares float64                   `json:"totalAreaHectares"`
	Districts         int                       `json:"districts"`
	Wards             int                       `json:"wards"`
	Villages          int                       `json:"villages"`
}

// Session owns the plot set for one application session. It coordinates
// refresh cycles against the remote source, applies responses in issue order
// ("latest response wins"), derives render state, and serves reads for the
// HTTP layer.
//
// Every applied write to the plot set carries a sequence number drawn from a
// monotonic counter at issue time. A response whose sequence is older than
// the last applied write is discarded, which both resolves the concurrent
// refresh race and keeps a refresh from clobbering an in-flight
// reservation's optimistic write.
type Session struct {
	log        *logger.Logger
	src        source.PlotSource
	monitor    *connectivity.Monitor
	normalizer *normalize.Normalizer
	validator  *geo.Validator
	reconciler *render.Reconciler
	metrics    *metrics.Metrics
	retryMax   int
	retryStep  time.Duration

	issued     atomic.Uint64
	refreshing atomic.Int32

	mu       sync.RWMutex
	plots    map[string]*plotEntry
	version  uint64
	applied  uint64
	lastSync time.Time
	excluded int
	dropped  int

	timerMu sync.Mutex
	stop    chan struct{}
	done    chan struct{}
}

// Options bundle the collaborators a Session needs.
type Options struct {
	Source     source.PlotSource
	Monitor    *connectivity.Monitor
	Normalizer *normalize.Normalizer
	Validator  *geo.Validator
	Reconciler *render.Reconciler
	Metrics    *metrics.Metrics
	Logger     *logger.Logger
	RetryMax   int
	RetryStep  time.Duration
}

// New creates a Session. It performs no I/O; call Refresh or StartAutoRefresh
// to populate the plot set.
func New(opts Options) *Session {
	return &Session{
		log:        opts.Logger,
		src:        opts.Source,
		monitor:    opts.Monitor,
		normalizer: opts.Normalizer,
		validator:  opts.Validator,
		reconciler: opts.Reconciler,
		metrics:    opts.Metrics,
		retryMax:   opts.RetryMax,
		retryStep:  opts.RetryStep,
		plots:      make(map[string]*plotEntry),
	}
}

// Refresh runs one synchronization cycle: health gate, fetch with retry,
// normalize, validate, apply. A stale response (superseded by a newer applied
// write) is discarded without error. Transport failures are terminal after
// the retry budget and are surfaced, never swallowed.
func (s *Session) Refresh(ctx context.Context) error {
	if !s.monitor.ShouldFetch(ctx) {
		s.metrics.RefreshTotal.WithLabelValues("gated").Inc()
		s.log.Warn("Refresh gated by connectivity monitor", nil)
		return ErrSourceUnhealthy
	}

	seq := s.issued.Add(1)
	s.refreshing.Add(1)
	defer s.refreshing.Add(-1)

	var records []source.RawRecord
	err := connectivity.Retry(ctx, s.retryMax, s.retryStep, func() error {
		var fetchErr error
		records, fetchErr = s.src.FetchAllPlots(ctx)
		return fetchErr
	})
	if err != nil {
		s.monitor.RecordResult(false)
		s.metrics.RefreshTotal.WithLabelValues("failure").Inc()
		s.log.Error("Refresh failed after retries", err, map[string]interface{}{
			"seq": seq,
		})
		return fmt.Errorf("refresh %d: %w", seq, err)
	}
	s.monitor.RecordResult(true)

	plots, dropped := s.normalizer.Normalize(records)
	if dropped > 0 {
		s.metrics.RecordsDropped.Add(float64(dropped))
	}

	entries := make(map[string]*plotEntry, len(plots))
	excluded := 0
	for i := range plots {
		renderable := s.validator.Validate(plots[i].Geometry)
		if !renderable {
			excluded++
			s.log.Warn("Plot excluded from renderable set", map[string]interface{}{
				"plot_id":   plots[i].ID,
				"plot_code": plots[i].PlotCode,
			})
		}
		entries[plots[i].ID] = &plotEntry{plot: plots[i], renderable: renderable}
	}
	if excluded > 0 {
		s.metrics.GeometryExcluded.Add(float64(excluded))
	}

	if !s.apply(seq, entries, dropped, excluded) {
		s.metrics.RefreshTotal.WithLabelValues("stale").Inc()
		s.log.Info("Discarded stale refresh response", map[string]interface{}{
			"seq": seq,
		})
		return nil
	}

	s.metrics.RefreshTotal.WithLabelValues("success").Inc()
	s.log.Info("Plot set refreshed", map[string]interface{}{
		"seq":      seq,
		"total":    len(entries),
		"dropped":  dropped,
		"excluded": excluded,
	})
	return nil
}

// apply installs a refreshed plot set if its sequence is still the newest.
func (s *Session) apply(seq uint64, entries map[string]*plotEntry, dropped, excluded int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if seq <= s.applied {
		return false
	}

	s.plots = entries
	s.applied = seq
	s.version++
	s.lastSync = time.Now().UTC()
	s.dropped = dropped
	s.excluded = excluded
	s.metrics.RenderablePlots.Set(float64(len(entries) - excluded))
	return true
}

// Lookup returns the plot with the given id, fetching it from the source
// when it is not in the local set. Single-entity fetches fail atomically:
// on any error the local set is untouched.
func (s *Session) Lookup(ctx context.Context, id string) (models.Plot, error) {
	if plot, ok := s.Plot(id); ok {
		return plot, nil
	}

	record, err := s.src.FetchPlotByID(ctx, id)
	if err != nil {
		if errors.Is(err, source.ErrNotFound) {
			return models.Plot{}, fmt.Errorf("%w: %s", ErrPlotNotFound, id)
		}
		return models.Plot{}, fmt.Errorf("lookup plot %s: %w", id, err)
	}

	plots, _ := s.normalizer.Normalize([]source.RawRecord{record})
	if len(plots) == 0 {
		return models.Plot{}, fmt.Errorf("%w: %s", ErrPlotMalformed, id)
	}

	plot := plots[0]
	renderable := s.validator.Validate(plot.Geometry)
	seq := s.issued.Add(1)

	s.mu.Lock()
	if seq > s.applied {
		s.plots[plot.ID] = &plotEntry{plot: plot, renderable: renderable}
		s.applied = seq
		s.version++
	}
	s.mu.Unlock()

	return plot, nil
}

// Plot returns the plot with the given id from the local set.
func (s *Session) Plot(id string) (models.Plot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.plots[id]
	if !ok {
		return models.Plot{}, false
	}
	return entry.plot, true
}

// SetPlotStatus performs a local status write on behalf of the reservation
// flow. The write takes a fresh sequence number, so any refresh already in
// flight resolves as stale and cannot clobber it.
func (s *Session) SetPlotStatus(id string, status models.PlotStatus) error {
	seq := s.issued.Add(1)

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.plots[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPlotNotFound, id)
	}
	entry.plot.Status = status
	entry.plot.UpdatedAt = time.Now().UTC()
	s.applied = seq
	s.version++
	return nil
}

// Plots returns the full plot set ordered by plot code. Invalid plots are
// included; they are part of the session's diagnostics surface.
func (s *Session) Plots() []models.Plot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	plots := make([]models.Plot, 0, len(s.plots))
	for _, entry := range s.plots {
		plots = append(plots, entry.plot)
	}
	sortPlots(plots)
	return plots
}

// RenderablePlots returns the geometry-validated subset ordered by plot code.
func (s *Session) RenderablePlots() []models.Plot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.renderableLocked()
}

// Render produces the render instruction set for the current renderable set
// and the given view state.
func (s *Session) Render(view render.ViewState) render.State {
	s.mu.RLock()
	plots := s.renderableLocked()
	version := s.version
	s.mu.RUnlock()

	return s.reconciler.Reconcile(plots, version, view)
}

// Stats computes aggregate statistics over the full plot set.
func (s *Session) Stats() Statistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Statistics{
		ByStatus:         make(map[models.PlotStatus]int),
		Total:            len(s.plots),
		GeometryExcluded: s.excluded,
		RecordsDropped:   s.dropped,
	}

	districts := make(map[string]struct{})
	wards := make(map[string]struct{})
	villages := make(map[string]struct{})

	for _, entry := range s.plots {
		stats.ByStatus[entry.plot.Status]++
		stats.TotalAreaHectares += entry.plot.AreaHectares
		if entry.renderable {
			stats.Renderable++
		}
		districts[entry.plot.District] = struct{}{}
		wards[entry.plot.Ward] = struct{}{}
		villages[entry.plot.Village] = struct{}{}
	}

	stats.Districts = len(districts)
	stats.Wards = len(wards)
	stats.Villages = len(villages)
	return stats
}

// ConnectivityStatus reports the state surfaced to the UI: checking while a
// refresh is in flight, otherwise the monitor's cached health.
func (s *Session) ConnectivityStatus() connectivity.Status {
	if s.refreshing.Load() > 0 {
		return connectivity.StatusChecking
	}
	return s.monitor.Status()
}

// LastSync returns when a refresh last applied successfully, zero if never.
func (s *Session) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastSync
}

// StartAutoRefresh launches the periodic refresh timer. The timer is owned
// by the session and fully cancelled by Close; it never fires after Close
// returns. Starting twice is a no-op.
func (s *Session) StartAutoRefresh(interval time.Duration) {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.stop != nil {
		return
	}
	s.stop = make(chan struct{})
	s.done = make(chan struct{})

	go func(stop, done chan struct{}) {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				ctx, cancel := context.WithTimeout(context.Background(), interval)
				if err := s.Refresh(ctx); err != nil {
					s.log.Warn("Auto refresh failed", map[string]interface{}{
						"error": err.Error(),
					})
				}
				cancel()
			case <-stop:
				return
			}
		}
	}(s.stop, s.done)

	s.log.Info("Auto refresh started", map[string]interface{}{
		"interval": interval.String(),
	})
}

// Close stops the auto-refresh timer and waits for it to drain.
func (s *Session) Close() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()

	if s.stop == nil {
		return
	}
	close(s.stop)
	<-s.done
	s.stop = nil
	s.done = nil
}

func (s *Session) renderableLocked() []models.Plot {
	plots := make([]models.Plot, 0, len(s.plots))
	for _, entry := range s.plots {
		if entry.renderable {
			plots = append(plots, entry.plot)
		}
	}
	sortPlots(plots)
	return plots
}

func sortPlots(plots []models.Plot) {
	sort.Slice(plots, func(i, j int) bool { return plots[i].PlotCode < plots[j].PlotCode })
}
