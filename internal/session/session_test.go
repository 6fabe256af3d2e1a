package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardhilink/plotsync/internal/connectivity"
	"github.com/ardhilink/plotsync/internal/geo"
	"github.com/ardhilink/plotsync/internal/logger"
	"github.com/ardhilink/plotsync/internal/metrics"
	"github.com/ardhilink/plotsync/internal/models"
	"github.com/ardhilink/plotsync/internal/normalize"
	"github.com/ardhilink/plotsync/internal/render"
	"github.com/ardhilink/plotsync/internal/source"
)

var testRegion = geo.Region{MinLng: 38.9, MinLat: -7.2, MaxLng: 39.6, MaxLat: -6.4}

func record(id, code, status string) source.RawRecord {
	return source.RawRecord{
		"id":        id,
		"plot_code": code,
		"status":    status,
		"district":  "Kinondoni",
		"ward":      "Mbezi",
		"village":   "Mbezi Beach",
		"geometry": map[string]interface{}{
			"type": "Polygon",
			"coordinates": []interface{}{
				[]interface{}{
					[]interface{}{39.20, -6.78},
					[]interface{}{39.21, -6.78},
					[]interface{}{39.21, -6.79},
					[]interface{}{39.20, -6.78},
				},
			},
		},
	}
}

// fetchCall is one in-flight FetchAllPlots, released by the test.
type fetchCall struct {
	release chan struct{}
	records []source.RawRecord
	err     error
}

// gatedSource parks each FetchAllPlots until the test releases it, so tests
// can interleave refresh completions deliberately.
type gatedSource struct {
	mu         sync.Mutex
	registered chan *fetchCall
	byID       map[string]source.RawRecord
}

func newGatedSource() *gatedSource {
	return &gatedSource{
		registered: make(chan *fetchCall, 8),
		byID:       make(map[string]source.RawRecord),
	}
}

func (g *gatedSource) FetchAllPlots(ctx context.Context) ([]source.RawRecord, error) {
	call := &fetchCall{release: make(chan struct{})}
	g.registered <- call
	select {
	case <-call.release:
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %v", source.ErrTransport, ctx.Err())
	}
	return call.records, call.err
}

func (g *gatedSource) FetchPlotByID(_ context.Context, id string) (source.RawRecord, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	rec, ok := g.byID[id]
	if !ok {
		return nil, source.ErrNotFound
	}
	return rec, nil
}

func (g *gatedSource) SubmitOrder(context.Context, string, models.Applicant) (source.RawRecord, error) {
	return source.RawRecord{"id": "order-1", "status": "confirmed"}, nil
}

func (g *gatedSource) ProbeHealth(context.Context) bool { return true }

// await returns the next registered fetch call.
func (g *gatedSource) await(t *testing.T) *fetchCall {
	t.Helper()
	select {
	case call := <-g.registered:
		return call
	case <-time.After(2 * time.Second):
		t.Fatal("no fetch call registered")
		return nil
	}
}

func newTestSession(src source.PlotSource) *Session {
	log := logger.Discard()
	return New(Options{
		Source:     src,
		Monitor:    connectivity.NewMonitor(src, 30*time.Second, log),
		Normalizer: normalize.New(log),
		Validator:  geo.NewValidator(testRegion),
		Reconciler: render.NewReconciler(15),
		Metrics:    metrics.New(prometheus.NewRegistry()),
		Logger:     log,
		RetryMax:   1,
		RetryStep:  time.Millisecond,
	})
}

// refreshAsync runs Refresh in a goroutine and returns its error channel.
func refreshAsync(s *Session) chan error {
	errs := make(chan error, 1)
	go func() { errs <- s.Refresh(context.Background()) }()
	return errs
}

func TestRefreshPopulatesPlotSet(t *testing.T) {
	src := newGatedSource()
	sess := newTestSession(src)

	errs := refreshAsync(sess)
	call := src.await(t)
	call.records = []source.RawRecord{
		record("p1", "DSM/KIN/0001", "available"),
		record("p2", "DSM/KIN/0002", "taken"),
	}
	close(call.release)
	require.NoError(t, <-errs)

	plots := sess.Plots()
	require.Len(t, plots, 2)
	assert.Equal(t, "p1", plots[0].ID, "ordered by plot code")
	assert.False(t, sess.LastSync().IsZero())
	assert.Equal(t, connectivity.StatusConnected, sess.ConnectivityStatus())
}

func TestRefreshKeepsInvalidPlotsOutOfRenderableSet(t *testing.T) {
	src := newGatedSource()
	sess := newTestSession(src)

	badGeometry := record("bad", "DSM/KIN/0009", "available")
	badGeometry["geometry"] = map[string]interface{}{
		"type": "Polygon",
		"coordinates": []interface{}{
			[]interface{}{ // only 3 points
				[]interface{}{39.20, -6.78},
				[]interface{}{39.21, -6.78},
				[]interface{}{39.21, -6.79},
			},
		},
	}

	errs := refreshAsync(sess)
	call := src.await(t)
	call.records = []source.RawRecord{record("p1", "DSM/KIN/0001", "available"), badGeometry}
	close(call.release)
	require.NoError(t, <-errs)

	// Invalid plot stays in the raw set for diagnostics
	assert.Len(t, sess.Plots(), 2)
	renderable := sess.RenderablePlots()
	require.Len(t, renderable, 1)
	assert.Equal(t, "p1", renderable[0].ID)

	stats := sess.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.Renderable)
	assert.Equal(t, 1, stats.GeometryExcluded)
}

func TestRefreshTerminalErrorAfterRetries(t *testing.T) {
	src := newGatedSource()
	sess := newTestSession(src)
	// 3 attempts with tiny backoff
	sess.retryMax = 3

	errs := refreshAsync(sess)
	for i := 0; i < 3; i++ {
		call := src.await(t)
		call.err = fmt.Errorf("%w: down", source.ErrTransport)
		close(call.release)
	}

	err := <-errs
	assert.ErrorIs(t, err, source.ErrTransport)
	assert.Equal(t, connectivity.StatusDisconnected, sess.ConnectivityStatus())
}

func TestRefreshGatedWhenSourceUnhealthy(t *testing.T) {
	src := newGatedSource()
	sess := newTestSession(src)

	// A failed fetch marks the source unhealthy; the next refresh inside the
	// TTL is gated without touching the source
	sess.monitor.RecordResult(false)

	err := sess.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrSourceUnhealthy)
	assert.ErrorIs(t, err, source.ErrTransport, "health gating is a transport-category failure")
	assert.Empty(t, src.registered, "no fetch was issued")
}

func TestStaleRefreshResponseDiscarded(t *testing.T) {
	src := newGatedSource()
	sess := newTestSession(src)

	// Refresh A is issued first
	errsA := refreshAsync(sess)
	callA := src.await(t)

	// Refresh B is issued second and completes first
	errsB := refreshAsync(sess)
	callB := src.await(t)
	callB.records = []source.RawRecord{record("fresh", "DSM/KIN/0002", "available")}
	close(callB.release)
	require.NoError(t, <-errsB)

	// A's older response arrives afterwards
	callA.records = []source.RawRecord{record("stale", "DSM/KIN/0001", "available")}
	close(callA.release)
	require.NoError(t, <-errsA)

	// The set equals what B alone produced
	plots := sess.Plots()
	require.Len(t, plots, 1)
	assert.Equal(t, "fresh", plots[0].ID)
}

func TestRefreshCannotClobberOptimisticReservationState(t *testing.T) {
	src := newGatedSource()
	sess := newTestSession(src)

	// Seed the set
	errs := refreshAsync(sess)
	call := src.await(t)
	call.records = []source.RawRecord{record("p1", "DSM/KIN/0001", "available")}
	close(call.release)
	require.NoError(t, <-errs)

	// A refresh goes in flight, then a reservation optimistically writes
	errsLate := refreshAsync(sess)
	callLate := src.await(t)

	require.NoError(t, sess.SetPlotStatus("p1", models.StatusPending))

	// The refresh completes with the old availability; it must resolve stale
	callLate.records = []source.RawRecord{record("p1", "DSM/KIN/0001", "available")}
	close(callLate.release)
	require.NoError(t, <-errsLate)

	plot, ok := sess.Plot("p1")
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, plot.Status)
}

func TestSetPlotStatusUnknownPlot(t *testing.T) {
	sess := newTestSession(newGatedSource())
	assert.ErrorIs(t, sess.SetPlotStatus("ghost", models.StatusPending), ErrPlotNotFound)
}

func TestLookupFetchesMissingPlot(t *testing.T) {
	src := newGatedSource()
	sess := newTestSession(src)
	src.byID["p9"] = record("p9", "DSM/KIN/0009", "available")

	plot, err := sess.Lookup(context.Background(), "p9")
	require.NoError(t, err)
	assert.Equal(t, "p9", plot.ID)

	// Now cached locally
	_, ok := sess.Plot("p9")
	assert.True(t, ok)
}

func TestLookupNotFound(t *testing.T) {
	sess := newTestSession(newGatedSource())

	_, err := sess.Lookup(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrPlotNotFound)
}

func TestLookupMalformedRecordFailsAtomically(t *testing.T) {
	src := newGatedSource()
	sess := newTestSession(src)
	src.byID["p9"] = source.RawRecord{"id": "p9"} // no code, no geometry

	_, err := sess.Lookup(context.Background(), "p9")
	assert.ErrorIs(t, err, ErrPlotMalformed)

	_, ok := sess.Plot("p9")
	assert.False(t, ok, "no partial state after a failed single-entity fetch")
}

func TestRenderReflectsPlotSet(t *testing.T) {
	src := newGatedSource()
	sess := newTestSession(src)

	errs := refreshAsync(sess)
	call := src.await(t)
	call.records = []source.RawRecord{
		record("p1", "DSM/KIN/0001", "available"),
		record("p2", "DSM/KIN/0002", "taken"),
	}
	close(call.release)
	require.NoError(t, <-errs)

	state := sess.Render(render.ViewState{Zoom: 16, SelectedID: "p2"})
	require.Len(t, state.Instructions, 2)
	assert.Len(t, state.Labels, 2)
	assert.NotEqual(t, state.Instructions["p1"].FillColor, state.Instructions["p2"].FillColor)
}

func TestStatsAggregates(t *testing.T) {
	src := newGatedSource()
	sess := newTestSession(src)

	r1 := record("p1", "DSM/KIN/0001", "available")
	r1["area_hectares"] = 1.5
	r2 := record("p2", "DSM/KIN/0002", "taken")
	r2["area_hectares"] = 0.5
	r2["district"] = "Ilala"

	errs := refreshAsync(sess)
	call := src.await(t)
	call.records = []source.RawRecord{r1, r2}
	close(call.release)
	require.NoError(t, <-errs)

	stats := sess.Stats()
	assert.Equal(t, 2, stats.Total)
	assert.Equal(t, 1, stats.ByStatus[models.StatusAvailable])
	assert.Equal(t, 1, stats.ByStatus[models.StatusTaken])
	assert.InDelta(t, 2.0, stats.TotalAreaHectares, 1e-9)
	assert.Equal(t, 2, stats.Districts)
	assert.Equal(t, 1, stats.Wards)
}

func TestAutoRefreshStopsOnClose(t *testing.T) {
	src := newGatedSource()
	sess := newTestSession(src)

	sess.StartAutoRefresh(10 * time.Millisecond)

	// First tick arrives
	call := src.await(t)
	call.records = []source.RawRecord{record("p1", "DSM/KIN/0001", "available")}
	close(call.release)

	// Drain anything in flight while closing, then verify silence
	done := make(chan struct{})
	go func() {
		for {
			select {
			case call := <-src.registered:
				close(call.release)
			case <-done:
				return
			}
		}
	}()
	sess.Close()
	close(done)

	// No timer fires after Close returns
	select {
	case <-src.registered:
		t.Fatal("fetch issued after Close")
	case <-time.After(50 * time.Millisecond):
	}

	// Closing twice is safe
	sess.Close()
}
