package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ardhilink/plotsync/internal/connectivity"
	apierrors "github.com/ardhilink/plotsync/internal/errors"
	"github.com/ardhilink/plotsync/internal/geo"
	"github.com/ardhilink/plotsync/internal/logger"
	"github.com/ardhilink/plotsync/internal/metrics"
	"github.com/ardhilink/plotsync/internal/models"
	"github.com/ardhilink/plotsync/internal/normalize"
	"github.com/ardhilink/plotsync/internal/orders"
	"github.com/ardhilink/plotsync/internal/render"
	"github.com/ardhilink/plotsync/internal/session"
	"github.com/ardhilink/plotsync/internal/source"
)

// fakeSource is a scriptable PlotSource for handler tests.
type fakeSource struct {
	mu        sync.Mutex
	records   []source.RawRecord
	fetchErr  error
	submitErr error
	healthy   bool
}

func (f *fakeSource) FetchAllPlots(context.Context) ([]source.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return f.records, nil
}

func (f *fakeSource) FetchPlotByID(_ context.Context, id string) (source.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, rec := range f.records {
		if rec["id"] == id {
			return rec, nil
		}
	}
	return nil, source.ErrNotFound
}

func (f *fakeSource) SubmitOrder(context.Context, string, models.Applicant) (source.RawRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return source.RawRecord{"id": "order-1", "status": "confirmed"}, nil
}

func (f *fakeSource) ProbeHealth(context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func plotRecord(id, code, status string) source.RawRecord {
	return source.RawRecord{
		"id":        id,
		"plot_code": code,
		"status":    status,
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

// newTestRouter assembles a router over a session fed by src, mirroring the
// production wiring.
func newTestRouter(t *testing.T, src source.PlotSource, refresh bool) (*gin.Engine, *session.Session) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	log := logger.Discard()
	sess := session.New(session.Options{
		Source:     src,
		Monitor:    connectivity.NewMonitor(src, 30*time.Second, log),
		Normalizer: normalize.New(log),
		Validator:  geo.NewValidator(geo.Region{MinLng: 38.9, MinLat: -7.2, MaxLng: 39.6, MaxLat: -6.4}),
		Reconciler: render.NewReconciler(15),
		Metrics:    metrics.New(prometheus.NewRegistry()),
		Logger:     log,
		RetryMax:   1,
		RetryStep:  time.Millisecond,
	})
	if refresh {
		require.NoError(t, sess.Refresh(context.Background()))
	}

	coordinator := orders.NewCoordinator(sess, src, metrics.New(prometheus.NewRegistry()), log)
	plotHandler := NewPlotHandler(sess, coordinator)
	renderHandler := NewRenderHandler(sess)

	router := gin.New()
	v1 := router.Group("/api/v1")
	v1.GET("/plots", plotHandler.List)
	v1.GET("/plots/:id", plotHandler.Get)
	v1.POST("/plots/:id/reserve", plotHandler.Reserve)
	v1.GET("/render", renderHandler.Render)
	v1.POST("/refresh", plotHandler.Refresh)
	return router, sess
}

func errorCode(t *testing.T, body *bytes.Buffer) string {
	t.Helper()
	var resp apierrors.ErrorResponse
	require.NoError(t, json.Unmarshal(body.Bytes(), &resp))
	return resp.Error.Code
}

func TestListPlots(t *testing.T) {
	src := &fakeSource{
		healthy: true,
		records: []source.RawRecord{
			plotRecord("p1", "DSM/KIN/0001", "available"),
			plotRecord("p2", "DSM/KIN/0002", "taken"),
		},
	}
	router, _ := newTestRouter(t, src, true)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/v1/plots", nil)
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var resp PlotSetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Equal(t, "connected", resp.Connectivity)
	assert.Equal(t, 2, resp.Stats.Total)
	assert.NotEmpty(t, resp.LastSync)
}

func TestListPlotsEmptySetIsNotAnError(t *testing.T) {
	src := &fakeSource{healthy: true, records: []source.RawRecord{}}
	router, _ := newTestRouter(t, src, true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/plots", nil))

	// Zero plots with healthy connectivity: the source has no data, the
	// request still succeeds
	require.Equal(t, http.StatusOK, w.Code)
	var resp PlotSetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Count)
	assert.Equal(t, "connected", resp.Connectivity)
}

func TestGetPlot(t *testing.T) {
	src := &fakeSource{healthy: true, records: []source.RawRecord{plotRecord("p1", "DSM/KIN/0001", "available")}}
	router, _ := newTestRouter(t, src, true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/plots/p1", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp PlotResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "p1", resp.Plot.ID)
}

func TestGetPlotNotFound(t *testing.T) {
	src := &fakeSource{healthy: true}
	router, _ := newTestRouter(t, src, true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/plots/ghost", nil))

	require.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, apierrors.ErrNotFound, errorCode(t, w.Body))
}

func TestReservePlot(t *testing.T) {
	src := &fakeSource{healthy: true, records: []source.RawRecord{plotRecord("p1", "DSM/KIN/0001", "available")}}
	router, sess := newTestRouter(t, src, true)

	body := `{"fullName":"Asha Mussa","email":"asha@example.com","phone":"+255700000001"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/plots/p1/reserve", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusCreated, w.Code)
	var resp OrderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotNil(t, resp.Order)
	assert.Equal(t, "order-1", resp.Order.ID)

	plot, ok := sess.Plot("p1")
	require.True(t, ok)
	assert.Equal(t, models.StatusPending, plot.Status)
}

func TestReservePlotInvalidApplicant(t *testing.T) {
	src := &fakeSource{healthy: true, records: []source.RawRecord{plotRecord("p1", "DSM/KIN/0001", "available")}}
	router, sess := newTestRouter(t, src, true)

	body := `{"fullName":"Asha Mussa","email":"not-an-email","phone":"+255700000001"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/plots/p1/reserve", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apierrors.ErrValidation, errorCode(t, w.Body))

	// No state change before validation passes
	plot, _ := sess.Plot("p1")
	assert.Equal(t, models.StatusAvailable, plot.Status)
}

func TestReserveTakenPlotConflict(t *testing.T) {
	src := &fakeSource{healthy: true, records: []source.RawRecord{plotRecord("p1", "DSM/KIN/0001", "taken")}}
	router, _ := newTestRouter(t, src, true)

	body := `{"fullName":"Asha Mussa","email":"asha@example.com","phone":"+255700000001"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/plots/p1/reserve", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, apierrors.ErrPlotUnavailable, errorCode(t, w.Body))
}

func TestReserveRollsBackOnSourceFailure(t *testing.T) {
	src := &fakeSource{
		healthy:   true,
		records:   []source.RawRecord{plotRecord("p1", "DSM/KIN/0001", "available")},
		submitErr: fmt.Errorf("%w: registry down", source.ErrTransport),
	}
	router, sess := newTestRouter(t, src, true)

	body := `{"fullName":"Asha Mussa","email":"asha@example.com","phone":"+255700000001"}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/plots/p1/reserve", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, apierrors.ErrSourceUnreachable, errorCode(t, w.Body))

	plot, _ := sess.Plot("p1")
	assert.Equal(t, models.StatusAvailable, plot.Status, "optimistic state reverted")
}

func TestRefreshEndpointSourceUnreachable(t *testing.T) {
	src := &fakeSource{healthy: true, records: []source.RawRecord{plotRecord("p1", "DSM/KIN/0001", "available")}}
	router, _ := newTestRouter(t, src, true)

	src.mu.Lock()
	src.fetchErr = fmt.Errorf("%w: down", source.ErrTransport)
	src.mu.Unlock()

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/v1/refresh", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Equal(t, apierrors.ErrSourceUnreachable, errorCode(t, w.Body))
}

func TestRenderEndpoint(t *testing.T) {
	src := &fakeSource{
		healthy: true,
		records: []source.RawRecord{
			plotRecord("p1", "DSM/KIN/0001", "available"),
			plotRecord("p2", "DSM/KIN/0002", "pending"),
		},
	}
	router, _ := newTestRouter(t, src, true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/render?zoom=16&selected=p2", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp RenderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Count)
	assert.Len(t, resp.Labels, 2)
	assert.NotEqual(t, resp.Instructions["p1"].FillColor, resp.Instructions["p2"].FillColor)
}

func TestRenderEndpointSuppressesLabelsAtLowZoom(t *testing.T) {
	src := &fakeSource{healthy: true, records: []source.RawRecord{plotRecord("p1", "DSM/KIN/0001", "available")}}
	router, _ := newTestRouter(t, src, true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/render?zoom=10", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp RenderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Empty(t, resp.Labels)
}

func TestRenderEndpointAcceptsZoomZero(t *testing.T) {
	src := &fakeSource{healthy: true, records: []source.RawRecord{plotRecord("p1", "DSM/KIN/0001", "available")}}
	router, _ := newTestRouter(t, src, true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/render?zoom=0", nil))

	// Fully zoomed out is a legitimate view, not a missing parameter
	require.Equal(t, http.StatusOK, w.Code)
	var resp RenderResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)
	assert.Empty(t, resp.Labels)
}

func TestRenderEndpointValidation(t *testing.T) {
	src := &fakeSource{healthy: true}
	router, _ := newTestRouter(t, src, true)

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/render", nil))

	require.Equal(t, http.StatusBadRequest, w.Code)
}
