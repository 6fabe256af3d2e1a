package orders

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/ardhilink/plotsync/internal/logger"
	"github.com/ardhilink/plotsync/internal/metrics"
	"github.com/ardhilink/plotsync/internal/models"
	"github.com/ardhilink/plotsync/internal/source"
)

// Coordinator-level errors.
var (
	// ErrPlotNotFound marks a reservation against a plot the session
	// does not hold.
	ErrPlotNotFound = errors.New("plot not found")
	// ErrPlotUnavailable marks a reservation against a plot whose status
	// is not available. Business rule, never retried.
	ErrPlotUnavailable = errors.New("plot is not available for reservation")
	// ErrReservationInFlight marks a duplicate reservation for a plot
	// that already has one outstanding. Rejected, not queued.
	ErrReservationInFlight = errors.New("a reservation for this plot is already in flight")
	// ErrInvalidApplicant marks applicant fields that failed validation.
	// Surfaced before any optimistic mutation or network effect.
	ErrInvalidApplicant = errors.New("invalid applicant")
)

// txState tracks one reservation through its optimistic lifecycle.
type txState int

const (
	txIdle txState = iota
	txOptimisticallyApplied
	txCommitted
	txRolledBack
)

// transaction is one in-flight reservation. The revert is a deterministic
// function of the pre-transaction snapshot, not a diff.
type transaction struct {
	plotID     string
	priorState models.PlotStatus
	state      txState
}

// PlotStore is the slice of the session the coordinator mutates. Status
// writes bump the session's plot-set revision, which is what re-triggers
// reconciliation for the next render pass.
type PlotStore interface {
	Plot(id string) (models.Plot, bool)
	SetPlotStatus(id string, status models.PlotStatus) error
}

// Coordinator executes reservations as optimistic transactions: local
// pending write first, remote commit, deterministic rollback on failure.
// At most one reservation per plot may be in flight; duplicates are
// rejected before any network call.
type Coordinator struct {
	store    PlotStore
	src      source.PlotSource
	validate *validator.Validate
	metrics  *metrics.Metrics
	log      *logger.Logger

	mu       sync.Mutex
	inflight map[string]*transaction
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(store PlotStore, src source.PlotSource, m *metrics.Metrics, log *logger.Logger) *Coordinator {
	return &Coordinator{
		store:    store,
		src:      src,
		validate: validator.New(),
		metrics:  m,
		log:      log,
	}
}

// Reserve executes a reservation for the plot.
//
// Order of effects: applicant validation (no state change on failure),
// single-flight admission and availability check, optimistic local pending
// write, remote submit. Success keeps the optimistic state and returns the
// created order; failure reverts the plot to its prior status and surfaces
// the original cause.
func (c *Coordinator) Reserve(ctx context.Context, plotID string, applicant models.Applicant) (*models.Order, error) {
	if err := c.validate.Struct(applicant); err != nil {
		c.metrics.ReservationsTotal.WithLabelValues("rejected").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidApplicant, err)
	}

	tx, err := c.begin(plotID)
	if err != nil {
		c.metrics.ReservationsTotal.WithLabelValues("rejected").Inc()
		return nil, err
	}
	defer c.finish(plotID)

	c.log.Info("Reservation optimistically applied", map[string]interface{}{
		"plot_id":      plotID,
		"prior_status": string(tx.priorState),
	})

	record, err := c.src.SubmitOrder(ctx, plotID, applicant)
	if err != nil {
		c.rollback(tx, err)
		c.metrics.ReservationsTotal.WithLabelValues("rolled_back").Inc()
		return nil, fmt.Errorf("reserve plot %s: %w", plotID, err)
	}

	tx.state = txCommitted
	c.metrics.ReservationsTotal.WithLabelValues("confirmed").Inc()

	order := orderFromRecord(record, plotID, applicant)
	c.log.Info("Reservation confirmed", map[string]interface{}{
		"plot_id":  plotID,
		"order_id": order.ID,
	})
	return order, nil
}

// begin admits the reservation: checks single-flight, checks availability,
// snapshots the prior status and applies the optimistic pending write.
// All of that happens under one lock so two concurrent calls for the same
// plot cannot both pass the checks.
func (c *Coordinator) begin(plotID string) (*transaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inflight == nil {
		c.inflight = make(map[string]*transaction)
	}
	if _, dup := c.inflight[plotID]; dup {
		return nil, fmt.Errorf("%w: %s", ErrReservationInFlight, plotID)
	}

	plot, ok := c.store.Plot(plotID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrPlotNotFound, plotID)
	}
	if !plot.Orderable() {
		return nil, fmt.Errorf("%w: %s is %s", ErrPlotUnavailable, plotID, plot.Status)
	}

	tx := &transaction{plotID: plotID, priorState: plot.Status, state: txIdle}
	if err := c.store.SetPlotStatus(plotID, models.StatusPending); err != nil {
		return nil, fmt.Errorf("optimistic update for plot %s: %w", plotID, err)
	}
	tx.state = txOptimisticallyApplied

	c.inflight[plotID] = tx
	return tx, nil
}

// rollback reverts the plot to its pre-transaction snapshot.
func (c *Coordinator) rollback(tx *transaction, cause error) {
	if err := c.store.SetPlotStatus(tx.plotID, tx.priorState); err != nil {
		// The plot vanished from the set mid-flight; nothing left to revert.
		c.log.Error("Rollback could not restore plot status", err, map[string]interface{}{
			"plot_id": tx.plotID,
		})
	}
	tx.state = txRolledBack

	c.log.Warn("Reservation rolled back", map[string]interface{}{
		"plot_id":  tx.plotID,
		"restored": string(tx.priorState),
		"cause":    cause.Error(),
	})
}

func (c *Coordinator) finish(plotID string) {
	c.mu.Lock()
	delete(c.inflight, plotID)
	c.mu.Unlock()
}

// orderFromRecord builds the Order returned to the caller from the source's
// order record, falling back to locally generated identity when the source
// response is sparse.
func orderFromRecord(record source.RawRecord, plotID string, applicant models.Applicant) *models.Order {
	now := time.Now().UTC()
	order := &models.Order{
		ID:        uuid.New().String(),
		PlotID:    plotID,
		Status:    models.OrderConfirmed,
		Applicant: applicant,
		CreatedAt: now,
		UpdatedAt: now,
	}

	if record == nil {
		return order
	}
	if id, ok := record["id"].(string); ok && id != "" {
		order.ID = id
	}
	if status, ok := record["status"].(string); ok {
		switch models.OrderStatus(status) {
		case models.OrderPending, models.OrderConfirmed, models.OrderRejected:
			order.Status = models.OrderStatus(status)
		}
	}
	if created, ok := record["created_at"].(string); ok {
		if t, err := time.Parse(time.RFC3339, created); err == nil {
			order.CreatedAt = t.UTC()
			order.UpdatedAt = t.UTC()
		}
	}
	return order
}
