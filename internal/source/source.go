package source

import (
	"context"
	"errors"

	"github.com/ardhilink/plotsync/internal/models"
)

// RawRecord is an untrusted plot record as delivered by the remote source.
// Shape is unknown; normalization turns it into a canonical Plot or drops it.
type RawRecord map[string]interface{}

// Error taxonomy for source operations. Callers distinguish these with
// errors.Is: transport failures are retryable and surface as "try again",
// business-rule rejections surface verbatim and are never retried.
var (
	// ErrTransport marks the source as unreachable or timing out.
	ErrTransport = errors.New("plot source unreachable")
	// ErrNotFound marks a single-entity lookup that matched nothing.
	ErrNotFound = errors.New("plot not found")
	// ErrRejected marks an order the source refused on business grounds,
	// e.g. the plot is no longer available.
	ErrRejected = errors.New("order rejected by source")
)

// PlotSource is the inbound boundary to the remote land registry.
// Implementations must wrap failures in the taxonomy errors above.
type PlotSource interface {
	// FetchAllPlots returns every plot record the source currently holds.
	// An empty slice is a valid result, distinct from a transport failure.
	FetchAllPlots(ctx context.Context) ([]RawRecord, error)

	// FetchPlotByID returns the record for a single plot.
	// Returns ErrNotFound when the source holds no such plot.
	FetchPlotByID(ctx context.Context, id string) (RawRecord, error)

	// SubmitOrder submits a reservation for the plot and returns the
	// created order record. Returns ErrRejected when the source refuses
	// the reservation, ErrTransport when it cannot be reached.
	SubmitOrder(ctx context.Context, plotID string, applicant models.Applicant) (RawRecord, error)

	// ProbeHealth reports whether the source is currently reachable.
	ProbeHealth(ctx context.Context) bool
}
