package source

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySourceFetchAllPlots(t *testing.T) {
	src := NewMemorySource(10)

	records, err := src.FetchAllPlots(context.Background())
	require.NoError(t, err)
	require.Len(t, records, 10)

	assert.Equal(t, "plot-001", records[0]["id"])
	assert.Equal(t, "DSM/MBZ/0001", records[0]["plot_code"])
	assert.Equal(t, "Kinondoni", records[0]["district"])
	assert.NotNil(t, records[0]["geometry"])
}

func TestMemorySourceFetchPlotByID(t *testing.T) {
	src := NewMemorySource(5)

	record, err := src.FetchPlotByID(context.Background(), "plot-003")
	require.NoError(t, err)
	assert.Equal(t, "plot-003", record["id"])

	_, err = src.FetchPlotByID(context.Background(), "plot-999")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemorySourceSubmitOrder(t *testing.T) {
	src := NewMemorySource(5)

	// plot-001 is seeded available
	record, err := src.SubmitOrder(context.Background(), "plot-001", testApplicant())
	require.NoError(t, err)
	assert.Equal(t, "confirmed", record["status"])
	assert.Equal(t, "plot-001", record["plot_id"])

	// The plot is taken now, a second order is rejected
	_, err = src.SubmitOrder(context.Background(), "plot-001", testApplicant())
	assert.ErrorIs(t, err, ErrRejected)
}

func TestMemorySourceSubmitOrderUnknownPlot(t *testing.T) {
	src := NewMemorySource(5)

	_, err := src.SubmitOrder(context.Background(), "plot-999", testApplicant())
	assert.ErrorIs(t, err, ErrRejected)
}

func TestMemorySourceRecordsAreIsolated(t *testing.T) {
	src := NewMemorySource(3)

	records, err := src.FetchAllPlots(context.Background())
	require.NoError(t, err)

	// Mutating a returned record must not leak into the source
	records[0]["status"] = "taken"

	fresh, err := src.FetchPlotByID(context.Background(), "plot-001")
	require.NoError(t, err)
	assert.Equal(t, "available", fresh["status"])
}
