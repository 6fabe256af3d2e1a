package source

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ardhilink/plotsync/internal/models"
)

// MemorySource is an in-process PlotSource used when no registry URL is
// configured (local development, demos) and by tests. It serves a generated
// plot grid and honors reservations by flipping plot status.
type MemorySource struct {
	mu      sync.Mutex
	records map[string]RawRecord
	order   []string
}

// NewMemorySource creates a MemorySource seeded with a grid of demo plots
// around the Mbezi Beach area of Dar es Salaam.
func NewMemorySource(count int) *MemorySource {
	s := &MemorySource{records: make(map[string]RawRecord)}

	const (
		originLng = 39.21
		originLat = -6.72
		step      = 0.0012
		cols      = 8
	)
	statuses := []string{"available", "available", "available", "taken", "pending"}

	for i := 0; i < count; i++ {
		row, col := i/cols, i%cols
		lng := originLng + float64(col)*step
		lat := originLat - float64(row)*step
		id := fmt.Sprintf("plot-%03d", i+1)

		s.records[id] = RawRecord{
			"id":            id,
			"plot_code":     fmt.Sprintf("DSM/MBZ/%04d", i+1),
			"status":        statuses[i%len(statuses)],
			"area_hectares": 0.05 + float64(i%7)*0.01,
			"district":      "Kinondoni",
			"ward":          "Mbezi",
			"village":       "Mbezi Beach",
			"geometry": map[string]interface{}{
				"type": "Polygon",
				"coordinates": []interface{}{
					[]interface{}{
						[]interface{}{lng, lat},
						[]interface{}{lng + step, lat},
						[]interface{}{lng + step, lat - step},
						[]interface{}{lng, lat - step},
						[]interface{}{lng, lat},
					},
				},
			},
			"attributes": map[string]interface{}{
				"Block_numb":  fmt.Sprintf("B%d", row+1),
				"plot_number": fmt.Sprintf("%d", i+1),
			},
			"created_at": time.Now().UTC().Format(time.RFC3339),
			"updated_at": time.Now().UTC().Format(time.RFC3339),
		}
		s.order = append(s.order, id)
	}

	return s
}

// FetchAllPlots returns the seeded records in stable order.
func (s *MemorySource) FetchAllPlots(_ context.Context) ([]RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]RawRecord, 0, len(s.order))
	for _, id := range s.order {
		records = append(records, cloneRecord(s.records[id]))
	}
	return records, nil
}

// FetchPlotByID returns a single seeded record.
func (s *MemorySource) FetchPlotByID(_ context.Context, id string) (RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneRecord(record), nil
}

// SubmitOrder reserves the plot if it is available, mirroring the business
// rules of the real registry.
func (s *MemorySource) SubmitOrder(_ context.Context, plotID string, applicant models.Applicant) (RawRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	record, ok := s.records[plotID]
	if !ok {
		return nil, fmt.Errorf("%w: unknown plot %s", ErrRejected, plotID)
	}
	if record["status"] != "available" && record["status"] != "pending" {
		return nil, fmt.Errorf("%w: plot %s is not available", ErrRejected, plotID)
	}

	record["status"] = "taken"
	record["updated_at"] = time.Now().UTC().Format(time.RFC3339)

	now := time.Now().UTC().Format(time.RFC3339)
	return RawRecord{
		"id":         uuid.New().String(),
		"plot_id":    plotID,
		"status":     "confirmed",
		"applicant":  map[string]interface{}{"full_name": applicant.FullName, "email": applicant.Email, "phone": applicant.Phone},
		"created_at": now,
		"updated_at": now,
	}, nil
}

// ProbeHealth always succeeds for the in-process source.
func (s *MemorySource) ProbeHealth(_ context.Context) bool {
	return true
}

func cloneRecord(record RawRecord) RawRecord {
	clone := make(RawRecord, len(record))
	for k, v := range record {
		clone[k] = v
	}
	return clone
}
