package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/ardhilink/plotsync/internal/logger"
	"github.com/ardhilink/plotsync/internal/models"
)

// Circuit breaker tuning for the upstream registry.
const (
	breakerFailureThreshold = 5
	breakerOpenFor          = 15 * time.Second
)

// HTTPSource talks to the remote land registry over its JSON API.
// All calls go through a circuit breaker so a down registry trips fast
// instead of piling up timeouts.
type HTTPSource struct {
	base    string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker
	log     *logger.Logger
}

// NewHTTPSource creates an HTTPSource for the registry at base.
func NewHTTPSource(base string, timeout time.Duration, log *logger.Logger) *HTTPSource {
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     "plot-source",
		Interval: time.Minute,
		Timeout:  breakerOpenFor,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= breakerFailureThreshold
		},
		// Only transport failures count against the breaker. A 404 miss or a
		// business-rule rejection is a healthy registry answering.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrRejected)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn("Source circuit breaker state change", map[string]interface{}{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			})
		},
	})

	return &HTTPSource{
		base:    strings.TrimRight(strings.TrimSpace(base), "/"),
		client:  &http.Client{Timeout: timeout},
		breaker: breaker,
		log:     log,
	}
}

// FetchAllPlots retrieves the full plot set from GET /plots.
func (s *HTTPSource) FetchAllPlots(ctx context.Context) ([]RawRecord, error) {
	var records []RawRecord
	if err := s.getJSON(ctx, "/plots", &records); err != nil {
		return nil, err
	}
	return records, nil
}

// FetchPlotByID retrieves a single plot from GET /plots/{id}.
func (s *HTTPSource) FetchPlotByID(ctx context.Context, id string) (RawRecord, error) {
	var record RawRecord
	if err := s.getJSON(ctx, "/plots/"+id, &record); err != nil {
		return nil, err
	}
	return record, nil
}

// SubmitOrder posts a reservation to POST /plots/{id}/orders.
// A 4xx response is a business-rule rejection; anything else that is not
// 2xx is a transport failure.
func (s *HTTPSource) SubmitOrder(ctx context.Context, plotID string, applicant models.Applicant) (RawRecord, error) {
	body, err := json.Marshal(applicant)
	if err != nil {
		return nil, fmt.Errorf("failed to encode applicant: %w", err)
	}

	result, err := s.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost,
			s.base+"/plots/"+plotID+"/orders", bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode >= 200 && resp.StatusCode < 300:
			var record RawRecord
			if err := json.NewDecoder(resp.Body).Decode(&record); err != nil {
				return nil, fmt.Errorf("%w: decode order response: %v", ErrTransport, err)
			}
			return record, nil
		case resp.StatusCode >= 400 && resp.StatusCode < 500:
			var detail struct {
				Message string `json:"message"`
			}
			_ = json.NewDecoder(resp.Body).Decode(&detail)
			if detail.Message == "" {
				detail.Message = http.StatusText(resp.StatusCode)
			}
			return nil, fmt.Errorf("%w: %s", ErrRejected, detail.Message)
		default:
			return nil, fmt.Errorf("%w: upstream status %d", ErrTransport, resp.StatusCode)
		}
	})
	if err != nil {
		if isBreakerErr(err) {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		return nil, err
	}

	return result.(RawRecord), nil
}

// ProbeHealth issues GET /health and reports reachability.
func (s *HTTPSource) ProbeHealth(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+"/health", nil)
	if err != nil {
		return false
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// getJSON executes a GET through the circuit breaker and decodes into out.
func (s *HTTPSource) getJSON(ctx context.Context, path string, out interface{}) error {
	_, err := s.breaker.Execute(func() (interface{}, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.base+path, nil)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}

		resp, err := s.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrTransport, err)
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			return nil, ErrNotFound
		case resp.StatusCode < 200 || resp.StatusCode >= 300:
			return nil, fmt.Errorf("%w: upstream status %d", ErrTransport, resp.StatusCode)
		}

		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return nil, fmt.Errorf("%w: decode response: %v", ErrTransport, err)
		}
		return nil, nil
	})
	if err != nil && isBreakerErr(err) {
		return fmt.Errorf("%w: %v", ErrTransport, err)
	}
	return err
}

func isBreakerErr(err error) bool {
	return err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests
}
