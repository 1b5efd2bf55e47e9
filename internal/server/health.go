package server

import (
	"context"
	"errors"
	"fmt"
)

// HealthService defines behaviour for readiness probes.
type HealthService interface {
	Probe(ctx context.Context) error
}

// Pinger is anything that can report its own reachability.
type Pinger interface {
	Ping(ctx context.Context) error
}

// GatewayHealthService checks the ledger node and the submission journal.
type GatewayHealthService struct {
	Ledger  Pinger
	Journal Pinger
}

// Probe implements the HealthService interface.
func (s GatewayHealthService) Probe(ctx context.Context) error {
	var errs []error
	if s.Ledger != nil {
		if err := s.Ledger.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("ledger: %w", err))
		}
	}
	if s.Journal != nil {
		if err := s.Journal.Ping(ctx); err != nil {
			errs = append(errs, fmt.Errorf("journal: %w", err))
		}
	}
	return errors.Join(errs...)
}
