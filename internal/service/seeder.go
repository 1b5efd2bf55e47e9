package service

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/vanshika/landgate/backend/internal/domain"
)

// TaskError accumulates multiple errors produced during seeding.
type TaskError struct {
	Errors []error
}

func (e *TaskError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	msg := "multiple errors:"
	for _, err := range e.Errors {
		msg += " " + err.Error() + ";"
	}
	return msg
}

func (e *TaskError) Unwrap() []error {
	return e.Errors
}

func (e *TaskError) append(err error) {
	if err == nil {
		return
	}
	e.Errors = append(e.Errors, err)
}

func (e *TaskError) asError() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// SeedLand is one parcel of a seed dataset.
type SeedLand struct {
	LandID      string `json:"landId"`
	Description string `json:"description"`
	Location    string `json:"location"`
	Area        int64  `json:"area"`
	ImageURL    string `json:"imageUrl"`
	Owner       string `json:"owner"`
}

// SeedReport counts what a seeding run submitted and what it skipped
// because the ledger already had it.
type SeedReport struct {
	UsersRegistered int
	UsersSkipped    int
	LandsRegistered int
	LandsSkipped    int
}

// Seeder registers directory accounts and sample parcels on a fresh ledger.
// Entries already present are skipped, so a run can be repeated.
type Seeder struct {
	coordinator *Coordinator
	admin       domain.Principal
	workers     int
}

// NewSeeder creates a Seeder that submits as admin with the given concurrency.
// All submissions share the admin's lane, so workers only overlap the
// ledger reads and confirmation waits.
func NewSeeder(coordinator *Coordinator, admin common.Address, workers int) *Seeder {
	if workers <= 0 {
		workers = 4
	}
	return &Seeder{
		coordinator: coordinator,
		admin:       domain.Principal{Address: admin, Role: domain.RoleAdmin},
		workers:     workers,
	}
}

// SeedUsers registers every non-admin directory account missing from the ledger.
func (s *Seeder) SeedUsers(ctx context.Context) (registered, skipped int, err error) {
	accounts, err := s.coordinator.Users(ctx)
	if err != nil {
		return 0, 0, err
	}
	var pending []AccountStatus
	for _, a := range accounts {
		if a.Admin || a.Registered {
			skipped++
			continue
		}
		pending = append(pending, a)
	}

	var mu sync.Mutex
	err = s.run(ctx, len(pending), func(idx int) error {
		a := pending[idx]
		_, err := s.coordinator.RegisterUser(ctx, s.admin, RegisterUserInput{
			Address: a.Address,
			Name:    a.Name,
			Email:   a.Email,
		})
		if err == nil {
			mu.Lock()
			registered++
			mu.Unlock()
		}
		return err
	})
	return registered, skipped, err
}

// SeedLands registers parcels whose land id is not yet on the ledger.
func (s *Seeder) SeedLands(ctx context.Context, lands []SeedLand) (registered, skipped int, err error) {
	existing, err := s.coordinator.Lands(ctx)
	if err != nil {
		return 0, 0, err
	}
	known := make(map[string]struct{}, len(existing))
	for _, l := range existing {
		known[l.LandID] = struct{}{}
	}

	var pending []SeedLand
	for _, l := range lands {
		if _, ok := known[l.LandID]; ok {
			skipped++
			continue
		}
		known[l.LandID] = struct{}{}
		pending = append(pending, l)
	}

	var mu sync.Mutex
	err = s.run(ctx, len(pending), func(idx int) error {
		l := pending[idx]
		owner, err := parseSeedOwner(l.Owner)
		if err != nil {
			return err
		}
		_, err = s.coordinator.RegisterLand(ctx, s.admin, RegisterLandInput{
			LandID:      l.LandID,
			Description: l.Description,
			Location:    l.Location,
			Area:        big.NewInt(l.Area),
			ImageURL:    l.ImageURL,
			Owner:       owner,
		})
		if err == nil {
			mu.Lock()
			registered++
			mu.Unlock()
		}
		return err
	})
	return registered, skipped, err
}

// Seed registers users first so that parcel owners exist before their lands.
func (s *Seeder) Seed(ctx context.Context, lands []SeedLand) (SeedReport, error) {
	var report SeedReport
	var err error
	report.UsersRegistered, report.UsersSkipped, err = s.SeedUsers(ctx)
	if err != nil {
		return report, err
	}
	report.LandsRegistered, report.LandsSkipped, err = s.SeedLands(ctx, lands)
	return report, err
}

func parseSeedOwner(raw string) (common.Address, error) {
	if !common.IsHexAddress(raw) {
		return common.Address{}, errors.New("seed land owner " + raw + " is not a valid address")
	}
	return common.HexToAddress(raw), nil
}

func (s *Seeder) run(ctx context.Context, total int, workerFn func(idx int) error) error {
	if total == 0 {
		return nil
	}
	indexCh := make(chan int)
	errCh := make(chan error, total)
	var wg sync.WaitGroup

	worker := func() {
		defer wg.Done()
		for idx := range indexCh {
			if err := workerFn(idx); err != nil {
				select {
				case errCh <- err:
				case <-ctx.Done():
					return
				}
			}
		}
	}

	for i := 0; i < s.workers; i++ {
		wg.Add(1)
		go worker()
	}

Loop:
	for i := 0; i < total; i++ {
		if ctx.Err() != nil {
			break
		}
		select {
		case indexCh <- i:
		case <-ctx.Done():
			break Loop
		}
	}
	close(indexCh)
	wg.Wait()
	close(errCh)

	var taskErr TaskError
	for err := range errCh {
		if err == nil {
			continue
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return err
		}
		taskErr.append(err)
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return taskErr.asError()
}
