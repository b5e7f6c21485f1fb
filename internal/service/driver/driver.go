package driver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"courier-dispatch/internal/apperr"
	"courier-dispatch/internal/domain"
)

const (
	maxRating = 5.0
	maxLimit  = 500
)

// Service is the driver directory used by the driver app and operators.
type Service struct {
	repo             driverRepository
	operationTimeout time.Duration
}

// NewService creates and configures a driver Service.
func NewService(r driverRepository, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &Service{repo: r, operationTimeout: timeout}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.operationTimeout)
}

func validRating(r *float64) bool {
	return r == nil || (*r >= 0 && *r <= maxRating)
}

// validateCreate validates a driver for creation.
func validateCreate(d *domain.Driver) error {
	if d == nil {
		return apperr.ErrInvalid
	}
	d.Name = strings.TrimSpace(d.Name)
	if d.Name == "" {
		return fmt.Errorf("empty name: %w", apperr.ErrInvalid)
	}
	if !validRating(d.Rating) {
		return fmt.Errorf("rating out of range: %w", apperr.ErrInvalid)
	}
	// is_on_delivery is owned by the dispatcher
	d.IsOnDelivery = false
	return nil
}

func validateUpdate(u *domain.PartialDriverUpdate) error {
	id, ok := domain.NormalizeID(u.ID)
	if !ok {
		return fmt.Errorf("driver id %q: %w", u.ID, apperr.ErrInvalid)
	}
	u.ID = id
	if u.Name == nil && u.IsAvailable == nil && u.Rating == nil {
		return fmt.Errorf("nothing to update: %w", apperr.ErrInvalid)
	}
	if u.Name != nil && strings.TrimSpace(*u.Name) == "" {
		return fmt.Errorf("empty name: %w", apperr.ErrInvalid)
	}
	if !validRating(u.Rating) {
		return fmt.Errorf("rating out of range: %w", apperr.ErrInvalid)
	}
	return nil
}

func validatePage(limit, offset *int) error {
	if limit != nil && (*limit <= 0 || *limit > maxLimit) {
		return fmt.Errorf("limit must be in 1..%d: %w", maxLimit, apperr.ErrInvalid)
	}
	if offset != nil && *offset < 0 {
		return fmt.Errorf("negative offset: %w", apperr.ErrInvalid)
	}
	return nil
}

// Get retrieves a driver by its ID.
func (s *Service) Get(ctx context.Context, rawID string) (*domain.Driver, error) {
	id, ok := domain.NormalizeID(rawID)
	if !ok {
		return nil, fmt.Errorf("driver id %q: %w", rawID, apperr.ErrInvalid)
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	d, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	if d == nil {
		return nil, apperr.ErrNotFound
	}
	return d, nil
}

// List returns drivers with optional pagination
func (s *Service) List(ctx context.Context, limit, offset *int) ([]domain.Driver, error) {
	if err := validatePage(limit, offset); err != nil {
		return nil, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	drivers, err := s.repo.List(ctx, limit, offset)
	if err != nil {
		return nil, apperr.Transient(err)
	}
	return drivers, nil
}

// Create persists a new driver and returns its generated ID.
func (s *Service) Create(ctx context.Context, d *domain.Driver) (string, error) {
	if err := validateCreate(d); err != nil {
		return "", err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	id, err := s.repo.Create(ctx, d)
	if err != nil {
		return "", apperr.Transient(err)
	}
	return id, nil
}

// UpdatePartial applies a partial update to a driver. It returns true if a row was updated.
func (s *Service) UpdatePartial(ctx context.Context, u domain.PartialDriverUpdate) (bool, error) {
	if err := validateUpdate(&u); err != nil {
		return false, err
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	ok, err := s.repo.UpdatePartial(ctx, u)
	if err != nil {
		return false, apperr.Transient(err)
	}
	if !ok {
		return false, apperr.ErrNotFound
	}
	return true, nil
}
