// Package marketplace caches the booking, service and contract tables and
// exposes the booking actions a provider or client can take.
package marketplace

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"go.uber.org/zap"

	"github.com/AbuAli85/smartprohub-sub000/internal/platform"
	"github.com/AbuAli85/smartprohub-sub000/internal/store"
)

// Booking statuses.
const (
	BookingPending   = "pending"
	BookingConfirmed = "confirmed"
	BookingDeclined  = "declined"
	BookingCompleted = "completed"
	BookingCancelled = "cancelled"
)

var bookingTransitions = map[string][]string{
	BookingPending:   {BookingConfirmed, BookingDeclined, BookingCancelled},
	BookingConfirmed: {BookingCompleted, BookingCancelled},
}

// ErrSignedOut is returned for operations that need a platform identity.
var ErrSignedOut = errors.New("marketplace: not signed in")

// Platform is the subset of the REST client the marketplace needs.
type Platform interface {
	UserID() string
	ListBookings(ctx context.Context, userID string) ([]platform.BookingRow, error)
	ListServices(ctx context.Context) ([]platform.ServiceRow, error)
	ListContracts(ctx context.Context, userID string) ([]platform.ContractRow, error)
	UpdateBookingStatus(ctx context.Context, bookingID, status string) (*platform.BookingRow, error)
}

// Service serves marketplace reads from the cache and routes writes through
// the platform. Feed events land in the cache via the sync engine.
type Service struct {
	db       *store.DB
	platform Platform
	logger   *zap.Logger
}

// New wires a marketplace service.
func New(db *store.DB, p Platform, logger *zap.Logger) *Service {
	return &Service{db: db, platform: p, logger: logger.Named("marketplace")}
}

// Refresh pulls bookings, the service catalog and contracts into the cache.
func (s *Service) Refresh(ctx context.Context) error {
	viewer := s.platform.UserID()
	if viewer == "" {
		return nil
	}

	bookings, err := s.platform.ListBookings(ctx, viewer)
	if err != nil {
		return fmt.Errorf("refresh bookings: %w", err)
	}
	for i := range bookings {
		if err := s.db.UpsertBooking(bookings[i].ToStore()); err != nil {
			return err
		}
	}

	services, err := s.platform.ListServices(ctx)
	if err != nil {
		return fmt.Errorf("refresh services: %w", err)
	}
	for i := range services {
		if err := s.db.UpsertService(services[i].ToStore()); err != nil {
			return err
		}
	}

	contracts, err := s.platform.ListContracts(ctx, viewer)
	if err != nil {
		return fmt.Errorf("refresh contracts: %w", err)
	}
	for i := range contracts {
		if err := s.db.UpsertContract(contracts[i].ToStore()); err != nil {
			return err
		}
	}
	return nil
}

// Bookings returns the viewer's cached bookings.
func (s *Service) Bookings() ([]store.Booking, error) {
	viewer := s.platform.UserID()
	if viewer == "" {
		return nil, ErrSignedOut
	}
	return s.db.ListBookings(viewer)
}

// Services returns the cached service catalog.
func (s *Service) Services() ([]store.Service, error) {
	return s.db.ListServices()
}

// Contracts returns the viewer's cached contracts.
func (s *Service) Contracts() ([]store.Contract, error) {
	viewer := s.platform.UserID()
	if viewer == "" {
		return nil, ErrSignedOut
	}
	return s.db.ListContracts(viewer)
}

// SetBookingStatus transitions a booking through the platform and applies
// the committed row to the cache. Invalid transitions are rejected locally
// before any network round trip.
func (s *Service) SetBookingStatus(ctx context.Context, bookingID, to string) (*store.Booking, error) {
	viewer := s.platform.UserID()
	if viewer == "" {
		return nil, ErrSignedOut
	}

	current, err := s.db.GetBooking(bookingID)
	if err != nil {
		return nil, err
	}
	if current == nil {
		return nil, fmt.Errorf("unknown booking %s", bookingID)
	}
	if !slices.Contains(bookingTransitions[current.Status], to) {
		return nil, fmt.Errorf("booking %s cannot go from %s to %s", bookingID, current.Status, to)
	}

	row, err := s.platform.UpdateBookingStatus(ctx, bookingID, to)
	if err != nil {
		return nil, fmt.Errorf("update booking: %w", err)
	}
	booking := row.ToStore()
	if err := s.db.UpsertBooking(booking); err != nil {
		return nil, err
	}
	return booking, nil
}
