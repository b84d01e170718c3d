package marketplace

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/AbuAli85/smartprohub-sub000/internal/platform"
	"github.com/AbuAli85/smartprohub-sub000/internal/store"
)

const viewer = "user-provider"

type fakePlatform struct {
	userID    string
	bookings  []platform.BookingRow
	services  []platform.ServiceRow
	contracts []platform.ContractRow
	updated   []string
}

func (f *fakePlatform) UserID() string { return f.userID }

func (f *fakePlatform) ListBookings(ctx context.Context, userID string) ([]platform.BookingRow, error) {
	return f.bookings, nil
}

func (f *fakePlatform) ListServices(ctx context.Context) ([]platform.ServiceRow, error) {
	return f.services, nil
}

func (f *fakePlatform) ListContracts(ctx context.Context, userID string) ([]platform.ContractRow, error) {
	return f.contracts, nil
}

func (f *fakePlatform) UpdateBookingStatus(ctx context.Context, bookingID, status string) (*platform.BookingRow, error) {
	f.updated = append(f.updated, bookingID+":"+status)
	return &platform.BookingRow{
		ID:         bookingID,
		ProviderID: viewer,
		Status:     status,
		UpdatedAt:  time.Now(),
	}, nil
}

func newService(t *testing.T) (*Service, *store.DB, *fakePlatform) {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "cache.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	if _, err := db.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	p := &fakePlatform{userID: viewer}
	return New(db, p, zap.NewNop()), db, p
}

func TestRefreshFillsCache(t *testing.T) {
	svc, _, p := newService(t)
	now := time.Now()
	p.bookings = []platform.BookingRow{
		{ID: "b1", ProviderID: viewer, ClientID: "u2", Status: BookingPending, ScheduledAt: now},
	}
	p.services = []platform.ServiceRow{
		{ID: "s1", ProviderID: viewer, Title: "Plumbing", PriceCents: 15000},
	}
	p.contracts = []platform.ContractRow{
		{ID: "k1", BookingID: "b1", ProviderID: viewer, ClientID: "u2", Status: "draft"},
	}

	if err := svc.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	bookings, err := svc.Bookings()
	if err != nil || len(bookings) != 1 {
		t.Fatalf("bookings = %v, %v", bookings, err)
	}
	services, err := svc.Services()
	if err != nil || len(services) != 1 || services[0].Title != "Plumbing" {
		t.Fatalf("services = %v, %v", services, err)
	}
	contracts, err := svc.Contracts()
	if err != nil || len(contracts) != 1 {
		t.Fatalf("contracts = %v, %v", contracts, err)
	}
}

func TestSetBookingStatus(t *testing.T) {
	svc, db, p := newService(t)
	if err := db.UpsertBooking(&store.Booking{
		ID: "b1", ProviderID: viewer, ClientID: "u2", Status: BookingPending,
	}); err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	b, err := svc.SetBookingStatus(context.Background(), "b1", BookingConfirmed)
	if err != nil {
		t.Fatalf("SetBookingStatus: %v", err)
	}
	if b.Status != BookingConfirmed {
		t.Errorf("Status = %s", b.Status)
	}
	if len(p.updated) != 1 || p.updated[0] != "b1:confirmed" {
		t.Errorf("platform calls = %v", p.updated)
	}

	cached, _ := db.GetBooking("b1")
	if cached.Status != BookingConfirmed {
		t.Errorf("cache not updated: %s", cached.Status)
	}
}

func TestSetBookingStatusRejectsInvalidTransitions(t *testing.T) {
	svc, db, p := newService(t)
	if err := db.UpsertBooking(&store.Booking{
		ID: "b1", ProviderID: viewer, ClientID: "u2", Status: BookingCompleted,
	}); err != nil {
		t.Fatalf("seed booking: %v", err)
	}

	for _, to := range []string{BookingPending, BookingConfirmed, BookingCancelled} {
		if _, err := svc.SetBookingStatus(context.Background(), "b1", to); err == nil {
			t.Errorf("completed booking allowed to move to %s", to)
		}
	}
	if len(p.updated) != 0 {
		t.Errorf("invalid transitions reached the platform: %v", p.updated)
	}

	if _, err := svc.SetBookingStatus(context.Background(), "missing", BookingConfirmed); err == nil {
		t.Error("unknown booking accepted")
	}
}
