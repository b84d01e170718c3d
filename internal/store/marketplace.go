package store

import (
	"database/sql"
	"time"
)

// UpsertBooking inserts or updates a cached booking.
func (db *DB) UpsertBooking(b *Booking) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO bookings (id, service_id, client_id, provider_id, status, scheduled_at, notes, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			scheduled_at = excluded.scheduled_at,
			notes = excluded.notes,
			updated_at = excluded.updated_at`,
		b.ID, b.ServiceID, b.ClientID, b.ProviderID, b.Status, b.ScheduledAt, b.Notes, now)
	return err
}

// GetBooking returns a cached booking by id, or nil.
func (db *DB) GetBooking(id string) (*Booking, error) {
	var b Booking
	err := db.QueryRow(`
		SELECT id, service_id, client_id, provider_id, status, scheduled_at, notes, updated_at
		FROM bookings WHERE id = ?`, id).
		Scan(&b.ID, &b.ServiceID, &b.ClientID, &b.ProviderID, &b.Status, &b.ScheduledAt, &b.Notes, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &b, nil
}

// ListBookings returns bookings where the user is client or provider,
// most recently scheduled first.
func (db *DB) ListBookings(userID string) ([]Booking, error) {
	rows, err := db.Query(`
		SELECT id, service_id, client_id, provider_id, status, scheduled_at, notes, updated_at
		FROM bookings
		WHERE client_id = ? OR provider_id = ?
		ORDER BY scheduled_at DESC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var bookings []Booking
	for rows.Next() {
		var b Booking
		if err := rows.Scan(&b.ID, &b.ServiceID, &b.ClientID, &b.ProviderID, &b.Status, &b.ScheduledAt, &b.Notes, &b.UpdatedAt); err != nil {
			return nil, err
		}
		bookings = append(bookings, b)
	}
	return bookings, rows.Err()
}

// UpsertService inserts or updates a cached service listing.
func (db *DB) UpsertService(s *Service) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO services (id, provider_id, title, description, category, price_cents, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title = excluded.title,
			description = excluded.description,
			category = excluded.category,
			price_cents = excluded.price_cents,
			updated_at = excluded.updated_at`,
		s.ID, s.ProviderID, s.Title, s.Description, s.Category, s.PriceCents, now)
	return err
}

// ListServices returns all cached service listings, newest first.
func (db *DB) ListServices() ([]Service, error) {
	rows, err := db.Query(`
		SELECT id, provider_id, title, description, category, price_cents, updated_at
		FROM services ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var services []Service
	for rows.Next() {
		var s Service
		if err := rows.Scan(&s.ID, &s.ProviderID, &s.Title, &s.Description, &s.Category, &s.PriceCents, &s.UpdatedAt); err != nil {
			return nil, err
		}
		services = append(services, s)
	}
	return services, rows.Err()
}

// UpsertContract inserts or updates a cached contract.
func (db *DB) UpsertContract(c *Contract) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO contracts (id, booking_id, client_id, provider_id, status, document_url, signed_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			document_url = excluded.document_url,
			signed_at = excluded.signed_at,
			updated_at = excluded.updated_at`,
		c.ID, c.BookingID, c.ClientID, c.ProviderID, c.Status, c.DocumentURL, c.SignedAt, now)
	return err
}

// ListContracts returns contracts where the user is a party, newest first.
func (db *DB) ListContracts(userID string) ([]Contract, error) {
	rows, err := db.Query(`
		SELECT id, booking_id, client_id, provider_id, status, document_url, signed_at, updated_at
		FROM contracts
		WHERE client_id = ? OR provider_id = ?
		ORDER BY updated_at DESC`, userID, userID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var contracts []Contract
	for rows.Next() {
		var c Contract
		if err := rows.Scan(&c.ID, &c.BookingID, &c.ClientID, &c.ProviderID, &c.Status, &c.DocumentURL, &c.SignedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		contracts = append(contracts, c)
	}
	return contracts, rows.Err()
}
