package store

import (
	"database/sql"
	"time"
)

// UpsertProfile inserts or updates a cached profile.
func (db *DB) UpsertProfile(p *Profile) error {
	now := time.Now().UnixMilli()
	_, err := db.Exec(`
		INSERT INTO profiles (id, full_name, avatar_url, role, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			full_name = excluded.full_name,
			avatar_url = excluded.avatar_url,
			role = excluded.role,
			updated_at = excluded.updated_at`,
		p.ID, p.FullName, p.AvatarURL, p.Role, now)
	return err
}

// GetProfile returns a cached profile by id, or nil.
func (db *DB) GetProfile(id string) (*Profile, error) {
	var p Profile
	err := db.QueryRow(`
		SELECT id, full_name, avatar_url, role, updated_at
		FROM profiles WHERE id = ?`, id).
		Scan(&p.ID, &p.FullName, &p.AvatarURL, &p.Role, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}
