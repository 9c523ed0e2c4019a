package devices

import (
	"context"
	"database/sql"
)

// PostgresStore persists device entries in the devices table (see
// db/migrations). Secrets are stored as Argon2id hashes.
type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{DB: db}
}

func (s *PostgresStore) SaveDevice(ctx context.Context, entry DeviceEntry) error {
	query := `
		INSERT INTO devices (device_id, secret_hash, model, registered_at, is_active)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (device_id) DO NOTHING
	`
	_, err := s.DB.ExecContext(ctx, query,
		entry.DeviceID, entry.Secret, entry.Model, entry.RegisteredAt, entry.IsActive,
	)
	return err
}

func (s *PostgresStore) DeactivateDevice(ctx context.Context, deviceID string) error {
	_, err := s.DB.ExecContext(ctx,
		`UPDATE devices SET is_active = FALSE WHERE device_id = $1`, deviceID)
	return err
}

func (s *PostgresStore) LoadDevices(ctx context.Context) ([]DeviceEntry, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT device_id, secret_hash, model, registered_at, is_active FROM devices`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []DeviceEntry
	for rows.Next() {
		var e DeviceEntry
		if err := rows.Scan(&e.DeviceID, &e.Secret, &e.Model, &e.RegisteredAt, &e.IsActive); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
