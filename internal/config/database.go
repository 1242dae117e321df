package config

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // PostgreSQL driver
)

// SetupDatabase initializes the database connection
func SetupDatabase(cfg *Config) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.Database.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	// Create tables if they don't exist
	if err := createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary tables in the database
func createTables(db *sqlx.DB) error {
	// Create users table
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id VARCHAR(36) PRIMARY KEY,
			email VARCHAR(255) UNIQUE NOT NULL,
			name VARCHAR(255) NOT NULL,
			password VARCHAR(255) NOT NULL,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create listings table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS listings (
			id VARCHAR(36) PRIMARY KEY,
			kind VARCHAR(10) NOT NULL CHECK (kind IN ('offer', 'need')),
			owner_id VARCHAR(36) NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			title VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			capacity INTEGER NOT NULL CHECK (capacity >= 1),
			accepted_count INTEGER NOT NULL DEFAULT 0
				CHECK (accepted_count >= 0 AND accepted_count <= capacity),
			status VARCHAR(10) NOT NULL DEFAULT 'active',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create participants table
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS participants (
			id VARCHAR(36) PRIMARY KEY,
			listing_id VARCHAR(36) NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
			user_id VARCHAR(36) NOT NULL REFERENCES users(id),
			role VARCHAR(10) NOT NULL CHECK (role IN ('provider', 'requester')),
			status VARCHAR(10) NOT NULL DEFAULT 'pending',
			hours_contributed NUMERIC(10,2) NOT NULL DEFAULT 0,
			message TEXT NOT NULL DEFAULT '',
			preferred_slot TEXT NOT NULL DEFAULT '',
			provider_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
			requester_confirmed BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// One live application per (listing, applicant); terminal rows are history
	_, err = db.Exec(`
		CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_live
		ON participants(listing_id, user_id)
		WHERE status IN ('pending', 'accepted')
	`)
	if err != nil {
		return err
	}

	// Create ledger_entries table (append-only)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS ledger_entries (
			id VARCHAR(36) PRIMARY KEY,
			seq BIGSERIAL,
			user_id VARCHAR(36) NOT NULL REFERENCES users(id),
			debit NUMERIC(10,2) NOT NULL DEFAULT 0 CHECK (debit >= 0),
			credit NUMERIC(10,2) NOT NULL DEFAULT 0 CHECK (credit >= 0),
			balance NUMERIC(10,2) NOT NULL,
			transaction_type VARCHAR(32) NOT NULL,
			participant_id VARCHAR(36) REFERENCES participants(id),
			created_at TIMESTAMP NOT NULL,
			CHECK ((debit = 0) <> (credit = 0))
		)
	`)
	if err != nil {
		return err
	}

	// Create transfers table; the unique participant_id guards exactly-once
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS transfers (
			id VARCHAR(36) PRIMARY KEY,
			participant_id VARCHAR(36) UNIQUE NOT NULL REFERENCES participants(id),
			provider_id VARCHAR(36) NOT NULL REFERENCES users(id),
			requester_id VARCHAR(36) NOT NULL REFERENCES users(id),
			hours NUMERIC(10,2) NOT NULL CHECK (hours > 0),
			debit_entry_id VARCHAR(36) NOT NULL REFERENCES ledger_entries(id),
			credit_entry_id VARCHAR(36) NOT NULL REFERENCES ledger_entries(id),
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return err
	}

	// Create indexes for better performance
	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_listings_owner ON listings(owner_id)",
		"CREATE INDEX IF NOT EXISTS idx_participants_listing ON participants(listing_id)",
		"CREATE INDEX IF NOT EXISTS idx_participants_user ON participants(user_id)",
		"CREATE INDEX IF NOT EXISTS idx_ledger_entries_user_seq ON ledger_entries(user_id, seq DESC)",
	}

	for _, idx := range indexes {
		_, err = db.Exec(idx)
		if err != nil {
			log.Printf("Warning: Failed to create index: %v", err)
			// Don't return error here, indexes are not critical
		}
	}

	return nil
}
