// ./internal/state/db.go
package state

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/rs/zerolog/log"
)

// DB is a global database connection pool.
var DB *sql.DB

// DBConfig holds database connection parameters.
type DBConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string // "disable", "require", "verify-full", etc.
}

// InitDB initializes the database connection pool.
func InitDB(cfg DBConfig) error {
	psqlInfo := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	var err error
	DB, err = sql.Open("postgres", psqlInfo)
	if err != nil {
		return fmt.Errorf("failed to open database connection: %w", err)
	}

	DB.SetMaxOpenConns(25)
	DB.SetMaxIdleConns(25)
	DB.SetConnMaxLifetime(5 * time.Minute)

	err = DB.Ping()
	if err != nil {
		DB.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	log.Info().Msg("Successfully connected to the PostgreSQL database!")
	return nil
}

// CloseDB closes the database connection pool.
func CloseDB() {
	if DB != nil {
		log.Info().Msg("Closing database connection...")
		if err := DB.Close(); err != nil {
			log.Error().Err(err).Msg("Error closing database connection")
		}
	}
}

// EnsureSchema applies the necessary DDL to create tables if they don't exist.
func EnsureSchema() error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}

	schemaSQL := `
		CREATE TABLE IF NOT EXISTS fee_updates (
			update_id SERIAL PRIMARY KEY,
			cycle_number INTEGER NOT NULL,
			update_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			pool_id BIGINT NOT NULL,
			observed_ratio DECIMAL(40, 18) NOT NULL,
			old_fee_pips BIGINT NOT NULL,
			new_fee_pips BIGINT NOT NULL,
			old_target_ratio DECIMAL(40, 18) NOT NULL,
			new_target_ratio DECIMAL(40, 18) NOT NULL,
			applied BOOLEAN NOT NULL,
			skip_reason TEXT
		);
		CREATE INDEX IF NOT EXISTS idx_fee_updates_pool_id ON fee_updates(pool_id);
		CREATE INDEX IF NOT EXISTS idx_fee_updates_timestamp ON fee_updates(update_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_fee_updates_cycle ON fee_updates(cycle_number DESC);

		CREATE TABLE IF NOT EXISTS vault_snapshots (
			snapshot_id SERIAL PRIMARY KEY,
			cycle_number INTEGER NOT NULL,
			snapshot_timestamp TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			pool_id BIGINT NOT NULL,
			currency_slot SMALLINT NOT NULL,
			vault_id VARCHAR(255) NOT NULL,
			total_assets DECIMAL(40, 0) NOT NULL,
			total_shares DECIMAL(40, 0) NOT NULL,
			claimable_fees DECIMAL(40, 0) NOT NULL,
			external_balance DECIMAL(40, 0) NOT NULL,
			fee_rate_bps BIGINT NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_vault_snapshots_pool_id ON vault_snapshots(pool_id);
		CREATE INDEX IF NOT EXISTS idx_vault_snapshots_timestamp ON vault_snapshots(snapshot_timestamp DESC);
		CREATE INDEX IF NOT EXISTS idx_vault_snapshots_cycle ON vault_snapshots(cycle_number DESC);

		-- Cycle counter table for persistent global cycle tracking
		CREATE TABLE IF NOT EXISTS cycle_counter (
			id INTEGER PRIMARY KEY DEFAULT 1,
			current_cycle INTEGER NOT NULL DEFAULT 0,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
			CONSTRAINT single_row_check CHECK (id = 1)
		);

		-- Insert initial row if it doesn't exist
		INSERT INTO cycle_counter (id, current_cycle)
		VALUES (1, 0)
		ON CONFLICT (id) DO NOTHING;
	`
	_, err := DB.Exec(schemaSQL)
	if err != nil {
		return fmt.Errorf("failed to execute schema DDL: %w", err)
	}
	log.Info().Msg("Database schema ensured.")
	return nil
}

// TestDBConnection tests if the database connection is healthy
func TestDBConnection() error {
	if DB == nil {
		return fmt.Errorf("database connection is nil")
	}

	// Use a short timeout context for health checks
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := DB.PingContext(ctx)
	if err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}

	return nil
}
