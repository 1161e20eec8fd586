/*

Drops and recreates the daemon's Postgres schema. Destructive; intended for
development databases only. Reads the same DB_* environment variables as the
daemon, from the environment or a .env file.

*/

package main

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/kinetic-fi/rhm/internal/logger"
	"github.com/kinetic-fi/rhm/internal/state"
)

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func main() {
	logger.Initialize(envOr("LOG_LEVEL", "info"))

	if err := godotenv.Load(); err != nil {
		log.Warn().Msg("No .env file found, relying on OS environment variables")
	}

	user := os.Getenv("DB_USER")
	name := os.Getenv("DB_NAME")
	if user == "" || name == "" {
		log.Fatal().Msg("DB_USER and DB_NAME must be set")
	}
	port, err := strconv.Atoi(envOr("DB_PORT", "5432"))
	if err != nil {
		log.Fatal().Err(err).Msg("DB_PORT is not a number")
	}

	cfg := state.DBConfig{
		Host:     envOr("DB_HOST", "localhost"),
		Port:     port,
		User:     user,
		Password: os.Getenv("DB_PASSWORD"),
		DBName:   name,
		SSLMode:  envOr("DB_SSLMODE", "disable"),
	}
	log.Info().Str("host", cfg.Host).Int("port", cfg.Port).Str("dbname", cfg.DBName).
		Msg("Connecting to database")

	if err := state.InitDB(cfg); err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer state.CloseDB()

	_, err = state.DB.Exec(`
		DROP TABLE IF EXISTS fee_updates CASCADE;
		DROP TABLE IF EXISTS vault_snapshots CASCADE;
		DROP TABLE IF EXISTS cycle_counter CASCADE;
	`)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to drop tables")
	}
	log.Info().Msg("Dropped all tables")

	if err := state.EnsureSchema(); err != nil {
		log.Fatal().Err(err).Msg("Failed to recreate schema")
	}
	log.Info().Msg("Database reset complete")
}
