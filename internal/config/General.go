package config

import (
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"
)

// AppConfig holds all application configuration loaded from environment variables.
// These are populated at startup by the LoadConfig function.
var (
	// PoolID is the ID of the pool this daemon instance will manage.
	PoolID uint64

	// CycleInterval is the wall-clock time between daemon control cycles.
	CycleInterval time.Duration

	// WebPort is the port the HTTP API listens on.
	WebPort int

	// VaultFeeBps is the performance fee the vault wrappers skim from
	// positive yield, in basis points.
	VaultFeeBps uint64

	// SimYieldBps is the per-cycle yield drift applied to the simulated
	// yield vaults, in basis points of external balance.
	SimYieldBps uint64
	// SimSlashBps is the per-cycle slash probability weight applied to the
	// simulated yield vaults, in basis points of external balance.
	SimSlashBps uint64

	// DBHost is the PostgreSQL host.
	DBHost string
	// DBPort is the PostgreSQL port.
	DBPort int
	// DBUser is the PostgreSQL user.
	DBUser string
	// DBPassword is the PostgreSQL password.
	DBPassword string
	// DBName is the PostgreSQL database name.
	DBName string
	// DBSSLMode is the PostgreSQL SSL mode ("disable", "require", ...).
	DBSSLMode string
)

// LoadConfig loads configuration from environment variables and sets the global config vars.
// All environment variables are required and must be set.
func LoadConfig() error {
	log.Info().Msg("Loading application configuration from environment variables...")

	var err error

	PoolID, err = getEnvAsUint64("RHM_POOL_ID")
	if err != nil {
		return err
	}

	intervalSeconds, err := getEnvAsUint64("RHM_CYCLE_INTERVAL_SECONDS")
	if err != nil {
		return err
	}
	if intervalSeconds == 0 {
		return errors.New("environment variable RHM_CYCLE_INTERVAL_SECONDS must be greater than zero")
	}
	CycleInterval = time.Duration(intervalSeconds) * time.Second

	WebPort, err = getEnvAsInt("RHM_WEB_PORT")
	if err != nil {
		return err
	}

	VaultFeeBps, err = getEnvAsUint64("RHM_VAULT_FEE_BPS")
	if err != nil {
		return err
	}

	SimYieldBps, err = getEnvAsUint64("RHM_SIM_YIELD_BPS")
	if err != nil {
		return err
	}

	SimSlashBps, err = getEnvAsUint64("RHM_SIM_SLASH_BPS")
	if err != nil {
		return err
	}

	if err := loadDBConfig(); err != nil {
		return err
	}

	log.Debug().
		Uint64("PoolID", PoolID).
		Dur("CycleInterval", CycleInterval).
		Int("WebPort", WebPort).
		Msg("Configuration loaded successfully.")

	return nil
}

// loadDBConfig loads PostgreSQL configuration from environment variables.
func loadDBConfig() error {
	var err error

	DBHost, err = getEnv("DB_HOST")
	if err != nil {
		return err
	}

	DBPort, err = getEnvAsInt("DB_PORT")
	if err != nil {
		return err
	}

	DBUser, err = getEnv("DB_USER")
	if err != nil {
		return err
	}

	DBPassword, err = getEnv("DB_PASSWORD")
	if err != nil {
		return err
	}

	DBName, err = getEnv("DB_NAME")
	if err != nil {
		return err
	}

	DBSSLMode, err = getEnv("DB_SSLMODE")
	if err != nil {
		return err
	}

	log.Debug().
		Str("DBHost", DBHost).
		Int("DBPort", DBPort).
		Str("DBName", DBName).
		Msg("Database configuration loaded successfully.")

	return nil
}

// getEnv retrieves a string environment variable. Returns error if not set.
func getEnv(key string) (string, error) {
	if value, exists := os.LookupEnv(key); exists {
		return value, nil
	}
	return "", errors.New("environment variable " + key + " is required but not set")
}

// getEnvAsUint64 retrieves an environment variable as a uint64. Returns error if not set or invalid.
func getEnvAsUint64(key string) (uint64, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.ParseUint(valueStr, 10, 64)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid uint64, got: " + valueStr)
	}
	return value, nil
}

// getEnvAsInt retrieves an environment variable as an int. Returns error if not set or invalid.
func getEnvAsInt(key string) (int, error) {
	valueStr, err := getEnv(key)
	if err != nil {
		return 0, err
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return 0, errors.New("environment variable " + key + " must be a valid int, got: " + valueStr)
	}
	return value, nil
}
