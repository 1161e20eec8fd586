/*

This file manages the persistent global cycle counter. Cycle numbers tie fee
update rows and vault snapshot rows from the same daemon pass together, and
the counter lives in the database so numbering survives restarts. The table
itself is created by EnsureSchema.

*/

package state

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// GetCurrentCycleNumber returns the last committed cycle number. A missing row
// reads as zero, matching a fresh schema.
func GetCurrentCycleNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var current int
	err := DB.QueryRow(`SELECT current_cycle FROM cycle_counter WHERE id = 1`).Scan(&current)
	if err == sql.ErrNoRows {
		log.Warn().Msg("No cycle counter row found, starting from 0")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read cycle counter: %w", err)
	}
	return current, nil
}

// IncrementCycleNumber advances the counter by one and returns the new value.
func IncrementCycleNumber() (int, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	var next int
	err := DB.QueryRow(`
		UPDATE cycle_counter
		SET current_cycle = current_cycle + 1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1
		RETURNING current_cycle`).Scan(&next)
	if err != nil {
		return 0, fmt.Errorf("failed to increment cycle counter: %w", err)
	}

	log.Debug().Int("cycle", next).Msg("Cycle counter advanced")
	return next, nil
}

// ResetCycleNumber forces the counter to a specific value. Maintenance use
// only; normal operation never rewinds cycles.
func ResetCycleNumber(cycleNumber int) error {
	if DB == nil {
		return fmt.Errorf("database not initialized")
	}
	if cycleNumber < 0 {
		return fmt.Errorf("cycle number cannot be negative: %d", cycleNumber)
	}

	result, err := DB.Exec(`
		UPDATE cycle_counter
		SET current_cycle = $1,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = 1`, cycleNumber)
	if err != nil {
		return fmt.Errorf("failed to reset cycle counter to %d: %w", cycleNumber, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("cycle counter row missing; run schema setup first")
	}

	log.Warn().Int("cycle", cycleNumber).Msg("Cycle counter reset")
	return nil
}
