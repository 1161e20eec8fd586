// ./internal/state/fee_history_store.go
package state

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/kinetic-fi/rhm/internal/types"
)

// SaveFeeUpdate persists one poke outcome, applied or skipped.
func SaveFeeUpdate(record types.FeeUpdateRecord) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO fee_updates (
			cycle_number, update_timestamp, pool_id,
			observed_ratio, old_fee_pips, new_fee_pips,
			old_target_ratio, new_target_ratio,
			applied, skip_reason
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING update_id;
	`

	var recordID int64
	err := DB.QueryRow(
		query,
		record.CycleNumber, record.Timestamp, uint64(record.PoolID),
		record.CurrentRatio.String(), record.OldFee, record.NewFee,
		record.OldTargetRatio.String(), record.NewTargetRatio.String(),
		record.Applied, nullIfEmpty(record.SkipReason),
	).Scan(&recordID)

	if err != nil {
		return 0, fmt.Errorf("failed to save fee update: %w", err)
	}

	log.Debug().
		Int64("record_id", recordID).
		Uint64("pool_id", uint64(record.PoolID)).
		Bool("applied", record.Applied).
		Msg("Fee update saved to database")

	return recordID, nil
}

// GetFeeHistory returns the most recent fee updates for a pool, newest first.
func GetFeeHistory(poolID types.PoolID, limit int) ([]types.FeeUpdateRecord, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT update_id, cycle_number, update_timestamp, pool_id,
		       observed_ratio, old_fee_pips, new_fee_pips,
		       old_target_ratio, new_target_ratio,
		       applied, COALESCE(skip_reason, '')
		FROM fee_updates
		WHERE pool_id = $1
		ORDER BY update_timestamp DESC
		LIMIT $2;
	`

	rows, err := DB.Query(query, uint64(poolID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query fee history: %w", err)
	}
	defer rows.Close()

	var records []types.FeeUpdateRecord
	for rows.Next() {
		var r types.FeeUpdateRecord
		var poolIDRaw uint64
		var ratioStr, oldTargetStr, newTargetStr string

		err := rows.Scan(
			&r.RecordID, &r.CycleNumber, &r.Timestamp, &poolIDRaw,
			&ratioStr, &r.OldFee, &r.NewFee,
			&oldTargetStr, &newTargetStr,
			&r.Applied, &r.SkipReason,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan fee update row: %w", err)
		}
		r.PoolID = types.PoolID(poolIDRaw)

		r.CurrentRatio, err = sdkmath.LegacyNewDecFromStr(ratioStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse observed_ratio %q: %w", ratioStr, err)
		}
		r.OldTargetRatio, err = sdkmath.LegacyNewDecFromStr(oldTargetStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse old_target_ratio %q: %w", oldTargetStr, err)
		}
		r.NewTargetRatio, err = sdkmath.LegacyNewDecFromStr(newTargetStr)
		if err != nil {
			return nil, fmt.Errorf("failed to parse new_target_ratio %q: %w", newTargetStr, err)
		}

		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating fee history rows: %w", err)
	}

	return records, nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
