// ./internal/state/vault_history_store.go
package state

import (
	"fmt"

	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog/log"

	"github.com/kinetic-fi/rhm/internal/types"
)

// SaveVaultSnapshot persists one vault wrapper's end-of-cycle accounting.
func SaveVaultSnapshot(snapshot types.VaultSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	query := `
		INSERT INTO vault_snapshots (
			cycle_number, snapshot_timestamp, pool_id, currency_slot, vault_id,
			total_assets, total_shares, claimable_fees, external_balance, fee_rate_bps
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err := DB.QueryRow(
		query,
		snapshot.CycleNumber, snapshot.Timestamp, uint64(snapshot.PoolID),
		int(snapshot.Slot), snapshot.VaultID,
		snapshot.TotalAssets.String(), snapshot.TotalShares.String(),
		snapshot.ClaimableFees.String(), snapshot.ExternalBalance.String(),
		snapshot.FeeRateBps,
	).Scan(&snapshotID)

	if err != nil {
		return 0, fmt.Errorf("failed to save vault snapshot: %w", err)
	}

	log.Debug().
		Int64("snapshot_id", snapshotID).
		Uint64("pool_id", uint64(snapshot.PoolID)).
		Str("vault_id", snapshot.VaultID).
		Msg("Vault snapshot saved to database")

	return snapshotID, nil
}

// GetVaultHistory returns recent vault snapshots for a pool, newest first.
func GetVaultHistory(poolID types.PoolID, limit int) ([]types.VaultSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT snapshot_id, cycle_number, snapshot_timestamp, pool_id, currency_slot, vault_id,
		       total_assets, total_shares, claimable_fees, external_balance, fee_rate_bps
		FROM vault_snapshots
		WHERE pool_id = $1
		ORDER BY snapshot_timestamp DESC
		LIMIT $2;
	`

	rows, err := DB.Query(query, uint64(poolID), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query vault history: %w", err)
	}
	defer rows.Close()

	var snapshots []types.VaultSnapshot
	for rows.Next() {
		var s types.VaultSnapshot
		var poolIDRaw uint64
		var slotRaw int
		var assetsStr, sharesStr, feesStr, balanceStr string

		err := rows.Scan(
			&s.SnapshotID, &s.CycleNumber, &s.Timestamp, &poolIDRaw, &slotRaw, &s.VaultID,
			&assetsStr, &sharesStr, &feesStr, &balanceStr, &s.FeeRateBps,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan vault snapshot row: %w", err)
		}
		s.PoolID = types.PoolID(poolIDRaw)
		s.Slot = types.CurrencySlot(slotRaw)

		s.TotalAssets, err = parseInt(assetsStr, "total_assets")
		if err != nil {
			return nil, err
		}
		s.TotalShares, err = parseInt(sharesStr, "total_shares")
		if err != nil {
			return nil, err
		}
		s.ClaimableFees, err = parseInt(feesStr, "claimable_fees")
		if err != nil {
			return nil, err
		}
		s.ExternalBalance, err = parseInt(balanceStr, "external_balance")
		if err != nil {
			return nil, err
		}

		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating vault snapshot rows: %w", err)
	}

	return snapshots, nil
}

func parseInt(s, column string) (sdkmath.Int, error) {
	v, ok := sdkmath.NewIntFromString(s)
	if !ok {
		return sdkmath.Int{}, fmt.Errorf("failed to parse %s %q as integer", column, s)
	}
	return v, nil
}
