/*

This file contains the share-accounting state for a vault wrapper and the
snapshot/history types recorded by the daemon around engine calls.

*/

package types

import (
	"time"

	sdkmath "cosmossdk.io/math"
)

// VaultState is the accounting state of one vault wrapper. The identity
// TotalAssets + ClaimableFees == externalBalance must hold after every mutating
// call.
type VaultState struct {
	TotalAssets                 sdkmath.Int `json:"total_assets"`
	LastObservedExternalBalance sdkmath.Int `json:"last_observed_external_balance"`
	FeeRateBps                  uint64      `json:"fee_rate_bps"`
	ClaimableFees               sdkmath.Int `json:"claimable_fees"`
	TotalShares                 sdkmath.Int `json:"total_shares"`
}

// FeeUpdateRecord is one poke outcome, persisted for operational history.
type FeeUpdateRecord struct {
	RecordID       int64             `json:"record_id,omitempty"` // Auto-incremented by DB.
	PoolID         PoolID            `json:"pool_id"`
	Timestamp      time.Time         `json:"timestamp"`
	CurrentRatio   sdkmath.LegacyDec `json:"current_ratio"`
	OldFee         uint64            `json:"old_fee"`
	NewFee         uint64            `json:"new_fee"`
	OldTargetRatio sdkmath.LegacyDec `json:"old_target_ratio"`
	NewTargetRatio sdkmath.LegacyDec `json:"new_target_ratio"`
	Applied        bool              `json:"applied"` // False when the cooldown gate skipped the poke.
	SkipReason     string            `json:"skip_reason,omitempty"`
	CycleNumber    int               `json:"cycle_number"`
}

// VaultSnapshot captures one vault wrapper's accounting at the end of a daemon
// cycle.
type VaultSnapshot struct {
	SnapshotID    int64        `json:"snapshot_id,omitempty"`
	PoolID        PoolID       `json:"pool_id"`
	Slot          CurrencySlot `json:"slot"`
	VaultID       string       `json:"vault_id"`
	Timestamp     time.Time    `json:"timestamp"`
	TotalAssets     sdkmath.Int  `json:"total_assets"`
	ClaimableFees   sdkmath.Int  `json:"claimable_fees"`
	TotalShares     sdkmath.Int  `json:"total_shares"`
	ExternalBalance sdkmath.Int  `json:"external_balance"`
	FeeRateBps      uint64       `json:"fee_rate_bps"`
	CycleNumber     int          `json:"cycle_number"`
}
