package vaultwrap

import (
	"errors"
	"fmt"
	"sync"

	sdkmath "cosmossdk.io/math"
)

// YieldVault is the external yield source a wrapper sits on top of. The wrapper
// owns all share accounting; a yield source only has to move assets in and out
// and report what it currently holds for the wrapper. Balance changes the
// wrapper did not cause are yield (positive) or slashing (negative).
type YieldVault interface {
	// Deposit moves assets from the wrapper into the yield source.
	Deposit(amount sdkmath.Int) error

	// Withdraw moves assets from the yield source back out. It must fail rather
	// than partially fill.
	Withdraw(amount sdkmath.Int) error

	// ExternalBalance reports the assets currently held for the wrapper,
	// including any yield accrued or slashing suffered since the last call.
	ExternalBalance() (sdkmath.Int, error)
}

var (
	ErrSimVaultInsufficient = errors.New("simulated vault balance insufficient")
	ErrSimVaultInvalid      = errors.New("simulated vault amount is invalid")
)

// SimulatedYieldVault is a deterministic in-memory YieldVault used by the
// daemon's simulation mode and by tests. Yield and slashing are injected
// explicitly by the operator loop.
type SimulatedYieldVault struct {
	mu      sync.Mutex
	id      string
	balance sdkmath.Int
}

func NewSimulatedYieldVault(id string) *SimulatedYieldVault {
	return &SimulatedYieldVault{id: id, balance: sdkmath.ZeroInt()}
}

func (s *SimulatedYieldVault) ID() string { return s.id }

func (s *SimulatedYieldVault) Deposit(amount sdkmath.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: deposit %s", ErrSimVaultInvalid, amount)
	}
	s.balance = s.balance.Add(amount)
	return nil
}

func (s *SimulatedYieldVault) Withdraw(amount sdkmath.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: withdraw %s", ErrSimVaultInvalid, amount)
	}
	if amount.GT(s.balance) {
		return fmt.Errorf("%w: want %s, have %s", ErrSimVaultInsufficient, amount, s.balance)
	}
	s.balance = s.balance.Sub(amount)
	return nil
}

func (s *SimulatedYieldVault) ExternalBalance() (sdkmath.Int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance, nil
}

// AccrueYield injects positive yield, as the external protocol would.
func (s *SimulatedYieldVault) AccrueYield(amount sdkmath.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: yield %s", ErrSimVaultInvalid, amount)
	}
	s.balance = s.balance.Add(amount)
	return nil
}

// Slash removes value from the position, as an external slashing event would.
// Slashing more than the balance clamps to zero.
func (s *SimulatedYieldVault) Slash(amount sdkmath.Int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if amount.IsNil() || amount.IsNegative() {
		return fmt.Errorf("%w: slash %s", ErrSimVaultInvalid, amount)
	}
	s.balance = s.balance.Sub(amount)
	if s.balance.IsNegative() {
		s.balance = sdkmath.ZeroInt()
	}
	return nil
}

// Snapshot returns the current balance for rollback support.
func (s *SimulatedYieldVault) Snapshot() sdkmath.Int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balance
}

// Restore rewinds the balance to a previous snapshot.
func (s *SimulatedYieldVault) Restore(balance sdkmath.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = balance
}
