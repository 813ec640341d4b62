// Package wallet talks to the player gold ledger. Flag actions debit it for
// placement, upgrades and repairs and credit it with collected revenue.
package wallet

import (
	"context"
	"math"
	"sync"

	"github.com/geoflags/territory/pkg/core"
)

// Wallet is the player gold collaborator.
type Wallet interface {
	// Debit removes amount from the player's gold or fails with
	// core.ErrInsufficientFunds leaving the balance untouched.
	Debit(ctx context.Context, playerID string, amount float64) error
	Credit(ctx context.Context, playerID string, amount float64) error
	Balance(ctx context.Context, playerID string) (float64, error)
}

func checkAmount(playerID string, amount float64) error {
	if playerID == "" {
		return core.Errorf(core.KindValidation, "player id is required")
	}
	if amount < 0 || math.IsNaN(amount) || math.IsInf(amount, 0) {
		return core.Errorf(core.KindValidation, "invalid amount %v", amount)
	}
	return nil
}

// Memory is an in-process wallet. Players that were never seen start with
// the configured starting gold.
type Memory struct {
	mu       sync.Mutex
	starting float64
	balances map[string]float64
}

// NewMemory creates an in-process wallet.
func NewMemory(startingGold float64) *Memory {
	return &Memory{starting: startingGold, balances: make(map[string]float64)}
}

func (m *Memory) balance(playerID string) float64 {
	b, ok := m.balances[playerID]
	if !ok {
		b = m.starting
		m.balances[playerID] = b
	}
	return b
}

func (m *Memory) Debit(ctx context.Context, playerID string, amount float64) error {
	if err := checkAmount(playerID, amount); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balance(playerID)
	if b < amount {
		return core.Errorf(core.KindInsufficientFunds, "need %.0f gold, have %.0f", amount, b)
	}
	m.balances[playerID] = b - amount
	return nil
}

func (m *Memory) Credit(ctx context.Context, playerID string, amount float64) error {
	if err := checkAmount(playerID, amount); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[playerID] = m.balance(playerID) + amount
	return nil
}

func (m *Memory) Balance(ctx context.Context, playerID string) (float64, error) {
	if playerID == "" {
		return 0, core.Errorf(core.KindValidation, "player id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.balance(playerID), nil
}

// Set overwrites a player's balance.
func (m *Memory) Set(playerID string, amount float64) {
	m.mu.Lock()
	m.balances[playerID] = amount
	m.mu.Unlock()
}
