// pkg/core/ledger.go
package core

import "time"

// LedgerType names the economic or combat event a ledger entry records.
type LedgerType string

const (
	LedgerAccrual    LedgerType = "accrual"
	LedgerUpkeep     LedgerType = "upkeep"
	LedgerCollection LedgerType = "collection"
	LedgerAttack     LedgerType = "attack"
	LedgerCapture    LedgerType = "capture"
	LedgerPlacement  LedgerType = "placement"
	LedgerUpgrade    LedgerType = "upgrade"
	LedgerRepair     LedgerType = "repair"
	LedgerDecay      LedgerType = "decay"
	LedgerAbandon    LedgerType = "abandon"
)

// LedgerEntry is an immutable audit record against one flag.
// Amount is the signed change to the flag balance where applicable
// (accrual positive, upkeep/collection negative); for attacks and decay it
// is the hp removed, for placement/upgrade/repair the gold paid by the actor.
type LedgerEntry struct {
	ID      string
	FlagID  string
	Type    LedgerType
	Amount  float64
	Factor  float64 // variance factor sampled for accruals, 0 otherwise
	ActorID string
	At      time.Time
	Details map[string]any
}

// AffectsBalance reports whether the entry changed the cached flag balance.
func (e LedgerEntry) AffectsBalance() bool {
	switch e.Type {
	case LedgerAccrual, LedgerUpkeep, LedgerCollection:
		return true
	case LedgerCapture:
		// capture entries carry the balance taken off the flag
		return true
	}
	return false
}
