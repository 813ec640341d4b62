package core

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := Errorf(KindNotInRange, "attacker is %.0fm away, zone radius is %.0fm", 250.0, 200.0)
	wrapped := fmt.Errorf("attack flag f1: %w", err)

	assert.True(t, errors.Is(wrapped, ErrNotInRange))
	assert.False(t, errors.Is(wrapped, ErrNotOwner))
	assert.Equal(t, KindNotInRange, KindOf(wrapped))
	assert.Equal(t, "attacker is 250m away, zone radius is 200m", ReasonOf(wrapped))
}

func TestError_WrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(KindStorageUnavailable, cause, "update flag")

	assert.ErrorIs(t, err, cause)
	assert.ErrorIs(t, err, ErrStorageUnavailable)
	assert.Equal(t, "storage_unavailable: update flag: connection refused", err.Error())
}

func TestKindOf_PlainError(t *testing.T) {
	assert.Equal(t, Kind(""), KindOf(errors.New("boom")))
	assert.Equal(t, "boom", ReasonOf(errors.New("boom")))
	assert.Equal(t, "", ReasonOf(nil))
}

func TestParseStatus(t *testing.T) {
	for _, st := range AllStatuses {
		got, err := ParseStatus(string(st))
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}

	_, err := ParseStatus("burning")
	assert.Error(t, err)
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, StatusCapturable.Destroyed())
	assert.True(t, StatusDecayed.Destroyed())
	assert.False(t, StatusDamaged.Destroyed())

	assert.True(t, StatusUpgrading.Earning())
	assert.False(t, StatusCapturable.Earning())
	assert.False(t, StatusDecayed.Attackable())
}

func TestFlag_CloneIsDeep(t *testing.T) {
	opened := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := &Flag{ID: "f1", Level: 1, HP: 0, MaxHP: 100, Status: StatusCapturable, CaptureWindowOpenedAt: &opened}

	c := f.Clone()
	*c.CaptureWindowOpenedAt = opened.Add(time.Hour)

	assert.Equal(t, opened, *f.CaptureWindowOpenedAt)
}

func TestFlag_CheckInvariants(t *testing.T) {
	tests := []struct {
		name    string
		flag    Flag
		wantErr bool
	}{
		{"healthy", Flag{ID: "a", Level: 1, HP: 100, MaxHP: 100, Status: StatusActive}, false},
		{"zero hp capturable", Flag{ID: "b", Level: 1, HP: 0, MaxHP: 100, Status: StatusCapturable}, false},
		{"zero hp active", Flag{ID: "c", Level: 1, HP: 0, MaxHP: 100, Status: StatusActive}, true},
		{"overheal", Flag{ID: "d", Level: 1, HP: 101, MaxHP: 100, Status: StatusActive}, true},
		{"negative", Flag{ID: "e", Level: 1, HP: -1, MaxHP: 100, Status: StatusDecayed}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.flag.CheckInvariants()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestFlag_Protected(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	f := &Flag{ProtectedUntil: TimePtr(now.Add(time.Minute))}

	assert.True(t, f.Protected(now))
	assert.False(t, f.Protected(now.Add(time.Minute)))
	assert.False(t, (&Flag{}).Protected(now))
}

func TestLedgerEntry_AffectsBalance(t *testing.T) {
	assert.True(t, LedgerEntry{Type: LedgerAccrual}.AffectsBalance())
	assert.True(t, LedgerEntry{Type: LedgerCollection}.AffectsBalance())
	assert.False(t, LedgerEntry{Type: LedgerAttack}.AffectsBalance())
	assert.False(t, LedgerEntry{Type: LedgerPlacement}.AffectsBalance())
}
