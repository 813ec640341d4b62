// pkg/core/events.go
package core

import "time"

// EventType names a notification emitted after a committed flag mutation.
type EventType string

const (
	EventPlaced      EventType = "flag_placed"
	EventUpgraded    EventType = "flag_upgraded"
	EventAttacked    EventType = "flag_attacked"
	EventDestroyed   EventType = "flag_destroyed"
	EventCaptured    EventType = "flag_captured"
	EventCollected   EventType = "revenue_collected"
	EventRepaired    EventType = "flag_repaired"
	EventAbandoned   EventType = "flag_abandoned"
	EventWindowLapse EventType = "capture_window_expired"
)

// Event is a fire-and-forget notification carrying a flag snapshot.
type Event struct {
	Type    EventType `json:"type"`
	ActorID string    `json:"actorId,omitempty"`
	Amount  float64   `json:"amount,omitempty"`
	At      time.Time `json:"at"`
	Flag    Snapshot  `json:"flag"`
}

// Snapshot is the externally visible view of a flag.
type Snapshot struct {
	ID                    string     `json:"id"`
	OwnerID               string     `json:"ownerId,omitempty"`
	Lat                   float64    `json:"lat"`
	Lon                   float64    `json:"lon"`
	Radius                float64    `json:"radius"`
	Level                 int        `json:"level"`
	HP                    int        `json:"hp"`
	MaxHP                 int        `json:"maxHp"`
	Status                Status     `json:"status"`
	Balance               float64    `json:"balance"`
	CaptureWindowOpenedAt *time.Time `json:"captureWindowOpenedAt,omitempty"`
	ProtectedUntil        *time.Time `json:"protectedUntil,omitempty"`
	CreatedAt             time.Time  `json:"createdAt"`
	Color                 string     `json:"color,omitempty"`
	Version               int64      `json:"version"`
}

// Snapshot returns the public view of f.
func (f *Flag) Snapshot() Snapshot {
	return Snapshot{
		ID:                    f.ID,
		OwnerID:               f.OwnerID,
		Lat:                   f.Lat,
		Lon:                   f.Lon,
		Radius:                f.Radius,
		Level:                 f.Level,
		HP:                    f.HP,
		MaxHP:                 f.MaxHP,
		Status:                f.Status,
		Balance:               f.Balance,
		CaptureWindowOpenedAt: cloneTime(f.CaptureWindowOpenedAt),
		ProtectedUntil:        cloneTime(f.ProtectedUntil),
		CreatedAt:             f.CreatedAt,
		Color:                 f.Color,
		Version:               f.Version,
	}
}
