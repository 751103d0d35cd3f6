package models

import "time"

type Direction string

const (
	Inbound  Direction = "inbound"
	Outbound Direction = "outbound"
)

// Interaction is one append-only message owned by a session.
type Interaction struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID      string    `gorm:"type:varchar(26);not null;index:idx_interaction_session_id" json:"session_id"`
	UserID         uint64    `gorm:"not null;index" json:"-"`
	Direction      Direction `gorm:"type:varchar(8);not null" json:"direction"`
	Sender         string    `gorm:"type:varchar(16);not null" json:"sender"`
	Content        string    `gorm:"type:text;not null" json:"content"`
	Tone           string    `gorm:"type:varchar(32)" json:"tone,omitempty"`
	ItemID         *uint64   `json:"item_id,omitempty"`
	IdempotencyKey *string   `gorm:"type:varchar(128);uniqueIndex" json:"-"`
	CreatedAt      time.Time `json:"created_at"`
}

func (Interaction) TableName() string { return "interactions" }

type DeliveryStatus string

const (
	DeliveryQueued    DeliveryStatus = "queued"
	DeliveryRunning   DeliveryStatus = "running"
	DeliverySucceeded DeliveryStatus = "succeeded"
	DeliveryFailed    DeliveryStatus = "failed"
)

// Delivery is one queued outbound message handed to the worker.
type Delivery struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	UserID  uint64 `gorm:"index;not null"`
	Address string `gorm:"type:varchar(128);not null"`
	Content string `gorm:"type:text;not null"`

	IdempotencyKey *string `gorm:"type:varchar(128);uniqueIndex"`

	Status DeliveryStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Delivery) TableName() string { return "deliveries" }

// All lists every model for migration.
func All() []any {
	return []any{
		&User{},
		&UserObservation{},
		&Session{},
		&Interaction{},
		&Item{},
		&Recommendation{},
		&Delivery{},
	}
}
