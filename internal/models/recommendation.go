package models

import (
	"time"

	"gorm.io/datatypes"
)

// Recommendation links a served item to the session that served it.
// (session_id, item_id) is unique: an item is never served twice per session.
type Recommendation struct {
	ID        uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID string `gorm:"type:varchar(26);not null;index:uniq_rec_session_item,unique,priority:1" json:"session_id"`
	ItemID    uint64 `gorm:"not null;index:uniq_rec_session_item,unique,priority:2" json:"item_id"`
	UserID    uint64 `gorm:"index;not null" json:"-"`

	Signals           datatypes.JSONType[Signals] `json:"signals"`
	IsLastSessionGame bool                        `gorm:"not null;default:false" json:"is_last_session_game"`
	Icebreaker        bool                        `gorm:"not null;default:false" json:"icebreaker"`

	// nil until feedback is classified
	Accepted *bool `json:"accepted"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Recommendation) TableName() string { return "recommendations" }
