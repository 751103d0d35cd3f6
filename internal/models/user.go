package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// User is the long-lived aggregate behind every session, keyed by the
// messaging channel address.
type User struct {
	ID      uint64 `gorm:"primaryKey;autoIncrement" json:"id"`
	Address string `gorm:"type:varchar(128);uniqueIndex;not null" json:"address"`

	Name               string                      `gorm:"type:varchar(64)" json:"name"`
	Age                *int                        `json:"age,omitempty"`
	StoryPreference    *bool                       `json:"story_preference,omitempty"`
	PlaytimePreference string                      `gorm:"type:varchar(32)" json:"playtime_preference"`
	FavoriteGames      datatypes.JSONSlice[string] `json:"favorite_games"`
	RejectedGenres     datatypes.JSONSlice[string] `json:"rejected_genres"`

	NameProbeSent bool `gorm:"not null;default:false" json:"-"`
	OptedOut      bool `gorm:"not null;default:false" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (User) TableName() string { return "users" }

// HasName reports whether the user has told us what to call them.
func (u *User) HasName() bool { return strings.TrimSpace(u.Name) != "" }

// RejectsGenre reports a case-insensitive exact match against the rejected tags.
func (u *User) RejectsGenre(tag string) bool {
	for _, g := range u.RejectedGenres {
		if strings.EqualFold(strings.TrimSpace(g), strings.TrimSpace(tag)) {
			return true
		}
	}
	return false
}

type ObservationKind string

const (
	ObservedMood     ObservationKind = "mood"
	ObservedGenre    ObservationKind = "genre"
	ObservedPlatform ObservationKind = "platform"
)

// UserObservation is one per-day preference sighting. Duplicate sightings on
// the same day collapse onto the unique index.
type UserObservation struct {
	ID        uint64          `gorm:"primaryKey;autoIncrement"`
	UserID    uint64          `gorm:"not null;index:uniq_user_obs,unique,priority:1"`
	Day       string          `gorm:"type:varchar(10);not null;index:uniq_user_obs,unique,priority:2"`
	Kind      ObservationKind `gorm:"type:varchar(16);not null;index:uniq_user_obs,unique,priority:3"`
	Value     string          `gorm:"type:varchar(64);not null;index:uniq_user_obs,unique,priority:4"`
	CreatedAt time.Time
}

func (UserObservation) TableName() string { return "user_observations" }
