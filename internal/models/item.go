package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

// Item is recommendable reference data. Embeddings are computed once at
// catalog import.
type Item struct {
	ID        uint64                      `gorm:"primaryKey;autoIncrement" json:"id"`
	Title     string                      `gorm:"type:varchar(191);uniqueIndex;not null" json:"title"`
	Genres    datatypes.JSONSlice[string] `json:"genres"`
	Platforms datatypes.JSONSlice[string] `json:"platforms"`
	AgeRating int                         `gorm:"not null;default:0" json:"age_rating"`

	GameplayDescription   string `gorm:"type:text" json:"gameplay_description"`
	PreferenceDescription string `gorm:"type:text" json:"preference_description"`

	GameplayEmbedding   datatypes.JSONSlice[float32] `json:"-"`
	PreferenceEmbedding datatypes.JSONSlice[float32] `json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Item) TableName() string { return "items" }

// HasGenre is a case-insensitive exact tag match.
func (i *Item) HasGenre(tag string) bool {
	return containsFold(i.Genres, tag)
}

// AvailableOn is a case-insensitive exact platform match.
func (i *Item) AvailableOn(platform string) bool {
	return containsFold(i.Platforms, platform)
}

// SpecificGenre is the last-listed, most specific genre tag.
func (i *Item) SpecificGenre() string {
	return last(i.Genres)
}

func containsFold(xs []string, want string) bool {
	want = strings.TrimSpace(want)
	if want == "" {
		return false
	}
	for _, x := range xs {
		if strings.EqualFold(strings.TrimSpace(x), want) {
			return true
		}
	}
	return false
}
