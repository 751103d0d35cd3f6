package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignals_HasCore(t *testing.T) {
	yes := true
	s := Signals{Mood: "chill", Genres: []string{"puzzle"}, Platforms: []string{"PC"}}
	assert.False(t, s.HasCore())
	s.StoryPreference = &yes
	assert.True(t, s.HasCore())
	assert.False(t, s.Has(SignalFavoriteGame))
}

func TestSession_IsComplete(t *testing.T) {
	yes := true
	s := &Session{Signals: Signals{Mood: "chill", Genres: []string{"puzzle"}, Platforms: []string{"PC"}, StoryPreference: &yes}}
	assert.True(t, s.IsComplete())
	s.ServedCount = 5
	assert.True(t, s.IsComplete(), "serving does not count as rejection")
	s.RejectedCount = 2
	assert.False(t, s.IsComplete())
}

func TestSignals_LatestAndEmpty(t *testing.T) {
	s := Signals{Genres: []string{"rpg", "puzzle", " "}}
	assert.Equal(t, "puzzle", s.LatestGenre())
	assert.Equal(t, "", s.LatestPlatform())
	assert.False(t, s.Empty())
	assert.True(t, Signals{Mood: "happy"}.Empty())
}

func TestSession_AskedAndRejected(t *testing.T) {
	s := &Session{}
	s.MarkAsked(SignalGenre)
	s.MarkAsked(SignalGenre)
	assert.Len(t, s.AskedSignals, 1)
	assert.True(t, s.HasAsked(SignalGenre))

	s.Reject(7)
	s.Reject(7)
	assert.True(t, s.HasRejected(7))
	assert.Len(t, s.RejectedGames, 1)
}

func TestSession_IdleSince(t *testing.T) {
	in := time.Date(2026, 1, 1, 10, 0, 0, 0, time.UTC)
	out := in.Add(time.Minute)
	s := &Session{LastActivityAt: in}
	assert.Equal(t, in, s.IdleSince())
	s.LastOutboundAt = &out
	assert.Equal(t, out, s.IdleSince())
}

func TestItem_Matching(t *testing.T) {
	it := &Item{Genres: []string{"Action", "Roguelike"}, Platforms: []string{"PC"}}
	assert.True(t, it.HasGenre("roguelike"))
	assert.False(t, it.HasGenre("rogue"))
	assert.True(t, it.AvailableOn("pc"))
	assert.Equal(t, "Roguelike", it.SpecificGenre())

	u := &User{RejectedGenres: []string{"Horror"}}
	assert.True(t, u.RejectsGenre("horror"))
	assert.False(t, u.HasName())
}
