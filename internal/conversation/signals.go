package conversation

import (
	"strings"

	"github.com/suPer8Hu/playmate/internal/ai"
	"github.com/suPer8Hu/playmate/internal/models"
)

// mergeList appends incoming values, moving restated ones to the end so the
// last element stays the most recent statement.
func mergeList(existing, incoming []string) []string {
	if len(incoming) == 0 {
		return existing
	}
	out := make([]string, 0, len(existing)+len(incoming))
	for _, e := range existing {
		if !containsFold(incoming, e) {
			out = append(out, e)
		}
	}
	for _, in := range incoming {
		in = strings.TrimSpace(in)
		if in != "" && !containsFold(out, in) {
			out = append(out, in)
		}
	}
	return out
}

func containsFold(xs []string, want string) bool {
	want = strings.TrimSpace(want)
	for _, x := range xs {
		if strings.EqualFold(strings.TrimSpace(x), want) {
			return true
		}
	}
	return false
}

// mergeSignals folds a classification into the session's signal store.
func mergeSignals(s *models.Signals, c ai.Classification) {
	if c.Mood != "" {
		s.Mood = c.Mood
	}
	s.Genres = mergeList(s.Genres, c.Genres)
	s.Platforms = mergeList(s.Platforms, c.Platforms)
	if c.StoryPreference != nil {
		v := *c.StoryPreference
		s.StoryPreference = &v
	}
	s.GameplayKeywords = mergeList(s.GameplayKeywords, c.GameplayKeywords)
	s.PreferenceKeywords = mergeList(s.PreferenceKeywords, c.PreferenceKeywords)
	s.DislikeKeywords = mergeList(s.DislikeKeywords, c.DislikeKeywords)
	s.FavoriteGames = mergeList(s.FavoriteGames, c.FavoriteGames)
}

// mergeProfile folds long-lived preferences into the user. It reports
// whether anything changed.
func mergeProfile(u *models.User, c ai.Classification) bool {
	changed := false
	if c.Name != "" && c.Name != u.Name {
		u.Name = c.Name
		changed = true
	}
	if c.Age != nil && (u.Age == nil || *u.Age != *c.Age) {
		v := *c.Age
		u.Age = &v
		changed = true
	}
	if c.StoryPreference != nil && (u.StoryPreference == nil || *u.StoryPreference != *c.StoryPreference) {
		v := *c.StoryPreference
		u.StoryPreference = &v
		changed = true
	}
	if c.PlaytimePreference != "" && c.PlaytimePreference != u.PlaytimePreference {
		u.PlaytimePreference = c.PlaytimePreference
		changed = true
	}
	if len(c.FavoriteGames) > 0 {
		u.FavoriteGames = mergeList(u.FavoriteGames, c.FavoriteGames)
		changed = true
	}
	if len(c.RejectedGenres) > 0 {
		u.RejectedGenres = mergeList(u.RejectedGenres, c.RejectedGenres)
		changed = true
	}
	return changed
}
