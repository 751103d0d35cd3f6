package ai

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/suPer8Hu/playmate/internal/logger"
)

// Intent is the single variant the classifier assigns to an inbound message.
type Intent string

const (
	IntentUnknown      Intent = "unknown"
	IntentGreeting     Intent = "greeting"
	IntentProvideInfo  Intent = "provide_info"
	IntentWantsAnother Intent = "wants_another"
	IntentAccepted     Intent = "accepted"
	IntentDone         Intent = "done"
	IntentSimilarTo    Intent = "similar_to"
	IntentOptOut       Intent = "opt_out"
	IntentUnclear      Intent = "unclear"
)

var knownIntents = map[Intent]struct{}{
	IntentGreeting: {}, IntentProvideInfo: {}, IntentWantsAnother: {}, IntentAccepted: {},
	IntentDone: {}, IntentSimilarTo: {}, IntentOptOut: {}, IntentUnclear: {},
}

// Classification is the structured reading of the latest inbound message.
type Classification struct {
	Intent Intent `json:"intent"`

	Mood               string   `json:"mood,omitempty"`
	Genres             []string `json:"genres,omitempty"`
	Platforms          []string `json:"platforms,omitempty"`
	StoryPreference    *bool    `json:"story_preference,omitempty"`
	GameplayKeywords   []string `json:"gameplay_keywords,omitempty"`
	PreferenceKeywords []string `json:"preference_keywords,omitempty"`
	DislikeKeywords    []string `json:"dislike_keywords,omitempty"`
	FavoriteGames      []string `json:"favorite_games,omitempty"`
	RejectedGenres     []string `json:"rejected_genres,omitempty"`

	SeedTitle          string `json:"seed_title,omitempty"`
	Name               string `json:"name,omitempty"`
	Age                *int   `json:"age,omitempty"`
	PlaytimePreference string `json:"playtime_preference,omitempty"`
	Tone               string `json:"tone,omitempty"`
}

// HasSignals reports whether anything beyond the intent was extracted.
func (c Classification) HasSignals() bool {
	return c.Mood != "" || len(c.Genres) > 0 || len(c.Platforms) > 0 || c.StoryPreference != nil ||
		len(c.GameplayKeywords) > 0 || len(c.PreferenceKeywords) > 0 || len(c.DislikeKeywords) > 0 ||
		len(c.FavoriteGames) > 0
}

const classifierPrompt = `You read a chat between a game recommendation assistant and a user.
Classify ONLY the user's latest message and answer with one JSON object:
{"intent": one of "greeting","provide_info","wants_another","accepted","done","similar_to","opt_out","unclear",
 "mood": string, "genres": [string], "platforms": [string], "story_preference": true|false|null,
 "gameplay_keywords": [string], "preference_keywords": [string], "dislike_keywords": [string],
 "favorite_games": [string], "rejected_genres": [string], "seed_title": string,
 "name": string, "age": number|null, "playtime_preference": string, "tone": string}
Leave out anything the user did not say. Keep list items in the order the user stated them.`

var ErrMalformedClassification = errors.New("ai: malformed classification")

type Classifier struct {
	provider Provider
	timeout  time.Duration
	log      *logger.Logger
}

func NewClassifier(provider Provider, timeout time.Duration, log *logger.Logger) *Classifier {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Classifier{provider: provider, timeout: timeout, log: log.With("service", "Classifier")}
}

// Classify never fails: an unreachable provider or unparseable output yields
// IntentUnknown with no signals, so discovery re-asks instead of guessing.
func (c *Classifier) Classify(ctx context.Context, history []Message) Classification {
	if c.provider == nil || len(history) == 0 {
		return Classification{Intent: IntentUnknown}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	msgs := make([]Message, 0, len(history)+1)
	msgs = append(msgs, Message{Role: RoleSystem, Content: classifierPrompt})
	msgs = append(msgs, history...)

	var (
		raw string
		err error
	)
	if jp, ok := c.provider.(JSONProvider); ok {
		raw, err = jp.ChatJSON(ctx, msgs)
	} else {
		raw, err = c.provider.Chat(ctx, msgs)
	}
	if err != nil {
		c.log.Warn("classification call failed", "error", err)
		return Classification{Intent: IntentUnknown}
	}

	out, err := ParseClassification(raw)
	if err != nil {
		c.log.Warn("classification unparseable", "error", err)
		return Classification{Intent: IntentUnknown}
	}
	return out
}

// ParseClassification extracts the first JSON object from raw model output.
func ParseClassification(raw string) (Classification, error) {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return Classification{Intent: IntentUnknown}, ErrMalformedClassification
	}

	var out Classification
	if err := json.Unmarshal([]byte(raw[start:end+1]), &out); err != nil {
		return Classification{Intent: IntentUnknown}, errors.Join(ErrMalformedClassification, err)
	}

	out.Intent = Intent(strings.ToLower(strings.TrimSpace(string(out.Intent))))
	if _, ok := knownIntents[out.Intent]; !ok {
		out.Intent = IntentUnknown
	}
	out.Mood = strings.ToLower(strings.TrimSpace(out.Mood))
	out.Genres = clean(out.Genres)
	out.Platforms = clean(out.Platforms)
	out.GameplayKeywords = clean(out.GameplayKeywords)
	out.PreferenceKeywords = clean(out.PreferenceKeywords)
	out.DislikeKeywords = clean(out.DislikeKeywords)
	out.FavoriteGames = clean(out.FavoriteGames)
	out.RejectedGenres = clean(out.RejectedGenres)
	out.SeedTitle = strings.TrimSpace(out.SeedTitle)
	out.Name = strings.TrimSpace(out.Name)
	if out.Age != nil && (*out.Age <= 0 || *out.Age > 120) {
		out.Age = nil
	}
	return out, nil
}

func clean(xs []string) []string {
	if len(xs) == 0 {
		return nil
	}
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if x = strings.TrimSpace(x); x != "" {
			out = append(out, x)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
