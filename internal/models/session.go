package models

import (
	"slices"
	"strings"
	"time"

	"gorm.io/datatypes"
)

type LifecycleState string

const (
	LifecycleOnboarding LifecycleState = "onboarding"
	LifecycleActive     LifecycleState = "active"
	LifecyclePassive    LifecycleState = "passive"
	LifecycleCold       LifecycleState = "cold"
	LifecycleClosed     LifecycleState = "closed"
)

type Phase string

const (
	PhaseIntro        Phase = "intro"
	PhaseDiscovery    Phase = "discovery"
	PhaseConfirmation Phase = "confirmation"
	PhaseDelivery     Phase = "delivery"
	PhaseFollowup     Phase = "followup"
	PhaseEnding       Phase = "ending"
)

type ClarificationStatus string

const (
	ClarificationNone         ClarificationStatus = ""
	ClarificationWaiting      ClarificationStatus = "waiting"
	ClarificationNudgeSent    ClarificationStatus = "nudge_sent"
	ClarificationFallbackSent ClarificationStatus = "fallback_sent"
)

type SignalType string

const (
	SignalFavoriteGame    SignalType = "favorite_game"
	SignalGenre           SignalType = "genre"
	SignalPlatform        SignalType = "platform"
	SignalMood            SignalType = "mood"
	SignalStoryPreference SignalType = "story_preference"
)

// DiscoveryOrder is the order in which missing signals are requested.
var DiscoveryOrder = []SignalType{
	SignalFavoriteGame,
	SignalGenre,
	SignalPlatform,
	SignalMood,
	SignalStoryPreference,
}

// Signals are the structured facts collected during discovery. Lists keep
// statement order, so the last element is the most recent preference.
type Signals struct {
	Mood               string                      `gorm:"type:varchar(32)" json:"mood,omitempty"`
	Genres             datatypes.JSONSlice[string] `json:"genres,omitempty"`
	Platforms          datatypes.JSONSlice[string] `json:"platforms,omitempty"`
	StoryPreference    *bool                       `json:"story_preference,omitempty"`
	GameplayKeywords   datatypes.JSONSlice[string] `json:"gameplay_keywords,omitempty"`
	PreferenceKeywords datatypes.JSONSlice[string] `json:"preference_keywords,omitempty"`
	DislikeKeywords    datatypes.JSONSlice[string] `json:"dislike_keywords,omitempty"`
	FavoriteGames      datatypes.JSONSlice[string] `json:"favorite_games,omitempty"`
}

// Has reports whether a signal of the given type has been collected.
func (s Signals) Has(t SignalType) bool {
	switch t {
	case SignalFavoriteGame:
		return len(s.FavoriteGames) > 0
	case SignalGenre:
		return len(s.Genres) > 0
	case SignalPlatform:
		return len(s.Platforms) > 0
	case SignalMood:
		return strings.TrimSpace(s.Mood) != ""
	case SignalStoryPreference:
		return s.StoryPreference != nil
	}
	return false
}

// HasCore reports whether mood, genre, platform and story preference are all known.
func (s Signals) HasCore() bool {
	return s.Has(SignalMood) && s.Has(SignalGenre) && s.Has(SignalPlatform) && s.Has(SignalStoryPreference)
}

// Empty reports the total absence of platform, genre and keyword signals.
func (s Signals) Empty() bool {
	return len(s.Platforms) == 0 && len(s.Genres) == 0 &&
		len(s.GameplayKeywords) == 0 && len(s.PreferenceKeywords) == 0 && len(s.DislikeKeywords) == 0
}

func (s Signals) LatestGenre() string { return last(s.Genres) }
func (s Signals) LatestPlatform() string { return last(s.Platforms) }

func last(xs []string) string {
	for i := len(xs) - 1; i >= 0; i-- {
		if v := strings.TrimSpace(xs[i]); v != "" {
			return v
		}
	}
	return ""
}

// Session is one conversational episode.
type Session struct {
	ID        uint64         `gorm:"primaryKey;autoIncrement" json:"-"`
	SessionID string         `gorm:"type:varchar(26);uniqueIndex;not null" json:"session_id"`
	UserID    uint64         `gorm:"index;not null" json:"-"`
	Lifecycle LifecycleState `gorm:"type:varchar(16);index;not null" json:"lifecycle"`
	Phase     Phase          `gorm:"type:varchar(16);index;not null" json:"phase"`

	Signals Signals `gorm:"embedded" json:"signals"`

	// Carried forward from the previous session on reactivation; re-probed, never trusted.
	HintGenres    datatypes.JSONSlice[string] `json:"hint_genres,omitempty"`
	HintPlatforms datatypes.JSONSlice[string] `json:"hint_platforms,omitempty"`
	ReturningUser bool                        `gorm:"not null;default:false" json:"returning_user"`

	RejectedGames         datatypes.JSONSlice[uint64] `json:"rejected_games,omitempty"`
	LastRecommendedItemID *uint64                     `json:"last_recommended_item_id,omitempty"`
	ServedCount           int                         `gorm:"not null;default:0" json:"served_count"`
	RejectedCount         int                         `gorm:"not null;default:0" json:"rejected_count"`

	AskedSignals       datatypes.JSONSlice[string] `json:"asked_signals,omitempty"`
	DiscoveryRound     int                         `gorm:"not null;default:0" json:"discovery_round"`
	DiscoveryQuestions int                         `gorm:"not null;default:0" json:"discovery_questions"`
	RefinementAsked    bool                        `gorm:"not null;default:false" json:"-"`
	UserReplies        int                         `gorm:"not null;default:0" json:"user_replies"`

	// guards
	AskConfirmation       bool                `gorm:"not null;default:false" json:"ask_confirmation"`
	GameAcceptedAt        *time.Time          `json:"game_accepted_at,omitempty"`
	ClarificationStatus   ClarificationStatus `gorm:"type:varchar(16)" json:"clarification_status,omitempty"`
	ClarificationAskedAt  *time.Time          `json:"-"`
	ClarificationNudgedAt *time.Time          `json:"-"`
	AwaitingReply         bool                `gorm:"index;not null;default:false" json:"awaiting_reply"`
	LastOutboundAt        *time.Time          `json:"last_outbound_at,omitempty"`
	SilenceCount          int                 `gorm:"not null;default:0" json:"silence_count"`
	NudgeSentAt           *time.Time          `json:"-"`
	OpinionAskedAt        *time.Time          `json:"-"`
	DelayedFollowupSent   bool                `gorm:"not null;default:false" json:"-"`
	SessionClosed         bool                `gorm:"index;not null;default:false" json:"session_closed"`

	LastActivityAt time.Time `gorm:"index;not null" json:"last_activity_at"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

// HasAsked reports whether a signal type was already requested in this session.
func (s *Session) HasAsked(t SignalType) bool {
	return slices.Contains(s.AskedSignals, string(t))
}

func (s *Session) MarkAsked(t SignalType) {
	if !s.HasAsked(t) {
		s.AskedSignals = append(s.AskedSignals, string(t))
	}
}

// IsComplete reports that discovery has what it needs to confirm and deliver.
func (s *Session) IsComplete() bool {
	return s.Signals.HasCore() && s.RejectedCount < 2
}

// IsTerminal reports whether the session has reached Ending.
func (s *Session) IsTerminal() bool {
	return s.Phase == PhaseEnding || s.Lifecycle == LifecycleClosed
}

// HasRejected reports whether the item is on the session's rejected list.
func (s *Session) HasRejected(itemID uint64) bool {
	return slices.Contains(s.RejectedGames, itemID)
}

func (s *Session) Reject(itemID uint64) {
	if !s.HasRejected(itemID) {
		s.RejectedGames = append(s.RejectedGames, itemID)
	}
}

// IdleSince is the later of the last inbound and last outbound message.
func (s *Session) IdleSince() time.Time {
	if s.LastOutboundAt != nil && s.LastOutboundAt.After(s.LastActivityAt) {
		return *s.LastOutboundAt
	}
	return s.LastActivityAt
}
