package engage

import (
	"context"
	"time"

	"github.com/suPer8Hu/playmate/internal/models"
	"gorm.io/gorm"
)

// Repo claims and releases the persisted engagement guards. A claim is a
// conditional update that succeeds for exactly one caller; the loser sees
// zero affected rows.
type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) claim(ctx context.Context, model any, id uint64, updates map[string]any, cond string, args ...any) (bool, error) {
	res := r.db.WithContext(ctx).Model(model).
		Where("id = ?", id).
		Where(cond, args...).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (r *Repo) release(ctx context.Context, model any, id uint64, updates map[string]any) error {
	return r.db.WithContext(ctx).Model(model).
		Where("id = ?", id).
		Updates(updates).Error
}

// ClaimSilenceNudge consumes the wait that started before cutoff.
func (r *Repo) ClaimSilenceNudge(ctx context.Context, id uint64, cutoff, at time.Time) (bool, error) {
	return r.claim(ctx, &models.Session{}, id, map[string]any{
		"awaiting_reply": false,
		"silence_count":  gorm.Expr("silence_count + 1"),
		"nudge_sent_at":  at,
	}, "awaiting_reply = ? AND last_outbound_at < ?", true, cutoff)
}

func (r *Repo) ReleaseSilenceNudge(ctx context.Context, id uint64) error {
	return r.release(ctx, &models.Session{}, id, map[string]any{
		"awaiting_reply": true,
		"silence_count":  gorm.Expr("silence_count - 1"),
		"nudge_sent_at":  nil,
	})
}

// ClaimClarifyNudge moves a clarification from waiting to nudge_sent.
func (r *Repo) ClaimClarifyNudge(ctx context.Context, id uint64, cutoff, at time.Time) (bool, error) {
	return r.claim(ctx, &models.Session{}, id, map[string]any{
		"clarification_status":    models.ClarificationNudgeSent,
		"clarification_nudged_at": at,
	}, "clarification_status = ? AND clarification_asked_at <= ?", models.ClarificationWaiting, cutoff)
}

func (r *Repo) ReleaseClarifyNudge(ctx context.Context, id uint64) error {
	return r.release(ctx, &models.Session{}, id, map[string]any{
		"clarification_status":    models.ClarificationWaiting,
		"clarification_nudged_at": nil,
	})
}

// ClaimClarifyFallback moves a clarification from nudge_sent to fallback_sent.
func (r *Repo) ClaimClarifyFallback(ctx context.Context, id uint64, cutoff time.Time) (bool, error) {
	return r.claim(ctx, &models.Session{}, id, map[string]any{
		"clarification_status": models.ClarificationFallbackSent,
	}, "clarification_status = ? AND clarification_nudged_at <= ?", models.ClarificationNudgeSent, cutoff)
}

func (r *Repo) ReleaseClarifyFallback(ctx context.Context, id uint64) error {
	return r.release(ctx, &models.Session{}, id, map[string]any{
		"clarification_status": models.ClarificationNudgeSent,
	})
}

func (r *Repo) ClaimOpinion(ctx context.Context, id uint64, cutoff, at time.Time) (bool, error) {
	return r.claim(ctx, &models.Session{}, id, map[string]any{
		"opinion_asked_at": at,
	}, "opinion_asked_at IS NULL AND game_accepted_at IS NOT NULL AND game_accepted_at <= ?", cutoff)
}

func (r *Repo) ReleaseOpinion(ctx context.Context, id uint64) error {
	return r.release(ctx, &models.Session{}, id, map[string]any{"opinion_asked_at": nil})
}

func (r *Repo) ClaimCheckin(ctx context.Context, id uint64, cutoff time.Time) (bool, error) {
	return r.claim(ctx, &models.Session{}, id, map[string]any{
		"delayed_followup_sent": true,
	}, "delayed_followup_sent = ? AND game_accepted_at IS NOT NULL AND game_accepted_at < ?", false, cutoff)
}

func (r *Repo) ReleaseCheckin(ctx context.Context, id uint64) error {
	return r.release(ctx, &models.Session{}, id, map[string]any{"delayed_followup_sent": false})
}

// ClaimNameProbe is a per-user guard; it never re-arms.
func (r *Repo) ClaimNameProbe(ctx context.Context, userID uint64) (bool, error) {
	return r.claim(ctx, &models.User{}, userID, map[string]any{
		"name_probe_sent": true,
	}, "name_probe_sent = ? AND (name IS NULL OR name = '')", false)
}

func (r *Repo) ReleaseNameProbe(ctx context.Context, userID uint64) error {
	return r.release(ctx, &models.User{}, userID, map[string]any{"name_probe_sent": false})
}

// ClaimSoftClose ends the session. It is the permanent guard for the
// farewell.
func (r *Repo) ClaimSoftClose(ctx context.Context, id uint64) (bool, error) {
	return r.claim(ctx, &models.Session{}, id, map[string]any{
		"session_closed": true,
		"phase":          models.PhaseEnding,
		"lifecycle":      models.LifecycleClosed,
		"awaiting_reply": false,
	}, "session_closed = ?", false)
}

// ReleaseSoftClose restores the phase and lifecycle seen before the claim.
func (r *Repo) ReleaseSoftClose(ctx context.Context, s *models.Session) error {
	return r.release(ctx, &models.Session{}, s.ID, map[string]any{
		"session_closed": false,
		"phase":          s.Phase,
		"lifecycle":      s.Lifecycle,
		"awaiting_reply": s.AwaitingReply,
	})
}
