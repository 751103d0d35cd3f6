package messaging

import (
	"context"
	"time"

	"github.com/suPer8Hu/playmate/internal/chat"
	"github.com/suPer8Hu/playmate/internal/logger"
	"github.com/suPer8Hu/playmate/internal/models"
)

// OutboundMarker persists the outbound timestamps the scheduler reads.
type OutboundMarker interface {
	MarkOutbound(ctx context.Context, sessionID uint64, at time.Time, awaitingReply bool) error
}

// Outbound is one message to deliver within a session.
type Outbound struct {
	Sender        string
	Text          string
	ItemID        *uint64
	AwaitingReply bool
}

// Dispatcher sends through the channel with a deadline and, on ack, logs the
// interaction and stamps the session's outbound guards.
type Dispatcher struct {
	sender  Sender
	chat    *chat.Service
	marker  OutboundMarker
	timeout time.Duration
	log     *logger.Logger
}

func NewDispatcher(sender Sender, chatSvc *chat.Service, marker OutboundMarker, timeout time.Duration, log *logger.Logger) *Dispatcher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Dispatcher{sender: sender, chat: chatSvc, marker: marker, timeout: timeout, log: log.With("service", "Dispatcher")}
}

func (d *Dispatcher) Dispatch(ctx context.Context, user *models.User, sess *models.Session, msg Outbound, now time.Time) error {
	sctx, cancel := context.WithTimeout(ctx, d.timeout)
	err := d.sender.Send(sctx, user.Address, msg.Text)
	cancel()
	if err != nil {
		d.log.Warn("send failed", "session_id", sess.SessionID, "user_id", user.ID, "sender", msg.Sender, "error", err)
		return err
	}

	if _, err := d.chat.RecordOutbound(ctx, sess, msg.Sender, msg.Text, msg.ItemID, now); err != nil {
		d.log.Error("record outbound failed", "session_id", sess.SessionID, "error", err)
	}
	if err := d.marker.MarkOutbound(ctx, sess.ID, now, msg.AwaitingReply); err != nil {
		d.log.Error("mark outbound failed", "session_id", sess.SessionID, "error", err)
	}
	sess.LastOutboundAt = &now
	sess.AwaitingReply = msg.AwaitingReply
	return nil
}
