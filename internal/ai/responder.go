package ai

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/suPer8Hu/playmate/internal/logger"
)

// ReplyKind selects what an outbound message must accomplish.
type ReplyKind string

const (
	ReplyWelcome      ReplyKind = "welcome"
	ReplyAskSignal    ReplyKind = "ask_signal"
	ReplyRefine       ReplyKind = "refine"
	ReplyConfirm      ReplyKind = "confirm"
	ReplyRecommend    ReplyKind = "recommend"
	ReplyNoMatch      ReplyKind = "no_match"
	ReplyAcceptAck    ReplyKind = "accept_ack"
	ReplyFarewell     ReplyKind = "farewell"
	ReplyOptOut       ReplyKind = "opt_out"
	ReplyClarify      ReplyKind = "clarify"
	ReplyNudge        ReplyKind = "nudge"
	ReplyClarifyNudge ReplyKind = "clarify_nudge"
	ReplyOpinion      ReplyKind = "opinion"
	ReplyCheckin      ReplyKind = "checkin"
	ReplyNameProbe    ReplyKind = "name_probe"
	ReplySoftClose    ReplyKind = "soft_close"
	ReplyFollowupOpen ReplyKind = "followup_open"
	ReplySmallTalk    ReplyKind = "small_talk"
)

// Prompt is everything the generator may use for one reply.
type Prompt struct {
	Kind      ReplyKind
	Signal    string
	ItemTitle string
	UserName  string
	Detail    string
	AgeCheck  bool
	Returning bool
	History   []Message
}

const responderPrompt = `You are Playmate, a friendly assistant that helps people find a video game to play.
Write ONE short chat message (at most two sentences). Do not recommend any game that is not named below.`

type Responder struct {
	provider Provider
	timeout  time.Duration
	log      *logger.Logger
}

func NewResponder(provider Provider, timeout time.Duration, log *logger.Logger) *Responder {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Responder{provider: provider, timeout: timeout, log: log.With("service", "Responder")}
}

// Generate returns generated text, or the canned fallback when the provider
// is missing, slow or failing.
func (r *Responder) Generate(ctx context.Context, p Prompt) string {
	if r.provider == nil {
		return Fallback(p)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	msgs := make([]Message, 0, len(p.History)+2)
	msgs = append(msgs, Message{Role: RoleSystem, Content: responderPrompt})
	msgs = append(msgs, p.History...)
	msgs = append(msgs, Message{Role: RoleSystem, Content: instruction(p)})

	out, err := r.provider.Chat(ctx, msgs)
	if err != nil {
		r.log.Warn("generation failed, using fallback", "kind", p.Kind, "error", err)
		return Fallback(p)
	}
	out = strings.TrimSpace(out)
	if out == "" {
		return Fallback(p)
	}
	// the recommended title must survive generation verbatim
	if p.Kind == ReplyRecommend && p.ItemTitle != "" && !strings.Contains(strings.ToLower(out), strings.ToLower(p.ItemTitle)) {
		return Fallback(p)
	}
	return out
}

func instruction(p Prompt) string {
	var b strings.Builder
	switch p.Kind {
	case ReplyWelcome:
		b.WriteString("Greet the user and say you can help them find a game.")
		if p.Returning {
			b.WriteString(" They have talked to you before; welcome them back.")
		}
	case ReplyAskSignal:
		fmt.Fprintf(&b, "Ask exactly one question to learn the user's %s.", strings.ReplaceAll(p.Signal, "_", " "))
		if p.Detail != "" {
			fmt.Fprintf(&b, " Last time they mentioned %s; check whether that still holds.", p.Detail)
		}
	case ReplyRefine:
		b.WriteString("Ask one open question about anything else that would help pick a game.")
	case ReplyConfirm:
		b.WriteString("Briefly acknowledge what the user told you. Do not recommend a game yet.")
	case ReplyRecommend:
		fmt.Fprintf(&b, "Recommend the game %q and say in a few words why it fits.", p.ItemTitle)
		if p.AgeCheck {
			b.WriteString(" This game is rated for adults; ask the user to confirm their age.")
		}
	case ReplyNoMatch:
		fmt.Fprintf(&b, "Tell the user nothing in the catalog matches %s and ask if they want to try something else.", orAnything(p.Detail))
	case ReplyAcceptAck:
		fmt.Fprintf(&b, "The user will try %q. Say you're glad and wish them fun.", p.ItemTitle)
	case ReplyFarewell, ReplyOptOut:
		b.WriteString("Say goodbye warmly.")
	case ReplyClarify:
		b.WriteString("You did not understand the user. Ask a short clarifying question.")
	case ReplyNudge:
		b.WriteString("The user went quiet. Send a light, friendly check-in.")
	case ReplyClarifyNudge:
		b.WriteString("The user has not answered your clarifying question. Gently repeat it.")
	case ReplyOpinion:
		fmt.Fprintf(&b, "Ask what the user thinks of %q so far.", p.ItemTitle)
	case ReplyCheckin:
		fmt.Fprintf(&b, "Ask how %q went and offer to suggest something else.", p.ItemTitle)
	case ReplyNameProbe:
		b.WriteString("Ask what the user would like to be called.")
	case ReplySoftClose:
		b.WriteString("Close the conversation kindly and say they can message any time.")
	case ReplyFollowupOpen:
		b.WriteString("Ask whether the user wants another suggestion or is all set.")
	case ReplySmallTalk:
		b.WriteString("Reply briefly and kindly to the user's latest message. Do not suggest any game.")
	}
	if p.UserName != "" {
		fmt.Fprintf(&b, " The user's name is %s.", p.UserName)
	}
	return b.String()
}

// Fallback is the static text for a reply kind.
func Fallback(p Prompt) string {
	switch p.Kind {
	case ReplyWelcome:
		if p.Returning {
			return "Welcome back! Let's find you something new to play."
		}
		return "Hi! I can help you find a game to play."
	case ReplyAskSignal:
		return signalQuestion(p.Signal, p.Detail)
	case ReplyRefine:
		return "Anything else I should know before I pick something for you?"
	case ReplyConfirm:
		return "Got it, thanks! Let me look for something that fits."
	case ReplyRecommend:
		if p.AgeCheck {
			return fmt.Sprintf("How about %s? It's rated for adults, so can you confirm you're old enough?", p.ItemTitle)
		}
		return fmt.Sprintf("How about %s? I think it fits what you're after.", p.ItemTitle)
	case ReplyNoMatch:
		return fmt.Sprintf("I couldn't find anything matching %s. Want to try a different genre?", orAnything(p.Detail))
	case ReplyAcceptAck:
		return fmt.Sprintf("Great choice! Have fun with %s.", p.ItemTitle)
	case ReplyFarewell:
		return "Thanks for chatting! Come back any time you need a game."
	case ReplyOptOut:
		return "Understood, I won't message you again. Take care!"
	case ReplyClarify:
		return "Sorry, I didn't quite get that. Could you say it another way?"
	case ReplyNudge:
		return "Still there? I'm around whenever you want to keep going."
	case ReplyClarifyNudge:
		return "Just checking: could you tell me a bit more so I can help?"
	case ReplyOpinion:
		return fmt.Sprintf("How are you finding %s so far?", p.ItemTitle)
	case ReplyCheckin:
		return fmt.Sprintf("How did %s go? I can suggest something else if it wasn't for you.", p.ItemTitle)
	case ReplyNameProbe:
		return "By the way, what should I call you?"
	case ReplySoftClose:
		return "I'll let you go for now. Message me any time you want a new game!"
	case ReplyFollowupOpen:
		return "Want another suggestion, or are you all set?"
	case ReplySmallTalk:
		return "Glad to hear from you! I'm here whenever you need me."
	}
	return "Tell me a bit about what you like to play."
}

func signalQuestion(signal, hint string) string {
	switch signal {
	case "favorite_game":
		return "What's a game you've really enjoyed?"
	case "genre":
		if hint != "" {
			return fmt.Sprintf("Last time you were into %s. Still feeling that, or something else?", hint)
		}
		return "What kind of games do you like: puzzle, RPG, shooter, something else?"
	case "platform":
		if hint != "" {
			return fmt.Sprintf("Still playing on %s?", hint)
		}
		return "What do you play on: PC, console, or phone?"
	case "mood":
		return "How are you feeling today?"
	case "story_preference":
		return "Do you like games with a strong story?"
	}
	return "Tell me a bit about what you like to play."
}

func orAnything(s string) string {
	if strings.TrimSpace(s) == "" {
		return "that"
	}
	return s
}
