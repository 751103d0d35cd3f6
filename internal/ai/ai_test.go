package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeProvider struct {
	reply string
	err   error
	delay time.Duration
	last  []Message
}

func (p *fakeProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	p.last = messages
	if p.delay > 0 {
		select {
		case <-time.After(p.delay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	return p.reply, p.err
}

func TestParseClassification(t *testing.T) {
	raw := "```json\n{\"intent\":\"Provide_Info\",\"mood\":\" Chill \",\"genres\":[\"puzzle\",\" \"],\"platforms\":[\"PC\"],\"story_preference\":true,\"age\":300}\n```"
	c, err := ParseClassification(raw)
	require.NoError(t, err)
	assert.Equal(t, IntentProvideInfo, c.Intent)
	assert.Equal(t, "chill", c.Mood)
	assert.Equal(t, []string{"puzzle"}, c.Genres)
	assert.Equal(t, []string{"PC"}, c.Platforms)
	require.NotNil(t, c.StoryPreference)
	assert.True(t, *c.StoryPreference)
	assert.Nil(t, c.Age)
	assert.True(t, c.HasSignals())
}

func TestParseClassification_UnknownIntent(t *testing.T) {
	c, err := ParseClassification(`{"intent":"buy_pizza"}`)
	require.NoError(t, err)
	assert.Equal(t, IntentUnknown, c.Intent)
	assert.False(t, c.HasSignals())
}

func TestParseClassification_Malformed(t *testing.T) {
	for _, raw := range []string{"", "no json here", `{"intent":`} {
		c, err := ParseClassification(raw)
		require.ErrorIs(t, err, ErrMalformedClassification, raw)
		assert.Equal(t, IntentUnknown, c.Intent)
	}
}

func TestClassifier_ProviderErrorIsUnknown(t *testing.T) {
	cl := NewClassifier(&fakeProvider{err: errors.New("boom")}, time.Second, nil)
	c := cl.Classify(context.Background(), []Message{{Role: RoleUser, Content: "hi"}})
	assert.Equal(t, IntentUnknown, c.Intent)
}

func TestClassifier_PrependsSystemPrompt(t *testing.T) {
	p := &fakeProvider{reply: `{"intent":"greeting"}`}
	c := NewClassifier(p, time.Second, nil).Classify(context.Background(), []Message{{Role: RoleUser, Content: "hey"}})
	assert.Equal(t, IntentGreeting, c.Intent)
	require.Len(t, p.last, 2)
	assert.Equal(t, RoleSystem, p.last[0].Role)
}

func TestResponder_TimeoutFallsBack(t *testing.T) {
	r := NewResponder(&fakeProvider{reply: "late", delay: time.Second}, 20*time.Millisecond, nil)
	got := r.Generate(context.Background(), Prompt{Kind: ReplyNudge})
	assert.Equal(t, Fallback(Prompt{Kind: ReplyNudge}), got)
}

func TestResponder_RecommendMustNameItem(t *testing.T) {
	r := NewResponder(&fakeProvider{reply: "Try something fun!"}, time.Second, nil)
	got := r.Generate(context.Background(), Prompt{Kind: ReplyRecommend, ItemTitle: "Celeste"})
	assert.True(t, strings.Contains(got, "Celeste"))
}

func TestResponder_UsesProviderText(t *testing.T) {
	r := NewResponder(&fakeProvider{reply: "  What do you play on?  "}, time.Second, nil)
	got := r.Generate(context.Background(), Prompt{Kind: ReplyAskSignal, Signal: "platform"})
	assert.Equal(t, "What do you play on?", got)
}

func TestResponder_NilProvider(t *testing.T) {
	r := NewResponder(nil, 0, nil)
	assert.Equal(t, "Do you like games with a strong story?", r.Generate(context.Background(), Prompt{Kind: ReplyAskSignal, Signal: "story_preference"}))
}

func TestRegistry_UnknownProvider(t *testing.T) {
	r := NewRegistry()
	r.Register(" Fake ", func(ctx context.Context, model string) (Provider, error) { return &fakeProvider{}, nil })
	_, err := r.Get(context.Background(), "fake", "m")
	require.NoError(t, err)
	_, err = r.Get(context.Background(), "nope", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "registered: fake")
	assert.Equal(t, []string{"fake"}, r.Names())
}
