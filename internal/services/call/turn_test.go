package call

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/ClareAI/astra-callbot-service/internal/core/completion"
	"github.com/ClareAI/astra-callbot-service/internal/domain"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandleTurnOpeningSpeaksGreetingAndGathers(t *testing.T) {
	h := newHarness(t, testConfig())
	h.completer.reply = func(int) string { return "Hello, this is Otto calling for the customer." }
	id := h.seed(t, "CA1")

	xml, err := h.service.HandleTurn(context.Background(), id, "")
	require.NoError(t, err)

	assert.Contains(t, xml, "<Say")
	assert.Contains(t, xml, "Hello, this is Otto calling for the customer.")
	assert.Contains(t, xml, "<Gather")
	assert.Contains(t, xml, `action="/voice/`+id+`"`)
	assert.Contains(t, xml, NoInputGoodbye)
	assert.Contains(t, xml, "<Hangup")

	conv := h.conversation(t, id)
	require.Len(t, conv.History, 1)
	assert.Equal(t, domain.RoleAssistant, conv.History[0].Role)
	assert.Equal(t, domain.StateAwaitingReply, conv.State)

	require.Len(t, h.completer.prompts, 1)
	greetingPrompt := h.completer.prompts[0]
	assert.Contains(t, greetingPrompt, "billing error")
	assert.NotContains(t, greetingPrompt, "Customer Service:")
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.TurnCounter.WithLabelValues(string(TurnOpening))))
}

func TestHandleTurnResponsiveAppendsSpeechThenReply(t *testing.T) {
	h := newHarness(t, testConfig())
	id := h.seed(t, "CA1")
	ctx := context.Background()

	_, err := h.service.HandleTurn(ctx, id, "")
	require.NoError(t, err)

	xml, err := h.service.HandleTurn(ctx, id, "  We can't process that refund  ")
	require.NoError(t, err)
	assert.Contains(t, xml, "reply 2")
	assert.Contains(t, xml, "<Gather")

	conv := h.conversation(t, id)
	require.Len(t, conv.History, 3)
	assert.Equal(t, domain.Turn{Role: domain.RoleServiceRep, Content: "We can't process that refund"}, conv.History[1])
	assert.Equal(t, domain.Turn{Role: domain.RoleAssistant, Content: "reply 2"}, conv.History[2])

	replyPrompt := h.completer.prompts[1]
	assert.True(t, strings.HasSuffix(replyPrompt, "Customer Service: We can't process that refund\nYou:"))
	assert.Contains(t, replyPrompt, "You: reply 1")
}

func TestHandleTurnHistoryGrowsTwoPerExchange(t *testing.T) {
	h := newHarness(t, testConfig())
	id := h.seed(t, "CA1")
	ctx := context.Background()

	_, err := h.service.HandleTurn(ctx, id, "")
	require.NoError(t, err)

	const exchanges = 7
	for i := 0; i < exchanges; i++ {
		_, err := h.service.HandleTurn(ctx, id, "agent line")
		require.NoError(t, err)
	}

	conv := h.conversation(t, id)
	require.Len(t, conv.History, 2*exchanges+1)
	assert.Equal(t, domain.RoleAssistant, conv.History[0].Role)
	for i := 1; i < len(conv.History); i += 2 {
		assert.Equal(t, domain.RoleServiceRep, conv.History[i].Role)
		assert.Equal(t, domain.RoleAssistant, conv.History[i+1].Role)
	}

	// The last prompt only carries the five most recent turns
	last := h.completer.prompts[len(h.completer.prompts)-1]
	assert.NotContains(t, last, "reply 1\n")
	assert.Contains(t, last, "You: reply 7")
}

func TestHandleTurnUnknownConversation(t *testing.T) {
	h := newHarness(t, testConfig())

	xml, err := h.service.HandleTurn(context.Background(), "does-not-exist", "hello")
	require.NoError(t, err)

	assert.Contains(t, xml, UnknownConversationReply)
	assert.Contains(t, xml, "<Hangup")
	assert.NotContains(t, xml, "<Gather")
	assert.Equal(t, 0, h.completer.calls())
	assert.Equal(t, 0, h.store.Len())
}

func TestHandleTurnNoInputRepromptsWithoutTouchingHistory(t *testing.T) {
	h := newHarness(t, testConfig())
	id := h.seed(t, "CA1")
	ctx := context.Background()

	_, err := h.service.HandleTurn(ctx, id, "")
	require.NoError(t, err)
	before := h.conversation(t, id)

	xml, err := h.service.HandleTurn(ctx, id, "   ")
	require.NoError(t, err)
	assert.Contains(t, xml, "Please say that again.")
	assert.Contains(t, xml, "<Gather")

	after := h.conversation(t, id)
	assert.Equal(t, before.History, after.History)
	assert.Equal(t, 1, after.NoInputCount)
	assert.Equal(t, 1, h.completer.calls(), "re-prompt never calls the model")
}

func TestHandleTurnGivesUpAfterMaxNoInputPrompts(t *testing.T) {
	cfg := testConfig()
	cfg.MaxNoInputPrompts = 2
	h := newHarness(t, cfg)
	id := h.seed(t, "CA1")
	ctx := context.Background()

	_, err := h.service.HandleTurn(ctx, id, "")
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		xml, err := h.service.HandleTurn(ctx, id, "")
		require.NoError(t, err)
		assert.Contains(t, xml, "<Gather")
	}

	xml, err := h.service.HandleTurn(ctx, id, "")
	require.NoError(t, err)
	assert.Contains(t, xml, NoInputGoodbye)
	assert.Contains(t, xml, "<Hangup")
	assert.NotContains(t, xml, "<Gather")
	assert.True(t, h.conversation(t, id).IsEnded())

	// Late callbacks on an ended conversation only say goodbye
	xml, err = h.service.HandleTurn(ctx, id, "are you still there")
	require.NoError(t, err)
	assert.Contains(t, xml, EndedReply)
	assert.NotContains(t, xml, "<Gather")
	assert.Len(t, h.conversation(t, id).History, 1)
	assert.Equal(t, 1, h.completer.calls())
}

func TestHandleTurnSpeechResetsNoInputCount(t *testing.T) {
	cfg := testConfig()
	cfg.MaxNoInputPrompts = 1
	h := newHarness(t, cfg)
	id := h.seed(t, "CA1")
	ctx := context.Background()

	for _, speech := range []string{"", "", "hello", ""} {
		xml, err := h.service.HandleTurn(ctx, id, speech)
		require.NoError(t, err)
		assert.Contains(t, xml, "<Gather")
	}
	assert.False(t, h.conversation(t, id).IsEnded())
}

func TestHandleTurnCommitsSpeechWhenModelFails(t *testing.T) {
	h := newHarness(t, testConfig())
	id := h.seed(t, "CA1")
	ctx := context.Background()

	_, err := h.service.HandleTurn(ctx, id, "")
	require.NoError(t, err)
	h.completer.reply = func(int) string { return completion.FallbackErrorReply }

	xml, err := h.service.HandleTurn(ctx, id, "Your account is locked")
	require.NoError(t, err)
	assert.Contains(t, xml, "<Gather")

	conv := h.conversation(t, id)
	require.Len(t, conv.History, 3)
	assert.Equal(t, "Your account is locked", conv.History[1].Content)
	assert.Equal(t, completion.FallbackErrorReply, conv.History[2].Content)
}

func TestHandleTurnSpeechBeforeGreeting(t *testing.T) {
	h := newHarness(t, testConfig())
	id := h.seed(t, "CA1")

	_, err := h.service.HandleTurn(context.Background(), id, "Thank you for calling, how can I help")
	require.NoError(t, err)

	conv := h.conversation(t, id)
	require.Len(t, conv.History, 2)
	assert.Equal(t, domain.RoleServiceRep, conv.History[0].Role)
	assert.Equal(t, domain.RoleAssistant, conv.History[1].Role)
}

func TestHandleTurnSerializesConcurrentCallbacks(t *testing.T) {
	h := newHarness(t, testConfig())
	id := h.seed(t, "CA1")
	ctx := context.Background()

	_, err := h.service.HandleTurn(ctx, id, "")
	require.NoError(t, err)

	const callbacks = 20
	var wg sync.WaitGroup
	for i := 0; i < callbacks; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.service.HandleTurn(ctx, id, "overlapping")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	conv := h.conversation(t, id)
	require.Len(t, conv.History, 2*callbacks+1)
	for i := 1; i < len(conv.History); i += 2 {
		assert.Equal(t, domain.RoleServiceRep, conv.History[i].Role)
		assert.Equal(t, domain.RoleAssistant, conv.History[i+1].Role)
	}
}
