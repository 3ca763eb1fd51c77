package prompts

import (
	"fmt"
	"strings"

	"github.com/ClareAI/astra-callbot-service/internal/domain"
)

// HistoryWindow is how many recent turns are embedded in a reply prompt
const HistoryWindow = 5

const (
	LabelServiceRep = "Customer Service"
	LabelAssistant  = "You"
)

// Persona names the assistant and the person it calls for
type Persona struct {
	AssistantName string
	PrincipalName string
}

// principalFor prefers the per-call user name over the configured default
func (p Persona) principalFor(callCtx domain.CallContext) string {
	if name := strings.TrimSpace(callCtx.UserName); name != "" {
		return name
	}
	return p.PrincipalName
}

// GreetingPrompt builds the opening-turn prompt. It never includes history.
func GreetingPrompt(callCtx domain.CallContext, persona Persona) string {
	principal := persona.principalFor(callCtx)

	return fmt.Sprintf(`You are a professional customer service assistant calling on behalf of %[1]s. Your name is %[2]s.
You are representing %[1]s directly, as their personal assistant.

Instructions:
- Introduce yourself as %[1]s's assistant.
- Clearly explain the issue, using the description provided below.
- Be firm, polite, and persistent.
- Do not say you are an AI. Speak naturally and confidently, like a real person.
- Make sure the issue is fully resolved before ending the call, acting in the best interest of %[1]s.

Now create the greeting that will be read out loud to the customer service agent when they pick up.
These are not instructions to repeat; produce only the greeting. Keep it short and clear.

Issue to resolve: %[3]q
`, principal, persona.AssistantName, issueOrDefault(callCtx))
}

// systemMessage is the persona preamble for every reply prompt
func systemMessage(callCtx domain.CallContext) string {
	return fmt.Sprintf(`You are a customer service assistant calling on behalf of a user.
The user's issue is: %s

Guidelines:
1. Be polite but persistent.
2. Keep responses short and clear.
3. Ask clarifying questions if needed.
4. Never say you're an AI.
5. Confirm resolution before ending the call.
`, issueOrDefault(callCtx))
}

// ReplyPrompt builds the prompt for a responsive turn: the persona, the last
// HistoryWindow turns oldest first, then the new speech as the latest line.
func ReplyPrompt(history []domain.Turn, speech string, callCtx domain.CallContext) string {
	var b strings.Builder
	b.WriteString(systemMessage(callCtx))
	b.WriteString("\n")

	for _, turn := range RecentTurns(history, HistoryWindow) {
		fmt.Fprintf(&b, "%s: %s\n", Label(turn.Role), turn.Content)
	}

	if speech = strings.TrimSpace(speech); speech != "" {
		fmt.Fprintf(&b, "%s: %s\n%s:", LabelServiceRep, speech, LabelAssistant)
	}

	return b.String()
}

// RecentTurns returns at most n of the latest turns, preserving order
func RecentTurns(history []domain.Turn, n int) []domain.Turn {
	if n <= 0 {
		return nil
	}
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// Label maps a turn role to the speaker label used in prompts
func Label(role domain.Role) string {
	if role == domain.RoleServiceRep {
		return LabelServiceRep
	}
	return LabelAssistant
}

func issueOrDefault(callCtx domain.CallContext) string {
	if issue := strings.TrimSpace(callCtx.IssueDescription); issue != "" {
		return issue
	}
	return "not specified"
}
