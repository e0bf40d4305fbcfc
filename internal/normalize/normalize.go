// ABOUTME: Pure transformations from backend event logs to answers and chat history.
// ABOUTME: Never fails: malformed events are skipped and a sentinel marks "no answer".

package normalize

import (
	"strings"

	"google.golang.org/genai"

	"github.com/2389/relay-gateway/internal/backend"
)

// NoAnswer is returned by FinalAnswer when the log holds no assistant text.
const NoAnswer = "No response from agent."

// Canonical chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// ChatTurn is one message in a normalized conversation.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// FinalAnswer returns the last text part of the last assistant event.
// Events are scanned newest first; within the chosen event, parts are
// scanned last first. Blank and thought parts are not answers.
func FinalAnswer(events []backend.Event) string {
	for i := len(events) - 1; i >= 0; i-- {
		ev := events[i]
		if ev.Content == nil || !isAssistant(ev) {
			continue
		}
		parts := ev.Content.Parts
		for j := len(parts) - 1; j >= 0; j-- {
			if text, ok := textOf(parts[j]); ok {
				return text
			}
		}
	}
	return NoAnswer
}

// HasAnswer reports whether FinalAnswer would find real text.
func HasAnswer(events []backend.Event) bool {
	return FinalAnswer(events) != NoAnswer
}

// History flattens an event log into user and assistant turns in log order.
// Partial (streaming) events, tool traffic, and events without text are
// dropped. Multiple text parts in one event are joined with newlines.
func History(events []backend.Event) []ChatTurn {
	turns := make([]ChatTurn, 0, len(events))
	for _, ev := range events {
		if ev.Partial || ev.Content == nil {
			continue
		}
		role, ok := roleOf(ev)
		if !ok {
			continue
		}

		var texts []string
		for _, p := range ev.Content.Parts {
			if text, ok := textOf(p); ok {
				texts = append(texts, text)
			}
		}
		if len(texts) == 0 {
			continue
		}
		turns = append(turns, ChatTurn{Role: role, Content: strings.Join(texts, "\n")})
	}
	return turns
}

// HistoryEvents converts turns back into events, so that normalizing the
// result reproduces the same turns.
func HistoryEvents(turns []ChatTurn) []backend.Event {
	events := make([]backend.Event, 0, len(turns))
	for _, t := range turns {
		role := genai.Role(genai.RoleUser)
		author := RoleUser
		if t.Role == RoleAssistant {
			role = genai.RoleModel
			author = RoleAssistant
		}
		events = append(events, backend.Event{
			Author:  author,
			Content: genai.NewContentFromText(t.Content, role),
		})
	}
	return events
}

// isAssistant decides by content role, falling back to the author when the
// role is missing. Backends label the agent's own events with its name.
func isAssistant(ev backend.Event) bool {
	switch ev.Content.Role {
	case genai.RoleModel, RoleAssistant:
		return true
	case "":
		return ev.Author != "" && ev.Author != RoleUser
	}
	return false
}

// roleOf maps an event to a canonical role. Only the literal "user" author
// is the user; function responses carry a user content role but an agent
// author and are not part of the conversation.
func roleOf(ev backend.Event) (string, bool) {
	if ev.Author == RoleUser {
		return RoleUser, true
	}
	if isAssistant(ev) {
		return RoleAssistant, true
	}
	return "", false
}

func textOf(p *genai.Part) (string, bool) {
	if p == nil || p.Thought || strings.TrimSpace(p.Text) == "" {
		return "", false
	}
	return p.Text, true
}
