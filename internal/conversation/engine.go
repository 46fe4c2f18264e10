// Package conversation maintains the append-only transcript of a review and
// mediates single request/response cycles with the LLM backend.
package conversation

import (
	"context"
	"fmt"
	"strings"

	"github.com/klauern/pr-pal-sub000/internal/apperr"
	"github.com/klauern/pr-pal-sub000/internal/live"
	"github.com/klauern/pr-pal-sub000/internal/llm"
	"github.com/klauern/pr-pal-sub000/internal/models"
	"github.com/klauern/pr-pal-sub000/internal/store"
)

const systemPreamble = `You are an experienced code reviewer helping a developer work through a pull request. Ground your answers in the diff and the conversation so far. Point out correctness risks before style. Keep replies concise.`

type Engine struct {
	store *store.Queries
	hub   *live.Hub

	// newClient is swapped in tests to avoid real API calls.
	newClient func(provider, model, apiKey string) (llm.Client, error)
}

func NewEngine(q *store.Queries, hub *live.Hub) *Engine {
	return &Engine{store: q, hub: hub, newClient: llm.New}
}

// PostUserMessage appends a user entry at the next order. Blank content is
// a validation error.
func (e *Engine) PostUserMessage(rev *models.Review, content string) (*models.Message, error) {
	if strings.TrimSpace(content) == "" {
		return nil, apperr.Validation("content", "cannot be blank")
	}
	return e.append(rev.ID, models.SenderUser, content)
}

// RequestAssistantReply sends the conversation to the owner's configured
// backend and appends the reply. On any failure a system-sender message
// carrying the error summary is appended instead, so the transcript always
// resolves the pending exchange; the underlying error is returned alongside
// for logging.
func (e *Engine) RequestAssistantReply(ctx context.Context, rev *models.Review, userMsg *models.Message, owner *models.User, apiKey string) (*models.Message, error) {
	providerName := owner.LLMProvider
	if providerName == "" {
		providerName = llm.DefaultProvider
	}

	client, err := e.newClient(providerName, owner.LLMModel, apiKey)
	if err != nil {
		return e.appendFailure(rev.ID, err)
	}

	prompt, err := e.buildPrompt(rev, userMsg)
	if err != nil {
		return e.appendFailure(rev.ID, err)
	}

	reply, err := client.Complete(ctx, prompt)
	if err != nil {
		return e.appendFailure(rev.ID, err)
	}
	return e.append(rev.ID, llm.SenderTag(providerName), reply)
}

// PostFailure resolves a pending exchange that never reached the backend,
// e.g. when the reply job could not be scheduled. The transcript gets the
// same system-sender message a backend failure would produce.
func (e *Engine) PostFailure(rev *models.Review, cause error) (*models.Message, error) {
	msg, err := e.append(rev.ID, models.SenderSystem, failureContent(cause))
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// DeleteMessage removes an entry from the transcript. Orders of the
// remaining messages are untouched; the sequence stays gap-tolerant.
func (e *Engine) DeleteMessage(rev *models.Review, messageID int64) error {
	return e.store.DeleteMessage(rev.ID, messageID)
}

// append assigns order = max+1 and inserts, retrying once when a concurrent
// post won the same slot.
func (e *Engine) append(reviewID int64, sender, content string) (*models.Message, error) {
	var msg *models.Message
	for attempt := 0; ; attempt++ {
		max, err := e.store.MaxMessageOrder(reviewID)
		if err != nil {
			return nil, err
		}
		msg, err = e.store.CreateMessage(reviewID, sender, content, max+1)
		if apperr.IsConflict(err) && attempt == 0 {
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}
	e.hub.Publish(live.Event{
		Type:     live.EventMessage,
		ReviewID: reviewID,
		Sender:   msg.Sender,
		Content:  msg.Content,
		Order:    msg.Order,
	})
	return msg, nil
}

func (e *Engine) appendFailure(reviewID int64, cause error) (*models.Message, error) {
	msg, err := e.append(reviewID, models.SenderSystem, failureContent(cause))
	if err != nil {
		return nil, err
	}
	return msg, cause
}

func failureContent(cause error) string {
	return fmt.Sprintf("Sorry, I couldn't generate a reply: %v", cause)
}

// buildPrompt renders: the fixed preamble, a structured context block, the
// prior transcript as alternating User:/Assistant: lines in ascending
// order, and the new user message.
func (e *Engine) buildPrompt(rev *models.Review, userMsg *models.Message) (string, error) {
	messages, err := e.store.ListMessages(rev.ID)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(systemPreamble)
	b.WriteString("\n\n")

	fmt.Fprintf(&b, "Repository: %s\n", rev.RepoFullName())
	fmt.Fprintf(&b, "Pull request: #%d", rev.PRNumber)
	if rev.Title != "" {
		fmt.Fprintf(&b, " - %s", rev.Title)
	}
	if rev.URL != "" {
		fmt.Fprintf(&b, " (%s)", rev.URL)
	}
	b.WriteString("\n")
	if rev.ContextSummary != "" {
		fmt.Fprintf(&b, "Reviewer focus: %s\n", rev.ContextSummary)
	}
	if rev.Diff != "" {
		b.WriteString("\nDiff:\n")
		b.WriteString(rev.Diff)
		b.WriteString("\n")
	} else {
		b.WriteString("\n(diff unavailable)\n")
	}

	for _, msg := range messages {
		if msg.ID == userMsg.ID {
			continue
		}
		if msg.Sender == models.SenderUser {
			fmt.Fprintf(&b, "\nUser: %s", msg.Content)
		} else {
			fmt.Fprintf(&b, "\nAssistant: %s", msg.Content)
		}
	}

	fmt.Fprintf(&b, "\nUser: %s\n", userMsg.Content)
	return b.String(), nil
}
