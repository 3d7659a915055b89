package repository

import "context"

// LinkStep is the position of a chat in the account-link conversation.
type LinkStep string

const (
	LinkIdle          LinkStep = ""               // no conversation in progress
	LinkAwaitingEmail LinkStep = "awaiting_email" // asked for the backend email
	LinkAwaitingCode  LinkStep = "awaiting_code"  // verification code sent to Email
)

// linkTransitions lists the allowed next steps for each step.
var linkTransitions = map[LinkStep][]LinkStep{
	LinkIdle:          {LinkAwaitingEmail},
	LinkAwaitingEmail: {LinkAwaitingEmail, LinkAwaitingCode, LinkIdle},
	LinkAwaitingCode:  {LinkAwaitingCode, LinkAwaitingEmail, LinkIdle},
}

// CanMove reports whether the conversation may go from s to next.
func (s LinkStep) CanMove(next LinkStep) bool {
	for _, n := range linkTransitions[s] {
		if n == next {
			return true
		}
	}
	return false
}

// LinkState is the per-chat conversation record.
type LinkState struct {
	Step     LinkStep `json:"step"`
	Email    string   `json:"email,omitempty"`
	Attempts int      `json:"attempts"`
}

// LinkStateRepository stores LinkState keyed by chat id. Get returns
// (nil, nil) when the chat has no conversation.
type LinkStateRepository interface {
	Set(ctx context.Context, chatID int64, state *LinkState) error
	Get(ctx context.Context, chatID int64) (*LinkState, error)
	Clear(ctx context.Context, chatID int64) error
}
