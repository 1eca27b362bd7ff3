package messaging

import (
	"context"
)

// ReasonNotJoinedSandbox marks the two Twilio sandbox opt-in error codes so
// callers can give actionable feedback.
const ReasonNotJoinedSandbox = "USER_NOT_JOINED_SANDBOX"

// DeliveryResult reports the outcome of one outbound message.
type DeliveryResult struct {
	Success    bool   `json:"success"`
	Status     string `json:"status,omitempty"`
	Reason     string `json:"reason,omitempty"`
	MessageSID string `json:"-"`
}

// Messenger submits one message and resolves its delivery outcome.
// Provider failures are returned as data, never as errors.
type Messenger interface {
	Deliver(ctx context.Context, to, body string) DeliveryResult
}
