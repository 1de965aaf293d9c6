package push

import (
	"context"
	"errors"
	"fmt"
)

// ErrInvalidToken reports that the provider rejected a device token as unregistered or malformed.
var ErrInvalidToken = errors.New("push: invalid or unregistered token")

// Message is the user-visible part of a push notification.
type Message struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Envelope is one provider send. Exactly one of Token or Topic is set.
type Envelope struct {
	Token   string
	Topic   string
	Message Message
	Data    map[string]string
}

// Provider delivers a single envelope to an external push service.
type Provider interface {
	Send(ctx context.Context, envelope Envelope) error
}

// ProviderError is a non-token failure returned by a provider.
type ProviderError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("push: provider error %d %s: %s", e.StatusCode, e.Code, e.Message)
}

// NopProvider accepts every envelope without sending anything. Used when push is disabled.
type NopProvider struct{}

// Send implements Provider.
func (NopProvider) Send(ctx context.Context, envelope Envelope) error {
	return ctx.Err()
}
