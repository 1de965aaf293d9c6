package push

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/errorutils"
	"firebase.google.com/go/v4/messaging"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
)

const fcmScope = "https://www.googleapis.com/auth/firebase.messaging"

// FCMConfig configures the Firebase Cloud Messaging provider.
type FCMConfig struct {
	ProjectID       string
	CredentialsFile string
	// Endpoint overrides the FCM messaging base URL.
	Endpoint string
	// TokenSource overrides credential discovery.
	TokenSource oauth2.TokenSource
}

// FCMProvider sends envelopes through the Firebase Admin messaging client.
type FCMProvider struct {
	client *messaging.Client
}

// NewFCMProvider builds a Firebase messaging client. Credentials come from TokenSource,
// then CredentialsFile, then Application Default Credentials.
func NewFCMProvider(ctx context.Context, cfg FCMConfig) (*FCMProvider, error) {
	projectID := strings.TrimSpace(cfg.ProjectID)

	var opts []option.ClientOption
	if cfg.TokenSource != nil {
		opts = append(opts, option.WithTokenSource(cfg.TokenSource))
	} else {
		creds, err := loadCredentials(ctx, cfg.CredentialsFile)
		if err != nil {
			return nil, err
		}
		opts = append(opts, option.WithCredentials(creds))
		if projectID == "" {
			projectID = creds.ProjectID
		}
	}
	if projectID == "" {
		return nil, errors.New("push: fcm project id is required")
	}
	if endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/"); endpoint != "" {
		opts = append(opts, option.WithEndpoint(endpoint))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: projectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("push: initialise firebase app: %w", err)
	}
	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("push: initialise fcm client: %w", err)
	}
	return &FCMProvider{client: client}, nil
}

func loadCredentials(ctx context.Context, path string) (*google.Credentials, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		creds, err := google.FindDefaultCredentials(ctx, fcmScope)
		if err != nil {
			return nil, fmt.Errorf("push: find default credentials: %w", err)
		}
		return creds, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("push: read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, raw, fcmScope)
	if err != nil {
		return nil, fmt.Errorf("push: parse credentials: %w", err)
	}
	return creds, nil
}

// Send implements Provider.
func (p *FCMProvider) Send(ctx context.Context, envelope Envelope) error {
	if envelope.Token == "" && envelope.Topic == "" {
		return errors.New("push: envelope needs a token or topic")
	}

	_, err := p.client.Send(ctx, &messaging.Message{
		Token:        envelope.Token,
		Topic:        envelope.Topic,
		Notification: &messaging.Notification{Title: envelope.Message.Title, Body: envelope.Message.Body},
		Data:         envelope.Data,
		Android:      &messaging.AndroidConfig{Priority: "high"},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{Aps: &messaging.Aps{Sound: "default"}},
		},
	})
	if err == nil {
		return nil
	}

	switch {
	case messaging.IsUnregistered(err):
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	case envelope.Token != "" && messaging.IsInvalidArgument(err):
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	resp := errorutils.HTTPResponse(err)
	if resp == nil {
		return fmt.Errorf("push: fcm send: %w", err)
	}
	return &ProviderError{StatusCode: resp.StatusCode, Code: fcmErrorCode(err), Message: err.Error()}
}

// fcmErrorCode names the canonical error class of a failed send.
func fcmErrorCode(err error) string {
	switch {
	case messaging.IsQuotaExceeded(err):
		return "QUOTA_EXCEEDED"
	case messaging.IsSenderIDMismatch(err):
		return "SENDER_ID_MISMATCH"
	case messaging.IsThirdPartyAuthError(err):
		return "THIRD_PARTY_AUTH_ERROR"
	case errorutils.IsInvalidArgument(err):
		return "INVALID_ARGUMENT"
	case errorutils.IsUnauthenticated(err):
		return "UNAUTHENTICATED"
	case errorutils.IsPermissionDenied(err):
		return "PERMISSION_DENIED"
	case errorutils.IsNotFound(err):
		return "NOT_FOUND"
	case errorutils.IsResourceExhausted(err):
		return "RESOURCE_EXHAUSTED"
	case errorutils.IsUnavailable(err):
		return "UNAVAILABLE"
	case errorutils.IsInternal(err):
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}
