package push

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/charlesng35/carecoord/internal/models"
	"github.com/charlesng35/carecoord/pkg/logger"
	"github.com/charlesng35/carecoord/pkg/metrics"
)

const (
	defaultSendTimeout = 5 * time.Second
	defaultConcurrency = 8
)

// Per-send outcome labels.
const (
	OutcomeSuccess      = "success"
	OutcomeFailure      = "failure"
	OutcomeInvalidToken = "invalid_token"
)

// Config tunes the push channel.
type Config struct {
	SendTimeout        time.Duration
	Concurrency        int
	ClearInvalidTokens bool
}

// Result aggregates per-token outcomes of one SendToUsers call.
// Failure includes sends rejected for an invalid token; InvalidTokens counts those alone.
type Result struct {
	Success       int `json:"success"`
	Failure       int `json:"failure"`
	InvalidTokens int `json:"invalidTokens"`
	Cleared       int `json:"cleared"`
}

// Channel resolves stored device tokens and sends through a Provider.
type Channel struct {
	db       *gorm.DB
	provider Provider
	cfg      Config
	log      *zap.Logger
}

type tokenRow struct {
	ID        string
	PushToken string
}

// NewChannel constructs a push channel. A nil provider disables sending.
func NewChannel(db *gorm.DB, provider Provider, cfg Config) *Channel {
	if provider == nil {
		provider = NopProvider{}
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = defaultSendTimeout
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	return &Channel{
		db:       db,
		provider: provider,
		cfg:      cfg,
		log:      logger.WithModule("push"),
	}
}

// SendToUsers sends msg to the stored token of every user in userIDs.
// Tokens are loaded in one query and sends run concurrently; one failed send never stops the others.
// Only a failed token lookup is returned as an error.
func (c *Channel) SendToUsers(ctx context.Context, userIDs []string, msg Message, data map[string]any) (Result, error) {
	ids := uniqueIDs(userIDs)
	if len(ids) == 0 {
		return Result{}, nil
	}

	var rows []tokenRow
	if err := c.db.WithContext(ctx).
		Model(&models.User{}).
		Select("id", "push_token").
		Where("id IN ?", ids).
		Where("push_token IS NOT NULL AND push_token <> ''").
		Find(&rows).Error; err != nil {
		return Result{}, fmt.Errorf("push: load tokens: %w", err)
	}
	if len(rows) == 0 {
		return Result{}, nil
	}

	payload := StringifyData(data)

	var (
		mu      sync.Mutex
		result  Result
		invalid []tokenRow
		errs    error
	)

	var group errgroup.Group
	group.SetLimit(c.cfg.Concurrency)
	for _, row := range rows {
		row := row
		group.Go(func() error {
			err := c.send(ctx, Envelope{Token: row.PushToken, Message: msg, Data: payload})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				result.Success++
			case errors.Is(err, ErrInvalidToken):
				result.Failure++
				result.InvalidTokens++
				invalid = append(invalid, row)
			default:
				result.Failure++
				errs = multierr.Append(errs, fmt.Errorf("user %s: %w", row.ID, err))
			}
			return nil
		})
	}
	_ = group.Wait()

	if errs != nil {
		c.log.Warn("push sends failed",
			zap.Int("failed", len(multierr.Errors(errs))),
			zap.Int("recipients", len(rows)),
			zap.Error(errs),
		)
	}

	if len(invalid) > 0 && c.cfg.ClearInvalidTokens {
		result.Cleared = c.clearTokens(ctx, invalid)
	}

	return result, nil
}

// SendToDevice sends msg to a single device token.
func (c *Channel) SendToDevice(ctx context.Context, token string, msg Message, data map[string]any) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return errors.New("push: device token is required")
	}
	return c.send(ctx, Envelope{Token: token, Message: msg, Data: StringifyData(data)})
}

// SendToTopic sends msg to every device subscribed to topic.
func (c *Channel) SendToTopic(ctx context.Context, topic string, msg Message, data map[string]any) error {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return errors.New("push: topic is required")
	}
	return c.send(ctx, Envelope{Topic: topic, Message: msg, Data: StringifyData(data)})
}

func (c *Channel) send(ctx context.Context, envelope Envelope) error {
	sendCtx, cancel := context.WithTimeout(ctx, c.cfg.SendTimeout)
	defer cancel()

	err := c.provider.Send(sendCtx, envelope)
	switch {
	case err == nil:
		metrics.DeliveryOutcomes.WithLabelValues("push", OutcomeSuccess).Inc()
	case errors.Is(err, ErrInvalidToken):
		metrics.DeliveryOutcomes.WithLabelValues("push", OutcomeInvalidToken).Inc()
	default:
		metrics.DeliveryOutcomes.WithLabelValues("push", OutcomeFailure).Inc()
	}
	return err
}

// clearTokens drops invalid tokens, matching on the token value so a token
// registered after the failed send is left in place.
func (c *Channel) clearTokens(ctx context.Context, rows []tokenRow) int {
	cleared := 0
	for _, row := range rows {
		res := c.db.WithContext(ctx).
			Model(&models.User{}).
			Where("id = ? AND push_token = ?", row.ID, row.PushToken).
			Update("push_token", nil)
		if res.Error != nil {
			c.log.Warn("clear invalid push token failed", zap.String("user_id", row.ID), zap.Error(res.Error))
			continue
		}
		cleared += int(res.RowsAffected)
	}
	if cleared > 0 {
		c.log.Info("cleared invalid push tokens", zap.Int("count", cleared))
	}
	return cleared
}

func uniqueIDs(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
