// Package notify доставляет события движка во внешний сервис уведомлений.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"
)

// EventType - тип события.
type EventType string

const (
	EventTransition EventType = "groupbuy.transition"
	EventDecision   EventType = "decision.recorded"
	EventPenalty    EventType = "penalty.recorded"
)

// Event описывает одно событие для сервиса уведомлений.
type Event struct {
	Type       EventType `json:"type"`
	GroupBuyID uuid.UUID `json:"group_buy_id"`
	UserID     int64     `json:"user_id,omitempty"`
	From       string    `json:"from,omitempty"`
	To         string    `json:"to,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	Decision   string    `json:"decision,omitempty"`
	At         time.Time `json:"at"`
}

// Nop отбрасывает события. Используется, если адрес сервиса уведомлений не задан.
type Nop struct{}

// Notify ничего не делает.
func (Nop) Notify(context.Context, Event) error { return nil }

// Client инкапсулирует HTTP-взаимодействие с сервисом уведомлений.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// NewClient создаёт клиент сервиса уведомлений по указанному адресу.
func NewClient(baseURL string, logger *zap.Logger) *Client {
	base := strings.TrimRight(baseURL, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.RetryWaitMin = 200 * time.Millisecond
	rc.RetryWaitMax = 2 * time.Second
	rc.HTTPClient.Timeout = 5 * time.Second
	rc.Logger = leveledLogger{logger.Sugar()}

	return &Client{
		baseURL:    base,
		httpClient: rc,
	}
}

// Notify отправляет событие. Ответ, отличный от 2xx, считается ошибкой.
func (c *Client) Notify(ctx context.Context, e Event) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notify client not configured")
	}

	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/events", body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}

type leveledLogger struct {
	s *zap.SugaredLogger
}

func (l leveledLogger) Error(msg string, kv ...interface{}) { l.s.Errorw(msg, kv...) }
func (l leveledLogger) Info(msg string, kv ...interface{})  { l.s.Infow(msg, kv...) }
func (l leveledLogger) Debug(msg string, kv ...interface{}) { l.s.Debugw(msg, kv...) }
func (l leveledLogger) Warn(msg string, kv ...interface{})  { l.s.Warnw(msg, kv...) }
