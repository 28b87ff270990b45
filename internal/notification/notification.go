package notification

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"lunara-sentinel/internal/logging"

	"github.com/rs/zerolog"
)

// Type classifies a notification.
type Type string

const (
	NotifyTradeClose      Type = "trade_close"
	NotifyGatewayRecovery Type = "gateway_recovery"
	NotifyOrphans         Type = "orphans"
	NotifyError           Type = "error"
	NotifyInfo            Type = "info"
)

// Notification is the plain payload handed to providers. Providers render
// it however they like; the service never formats user-facing text.
type Notification struct {
	Type       Type                   `json:"type"`
	Title      string                 `json:"title"`
	Message    string                 `json:"message"`
	UserID     int64                  `json:"user_id,omitempty"`
	Symbol     string                 `json:"symbol,omitempty"`
	EntryPrice float64                `json:"entry_price,omitempty"`
	ExitPrice  float64                `json:"exit_price,omitempty"`
	PnL        float64                `json:"pnl,omitempty"`
	PnLPercent float64                `json:"pnl_percent,omitempty"`
	Reason     string                 `json:"reason,omitempty"`
	Timestamp  time.Time              `json:"timestamp"`
	Extra      map[string]interface{} `json:"extra,omitempty"`
}

// Notifier is a notification provider.
type Notifier interface {
	Send(n *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans notifications out to every enabled provider. Delivery is
// best effort: a failing provider is logged and the rest still receive the
// message.
type Manager struct {
	notifiers []Notifier
	log       zerolog.Logger
}

func NewManager() *Manager {
	return &Manager{log: logging.Component("notification")}
}

func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

func (m *Manager) Send(n *Notification) {
	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}
	for _, provider := range m.notifiers {
		if !provider.IsEnabled() {
			continue
		}
		if err := provider.Send(n); err != nil {
			m.log.Warn().Err(err).Str("provider", provider.Name()).Msg("notification delivery failed")
		}
	}
}

// SendTradeClose emits the settlement notification for a closed trade.
func (m *Manager) SendTradeClose(userID int64, symbol string, entryPrice, exitPrice, pnl, pnlPercent float64, reason string) {
	m.Send(&Notification{
		Type:       NotifyTradeClose,
		Title:      "Trade closed",
		Message:    fmt.Sprintf("%s closed at %.8g (%+.2f%%)", symbol, exitPrice, pnlPercent),
		UserID:     userID,
		Symbol:     symbol,
		EntryPrice: entryPrice,
		ExitPrice:  exitPrice,
		PnL:        pnl,
		PnLPercent: pnlPercent,
		Reason:     reason,
	})
}

// SendGatewayRecovery reports that market data is flowing again.
func (m *Manager) SendGatewayRecovery(skippedCycles int) {
	m.Send(&Notification{
		Type:    NotifyGatewayRecovery,
		Title:   "Market data recovered",
		Message: fmt.Sprintf("market data API recovered after %d skipped cycles", skippedCycles),
		Extra:   map[string]interface{}{"skipped_cycles": skippedCycles},
	})
}

// LogNotifier writes notifications to the service log. Always enabled; it
// is the floor that guarantees settlements are observable somewhere.
type LogNotifier struct {
	log zerolog.Logger
}

var _ Notifier = (*LogNotifier)(nil)

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{log: logging.Component("notify")}
}

func (l *LogNotifier) Send(n *Notification) error {
	l.log.Info().
		Str("type", string(n.Type)).
		Int64("user_id", n.UserID).
		Str("symbol", n.Symbol).
		Float64("pnl_percent", n.PnLPercent).
		Msg(n.Message)
	return nil
}

func (l *LogNotifier) Name() string    { return "log" }
func (l *LogNotifier) IsEnabled() bool { return true }

// WebhookNotifier POSTs the notification as JSON to a configured endpoint
// (the Telegram bridge in production).
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
}

var _ Notifier = (*WebhookNotifier)(nil)

func NewWebhookNotifier(url string) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (w *WebhookNotifier) Send(n *Notification) error {
	payload, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	resp, err := w.httpClient.Post(w.url, "application/json", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("webhook post: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}

func (w *WebhookNotifier) Name() string    { return "webhook" }
func (w *WebhookNotifier) IsEnabled() bool { return w.url != "" }
