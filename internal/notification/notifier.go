// Package notification delivers signal and fill alerts to external
// channels (webhooks) for trading events.
package notification

import (
	"context"
	"fmt"
	"log"

	"exitpro-engine/internal/model"
)

// AlertLevel represents the severity of an alert.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "INFO"
	AlertWarning  AlertLevel = "WARNING"
	AlertCritical AlertLevel = "CRITICAL"
)

// Alert represents a notification to be sent.
type Alert struct {
	Level   AlertLevel `json:"level"`
	Title   string     `json:"title"`
	Message string     `json:"message"`
	Symbol  string     `json:"symbol,omitempty"`
}

// SignalAlert formats a trade signal for delivery.
func SignalAlert(sig model.TradeSignal) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("%s %s", sig.Side, sig.Symbol),
		Message: fmt.Sprintf("%s %s @ %.0f KRW (%s)",
			sig.Side, sig.Symbol, sig.Price, sig.Reason),
		Symbol: sig.Symbol,
	}
}

// FillAlert formats an applied fill for delivery.
func FillAlert(f model.Fill) Alert {
	return Alert{
		Level: AlertInfo,
		Title: fmt.Sprintf("FILL %s %s", f.Signal.Side, f.Signal.Symbol),
		Message: fmt.Sprintf("%d @ %.0f KRW fee %.0f realized %.0f",
			f.FillQty, f.Price, f.Fee, f.Realized),
		Symbol: f.Signal.Symbol,
	}
}

// Notifier is the interface for all notification backends.
type Notifier interface {
	// Send delivers an alert. Returns error if delivery fails.
	Send(ctx context.Context, alert Alert) error
}

// LogNotifier logs alerts instead of sending them, for development and
// for runs with no webhook configured.
type LogNotifier struct{}

func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) Send(ctx context.Context, alert Alert) error {
	log.Printf("[notify] [%s] %s: %s", alert.Level, alert.Title, alert.Message)
	return nil
}
