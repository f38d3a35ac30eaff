// Package notification is the outbound customer-messaging port. The default
// implementation only logs; a mail or push sender can replace it without
// touching the callers.
package notification

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Kinds of notifications the billing core emits.
const (
	KindPaymentFailed        = "payment_failed"
	KindSubscriptionCanceled = "subscription_canceled"
	KindTrialEnding          = "trial_ending"
)

// Message is one notification to one owner.
type Message struct {
	Kind    string
	OwnerID string
	Fields  map[string]interface{}
}

// Notifier delivers messages. Implementations must not be load-bearing:
// callers treat delivery as best effort.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

type logNotifier struct {
	log *zap.Logger
}

// NewLogNotifier returns a Notifier that writes to the application log.
func NewLogNotifier(log *zap.Logger) Notifier {
	return &logNotifier{log: log.Named("notification")}
}

func (n *logNotifier) Notify(_ context.Context, msg Message) error {
	n.log.Info("notification",
		zap.String("kind", msg.Kind),
		zap.String("owner_id", msg.OwnerID),
		zap.Any("fields", msg.Fields),
	)
	return nil
}

var Module = fx.Module("notification",
	fx.Provide(NewLogNotifier),
)
