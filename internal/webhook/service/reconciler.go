package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/bwmarrin/snowflake"
	catalogdomain "github.com/hypergraphlabs/meridian/internal/catalog/domain"
	"github.com/hypergraphlabs/meridian/internal/clock"
	creditdomain "github.com/hypergraphlabs/meridian/internal/credit/domain"
	"github.com/hypergraphlabs/meridian/internal/notification"
	"github.com/hypergraphlabs/meridian/internal/observability/metrics"
	subdomain "github.com/hypergraphlabs/meridian/internal/subscription/domain"
	webhookdomain "github.com/hypergraphlabs/meridian/internal/webhook/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Reconciler folds gateway webhook events into local state. Every event is
// recorded before it is acted on, so a replayed delivery is detected as a
// conflict and acknowledged without side effects.
type Reconciler struct {
	db       *gorm.DB
	node     *snowflake.Node
	subs     subdomain.Service
	credits  creditdomain.Service
	catalog  catalogdomain.Service
	notifier notification.Notifier
	clock    clock.Clock
	log      *zap.Logger
}

type Params struct {
	fx.In

	DB       *gorm.DB
	Node     *snowflake.Node
	Subs     subdomain.Service
	Credits  creditdomain.Service
	Catalog  catalogdomain.Service
	Notifier notification.Notifier
	Clock    clock.Clock
	Log      *zap.Logger
}

func NewReconciler(p Params) *Reconciler {
	return &Reconciler{
		db:       p.DB,
		node:     p.Node,
		subs:     p.Subs,
		credits:  p.Credits,
		catalog:  p.Catalog,
		notifier: p.Notifier,
		clock:    p.Clock,
		log:      p.Log.Named("webhook.reconciler"),
	}
}

// Process handles one event end to end. ErrEventAlreadyProcessed means a
// duplicate delivery; callers should acknowledge it as success.
func (r *Reconciler) Process(ctx context.Context, event webhookdomain.Event) error {
	now := r.clock.Now()
	record := webhookdomain.EventRecord{
		ID:              r.node.Generate().Int64(),
		Provider:        event.Provider,
		ProviderEventID: event.ProviderEventID,
		Kind:            event.Kind,
		Payload:         datatypes.JSON(event.Raw),
		ReceivedAt:      now,
	}

	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}, {Name: "provider_event_id"}},
			DoNothing: true,
		}).
		Create(&record)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		// Seen before. Only a completed delivery counts as a duplicate;
		// one that failed mid-flight is run again against the stored row.
		var stored webhookdomain.EventRecord
		if err := r.db.WithContext(ctx).
			First(&stored, "provider = ? AND provider_event_id = ?", event.Provider, event.ProviderEventID).Error; err != nil {
			return err
		}
		if stored.ProcessedAt != nil {
			metrics.WebhookEvents.WithLabelValues(event.Kind, "duplicate").Inc()
			r.log.Info("duplicate event acknowledged",
				zap.String("provider", event.Provider),
				zap.String("event_id", event.ProviderEventID),
			)
			return webhookdomain.ErrEventAlreadyProcessed
		}
		record = stored
		r.log.Info("reprocessing failed event",
			zap.String("provider", event.Provider),
			zap.String("event_id", event.ProviderEventID),
			zap.String("last_error", stored.ProcessError),
		)
	}

	err := r.dispatch(ctx, event)

	done := r.clock.Now()
	updates := map[string]interface{}{"processed_at": done, "process_error": ""}
	outcome := "processed"
	if err != nil {
		updates = map[string]interface{}{"process_error": err.Error()}
		outcome = "failed"
	}
	if uerr := r.db.WithContext(ctx).Model(&webhookdomain.EventRecord{}).
		Where("id = ?", record.ID).
		Updates(updates).Error; uerr != nil {
		r.log.Error("event record update", zap.Error(uerr))
	}

	metrics.WebhookEvents.WithLabelValues(event.Kind, outcome).Inc()
	return err
}

func (r *Reconciler) dispatch(ctx context.Context, event webhookdomain.Event) error {
	switch event.Kind {
	case webhookdomain.KindSubscriptionUpdated:
		return r.reconcileSubscription(ctx, event, "")
	case webhookdomain.KindSubscriptionDeleted:
		return r.reconcileSubscription(ctx, event, string(subdomain.StatusCanceled))
	case webhookdomain.KindInvoicePaid:
		return r.handleInvoicePaid(ctx, event)
	case webhookdomain.KindInvoiceFailed:
		return r.handleInvoiceFailed(ctx, event)
	case webhookdomain.KindCreditPurchase:
		return r.handleCreditPurchase(ctx, event)
	default:
		// Unknown kinds are recorded and skipped; the provider sends far
		// more event types than billing cares about.
		r.log.Debug("ignoring event kind", zap.String("kind", event.Kind))
		return nil
	}
}

func (r *Reconciler) reconcileSubscription(ctx context.Context, event webhookdomain.Event, statusOverride string) error {
	status := event.Status
	if statusOverride != "" {
		status = statusOverride
	}

	state := subdomain.ExternalState{
		SubRef:             event.SubRef,
		Status:             subdomain.StatusFromGateway(status),
		CurrentPeriodStart: event.CurrentPeriodStart,
		CurrentPeriodEnd:   event.CurrentPeriodEnd,
		CancelAtPeriodEnd:  event.CancelAtPeriodEnd,
		TrialEnd:           event.TrialEnd,
		EndedAt:            event.EndedAt,
	}
	_, err := r.subs.ReconcileExternal(ctx, state)
	if errors.Is(err, subdomain.ErrAccountNotFound) {
		r.log.Warn("event for unknown subscription", zap.String("sub_ref", event.SubRef))
		return nil
	}
	return err
}

func (r *Reconciler) handleInvoicePaid(ctx context.Context, event webhookdomain.Event) error {
	if event.SubRef == "" {
		return nil
	}

	account, err := r.subs.GetByExternalRef(ctx, event.SubRef)
	if errors.Is(err, subdomain.ErrAccountNotFound) {
		r.log.Warn("invoice for unknown subscription", zap.String("sub_ref", event.SubRef))
		return nil
	}
	if err != nil {
		return err
	}

	state := subdomain.ExternalState{
		SubRef:             event.SubRef,
		Status:             subdomain.StatusActive,
		CurrentPeriodStart: event.CurrentPeriodStart,
		CurrentPeriodEnd:   event.CurrentPeriodEnd,
	}
	if _, err := r.subs.ReconcileExternal(ctx, state); err != nil {
		return err
	}

	tier, err := r.catalog.GetTier(ctx, account.TierID)
	if err != nil {
		return err
	}
	if tier.IncludedCredits <= 0 || event.InvoiceRef == "" {
		return nil
	}

	amount := tier.IncludedCredits
	if tier.TeamTier {
		amount *= account.Seats
	}
	_, _, err = r.credits.GrantIdempotent(ctx, "invoice_paid:"+event.InvoiceRef, creditdomain.GrantRequest{
		OwnerID:     account.OwnerID,
		Amount:      amount,
		Type:        creditdomain.TransactionSubscription,
		Description: fmt.Sprintf("%s renewal credits", tier.ID),
		Metadata:    map[string]interface{}{"invoice": event.InvoiceRef, "tier": tier.ID},
	})
	return err
}

func (r *Reconciler) handleInvoiceFailed(ctx context.Context, event webhookdomain.Event) error {
	if event.SubRef == "" {
		return nil
	}

	account, err := r.subs.ReconcileExternal(ctx, subdomain.ExternalState{
		SubRef: event.SubRef,
		Status: subdomain.StatusPastDue,
	})
	if errors.Is(err, subdomain.ErrAccountNotFound) {
		r.log.Warn("failed invoice for unknown subscription", zap.String("sub_ref", event.SubRef))
		return nil
	}
	if err != nil {
		return err
	}

	// Delivery is best effort; a broken notifier never fails the event.
	if nerr := r.notifier.Notify(ctx, notification.Message{
		Kind:    notification.KindPaymentFailed,
		OwnerID: account.OwnerID,
		Fields:  map[string]interface{}{"invoice": event.InvoiceRef},
	}); nerr != nil {
		r.log.Warn("payment failure notification", zap.Error(nerr))
	}
	return nil
}

func (r *Reconciler) handleCreditPurchase(ctx context.Context, event webhookdomain.Event) error {
	if event.OwnerID == "" || event.Credits <= 0 {
		r.log.Warn("credit purchase event missing owner or amount",
			zap.String("event_id", event.ProviderEventID),
		)
		return nil
	}

	if _, err := r.credits.EnsureAccount(ctx, event.OwnerID); err != nil {
		return err
	}
	_, _, err := r.credits.GrantIdempotent(ctx, "purchase:"+event.ProviderEventID, creditdomain.GrantRequest{
		OwnerID:     event.OwnerID,
		Amount:      event.Credits,
		Type:        creditdomain.TransactionPurchase,
		Description: "credit pack purchase",
		Metadata:    map[string]interface{}{"event_id": event.ProviderEventID},
	})
	return err
}
