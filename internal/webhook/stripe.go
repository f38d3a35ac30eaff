// Package webhook normalizes provider events and wires the reconciler.
package webhook

import (
	"encoding/json"
	"strconv"
	"time"

	webhookdomain "github.com/hypergraphlabs/meridian/internal/webhook/domain"
	stripe "github.com/stripe/stripe-go/v82"
)

// TranslateStripeEvent maps a verified Stripe event onto the normalized
// form. The second return is false for event types billing does not consume.
func TranslateStripeEvent(ev stripe.Event) (webhookdomain.Event, bool, error) {
	out := webhookdomain.Event{
		Provider:        "stripe",
		ProviderEventID: ev.ID,
		Raw:             ev.Data.Raw,
	}

	switch ev.Type {
	case "customer.subscription.created", "customer.subscription.updated":
		out.Kind = webhookdomain.KindSubscriptionUpdated
		return fillSubscription(out, ev)
	case "customer.subscription.deleted":
		out.Kind = webhookdomain.KindSubscriptionDeleted
		return fillSubscription(out, ev)
	case "invoice.paid", "invoice.payment_succeeded":
		out.Kind = webhookdomain.KindInvoicePaid
		return fillInvoice(out, ev)
	case "invoice.payment_failed":
		out.Kind = webhookdomain.KindInvoiceFailed
		return fillInvoice(out, ev)
	case "checkout.session.completed":
		out.Kind = webhookdomain.KindCreditPurchase
		return fillCheckout(out, ev)
	default:
		return webhookdomain.Event{}, false, nil
	}
}

func fillSubscription(out webhookdomain.Event, ev stripe.Event) (webhookdomain.Event, bool, error) {
	var sub stripe.Subscription
	if err := json.Unmarshal(ev.Data.Raw, &sub); err != nil {
		return webhookdomain.Event{}, false, err
	}

	out.SubRef = sub.ID
	out.Status = string(sub.Status)
	if sub.Customer != nil {
		out.CustomerRef = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		out.CurrentPeriodStart = unixPtr(item.CurrentPeriodStart)
		out.CurrentPeriodEnd = unixPtr(item.CurrentPeriodEnd)
	}
	cancelAtPeriodEnd := sub.CancelAtPeriodEnd
	out.CancelAtPeriodEnd = &cancelAtPeriodEnd
	out.TrialEnd = unixPtr(sub.TrialEnd)
	out.EndedAt = unixPtr(sub.EndedAt)
	return out, true, nil
}

func fillInvoice(out webhookdomain.Event, ev stripe.Event) (webhookdomain.Event, bool, error) {
	var inv stripe.Invoice
	if err := json.Unmarshal(ev.Data.Raw, &inv); err != nil {
		return webhookdomain.Event{}, false, err
	}

	out.InvoiceRef = inv.ID
	if inv.Customer != nil {
		out.CustomerRef = inv.Customer.ID
	}
	if inv.Parent != nil && inv.Parent.SubscriptionDetails != nil && inv.Parent.SubscriptionDetails.Subscription != nil {
		out.SubRef = inv.Parent.SubscriptionDetails.Subscription.ID
	}
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil {
		period := inv.Lines.Data[0].Period
		out.CurrentPeriodStart = unixPtr(period.Start)
		out.CurrentPeriodEnd = unixPtr(period.End)
	}
	return out, true, nil
}

func fillCheckout(out webhookdomain.Event, ev stripe.Event) (webhookdomain.Event, bool, error) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &session); err != nil {
		return webhookdomain.Event{}, false, err
	}

	out.OwnerID = session.Metadata["owner_id"]
	if raw, ok := session.Metadata["credits"]; ok {
		credits, err := strconv.ParseInt(raw, 10, 64)
		if err == nil {
			out.Credits = credits
		}
	}
	if session.Customer != nil {
		out.CustomerRef = session.Customer.ID
	}
	return out, true, nil
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
