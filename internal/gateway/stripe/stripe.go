// Package stripe implements the gateway port on the Stripe API.
package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	gatewaydomain "github.com/hypergraphlabs/meridian/internal/gateway/domain"
	stripe "github.com/stripe/stripe-go/v82"
	"github.com/stripe/stripe-go/v82/customer"
	"github.com/stripe/stripe-go/v82/invoice"
	"github.com/stripe/stripe-go/v82/subscription"
	"go.uber.org/zap"
)

type Gateway struct {
	log         *zap.Logger
	callTimeout time.Duration
}

// New configures the package-level Stripe client and returns the adapter.
func New(apiKey string, callTimeout time.Duration, log *zap.Logger) *Gateway {
	stripe.Key = apiKey
	if callTimeout <= 0 {
		callTimeout = 15 * time.Second
	}
	return &Gateway{
		log:         log.Named("gateway.stripe"),
		callTimeout: callTimeout,
	}
}

func (g *Gateway) EnsureCustomer(ctx context.Context, ownerID, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	params := &stripe.CustomerParams{
		Params: stripe.Params{Context: ctx},
		Email:  stripe.String(email),
	}
	params.AddMetadata("owner_id", ownerID)

	c, err := customer.New(params)
	if err != nil {
		return "", mapError("create customer", err)
	}
	return c.ID, nil
}

func (g *Gateway) CreateSubscription(ctx context.Context, req gatewaydomain.CreateSubscriptionRequest) (*gatewaydomain.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}

	params := &stripe.SubscriptionParams{
		Params:   stripe.Params{Context: ctx},
		Customer: stripe.String(req.CustomerRef),
		Items: []*stripe.SubscriptionItemsParams{
			{Price: stripe.String(req.PriceRef), Quantity: stripe.Int64(quantity)},
		},
	}
	if req.TrialDays > 0 {
		params.TrialPeriodDays = stripe.Int64(int64(req.TrialDays))
	}
	if req.PaymentRef != "" {
		params.DefaultPaymentMethod = stripe.String(req.PaymentRef)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}

	sub, err := subscription.New(params)
	if err != nil {
		return nil, mapError("create subscription", err)
	}
	return fromStripe(sub), nil
}

func (g *Gateway) UpdateSubscriptionPrice(ctx context.Context, subRef, priceRef string, quantity int64, prorate bool) (*gatewaydomain.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	itemID, err := g.firstItemID(ctx, subRef)
	if err != nil {
		return nil, err
	}
	if quantity <= 0 {
		quantity = 1
	}

	params := &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
		Items: []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(itemID), Price: stripe.String(priceRef), Quantity: stripe.Int64(quantity)},
		},
		ProrationBehavior: stripe.String(prorationBehavior(prorate)),
	}

	sub, err := subscription.Update(subRef, params)
	if err != nil {
		return nil, mapError("update subscription price", err)
	}
	return fromStripe(sub), nil
}

func (g *Gateway) SetQuantity(ctx context.Context, subRef string, quantity int64, prorate bool) (*gatewaydomain.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	itemID, err := g.firstItemID(ctx, subRef)
	if err != nil {
		return nil, err
	}
	if quantity <= 0 {
		quantity = 1
	}

	params := &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
		Items: []*stripe.SubscriptionItemsParams{
			{ID: stripe.String(itemID), Quantity: stripe.Int64(quantity)},
		},
		ProrationBehavior: stripe.String(prorationBehavior(prorate)),
	}

	sub, err := subscription.Update(subRef, params)
	if err != nil {
		return nil, mapError("set subscription quantity", err)
	}
	return fromStripe(sub), nil
}

func (g *Gateway) CancelSubscription(ctx context.Context, subRef string, atPeriodEnd bool) (*gatewaydomain.Subscription, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	if atPeriodEnd {
		params := &stripe.SubscriptionParams{
			Params:            stripe.Params{Context: ctx},
			CancelAtPeriodEnd: stripe.Bool(true),
		}
		sub, err := subscription.Update(subRef, params)
		if err != nil {
			return nil, mapError("schedule cancellation", err)
		}
		return fromStripe(sub), nil
	}

	sub, err := subscription.Cancel(subRef, &stripe.SubscriptionCancelParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, mapError("cancel subscription", err)
	}
	return fromStripe(sub), nil
}

func (g *Gateway) PauseCollection(ctx context.Context, subRef string, resumeAt *time.Time) error {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	pause := &stripe.SubscriptionPauseCollectionParams{
		Behavior: stripe.String("void"),
	}
	if resumeAt != nil {
		pause.ResumesAt = stripe.Int64(resumeAt.Unix())
	}

	params := &stripe.SubscriptionParams{
		Params:          stripe.Params{Context: ctx},
		PauseCollection: pause,
	}
	if _, err := subscription.Update(subRef, params); err != nil {
		return mapError("pause collection", err)
	}
	return nil
}

func (g *Gateway) ResumeCollection(ctx context.Context, subRef string) error {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	// Clearing pause_collection requires an explicit empty value.
	params := &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	}
	params.AddExtra("pause_collection", "")

	if _, err := subscription.Update(subRef, params); err != nil {
		return mapError("resume collection", err)
	}
	return nil
}

func (g *Gateway) PreviewProration(ctx context.Context, subRef, newPriceRef string, quantity int64, at time.Time) (*gatewaydomain.ProrationQuote, error) {
	ctx, cancel := context.WithTimeout(ctx, g.callTimeout)
	defer cancel()

	sub, err := subscription.Get(subRef, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return nil, mapError("load subscription", err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return nil, fmt.Errorf("subscription %s has no items: %w", subRef, gatewaydomain.ErrUnavailable)
	}
	if quantity <= 0 {
		quantity = 1
	}

	params := &stripe.InvoiceCreatePreviewParams{
		Params:       stripe.Params{Context: ctx},
		Customer:     stripe.String(sub.Customer.ID),
		Subscription: stripe.String(subRef),
		SubscriptionDetails: &stripe.InvoiceCreatePreviewSubscriptionDetailsParams{
			Items: []*stripe.InvoiceCreatePreviewSubscriptionDetailsItemParams{
				{
					ID:       stripe.String(sub.Items.Data[0].ID),
					Price:    stripe.String(newPriceRef),
					Quantity: stripe.Int64(quantity),
				},
			},
			ProrationDate: stripe.Int64(at.Unix()),
		},
	}

	preview, err := invoice.CreatePreview(params)
	if err != nil {
		return nil, mapError("preview proration", err)
	}

	var prorated int64
	if preview.Lines != nil {
		for _, line := range preview.Lines.Data {
			isProration := line.Parent != nil &&
				((line.Parent.SubscriptionItemDetails != nil && line.Parent.SubscriptionItemDetails.Proration) ||
					(line.Parent.InvoiceItemDetails != nil && line.Parent.InvoiceItemDetails.Proration))
			if isProration {
				prorated += line.Amount
			}
		}
	}

	return &gatewaydomain.ProrationQuote{
		ProrationDate:  at.UTC(),
		ProratedAmount: prorated,
		NewAmount:      preview.Total,
		Currency:       string(preview.Currency),
	}, nil
}

func (g *Gateway) firstItemID(ctx context.Context, subRef string) (string, error) {
	sub, err := subscription.Get(subRef, &stripe.SubscriptionParams{
		Params: stripe.Params{Context: ctx},
	})
	if err != nil {
		return "", mapError("load subscription", err)
	}
	if sub.Items == nil || len(sub.Items.Data) == 0 {
		return "", fmt.Errorf("subscription %s has no items: %w", subRef, gatewaydomain.ErrUnavailable)
	}
	return sub.Items.Data[0].ID, nil
}

func fromStripe(sub *stripe.Subscription) *gatewaydomain.Subscription {
	out := &gatewaydomain.Subscription{
		Ref:               sub.ID,
		Status:            string(sub.Status),
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Quantity:          1,
	}
	if sub.Customer != nil {
		out.CustomerRef = sub.Customer.ID
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 {
		item := sub.Items.Data[0]
		if item.Price != nil {
			out.PriceRef = item.Price.ID
		}
		out.Quantity = item.Quantity
		out.CurrentPeriodStart = time.Unix(item.CurrentPeriodStart, 0).UTC()
		out.CurrentPeriodEnd = time.Unix(item.CurrentPeriodEnd, 0).UTC()
	}
	if sub.TrialEnd > 0 {
		trialEnd := time.Unix(sub.TrialEnd, 0).UTC()
		out.TrialEnd = &trialEnd
	}
	return out
}

func prorationBehavior(prorate bool) string {
	if prorate {
		return "create_prorations"
	}
	return "none"
}

func mapError(op string, err error) error {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		if stripeErr.Type == stripe.ErrorTypeCard {
			return fmt.Errorf("%s: %s: %w", op, stripeErr.Msg, gatewaydomain.ErrCardDeclined)
		}
		return fmt.Errorf("%s: %s: %w", op, stripeErr.Msg, gatewaydomain.ErrUnavailable)
	}
	return fmt.Errorf("%s: %v: %w", op, err, gatewaydomain.ErrUnavailable)
}
