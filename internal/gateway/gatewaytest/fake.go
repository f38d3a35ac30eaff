// Package gatewaytest provides a recording in-memory gateway for tests.
package gatewaytest

import (
	"context"
	"fmt"
	"sync"
	"time"

	gatewaydomain "github.com/hypergraphlabs/meridian/internal/gateway/domain"
)

// Fake records calls and returns configurable results.
type Fake struct {
	mu sync.Mutex

	Customers     map[string]string // ownerID -> customerRef
	Subscriptions map[string]*gatewaydomain.Subscription
	Paused        map[string]*time.Time
	Quote         *gatewaydomain.ProrationQuote

	CreateCustomerErr     error
	CreateSubscriptionErr error
	UpdateErr             error
	CancelErr             error
	PauseErr              error
	ResumeErr             error
	PreviewErr            error

	nextCustomerSeq int
	nextSubSeq      int
	now             func() time.Time
}

func New() *Fake {
	return &Fake{
		Customers:     make(map[string]string),
		Subscriptions: make(map[string]*gatewaydomain.Subscription),
		Paused:        make(map[string]*time.Time),
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// WithNow pins the fake's clock.
func (f *Fake) WithNow(now func() time.Time) *Fake {
	f.now = now
	return f
}

func (f *Fake) EnsureCustomer(_ context.Context, ownerID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateCustomerErr != nil {
		return "", f.CreateCustomerErr
	}
	if ref, ok := f.Customers[ownerID]; ok {
		return ref, nil
	}
	f.nextCustomerSeq++
	ref := fmt.Sprintf("cus_fake_%d", f.nextCustomerSeq)
	f.Customers[ownerID] = ref
	return ref, nil
}

func (f *Fake) CreateSubscription(_ context.Context, req gatewaydomain.CreateSubscriptionRequest) (*gatewaydomain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CreateSubscriptionErr != nil {
		return nil, f.CreateSubscriptionErr
	}

	f.nextSubSeq++
	now := f.now()
	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	sub := &gatewaydomain.Subscription{
		Ref:                fmt.Sprintf("sub_fake_%d", f.nextSubSeq),
		CustomerRef:        req.CustomerRef,
		PriceRef:           req.PriceRef,
		Status:             "active",
		Quantity:           quantity,
		CurrentPeriodStart: now,
		CurrentPeriodEnd:   now.AddDate(0, 1, 0),
	}
	if req.TrialDays > 0 {
		trialEnd := now.AddDate(0, 0, req.TrialDays)
		sub.Status = "trialing"
		sub.TrialEnd = &trialEnd
	}
	f.Subscriptions[sub.Ref] = sub
	return clone(sub), nil
}

func (f *Fake) UpdateSubscriptionPrice(_ context.Context, subRef, priceRef string, quantity int64, _ bool) (*gatewaydomain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.UpdateErr != nil {
		return nil, f.UpdateErr
	}
	sub, ok := f.Subscriptions[subRef]
	if !ok {
		return nil, gatewaydomain.ErrNotLinked
	}
	sub.PriceRef = priceRef
	if quantity > 0 {
		sub.Quantity = quantity
	}
	return clone(sub), nil
}

func (f *Fake) SetQuantity(_ context.Context, subRef string, quantity int64, _ bool) (*gatewaydomain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.UpdateErr != nil {
		return nil, f.UpdateErr
	}
	sub, ok := f.Subscriptions[subRef]
	if !ok {
		return nil, gatewaydomain.ErrNotLinked
	}
	if quantity > 0 {
		sub.Quantity = quantity
	}
	return clone(sub), nil
}

func (f *Fake) CancelSubscription(_ context.Context, subRef string, atPeriodEnd bool) (*gatewaydomain.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.CancelErr != nil {
		return nil, f.CancelErr
	}
	sub, ok := f.Subscriptions[subRef]
	if !ok {
		return nil, gatewaydomain.ErrNotLinked
	}
	if atPeriodEnd {
		sub.CancelAtPeriodEnd = true
	} else {
		sub.Status = "canceled"
	}
	return clone(sub), nil
}

func (f *Fake) PauseCollection(_ context.Context, subRef string, resumeAt *time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PauseErr != nil {
		return f.PauseErr
	}
	if _, ok := f.Subscriptions[subRef]; !ok {
		return gatewaydomain.ErrNotLinked
	}
	f.Paused[subRef] = resumeAt
	return nil
}

func (f *Fake) ResumeCollection(_ context.Context, subRef string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.ResumeErr != nil {
		return f.ResumeErr
	}
	if _, ok := f.Subscriptions[subRef]; !ok {
		return gatewaydomain.ErrNotLinked
	}
	delete(f.Paused, subRef)
	return nil
}

func (f *Fake) PreviewProration(_ context.Context, subRef, newPriceRef string, quantity int64, at time.Time) (*gatewaydomain.ProrationQuote, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.PreviewErr != nil {
		return nil, f.PreviewErr
	}
	if f.Quote != nil {
		quote := *f.Quote
		return &quote, nil
	}
	_ = newPriceRef
	_ = quantity
	if _, ok := f.Subscriptions[subRef]; !ok {
		return nil, gatewaydomain.ErrNotLinked
	}
	return &gatewaydomain.ProrationQuote{ProrationDate: at.UTC(), Currency: "USD"}, nil
}

func clone(sub *gatewaydomain.Subscription) *gatewaydomain.Subscription {
	out := *sub
	if sub.TrialEnd != nil {
		trialEnd := *sub.TrialEnd
		out.TrialEnd = &trialEnd
	}
	return &out
}
