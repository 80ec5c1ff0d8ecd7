package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/pledgehub/pledgehub/internal/models"
	"github.com/pledgehub/pledgehub/internal/payments"
	"github.com/pledgehub/pledgehub/internal/realtime"
	"github.com/pledgehub/pledgehub/internal/store"
	"github.com/stripe/stripe-go/v74"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const ProviderStripe = "stripe"

// alertTimeout bounds one owner alert, which runs after the webhook is
// acknowledged.
const alertTimeout = 30 * time.Second

const (
	EventCheckoutCompleted     = "checkout.session.completed"
	EventCheckoutExpired       = "checkout.session.expired"
	EventPaymentSucceeded      = "payment_intent.succeeded"
	EventPaymentFailed         = "payment_intent.payment_failed"
	EventChargeRefunded        = "charge.refunded"
	EventRefundCreated         = "refund.created"
	EventRefundUpdated         = "refund.updated"
	EventAccountUpdated        = "account.updated"
	EventSubscriptionCancelled = "customer.subscription.deleted"
)

// Notifier delivers realtime messages. realtime.Hub satisfies it.
type Notifier interface {
	Publish(m realtime.Message) error
}

// Alerter delivers owner-facing alerts. OwnerAlerter satisfies it.
type Alerter interface {
	ContributionAlert(ctx context.Context, project models.Project, contribution models.Contribution) error
}

// ContributionNotice is the payload of contribution.* realtime events.
type ContributionNotice struct {
	ContributionID uint   `json:"contributionId"`
	ProjectID      uint   `json:"projectId"`
	Status         string `json:"status"`
	AmountCents    int64  `json:"amountCents"`
	Currency       string `json:"currency"`
	Amount         string `json:"amount"`
	RaisedCents    int64  `json:"raisedCents"`
	SupporterCount int64  `json:"supporterCount"`
}

// Reconciler turns Stripe webhook events into contribution state.
//
// Unmatched and duplicate events are successful no-ops. Only failures of the
// contribution write itself are returned; the recompute, notification and
// alert steps that follow are best-effort.
type Reconciler struct {
	db            *gorm.DB
	contributions *store.ContributionStore
	journal       *store.EventJournal
	stats         *StatsAggregator
	payouts       *PayoutService
	notifier      Notifier
	alerter       Alerter

	alerts sync.WaitGroup
}

func NewReconciler(db *gorm.DB, stats *StatsAggregator, payouts *PayoutService, notifier Notifier, alerter Alerter) *Reconciler {
	return &Reconciler{
		db:            db,
		contributions: store.NewContributionStore(db),
		journal:       store.NewEventJournal(db),
		stats:         stats,
		payouts:       payouts,
		notifier:      notifier,
		alerter:       alerter,
	}
}

// HandleEvent processes one verified event.
func (r *Reconciler) HandleEvent(ctx context.Context, event stripe.Event) error {
	eventType := string(event.Type)

	if event.ID != "" {
		var raw []byte
		if event.Data != nil {
			raw = event.Data.Raw
		}

		processed, err := r.journal.Record(ctx, ProviderStripe, event.ID, eventType, raw)
		if err != nil {
			return fmt.Errorf("journal event %s: %w", event.ID, err)
		}
		if processed {
			log.Printf("reconcile: event %s (%s) already processed, skipping", event.ID, eventType)
			return nil
		}
	}

	err := r.dispatch(ctx, eventType, event)

	if event.ID != "" {
		bestEffort("journal "+event.ID, func() error {
			return r.journal.Finish(ctx, ProviderStripe, event.ID, err)
		})
	}

	return err
}

func (r *Reconciler) dispatch(ctx context.Context, eventType string, event stripe.Event) error {
	switch eventType {
	case EventCheckoutCompleted:
		var session stripe.CheckoutSession
		if err := decodeObject(event, &session); err != nil {
			return err
		}
		return r.CheckoutCompleted(ctx, &session)

	case EventCheckoutExpired:
		var session stripe.CheckoutSession
		if err := decodeObject(event, &session); err != nil {
			return err
		}
		return r.CheckoutExpired(ctx, &session)

	case EventPaymentSucceeded:
		var intent stripe.PaymentIntent
		if err := decodeObject(event, &intent); err != nil {
			return err
		}
		return r.PaymentSucceeded(ctx, &intent)

	case EventPaymentFailed:
		var intent stripe.PaymentIntent
		if err := decodeObject(event, &intent); err != nil {
			return err
		}
		return r.PaymentFailed(ctx, &intent)

	case EventChargeRefunded:
		var charge stripe.Charge
		if err := decodeObject(event, &charge); err != nil {
			return err
		}
		return r.Refunded(ctx, intentID(charge.PaymentIntent))

	case EventRefundCreated, EventRefundUpdated:
		var refund stripe.Refund
		if err := decodeObject(event, &refund); err != nil {
			return err
		}
		switch string(refund.Status) {
		case "failed", "canceled":
			log.Printf("reconcile: refund %s is %s, leaving contribution untouched", refund.ID, refund.Status)
			return nil
		}
		return r.Refunded(ctx, intentID(refund.PaymentIntent))

	case EventAccountUpdated:
		var account stripe.Account
		if err := decodeObject(event, &account); err != nil {
			return err
		}
		return r.AccountUpdated(ctx, &account)

	case EventSubscriptionCancelled:
		var sub stripe.Subscription
		if err := decodeObject(event, &sub); err != nil {
			return err
		}
		return r.SubscriptionCancelled(ctx, sub.ID)

	default:
		log.Printf("reconcile: ignoring event type %s", eventType)
		return nil
	}
}

func decodeObject(event stripe.Event, v interface{}) error {
	if event.Data == nil || len(event.Data.Raw) == 0 {
		return fmt.Errorf("event %s (%s) has no data object", event.ID, event.Type)
	}

	if err := json.Unmarshal(event.Data.Raw, v); err != nil {
		return fmt.Errorf("decode %s object: %w", event.Type, err)
	}

	return nil
}

func intentID(pi *stripe.PaymentIntent) string {
	if pi == nil {
		return ""
	}
	return pi.ID
}

// CheckoutCompleted settles the contribution behind a completed session,
// creating it when no record matches.
func (r *Reconciler) CheckoutCompleted(ctx context.Context, session *stripe.CheckoutSession) error {
	keys := store.CorrelationKeys{
		ContributionID: payments.MetadataID(session.Metadata, payments.MetaContributionID),
		SessionID:      session.ID,
	}
	settle := store.Settlement{
		AmountCents:     session.AmountTotal,
		Currency:        string(session.Currency),
		SessionID:       session.ID,
		PaymentIntentID: intentID(session.PaymentIntent),
	}

	c, err := r.contributions.FindByCorrelation(ctx, keys)
	if err != nil {
		return fmt.Errorf("correlate session %s: %w", session.ID, err)
	}

	if c == nil {
		created, err := r.createFromSession(ctx, session, settle)
		if err != nil {
			return err
		}
		if created != nil {
			r.afterTransition(ctx, created.ID, models.ContributionSucceeded, store.TransitionResult{Changed: true, InState: true})
			return r.recordSubscription(ctx, created, session)
		}

		// Lost a race with a concurrent delivery of the same session.
		if c, err = r.contributions.BySessionID(ctx, session.ID); err != nil {
			return fmt.Errorf("correlate session %s: %w", session.ID, err)
		}
		if c == nil {
			return nil
		}
	}

	if err := r.transition(ctx, c, models.ContributionSucceeded, settle); err != nil {
		return err
	}

	return r.recordSubscription(ctx, c, session)
}

// createFromSession inserts a SUCCEEDED contribution for a session we have no
// record of. It returns (nil, nil) when the session lacks a usable project or
// another delivery inserted the row first.
func (r *Reconciler) createFromSession(ctx context.Context, session *stripe.CheckoutSession, settle store.Settlement) (*models.Contribution, error) {
	projectID := payments.MetadataID(session.Metadata, payments.MetaProjectID)
	if projectID == 0 {
		log.Printf("reconcile: session %s matches no contribution and carries no project id, ignoring", session.ID)
		return nil, nil
	}

	var project models.Project
	err := r.db.WithContext(ctx).Unscoped().Select("id").First(&project, projectID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("reconcile: session %s references unknown project %d, ignoring", session.ID, projectID)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load project %d: %w", projectID, err)
	}

	c := &models.Contribution{
		ProjectID:               projectID,
		AmountCents:             settle.AmountCents,
		Currency:                settle.Currency,
		Status:                  models.ContributionSucceeded,
		StripeCheckoutSessionID: &session.ID,
	}

	if userID := payments.MetadataID(session.Metadata, payments.MetaUserID); userID != 0 {
		c.ContributorID = &userID
	}
	if settle.PaymentIntentID != "" {
		pi := settle.PaymentIntentID
		c.StripePaymentIntentID = &pi
	}
	if c.Currency == "" {
		c.Currency = "usd"
	}

	created, err := r.contributions.CreateIfAbsent(ctx, c)
	if err != nil {
		return nil, fmt.Errorf("create contribution for session %s: %w", session.ID, err)
	}
	if !created {
		return nil, nil
	}

	log.Printf("reconcile: created contribution %d from unmatched session %s", c.ID, session.ID)
	return c, nil
}

func (r *Reconciler) recordSubscription(ctx context.Context, c *models.Contribution, session *stripe.CheckoutSession) error {
	if session.Subscription == nil || session.Subscription.ID == "" {
		return nil
	}

	sub := models.Subscription{
		ProjectID:            c.ProjectID,
		ContributorID:        c.ContributorID,
		StripeSubscriptionID: session.Subscription.ID,
		AmountCents:          session.AmountTotal,
		Currency:             string(session.Currency),
		Status:               models.SubscriptionActive,
	}

	err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "stripe_subscription_id"}},
		DoNothing: true,
	}).Create(&sub).Error
	if err != nil {
		return fmt.Errorf("record subscription %s: %w", session.Subscription.ID, err)
	}

	return nil
}

// CheckoutExpired fails the contribution behind an abandoned session.
func (r *Reconciler) CheckoutExpired(ctx context.Context, session *stripe.CheckoutSession) error {
	keys := store.CorrelationKeys{
		ContributionID: payments.MetadataID(session.Metadata, payments.MetaContributionID),
		SessionID:      session.ID,
	}

	return r.correlateAndTransition(ctx, keys, models.ContributionFailed, store.Settlement{SessionID: session.ID})
}

// PaymentSucceeded settles by payment intent, covering confirmations that
// arrive ahead of, or instead of, checkout.session.completed.
func (r *Reconciler) PaymentSucceeded(ctx context.Context, intent *stripe.PaymentIntent) error {
	amount := intent.AmountReceived
	if amount <= 0 {
		amount = intent.Amount
	}

	keys := store.CorrelationKeys{
		ContributionID:  payments.MetadataID(intent.Metadata, payments.MetaContributionID),
		PaymentIntentID: intent.ID,
	}
	settle := store.Settlement{
		AmountCents:     amount,
		Currency:        string(intent.Currency),
		PaymentIntentID: intent.ID,
	}

	return r.correlateAndTransition(ctx, keys, models.ContributionSucceeded, settle)
}

func (r *Reconciler) PaymentFailed(ctx context.Context, intent *stripe.PaymentIntent) error {
	keys := store.CorrelationKeys{
		ContributionID:  payments.MetadataID(intent.Metadata, payments.MetaContributionID),
		PaymentIntentID: intent.ID,
	}

	return r.correlateAndTransition(ctx, keys, models.ContributionFailed, store.Settlement{PaymentIntentID: intent.ID})
}

// Refunded marks the contribution paid through paymentIntentID as refunded.
func (r *Reconciler) Refunded(ctx context.Context, paymentIntentID string) error {
	if paymentIntentID == "" {
		log.Printf("reconcile: refund event without payment intent, ignoring")
		return nil
	}

	keys := store.CorrelationKeys{PaymentIntentID: paymentIntentID}

	return r.correlateAndTransition(ctx, keys, models.ContributionRefunded, store.Settlement{})
}

func (r *Reconciler) AccountUpdated(ctx context.Context, account *stripe.Account) error {
	if r.payouts == nil {
		return nil
	}

	verified := account.ChargesEnabled && account.PayoutsEnabled

	matched, err := r.payouts.ApplyAccountStatus(ctx, account.ID, verified)
	if err != nil {
		return fmt.Errorf("apply account %s status: %w", account.ID, err)
	}
	if !matched {
		log.Printf("reconcile: account %s belongs to no user, ignoring", account.ID)
	}

	return nil
}

func (r *Reconciler) SubscriptionCancelled(ctx context.Context, subscriptionID string) error {
	res := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("stripe_subscription_id = ?", subscriptionID).
		Update("status", models.SubscriptionCanceled)
	if res.Error != nil {
		return fmt.Errorf("cancel subscription %s: %w", subscriptionID, res.Error)
	}
	if res.RowsAffected == 0 {
		log.Printf("reconcile: subscription %s matches no record, ignoring", subscriptionID)
	}

	return nil
}

func (r *Reconciler) correlateAndTransition(ctx context.Context, keys store.CorrelationKeys, target string, settle store.Settlement) error {
	if keys.Empty() {
		log.Printf("reconcile: event carries no correlation keys, nothing to mark %s", target)
		return nil
	}

	c, err := r.contributions.FindByCorrelation(ctx, keys)
	if err != nil {
		return fmt.Errorf("correlate %+v: %w", keys, err)
	}

	if c == nil {
		log.Printf("reconcile: no contribution matches %+v, nothing to mark %s", keys, target)
		return nil
	}

	return r.transition(ctx, c, target, settle)
}

func (r *Reconciler) transition(ctx context.Context, c *models.Contribution, target string, settle store.Settlement) error {
	result, err := r.contributions.Transition(ctx, c.ID, target, settle)
	if err != nil {
		return fmt.Errorf("mark contribution %d %s: %w", c.ID, target, err)
	}

	r.afterTransition(ctx, c.ID, target, result)
	return nil
}

// afterTransition runs the best-effort side effects of a status write.
func (r *Reconciler) afterTransition(ctx context.Context, contributionID uint, target string, result store.TransitionResult) {
	if !result.InState {
		log.Printf("reconcile: contribution %d stays in its current status, not %s", contributionID, target)
		return
	}

	if !models.AffectsTotals(target) {
		return
	}

	c, err := r.contributions.ByID(ctx, contributionID)
	if err != nil || c == nil {
		log.Printf("reconcile: reload contribution %d failed: %v", contributionID, err)
		return
	}

	bestEffort("recompute project", func() error {
		_, err := r.stats.RecomputeProject(ctx, c.ProjectID)
		return err
	})

	if !result.Changed {
		return
	}

	var project models.Project
	if err := r.db.WithContext(ctx).Unscoped().First(&project, c.ProjectID).Error; err != nil {
		log.Printf("reconcile: load project %d for notifications failed: %v", c.ProjectID, err)
		return
	}

	bestEffort("realtime notify", func() error {
		return r.notify(project, *c)
	})

	if r.alerter != nil {
		r.sendAlert(ctx, project, *c)
	}
}

// sendAlert posts the owner alert in the background. The alert outlives the
// webhook request, so it gets its own deadline.
func (r *Reconciler) sendAlert(ctx context.Context, project models.Project, c models.Contribution) {
	alertCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), alertTimeout)

	r.alerts.Add(1)
	go func() {
		defer r.alerts.Done()
		defer cancel()

		bestEffort("owner alert", func() error {
			return r.alerter.ContributionAlert(alertCtx, project, c)
		})
	}()
}

// Wait blocks until every owner alert started so far has finished.
func (r *Reconciler) Wait() {
	r.alerts.Wait()
}

func (r *Reconciler) notify(project models.Project, c models.Contribution) error {
	if r.notifier == nil {
		return nil
	}

	name := realtime.EventContributionSucceeded
	if c.Status == models.ContributionRefunded {
		name = realtime.EventContributionRefunded
	}

	notice := ContributionNotice{
		ContributionID: c.ID,
		ProjectID:      c.ProjectID,
		Status:         c.Status,
		AmountCents:    c.AmountCents,
		Currency:       c.Currency,
		Amount:         FormatAmount(c.AmountCents, c.Currency),
		RaisedCents:    project.RaisedCents,
		SupporterCount: project.SupporterCount,
	}

	var errs []error

	if c.ContributorID != nil {
		errs = append(errs, r.notifier.Publish(realtime.Message{
			Name:      name,
			UserID:    *c.ContributorID,
			ProjectID: project.ID,
			OwnerID:   project.OwnerID,
			Data:      notice,
		}))
	}

	errs = append(errs, r.notifier.Publish(realtime.Message{
		Name:      name,
		ProjectID: project.ID,
		OwnerID:   project.OwnerID,
		Data:      notice,
	}))

	return errors.Join(errs...)
}

// bestEffort runs a side effect whose failure must not fail the webhook
// acknowledgment. Errors and panics are logged and dropped.
func bestEffort(step string, fn func() error) {
	defer func() {
		if p := recover(); p != nil {
			log.Printf("reconcile: %s panicked, continuing: %v", step, p)
		}
	}()

	if err := fn(); err != nil {
		log.Printf("reconcile: %s failed, continuing: %v", step, err)
	}
}
