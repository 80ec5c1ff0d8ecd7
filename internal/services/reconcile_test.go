package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/pledgehub/pledgehub/internal/models"
	"github.com/pledgehub/pledgehub/internal/realtime"
	"github.com/pledgehub/pledgehub/internal/testutil"
	"github.com/stripe/stripe-go/v74"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []realtime.Message
	err      error
}

func (n *recordingNotifier) Publish(m realtime.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.messages = append(n.messages, m)
	return n.err
}

func (n *recordingNotifier) names() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	var names []string
	for _, m := range n.messages {
		names = append(names, m.Name)
	}
	return names
}

type recordingAlerter struct {
	mu    sync.Mutex
	calls int
	panic bool
}

func (a *recordingAlerter) ContributionAlert(ctx context.Context, project models.Project, contribution models.Contribution) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls++
	if a.panic {
		panic("webhook client exploded")
	}
	return nil
}

type fixture struct {
	db         *gorm.DB
	reconciler *Reconciler
	notifier   *recordingNotifier
	alerter    *recordingAlerter
	owner      models.User
	backer     models.User
	project    models.Project
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	gdb := testutil.NewDB(t)
	owner := testutil.CreateOwner(t, gdb, "owner")
	backer := testutil.CreateUser(t, gdb, "backer")
	project := testutil.CreateProject(t, gdb, owner)

	notifier := &recordingNotifier{}
	alerter := &recordingAlerter{}
	stats := NewStatsAggregator(gdb, 10)

	return &fixture{
		db:         gdb,
		reconciler: NewReconciler(gdb, stats, NewPayoutService(gdb, nil), notifier, alerter),
		notifier:   notifier,
		alerter:    alerter,
		owner:      owner,
		backer:     backer,
		project:    project,
	}
}

func (f *fixture) pending(t *testing.T, amount int64, sessionID string) models.Contribution {
	t.Helper()

	return testutil.CreateContribution(t, f.db, models.Contribution{
		ProjectID:               f.project.ID,
		ContributorID:           &f.backer.ID,
		AmountCents:             amount,
		StripeCheckoutSessionID: testutil.Ptr(sessionID),
	})
}

func (f *fixture) handle(t *testing.T, event stripe.Event) {
	t.Helper()

	if err := f.reconciler.HandleEvent(context.Background(), event); err != nil {
		t.Fatalf("HandleEvent(%s) returned error: %v", event.ID, err)
	}
}

func (f *fixture) assertTotals(t *testing.T, raised, supporters int64) {
	t.Helper()

	project := testutil.ReloadProject(t, f.db, f.project.ID)
	if project.RaisedCents != raised || project.SupporterCount != supporters {
		t.Errorf("Expected totals %d/%d, got %d/%d", raised, supporters, project.RaisedCents, project.SupporterCount)
	}
}

// newEvent builds an event the way the webhook verifier would decode it.
func newEvent(t *testing.T, id, eventType string, object map[string]interface{}) stripe.Event {
	t.Helper()

	raw, err := json.Marshal(map[string]interface{}{
		"id":     id,
		"object": "event",
		"type":   eventType,
		"data":   map[string]interface{}{"object": object},
	})
	if err != nil {
		t.Fatalf("Failed to marshal event: %v", err)
	}

	var event stripe.Event
	if err := json.Unmarshal(raw, &event); err != nil {
		t.Fatalf("Failed to unmarshal event: %v", err)
	}

	return event
}

func sessionObject(sessionID, intentID string, amount int64, meta map[string]string) map[string]interface{} {
	obj := map[string]interface{}{
		"id":           sessionID,
		"object":       "checkout.session",
		"amount_total": amount,
		"currency":     "usd",
		"metadata":     meta,
	}
	if intentID != "" {
		obj["payment_intent"] = intentID
	}
	return obj
}

func contributionMeta(c models.Contribution) map[string]string {
	return map[string]string{
		"contributionId": fmt.Sprint(c.ID),
		"projectId":      fmt.Sprint(c.ProjectID),
	}
}

func TestCheckoutCompletedSettlesContribution(t *testing.T) {
	f := newFixture(t)
	c := f.pending(t, 5000, "cs_1")

	f.handle(t, newEvent(t, "evt_1", EventCheckoutCompleted, sessionObject("cs_1", "pi_1", 5000, contributionMeta(c))))

	got := testutil.ReloadContribution(t, f.db, c.ID)
	if got.Status != models.ContributionSucceeded {
		t.Errorf("Expected status %s, got %s", models.ContributionSucceeded, got.Status)
	}
	if got.StripePaymentIntentID == nil || *got.StripePaymentIntentID != "pi_1" {
		t.Errorf("Expected payment intent pi_1 to be recorded, got %v", got.StripePaymentIntentID)
	}

	f.assertTotals(t, 5000, 1)

	names := f.notifier.names()
	if len(names) != 2 {
		t.Fatalf("Expected a targeted and a broadcast notification, got %v", names)
	}
	for _, name := range names {
		if name != realtime.EventContributionSucceeded {
			t.Errorf("Expected %s, got %s", realtime.EventContributionSucceeded, name)
		}
	}
	if f.notifier.messages[0].UserID != f.backer.ID {
		t.Errorf("Expected first message targeted at user %d, got %d", f.backer.ID, f.notifier.messages[0].UserID)
	}
	if !f.notifier.messages[1].Broadcast() {
		t.Error("Expected second message to be a broadcast")
	}

	notice, ok := f.notifier.messages[1].Data.(ContributionNotice)
	if !ok {
		t.Fatalf("Expected ContributionNotice data, got %T", f.notifier.messages[1].Data)
	}
	if notice.Amount != "50.00 USD" || notice.RaisedCents != 5000 {
		t.Errorf("Unexpected notice: %+v", notice)
	}

	f.reconciler.Wait()
	if f.alerter.calls != 1 {
		t.Errorf("Expected one owner alert, got %d", f.alerter.calls)
	}
}

func TestCheckoutCompletedCorrelatesBySessionWithoutMetadata(t *testing.T) {
	f := newFixture(t)
	c := f.pending(t, 2500, "cs_nometa")

	f.handle(t, newEvent(t, "evt_1", EventCheckoutCompleted, sessionObject("cs_nometa", "", 2500, nil)))

	if got := testutil.ReloadContribution(t, f.db, c.ID); got.Status != models.ContributionSucceeded {
		t.Errorf("Expected status %s, got %s", models.ContributionSucceeded, got.Status)
	}
	f.assertTotals(t, 2500, 1)
}

func TestDuplicateDeliveryIsIdempotent(t *testing.T) {
	f := newFixture(t)
	c := f.pending(t, 5000, "cs_1")
	event := newEvent(t, "evt_1", EventCheckoutCompleted, sessionObject("cs_1", "pi_1", 5000, contributionMeta(c)))

	f.handle(t, event)
	f.handle(t, event)

	// A distinct event id carrying the same completion takes the refresh path.
	f.handle(t, newEvent(t, "evt_2", EventCheckoutCompleted, sessionObject("cs_1", "pi_1", 5000, contributionMeta(c))))

	f.assertTotals(t, 5000, 1)

	if n := len(f.notifier.names()); n != 2 {
		t.Errorf("Expected notifications for the first delivery only, got %d", n)
	}
	f.reconciler.Wait()
	if f.alerter.calls != 1 {
		t.Errorf("Expected one owner alert, got %d", f.alerter.calls)
	}

	var count int64
	f.db.Model(&models.Contribution{}).Count(&count)
	if count != 1 {
		t.Errorf("Expected one contribution, got %d", count)
	}
}

func TestRefundScenario(t *testing.T) {
	f := newFixture(t)
	c := f.pending(t, 5000, "cs_1")

	f.handle(t, newEvent(t, "evt_1", EventCheckoutCompleted, sessionObject("cs_1", "pi_1", 5000, contributionMeta(c))))
	f.assertTotals(t, 5000, 1)

	f.handle(t, newEvent(t, "evt_2", EventChargeRefunded, map[string]interface{}{
		"id":             "ch_1",
		"object":         "charge",
		"payment_intent": "pi_1",
	}))

	if got := testutil.ReloadContribution(t, f.db, c.ID); got.Status != models.ContributionRefunded {
		t.Errorf("Expected status %s, got %s", models.ContributionRefunded, got.Status)
	}
	f.assertTotals(t, 0, 0)

	names := f.notifier.names()
	if names[len(names)-1] != realtime.EventContributionRefunded {
		t.Errorf("Expected last notification %s, got %v", realtime.EventContributionRefunded, names)
	}

	// refund.updated for the same refund changes nothing further.
	f.handle(t, newEvent(t, "evt_3", EventRefundUpdated, map[string]interface{}{
		"id":             "re_1",
		"object":         "refund",
		"status":         "succeeded",
		"payment_intent": "pi_1",
	}))
	if n := len(f.notifier.names()); n != len(names) {
		t.Errorf("Expected no notification for a repeated refund, got %d new", n-len(names))
	}
}

func TestRefundBeforeSuccessStaysRefunded(t *testing.T) {
	f := newFixture(t)
	c := f.pending(t, 5000, "cs_1")
	f.db.Model(&c).Update("stripe_payment_intent_id", "pi_1")

	f.handle(t, newEvent(t, "evt_refund", EventRefundCreated, map[string]interface{}{
		"id":             "re_1",
		"object":         "refund",
		"status":         "succeeded",
		"payment_intent": "pi_1",
	}))
	f.handle(t, newEvent(t, "evt_done", EventCheckoutCompleted, sessionObject("cs_1", "pi_1", 5000, contributionMeta(c))))
	f.handle(t, newEvent(t, "evt_pi", EventPaymentSucceeded, map[string]interface{}{
		"id":              "pi_1",
		"object":          "payment_intent",
		"amount":          5000,
		"amount_received": 5000,
		"currency":        "usd",
	}))

	if got := testutil.ReloadContribution(t, f.db, c.ID); got.Status != models.ContributionRefunded {
		t.Errorf("Expected status %s, got %s", models.ContributionRefunded, got.Status)
	}
	f.assertTotals(t, 0, 0)
}

func TestFailedRefundIsIgnored(t *testing.T) {
	f := newFixture(t)
	c := testutil.CreateContribution(t, f.db, models.Contribution{
		ProjectID:             f.project.ID,
		ContributorID:         &f.backer.ID,
		AmountCents:           700,
		Status:                models.ContributionSucceeded,
		StripePaymentIntentID: testutil.Ptr("pi_7"),
	})

	f.handle(t, newEvent(t, "evt_1", EventRefundUpdated, map[string]interface{}{
		"id":             "re_7",
		"object":         "refund",
		"status":         "failed",
		"payment_intent": "pi_7",
	}))

	if got := testutil.ReloadContribution(t, f.db, c.ID); got.Status != models.ContributionSucceeded {
		t.Errorf("Expected status %s, got %s", models.ContributionSucceeded, got.Status)
	}
}

func TestExpiredUnknownSessionIsNoop(t *testing.T) {
	f := newFixture(t)

	f.handle(t, newEvent(t, "evt_1", EventCheckoutExpired, sessionObject("cs_unknown", "", 0, nil)))

	var count int64
	f.db.Model(&models.Contribution{}).Count(&count)
	if count != 0 {
		t.Errorf("Expected no contributions, got %d", count)
	}
	if n := len(f.notifier.names()); n != 0 {
		t.Errorf("Expected no notifications, got %d", n)
	}
}

func TestExpiredSessionFailsPending(t *testing.T) {
	f := newFixture(t)
	c := f.pending(t, 1200, "cs_exp")

	f.handle(t, newEvent(t, "evt_1", EventCheckoutExpired, sessionObject("cs_exp", "", 0, contributionMeta(c))))

	if got := testutil.ReloadContribution(t, f.db, c.ID); got.Status != models.ContributionFailed {
		t.Errorf("Expected status %s, got %s", models.ContributionFailed, got.Status)
	}
	if n := len(f.notifier.names()); n != 0 {
		t.Errorf("Expected no notifications for a failure, got %d", n)
	}
}

func TestPaymentFailedThenSucceeded(t *testing.T) {
	f := newFixture(t)
	c := f.pending(t, 3000, "cs_retry")
	f.db.Model(&c).Update("stripe_payment_intent_id", "pi_retry")

	f.handle(t, newEvent(t, "evt_1", EventPaymentFailed, map[string]interface{}{
		"id":     "pi_retry",
		"object": "payment_intent",
	}))
	if got := testutil.ReloadContribution(t, f.db, c.ID); got.Status != models.ContributionFailed {
		t.Fatalf("Expected status %s, got %s", models.ContributionFailed, got.Status)
	}

	f.handle(t, newEvent(t, "evt_2", EventPaymentSucceeded, map[string]interface{}{
		"id":              "pi_retry",
		"object":          "payment_intent",
		"amount":          3000,
		"amount_received": 3200,
		"currency":        "usd",
	}))

	got := testutil.ReloadContribution(t, f.db, c.ID)
	if got.Status != models.ContributionSucceeded || got.AmountCents != 3200 {
		t.Errorf("Expected SUCCEEDED with 3200, got %s with %d", got.Status, got.AmountCents)
	}
	f.assertTotals(t, 3200, 1)
}

func TestCompletedSessionWithoutRecordCreatesContribution(t *testing.T) {
	f := newFixture(t)
	meta := map[string]string{
		"projectId": fmt.Sprint(f.project.ID),
		"userId":    fmt.Sprint(f.backer.ID),
	}

	f.handle(t, newEvent(t, "evt_1", EventCheckoutCompleted, sessionObject("cs_orphan", "pi_orphan", 4200, meta)))
	f.handle(t, newEvent(t, "evt_2", EventCheckoutCompleted, sessionObject("cs_orphan", "pi_orphan", 4200, meta)))

	var contributions []models.Contribution
	f.db.Find(&contributions)
	if len(contributions) != 1 {
		t.Fatalf("Expected one created contribution, got %d", len(contributions))
	}

	c := contributions[0]
	if c.Status != models.ContributionSucceeded || c.AmountCents != 4200 {
		t.Errorf("Expected SUCCEEDED with 4200, got %s with %d", c.Status, c.AmountCents)
	}
	if c.ContributorID == nil || *c.ContributorID != f.backer.ID {
		t.Errorf("Expected contributor %d, got %v", f.backer.ID, c.ContributorID)
	}
	f.assertTotals(t, 4200, 1)
}

func TestCompletedSessionForUnknownProjectIsIgnored(t *testing.T) {
	f := newFixture(t)

	f.handle(t, newEvent(t, "evt_1", EventCheckoutCompleted, sessionObject("cs_lost", "pi_lost", 100, map[string]string{"projectId": "9999"})))
	f.handle(t, newEvent(t, "evt_2", EventCheckoutCompleted, sessionObject("cs_bare", "", 100, nil)))

	var count int64
	f.db.Model(&models.Contribution{}).Count(&count)
	if count != 0 {
		t.Errorf("Expected no contributions, got %d", count)
	}
}

func TestUnknownEventTypeIsAcknowledged(t *testing.T) {
	f := newFixture(t)

	f.handle(t, newEvent(t, "evt_1", "invoice.finalized", map[string]interface{}{"id": "in_1", "object": "invoice"}))
}

func TestMalformedObjectStaysRetryable(t *testing.T) {
	f := newFixture(t)
	c := f.pending(t, 5000, "cs_1")

	bad := newEvent(t, "evt_bad", EventCheckoutCompleted, map[string]interface{}{
		"id":           "cs_1",
		"object":       "checkout.session",
		"amount_total": "a lot",
	})

	if err := f.reconciler.HandleEvent(context.Background(), bad); err == nil {
		t.Fatal("Expected an error for a malformed session")
	}

	var stored models.WebhookEvent
	if err := f.db.Where("provider_event_id = ?", "evt_bad").First(&stored).Error; err != nil {
		t.Fatalf("Expected the event to be journaled: %v", err)
	}
	if stored.ProcessedAt != nil || stored.ProcessingError == "" {
		t.Errorf("Expected an unprocessed event with an error, got %+v", stored)
	}

	if got := testutil.ReloadContribution(t, f.db, c.ID); got.Status != models.ContributionPending {
		t.Errorf("Expected status %s, got %s", models.ContributionPending, got.Status)
	}
}

func TestSideEffectFailuresDoNotFailEvent(t *testing.T) {
	f := newFixture(t)
	f.notifier.err = realtime.ErrHubBusy
	f.alerter.panic = true
	c := f.pending(t, 5000, "cs_1")

	f.handle(t, newEvent(t, "evt_1", EventCheckoutCompleted, sessionObject("cs_1", "pi_1", 5000, contributionMeta(c))))
	f.reconciler.Wait()

	if got := testutil.ReloadContribution(t, f.db, c.ID); got.Status != models.ContributionSucceeded {
		t.Errorf("Expected status %s, got %s", models.ContributionSucceeded, got.Status)
	}
	f.assertTotals(t, 5000, 1)

	var stored models.WebhookEvent
	f.db.Where("provider_event_id = ?", "evt_1").First(&stored)
	if stored.ProcessedAt == nil {
		t.Error("Expected the event to be marked processed")
	}
}

func TestAggregateMatchesSucceededContributions(t *testing.T) {
	f := newFixture(t)
	other := testutil.CreateUser(t, f.db, "other")

	a := f.pending(t, 1000, "cs_a")
	b := f.pending(t, 2000, "cs_b")
	d := testutil.CreateContribution(t, f.db, models.Contribution{
		ProjectID:               f.project.ID,
		ContributorID:           &other.ID,
		AmountCents:             4000,
		StripeCheckoutSessionID: testutil.Ptr("cs_d"),
	})

	f.handle(t, newEvent(t, "evt_a", EventCheckoutCompleted, sessionObject("cs_a", "pi_a", 1000, contributionMeta(a))))
	f.handle(t, newEvent(t, "evt_b", EventCheckoutCompleted, sessionObject("cs_b", "pi_b", 2000, contributionMeta(b))))
	f.handle(t, newEvent(t, "evt_d", EventCheckoutCompleted, sessionObject("cs_d", "pi_d", 4000, contributionMeta(d))))
	f.handle(t, newEvent(t, "evt_r", EventChargeRefunded, map[string]interface{}{"id": "ch_b", "object": "charge", "payment_intent": "pi_b"}))

	// Same backer twice counts once.
	f.assertTotals(t, 5000, 2)

	validation, err := NewStatsAggregator(f.db, 10).Validate(context.Background(), f.project.ID)
	if err != nil {
		t.Fatalf("Validate returned error: %v", err)
	}
	if !validation.Consistent {
		t.Errorf("Expected consistent totals, got %+v", validation)
	}
}

func TestAccountUpdatedTogglesPayouts(t *testing.T) {
	f := newFixture(t)

	f.handle(t, newEvent(t, "evt_1", EventAccountUpdated, map[string]interface{}{
		"id":              f.owner.StripeAccountID,
		"object":          "account",
		"charges_enabled": true,
		"payouts_enabled": false,
	}))

	var owner models.User
	f.db.First(&owner, f.owner.ID)
	if owner.PayoutsEnabled {
		t.Error("Expected payouts to be disabled")
	}

	f.handle(t, newEvent(t, "evt_2", EventAccountUpdated, map[string]interface{}{
		"id":     "acct_nobody",
		"object": "account",
	}))
}

func TestSubscriptionLifecycle(t *testing.T) {
	f := newFixture(t)
	c := f.pending(t, 900, "cs_sub")

	session := sessionObject("cs_sub", "", 900, contributionMeta(c))
	session["mode"] = "subscription"
	session["subscription"] = "sub_1"

	f.handle(t, newEvent(t, "evt_1", EventCheckoutCompleted, session))
	f.handle(t, newEvent(t, "evt_2", EventCheckoutCompleted, session))

	var subs []models.Subscription
	f.db.Find(&subs)
	if len(subs) != 1 || subs[0].Status != models.SubscriptionActive {
		t.Fatalf("Expected one active subscription, got %+v", subs)
	}

	f.handle(t, newEvent(t, "evt_3", EventSubscriptionCancelled, map[string]interface{}{"id": "sub_1", "object": "subscription"}))

	var sub models.Subscription
	f.db.First(&sub, subs[0].ID)
	if sub.Status != models.SubscriptionCanceled {
		t.Errorf("Expected status %s, got %s", models.SubscriptionCanceled, sub.Status)
	}
}

func TestBestEffortRecoversPanics(t *testing.T) {
	ran := false

	bestEffort("explode", func() error {
		ran = true
		panic("boom")
	})
	bestEffort("fail", func() error {
		return errors.New("nope")
	})

	if !ran {
		t.Error("Expected the step to run")
	}
}

func TestSuccessEventsConvergeInEitherOrder(t *testing.T) {
	type outcome struct {
		status        string
		amount        int64
		paymentIntent string
		session       string
		rows          int64
		notices       int
	}

	run := func(t *testing.T, intentFirst bool) outcome {
		f := newFixture(t)
		c := f.pending(t, 5000, "cs_1")

		completed := newEvent(t, "evt_session", EventCheckoutCompleted, sessionObject("cs_1", "pi_1", 5000, contributionMeta(c)))
		succeeded := newEvent(t, "evt_intent", EventPaymentSucceeded, map[string]interface{}{
			"id":              "pi_1",
			"object":          "payment_intent",
			"amount":          5000,
			"amount_received": 5000,
			"currency":        "usd",
			"metadata":        contributionMeta(c),
		})

		if intentFirst {
			f.handle(t, succeeded)
			f.handle(t, completed)
		} else {
			f.handle(t, completed)
			f.handle(t, succeeded)
		}
		f.reconciler.Wait()
		f.assertTotals(t, 5000, 1)

		got := testutil.ReloadContribution(t, f.db, c.ID)
		out := outcome{status: got.Status, amount: got.AmountCents, notices: len(f.notifier.names())}
		if got.StripePaymentIntentID != nil {
			out.paymentIntent = *got.StripePaymentIntentID
		}
		if got.StripeCheckoutSessionID != nil {
			out.session = *got.StripeCheckoutSessionID
		}
		f.db.Model(&models.Contribution{}).Count(&out.rows)

		return out
	}

	intentFirst := run(t, true)
	sessionFirst := run(t, false)

	want := outcome{status: models.ContributionSucceeded, amount: 5000, paymentIntent: "pi_1", session: "cs_1", rows: 1, notices: 2}
	if intentFirst != want {
		t.Errorf("Intent first: expected %+v, got %+v", want, intentFirst)
	}
	if sessionFirst != want {
		t.Errorf("Session first: expected %+v, got %+v", want, sessionFirst)
	}
}

func TestSlowOwnerWebhookDoesNotDelayEvent(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
	}))
	defer server.Close()

	f := newFixture(t)
	f.db.Model(&f.project).Updates(map[string]interface{}{"discord_webhook": server.URL, "slack_webhook": server.URL})
	f.reconciler = NewReconciler(f.db, NewStatsAggregator(f.db, 10), NewPayoutService(f.db, nil), f.notifier, NewOwnerAlerter(server.Client(), "PledgeHub"))
	c := f.pending(t, 5000, "cs_1")

	start := time.Now()
	f.handle(t, newEvent(t, "evt_1", EventCheckoutCompleted, sessionObject("cs_1", "pi_1", 5000, contributionMeta(c))))
	if elapsed := time.Since(start); elapsed > 2*time.Second {
		t.Errorf("Expected HandleEvent to return before the alert finished, took %v", elapsed)
	}

	if got := testutil.ReloadContribution(t, f.db, c.ID); got.Status != models.ContributionSucceeded {
		t.Errorf("Expected status %s, got %s", models.ContributionSucceeded, got.Status)
	}

	close(release)
	f.reconciler.Wait()
}
