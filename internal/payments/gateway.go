// Package payments wraps the Stripe API calls the service makes and the
// verification of Stripe webhooks.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/client"
)

// Metadata keys echoed back by Stripe on sessions, payment intents and subscriptions.
const (
	MetaContributionID = "contributionId"
	MetaProjectID      = "projectId"
	MetaUserID         = "userId"
)

var (
	// ErrAccountInvalid means the owner's connected account cannot receive funds.
	ErrAccountInvalid = errors.New("payout account is invalid")
	// ErrGateway wraps every other failure reported by Stripe.
	ErrGateway = errors.New("payment gateway error")
)

type CheckoutSessionRequest struct {
	ContributionID  uint
	ProjectID       uint
	ContributorID   *uint
	ProjectTitle    string
	AmountCents     int64
	Currency        string
	Recurring       bool
	DestinationAcct string
	SuccessURL      string
	CancelURL       string
	CustomerEmail   string
}

type CheckoutSession struct {
	ID  string
	URL string
}

type AccountStatus struct {
	ID             string
	ChargesEnabled bool
	PayoutsEnabled bool
}

// Verified reports whether the account can take destination charges and pay out.
func (a AccountStatus) Verified() bool {
	return a.ChargesEnabled && a.PayoutsEnabled
}

// Gateway is the subset of Stripe the service depends on.
type Gateway interface {
	CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error)
	CreateConnectedAccount(ctx context.Context, email string) (string, error)
	CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error)
	GetAccountStatus(ctx context.Context, accountID string) (*AccountStatus, error)
}

type StripeGateway struct {
	api *client.API
}

func NewStripeGateway(secretKey string) *StripeGateway {
	api := &client.API{}
	api.Init(secretKey, nil)

	return &StripeGateway{api: api}
}

// Metadata builds the correlation metadata attached to every checkout.
func Metadata(contributionID, projectID uint, contributorID *uint) map[string]string {
	meta := map[string]string{
		MetaContributionID: strconv.FormatUint(uint64(contributionID), 10),
		MetaProjectID:      strconv.FormatUint(uint64(projectID), 10),
	}

	if contributorID != nil {
		meta[MetaUserID] = strconv.FormatUint(uint64(*contributorID), 10)
	}

	return meta
}

// MetadataID parses a numeric id out of gateway metadata. Missing or
// malformed values yield 0.
func MetadataID(meta map[string]string, key string) uint {
	raw := strings.TrimSpace(meta[key])
	if raw == "" {
		return 0
	}

	id, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		return 0
	}

	return uint(id)
}

func (g *StripeGateway) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	meta := Metadata(req.ContributionID, req.ProjectID, req.ContributorID)

	priceData := &stripe.CheckoutSessionLineItemPriceDataParams{
		Currency:   stripe.String(req.Currency),
		UnitAmount: stripe.Int64(req.AmountCents),
		ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
			Name: stripe.String(req.ProjectTitle),
		},
	}

	params := &stripe.CheckoutSessionParams{
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{PriceData: priceData, Quantity: stripe.Int64(1)},
		},
	}

	if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}

	if req.Recurring {
		priceData.Recurring = &stripe.CheckoutSessionLineItemPriceDataRecurringParams{
			Interval: stripe.String(string(stripe.PriceRecurringIntervalMonth)),
		}
		params.Mode = stripe.String(string(stripe.CheckoutSessionModeSubscription))
		params.SubscriptionData = &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: meta,
			TransferData: &stripe.CheckoutSessionSubscriptionDataTransferDataParams{
				Destination: stripe.String(req.DestinationAcct),
			},
		}
	} else {
		params.Mode = stripe.String(string(stripe.CheckoutSessionModePayment))
		params.PaymentIntentData = &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: meta,
			TransferData: &stripe.CheckoutSessionPaymentIntentDataTransferDataParams{
				Destination: stripe.String(req.DestinationAcct),
			},
		}
	}

	for k, v := range meta {
		params.AddMetadata(k, v)
	}

	params.Context = ctx
	params.SetIdempotencyKey(fmt.Sprintf("checkout-contribution-%d", req.ContributionID))

	session, err := g.api.CheckoutSessions.New(params)
	if err != nil {
		return nil, classify(err)
	}

	return &CheckoutSession{ID: session.ID, URL: session.URL}, nil
}

func (g *StripeGateway) CreateConnectedAccount(ctx context.Context, email string) (string, error) {
	params := &stripe.AccountParams{
		Type: stripe.String(string(stripe.AccountTypeExpress)),
		Capabilities: &stripe.AccountCapabilitiesParams{
			CardPayments: &stripe.AccountCapabilitiesCardPaymentsParams{Requested: stripe.Bool(true)},
			Transfers:    &stripe.AccountCapabilitiesTransfersParams{Requested: stripe.Bool(true)},
		},
	}

	if email != "" {
		params.Email = stripe.String(email)
	}

	params.Context = ctx

	acct, err := g.api.Accounts.New(params)
	if err != nil {
		return "", classify(err)
	}

	return acct.ID, nil
}

func (g *StripeGateway) CreateOnboardingLink(ctx context.Context, accountID, refreshURL, returnURL string) (string, error) {
	params := &stripe.AccountLinkParams{
		Account:    stripe.String(accountID),
		RefreshURL: stripe.String(refreshURL),
		ReturnURL:  stripe.String(returnURL),
		Type:       stripe.String("account_onboarding"),
	}
	params.Context = ctx

	link, err := g.api.AccountLinks.New(params)
	if err != nil {
		return "", classify(err)
	}

	return link.URL, nil
}

func (g *StripeGateway) GetAccountStatus(ctx context.Context, accountID string) (*AccountStatus, error) {
	params := &stripe.AccountParams{}
	params.Context = ctx

	acct, err := g.api.Accounts.GetByID(accountID, params)
	if err != nil {
		return nil, classify(err)
	}

	return &AccountStatus{
		ID:             acct.ID,
		ChargesEnabled: acct.ChargesEnabled,
		PayoutsEnabled: acct.PayoutsEnabled,
	}, nil
}

// classify maps a Stripe error onto ErrAccountInvalid or ErrGateway. The
// original error stays in the chain.
func classify(err error) error {
	var stripeErr *stripe.Error

	if errors.As(err, &stripeErr) && IsAccountError(string(stripeErr.Code), stripeErr.Param, stripeErr.Msg) {
		return fmt.Errorf("%w: %w", ErrAccountInvalid, err)
	}

	return fmt.Errorf("%w: %w", ErrGateway, err)
}

// IsAccountError reports whether a Stripe error points at the connected
// account rather than at the request.
func IsAccountError(code, param, msg string) bool {
	switch code {
	case "account_invalid", "account_country_invalid_address", "platform_account_required":
		return true
	}

	if strings.Contains(param, "destination") || strings.Contains(param, "account") {
		return true
	}

	lower := strings.ToLower(msg)
	return strings.Contains(lower, "no such destination") || strings.Contains(lower, "capabilities enabled")
}
