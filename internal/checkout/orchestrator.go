package checkout

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/stripe/stripe-go/v81"

	"github.com/fenwick-labs/payflow/internal/currency"
	"github.com/fenwick-labs/payflow/internal/order"
	"github.com/fenwick-labs/payflow/internal/processor"
	"github.com/fenwick-labs/payflow/internal/subscription"
	"github.com/fenwick-labs/payflow/internal/vault"
)

// Options carries the configuration the orchestrator needs. There is no
// ambient global state; everything is passed in at construction.
type Options struct {
	// GatewayID identifies this gateway in order metadata, e.g. "stripe".
	GatewayID string

	// SavedCardsEnabled allows checkout with a previously saved token.
	SavedCardsEnabled bool

	// ForceSaveForSubscriptions persists the payment method whenever the
	// order creates or renews a subscription, regardless of the customer's
	// save preference. Renewals cannot be charged without a stored method.
	ForceSaveForSubscriptions bool

	// CustomerCacheTTL bounds how long guest customer search results are
	// memoized.
	CustomerCacheTTL time.Duration

	// OrderReceivedURL is the redirect target template for a successful
	// checkout; the order id is appended.
	OrderReceivedURL string
}

// PaymentContext is the per-checkout payment selection.
type PaymentContext struct {
	// TokenID selects a saved payment method token. Empty or "new" means a
	// new method confirmed client-side.
	TokenID string

	// IntentID is the intent the client created before submitting checkout.
	// Ignored when a saved token is selected.
	IntentID string

	// SetupIntentID references a just-completed setup intent, used on the
	// trial path where a method is saved without an upfront charge.
	SetupIntentID string

	// SaveMethod is the customer's explicit consent to save the method.
	SaveMethod bool

	// Subscription marks orders that create or renew a subscription.
	Subscription bool

	// Trial marks trial subscription orders.
	Trial bool
}

// Result is the successful outcome of ProcessPayment.
type Result struct {
	Redirect string `json:"redirect"`
}

// Orchestrator coordinates the processor intent lifecycle with the local
// order state machine.
type Orchestrator struct {
	client    processor.Client
	orders    order.Repository
	machine   *order.Machine
	tokens    vault.TokenRepository
	mappings  vault.MappingRepository
	subs      subscription.Repository
	cache     processor.Cache
	opts      Options
	observers []Observer
	metrics   *Metrics
	logger    *slog.Logger
}

// New creates a payment orchestrator. Observers are resolved here, at
// construction; metrics and cache may be nil.
func New(
	client processor.Client,
	orders order.Repository,
	machine *order.Machine,
	tokens vault.TokenRepository,
	mappings vault.MappingRepository,
	subs subscription.Repository,
	cache processor.Cache,
	opts Options,
	metrics *Metrics,
	logger *slog.Logger,
	observers ...Observer,
) (*Orchestrator, error) {
	if client == nil {
		return nil, &ConfigurationError{Msg: "payment processor client is not configured"}
	}
	if opts.GatewayID == "" {
		opts.GatewayID = "stripe"
	}
	if opts.CustomerCacheTTL <= 0 {
		opts.CustomerCacheTTL = 15 * time.Minute
	}
	if cache == nil {
		cache = processor.NewMemoryCache()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		client:    client,
		orders:    orders,
		machine:   machine,
		tokens:    tokens,
		mappings:  mappings,
		subs:      subs,
		cache:     cache,
		opts:      opts,
		observers: observers,
		metrics:   metrics,
		logger:    logger,
	}, nil
}

// ProcessPayment runs the checkout payment flow for an order. Validation and
// configuration failures leave the order untouched; any other failure
// transitions it to payment_failed before the error is returned.
func (oc *Orchestrator) ProcessPayment(ctx context.Context, ord *order.Order, pc PaymentContext) (Result, error) {
	res, err := oc.processPayment(ctx, ord, pc)
	if err == nil {
		return res, nil
	}

	var verr *ValidationError
	var cerr *ConfigurationError
	var derr *DeclinedError
	switch {
	case errors.As(err, &verr), errors.As(err, &cerr):
		// Fast-fail: no mutation happened and none should.
	case errors.Is(err, order.ErrLocked):
		// A concurrent payment operation holds the order and will settle
		// its state.
	case errors.As(err, &derr):
		// The capture sub-procedure already transitioned the order.
		oc.publish(ctx, PaymentFailed{OrderID: ord.ID, Reason: derr.Reason})
	default:
		if ferr := oc.machine.PaymentFail(ctx, ord, fmt.Sprintf("Payment failed: %s", err)); ferr != nil {
			oc.logger.ErrorContext(ctx, "failed to mark order payment_failed",
				"order_id", ord.ID, "error", ferr)
		}
		oc.publish(ctx, PaymentFailed{OrderID: ord.ID, Reason: err.Error()})
	}
	return Result{}, err
}

func (oc *Orchestrator) processPayment(ctx context.Context, ord *order.Order, pc PaymentContext) (Result, error) {
	minor := currency.ToMinorUnits(ord.Total, ord.Currency)
	paymentNeeded := minor > 0

	if paymentNeeded {
		if min := currency.MinimumChargeable(ord.Currency); ord.Total < min {
			return Result{}, validationf(
				"order total %.2f %s is below the minimum chargeable amount of %.2f %s",
				ord.Total, ord.Currency, min, ord.Currency)
		}
	}

	ord.SetMeta(order.MetaGateway, oc.opts.GatewayID)

	// Trial subscriptions with nothing to charge save a method, mark the
	// order paid, and never touch the intent API.
	if pc.Trial && !paymentNeeded {
		return oc.processTrial(ctx, ord, pc)
	}

	procCustomer, err := oc.resolveCustomer(ctx, ord)
	if err != nil {
		return Result{}, err
	}
	customerKnown := procCustomer != ""

	var intent *stripe.PaymentIntent
	usingSaved := false

	if pc.TokenID != "" && pc.TokenID != "new" {
		intent, err = oc.intentFromSavedToken(ctx, ord, pc.TokenID, minor, procCustomer)
		if err != nil {
			return Result{}, err
		}
		usingSaved = true
	} else {
		intentID := ord.GetMeta(order.MetaIntentID)
		if intentID == "" {
			intentID = pc.IntentID
		}
		if intentID == "" {
			return Result{}, validationf("no payment intent found for order %s; create an intent before submitting checkout", ord.ID)
		}
		intent, err = oc.client.RetrieveIntent(ctx, intentID)
		if err != nil {
			return Result{}, err
		}
	}

	if ord.GetMeta(order.MetaIntentID) != intent.ID {
		ord.SetMeta(order.MetaIntentID, intent.ID)
		oc.publish(ctx, IntentCreated{OrderID: ord.ID, IntentID: intent.ID})
	}
	if ord.Status == order.StatusDraft || ord.Status == order.StatusPendingPayment {
		note := fmt.Sprintf("Payment initiated (intent %s).", intent.ID)
		if err := oc.machine.PaymentInitiate(ctx, ord, note); err != nil {
			return Result{}, err
		}
	}

	// A guest's first payment may carry the customer the client attached to
	// the intent; adopt it as the order's mapping.
	if procCustomer == "" && intent.Customer != nil && intent.Customer.ID != "" {
		procCustomer = intent.Customer.ID
		if !customerKnown {
			_ = oc.mappings.Save(ctx, &vault.Mapping{
				UserID:              ord.CustomerID,
				ProcessorCustomerID: procCustomer,
				Email:               ord.Email,
				Name:                ord.Name,
			})
		}
	}

	if paymentNeeded {
		if err := oc.orders.AcquireLock(ctx, ord.ID, order.LockPayment, intent.ID); err != nil {
			return Result{}, err
		}
		defer func() {
			if rerr := oc.orders.ReleaseLock(ctx, ord.ID, order.LockPayment); rerr != nil {
				oc.logger.WarnContext(ctx, "failed to release payment lock",
					"order_id", ord.ID, "error", rerr)
			}
		}()

		intent, err = oc.capture(ctx, ord, intent)
		if err != nil {
			return Result{}, err
		}
	} else {
		if err := oc.machine.ProcessOrder(ctx, ord, "No payment required for this order."); err != nil {
			return Result{}, err
		}
		ord.DeleteMeta(order.MetaAwaitingAction)
	}

	pm := oc.lookupPaymentMethod(ctx, intent)
	oc.recordReconciliation(ord, intent, pm, procCustomer, paymentNeeded)
	if err := oc.orders.Save(ctx, ord); err != nil {
		return Result{}, fmt.Errorf("failed to persist reconciliation metadata: %w", err)
	}

	var tokenID string
	if oc.shouldSaveMethod(pc, usingSaved) && pm != nil && reusable(pm) && !ord.IsGuest() {
		saved, err := oc.saveToken(ctx, ord.CustomerID, pm)
		if err != nil {
			// Saving the method is a convenience; the payment itself stood.
			oc.logger.ErrorContext(ctx, "failed to save payment method token",
				"order_id", ord.ID, "error", err)
		} else {
			tokenID = saved.ID
		}
	}

	if err := oc.propagateToSubscriptions(ctx, ord, procCustomer, paymentMethodID(intent), tokenID); err != nil {
		return Result{}, err
	}

	return Result{Redirect: oc.receivedURL(ord)}, nil
}

// processTrial handles trial subscription orders that require no upfront
// payment: resolve a method reference, mark paid, and propagate. No intent
// is created and nothing is captured.
func (oc *Orchestrator) processTrial(ctx context.Context, ord *order.Order, pc PaymentContext) (Result, error) {
	procCustomer := ""
	methodID := ""
	tokenID := ""

	switch {
	case pc.SetupIntentID != "":
		si, err := oc.client.RetrieveSetupIntent(ctx, pc.SetupIntentID)
		if err != nil {
			return Result{}, err
		}
		if si.Status != stripe.SetupIntentStatusSucceeded {
			return Result{}, validationf("setup intent %s has not succeeded (status %s)", si.ID, si.Status)
		}
		if si.PaymentMethod != nil {
			methodID = si.PaymentMethod.ID
		}
		if si.Customer != nil {
			procCustomer = si.Customer.ID
		}
		ord.SetMeta(order.MetaSetupIntentID, si.ID)

		if !ord.IsGuest() && methodID != "" {
			pm := oc.lookupPaymentMethodByID(ctx, methodID)
			if pm != nil && reusable(pm) {
				saved, err := oc.saveToken(ctx, ord.CustomerID, pm)
				if err == nil {
					tokenID = saved.ID
				}
			}
		}
	case pc.TokenID != "" && pc.TokenID != "new":
		token, err := oc.tokens.GetByID(ctx, pc.TokenID)
		if err != nil {
			return Result{}, validationf("saved payment method %s not found", pc.TokenID)
		}
		if token.CustomerID != ord.CustomerID {
			return Result{}, validationf("saved payment method %s does not belong to this customer", pc.TokenID)
		}
		methodID = token.MethodID
		tokenID = token.ID
		if m, err := oc.mappings.Get(ctx, ord.CustomerID); err == nil {
			procCustomer = m.ProcessorCustomerID
		}
	default:
		return Result{}, validationf("trial subscription requires a saved or newly set up payment method")
	}

	if err := oc.machine.ProcessOrder(ctx, ord, "Trial subscription activated; no payment required."); err != nil {
		return Result{}, err
	}

	if procCustomer != "" {
		ord.SetMeta(order.MetaProcessorCustomer, procCustomer)
	}
	if methodID != "" {
		ord.SetMeta(order.MetaProcessorSource, methodID)
	}
	ord.SetMeta(order.MetaCurrency, ord.Currency)
	if err := oc.orders.Save(ctx, ord); err != nil {
		return Result{}, fmt.Errorf("failed to persist trial metadata: %w", err)
	}

	if err := oc.propagateToSubscriptions(ctx, ord, procCustomer, methodID, tokenID); err != nil {
		return Result{}, err
	}
	return Result{Redirect: oc.receivedURL(ord)}, nil
}

// intentFromSavedToken creates an immediately confirmed intent from a saved
// payment method.
func (oc *Orchestrator) intentFromSavedToken(ctx context.Context, ord *order.Order, tokenID string, minor int64, procCustomer string) (*stripe.PaymentIntent, error) {
	if !oc.opts.SavedCardsEnabled {
		return nil, validationf("paying with a saved card is not enabled")
	}
	token, err := oc.tokens.GetByID(ctx, tokenID)
	if err != nil {
		return nil, validationf("saved payment method %s not found", tokenID)
	}
	if token.CustomerID != ord.CustomerID {
		return nil, validationf("saved payment method %s does not belong to this customer", tokenID)
	}
	if procCustomer == "" {
		return nil, validationf("no processor customer on file for saved payment method %s", tokenID)
	}

	ref := ParseReference(token.MethodID)
	return oc.client.CreateIntent(ctx, processor.CreateIntentParams{
		AmountMinor:     minor,
		Currency:        ord.Currency,
		CustomerID:      procCustomer,
		PaymentMethodID: ref.ID,
		Description:     fmt.Sprintf("Order %s", ord.ID),
		Metadata:        map[string]string{"order_id": ord.ID},
	})
}

// resolveCustomer resolves or creates the processor customer for the order's
// owner. Registered customers use the stored mapping, re-creating the
// processor customer when the mapping is stale or missing. Guests are
// deduplicated by email+name search and never persisted.
func (oc *Orchestrator) resolveCustomer(ctx context.Context, ord *order.Order) (string, error) {
	profile := processor.BillingProfile{Email: ord.Email, Name: ord.Name}

	if !ord.IsGuest() {
		if m, err := oc.mappings.Get(ctx, ord.CustomerID); err == nil && m.ProcessorCustomerID != "" {
			return m.ProcessorCustomerID, nil
		}
		id, err := oc.client.CreateCustomer(ctx, profile)
		if err != nil {
			return "", err
		}
		if err := oc.mappings.Save(ctx, &vault.Mapping{
			UserID:              ord.CustomerID,
			ProcessorCustomerID: id,
			Email:               ord.Email,
			Name:                ord.Name,
		}); err != nil {
			oc.logger.ErrorContext(ctx, "failed to save customer mapping",
				"customer_id", ord.CustomerID, "error", err)
		}
		return id, nil
	}

	if ord.Email == "" {
		return "", nil
	}
	cacheKey := "payflow:guestcust:" + ord.Email + "|" + ord.Name
	if cached, ok, err := oc.cache.Get(ctx, cacheKey); err == nil && ok {
		return cached, nil
	}
	id, err := oc.client.SearchCustomer(ctx, ord.Email, ord.Name)
	if err != nil {
		return "", err
	}
	if id == "" {
		id, err = oc.client.CreateCustomer(ctx, profile)
		if err != nil {
			return "", err
		}
	}
	if cerr := oc.cache.Set(ctx, cacheKey, id, oc.opts.CustomerCacheTTL); cerr != nil {
		oc.logger.WarnContext(ctx, "failed to cache guest customer", "error", cerr)
	}
	return id, nil
}

// shouldSaveMethod decides whether to persist a reusable token: explicit
// consent, or forced when the order carries a subscription and the gateway is
// configured to require it.
func (oc *Orchestrator) shouldSaveMethod(pc PaymentContext, usingSaved bool) bool {
	if usingSaved {
		return false
	}
	if pc.SaveMethod {
		return true
	}
	return oc.opts.ForceSaveForSubscriptions && pc.Subscription
}

// saveToken persists or updates a reusable token for the payment method.
func (oc *Orchestrator) saveToken(ctx context.Context, customerID string, pm *stripe.PaymentMethod) (*vault.Token, error) {
	token := &vault.Token{
		CustomerID: customerID,
		GatewayID:  oc.opts.GatewayID,
		MethodID:   pm.ID,
		Type:       string(pm.Type),
	}
	if pm.Card != nil {
		token.Fingerprint = pm.Card.Fingerprint
		token.Brand = string(pm.Card.Brand)
		token.Last4 = pm.Card.Last4
		token.ExpMonth = pm.Card.ExpMonth
		token.ExpYear = pm.Card.ExpYear
	}
	return oc.tokens.Upsert(ctx, token)
}

// propagateToSubscriptions copies the payment method reference onto every
// subscription linked to the order, so renewals can charge it off-session.
func (oc *Orchestrator) propagateToSubscriptions(ctx context.Context, ord *order.Order, procCustomer, methodID, tokenID string) error {
	if oc.subs == nil {
		return nil
	}
	linked, err := oc.subs.ListForOrder(ctx, ord.ID)
	if err != nil {
		return fmt.Errorf("failed to list subscriptions for order %s: %w", ord.ID, err)
	}
	for _, sub := range linked {
		if procCustomer != "" {
			sub.ProcessorCustomerID = procCustomer
		}
		if methodID != "" {
			sub.ProcessorSourceID = methodID
		}
		if tokenID != "" {
			sub.TokenID = tokenID
		}
		if err := oc.subs.Save(ctx, sub); err != nil {
			return fmt.Errorf("failed to update subscription %s: %w", sub.ID, err)
		}
	}
	return nil
}

// recordReconciliation writes the reconciliation metadata enumerated for
// reporting collaborators.
func (oc *Orchestrator) recordReconciliation(ord *order.Order, intent *stripe.PaymentIntent, pm *stripe.PaymentMethod, procCustomer string, captured bool) {
	ord.SetMeta(order.MetaIntentID, intent.ID)
	ord.SetMeta(order.MetaCurrency, string(intent.Currency))
	if procCustomer != "" {
		ord.SetMeta(order.MetaProcessorCustomer, procCustomer)
	}
	if id := paymentMethodID(intent); id != "" {
		ord.SetMeta(order.MetaProcessorSource, id)
	}
	if captured {
		ord.SetMeta(order.MetaChargeCaptured, "yes")
	}
	if pm != nil {
		ord.SetMeta(order.MetaPaymentMethodType, string(pm.Type))
		if pm.Card != nil {
			ord.SetMeta(order.MetaCardBrand, string(pm.Card.Brand))
		}
	}
	ord.DeleteMeta(order.MetaAwaitingAction)
}

// lookupPaymentMethod fetches the payment method object used by the intent.
// This is a read-only enrichment; on failure it logs and returns nil rather
// than failing a payment that already went through.
func (oc *Orchestrator) lookupPaymentMethod(ctx context.Context, intent *stripe.PaymentIntent) *stripe.PaymentMethod {
	return oc.lookupPaymentMethodByID(ctx, paymentMethodID(intent))
}

func (oc *Orchestrator) lookupPaymentMethodByID(ctx context.Context, id string) *stripe.PaymentMethod {
	if id == "" {
		return nil
	}
	pm, err := oc.client.RetrievePaymentMethod(ctx, id)
	if err != nil {
		oc.logger.WarnContext(ctx, "failed to retrieve payment method", "method_id", id, "error", err)
		return nil
	}
	return pm
}

// paymentMethodID extracts the payment method id from an intent.
func paymentMethodID(intent *stripe.PaymentIntent) string {
	if intent == nil || intent.PaymentMethod == nil {
		return ""
	}
	return intent.PaymentMethod.ID
}

// reusable reports whether a payment method can be charged again later.
func reusable(pm *stripe.PaymentMethod) bool {
	switch pm.Type {
	case stripe.PaymentMethodTypeCard, stripe.PaymentMethodTypeSEPADebit, stripe.PaymentMethodTypeUSBankAccount:
		return true
	}
	return false
}

func (oc *Orchestrator) receivedURL(ord *order.Order) string {
	if oc.opts.OrderReceivedURL == "" {
		return "/order-received/" + ord.ID
	}
	return oc.opts.OrderReceivedURL + ord.ID
}
