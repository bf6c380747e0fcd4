package billing

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/config"
	"github.com/ManuelReschke/billingsync/internal/pkg/gateway"
)

const defaultCheckoutExpiry = 24 * time.Hour

// Service covers the user-initiated side of billing: checkout, cancel,
// resume and the self-service portal.
type Service struct {
	db       *gorm.DB
	repos    *repository.Repositories
	gateways AdapterResolver
	cfg      config.Billing
	log      *Logger
	validate *validator.Validate
	now      func() time.Time
}

func NewService(db *gorm.DB, gateways AdapterResolver, cfg config.Billing, logger *Logger) *Service {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})
	return &Service{
		db:       db,
		repos:    repository.NewRepositories(db),
		gateways: gateways,
		cfg:      cfg,
		log:      logger,
		validate: v,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// BuyerDetails is the buyer input of a checkout submission.
type BuyerDetails struct {
	Name         string `json:"name" validate:"required,min=2,max=150"`
	Email        string `json:"email" validate:"required,email,max=200"`
	AddressLine1 string `json:"address_line1" validate:"max=200"`
	AddressLine2 string `json:"address_line2" validate:"max=200"`
	City         string `json:"city" validate:"max=100"`
	PostalCode   string `json:"postal_code" validate:"max=20"`
	Country      string `json:"country" validate:"omitempty,iso3166_1_alpha2"`
	Coupon       string `json:"coupon" validate:"max=100"`
}

// CheckoutRedirect points the buyer at the provider's hosted checkout.
type CheckoutRedirect struct {
	URL               string `json:"url"`
	ProviderSessionID string `json:"provider_session_id"`
}

// CreateCheckout opens a pending checkout session for an active price. A
// logged-in user's existing customer is bound right away.
func (s *Service) CreateCheckout(ctx context.Context, priceID uint, userID uint) (*models.CheckoutSession, error) {
	price, err := s.repos.Price.GetByID(priceID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrPriceNotFound
	}
	if err != nil {
		return nil, err
	}
	if !price.IsActive {
		return nil, ErrPriceUnavailable
	}

	expiry := s.cfg.CheckoutExpiry
	if expiry <= 0 {
		expiry = defaultCheckoutExpiry
	}
	provider := price.Provider
	if provider == "" {
		provider = s.cfg.DefaultGateway
	}
	session := &models.CheckoutSession{
		UUID:      uuid.New().String(),
		PriceID:   price.ID,
		Provider:  provider,
		Status:    models.CheckoutStatusPending,
		ExpiresAt: s.now().Add(expiry),
	}

	if userID != 0 {
		customer, err := s.repos.Customer.GetByUserID(userID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if customer != nil {
			session.CustomerID = &customer.ID
		}
	}

	if err := s.repos.CheckoutSession.Create(session); err != nil {
		return nil, fmt.Errorf("create checkout session: %w", err)
	}
	s.log.Infof("Created checkout session %s for price %d", session.UUID, price.ID)
	return session, nil
}

// SubmitCheckout attaches the buyer to the session and hands it to the
// provider. The customer record is created on first submission.
func (s *Service) SubmitCheckout(ctx context.Context, sessionUUID string, userID uint, in BuyerDetails) (*CheckoutRedirect, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	in.Country = strings.ToUpper(strings.TrimSpace(in.Country))
	in.Coupon = strings.TrimSpace(in.Coupon)
	if err := s.validateInput(in); err != nil {
		return nil, err
	}

	session, err := s.repos.CheckoutSession.GetByUUID(sessionUUID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrCheckoutNotFound
	}
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !session.IsOpen(now) {
		if session.Status == models.CheckoutStatusPending {
			session.Status = models.CheckoutStatusExpired
			if err := s.repos.CheckoutSession.Update(session); err != nil {
				return nil, err
			}
		}
		return nil, ErrCheckoutGone
	}

	if _, err := s.repos.User.GetByID(userID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrUserNotFound
		}
		return nil, err
	}
	customer, err := s.repos.Customer.GetByUserID(userID)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, err
	}
	if session.CustomerID != nil && (customer == nil || customer.ID != *session.CustomerID) {
		return nil, ErrCheckoutForbidden
	}

	provider := session.Provider
	if provider == "" {
		provider = s.cfg.DefaultGateway
	}
	adapter, err := s.gateways.Resolve(provider)
	if err != nil {
		return nil, err
	}

	if customer == nil {
		providerCustomerID, err := adapter.CreateCustomer(ctx, in.Name, in.Email)
		if err != nil {
			return nil, err
		}
		customer = &models.Customer{
			UserID:             userID,
			Provider:           adapter.Name(),
			ProviderCustomerID: providerCustomerID,
			Name:               in.Name,
			Email:              in.Email,
		}
		if err := s.repos.Customer.Create(customer); err != nil {
			return nil, fmt.Errorf("create customer: %w", err)
		}
		s.log.Infof("Created %s customer %s for user %d", adapter.Name(), providerCustomerID, userID)
	}

	price := session.Price
	if price == nil {
		if price, err = s.repos.Price.GetByID(session.PriceID); err != nil {
			return nil, err
		}
	}
	if price.IsRecurring() {
		subscribed, err := s.repos.Subscription.HasEntitlingForPrice(customer.ID, price.ID)
		if err != nil {
			return nil, err
		}
		if subscribed {
			return nil, ErrAlreadySubscribed
		}
	}

	result, err := adapter.CreateCheckoutSession(ctx, gateway.CheckoutRequest{
		Customer:        customer,
		Price:           price,
		SuccessURL:      s.cfg.SuccessURL,
		CancelURL:       s.cfg.CancelURL,
		Coupon:          in.Coupon,
		ClientReference: session.UUID,
	})
	if err != nil {
		return nil, err
	}

	session.CustomerID = &customer.ID
	session.Provider = adapter.Name()
	session.ProviderSessionID = result.SessionID
	if err := s.repos.CheckoutSession.Update(session); err != nil {
		return nil, err
	}
	s.log.Infof("Checkout session %s handed to %s as %s", session.UUID, adapter.Name(), result.SessionID)
	return &CheckoutRedirect{URL: result.URL, ProviderSessionID: result.SessionID}, nil
}

func (s *Service) validateInput(in BuyerDetails) error {
	err := s.validate.Struct(in)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = validationMessage(fe)
	}
	return &ValidationError{Fields: fields}
}

func validationMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "min":
		return "must be at least " + fe.Param() + " characters"
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "iso3166_1_alpha2":
		return "must be a two-letter country code"
	}
	return "is invalid"
}

// ownedSubscription loads a subscription and checks it belongs to the user.
// Foreign subscriptions are reported as not found.
func (s *Service) ownedSubscription(userID, subscriptionID uint) (*models.Subscription, error) {
	sub, err := s.repos.Subscription.GetByID(subscriptionID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	customer, err := s.repos.Customer.GetByID(sub.CustomerID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, err
	}
	if customer.UserID != userID {
		return nil, ErrSubscriptionNotFound
	}
	return sub, nil
}

// CancelSubscription cancels at the provider. A scheduled cancellation keeps
// the status untouched and records the end of the grace period.
func (s *Service) CancelSubscription(ctx context.Context, userID, subscriptionID uint, immediately bool) (*models.Subscription, error) {
	sub, err := s.ownedSubscription(userID, subscriptionID)
	if err != nil {
		return nil, err
	}
	adapter, err := s.gateways.Resolve(sub.Provider)
	if err != nil {
		return nil, err
	}

	endsAt, err := adapter.CancelSubscription(ctx, sub, immediately)
	if err != nil {
		return nil, err
	}

	now := s.now()
	sub.CancelledAt = &now
	if endsAt == nil {
		sub.Status = models.SubscriptionStatusCancelled
		sub.EndsAt = &now
	} else {
		end := endsAt.UTC()
		sub.EndsAt = &end
	}
	if err := s.repos.Subscription.Update(sub); err != nil {
		return nil, err
	}
	s.log.Infof("Subscription %s cancelled by user %d (immediately=%t)", sub.ProviderSubscriptionID, userID, immediately)
	return sub, nil
}

// ResumeSubscription clears a pending cancellation while the grace period runs.
func (s *Service) ResumeSubscription(ctx context.Context, userID, subscriptionID uint) (*models.Subscription, error) {
	sub, err := s.ownedSubscription(userID, subscriptionID)
	if err != nil {
		return nil, err
	}
	if err := gateway.CheckResumable(sub, s.now()); err != nil {
		return nil, err
	}
	adapter, err := s.gateways.Resolve(sub.Provider)
	if err != nil {
		return nil, err
	}
	if err := adapter.ResumeSubscription(ctx, sub); err != nil {
		return nil, err
	}

	sub.CancelledAt = nil
	sub.EndsAt = nil
	if err := s.repos.Subscription.Update(sub); err != nil {
		return nil, err
	}
	s.log.Infof("Subscription %s resumed by user %d", sub.ProviderSubscriptionID, userID)
	return sub, nil
}

// ManagementURL returns the provider's self-service portal for the user.
func (s *Service) ManagementURL(ctx context.Context, userID uint) (string, error) {
	customer, err := s.repos.Customer.GetByUserID(userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrCustomerNotFound
	}
	if err != nil {
		return "", err
	}
	adapter, err := s.gateways.Resolve(customer.Provider)
	if err != nil {
		return "", err
	}
	return adapter.GetManagementURL(ctx, customer, s.cfg.PortalReturnURL)
}

// ListSubscriptions returns the user's subscriptions, oldest first.
func (s *Service) ListSubscriptions(ctx context.Context, userID uint) ([]models.Subscription, error) {
	customer, err := s.repos.Customer.GetByUserID(userID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return []models.Subscription{}, nil
	}
	if err != nil {
		return nil, err
	}
	return s.repos.Subscription.ListByCustomer(customer.ID)
}

// ExpireStaleCheckouts is the periodic sweep over pending sessions.
func (s *Service) ExpireStaleCheckouts(ctx context.Context) (expired, abandoned int64, err error) {
	now := s.now()
	expired, err = s.repos.CheckoutSession.ExpirePending(now)
	if err != nil {
		return 0, 0, fmt.Errorf("expire checkout sessions: %w", err)
	}
	if s.cfg.CheckoutAbandonAfter > 0 {
		abandoned, err = s.repos.CheckoutSession.AbandonPending(now.Add(-s.cfg.CheckoutAbandonAfter))
		if err != nil {
			return expired, 0, fmt.Errorf("abandon checkout sessions: %w", err)
		}
	}
	if expired > 0 || abandoned > 0 {
		s.log.Infof("Checkout sweep: %d expired, %d abandoned", expired, abandoned)
	}
	return expired, abandoned, nil
}

// SupersedePrice replaces a price with a new amount. The old row is
// deactivated, never edited, so existing references keep their amount.
func (s *Service) SupersedePrice(ctx context.Context, priceID uint, newAmount int64) (*models.Price, error) {
	if newAmount < 0 {
		return nil, &ValidationError{Fields: map[string]string{"amount": "must not be negative"}}
	}
	var next *models.Price
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		repos := repository.NewRepositories(tx)
		current, err := repos.Price.GetByID(priceID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrPriceNotFound
		}
		if err != nil {
			return err
		}

		next = &models.Price{
			ProductID:     current.ProductID,
			Provider:      current.Provider,
			Amount:        newAmount,
			Currency:      current.Currency,
			Interval:      current.Interval,
			IntervalCount: current.IntervalCount,
			IsActive:      true,
		}
		if err := repos.Price.Create(next); err != nil {
			return err
		}
		return repos.Price.Deactivate(current.ID)
	})
	if err != nil {
		return nil, err
	}
	s.log.Infof("Price %d superseded by %d", priceID, next.ID)
	return next, nil
}
