// Package patreon adapts Patreon membership webhooks to the gateway
// interface. Patreon manages pledges on its own site, so the remote
// operations are unsupported.
package patreon

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/internal/pkg/config"
	"github.com/ManuelReschke/billingsync/internal/pkg/gateway"
)

const (
	Name = models.BillingProviderPatreon

	SignatureHeader = "X-Patreon-Signature"
	EventHeader     = "X-Patreon-Event"
	DeliveryHeader  = "X-Patreon-Delivery"

	defaultManagementURL = "https://www.patreon.com/settings/memberships"
)

var eventTypes = map[string]gateway.EventType{
	"members:create":        gateway.EventSubscriptionUpdated,
	"members:update":        gateway.EventSubscriptionUpdated,
	"members:pledge:create": gateway.EventSubscriptionUpdated,
	"members:pledge:update": gateway.EventSubscriptionUpdated,
	"members:delete":        gateway.EventSubscriptionDeleted,
	"members:pledge:delete": gateway.EventSubscriptionDeleted,
}

type Adapter struct {
	webhookSecret string
	managementURL string
}

func New(cfg config.Gateway) (*Adapter, error) {
	if strings.TrimSpace(cfg.WebhookSecret) == "" {
		return nil, errors.New("patreon: webhook secret not configured")
	}
	return &Adapter{
		webhookSecret: strings.TrimSpace(cfg.WebhookSecret),
		managementURL: defaultManagementURL,
	}, nil
}

func Factory(cfg config.Gateway) (gateway.Adapter, error) {
	a, err := New(cfg)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) Name() string { return Name }

// CreatesSubscriptionsFromWebhooks is true: pledges start on patreon.com.
func (a *Adapter) CreatesSubscriptionsFromWebhooks() bool { return true }

func (a *Adapter) CreateCustomer(ctx context.Context, name, email string) (string, error) {
	return "", fmt.Errorf("patreon: create customer: %w", gateway.ErrUnsupported)
}

func (a *Adapter) CreateCheckoutSession(ctx context.Context, req gateway.CheckoutRequest) (*gateway.CheckoutResult, error) {
	return nil, fmt.Errorf("patreon: checkout: %w", gateway.ErrUnsupported)
}

func (a *Adapter) CancelSubscription(ctx context.Context, sub *models.Subscription, immediately bool) (*time.Time, error) {
	return nil, fmt.Errorf("patreon: cancel membership: %w", gateway.ErrUnsupported)
}

func (a *Adapter) ResumeSubscription(ctx context.Context, sub *models.Subscription) error {
	if err := gateway.CheckResumable(sub, time.Now()); err != nil {
		return err
	}
	return fmt.Errorf("patreon: resume membership: %w", gateway.ErrUnsupported)
}

func (a *Adapter) GetManagementURL(ctx context.Context, customer *models.Customer, returnURL string) (string, error) {
	return a.managementURL, nil
}

// ResolvePaymentMethod never resolves: Patreon does not expose payment instruments.
func (a *Adapter) ResolvePaymentMethod(ctx context.Context, opaqueID string) (*gateway.PaymentMethodInfo, error) {
	return nil, nil
}

func (a *Adapter) VerifyAndParseWebhook(req gateway.WebhookRequest) (*gateway.NormalizedWebhookEvent, error) {
	if !VerifySignature(req.Body, req.Header.Get(SignatureHeader), a.webhookSecret) {
		return nil, gateway.ErrInvalidSignature
	}

	trigger := strings.ToLower(strings.TrimSpace(req.Header.Get(EventHeader)))
	canonical := eventTypes[trigger]

	payload := gateway.Payload{}
	if canonical != "" {
		member, err := ParseMemberEvent(req.Body)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", gateway.ErrMalformedPayload, err)
		}
		payload = member.Payload()
	}

	return &gateway.NormalizedWebhookEvent{
		Type:              canonical,
		Provider:          Name,
		ProviderEventID:   deliveryID(req, trigger),
		ProviderEventType: trigger,
		Payload:           payload,
		Raw:               req.Body,
	}, nil
}

// deliveryID prefers the delivery header. Without one, the trigger and body
// hash identify a redelivery of the same notification.
func deliveryID(req gateway.WebhookRequest, trigger string) string {
	if id := strings.TrimSpace(req.Header.Get(DeliveryHeader)); id != "" {
		return id
	}
	sum := sha256.Sum256(append([]byte(trigger+"\n"), req.Body...))
	return "hash:" + hex.EncodeToString(sum[:])
}

// MemberEvent is the subset of a Patreon member resource the engine needs.
type MemberEvent struct {
	MemberID       string
	PatreonUserID  string
	PatronStatus   string
	IsFollower     bool
	TierIDs        []string
	LastChargeDate string
	NextChargeDate string
}

// Payload maps the member onto the canonical subscription keys.
func (m *MemberEvent) Payload() gateway.Payload {
	out := gateway.Payload{}
	out.Set("id", m.MemberID)
	out.Set("customer", m.PatreonUserID)
	out.Set("status", MembershipStatus(m.PatronStatus, m.IsFollower))
	out.Set("current_period_start", m.LastChargeDate)
	out.Set("current_period_end", m.NextChargeDate)
	if len(m.TierIDs) > 0 {
		out.Set("price", m.TierIDs[0])
	}
	return out
}

func ParseMemberEvent(payload []byte) (*MemberEvent, error) {
	type relData struct {
		ID   string `json:"id"`
		Type string `json:"type"`
	}
	type rawPayload struct {
		Data struct {
			ID         string `json:"id"`
			Type       string `json:"type"`
			Attributes struct {
				PatronStatus   string `json:"patron_status"`
				IsFollower     bool   `json:"is_follower"`
				LastChargeDate string `json:"last_charge_date"`
				NextChargeDate string `json:"next_charge_date"`
			} `json:"attributes"`
			Relationships struct {
				User struct {
					Data relData `json:"data"`
				} `json:"user"`
				CurrentlyEntitledTiers struct {
					Data []relData `json:"data"`
				} `json:"currently_entitled_tiers"`
			} `json:"relationships"`
		} `json:"data"`
		Included []struct {
			ID            string `json:"id"`
			Type          string `json:"type"`
			Relationships struct {
				CurrentlyEntitledTiers struct {
					Data []relData `json:"data"`
				} `json:"currently_entitled_tiers"`
			} `json:"relationships"`
		} `json:"included"`
	}

	var raw rawPayload
	if err := json.Unmarshal(payload, &raw); err != nil {
		return nil, err
	}
	if raw.Data.Type != "" && raw.Data.Type != "member" {
		return nil, fmt.Errorf("unsupported patreon webhook data type: %s", raw.Data.Type)
	}

	out := &MemberEvent{
		MemberID:       strings.TrimSpace(raw.Data.ID),
		PatreonUserID:  strings.TrimSpace(raw.Data.Relationships.User.Data.ID),
		PatronStatus:   strings.TrimSpace(raw.Data.Attributes.PatronStatus),
		IsFollower:     raw.Data.Attributes.IsFollower,
		LastChargeDate: strings.TrimSpace(raw.Data.Attributes.LastChargeDate),
		NextChargeDate: strings.TrimSpace(raw.Data.Attributes.NextChargeDate),
	}
	for _, td := range raw.Data.Relationships.CurrentlyEntitledTiers.Data {
		if tid := strings.TrimSpace(td.ID); tid != "" {
			out.TierIDs = append(out.TierIDs, tid)
		}
	}

	// Some payload variants expose tiers only via included.member.
	if len(out.TierIDs) == 0 && out.MemberID != "" {
		for _, inc := range raw.Included {
			if inc.Type != "member" || strings.TrimSpace(inc.ID) != out.MemberID {
				continue
			}
			for _, td := range inc.Relationships.CurrentlyEntitledTiers.Data {
				if tid := strings.TrimSpace(td.ID); tid != "" {
					out.TierIDs = append(out.TierIDs, tid)
				}
			}
			break
		}
	}

	if out.MemberID == "" {
		return nil, errors.New("patreon webhook payload missing member id")
	}
	if out.PatreonUserID == "" {
		return nil, errors.New("patreon webhook payload missing user id")
	}
	return out, nil
}

// MembershipStatus translates a patron status into the provider status
// vocabulary the engine maps. Unknown values pass through unchanged.
func MembershipStatus(patronStatus string, isFollower bool) string {
	switch s := strings.ToLower(strings.TrimSpace(patronStatus)); s {
	case "active_patron", "active_member", "free_member":
		return "active"
	case "declined_patron":
		return "past_due"
	case "former_patron":
		return "canceled"
	case "":
		if !isFollower {
			// Free memberships can have an empty patron_status.
			return "active"
		}
		return "incomplete"
	default:
		return s
	}
}
