package billing

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ManuelReschke/billingsync/internal/pkg/gateway"
)

// Gateway errors re-exported so callers only import billing.
var (
	ErrInvalidSignature    = gateway.ErrInvalidSignature
	ErrMalformedPayload    = gateway.ErrMalformedPayload
	ErrGatewayNotFound     = gateway.ErrGatewayNotFound
	ErrGatewayNotEnabled   = gateway.ErrGatewayNotEnabled
	ErrExpiredSubscription = gateway.ErrExpiredSubscription
	ErrUnsupported         = gateway.ErrUnsupported
)

var (
	ErrAlreadySubscribed    = errors.New("billing: customer already holds a subscription to this price")
	ErrCheckoutNotFound     = errors.New("billing: checkout session not found")
	ErrCheckoutGone         = errors.New("billing: checkout session is no longer open")
	ErrCheckoutForbidden    = errors.New("billing: checkout session belongs to another customer")
	ErrPriceNotFound        = errors.New("billing: price not found")
	ErrPriceUnavailable     = errors.New("billing: price is not active")
	ErrSubscriptionNotFound = errors.New("billing: subscription not found")
	ErrCustomerNotFound     = errors.New("billing: customer not found")
	ErrUserNotFound         = errors.New("billing: user not found")
)

// ValidationError carries per-field messages for rejected buyer input.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "billing: invalid input (" + strings.Join(parts, ", ") + ")"
}
