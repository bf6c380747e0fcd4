// Package rolesync keeps the subscriber role in step with subscription events.
package rolesync

import (
	"context"
	"fmt"

	"github.com/gofiber/fiber/v2/log"

	"github.com/ManuelReschke/billingsync/app/models"
	"github.com/ManuelReschke/billingsync/app/repository"
	"github.com/ManuelReschke/billingsync/internal/pkg/billing"
)

const Name = "rolesync"

// Consumer grants the subscriber role while a user holds an active or
// past_due subscription and revokes it once the last one lapses.
type Consumer struct {
	subscriptions repository.SubscriptionRepository
	roles         repository.UserRoleRepository
}

func New(repos *repository.Repositories) *Consumer {
	return &Consumer{subscriptions: repos.Subscription, roles: repos.UserRole}
}

func (c *Consumer) Name() string { return Name }

func (c *Consumer) Consume(ctx context.Context, event billing.Event) error {
	if !event.IsSubscriptionEvent() || event.UserID == 0 {
		return nil
	}

	if event.Name != billing.EventSubscriptionCancelled && models.IsEntitlingSubscriptionStatus(event.SubscriptionStatus) {
		granted, err := c.roles.Grant(event.UserID, models.RoleSubscriber)
		if err != nil {
			return fmt.Errorf("grant subscriber role to user %d: %w", event.UserID, err)
		}
		if granted {
			log.Infof("[RoleSync] Granted %s to user %d (subscription %d)", models.RoleSubscriber, event.UserID, event.SubscriptionID)
		}
		return nil
	}

	// The transitioned subscription is excluded so it cannot keep the role alive.
	others, err := c.subscriptions.CountEntitlingByCustomer(event.CustomerID, event.SubscriptionID)
	if err != nil {
		return fmt.Errorf("count entitling subscriptions of customer %d: %w", event.CustomerID, err)
	}
	if others > 0 {
		log.Debugf("[RoleSync] User %d keeps %s through %d other subscription(s)", event.UserID, models.RoleSubscriber, others)
		return nil
	}

	revoked, err := c.roles.Revoke(event.UserID, models.RoleSubscriber)
	if err != nil {
		return fmt.Errorf("revoke subscriber role from user %d: %w", event.UserID, err)
	}
	if revoked {
		log.Infof("[RoleSync] Revoked %s from user %d (subscription %d is %s)", models.RoleSubscriber, event.UserID, event.SubscriptionID, event.SubscriptionStatus)
	}
	return nil
}
