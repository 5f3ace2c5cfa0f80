package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// LeaseClient is the atomic set-if-absent primitive the lease is built on.
type LeaseClient interface {
	SetNX(ctx context.Context, key string, value string, ttl time.Duration) (bool, error)
}

// LeaseClaimer implements dispatch.Claimer with a Redis SETNX lease.
// The lease is never released explicitly: once the trigger is settled the
// processed flag takes over, and the TTL only bounds how long a crashed
// holder blocks a redelivery.
type LeaseClaimer struct {
	client LeaseClient
	ttl    time.Duration
	owner  string
}

func NewLeaseClaimer(client LeaseClient, ttl time.Duration) *LeaseClaimer {
	return &LeaseClaimer{
		client: client,
		ttl:    ttl,
		owner:  uuid.NewString(),
	}
}

func (c *LeaseClaimer) Claim(ctx context.Context, triggerID string) (bool, error) {
	ok, err := c.client.SetNX(ctx, c.leaseKey(triggerID), c.owner, c.ttl)
	if err != nil {
		return false, fmt.Errorf("failed to claim trigger %s: %w", triggerID, err)
	}
	return ok, nil
}

func (c *LeaseClaimer) leaseKey(triggerID string) string {
	return fmt.Sprintf("notify:trigger:claim:%s", triggerID)
}
