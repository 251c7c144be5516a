// Package account provisions local homeserver accounts for verified
// TF Connect identities. The host account store is an injected
// capability so the broker stays host-agnostic.
package account

import (
	"context"
	"fmt"

	"github.com/mik-tf/mycelium-chat/pkg/identity"
	"github.com/mik-tf/mycelium-chat/pkg/observability"
)

// Store is the host account store the broker provisions against.
type Store interface {
	// Exists reports whether the account is already registered.
	Exists(ctx context.Context, accountID string) (bool, error)

	// Create registers a new passwordless account.
	Create(ctx context.Context, accountID, displayName string, emails []string) error

	// SetDisplayName updates the profile display name.
	SetDisplayName(ctx context.Context, accountID, displayName string) error
}

// Provisioner performs the idempotent create-or-update step of a login.
// Unlike verification, provisioning failures propagate: they mean the
// host's own account store is broken and the login must abort.
type Provisioner struct {
	store   Store
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewProvisioner creates a provisioner over the given store.
func NewProvisioner(store Store, logger *observability.Logger, metrics *observability.Metrics) *Provisioner {
	return &Provisioner{store: store, logger: logger, metrics: metrics}
}

// Ensure creates the account if absent, otherwise refreshes its display
// name. Calling it any number of times with the same identity yields
// exactly one account.
func (p *Provisioner) Ensure(ctx context.Context, accountID string, id *identity.Verified) error {
	exists, err := p.store.Exists(ctx, accountID)
	if err != nil {
		return fmt.Errorf("account lookup failed: %w", err)
	}

	displayName := id.DisplayName()

	if !exists {
		var emails []string
		if id.Email != "" {
			emails = []string{id.Email}
		}
		if err := p.store.Create(ctx, accountID, displayName, emails); err != nil {
			return fmt.Errorf("account creation failed: %w", err)
		}
		p.logger.WithField("user_id", accountID).Info("created local account")
		p.metrics.AccountsProvisionedTotal.WithLabelValues("created").Inc()
		return nil
	}

	if err := p.store.SetDisplayName(ctx, accountID, displayName); err != nil {
		return fmt.Errorf("profile update failed: %w", err)
	}
	p.logger.WithField("user_id", accountID).Debug("refreshed account profile")
	p.metrics.AccountsProvisionedTotal.WithLabelValues("updated").Inc()
	return nil
}
