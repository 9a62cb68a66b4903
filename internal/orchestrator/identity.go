package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pramadanif/meshforge/internal/ledger"
	"github.com/pramadanif/meshforge/pkg/logger"
)

// identityResolver finds or provisions the delegated wallet of a controller
// and caches it for the lifetime of the orchestrator.
type identityResolver struct {
	controller string
	registry   ledger.IdentityRegistry
	ledger     ledger.Ledger
	attempts   int
	interval   time.Duration
	log        *logger.Logger

	mu     sync.Mutex
	wallet string
	// ready mirrors wallet for lock-free readers.
	ready atomic.Pointer[string]
}

// cached returns the resolved wallet without touching the ledger or waiting
// for a resolve in flight.
func (r *identityResolver) cached() string {
	if w := r.ready.Load(); w != nil {
		return *w
	}
	return ""
}

func (r *identityResolver) store(wallet string) {
	r.wallet = wallet
	r.ready.Store(&wallet)
}

// resolve returns the delegated wallet, provisioning it with metadataURI if
// none exists yet. Concurrent callers wait for the first to finish, so a
// controller is provisioned at most once per resolver.
func (r *identityResolver) resolve(ctx context.Context, metadataURI string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.wallet != "" {
		return r.wallet, nil
	}

	wallet, err := r.registry.WalletOf(ctx, r.controller)
	if err != nil {
		return "", fmt.Errorf("lookup wallet: %w", err)
	}
	if wallet != "" {
		r.store(wallet)
		return wallet, nil
	}

	r.log.WithField("controller", r.controller).
		WithField("metadata_uri", metadataURI).
		Info("provisioning delegated wallet")

	tx, err := r.registry.Provision(ctx, r.controller, metadataURI)
	if err != nil {
		return "", fmt.Errorf("%w: provision: %v", ErrIdentityUnavailable, err)
	}
	receipt, err := r.ledger.WaitForReceipt(ctx, tx)
	if err != nil {
		return "", fmt.Errorf("%w: wait for provisioning: %v", ErrIdentityUnavailable, err)
	}
	if !receipt.Succeeded() {
		return "", fmt.Errorf("%w: provisioning %s: %s", ErrIdentityUnavailable, receipt.State, receipt.Exception)
	}

	wallet, err = r.poll(ctx)
	if err != nil {
		return "", err
	}
	r.store(wallet)
	return wallet, nil
}

func (r *identityResolver) poll(ctx context.Context) (string, error) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for attempt := 1; ; attempt++ {
		wallet, err := r.registry.WalletOf(ctx, r.controller)
		if err != nil {
			r.log.WithError(err).WithField("attempt", attempt).Warn("wallet lookup failed")
		} else if wallet != "" {
			return wallet, nil
		}
		if attempt >= r.attempts {
			return "", fmt.Errorf("%w: no wallet for %s after %d lookups", ErrIdentityUnavailable, r.controller, attempt)
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
	}
}
