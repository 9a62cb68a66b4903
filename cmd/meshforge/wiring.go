package main

import (
	"fmt"

	"github.com/pramadanif/meshforge/internal/chain"
	"github.com/pramadanif/meshforge/internal/config"
	"github.com/pramadanif/meshforge/internal/ledger"
	"github.com/pramadanif/meshforge/internal/metrics"
	"github.com/pramadanif/meshforge/internal/orchestrator"
	"github.com/pramadanif/meshforge/internal/relay"
	"github.com/pramadanif/meshforge/internal/routing"
	"github.com/pramadanif/meshforge/pkg/logger"
)

// dryRunController owns the delegated wallet on the in-memory ledger.
const dryRunController = "meshforge-dry-run"

type backend interface {
	ledger.Ledger
	ledger.IdentityRegistry
}

// openBackend returns the ledger and the controller it signs for.
func openBackend(cfg *config.Config, dryRun bool, log *logger.Logger) (backend, string, error) {
	if dryRun {
		return ledger.NewMemory(), dryRunController, nil
	}

	client, err := chain.NewClient(chain.Config{
		RPCURL:     cfg.Chain.RPCURL,
		NetworkID:  cfg.Chain.NetworkID,
		Timeout:    cfg.Chain.Timeout,
		MaxRetries: cfg.Chain.MaxRetries,
	})
	if err != nil {
		return nil, "", err
	}
	if cfg.Chain.PrivateKey == "" {
		return nil, "", fmt.Errorf("MESHFORGE_PRIVATE_KEY is required for chain access")
	}
	signer, err := chain.AccountFromPrivateKey(cfg.Chain.PrivateKey)
	if err != nil {
		return nil, "", err
	}
	mesh, err := chain.NewIntentMesh(client, cfg.Chain.Contracts, signer, log.Named("chain"))
	if err != nil {
		return nil, "", err
	}
	return mesh, mesh.Controller(), nil
}

func newOrchestrator(cfg *config.Config, dryRun bool, m *metrics.Metrics, log *logger.Logger) (*orchestrator.Orchestrator, error) {
	be, controller, err := openBackend(cfg, dryRun, log)
	if err != nil {
		return nil, err
	}
	planner, err := routing.NewMemoized(routing.Engine{}, cfg.Orchestrator.RouteMemoSize)
	if err != nil {
		return nil, err
	}

	// Dry runs never leave the process.
	var rc *relay.Client
	if !dryRun {
		rc = relay.New(cfg.Relay, log.Named("relay"))
	}

	return orchestrator.New(orchestrator.Config{
		Controller:           controller,
		Ledger:               be,
		Identity:             be,
		Relay:                rc,
		Planner:              planner,
		Metrics:              m,
		Logger:               log.Named("orchestrator"),
		DefaultMetadataURI:   cfg.Orchestrator.DefaultMetadataURI,
		AutoAcceptIntent:     cfg.Orchestrator.AutoAcceptIntent,
		IdentityPollAttempts: cfg.Orchestrator.IdentityPollAttempts,
		IdentityPollInterval: cfg.Orchestrator.IdentityPollInterval,
		ProofStep:            cfg.Orchestrator.ProofStep,
		Trust:                &cfg.Trust,
	})
}
