package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/pramadanif/meshforge/internal/cli"
	"github.com/pramadanif/meshforge/internal/domain/intent"
	"github.com/pramadanif/meshforge/internal/httpapi"
	"github.com/pramadanif/meshforge/internal/merkle"
	"github.com/pramadanif/meshforge/internal/metrics"
	"github.com/pramadanif/meshforge/internal/orchestrator"
	"github.com/pramadanif/meshforge/internal/risk"
	"github.com/pramadanif/meshforge/internal/routing"
)

func newRouteCommand(_ *app) *cobra.Command {
	var from, to, value string
	cmd := &cobra.Command{
		Use:   "route",
		Short: "Plan the settlement corridor for a region pair",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := orchestrator.ParseValue(intent.Amount(value))
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), routing.Plan(from, to, v))
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source region code")
	cmd.Flags().StringVar(&to, "to", "", "destination region code")
	cmd.Flags().StringVar(&value, "value", "0", "economic value")
	_ = cmd.MarkFlagRequired("from")
	_ = cmd.MarkFlagRequired("to")
	return cmd
}

func newRiskCommand(_ *app) *cobra.Command {
	var from, to, value, profile string
	cmd := &cobra.Command{
		Use:   "risk",
		Short: "Derive the risk policy for a request",
		RunE: func(cmd *cobra.Command, _ []string) error {
			v, err := orchestrator.ParseValue(intent.Amount(value))
			if err != nil {
				return err
			}
			var explicit intent.RiskProfile
			if profile != "" {
				if explicit, err = risk.ParseProfile(profile); err != nil {
					return err
				}
			}
			p := risk.Resolve(explicit, from, to, v)
			return printJSON(cmd.OutOrStdout(), risk.Derive(p, v))
		},
	}
	cmd.Flags().StringVar(&from, "from", "", "source region code")
	cmd.Flags().StringVar(&to, "to", "", "destination region code")
	cmd.Flags().StringVar(&value, "value", "0", "economic value")
	cmd.Flags().StringVar(&profile, "profile", "", "explicit risk profile (inferred when empty)")
	return cmd
}

func newCommitCommand(_ *app) *cobra.Command {
	var input string
	var proofIndex int
	cmd := &cobra.Command{
		Use:   "commit",
		Short: "Compute the Merkle commitment of a JSON list of execution steps",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var steps []intent.ExecutionStep
			if err := readJSONInput(cmd, input, &steps); err != nil {
				return err
			}
			tree := merkle.Build(steps)
			out := struct {
				MerkleRoot merkle.Hash   `json:"merkleRoot"`
				LeafCount  int           `json:"leafCount"`
				Proof      *merkle.Proof `json:"proof,omitempty"`
			}{MerkleRoot: tree.Root(), LeafCount: tree.Len()}
			if proofIndex >= 0 {
				proof, err := tree.Proof(proofIndex)
				if err != nil {
					return err
				}
				out.Proof = proof
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd.Flags().StringVarP(&input, "steps", "f", "-", "steps file, - for stdin")
	cmd.Flags().IntVar(&proofIndex, "proof", -1, "also emit the inclusion proof of this step")
	return cmd
}

func newExecuteCommand(a *app) *cobra.Command {
	var input string
	var dryRun, summary bool
	cmd := &cobra.Command{
		Use:   "execute",
		Short: "Run an execution request through the intent lifecycle",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var req intent.ExecutionRequest
			if err := readJSONInput(cmd, input, &req); err != nil {
				return err
			}
			orch, err := newOrchestrator(a.cfg, dryRun, nil, a.log)
			if err != nil {
				return err
			}
			start := time.Now()
			res, runErr := orch.Execute(cmd.Context(), &req)
			if summary {
				cli.NewPrinter(cmd.ErrOrStderr()).Summary(res, time.Since(start))
			}
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			return runErr
		},
	}
	cmd.Flags().StringVarP(&input, "request", "f", "-", "execution request file, - for stdin")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "run against an in-memory ledger")
	cmd.Flags().BoolVar(&summary, "summary", false, "print a stage summary to stderr")
	return cmd
}

func newStatusCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status <intent-id>",
		Short: "Read the ledger status of an intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid intent id %q: %w", args[0], err)
			}
			orch, err := newOrchestrator(a.cfg, false, nil, a.log)
			if err != nil {
				return err
			}
			status, err := orch.Status(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}

func newVerifyCommand(a *app) *cobra.Command {
	var input string
	var index int
	cmd := &cobra.Command{
		Use:   "verify <intent-id>",
		Short: "Check that a step belongs to the trace committed for an intent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseUint(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid intent id %q: %w", args[0], err)
			}
			var steps []intent.ExecutionStep
			if err := readJSONInput(cmd, input, &steps); err != nil {
				return err
			}
			orch, err := newOrchestrator(a.cfg, false, nil, a.log)
			if err != nil {
				return err
			}
			ok, err := orch.VerifyStep(cmd.Context(), id, steps, index)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{"intentId": id, "index": index, "valid": ok})
		},
	}
	cmd.Flags().StringVarP(&input, "steps", "f", "-", "steps file, - for stdin")
	cmd.Flags().IntVar(&index, "index", 0, "index of the step to verify")
	return cmd
}

func newServeCommand(a *app) *cobra.Command {
	var addr string
	var dryRun, pureOnly bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			m := metrics.New(true)
			planner, err := routing.NewMemoized(routing.Engine{}, a.cfg.Orchestrator.RouteMemoSize)
			if err != nil {
				return err
			}

			srvCfg := httpapi.Config{
				Planner:        planner,
				Metrics:        m,
				Logger:         a.log.Named("httpapi"),
				RatePerSecond:  a.cfg.HTTP.RatePerSecond,
				Burst:          a.cfg.HTTP.Burst,
				MaxRequestBody: a.cfg.HTTP.MaxRequestBody,

				TrustForwardedFor: a.cfg.HTTP.TrustForwardedFor,
			}
			if !pureOnly {
				if srvCfg.Orchestrator, err = newOrchestrator(a.cfg, dryRun, m, a.log); err != nil {
					return err
				}
			}

			if addr == "" {
				addr = a.cfg.HTTP.Addr
			}
			return httpapi.NewServer(srvCfg).ListenAndServe(cmd.Context(), addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (defaults to the configured one)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "orchestrate against an in-memory ledger")
	cmd.Flags().BoolVar(&pureOnly, "pure", false, "serve only the routing, risk and commitment endpoints")
	return cmd
}
