package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/pramadanif/meshforge/internal/config"
	"github.com/pramadanif/meshforge/pkg/logger"
)

// app carries state shared by every subcommand.
type app struct {
	configPath string
	envFiles   []string
	logLevel   string

	cfg *config.Config
	log *logger.Logger
}

func newRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "meshforge",
		Short:         "Intent execution orchestrator for the IntentMesh ledger",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVarP(&a.configPath, "config", "c", "", "YAML configuration file")
	flags.StringSliceVar(&a.envFiles, "env-file", []string{".env"}, ".env files loaded before the environment is read")
	flags.StringVar(&a.logLevel, "log-level", "", "override the configured log level")

	root.AddCommand(
		newRouteCommand(a),
		newRiskCommand(a),
		newCommitCommand(a),
		newExecuteCommand(a),
		newStatusCommand(a),
		newVerifyCommand(a),
		newServeCommand(a),
	)
	return root
}

func (a *app) load(logOut io.Writer) error {
	if err := config.LoadDotEnv(a.envFiles...); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	a.cfg = cfg
	a.log = logger.New(logger.Config{
		Name:   "meshforge",
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: logOut,
	})
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// readJSONInput decodes path into dst; "-" reads stdin.
func readJSONInput(cmd *cobra.Command, path string, dst any) error {
	var r io.Reader
	if path == "-" {
		r = cmd.InOrStdin()
	} else {
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open %s: %w", path, err)
		}
		defer f.Close()
		r = f
	}
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return nil
}
