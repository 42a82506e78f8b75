package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/JonMunkholm/cdmtriage/internal/config"
	"github.com/JonMunkholm/cdmtriage/internal/core"
	"github.com/JonMunkholm/cdmtriage/internal/logging"
	"github.com/JonMunkholm/cdmtriage/internal/store"
)

// storeFlags override the environment configuration for one invocation.
type storeFlags struct {
	driver      string
	sqlitePath  string
	databaseURL string
	policyFile  string
	seed        int64
	logLevel    string
}

// AddFlags registers the shared flags on flagSet.
func (f *storeFlags) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&f.driver, "driver", "", "Event store driver: memory, sqlite, postgres (default from STORE_DRIVER)")
	flagSet.StringVar(&f.sqlitePath, "sqlite-path", "", "SQLite database file (default from SQLITE_PATH)")
	flagSet.StringVar(&f.databaseURL, "database-url", "", "PostgreSQL connection string (default from DATABASE_URL)")
	flagSet.StringVar(&f.policyFile, "policy", "", "YAML or JSONC policy file (default from POLICY_FILE)")
	flagSet.Int64Var(&f.seed, "seed", 0, "Random seed; 0 uses SIM_SEED or the clock")
	flagSet.StringVar(&f.logLevel, "log", "", "Log level: debug, info, warn, error (default from LOG_LEVEL)")
}

// apply copies explicitly set flags over cfg.
func (f *storeFlags) apply(flagSet *pflag.FlagSet, cfg *config.Config) {
	if flagSet.Changed("driver") {
		cfg.Store.Driver = f.driver
	}
	if flagSet.Changed("sqlite-path") {
		cfg.Store.SQLitePath = f.sqlitePath
	}
	if flagSet.Changed("database-url") {
		cfg.Store.URL = f.databaseURL
	}
	if flagSet.Changed("policy") {
		cfg.Policy.File = f.policyFile
	}
	if flagSet.Changed("seed") {
		cfg.Simulation.Seed = f.seed
	}
	if flagSet.Changed("log") {
		cfg.Logging.Level = f.logLevel
	}
}

// app is the per-invocation state shared by subcommands.
type app struct {
	flags   storeFlags
	cfg     *config.Config
	store   store.Store
	service *core.Service
}

func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:           "cdmctl",
		Short:         "Conjunction event triage from the command line",
		Long:          "cdmctl imports CDM exports, assigns triage lanes, and refines collision probability with Monte Carlo sampling.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.open(cmd)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}
	a.flags.AddFlags(root.PersistentFlags())

	root.AddCommand(
		newImportCmd(a),
		newSeedCmd(a),
		newReclassifyCmd(a),
		newSimulateCmd(a),
		newListCmd(a),
		newClearCmd(a),
	)
	return root
}

func (a *app) open(cmd *cobra.Command) error {
	if !needsStore(cmd) {
		return nil
	}
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	a.flags.apply(cmd.Flags(), cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	a.cfg = cfg

	// Logs go to stderr so stdout stays parseable.
	slog.SetDefault(logging.New(os.Stderr, cfg.Logging.Level, cfg.Logging.Format))

	policy, err := cfg.ResolvePolicy()
	if err != nil {
		return err
	}

	a.store, err = store.Open(ctx(cmd), cfg.Store)
	if err != nil {
		return err
	}

	src := core.NewTimeSeededSource()
	if cfg.Simulation.Seed != 0 {
		src = core.NewSource(cfg.Simulation.Seed)
	}
	a.service, err = core.NewService(a.store, cfg.ServiceConfig(policy), core.WithSource(src))
	if err != nil {
		a.store.Close()
		return err
	}
	return nil
}

// needsStore is false for cobra's built-in help and completion commands.
func needsStore(cmd *cobra.Command) bool {
	for c := cmd; c != nil; c = c.Parent() {
		switch c.Name() {
		case "help", "completion", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return false
		}
	}
	return true
}

func (a *app) close() error {
	if a.store == nil {
		return nil
	}
	err := a.store.Close()
	a.store = nil
	return err
}

// ctx returns the command context, or Background when run without one.
func ctx(cmd *cobra.Command) context.Context {
	if c := cmd.Context(); c != nil {
		return c
	}
	return context.Background()
}

// userError renders err with its support code when one applies.
func userError(err error) error {
	if core.IsUserFacing(err) {
		return fmt.Errorf("%s: %w", core.FormatUserError(err), err)
	}
	return err
}
