// Package main is the CLI entry point for proclean.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/proclean/proclean/internal/agent"
	"github.com/proclean/proclean/internal/config"
	"github.com/proclean/proclean/internal/domain"
	"github.com/proclean/proclean/internal/infra"
	"github.com/proclean/proclean/internal/usecase"
)

var (
	// Version info (set via ldflags)
	Version   = "0.3.0"
	Commit    = "dev"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "proclean",
	Short: "Kills leftover processes on build agents",
	Long: `proclean removes operating-system processes left behind by builds,
scoped to a single user account and optionally to one process subtree.
Run it one-shot before or after a build, or as a periodic sweeper.`,
	Version: Version,
}

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Run one cleanup now",
	Long: `Runs a single cleanup for the given owner user. With --root-pid and
--strategy recursive, only the process subtree below that PID is killed,
deepest descendants first. Killed processes are printed one per line.`,
	RunE: runClean,
}

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run the periodic sweeper agent",
	Long: `Starts the sweeper loop: every interval, all processes owned by the
configured user on this node are cleaned up. Blocks until interrupted.`,
	RunE: runSweep,
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show or change the global cleanup policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the global cleanup policy",
	RunE:  runPolicyShow,
}

var policySetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change the global cleanup policy",
	RunE:  runPolicySet,
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show recent cleanup reports",
	RunE:  runHistory,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("proclean %s (commit %s, built %s)\n", Version, Commit, BuildTime)
	},
}

var (
	flagUser     string
	flagRootPID  int
	flagStrategy string
	flagNode     string
	flagBuild    string
	flagDataDir  string
	flagConfig   string
	flagLimit    int
	flagOff      bool
	flagOn       bool
	flagSetUser  string
)

func init() {
	cleanCmd.Flags().StringVar(&flagUser, "user", "", "Owner user whose processes are cleaned (default: policy username)")
	cleanCmd.Flags().IntVar(&flagRootPID, "root-pid", 0, "Restrict cleanup to the subtree below this PID")
	cleanCmd.Flags().StringVar(&flagStrategy, "strategy", "all", "Kill strategy: all or recursive")
	cleanCmd.Flags().StringVar(&flagNode, "node", "", "Target node name (default: hostname)")
	cleanCmd.Flags().StringVar(&flagBuild, "build", "", "Build identity for the report")
	cleanCmd.Flags().StringVar(&flagDataDir, "data-dir", "/var/tmp/proclean", "Directory for policy and history state")

	sweepCmd.Flags().StringVar(&flagConfig, "config", "", "Path to the sweeper YAML config")

	policyShowCmd.Flags().StringVar(&flagDataDir, "data-dir", "/var/tmp/proclean", "Directory for policy state")
	policySetCmd.Flags().StringVar(&flagDataDir, "data-dir", "/var/tmp/proclean", "Directory for policy state")
	policySetCmd.Flags().BoolVar(&flagOff, "off", false, "Switch cleanup off globally")
	policySetCmd.Flags().BoolVar(&flagOn, "on", false, "Switch cleanup on globally")
	policySetCmd.Flags().StringVar(&flagSetUser, "user", "", "Account whose processes are eligible for cleanup")

	historyCmd.Flags().StringVar(&flagDataDir, "data-dir", "/var/tmp/proclean", "Directory for history state")
	historyCmd.Flags().IntVar(&flagLimit, "limit", 10, "Number of reports to show")

	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policySetCmd)

	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(policyCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(versionCmd)
}

func runClean(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	policyStore := infra.NewFilePolicyStore(flagDataDir)

	owner := flagUser
	if owner == "" {
		policy, err := policyStore.Get()
		if err != nil {
			return err
		}
		owner = policy.Username
	}

	node := flagNode
	if node == "" {
		node, _ = os.Hostname()
	}

	strategy := domain.StrategyKind(flagStrategy)
	switch strategy {
	case domain.StrategyAll, domain.StrategyRecursive:
	default:
		return fmt.Errorf("unknown strategy %q", flagStrategy)
	}

	table := infra.NewProcessTable(logger)
	executor, closeHistory, err := buildExecutor(flagDataDir, table, policyStore, logger)
	if err != nil {
		return err
	}
	defer closeHistory()

	ctx, cancel := signalContext()
	defer cancel()

	report, err := executor.Clean(ctx, domain.CleanRequest{
		Node:      node,
		OwnerUser: owner,
		RootPID:   flagRootPID,
		Strategy:  strategy,
		BuildID:   flagBuild,
	})
	if err != nil {
		return err
	}
	for _, line := range report.Render() {
		fmt.Println(line)
	}
	return nil
}

func runSweep(cmd *cobra.Command, args []string) error {
	logger := createLogger()
	defer func() { _ = logger.Sync() }()

	cfg := config.Default()
	if flagConfig != "" {
		var err error
		cfg, err = config.Load(flagConfig)
		if err != nil {
			return err
		}
	}

	policyStore := infra.NewFilePolicyStore(cfg.DataDir)
	table := infra.NewProcessTable(logger)

	executorConfig := usecase.ExecutorConfig{
		VerifyInterval: cfg.VerifyInterval.Duration,
		VerifyTimeout:  cfg.VerifyTimeout.Duration,
		LockTimeout:    cfg.LockTimeout.Duration,
	}

	keys := infra.NewFileKeyProvider(cfg.DataDir)
	key, err := keys.EnsureKey()
	if err != nil {
		return err
	}
	history, err := infra.NewHistoryStore(cfg.DataDir, key)
	if err != nil {
		return err
	}
	defer history.Close()

	executor := usecase.NewExecutorWithHistory(executorConfig, table, table, policyStore, history, logger)

	owner := cfg.OwnerUser
	if owner == "" {
		policy, err := policyStore.Get()
		if err != nil {
			return err
		}
		owner = policy.Username
	}

	sweeper := agent.NewSweeper(agent.Config{
		Node:      cfg.Node,
		OwnerUser: owner,
		Interval:  cfg.SweepInterval.Duration,
	}, executor, logger)

	ctx, cancel := signalContext()
	defer cancel()

	if err := sweeper.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}

func runPolicyShow(cmd *cobra.Command, args []string) error {
	store := infra.NewFilePolicyStore(flagDataDir)
	policy, err := store.Get()
	if err != nil {
		return err
	}
	state := "on"
	if policy.SwitchedOff {
		state = "off"
	}
	fmt.Printf("cleanup: %s\n", state)
	fmt.Printf("username: %q\n", policy.Username)
	return nil
}

func runPolicySet(cmd *cobra.Command, args []string) error {
	if flagOff && flagOn {
		return fmt.Errorf("--on and --off are mutually exclusive")
	}

	store := infra.NewFilePolicyStore(flagDataDir)
	policy, err := store.Get()
	if err != nil {
		return err
	}

	if flagOff {
		policy.SwitchedOff = true
	}
	if flagOn {
		policy.SwitchedOff = false
	}
	if cmd.Flags().Changed("user") {
		policy.Username = flagSetUser
	}
	return store.Set(policy)
}

func runHistory(cmd *cobra.Command, args []string) error {
	keys := infra.NewFileKeyProvider(flagDataDir)
	if !keys.KeyExists() {
		fmt.Println("no history recorded yet")
		return nil
	}
	key, err := keys.GetKey()
	if err != nil {
		return err
	}
	history, err := infra.NewHistoryStore(flagDataDir, key)
	if err != nil {
		return err
	}
	defer history.Close()

	summaries, err := history.Recent(flagLimit)
	if err != nil {
		return err
	}
	for _, s := range summaries {
		fmt.Printf("%s node=%s build=%q attempted=%d killed=%d failed=%d\n",
			s.Started.Format(time.RFC3339), s.Node, s.BuildID,
			s.Attempted, s.Killed, s.Failed)
		for _, line := range s.Lines {
			fmt.Printf("  %s\n", line)
		}
	}
	return nil
}

// buildExecutor wires the executor, attaching the history store when
// the data dir is usable. History is best-effort for one-shot cleans.
func buildExecutor(dataDir string, table *infra.ProcessTable,
	policyStore domain.PolicyStore, logger *zap.Logger) (*usecase.Executor, func(), error) {
	keys := infra.NewFileKeyProvider(dataDir)
	key, err := keys.EnsureKey()
	if err != nil {
		logger.Warn("history disabled, no usable key", zap.Error(err))
		return usecase.NewExecutor(usecase.DefaultExecutorConfig(), table, table, policyStore, logger),
			func() {}, nil
	}
	history, err := infra.NewHistoryStore(dataDir, key)
	if err != nil {
		logger.Warn("history disabled", zap.Error(err))
		return usecase.NewExecutor(usecase.DefaultExecutorConfig(), table, table, policyStore, logger),
			func() {}, nil
	}
	executor := usecase.NewExecutorWithHistory(usecase.DefaultExecutorConfig(),
		table, table, policyStore, history, logger)
	return executor, func() { _ = history.Close() }, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()
	return ctx, cancel
}

func createLogger() *zap.Logger {
	cfg := zap.NewProductionConfig()
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		logger, _ = zap.NewProduction()
	}
	return logger
}
