package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/KimMachineGun/automemlimit"
	_ "go.uber.org/automaxprocs"

	"github.com/spf13/cobra"

	"github.com/datalift/janitor/internal/config"
)

// Exit codes. check uses exitIssuesFound as an informational signal for
// CI-style gating; exitCancelled mirrors the conventional 128+SIGINT.
const (
	exitOK          = 0
	exitIssuesFound = 1
	exitExecFailed  = 2
	exitAborted     = 3
	exitCancelled   = 130
)

func newRootCmd(cfg *config.Config) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "janitor",
		Short: "Inventory, classify, and clean up orphaned platform resources",
		Long: `janitor inventories a cluster, classifies every resource against the
declared platform baseline, and safely removes orphaned leftovers without
touching managed infrastructure or in-flight workloads.

Resources it cannot classify with confidence are reported for review and
never deleted automatically.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVar(&cfg.Kubeconfig, "kubeconfig", cfg.Kubeconfig,
		"path to kubeconfig (default: in-cluster, then $KUBECONFIG, then ~/.kube/config)")
	rootCmd.PersistentFlags().StringVar(&cfg.BaselinePath, "baseline", cfg.BaselinePath,
		"path to the baseline YAML describing managed namespaces, releases, and CRD patterns")
	rootCmd.PersistentFlags().StringVar(&cfg.NamespaceFilter, "namespace-filter", cfg.NamespaceFilter,
		"restrict the scan to namespaces matching this pattern (* wildcard)")
	rootCmd.PersistentFlags().StringVar(&cfg.ReportFile, "report-file", cfg.ReportFile,
		"write the machine-readable run report to this path (.zst enables compression)")
	rootCmd.PersistentFlags().IntVar(&cfg.StatusPort, "status-port", cfg.StatusPort,
		"serve /healthz and /metrics on this port during the run (0 disables)")
	rootCmd.PersistentFlags().DurationVar(&cfg.MinJobAge, "min-job-age", cfg.MinJobAge,
		"keep terminal Jobs/Pods younger than this out of the orphan set (0 disables)")
	rootCmd.PersistentFlags().BoolVar(&cfg.DryRun, "dry-run", cfg.DryRun,
		"print what would be deleted without making any mutating call")
	rootCmd.PersistentFlags().BoolVar(&cfg.NonInteractive, "non-interactive", cfg.NonInteractive,
		"skip the confirmation gate")

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Scan and classify only; exit non-zero if anything is orphaned or needs review",
		Run: func(cmd *cobra.Command, _ []string) {
			os.Exit(runPipeline(cmd.Context(), *cfg, modeCheck))
		},
	}

	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute and print the cleanup plan without mutating the cluster",
		Run: func(cmd *cobra.Command, _ []string) {
			os.Exit(runPipeline(cmd.Context(), *cfg, modePlan))
		},
	}

	cleanupCmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Execute the cleanup plan (gated by confirmation unless --non-interactive)",
		Run: func(cmd *cobra.Command, _ []string) {
			os.Exit(runPipeline(cmd.Context(), *cfg, modeCleanup))
		},
	}
	cleanupCmd.Flags().IntVar(&cfg.Workers, "workers", cfg.Workers,
		"concurrent deletions within one sequence group")

	rootCmd.AddCommand(checkCmd, planCmd, cleanupCmd)
	return rootCmd
}

func main() {
	cfg := config.Load()
	rootCmd := newRootCmd(&cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitAborted)
	}
}

func init() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
}
