package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"codeberg.org/lexicore/cohortsync/pkg/config"
	"codeberg.org/lexicore/cohortsync/pkg/controller"
	"codeberg.org/lexicore/cohortsync/pkg/directory"
	"codeberg.org/lexicore/cohortsync/pkg/report"
	"codeberg.org/lexicore/cohortsync/pkg/store"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

var configPath string

func main() {
	var rootCmd = &cobra.Command{
		Use:   "cohortsync",
		Short: "cohortsync mirrors LDAP group membership into local cohorts",
		Long: `Synchronizes directory groups, including nested groups, into locally
stored cohorts and provisions missing users on the way.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "/etc/cohortsync/config.yaml", "Path to config")
	rootCmd.PersistentFlags().StringVarP(&serverAddr, "server", "s", "http://localhost:8080", "Address of a running cohortsync server")

	rootCmd.AddCommand(newSyncCommand())
	rootCmd.AddCommand(newSyncUserCommand())
	rootCmd.AddCommand(newCheckCommand())
	rootCmd.AddCommand(newConfigCommand())
	rootCmd.AddCommand(newServeCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newReconcileCommand())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// app bundles what every local command needs.
type app struct {
	cfg        *config.Config
	logger     *zap.Logger
	store      store.Store
	reconciler *controller.Reconciler
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, err
	}

	logger := initLogger(cfg.Logging)

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		logger.Sync()
		return nil, err
	}

	connector := directory.NewLDAPConnector(cfg.Directory, logger)
	return &app{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		reconciler: controller.NewReconciler(cfg, connector, st, logger),
	}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close store", zap.Error(err))
	}
	a.logger.Sync()
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func newSyncCommand() *cobra.Command {
	var (
		force      bool
		reportPath string
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one full synchronization pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			trace := controller.NewTextTrace(cmd.OutOrStdout(), a.cfg.Sync.Debug)
			result, err := a.reconciler.Reconcile(ctx, trace, controller.Options{ForceUnsubscribe: force})
			if result != nil {
				printSummary(cmd, result)
				if reportPath != "" {
					if rerr := writeReport(reportPath, result); rerr != nil {
						return rerr
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Report written to %s\n", reportPath)
				}
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&force, "force-unsubscribe", false, "Remove members missing from the directory even when unsubscribe is disabled")
	cmd.Flags().StringVar(&reportPath, "report", "", "Write an Excel report of the pass to this file")
	return cmd
}

func newSyncUserCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "sync-user [username]",
		Short: "Add a single user to the cohorts of its directory groups",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			user, err := a.store.GetUserByField(ctx, "username", args[0])
			if err != nil {
				return fmt.Errorf("failed to find local user %s: %w", args[0], err)
			}

			result, err := a.reconciler.SyncUser(ctx, user)
			if errors.Is(err, controller.ErrUserSyncSkipped) {
				fmt.Fprintf(cmd.OutOrStdout(), "Skipped: %v\n", err)
				return nil
			}
			if result != nil {
				printSummary(cmd, result)
			}
			return err
		},
	}
}

func newCheckCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Validate the configuration and test directory and store connectivity",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signalContext()
			defer stop()

			a, err := setup(ctx)
			if err != nil {
				return err
			}
			defer a.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Configuration valid")

			groups, err := a.store.ListGroups(ctx)
			if err != nil {
				return fmt.Errorf("store check failed: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "✓ Store reachable (%s, %d cohorts)\n", a.cfg.Store.Driver, len(groups))

			client, err := directory.NewLDAPConnector(a.cfg.Directory, a.logger).Connect(ctx)
			if err != nil {
				return fmt.Errorf("directory check failed: %w", err)
			}
			client.Close()
			fmt.Fprintln(cmd.OutOrStdout(), "✓ Directory reachable")
			return nil
		},
	}
}

func newConfigCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration with secrets redacted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadConfig(configPath)
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(cfg.Redacted())
		},
	}
}

func printSummary(cmd *cobra.Command, result *controller.PassResult) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 8, 2, '\t', 0)
	fmt.Fprintln(w, "PASS\tCREATED\tEXISTING\tDISABLED\tSKIPPED\tUSERS\tADDED\tREMOVED\tERRORS")
	fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%d\t%d\t%d\t%d\n",
		result.ID,
		result.GroupsCreated,
		result.GroupsExisting,
		result.GroupsDisabled,
		result.GroupsSkipped,
		result.UsersCreated,
		result.MembersAdded,
		result.MembersRemoved,
		result.Errors(),
	)
	w.Flush()
}

func writeReport(path string, result *controller.PassResult) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := report.ExportExcel(f, result); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}
