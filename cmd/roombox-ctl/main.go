package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	logpkg "github.com/H51976/roombox-fyp/common/logger"
	"github.com/H51976/roombox-fyp/internal/app"
	"github.com/H51976/roombox-fyp/internal/config"
	"github.com/H51976/roombox-fyp/internal/domain"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var Version = "dev"

func main() {
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:           "roombox-ctl",
		Short:         "Operations for the roombox booking ledger",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(reconcileCmd())
	rootCmd.AddCommand(expireCmd())
	rootCmd.AddCommand(exportIncomeCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp loads config, connects to Postgres (required) and runs fn.
func withApp(cmd *cobra.Command, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := logpkg.NewLogger(cfg.Log.Level, "console", "roombox-ctl")
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, logger, app.Options{RequireDB: true})
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the ledger schema (idempotent)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				if err := a.Migrate(ctx); err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Println("Schema applied")
				return nil
			})
		},
	}
}

func reconcileCmd() *cobra.Command {
	var olderThan time.Duration
	var limit int
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Ask the gateway about stale pending payments and fail abandoned ones",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				report, err := a.Reconciler.ReconcileOnce(ctx, olderThan, limit)
				if err != nil {
					return err
				}
				return printJSON(report)
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 30*time.Minute, "only payments pending longer than this")
	cmd.Flags().IntVar(&limit, "limit", 100, "maximum payments to check")
	return cmd
}

func expireCmd() *cobra.Command {
	var olderThan time.Duration
	var limit int
	cmd := &cobra.Command{
		Use:   "expire",
		Short: "Cancel unpaid pending bookings older than --older-than",
		Long: `Cancel pending bookings that have no completed payment and release their rooms.

Requires LIFECYCLE_EXPIRE_PENDING=true.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				n, err := a.Engine.ExpirePendingBookings(ctx, olderThan, limit)
				if err != nil {
					return err
				}
				fmt.Printf("Expired %d booking(s)\n", n)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&olderThan, "older-than", 72*time.Hour, "booking age before it expires")
	cmd.Flags().IntVar(&limit, "limit", 500, "maximum bookings to expire")
	return cmd
}

func exportIncomeCmd() *cobra.Command {
	var landlordID, from, to, out string
	cmd := &cobra.Command{
		Use:   "export-income",
		Short: "Write a landlord's completed payments to an xlsx file",
		Example: `  roombox-ctl export-income --landlord 42 --from 2026-01-01 --to 2026-07-01 --out income.xlsx`,
		RunE: func(cmd *cobra.Command, args []string) error {
			fromT, err := parseDay(from)
			if err != nil {
				return fmt.Errorf("invalid --from: %w", err)
			}
			toT, err := parseDay(to)
			if err != nil {
				return fmt.Errorf("invalid --to: %w", err)
			}
			return withApp(cmd, func(ctx context.Context, a *app.App) error {
				principal := domain.Principal{UserID: landlordID, Role: domain.RoleLandlord}
				data, err := a.Queries.ExportLandlordIncome(ctx, principal, fromT, toT)
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, data, 0o644); err != nil {
					return fmt.Errorf("failed to write %s: %w", out, err)
				}
				a.Logger.Info("Income exported", zap.String("landlord_id", landlordID), zap.String("file", out))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&landlordID, "landlord", "", "landlord user id")
	cmd.Flags().StringVar(&from, "from", "", "start date, inclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&to, "to", "", "end date, exclusive (YYYY-MM-DD)")
	cmd.Flags().StringVar(&out, "out", "income.xlsx", "output file")
	_ = cmd.MarkFlagRequired("landlord")
	return cmd
}

func parseDay(s string) (*time.Time, error) {
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
