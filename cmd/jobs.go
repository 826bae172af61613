package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"affiliate-commission-system/database"
	"affiliate-commission-system/logging"
	"affiliate-commission-system/models"
	"affiliate-commission-system/services"

	"github.com/spf13/cobra"
)

// operator is the caller identity used by CLI jobs run from a shell.
var operator = services.Caller{UserID: "cli", Roles: []string{"admin"}}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the ledger tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := bootstrap()
			if err != nil {
				return err
			}
			defer logging.Sync()

			db, err := database.Open(cfg.DatabaseURL)
			if err != nil {
				return err
			}
			if err := database.Migrate(db); err != nil {
				return err
			}
			fmt.Println("ledger migrated")
			return nil
		},
	}
}

func payoutCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "payout",
		Short: "Run payout batches by hand",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Settle every matured pending commission now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				result, err := a.payouts.TriggerBatch(cmd.Context(), operator)
				if result != nil {
					printJSON(result)
				}
				return err
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "retry [commission-id...]",
		Short: "Re-drive failed commissions, all of them when no ids are given",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				result, err := a.payouts.RetryFailed(cmd.Context(), operator, args)
				if result != nil {
					printJSON(result)
				}
				return err
			})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "in-flight",
		Short: "List commissions left claimed by an interrupted run",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				rows, err := a.payouts.ListInFlight(cmd.Context(), operator)
				if err != nil {
					return err
				}
				printJSON(rows)
				return nil
			})
		},
	})

	cmd.AddCommand(resolveCmd())
	return cmd
}

func resolveCmd() *cobra.Command {
	var paidRef, failReason string
	var failed bool
	cmd := &cobra.Command{
		Use:   "resolve <commission-id>",
		Short: "Mark an in-flight commission paid (--paid-ref) or failed (--failed)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var r services.InFlightResolution
			switch {
			case paidRef != "" && failed:
				return fmt.Errorf("--paid-ref and --failed are mutually exclusive")
			case paidRef != "":
				r = services.InFlightResolution{Outcome: models.CommissionStatusPaid, Reference: paidRef}
			case failed:
				r = services.InFlightResolution{Outcome: models.CommissionStatusFailed, Reason: failReason}
			default:
				return fmt.Errorf("one of --paid-ref or --failed is required")
			}
			return withApp(cmd.Context(), func(a *app) error {
				row, err := a.payouts.ResolveInFlight(cmd.Context(), operator, args[0], r)
				if err != nil {
					return err
				}
				printJSON(row)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&paidRef, "paid-ref", "", "gateway reference of a transfer that did land")
	cmd.Flags().BoolVar(&failed, "failed", false, "the transfer did not land")
	cmd.Flags().StringVar(&failReason, "reason", "", "note stored with a failed resolution")
	return cmd
}

func earningsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "earnings",
		Short: "Maintain the cached earnings on affiliate profiles",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "refresh",
		Short: "Recompute totals, weekly earnings and ranks from the ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(a *app) error {
				changed, err := a.affiliates.RefreshEarnings(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Printf("%d profile(s) updated\n", changed)
				return nil
			})
		},
	})
	return cmd
}

func withApp(ctx context.Context, fn func(a *app) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := bootstrap()
	if err != nil {
		return err
	}
	defer logging.Sync()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.close()
	return fn(a)
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
