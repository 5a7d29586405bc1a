package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tokenjar/internal/cli"
	"tokenjar/internal/core"
	"tokenjar/internal/services"
	"tokenjar/internal/storage"
)

func main() {
	cli.LoadEnvFile()
	logger := cli.SetupLogger()
	cfg := cli.LoadAndValidateConfig(logger)

	var repo *storage.SQLiteRepository
	openRepo := func() *storage.SQLiteRepository {
		if repo == nil {
			repo = cli.InitSQLite(logger, cfg.SQLiteDBPath)
		}
		return repo
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	root := &cobra.Command{
		Use:           "tokenjar-admin",
		Short:         "Administrative commands for the tokenjar database",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	createUser := &cobra.Command{
		Use:   "create-user <id> <email>",
		Short: "Create a user or update their email",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			if err := openRepo().CreateUser(ctx, args[0], args[1]); err != nil {
				return fmt.Errorf("create user: %w", err)
			}
			fmt.Printf("user %s (%s) saved\n", args[0], args[1])
			return nil
		},
	}

	setIncome := &cobra.Command{
		Use:   "set-income <email> <annual-amount>",
		Short: "Set a user's annual income, e.g. set-income me@example.com 55000.00",
		Args:  cobra.ExactArgs(2),
		RunE: func(_ *cobra.Command, args []string) error {
			cents, err := core.ParseDecimalToCents(args[1])
			if err != nil {
				return fmt.Errorf("amount %q: %w", args[1], err)
			}
			if err := openRepo().SetAnnualIncomeByEmail(ctx, args[0], cents); err != nil {
				return fmt.Errorf("set income: %w", err)
			}
			fmt.Printf("annual income for %s set to %s\n", args[0], core.FormatCents(cents))
			return nil
		},
	}

	state := &cobra.Command{
		Use:   "state <user-id>",
		Short: "Print a user's budget state as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			svc := services.NewBudgetService(openRepo(), nil)
			st, err := svc.GetState(ctx, args[0])
			if err != nil {
				return err
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}

	reset := &cobra.Command{
		Use:   "reset <user-id>",
		Short: "Unspend every token and zero the fund, keeping base values",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			svc := services.NewBudgetService(openRepo(), nil)
			st, err := svc.ResetAll(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("reset complete, weekly budget %s\n", core.FormatCents(st.TotalBudgetCents()))
			return nil
		},
	}

	restore := &cobra.Command{
		Use:   "restore <user-id>",
		Short: "Replace the user's modules with the canonical plan",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			svc := services.NewBudgetService(openRepo(), nil)
			st, err := svc.RestoreInitial(ctx, args[0])
			if err != nil {
				return err
			}
			fmt.Printf("restored %d modules, fund kept at %s\n", len(st.Modules), core.FormatCents(st.FundCents))
			return nil
		},
	}

	var fundCents int64
	setFund := &cobra.Command{
		Use:   "set-fund <user-id>",
		Short: "Overwrite the fund balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			svc := services.NewBudgetService(openRepo(), nil)
			st, err := svc.SetFund(ctx, args[0], fundCents)
			if err != nil {
				return err
			}
			fmt.Printf("fund set to %s\n", core.FormatCents(st.FundCents))
			return nil
		},
	}
	setFund.Flags().Int64Var(&fundCents, "cents", 0, "new fund balance in cents")

	root.AddCommand(createUser, setIncome, state, reset, restore, setFund)

	err := root.Execute()
	if repo != nil {
		_ = repo.Close()
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
