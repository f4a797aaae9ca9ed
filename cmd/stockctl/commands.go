package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/odyssey-erp/odyssey-pos/internal/app"
)

// operations is the slice of the service layer stockctl drives.
type operations interface {
	LedgerBalance(ctx context.Context, branchID, itemID, variantID int64) (any, error)
	VoidTransfer(ctx context.Context, actorID, id int64) (any, error)
	VoidAdjustment(ctx context.Context, actorID, id int64) (any, error)
	CleanupIdempotency(ctx context.Context) (int64, error)
	Close()
}

type connector func(ctx context.Context, envFile string) (operations, error)

// newRootCmd builds the command tree. The returned func closes the connection opened by
// PersistentPreRunE and must run even when the command fails.
func newRootCmd(connect connector) (*cobra.Command, func()) {
	var envFile string
	var actorID int64
	var ops operations

	root := &cobra.Command{
		Use:           "stockctl",
		Short:         "Operate the Odyssey POS stock core",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			ops, err = connect(cmd.Context(), envFile)
			return err
		},
	}
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file")
	root.PersistentFlags().Int64Var(&actorID, "actor", 0, "acting user id recorded in the audit trail")

	// ops is assigned in PersistentPreRunE, so subcommands read it through this getter.
	get := func() operations { return ops }
	root.AddCommand(
		ledgerCmd(get),
		voidCmd("transfer", "Void a committed transfer", get, &actorID, operations.VoidTransfer),
		voidCmd("adjustment", "Void a committed stock-take adjustment", get, &actorID, operations.VoidAdjustment),
		idempotencyCmd(get),
	)
	closeOps := func() {
		if ops != nil {
			ops.Close()
			ops = nil
		}
	}
	return root, closeOps
}

func ledgerCmd(ops func() operations) *cobra.Command {
	var branchID, itemID, variantID int64
	get := &cobra.Command{
		Use:   "get",
		Short: "Show the quantity of an item at a branch",
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := ops().LedgerBalance(cmd.Context(), branchID, itemID, variantID)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	get.Flags().Int64Var(&branchID, "branch", 0, "branch id")
	get.Flags().Int64Var(&itemID, "item", 0, "item id")
	get.Flags().Int64Var(&variantID, "variant", 0, "express the quantity in this variant's unit")
	_ = get.MarkFlagRequired("branch")
	_ = get.MarkFlagRequired("item")

	cmd := &cobra.Command{Use: "ledger", Short: "Read the stock ledger"}
	cmd.AddCommand(get)
	return cmd
}

type voidFunc func(ops operations, ctx context.Context, actorID, id int64) (any, error)

func voidCmd(name, short string, ops func() operations, actorID *int64, void voidFunc) *cobra.Command {
	run := &cobra.Command{
		Use:   "void <id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil || id <= 0 {
				return fmt.Errorf("%s id must be a positive integer, got %q", name, args[0])
			}
			out, err := void(ops(), cmd.Context(), *actorID, id)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), out)
		},
	}
	cmd := &cobra.Command{Use: name, Short: "Manage " + name + "s"}
	cmd.AddCommand(run)
	return cmd
}

func idempotencyCmd(ops func() operations) *cobra.Command {
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete idempotency keys older than IDEMPOTENCY_RETENTION",
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := ops().CleanupIdempotency(cmd.Context())
			if err != nil {
				return err
			}
			_, err = fmt.Fprintf(cmd.OutOrStdout(), "purged %d idempotency key(s)\n", n)
			return err
		},
	}
	cmd := &cobra.Command{Use: "idempotency", Short: "Maintain idempotency keys"}
	cmd.AddCommand(cleanup)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// containerOps adapts app.Container to operations.
type containerOps struct {
	c *app.Container
}

func connect(ctx context.Context, envFile string) (operations, error) {
	cfg, err := app.LoadConfig(envFile)
	if err != nil {
		return nil, err
	}
	c, err := app.NewContainer(ctx, cfg, app.NewLogger(cfg))
	if err != nil {
		return nil, err
	}
	return containerOps{c: c}, nil
}

func (o containerOps) LedgerBalance(ctx context.Context, branchID, itemID, variantID int64) (any, error) {
	if variantID > 0 {
		return o.c.Ledger.GetInUnits(ctx, branchID, itemID, variantID)
	}
	return o.c.Ledger.Get(ctx, branchID, itemID)
}

func (o containerOps) VoidTransfer(ctx context.Context, actorID, id int64) (any, error) {
	return o.c.Transfers.Void(ctx, actorID, id)
}

func (o containerOps) VoidAdjustment(ctx context.Context, actorID, id int64) (any, error) {
	return o.c.Adjustments.Void(ctx, actorID, id)
}

func (o containerOps) CleanupIdempotency(ctx context.Context) (int64, error) {
	return o.c.Idempotency.Cleanup(ctx, o.c.Config.IdempotencyRetention)
}

func (o containerOps) Close() {
	o.c.Close()
}
