package cli

import (
	"context"

	"github.com/spf13/cobra"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
)

func newCreateCommand(a *app) *cobra.Command {
	var holder, initial string

	cmd := &cobra.Command{
		Use:   "create <account-id>",
		Short: "Open a new account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, a, func(ctx context.Context, c *grpc_adapter.Client) (*grpc_adapter.AccountReply, error) {
				return c.CreateAccount(ctx, &grpc_adapter.CreateAccountRequest{
					AccountID:      args[0],
					Holder:         holder,
					InitialBalance: initial,
				})
			})
		},
	}

	cmd.Flags().StringVar(&holder, "holder", "", "account holder name")
	cmd.Flags().StringVar(&initial, "initial", "", "opening balance")

	return cmd
}

func newDepositCommand(a *app) *cobra.Command {
	var ref, note string

	cmd := &cobra.Command{
		Use:   "deposit <account-id> <amount>",
		Short: "Deposit money into an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, a, func(ctx context.Context, c *grpc_adapter.Client) (*grpc_adapter.AccountReply, error) {
				return c.Deposit(ctx, &grpc_adapter.MoneyRequest{RefID: ref, AccountID: args[0], Amount: args[1], Note: note})
			})
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "reference id (uuid) for idempotency")
	cmd.Flags().StringVar(&note, "note", "", "free-form note")

	return cmd
}

func newWithdrawCommand(a *app) *cobra.Command {
	var ref, note string

	cmd := &cobra.Command{
		Use:   "withdraw <account-id> <amount>",
		Short: "Withdraw money from an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, a, func(ctx context.Context, c *grpc_adapter.Client) (*grpc_adapter.AccountReply, error) {
				return c.Withdraw(ctx, &grpc_adapter.MoneyRequest{RefID: ref, AccountID: args[0], Amount: args[1], Note: note})
			})
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "reference id (uuid) for idempotency")
	cmd.Flags().StringVar(&note, "note", "", "free-form note")

	return cmd
}

func newTransferCommand(a *app) *cobra.Command {
	var ref, note string

	cmd := &cobra.Command{
		Use:   "transfer <from> <to> <amount>",
		Short: "Move money between two accounts",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, a, func(ctx context.Context, c *grpc_adapter.Client) (*grpc_adapter.TransferReply, error) {
				return c.Transfer(ctx, &grpc_adapter.TransferRequest{
					RefID:         ref,
					FromAccountID: args[0],
					ToAccountID:   args[1],
					Amount:        args[2],
					Note:          note,
				})
			})
		},
	}

	cmd.Flags().StringVar(&ref, "ref", "", "reference id (uuid) for idempotency")
	cmd.Flags().StringVar(&note, "note", "", "free-form note")

	return cmd
}

func newBalanceCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "balance <account-id>",
		Short: "Show the current balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, a, func(ctx context.Context, c *grpc_adapter.Client) (*grpc_adapter.BalanceReply, error) {
				return c.GetBalance(ctx, &grpc_adapter.AccountRequest{AccountID: args[0]})
			})
		},
	}
}

func newHistoryCommand(a *app) *cobra.Command {
	var limit int32

	cmd := &cobra.Command{
		Use:   "history <account-id>",
		Short: "List recent transactions, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, a, func(ctx context.Context, c *grpc_adapter.Client) (*grpc_adapter.ListTransactionsReply, error) {
				return c.ListTransactions(ctx, &grpc_adapter.ListTransactionsRequest{AccountID: args[0], Limit: limit})
			})
		},
	}

	cmd.Flags().Int32Var(&limit, "limit", 0, "max transactions (0 = server default)")

	return cmd
}

func newAuditCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "audit <account-id>",
		Short: "Replay the transaction log and compare with the stored balance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return call(cmd, a, func(ctx context.Context, c *grpc_adapter.Client) (*grpc_adapter.AuditReply, error) {
				return c.Audit(ctx, &grpc_adapter.AccountRequest{AccountID: args[0]})
			})
		},
	}
}
