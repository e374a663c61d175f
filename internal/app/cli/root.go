package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
	grpcpool "github.com/JoeShih716/go-bank-ledger/pkg/grpc"
)

// app 所有子命令共用的連線與旗標
type app struct {
	addr     string
	timeout  time.Duration
	logLevel string
	dialOpts []grpc.DialOption
	pool     *grpcpool.Pool
}

// NewRootCommand 建立 ledgerctl 根命令
func NewRootCommand() *cobra.Command {
	return newRootCommand()
}

func newRootCommand(dialOpts ...grpc.DialOption) *cobra.Command {
	a := &app{dialOpts: dialOpts}

	rootCmd := &cobra.Command{
		Use:   "ledgerctl",
		Short: "Client for the account ledger gRPC service",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Setup(cmd.ErrOrStderr(), a.logLevel)
			a.pool = grpcpool.NewPool(
				grpcpool.WithInterceptor(grpcpool.LoggingInterceptor()),
			)
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			return a.close()
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&a.addr, "addr", envOr("LEDGER_ADDR", "localhost:50051"), "ledger server address")
	flags.DurationVar(&a.timeout, "timeout", 5*time.Second, "per-request timeout")
	flags.StringVar(&a.logLevel, "log-level", "warn", "log level (debug|info|warn|error)")

	rootCmd.AddCommand(
		newCreateCommand(a),
		newDepositCommand(a),
		newWithdrawCommand(a),
		newTransferCommand(a),
		newBalanceCommand(a),
		newHistoryCommand(a),
		newAuditCommand(a),
		newBenchCommand(a),
	)

	return rootCmd
}

// client 從連線池取得連線並包成帳本客戶端
func (a *app) client() (*grpc_adapter.Client, error) {
	conn, err := a.pool.GetConnection(a.addr, a.dialOpts...)
	if err != nil {
		return nil, err
	}
	return grpc_adapter.NewClient(conn), nil
}

func (a *app) close() error {
	if a.pool == nil {
		return nil
	}
	return a.pool.Close()
}

// call 以 --timeout 執行一次 RPC 並把結果以 JSON 印出
func call[T any](cmd *cobra.Command, a *app, fn func(context.Context, *grpc_adapter.Client) (T, error)) error {
	c, err := a.client()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(cmd.Context(), a.timeout)
	defer cancel()

	reply, err := fn(ctx, c)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), reply)
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("encoding output: %w", err)
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
