package cli

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
)

const (
	benchModeDeposit  = "deposit"
	benchModeTransfer = "transfer"
)

type benchOptions struct {
	accounts    int
	requests    int
	concurrency int
	amount      string
	mode        string
	prefix      string
	retries     int
}

// BenchReport bench 結束後的統計與一致性檢查結果
type BenchReport struct {
	Mode       string  `json:"mode"`
	Requests   int     `json:"requests"`
	Succeeded  int64   `json:"succeeded"`
	Rejected   int64   `json:"rejected"`
	Retried    int64   `json:"retried"`
	Elapsed    string  `json:"elapsed"`
	TPS        float64 `json:"tps"`
	TotalStart string  `json:"total_start"`
	TotalEnd   string  `json:"total_end"`
	// Consistent 總額變化符合預期，且每個帳戶的 audit 都通過
	Consistent bool `json:"consistent"`
}

func newBenchCommand(a *app) *cobra.Command {
	opts := benchOptions{}

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Fire concurrent deposits or transfers and verify the totals",
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := runBench(cmd.Context(), a, opts)
			if err != nil {
				return err
			}
			if err := printJSON(cmd.OutOrStdout(), report); err != nil {
				return err
			}
			if !report.Consistent {
				return fmt.Errorf("ledger totals are inconsistent")
			}
			return nil
		},
	}

	flags := cmd.Flags()
	flags.IntVar(&opts.accounts, "accounts", 2, "number of accounts to spread load over")
	flags.IntVar(&opts.requests, "requests", 1000, "total requests")
	flags.IntVar(&opts.concurrency, "concurrency", 64, "in-flight requests")
	flags.StringVar(&opts.amount, "amount", "1", "amount per request")
	flags.StringVar(&opts.mode, "mode", benchModeDeposit, "deposit|transfer")
	flags.StringVar(&opts.prefix, "prefix", "bench-", "account id prefix")
	flags.IntVar(&opts.retries, "retries", 3, "retries for busy or unavailable responses")

	return cmd
}

func runBench(ctx context.Context, a *app, opts benchOptions) (*BenchReport, error) {
	if opts.accounts < 1 || (opts.mode == benchModeTransfer && opts.accounts < 2) {
		return nil, fmt.Errorf("not enough accounts for mode %s", opts.mode)
	}
	if opts.mode != benchModeDeposit && opts.mode != benchModeTransfer {
		return nil, fmt.Errorf("unknown mode %q", opts.mode)
	}
	amount, err := decimal.NewFromString(opts.amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q: %w", opts.amount, err)
	}

	c, err := a.client()
	if err != nil {
		return nil, err
	}
	ids := make([]string, opts.accounts)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%d", opts.prefix, i)
	}

	// 轉帳模式需要初始資金
	opening := ""
	if opts.mode == benchModeTransfer {
		opening = amount.Mul(decimal.NewFromInt(int64(opts.requests))).String()
	}
	for _, id := range ids {
		rctx, cancel := context.WithTimeout(ctx, a.timeout)
		_, err := c.CreateAccount(rctx, &grpc_adapter.CreateAccountRequest{AccountID: id, Holder: "bench", InitialBalance: opening})
		cancel()
		if err != nil && status.Code(err) != codes.AlreadyExists {
			return nil, fmt.Errorf("creating %s: %w", id, err)
		}
	}

	before, err := totalBalance(ctx, a, c, ids)
	if err != nil {
		return nil, err
	}

	report := &BenchReport{Mode: opts.mode, Requests: opts.requests, TotalStart: before.String()}
	var succeeded, rejected, retried atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.concurrency)
	start := time.Now()
	for i := 0; i < opts.requests; i++ {
		i := i
		g.Go(func() error {
			ref := uuid.NewString()
			for attempt := 0; ; attempt++ {
				err := benchOnce(gctx, a, c, opts.mode, ids, i, ref, opts.amount)
				if err == nil || (attempt > 0 && status.Code(err) == codes.AlreadyExists) {
					succeeded.Add(1)
					return nil
				}
				if grpc_adapter.Retryable(err) && attempt < opts.retries {
					retried.Add(1)
					continue
				}
				if gctx.Err() != nil {
					return gctx.Err()
				}
				rejected.Add(1)
				if i%1000 == 0 {
					logger.Warn("bench request failed", err, logger.Fields{"index": i})
				}
				return nil
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	elapsed := time.Since(start)

	after, err := totalBalance(ctx, a, c, ids)
	if err != nil {
		return nil, err
	}

	report.Succeeded = succeeded.Load()
	report.Rejected = rejected.Load()
	report.Retried = retried.Load()
	report.Elapsed = elapsed.String()
	if elapsed > 0 {
		report.TPS = float64(opts.requests) / elapsed.Seconds()
	}
	report.TotalEnd = after.String()

	want := before
	if opts.mode == benchModeDeposit {
		want = before.Add(amount.Mul(decimal.NewFromInt(report.Succeeded)))
	}
	report.Consistent = after.Equal(want)

	for _, id := range ids {
		rctx, cancel := context.WithTimeout(ctx, a.timeout)
		audit, err := c.Audit(rctx, &grpc_adapter.AccountRequest{AccountID: id})
		cancel()
		if err != nil {
			return nil, fmt.Errorf("auditing %s: %w", id, err)
		}
		if !audit.Consistent {
			report.Consistent = false
		}
	}
	return report, nil
}

// benchOnce 第 i 個請求: deposit 模式輪流存入各帳戶，transfer 模式轉給下一個帳戶
//
// 重試時沿用同一個 ref，伺服器已處理過的請求會回 AlreadyExists 而不會重複入帳
func benchOnce(ctx context.Context, a *app, c *grpc_adapter.Client, mode string, ids []string, i int, ref, amount string) error {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	from := ids[i%len(ids)]
	if mode == benchModeDeposit {
		_, err := c.Deposit(ctx, &grpc_adapter.MoneyRequest{RefID: ref, AccountID: from, Amount: amount, Note: "bench"})
		return err
	}
	to := ids[(i+1)%len(ids)]
	_, err := c.Transfer(ctx, &grpc_adapter.TransferRequest{RefID: ref, FromAccountID: from, ToAccountID: to, Amount: amount, Note: "bench"})
	return err
}

func totalBalance(ctx context.Context, a *app, c *grpc_adapter.Client, ids []string) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, id := range ids {
		rctx, cancel := context.WithTimeout(ctx, a.timeout)
		reply, err := c.GetBalance(rctx, &grpc_adapter.AccountRequest{AccountID: id})
		cancel()
		if err != nil {
			return decimal.Zero, fmt.Errorf("reading %s: %w", id, err)
		}
		balance, err := decimal.NewFromString(reply.Balance)
		if err != nil {
			return decimal.Zero, fmt.Errorf("parsing balance of %s: %w", id, err)
		}
		total = total.Add(balance)
	}
	return total, nil
}
