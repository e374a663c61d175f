package grpc

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/JoeShih716/go-bank-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
)

// GrpcServer 把 gRPC 請求轉成 CoreUseCase 呼叫 (Driving Adapter)
//
// 只做格式轉換與錯誤碼對應，不含任何業務規則
type GrpcServer struct {
	core *usecase.CoreUseCase
}

func NewGrpcServer(core *usecase.CoreUseCase) *GrpcServer {
	return &GrpcServer{
		core: core,
	}
}

func (s *GrpcServer) CreateAccount(ctx context.Context, req *CreateAccountRequest) (*AccountReply, error) {
	initial := decimal.Zero
	if req.InitialBalance != "" {
		amount, err := domain.ParseAmount(req.InitialBalance)
		if err != nil {
			return nil, toStatus(err)
		}
		initial = amount
	}

	account, err := s.core.CreateAccount(ctx, usecase.CreateAccountCommand{
		ID:             req.AccountID,
		Holder:         req.Holder,
		InitialBalance: initial,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return accountReply(account), nil
}

func (s *GrpcServer) Deposit(ctx context.Context, req *MoneyRequest) (*AccountReply, error) {
	cmd, err := moneyCommand(req)
	if err != nil {
		return nil, toStatus(err)
	}
	account, err := s.core.Deposit(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	return accountReply(account), nil
}

func (s *GrpcServer) Withdraw(ctx context.Context, req *MoneyRequest) (*AccountReply, error) {
	cmd, err := moneyCommand(req)
	if err != nil {
		return nil, toStatus(err)
	}
	account, err := s.core.Withdraw(ctx, cmd)
	if err != nil {
		return nil, toStatus(err)
	}
	return accountReply(account), nil
}

func (s *GrpcServer) Transfer(ctx context.Context, req *TransferRequest) (*TransferReply, error) {
	ref, err := parseRefID(req.RefID)
	if err != nil {
		return nil, toStatus(err)
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return nil, toStatus(err)
	}

	result, err := s.core.Transfer(ctx, usecase.TransferCommand{
		RefID:  ref,
		From:   req.FromAccountID,
		To:     req.ToAccountID,
		Amount: amount,
		Note:   req.Note,
	})
	if err != nil {
		return nil, toStatus(err)
	}
	return &TransferReply{
		Transaction: transactionMessage(&result.Transaction),
		From:        *accountReply(result.From),
		To:          *accountReply(result.To),
	}, nil
}

func (s *GrpcServer) GetBalance(ctx context.Context, req *AccountRequest) (*BalanceReply, error) {
	account, err := s.core.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &BalanceReply{
		AccountID: account.ID,
		Balance:   account.Balance.String(),
	}, nil
}

func (s *GrpcServer) GetAccount(ctx context.Context, req *AccountRequest) (*AccountReply, error) {
	account, err := s.core.GetAccount(ctx, req.AccountID)
	if err != nil {
		return nil, toStatus(err)
	}
	return accountReply(account), nil
}

func (s *GrpcServer) ListTransactions(ctx context.Context, req *ListTransactionsRequest) (*ListTransactionsReply, error) {
	trans, err := s.core.ListTransactions(ctx, req.AccountID, int(req.Limit))
	if err != nil {
		return nil, toStatus(err)
	}
	reply := &ListTransactionsReply{Transactions: make([]TransactionMessage, 0, len(trans))}
	for i := range trans {
		reply.Transactions = append(reply.Transactions, transactionMessage(&trans[i]))
	}
	return reply, nil
}

func (s *GrpcServer) Audit(ctx context.Context, req *AccountRequest) (*AuditReply, error) {
	report, err := s.core.Audit(ctx, req.AccountID)
	if err != nil {
		return nil, toStatus(err)
	}
	return &AuditReply{
		AccountID:    report.AccountID,
		Balance:      report.Balance.String(),
		Replayed:     report.Replayed.String(),
		Transactions: int32(report.Transactions),
		Consistent:   report.Consistent,
	}, nil
}

// UnaryLoggingInterceptor 記錄每個 RPC 的耗時與狀態碼，並把 panic 轉成 Internal
func UnaryLoggingInterceptor(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = status.Errorf(codes.Internal, "panic: %v", r)
			logger.Error("rpc panic", err, logger.Fields{"method": info.FullMethod})
		}
		fields := logger.Fields{
			"method":   info.FullMethod,
			"code":     status.Code(err).String(),
			"duration": time.Since(start).String(),
		}
		if err != nil {
			logger.Debug("rpc failed", fields)
			return
		}
		logger.Debug("rpc handled", fields)
	}()
	return handler(ctx, req)
}

// toStatus 將 domain 錯誤對應到 gRPC 狀態碼
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	var code codes.Code
	switch {
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, domain.ErrAccountNotFound):
		code = codes.NotFound
	case errors.Is(err, domain.ErrAccountAlreadyExists),
		errors.Is(err, domain.ErrTransactionAlreadyProcessed):
		code = codes.AlreadyExists
	case errors.Is(err, domain.ErrInvalidAmount),
		errors.Is(err, domain.ErrInvalidAccountID),
		errors.Is(err, domain.ErrSameAccount),
		errors.Is(err, errInvalidRefID):
		code = codes.InvalidArgument
	case errors.Is(err, domain.ErrInsufficientFunds):
		code = codes.FailedPrecondition
	case errors.Is(err, domain.ErrBusy),
		errors.Is(err, domain.ErrBalanceConflict):
		code = codes.Aborted
	case errors.Is(err, domain.ErrStoreUnavailable):
		code = codes.Unavailable
	default:
		code = codes.Internal
	}
	return status.Error(code, err.Error())
}

var errInvalidRefID = errors.New("invalid ref_id")

// parseRefID 空字串表示由伺服器產生
func parseRefID(raw string) (uuid.UUID, error) {
	if raw == "" {
		return uuid.Nil, nil
	}
	u, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", errInvalidRefID, err)
	}
	return u, nil
}

func moneyCommand(req *MoneyRequest) (usecase.MoneyCommand, error) {
	ref, err := parseRefID(req.RefID)
	if err != nil {
		return usecase.MoneyCommand{}, err
	}
	amount, err := domain.ParseAmount(req.Amount)
	if err != nil {
		return usecase.MoneyCommand{}, err
	}
	return usecase.MoneyCommand{
		RefID:     ref,
		AccountID: req.AccountID,
		Amount:    amount,
		Note:      req.Note,
	}, nil
}

func accountReply(account *domain.Account) *AccountReply {
	return &AccountReply{
		AccountID: account.ID,
		Holder:    account.Holder,
		Balance:   account.Balance.String(),
		CreatedAt: account.CreatedAt.UTC(),
	}
}

func transactionMessage(tran *domain.Transaction) TransactionMessage {
	return TransactionMessage{
		Sequence:      tran.Sequence,
		RefID:         tran.TransactionID.String(),
		Type:          tran.Type.String(),
		FromAccountID: tran.From,
		ToAccountID:   tran.To,
		Amount:        tran.Amount.String(),
		Note:          tran.Note,
		CreatedAt:     tran.CreatedAt.UTC(),
	}
}

var _ LedgerServiceServer = (*GrpcServer)(nil)
