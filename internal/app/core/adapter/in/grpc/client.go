package grpc

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Client 帳本服務的 gRPC 客戶端，所有呼叫使用 JSON codec
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) CreateAccount(ctx context.Context, in *CreateAccountRequest, opts ...grpc.CallOption) (*AccountReply, error) {
	out := new(AccountReply)
	if err := c.invoke(ctx, "CreateAccount", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Deposit(ctx context.Context, in *MoneyRequest, opts ...grpc.CallOption) (*AccountReply, error) {
	out := new(AccountReply)
	if err := c.invoke(ctx, "Deposit", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Withdraw(ctx context.Context, in *MoneyRequest, opts ...grpc.CallOption) (*AccountReply, error) {
	out := new(AccountReply)
	if err := c.invoke(ctx, "Withdraw", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Transfer(ctx context.Context, in *TransferRequest, opts ...grpc.CallOption) (*TransferReply, error) {
	out := new(TransferReply)
	if err := c.invoke(ctx, "Transfer", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetBalance(ctx context.Context, in *AccountRequest, opts ...grpc.CallOption) (*BalanceReply, error) {
	out := new(BalanceReply)
	if err := c.invoke(ctx, "GetBalance", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetAccount(ctx context.Context, in *AccountRequest, opts ...grpc.CallOption) (*AccountReply, error) {
	out := new(AccountReply)
	if err := c.invoke(ctx, "GetAccount", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) ListTransactions(ctx context.Context, in *ListTransactionsRequest, opts ...grpc.CallOption) (*ListTransactionsReply, error) {
	out := new(ListTransactionsReply)
	if err := c.invoke(ctx, "ListTransactions", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Audit(ctx context.Context, in *AccountRequest, opts ...grpc.CallOption) (*AuditReply, error) {
	out := new(AuditReply)
	if err := c.invoke(ctx, "Audit", in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+ServiceName+"/"+method, in, out, opts...)
}

// Retryable 伺服器回傳的錯誤是否為暫時性 (帳戶忙碌、餘額衝突、儲存失敗)
func Retryable(err error) bool {
	switch status.Code(err) {
	case codes.Aborted, codes.Unavailable:
		return true
	}
	return false
}
