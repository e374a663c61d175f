package grpc

import (
	"context"
	"encoding/json"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/types/dynamicpb"
)

// ServiceName gRPC 服務全名
const ServiceName = "ledger.v1.LedgerService"

// 金額一律以十進位字串傳遞，避免浮點誤差

type CreateAccountRequest struct {
	AccountID      string `json:"account_id"`
	Holder         string `json:"holder"`
	InitialBalance string `json:"initial_balance,omitempty"`
}

type MoneyRequest struct {
	// RefID 選填，UUID 字串；重送同一個 RefID 會被拒絕
	RefID     string `json:"ref_id,omitempty"`
	AccountID string `json:"account_id"`
	Amount    string `json:"amount"`
	Note      string `json:"note,omitempty"`
}

type TransferRequest struct {
	RefID         string `json:"ref_id,omitempty"`
	FromAccountID string `json:"from_account_id"`
	ToAccountID   string `json:"to_account_id"`
	Amount        string `json:"amount"`
	Note          string `json:"note,omitempty"`
}

type AccountRequest struct {
	AccountID string `json:"account_id"`
}

type ListTransactionsRequest struct {
	AccountID string `json:"account_id"`
	// Limit <= 0 使用伺服器預設筆數
	Limit int32 `json:"limit,omitempty"`
}

type AccountReply struct {
	AccountID string    `json:"account_id"`
	Holder    string    `json:"holder"`
	Balance   string    `json:"balance"`
	CreatedAt time.Time `json:"created_at"`
}

type BalanceReply struct {
	AccountID string `json:"account_id"`
	Balance   string `json:"balance"`
}

type TransactionMessage struct {
	Sequence      uint64    `json:"sequence,string"`
	RefID         string    `json:"ref_id"`
	Type          string    `json:"type"`
	FromAccountID string    `json:"from_account_id,omitempty"`
	ToAccountID   string    `json:"to_account_id,omitempty"`
	Amount        string    `json:"amount"`
	Note          string    `json:"note,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

type TransferReply struct {
	Transaction TransactionMessage `json:"transaction"`
	From        AccountReply       `json:"from"`
	To          AccountReply       `json:"to"`
}

type ListTransactionsReply struct {
	Transactions []TransactionMessage `json:"transactions"`
}

type AuditReply struct {
	AccountID    string `json:"account_id"`
	Balance      string `json:"balance"`
	Replayed     string `json:"replayed"`
	Transactions int32  `json:"transactions"`
	Consistent   bool   `json:"consistent"`
}

// LedgerServiceServer 帳本服務的伺服端介面
type LedgerServiceServer interface {
	CreateAccount(context.Context, *CreateAccountRequest) (*AccountReply, error)
	Deposit(context.Context, *MoneyRequest) (*AccountReply, error)
	Withdraw(context.Context, *MoneyRequest) (*AccountReply, error)
	Transfer(context.Context, *TransferRequest) (*TransferReply, error)
	GetBalance(context.Context, *AccountRequest) (*BalanceReply, error)
	GetAccount(context.Context, *AccountRequest) (*AccountReply, error)
	ListTransactions(context.Context, *ListTransactionsRequest) (*ListTransactionsReply, error)
	Audit(context.Context, *AccountRequest) (*AuditReply, error)
}

// RegisterLedgerServiceServer 將帳本服務註冊到 gRPC Server
func RegisterLedgerServiceServer(s grpc.ServiceRegistrar, srv LedgerServiceServer) {
	s.RegisterService(&ledgerServiceDesc, srv)
}

var ledgerServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LedgerServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("CreateAccount", LedgerServiceServer.CreateAccount),
		unary("Deposit", LedgerServiceServer.Deposit),
		unary("Withdraw", LedgerServiceServer.Withdraw),
		unary("Transfer", LedgerServiceServer.Transfer),
		unary("GetBalance", LedgerServiceServer.GetBalance),
		unary("GetAccount", LedgerServiceServer.GetAccount),
		unary("ListTransactions", LedgerServiceServer.ListTransactions),
		unary("Audit", LedgerServiceServer.Audit),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: ProtoFile,
}

// unary 產生一個 unary method 的 handler，行為與 protoc-gen-go-grpc 產生的相同
//
// 線上格式由 ledger.proto 描述: 請求先解成 dynamicpb 訊息 (原生 protobuf 與 JSON 皆可)，
// 再轉成 Go struct 交給 LedgerServiceServer；回應以相反方向轉回 proto 訊息
func unary[Req, Resp any](
	method string,
	call func(LedgerServiceServer, context.Context, *Req) (*Resp, error),
) grpc.MethodDesc {
	fullMethod := "/" + ServiceName + "/" + method
	md := methodDescriptor(method)
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			msg := dynamicpb.NewMessage(md.Input())
			if err := dec(msg); err != nil {
				return nil, err
			}
			in := new(Req)
			if err := fromMessage(msg, in); err != nil {
				return nil, status.Errorf(codes.InvalidArgument, "decode %s: %v", md.Input().FullName(), err)
			}

			var (
				out any
				err error
			)
			if interceptor == nil {
				out, err = call(srv.(LedgerServiceServer), ctx, in)
			} else {
				info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
				handler := func(ctx context.Context, req any) (any, error) {
					return call(srv.(LedgerServiceServer), ctx, req.(*Req))
				}
				out, err = interceptor(ctx, in, info, handler)
			}
			if err != nil {
				return nil, err
			}
			return toMessage(out, md.Output())
		},
	}
}

// fromMessage proto 訊息 -> Go struct (經由 JSON，欄位名稱相同)
func fromMessage(msg proto.Message, v any) error {
	data, err := protojson.MarshalOptions{UseProtoNames: true}.Marshal(msg)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// toMessage Go struct -> proto 訊息
func toMessage(v any, desc protoreflect.MessageDescriptor) (proto.Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode %s: %v", desc.FullName(), err)
	}
	msg := dynamicpb.NewMessage(desc)
	if err := protojson.Unmarshal(data, msg); err != nil {
		return nil, status.Errorf(codes.Internal, "encode %s: %v", desc.FullName(), err)
	}
	return msg, nil
}
