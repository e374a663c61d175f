package grpc

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	_ "google.golang.org/protobuf/types/known/timestamppb" // 註冊 google/protobuf/timestamp.proto
)

// ProtoFile 描述檔名稱，與 proto/ledger/v1/ledger.proto 對應
const ProtoFile = "ledger/v1/ledger.proto"

// ledgerFile 帳本服務的 proto 描述，init 時註冊到 protoregistry.GlobalFiles
//
// 有了它，gRPC reflection 可以列出帳本服務，原生 protobuf 客戶端也能直接呼叫
var ledgerFile = mustLedgerFile()

type fieldSpec struct {
	name     string
	kind     descriptorpb.FieldDescriptorProto_Type
	typeName string
	repeated bool
}

func stringField(name string) fieldSpec {
	return fieldSpec{name: name, kind: descriptorpb.FieldDescriptorProto_TYPE_STRING}
}

func messageField(name, typeName string) fieldSpec {
	return fieldSpec{name: name, kind: descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, typeName: typeName}
}

const timestampType = ".google.protobuf.Timestamp"

// ledgerMessages 欄位順序即欄位編號 (從 1 開始)，JSON 名稱與 Go struct 的 json tag 一致
var ledgerMessages = []struct {
	name   string
	fields []fieldSpec
}{
	{"CreateAccountRequest", []fieldSpec{stringField("account_id"), stringField("holder"), stringField("initial_balance")}},
	{"MoneyRequest", []fieldSpec{stringField("ref_id"), stringField("account_id"), stringField("amount"), stringField("note")}},
	{"TransferRequest", []fieldSpec{
		stringField("ref_id"), stringField("from_account_id"), stringField("to_account_id"),
		stringField("amount"), stringField("note"),
	}},
	{"AccountRequest", []fieldSpec{stringField("account_id")}},
	{"ListTransactionsRequest", []fieldSpec{
		stringField("account_id"),
		{name: "limit", kind: descriptorpb.FieldDescriptorProto_TYPE_INT32},
	}},
	{"AccountReply", []fieldSpec{
		stringField("account_id"), stringField("holder"), stringField("balance"),
		messageField("created_at", timestampType),
	}},
	{"BalanceReply", []fieldSpec{stringField("account_id"), stringField("balance")}},
	{"TransactionMessage", []fieldSpec{
		{name: "sequence", kind: descriptorpb.FieldDescriptorProto_TYPE_UINT64},
		stringField("ref_id"), stringField("type"), stringField("from_account_id"),
		stringField("to_account_id"), stringField("amount"), stringField("note"),
		messageField("created_at", timestampType),
	}},
	{"TransferReply", []fieldSpec{
		messageField("transaction", ".ledger.v1.TransactionMessage"),
		messageField("from", ".ledger.v1.AccountReply"),
		messageField("to", ".ledger.v1.AccountReply"),
	}},
	{"ListTransactionsReply", []fieldSpec{
		{name: "transactions", kind: descriptorpb.FieldDescriptorProto_TYPE_MESSAGE, typeName: ".ledger.v1.TransactionMessage", repeated: true},
	}},
	{"AuditReply", []fieldSpec{
		stringField("account_id"), stringField("balance"), stringField("replayed"),
		{name: "transactions", kind: descriptorpb.FieldDescriptorProto_TYPE_INT32},
		{name: "consistent", kind: descriptorpb.FieldDescriptorProto_TYPE_BOOL},
	}},
}

// ledgerMethods 方法名稱 -> {input, output}
var ledgerMethods = [][3]string{
	{"CreateAccount", "CreateAccountRequest", "AccountReply"},
	{"Deposit", "MoneyRequest", "AccountReply"},
	{"Withdraw", "MoneyRequest", "AccountReply"},
	{"Transfer", "TransferRequest", "TransferReply"},
	{"GetBalance", "AccountRequest", "BalanceReply"},
	{"GetAccount", "AccountRequest", "AccountReply"},
	{"ListTransactions", "ListTransactionsRequest", "ListTransactionsReply"},
	{"Audit", "AccountRequest", "AuditReply"},
}

func ledgerFileProto() *descriptorpb.FileDescriptorProto {
	fdp := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(ProtoFile),
		Package:    proto.String("ledger.v1"),
		Dependency: []string{"google/protobuf/timestamp.proto"},
		Syntax:     proto.String("proto3"),
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"),
		},
	}

	for _, msg := range ledgerMessages {
		dp := &descriptorpb.DescriptorProto{Name: proto.String(msg.name)}
		for i, f := range msg.fields {
			label := descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL
			if f.repeated {
				label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED
			}
			fp := &descriptorpb.FieldDescriptorProto{
				Name:     proto.String(f.name),
				Number:   proto.Int32(int32(i + 1)),
				Label:    label.Enum(),
				Type:     f.kind.Enum(),
				JsonName: proto.String(f.name),
			}
			if f.typeName != "" {
				fp.TypeName = proto.String(f.typeName)
			}
			dp.Field = append(dp.Field, fp)
		}
		fdp.MessageType = append(fdp.MessageType, dp)
	}

	svc := &descriptorpb.ServiceDescriptorProto{Name: proto.String("LedgerService")}
	for _, m := range ledgerMethods {
		svc.Method = append(svc.Method, &descriptorpb.MethodDescriptorProto{
			Name:       proto.String(m[0]),
			InputType:  proto.String(".ledger.v1." + m[1]),
			OutputType: proto.String(".ledger.v1." + m[2]),
		})
	}
	fdp.Service = []*descriptorpb.ServiceDescriptorProto{svc}
	return fdp
}

func mustLedgerFile() protoreflect.FileDescriptor {
	fd, err := protodesc.NewFile(ledgerFileProto(), protoregistry.GlobalFiles)
	if err != nil {
		panic(fmt.Sprintf("build %s: %v", ProtoFile, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("register %s: %v", ProtoFile, err))
	}
	return fd
}

// methodDescriptor 取得帳本服務的方法描述
func methodDescriptor(method string) protoreflect.MethodDescriptor {
	md := ledgerFile.Services().ByName("LedgerService").Methods().ByName(protoreflect.Name(method))
	if md == nil {
		panic("unknown ledger method " + method)
	}
	return md
}
