package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	grpc_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/in/grpc"
	memory_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/memory"
	mysql_adapter "github.com/JoeShih716/go-bank-ledger/internal/app/core/adapter/out/mysql"
	"github.com/JoeShih716/go-bank-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-bank-ledger/internal/config"
	"github.com/JoeShih716/go-bank-ledger/pkg/logger"
	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
	"github.com/JoeShih716/go-bank-ledger/pkg/wal"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "core",
		Short: "Account ledger gRPC server",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		SilenceUsage: true,
	}
	rootCmd.AddCommand(newServeCommand())
	return rootCmd
}

func newServeCommand() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ledger gRPC server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			logger.Setup(os.Stderr, cfg.Log.Level)

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}

	cmd.Flags().StringVar(&configPath, "config", "config/config.yaml", "config file path")

	return cmd
}

func serve(ctx context.Context, cfg config.Config) error {
	// 1. 初始化 Store
	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Error("failed to close store", err, nil)
		}
	}()

	// 2. 初始化 UseCase
	coreUseCase := usecase.NewCoreUseCase(store, usecase.Options{
		LockTimeout:  cfg.Ledger.LockTimeout,
		HistoryLimit: cfg.Ledger.HistoryLimit,
	})

	// 3. 初始化 gRPC Adapter
	lis, err := net.Listen("tcp", cfg.Server.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.Server.Addr, err)
	}

	s := grpc.NewServer(grpc.UnaryInterceptor(grpc_adapter.UnaryLoggingInterceptor))
	grpc_adapter.RegisterLedgerServiceServer(s, grpc_adapter.NewGrpcServer(coreUseCase))
	hs := health.NewServer()
	hs.SetServingStatus(grpc_adapter.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	// 帳本服務的描述已註冊到 protoregistry.GlobalFiles (ledger/v1/ledger.proto)，grpcurl 可直接 describe
	reflection.Register(s)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("grpc server started", logger.Fields{"addr": cfg.Server.Addr, "store": cfg.Ledger.Store})
		serveErr <- s.Serve(lis)
	}()

	select {
	case err := <-serveErr:
		if err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			return fmt.Errorf("grpc server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// 4. Graceful Shutdown
	logger.Info("shutting down server", nil)
	hs.Shutdown()
	stopped := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(cfg.Server.ShutdownTimeout):
		logger.Warn("graceful stop timed out, forcing", nil, logger.Fields{"timeout": cfg.Server.ShutdownTimeout.String()})
		s.Stop()
	}
	logger.Info("server exited", nil)
	return nil
}

// openStore 依設定建立 Account Store 與 Transaction Log
func openStore(ctx context.Context, cfg config.Config) (usecase.Store, func() error, error) {
	switch cfg.Ledger.Store {
	case config.StoreMySQL:
		dbClient, err := mysql.NewClient(ctx, cfg.MySQL)
		if err != nil {
			return nil, nil, err
		}
		store := mysql_adapter.NewGormStore(dbClient.DB())
		if err := store.Migrate(ctx); err != nil {
			_ = dbClient.Close()
			return nil, nil, fmt.Errorf("failed to migrate: %w", err)
		}
		logger.Info("connected to mysql", logger.Fields{"host": cfg.MySQL.Host, "db": cfg.MySQL.DBName})
		return store, dbClient.Close, nil

	default:
		if cfg.Ledger.WALPath == "" {
			store, err := memory_adapter.NewMutexStore(nil)
			if err != nil {
				return nil, nil, err
			}
			logger.Warn("wal disabled, balances are lost on restart", nil, nil)
			return store, func() error { return nil }, nil
		}

		walFile, err := wal.NewWAL(cfg.Ledger.WALPath)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to init WAL: %w", err)
		}
		store, err := memory_adapter.NewMutexStore(walFile)
		if err != nil {
			_ = walFile.Close()
			return nil, nil, fmt.Errorf("failed to recover from WAL: %w", err)
		}
		logger.Info("memory store recovered", logger.Fields{"wal": cfg.Ledger.WALPath})
		return store, walFile.Close, nil
	}
}
