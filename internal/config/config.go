package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/JoeShih716/go-bank-ledger/pkg/mysql"
)

const (
	StoreMemory = "memory"
	StoreMySQL  = "mysql"
)

// Config 服務設定 (config/config.yaml)
type Config struct {
	Server ServerConfig `yaml:"server"`
	Ledger LedgerConfig `yaml:"ledger"`
	MySQL  mysql.Config `yaml:"mysql"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// ShutdownTimeout GracefulStop 的等待上限，超過後強制關閉
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

type LedgerConfig struct {
	// Store "memory" (記憶體 + WAL) 或 "mysql"
	Store   string `yaml:"store"`
	WALPath string `yaml:"wal_path"`
	// LockTimeout 等待帳戶鎖的上限，超過回傳 busy
	LockTimeout  time.Duration `yaml:"lock_timeout"`
	HistoryLimit int           `yaml:"history_limit"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Default 沒有設定檔時使用的設定
func Default() Config {
	var cfg Config
	cfg.applyDefaults()
	return cfg
}

// Load 讀取 yaml 設定檔並補全預設值
//
// 參數:
//
//	path: 設定檔路徑
//
// 回傳值:
//
//	Config: 補全後的設定
//	error: 讀檔、解析或檢查失敗
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}
	return Parse(data)
}

// Parse 解析 yaml 內容並補全預設值
func Parse(data []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate 檢查設定是否可用
func (c Config) Validate() error {
	switch c.Ledger.Store {
	case StoreMemory:
	case StoreMySQL:
		if c.MySQL.Host == "" || c.MySQL.DBName == "" {
			return fmt.Errorf("ledger.store is mysql but mysql.host or mysql.db_name is empty")
		}
	default:
		return fmt.Errorf("unknown ledger.store %q (memory|mysql)", c.Ledger.Store)
	}
	if c.Ledger.LockTimeout < 0 {
		return fmt.Errorf("ledger.lock_timeout must not be negative")
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":50051"
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Ledger.Store == "" {
		c.Ledger.Store = StoreMemory
	}
	if c.Ledger.LockTimeout == 0 {
		c.Ledger.LockTimeout = 2 * time.Second
	}
	if c.Ledger.HistoryLimit <= 0 {
		c.Ledger.HistoryLimit = 10
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	// WALPath 留空表示不落地，只有 memory store 使用
	c.MySQL = c.MySQL.WithDefaults()
}
