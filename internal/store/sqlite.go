package store

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"sim-trader/internal/config"
)

// Store 封装本地流水库的 SQLite 连接。
// 流水库只追加、偶尔按日查询，没有外键关系。
type Store struct {
	db *sql.DB
}

// NewSQLite 根据配置初始化 SQLite 存储。
func NewSQLite(cfg config.DatabaseConfig) (*Store, error) {
	conn, err := sql.Open("sqlite3", buildDSN(cfg))
	if err != nil {
		return nil, fmt.Errorf("打开 SQLite 数据库失败: %w", err)
	}

	if cfg.InMemory {
		// 内存库随连接销毁，连接池必须收敛到单连接，
		// 否则池里第二条连接看到的是另一个空库。
		conn.SetMaxOpenConns(1)
		conn.SetMaxIdleConns(1)
		conn.SetConnMaxLifetime(0)
		return &Store{db: conn}, nil
	}

	if err := ensureDir(filepath.Dir(cfg.Path)); err != nil {
		_ = conn.Close()
		return nil, err
	}

	conn.SetMaxOpenConns(cfg.MaxOpenConns)
	conn.SetMaxIdleConns(cfg.MaxIdleConns)
	conn.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	// 追加为主的单写者负载，WAL + NORMAL 足够。
	if _, err := conn.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("设置 SQLite WAL 模式失败: %w", err)
	}
	if _, err := conn.Exec("PRAGMA synchronous=NORMAL;"); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("设置 SQLite 同步级别失败: %w", err)
	}

	return &Store{db: conn}, nil
}

func buildDSN(cfg config.DatabaseConfig) string {
	if cfg.InMemory {
		return ":memory:"
	}

	timeout := cfg.BusyTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	params := url.Values{}
	params.Set("_busy_timeout", fmt.Sprintf("%d", timeout.Milliseconds()))
	return cfg.Path + "?" + params.Encode()
}

// DB 返回底层 *sql.DB.
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close 关闭数据库连接。
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

func ensureDir(path string) error {
	if path == "" || path == "." {
		return nil
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return fmt.Errorf("创建目录 %q 失败: %w", path, err)
	}
	return nil
}
