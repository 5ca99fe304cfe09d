// Package journal 把每次指令执行的结果追加进本地 SQLite 流水，
// 成交与拦截都留痕，按天可查。流水只增不改。
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"go.uber.org/zap"

	"sim-trader/internal/store"
)

// Entry 为一条执行流水。
type Entry struct {
	ID            string
	InstructionID int64
	Symbol        string
	Action        string
	Outcome       string // executed/blocked/noop
	Status        string // 执行后的指令状态
	Price         string
	Volume        int64
	Reason        string
	OccurredAt    time.Time
}

// Service 负责流水的写入与查询。
type Service struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewService 初始化流水服务并建表。
func NewService(s *store.Store, logger *zap.Logger) (*Service, error) {
	if s == nil {
		return nil, fmt.Errorf("journal: store 不能为空")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	svc := &Service{
		db:     s.DB(),
		logger: logger,
	}

	if err := svc.initSchema(); err != nil {
		return nil, err
	}

	return svc, nil
}

func (s *Service) initSchema() error {
	schema := []string{
		`CREATE TABLE IF NOT EXISTS trade_journal (
			id TEXT PRIMARY KEY,
			instruction_id INTEGER NOT NULL,
			symbol TEXT NOT NULL,
			action TEXT NOT NULL,
			outcome TEXT NOT NULL,
			status TEXT NOT NULL,
			price TEXT NOT NULL,
			volume INTEGER NOT NULL,
			reason TEXT,
			occurred_at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_trade_journal_symbol ON trade_journal(symbol);`,
		`CREATE INDEX IF NOT EXISTS idx_trade_journal_occurred ON trade_journal(occurred_at);`,
	}

	for _, stmt := range schema {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("journal: 初始化表结构失败: %w", err)
		}
	}

	return nil
}

// Append 追加一条流水。ID 为空时自动生成。
func (s *Service) Append(ctx context.Context, e Entry) error {
	if e.ID == "" {
		e.ID = newID()
	}
	if e.OccurredAt.IsZero() {
		e.OccurredAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO trade_journal (id, instruction_id, symbol, action, outcome, status, price, volume, reason, occurred_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.InstructionID, e.Symbol, e.Action, e.Outcome, e.Status, e.Price, e.Volume, e.Reason,
		// 统一按UTC落库，字符串区间比较才成立。
		e.OccurredAt.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("journal: 写入流水失败: %w", err)
	}

	return nil
}

// ListByDay 查询某个自然日（UTC，格式2006-01-02）的全部流水。
func (s *Service) ListByDay(ctx context.Context, day string) ([]Entry, error) {
	start, err := time.Parse("2006-01-02", day)
	if err != nil {
		return nil, fmt.Errorf("journal: 非法日期 %q: %w", day, err)
	}
	// 上界取次日零点开区间，23:59:59落账的流水也在当日内。
	end := start.AddDate(0, 0, 1)

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, instruction_id, symbol, action, outcome, status, price, volume, reason, occurred_at
		 FROM trade_journal
		 WHERE occurred_at >= ? AND occurred_at < ?
		 ORDER BY id`,
		start.UTC().Format(time.RFC3339), end.UTC().Format(time.RFC3339),
	)
	if err != nil {
		return nil, fmt.Errorf("journal: 查询流水失败: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var occurred string
		if err := rows.Scan(&e.ID, &e.InstructionID, &e.Symbol, &e.Action, &e.Outcome, &e.Status,
			&e.Price, &e.Volume, &e.Reason, &occurred); err != nil {
			return nil, fmt.Errorf("journal: 扫描流水失败: %w", err)
		}
		if ts, parseErr := time.Parse(time.RFC3339, occurred); parseErr == nil {
			e.OccurredAt = ts
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("journal: 遍历流水失败: %w", err)
	}

	return entries, nil
}
