package ledger

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"sim-trader/internal/config"
)

// Store 负责持仓账本与资产快照的持久化。所有读写都在账本锁的
// 保护下进行，文件替换是原子的，读者永远看不到半成品。
type Store struct {
	positionPath string
	assetsPath   string
	initialCash  decimal.Decimal
	lock         *fileLock
	logger       *zap.Logger

	mu            sync.Mutex
	ttl           time.Duration
	lastReconcile time.Time
}

// NewStore 创建账本存储并确保数据目录存在。
func NewStore(cfg config.LedgerConfig, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, path := range []string{cfg.PositionFile, cfg.AssetsFile} {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("%w: 创建数据目录失败: %v", ErrDurability, err)
		}
	}

	lockPath := filepath.Join(filepath.Dir(cfg.AssetsFile), "ledger.lock")

	return &Store{
		positionPath: cfg.PositionFile,
		assetsPath:   cfg.AssetsFile,
		initialCash:  decimal.NewFromFloat(cfg.InitialCash),
		lock:         newFileLock(lockPath, cfg.LockTimeout, cfg.LockRetries, cfg.LockRetryDelay, logger),
		logger:       logger,
		ttl:          cfg.ReconcileTTL,
	}, nil
}

// Load 在锁保护下读取账本。文件缺失或内容非法时降级为空持仓加
// 初始资金，绝不让一次交易因为读账本失败而中断。
func (s *Store) Load() (PositionLedger, AssetSnapshot, error) {
	if err := s.lock.Acquire(); err != nil {
		return nil, AssetSnapshot{}, err
	}
	defer s.lock.Release()

	positions, snapshot := s.readOrDefault()
	return positions, snapshot, nil
}

// Save 在锁保护下原子落盘。写失败必须向上传播，静默吞掉会造成账实不符。
func (s *Store) Save(positions PositionLedger, snapshot AssetSnapshot) error {
	if err := s.lock.Acquire(); err != nil {
		return err
	}
	defer s.lock.Release()

	return s.write(positions, snapshot)
}

// Update 在一次锁区间内完成读-改-写。fn 返回错误时账本保持原样，
// 错误原样返回给调用方。
func (s *Store) Update(fn func(positions PositionLedger, snapshot *AssetSnapshot) error) error {
	if err := s.lock.Acquire(); err != nil {
		return err
	}
	defer s.lock.Release()

	positions, snapshot := s.readOrDefault()

	if err := fn(positions, &snapshot); err != nil {
		return err
	}

	return s.write(positions, snapshot)
}

func (s *Store) readOrDefault() (PositionLedger, AssetSnapshot) {
	positions := PositionLedger{}
	snapshot := AssetSnapshot{
		Cash:      s.initialCash,
		UpdatedAt: time.Now(),
	}
	snapshot.normalize(snapshot.UpdatedAt)

	if data, err := os.ReadFile(s.positionPath); err == nil {
		var loaded PositionLedger
		if err := json.Unmarshal(data, &loaded); err != nil {
			s.logger.Error("持仓文件内容非法，降级为空持仓", zap.String("path", s.positionPath), zap.Error(err))
		} else if err := loaded.validate(); err != nil {
			s.logger.Error("持仓数据校验失败，降级为空持仓", zap.String("path", s.positionPath), zap.Error(err))
		} else {
			positions = loaded
		}
	} else if !os.IsNotExist(err) {
		s.logger.Error("读取持仓文件失败，降级为空持仓", zap.String("path", s.positionPath), zap.Error(err))
	}

	if data, err := os.ReadFile(s.assetsPath); err == nil {
		var loaded AssetSnapshot
		if err := json.Unmarshal(data, &loaded); err != nil {
			s.logger.Error("资产文件内容非法，使用初始资金", zap.String("path", s.assetsPath), zap.Error(err))
		} else if err := loaded.validate(); err != nil {
			s.logger.Error("资产数据校验失败，使用初始资金", zap.String("path", s.assetsPath), zap.Error(err))
		} else {
			snapshot = loaded
			snapshot.normalize(snapshot.UpdatedAt)
		}
	} else if !os.IsNotExist(err) {
		s.logger.Error("读取资产文件失败，使用初始资金", zap.String("path", s.assetsPath), zap.Error(err))
	}

	return positions, snapshot
}

func (s *Store) write(positions PositionLedger, snapshot AssetSnapshot) error {
	snapshot.normalize(time.Now())

	if err := writeAtomic(s.positionPath, positions); err != nil {
		return fmt.Errorf("%w: 写入持仓文件失败: %v", ErrDurability, err)
	}
	if err := writeAtomic(s.assetsPath, snapshot); err != nil {
		return fmt.Errorf("%w: 写入资产文件失败: %v", ErrDurability, err)
	}

	s.logger.Debug("账本落盘成功",
		zap.Int("positions", len(positions)),
		zap.String("cash", snapshot.Cash.String()),
		zap.String("total_assets", snapshot.TotalAssets.String()),
	)

	return nil
}

// writeAtomic 先写临时文件再改名，保证并发读者要么看到旧文件
// 要么看到完整的新文件。
func writeAtomic(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return err
	}

	return nil
}
