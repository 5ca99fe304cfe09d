package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sim-trader/internal/quote"
)

// QuoteService 是对账时为持仓重新定价的行情来源。
type QuoteService interface {
	GetQuote(ctx context.Context, symbol string) (quote.Quote, error)
}

const repriceConcurrency = 4

// Reconcile 用服务端的权威持仓整体替换本地持仓，现金保持不变。
// 总市值按最新行情重新计算。TTL 窗口内的重复调用直接跳过，
// 约束行情服务的调用量。
func (s *Store) Reconcile(ctx context.Context, remote []RemotePosition, quotes QuoteService) error {
	s.mu.Lock()
	if !s.lastReconcile.IsZero() && time.Since(s.lastReconcile) < s.ttl {
		s.mu.Unlock()
		s.logger.Debug("对账仍在TTL窗口内，跳过", zap.Time("last", s.lastReconcile))
		return nil
	}
	s.mu.Unlock()

	prices, err := s.repriceAll(ctx, remote, quotes)
	if err != nil {
		return err
	}

	now := time.Now()

	err = s.Update(func(positions PositionLedger, snapshot *AssetSnapshot) error {
		// 原始建仓比例只在本地维护，符号保留时结转，新符号留零
		// 等待下一次买入指令赋值。
		originals := make(map[string]decimal.Decimal, len(positions))
		for symbol, record := range positions {
			originals[symbol] = record.OriginalRatio
		}

		for symbol := range positions {
			delete(positions, symbol)
		}

		total := decimal.Zero
		for _, rp := range remote {
			if rp.Volume <= 0 {
				continue
			}
			positions[rp.Symbol] = PositionRecord{
				Volume:        rp.Volume,
				AvgCost:       rp.AvgCost,
				OriginalRatio: originals[rp.Symbol],
				UpdatedAt:     now,
			}
			total = total.Add(prices[rp.Symbol].Mul(decimal.NewFromInt(rp.Volume)))
		}

		// 现金保持不变，这是对账的核心约定。
		snapshot.TotalMarketValue = total
		return nil
	})
	if err != nil {
		return err
	}

	s.mu.Lock()
	s.lastReconcile = now
	s.mu.Unlock()

	s.logger.Info("账本对账完成",
		zap.Int("positions", len(remote)),
		zap.Time("at", now),
	)

	return nil
}

func (s *Store) repriceAll(ctx context.Context, remote []RemotePosition, quotes QuoteService) (map[string]decimal.Decimal, error) {
	prices := make(map[string]decimal.Decimal, len(remote))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(repriceConcurrency)

	for _, rp := range remote {
		if rp.Volume <= 0 {
			continue
		}
		rp := rp
		g.Go(func() error {
			q, err := quotes.GetQuote(gctx, rp.Symbol)
			if err != nil {
				return fmt.Errorf("ledger: 对账取价失败 %s: %w", rp.Symbol, err)
			}
			mu.Lock()
			prices[rp.Symbol] = q.Price
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return prices, nil
}
