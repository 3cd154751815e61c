package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"coinwatch/internal/gate"
	"coinwatch/internal/hotwatch"
	"coinwatch/internal/market"
	"coinwatch/internal/outbox"
)

// SimulateOptions feed a synthetic evaluation through the live pipeline.
type SimulateOptions struct {
	EntityID    string
	AnchorPrice float64
	Price       float64
	TargetPct   float64
}

// Simulate 构造一个一次性目标并用给定价格跑完 评估→限流→发送 全链路。
// 不读写数据库，但会真实发送告警。
func (a *App) Simulate(ctx context.Context, opts SimulateOptions) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}
	notifier, err := a.newNotifier()
	if err != nil {
		return err
	}
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	now := time.Now().UTC()
	entry := &market.HotWatchEntry{
		ID:          "simulated",
		EntityID:    opts.EntityID,
		Label:       "simulated",
		CreatedAt:   now,
		AnchorPrice: decimal.NewFromFloat(opts.AnchorPrice),
		Active:      true,
		Triggers: []market.HotTrigger{
			{EntryID: "simulated", Kind: market.HotTargetPct, Target: decimal.NewFromFloat(opts.TargetPct)},
		},
	}
	if err := entry.Validate(); err != nil {
		return err
	}

	snap := &market.Snapshot{
		EntityID:  opts.EntityID,
		Price:     decimal.NewFromFloat(opts.Price),
		Volume24h: decimal.Zero,
		FetchedAt: now,
	}
	if err := snap.Validate(); err != nil {
		return err
	}

	res := hotwatch.New(a.Logger).Evaluate(entry, snap, now)
	if len(res.Candidates) == 0 {
		a.Logger.Info().
			Str("entity", opts.EntityID).
			Float64("price", opts.Price).
			Float64("anchor", opts.AnchorPrice).
			Msg("条件未满足，未触发告警")
		return nil
	}

	gt := a.newGate()
	ob := outbox.New(nil, notifier, nil, a.alertChannel(), a.Logger)
	for _, candidate := range res.Candidates {
		if verdict := gt.Admit(candidate, now); verdict != gate.Approved {
			a.Logger.Warn().
				Str("kind", string(candidate.Kind)).
				Str("guard", string(verdict)).
				Msg("模拟告警被限流拦截")
			continue
		}
		if _, err := ob.Send(ctx, candidate); err != nil {
			return err
		}
	}
	return nil
}
