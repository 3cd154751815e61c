package longwatch

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
)

var evalT0 = time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)

func dec(v string) decimal.Decimal {
	return decimal.RequireFromString(v)
}

func decp(v string) *decimal.Decimal {
	d := dec(v)
	return &d
}

func watchConfig() *market.TriggerConfig {
	return &market.TriggerConfig{
		EntityID:          "tok-1",
		Label:             "TOK",
		RetraceOn:         true,
		RetracePct:        dec("15"),
		RetraceCooldown:   6 * time.Hour,
		StallOn:           true,
		StallVolPct:       dec("80"),
		StallBandPct:      dec("3"),
		StallCooldown:     12 * time.Hour,
		BreakoutOn:        true,
		BreakoutPct:       dec("12"),
		BreakoutVolMult:   dec("1.5"),
		BreakoutCooldown:  4 * time.Hour,
		MilestonesOn:      true,
		MilestoneLevels:   []decimal.Decimal{dec("1000000"), dec("5000000")},
		MilestoneCooldown: time.Hour,
	}
}

func seededState(at time.Time) *market.RollingState {
	return &market.RollingState{
		EntityID:      "tok-1",
		High12:        decp("100"),
		High24:        decp("100"),
		High72:        decp("100"),
		Low12:         decp("98"),
		Low24:         decp("95"),
		Low72:         decp("90"),
		VolSum12:      decp("1000"),
		VolSum24:      decp("5000"),
		LastPrice:     dec("100"),
		LastMarketCap: decp("800000"),
		LastUpdatedAt: at,
		Reset12At:     at,
		Reset24At:     at,
		Reset72At:     at,
	}
}

func snapAt(price, volume string, mcap *decimal.Decimal, at time.Time) *market.Snapshot {
	return &market.Snapshot{
		EntityID:  "tok-1",
		Price:     dec(price),
		Volume24h: dec(volume),
		MarketCap: mcap,
		FetchedAt: at,
	}
}

func cycleFor(state *market.RollingState, cfg *market.TriggerConfig, snap *market.Snapshot, now time.Time) Cycle {
	return Cycle{
		State:    state,
		Config:   cfg,
		Snapshot: snap,
		Warm:     Warmth{W12: true, W24: true, W72: true},
		Now:      now,
	}
}

func TestRetraceFiresAtConfiguredDepth(t *testing.T) {
	eval := New(zerolog.Nop())
	cfg := watchConfig()
	cfg.StallOn, cfg.BreakoutOn, cfg.MilestonesOn = false, false, false

	got := eval.Evaluate(cycleFor(seededState(evalT0), cfg, snapAt("86", "500", nil, evalT0), evalT0))
	if len(got) != 0 {
		t.Fatalf("14%% 回撤未达阈值, 不应触发: %+v", got)
	}

	got = eval.Evaluate(cycleFor(seededState(evalT0), cfg, snapAt("84", "500", nil, evalT0), evalT0))
	if len(got) != 1 {
		t.Fatalf("期望 1 条回撤告警, 实际 %d", len(got))
	}
	alert := got[0]
	if alert.Kind != market.KindRetrace {
		t.Fatalf("kind 应为 retrace, 实际 %s", alert.Kind)
	}
	if !alert.Magnitude.Equal(dec("16")) {
		t.Fatalf("回撤幅度应为 16%%, 实际 %s", alert.Magnitude)
	}
	if !alert.Threshold.Equal(dec("15")) {
		t.Fatalf("阈值应为 15, 实际 %s", alert.Threshold)
	}
	if alert.EntryID != "" {
		t.Fatalf("长监控告警不应携带 entry id: %q", alert.EntryID)
	}
}

func TestRetraceCooldownBlocksAndRearms(t *testing.T) {
	eval := New(zerolog.Nop())
	cfg := watchConfig()
	cfg.StallOn, cfg.BreakoutOn, cfg.MilestonesOn = false, false, false
	state := seededState(evalT0)

	first := eval.Evaluate(cycleFor(state, cfg, snapAt("84", "500", nil, evalT0), evalT0))
	if len(first) != 1 {
		t.Fatalf("首次应触发, 实际 %d 条", len(first))
	}

	during := evalT0.Add(3 * time.Hour)
	got := eval.Evaluate(cycleFor(state, cfg, snapAt("80", "500", nil, during), during))
	if len(got) != 0 {
		t.Fatalf("冷却期内不应再次触发: %+v", got)
	}

	after := evalT0.Add(6 * time.Hour)
	second := eval.Evaluate(cycleFor(state, cfg, snapAt("80", "500", nil, after), after))
	if len(second) != 1 {
		t.Fatalf("冷却期满应重新武装并触发, 实际 %d 条", len(second))
	}
	if !second[0].Magnitude.Equal(dec("20")) {
		t.Fatalf("第二次回撤幅度应为 20%%, 实际 %s", second[0].Magnitude)
	}
	if second[0].Fingerprint == first[0].Fingerprint {
		t.Fatal("冷却期后的触发必须携带新的指纹")
	}
}

func TestStallRequiresAllThreeConditions(t *testing.T) {
	cases := []struct {
		name   string
		vol    string
		high12 string
		low12  string
		want   bool
	}{
		{"量缩且价格横盘", "900", "102", "98", true},
		{"量能未收缩", "1100", "102", "98", false},
		{"高点超出区间", "900", "104", "98", false},
		{"低点跌出区间", "900", "102", "96", false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			eval := New(zerolog.Nop())
			cfg := watchConfig()
			cfg.RetraceOn, cfg.BreakoutOn, cfg.MilestonesOn = false, false, false

			state := seededState(evalT0)
			state.High12 = decp(tc.high12)
			state.Low12 = decp(tc.low12)

			got := eval.Evaluate(cycleFor(state, cfg, snapAt("100", tc.vol, nil, evalT0), evalT0))
			if tc.want && len(got) != 1 {
				t.Fatalf("三条件齐备应触发, 实际 %d 条", len(got))
			}
			if !tc.want && len(got) != 0 {
				t.Fatalf("条件不齐不应触发: %+v", got)
			}
			if tc.want && !got[0].Magnitude.Equal(dec("82")) {
				t.Fatalf("量缩幅度应为 82%%, 实际 %s", got[0].Magnitude)
			}
		})
	}
}

func TestBreakoutNeedsPriceAndVolume(t *testing.T) {
	eval := New(zerolog.Nop())
	cfg := watchConfig()
	cfg.RetraceOn, cfg.StallOn, cfg.MilestonesOn = false, false, false

	got := eval.Evaluate(cycleFor(seededState(evalT0), cfg, snapAt("113", "1600", nil, evalT0), evalT0))
	if len(got) != 1 {
		t.Fatalf("价量齐升应触发突破, 实际 %d 条", len(got))
	}
	if got[0].Kind != market.KindBreakout {
		t.Fatalf("kind 应为 breakout, 实际 %s", got[0].Kind)
	}
	if !got[0].Magnitude.Equal(dec("13")) {
		t.Fatalf("突破幅度应为 13%%, 实际 %s", got[0].Magnitude)
	}

	got = eval.Evaluate(cycleFor(seededState(evalT0), cfg, snapAt("113", "1400", nil, evalT0), evalT0))
	if len(got) != 0 {
		t.Fatalf("量能不足不应触发: %+v", got)
	}

	got = eval.Evaluate(cycleFor(seededState(evalT0), cfg, snapAt("112", "1600", nil, evalT0), evalT0))
	if len(got) != 1 {
		t.Fatal("恰好到达边界 (>=) 应触发")
	}
}

func TestMilestoneFiresOnUpwardCrossingOnly(t *testing.T) {
	eval := New(zerolog.Nop())
	cfg := watchConfig()
	cfg.RetraceOn, cfg.StallOn, cfg.BreakoutOn = false, false, false

	state := seededState(evalT0)
	got := eval.Evaluate(cycleFor(state, cfg, snapAt("100", "500", decp("1200000"), evalT0), evalT0))
	if len(got) != 1 {
		t.Fatalf("上穿 1M 应触发里程碑, 实际 %d 条", len(got))
	}
	if !got[0].Threshold.Equal(dec("1000000")) {
		t.Fatalf("应报告被跨越的档位, 实际 %s", got[0].Threshold)
	}

	// 同一档位之上徘徊不再触发。
	next := evalT0.Add(2 * time.Hour)
	got = eval.Evaluate(cycleFor(state, cfg, snapAt("100", "500", decp("1300000"), next), next))
	if len(got) != 0 {
		t.Fatalf("档位之上徘徊不应重复触发: %+v", got)
	}

	// 继续上穿第二档。
	third := next.Add(2 * time.Hour)
	got = eval.Evaluate(cycleFor(state, cfg, snapAt("100", "500", decp("6000000"), third), third))
	if len(got) != 1 {
		t.Fatalf("上穿 5M 应触发, 实际 %d 条", len(got))
	}
	if !got[0].Threshold.Equal(dec("5000000")) {
		t.Fatalf("应报告 5M 档位, 实际 %s", got[0].Threshold)
	}
}

func TestMilestoneReportsLowestCrossedLevel(t *testing.T) {
	eval := New(zerolog.Nop())
	cfg := watchConfig()
	cfg.RetraceOn, cfg.StallOn, cfg.BreakoutOn = false, false, false

	state := seededState(evalT0)
	state.LastMarketCap = decp("500000")

	got := eval.Evaluate(cycleFor(state, cfg, snapAt("100", "500", decp("6000000"), evalT0), evalT0))
	if len(got) != 1 {
		t.Fatalf("一次跨越多档时只报最低档, 实际 %d 条", len(got))
	}
	if !got[0].Threshold.Equal(dec("1000000")) {
		t.Fatalf("应报告最低被跨越档位 1M, 实际 %s", got[0].Threshold)
	}
}

func TestMilestoneNeedsPreviousMarketCap(t *testing.T) {
	eval := New(zerolog.Nop())
	cfg := watchConfig()
	cfg.RetraceOn, cfg.StallOn, cfg.BreakoutOn = false, false, false

	state := seededState(evalT0)
	state.LastMarketCap = nil

	got := eval.Evaluate(cycleFor(state, cfg, snapAt("100", "500", decp("1200000"), evalT0), evalT0))
	if len(got) != 0 {
		t.Fatalf("缺少上一轮市值时无法判定上穿, 不应触发: %+v", got)
	}
}

func TestColdWindowsBlockLongTriggers(t *testing.T) {
	eval := New(zerolog.Nop())
	cfg := watchConfig()

	c := cycleFor(seededState(evalT0), cfg, snapAt("50", "1", decp("1200000"), evalT0), evalT0)
	c.Warm = Warmth{}

	got := eval.Evaluate(c)
	if len(got) != 1 {
		t.Fatalf("窗口未预热时仅里程碑可触发, 实际 %d 条", len(got))
	}
	if got[0].Kind != market.KindMilestone {
		t.Fatalf("期望里程碑告警, 实际 %s", got[0].Kind)
	}
}

func TestSeveralKindsMayFireInOneCycle(t *testing.T) {
	eval := New(zerolog.Nop())
	cfg := watchConfig()
	cfg.MilestonesOn = false

	state := seededState(evalT0)
	state.High12 = decp("85")
	state.Low12 = decp("83")

	got := eval.Evaluate(cycleFor(state, cfg, snapAt("84", "500", nil, evalT0), evalT0))
	if len(got) != 2 {
		t.Fatalf("回撤与横盘应同时触发, 实际 %d 条", len(got))
	}
	kinds := map[market.TriggerKind]bool{got[0].Kind: true, got[1].Kind: true}
	if !kinds[market.KindRetrace] || !kinds[market.KindStall] {
		t.Fatalf("期望 retrace+stall, 实际 %v", kinds)
	}
}

func TestDisabledKindsNeverFire(t *testing.T) {
	eval := New(zerolog.Nop())
	cfg := watchConfig()
	cfg.RetraceOn, cfg.StallOn, cfg.BreakoutOn, cfg.MilestonesOn = false, false, false, false

	got := eval.Evaluate(cycleFor(seededState(evalT0), cfg, snapAt("10", "1", decp("9000000"), evalT0), evalT0))
	if len(got) != 0 {
		t.Fatalf("全部关闭时不应有告警: %+v", got)
	}
}

func TestEvaluateFoldsAuthoritativeStats(t *testing.T) {
	eval := New(zerolog.Nop())
	cfg := watchConfig()
	state := seededState(evalT0)

	now := evalT0.Add(time.Hour)
	c := cycleFor(state, cfg, snapAt("105", "700", decp("900000"), now), now)
	c.StatsFromLog = true
	c.Stats = market.WindowStats{
		High12:   decp("105"),
		High24:   decp("106"),
		High72:   decp("110"),
		Low12:    decp("99"),
		Low24:    decp("95"),
		Low72:    decp("90"),
		VolSum12: decp("1700"),
		VolSum24: decp("5700"),
	}

	eval.Evaluate(c)

	if !state.High72.Equal(dec("110")) || !state.VolSum12.Equal(dec("1700")) {
		t.Fatalf("样本日志统计应整体覆盖缓存: %+v", state)
	}
	if !state.LastPrice.Equal(dec("105")) {
		t.Fatalf("LastPrice 应更新为 105, 实际 %s", state.LastPrice)
	}
	if state.LastMarketCap == nil || !state.LastMarketCap.Equal(dec("900000")) {
		t.Fatalf("LastMarketCap 应更新, 实际 %v", state.LastMarketCap)
	}
	if !state.Reset72At.Equal(now) || !state.LastUpdatedAt.Equal(now) {
		t.Fatalf("重建时间应前移到本轮: %+v", state)
	}
}

func TestRollingFallbackHardResetsStaleWindows(t *testing.T) {
	eval := New(zerolog.Nop())
	cfg := watchConfig()
	cfg.RetraceOn, cfg.StallOn, cfg.BreakoutOn, cfg.MilestonesOn = false, false, false, false

	now := evalT0.Add(20 * time.Hour)
	state := seededState(evalT0)
	state.Reset24At = now.Add(-time.Hour)
	state.Reset72At = now.Add(-time.Hour)

	// Reset12At 距今 20h, 超过 12h 窗口, 必须硬重置。
	eval.Evaluate(cycleFor(state, cfg, snapAt("105", "700", nil, now), now))

	if !state.High12.Equal(dec("105")) || !state.Low12.Equal(dec("105")) {
		t.Fatalf("过期的 12h 窗口应重置为当前价: high=%s low=%s", state.High12, state.Low12)
	}
	if !state.Reset12At.Equal(now) {
		t.Fatalf("重置时间应更新, 实际 %s", state.Reset12At)
	}
	if !state.High24.Equal(dec("105")) {
		t.Fatalf("24h 窗口应滚动更新最高价, 实际 %s", state.High24)
	}
	if !state.Low24.Equal(dec("95")) {
		t.Fatalf("24h 窗口最低价应保持, 实际 %s", state.Low24)
	}
}
