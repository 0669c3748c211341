package app

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"stock-dropdown-alerts/internal/dropdown"
	"stock-dropdown-alerts/internal/storage"
)

// SimulateAlert 用给定的峰值/收尾价格合成一次 dropdown 告警，不触碰数据库。
func (a *App) SimulateAlert(ctx context.Context, symbol string, maxPrice, finalPrice decimal.Decimal) error {
	if !a.Config.Alerting.Enabled {
		return errors.New("alerting 未启用")
	}

	notifier := a.newNotifier()
	if notifier == nil {
		return errors.New("未配置任何告警通道")
	}

	now := time.Now().UTC()
	observations := []storage.PriceObservation{
		{Symbol: symbol, Price: maxPrice, ObservedAt: now.Add(-a.Config.Dropdown.Window)},
		{Symbol: symbol, Price: finalPrice, ObservedAt: now},
	}

	event, err := dropdown.Reduce(observations, now)
	if err != nil {
		return err
	}

	a.Logger.Info().
		Str("ticker", symbol).
		Str("dropdown_pct", event.DropdownPct.StringFixed(2)).
		Msg("simulated dropdown event")

	return notifier.Notify(ctx, event)
}
