package algo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"futures_oms/internal/broker"
	"futures_oms/internal/domain"
	"futures_oms/internal/infra"
)

// Algo executes one contract order through a single broker order. Submit
// places the order and returns a live handle; Manage blocks, polling the
// broker until the order reaches a terminal state or the context expires.
type Algo interface {
	Key() string
	Submit(ctx context.Context, order *domain.ContractOrder) (*broker.OrderControl, error)
	Manage(ctx context.Context, ctrl *broker.OrderControl) error
}

// Deps is everything an algo session needs.
type Deps struct {
	Broker broker.Broker
	Ticks  broker.TickSource
	Cfg    *infra.Config
	Log    *slog.Logger
}

// Algo keys, also stored on broker orders as AlgoUsed.
const (
	KeyMarket     = "market"
	KeyLimit      = "limit"
	KeyBest       = "best"
	KeySnapMarket = "snap_market"
	KeySnapMid    = "snap_mid"
	KeySnapPrime  = "snap_prime"
)

// pollInterval is the granularity of all manage loops.
const pollInterval = 200 * time.Millisecond

// defaultTickSize rounds limit prices when no instrument-specific size is
// configured.
var defaultTickSize = decimal.NewFromFloat(0.01)

// New builds the algo registered under key.
func New(key string, deps Deps) (Algo, error) {
	b := base{deps: deps, key: key}
	switch key {
	case KeyMarket:
		return &MarketAlgo{base: b}, nil
	case KeyLimit:
		return &LimitAlgo{base: b}, nil
	case KeyBest:
		return &BestAlgo{base: b}, nil
	case KeySnapMarket, KeySnapMid, KeySnapPrime:
		return &SnapAlgo{base: b}, nil
	default:
		return nil, fmt.Errorf("unknown algo key %q", key)
	}
}

// AllocateKey picks the algo for a contract order: an explicit request
// wins, roll and panic orders go straight to market, everything else gets
// best execution.
func AllocateKey(o *domain.ContractOrder, cfg *infra.Config) string {
	if o.AlgoKey != "" {
		return o.AlgoKey
	}
	if o.PanicOrder || o.RollOrder || o.Type == domain.OrderTypeMarket {
		return cfg.Execution.MarketAlgo
	}
	return cfg.Execution.DefaultAlgo
}

type base struct {
	deps Deps
	key  string
}

func (b *base) Key() string { return b.key }

func (b *base) log() *slog.Logger { return b.deps.Log.With("algo", b.key) }

// prepare builds the broker order for a contract order: remaining quantity
// capped to the configured per-order size, market-open check, benchmark
// tick lookup.
func (b *base) prepare(order *domain.ContractOrder, orderType domain.OrderType) (*domain.BrokerOrder, broker.TickAnalysis, error) {
	if _, err := b.deps.Ticks.SecondsOfTradingLeft(order.Instrument); err != nil {
		return nil, broker.TickAnalysis{}, err
	}

	trade := order.Remaining().ReduceSmallestLegToMax(b.deps.Cfg.Execution.SizeLimit)
	if trade.IsZero() {
		return nil, broker.TickAnalysis{}, fmt.Errorf("nothing to trade for order %d: %w", order.OrderID, domain.ErrZeroOrder)
	}

	tick, ok := b.deps.Ticks.CurrentTick(order.Instrument, order.ContractDates)
	if !ok || !tick.IsUsable() {
		return nil, broker.TickAnalysis{}, fmt.Errorf("no usable tick for %s: %w", order.Key, domain.ErrMissingOrder)
	}
	analysis := broker.AnalyseTick(tick, trade.Sign())

	bo := domain.BrokerOrderFromContract(order, trade, orderType)
	bo.AlgoUsed = b.key
	return bo, analysis, nil
}

// submit places a prepared broker order. A nil handle with an error means
// the order never reached the broker.
func (b *base) submit(ctx context.Context, bo *domain.BrokerOrder) (*broker.OrderControl, error) {
	ctrl, err := b.deps.Broker.Submit(ctx, bo)
	if err != nil {
		return nil, fmt.Errorf("algo %s submit: %w", b.key, err)
	}
	infra.GlobalMetrics.IncrementAlgoSessions()
	return ctrl, nil
}

// roundToTick snaps a price to the tick grid, away from the marketable
// side so rounding never makes an order accidentally aggressive.
func roundToTick(price decimal.Decimal, direction int) decimal.Decimal {
	ticks := price.Div(defaultTickSize)
	if direction >= 0 {
		ticks = ticks.Floor()
	} else {
		ticks = ticks.Ceil()
	}
	return ticks.Mul(defaultTickSize)
}

// limitPriceFor resolves the limit price for a session: caller's price if
// given, otherwise passive at the offside or crossing at the side touch.
func limitPriceFor(input *decimal.Decimal, analysis broker.TickAnalysis, direction int, passive bool) decimal.Decimal {
	if input != nil {
		return roundToTick(*input, direction)
	}
	if passive {
		return roundToTick(analysis.OffsidePrice, direction)
	}
	return roundToTick(analysis.SidePrice, direction)
}

// refreshLive copies the broker's current view of the order into the
// handle. A reported over-fill is logged and dropped, never applied.
// Returns done=true when the order is fully filled or gone from the
// broker.
func (b *base) refreshLive(ctx context.Context, ctrl *broker.OrderControl) (done bool, err error) {
	live, ok, err := b.deps.Broker.MatchLocalToLive(ctx, ctrl.Order)
	if err != nil {
		return false, err
	}
	if !ok {
		b.log().Warn("order vanished from broker", "temp_id", ctrl.Order.BrokerTempID)
		return true, nil
	}
	if !live.Fill.Equal(ctrl.Order.Fill) {
		if err := ctrl.Order.ApplyFill(live.Fill, live.FilledPrice, live.FillTime); err != nil {
			if errors.Is(err, domain.ErrOverFilled) {
				b.log().Error("broker reported over-fill, dropping",
					"temp_id", ctrl.Order.BrokerTempID, "fill", fmt.Sprint(live.Fill))
				infra.GlobalMetrics.RecordError()
				return false, nil
			}
			return false, err
		}
	}
	if len(live.LegFilledPrices) > 0 {
		ctrl.Order.LegFilledPrices = live.LegFilledPrices
	}
	if live.BrokerPermID != "" {
		ctrl.Order.BrokerPermID = live.BrokerPermID
	}
	return ctrl.Order.FillEqualsTrade(), nil
}

// cancelAndWait issues a cancel and polls for confirmation within the
// configured bounded wait. On timeout it warns and returns with the order
// as-is; the next handler pass picks it up again.
func (b *base) cancelAndWait(ctx context.Context, ctrl *broker.OrderControl) {
	log := b.log().With("temp_id", ctrl.Order.BrokerTempID)
	if err := b.deps.Broker.Cancel(ctx, ctrl); err != nil {
		log.Warn("cancel request failed", "error", err)
		return
	}

	deadline := time.Now().Add(b.deps.Cfg.CancelWait())
	for time.Now().Before(deadline) {
		ok, err := b.deps.Broker.IsCancelled(ctx, ctrl)
		if err != nil {
			log.Warn("cancel confirm poll failed", "error", err)
			return
		}
		if ok {
			log.Info("cancel confirmed")
			return
		}
		select {
		case <-ctx.Done():
			log.Warn("context expired waiting for cancel confirm")
			return
		case <-time.After(pollInterval):
		}
	}
	log.Warn("cancel not confirmed within wait, leaving order as-is")
}

// endSession closes out the metrics for one algo session.
func (b *base) endSession(ctrl *broker.OrderControl) {
	infra.GlobalMetrics.DecrementAlgoSessions()
	if ctrl.Order.FillEqualsTrade() {
		infra.GlobalMetrics.RecordOrderFilled(int64(ctrl.Age()))
	}
}

// marketClosingSoon checks if the instrument stops trading within the
// configured cutoff.
func (b *base) marketClosingSoon(instrument string) bool {
	left, err := b.deps.Ticks.SecondsOfTradingLeft(instrument)
	if err != nil {
		return true
	}
	return left <= b.deps.Cfg.MarketCloseCutoff()
}
