package algo

import (
	"context"
	"log/slog"
	"time"

	"futures_oms/internal/broker"
	"futures_oms/internal/domain"
)

// BestAlgo works an order for price: it rests passively at the offside
// touch and turns aggressive only when the market tells it to (adverse
// price movement, book imbalance, passive timeout, or the close
// approaching). An order that looks doomed at submission goes straight to
// market.
type BestAlgo struct {
	base
}

// adverseSizeIssue is the submission-time check: the book is heavily
// stacked against us and the side we need is too thin to absorb the order.
func (a *BestAlgo) adverseSizeIssue(analysis broker.TickAnalysis, qty int) bool {
	e := a.deps.Cfg.Execution
	if analysis.ImbalanceRatio <= float64(e.ImbalanceThreshold) {
		return false
	}
	return analysis.SideQty < e.ImbalanceSizeRatio*qty
}

func (a *BestAlgo) Submit(ctx context.Context, order *domain.ContractOrder) (*broker.OrderControl, error) {
	bo, analysis, err := a.prepare(order, domain.OrderTypeBest)
	if err != nil {
		return nil, err
	}

	if a.adverseSizeIssue(analysis, bo.Trade.TotalAbs()) || a.marketClosingSoon(order.Instrument) {
		a.log().Info("skipping passive phase, going straight to market",
			"key", bo.Key, "imbalance", analysis.ImbalanceRatio)
		bo.Type = domain.OrderTypeMarket
		return a.submit(ctx, bo)
	}

	bo.Type = domain.OrderTypeLimit
	price := limitPriceFor(order.LimitPrice, analysis, bo.Trade.Sign(), true)
	bo.LimitPrice = &price
	return a.submit(ctx, bo)
}

// Manage runs the passive/aggressive state machine until the order is
// filled, cancelled, or times out.
func (a *BestAlgo) Manage(ctx context.Context, ctrl *broker.OrderControl) error {
	defer a.endSession(ctrl)
	log := a.log().With("temp_id", ctrl.Order.BrokerTempID)

	// A session that submitted at market has nothing to repeg.
	aggressive := ctrl.Order.Type == domain.OrderTypeMarket

	passiveDeadline := ctrl.SubmittedAt.Add(a.deps.Cfg.PassiveTimeout())
	totalDeadline := ctrl.SubmittedAt.Add(a.deps.Cfg.TotalTimeout())

	for {
		done, err := a.refreshLive(ctx, ctrl)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if ctrl.Cancelled() {
			log.Warn("order cancelled outside session")
			return nil
		}
		if time.Now().After(totalDeadline) {
			log.Warn("total timeout reached, cancelling remainder",
				"filled", ctrl.Order.Fill.TotalAbs(), "wanted", ctrl.Order.Trade.TotalAbs())
			a.cancelAndWait(ctx, ctrl)
			return nil
		}

		if !aggressive && a.shouldTurnAggressive(ctrl, passiveDeadline, log) {
			aggressive = true
		}
		if aggressive && ctrl.Order.Type == domain.OrderTypeLimit {
			a.repegToSide(ctx, ctrl, log)
		}

		if ctrl.MessageRequired(a.deps.Cfg.Heartbeat()) {
			log.Info("still working order", "aggressive", aggressive,
				"filled", ctrl.Order.Fill.TotalAbs(), "wanted", ctrl.Order.Trade.TotalAbs(),
				"age", ctrl.Age().Round(time.Second).String())
		}

		select {
		case <-ctx.Done():
			log.Warn("context expired, cancelling remainder")
			a.cancelAndWait(context.WithoutCancel(ctx), ctrl)
			return ctx.Err()
		case <-time.After(pollInterval):
		}
	}
}

func (a *BestAlgo) shouldTurnAggressive(ctrl *broker.OrderControl, passiveDeadline time.Time, log *slog.Logger) bool {
	e := a.deps.Cfg.Execution
	switch {
	case time.Now().After(passiveDeadline):
		log.Info("passive timeout, turning aggressive")
	case ctrl.Ticker != nil && ctrl.Ticker.AdversePriceMovement():
		log.Info("adverse price movement, turning aggressive")
	case ctrl.Ticker != nil && ctrl.Ticker.LatestImbalanceRatio() > float64(e.ImbalanceThreshold):
		log.Info("book imbalance, turning aggressive",
			"imbalance", ctrl.Ticker.LatestImbalanceRatio())
	case a.marketClosingSoon(ctrl.Order.Instrument):
		log.Info("market closing soon, turning aggressive")
	default:
		return false
	}
	return true
}

// repegToSide moves the resting limit to the current side touch, but only
// when the price actually differs: brokers rate-limit modifications.
func (a *BestAlgo) repegToSide(ctx context.Context, ctrl *broker.OrderControl, log *slog.Logger) {
	if ctrl.Ticker == nil {
		return
	}
	analysis, ok := ctrl.Ticker.CurrentAnalysis()
	if !ok {
		return
	}
	newPrice := roundToTick(analysis.SidePrice, ctrl.Order.Trade.Sign())
	if ctrl.Order.LimitPrice != nil && ctrl.Order.LimitPrice.Equal(newPrice) {
		return
	}
	if err := a.deps.Broker.ModifyLimitPrice(ctx, ctrl, newPrice); err != nil {
		log.Warn("repeg failed", "error", err)
		return
	}
	log.Info("repegged to side price", "price", newPrice.String())
}
