package broker

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"futures_oms/internal/domain"
)

// TickSource provides market data to algos and the stack handler.
type TickSource interface {
	CurrentTick(instrument string, contractDates []string) (Tick, bool)
	SecondsOfTradingLeft(instrument string) (time.Duration, error)
}

// Broker is the order gateway. Submit returns an OrderControl handle that
// all later operations on the live order go through. Submission failure is
// reported as a nil handle with an error; callers must check before
// proceeding.
type Broker interface {
	Name() string
	Account() string

	Submit(ctx context.Context, order *domain.BrokerOrder) (*OrderControl, error)
	Cancel(ctx context.Context, ctrl *OrderControl) error
	IsCancelled(ctx context.Context, ctrl *OrderControl) (bool, error)
	ModifyLimitPrice(ctx context.Context, ctrl *OrderControl, price decimal.Decimal) error

	// MatchLocalToLive finds the broker's current view of a stored order by
	// temp id. Missing is reported through the boolean.
	MatchLocalToLive(ctx context.Context, order *domain.BrokerOrder) (*domain.BrokerOrder, bool, error)
	// LiveOrders lists every order the broker currently knows about.
	LiveOrders(ctx context.Context) ([]*domain.BrokerOrder, error)
}

func domainMarketClosed(instrument string) error {
	return fmt.Errorf("market closed for %s: %w", instrument, domain.ErrMarketClosed)
}
