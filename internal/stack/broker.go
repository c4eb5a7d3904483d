package stack

import (
	"encoding/json"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"futures_oms/internal/domain"
)

// BrokerStack holds the bottom tier and reconciles it against live broker
// state.
type BrokerStack struct {
	*Core
}

func decodeBrokerOrder(payload []byte) (domain.Order, error) {
	var o domain.BrokerOrder
	if err := json.Unmarshal(payload, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func NewBrokerStack(store Store, log *slog.Logger) *BrokerStack {
	return &BrokerStack{Core: NewCore(StackBroker, store, decodeBrokerOrder, log)}
}

// Order fetches one broker order by id.
func (s *BrokerStack) Order(id int) (*domain.BrokerOrder, bool, error) {
	o, ok, err := s.Get(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return o.(*domain.BrokerOrder), true, nil
}

// ActiveOrders decodes every active broker order.
func (s *BrokerStack) ActiveOrders() ([]*domain.BrokerOrder, error) {
	ids, err := s.ActiveIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.BrokerOrder, 0, len(ids))
	for _, id := range ids {
		o, ok, err := s.Order(id)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, o)
		}
	}
	return out, nil
}

// FindByBrokerTempID matches a broker-reported order to a stored one by the
// temporary id assigned at submission.
func (s *BrokerStack) FindByBrokerTempID(tempID string) (*domain.BrokerOrder, bool, error) {
	orders, err := s.ActiveOrders()
	if err != nil {
		return nil, false, err
	}
	for _, o := range orders {
		if o.BrokerTempID == tempID {
			return o, true, nil
		}
	}
	return nil, false, nil
}

// ApplyExecutionDetails copies the broker-reported execution state of a
// matched order into the stored one: fill, price, per-leg prices,
// commission, permanent id and algo comment. Over-fills are rejected the
// same way as plain fill application.
func (s *BrokerStack) ApplyExecutionDetails(id int, reported *domain.BrokerOrder) error {
	return s.mutate(id, true, func(o domain.Order) error {
		bo := o.(*domain.BrokerOrder)
		if err := bo.ApplyFill(reported.Fill, reported.FilledPrice, reported.FillTime); err != nil {
			return err
		}
		if reported.BrokerPermID != "" {
			bo.BrokerPermID = reported.BrokerPermID
		}
		if reported.Commission != nil {
			c := *reported.Commission
			bo.Commission = &c
		}
		if reported.AlgoComment != "" {
			bo.AlgoComment = reported.AlgoComment
		}
		if len(reported.LegFilledPrices) > 0 {
			bo.LegFilledPrices = append([]decimal.Decimal{}, reported.LegFilledPrices...)
		}
		return nil
	})
}

// ManualFill records an operator-entered fill.
func (s *BrokerStack) ManualFill(id int, fill domain.TradeQuantity, price *decimal.Decimal, at time.Time) error {
	return s.mutate(id, true, func(o domain.Order) error {
		bo := o.(*domain.BrokerOrder)
		if err := bo.ApplyFill(fill, price, at); err != nil {
			return err
		}
		bo.ManualFill = true
		return nil
	})
}
