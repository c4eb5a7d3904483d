package stack

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"futures_oms/internal/domain"
)

// InstrumentStack holds the top tier. New desired trades are netted against
// whatever is already working for the same strategy/instrument, so at most
// one order per key needs to be in flight.
type InstrumentStack struct {
	*Core
}

func decodeInstrumentOrder(payload []byte) (domain.Order, error) {
	var o domain.InstrumentOrder
	if err := json.Unmarshal(payload, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func NewInstrumentStack(store Store, log *slog.Logger) *InstrumentStack {
	return &InstrumentStack{Core: NewCore(StackInstrument, store, decodeInstrumentOrder, log)}
}

// Order fetches one instrument order by id.
func (s *InstrumentStack) Order(id int) (*domain.InstrumentOrder, bool, error) {
	o, ok, err := s.Get(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return o.(*domain.InstrumentOrder), true, nil
}

// PutAdjusted nets the desired trade against existing unfilled orders on the
// same key before placing: placed = desired - sum(existing.trade -
// existing.fill). Fully-filled priors net to nothing and so do not reduce
// the new order. A zero net trade fails with ErrZeroOrder unless allowZero
// is set (zero-size roll anchors need it).
func (s *InstrumentStack) PutAdjusted(o *domain.InstrumentOrder, allowZero bool) (int, error) {
	existing, err := s.ActiveOrdersWithKey(o.Key)
	if err != nil {
		return domain.NoOrderID, err
	}
	net := o.Trade.Zero()
	for _, e := range existing {
		r := e.Root()
		net = net.Add(r.Trade.Sub(r.Fill))
	}
	adjusted := o.Trade.Sub(net)
	if adjusted.IsZero() && !allowZero {
		return domain.NoOrderID, fmt.Errorf("adjusted order for %s nets to zero: %w", o.Key, domain.ErrZeroOrder)
	}
	if !adjusted.Equal(o.Trade) {
		s.log.Info("netted desired trade against working orders",
			"key", o.Key, "desired", fmt.Sprint(o.Trade), "placed", fmt.Sprint(adjusted))
	}
	o.Trade = adjusted
	o.Fill = adjusted.Zero()
	return s.Put(o)
}

// PutManual places an order without netting. Balance trades and other
// operator-entered orders bypass the adjustment.
func (s *InstrumentStack) PutManual(o *domain.InstrumentOrder) (int, error) {
	return s.Put(o)
}

// HasOrderForKey checks whether any active order is working the key.
func (s *InstrumentStack) HasOrderForKey(key string) (bool, error) {
	existing, err := s.ActiveOrdersWithKey(key)
	if err != nil {
		return false, err
	}
	return len(existing) > 0, nil
}

// ActiveOrders decodes every active instrument order.
func (s *InstrumentStack) ActiveOrders() ([]*domain.InstrumentOrder, error) {
	ids, err := s.ActiveIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.InstrumentOrder, 0, len(ids))
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
