package stack

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"futures_oms/internal/domain"
)

// ContractStack holds the middle tier. Beyond the generic operations it
// tracks which algo session controls each order, so two algos never manage
// the same contract order at once.
type ContractStack struct {
	*Core
}

func decodeContractOrder(payload []byte) (domain.Order, error) {
	var o domain.ContractOrder
	if err := json.Unmarshal(payload, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

func NewContractStack(store Store, log *slog.Logger) *ContractStack {
	return &ContractStack{Core: NewCore(StackContract, store, decodeContractOrder, log)}
}

// Order fetches one contract order by id.
func (s *ContractStack) Order(id int) (*domain.ContractOrder, bool, error) {
	o, ok, err := s.Get(id)
	if err != nil || !ok {
		return nil, ok, err
	}
	return o.(*domain.ContractOrder), true, nil
}

// AddControllingAlgo claims the order for an algo session. Fails if another
// session already controls it.
func (s *ContractStack) AddControllingAlgo(id int, algoKey string) error {
	return s.mutate(id, true, func(o domain.Order) error {
		co := o.(*domain.ContractOrder)
		if co.IsControlled() && co.ControllingAlgo != algoKey {
			return fmt.Errorf("order %d already controlled by %s: %w", id, co.ControllingAlgo, domain.ErrCannotModify)
		}
		co.ControllingAlgo = algoKey
		return nil
	})
}

// ReleaseControllingAlgo releases the order back to the pool. Allowed on
// inactive orders so completed sessions can always clean up.
func (s *ContractStack) ReleaseControllingAlgo(id int) error {
	return s.mutate(id, false, func(o domain.Order) error {
		o.(*domain.ContractOrder).ControllingAlgo = ""
		return nil
	})
}

// ActiveOrders decodes every active contract order.
func (s *ContractStack) ActiveOrders() ([]*domain.ContractOrder, error) {
	ids, err := s.ActiveIDs()
	if err != nil {
		return nil, err
	}
	out := make([]*domain.ContractOrder, 0, len(ids))
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

// OrderIDsForInstrument lists active order ids trading the instrument, in
// any strategy or contract date.
func (s *ContractStack) OrderIDsForInstrument(instrument string) ([]int, error) {
	orders, err := s.ActiveOrders()
	if err != nil {
		return nil, err
	}
	var ids []int
	for _, o := range orders {
		if o.Instrument == instrument {
			ids = append(ids, o.OrderID)
		}
	}
	return ids, nil
}
