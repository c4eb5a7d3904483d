package stack

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"futures_oms/internal/domain"
)

// DecodeFunc turns a stored payload back into the stack's concrete order
// type.
type DecodeFunc func([]byte) (domain.Order, error)

// CompletionOpts relaxes the completion predicate. The zero value demands an
// exact fill on an active order.
type CompletionOpts struct {
	// AllowPartial treats any non-zero fill as complete.
	AllowPartial bool
	// AllowZero treats every order as complete regardless of fill.
	AllowZero bool
	// TreatInactiveAsComplete counts already-deactivated orders as done
	// instead of never-completable.
	TreatInactiveAsComplete bool
}

// Completed evaluates the completion predicate for one order.
func Completed(o domain.Order, opts CompletionOpts) bool {
	r := o.Root()
	if !r.Active {
		return opts.TreatInactiveAsComplete
	}
	switch {
	case opts.AllowZero:
		return true
	case opts.AllowPartial:
		return !r.FillIsZero()
	default:
		return r.FillEqualsTrade()
	}
}

// Core implements the order-stack operations shared by all three tiers.
// Compound operations serialize on an internal mutex; the store only needs
// atomic single-row semantics.
type Core struct {
	name   string
	store  Store
	decode DecodeFunc
	log    *slog.Logger
	mu     sync.Mutex
}

func NewCore(name string, store Store, decode DecodeFunc, log *slog.Logger) *Core {
	return &Core{
		name:   name,
		store:  store,
		decode: decode,
		log:    log.With("stack", name),
	}
}

func (c *Core) Name() string { return c.name }

func rowFor(o domain.Order) (Row, error) {
	payload, err := json.Marshal(o)
	if err != nil {
		return Row{}, fmt.Errorf("encode order: %w", err)
	}
	r := o.Root()
	return Row{
		ID:      r.OrderID,
		Key:     r.Key,
		Parent:  r.ParentID,
		Active:  r.Active,
		Locked:  r.Locked,
		Payload: payload,
	}, nil
}

// Put assigns the next order id and inserts. The order must not already
// carry an id.
func (c *Core) Put(o domain.Order) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.putLocked(o)
}

func (c *Core) putLocked(o domain.Order) (int, error) {
	if o.Root().OrderID != domain.NoOrderID {
		return domain.NoOrderID, fmt.Errorf("put on %s stack: %w", c.name, domain.ErrOrderIDSet)
	}
	id, err := c.store.NextID(c.name)
	if err != nil {
		return domain.NoOrderID, fmt.Errorf("next id on %s stack: %w", c.name, err)
	}
	if err := o.Root().AssignID(id); err != nil {
		return domain.NoOrderID, err
	}
	row, err := rowFor(o)
	if err != nil {
		return domain.NoOrderID, err
	}
	if err := c.store.Insert(c.name, row); err != nil {
		return domain.NoOrderID, fmt.Errorf("insert order %d on %s stack: %w", id, c.name, err)
	}
	return id, nil
}

// PutMany inserts a batch all-or-nothing. Each order is locked before
// insertion; on any failure every already-inserted order is deleted again
// and the batch's in-memory orders come back unlocked with their ids
// cleared, so the caller holds the same orders it passed in. A failed
// unwind escalates to ErrRollbackFailure. On success all orders are
// unlocked.
func (c *Core) PutMany(orders []domain.Order) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inserted := make([]int, 0, len(orders))
	for _, o := range orders {
		o.Root().Lock()
		id, err := c.putLocked(o)
		if err != nil {
			if rbErr := c.rollbackInserted(orders, inserted); rbErr != nil {
				return nil, fmt.Errorf("%w: after %v: %v", domain.ErrRollbackFailure, err, rbErr)
			}
			return nil, fmt.Errorf("put_many on %s stack: %w", c.name, err)
		}
		inserted = append(inserted, id)
	}

	for _, id := range inserted {
		if err := c.unlockLocked(id); err != nil {
			if rbErr := c.rollbackInserted(orders, inserted); rbErr != nil {
				return nil, fmt.Errorf("%w: after unlock %d: %v", domain.ErrRollbackFailure, id, rbErr)
			}
			return nil, fmt.Errorf("put_many unlock %d on %s stack: %w", id, c.name, err)
		}
	}
	return inserted, nil
}

func (c *Core) rollbackInserted(orders []domain.Order, ids []int) error {
	for _, id := range ids {
		if err := c.store.Delete(c.name, id); err != nil {
			return fmt.Errorf("delete order %d: %w", id, err)
		}
	}
	for _, o := range orders {
		r := o.Root()
		r.OrderID = domain.NoOrderID
		r.Unlock()
	}
	return nil
}

// Get fetches and decodes one order. A missing id is reported through the
// boolean, not an error.
func (c *Core) Get(id int) (domain.Order, bool, error) {
	row, ok, err := c.store.Get(c.name, id)
	if err != nil {
		return nil, false, fmt.Errorf("get order %d on %s stack: %w", id, c.name, err)
	}
	if !ok {
		return nil, false, nil
	}
	o, err := c.decode(row.Payload)
	if err != nil {
		return nil, false, fmt.Errorf("decode order %d on %s stack: %w", id, c.name, err)
	}
	return o, true, nil
}

// mustGet is for call sites where the id should exist, so absence is a
// genuine fault.
func (c *Core) mustGet(id int) (domain.Order, error) {
	o, ok, err := c.Get(id)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("order %d on %s stack: %w", id, c.name, domain.ErrMissingOrder)
	}
	return o, nil
}

// Change replaces the stored order. Rejects locked and inactive orders.
func (c *Core) Change(id int, o domain.Order) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.changeLocked(id, o, true)
}

// changeLocked rewrites the row for id from o. checkActive is dropped for
// terminal transitions, which must be able to touch the last active state.
// The lock flag always rejects.
func (c *Core) changeLocked(id int, o domain.Order, checkActive bool) error {
	existing, err := c.mustGet(id)
	if err != nil {
		return err
	}
	r := existing.Root()
	if r.Locked {
		return fmt.Errorf("change order %d on %s stack: %w", id, c.name, domain.ErrLockedOrder)
	}
	if checkActive && !r.Active {
		return fmt.Errorf("change order %d on %s stack: %w", id, c.name, domain.ErrInactiveOrder)
	}
	row, err := rowFor(o)
	if err != nil {
		return err
	}
	row.ID = id
	if err := c.store.Update(c.name, row); err != nil {
		return fmt.Errorf("update order %d on %s stack: %w", id, c.name, err)
	}
	return nil
}

// mutate applies fn to the stored order under the usual change checks and
// writes it back.
func (c *Core) mutate(id int, checkActive bool, fn func(domain.Order) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mutateLocked(id, checkActive, true, fn)
}

// mutateHeld is mutate for the lock holder. Child linking happens while the
// placing transaction holds the parent lock, so the lock flag must not
// reject here.
func (c *Core) mutateHeld(id int, checkActive bool, fn func(domain.Order) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mutateLocked(id, checkActive, false, fn)
}

func (c *Core) mutateLocked(id int, checkActive, checkLock bool, fn func(domain.Order) error) error {
	o, err := c.mustGet(id)
	if err != nil {
		return err
	}
	r := o.Root()
	if checkLock && r.Locked {
		return fmt.Errorf("mutate order %d on %s stack: %w", id, c.name, domain.ErrLockedOrder)
	}
	if checkActive && !r.Active {
		return fmt.Errorf("mutate order %d on %s stack: %w", id, c.name, domain.ErrInactiveOrder)
	}
	if err := fn(o); err != nil {
		return err
	}
	row, err := rowFor(o)
	if err != nil {
		return err
	}
	if err := c.store.Update(c.name, row); err != nil {
		return fmt.Errorf("update order %d on %s stack: %w", id, c.name, err)
	}
	return nil
}

// Lock persists the lock flag. Idempotent.
func (c *Core) Lock(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, err := c.mustGet(id)
	if err != nil {
		return err
	}
	o.Root().Lock()
	row, err := rowFor(o)
	if err != nil {
		return err
	}
	return c.store.Update(c.name, row)
}

// Unlock clears the lock flag. Idempotent.
func (c *Core) Unlock(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.unlockLocked(id)
}

func (c *Core) unlockLocked(id int) error {
	o, err := c.mustGet(id)
	if err != nil {
		return err
	}
	o.Root().Unlock()
	row, err := rowFor(o)
	if err != nil {
		return err
	}
	return c.store.Update(c.name, row)
}

// ApplyFill replaces the order's cumulative fill state. Over-fills are
// rejected and leave the stored order unchanged.
func (c *Core) ApplyFill(id int, fill domain.TradeQuantity, price *decimal.Decimal, at time.Time) error {
	return c.mutate(id, true, func(o domain.Order) error {
		return o.Root().ApplyFill(fill, price, at)
	})
}

// Deactivate marks the order terminally done. A no-op on already-inactive
// orders.
func (c *Core) Deactivate(id int) error {
	return c.mutate(id, false, func(o domain.Order) error {
		o.Root().Deactivate()
		return nil
	})
}

// ZeroOut cancels a desired-but-unexecuted order: fill reset to zero and
// deactivated. Warns and does nothing on already-inactive orders.
func (c *Core) ZeroOut(id int) error {
	return c.mutate(id, false, func(o domain.Order) error {
		r := o.Root()
		if !r.Active {
			c.log.Warn("zero out on inactive order skipped", "order_id", id)
			return nil
		}
		r.ZeroOut()
		return nil
	})
}

// Remove physically deletes an order. Only inactive, unlocked orders may be
// removed.
func (c *Core) Remove(id int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	o, err := c.mustGet(id)
	if err != nil {
		return err
	}
	r := o.Root()
	if r.Locked {
		return fmt.Errorf("remove order %d on %s stack: %w", id, c.name, domain.ErrLockedOrder)
	}
	if r.Active {
		return fmt.Errorf("remove order %d on %s stack: still active: %w", id, c.name, domain.ErrCannotModify)
	}
	if err := c.store.Delete(c.name, id); err != nil {
		return fmt.Errorf("delete order %d on %s stack: %w", id, c.name, err)
	}
	return nil
}

// AddChildren attaches child ids to an order with none. Allowed while the
// caller holds the order lock: linking is the lock holder's own step.
func (c *Core) AddChildren(id int, children []int) error {
	return c.mutateHeld(id, true, func(o domain.Order) error {
		return o.Root().AddChildren(children)
	})
}

// AddChild appends one child id. Like AddChildren, valid under the caller's
// own lock.
func (c *Core) AddChild(id, child int) error {
	return c.mutateHeld(id, true, func(o domain.Order) error {
		o.Root().AddChild(child)
		return nil
	})
}

// RemoveChildren detaches all child ids, active or not.
func (c *Core) RemoveChildren(id int) error {
	return c.mutate(id, false, func(o domain.Order) error {
		o.Root().RemoveChildren()
		return nil
	})
}

// IDs lists every order id on the stack.
func (c *Core) IDs() ([]int, error) {
	rows, err := c.store.List(c.name)
	if err != nil {
		return nil, fmt.Errorf("list %s stack: %w", c.name, err)
	}
	ids := make([]int, 0, len(rows))
	for _, row := range rows {
		ids = append(ids, row.ID)
	}
	return ids, nil
}

// ActiveIDs lists ids of active orders only.
func (c *Core) ActiveIDs() ([]int, error) {
	rows, err := c.store.List(c.name)
	if err != nil {
		return nil, fmt.Errorf("list %s stack: %w", c.name, err)
	}
	ids := make([]int, 0, len(rows))
	for _, row := range rows {
		if row.Active {
			ids = append(ids, row.ID)
		}
	}
	return ids, nil
}

// ActiveOrdersWithKey decodes the active orders trading the given key.
func (c *Core) ActiveOrdersWithKey(key string) ([]domain.Order, error) {
	rows, err := c.store.List(c.name)
	if err != nil {
		return nil, fmt.Errorf("list %s stack: %w", c.name, err)
	}
	var out []domain.Order
	for _, row := range rows {
		if !row.Active || row.Key != key {
			continue
		}
		o, err := c.decode(row.Payload)
		if err != nil {
			return nil, fmt.Errorf("decode order %d on %s stack: %w", row.ID, c.name, err)
		}
		out = append(out, o)
	}
	return out, nil
}

// IsCompleted checks the completion predicate of one stored order.
func (c *Core) IsCompleted(id int, opts CompletionOpts) (bool, error) {
	o, err := c.mustGet(id)
	if err != nil {
		return false, err
	}
	return Completed(o, opts), nil
}
