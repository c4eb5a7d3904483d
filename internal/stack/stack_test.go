package stack

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"futures_oms/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestInstrumentStack(t *testing.T) *InstrumentStack {
	t.Helper()
	return NewInstrumentStack(NewMemoryStore(), testLogger())
}

func TestPutAssignsSequentialIDs(t *testing.T) {
	s := newTestInstrumentStack(t)

	for want := 1; want <= 3; want++ {
		o := domain.NewInstrumentOrder("macro", fmt.Sprintf("INSTR%d", want), 5, domain.OrderTypeMarket)
		id, err := s.Put(o)
		if err != nil {
			t.Fatalf("Put: %v", err)
		}
		if id != want || o.OrderID != want {
			t.Errorf("id = %d (order %d), want %d", id, o.OrderID, want)
		}
	}
}

func TestPutRejectsPresetID(t *testing.T) {
	s := newTestInstrumentStack(t)
	o := domain.NewInstrumentOrder("macro", "SOFR", 5, domain.OrderTypeMarket)
	if err := o.AssignID(42); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Put(o); !errors.Is(err, domain.ErrOrderIDSet) {
		t.Fatalf("Put err = %v, want ErrOrderIDSet", err)
	}
}

func TestGetMissingOrder(t *testing.T) {
	s := newTestInstrumentStack(t)
	_, ok, err := s.Order(99)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Error("missing order reported present")
	}
}

// failingStore fails inserts once a threshold is reached, to exercise
// put_many rollback.
type failingStore struct {
	*MemoryStore
	inserts    int
	failAfter  int
	failDelete bool
}

func (f *failingStore) Insert(stack string, row Row) error {
	f.inserts++
	if f.inserts > f.failAfter {
		return fmt.Errorf("synthetic insert failure")
	}
	return f.MemoryStore.Insert(stack, row)
}

func (f *failingStore) Delete(stack string, id int) error {
	if f.failDelete {
		return fmt.Errorf("synthetic delete failure")
	}
	return f.MemoryStore.Delete(stack, id)
}

func TestPutManyAllOrNothing(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), failAfter: 2}
	s := NewInstrumentStack(store, testLogger())

	batch := []domain.Order{
		domain.NewInstrumentOrder("macro", "A", 1, domain.OrderTypeMarket),
		domain.NewInstrumentOrder("macro", "B", 2, domain.OrderTypeMarket),
		domain.NewInstrumentOrder("macro", "C", 3, domain.OrderTypeMarket),
	}
	if _, err := s.PutMany(batch); err == nil {
		t.Fatal("PutMany succeeded despite insert failure")
	}

	ids, err := s.IDs()
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("stack contains %v after failed batch", ids)
	}
	for i, o := range batch {
		r := o.Root()
		if r.OrderID != domain.NoOrderID {
			t.Errorf("order %d keeps id %d after rollback", i, r.OrderID)
		}
		if r.Locked {
			t.Errorf("order %d still locked after rollback", i)
		}
	}
}

func TestPutManySuccessUnlocks(t *testing.T) {
	s := newTestInstrumentStack(t)
	batch := []domain.Order{
		domain.NewInstrumentOrder("macro", "A", 1, domain.OrderTypeMarket),
		domain.NewInstrumentOrder("macro", "B", 2, domain.OrderTypeMarket),
	}
	ids, err := s.PutMany(batch)
	if err != nil {
		t.Fatalf("PutMany: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("ids = %v", ids)
	}
	for _, id := range ids {
		o, ok, err := s.Order(id)
		if err != nil || !ok {
			t.Fatalf("Order(%d): ok=%v err=%v", id, ok, err)
		}
		if o.Locked {
			t.Errorf("order %d still locked after successful batch", id)
		}
	}
}

func TestPutManyRollbackFailureEscalates(t *testing.T) {
	store := &failingStore{MemoryStore: NewMemoryStore(), failAfter: 1, failDelete: true}
	s := NewInstrumentStack(store, testLogger())

	batch := []domain.Order{
		domain.NewInstrumentOrder("macro", "A", 1, domain.OrderTypeMarket),
		domain.NewInstrumentOrder("macro", "B", 2, domain.OrderTypeMarket),
	}
	_, err := s.PutMany(batch)
	if !errors.Is(err, domain.ErrRollbackFailure) {
		t.Fatalf("err = %v, want ErrRollbackFailure", err)
	}
}

func TestChangeRejectsLockedAndInactive(t *testing.T) {
	s := newTestInstrumentStack(t)
	o := domain.NewInstrumentOrder("macro", "SOFR", 5, domain.OrderTypeMarket)
	id, err := s.Put(o)
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Lock(id); err != nil {
		t.Fatal(err)
	}
	if err := s.Change(id, o); !errors.Is(err, domain.ErrLockedOrder) {
		t.Fatalf("change on locked err = %v", err)
	}
	if err := s.Unlock(id); err != nil {
		t.Fatal(err)
	}

	if err := s.Deactivate(id); err != nil {
		t.Fatal(err)
	}
	if err := s.Change(id, o); !errors.Is(err, domain.ErrInactiveOrder) {
		t.Fatalf("change on inactive err = %v", err)
	}
}

func TestAddChildrenAllowedUnderOwnLock(t *testing.T) {
	s := newTestInstrumentStack(t)
	id, err := s.Put(domain.NewInstrumentOrder("macro", "SOFR", 5, domain.OrderTypeMarket))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Lock(id); err != nil {
		t.Fatal(err)
	}
	if err := s.AddChildren(id, []int{7, 8}); err != nil {
		t.Fatalf("AddChildren under lock: %v", err)
	}
	if err := s.AddChild(id, 9); err != nil {
		t.Fatalf("AddChild under lock: %v", err)
	}

	p := decimal.NewFromInt(100)
	if err := s.ApplyFill(id, domain.TradeQuantity{1}, &p, time.Now()); !errors.Is(err, domain.ErrLockedOrder) {
		t.Fatalf("ApplyFill on locked err = %v", err)
	}

	if err := s.Unlock(id); err != nil {
		t.Fatal(err)
	}
	o, _, err := s.Order(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(o.Children) != 3 {
		t.Errorf("children = %v, want 3 linked", o.Children)
	}
}

func TestApplyFillAndOverFill(t *testing.T) {
	s := newTestInstrumentStack(t)
	id, err := s.Put(domain.NewInstrumentOrder("macro", "SOFR", 10, domain.OrderTypeMarket))
	if err != nil {
		t.Fatal(err)
	}

	p := decimal.NewFromInt(100)
	if err := s.ApplyFill(id, domain.TradeQuantity{4}, &p, time.Now()); err != nil {
		t.Fatalf("ApplyFill: %v", err)
	}
	if err := s.ApplyFill(id, domain.TradeQuantity{11}, &p, time.Now()); !errors.Is(err, domain.ErrOverFilled) {
		t.Fatalf("over-fill err = %v", err)
	}

	o, _, err := s.Order(id)
	if err != nil {
		t.Fatal(err)
	}
	if !o.Fill.Equal(domain.TradeQuantity{4}) {
		t.Errorf("stored fill = %v after rejected over-fill", o.Fill)
	}
}

func TestRemoveRequiresInactiveUnlocked(t *testing.T) {
	s := newTestInstrumentStack(t)
	id, err := s.Put(domain.NewInstrumentOrder("macro", "SOFR", 10, domain.OrderTypeMarket))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.Remove(id); err == nil {
		t.Fatal("removed an active order")
	}
	if err := s.Deactivate(id); err != nil {
		t.Fatal(err)
	}
	if err := s.Lock(id); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(id); !errors.Is(err, domain.ErrLockedOrder) {
		t.Fatalf("remove on locked err = %v", err)
	}
	if err := s.Unlock(id); err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(id); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, ok, _ := s.Order(id); ok {
		t.Error("order still present after remove")
	}
}

func TestZeroOut(t *testing.T) {
	s := newTestInstrumentStack(t)
	id, err := s.Put(domain.NewInstrumentOrder("macro", "SOFR", 10, domain.OrderTypeMarket))
	if err != nil {
		t.Fatal(err)
	}
	p := decimal.NewFromInt(100)
	if err := s.ApplyFill(id, domain.TradeQuantity{2}, &p, time.Now()); err != nil {
		t.Fatal(err)
	}
	if err := s.ZeroOut(id); err != nil {
		t.Fatal(err)
	}
	o, _, err := s.Order(id)
	if err != nil {
		t.Fatal(err)
	}
	if o.Active || !o.FillIsZero() {
		t.Errorf("after ZeroOut: active=%v fill=%v", o.Active, o.Fill)
	}
	// Idempotent on inactive orders.
	if err := s.ZeroOut(id); err != nil {
		t.Errorf("second ZeroOut: %v", err)
	}
}

func TestCompletionPredicate(t *testing.T) {
	full := domain.NewInstrumentOrder("macro", "A", 10, domain.OrderTypeMarket)
	full.Fill = domain.TradeQuantity{10}
	partial := domain.NewInstrumentOrder("macro", "B", 10, domain.OrderTypeMarket)
	partial.Fill = domain.TradeQuantity{4}
	empty := domain.NewInstrumentOrder("macro", "C", 10, domain.OrderTypeMarket)
	inactive := domain.NewInstrumentOrder("macro", "D", 10, domain.OrderTypeMarket)
	inactive.Deactivate()

	tests := []struct {
		name  string
		order domain.Order
		opts  CompletionOpts
		want  bool
	}{
		{"exact full", full, CompletionOpts{}, true},
		{"exact partial", partial, CompletionOpts{}, false},
		{"partial allowed", partial, CompletionOpts{AllowPartial: true}, true},
		{"partial empty", empty, CompletionOpts{AllowPartial: true}, false},
		{"zero allowed", empty, CompletionOpts{AllowZero: true}, true},
		{"inactive default", inactive, CompletionOpts{}, false},
		{"inactive counted", inactive, CompletionOpts{TreatInactiveAsComplete: true}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Completed(tt.order, tt.opts); got != tt.want {
				t.Errorf("Completed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPutAdjustedNetsAgainstWorkingOrders(t *testing.T) {
	s := newTestInstrumentStack(t)

	if _, err := s.PutAdjusted(domain.NewInstrumentOrder("macro", "SOFR", 5, domain.OrderTypeMarket), false); err != nil {
		t.Fatal(err)
	}

	// +5 working, new desired +8: only +3 more is placed.
	id, err := s.PutAdjusted(domain.NewInstrumentOrder("macro", "SOFR", 8, domain.OrderTypeMarket), false)
	if err != nil {
		t.Fatal(err)
	}
	o, _, err := s.Order(id)
	if err != nil {
		t.Fatal(err)
	}
	if !o.Trade.Equal(domain.TradeQuantity{3}) {
		t.Errorf("adjusted trade = %v, want [3]", o.Trade)
	}
}

func TestPutAdjustedIgnoresFilledOrders(t *testing.T) {
	s := newTestInstrumentStack(t)

	id, err := s.PutAdjusted(domain.NewInstrumentOrder("macro", "SOFR", 5, domain.OrderTypeMarket), false)
	if err != nil {
		t.Fatal(err)
	}
	p := decimal.NewFromInt(95)
	if err := s.ApplyFill(id, domain.TradeQuantity{5}, &p, time.Now()); err != nil {
		t.Fatal(err)
	}

	// Fully filled prior orders net to nothing: the full +5 is placed.
	id2, err := s.PutAdjusted(domain.NewInstrumentOrder("macro", "SOFR", 5, domain.OrderTypeMarket), false)
	if err != nil {
		t.Fatal(err)
	}
	o, _, err := s.Order(id2)
	if err != nil {
		t.Fatal(err)
	}
	if !o.Trade.Equal(domain.TradeQuantity{5}) {
		t.Errorf("adjusted trade = %v, want [5]", o.Trade)
	}
}

func TestPutAdjustedZeroNet(t *testing.T) {
	s := newTestInstrumentStack(t)
	if _, err := s.PutAdjusted(domain.NewInstrumentOrder("macro", "SOFR", 5, domain.OrderTypeMarket), false); err != nil {
		t.Fatal(err)
	}

	_, err := s.PutAdjusted(domain.NewInstrumentOrder("macro", "SOFR", 5, domain.OrderTypeMarket), false)
	if !errors.Is(err, domain.ErrZeroOrder) {
		t.Fatalf("zero net err = %v, want ErrZeroOrder", err)
	}

	// Zero-size roll anchors are allowed through explicitly.
	if _, err := s.PutAdjusted(domain.NewZeroRollOrder("macro", "CRUDE"), true); err != nil {
		t.Fatalf("allowZero placement: %v", err)
	}
}

func TestControllingAlgo(t *testing.T) {
	s := NewContractStack(NewMemoryStore(), testLogger())
	id, err := s.Put(domain.NewContractOrder("macro", "CRUDE", []string{"20260900"}, domain.TradeQuantity{5}, domain.OrderTypeBest))
	if err != nil {
		t.Fatal(err)
	}

	if err := s.AddControllingAlgo(id, "algo_best"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := s.AddControllingAlgo(id, "algo_market"); err == nil {
		t.Error("second algo claimed a controlled order")
	}
	// Re-claim by the same session is fine.
	if err := s.AddControllingAlgo(id, "algo_best"); err != nil {
		t.Errorf("re-claim: %v", err)
	}
	if err := s.ReleaseControllingAlgo(id); err != nil {
		t.Fatalf("release: %v", err)
	}
	if err := s.AddControllingAlgo(id, "algo_market"); err != nil {
		t.Errorf("claim after release: %v", err)
	}
}

func TestFindByBrokerTempID(t *testing.T) {
	s := NewBrokerStack(NewMemoryStore(), testLogger())
	o := domain.NewBrokerOrder("macro", "CRUDE", []string{"20260900"}, domain.TradeQuantity{5}, domain.OrderTypeMarket)
	o.BrokerTempID = "tmp-17"
	id, err := s.Put(o)
	if err != nil {
		t.Fatal(err)
	}

	got, ok, err := s.FindByBrokerTempID("tmp-17")
	if err != nil || !ok {
		t.Fatalf("find: ok=%v err=%v", ok, err)
	}
	if got.OrderID != id {
		t.Errorf("matched order %d, want %d", got.OrderID, id)
	}
	if _, ok, _ := s.FindByBrokerTempID("tmp-none"); ok {
		t.Error("matched a nonexistent temp id")
	}
}

func TestApplyExecutionDetails(t *testing.T) {
	s := NewBrokerStack(NewMemoryStore(), testLogger())
	o := domain.NewBrokerOrder("macro", "CRUDE", []string{"20260900"}, domain.TradeQuantity{10}, domain.OrderTypeMarket)
	id, err := s.Put(o)
	if err != nil {
		t.Fatal(err)
	}

	price := decimal.NewFromFloat(100.6)
	comm := decimal.NewFromFloat(2.5)
	reported := domain.NewBrokerOrder("macro", "CRUDE", []string{"20260900"}, domain.TradeQuantity{10}, domain.OrderTypeMarket)
	reported.Fill = domain.TradeQuantity{10}
	reported.FilledPrice = &price
	reported.FillTime = time.Now()
	reported.BrokerPermID = "perm-9"
	reported.Commission = &comm
	reported.AlgoComment = "adaptive"

	if err := s.ApplyExecutionDetails(id, reported); err != nil {
		t.Fatalf("ApplyExecutionDetails: %v", err)
	}
	got, _, err := s.Order(id)
	if err != nil {
		t.Fatal(err)
	}
	if !got.Fill.Equal(domain.TradeQuantity{10}) || got.BrokerPermID != "perm-9" || got.AlgoComment != "adaptive" {
		t.Errorf("stored order missing execution details: %+v", got)
	}
	if got.Commission == nil || !got.Commission.Equal(comm) {
		t.Errorf("commission = %v", got.Commission)
	}

	// Over-fill from the broker is rejected, order untouched.
	reported.Fill = domain.TradeQuantity{12}
	if err := s.ApplyExecutionDetails(id, reported); !errors.Is(err, domain.ErrOverFilled) {
		t.Fatalf("over-fill err = %v", err)
	}
}
