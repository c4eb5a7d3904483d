package storage

import (
	"path/filepath"
	"testing"

	"futures_oms/internal/stack"
)

func setupTestDB(t *testing.T) *Storage {
	t.Helper()
	s, err := NewStorage(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to open test db: %v", err)
	}
	return s
}

func TestNextIDIsSequentialPerStack(t *testing.T) {
	s := setupTestDB(t)

	for want := 1; want <= 3; want++ {
		id, err := s.NextID(stack.StackInstrument)
		if err != nil {
			t.Fatalf("NextID failed: %v", err)
		}
		if id != want {
			t.Errorf("instrument id = %d, want %d", id, want)
		}
	}

	// Each stack counts independently.
	id, err := s.NextID(stack.StackBroker)
	if err != nil {
		t.Fatal(err)
	}
	if id != 1 {
		t.Errorf("broker id = %d, want 1", id)
	}
}

func TestOrderRowCRUD(t *testing.T) {
	s := setupTestDB(t)

	row := stack.Row{ID: 1, Key: "macro/SOFR", Active: true, Payload: []byte(`{"x":1}`)}
	if err := s.Insert(stack.StackInstrument, row); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}

	got, ok, err := s.Get(stack.StackInstrument, 1)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got.Key != "macro/SOFR" || string(got.Payload) != `{"x":1}` {
		t.Errorf("fetched row = %+v", got)
	}

	// Same id on another stack is a different row.
	if _, ok, _ := s.Get(stack.StackContract, 1); ok {
		t.Error("row leaked across stacks")
	}

	row.Active = false
	row.Locked = true
	if err := s.Update(stack.StackInstrument, row); err != nil {
		t.Fatalf("Update failed: %v", err)
	}
	got, _, err = s.Get(stack.StackInstrument, 1)
	if err != nil {
		t.Fatal(err)
	}
	if got.Active || !got.Locked {
		t.Errorf("updated flags not persisted: %+v", got)
	}

	if err := s.Delete(stack.StackInstrument, 1); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, ok, _ := s.Get(stack.StackInstrument, 1); ok {
		t.Error("row still present after delete")
	}
	if err := s.Delete(stack.StackInstrument, 1); err == nil {
		t.Error("second delete should fail")
	}
}

func TestListOrdersByID(t *testing.T) {
	s := setupTestDB(t)
	for _, id := range []int{3, 1, 2} {
		if err := s.Insert(stack.StackContract, stack.Row{ID: id, Key: "k", Active: true}); err != nil {
			t.Fatal(err)
		}
	}
	rows, err := s.List(stack.StackContract)
	if err != nil {
		t.Fatal(err)
	}
	for i, row := range rows {
		if row.ID != i+1 {
			t.Fatalf("rows not ordered by id: %+v", rows)
		}
	}
}

func TestPositionBook(t *testing.T) {
	s := setupTestDB(t)

	if err := s.ApplyContractFill("CRUDE", "20260900", 10); err != nil {
		t.Fatalf("ApplyContractFill failed: %v", err)
	}
	if err := s.ApplyContractFill("CRUDE", "20260900", -4); err != nil {
		t.Fatal(err)
	}
	pos, err := s.ContractPosition("CRUDE", "20260900")
	if err != nil {
		t.Fatal(err)
	}
	if pos != 6 {
		t.Errorf("contract position = %d, want 6", pos)
	}

	// Unknown contract reads as flat.
	pos, err = s.ContractPosition("CRUDE", "20270300")
	if err != nil || pos != 0 {
		t.Errorf("missing contract position = %d err=%v", pos, err)
	}

	if err := s.ApplyInstrumentFill("macro", "CRUDE", 6); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyInstrumentFill("carry", "CRUDE", -2); err != nil {
		t.Fatal(err)
	}
	if err := s.ApplyInstrumentFill("flat", "CRUDE", 0); err != nil {
		t.Fatal(err)
	}

	positions, err := s.StrategyPositions("CRUDE")
	if err != nil {
		t.Fatal(err)
	}
	if positions["macro"] != 6 || positions["carry"] != -2 {
		t.Errorf("strategy positions = %v", positions)
	}
	if _, ok := positions["flat"]; ok {
		t.Error("flat strategy should be omitted")
	}
}

func TestRollInfo(t *testing.T) {
	s := setupTestDB(t)

	info, err := s.RollInfo("CRUDE")
	if err != nil || info.State != "" {
		t.Fatalf("missing roll info = %+v err=%v", info, err)
	}

	if err := s.SetRollInfo("CRUDE", RollInfo{State: "force", PricedContract: "20260900", ForwardContract: "20261200"}); err != nil {
		t.Fatalf("SetRollInfo failed: %v", err)
	}
	if err := s.SetRollInfo("CRUDE", RollInfo{State: "force_outright", PricedContract: "20260900", ForwardContract: "20261200"}); err != nil {
		t.Fatal(err)
	}
	info, err = s.RollInfo("CRUDE")
	if err != nil {
		t.Fatal(err)
	}
	if info.State != "force_outright" || info.PricedContract != "20260900" || info.ForwardContract != "20261200" {
		t.Errorf("roll info = %+v", info)
	}
}

func TestArchive(t *testing.T) {
	s := setupTestDB(t)

	row := stack.Row{ID: 7, Key: "macro/SOFR", Payload: []byte(`{"done":true}`)}
	if err := s.ArchiveOrder(stack.StackInstrument, row); err != nil {
		t.Fatalf("ArchiveOrder failed: %v", err)
	}

	rows, err := s.ArchivedOrders(stack.StackInstrument)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].ID != 7 || string(rows[0].Payload) != `{"done":true}` {
		t.Errorf("archived rows = %+v", rows)
	}
}
