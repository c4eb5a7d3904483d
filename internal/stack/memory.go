package stack

import (
	"fmt"
	"sort"
	"sync"
)

// MemoryStore is an in-memory Store. Used in tests and for dry runs; the
// sqlite store is the production backend.
type MemoryStore struct {
	mu     sync.Mutex
	rows   map[string]map[int]Row
	nextID map[string]int
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		rows:   make(map[string]map[int]Row),
		nextID: make(map[string]int),
	}
}

func (m *MemoryStore) NextID(stack string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID[stack]++
	return m.nextID[stack], nil
}

func (m *MemoryStore) Insert(stack string, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[stack]
	if rows == nil {
		rows = make(map[int]Row)
		m.rows[stack] = rows
	}
	if _, exists := rows[row.ID]; exists {
		return fmt.Errorf("insert %s/%d: duplicate id", stack, row.ID)
	}
	rows[row.ID] = row
	return nil
}

func (m *MemoryStore) Update(stack string, row Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[stack]
	if _, exists := rows[row.ID]; !exists {
		return fmt.Errorf("update %s/%d: no such row", stack, row.ID)
	}
	rows[row.ID] = row
	return nil
}

func (m *MemoryStore) Get(stack string, id int) (Row, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[stack][id]
	return row, ok, nil
}

func (m *MemoryStore) Delete(stack string, id int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[stack]
	if _, exists := rows[id]; !exists {
		return fmt.Errorf("delete %s/%d: no such row", stack, id)
	}
	delete(rows, id)
	return nil
}

func (m *MemoryStore) List(stack string) ([]Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.rows[stack]
	out := make([]Row, 0, len(rows))
	for _, row := range rows {
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
