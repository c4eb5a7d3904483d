package storage

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"futures_oms/internal/stack"
)

// Storage is the SQLite persistence layer: order-stack rows, positions,
// roll state and the order archive all live in one database file.
type Storage struct {
	db *gorm.DB
}

// orderRow mirrors stack.Row with the stack name as part of the key.
type orderRow struct {
	Stack   string `gorm:"primaryKey"`
	OrderID int    `gorm:"primaryKey"`
	Key     string `gorm:"index"`
	Parent  int
	Active  bool `gorm:"index"`
	Locked  bool
	Payload []byte
}

// stackCounter allocates order ids per stack.
type stackCounter struct {
	Stack  string `gorm:"primaryKey"`
	LastID int
}

// contractPosition is the per-contract position book.
type contractPosition struct {
	Instrument   string `gorm:"primaryKey"`
	ContractDate string `gorm:"primaryKey"`
	Position     int
	UpdatedAt    time.Time
}

// strategyPosition is the per-strategy instrument position book.
type strategyPosition struct {
	Strategy   string `gorm:"primaryKey"`
	Instrument string `gorm:"primaryKey"`
	Position   int
	UpdatedAt  time.Time
}

// rollStateRow stores the externally-decided roll state per instrument,
// together with the current priced and forward contract dates.
type rollStateRow struct {
	Instrument      string `gorm:"primaryKey"`
	State           string
	PricedContract  string
	ForwardContract string
	UpdatedAt       time.Time
}

// archivedOrder keeps completed orders out of the live stacks but queryable.
type archivedOrder struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	Stack      string `gorm:"index"`
	OrderID    int
	Key        string `gorm:"index"`
	Payload    []byte
	ArchivedAt time.Time
}

// NewStorage opens (or creates) the database at path and migrates the
// schema.
func NewStorage(dbPath string) (*Storage, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create DB directory: %w", err)
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(dbPath), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(
		&orderRow{}, &stackCounter{},
		&contractPosition{}, &strategyPosition{},
		&rollStateRow{}, &archivedOrder{},
	); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &Storage{db: db}, nil
}

// ======================================================================================
// Stack store
// ======================================================================================

// NextID atomically allocates the next order id for a stack, starting at 1.
func (s *Storage) NextID(stackName string) (int, error) {
	var id int
	err := s.db.Transaction(func(tx *gorm.DB) error {
		var counter stackCounter
		err := tx.First(&counter, "stack = ?", stackName).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			counter = stackCounter{Stack: stackName}
		} else if err != nil {
			return err
		}
		counter.LastID++
		id = counter.LastID
		return tx.Save(&counter).Error
	})
	return id, err
}

func toOrderRow(stackName string, row stack.Row) orderRow {
	return orderRow{
		Stack:   stackName,
		OrderID: row.ID,
		Key:     row.Key,
		Parent:  row.Parent,
		Active:  row.Active,
		Locked:  row.Locked,
		Payload: row.Payload,
	}
}

func fromOrderRow(r orderRow) stack.Row {
	return stack.Row{
		ID:      r.OrderID,
		Key:     r.Key,
		Parent:  r.Parent,
		Active:  r.Active,
		Locked:  r.Locked,
		Payload: r.Payload,
	}
}

func (s *Storage) Insert(stackName string, row stack.Row) error {
	return s.db.Create(toOrderRow(stackName, row)).Error
}

func (s *Storage) Update(stackName string, row stack.Row) error {
	res := s.db.Model(&orderRow{}).
		Where("stack = ? AND order_id = ?", stackName, row.ID).
		Select("Key", "Parent", "Active", "Locked", "Payload").
		Updates(toOrderRow(stackName, row))
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("update %s/%d: no such row", stackName, row.ID)
	}
	return nil
}

func (s *Storage) Get(stackName string, id int) (stack.Row, bool, error) {
	var r orderRow
	err := s.db.First(&r, "stack = ? AND order_id = ?", stackName, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return stack.Row{}, false, nil
	}
	if err != nil {
		return stack.Row{}, false, err
	}
	return fromOrderRow(r), true, nil
}

func (s *Storage) Delete(stackName string, id int) error {
	res := s.db.Where("stack = ? AND order_id = ?", stackName, id).Delete(&orderRow{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("delete %s/%d: no such row", stackName, id)
	}
	return nil
}

func (s *Storage) List(stackName string) ([]stack.Row, error) {
	var rows []orderRow
	if err := s.db.Where("stack = ?", stackName).Order("order_id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]stack.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, fromOrderRow(r))
	}
	return out, nil
}

// ======================================================================================
// Position store
// ======================================================================================

// ApplyContractFill adds a signed quantity delta to a contract position.
func (s *Storage) ApplyContractFill(instrument, contractDate string, delta int) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var pos contractPosition
		err := tx.First(&pos, "instrument = ? AND contract_date = ?", instrument, contractDate).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			pos = contractPosition{Instrument: instrument, ContractDate: contractDate}
		} else if err != nil {
			return err
		}
		pos.Position += delta
		pos.UpdatedAt = time.Now()
		return tx.Save(&pos).Error
	})
}

// ApplyInstrumentFill adds a signed quantity delta to a strategy position.
func (s *Storage) ApplyInstrumentFill(strategy, instrument string, delta int) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var pos strategyPosition
		err := tx.First(&pos, "strategy = ? AND instrument = ?", strategy, instrument).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			pos = strategyPosition{Strategy: strategy, Instrument: instrument}
		} else if err != nil {
			return err
		}
		pos.Position += delta
		pos.UpdatedAt = time.Now()
		return tx.Save(&pos).Error
	})
}

// ContractPosition reads the position held in one contract date.
func (s *Storage) ContractPosition(instrument, contractDate string) (int, error) {
	var pos contractPosition
	err := s.db.First(&pos, "instrument = ? AND contract_date = ?", instrument, contractDate).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, nil
	}
	return pos.Position, err
}

// StrategyPositions lists every strategy holding the instrument, with the
// held quantity.
func (s *Storage) StrategyPositions(instrument string) (map[string]int, error) {
	var rows []strategyPosition
	if err := s.db.Where("instrument = ?", instrument).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		if r.Position != 0 {
			out[r.Strategy] = r.Position
		}
	}
	return out, nil
}

// ======================================================================================
// Roll state
// ======================================================================================

// Roll states, decided outside this process and read by the roll pass.
const (
	RollStateNone          = "no_roll"
	RollStatePassive       = "passive"
	RollStateForce         = "force"
	RollStateForceOutright = "force_outright"
	RollStateAdjusted      = "roll_adjusted"
	RollStateClose         = "close"
)

// RollInfo is the roll configuration for one instrument.
type RollInfo struct {
	State           string
	PricedContract  string
	ForwardContract string
}

// SetRollInfo records the externally-decided roll state for an instrument.
func (s *Storage) SetRollInfo(instrument string, info RollInfo) error {
	return s.db.Save(&rollStateRow{
		Instrument:      instrument,
		State:           info.State,
		PricedContract:  info.PricedContract,
		ForwardContract: info.ForwardContract,
		UpdatedAt:       time.Now(),
	}).Error
}

// RollInfo reads the roll configuration; a missing row means no roll.
func (s *Storage) RollInfo(instrument string) (RollInfo, error) {
	var row rollStateRow
	err := s.db.First(&row, "instrument = ?", instrument).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return RollInfo{}, nil
	}
	return RollInfo{
		State:           row.State,
		PricedContract:  row.PricedContract,
		ForwardContract: row.ForwardContract,
	}, err
}

// RolledInstruments lists every instrument with a recorded roll state.
func (s *Storage) RolledInstruments() ([]string, error) {
	var rows []rollStateRow
	if err := s.db.Order("instrument").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.Instrument)
	}
	return out, nil
}

// ======================================================================================
// Archive
// ======================================================================================

// ArchiveOrder copies a completed order's row into the archive table.
func (s *Storage) ArchiveOrder(stackName string, row stack.Row) error {
	return s.db.Create(&archivedOrder{
		Stack:      stackName,
		OrderID:    row.ID,
		Key:        row.Key,
		Payload:    row.Payload,
		ArchivedAt: time.Now(),
	}).Error
}

// ArchivedOrders lists archived payloads for one stack, oldest first.
func (s *Storage) ArchivedOrders(stackName string) ([]stack.Row, error) {
	var rows []archivedOrder
	if err := s.db.Where("stack = ?", stackName).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]stack.Row, 0, len(rows))
	for _, r := range rows {
		out = append(out, stack.Row{ID: r.OrderID, Key: r.Key, Payload: r.Payload})
	}
	return out, nil
}
