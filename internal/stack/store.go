package stack

// Row is the persisted form of one order. The payload is the JSON-encoded
// concrete order; the other columns are denormalized for querying without
// decoding.
type Row struct {
	ID      int
	Key     string
	Parent  int
	Active  bool
	Locked  bool
	Payload []byte
}

// Store is the persistence backend shared by all stacks. Each stack names
// itself; a single store holds all three tiers.
type Store interface {
	// NextID returns the next unused order id for the stack, starting at 1.
	NextID(stack string) (int, error)
	Insert(stack string, row Row) error
	// Update replaces the stored row atomically. The row must exist.
	Update(stack string, row Row) error
	Get(stack string, id int) (Row, bool, error)
	Delete(stack string, id int) error
	List(stack string) ([]Row, error)
}

// Stack names used as storage keys.
const (
	StackInstrument = "instrument"
	StackContract   = "contract"
	StackBroker     = "broker"
)
