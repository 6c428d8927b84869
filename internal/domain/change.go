package domain

// ChangeKind classifies one proposed or captured mutation.
type ChangeKind string

const (
	ChangeCreate ChangeKind = "CREATE"
	ChangeModify ChangeKind = "MODIFY"
	ChangeRemove ChangeKind = "REMOVE"
)

// Operation is one proposed mutation inside a change set. Attributes carry the
// candidate's full attribute map for CREATE and MODIFY and are nil for REMOVE.
type Operation struct {
	EntityID   string         `json:"entityId"`
	Kind       ChangeKind     `json:"kind"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// ChangeSet maps each tracked table to its ordered list of proposed
// operations. It is transient: produced by the detector, consumed by the
// applier, never persisted.
type ChangeSet struct {
	Operations map[string][]Operation `json:"operations"`
}

// NewChangeSet returns an empty change set.
func NewChangeSet() *ChangeSet {
	return &ChangeSet{Operations: make(map[string][]Operation)}
}

// Add appends an operation to a table's list.
func (cs *ChangeSet) Add(table string, op Operation) {
	cs.Operations[table] = append(cs.Operations[table], op)
}

// TableOperations returns the operations recorded for one table.
func (cs *ChangeSet) TableOperations(table string) []Operation {
	return cs.Operations[table]
}

// Total counts all operations across tables.
func (cs *ChangeSet) Total() int {
	total := 0
	for _, ops := range cs.Operations {
		total += len(ops)
	}
	return total
}

// Empty reports whether the change set holds no operations.
func (cs *ChangeSet) Empty() bool {
	return cs.Total() == 0
}

// OperationCounts tallies one table's operations by kind.
type OperationCounts struct {
	Created  int `json:"created"`
	Modified int `json:"modified"`
	Removed  int `json:"removed"`
}

// Add folds another tally into this one.
func (c *OperationCounts) Add(other OperationCounts) {
	c.Created += other.Created
	c.Modified += other.Modified
	c.Removed += other.Removed
}

// Total is the sum across kinds.
func (c OperationCounts) Total() int {
	return c.Created + c.Modified + c.Removed
}

// Counts tallies the change set per table.
func (cs *ChangeSet) Counts() map[string]OperationCounts {
	counts := make(map[string]OperationCounts, len(cs.Operations))
	for table, ops := range cs.Operations {
		var c OperationCounts
		for _, op := range ops {
			switch op.Kind {
			case ChangeCreate:
				c.Created++
			case ChangeModify:
				c.Modified++
			case ChangeRemove:
				c.Removed++
			}
		}
		counts[table] = c
	}
	return counts
}
