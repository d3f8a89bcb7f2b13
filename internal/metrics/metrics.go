package metrics

// Collector receives counters and gauges from the engine. Implementations
// must be safe for concurrent use.
type Collector interface {
	RecordAssignment(source string, score float64)
	RecordOutcome()
	RecordRetrain(status string)
	SetDatasetSize(n int)
	SetOpenTasks(n int)
}

// Nop discards all metrics.
type Nop struct{}

var _ Collector = (*Nop)(nil)

func NewNop() *Nop { return &Nop{} }

func (n *Nop) RecordAssignment(string, float64) {}
func (n *Nop) RecordOutcome()                   {}
func (n *Nop) RecordRetrain(string)             {}
func (n *Nop) SetDatasetSize(int)               {}
func (n *Nop) SetOpenTasks(int)                 {}
