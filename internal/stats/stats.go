// Package stats accumulates the per-checkpoint CSV statistics: a row
// of (procedure, checkpoint, lower count, upper count, total) recorded
// after each pipeline stage, not just once at the end.
package stats

import (
	"fmt"
	"io"
	"sort"
	"sync"

	"github.com/llir/llvm/ir"

	"github.com/dshills/boundcheck/internal/boundpred"
	"github.com/dshills/boundcheck/internal/checkabi"
)

// Checkpoint names the driver records a row for, in pipeline order.
const (
	Initial             = "initial"
	PostModification    = "post-modification"
	PostCleanup         = "post-cleanup"
	PostElimination     = "post-elimination"
	PostLoopPropagation = "post-loop-propagation"
)

// Row is one CSV line: a procedure's check counts at one checkpoint.
type Row struct {
	Procedure  string
	Checkpoint string
	Lowers     int
	Uppers     int
}

// Total is the row's Lowers+Uppers column.
func (r Row) Total() int { return r.Lowers + r.Uppers }

// Collector accumulates Rows across a module's procedures and
// checkpoints and writes them as CSV on demand. Safe for concurrent
// Record calls, which the driver makes when it processes procedures in
// parallel.
type Collector struct {
	mu   sync.Mutex
	rows []Row
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector { return &Collector{} }

// Record counts the checkLowerBound/checkUpperBound calls remaining in
// fn and appends a Row for the named checkpoint.
func (c *Collector) Record(fn *ir.Func, checkpoint string) {
	var lowers, uppers int
	for _, b := range fn.Blocks {
		for _, inst := range b.Insts {
			call, ok := checkabi.Recognize(inst)
			if !ok {
				continue
			}
			if call.Kind == boundpred.Lower {
				lowers++
			} else {
				uppers++
			}
		}
	}
	c.mu.Lock()
	c.rows = append(c.rows, Row{Procedure: fn.GlobalName, Checkpoint: checkpoint, Lowers: lowers, Uppers: uppers})
	c.mu.Unlock()
}

// Rows returns the accumulated rows in recorded order.
func (c *Collector) Rows() []Row {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Row(nil), c.rows...)
}

// WriteCSV writes every accumulated row to w as
// "procedure_name,checkpoint_name,lower_count,upper_count,total" lines,
// sorted by procedure then by the pipeline order the rows were
// recorded in (stable sort preserves checkpoint order within a
// procedure).
func (c *Collector) WriteCSV(w io.Writer) error {
	sorted := c.Rows()
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Procedure < sorted[j].Procedure })
	for _, r := range sorted {
		if _, err := fmt.Fprintf(w, "%s,%s,%d,%d,%d\n", r.Procedure, r.Checkpoint, r.Lowers, r.Uppers, r.Total()); err != nil {
			return err
		}
	}
	return nil
}
