package testutil

import (
	"fmt"
	"sync"

	"github.com/roach88/litewatch/internal/value"
)

// RecordingSink records every change-sink call as a line of text, in
// order. It satisfies core.ChangeSink.
//
//	report items 1      ReportChange("items", Integer(1))
//	report items *      ReportChange("items", nil)
//	begin 3 / end 3     BeginTransaction(3) / EndTransaction(3)
//	ignore items        IgnoreWritesToTable("items")
//	stop items          StopIgnoringWrites("items")
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type RecordingSink struct {
	mu     sync.Mutex
	events []string
}

func (s *RecordingSink) add(format string, args ...any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, fmt.Sprintf(format, args...))
}

func (s *RecordingSink) ReportChange(table string, key value.Value) {
	if key == nil {
		s.add("report %s *", table)
		return
	}
	s.add("report %s %s", table, value.Literal(key))
}

func (s *RecordingSink) BeginTransaction(id int64)        { s.add("begin %d", id) }
func (s *RecordingSink) EndTransaction(id int64)          { s.add("end %d", id) }
func (s *RecordingSink) IgnoreWritesToTable(table string) { s.add("ignore %s", table) }
func (s *RecordingSink) StopIgnoringWrites(table string)  { s.add("stop %s", table) }

// Events returns a copy of everything recorded so far.
func (s *RecordingSink) Events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	copy(out, s.events)
	return out
}

// Reset discards everything recorded so far.
//
// Used to skip setup noise. After Reset(), Events() returns an empty slice.
func (s *RecordingSink) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = nil
}
