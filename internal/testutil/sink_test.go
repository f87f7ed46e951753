package testutil

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/roach88/litewatch/internal/value"
)

func TestRecordingSink_RecordsInOrder(t *testing.T) {
	s := &RecordingSink{}

	s.BeginTransaction(1)
	s.IgnoreWritesToTable("items")
	s.ReportChange("items", value.Integer(7))
	s.ReportChange("items", value.Text("k"))
	s.ReportChange("other", nil)
	s.StopIgnoringWrites("items")
	s.EndTransaction(1)

	assert.Equal(t, []string{
		"begin 1",
		"ignore items",
		"report items 7",
		"report items 'k'",
		"report other *",
		"stop items",
		"end 1",
	}, s.Events())
}

func TestRecordingSink_EventsIsACopy(t *testing.T) {
	s := &RecordingSink{}
	s.BeginTransaction(1)

	events := s.Events()
	events[0] = "mutated"
	assert.Equal(t, []string{"begin 1"}, s.Events())
}

func TestRecordingSink_Reset(t *testing.T) {
	s := &RecordingSink{}
	s.BeginTransaction(1)
	s.Reset()

	assert.Empty(t, s.Events())
	s.EndTransaction(1)
	assert.Equal(t, []string{"end 1"}, s.Events())
}

func TestRecordingSink_ConcurrentUse(t *testing.T) {
	s := &RecordingSink{}

	var wg sync.WaitGroup
	for i := range 100 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.BeginTransaction(int64(i))
		}()
	}
	wg.Wait()

	assert.Len(t, s.Events(), 100)
}

func TestDiscardLogger(t *testing.T) {
	l := DiscardLogger()
	l.Info("dropped", "k", "v")
	assert.NotNil(t, l)
}
