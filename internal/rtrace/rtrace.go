// Package rtrace emits scheduler lifecycle events as a Chrome
// trace-event JSON stream, viewable in about://tracing or the Perfetto
// UI, adapted from distri's internal/trace to record one duration event
// per executed recipe (start to completion) and an instant event per
// cache probe (hit/miss) instead of system-wide CPU and memory counters (spec.md §9 observability note).
package rtrace

import (
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var start = time.Now()

var (
	sinkMu sync.Mutex
	sink   io.Writer = ioutil.Discard
)

// Sink writes all following Event()s as a Chrome trace event file into w.
func Sink(w io.Writer) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	sink = w
	// Start the JSON Array Format; the closing ] is optional, so it is
	// never written.
	w.Write([]byte{'['})
}

// Enable is a convenience function for creating a file in
// $TMPDIR/rebuild.traces/prefix.$PID.
func Enable(prefix string) error {
	fn := filepath.Join(os.TempDir(), "rebuild.traces", fmt.Sprintf("%s.%d", prefix, os.Getpid()))
	if err := os.MkdirAll(filepath.Dir(fn), 0o755); err != nil {
		return err
	}
	f, err := os.Create(fn)
	if err != nil {
		return err
	}
	Sink(f)
	return nil
}

// PendingEvent is one open duration event, closed by Done.
type PendingEvent struct {
	Name           string      `json:"name"`
	Categories     string      `json:"cat"`
	Type           string      `json:"ph"`
	ClockTimestamp uint64      `json:"ts"`
	Duration       uint64      `json:"dur"`
	Pid            uint64      `json:"pid"`
	Tid            uint64      `json:"tid"`
	Args           interface{} `json:"args"`

	start time.Time
}

// Done closes the event, stamping its duration, and writes it to the
// current sink.
func (pe *PendingEvent) Done() {
	pe.Duration = uint64(time.Since(pe.start) / time.Microsecond)
	b, err := json.Marshal(pe)
	if err != nil {
		panic(err)
	}
	sinkMu.Lock()
	defer sinkMu.Unlock()
	if _, err := sink.Write(append(b, ',')); err != nil {
		log.Printf("[rtrace] %v", err)
	}
}

// Event opens a duration event named name on track tid (conventionally
// one track per recipe, so concurrent recipes render on separate rows).
func Event(name string, tid int) *PendingEvent {
	return &PendingEvent{
		Name:           name,
		Categories:     "recipe",
		Type:           "X",
		ClockTimestamp: uint64(time.Since(start) / time.Microsecond),
		Pid:            1,
		Tid:            uint64(tid),
		start:          time.Now(),
	}
}

// CacheProbe records a zero-duration instant event for a cache lookup,
// distinguishing a hit (no fiber ran) from a miss.
func CacheProbe(target string, hit bool) {
	status := "miss"
	if hit {
		status = "hit"
	}
	ev := &PendingEvent{
		Name:           fmt.Sprintf("cache_probe(%s)", target),
		Categories:     "cache",
		Type:           "i",
		ClockTimestamp: uint64(time.Since(start) / time.Microsecond),
		Pid:            1,
		Args:           map[string]string{"status": status},
		start:          time.Now(),
	}
	ev.Done()
}
