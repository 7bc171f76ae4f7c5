// Package recorder writes a JSONL trace of every tool dispatch.
package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

const (
	// DefaultKeep is how many run traces survive rotation, including the new one.
	DefaultKeep = 3
	tracePrefix = "trace_"
	traceExt    = ".jsonl"
)

// Call is one dispatched tool call.
type Call struct {
	Timestamp  time.Time `json:"ts"`
	RunID      string    `json:"run_id"`
	Tool       string    `json:"tool"`
	SessionID  string    `json:"session_id,omitempty"`
	PageID     string    `json:"page_id,omitempty"`
	Outcome    string    `json:"outcome"`
	Error      string    `json:"error,omitempty"`
	DurationMs int64     `json:"duration_ms"`
}

// Recorder owns one trace file per server run. A nil *Recorder drops
// everything, so callers never need to check whether tracing is on.
type Recorder struct {
	mu      sync.Mutex
	dir     string
	keep    int
	runID   string
	file    *os.File
	encoder *json.Encoder
}

// New prepares dir for traces. keep <= 0 means DefaultKeep.
func New(dir string, keep int) (*Recorder, error) {
	if dir == "" {
		return nil, fmt.Errorf("trace dir is required")
	}
	if keep <= 0 {
		keep = DefaultKeep
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{dir: dir, keep: keep}, nil
}

// Start opens a fresh trace under a new run id, rotating older traces.
func (r *Recorder) Start() (string, error) {
	if r == nil {
		return "", nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file, r.encoder = nil, nil
	}
	if err := r.rotate(); err != nil {
		return "", fmt.Errorf("rotate traces: %w", err)
	}

	runID := ulid.Make().String()
	f, err := os.Create(filepath.Join(r.dir, tracePrefix+runID+traceExt))
	if err != nil {
		return "", err
	}
	r.runID = runID
	r.file = f
	r.encoder = json.NewEncoder(f)
	return runID, nil
}

// RunID is the id of the current trace, empty before Start.
func (r *Recorder) RunID() string {
	if r == nil {
		return ""
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.runID
}

// Record appends c to the current trace.
func (r *Recorder) Record(c Call) {
	if r == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.encoder == nil {
		return
	}
	if c.Timestamp.IsZero() {
		c.Timestamp = time.Now()
	}
	c.RunID = r.runID
	_ = r.encoder.Encode(c)
}

// rotate leaves room for one new trace. ULID names sort by creation time.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.dir)
	if err != nil {
		return err
	}
	var traces []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, tracePrefix) || filepath.Ext(name) != traceExt {
			continue
		}
		traces = append(traces, name)
	}
	sort.Sort(sort.Reverse(sort.StringSlice(traces)))

	for i := r.keep - 1; i < len(traces); i++ {
		_ = os.Remove(filepath.Join(r.dir, traces[i]))
	}
	return nil
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file, r.encoder = nil, nil
	return err
}
