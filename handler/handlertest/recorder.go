// Package handlertest provides an in-memory handler.Handler that records every call,
// for testing code that drives handlers.
package handlertest

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/dmicanzerofox/db-integ-test-utils/config"
	"github.com/dmicanzerofox/db-integ-test-utils/handler"
	"go.uber.org/zap"
)

// Operation names used in recorded calls.
const (
	OpDestroy    = "destroy"
	OpInitialize = "initialize"
	OpReset      = "reset"
	OpLoad       = "load"
	OpClose      = "close"
)

// Call is one recorded handler invocation.
type Call struct {
	Op  string
	Arg string // Script, fixture path, or comma-joined database list.
}

func (c Call) String() string {
	if c.Arg == "" {
		return c.Op
	}
	return c.Op + ":" + c.Arg
}

// Recorder is a handler.Handler that records calls and keeps a fake database state:
// loaded fixture paths per database, cleared by Reset.
type Recorder struct {
	mu     sync.Mutex
	calls  []Call
	fail   map[Call]error
	loaded []string
	closed bool
}

var _ handler.Handler = (*Recorder)(nil)

// NewRecorder returns an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{fail: make(map[Call]error)}
}

// Factory returns a handler.Factory that always hands out r.
func Factory(r *Recorder) handler.Factory {
	return func(context.Context, config.Database, *zap.Logger) (handler.Handler, error) {
		return r, nil
	}
}

// FailOn makes the call op:arg return err. The call is still recorded.
func (r *Recorder) FailOn(op, arg string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fail[Call{Op: op, Arg: arg}] = err
}

func (r *Recorder) record(op, arg string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c := Call{Op: op, Arg: arg}
	r.calls = append(r.calls, c)
	return r.fail[c]
}

// Destroy records the script.
func (r *Recorder) Destroy(_ context.Context, script string) error {
	return r.record(OpDestroy, script)
}

// Initialize records the script.
func (r *Recorder) Initialize(_ context.Context, script string) error {
	return r.record(OpInitialize, script)
}

// Reset records the databases and forgets loaded fixtures.
func (r *Recorder) Reset(_ context.Context, databases []string) error {
	if err := r.record(OpReset, strings.Join(databases, ",")); err != nil {
		return err
	}
	r.mu.Lock()
	r.loaded = nil
	r.mu.Unlock()
	return nil
}

// LoadFixture records path as loaded.
func (r *Recorder) LoadFixture(_ context.Context, path string) error {
	if err := r.record(OpLoad, path); err != nil {
		return err
	}
	r.mu.Lock()
	r.loaded = append(r.loaded, path)
	r.mu.Unlock()
	return nil
}

// Close records the call and marks the recorder closed.
func (r *Recorder) Close() error {
	if err := r.record(OpClose, ""); err != nil {
		return err
	}
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

// Calls returns the recorded calls formatted as "op:arg".
func (r *Recorder) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.String()
	}
	return out
}

// CallsOf returns the arguments of every recorded call to op.
func (r *Recorder) CallsOf(op string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for _, c := range r.calls {
		if c.Op == op {
			out = append(out, c.Arg)
		}
	}
	return out
}

// Loaded returns the fixtures loaded since the last Reset.
func (r *Recorder) Loaded() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.loaded)
}

// Closed reports whether Close succeeded.
func (r *Recorder) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// ClearCalls forgets recorded calls but keeps the fake state.
func (r *Recorder) ClearCalls() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Recorder) String() string {
	return fmt.Sprintf("Recorder%v", r.Calls())
}
