// Package cleanup runs registered release steps in reverse registration order.
package cleanup

import (
	"sync"

	"go.uber.org/zap"
)

// Func releases one resource.
type Func func() error

// Manager is a LIFO stack of release steps. Execute runs at most once; later
// calls return the result of the first.
type Manager struct {
	mu     sync.Mutex
	steps  []namedFunc
	err    error
	logger *zap.Logger
	once   sync.Once
}

type namedFunc struct {
	name string
	fn   Func
}

// NewManager returns an empty manager that logs step failures to logger.
func NewManager(logger *zap.Logger) *Manager {
	return &Manager{logger: logger}
}

// Add pushes a release step. Nil functions are ignored.
func (m *Manager) Add(name string, f Func) {
	if f == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.steps = append(m.steps, namedFunc{name: name, fn: f})
}

// Len returns the number of registered steps.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.steps)
}

// Execute runs every step, newest first, even when some fail, and returns the
// first error encountered.
func (m *Manager) Execute() error {
	m.once.Do(func() {
		m.mu.Lock()
		defer m.mu.Unlock()

		for i := len(m.steps) - 1; i >= 0; i-- {
			step := m.steps[i]
			m.logger.Debug("Running cleanup step", zap.String("step", step.name))
			if err := step.fn(); err != nil {
				if m.err == nil {
					m.err = err
				}
				m.logger.Error("Cleanup step failed", zap.String("step", step.name), zap.Error(err))
			}
		}
		m.steps = nil
		_ = m.logger.Sync()
	})
	return m.err
}
