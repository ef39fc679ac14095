package galvo

import (
	"context"
	"sync"
)

// MockActuator records angle commands for tests and dev mode. It can be
// configured to time out or to synthesise beam-spot feedback.
type MockActuator struct {
	mu       sync.Mutex
	commands [][2]float64
	centred  int
	closed   bool

	// FailWrites makes every SetAngles return ErrWriteTimeout.
	FailWrites bool

	// Feedback, when set, is returned by ReadFeedback.
	Feedback *BeamPosition
}

// NewMockActuator creates an actuator that records commands in memory.
func NewMockActuator() *MockActuator {
	return &MockActuator{}
}

// SetAngles records the command.
func (m *MockActuator) SetAngles(ctx context.Context, angleXRad, angleYRad float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.FailWrites {
		return ErrWriteTimeout
	}
	m.commands = append(m.commands, [2]float64{angleXRad, angleYRad})
	return nil
}

// Center records a centre request.
func (m *MockActuator) Center(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.centred++
	return nil
}

// Close marks the actuator closed.
func (m *MockActuator) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// ReadFeedback returns the configured beam position, if any.
func (m *MockActuator) ReadFeedback() (BeamPosition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Feedback == nil {
		return BeamPosition{}, false
	}
	return *m.Feedback, true
}

// Commands returns a copy of all recorded angle commands.
func (m *MockActuator) Commands() [][2]float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([][2]float64, len(m.commands))
	copy(out, m.commands)
	return out
}

// Centred returns how many times Center was called.
func (m *MockActuator) Centred() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.centred
}

// Closed reports whether Close was called.
func (m *MockActuator) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

var _ Actuator = (*MockActuator)(nil)
var _ FeedbackReader = (*MockActuator)(nil)
