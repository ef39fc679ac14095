package galvo

import (
	"context"
	"fmt"
	"sync"

	"go.bug.st/serial"

	"github.com/banshee-data/beamtrack/internal/monitoring"
)

// SerialActuator drives the galvo controller board over a serial link. The
// board accepts absolute DAC voltages as text lines:
//
//	V <voltage_a> <voltage_b>\n
//
// and acknowledges asynchronously; writes are fire-and-forget on the Go side
// with the line buffered by the OS driver.
type SerialActuator struct {
	mu   sync.Mutex
	port serial.Port
	cal  *AffineCalibration
}

// NewSerialActuator opens the galvo serial port and centres the mirror.
func NewSerialActuator(portName string, cal *AffineCalibration) (*SerialActuator, error) {
	mode := &serial.Mode{
		BaudRate: 115200,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: 1,
	}

	port, err := serial.Open(portName, mode)
	if err != nil {
		return nil, fmt.Errorf("failed to open galvo port %s: %w", portName, err)
	}

	a := &SerialActuator{port: port, cal: cal}
	if err := a.Center(context.Background()); err != nil {
		port.Close()
		return nil, err
	}
	return a, nil
}

// SetAngles converts angles to DAC voltages through the affine calibration
// and writes the drive line. The context deadline bounds the write.
func (a *SerialActuator) SetAngles(ctx context.Context, angleXRad, angleYRad float64) error {
	xv, yv := a.cal.AnglesToVoltage(angleXRad, angleYRad)
	return a.writeVoltages(ctx, VoltageCenter+xv, VoltageCenter+yv)
}

// Center drives both axes to the mid-scale rest position.
func (a *SerialActuator) Center(ctx context.Context) error {
	return a.writeVoltages(ctx, VoltageCenter, VoltageCenter)
}

// Close centres the mirror and closes the port.
func (a *SerialActuator) Close() error {
	if err := a.Center(context.Background()); err != nil {
		monitoring.Logf("galvo: centre on close failed: %v", err)
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.port.Close()
}

func (a *SerialActuator) writeVoltages(ctx context.Context, va, vb float64) error {
	line := fmt.Sprintf("V %.4f %.4f\n", va, vb)

	// Serial writes complete in well under a control period when the
	// driver is healthy; a blocked write is detected by the deadline and
	// surfaced as a missed period.
	done := make(chan error, 1)
	go func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		_, err := a.port.Write([]byte(line))
		done <- err
	}()

	select {
	case err := <-done:
		if err != nil {
			return fmt.Errorf("galvo write: %w", err)
		}
		return nil
	case <-ctx.Done():
		return ErrWriteTimeout
	}
}
