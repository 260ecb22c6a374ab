// Package buzzer drives an active buzzer wired to a Raspberry Pi GPIO pin.
package buzzer

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/host/v3"
)

// DefaultPin is the BCM pin used when --buzz is given without a value.
const DefaultPin = 17

// Buzzer is switched on for the duration of a ring.
type Buzzer interface {
	On() error
	Off() error
}

// GPIO is a Buzzer on a BCM GPIO output pin.
type GPIO struct {
	pin gpio.PinOut
	mu  sync.Mutex
}

// NewGPIO initializes periph.io and configures BCM pin num as a low output.
func NewGPIO(num int) (*GPIO, error) {
	if num <= 0 {
		return nil, fmt.Errorf("buzzer: invalid pin %d", num)
	}
	if _, err := host.Init(); err != nil {
		return nil, fmt.Errorf("buzzer: periph host init failed: %w", err)
	}

	name := fmt.Sprintf("GPIO%d", num)
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("buzzer: gpio %s not found", name)
	}
	if err := p.Out(gpio.Low); err != nil {
		return nil, fmt.Errorf("buzzer: gpio %s Out failed: %w", name, err)
	}
	return &GPIO{pin: p}, nil
}

func (b *GPIO) On() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pin.Out(gpio.High)
}

func (b *GPIO) Off() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.pin.Out(gpio.Low)
}

// modelPath is the device tree model file on Raspberry Pi OS.
var modelPath = "/proc/device-tree/model"

// ErrNotRaspberryPi is returned by Open on other hosts.
var ErrNotRaspberryPi = errors.New("buzzer: host is not a Raspberry Pi")

// IsRaspberryPi reports whether the device tree model names a Raspberry Pi.
func IsRaspberryPi() bool {
	data, err := os.ReadFile(modelPath)
	if err != nil {
		return false
	}
	return strings.HasPrefix(string(data), "Raspberry Pi")
}

// Open returns the buzzer on pin, or nil when pin is 0. Non-Pi hosts get
// ErrNotRaspberryPi so the caller can warn and continue without a buzzer.
func Open(pin int) (Buzzer, error) {
	if pin == 0 {
		return nil, nil
	}
	if !IsRaspberryPi() {
		return nil, ErrNotRaspberryPi
	}
	g, err := NewGPIO(pin)
	if err != nil {
		return nil, err
	}
	return g, nil
}
