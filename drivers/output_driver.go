package drivers

import "context"

// OutputDriver switches digital outputs, used to power a probe circuit
// before a measurement cycle.
type OutputDriver interface {
	Setup(ctx context.Context, outputs []uint16) error
	Close() error
	String() string
	IsReady() bool
	GetOutput(pin uint16) (DigitalOutput, error)
	GetAllOutputs() []uint16
}

func MapAllOutputDrivers() map[string]OutputDriver {
	drivers := []OutputDriver{
		&GpioOutputs{},
		&McpOutputs{},
		&MockOutputs{},
	}

	mapped := make(map[string]OutputDriver)
	for _, driver := range drivers {
		mapped[driver.String()] = driver
	}
	return mapped
}

type DigitalOutput interface {
	GetState() (bool, error)
	Set(bool) error
}
