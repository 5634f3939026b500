package drivers

import (
	"context"
	"fmt"
	"io"
)

const mockDriverName = "mock_driver"

type MockOutput struct {
	state            bool
	pin              uint16
	writeTo          io.Writer
	writeStateChange bool
}

func (mo *MockOutput) GetState() (bool, error) {
	return mo.state, nil
}

func (mo *MockOutput) Set(state bool) error {
	if mo.writeStateChange && state != mo.state {
		fmt.Fprintf(mo.writeTo, "[pin %d] state changed to %v\n", mo.pin, state)
	}
	mo.state = state
	return nil
}

// MockOutputs switches nothing; it stands in for a real output driver in
// tests and dry runs.
type MockOutputs struct {
	outputs []*MockOutput
	ready   bool
}

func (md *MockOutputs) Setup(ctx context.Context, outputs []uint16) error {
	for _, outPin := range outputs {
		md.outputs = append(md.outputs, &MockOutput{pin: outPin})
	}
	md.ready = true
	return nil
}

func (md *MockOutputs) Close() error {
	md.ready = false
	return nil
}

func (md *MockOutputs) String() string {
	return mockDriverName
}

func (md *MockOutputs) IsReady() bool {
	return md.ready
}

func (md *MockOutputs) GetOutput(pin uint16) (DigitalOutput, error) {
	for _, output := range md.outputs {
		if pin == output.pin {
			return output, nil
		}
	}
	return nil, fmt.Errorf("mock output %d not found", pin)
}

func (md *MockOutputs) GetAllOutputs() (outputs []uint16) {
	for _, output := range md.outputs {
		outputs = append(outputs, output.pin)
	}
	return
}

// MonitorStateChanges makes every output write its state transitions to
// the writer.
func (md *MockOutputs) MonitorStateChanges(writer io.Writer) {
	for _, out := range md.outputs {
		out.writeTo = writer
		out.writeStateChange = true
	}
}
