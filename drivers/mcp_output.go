package drivers

import (
	"context"
	"fmt"

	"github.com/racerxdl/go-mcp23017"
)

const mcpDriverName = "mcpio"

type McpOutputs struct {
	device *mcp23017.Device

	outputs []McpOutput
	isReady bool

	BusNo         uint8
	DevNo         uint8
	InvertOutputs bool
}

type McpOutput struct {
	pin    uint8
	invert bool

	device *mcp23017.Device
}

func (mout *McpOutput) GetState() (state bool, err error) {
	rawState, err := mout.device.DigitalRead(mout.pin)
	if err != nil {
		return
	}

	if mout.invert {
		state = !bool(rawState)
	} else {
		state = bool(rawState)
	}
	return
}

func (mout *McpOutput) Set(state bool) (err error) {
	if mout.invert {
		state = !state
	}

	err = mout.device.DigitalWrite(mout.pin, mcp23017.PinLevel(state))

	return
}

func (mcp *McpOutputs) String() string {
	return mcpDriverName
}

func (mcp *McpOutputs) IsReady() bool {
	return mcp.isReady
}

func (mcp *McpOutputs) Setup(ctx context.Context, outputs []uint16) (err error) {
	mcp.device, err = mcp23017.Open(mcp.BusNo, mcp.DevNo)
	if err != nil {
		return
	}

	for _, outputPin := range outputs {
		if outputPin > 255 {
			err = fmt.Errorf("output pin out of range (mcpio takes uint8 pin id)")
			return
		}
		err = mcp.device.PinMode(uint8(outputPin), mcp23017.OUTPUT)
		if err != nil {
			return
		}
		mcp.outputs = append(mcp.outputs, McpOutput{pin: uint8(outputPin), invert: mcp.InvertOutputs, device: mcp.device})
	}

	mcp.isReady = err == nil

	return
}

func (mcp *McpOutputs) GetOutput(id uint16) (output DigitalOutput, err error) {
	for _, out := range mcp.outputs {
		if out.pin == uint8(id) {
			output = &out
			return
		}
	}

	err = fmt.Errorf("mcpio output (id: %d) not found", id)
	return
}

func (mcp *McpOutputs) Close() error {
	mcp.isReady = false
	for _, output := range mcp.outputs {
		output.Set(false)
	}
	if mcp.device == nil {
		return nil
	}
	return mcp.device.Close()
}

func (mcp *McpOutputs) GetAllOutputs() (outputs []uint16) {
	for _, output := range mcp.outputs {
		outputs = append(outputs, uint16(output.pin))
	}

	return
}
