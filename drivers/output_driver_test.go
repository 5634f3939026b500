package drivers

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestMapAllOutputDrivers(t *testing.T) {
	mapped := MapAllOutputDrivers()

	for _, name := range []string{"gpio", "mcpio", "mock_driver"} {
		if _, found := mapped[name]; !found {
			t.Errorf("driver %s missing from map", name)
		}
	}
}

func TestMockOutputs(t *testing.T) {
	mo := &MockOutputs{}

	err := mo.Setup(context.Background(), []uint16{3, 5})
	if err != nil {
		t.Fatalf("got error from Setup: %v", err)
	}

	if !mo.IsReady() {
		t.Error("driver not ready after setup")
	}

	out, err := mo.GetOutput(5)
	if err != nil {
		t.Fatalf("got error from GetOutput: %v", err)
	}

	err = out.Set(true)
	if err != nil {
		t.Fatalf("got error from Set: %v", err)
	}

	state, err := out.GetState()
	if err != nil {
		t.Fatalf("got error from GetState: %v", err)
	}
	if !state {
		t.Error("output state not true after Set(true)")
	}

	_, err = mo.GetOutput(9)
	if err == nil {
		t.Error("got nil error for missing pin")
	}

	pins := mo.GetAllOutputs()
	if len(pins) != 2 || pins[0] != 3 || pins[1] != 5 {
		t.Errorf("got pins %v, want [3 5]", pins)
	}
}

func TestMockOutputsMonitorStateChanges(t *testing.T) {
	mo := &MockOutputs{}
	mo.Setup(context.Background(), []uint16{7})

	buf := &bytes.Buffer{}
	mo.MonitorStateChanges(buf)

	out, _ := mo.GetOutput(7)
	out.Set(true)
	out.Set(true)
	out.Set(false)

	logged := buf.String()
	if !strings.Contains(logged, "[pin 7] state changed to true") {
		t.Errorf("missing on-transition in log: %q", logged)
	}
	if !strings.Contains(logged, "[pin 7] state changed to false") {
		t.Errorf("missing off-transition in log: %q", logged)
	}
	if strings.Count(logged, "state changed") != 2 {
		t.Errorf("expected exactly two transitions, got: %q", logged)
	}
}
