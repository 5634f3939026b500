package drivers

import "testing"

func TestWireSensorPath(t *testing.T) {
	w1 := &WireStore{}

	cases := map[string]string{
		"0x2ca4e":    "/sys/bus/w1/devices/28-00000002ca4e/temperature",
		"255":        "/sys/bus/w1/devices/28-0000000000ff/temperature",
		"0X00001AbC": "/sys/bus/w1/devices/28-000000001abc/temperature",
	}

	for id, want := range cases {
		got, err := w1.sensorPath(id)
		if err != nil {
			t.Fatalf("got error for id %s: %v", id, err)
		}
		if got != want {
			t.Errorf("got %s want %s", got, want)
		}
	}

	_, err := w1.sensorPath("not-a-number")
	if err == nil {
		t.Error("got nil error for malformed id")
	}
}

func TestWireCheckBounds(t *testing.T) {
	w1 := &WireStore{CheckBounds: true, BoundMinimumMillis: -10000, BoundMaximumMillis: 85000}

	if !w1.checkBounds(21500) {
		t.Error("in-range readout rejected")
	}
	if w1.checkBounds(-55000) {
		t.Error("below-minimum readout accepted")
	}
	if w1.checkBounds(125000) {
		t.Error("above-maximum readout accepted")
	}
}

func TestWireStoreNotReady(t *testing.T) {
	w1 := &WireStore{}

	_, err := w1.GetLatest("0x2ca4e", 0)
	if err == nil {
		t.Error("got nil error from store that was never set up")
	}
}
