package drivers

import (
	"testing"
	"time"

	"github.com/pkg/errors"
)

func TestDeviceHandleString(t *testing.T) {
	cases := []struct {
		handle DeviceHandle
		want   string
	}{
		{DeviceHandle{Kind: InterfaceI2C, I2CBus: 1, I2CAddress: 0x63}, "i2c-1:0x63"},
		{DeviceHandle{Kind: InterfaceUART, UartLocation: "/dev/ttyAMA0"}, "uart:/dev/ttyAMA0"},
		{DeviceHandle{Kind: InterfaceFTDI, FtdiLocation: "/dev/ttyUSB0"}, "ftdi:/dev/ttyUSB0"},
	}

	for _, c := range cases {
		if got := c.handle.String(); got != c.want {
			t.Errorf("got %s want %s", got, c.want)
		}
	}
}

func TestTransportSend(t *testing.T) {
	t.Run("pair payload", func(t *testing.T) {
		transport := &Transport{Pair: &MockPairDevice{
			Ready:    true,
			Fallback: PairResponse{Status: StatusSuccess, Payload: "?CAL,1"},
		}}

		msg, err := transport.Send("Cal,?")
		if err != nil {
			t.Fatalf("got error: %v", err)
		}
		if msg != "?CAL,1" {
			t.Errorf("got %s want ?CAL,1", msg)
		}
	})

	t.Run("pair error status", func(t *testing.T) {
		transport := &Transport{Pair: &MockPairDevice{
			Ready:    true,
			Fallback: PairResponse{Status: StatusError, Payload: "255"},
		}}

		_, err := transport.Send("R")
		if err == nil {
			t.Fatal("got nil error from error status")
		}
		if err.Error() != "sensor returned error: 255" {
			t.Errorf("got %q", err.Error())
		}
	})

	t.Run("pair query failure", func(t *testing.T) {
		transport := &Transport{Pair: &MockPairDevice{Ready: true, FailWith: errors.New("bus gone")}}

		_, err := transport.Send("R")
		if err == nil || err.Error() != "bus gone" {
			t.Errorf("got %v, want bus gone", err)
		}
	})

	t.Run("line join", func(t *testing.T) {
		transport := &Transport{Line: &MockLineDevice{
			Ready:    true,
			Fallback: []string{"?CAL,2", "*OK"},
		}}

		msg, err := transport.Send("Cal,?")
		if err != nil {
			t.Fatalf("got error: %v", err)
		}
		if msg != "?CAL,2; *OK" {
			t.Errorf("got %q", msg)
		}
	})

	t.Run("unbound", func(t *testing.T) {
		_, err := (&Transport{}).Send("R")
		if err == nil {
			t.Error("got nil error from unbound transport")
		}
	})
}

func TestTransportIsSetUp(t *testing.T) {
	transport := &Transport{Pair: &MockPairDevice{Ready: true}}

	if !transport.IsSetUp() {
		t.Error("transport not set up with ready device")
	}

	transport.Close()
	if transport.IsSetUp() {
		t.Error("transport still set up after close")
	}
}

func TestProcessingDelay(t *testing.T) {
	cases := map[string]time.Duration{
		"R":            ezoLongDelay,
		"r":            ezoLongDelay,
		"Cal,mid,7.00": ezoLongDelay,
		"cal,dry":      ezoLongDelay,
		"T,25.5":       ezoShortDelay,
		"i":            ezoShortDelay,
		"C,0":          ezoShortDelay,
	}

	for cmd, want := range cases {
		if got := processingDelay(cmd); got != want {
			t.Errorf("processingDelay(%q) = %v, want %v", cmd, got, want)
		}
	}
}

func TestDecodeEzoPayload(t *testing.T) {
	raw := []byte{'7', '.', '0', '0', 0, 0, 0}
	if got := decodeEzoPayload(raw); got != "7.00" {
		t.Errorf("got %q want 7.00", got)
	}

	masked := []byte{0xB7, 0xAE, 0x35, 0x00}
	if got := decodeEzoPayload(masked); got != "7.5" {
		t.Errorf("got %q want 7.5", got)
	}
}
