package mycodo

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"

	"github.com/jshsltr/Mycodo/drivers"
)

type mockStore struct {
	ready  bool
	sample drivers.Sample
	err    error

	requests []string
}

func (ms *mockStore) Setup(ctx context.Context) error {
	ms.ready = true
	return nil
}

func (ms *mockStore) Close() error {
	ms.ready = false
	return nil
}

func (ms *mockStore) IsReady() bool {
	return ms.ready
}

func (ms *mockStore) Name() string {
	return "mock_store"
}

func (ms *mockStore) GetLatest(sourceId string, maxAge time.Duration) (drivers.Sample, error) {
	ms.requests = append(ms.requests, sourceId)
	return ms.sample, ms.err
}

func stubTransport(t testing.TB, transport *drivers.Transport, openErr error) {
	t.Helper()

	original := openTransport
	openTransport = func(handle drivers.DeviceHandle) (*drivers.Transport, error) {
		return transport, openErr
	}
	t.Cleanup(func() { openTransport = original })
}

func newPairSensor(t testing.TB, responses map[string]drivers.PairResponse) (*PhSensor, *drivers.MockPairDevice) {
	t.Helper()

	if responses == nil {
		responses = map[string]drivers.PairResponse{}
	}
	if _, found := responses[boardInfoCommand]; !found {
		responses[boardInfoCommand] = drivers.PairResponse{Status: drivers.StatusSuccess, Payload: "?I,pH,1.98"}
	}

	mock := &drivers.MockPairDevice{
		Ready:     true,
		Responses: responses,
		Fallback:  drivers.PairResponse{Status: drivers.StatusSuccess, Payload: "OK"},
	}
	stubTransport(t, &drivers.Transport{Kind: drivers.InterfaceI2C, Pair: mock}, nil)

	return &PhSensor{Id: "tank1", Interface: drivers.InterfaceI2C}, mock
}

func newLineSensor(t testing.TB, responses map[string][]string) (*PhSensor, *drivers.MockLineDevice) {
	t.Helper()

	if responses == nil {
		responses = map[string][]string{}
	}
	if _, found := responses[boardInfoCommand]; !found {
		responses[boardInfoCommand] = []string{"?I,pH,2.12"}
	}

	mock := &drivers.MockLineDevice{
		Ready:     true,
		Responses: responses,
	}
	stubTransport(t, &drivers.Transport{Kind: drivers.InterfaceUART, Line: mock}, nil)

	return &PhSensor{Id: "tank2", Interface: drivers.InterfaceUART}, mock
}

func TestMeasureFromPairDevice(t *testing.T) {
	cases := []struct {
		name     string
		response drivers.PairResponse
		want     *float64
	}{
		{"third field of multi value payload", drivers.PairResponse{Status: drivers.StatusSuccess, Payload: "6.99,abc,7.01"}, floatPtr(7.01)},
		{"plain payload", drivers.PairResponse{Status: drivers.StatusSuccess, Payload: "9.87"}, floatPtr(9.87)},
		{"unparseable payload", drivers.PairResponse{Status: drivers.StatusSuccess, Payload: "abc,def"}, nil},
		{"device error", drivers.PairResponse{Status: drivers.StatusError, Payload: "254"}, nil},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ph, mock := newPairSensor(t, map[string]drivers.PairResponse{
				readCommand: c.response,
			})

			err := ph.Init(nil)
			if err != nil {
				t.Fatalf("got error from Init: %v", err)
			}
			mock.Queries = nil

			got := ph.Measure()[phMeasurementIndex]

			if c.want == nil && got != nil {
				t.Errorf("got value %v, want none", *got)
			}
			if c.want != nil {
				if got == nil {
					t.Fatalf("got no value, want %v", *c.want)
				}
				assertFloats(t, *got, *c.want)
			}

			assertQueries(t, mock.Queries, readCommand)
		})
	}
}

func TestMeasureFromLineDevice(t *testing.T) {
	cases := []struct {
		name  string
		lines []string
		want  *float64
	}{
		{"single value", []string{"7.12"}, floatPtr(7.12)},
		{"noise before value", []string{"*OK", "6.50"}, floatPtr(6.5)},
		{"whitespace tolerated", []string{" 6.5 "}, floatPtr(6.5)},
		{"check probe wins over value", []string{"check probe", "7.00"}, nil},
		{"no value", []string{"*OK", "*ER"}, nil},
		{"empty response", nil, nil},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			ph, mock := newLineSensor(t, map[string][]string{
				readCommand: c.lines,
			})

			err := ph.Init(nil)
			if err != nil {
				t.Fatalf("got error from Init: %v", err)
			}
			mock.Queries = nil

			got := ph.Measure()[phMeasurementIndex]

			if c.want == nil && got != nil {
				t.Errorf("got value %v, want none", *got)
			}
			if c.want != nil {
				if got == nil {
					t.Fatalf("got no value, want %v", *c.want)
				}
				assertFloats(t, *got, *c.want)
			}

			assertQueries(t, mock.Queries, readCommand)
		})
	}
}

func TestMeasureWhenTransportNeverOpened(t *testing.T) {
	stubTransport(t, nil, errors.New("no bus"))

	ph := &PhSensor{Id: "tank3", Interface: drivers.InterfaceI2C}
	err := ph.Init(nil)
	if err != nil {
		t.Fatalf("got error from Init: %v", err)
	}

	if ph.IsSetUp() {
		t.Error("sensor reports set up with failed transport")
	}

	if got := ph.Measure()[phMeasurementIndex]; got != nil {
		t.Errorf("got value %v from sensor that is not set up", *got)
	}

	status := ph.Status()
	if status.Ready {
		t.Error("status reports ready")
	}
	if len(status.Fault) == 0 {
		t.Error("status missing fault")
	}

	result := ph.Calibrate(CalibrationRequest{Command: CalibrateMid})
	assertResult(t, result, false, "sensor not set up")
}

func TestTemperatureCompensation(t *testing.T) {
	newCompSensor := func(t testing.TB, store *mockStore, maxAge *int) (*PhSensor, *drivers.MockPairDevice) {
		t.Helper()

		ph, mock := newPairSensor(t, map[string]drivers.PairResponse{
			readCommand: {Status: drivers.StatusSuccess, Payload: "7.00"},
		})
		ph.TemperatureCompSource = "w1-tank"
		ph.TemperatureCompMaxAge = maxAge

		err := ph.Init(store)
		if err != nil {
			t.Fatalf("got error from Init: %v", err)
		}
		mock.Queries = nil
		store.requests = nil

		return ph, mock
	}

	t.Run("fresh sample compensates before read", func(t *testing.T) {
		store := &mockStore{ready: true, sample: drivers.Sample{Value: 21.5, Age: 80 * time.Second}}
		ph, mock := newCompSensor(t, store, nil)

		ph.Measure()

		assertQueries(t, mock.Queries, "T,21.5", readCommand)
		if len(store.requests) != 1 || store.requests[0] != "w1-tank" {
			t.Errorf("got store requests %v", store.requests)
		}
	})

	t.Run("age equal to limit still accepted", func(t *testing.T) {
		store := &mockStore{ready: true, sample: drivers.Sample{Value: 20, Age: 120 * time.Second}}
		ph, mock := newCompSensor(t, store, nil)

		ph.Measure()

		assertQueries(t, mock.Queries, "T,20", readCommand)
	})

	t.Run("stale sample skipped", func(t *testing.T) {
		store := &mockStore{ready: true, sample: drivers.Sample{Value: 20, Age: 121 * time.Second}}
		ph, mock := newCompSensor(t, store, nil)

		ph.Measure()

		assertQueries(t, mock.Queries, readCommand)
	})

	t.Run("custom max age", func(t *testing.T) {
		store := &mockStore{ready: true, sample: drivers.Sample{Value: 20, Age: 61 * time.Second}}
		ph, mock := newCompSensor(t, store, intPtr(60))

		ph.Measure()

		assertQueries(t, mock.Queries, readCommand)
	})

	t.Run("store failure skipped", func(t *testing.T) {
		store := &mockStore{ready: true, err: errors.New("influx down")}
		ph, mock := newCompSensor(t, store, nil)

		ph.Measure()

		assertQueries(t, mock.Queries, readCommand)
	})

	t.Run("no store bound", func(t *testing.T) {
		ph, mock := newPairSensor(t, map[string]drivers.PairResponse{
			readCommand: {Status: drivers.StatusSuccess, Payload: "7.00"},
		})
		ph.TemperatureCompSource = "w1-tank"

		err := ph.Init(nil)
		if err != nil {
			t.Fatalf("got error from Init: %v", err)
		}
		mock.Queries = nil

		got := ph.Measure()[phMeasurementIndex]
		if got == nil {
			t.Error("got no value")
		}
		assertQueries(t, mock.Queries, readCommand)
	})
}

func TestInitConfigurationErrors(t *testing.T) {
	cases := []struct {
		name   string
		sensor *PhSensor
	}{
		{"bad i2c address", &PhSensor{Id: "bad", Interface: drivers.InterfaceI2C, I2CLocation: "zz"}},
		{"unknown interface", &PhSensor{Id: "bad", Interface: drivers.Interface("SPI")}},
		{"non-positive max age", &PhSensor{Id: "bad", Interface: drivers.InterfaceI2C, TemperatureCompMaxAge: intPtr(0)}},
		{"bad pre output duration", &PhSensor{Id: "bad", Interface: drivers.InterfaceI2C, PreOutput: &PreOutput{Driver: "mock_driver", Pin: 5, Duration: "soon"}}},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			stubTransport(t, &drivers.Transport{Kind: drivers.InterfaceI2C, Pair: &drivers.MockPairDevice{Ready: true}}, nil)

			err := c.sensor.Init(nil)
			if err == nil {
				t.Error("got nil error from Init")
			}
		})
	}
}

func TestDeviceHandleDefaults(t *testing.T) {
	t.Run("i2c", func(t *testing.T) {
		ph := &PhSensor{Interface: drivers.InterfaceI2C}

		handle, err := ph.deviceHandle()
		if err != nil {
			t.Fatalf("got error: %v", err)
		}
		if handle.I2CAddress != 0x63 || handle.I2CBus != 1 {
			t.Errorf("got handle %+v", handle)
		}
	})

	t.Run("i2c explicit", func(t *testing.T) {
		ph := &PhSensor{Interface: drivers.InterfaceI2C, I2CLocation: "0x65", I2CBus: 3}

		handle, err := ph.deviceHandle()
		if err != nil {
			t.Fatalf("got error: %v", err)
		}
		if handle.I2CAddress != 0x65 || handle.I2CBus != 3 {
			t.Errorf("got handle %+v", handle)
		}
	})

	t.Run("uart", func(t *testing.T) {
		ph := &PhSensor{Interface: drivers.InterfaceUART}

		handle, err := ph.deviceHandle()
		if err != nil {
			t.Fatalf("got error: %v", err)
		}
		if handle.UartLocation != "/dev/ttyAMA0" || handle.BaudRate != 9600 {
			t.Errorf("got handle %+v", handle)
		}
	})

	t.Run("ftdi", func(t *testing.T) {
		ph := &PhSensor{Interface: drivers.InterfaceFTDI}

		handle, err := ph.deviceHandle()
		if err != nil {
			t.Fatalf("got error: %v", err)
		}
		if handle.FtdiLocation != "/dev/ttyUSB0" || handle.BaudRate != 9600 {
			t.Errorf("got handle %+v", handle)
		}
	})
}

func TestParsePairResponse(t *testing.T) {
	t.Run("third field wins", func(t *testing.T) {
		got, err := parsePairResponse(drivers.StatusSuccess, "6.99,abc,7.01")
		if err != nil {
			t.Fatalf("got error: %v", err)
		}
		assertFloats(t, got, 7.01)
	})

	t.Run("plain value", func(t *testing.T) {
		got, err := parsePairResponse(drivers.StatusSuccess, "9.871")
		if err != nil {
			t.Fatalf("got error: %v", err)
		}
		assertFloats(t, got, 9.871)
	})

	t.Run("two comma fields are not a value", func(t *testing.T) {
		_, err := parsePairResponse(drivers.StatusSuccess, "7.00,foo")
		if err == nil {
			t.Fatal("got nil error")
		}
		if err.Error() != "could not determine value from string: 7.00,foo" {
			t.Errorf("got %q", err.Error())
		}
	})

	t.Run("device error", func(t *testing.T) {
		_, err := parsePairResponse(drivers.StatusError, "254")
		if err == nil {
			t.Fatal("got nil error")
		}
		if err.Error() != "sensor read unsuccessful: 254" {
			t.Errorf("got %q", err.Error())
		}
	})

	t.Run("unknown status", func(t *testing.T) {
		_, err := parsePairResponse("weird", "x")
		if err == nil {
			t.Fatal("got nil error")
		}
		if err.Error() != "unrecognized response status: weird" {
			t.Errorf("got %q", err.Error())
		}
	})
}

func TestParseLineResponse(t *testing.T) {
	t.Run("first float wins", func(t *testing.T) {
		got, err := parseLineResponse([]string{"99.9", "7.0"})
		if err != nil {
			t.Fatalf("got error: %v", err)
		}
		assertFloats(t, got, 99.9)
	})

	t.Run("check probe beats later value", func(t *testing.T) {
		_, err := parseLineResponse([]string{"7.0", "check probe"})
		if err == nil {
			t.Error("got nil error with check probe line present")
		}
	})

	t.Run("no parseable line", func(t *testing.T) {
		_, err := parseLineResponse([]string{"*ER"})
		if err == nil {
			t.Fatal("got nil error")
		}
		if err.Error() != "value not found in returned lines" {
			t.Errorf("got %q", err.Error())
		}
	})
}
