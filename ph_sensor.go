package mycodo

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/jshsltr/Mycodo/drivers"
)

const (
	defaultI2CAddress   = "0x63"
	defaultI2CBus       = 1
	defaultUartLocation = "/dev/ttyAMA0"
	defaultBaudRate     = 9600
	defaultFtdiLocation = "/dev/ttyUSB0"

	defaultCompMaxAgeSeconds = 120

	compensationSettleDelay = 500 * time.Millisecond

	readCommand     = "R"
	checkProbeToken = "check probe"

	phMeasurementIndex = 0
)

var openTransport = drivers.OpenTransport

// PreOutput runs a digital output (a pump or stirrer feeding the probe
// chamber) for a fixed duration before every reading.
type PreOutput struct {
	Driver   string
	Pin      uint16
	Duration string
}

// PhSensor is one Atlas Scientific pH probe, optionally temperature
// compensated from a measurement store and optionally preceded by a
// powered output.
type PhSensor struct {
	Id        string
	Name      string
	Interface drivers.Interface

	I2CLocation  string
	I2CBus       int
	UartLocation string
	BaudRate     int
	FtdiLocation string

	TemperatureCompDriver string
	TemperatureCompSource string
	TemperatureCompMaxAge *int

	PreOutput *PreOutput

	transport     *drivers.Transport
	commander     *AtlasCommander
	store         drivers.MeasurementStore
	maxAge        time.Duration
	preOutputHold time.Duration
	logger        *log.Logger
	setupErr      error
}

// Init validates the configuration, opens the transport and probes the
// board. Configuration mistakes are returned; a missing or unresponsive
// device is logged and kept as a queryable fault so the daemon can start
// with the probe unplugged.
func (ph *PhSensor) Init(store drivers.MeasurementStore) error {
	ph.logger = log.NewWithOptions(os.Stderr, log.Options{Prefix: ph.Id, Level: log.GetLevel()})
	ph.store = store

	maxAge := defaultCompMaxAgeSeconds
	if ph.TemperatureCompMaxAge != nil {
		maxAge = *ph.TemperatureCompMaxAge
	}
	if maxAge <= 0 {
		return errors.Errorf("compensation max age must be positive, got %d", maxAge)
	}
	ph.maxAge = time.Duration(maxAge) * time.Second

	if ph.PreOutput != nil {
		hold, err := time.ParseDuration(ph.PreOutput.Duration)
		if err != nil {
			return errors.Wrapf(err, "failed to parse pre output duration for sensor %s", ph.Id)
		}
		ph.preOutputHold = hold
	}

	handle, err := ph.deviceHandle()
	if err != nil {
		return err
	}

	transport, err := openTransport(handle)
	if err != nil {
		ph.setupErr = err
		ph.logger.Error("failed to open sensor transport", "device", handle.String(), "err", err)
		return nil
	}
	ph.transport = transport
	ph.commander = NewAtlasCommander(transport, ph.logger)

	// The first reading after power-up is unreliable and gets discarded.
	ph.Measure()

	return nil
}

// deviceHandle resolves the configured location fields into a concrete
// device handle, filling in the Atlas factory defaults.
func (ph *PhSensor) deviceHandle() (handle drivers.DeviceHandle, err error) {
	switch ph.Interface {
	case drivers.InterfaceI2C:
		location := ph.I2CLocation
		if len(location) == 0 {
			location = defaultI2CAddress
		}
		addr, perr := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(location), "0x"), 16, 16)
		if perr != nil {
			err = errors.Wrapf(perr, "failed to parse i2c address %s of sensor %s", location, ph.Id)
			return
		}
		bus := ph.I2CBus
		if bus == 0 {
			bus = defaultI2CBus
		}
		handle = drivers.DeviceHandle{Kind: drivers.InterfaceI2C, I2CAddress: uint16(addr), I2CBus: bus}
	case drivers.InterfaceUART:
		location := ph.UartLocation
		if len(location) == 0 {
			location = defaultUartLocation
		}
		baud := ph.BaudRate
		if baud == 0 {
			baud = defaultBaudRate
		}
		handle = drivers.DeviceHandle{Kind: drivers.InterfaceUART, UartLocation: location, BaudRate: baud}
	case drivers.InterfaceFTDI:
		location := ph.FtdiLocation
		if len(location) == 0 {
			location = defaultFtdiLocation
		}
		baud := ph.BaudRate
		if baud == 0 {
			baud = defaultBaudRate
		}
		handle = drivers.DeviceHandle{Kind: drivers.InterfaceFTDI, FtdiLocation: location, BaudRate: baud}
	default:
		err = errors.Errorf("unknown interface %s of sensor %s", ph.Interface, ph.Id)
	}

	return
}

func (ph *PhSensor) IsSetUp() bool {
	return ph.transport != nil && ph.transport.IsSetUp()
}

// Measure runs one measurement cycle: temperature compensation when
// configured, then a single read. The returned map carries the pH value
// under its measurement index, nil when the reading failed.
func (ph *PhSensor) Measure() map[int]*float64 {
	values := map[int]*float64{phMeasurementIndex: nil}

	if !ph.IsSetUp() {
		ph.log().Error("sensor not set up")
		return values
	}

	ph.compensateTemperature()

	value, err := ph.readValue()
	if err != nil {
		ph.log().Error("measurement failed", "err", err)
		return values
	}

	values[phMeasurementIndex] = &value
	return values
}

// compensateTemperature pushes the latest temperature into the probe when
// a compensation source is configured. A stale or missing measurement is
// logged and the reading proceeds uncompensated.
func (ph *PhSensor) compensateTemperature() {
	if len(ph.TemperatureCompSource) == 0 || ph.commander == nil {
		return
	}

	sample, err := ph.lookupCompensation()
	if err != nil {
		ph.log().Warn(
			fmt.Sprintf("compensation measurement not found within past %d seconds", int(ph.maxAge.Seconds())),
			"err", err)
		return
	}

	result := ph.commander.Calibrate(CalibrationRequest{Command: CalibrateTemperature, Operand: &sample.Value})
	time.Sleep(compensationSettleDelay)
	ph.log().Debug("applied temperature compensation",
		"temperature", sample.Value, "ok", result.OK, "message", result.Message)
}

func (ph *PhSensor) lookupCompensation() (sample drivers.Sample, err error) {
	if ph.store == nil {
		err = errors.Errorf("no measurement store bound for compensation driver %s", ph.TemperatureCompDriver)
		return
	}

	sample, err = ph.store.GetLatest(ph.TemperatureCompSource, ph.maxAge)
	if err != nil {
		return
	}
	if sample.Age > ph.maxAge {
		err = errors.Errorf("measurement from %s is %v old, limit is %v", ph.TemperatureCompSource, sample.Age, ph.maxAge)
	}

	return
}

func (ph *PhSensor) readValue() (value float64, err error) {
	switch {
	case ph.transport.Pair != nil:
		status, payload, qerr := ph.transport.Pair.Query(readCommand)
		if qerr != nil {
			err = errors.Wrap(qerr, "sensor read failed")
			return
		}
		return parsePairResponse(status, payload)
	case ph.transport.Line != nil:
		_, lines, qerr := ph.transport.Line.Query(readCommand)
		if qerr != nil {
			err = errors.Wrap(qerr, "sensor read failed")
			return
		}
		return parseLineResponse(lines)
	}

	err = errors.New("transport not bound to any device")
	return
}

// parseLineResponse scans the response lines for the first parseable
// number. An exact "check probe" line anywhere in the response means the
// probe is disconnected and wins over any numeric line.
func parseLineResponse(lines []string) (value float64, err error) {
	for _, line := range lines {
		if line == checkProbeToken {
			err = errors.Errorf("%q returned from sensor", checkProbeToken)
			return
		}
	}

	for _, line := range lines {
		parsed, perr := strconv.ParseFloat(strings.TrimSpace(line), 64)
		if perr == nil {
			value = parsed
			return
		}
	}

	err = errors.New("value not found in returned lines")
	return
}

// parsePairResponse extracts the value from a status/payload response.
// Payloads of at least three comma separated fields carry the reading in
// the third field, plain payloads are the number itself.
func parsePairResponse(status, payload string) (value float64, err error) {
	switch status {
	case drivers.StatusError:
		err = errors.Errorf("sensor read unsuccessful: %s", payload)
		return
	case drivers.StatusSuccess:
		if strings.Contains(payload, ",") {
			fields := strings.Split(payload, ",")
			if len(fields) > 2 {
				parsed, perr := strconv.ParseFloat(strings.TrimSpace(fields[2]), 64)
				if perr == nil {
					value = parsed
					return
				}
			}
		}
		parsed, perr := strconv.ParseFloat(strings.TrimSpace(payload), 64)
		if perr == nil {
			value = parsed
			return
		}
		err = errors.Errorf("could not determine value from string: %s", payload)
		return
	}

	err = errors.Errorf("unrecognized response status: %s", status)
	return
}

// Calibrate forwards the request to the board. A sensor whose transport
// never opened reports that instead of sending anything.
func (ph *PhSensor) Calibrate(req CalibrationRequest) CommandResult {
	if ph.commander == nil {
		return CommandResult{Message: "sensor not set up"}
	}
	return ph.commander.Calibrate(req)
}

// SensorStatus is the externally visible state of one sensor.
type SensorStatus struct {
	Id        string         `json:"id"`
	Name      string         `json:"name,omitempty"`
	Interface string         `json:"interface"`
	Ready     bool           `json:"ready"`
	Board     *BoardIdentity `json:"board,omitempty"`
	Fault     string         `json:"fault,omitempty"`
}

func (ph *PhSensor) Status() SensorStatus {
	status := SensorStatus{
		Id:        ph.Id,
		Name:      ph.Name,
		Interface: string(ph.Interface),
		Ready:     ph.IsSetUp(),
	}

	if ph.setupErr != nil {
		status.Fault = ph.setupErr.Error()
	}

	if ph.commander != nil {
		identity := ph.commander.Identity()
		if identity.Version != BoardUnknown {
			status.Board = &identity
		}
		if fault := ph.commander.InitFault(); fault != nil {
			status.Fault = fault.Error()
		}
	}

	return status
}

func (ph *PhSensor) Close() error {
	if ph.transport == nil {
		return nil
	}
	return errors.Wrapf(ph.transport.Close(), "failed to close transport of sensor %s", ph.Id)
}

func (ph *PhSensor) log() *log.Logger {
	if ph.logger == nil {
		ph.logger = log.Default()
	}
	return ph.logger
}
