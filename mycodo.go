package mycodo

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/jshsltr/Mycodo/drivers"
	"github.com/jshsltr/Mycodo/mqtt"
)

const phFieldName = "pH"
const phTopicFormat = "mycodo/%s/ph"
const defaultStoreDriver = "influx"
const mqttDisconnectTimeout = time.Second

// Daemon owns the configured sensors, the drivers they depend on and the
// publication sinks. Its exported fields are filled straight from the
// configuration file.
type Daemon struct {
	Name   string
	Token  string
	Listen string

	MqttBroker string

	PhSensors []*PhSensor

	Influx     *drivers.InfluxStore
	Wire       *drivers.WireStore
	Gpio       *drivers.GpioOutputs
	Mcp23017   *drivers.McpOutputs
	FakeOutput *drivers.MockOutputs

	outputDrivers map[string]drivers.OutputDriver
	storeDrivers  map[string]drivers.MeasurementStore
	mqttClient    *mqtt.MqttClient
	metrics       *Metrics
	ticker        *time.Ticker
	server        *http.Server
	serverErr     chan error
}

// Measurement is the payload published after every successful reading.
type Measurement struct {
	SensorId  string    `json:"sensor_id"`
	Name      string    `json:"name,omitempty"`
	PH        float64   `json:"ph"`
	Timestamp time.Time `json:"timestamp"`
}

func (d *Daemon) getPreOutputPins(driverName string) (pins []uint16) {
	for _, ph := range d.PhSensors {
		if ph.PreOutput != nil && strings.EqualFold(ph.PreOutput.Driver, driverName) {
			pins = append(pins, ph.PreOutput.Pin)
		}
	}

	return
}

// InitDrivers sets up the configured output drivers and measurement
// stores. A sensor referencing a missing output driver is a hard error; a
// store that fails setup only degrades temperature compensation.
func (d *Daemon) InitDrivers(ctx context.Context) error {
	d.outputDrivers = make(map[string]drivers.OutputDriver)
	d.storeDrivers = make(map[string]drivers.MeasurementStore)
	d.metrics = NewMetrics()

	if d.Gpio != nil {
		d.outputDrivers[d.Gpio.String()] = d.Gpio
	}

	if d.Mcp23017 != nil {
		d.outputDrivers[d.Mcp23017.String()] = d.Mcp23017
	}

	if d.FakeOutput != nil {
		d.outputDrivers[d.FakeOutput.String()] = d.FakeOutput
	}

	for _, driver := range d.outputDrivers {
		err := driver.Setup(ctx, d.getPreOutputPins(driver.String()))
		if err != nil {
			return errors.Wrapf(err, "failed to setup %s output driver", driver)
		}
	}

	for _, ph := range d.PhSensors {
		if ph.PreOutput == nil {
			continue
		}
		_, driverFound := d.outputDrivers[ph.PreOutput.Driver]
		if !driverFound {
			return errors.Errorf("output driver %s not set up", ph.PreOutput.Driver)
		}
	}

	if d.Influx != nil {
		d.storeDrivers[d.Influx.Name()] = d.Influx
	}

	if d.Wire != nil {
		d.storeDrivers[d.Wire.Name()] = d.Wire
	}

	for name, store := range d.storeDrivers {
		err := store.Setup(ctx)
		if err != nil {
			log.Warn("measurement store setup failed, temperature compensation degraded",
				"store", name, "err", err)
		}
	}

	return nil
}

// InitSensors binds each sensor to its compensation store and runs its
// init sequence.
func (d *Daemon) InitSensors() error {
	for _, ph := range d.PhSensors {
		var store drivers.MeasurementStore
		if len(ph.TemperatureCompSource) > 0 {
			driverName := ph.TemperatureCompDriver
			if len(driverName) == 0 {
				driverName = defaultStoreDriver
			}
			found := false
			store, found = d.storeDrivers[driverName]
			if !found {
				log.Warn("compensation store not configured, sensor will measure uncompensated",
					"sensor", ph.Id, "store", driverName)
			}
		}

		err := ph.Init(store)
		if err != nil {
			return errors.Wrapf(err, "failed to init sensor %s", ph.Id)
		}
	}

	return nil
}

func (d *Daemon) InitMqtt() (err error) {
	if len(d.MqttBroker) == 0 {
		err = errors.New("mqtt broker not set")
		return
	}

	mc, err := mqtt.NewMqttClient(d.MqttBroker, d.Name)
	if err != nil {
		err = errors.Wrap(err, "failed to create mqtt client")
		return
	}

	d.mqttClient = mc

	err = mc.Connect()
	if err != nil {
		err = errors.Wrap(err, "failed to connect to mqtt broker")
	}

	return
}

// StartTicker runs the measurement loop until the process exits. Each
// tick measures every sensor and fans the readings out to the configured
// sinks.
func (d *Daemon) StartTicker(interval time.Duration) {
	d.ticker = time.NewTicker(interval)

	for {
		select {
		case <-d.ticker.C:
			{
				for _, ph := range d.PhSensors {
					d.measureAndPublish(ph)
				}
			}
		case err := <-d.serverErr:
			log.Error("http server stopped", "err", err)
			d.serverErr = nil
		}
	}
}

func (d *Daemon) measureAndPublish(ph *PhSensor) {
	d.setPreOutput(ph, true)
	values := ph.Measure()
	d.setPreOutput(ph, false)

	d.metrics.Observe(ph.Id, values)

	value := values[phMeasurementIndex]
	if value == nil {
		return
	}

	if d.Influx != nil && d.Influx.IsReady() {
		err := d.Influx.WriteMeasurement(ph.Id, phFieldName, *value)
		if err != nil {
			log.Error("failed to write measurement", "sensor", ph.Id, "err", err)
		}
	}

	if d.mqttClient != nil {
		payload, err := json.Marshal(Measurement{
			SensorId:  ph.Id,
			Name:      ph.Name,
			PH:        *value,
			Timestamp: time.Now(),
		})
		if err == nil {
			err = d.mqttClient.Publish(fmt.Sprintf(phTopicFormat, ph.Id), payload)
		}
		if err != nil {
			log.Error("failed to publish measurement", "sensor", ph.Id, "err", err)
		}
	}
}

// setPreOutput switches the sensor's pre-measurement output and, when
// switching on, holds for the configured duration so the probe chamber is
// flushed before the reading.
func (d *Daemon) setPreOutput(ph *PhSensor, state bool) {
	if ph.PreOutput == nil {
		return
	}

	driver, found := d.outputDrivers[ph.PreOutput.Driver]
	if !found {
		return
	}

	output, err := driver.GetOutput(ph.PreOutput.Pin)
	if err != nil {
		log.Error("pre output pin not available", "sensor", ph.Id, "err", err)
		return
	}

	err = output.Set(state)
	if err != nil {
		log.Error("failed to switch pre output", "sensor", ph.Id, "state", state, "err", err)
		return
	}

	if state && ph.preOutputHold > 0 {
		time.Sleep(ph.preOutputHold)
	}
}

func (d *Daemon) Close() (err error) {
	if d.ticker != nil {
		d.ticker.Stop()
	}

	if d.server != nil {
		err = collectErr(err, d.server.Close(), "failed to close http server")
	}

	for _, ph := range d.PhSensors {
		err = collectErr(err, ph.Close(), "failed to close sensor")
	}

	for name, driver := range d.outputDrivers {
		err = collectErr(err, driver.Close(), fmt.Sprintf("failed to close %s output driver", name))
	}

	for name, store := range d.storeDrivers {
		err = collectErr(err, store.Close(), fmt.Sprintf("failed to close %s store", name))
	}

	if d.mqttClient != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mqttDisconnectTimeout)
		defer cancel()
		err = collectErr(err, d.mqttClient.Disconnect(ctx), "failed to disconnect mqtt")
	}

	return
}

// collectErr folds closeErr into err so no close failure is dropped.
func collectErr(err error, closeErr error, message string) error {
	if closeErr == nil {
		return err
	}

	wrapped := errors.Wrap(closeErr, message)
	if err == nil {
		return wrapped
	}

	return errors.Wrap(wrapped, err.Error())
}

// PrintStatus writes a human readable dump of sensors, stores and output
// drivers.
func (d *Daemon) PrintStatus(writer io.Writer) {
	fmt.Fprintln(writer)
	fmt.Fprintln(writer, "=== ph sensors ===")
	for _, ph := range d.PhSensors {
		status := ph.Status()
		fmt.Fprintln(writer, "________")
		fmt.Fprintf(writer, "| sensor: %s (%s)\n", status.Id, status.Interface)
		fmt.Fprintf(writer, "| ready: %v\n", status.Ready)
		if status.Board != nil {
			fmt.Fprintf(writer, "| board: %s, firmware: %s\n", status.Board.Version, status.Board.Firmware)
		}
		if len(status.Fault) > 0 {
			fmt.Fprintf(writer, "| fault: %s\n", status.Fault)
		}
		fmt.Fprintln(writer, "--------")
	}

	fmt.Fprintln(writer, "=== measurement stores ===")
	for name, store := range d.storeDrivers {
		fmt.Fprintf(writer, "| %s ready: %v\n", name, store.IsReady())
	}

	fmt.Fprintln(writer, "=== output drivers ===")
	for name, driver := range d.outputDrivers {
		fmt.Fprintf(writer, "| driver: %s, pins: ", name)
		for _, pin := range driver.GetAllOutputs() {
			fmt.Fprintf(writer, "%d, ", pin)
		}
		fmt.Fprintln(writer)
	}
	fmt.Fprintln(writer, "-----------------------------")
	fmt.Fprintln(writer)
}
