package drivers

import (
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/host/v3"
)

// Framing and timing defined by the Atlas Scientific EZO I2C protocol.
// Read and calibration commands need the long processing delay before the
// response becomes available.
const (
	ezoResponseLength = 31
	ezoCodeSuccess    = byte(1)

	ezoShortDelay = 300 * time.Millisecond
	ezoLongDelay  = 1500 * time.Millisecond
)

type AtlasI2C struct {
	bus   i2c.BusCloser
	dev   *i2c.Dev
	addr  uint16
	setup bool
}

// OpenAtlasI2C opens the i2c bus (busNumber <= 0 selects the first
// available bus) and binds the device address.
func OpenAtlasI2C(busNumber int, addr uint16) (*AtlasI2C, error) {
	if _, err := host.Init(); err != nil {
		return nil, errors.Wrap(err, "failed to init periph host")
	}

	busName := ""
	if busNumber > 0 {
		busName = strconv.Itoa(busNumber)
	}
	bus, err := i2creg.Open(busName)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open i2c bus %q", busName)
	}

	return &AtlasI2C{
		bus:   bus,
		dev:   &i2c.Dev{Addr: addr, Bus: bus},
		addr:  addr,
		setup: true,
	}, nil
}

func (d *AtlasI2C) IsSetUp() bool {
	return d.setup
}

func (d *AtlasI2C) Close() error {
	d.setup = false
	return d.bus.Close()
}

// Query writes a command, waits for the firmware to process it and reads
// back the status byte plus payload.
func (d *AtlasI2C) Query(cmd string) (status string, payload string, err error) {
	if !d.setup {
		err = errors.Errorf("i2c device 0x%02x not set up", d.addr)
		return
	}

	if err = d.dev.Tx([]byte(cmd), nil); err != nil {
		err = errors.Wrapf(err, "failed to write %q to i2c device 0x%02x", cmd, d.addr)
		return
	}

	time.Sleep(processingDelay(cmd))

	buf := make([]byte, ezoResponseLength)
	if err = d.dev.Tx(nil, buf); err != nil {
		err = errors.Wrapf(err, "failed to read from i2c device 0x%02x", d.addr)
		return
	}

	if buf[0] != ezoCodeSuccess {
		status = StatusError
		payload = strconv.Itoa(int(buf[0]))
		return
	}

	status = StatusSuccess
	payload = decodeEzoPayload(buf[1:])
	return
}

func processingDelay(cmd string) time.Duration {
	upper := strings.ToUpper(cmd)
	if strings.HasPrefix(upper, "R") || strings.HasPrefix(upper, "CAL") {
		return ezoLongDelay
	}
	return ezoShortDelay
}

// decodeEzoPayload strips NUL padding and clears the high bit the firmware
// sets on payload characters.
func decodeEzoPayload(raw []byte) string {
	out := make([]byte, 0, len(raw))
	for _, b := range raw {
		if b == 0 {
			continue
		}
		out = append(out, b&0x7f)
	}
	return string(out)
}
