package drivers

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"
)

// Atlas boards on a serial line answer within ~1 s of receiving a
// carriage-return terminated command; the read timeout only bounds the
// final drain of the port.
const (
	serialProcessingDelay = 1300 * time.Millisecond
	serialReadTimeout     = 100 * time.Millisecond
	serialResponseLimit   = 1024
)

type AtlasSerial struct {
	port     serial.Port
	location string
	setup    bool
}

// OpenAtlasSerial opens the serial port for both the UART and the FTDI
// wired variants, which only differ in device path.
func OpenAtlasSerial(location string, baudRate int) (*AtlasSerial, error) {
	mode := &serial.Mode{
		BaudRate: baudRate,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}

	port, err := serial.Open(location, mode)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open serial port %s", location)
	}

	if err := port.SetReadTimeout(serialReadTimeout); err != nil {
		port.Close()
		return nil, errors.Wrapf(err, "failed to set read timeout on %s", location)
	}

	return &AtlasSerial{port: port, location: location, setup: true}, nil
}

func (d *AtlasSerial) IsSetUp() bool {
	return d.setup
}

func (d *AtlasSerial) Close() error {
	d.setup = false
	return d.port.Close()
}

// Query writes a carriage-return terminated command, waits for the board
// to answer and drains the port. The response is split into trimmed,
// non-empty lines.
func (d *AtlasSerial) Query(cmd string) (status string, lines []string, err error) {
	if !d.setup {
		err = errors.Errorf("serial device %s not set up", d.location)
		return
	}

	if _, err = d.port.Write([]byte(cmd + "\r")); err != nil {
		err = errors.Wrapf(err, "failed to write %q to %s", cmd, d.location)
		return
	}

	time.Sleep(serialProcessingDelay)

	raw := make([]byte, 0, serialResponseLimit)
	buf := make([]byte, 64)
	for len(raw) < serialResponseLimit {
		n, rerr := d.port.Read(buf)
		if rerr != nil {
			err = errors.Wrapf(rerr, "failed to read from %s", d.location)
			return
		}
		if n == 0 {
			break
		}
		raw = append(raw, buf[:n]...)
	}

	for _, line := range strings.Split(string(raw), "\r") {
		line = strings.TrimSpace(line)
		if len(line) > 0 {
			lines = append(lines, line)
		}
	}

	status = StatusSuccess
	return
}
