package drivers

import (
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// Interface names the physical transport a sensor is wired to.
type Interface string

const (
	InterfaceI2C  Interface = "I2C"
	InterfaceUART Interface = "UART"
	InterfaceFTDI Interface = "FTDI"
)

// Response status tokens shared by all Atlas device variants.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// DeviceHandle describes one physical sensor connection. It is built once
// from configuration and never changes afterwards.
type DeviceHandle struct {
	Kind Interface

	I2CAddress uint16
	I2CBus     int

	UartLocation string
	BaudRate     int

	FtdiLocation string
}

func (dh DeviceHandle) String() string {
	switch dh.Kind {
	case InterfaceI2C:
		return fmt.Sprintf("i2c-%d:0x%02x", dh.I2CBus, dh.I2CAddress)
	case InterfaceUART:
		return fmt.Sprintf("uart:%s", dh.UartLocation)
	case InterfaceFTDI:
		return fmt.Sprintf("ftdi:%s", dh.FtdiLocation)
	}
	return fmt.Sprintf("unknown:%s", string(dh.Kind))
}

type AtlasDevice interface {
	IsSetUp() bool
	Close() error
}

// PairDevice answers every query with a single status token and payload
// string (the I2C response shape).
type PairDevice interface {
	AtlasDevice
	Query(cmd string) (status string, payload string, err error)
}

// LineDevice answers every query with a status token and the raw response
// lines (the UART/FTDI response shape).
type LineDevice interface {
	AtlasDevice
	Query(cmd string) (status string, lines []string, err error)
}

// Transport holds the one device variant matching the handle kind. It is
// bound once by OpenTransport and owned by a single sensor for its
// lifetime.
type Transport struct {
	Kind Interface
	Pair PairDevice
	Line LineDevice
}

// OpenTransport opens the device described by the handle and binds the
// matching variant.
func OpenTransport(handle DeviceHandle) (*Transport, error) {
	switch handle.Kind {
	case InterfaceI2C:
		dev, err := OpenAtlasI2C(handle.I2CBus, handle.I2CAddress)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open i2c device %s", handle)
		}
		return &Transport{Kind: handle.Kind, Pair: dev}, nil
	case InterfaceUART:
		dev, err := OpenAtlasSerial(handle.UartLocation, handle.BaudRate)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open uart device %s", handle)
		}
		return &Transport{Kind: handle.Kind, Line: dev}, nil
	case InterfaceFTDI:
		dev, err := OpenAtlasSerial(handle.FtdiLocation, handle.BaudRate)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open ftdi device %s", handle)
		}
		return &Transport{Kind: handle.Kind, Line: dev}, nil
	}

	return nil, errors.Errorf("unknown sensor interface: %s", handle.Kind)
}

func (t *Transport) IsSetUp() bool {
	switch {
	case t.Pair != nil:
		return t.Pair.IsSetUp()
	case t.Line != nil:
		return t.Line.IsSetUp()
	}
	return false
}

func (t *Transport) Close() error {
	switch {
	case t.Pair != nil:
		return t.Pair.Close()
	case t.Line != nil:
		return t.Line.Close()
	}
	return nil
}

// Send issues a command on the bound device and flattens the response into
// a single message string. A device-reported error status is returned as
// an error carrying the payload.
func (t *Transport) Send(cmd string) (msg string, err error) {
	switch {
	case t.Pair != nil:
		status, payload, qerr := t.Pair.Query(cmd)
		if qerr != nil {
			err = qerr
			return
		}
		if status == StatusError {
			err = errors.Errorf("sensor returned error: %s", payload)
			return
		}
		msg = payload
	case t.Line != nil:
		_, lines, qerr := t.Line.Query(cmd)
		if qerr != nil {
			err = qerr
			return
		}
		msg = strings.Join(lines, "; ")
	default:
		err = errors.New("transport not bound to any device")
	}

	return
}
