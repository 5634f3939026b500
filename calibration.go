package mycodo

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pkg/errors"

	"github.com/jshsltr/Mycodo/drivers"
)

// BoardVersion is the Atlas Scientific hardware generation, probed once
// at startup. The two known generations take different calibration
// command syntax.
type BoardVersion int

const (
	BoardUnknown BoardVersion = 0
	BoardLegacy  BoardVersion = 1
	BoardCurrent BoardVersion = 2
)

func (bv BoardVersion) String() string {
	switch bv {
	case BoardLegacy:
		return "legacy"
	case BoardCurrent:
		return "current"
	}
	return "unknown"
}

// BoardIdentity is the parsed answer to the device info query.
type BoardIdentity struct {
	Measurement string       `json:"measurement"`
	Version     BoardVersion `json:"version"`
	Firmware    string       `json:"firmware"`
}

// CommandResult reports the outcome of one calibration interaction.
type CommandResult struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

// CalibrationRequest carries either a named command, optionally with a
// numeric operand, or a custom literal passed to the board verbatim. A
// recognized named command always wins over the custom literal.
type CalibrationRequest struct {
	Command CalibrationCommand `json:"command,omitempty"`
	Operand *float64           `json:"operand,omitempty"`
	Custom  string             `json:"custom,omitempty"`
}

type CalibrationCommand string

const (
	CalibrateEcDry       CalibrationCommand = "ec_dry"
	CalibrateEcLow       CalibrationCommand = "ec_low"
	CalibrateEcHigh      CalibrationCommand = "ec_high"
	CalibrateTemperature CalibrationCommand = "temperature"
	CalibrateClear       CalibrationCommand = "clear_calibration"
	CalibrateContinuous  CalibrationCommand = "continuous"
	CalibrateLow         CalibrationCommand = "low"
	CalibrateMid         CalibrationCommand = "mid"
	CalibrateHigh        CalibrationCommand = "high"
	CalibrateCalibrated  CalibrationCommand = "calibrated"
	CalibrateEnd         CalibrationCommand = "end"
)

const defaultResultMessage = "Default message"
const noCommandMessage = "No command given"
const legacyCalibratedMessage = "not implemented on legacy board, assume calibrated"

const boardInfoCommand = "i"
const commandSettleDelay = 100 * time.Millisecond

// translation is the wire form of one resolved command: either a sequence
// of literals, of which the first send's result is authoritative, or a
// fixed message that needs no transport at all.
type translation struct {
	sequence []string
	fixed    string
}

type producer func(operand *float64) (translation, bool)

// commandEntry maps one symbolic command to its per-generation producers.
// operandGated commands only match when an operand is present; without
// one the request falls through to the custom literal.
type commandEntry struct {
	operandGated bool
	byVersion    map[BoardVersion]producer
}

var commandTable = map[CalibrationCommand]commandEntry{
	CalibrateEcDry: {byVersion: map[BoardVersion]producer{
		BoardCurrent: literal("cal,dry"),
	}},
	CalibrateEcLow: {byVersion: map[BoardVersion]producer{
		BoardCurrent: withOperand("cal,low,%s"),
	}},
	CalibrateEcHigh: {byVersion: map[BoardVersion]producer{
		BoardCurrent: withOperand("cal,high,%s"),
	}},
	CalibrateTemperature: {operandGated: true, byVersion: map[BoardVersion]producer{
		BoardLegacy:  withOperand("%s"),
		BoardCurrent: withOperand("T,%s"),
	}},
	CalibrateClear: {byVersion: map[BoardVersion]producer{
		BoardLegacy:  sequence("X", "L0"),
		BoardCurrent: literal("Cal,clear"),
	}},
	CalibrateContinuous: {byVersion: map[BoardVersion]producer{
		BoardLegacy:  literal("C"),
		BoardCurrent: literal("C,1"),
	}},
	CalibrateLow: {byVersion: map[BoardVersion]producer{
		BoardLegacy:  literal("F"),
		BoardCurrent: literal("Cal,low,4.00"),
	}},
	CalibrateMid: {byVersion: map[BoardVersion]producer{
		BoardLegacy:  literal("S"),
		BoardCurrent: literal("Cal,mid,7.00"),
	}},
	CalibrateHigh: {byVersion: map[BoardVersion]producer{
		BoardLegacy:  literal("T"),
		BoardCurrent: literal("Cal,high,10.00"),
	}},
	CalibrateCalibrated: {byVersion: map[BoardVersion]producer{
		BoardLegacy:  fixed(legacyCalibratedMessage),
		BoardCurrent: literal("Cal,?"),
	}},
	CalibrateEnd: {byVersion: map[BoardVersion]producer{
		BoardLegacy:  literal("E"),
		BoardCurrent: literal("C,0"),
	}},
}

func literal(cmd string) producer {
	return func(*float64) (translation, bool) {
		return translation{sequence: []string{cmd}}, true
	}
}

func sequence(cmds ...string) producer {
	return func(*float64) (translation, bool) {
		return translation{sequence: cmds}, true
	}
}

func fixed(msg string) producer {
	return func(*float64) (translation, bool) {
		return translation{fixed: msg}, true
	}
}

func withOperand(format string) producer {
	return func(operand *float64) (translation, bool) {
		if operand == nil {
			return translation{}, false
		}
		return translation{sequence: []string{fmt.Sprintf(format, formatOperand(*operand))}}, true
	}
}

func formatOperand(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// translateCommand resolves a symbolic command for a board generation.
// The second return reports whether the pair has a supported mapping.
func translateCommand(cmd CalibrationCommand, version BoardVersion, operand *float64) (translation, bool) {
	entry, found := commandTable[cmd]
	if !found {
		return translation{}, false
	}
	produce, found := entry.byVersion[version]
	if !found {
		return translation{}, false
	}
	return produce(operand)
}

// ProbeBoard issues one device info query and classifies the answer.
func ProbeBoard(t *drivers.Transport) (identity BoardIdentity, err error) {
	switch {
	case t.Pair != nil:
		status, payload, qerr := t.Pair.Query(boardInfoCommand)
		if qerr != nil {
			err = errors.Wrap(qerr, "device info query failed")
			return
		}
		if status == drivers.StatusError {
			err = errors.Errorf("device info query returned error: %s", payload)
			return
		}
		identity = classifyBoard(payload)
	case t.Line != nil:
		_, lines, qerr := t.Line.Query(boardInfoCommand)
		if qerr != nil {
			err = errors.Wrap(qerr, "device info query failed")
			return
		}
		for _, line := range lines {
			if id := classifyBoard(line); id.Version != BoardUnknown {
				identity = id
				break
			}
		}
	default:
		err = errors.New("transport not bound to any device")
	}

	return
}

// classifyBoard parses one device info response. Current generation
// boards answer "?I,<measurement>,<firmware>"; legacy boards answer three
// fields with the measurement first. Anything else stays Unknown.
func classifyBoard(payload string) BoardIdentity {
	fields := strings.Split(strings.TrimSpace(payload), ",")
	if len(fields) != 3 {
		return BoardIdentity{}
	}
	if strings.EqualFold(fields[0], "?I") {
		return BoardIdentity{Measurement: fields[1], Version: BoardCurrent, Firmware: fields[2]}
	}
	return BoardIdentity{Measurement: fields[0], Version: BoardLegacy, Firmware: fields[1]}
}

// AtlasCommander resolves symbolic calibration requests into
// board-specific literals and sends them over the bound transport.
type AtlasCommander struct {
	transport *drivers.Transport
	identity  BoardIdentity
	initErr   error
	logger    *log.Logger
}

// NewAtlasCommander probes the board once. A failed or unclassifiable
// probe leaves the commander with a sticky fault: every later calibration
// call returns the stored diagnostic without touching the transport.
func NewAtlasCommander(transport *drivers.Transport, logger *log.Logger) *AtlasCommander {
	if logger == nil {
		logger = log.Default()
	}
	ac := &AtlasCommander{transport: transport, logger: logger}

	identity, err := ProbeBoard(transport)
	if err != nil {
		logger.Error("board info query failed", "err", err)
	}
	ac.identity = identity

	if identity.Version == BoardUnknown {
		ac.initErr = errors.Errorf(
			"atlas board initialization unsuccessful, unable to retrieve device info (device not initialized or connected), returned: %s, %d, %s",
			identity.Measurement, identity.Version, identity.Firmware)
		logger.Error(ac.initErr.Error())
	} else {
		logger.Debug("atlas board initialization success",
			"measurement", identity.Measurement,
			"board", identity.Version.String(),
			"firmware", identity.Firmware)
	}

	return ac
}

func (ac *AtlasCommander) Identity() BoardIdentity {
	return ac.identity
}

// InitFault returns the sticky initialization diagnostic, nil when the
// probe succeeded.
func (ac *AtlasCommander) InitFault() error {
	return ac.initErr
}

// Calibrate resolves the request against the board generation and sends
// the resulting literal(s). Pairs without a mapping send nothing and
// report the default message.
func (ac *AtlasCommander) Calibrate(req CalibrationRequest) CommandResult {
	if ac.initErr != nil {
		return CommandResult{Message: ac.initErr.Error()}
	}

	entry, matched := commandTable[req.Command]
	if matched && entry.operandGated && req.Operand == nil {
		matched = false
	}

	if !matched {
		if len(req.Custom) > 0 {
			return ac.SendCommand(req.Custom)
		}
		return CommandResult{Message: defaultResultMessage}
	}

	resolved, supported := translateCommand(req.Command, ac.identity.Version, req.Operand)
	if !supported {
		return CommandResult{Message: defaultResultMessage}
	}

	if len(resolved.fixed) > 0 {
		return CommandResult{OK: true, Message: resolved.fixed}
	}

	result := ac.SendCommand(resolved.sequence[0])
	for _, cmd := range resolved.sequence[1:] {
		ac.SendCommand(cmd)
	}

	return result
}

// SendCommand passes a literal to the device and reports the outcome.
// Transport failures are captured in the result, never returned. After a
// successful send the firmware needs a settle delay before it accepts the
// next interaction.
func (ac *AtlasCommander) SendCommand(cmd string) CommandResult {
	if len(cmd) == 0 {
		return CommandResult{Message: noCommandMessage}
	}

	msg, err := ac.transport.Send(cmd)
	if err != nil {
		ac.logger.Error("error communicating with the board", "cmd", cmd, "err", err)
		return CommandResult{Message: err.Error()}
	}

	time.Sleep(commandSettleDelay)
	return CommandResult{OK: true, Message: msg}
}
