package drivers

import (
	"context"
	"fmt"
	"os"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const wireSystemPath string = "/sys/bus/w1/devices"
const wireSensorPrefix string = "28-"

const wireStoreName string = "wire"

// WireStore reads DS18B20 temperature sensors on the 1-wire bus. A lookup
// reads the hardware directly, so the returned sample always has age zero.
type WireStore struct {
	CheckBounds        bool
	BoundMinimumMillis int
	BoundMaximumMillis int

	ready bool
}

func (w1 *WireStore) Setup(ctx context.Context) error {
	_, err := os.ReadDir(wireSystemPath)
	if err != nil {
		return errors.Wrapf(err, "failed to init wire store: error reading dir (%s)", wireSystemPath)
	}

	w1.ready = true
	return nil
}

func (w1 *WireStore) Close() error {
	w1.ready = false
	return nil
}

func (w1 *WireStore) IsReady() bool {
	return w1.ready
}

func (w1 *WireStore) Name() string {
	return wireStoreName
}

// GetLatest reads the sensor identified by sourceId (decimal or
// 0x-prefixed hex 1-wire id). maxAge is irrelevant for a direct read.
func (w1 *WireStore) GetLatest(sourceId string, maxAge time.Duration) (sample Sample, err error) {
	if !w1.ready {
		err = errors.New("wire store not ready")
		return
	}

	filePath, err := w1.sensorPath(sourceId)
	if err != nil {
		return
	}

	temperatureBytes, err := os.ReadFile(filePath)
	if err != nil {
		err = errors.Wrapf(err, "failed reading file for sensor id: %s, path: %s", sourceId, filePath)
		return
	}

	temperatureString := strings.TrimSpace(string(temperatureBytes))
	milliCelsiuses, err := strconv.ParseInt(temperatureString, 10, 32)
	if err != nil {
		err = errors.Wrapf(err, "failed converting temperature string: %s to milli °C int value, for sensor id: %s", temperatureString, sourceId)
		return
	}

	if w1.CheckBounds && !w1.checkBounds(int(milliCelsiuses)) {
		err = errors.Errorf("wire sensor out of bound check enabled and failed, value: %d m°C for sensor %s", milliCelsiuses, sourceId)
		return
	}

	sample.Value = float64(milliCelsiuses) / 1000
	return
}

func (w1 *WireStore) sensorPath(sourceId string) (filePath string, err error) {
	var intBase int
	stringId := strings.ToLower(sourceId)
	if strings.HasPrefix(stringId, "0x") {
		stringId = strings.TrimPrefix(stringId, "0x")
		intBase = 16
	} else {
		intBase = 10
	}

	numId, err := strconv.ParseInt(stringId, intBase, 64)
	if err != nil {
		err = errors.Wrapf(err, "failed to convert string id: %s to int", stringId)
		return
	}

	folderName := fmt.Sprintf("%s%012x", wireSensorPrefix, numId)
	filePath = path.Join(wireSystemPath, folderName, "temperature")
	return
}

func (w1 *WireStore) checkBounds(readout int) bool {
	if readout < w1.BoundMinimumMillis || readout > w1.BoundMaximumMillis {
		return false
	}
	return true
}
