package drivers

import (
	"context"
	"fmt"
	"time"

	"github.com/charmbracelet/log"
	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	"github.com/pkg/errors"
)

const influxStoreName string = "influx"
const defaultInfluxMeasurement = "mycodo"

// InfluxStore looks compensation measurements up in InfluxDB and writes
// finished readings back.
type InfluxStore struct {
	Host         string
	Organization string
	Bucket       string
	Measurement  string
	Token        string

	client influxdb2.Client
	ready  bool
}

func (is *InfluxStore) Setup(ctx context.Context) error {
	if len(is.Measurement) == 0 {
		is.Measurement = defaultInfluxMeasurement
	}

	is.client = influxdb2.NewClient(is.Host, is.Token)

	_, err := is.runQuery(ctx, is.prepareQuery("", time.Minute))
	if err != nil {
		return errors.Wrap(err, "failed to init influx store")
	}

	is.ready = true
	return nil
}

func (is *InfluxStore) Close() error {
	is.ready = false
	if is.client != nil {
		is.client.Close()
	}
	return nil
}

func (is *InfluxStore) IsReady() bool {
	return is.ready
}

func (is *InfluxStore) Name() string {
	return influxStoreName
}

func (is *InfluxStore) runQuery(ctx context.Context, query string) (*api.QueryTableResult, error) {
	queryApi := is.client.QueryAPI(is.Organization)

	tabRes, err := queryApi.Query(ctx, query)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to run query:\n%s\n in influx store;", query)
	}

	return tabRes, err
}

// GetLatest returns the newest sample stored for the source id, looking
// back at most maxAge.
func (is *InfluxStore) GetLatest(sourceId string, maxAge time.Duration) (sample Sample, err error) {
	if !is.ready {
		err = errors.New("influx store not ready")
		return
	}

	query := is.prepareQuery(sourceId, maxAge)
	log.Debug("running influx query", "flux", query)

	tableResult, err := is.runQuery(context.Background(), query)
	if err != nil {
		err = errors.Wrap(err, "failed to get table results")
		return
	}

	found := false
	for tableResult.Next() {
		record := tableResult.Record()
		switch value := record.Value().(type) {
		case float64:
			sample.Value = value
		case float32:
			sample.Value = float64(value)
		default:
			err = errors.Errorf("got value (for %s) of unsupported type", sourceId)
			return
		}
		sample.Age = time.Since(record.Time())
		found = true
	}
	if tableResult.Err() != nil {
		err = errors.Wrap(tableResult.Err(), "got error parsing result table")
		return
	}

	if !found {
		err = errors.Errorf("no measurement found for source %s within %v", sourceId, maxAge)
	}

	return
}

// WriteMeasurement stores one finished reading under the source id tag.
func (is *InfluxStore) WriteMeasurement(sourceId string, field string, value float64) error {
	if !is.ready {
		return errors.New("influx store not ready")
	}

	point := influxdb2.NewPoint(is.Measurement,
		map[string]string{"source_id": sourceId},
		map[string]interface{}{field: value},
		time.Now())

	writeApi := is.client.WriteAPIBlocking(is.Organization, is.Bucket)
	return writeApi.WritePoint(context.Background(), point)
}

func (is *InfluxStore) prepareQuery(sourceId string, maxAge time.Duration) string {
	return fmt.Sprintf(`
from(bucket: "%s")
|> range(start: -%ds)
|> filter(fn: (r) => r["_measurement"] == "%s")
|> filter(fn: (r) => r["source_id"] == "%s")
|> last()
`, is.Bucket, int(maxAge.Seconds()), is.Measurement, sourceId)
}
