package drivers

import (
	"strings"
	"testing"
	"time"
)

func TestPrepareInfluxQuery(t *testing.T) {
	store := InfluxStore{Bucket: "some-bucket", Measurement: "mycodo"}

	want := `from(bucket: "some-bucket")
|> range(start: -120s)
|> filter(fn: (r) => r["_measurement"] == "mycodo")
|> filter(fn: (r) => r["source_id"] == "tank-1")
|> last()`

	got := strings.TrimSpace(store.prepareQuery("tank-1", 2*time.Minute))

	if !strings.EqualFold(want, got) {
		t.Errorf("prepared influx query mismatch, got:\n%s\nwant:\n%s\n", got, want)
	}
}

func TestInfluxStoreNotReady(t *testing.T) {
	store := InfluxStore{}

	_, err := store.GetLatest("tank-1", time.Minute)
	if err == nil {
		t.Error("got nil error from store that was never set up")
	}

	err = store.WriteMeasurement("tank-1", "pH", 7.0)
	if err == nil {
		t.Error("got nil error writing to store that was never set up")
	}
}
