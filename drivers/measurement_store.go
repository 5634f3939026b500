package drivers

import (
	"context"
	"time"
)

// MeasurementStore hands out the most recent measurement recorded for a
// source id. Implementations decide what "recorded" means: a time-series
// database lookup or a direct hardware read.
type MeasurementStore interface {
	Setup(ctx context.Context) error
	Close() error
	IsReady() bool
	Name() string
	GetLatest(sourceId string, maxAge time.Duration) (Sample, error)
}

// Sample is one stored measurement together with its age at lookup time.
type Sample struct {
	Value float64
	Age   time.Duration
}
