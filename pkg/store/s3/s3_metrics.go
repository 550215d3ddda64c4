package s3

import "time"

// S3Metrics provides observability for S3 operations.
//
// This is optional - if not provided, metrics collection is skipped. The
// Prometheus implementation lives in pkg/metrics.
type S3Metrics interface {
	// ObserveOperation records an S3 operation with its duration and outcome
	ObserveOperation(operation string, duration time.Duration, err error)

	// RecordBytes records bytes transferred; operation is "read" or "write"
	RecordBytes(operation string, bytes int64)
}

// noopMetrics is a default no-op metrics implementation
type noopMetrics struct{}

func (noopMetrics) ObserveOperation(operation string, duration time.Duration, err error) {}
func (noopMetrics) RecordBytes(operation string, bytes int64)                            {}
