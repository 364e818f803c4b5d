// Package tserr defines the typed error kinds surfaced at the store's API
// boundary (see spec §7). Each kind is a distinct sentinel or, where a kind
// carries data, a named struct type usable with errors.As.
package tserr

import "errors"

var (
	ErrKeyNotFound      = errors.New("tstore: key not found")
	ErrWrongType        = errors.New("tstore: wrong type for key")
	ErrInvalidArgument  = errors.New("tstore: invalid argument")
	ErrDuplicateSeries  = errors.New("tstore: series with this label set already exists")
	ErrDuplicateSample  = errors.New("tstore: duplicate sample")
	ErrSampleTooOld     = errors.New("tstore: sample older than retention window")
	ErrCapacityFull     = errors.New("tstore: chunk capacity full")
	ErrSerialize        = errors.New("tstore: serialize error")
	ErrDeserialize      = errors.New("tstore: deserialize error")
	ErrPermissionDenied = errors.New("tstore: permission denied")
	ErrClusterQuery     = errors.New("tstore: cluster query error")
)

// SampleIgnoredError reports that an incoming sample matched the series'
// configured tolerance window against the last-appended sample and was
// therefore dropped without modifying state.
type SampleIgnoredError struct {
	LastTimestamp int64
}

func (e *SampleIgnoredError) Error() string {
	return "tstore: sample ignored (within tolerance of last sample)"
}

func (e *SampleIgnoredError) Is(target error) bool {
	return target == ErrSampleIgnored
}

// ErrSampleIgnored is the sentinel matched by errors.Is against any
// *SampleIgnoredError, for callers that don't need the last timestamp.
var ErrSampleIgnored = errors.New("tstore: sample ignored")

// ClusterQueryError aggregates per-shard errors from a cross-node fan-out
// into a single error value, per spec §7.
type ClusterQueryError struct {
	ShardErrors map[string]error
}

func (e *ClusterQueryError) Error() string {
	return "tstore: cluster query failed on one or more shards"
}

func (e *ClusterQueryError) Unwrap() []error {
	errs := make([]error, 0, len(e.ShardErrors))
	for _, err := range e.ShardErrors {
		errs = append(errs, err)
	}
	return errs
}

func (e *ClusterQueryError) Is(target error) bool {
	return target == ErrClusterQuery
}
