package lake

import "errors"

var (
	// ErrNoPartitions is returned by LatestDate when a dataset/symbol pair has
	// never been written; callers treat it as "start from the beginning" per
	// spec.md §4.3 ("absent -> plan from the configured backfill start").
	ErrNoPartitions = errors.New("lake: no partitions for dataset/symbol")

	// ErrReplaceInFlight is not returned by any Lake method: concurrent
	// Replace calls for the same dataset are serialized by the per-dataset
	// lock, and each uses its own uniquely named staging directory.
	ErrReplaceInFlight = errors.New("lake: full-replace already in progress for dataset")
)
