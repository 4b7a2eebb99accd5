package syncer

import "errors"

// Fatal errors abort a run and produce a failure report.
var (
	ErrConfig = errors.New("configuration error")
	ErrAuth   = errors.New("authentication error")
	ErrFetch  = errors.New("fetch error")
)

// ErrMissingHash marks an assignment that cannot be processed because it
// has no content hash. It is a per-item error.
var ErrMissingHash = errors.New("missing content hash")
