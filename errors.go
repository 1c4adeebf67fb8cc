// Package palloc is the self-describing two-level page allocator: a
// PageStore-backed file of fixed-size pages, tracked by BitmapPages and
// aggregated by an IndexPage once a single bitmap's range is exhausted.
package palloc

import "github.com/tryge/embedb/internal/palerr"

// IOError reports a failure from the underlying file or mapping operation.
// It is returned unchanged from the store through Persist.
type IOError = palerr.IOError

// InvalidInputError reports an out-of-bounds page id, a misshapen buffer,
// or an operation that would cross a configured limit.
type InvalidInputError = palerr.InvalidInputError
