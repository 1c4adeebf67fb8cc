package palloc

import "github.com/tryge/embedb/internal/bitmap"

// Filter is the caller-supplied admissibility predicate threaded through
// every Allocate/Free/Load call. True means "acceptable to hand this page
// id out"; false means "treat it as taken for this call only," without
// marking it used on disk. The filter must be referentially transparent
// for the duration of a single call.
type Filter = bitmap.Filter
