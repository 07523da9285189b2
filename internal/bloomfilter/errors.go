package bloomfilter

import "errors"

// ErrTruncated is returned when Decode is given fewer bytes than the
// encoded header promises.
var ErrTruncated = errors.New("bloomfilter: truncated data")
