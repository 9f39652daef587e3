package remote

import (
	"fmt"

	"emperror.dev/errors"
)

// ErrNotModified is returned by a conditional fetch while the mirror still
// serves the version the caller already has.
var ErrNotModified = errors.Sentinel("remote: not modified")

// Download is one fetched reference file plus the cache validator the mirror
// sent with it. An empty ETag means the mirror does not support conditional
// fetches, every refresh downloads the file again then.
type Download struct {
	Body []byte
	ETag string
}

// RequestError is a non-2xx answer from the mirror.
type RequestError struct {
	StatusCode int
	URL        string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("remote: mirror returned HTTP/%d for %s", e.StatusCode, e.URL)
}

// IsRequestError checks if the given error is a mirror response rather than
// a transport or local failure.
func IsRequestError(err error) bool {
	var rerr *RequestError
	return errors.As(err, &rerr)
}
