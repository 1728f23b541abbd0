package vision

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrUnprocessableInput is returned when the uploaded bytes are not a decodable image.
var ErrUnprocessableInput = errors.New("unprocessable image input")

// TransportError reports a network, HTTP or quota failure talking to the vision service.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("vision %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("vision %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsQuota reports whether err is a transport error caused by rate limiting.
func IsQuota(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.StatusCode == http.StatusTooManyRequests
}
