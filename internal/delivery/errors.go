package delivery

import (
	"errors"
	"fmt"
)

// ErrOffline is returned when the connectivity probe reports no network.
var ErrOffline = errors.New("delivery: offline")

// NetworkError is a delivery or fetch that was not acknowledged. StatusCode
// is zero when the request never got a response.
type NetworkError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *NetworkError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ServerSide reports whether the remote end answered but refused the request.
func (e *NetworkError) ServerSide() bool { return e.StatusCode != 0 }

// IsServerSide reports whether err is a NetworkError with a response.
func IsServerSide(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) && ne.ServerSide()
}
