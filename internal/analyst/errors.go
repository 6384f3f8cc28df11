package analyst

import "fmt"

// TransportError reports a failed call to the analyst service: the request
// could not complete, or the service answered with a non-success status.
// Status is zero when the failure happened before a response arrived.
type TransportError struct {
	Status int
	Body   string
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("analyst: request failed with status %d: %s", e.Status, e.Body)
	}
	return fmt.Sprintf("analyst: request failed: %v", e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// MalformedResponseError reports a 2xx response whose body is missing the
// expected message content.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("analyst: malformed response: %s", e.Reason)
}
