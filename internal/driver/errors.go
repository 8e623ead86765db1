package driver

import "fmt"

// AcquireError is returned when both pipeline attempts fail.
type AcquireError struct {
	First error
	Last  error
}

func (e *AcquireError) Error() string {
	return fmt.Sprintf("acquire driver: first attempt: %v; retry: %v", e.First, e.Last)
}

func (e *AcquireError) Unwrap() []error { return []error{e.First, e.Last} }
