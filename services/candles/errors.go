package candles

import "fmt"

// The upstream failure taxonomy, most specific first. Callers distinguish the
// kinds with errors.As; none of them is ever swallowed at this layer.

// RequestClientError reports a non-2xx HTTP response from the upstream after
// retries were exhausted.
type RequestClientError struct {
	StatusCode int
}

func (e *RequestClientError) Error() string {
	return fmt.Sprintf("client request error when requesting the candles API: status %d", e.StatusCode)
}

// ClientError reports a transport-level failure (connection reset, DNS, ...)
// after retries were exhausted.
type ClientError struct {
	Err error
}

func (e *ClientError) Error() string {
	return fmt.Sprintf("client error when requesting the candles API: %v", e.Err)
}

func (e *ClientError) Unwrap() error { return e.Err }

// TimeoutError reports that the request exceeded its timeout budget.
type TimeoutError struct {
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("timeout in the candles API request: %v", e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// GenericError covers everything else, e.g. an undecodable response body.
type GenericError struct {
	Err error
}

func (e *GenericError) Error() string {
	return fmt.Sprintf("generic error when requesting the candles API: %v", e.Err)
}

func (e *GenericError) Unwrap() error { return e.Err }
