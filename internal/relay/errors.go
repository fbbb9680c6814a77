package relay

import "fmt"

// ConnectionError means no relay could be reached. Callers surface it as a
// retryable condition.
type ConnectionError struct {
	Err error
}

func (e ConnectionError) Error() string {
	return fmt.Sprintf("relay connection failed: %v", e.Err)
}

func (e ConnectionError) Unwrap() error { return e.Err }

// PublishError means no relay accepted the event. The action is not retried
// automatically.
type PublishError struct {
	EventID string
	Err     error
}

func (e PublishError) Error() string {
	return fmt.Sprintf("publish %s rejected by all relays: %v", e.EventID, e.Err)
}

func (e PublishError) Unwrap() error { return e.Err }
