package device

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when an operation needs a live session.
	ErrNotConnected = errors.New("not connected to broker")
	// ErrConnectionLost is returned by Run when the broker connection drops.
	ErrConnectionLost = errors.New("broker connection lost")
	// ErrTimeout is returned when the broker does not acknowledge in time.
	ErrTimeout = errors.New("timed out waiting for broker")
)

// OperationError wraps a failed connect, subscribe or publish.
type OperationError struct {
	Op  string
	Err error
}

func (e *OperationError) Error() string {
	return fmt.Sprintf("mqtt %s failed: %v", e.Op, e.Err)
}

func (e *OperationError) Unwrap() error {
	return e.Err
}

// SubscribeOutcome classifies the return code of a SUBACK.
type SubscribeOutcome int

const (
	// SubscribeUnknown covers missing results, reserved codes and a granted
	// QoS above the requested one.
	SubscribeUnknown SubscribeOutcome = iota
	// SubscribeGranted means the requested QoS was granted.
	SubscribeGranted
	// SubscribeDowngraded means a lower QoS than requested was granted.
	SubscribeDowngraded
	// SubscribeRejected means the broker answered 0x80.
	SubscribeRejected
)

// subackFailure is the SUBACK return code for a refused subscription.
const subackFailure = 0x80

func (o SubscribeOutcome) String() string {
	switch o {
	case SubscribeGranted:
		return "granted"
	case SubscribeDowngraded:
		return "downgraded"
	case SubscribeRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// OK reports whether the subscription is active.
func (o SubscribeOutcome) OK() bool {
	return o == SubscribeGranted || o == SubscribeDowngraded
}

// ClassifySubscribe maps a SUBACK return code to an outcome. present is
// false when the broker returned no code for the topic.
func ClassifySubscribe(requested, code byte, present bool) SubscribeOutcome {
	switch {
	case !present:
		return SubscribeUnknown
	case code == subackFailure:
		return SubscribeRejected
	case code > 2, code > requested:
		return SubscribeUnknown
	case code < requested:
		return SubscribeDowngraded
	default:
		return SubscribeGranted
	}
}

// SubscribeError reports a subscription the broker did not accept.
type SubscribeError struct {
	Topic   string
	Outcome SubscribeOutcome
	Code    byte
}

func (e *SubscribeError) Error() string {
	return fmt.Sprintf("subscribe to %q %s (code 0x%02x)", e.Topic, e.Outcome, e.Code)
}
