package auth

import "errors"

// Reason is the machine-readable classification for a rejected request.
type Reason string

const (
	ReasonMalformedRequest   Reason = "MalformedRequest"
	ReasonUnknownConsumer    Reason = "UnknownConsumer"
	ReasonBadSignature       Reason = "BadSignature"
	ReasonStaleTimestamp     Reason = "StaleTimestamp"
	ReasonReplayDetected     Reason = "ReplayDetected"
	ReasonForbidden          Reason = "Forbidden"
	ReasonBackendUnavailable Reason = "BackendUnavailable"
)

// AuthFailure reports whether the reason is an authentication failure. All
// authentication failures share one external rejection signal so callers
// cannot probe which stage failed.
func (r Reason) AuthFailure() bool {
	switch r {
	case ReasonUnknownConsumer, ReasonBadSignature, ReasonStaleTimestamp, ReasonReplayDetected:
		return true
	}
	return false
}

// RejectionError carries the internal reason for refusing a request.
type RejectionError struct {
	Reason  Reason
	Message string
}

func (e *RejectionError) Error() string {
	return string(e.Reason) + ": " + e.Message
}

func reject(reason Reason, message string) *RejectionError {
	return &RejectionError{Reason: reason, Message: message}
}

// ReasonOf extracts the rejection reason from err, or an empty Reason when
// err is not a rejection.
func ReasonOf(err error) Reason {
	var rejection *RejectionError
	if errors.As(err, &rejection) {
		return rejection.Reason
	}
	return ""
}
