package message

import (
	"github.com/c360/transcoder/errors"
)

// Resolution tells consumers whether a failure is worth retrying.
type Resolution string

const (
	// ResolutionDefect marks failures caused by the input or the code; retrying won't help.
	ResolutionDefect Resolution = "defect"
	// ResolutionTransient marks failures that may clear on a later attempt.
	ResolutionTransient Resolution = "transient"
)

// Failure is the structured description of a processing error.
type Failure struct {
	Kind       string     `json:"kind"`
	Message    string     `json:"message"`
	Reason     string     `json:"reason"`
	Resolution Resolution `json:"resolution"`
}

// NewFailure builds the failure record for err. The message is the full error
// text and the reason is the root cause.
func NewFailure(err error) *Failure {
	if err == nil {
		return nil
	}

	reason := err.Error()
	if root := errors.RootCause(err); root != nil {
		reason = root.Error()
	}

	resolution := ResolutionDefect
	if errors.KindOf(err) == errors.KindIO || errors.KindOf(err) == errors.KindUnknown && errors.IsTransient(err) {
		resolution = ResolutionTransient
	}

	return &Failure{
		Kind:       errors.KindOf(err).String(),
		Message:    err.Error(),
		Reason:     reason,
		Resolution: resolution,
	}
}
