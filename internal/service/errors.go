package service

import (
	"context"
	"errors"
	"fmt"

	"plantdisease/internal/model"
	"plantdisease/internal/service/imaging"
)

// Kind classifies why a classification failed.
type Kind int

const (
	KindInference   Kind = iota // the model failed; server side
	KindDecode                  // payload is an image but cannot be decoded, or is too large
	KindUnsupported             // payload is not an image
	KindShape                   // tensor does not fit the model input
	KindBusy                    // gave up waiting for capacity
)

func (k Kind) String() string {
	switch k {
	case KindDecode:
		return "decode"
	case KindUnsupported:
		return "unsupported"
	case KindShape:
		return "shape"
	case KindBusy:
		return "busy"
	default:
		return "inference"
	}
}

// Error is returned by Classifier for every failure.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the Kind carried by err, or KindInference for foreign errors.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInference
}

// classifyError wraps err with the Kind matching its cause.
func classifyError(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}

	kind := KindInference
	switch {
	case errors.Is(err, imaging.ErrUnsupportedType):
		kind = KindUnsupported
	case errors.Is(err, imaging.ErrUndecodable), errors.Is(err, imaging.ErrTooManyPixels):
		kind = KindDecode
	case errors.Is(err, model.ErrShapeMismatch):
		kind = KindShape
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		kind = KindBusy
		err = fmt.Errorf("server busy: %w", err)
	}
	return &Error{Kind: kind, Err: err}
}
