package model

import "errors"

// TransferError is a taxonomy error: a stable machine-readable code, an
// optional human-readable message, and a context bag of key/value strings.
type TransferError struct {
	Code    string
	Message string
	Context map[string]string
}

func (e *TransferError) Error() string {
	if e.Message != "" && e.Message != e.Code {
		return e.Code + ": " + e.Message
	}
	return e.Code
}

// NewTransferError builds a taxonomy error from a code and message.
func NewTransferError(code, message string) *TransferError {
	return &TransferError{Code: code, Message: message}
}

// With attaches one context key/value pair and returns the error for
// chaining.
func (e *TransferError) With(key, value string) *TransferError {
	if e.Context == nil {
		e.Context = make(map[string]string)
	}
	e.Context[key] = value
	return e
}

// AsTransferError extracts the TransferError from err's chain, or wraps err
// into one whose code and message are err's text. Sentinel errors across
// the engine use their taxonomy code as their text, so the wrap preserves
// the code for them.
func AsTransferError(err error) *TransferError {
	var te *TransferError
	if errors.As(err, &te) {
		return te
	}
	return &TransferError{Code: err.Error(), Message: err.Error()}
}
