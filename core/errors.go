package core

import "errors"

// ErrInvalidConfig wraps every construction-time configuration failure.
var ErrInvalidConfig = errors.New("invalid configuration")
