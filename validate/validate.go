// Package validate holds the sentinel error shared by every package
// that reports data-model validation failures, so callers can use
// errors.Is(err, validate.ErrValidation) regardless of which layer
// raised it.
package validate

import "errors"

// ErrValidation wraps every validation failure raised by the fixture,
// environment, program, and store packages.
var ErrValidation = errors.New("validation error")
