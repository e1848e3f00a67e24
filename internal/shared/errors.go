package shared

import "errors"

// ErrInvalidCredentials indicates a missing or rejected API key.
var ErrInvalidCredentials = errors.New("invalid credentials")
