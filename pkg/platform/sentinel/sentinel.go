package sentinel

import "errors"

// ErrUnavailable marks infrastructure failures: the backend is unreachable,
// timed out, or guarded by an open circuit. Stores wrap it so services can
// translate the failure into a domain error.
var ErrUnavailable = errors.New("unavailable")
