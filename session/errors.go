package session

import "errors"

// ErrSessionNotFound is returned when a session id is absent from the
// collection. The store state is unchanged when it is returned.
var ErrSessionNotFound = errors.New("session not found")
