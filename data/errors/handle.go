package errors

// HandleClosed reports use of an already closed handle.
func HandleClosed(id string) error {
	return wrap(ErrClosed, "handle %s is closed", id)
}

// StaleHandle reports a handle whose backing node the backend no longer knows.
func StaleHandle(id string) error {
	return wrap(ErrNotExist, "handle %s is stale", id)
}
