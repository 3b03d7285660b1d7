package errors

// Unsupported reports an operation a backend does not implement. Backends
// return this instead of panicking so composing filesystems can fall back to
// emulation.
func Unsupported(provider, op string) error {
	return wrap(ErrNotSupported, "%s does not support %s", provider, op)
}

// ReadOnly rejects a mutation on a read-only backend.
func ReadOnly(provider string) error {
	return wrap(ErrReadOnly, "%s is read-only", provider)
}

// Backend wraps a backend-internal failure as an I/O error.
func Backend(provider string, err error) error {
	return wrap(ErrIO, "%s: %v", provider, err)
}
