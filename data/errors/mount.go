package errors

// NoMount reports an unknown or already removed mount id.
func NoMount(id int) error {
	return wrap(ErrNotExist, "no mount with id %d", id)
}

// MountBusy reports a guard/unmount collision on a mount entry.
func MountBusy(id int, guards int64) error {
	return wrap(ErrBusy, "mount %d busy (%d guards outstanding)", id, guards)
}
