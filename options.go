package vfs

import (
	"github.com/mwantia/guestvfs/data"
	"github.com/mwantia/guestvfs/log"
)

// Config holds the resolution limits of a Vfs instance. Limits are fixed at
// construction time so every walk observes the same budget.
type Config struct {
	// MaxSymlinks bounds symlink expansions per path resolution.
	MaxSymlinks int
	// MaxPathLen bounds the byte length of any path handed to the resolver.
	MaxPathLen int
	// MaxNameLen bounds the byte length of a single component.
	MaxNameLen int
}

// DefaultConfig mirrors the customary POSIX limits.
func DefaultConfig() Config {
	return Config{
		MaxSymlinks: 40,
		MaxPathLen:  4096,
		MaxNameLen:  255,
	}
}

// Option configures a Vfs during New.
type Option func(*Vfs)

// WithConfig replaces the default resolution limits.
func WithConfig(cfg Config) Option {
	return func(v *Vfs) {
		if cfg.MaxSymlinks > 0 {
			v.config.MaxSymlinks = cfg.MaxSymlinks
		}
		if cfg.MaxPathLen > 0 {
			v.config.MaxPathLen = cfg.MaxPathLen
		}
		if cfg.MaxNameLen > 0 {
			v.config.MaxNameLen = cfg.MaxNameLen
		}
	}
}

// WithLogger attaches a logger; sub-systems derive named children from it.
func WithLogger(logger *log.Logger) Option {
	return func(v *Vfs) {
		if logger != nil {
			v.log = logger
		}
	}
}

// WithPolicy replaces the default POSIX permission policy.
func WithPolicy(policy Policy) Option {
	return func(v *Vfs) {
		if policy != nil {
			v.policy = policy
		}
	}
}

// CreateFileOptions carries the parameters of a regular file creation.
type CreateFileOptions struct {
	Mode data.FileMode
	// Exclusive fails with data.ErrExist when the name is taken.
	Exclusive bool
	// Truncate empties an existing regular file instead of failing.
	Truncate bool
}

// MkdirOptions carries the parameters of a directory creation.
type MkdirOptions struct {
	Mode data.FileMode
}

// OpenOptions carries the parameters of a file open.
type OpenOptions struct {
	Access data.AccessMode
	// Mode applies when Access requests creation.
	Mode data.FileMode
}
