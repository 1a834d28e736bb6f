package npu

import (
	"context"
	"strings"
)

// Occupancy is the result of an open test against a device file.
type Occupancy int

const (
	// OccupancyFree means the file could be opened.
	OccupancyFree Occupancy = iota
	// OccupancyBusy means another handle holds the file.
	OccupancyBusy
	// OccupancyFailed means the hardware refused the open for a reason
	// other than occupancy, e.g. a disabled or failed core.
	OccupancyFailed
)

func (o Occupancy) String() string {
	switch o {
	case OccupancyFree:
		return "free"
	case OccupancyBusy:
		return "busy"
	case OccupancyFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Source provides the raw device attributes this package reads. Paths are
// absolute; the Registry decides where devfs and sysfs live.
//
// Implementations must be safe for concurrent use. Errors should wrap
// fs.ErrNotExist and fs.ErrPermission where applicable so callers can
// classify them.
type Source interface {
	// ReadString returns the contents of a text attribute.
	ReadString(path string) (string, error)

	// ReadBytes returns the contents of a binary attribute.
	ReadBytes(path string) ([]byte, error)

	// ListDir returns the entry names of a directory in lexical order.
	ListDir(path string) ([]string, error)

	// OpenTest attempts to open a device file and reports whether it is
	// held by someone else. The handle is released before returning.
	OpenTest(path string) (Occupancy, error)

	// Realpath returns path with every symbolic link resolved. Topology
	// uses it to find where a PCI device sits in the bus hierarchy.
	Realpath(path string) (string, error)
}

func readTrimmed(src Source, path string) (string, error) {
	s, err := src.ReadString(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

type result[T any] struct {
	val T
	err error
}

// await runs fn on its own goroutine so that the caller can give up when
// ctx is done. Reads have no side effects, so an abandoned fn simply
// finishes and its result is dropped.
func await[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	if err := ctx.Err(); err != nil {
		var zero T
		return zero, err
	}
	ch := make(chan result[T], 1)
	go func() {
		v, err := fn()
		ch <- result[T]{val: v, err: err}
	}()
	select {
	case r := <-ch:
		return r.val, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
