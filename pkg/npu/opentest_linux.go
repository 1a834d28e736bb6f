//go:build linux

package npu

import (
	"errors"
	"io/fs"

	"golang.org/x/sys/unix"
)

// openTest opens path read-write and closes it again. The NPU driver
// allows one holder per device file and answers EBUSY to the rest.
func openTest(path string) (Occupancy, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	switch {
	case err == nil:
		_ = unix.Close(fd)
		return OccupancyFree, nil
	case errors.Is(err, unix.EBUSY):
		return OccupancyBusy, nil
	case errors.Is(err, unix.ENODEV), errors.Is(err, unix.ENXIO), errors.Is(err, unix.EIO):
		return OccupancyFailed, nil
	}
	return OccupancyFree, &fs.PathError{Op: "open", Path: path, Err: err}
}
