package npu

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"
)

const (
	DefaultDevfs  = "/dev"
	DefaultSysfs  = "/sys"
	DefaultProcfs = "/proc"
)

// Registry discovers devices through a Source. It holds no device state;
// every call enumerates afresh.
type Registry struct {
	src    Source
	devfs  string
	sysfs  string
	logger *slog.Logger
}

// Option configures a Registry.
type Option func(*Registry)

// WithDevfs sets the directory holding device files.
func WithDevfs(dir string) Option {
	return func(r *Registry) { r.devfs = dir }
}

// WithSysfs sets the root of the sysfs tree.
func WithSysfs(dir string) Option {
	return func(r *Registry) { r.sysfs = dir }
}

// WithLogger sets the logger used for diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry returns a Registry reading from src.
func NewRegistry(src Source, opts ...Option) *Registry {
	r := &Registry{
		src:    src,
		devfs:  DefaultDevfs,
		sysfs:  DefaultSysfs,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Source returns the Source the registry reads from.
func (r *Registry) Source() Source {
	return r.src
}

// ListDevices returns every device in ascending index order.
//
// A device that cannot be built does not abort the listing: the devices
// that could be built are returned together with a joined error describing
// the rest. Only a failure to enumerate the device directories is fatal,
// in which case the returned slice is nil.
func (r *Registry) ListDevices() ([]*Device, error) {
	candidates := make(map[int]Arch)
	var failures []error

	for _, arch := range Archs() {
		indices, err := r.listIndices(arch)
		if err != nil {
			return nil, err
		}
		for _, idx := range indices {
			if prev, dup := candidates[idx]; dup {
				failures = append(failures, newError(CodeUnexpectedValue, "list devices",
					"npu%d exposed by both %s and %s drivers", idx, prev, arch))
				continue
			}
			candidates[idx] = arch
		}
	}

	var (
		mu      sync.Mutex
		devices []*Device
		g       errgroup.Group
	)
	for idx, arch := range candidates {
		g.Go(func() error {
			d, err := r.buildDevice(arch, idx)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failures = append(failures, fmt.Errorf("npu%d: %w", idx, err))
			case d != nil:
				devices = append(devices, d)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(devices, func(i, j int) bool { return devices[i].index < devices[j].index })
	sortErrors(failures)
	return devices, errors.Join(failures...)
}

// ListDevicesContext is ListDevices for callers that must be able to
// abandon the enumeration.
func (r *Registry) ListDevicesContext(ctx context.Context) ([]*Device, error) {
	type listing struct {
		devices []*Device
		err     error
	}
	l, err := await(ctx, func() (listing, error) {
		devices, err := r.ListDevices()
		return listing{devices, err}, nil
	})
	if err != nil {
		return nil, err
	}
	return l.devices, l.err
}

// GetDevice returns the device with the given index.
func (r *Registry) GetDevice(index int) (*Device, error) {
	for _, arch := range Archs() {
		indices, err := r.listIndices(arch)
		if err != nil {
			return nil, err
		}
		for _, idx := range indices {
			if idx != index {
				continue
			}
			d, err := r.buildDevice(arch, idx)
			if err != nil {
				return nil, err
			}
			if d != nil {
				return d, nil
			}
		}
	}
	return nil, newError(CodeDeviceNotFound, "get device", "npu%d", index)
}

// GetDeviceContext is GetDevice with cancellation.
func (r *Registry) GetDeviceContext(ctx context.Context, index int) (*Device, error) {
	return await(ctx, func() (*Device, error) { return r.GetDevice(index) })
}

// listIndices returns the distinct device indices named in arch's device
// file directory. A missing directory means the driver is not loaded.
func (r *Registry) listIndices(arch Arch) ([]int, error) {
	dir := arch.devfileDir(r.devfs)
	names, err := r.src.ListDir(dir)
	if err != nil {
		if isNotExist(err) {
			return nil, nil
		}
		return nil, sourceError("list devices", dir, err)
	}
	seen := make(map[int]bool)
	var indices []int
	for _, name := range names {
		p, err := ParseDeviceFileName(name)
		if err != nil || seen[p.Index] {
			continue
		}
		seen[p.Index] = true
		indices = append(indices, p.Index)
	}
	sort.Ints(indices)
	return indices, nil
}

// buildDevice returns nil without error when the index does not belong to
// an NPU platform.
func (r *Registry) buildDevice(arch Arch, index int) (*Device, error) {
	p := path.Join(arch.mgmtDir(r.sysfs, index), filePlatformType)
	platform, err := r.src.ReadString(p)
	if err != nil {
		if isNotExist(err) {
			r.logger.Debug("skipping device without management node",
				slog.Int("index", index), slog.String("arch", arch.String()))
			return nil, nil
		}
		return nil, sourceError("read platform_type", p, err)
	}
	if !isNPUPlatform(platform) {
		r.logger.Debug("skipping non-NPU platform",
			slog.Int("index", index), slog.String("platform", platform))
		return nil, nil
	}

	d, err := newDevice(r.src, arch, index, r.devfs, r.sysfs)
	if err != nil {
		return nil, err
	}
	if _, err := d.DeviceFiles(); err != nil {
		return nil, err
	}
	return d, nil
}

func sortErrors(errs []error) {
	sort.SliceStable(errs, func(i, j int) bool { return errs[i].Error() < errs[j].Error() })
}

// DeviceCache memoizes the device list for callers that poll. Only the
// device identity snapshot is kept; dynamic accessors on the cached
// devices still read the Source. The owner decides when to Invalidate.
type DeviceCache struct {
	registry *Registry

	mu      sync.Mutex
	devices []*Device
	valid   bool
}

// NewDeviceCache returns an empty cache over registry.
func NewDeviceCache(registry *Registry) *DeviceCache {
	return &DeviceCache{registry: registry}
}

// Devices returns the cached list, enumerating on first use or after
// Invalidate. A listing with partial failures is returned but not cached,
// so the next call retries.
func (c *DeviceCache) Devices() ([]*Device, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.valid {
		return c.devices, nil
	}
	devices, err := c.registry.ListDevices()
	if err != nil {
		return devices, err
	}
	c.devices = devices
	c.valid = true
	return devices, nil
}

// Invalidate drops the cached list.
func (c *DeviceCache) Invalidate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.devices = nil
	c.valid = false
}
