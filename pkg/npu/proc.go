package npu

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"sort"
	"strings"

	"github.com/prometheus/procfs"
)

// Process is a process holding an NPU device file open.
type Process struct {
	DeviceFile string `json:"device_file"`
	PID        int    `json:"pid"`
	Cmdline    string `json:"cmdline"`
}

// ProcessScanner finds the processes that hold device files open by
// walking the file descriptors under procfs.
type ProcessScanner struct {
	fs     procfs.FS
	devfs  string
	logger *slog.Logger
}

// NewProcessScanner returns a scanner over the procfs mounted at procRoot.
// devfs is where device file links point, normally /dev.
func NewProcessScanner(procRoot, devfs string, logger *slog.Logger) (*ProcessScanner, error) {
	pfs, err := procfs.NewFS(procRoot)
	if err != nil {
		return nil, sourceError("open procfs", procRoot, err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ProcessScanner{fs: pfs, devfs: devfs, logger: logger}, nil
}

// deviceFileName returns the device file name a descriptor target refers
// to, if any.
func (s *ProcessScanner) deviceFileName(target string) (string, bool) {
	dir, name := path.Split(target)
	dir = strings.TrimSuffix(dir, "/")
	if dir != s.devfs && dir != ArchRNGD.devfileDir(s.devfs) {
		return "", false
	}
	if _, err := ParseDeviceFileName(name); err != nil {
		return "", false
	}
	return name, true
}

// Scan lists every (process, device file) pair, ordered by device file and
// then pid. Processes that exit or cannot be inspected during the scan are
// skipped; other failures are returned joined alongside the result.
func (s *ProcessScanner) Scan() ([]Process, error) {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return nil, sourceError("list processes", "", err)
	}

	var out []Process
	var failures []error
	for _, p := range procs {
		targets, err := p.FileDescriptorTargets()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) || errors.Is(err, fs.ErrPermission) {
				s.logger.Debug("skipping process", slog.Int("pid", p.PID), slog.String("error", err.Error()))
				continue
			}
			failures = append(failures, fmt.Errorf("pid %d: %w", p.PID, err))
			continue
		}

		var held []string
		seen := make(map[string]bool)
		for _, t := range targets {
			if name, ok := s.deviceFileName(t); ok && !seen[name] {
				seen[name] = true
				held = append(held, name)
			}
		}
		if len(held) == 0 {
			continue
		}

		cmdline, err := p.CmdLine()
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			failures = append(failures, fmt.Errorf("pid %d: %w", p.PID, err))
		}
		for _, name := range held {
			out = append(out, Process{DeviceFile: name, PID: p.PID, Cmdline: strings.Join(cmdline, " ")})
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].DeviceFile != out[j].DeviceFile {
			return out[i].DeviceFile < out[j].DeviceFile
		}
		return out[i].PID < out[j].PID
	})
	return out, errors.Join(failures...)
}
