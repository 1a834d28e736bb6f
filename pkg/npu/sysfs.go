package npu

import (
	"os"
	"path/filepath"
	"sort"
)

// SysfsSource reads attributes from the live filesystem. Paths are used
// as given, so a Registry pointed at a copied tree works the same way as
// one pointed at /sys and /dev.
type SysfsSource struct{}

// NewSysfsSource returns a Source backed by the host filesystem.
func NewSysfsSource() *SysfsSource {
	return &SysfsSource{}
}

func (s *SysfsSource) ReadString(path string) (string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *SysfsSource) ReadBytes(path string) ([]byte, error) {
	return os.ReadFile(path)
}

func (s *SysfsSource) ListDir(path string) ([]string, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	return names, nil
}

// OpenTest is implemented per platform.
func (s *SysfsSource) OpenTest(path string) (Occupancy, error) {
	return openTest(path)
}

func (s *SysfsSource) Realpath(path string) (string, error) {
	return filepath.EvalSymlinks(path)
}
