package host

import (
	"io/fs"
	"os"
	"path/filepath"

	"github.com/shirou/gopsutil/v4/disk"
)

// PathSize returns the size in bytes of path: the file size for a
// regular file, or the recursive sum of regular-file sizes for a
// directory. Entries that vanish mid-walk are skipped.
func PathSize(path string) (int64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}

	var total int64
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if os.IsNotExist(walkErr) {
				return nil
			}
			return walkErr
		}
		if d.Type().IsRegular() {
			if fi, err := d.Info(); err == nil {
				total += fi.Size()
			}
		}
		return nil
	})
	return total, err
}

// FSUsage describes the backing filesystem of a path.
type FSUsage struct {
	Total       uint64
	Used        uint64
	UsedPercent float64
}

// FilesystemUsage measures the filesystem backing path.
func FilesystemUsage(path string) (*FSUsage, error) {
	u, err := disk.Usage(path)
	if err != nil {
		return nil, err
	}
	return &FSUsage{Total: u.Total, Used: u.Used, UsedPercent: u.UsedPercent}, nil
}
