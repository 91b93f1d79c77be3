package activity

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// SizeFunc is the directory-size oracle: total bytes under a path, or
// zero on any error including a missing path or permission denial.
type SizeFunc func(path string) int64

// DirSize walks a directory tree summing regular-file sizes. Unreadable
// entries are skipped; an unreadable root counts as zero.
func DirSize(path string) int64 {
	var total int64
	err := filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == path {
				return err
			}
			return nil
		}
		if d.Type().IsRegular() {
			if info, ierr := d.Info(); ierr == nil {
				total += info.Size()
			}
		}
		return nil
	})
	if err != nil {
		return 0
	}
	return total
}

// DirChecker samples the total size of a fixed set of directories and
// reports whether anything changed since the previous sample. The first
// sample only establishes a baseline and never counts as activity. A
// directory appearing where none existed (size 0 to N) is a change.
type DirChecker struct {
	paths     []string
	sizeFn    SizeFunc
	prev      map[string]int64
	baselined bool
}

// NewDirChecker builds a checker over the given paths. Leading "~/" is
// expanded against the home directory. sizeFn defaults to DirSize.
func NewDirChecker(paths []string, sizeFn SizeFunc) *DirChecker {
	if sizeFn == nil {
		sizeFn = DirSize
	}
	expanded := make([]string, 0, len(paths))
	for _, p := range paths {
		expanded = append(expanded, expandHome(p))
	}
	return &DirChecker{
		paths:  expanded,
		sizeFn: sizeFn,
		prev:   make(map[string]int64),
	}
}

// Sample probes every directory and reports whether any size differs
// from the previous sample.
func (c *DirChecker) Sample() bool {
	sizes := make(map[string]int64, len(c.paths))
	for _, p := range c.paths {
		sizes[p] = c.sizeFn(p)
	}

	if !c.baselined {
		c.prev = sizes
		c.baselined = true
		return false
	}

	changed := false
	for p, size := range sizes {
		if size != c.prev[p] {
			changed = true
			break
		}
	}
	c.prev = sizes
	return changed
}

// Run polls on the given interval, invoking onChange for every sample
// that detected activity, until the context is canceled.
func (c *DirChecker) Run(ctx context.Context, interval time.Duration, onChange func()) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if c.Sample() && onChange != nil {
				onChange()
			}
		}
	}
}

func expandHome(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return path
	}
	return filepath.Join(home, path[2:])
}
