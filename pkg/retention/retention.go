// Package retention prunes timestamped deployment directories, oldest first.
package retention

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-logr/logr"
	"github.com/twpayne/go-vfs"
	"github.com/variantdev/wbstage/pkg/fsutil"
)

// IsTimestamped selects deployment directories, whose names start with a digit.
// Aliases such as "integration" or "latest" never match.
func IsTimestamped(fi os.FileInfo) bool {
	name := fi.Name()
	return fi.IsDir() && len(name) > 0 && name[0] >= '0' && name[0] <= '9'
}

// Candidates returns the timestamped directories under root not named in exclude,
// in ascending, and therefore chronological, order.
func Candidates(fs vfs.FS, root string, exclude ...string) ([]string, error) {
	names, err := fsutil.New(fs, nil).List(root, IsTimestamped)
	if err != nil {
		return nil, err
	}
	skip := map[string]bool{}
	for _, e := range exclude {
		skip[e] = true
	}
	var res []string
	for _, n := range names {
		if !skip[n] {
			res = append(res, n)
		}
	}
	return res, nil
}

// Prune deletes all but the keep newest timestamped directories under root, ignoring
// those named in exclude, and returns the names it deleted. A negative keep counts as 0.
func Prune(fs vfs.FS, root string, keep int, logger logr.Logger, exclude ...string) ([]string, error) {
	files := fsutil.New(fs, logger)

	names, err := Candidates(fs, root, exclude...)
	if err != nil {
		return nil, fmt.Errorf("retention: listing %s: %w", root, err)
	}
	if keep < 0 {
		keep = 0
	}
	n := len(names) - keep
	if n <= 0 {
		files.Logger.V(1).Info("nothing to prune", "root", root, "count", len(names), "keep", keep)
		return nil, nil
	}

	var deleted []string
	for _, name := range names[:n] {
		dir := filepath.Join(root, name)
		files.Logger.Info("pruning deployment", "dir", dir)
		if err := files.RemoveTree(dir); err != nil {
			return deleted, fmt.Errorf("retention: removing %s: %w", dir, err)
		}
		deleted = append(deleted, name)
	}
	return deleted, nil
}
