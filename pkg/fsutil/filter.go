package fsutil

import (
	"os"
	"strings"
)

// Filter selects directory entries. A nil Filter selects everything.
type Filter func(fi os.FileInfo) bool

func (f Filter) match(fi os.FileInfo) bool {
	return f == nil || f(fi)
}

func IsRegular(fi os.FileInfo) bool {
	return fi.Mode().IsRegular()
}

func IsDir(fi os.FileInfo) bool {
	return fi.IsDir()
}

func HasSuffix(suffix string) Filter {
	return func(fi os.FileInfo) bool {
		return strings.HasSuffix(fi.Name(), suffix)
	}
}

// IsZip matches regular files ending in .zip
func IsZip(fi os.FileInfo) bool {
	return And(IsRegular, HasSuffix(".zip"))(fi)
}

func Not(f Filter) Filter {
	return func(fi os.FileInfo) bool {
		return !f.match(fi)
	}
}

func And(fs ...Filter) Filter {
	return func(fi os.FileInfo) bool {
		for _, f := range fs {
			if !f.match(fi) {
				return false
			}
		}
		return true
	}
}
