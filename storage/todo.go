package storage

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// mtime returns the newest modification time under path, recursing into
// directories.
func mtime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	newest := info.ModTime()
	if !info.IsDir() {
		return newest, nil
	}
	err = filepath.WalkDir(path, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		if info.ModTime().After(newest) {
			newest = info.ModTime()
		}
		return nil
	})
	return newest, err
}

// Newer reports whether path a was modified more recently than path b.
func Newer(a, b string) (bool, error) {
	ta, err := mtime(a)
	if err != nil {
		return false, err
	}
	tb, err := mtime(b)
	if err != nil {
		return false, err
	}
	return ta.After(tb), nil
}

// Todo walks basedir and returns every source file or directory whose
// sibling target is missing or older, sorted by path. Used to list grading
// work still to be done (e.g. source "mail", target "grade").
func Todo(basedir, source, target string) ([]string, error) {
	var stale []string
	err := filepath.WalkDir(basedir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Name() != source {
			return nil
		}
		tpath := filepath.Join(filepath.Dir(p), target)
		if _, err := os.Stat(tpath); os.IsNotExist(err) {
			stale = append(stale, p)
		} else if err != nil {
			return err
		} else if newer, err := Newer(p, tpath); err != nil {
			return err
		} else if newer {
			stale = append(stale, p)
		}
		if d.IsDir() {
			return filepath.SkipDir
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(stale)
	return stale, nil
}
