package workspace

import (
	"io"
	"os"
	"path/filepath"

	appErr "github.com/storegrid/engine/pkg/errors"
)

// Mirror makes dst an exact copy of src: files are copied over, and entries
// present in dst but not in src are deleted. Paths matching an exclusion
// (relative to the tree root) are neither copied nor deleted — a staging
// push must never touch platform secret files in production.
func (b *Builder) Mirror(src, dst string, excludes []string) error {
	ex := make(map[string]struct{}, len(excludes))
	for _, e := range excludes {
		ex[filepath.Clean(e)] = struct{}{}
	}
	if err := copyInto(src, dst, ex); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "mirror copy failed")
	}
	if err := deleteExtras(src, dst, ex); err != nil {
		return appErr.Wrap(err, appErr.CodeInternal, "mirror delete-sync failed")
	}
	return nil
}

func excluded(ex map[string]struct{}, rel string) bool {
	for p := filepath.Clean(rel); p != "." && p != string(filepath.Separator); p = filepath.Dir(p) {
		if _, ok := ex[p]; ok {
			return true
		}
	}
	return false
}

func copyInto(src, dst string, ex map[string]struct{}) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return os.MkdirAll(dst, dirMode)
		}
		if excluded(ex, rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		target := filepath.Join(dst, rel)
		if d.IsDir() {
			return os.MkdirAll(target, dirMode)
		}
		return copyFile(path, target)
	})
}

func deleteExtras(src, dst string, ex map[string]struct{}) error {
	return filepath.WalkDir(dst, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if os.IsNotExist(err) {
				return nil
			}
			return err
		}
		rel, err := filepath.Rel(dst, path)
		if err != nil || rel == "." {
			return err
		}
		if excluded(ex, rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if _, err := os.Stat(filepath.Join(src, rel)); os.IsNotExist(err) {
			if rmErr := os.RemoveAll(path); rmErr != nil {
				return rmErr
			}
			if d.IsDir() {
				return filepath.SkipDir
			}
		}
		return nil
	})
}

func copyTree(src, dst string) error {
	return copyInto(src, dst, nil)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
