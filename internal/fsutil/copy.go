package fsutil

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// CopyTree copies the contents of directory src into dst, creating dst as needed. Symlinks
// are followed: a link to a directory is copied as a directory, a link to a file as a regular
// file. Existing files in dst are overwritten.
func CopyTree(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("copy %s: not a directory", src)
	}
	return copyDir(src, dst, info.Mode().Perm(), map[string]bool{})
}

// copyDir tracks resolved directories on the current path so a symlink cycle fails instead of
// recursing forever.
func copyDir(src, dst string, mode os.FileMode, active map[string]bool) error {
	resolved, err := filepath.EvalSymlinks(src)
	if err != nil {
		return err
	}
	if active[resolved] {
		return fmt.Errorf("copy %s: symlink cycle", src)
	}
	active[resolved] = true
	defer delete(active, resolved)

	if err := os.MkdirAll(dst, mode|0o700); err != nil {
		return err
	}
	entries, err := os.ReadDir(src)
	if err != nil {
		return err
	}
	for _, entry := range entries {
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())
		// Stat, not Lstat: follows symlinks.
		info, err := os.Stat(from)
		if err != nil {
			return err
		}
		if info.IsDir() {
			if err := copyDir(from, to, info.Mode().Perm(), active); err != nil {
				return err
			}
			continue
		}
		if !info.Mode().IsRegular() {
			continue
		}
		if err := copyFile(from, to, info.Mode().Perm()); err != nil {
			return err
		}
	}
	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
