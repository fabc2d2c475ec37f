package spooler

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// MoveFileToDir moves srcPath into dstDir and returns the new path. An
// existing file of the same name is never overwritten: the moved file gets a
// numeric suffix instead ("a.json" becomes "a-1.json").
func MoveFileToDir(srcPath string, dstDir string) (string, error) {
	if strings.TrimSpace(dstDir) == "" {
		return "", fmt.Errorf("dstDir is empty")
	}
	if err := os.MkdirAll(dstDir, 0o755); err != nil {
		return "", err
	}
	dstPath, err := freeName(dstDir, filepath.Base(srcPath))
	if err != nil {
		return "", err
	}
	if err := os.Rename(srcPath, dstPath); err == nil {
		return dstPath, nil
	}
	// cross-device
	if err := copyFile(srcPath, dstPath); err != nil {
		return "", err
	}
	if err := os.Remove(srcPath); err != nil {
		return "", err
	}
	return dstPath, nil
}

// MoveFilesToDir moves every path and returns the new locations of the files
// that were moved. It keeps going after a failure and joins the errors.
func MoveFilesToDir(paths []string, dstDir string) (map[string]string, error) {
	moved := make(map[string]string, len(paths))
	var errs []error
	for _, p := range paths {
		dst, err := MoveFileToDir(p, dstDir)
		if err != nil {
			errs = append(errs, fmt.Errorf("move %s: %w", p, err))
			continue
		}
		moved[p] = dst
	}
	return moved, errors.Join(errs...)
}

func freeName(dir, base string) (string, error) {
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	candidate := filepath.Join(dir, base)
	for i := 1; i < 10000; i++ {
		if _, err := os.Lstat(candidate); errors.Is(err, os.ErrNotExist) {
			return candidate, nil
		} else if err != nil {
			return "", err
		}
		candidate = filepath.Join(dir, fmt.Sprintf("%s-%d%s", stem, i, ext))
	}
	return "", fmt.Errorf("no free name for %s in %s", base, dir)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
