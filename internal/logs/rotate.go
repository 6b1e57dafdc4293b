package logs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// appendLine writes line to path, rotating first when the file has reached maxSize.
// Backups form a numbered chain: path.1 is the newest, path.<maxBackups> the oldest.
func appendLine(path, line string, maxSize int64, maxBackups int) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return err
	}
	if err := rotateIfNeeded(path, maxSize, maxBackups); err != nil {
		return err
	}
	// #nosec G304 -- path is derived from the configured log dir and a validated service id
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return err
	}
	_, werr := f.WriteString(line)
	cerr := f.Close()
	return errors.Join(werr, cerr)
}

func rotateIfNeeded(path string, maxSize int64, maxBackups int) error {
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if fi.Size() < maxSize {
		return nil
	}
	if maxBackups <= 0 {
		return os.Truncate(path, 0)
	}
	for i := maxBackups; i >= 1; i-- {
		src := path
		if i > 1 {
			src = fmt.Sprintf("%s.%d", path, i-1)
		}
		if _, err := os.Stat(src); err != nil {
			continue
		}
		if err := os.Rename(src, fmt.Sprintf("%s.%d", path, i)); err != nil {
			return err
		}
	}
	return nil
}
