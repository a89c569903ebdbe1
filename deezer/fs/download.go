package fs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type DownloadDir string

func DownloadDirFrom(d string) DownloadDir {
	return DownloadDir(d)
}

func (dir DownloadDir) Track(name string) TrackFile {
	return TrackFile{Base: filepath.Join(dir.path(), sanitizeName(name))}
}

func (dir DownloadDir) Cover(albumID string) Cover {
	return Cover{Path: filepath.Join(dir.path(), albumID+".jpg")}
}

func (dir DownloadDir) path() string {
	return string(dir)
}

// TrackFile is the destination of a download, addressed by its base
// name without extension. Bytes always land in the part file first;
// FinalizeAs promotes it only on full success, once the container
// format (and so the extension) is known.
type TrackFile struct {
	Base string
}

func (t TrackFile) PartPath() string {
	return t.Base + ".part"
}

func (t TrackFile) PathFor(ext string) string {
	return t.Base + "." + ext
}

func (t TrackFile) Exists(ext string) (bool, error) {
	return fileExists(t.PathFor(ext))
}

func (t TrackFile) FinalizeAs(ext string) (string, error) {
	dst := t.PathFor(ext)
	if err := os.Rename(t.PartPath(), dst); nil != err {
		return "", fmt.Errorf("failed to finalize track file: %v", err)
	}

	return dst, nil
}

func (t TrackFile) RemovePart() error {
	if err := os.Remove(t.PartPath()); nil != err && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove track part file: %v", err)
	}

	return nil
}

type Cover struct {
	Path string
}

func (c Cover) Exists() (bool, error) {
	return fileExists(c.Path)
}

func (c Cover) Write(b []byte) (err error) {
	f, err := os.OpenFile(c.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC|os.O_SYNC, 0o600)
	if nil != err {
		return fmt.Errorf("failed to open cover file for write: %v", err)
	}
	defer func() {
		if nil != err {
			if removeErr := os.Remove(c.Path); nil != removeErr &&
				!errors.Is(removeErr, os.ErrNotExist) {
				err = errors.Join(
					err,
					fmt.Errorf("failed to remove incomplete cover file: %v", removeErr),
				)
			}
		} else {
			if closeErr := f.Close(); nil != closeErr {
				err = fmt.Errorf("failed to close cover file: %v", closeErr)
			}
		}
	}()

	if _, err := f.Write(b); nil != err {
		return fmt.Errorf("failed to write cover file: %v", err)
	}

	if err := f.Sync(); nil != err {
		return fmt.Errorf("failed to sync cover file: %v", err)
	}

	return nil
}

func (c Cover) Remove() error {
	if err := os.Remove(c.Path); nil != err && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove cover file: %v", err)
	}

	return nil
}

func fileExists(path string) (bool, error) {
	if _, err := os.Stat(path); nil != err {
		if errors.Is(err, os.ErrNotExist) {
			return false, nil
		}

		return false, fmt.Errorf("failed to stat file: %v", err)
	}

	return true, nil
}

var nameSanitizer = strings.NewReplacer(
	"/", "-",
	"\\", "-",
	":", "-",
	"*", "",
	"?", "",
	"\"", "'",
	"<", "(",
	">", ")",
	"|", "-",
	"\x00", "",
)

func sanitizeName(name string) string {
	return strings.TrimSpace(nameSanitizer.Replace(name))
}
