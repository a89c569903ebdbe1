package downloader

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/mschienbein/deez-sub002/deezer/types"
)

// embedTrackTags writes descriptive metadata (and artwork when a cover
// path is given) into the finished file. Callers treat failures as
// non-fatal: a downloaded-but-untagged track is still a success.
func embedTrackTags(ctx context.Context, trackPath string, meta types.TrackMeta, coverPath string) (err error) {
	ext := filepath.Ext(trackPath)
	taggedPath := strings.TrimSuffix(trackPath, ext) + ".tagged" + ext
	defer func() {
		if nil != err {
			if removeErr := os.Remove(taggedPath); nil != removeErr && !errors.Is(removeErr, os.ErrNotExist) {
				err = errors.Join(err, fmt.Errorf("failed to remove partial tagged file: %v", removeErr))
			}
		}
	}()

	metaTags := []string{
		"artist=" + meta.Artist,
		"title=" + meta.Title,
		"album=" + meta.AlbumTitle,
		"track=" + strconv.Itoa(meta.TrackNumber),
		"disc=" + strconv.Itoa(meta.DiscNumber),
	}

	if meta.ISRC != "" {
		metaTags = append(metaTags, "isrc="+meta.ISRC)
	}

	if meta.ReleaseDate != "" {
		metaTags = append(metaTags, "date="+meta.ReleaseDate)
	}

	args := []string{"-i", trackPath}
	if coverPath != "" {
		args = append(args, "-i", coverPath, "-map", "0:a", "-map", "1", "-disposition:v", "attached_pic")
	} else {
		args = append(args, "-map", "0:a")
	}
	args = append(args, "-c", "copy")

	for _, tag := range metaTags {
		args = append(args, "-metadata", tag)
	}
	args = append(args, taggedPath)

	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	if err := cmd.Run(); nil != err {
		return fmt.Errorf("failed to write track tags: %v", err)
	}

	if err := os.Rename(taggedPath, trackPath); nil != err {
		return fmt.Errorf("failed to rename tagged track file: %v", err)
	}

	return nil
}
