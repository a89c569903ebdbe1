package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/mschienbein/deez-sub002/cache"
	"github.com/mschienbein/deez-sub002/deezer/auth"
	"github.com/mschienbein/deez-sub002/deezer/types"
)

// coverFor makes the album artwork available on disk for tag embedding
// and returns its path, or "" when artwork could not be fetched. Cover
// bytes are cached per cover id so an album is fetched once. Track
// responses without a cover id fall back to the album's metadata.
func (d *Downloader) coverFor(
	ctx context.Context,
	logger zerolog.Logger,
	session *auth.Session,
	meta *types.TrackMeta,
) string {
	if meta.AlbumID == "" {
		return ""
	}

	coverFile := d.dir.Cover(meta.AlbumID)
	if exists, err := coverFile.Exists(); nil != err {
		logger.Warn().Err(err).Msg("Failed to check if cover file exists")
		return ""
	} else if exists {
		return coverFile.Path
	}

	coverID := meta.CoverID
	if coverID == "" {
		album, err := d.albumMeta(ctx, logger, session, meta.AlbumID)
		if nil != err {
			logger.Warn().Err(err).Msg("Failed to fetch album metadata for cover")
			return ""
		}
		coverID = album.CoverID
	}

	if coverID == "" {
		return ""
	}

	cached, err := d.cache.Covers.Fetch(
		coverID,
		cache.DefaultCoverTTL,
		func() ([]byte, error) { return d.downloadCover(ctx, logger, coverID) },
	)
	if nil != err {
		logger.Warn().Err(err).Msg("Failed to download album cover")
		return ""
	}

	if err := coverFile.Write(cached.Value()); nil != err {
		logger.Warn().Err(err).Msg("Failed to write album cover file")
		return ""
	}

	return coverFile.Path
}

func (d *Downloader) downloadCover(
	ctx context.Context,
	logger zerolog.Logger,
	coverID string,
) (b []byte, err error) {
	coverURL := fmt.Sprintf(d.coverHostPattern, coverID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, coverURL, nil)
	if nil != err {
		return nil, fmt.Errorf("failed to create get cover request: %v", err)
	}

	client := http.Client{Timeout: time.Duration(d.conf.Timeouts.DownloadCover) * time.Second} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		return nil, fmt.Errorf("failed to send get cover request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close get cover response body: %v", closeErr))
		}
	}()

	if code := resp.StatusCode; code != http.StatusOK {
		logger.Warn().Int("status_code", code).Msg("Unexpected get cover response status code")
		return nil, fmt.Errorf("unexpected get cover status code %d", code)
	}

	respBytes, err := io.ReadAll(resp.Body)
	if nil != err {
		return nil, fmt.Errorf("failed to read cover response body: %v", err)
	}

	return respBytes, nil
}
