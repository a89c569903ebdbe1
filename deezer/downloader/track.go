package downloader

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
	"github.com/rs/zerolog"

	"github.com/mschienbein/deez-sub002/deezer/auth"
	"github.com/mschienbein/deez-sub002/deezer/crypto"
	"github.com/mschienbein/deez-sub002/deezer/fs"
	"github.com/mschienbein/deez-sub002/deezer/types"
	"github.com/mschienbein/deez-sub002/mathutil"
	"github.com/mschienbein/deez-sub002/result"
	"github.com/mschienbein/deez-sub002/unit"
)

// trackResult downloads one track, retrying transient failures with
// exponential backoff. Credential, availability, and cancellation
// errors are final on the first occurrence.
func (d *Downloader) trackResult(ctx context.Context, logger zerolog.Logger, id string) TrackResult {
	ref := types.TrackRef{
		ID:              id,
		Quality:         d.requested,
		FallbackQuality: d.fallback,
	}
	logger = logger.With().Str("track_id", id).Logger()

	var path, title string
	operation := func() error {
		p, t, err := d.track(ctx, logger, ref)
		if t != "" {
			title = t
		}
		if nil != err {
			switch {
			case errors.Is(err, auth.ErrUnauthorized),
				errors.Is(err, ErrTrackUnavailable),
				errors.Is(err, ErrNoToken),
				errors.Is(err, context.Canceled):
				return backoff.Permanent(err)
			}

			logger.Warn().Err(err).Msg("Track download attempt failed. Retrying.")

			return err
		}
		path = p

		return nil
	}

	bo := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), uint64(d.conf.MaxRetries)),
		ctx,
	)
	if err := backoff.Retry(operation, bo); nil != err {
		logger.Error().Err(err).Msg("Failed to download track")
		return TrackResult{ID: id, Title: title, Outcome: result.Err[string](err)}
	}

	return TrackResult{ID: id, Title: title, Outcome: result.Ok(&path)}
}

func (d *Downloader) track(
	ctx context.Context,
	logger zerolog.Logger,
	ref types.TrackRef,
) (path string, title string, err error) {
	if d.archive != nil {
		archived, err := d.archive.Lookup(ref.ID)
		if nil != err {
			return "", "", fmt.Errorf("failed to consult download archive: %v", err)
		}

		if archived != "" {
			if _, statErr := os.Stat(archived); statErr == nil {
				logger.Info().Str("path", archived).Msg("Track already downloaded. Skipping.")
				return archived, "", nil
			}
		}
	}

	session := d.auth.Session()
	if session == nil {
		return "", "", auth.ErrUnauthorized
	}

	loc, meta, err := d.resolveTrack(ctx, logger, session, ref)
	if nil != err {
		return "", "", err
	}
	title = meta.Title
	logger = logger.With().Str("quality", loc.Quality.String()).Logger()

	trackFile := d.dir.Track(fmt.Sprintf("%s - %s", meta.Artist, meta.Title))
	if exists, err := trackFile.Exists(loc.Quality.Ext()); nil != err {
		return "", title, err
	} else if exists {
		return trackFile.PathFor(loc.Quality.Ext()), title, nil
	}

	// Artwork is tag material only; losing it never fails the track.
	coverPath := d.coverFor(ctx, logger, session, meta)

	// The admission semaphore bounds concurrent open media sockets
	// across all logical downloads, collections included.
	if err := d.sem.Acquire(ctx, 1); nil != err {
		return "", title, context.Cause(ctx)
	}
	defer d.sem.Release(1)

	if err := d.limiter.Wait(ctx); nil != err {
		return "", title, err
	}

	ext, err := d.transfer(ctx, logger, loc, ref.ID, trackFile)
	if nil != err {
		return "", title, err
	}

	path, err = trackFile.FinalizeAs(ext)
	if nil != err {
		if removeErr := trackFile.RemovePart(); nil != removeErr {
			err = errors.Join(err, removeErr)
		}

		return "", title, err
	}

	if !d.conf.SkipTagging {
		if err := embedTrackTags(ctx, path, *meta, coverPath); nil != err {
			logger.Warn().Err(err).Msg("Failed to embed track tags. Keeping untagged file.")
		}
	}

	if d.archive != nil {
		if err := d.archive.Record(ref.ID, path); nil != err {
			logger.Warn().Err(err).Msg("Failed to record track in download archive")
		}
	}

	logger.Info().Str("path", path).Msg("Track downloaded")

	return path, title, nil
}

// transfer streams the media bytes into the part file, decrypting on
// the fly when the resolved quality requires it. On any failure the
// part file is removed so a corrupt download never looks finished.
func (d *Downloader) transfer(
	ctx context.Context,
	logger zerolog.Logger,
	loc *types.ResolvedLocation,
	trackID string,
	trackFile fs.TrackFile,
) (ext string, err error) {
	f, err := os.OpenFile(trackFile.PartPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o0600)
	if nil != err {
		return "", fmt.Errorf("failed to create track part file: %v", err)
	}
	defer func() {
		if nil != err {
			if removeErr := trackFile.RemovePart(); nil != removeErr {
				err = errors.Join(err, removeErr)
			}
		}
	}()
	defer func() {
		if closeErr := f.Close(); nil != closeErr && !errors.Is(closeErr, os.ErrClosed) {
			err = errors.Join(err, fmt.Errorf("failed to close track part file: %v", closeErr))
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, loc.URL, nil)
	if nil != err {
		return "", fmt.Errorf("failed to create track download request: %v", err)
	}

	client := http.Client{Timeout: time.Duration(d.conf.Timeouts.DownloadTrack) * time.Second} //nolint:exhaustruct
	resp, err := client.Do(req)
	if nil != err {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", context.DeadlineExceeded
		}

		if errors.Is(err, context.Canceled) {
			return "", context.Canceled
		}

		return "", fmt.Errorf("failed to send track download request: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); nil != closeErr {
			err = errors.Join(err, fmt.Errorf("failed to close track download response body: %v", closeErr))
		}
	}()

	switch code := resp.StatusCode; code {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		return "", ErrTooManyRequests
	case http.StatusForbidden, http.StatusNotFound:
		return "", ErrTrackUnavailable
	default:
		return "", fmt.Errorf("unexpected track download status code %d", code)
	}

	totalSize := resp.ContentLength
	if totalSize > 0 {
		logger.Debug().
			Int64("size_mib", totalSize/unit.Mebibyte).
			Int64("chunks", mathutil.DivCeil(totalSize, int64(crypto.ChunkSize))).
			Msg("Starting track transfer")
	}

	var src io.Reader = resp.Body
	if loc.RequiresDecryption {
		dec, err := crypto.NewStreamDecrypter(resp.Body, crypto.DeriveTrackKey(trackID))
		if nil != err {
			return "", err
		}
		src = dec
	}

	n, err := io.Copy(f, src)
	if nil != err {
		if errors.Is(err, context.Canceled) || errors.Is(ctx.Err(), context.Canceled) {
			return "", context.Canceled
		}

		return "", fmt.Errorf("failed to stream track bytes: %w", err)
	}

	// A stream that ends cleanly but short of the advertised length is
	// a broken chunk boundary, not a finished file.
	if totalSize > 0 && n != totalSize {
		return "", fmt.Errorf("truncated track stream: got %d of %d bytes", n, totalSize)
	}

	if err := f.Sync(); nil != err {
		return "", fmt.Errorf("failed to sync track part file: %v", err)
	}

	if err := f.Close(); nil != err {
		return "", fmt.Errorf("failed to close track part file: %v", err)
	}

	return d.sniffExt(logger, trackFile.PartPath(), loc.Quality), nil
}

// sniffExt picks the extension from the decrypted bytes, falling back
// to the quality's nominal container when detection is inconclusive.
func (d *Downloader) sniffExt(logger zerolog.Logger, path string, quality types.Quality) string {
	mtype, err := mimetype.DetectFile(path)
	if nil != err {
		logger.Debug().Err(err).Msg("Failed to sniff track container type")
		return quality.Ext()
	}

	switch {
	case mtype.Is("audio/flac"):
		return "flac"
	case mtype.Is("audio/mpeg"):
		return "mp3"
	default:
		return quality.Ext()
	}
}
