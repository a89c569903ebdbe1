package downloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
	"golang.org/x/sync/errgroup"

	"github.com/mschienbein/deez-sub002/deezer/auth"
)

// collection fans the tracks out and gathers per-track outcomes. A
// failed track is recorded and the rest continue; network parallelism
// stays bounded by the shared admission semaphore, not the fan-out.
// Progress is reported in completion order.
func (d *Downloader) collection(
	ctx context.Context,
	logger zerolog.Logger,
	ids []string,
	onProgress func(TrackResult),
) []TrackResult {
	results := make([]TrackResult, len(ids))

	wg := errgroup.Group{}
	for i, id := range ids {
		wg.Go(func() error {
			res := d.trackResult(ctx, logger, id)
			results[i] = res
			if onProgress != nil {
				onProgress(res)
			}

			return nil
		})
	}
	// Workers record their own outcomes and never return errors.
	_ = wg.Wait()

	return results
}

func (d *Downloader) albumTrackIDs(
	ctx context.Context,
	logger zerolog.Logger,
	albumID string,
) ([]string, error) {
	session := d.auth.Session()
	if session == nil {
		return nil, auth.ErrUnauthorized
	}

	respBytes, err := d.gateway(
		ctx,
		logger,
		session,
		albumTracksMethod,
		map[string]any{"ALB_ID": albumID, "NB": trackListPageSize, "START": 0},
		time.Duration(d.conf.Timeouts.GetTrackList)*time.Second,
	)
	if nil != err {
		return nil, fmt.Errorf("failed to fetch album track list: %w", err)
	}

	return trackIDsOf(respBytes)
}

func (d *Downloader) playlistTrackIDs(
	ctx context.Context,
	logger zerolog.Logger,
	playlistID string,
) ([]string, error) {
	session := d.auth.Session()
	if session == nil {
		return nil, auth.ErrUnauthorized
	}

	respBytes, err := d.gateway(
		ctx,
		logger,
		session,
		playlistSongsMethod,
		map[string]any{"PLAYLIST_ID": playlistID, "NB": trackListPageSize, "START": 0},
		time.Duration(d.conf.Timeouts.GetTrackList)*time.Second,
	)
	if nil != err {
		return nil, fmt.Errorf("failed to fetch playlist track list: %w", err)
	}

	return trackIDsOf(respBytes)
}

func trackIDsOf(respBytes []byte) ([]string, error) {
	data := gjson.GetBytes(respBytes, "results.data")
	if !data.Exists() || !data.IsArray() {
		return nil, fmt.Errorf("unexpected track list response with body: %s", string(respBytes))
	}

	items := data.Array()
	ids := make([]string, 0, len(items))
	for _, item := range items {
		if id := item.Get("SNG_ID").String(); id != "" {
			ids = append(ids, id)
		}
	}

	return ids, nil
}
