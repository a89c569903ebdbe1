package downloader

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/mschienbein/deez-sub002/cache"
	"github.com/mschienbein/deez-sub002/deezer/auth"
	"github.com/mschienbein/deez-sub002/deezer/types"
)

// albumMeta fetches an album's descriptive fields, cached per album id
// so a full album download asks the gateway once.
func (d *Downloader) albumMeta(
	ctx context.Context,
	logger zerolog.Logger,
	session *auth.Session,
	albumID string,
) (*types.AlbumMeta, error) {
	item, err := d.cache.AlbumsMeta.Fetch(
		albumID,
		cache.DefaultAlbumMetaTTL,
		func() (*types.AlbumMeta, error) {
			respBytes, err := d.gateway(
				ctx,
				logger,
				session,
				albumMethod,
				map[string]string{"ALB_ID": albumID},
				time.Duration(d.conf.Timeouts.GetTrackList)*time.Second,
			)
			if nil != err {
				return nil, fmt.Errorf("failed to fetch album metadata: %w", err)
			}

			results := gjson.GetBytes(respBytes, "results")

			return &types.AlbumMeta{
				ID:          results.Get("ALB_ID").String(),
				Title:       results.Get("ALB_TITLE").String(),
				Artist:      results.Get("ART_NAME").String(),
				CoverID:     results.Get("ALB_PICTURE").String(),
				ReleaseDate: results.Get("PHYSICAL_RELEASE_DATE").String(),
				TotalTracks: int(results.Get("NUMBER_TRACK").Int()),
			}, nil
		},
	)
	if nil != err {
		return nil, err
	}

	return item.Value(), nil
}
