package downloader

import (
	"context"
	"crypto/md5" //nolint:gosec
	"encoding/hex"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"

	"github.com/mschienbein/deez-sub002/deezer/auth"
	"github.com/mschienbein/deez-sub002/deezer/types"
)

// resolveTrack fetches the track's delivery metadata, negotiates the
// effective quality against the session's entitlements, and constructs
// the media URL. The signed token is single-use and never cached.
func (d *Downloader) resolveTrack(
	ctx context.Context,
	logger zerolog.Logger,
	session *auth.Session,
	ref types.TrackRef,
) (*types.ResolvedLocation, *types.TrackMeta, error) {
	respBytes, err := d.gateway(
		ctx,
		logger,
		session,
		trackMethod,
		map[string]string{"SNG_ID": ref.ID},
		time.Duration(d.conf.Timeouts.ResolveTrack)*time.Second,
	)
	if nil != err {
		return nil, nil, fmt.Errorf("failed to fetch track delivery metadata: %w", err)
	}

	results := gjson.GetBytes(respBytes, "results")
	if !results.Exists() || results.Get("SNG_ID").String() == "" {
		return nil, nil, ErrTrackUnavailable
	}

	meta := &types.TrackMeta{
		ID:          results.Get("SNG_ID").String(),
		Title:       results.Get("SNG_TITLE").String(),
		Artist:      results.Get("ART_NAME").String(),
		AlbumID:     results.Get("ALB_ID").String(),
		AlbumTitle:  results.Get("ALB_TITLE").String(),
		CoverID:     results.Get("ALB_PICTURE").String(),
		ISRC:        results.Get("ISRC").String(),
		TrackNumber: int(results.Get("TRACK_NUMBER").Int()),
		DiscNumber:  int(results.Get("DISK_NUMBER").Int()),
		ReleaseDate: results.Get("PHYSICAL_RELEASE_DATE").String(),
	}

	quality := session.Entitlements.Resolve(ref.Quality, ref.FallbackQuality)
	if quality != ref.Quality {
		logger.Debug().
			Str("requested", ref.Quality.String()).
			Str("resolved", quality.String()).
			Msg("Requested quality is not entitled. Falling back.")
	}

	token := signedToken(results, quality)
	if token == "" {
		return nil, nil, ErrNoToken
	}

	loc := &types.ResolvedLocation{
		URL:                MediaURL(d.mediaHostPattern, quality, ref.ID, token),
		Quality:            quality,
		RequiresDecryption: quality.RequiresDecryption(),
	}

	return loc, meta, nil
}

// The lossless tier carries its own token field; everything else (and
// lossless responses lacking it) uses the generic one.
func signedToken(results gjson.Result, quality types.Quality) string {
	if quality == types.QualityLossless {
		if t := results.Get("TRACK_TOKEN_FLAC").String(); t != "" {
			return t
		}
	}

	return results.Get("TRACK_TOKEN").String()
}

// MediaURL derives the CDN location for a track: the route hash keys
// the file, its first hex character selects the shard host.
func MediaURL(hostPattern string, quality types.Quality, trackID, token string) string {
	sum := md5.Sum([]byte(quality.FormatCode() + trackID + token)) //nolint:gosec
	routeHash := hex.EncodeToString(sum[:])

	return fmt.Sprintf(hostPattern, routeHash[:1], routeHash)
}
