package downloader

import (
	"context"
	"errors"
	"strconv"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/mschienbein/deez-sub002/cache"
	"github.com/mschienbein/deez-sub002/config"
	"github.com/mschienbein/deez-sub002/deezer/archive"
	"github.com/mschienbein/deez-sub002/deezer/auth"
	"github.com/mschienbein/deez-sub002/deezer/fs"
	"github.com/mschienbein/deez-sub002/deezer/types"
	"github.com/mschienbein/deez-sub002/must"
	"github.com/mschienbein/deez-sub002/ratelimit"
	"github.com/mschienbein/deez-sub002/result"
)

const (
	trackMethod         = "song.getData"
	albumTracksMethod   = "song.getListByAlbum"
	albumMethod         = "album.getData"
	playlistSongsMethod = "playlist.getSongs"

	trackListPageSize = 500

	mediaRequestBurst = 2
)

var (
	ErrTooManyRequests       = errors.New("too many requests")
	ErrNoToken               = errors.New("no usable download token")
	ErrTrackUnavailable      = errors.New("track is unavailable")
	ErrUnsupportedArtistLink = errors.New("artist link kind is not supported")
)

type Downloader struct {
	dir              fs.DownloadDir
	auth             *auth.Auth
	conf             config.Downloads
	credential       string
	gatewayURL       string
	mediaHostPattern string
	coverHostPattern string
	requested        types.Quality
	fallback         types.Quality
	cache            *cache.Cache
	archive          *archive.Archive
	sem              *semaphore.Weighted
	limiter          *ratelimit.Limiter
}

func NewDownloader(
	conf config.Deezer,
	a *auth.Auth,
	c *cache.Cache,
	arc *archive.Archive,
) *Downloader {
	requested, err := types.ParseQuality(conf.Downloads.Quality)
	must.NilErr(err)

	fallback, err := types.ParseQuality(conf.Downloads.FallbackQuality)
	must.NilErr(err)

	return &Downloader{
		dir:              fs.DownloadDirFrom(conf.Downloads.Dir),
		auth:             a,
		conf:             conf.Downloads,
		credential:       conf.Credential,
		gatewayURL:       conf.GatewayURL,
		mediaHostPattern: conf.MediaHostPattern,
		coverHostPattern: conf.CoverHostPattern,
		requested:        requested,
		fallback:         fallback,
		cache:            c,
		archive:          arc,
		sem:              semaphore.NewWeighted(int64(conf.Downloads.Parallel)),
		limiter:          ratelimit.NewLimiter(conf.Downloads.RequestsPerSecond, mediaRequestBurst),
	}
}

// TrackResult is one track's outcome within a batch. The outcome holds
// the final file path on success.
type TrackResult struct {
	ID      string
	Title   string
	Outcome result.Of[string]
}

// Download runs a link end to end and reports per-track outcomes. The
// returned error covers failures that prevented the batch from running
// at all (unknown links, track list fetch); per-track failures land in
// the result slice instead.
func (d *Downloader) Download(
	ctx context.Context,
	logger zerolog.Logger,
	link types.Link,
	onProgress func(TrackResult),
) ([]TrackResult, error) {
	switch k := link.Kind; k {
	case types.LinkKindTrack:
		res := d.trackResult(ctx, logger, link.ID)
		if onProgress != nil {
			onProgress(res)
		}

		return []TrackResult{res}, nil
	case types.LinkKindAlbum:
		ids, err := d.albumTrackIDs(ctx, logger, link.ID)
		if nil != err {
			return nil, err
		}

		return d.collection(ctx, logger, ids, onProgress), nil
	case types.LinkKindPlaylist:
		ids, err := d.playlistTrackIDs(ctx, logger, link.ID)
		if nil != err {
			return nil, err
		}

		return d.collection(ctx, logger, ids, onProgress), nil
	case types.LinkKindArtist:
		return nil, ErrUnsupportedArtistLink
	default:
		panic("unexpected link kind: " + strconv.Itoa(int(k)))
	}
}
