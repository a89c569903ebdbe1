package downloader_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mschienbein/deez-sub002/cache"
	"github.com/mschienbein/deez-sub002/config"
	"github.com/mschienbein/deez-sub002/deezer/archive"
	"github.com/mschienbein/deez-sub002/deezer/auth"
	"github.com/mschienbein/deez-sub002/deezer/downloader"
	"github.com/mschienbein/deez-sub002/deezer/types"
)

// The cached session carries no paid entitlements, so every download in
// this suite negotiates down to the standard tier and streams plain bytes.
const cachedSessionJSON = `{"anti_forgery_token":"csrf-token","account_id":"4212345",` +
	`"license_token":"license-token","premium":false,"lossless":false,"high":false}`

var mediaPayload = []byte("plain-bytes-standing-in-for-an-audio-stream-0123456789abcdef")

func newTestDownloader(
	t *testing.T,
	gatewayURL string,
	mediaHostPattern string,
	coverHostPattern string,
	downloadsDir string,
	parallel int,
	arc *archive.Archive,
) *downloader.Downloader {
	t.Helper()

	sessionFile := filepath.Join(t.TempDir(), "session.json")
	require.NoError(t, os.WriteFile(sessionFile, []byte(cachedSessionJSON), 0o600))

	conf := config.Deezer{
		Credential:       "arl-test-credential",
		CredentialFile:   "",
		GatewayURL:       gatewayURL,
		MediaHostPattern: mediaHostPattern,
		CoverHostPattern: coverHostPattern,
		SessionFile:      sessionFile,
		ArchiveFile:      "",
		Downloads: config.Downloads{
			Dir:               downloadsDir,
			Parallel:          parallel,
			Quality:           types.QualityLossless.String(),
			FallbackQuality:   types.QualityHigh.String(),
			MaxRetries:        1,
			SkipTagging:       true,
			RequestsPerSecond: 1000,
			Timeouts: config.DownloadTimeouts{
				Bootstrap:     10,
				ResolveTrack:  10,
				GetTrackList:  10,
				DownloadCover: 10,
				DownloadTrack: 10,
			},
		},
	}

	a, err := auth.New(zerolog.Nop(), auth.Options{
		Credential:  conf.Credential,
		GatewayURL:  conf.GatewayURL,
		Timeout:     conf.Downloads.Timeouts.Bootstrap,
		SessionFile: sessionFile,
	})
	require.NoError(t, err)
	require.NotNil(t, a.Session())

	return downloader.NewDownloader(conf, a, cache.New(), arc)
}

// The generic fixture carries no album id, so no artwork lookup happens.
func trackDataBody(id string) string {
	return fmt.Sprintf(
		`{"error":[],"results":{"SNG_ID":%q,"SNG_TITLE":"Track %s","ART_NAME":"Mock Artist",`+
			`"ALB_TITLE":"Mock Album","TRACK_NUMBER":"1","DISK_NUMBER":"1",`+
			`"TRACK_TOKEN":"token-%s"}}`,
		id, id, id,
	)
}

func requestedTrackID(t *testing.T, r *http.Request) string {
	t.Helper()

	body, err := io.ReadAll(r.Body)
	require.NoError(t, err)

	return gjson.GetBytes(body, "SNG_ID").String()
}

func TestTrackDownloadHitsShardedMediaURL(t *testing.T) {
	t.Parallel()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Exactly(t, "song.getData", r.URL.Query().Get("method"))
		require.Exactly(t, "csrf-token", r.URL.Query().Get("api_token"))

		cookie, err := r.Cookie("arl")
		require.NoError(t, err)
		require.Exactly(t, "arl-test-credential", cookie.Value)

		fmt.Fprint(w, trackDataBody(requestedTrackID(t, r)))
	}))
	defer gateway.Close()

	var mediaPath atomic.Value
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mediaPath.Store(r.URL.Path)
		_, _ = w.Write(mediaPayload)
	}))
	defer media.Close()

	dir := t.TempDir()
	dl := newTestDownloader(t, gateway.URL, media.URL+"/%s/%s", "https://covers.invalid/%s.jpg", dir, 1, nil)

	results, err := dl.Download(
		t.Context(),
		zerolog.Nop(),
		types.Link{Kind: types.LinkKindTrack, ID: "3135556"},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Outcome.Err())

	assert.Exactly(t, "3135556", results[0].ID)
	assert.Exactly(t, "Track 3135556", results[0].Title)

	// md5("1" + "3135556" + "token-3135556"); the first hex character
	// selects the shard.
	assert.Exactly(t, "/d/dc72dbfd8b544bba5dc2723d5ff3deef", mediaPath.Load())

	path := *results[0].Outcome.Unwrap()
	assert.Exactly(t, filepath.Join(dir, "Mock Artist - Track 3135556.mp3"), path)

	content, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Exactly(t, mediaPayload, content)

	parts, err := filepath.Glob(filepath.Join(dir, "*.part"))
	require.NoError(t, err)
	assert.Empty(t, parts)
}

func TestMediaURL(t *testing.T) {
	t.Parallel()

	u := downloader.MediaURL("https://host.example/%s/%s", types.QualityStandard, "3135556", "tok")
	assert.Exactly(t, "https://host.example/b/b06e831e0cdbf2e9957b0b86ba24bef4", u)

	other := downloader.MediaURL("https://host.example/%s/%s", types.QualityStandard, "3135556", "tok2")
	assert.NotEqual(t, u, other)
}

func TestAlbumCollectionKeepsGoingOnTrackFailure(t *testing.T) {
	t.Parallel()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch method := r.URL.Query().Get("method"); method {
		case "song.getListByAlbum":
			fmt.Fprint(
				w,
				`{"error":[],"results":{"data":[`+
					`{"SNG_ID":"1"},{"SNG_ID":"2"},{"SNG_ID":"3"},{"SNG_ID":"4"},{"SNG_ID":"5"}]}}`,
			)
		case "song.getData":
			if id := requestedTrackID(t, r); id == "3" {
				fmt.Fprint(w, `{"error":{"DATA_ERROR":"no data"}}`)
			} else {
				fmt.Fprint(w, trackDataBody(id))
			}
		default:
			t.Errorf("unexpected gateway method %q", method)
		}
	}))
	defer gateway.Close()

	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(mediaPayload)
	}))
	defer media.Close()

	dir := t.TempDir()
	dl := newTestDownloader(t, gateway.URL, media.URL+"/%s/%s", "https://covers.invalid/%s.jpg", dir, 2, nil)

	var progressed atomic.Int64
	results, err := dl.Download(
		t.Context(),
		zerolog.Nop(),
		types.Link{Kind: types.LinkKindAlbum, ID: "50"},
		func(downloader.TrackResult) { progressed.Add(1) },
	)
	require.NoError(t, err)
	require.Len(t, results, 5)
	assert.Exactly(t, int64(5), progressed.Load())

	for i, res := range results {
		assert.Exactly(t, fmt.Sprintf("%d", i+1), res.ID)
		if res.ID == "3" {
			assert.ErrorIs(t, res.Outcome.Err(), downloader.ErrTrackUnavailable)
			continue
		}

		require.NoError(t, res.Outcome.Err())
		assert.FileExists(t, *res.Outcome.Unwrap())
	}
}

func TestParallelTransfersStayBounded(t *testing.T) {
	t.Parallel()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("method") {
		case "song.getListByAlbum":
			fmt.Fprint(
				w,
				`{"error":[],"results":{"data":[`+
					`{"SNG_ID":"10"},{"SNG_ID":"11"},{"SNG_ID":"12"},{"SNG_ID":"13"},{"SNG_ID":"14"},`+
					`{"SNG_ID":"15"},{"SNG_ID":"16"},{"SNG_ID":"17"},{"SNG_ID":"18"},{"SNG_ID":"19"}]}}`,
			)
		default:
			fmt.Fprint(w, trackDataBody(requestedTrackID(t, r)))
		}
	}))
	defer gateway.Close()

	var inflight, maxInflight atomic.Int64
	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inflight.Add(1)
		defer inflight.Add(-1)
		for {
			if seen := maxInflight.Load(); cur <= seen || maxInflight.CompareAndSwap(seen, cur) {
				break
			}
		}

		time.Sleep(50 * time.Millisecond)
		_, _ = w.Write(mediaPayload)
	}))
	defer media.Close()

	dir := t.TempDir()
	dl := newTestDownloader(t, gateway.URL, media.URL+"/%s/%s", "https://covers.invalid/%s.jpg", dir, 2, nil)

	results, err := dl.Download(
		t.Context(),
		zerolog.Nop(),
		types.Link{Kind: types.LinkKindAlbum, ID: "60"},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, results, 10)

	for _, res := range results {
		require.NoError(t, res.Outcome.Err())
	}
	assert.LessOrEqual(t, maxInflight.Load(), int64(2))
}

func TestAbortedTransferLeavesNoFiles(t *testing.T) {
	t.Parallel()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, trackDataBody(requestedTrackID(t, r)))
	}))
	defer gateway.Close()

	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "4096")
		_, _ = w.Write(mediaPayload[:16])
		panic(http.ErrAbortHandler)
	}))
	defer media.Close()

	dir := t.TempDir()
	dl := newTestDownloader(t, gateway.URL, media.URL+"/%s/%s", "https://covers.invalid/%s.jpg", dir, 1, nil)

	results, err := dl.Download(
		t.Context(),
		zerolog.Nop(),
		types.Link{Kind: types.LinkKindTrack, ID: "9"},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Error(t, results[0].Outcome.Err())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestUnauthorizedEnvelopeSurfacesAsUnauthorized(t *testing.T) {
	t.Parallel()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error":{"VALID_TOKEN_REQUIRED":"csrf_token"}}`)
	}))
	defer gateway.Close()

	dir := t.TempDir()
	dl := newTestDownloader(t, gateway.URL, "https://media.invalid/%s/%s", "https://covers.invalid/%s.jpg", dir, 1, nil)

	results, err := dl.Download(
		t.Context(),
		zerolog.Nop(),
		types.Link{Kind: types.LinkKindTrack, ID: "1"},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Outcome.Err(), auth.ErrUnauthorized)
}

func TestArchivedTrackIsSkipped(t *testing.T) {
	t.Parallel()

	var gatewayCalls atomic.Int64
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gatewayCalls.Add(1)
		fmt.Fprint(w, trackDataBody(requestedTrackID(t, r)))
	}))
	defer gateway.Close()

	dir := t.TempDir()
	archived := filepath.Join(dir, "Mock Artist - Track 42.mp3")
	require.NoError(t, os.WriteFile(archived, mediaPayload, 0o600))

	arc, err := archive.Open(filepath.Join(t.TempDir(), "archive.db"))
	require.NoError(t, err)
	defer func() { require.NoError(t, arc.Close()) }()
	require.NoError(t, arc.Record("42", archived))

	dl := newTestDownloader(t, gateway.URL, "https://media.invalid/%s/%s", "https://covers.invalid/%s.jpg", dir, 1, arc)

	results, err := dl.Download(
		t.Context(),
		zerolog.Nop(),
		types.Link{Kind: types.LinkKindTrack, ID: "42"},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Outcome.Err())

	assert.Exactly(t, archived, *results[0].Outcome.Unwrap())
	assert.Exactly(t, int64(0), gatewayCalls.Load())
}

func TestPlaylistDownload(t *testing.T) {
	t.Parallel()

	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("method") {
		case "playlist.getSongs":
			fmt.Fprint(w, `{"error":[],"results":{"data":[{"SNG_ID":"71"},{"SNG_ID":"72"}]}}`)
		default:
			fmt.Fprint(w, trackDataBody(requestedTrackID(t, r)))
		}
	}))
	defer gateway.Close()

	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(mediaPayload)
	}))
	defer media.Close()

	dir := t.TempDir()
	dl := newTestDownloader(t, gateway.URL, media.URL+"/%s/%s", "https://covers.invalid/%s.jpg", dir, 2, nil)

	results, err := dl.Download(
		t.Context(),
		zerolog.Nop(),
		types.Link{Kind: types.LinkKindPlaylist, ID: "908622995"},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, results, 2)

	for _, res := range results {
		require.NoError(t, res.Outcome.Err())
		assert.FileExists(t, *res.Outcome.Unwrap())
	}
}

func TestArtistLinksAreRejected(t *testing.T) {
	t.Parallel()

	dl := newTestDownloader(t, "https://gateway.invalid", "https://media.invalid/%s/%s", "https://covers.invalid/%s.jpg", t.TempDir(), 1, nil)

	_, err := dl.Download(t.Context(), zerolog.Nop(), types.Link{Kind: types.LinkKindArtist, ID: "27"}, nil)
	assert.ErrorIs(t, err, downloader.ErrUnsupportedArtistLink)
}

func TestCoverFallsBackToAlbumMetadata(t *testing.T) {
	t.Parallel()

	var albumMetaCalls atomic.Int64
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("method") {
		case "song.getListByAlbum":
			fmt.Fprint(w, `{"error":[],"results":{"data":[{"SNG_ID":"81"},{"SNG_ID":"82"}]}}`)
		case "album.getData":
			albumMetaCalls.Add(1)
			fmt.Fprint(
				w,
				`{"error":[],"results":{"ALB_ID":"77","ALB_TITLE":"Mock Album",`+
					`"ART_NAME":"Mock Artist","ALB_PICTURE":"cover-77","NUMBER_TRACK":"2"}}`,
			)
		case "song.getData":
			id := requestedTrackID(t, r)
			fmt.Fprintf(
				w,
				`{"error":[],"results":{"SNG_ID":%q,"SNG_TITLE":"Track %s",`+
					`"ART_NAME":"Mock Artist","ALB_ID":"77","ALB_TITLE":"Mock Album",`+
					`"TRACK_NUMBER":"1","DISK_NUMBER":"1","TRACK_TOKEN":"token-%s"}}`,
				id, id, id,
			)
		}
	}))
	defer gateway.Close()

	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(mediaPayload)
	}))
	defer media.Close()

	var coverHits atomic.Int64
	covers := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		coverHits.Add(1)
		require.Exactly(t, "/cover-77.jpg", r.URL.Path)
		_, _ = w.Write([]byte("cover-bytes"))
	}))
	defer covers.Close()

	dir := t.TempDir()
	dl := newTestDownloader(t, gateway.URL, media.URL+"/%s/%s", covers.URL+"/%s.jpg", dir, 1, nil)

	results, err := dl.Download(
		t.Context(),
		zerolog.Nop(),
		types.Link{Kind: types.LinkKindAlbum, ID: "77"},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, res := range results {
		require.NoError(t, res.Outcome.Err())
	}

	coverBytes, err := os.ReadFile(filepath.Join(dir, "77.jpg"))
	require.NoError(t, err)
	assert.Exactly(t, []byte("cover-bytes"), coverBytes)

	// The album is asked about once; the second track reuses the file.
	assert.Exactly(t, int64(1), albumMetaCalls.Load())
	assert.Exactly(t, int64(1), coverHits.Load())
}
