package deezer_test

import (
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/mschienbein/deez-sub002/config"
	"github.com/mschienbein/deez-sub002/deezer"
	"github.com/mschienbein/deez-sub002/deezer/auth"
	"github.com/mschienbein/deez-sub002/deezer/types"
)

const bootstrapBody = `{"error":[],"results":{"checkForm":"fresh-token",` +
	`"USER":{"USER_ID":4212345,"OFFER_ID":0,"OPTIONS":{"license_token":"license-token",` +
	`"web_sound_quality":{"lossless":false,"high":false}}}}}`

func resolvedTrackBody(r *http.Request) string {
	body, _ := io.ReadAll(r.Body)
	id := gjson.GetBytes(body, "SNG_ID").String()

	return fmt.Sprintf(
		`{"error":[],"results":{"SNG_ID":%q,"SNG_TITLE":"Track %s","ART_NAME":"Mock Artist",`+
			`"ALB_TITLE":"Mock Album","TRACK_NUMBER":"1","DISK_NUMBER":"1",`+
			`"TRACK_TOKEN":"token-%s"}}`,
		id, id, id,
	)
}

func testConf(t *testing.T, gatewayURL, mediaHostPattern, sessionFile string) config.Deezer {
	t.Helper()

	return config.Deezer{
		Credential:       "arl-test-credential",
		CredentialFile:   filepath.Join(t.TempDir(), "arl.json"),
		GatewayURL:       gatewayURL,
		MediaHostPattern: mediaHostPattern,
		CoverHostPattern: "https://covers.invalid/%s.jpg",
		SessionFile:      sessionFile,
		ArchiveFile:      "",
		Downloads: config.Downloads{
			Dir:               t.TempDir(),
			Parallel:          2,
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
}

func TestStaleSessionIsReprobedOnce(t *testing.T) {
	t.Parallel()

	var bootstrapCalls atomic.Int64
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("method") {
		case "deezer.getUserData":
			bootstrapCalls.Add(1)
			fmt.Fprint(w, bootstrapBody)
		case "song.getData":
			if r.URL.Query().Get("api_token") != "fresh-token" {
				fmt.Fprint(w, `{"error":{"VALID_TOKEN_REQUIRED":"csrf_token"}}`)
				return
			}

			fmt.Fprint(w, resolvedTrackBody(r))
		}
	}))
	defer gateway.Close()

	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("media-bytes"))
	}))
	defer media.Close()

	sessionFile := filepath.Join(t.TempDir(), "session.json")
	staleSession := `{"anti_forgery_token":"stale-token","account_id":"4212345",` +
		`"license_token":"license-token","premium":false,"lossless":false,"high":false}`
	require.NoError(t, os.WriteFile(sessionFile, []byte(staleSession), 0o600))

	c, err := deezer.NewClient(zerolog.Nop(), testConf(t, gateway.URL, media.URL+"/%s/%s", sessionFile))
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	results, err := c.TryDownloadLink(
		t.Context(),
		zerolog.Nop(),
		types.Link{Kind: types.LinkKindTrack, ID: "3135556"},
		nil,
	)
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.NoError(t, results[0].Outcome.Err())

	// The stale token triggered exactly one fresh capability probe.
	assert.Exactly(t, int64(1), bootstrapCalls.Load())
}

func TestUnauthorizedAfterReprobeFails(t *testing.T) {
	t.Parallel()

	var bootstrapCalls atomic.Int64
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("method") {
		case "deezer.getUserData":
			bootstrapCalls.Add(1)
			fmt.Fprint(w, bootstrapBody)
		default:
			fmt.Fprint(w, `{"error":{"VALID_TOKEN_REQUIRED":"csrf_token"}}`)
		}
	}))
	defer gateway.Close()

	sessionFile := filepath.Join(t.TempDir(), "session.json")
	c, err := deezer.NewClient(zerolog.Nop(), testConf(t, gateway.URL, "https://media.invalid/%s/%s", sessionFile))
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	_, err = c.TryDownloadLink(
		t.Context(),
		zerolog.Nop(),
		types.Link{Kind: types.LinkKindTrack, ID: "3135556"},
		nil,
	)
	require.Error(t, err)
	assert.ErrorIs(t, err, auth.ErrUnauthorized)

	// One probe for the initial session, one after invalidation. Never more.
	assert.Exactly(t, int64(2), bootstrapCalls.Load())
}

func TestConcurrentDownloadIsRejected(t *testing.T) {
	t.Parallel()

	var started sync.Once
	inFlight := make(chan struct{})
	release := make(chan struct{})
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Query().Get("method") {
		case "deezer.getUserData":
			fmt.Fprint(w, bootstrapBody)
		default:
			started.Do(func() { close(inFlight) })
			<-release
			fmt.Fprint(w, resolvedTrackBody(r))
		}
	}))
	defer gateway.Close()

	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("media-bytes"))
	}))
	defer media.Close()

	sessionFile := filepath.Join(t.TempDir(), "session.json")
	c, err := deezer.NewClient(zerolog.Nop(), testConf(t, gateway.URL, media.URL+"/%s/%s", sessionFile))
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	firstDone := make(chan error, 1)
	go func() {
		_, err := c.TryDownloadLink(
			t.Context(),
			zerolog.Nop(),
			types.Link{Kind: types.LinkKindTrack, ID: "1"},
			nil,
		)
		firstDone <- err
	}()

	// The first download holds the slot once its gateway call is in flight.
	<-inFlight
	_, err = c.TryDownloadLink(
		t.Context(),
		zerolog.Nop(),
		types.Link{Kind: types.LinkKindTrack, ID: "2"},
		nil,
	)
	assert.ErrorIs(t, err, deezer.ErrDownloadInProgress)

	close(release)
	require.NoError(t, <-firstDone)
}

func TestNewClientRequiresCredential(t *testing.T) {
	t.Parallel()

	conf := testConf(t, "https://gateway.invalid", "https://media.invalid/%s/%s", "")
	conf.Credential = ""

	_, err := deezer.NewClient(zerolog.Nop(), conf)
	assert.ErrorIs(t, err, deezer.ErrCredentialRequired)
}

func TestCredentialFileFallback(t *testing.T) {
	t.Parallel()

	var seenCredential atomic.Value
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if cookie, err := r.Cookie("arl"); err == nil {
			seenCredential.Store(cookie.Value)
		}

		fmt.Fprint(w, bootstrapBody)
	}))
	defer gateway.Close()

	conf := testConf(t, gateway.URL, "https://media.invalid/%s/%s", "")
	conf.Credential = ""
	require.NoError(t, os.WriteFile(conf.CredentialFile, []byte(`{"arl":"file-credential"}`), 0o600))

	c, err := deezer.NewClient(zerolog.Nop(), conf)
	require.NoError(t, err)
	defer func() { require.NoError(t, c.Close()) }()

	session, err := c.Probe(t.Context(), zerolog.Nop())
	require.NoError(t, err)
	require.NotNil(t, session)

	assert.Exactly(t, "file-credential", seenCredential.Load())
	assert.Exactly(t, "4212345", session.AccountID)
	assert.False(t, session.Premium)
}
