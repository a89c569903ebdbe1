package types

import (
	"github.com/rs/zerolog"
)

// TrackRef is the caller's request: which track, at which quality, and
// which quality to try when the requested one is not entitled.
type TrackRef struct {
	ID              string
	Quality         Quality
	FallbackQuality Quality
}

func (t TrackRef) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("id", t.ID).
		Str("quality", t.Quality.String()).
		Str("fallback_quality", t.FallbackQuality.String())
}

// TrackMeta carries the descriptive fields the gateway returns for a
// track. Used for filename templating and tag embedding only.
type TrackMeta struct {
	ID          string
	Title       string
	Artist      string
	AlbumID     string
	AlbumTitle  string
	CoverID     string
	ISRC        string
	TrackNumber int
	DiscNumber  int
	ReleaseDate string
}

func (t TrackMeta) ToDict() *zerolog.Event {
	return zerolog.
		Dict().
		Str("id", t.ID).
		Str("title", t.Title).
		Str("artist", t.Artist).
		Str("album_title", t.AlbumTitle)
}

type ResolvedLocation struct {
	URL                string
	Quality            Quality
	RequiresDecryption bool
}

type AlbumMeta struct {
	ID          string
	Title       string
	Artist      string
	CoverID     string
	ReleaseDate string
	TotalTracks int
}
