package types

type LinkKind int

func (k LinkKind) String() string {
	switch k {
	case LinkKindTrack:
		return "track"
	case LinkKindAlbum:
		return "album"
	case LinkKindPlaylist:
		return "playlist"
	case LinkKindArtist:
		return "artist"
	}

	return "unknown"
}

const (
	LinkKindTrack LinkKind = iota
	LinkKindAlbum
	LinkKindPlaylist
	LinkKindArtist
)

type Link struct {
	Kind LinkKind
	ID   string
}
