package deezer

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/mschienbein/deez-sub002/deezer/types"
)

// ParseLink maps a service URL to a typed link. A locale segment in
// the path ("/en/album/1") is tolerated.
func ParseLink(l string) (types.Link, error) {
	u, err := url.Parse(l)
	if nil != err {
		return types.Link{}, fmt.Errorf("failed to parse link %q: %v", l, err)
	}

	pathParts := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i, part := range pathParts {
		if i+1 >= len(pathParts) {
			break
		}

		var kind types.LinkKind
		switch part {
		case "track":
			kind = types.LinkKindTrack
		case "album":
			kind = types.LinkKindAlbum
		case "playlist":
			kind = types.LinkKindPlaylist
		case "artist":
			kind = types.LinkKindArtist
		default:
			continue
		}

		id := pathParts[i+1]
		if id == "" {
			return types.Link{}, fmt.Errorf("link %q is missing a media id", l)
		}

		return types.Link{Kind: kind, ID: id}, nil
	}

	return types.Link{}, fmt.Errorf("unrecognized link %q", l)
}
