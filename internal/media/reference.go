package media

import (
	"errors"
	"net/url"
	"strconv"
	"strings"
)

// Kind tells whether a reference points at a single video or a playlist.
type Kind string

const (
	KindVideo    Kind = "video"
	KindPlaylist Kind = "playlist"
)

// Reference is the canonical form of a media URL. It is a value: every load
// replaces it wholesale.
type Reference struct {
	Kind       Kind   `json:"kind"`
	VideoID    string `json:"videoId,omitempty"`
	PlaylistID string `json:"playlistId,omitempty"`
	StartIndex *int   `json:"startIndex,omitempty"`
}

var (
	errNoIdentifier     = errors.New("media: reference has neither video nor playlist id")
	errPlaylistRequired = errors.New("media: playlist reference without playlist id")
	errUnknownKind      = errors.New("media: unknown reference kind")
)

// Validate checks the reference invariants.
func (r Reference) Validate() error {
	switch r.Kind {
	case KindVideo, KindPlaylist:
	default:
		return errUnknownKind
	}
	if r.VideoID == "" && r.PlaylistID == "" {
		return errNoIdentifier
	}
	if r.Kind == KindPlaylist && r.PlaylistID == "" {
		return errPlaylistRequired
	}
	return nil
}

// IsPlaylist reports whether the player should load a playlist.
func (r Reference) IsPlaylist() bool {
	return r.Kind == KindPlaylist
}

// Index returns the start index and whether one is set.
func (r Reference) Index() (int, bool) {
	if r.StartIndex == nil {
		return 0, false
	}
	return *r.StartIndex, true
}

// Equal compares two references field by field.
func (r Reference) Equal(o Reference) bool {
	if r.Kind != o.Kind || r.VideoID != o.VideoID || r.PlaylistID != o.PlaylistID {
		return false
	}
	ri, rok := r.Index()
	oi, ook := o.Index()
	return rok == ook && ri == oi
}

// URL renders the reference back into a youtube.com URL that Parse maps onto
// the same reference.
func (r Reference) URL() string {
	var params []string
	path := "/playlist"
	if r.VideoID != "" {
		path = "/watch"
		params = append(params, "v="+url.QueryEscape(r.VideoID))
	}
	if r.Kind == KindPlaylist {
		params = append(params, "list="+url.QueryEscape(r.PlaylistID))
		if idx, ok := r.Index(); ok {
			params = append(params, "index="+strconv.Itoa(idx))
		}
	}
	u := url.URL{
		Scheme:   "https",
		Host:     "www.youtube.com",
		Path:     path,
		RawQuery: strings.Join(params, "&"),
	}
	return u.String()
}

// IntPtr is a small helper for building references in callers and tests.
func IntPtr(i int) *int {
	return &i
}
