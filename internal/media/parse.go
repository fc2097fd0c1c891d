package media

import (
	"errors"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// radioPrefix marks auto-generated radio/mix playlists. They cannot be joined
// as playlists, so such URLs collapse to the single video.
const radioPrefix = "RD"

// ErrUnparsable is wrapped by every ParseError.
var ErrUnparsable = errors.New("unparsable media reference")

// ParseError describes why a URL could not be turned into a Reference.
type ParseError struct {
	URL    string
	Reason string
}

func (e *ParseError) Error() string {
	return "media: " + e.Reason + ": " + strconv.Quote(e.URL)
}

func (e *ParseError) Unwrap() error {
	return ErrUnparsable
}

var (
	videoPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?:youtube\.com/watch\?v=|youtu\.be/|youtube\.com/embed/|youtube\.com/v/)([^&\n?#/]+)`),
		regexp.MustCompile(`youtube\.com/watch\?(?:[^#]*&)?v=([^&\n?#]+)`),
	}
	playlistPattern = regexp.MustCompile(`[?&]list=([^&#]+)`)
	indexPattern    = regexp.MustCompile(`[?&](?:index|start_radio)=(\d+)`)
)

func extractVideoID(raw string) string {
	for _, re := range videoPatterns {
		if m := re.FindStringSubmatch(raw); len(m) > 1 && m[1] != "" {
			return unescapeID(m[1])
		}
	}
	return ""
}

func extractPlaylistID(raw string) string {
	if m := playlistPattern.FindStringSubmatch(raw); len(m) > 1 {
		return unescapeID(m[1])
	}
	return ""
}

// unescapeID decodes a captured id so that URL, which escapes ids, maps back
// onto the same reference. Malformed escapes are kept verbatim.
func unescapeID(s string) string {
	if id, err := url.QueryUnescape(s); err == nil {
		return id
	}
	return s
}

func extractIndex(raw string) *int {
	m := indexPattern.FindStringSubmatch(raw)
	if len(m) < 2 {
		return nil
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return nil
	}
	return &n
}

// Parse maps a raw URL onto its canonical Reference. The rules are applied in
// order:
//   - video id and a radio/mix playlist id: a plain video, the list is dropped
//   - video id and playlist id: a playlist starting at that video and index
//   - playlist id only: a playlist without a start video
//   - otherwise a video, or a *ParseError when no video id can be found
func Parse(raw string) (Reference, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Reference{}, &ParseError{URL: raw, Reason: "empty url"}
	}

	videoID := extractVideoID(raw)
	playlistID := extractPlaylistID(raw)
	index := extractIndex(raw)

	switch {
	case videoID != "" && playlistID != "" && strings.HasPrefix(playlistID, radioPrefix):
		return Reference{Kind: KindVideo, VideoID: videoID}, nil
	case videoID != "" && playlistID != "":
		return Reference{Kind: KindPlaylist, VideoID: videoID, PlaylistID: playlistID, StartIndex: index}, nil
	case playlistID != "":
		return Reference{Kind: KindPlaylist, PlaylistID: playlistID, StartIndex: index}, nil
	case videoID != "":
		return Reference{Kind: KindVideo, VideoID: videoID}, nil
	}
	return Reference{}, &ParseError{URL: raw, Reason: "no video id"}
}
