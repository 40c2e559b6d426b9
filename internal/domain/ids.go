package domain

import (
	"net/url"
	"strings"
)

const youtubeBase = "https://www.youtube.com"

// NormalizeHandle trims the handle and ensures the leading "@".
func NormalizeHandle(handle string) string {
	h := strings.TrimSpace(handle)
	if h == "" {
		return ""
	}
	if !strings.HasPrefix(h, "@") {
		h = "@" + h
	}
	return h
}

// ChannelURL builds the listing URL for a channel handle. Shorts listings live
// under the "/shorts" tab.
func ChannelURL(handle string, shorts bool) string {
	u := youtubeBase + "/" + NormalizeHandle(handle)
	if shorts {
		u += "/shorts"
	}
	return u
}

// WatchURL returns the canonical watch URL for a video ID. Values that are
// already URLs are returned untouched.
func WatchURL(videoID string) string {
	if strings.HasPrefix(videoID, "http") {
		return videoID
	}
	return youtubeBase + "/watch?v=" + videoID
}

// PlaylistURL returns the listing URL for a playlist ID.
func PlaylistURL(playlistID string) string {
	return youtubeBase + "/playlist?list=" + url.QueryEscape(playlistID)
}

// NormalizeVideoID extracts a video ID from a raw ID, a full URL, a
// "watch?v=" fragment or a youtu.be short link. Unrecognised input is
// returned trimmed.
func NormalizeVideoID(raw string) string {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return ""
	}

	if strings.HasPrefix(candidate, "http") {
		parsed, err := url.Parse(candidate)
		if err != nil {
			return candidate
		}
		host := strings.ToLower(parsed.Host)
		switch {
		case strings.Contains(host, "youtu.be"):
			return strings.TrimLeft(parsed.Path, "/")
		case strings.Contains(host, "youtube.com"):
			if v := parsed.Query().Get("v"); v != "" {
				return v
			}
			segments := strings.FieldsFunc(parsed.Path, func(r rune) bool { return r == '/' })
			if len(segments) > 0 {
				return segments[len(segments)-1]
			}
		}
		return candidate
	}

	if i := strings.LastIndex(candidate, "watch?v="); i >= 0 {
		id := candidate[i+len("watch?v="):]
		if amp := strings.IndexByte(id, '&'); amp >= 0 {
			id = id[:amp]
		}
		return id
	}

	return candidate
}

// NormalizeVideoIDs normalizes every value and drops empties and duplicates,
// keeping first-seen order.
func NormalizeVideoIDs(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		id := NormalizeVideoID(v)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

// NormalizePlaylistID accepts a raw playlist ID or any URL carrying a "list"
// query parameter.
func NormalizePlaylistID(raw string) string {
	candidate := strings.TrimSpace(raw)
	if candidate == "" {
		return ""
	}
	if strings.HasPrefix(candidate, "http") || strings.Contains(candidate, "list=") {
		q := candidate
		if i := strings.IndexByte(candidate, '?'); i >= 0 {
			q = candidate[i+1:]
		}
		values, err := url.ParseQuery(q)
		if err == nil {
			if list := values.Get("list"); list != "" {
				return list
			}
		}
	}
	return candidate
}
