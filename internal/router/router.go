// Package router classifies music platform links into normalized descriptors.
package router

import (
	"net/url"
	"regexp"
	"strings"

	"tunepull/internal/core"
)

// Router matches links against platform URL shapes in fixed priority order.
// Pure; performs no I/O.
type Router struct{}

func New() *Router {
	return &Router{}
}

type pattern struct {
	kind core.ContentKind
	re   *regexp.Regexp
}

// NetEase patterns. Query-style links (song?id=) and path-style links
// (song/123) both occur in the wild; 163cn.tv short links carry an opaque
// alphanumeric token resolved server-side as a track.
var neteasePatterns = []pattern{
	{core.KindTrack, regexp.MustCompile(`music\.163\.com/.*song\?id=(\d+)`)},
	{core.KindTrack, regexp.MustCompile(`music\.163\.com/.*song/(\d+)`)},
	{core.KindAlbum, regexp.MustCompile(`music\.163\.com/.*album\?id=(\d+)`)},
	{core.KindAlbum, regexp.MustCompile(`music\.163\.com/.*album/(\d+)`)},
	{core.KindPlaylist, regexp.MustCompile(`music\.163\.com/.*playlist\?id=(\d+)`)},
	{core.KindPlaylist, regexp.MustCompile(`music\.163\.com/.*playlist/(\d+)`)},
	{core.KindTrack, regexp.MustCompile(`163cn\.tv/([a-zA-Z0-9]+)`)},
}

var youtubePatterns = []pattern{
	// Playlists first: a watch URL with a list parameter is a collection.
	{core.KindPlaylist, regexp.MustCompile(`music\.youtube\.com/.*[&?]list=([a-zA-Z0-9_-]+)`)},
	{core.KindPlaylist, regexp.MustCompile(`(?:www\.)?youtube\.com/.*[&?]list=([a-zA-Z0-9_-]+)`)},
	{core.KindTrack, regexp.MustCompile(`music\.youtube\.com/watch\?v=([a-zA-Z0-9_-]+)`)},
	{core.KindTrack, regexp.MustCompile(`(?:www\.)?youtube\.com/watch\?v=([a-zA-Z0-9_-]+)`)},
	{core.KindTrack, regexp.MustCompile(`youtu\.be/([a-zA-Z0-9_-]+)`)},
}

var neteaseHosts = []string{"music.163.com", "163cn.tv", "y.music.163.com"}
var youtubeHosts = []string{"music.youtube.com", "youtube.com", "www.youtube.com", "youtu.be"}

// Classify resolves a raw link to {platform, kind, id}. The first matching
// platform wins: NetEase, then Apple Music, then YouTube Music. Returns
// UnsupportedLinkError for malformed links and foreign domains.
func (r *Router) Classify(link string) (core.LinkDescriptor, error) {
	trimmed := strings.TrimSpace(link)
	u, err := url.Parse(trimmed)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return core.LinkDescriptor{}, &core.UnsupportedLinkError{Link: link}
	}
	host := strings.ToLower(u.Hostname())

	if hostIn(host, neteaseHosts) {
		if desc, ok := matchPatterns(trimmed, core.PlatformNetease, neteasePatterns); ok {
			return desc, nil
		}
		return core.LinkDescriptor{}, &core.UnsupportedLinkError{Link: link}
	}

	if host == "music.apple.com" {
		if desc, ok := classifyApple(u); ok {
			return desc, nil
		}
		return core.LinkDescriptor{}, &core.UnsupportedLinkError{Link: link}
	}

	if hostIn(host, youtubeHosts) {
		if desc, ok := matchPatterns(trimmed, core.PlatformYouTubeMusic, youtubePatterns); ok {
			return desc, nil
		}
		return core.LinkDescriptor{}, &core.UnsupportedLinkError{Link: link}
	}

	return core.LinkDescriptor{}, &core.UnsupportedLinkError{Link: link}
}

func hostIn(host string, hosts []string) bool {
	for _, h := range hosts {
		if host == h {
			return true
		}
	}
	return false
}

func matchPatterns(link string, platform core.Platform, patterns []pattern) (core.LinkDescriptor, bool) {
	for _, p := range patterns {
		if m := p.re.FindStringSubmatch(link); len(m) > 1 {
			return core.LinkDescriptor{
				Platform: platform,
				Kind:     p.kind,
				ID:       m[1],
			}, true
		}
	}
	return core.LinkDescriptor{}, false
}

// classifyApple walks the path segments of a music.apple.com link:
// /{storefront}/album/{name}/{id}       -> album
// /{storefront}/album/{name}/{id}?i=X   -> track X
// /{storefront}/playlist/{name}/pl.X    -> playlist
func classifyApple(u *url.URL) (core.LinkDescriptor, bool) {
	parts := strings.Split(strings.Trim(u.Path, "/"), "/")
	if len(parts) < 2 {
		return core.LinkDescriptor{}, false
	}
	storefront := "us"
	if len(parts[0]) == 2 {
		storefront = strings.ToLower(parts[0])
	}

	switch parts[1] {
	case "album":
		if len(parts) < 4 {
			return core.LinkDescriptor{}, false
		}
		albumID := parts[3]
		if trackID := u.Query().Get("i"); trackID != "" {
			return core.LinkDescriptor{
				Platform: core.PlatformAppleMusic,
				Kind:     core.KindTrack,
				ID:       trackID,
				Region:   storefront,
			}, true
		}
		return core.LinkDescriptor{
			Platform: core.PlatformAppleMusic,
			Kind:     core.KindAlbum,
			ID:       albumID,
			Region:   storefront,
		}, true

	case "song":
		if len(parts) < 3 {
			return core.LinkDescriptor{}, false
		}
		return core.LinkDescriptor{
			Platform: core.PlatformAppleMusic,
			Kind:     core.KindTrack,
			ID:       parts[len(parts)-1],
			Region:   storefront,
		}, true

	case "playlist":
		if len(parts) < 4 {
			return core.LinkDescriptor{}, false
		}
		return core.LinkDescriptor{
			Platform: core.PlatformAppleMusic,
			Kind:     core.KindPlaylist,
			ID:       parts[3],
			Region:   storefront,
		}, true
	}

	return core.LinkDescriptor{}, false
}
