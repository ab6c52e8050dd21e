package router

import (
	"errors"
	"testing"

	"tunepull/internal/core"
)

func TestRouter_Classify(t *testing.T) {
	r := New()

	tests := []struct {
		name     string
		link     string
		platform core.Platform
		kind     core.ContentKind
		id       string
		region   string
	}{
		{
			name:     "netease track query style",
			link:     "https://music.163.com/#/song?id=347230",
			platform: core.PlatformNetease,
			kind:     core.KindTrack,
			id:       "347230",
		},
		{
			name:     "netease track path style",
			link:     "https://music.163.com/song/347230",
			platform: core.PlatformNetease,
			kind:     core.KindTrack,
			id:       "347230",
		},
		{
			name:     "netease album",
			link:     "https://music.163.com/#/album?id=34209",
			platform: core.PlatformNetease,
			kind:     core.KindAlbum,
			id:       "34209",
		},
		{
			name:     "netease playlist",
			link:     "https://music.163.com/playlist?id=2829896389",
			platform: core.PlatformNetease,
			kind:     core.KindPlaylist,
			id:       "2829896389",
		},
		{
			name:     "netease short link",
			link:     "http://163cn.tv/aB3xYz",
			platform: core.PlatformNetease,
			kind:     core.KindTrack,
			id:       "aB3xYz",
		},
		{
			name:     "apple album",
			link:     "https://music.apple.com/us/album/fearless/1440935467",
			platform: core.PlatformAppleMusic,
			kind:     core.KindAlbum,
			id:       "1440935467",
			region:   "us",
		},
		{
			name:     "apple track via album link",
			link:     "https://music.apple.com/jp/album/fearless/1440935467?i=1440935974",
			platform: core.PlatformAppleMusic,
			kind:     core.KindTrack,
			id:       "1440935974",
			region:   "jp",
		},
		{
			name:     "apple song link",
			link:     "https://music.apple.com/us/song/love-story/1440935974",
			platform: core.PlatformAppleMusic,
			kind:     core.KindTrack,
			id:       "1440935974",
			region:   "us",
		},
		{
			name:     "apple playlist",
			link:     "https://music.apple.com/gb/playlist/chill-mix/pl.u-abc123",
			platform: core.PlatformAppleMusic,
			kind:     core.KindPlaylist,
			id:       "pl.u-abc123",
			region:   "gb",
		},
		{
			name:     "youtube music track",
			link:     "https://music.youtube.com/watch?v=dQw4w9WgXcQ",
			platform: core.PlatformYouTubeMusic,
			kind:     core.KindTrack,
			id:       "dQw4w9WgXcQ",
		},
		{
			name:     "youtube music playlist",
			link:     "https://music.youtube.com/playlist?list=OLAK5uy_abc",
			platform: core.PlatformYouTubeMusic,
			kind:     core.KindPlaylist,
			id:       "OLAK5uy_abc",
		},
		{
			name:     "youtube watch link with list is a playlist",
			link:     "https://music.youtube.com/watch?v=dQw4w9WgXcQ&list=PLx123",
			platform: core.PlatformYouTubeMusic,
			kind:     core.KindPlaylist,
			id:       "PLx123",
		},
		{
			name:     "plain youtube watch link",
			link:     "https://www.youtube.com/watch?v=dQw4w9WgXcQ",
			platform: core.PlatformYouTubeMusic,
			kind:     core.KindTrack,
			id:       "dQw4w9WgXcQ",
		},
		{
			name:     "youtu.be short link",
			link:     "https://youtu.be/dQw4w9WgXcQ",
			platform: core.PlatformYouTubeMusic,
			kind:     core.KindTrack,
			id:       "dQw4w9WgXcQ",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			desc, err := r.Classify(tt.link)
			if err != nil {
				t.Fatalf("Classify(%q) error = %v", tt.link, err)
			}
			if desc.Platform != tt.platform {
				t.Errorf("Platform = %v, expected %v", desc.Platform, tt.platform)
			}
			if desc.Kind != tt.kind {
				t.Errorf("Kind = %v, expected %v", desc.Kind, tt.kind)
			}
			if desc.ID != tt.id {
				t.Errorf("ID = %q, expected %q", desc.ID, tt.id)
			}
			if desc.Region != tt.region {
				t.Errorf("Region = %q, expected %q", desc.Region, tt.region)
			}
		})
	}
}

func TestRouter_ClassifyRejects(t *testing.T) {
	r := New()

	tests := []struct {
		name string
		link string
	}{
		{"empty", ""},
		{"not a url", "hello world"},
		{"no scheme", "music.163.com/song?id=1"},
		{"foreign domain", "https://open.spotify.com/track/abc"},
		{"netease host without content path", "https://music.163.com/user/home"},
		{"apple host with short path", "https://music.apple.com/us"},
		{"youtube host without video", "https://www.youtube.com/feed/trending"},
		{"ftp scheme", "ftp://music.163.com/song?id=1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Classify(tt.link)
			var ue *core.UnsupportedLinkError
			if !errors.As(err, &ue) {
				t.Errorf("Classify(%q) error = %v, expected UnsupportedLinkError", tt.link, err)
			}
		})
	}
}
