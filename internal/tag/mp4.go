package tag

import (
	"strconv"

	mp4tag "github.com/zhaarey/go-mp4tag"

	"tunepull/internal/core"
)

// writeMP4 writes iTunes-style atoms into an M4A file.
func writeMP4(path string, meta *core.TrackMetadata, cover []byte) error {
	tags := buildMP4Tags(meta)

	if len(cover) > 0 {
		tags.Pictures = []*mp4tag.MP4Picture{{Data: cover}}
	}

	mp4, err := mp4tag.Open(path)
	if err != nil {
		return &core.TaggingError{Kind: core.TaggingCorruptSource, Cause: err.Error()}
	}
	defer mp4.Close()

	if err := mp4.Write(tags, []string{}); err != nil {
		return &core.TaggingError{Kind: core.TaggingCorruptSource, Cause: err.Error()}
	}
	return nil
}

// buildMP4Tags maps track metadata onto the atom tag set.
func buildMP4Tags(meta *core.TrackMetadata) *mp4tag.MP4Tags {
	tags := &mp4tag.MP4Tags{
		Title:       meta.Title,
		Artist:      meta.Artist(),
		Album:       meta.Album,
		AlbumArtist: meta.AlbumArtist,
		Composer:    meta.Composer,
		CustomGenre: meta.Genre,
		Lyrics:      meta.Lyrics,
		TrackNumber: int16(meta.TrackNumber),
		TrackTotal:  int16(meta.TrackTotal),
		DiscNumber:  int16(meta.DiscNumber),
		DiscTotal:   int16(meta.DiscTotal),
		Custom:      map[string]string{},
	}
	if meta.SyncedLyrics != "" {
		tags.Custom["SYNCEDLYRICS"] = meta.SyncedLyrics
	}
	if meta.Year > 0 {
		tags.Date = strconv.Itoa(meta.Year)
	}
	return tags
}
