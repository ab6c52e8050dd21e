package tag

import (
	"fmt"
	"strconv"

	id3v2 "github.com/bogem/id3v2/v2"

	"tunepull/internal/core"
)

// writeID3 embeds ID3v2.4 frames into an MP3. All text frames use UTF-8.
func writeID3(path string, meta *core.TrackMetadata, cover []byte) error {
	tag, err := id3v2.Open(path, id3v2.Options{Parse: true})
	if err != nil {
		return &core.TaggingError{Kind: core.TaggingCorruptSource, Cause: err.Error()}
	}
	defer tag.Close()

	tag.SetDefaultEncoding(id3v2.EncodingUTF8)

	if meta.Title != "" {
		tag.SetTitle(meta.Title)
	}
	if artist := meta.Artist(); artist != "" {
		tag.SetArtist(artist)
	}
	if meta.Album != "" {
		tag.SetAlbum(meta.Album)
	}
	if meta.Genre != "" {
		tag.SetGenre(meta.Genre)
	}
	if meta.Year > 0 {
		tag.SetYear(strconv.Itoa(meta.Year))
	}
	if meta.AlbumArtist != "" {
		tag.AddTextFrame("TPE2", id3v2.EncodingUTF8, meta.AlbumArtist)
	}
	if meta.Composer != "" {
		tag.AddTextFrame("TCOM", id3v2.EncodingUTF8, meta.Composer)
	}
	if meta.TrackNumber > 0 {
		tag.AddTextFrame(tag.CommonID("Track number/Position in set"), id3v2.EncodingUTF8,
			numberOfTotal(meta.TrackNumber, meta.TrackTotal))
	}
	if meta.DiscNumber > 0 {
		tag.AddTextFrame(tag.CommonID("Part of a set"), id3v2.EncodingUTF8,
			numberOfTotal(meta.DiscNumber, meta.DiscTotal))
	}

	if meta.Lyrics != "" {
		tag.AddUnsynchronisedLyricsFrame(id3v2.UnsynchronisedLyricsFrame{
			Encoding:          id3v2.EncodingUTF8,
			Language:          "und",
			ContentDescriptor: "",
			Lyrics:            meta.Lyrics,
		})
	}
	if meta.SyncedLyrics != "" {
		tag.AddUserDefinedTextFrame(id3v2.UserDefinedTextFrame{
			Encoding:    id3v2.EncodingUTF8,
			Description: "SYNCEDLYRICS",
			Value:       meta.SyncedLyrics,
		})
	}

	if len(cover) > 0 {
		tag.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    detectImageMIME(cover),
			PictureType: id3v2.PTFrontCover,
			Description: "Cover",
			Picture:     cover,
		})
	}

	if err := tag.Save(); err != nil {
		return &core.TaggingError{Kind: core.TaggingCorruptSource, Cause: err.Error()}
	}
	return nil
}

func numberOfTotal(n, total int) string {
	if total > 0 {
		return fmt.Sprintf("%d/%d", n, total)
	}
	return strconv.Itoa(n)
}
