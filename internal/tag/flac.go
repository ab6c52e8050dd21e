package tag

import (
	"fmt"
	"strconv"

	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"

	"tunepull/internal/core"
)

// writeVorbis replaces the vorbis comment block of a FLAC file and attaches
// the cover as a picture block. go-flac panics on streams that end right
// after the metadata blocks, so a truncated download is caught here and
// surfaced as a corrupt source instead of taking the process down.
func writeVorbis(path string, meta *core.TrackMetadata, cover []byte) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &core.TaggingError{Kind: core.TaggingCorruptSource,
				Cause: fmt.Sprintf("malformed flac stream: %v", r)}
		}
	}()

	f, err := flac.ParseFile(path)
	if err != nil {
		return &core.TaggingError{Kind: core.TaggingCorruptSource, Cause: err.Error()}
	}

	cmtIdx := -1
	for idx, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			cmtIdx = idx
			break
		}
	}

	cmt := flacvorbis.New()
	add := func(field, value string) {
		if value != "" {
			_ = cmt.Add(field, value)
		}
	}
	add(flacvorbis.FIELD_TITLE, meta.Title)
	add(flacvorbis.FIELD_ARTIST, meta.Artist())
	add(flacvorbis.FIELD_ALBUM, meta.Album)
	add("ALBUMARTIST", meta.AlbumArtist)
	add("COMPOSER", meta.Composer)
	add(flacvorbis.FIELD_GENRE, meta.Genre)
	if meta.Year > 0 {
		add(flacvorbis.FIELD_DATE, strconv.Itoa(meta.Year))
	}
	if meta.TrackNumber > 0 {
		add(flacvorbis.FIELD_TRACKNUMBER, strconv.Itoa(meta.TrackNumber))
	}
	if meta.TrackTotal > 0 {
		add("TOTALTRACKS", strconv.Itoa(meta.TrackTotal))
	}
	if meta.DiscNumber > 0 {
		add("DISCNUMBER", strconv.Itoa(meta.DiscNumber))
	}
	if meta.DiscTotal > 0 {
		add("TOTALDISCS", strconv.Itoa(meta.DiscTotal))
	}
	add("LYRICS", meta.Lyrics)
	add("SYNCEDLYRICS", meta.SyncedLyrics)

	cmtBlock := cmt.Marshal()
	if cmtIdx < 0 {
		f.Meta = append(f.Meta, &cmtBlock)
	} else {
		f.Meta[cmtIdx] = &cmtBlock
	}

	if len(cover) > 0 {
		pic, perr := flacpicture.NewFromImageData(
			flacpicture.PictureTypeFrontCover, "Cover", cover, detectImageMIME(cover))
		if perr != nil {
			return &core.TaggingError{Kind: core.TaggingCorruptSource, Cause: perr.Error()}
		}
		picBlock := pic.Marshal()

		// Drop any existing picture blocks before attaching ours.
		for i := len(f.Meta) - 1; i >= 0; i-- {
			if f.Meta[i].Type == flac.Picture {
				f.Meta = append(f.Meta[:i], f.Meta[i+1:]...)
			}
		}
		f.Meta = append(f.Meta, &picBlock)
	}

	if err := f.Save(path); err != nil {
		return &core.TaggingError{Kind: core.TaggingCorruptSource, Cause: err.Error()}
	}
	return nil
}
