package tag

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-flac/flacvorbis"
	flac "github.com/go-flac/go-flac"

	"tunepull/internal/core"
)

// newFLACFile writes a minimal FLAC: the stream marker, an empty STREAMINFO
// block flagged as last, and one audio frame header so the stream does not
// end at the metadata boundary.
func newFLACFile(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "track.flac")

	data := []byte("fLaC")
	data = append(data, 0x80, 0x00, 0x00, 0x22) // last-block STREAMINFO, 34 bytes
	data = append(data, make([]byte, 34)...)
	data = append(data, 0xFF, 0xF8, 0x69, 0x18, 0x00, 0x00, 0x00, 0x00)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func readVorbisComment(t *testing.T, path string) *flacvorbis.MetaDataBlockVorbisComment {
	t.Helper()
	f, err := flac.ParseFile(path)
	if err != nil {
		t.Fatalf("reparsing flac: %v", err)
	}
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			cmt, err := flacvorbis.ParseFromMetaDataBlock(*block)
			if err != nil {
				t.Fatalf("parsing vorbis comment: %v", err)
			}
			return cmt
		}
	}
	t.Fatal("no vorbis comment block found")
	return nil
}

func field(t *testing.T, cmt *flacvorbis.MetaDataBlockVorbisComment, name string) string {
	t.Helper()
	values, err := cmt.Get(name)
	if err != nil {
		t.Fatalf("reading field %s: %v", name, err)
	}
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

func TestWriteVorbis_RoundTrip(t *testing.T) {
	path := newFLACFile(t)
	meta := &core.TrackMetadata{
		ID:          "101",
		Title:       "歌曲標題",
		Artists:     []string{"Artist A"},
		Album:       "Album Name",
		AlbumArtist: "Artist A",
		Genre:       "Rock",
		Year:        1996,
		TrackNumber: 4,
		TrackTotal:  10,
		DiscNumber:  1,
		DiscTotal:   2,
		Lyrics:      "line one\nline two",
	}

	if err := writeVorbis(path, meta, nil); err != nil {
		t.Fatalf("writeVorbis() error = %v", err)
	}

	cmt := readVorbisComment(t, path)
	if got := field(t, cmt, flacvorbis.FIELD_TITLE); got != "歌曲標題" {
		t.Errorf("TITLE = %q", got)
	}
	if got := field(t, cmt, flacvorbis.FIELD_ARTIST); got != "Artist A" {
		t.Errorf("ARTIST = %q", got)
	}
	if got := field(t, cmt, flacvorbis.FIELD_ALBUM); got != "Album Name" {
		t.Errorf("ALBUM = %q", got)
	}
	if got := field(t, cmt, flacvorbis.FIELD_DATE); got != "1996" {
		t.Errorf("DATE = %q", got)
	}
	if got := field(t, cmt, flacvorbis.FIELD_TRACKNUMBER); got != "4" {
		t.Errorf("TRACKNUMBER = %q", got)
	}
	if got := field(t, cmt, "TOTALTRACKS"); got != "10" {
		t.Errorf("TOTALTRACKS = %q", got)
	}
	if got := field(t, cmt, "DISCNUMBER"); got != "1" {
		t.Errorf("DISCNUMBER = %q", got)
	}
	if got := field(t, cmt, "LYRICS"); got != "line one\nline two" {
		t.Errorf("LYRICS = %q", got)
	}
}

func TestWriteVorbis_ReplacesExistingComment(t *testing.T) {
	path := newFLACFile(t)

	if err := writeVorbis(path, &core.TrackMetadata{Title: "First"}, nil); err != nil {
		t.Fatalf("first writeVorbis() error = %v", err)
	}
	if err := writeVorbis(path, &core.TrackMetadata{Title: "Second"}, nil); err != nil {
		t.Fatalf("second writeVorbis() error = %v", err)
	}

	f, err := flac.ParseFile(path)
	if err != nil {
		t.Fatal(err)
	}
	count := 0
	for _, block := range f.Meta {
		if block.Type == flac.VorbisComment {
			count++
		}
	}
	if count != 1 {
		t.Errorf("got %d vorbis comment blocks, expected exactly 1", count)
	}

	cmt := readVorbisComment(t, path)
	if got := field(t, cmt, flacvorbis.FIELD_TITLE); got != "Second" {
		t.Errorf("TITLE = %q, expected the rewrite to win", got)
	}
}

func TestWriteVorbis_SeparateLyricsFields(t *testing.T) {
	path := newFLACFile(t)
	meta := &core.TrackMetadata{
		Title:        "x",
		Lyrics:       "line one\nline two",
		SyncedLyrics: "[00:01.00]line one\n[00:04.20]line two",
	}

	if err := writeVorbis(path, meta, nil); err != nil {
		t.Fatalf("writeVorbis() error = %v", err)
	}

	cmt := readVorbisComment(t, path)
	if got := field(t, cmt, "LYRICS"); got != "line one\nline two" {
		t.Errorf("LYRICS = %q, expected the plain text", got)
	}
	if got := field(t, cmt, "SYNCEDLYRICS"); got != "[00:01.00]line one\n[00:04.20]line two" {
		t.Errorf("SYNCEDLYRICS = %q, expected the timestamped text", got)
	}
}

func TestWriteVorbis_StreamEndsAfterMetadata(t *testing.T) {
	path := filepath.Join(t.TempDir(), "truncated.flac")
	data := []byte("fLaC")
	data = append(data, 0x80, 0x00, 0x00, 0x22)
	data = append(data, make([]byte, 34)...)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	err := writeVorbis(path, &core.TrackMetadata{Title: "x"}, nil)
	var te *core.TaggingError
	if !errors.As(err, &te) || te.Kind != core.TaggingCorruptSource {
		t.Errorf("writeVorbis() error = %v, expected corrupt source", err)
	}
}

func TestWriteVorbis_EmptyFieldsOmitted(t *testing.T) {
	path := newFLACFile(t)

	if err := writeVorbis(path, &core.TrackMetadata{Title: "Only Title"}, nil); err != nil {
		t.Fatalf("writeVorbis() error = %v", err)
	}

	cmt := readVorbisComment(t, path)
	values, err := cmt.Get(flacvorbis.FIELD_ARTIST)
	if err != nil {
		t.Fatalf("Get(ARTIST): %v", err)
	}
	if len(values) != 0 {
		t.Errorf("ARTIST = %v, expected no value for empty metadata", values)
	}
}
