package core

import (
	"fmt"
	"path"
	"strconv"
	"strings"

	"golang.org/x/text/unicode/norm"
)

const maxFilenameRunes = 200

var illegalFilenameChars = []string{"<", ">", ":", "\"", "/", "\\", "|", "?", "*"}

// SanitizeFilename removes characters that are illegal on common filesystems,
// trims leading/trailing dots and spaces, normalizes to NFC and caps the
// length. Empty input yields "unknown".
func SanitizeFilename(name string) string {
	if name == "" {
		return "unknown"
	}
	name = norm.NFC.String(name)
	for _, c := range illegalFilenameChars {
		name = strings.ReplaceAll(name, c, "_")
	}
	name = strings.Trim(name, " .")
	runes := []rune(name)
	if len(runes) > maxFilenameRunes {
		name = string(runes[:maxFilenameRunes])
	}
	if name == "" {
		return "unknown"
	}
	return name
}

// RenderPath expands the directory and filename templates against track
// metadata and appends the container extension. Recognized placeholders:
// {artist} {album} {album_artist} {title} {track} {disc} {year}.
// The result is a relative path safe to join onto a sink root.
func RenderPath(dirTemplate, fileTemplate string, meta *TrackMetadata, container Container) string {
	dir := expandTemplate(dirTemplate, meta)
	file := expandTemplate(fileTemplate, meta)
	if file == "" {
		file = SanitizeFilename(meta.Title)
	}
	name := file + "." + string(container)
	if dir == "" {
		return name
	}
	return path.Join(dir, name)
}

func expandTemplate(tmpl string, meta *TrackMetadata) string {
	if tmpl == "" {
		return ""
	}
	albumArtist := meta.AlbumArtist
	if albumArtist == "" {
		albumArtist = meta.Artist()
	}
	year := ""
	if meta.Year > 0 {
		year = strconv.Itoa(meta.Year)
	}

	out := tmpl
	out = strings.ReplaceAll(out, "{artist}", sanitizeField(meta.Artist()))
	out = strings.ReplaceAll(out, "{album}", sanitizeField(meta.Album))
	out = strings.ReplaceAll(out, "{album_artist}", sanitizeField(albumArtist))
	out = strings.ReplaceAll(out, "{title}", sanitizeField(meta.Title))
	out = strings.ReplaceAll(out, "{year}", year)

	if meta.TrackNumber > 0 {
		out = strings.ReplaceAll(out, "{track}", fmt.Sprintf("%02d", meta.TrackNumber))
	} else {
		// Drop the placeholder together with a trailing separator so a
		// missing track number does not leave "- " litter.
		out = strings.ReplaceAll(out, "{track}. ", "")
		out = strings.ReplaceAll(out, "{track} - ", "")
		out = strings.ReplaceAll(out, "{track}", "")
	}
	if meta.DiscNumber > 0 {
		out = strings.ReplaceAll(out, "{disc}", strconv.Itoa(meta.DiscNumber))
	} else {
		out = strings.ReplaceAll(out, "{disc}", "")
	}

	// Template separators may produce empty path segments when fields are
	// missing; collapse them.
	parts := strings.Split(out, "/")
	kept := parts[:0]
	for _, p := range parts {
		p = strings.Trim(p, " .")
		if p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, "/")
}

// sanitizeField sanitizes a metadata value for path use, keeping empty
// fields empty so their template segments collapse instead of becoming
// "unknown".
func sanitizeField(v string) string {
	if v == "" {
		return ""
	}
	return SanitizeFilename(v)
}
