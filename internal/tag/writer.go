// Package tag embeds track metadata, cover art and lyrics into finished
// audio files, dispatching on container family.
package tag

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"tunepull/internal/core"
)

// Writer is the container-dispatching metadata writer. Cover art failures
// degrade to warnings; tag write failures fail the track.
type Writer struct {
	covers *CoverFetcher
	logger *zap.Logger
}

func NewWriter(covers *CoverFetcher, logger *zap.Logger) *Writer {
	return &Writer{covers: covers, logger: logger}
}

// Embed writes every non-empty metadata field into the file at path and
// returns non-fatal warnings.
func (w *Writer) Embed(ctx context.Context, path string, meta *core.TrackMetadata, container core.Container) ([]string, error) {
	var warnings []string

	var cover []byte
	if meta.CoverURL != "" {
		data, err := w.covers.Fetch(ctx, meta.CoverURL)
		if err != nil {
			w.logger.Warn("Cover art skipped",
				zap.String("track", meta.ID),
				zap.Error(err))
			warnings = append(warnings, fmt.Sprintf("cover art skipped: %v", err))
		} else {
			cover = data
		}
	}

	var err error
	switch container {
	case core.ContainerMP3:
		err = writeID3(path, meta, cover)
	case core.ContainerFLAC:
		err = writeVorbis(path, meta, cover)
	case core.ContainerM4A:
		err = writeMP4(path, meta, cover)
	default:
		return warnings, &core.TaggingError{Kind: core.TaggingUnsupportedContainer,
			Cause: fmt.Sprintf("container %q", container)}
	}
	if err != nil {
		return warnings, err
	}
	return warnings, nil
}
