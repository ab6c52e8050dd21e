package core

import (
	"context"
	"errors"
	"fmt"
)

// Resolution error kinds.
type ResolutionKind string

const (
	ResolutionAuthRequired ResolutionKind = "auth_required"
	ResolutionNotFound     ResolutionKind = "not_found"
	ResolutionTransient    ResolutionKind = "transient"
	ResolutionUnsupported  ResolutionKind = "unsupported"
)

// ResolutionError reports a failed metadata lookup against a platform.
type ResolutionError struct {
	Kind  ResolutionKind
	Cause string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolution failed (%s): %s", e.Kind, e.Cause)
}

// Fetch error kinds.
type FetchKind string

const (
	FetchAuthExpired        FetchKind = "auth_expired"
	FetchQualityUnavailable FetchKind = "quality_unavailable"
	FetchTransient          FetchKind = "transient"
	FetchFatal              FetchKind = "fatal"
)

// FetchError reports a failed audio asset transfer.
type FetchError struct {
	Kind  FetchKind
	Cause string
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch failed (%s): %s", e.Kind, e.Cause)
}

// Tagging error kinds.
type TaggingKind string

const (
	TaggingUnsupportedContainer TaggingKind = "unsupported_container"
	TaggingCorruptSource        TaggingKind = "corrupt_source"
)

// TaggingError reports a failed metadata embed. Always fatal for the track.
type TaggingError struct {
	Kind  TaggingKind
	Cause string
}

func (e *TaggingError) Error() string {
	return fmt.Sprintf("tagging failed (%s): %s", e.Kind, e.Cause)
}

// UnsupportedLinkError reports a link no router pattern matches. Surfaced
// synchronously at submission, never retried.
type UnsupportedLinkError struct {
	Link string
}

func (e *UnsupportedLinkError) Error() string {
	return fmt.Sprintf("unsupported link: %s", e.Link)
}

// NoEligibleQualityError reports that the negotiator exhausted every
// descriptor for a track.
type NoEligibleQualityError struct{}

func (e *NoEligibleQualityError) Error() string {
	return "no eligible quality descriptor"
}

// DeliveryError reports a sink failure.
type DeliveryError struct {
	Sink  string
	Cause string
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery via %s failed: %s", e.Sink, e.Cause)
}

// ErrJobNotFound is returned by status and cancel lookups for unknown IDs.
var ErrJobNotFound = errors.New("job not found")

// ErrorKind maps any pipeline error to the stable kind label recorded in
// history and surfaced to submitters.
func ErrorKind(err error) string {
	var re *ResolutionError
	if errors.As(err, &re) {
		return "resolution_" + string(re.Kind)
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return "fetch_" + string(fe.Kind)
	}
	var te *TaggingError
	if errors.As(err, &te) {
		return "tagging_" + string(te.Kind)
	}
	var ue *UnsupportedLinkError
	if errors.As(err, &ue) {
		return "unsupported_link"
	}
	var qe *NoEligibleQualityError
	if errors.As(err, &qe) {
		return "no_eligible_quality"
	}
	var de *DeliveryError
	if errors.As(err, &de) {
		return "delivery"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	return "internal"
}

// Transient reports whether an error is worth retrying within its stage.
func Transient(err error) bool {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Kind == ResolutionTransient
	}
	var fe *FetchError
	if errors.As(err, &fe) {
		return fe.Kind == FetchTransient
	}
	return false
}
