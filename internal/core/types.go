package core

import (
	"time"
)

// Platform identifies one of the supported music platforms.
type Platform string

const (
	PlatformNetease      Platform = "netease"
	PlatformAppleMusic   Platform = "applemusic"
	PlatformYouTubeMusic Platform = "youtubemusic"
)

// Platforms lists every supported platform in router priority order.
func Platforms() []Platform {
	return []Platform{PlatformNetease, PlatformAppleMusic, PlatformYouTubeMusic}
}

// ContentKind classifies what a link points at.
type ContentKind string

const (
	KindTrack    ContentKind = "track"
	KindAlbum    ContentKind = "album"
	KindPlaylist ContentKind = "playlist"
)

// LinkDescriptor is the normalized result of classifying a user-supplied link.
// Immutable once produced by the router.
type LinkDescriptor struct {
	Platform Platform
	Kind     ContentKind
	ID       string
	// Region is the storefront/country code for platforms that scope content
	// by region (Apple Music). Empty elsewhere.
	Region string
}

// TrackRef is a lightweight handle to one track inside a batch, produced by
// collection expansion and consumed by the per-track pipeline.
type TrackRef struct {
	Platform Platform
	ID       string
	Region   string
	// Position is the 1-based platform-declared position within the
	// album/playlist; 1 for single-track links.
	Position int
}

// TrackMetadata holds everything the metadata writer can embed. Title and ID
// are the only fields guaranteed non-empty after a successful resolve.
type TrackMetadata struct {
	ID          string
	Title       string
	Artists     []string
	Album       string
	AlbumArtist string
	Composer    string
	TrackNumber int
	TrackTotal  int
	DiscNumber  int
	DiscTotal   int
	Year        int
	Genre       string
	Duration    time.Duration
	// Lyrics is the plain-text lyric body; SyncedLyrics carries LRC-style
	// timestamped lines. Either may be empty.
	Lyrics       string
	SyncedLyrics string
	CoverURL     string
}

// Artist joins the artist list the way the platforms display it.
func (m *TrackMetadata) Artist() string {
	switch len(m.Artists) {
	case 0:
		return ""
	case 1:
		return m.Artists[0]
	}
	out := m.Artists[0]
	for _, a := range m.Artists[1:] {
		out += "/" + a
	}
	return out
}

// Container is the audio container family the tag writer must produce.
type Container string

const (
	ContainerMP3  Container = "mp3"
	ContainerFLAC Container = "flac"
	ContainerM4A  Container = "m4a"
)

// Tier is the platform-independent quality rank used for negotiation.
// Higher values always outrank lower ones.
type Tier int

const (
	TierStandard Tier = iota + 1
	TierHigh
	TierLossless
	TierHiRes
)

func (t Tier) String() string {
	switch t {
	case TierStandard:
		return "standard"
	case TierHigh:
		return "high"
	case TierLossless:
		return "lossless"
	case TierHiRes:
		return "hires"
	}
	return "unknown"
}

// QualityDescriptor describes one downloadable rendition of a track.
// Label carries the platform-native vocabulary ("exhigh", "alac", "itag141").
type QualityDescriptor struct {
	Label               string
	Codec               string
	Container           Container
	BitrateKbps         int
	Tier                Tier
	RequiresEntitlement bool
}

// AssetRequest describes the signed HTTP exchange the fetch engine performs
// to retrieve the audio payload for a chosen quality.
type AssetRequest struct {
	URL           string
	Header        map[string]string
	SupportsRange bool
	Length        int64
}

// TrackState is the per-track pipeline state. Transitions are monotonic:
// a state never regresses, and done/failed are terminal.
type TrackState string

const (
	TrackQueued      TrackState = "queued"
	TrackResolving   TrackState = "resolving"
	TrackNegotiating TrackState = "negotiating"
	TrackFetching    TrackState = "fetching"
	TrackTagging     TrackState = "tagging"
	TrackDelivering  TrackState = "delivering"
	TrackDone        TrackState = "done"
	TrackFailed      TrackState = "failed"
)

var trackStateRank = map[TrackState]int{
	TrackQueued:      0,
	TrackResolving:   1,
	TrackNegotiating: 2,
	TrackFetching:    3,
	TrackTagging:     4,
	TrackDelivering:  5,
	TrackDone:        6,
	TrackFailed:      6,
}

// Terminal reports whether no further transition may occur.
func (s TrackState) Terminal() bool {
	return s == TrackDone || s == TrackFailed
}

// CanAdvanceTo reports whether moving to next respects monotonicity.
func (s TrackState) CanAdvanceTo(next TrackState) bool {
	if s.Terminal() {
		return false
	}
	return trackStateRank[next] > trackStateRank[s]
}

// BatchState is derived from the terminal states of a batch's tracks.
type BatchState string

const (
	BatchQueued  BatchState = "queued"
	BatchRunning BatchState = "running"
	BatchDone    BatchState = "done"
	BatchPartial BatchState = "partial"
	BatchFailed  BatchState = "failed"
)

// TrackJob is the orchestrator-owned record of one track's trip through the
// pipeline.
type TrackJob struct {
	Index    int
	Ref      TrackRef
	Meta     *TrackMetadata
	State  TrackState
	Chosen *QualityDescriptor
	// Output is the delivered absolute path; RelPath the library-relative
	// destination the delivery dedup key is built from.
	Output   string
	RelPath  string
	Warnings []string
	// ErrKind/ErrMsg are set only when State is failed. ErrMsg is the
	// human-readable cause, never a stack trace.
	ErrKind   string
	ErrMsg    string
	UpdatedAt time.Time
}

// DownloadJob is one submitted link and the batch of tracks it expanded to.
// Owned exclusively by the orchestrator until a terminal batch state, then
// written to the history store.
type DownloadJob struct {
	ID          string
	Link        LinkDescriptor
	SourceURL   string
	Title       string
	Tracks      []*TrackJob
	State       BatchState
	CreatedAt   time.Time
	CompletedAt time.Time
}

// DeriveBatchState computes the batch state from per-track states: done iff
// all tracks done, failed iff all failed, partial for a terminal mix, and
// running otherwise.
func DeriveBatchState(tracks []*TrackJob) BatchState {
	if len(tracks) == 0 {
		return BatchQueued
	}
	done, failed, terminal := 0, 0, 0
	for _, t := range tracks {
		switch t.State {
		case TrackDone:
			done++
			terminal++
		case TrackFailed:
			failed++
			terminal++
		}
	}
	if terminal < len(tracks) {
		return BatchRunning
	}
	switch {
	case failed == 0:
		return BatchDone
	case done == 0:
		return BatchFailed
	default:
		return BatchPartial
	}
}

// BatchSummary is the user-visible outcome of a finished batch.
type BatchSummary struct {
	JobID  string
	Title  string
	State  BatchState
	Done   int
	Failed int
	// FailedTracks maps track title (or ID when unresolved) to error kind.
	FailedTracks map[string]string
	// Delivered lists the destination paths of successfully delivered tracks.
	Delivered []string
}

// Summarize builds the per-batch summary reported to submitters.
func (j *DownloadJob) Summarize() BatchSummary {
	s := BatchSummary{
		JobID:        j.ID,
		Title:        j.Title,
		State:        j.State,
		FailedTracks: make(map[string]string),
	}
	for _, t := range j.Tracks {
		switch t.State {
		case TrackDone:
			s.Done++
			if t.Output != "" {
				s.Delivered = append(s.Delivered, t.Output)
			}
		case TrackFailed:
			s.Failed++
			name := t.Ref.ID
			if t.Meta != nil && t.Meta.Title != "" {
				name = t.Meta.Title
			}
			s.FailedTracks[name] = t.ErrKind
		}
	}
	return s
}

// CredentialContext is the read-only snapshot of per-platform sessions,
// proxy settings and entitlements a job sees for its entire lifetime.
type CredentialContext struct {
	Cookies      map[Platform]string
	ProxyURL     string
	Entitlements map[Platform]bool
	// MediaUserToken is the Apple Music playback token consumed by the
	// webplayback exchange.
	MediaUserToken string
}

// Entitled reports whether the account may access entitlement-gated
// qualities on the given platform.
func (c CredentialContext) Entitled(p Platform) bool {
	return c.Entitlements[p]
}

// Cookie returns the session cookie blob for a platform, empty if absent.
func (c CredentialContext) Cookie(p Platform) string {
	return c.Cookies[p]
}

// QualityPreference is the configured per-platform quality ceiling.
type QualityPreference struct {
	Ceiling map[Platform]Tier
}

// CeilingFor returns the configured ceiling, defaulting to lossless.
func (p QualityPreference) CeilingFor(platform Platform) Tier {
	if t, ok := p.Ceiling[platform]; ok {
		return t
	}
	return TierLossless
}
