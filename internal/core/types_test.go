package core

import (
	"testing"
)

func TestTrackState_CanAdvanceTo(t *testing.T) {
	tests := []struct {
		name     string
		from     TrackState
		to       TrackState
		expected bool
	}{
		{"queued to resolving", TrackQueued, TrackResolving, true},
		{"resolving to negotiating", TrackResolving, TrackNegotiating, true},
		{"queued straight to failed", TrackQueued, TrackFailed, true},
		{"fetching to done", TrackFetching, TrackDone, true},
		{"no regression fetching to resolving", TrackFetching, TrackResolving, false},
		{"no regression tagging to queued", TrackTagging, TrackQueued, false},
		{"done is terminal", TrackDone, TrackFailed, false},
		{"failed is terminal", TrackFailed, TrackDone, false},
		{"same state is not an advance", TrackFetching, TrackFetching, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanAdvanceTo(tt.to); got != tt.expected {
				t.Errorf("CanAdvanceTo(%s -> %s) = %v, expected %v", tt.from, tt.to, got, tt.expected)
			}
		})
	}
}

func TestDeriveBatchState(t *testing.T) {
	mk := func(states ...TrackState) []*TrackJob {
		out := make([]*TrackJob, len(states))
		for i, s := range states {
			out[i] = &TrackJob{Index: i, State: s}
		}
		return out
	}

	tests := []struct {
		name     string
		tracks   []*TrackJob
		expected BatchState
	}{
		{"no tracks", nil, BatchQueued},
		{"all done", mk(TrackDone, TrackDone), BatchDone},
		{"all failed", mk(TrackFailed, TrackFailed), BatchFailed},
		{"mixed terminal", mk(TrackDone, TrackFailed, TrackDone), BatchPartial},
		{"single done", mk(TrackDone), BatchDone},
		{"still running", mk(TrackDone, TrackFetching), BatchRunning},
		{"all queued", mk(TrackQueued, TrackQueued), BatchRunning},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveBatchState(tt.tracks); got != tt.expected {
				t.Errorf("DeriveBatchState() = %v, expected %v", got, tt.expected)
			}
		})
	}
}

func TestTrackMetadata_Artist(t *testing.T) {
	tests := []struct {
		name     string
		artists  []string
		expected string
	}{
		{"no artists", nil, ""},
		{"single artist", []string{"Faye Wong"}, "Faye Wong"},
		{"two artists", []string{"A", "B"}, "A/B"},
		{"three artists", []string{"A", "B", "C"}, "A/B/C"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := &TrackMetadata{Artists: tt.artists}
			if got := m.Artist(); got != tt.expected {
				t.Errorf("Artist() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestDownloadJob_Summarize(t *testing.T) {
	job := &DownloadJob{
		ID:    "job-1",
		Title: "Some Album",
		State: BatchPartial,
		Tracks: []*TrackJob{
			{State: TrackDone, Output: "/lib/a.flac"},
			{State: TrackDone, Output: "/lib/b.flac"},
			{State: TrackFailed, Ref: TrackRef{ID: "42"}, ErrKind: "fetch_fatal"},
			{
				State:   TrackFailed,
				Ref:     TrackRef{ID: "43"},
				Meta:    &TrackMetadata{Title: "Broken Song"},
				ErrKind: "resolution_not_found",
			},
		},
	}

	s := job.Summarize()

	if s.Done != 2 {
		t.Errorf("Done = %d, expected 2", s.Done)
	}
	if s.Failed != 2 {
		t.Errorf("Failed = %d, expected 2", s.Failed)
	}
	if len(s.Delivered) != 2 {
		t.Errorf("Delivered has %d entries, expected 2", len(s.Delivered))
	}
	if s.FailedTracks["42"] != "fetch_fatal" {
		t.Errorf("unresolved failed track should be keyed by ID, got %v", s.FailedTracks)
	}
	if s.FailedTracks["Broken Song"] != "resolution_not_found" {
		t.Errorf("resolved failed track should be keyed by title, got %v", s.FailedTracks)
	}
}

func TestCredentialContext_Entitled(t *testing.T) {
	c := CredentialContext{
		Entitlements: map[Platform]bool{PlatformNetease: true},
	}
	if !c.Entitled(PlatformNetease) {
		t.Error("expected NetEase entitlement")
	}
	if c.Entitled(PlatformAppleMusic) {
		t.Error("expected no Apple Music entitlement")
	}
}

func TestQualityPreference_CeilingFor(t *testing.T) {
	p := QualityPreference{Ceiling: map[Platform]Tier{PlatformNetease: TierHigh}}
	if got := p.CeilingFor(PlatformNetease); got != TierHigh {
		t.Errorf("CeilingFor(netease) = %v, expected %v", got, TierHigh)
	}
	if got := p.CeilingFor(PlatformYouTubeMusic); got != TierLossless {
		t.Errorf("CeilingFor(unconfigured) = %v, expected lossless default", got)
	}
}
