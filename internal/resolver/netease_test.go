package resolver

import (
	"errors"
	"testing"
	"time"

	"tunepull/internal/core"
)

func TestStripLRCTimestamps(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"empty", "", ""},
		{
			name:     "plain lrc",
			input:    "[00:12.50]first line\n[00:17.20]second line",
			expected: "first line\nsecond line",
		},
		{
			name:     "multiple tags per line",
			input:    "[00:12.50][00:40.00]chorus",
			expected: "chorus",
		},
		{
			name:     "metadata tags dropped when empty",
			input:    "[ti:Song]\n[ar:Artist]\n[00:01.00]hello",
			expected: "hello",
		},
		{
			name:     "untagged lines kept",
			input:    "no tag here",
			expected: "no tag here",
		},
		{
			name:     "blank lines collapsed",
			input:    "[00:01.00]a\n\n[00:02.00]\n[00:03.00]b",
			expected: "a\nb",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stripLRCTimestamps(tt.input); got != tt.expected {
				t.Errorf("stripLRCTimestamps() = %q, expected %q", got, tt.expected)
			}
		})
	}
}

func TestNeteaseSong_Metadata(t *testing.T) {
	song := neteaseSong{
		ID:   347230,
		Name: "海阔天空",
		Ar: []struct {
			Name string `json:"name"`
		}{{Name: "Beyond"}, {Name: ""}},
		Dt:          326000,
		No:          4,
		CD:          " 1 ",
		PublishTime: 746812800000, // 1993-08-31 UTC
	}
	song.Al.Name = "乐与怒"
	song.Al.PicURL = "https://p1.music.126.net/cover.jpg"

	meta := song.metadata()

	if meta.ID != "347230" {
		t.Errorf("ID = %q, expected 347230", meta.ID)
	}
	if meta.Title != "海阔天空" {
		t.Errorf("Title = %q", meta.Title)
	}
	if len(meta.Artists) != 1 || meta.Artists[0] != "Beyond" {
		t.Errorf("Artists = %v, expected empty names dropped", meta.Artists)
	}
	if meta.Album != "乐与怒" {
		t.Errorf("Album = %q", meta.Album)
	}
	if meta.TrackNumber != 4 {
		t.Errorf("TrackNumber = %d, expected 4", meta.TrackNumber)
	}
	if meta.DiscNumber != 1 {
		t.Errorf("DiscNumber = %d, expected 1 from padded cd field", meta.DiscNumber)
	}
	if meta.Duration != 326*time.Second {
		t.Errorf("Duration = %v, expected 5m26s", meta.Duration)
	}
	if meta.Year != 1993 {
		t.Errorf("Year = %d, expected 1993", meta.Year)
	}
	if meta.CoverURL == "" {
		t.Error("CoverURL should be carried over")
	}
}

func TestNeteaseSong_MetadataNonNumericDisc(t *testing.T) {
	song := neteaseSong{ID: 1, Name: "x", CD: "one"}
	if meta := song.metadata(); meta.DiscNumber != 0 {
		t.Errorf("DiscNumber = %d, expected 0 for non-numeric cd", meta.DiscNumber)
	}
}

func TestAPICodeError(t *testing.T) {
	tests := []struct {
		code     int
		expected core.ResolutionKind
	}{
		{301, core.ResolutionAuthRequired},
		{404, core.ResolutionNotFound},
		{502, core.ResolutionTransient},
		{-460, core.ResolutionTransient},
	}

	for _, tt := range tests {
		var re *core.ResolutionError
		if err := apiCodeError(tt.code); !errors.As(err, &re) || re.Kind != tt.expected {
			t.Errorf("apiCodeError(%d) = %v, expected kind %s", tt.code, err, tt.expected)
		}
	}
}

func TestNeteaseQualities(t *testing.T) {
	quals := neteaseQualities()
	if len(quals) != 4 {
		t.Fatalf("got %d descriptors, expected 4", len(quals))
	}
	for _, q := range quals {
		gated := q.Tier >= core.TierLossless
		if q.RequiresEntitlement != gated {
			t.Errorf("%s: RequiresEntitlement = %v, expected %v", q.Label, q.RequiresEntitlement, gated)
		}
	}
}

func TestOrDefault(t *testing.T) {
	if got := orDefault(3, 7); got != 3 {
		t.Errorf("orDefault(3, 7) = %d", got)
	}
	if got := orDefault(0, 7); got != 7 {
		t.Errorf("orDefault(0, 7) = %d", got)
	}
}
