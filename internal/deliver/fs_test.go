package deliver

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func writeWorkFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "work.flac")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestFSSink_Deliver(t *testing.T) {
	baseDir := t.TempDir()
	sink := NewFSSink(baseDir, zap.NewNop())
	src := writeWorkFile(t, "audio payload")

	res, err := sink.Deliver(context.Background(), src, "Artist/Album/01. Song.flac")
	if err != nil {
		t.Fatalf("Deliver() error = %v", err)
	}

	expected := filepath.Join(baseDir, "Artist/Album/01. Song.flac")
	if res.Path != expected {
		t.Errorf("Path = %q, expected %q", res.Path, expected)
	}
	if res.Size != int64(len("audio payload")) {
		t.Errorf("Size = %d", res.Size)
	}

	got, err := os.ReadFile(expected)
	if err != nil {
		t.Fatalf("reading delivered file: %v", err)
	}
	if string(got) != "audio payload" {
		t.Error("delivered content differs")
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		t.Error("work file should be removed after delivery")
	}
}

func TestFSSink_NeverOverwrites(t *testing.T) {
	baseDir := t.TempDir()
	sink := NewFSSink(baseDir, zap.NewNop())

	first, err := sink.Deliver(context.Background(), writeWorkFile(t, "first"), "song.mp3")
	if err != nil {
		t.Fatal(err)
	}
	second, err := sink.Deliver(context.Background(), writeWorkFile(t, "second"), "song.mp3")
	if err != nil {
		t.Fatal(err)
	}
	third, err := sink.Deliver(context.Background(), writeWorkFile(t, "third"), "song.mp3")
	if err != nil {
		t.Fatal(err)
	}

	if second.Path != filepath.Join(baseDir, "song (1).mp3") {
		t.Errorf("second path = %q, expected numeric suffix", second.Path)
	}
	if third.Path != filepath.Join(baseDir, "song (2).mp3") {
		t.Errorf("third path = %q, expected incremented suffix", third.Path)
	}

	got, _ := os.ReadFile(first.Path)
	if string(got) != "first" {
		t.Error("original delivery must stay untouched")
	}
}

func TestFSSink_CanceledContext(t *testing.T) {
	sink := NewFSSink(t.TempDir(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := sink.Deliver(ctx, writeWorkFile(t, "x"), "song.mp3"); err == nil {
		t.Error("Deliver() with a canceled context should fail")
	}
}

func TestUniquePath(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "name.flac")

	got, err := uniquePath(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != path {
		t.Errorf("free path should be returned unchanged, got %q", got)
	}

	if err := os.WriteFile(path, nil, 0o644); err != nil {
		t.Fatal(err)
	}
	got, err = uniquePath(path)
	if err != nil {
		t.Fatal(err)
	}
	if got != filepath.Join(dir, "name (1).flac") {
		t.Errorf("uniquePath() = %q, expected suffixed variant", got)
	}
}
