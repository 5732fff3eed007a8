package convert

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	logx "audiocast/pkg/logx"
)

// fakeTranscoder writes a marker artifact and counts invocations.
type fakeTranscoder struct {
	calls int64
	fail  func(attempt int64) error
}

func (f *fakeTranscoder) Transcode(_ context.Context, sourcePath, destPath string) error {
	n := atomic.AddInt64(&f.calls, 1)
	if f.fail != nil {
		if err := f.fail(n); err != nil {
			return err
		}
	}
	return os.WriteFile(destPath, []byte("transcoded:"+sourcePath), 0o644)
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

func TestArtifactComputedOnce(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := writeSource(t, dir, "song.mp3", "audio-bytes")

	trans := &fakeTranscoder{}
	cache, err := NewCache(filepath.Join(dir, "cache"), trans, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	first, err := cache.Artifact(context.Background(), src)
	if err != nil {
		t.Fatalf("Artifact error: %v", err)
	}
	second, err := cache.Artifact(context.Background(), src)
	if err != nil {
		t.Fatalf("Artifact error: %v", err)
	}
	if first != second {
		t.Fatalf("paths differ: %s vs %s", first, second)
	}
	if got := atomic.LoadInt64(&trans.calls); got != 1 {
		t.Fatalf("transcoder called %d times, want 1", got)
	}
}

func TestArtifactConcurrentSingleCompute(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := writeSource(t, dir, "song.mp3", "audio-bytes")

	trans := &fakeTranscoder{}
	cache, err := NewCache(filepath.Join(dir, "cache"), trans, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	const workers = 8
	var wg sync.WaitGroup
	paths := make([]string, workers)
	errs := make([]error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			paths[i], errs[i] = cache.Artifact(context.Background(), src)
		}(i)
	}
	wg.Wait()

	for i := 0; i < workers; i++ {
		if errs[i] != nil {
			t.Fatalf("worker %d: %v", i, errs[i])
		}
		if paths[i] != paths[0] {
			t.Fatalf("worker %d got %s, want %s", i, paths[i], paths[0])
		}
	}
	if got := atomic.LoadInt64(&trans.calls); got != 1 {
		t.Fatalf("transcoder called %d times, want 1", got)
	}
}

func TestArtifactInvalidatesOnContentChange(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := writeSource(t, dir, "song.mp3", "version-one")

	trans := &fakeTranscoder{}
	cache, err := NewCache(filepath.Join(dir, "cache"), trans, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	first, err := cache.Artifact(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(src, []byte("version-two"), 0o644); err != nil {
		t.Fatal(err)
	}
	second, err := cache.Artifact(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if first == second {
		t.Fatal("changed source content must map to a new artifact")
	}
	if got := atomic.LoadInt64(&trans.calls); got != 2 {
		t.Fatalf("transcoder called %d times, want 2", got)
	}
}

func TestArtifactPassthrough(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := writeSource(t, dir, "voice.ogg", "already-opus")

	trans := &fakeTranscoder{}
	cache, err := NewCache(filepath.Join(dir, "cache"), trans, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	got, err := cache.Artifact(context.Background(), src)
	if err != nil {
		t.Fatal(err)
	}
	if got != src {
		t.Fatalf("passthrough path = %s, want %s", got, src)
	}
	if atomic.LoadInt64(&trans.calls) != 0 {
		t.Fatal("passthrough must not transcode")
	}
}

func TestArtifactUnsupportedFormat(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := writeSource(t, dir, "notes.txt", "hello")

	cache, err := NewCache(filepath.Join(dir, "cache"), &fakeTranscoder{}, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	_, err = cache.Artifact(context.Background(), src)
	var cerr *ConversionError
	if !errors.As(err, &cerr) {
		t.Fatalf("err = %v, want *ConversionError", err)
	}
	if cerr.Source != src {
		t.Fatalf("ConversionError.Source = %s, want %s", cerr.Source, src)
	}
}

func TestArtifactRetriesTransientFailure(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := writeSource(t, dir, "song.mp3", "audio-bytes")

	trans := &fakeTranscoder{fail: func(attempt int64) error {
		if attempt == 1 {
			return &exec.Error{Name: "ffmpeg", Err: errors.New("resource temporarily unavailable")}
		}
		return nil
	}}
	cache, err := NewCache(filepath.Join(dir, "cache"), trans, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	if _, err := cache.Artifact(context.Background(), src); err != nil {
		t.Fatalf("Artifact error after retry: %v", err)
	}
	if got := atomic.LoadInt64(&trans.calls); got != 2 {
		t.Fatalf("transcoder called %d times, want 2", got)
	}
}

func TestArtifactFinalFailureNotRetried(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := writeSource(t, dir, "song.mp3", "audio-bytes")

	final := errors.New("stream 0 has no audio")
	trans := &fakeTranscoder{fail: func(int64) error { return final }}
	cache, err := NewCache(filepath.Join(dir, "cache"), trans, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}

	_, err = cache.Artifact(context.Background(), src)
	if !errors.Is(err, final) {
		t.Fatalf("err = %v, want wrapped final error", err)
	}
	if got := atomic.LoadInt64(&trans.calls); got != 1 {
		t.Fatalf("transcoder called %d times, want 1 (no retry on final failure)", got)
	}
}

func TestClearAndStats(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	src := writeSource(t, dir, "song.mp3", "audio-bytes")

	trans := &fakeTranscoder{}
	cache, err := NewCache(filepath.Join(dir, "cache"), trans, logx.Nop())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := cache.Artifact(context.Background(), src); err != nil {
		t.Fatal(err)
	}

	st, err := cache.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Entries != 1 || st.TotalBytes == 0 {
		t.Fatalf("Stats = %+v, want one non-empty entry", st)
	}

	if err := cache.Clear(); err != nil {
		t.Fatal(err)
	}
	st, err = cache.Stats()
	if err != nil {
		t.Fatal(err)
	}
	if st.Entries != 0 {
		t.Fatalf("Stats after Clear = %+v, want empty", st)
	}

	// Next request recomputes.
	if _, err := cache.Artifact(context.Background(), src); err != nil {
		t.Fatal(err)
	}
	if got := atomic.LoadInt64(&trans.calls); got != 2 {
		t.Fatalf("transcoder called %d times, want 2", got)
	}
}
