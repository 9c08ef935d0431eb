package segments

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"stitch/internal/services"
	"stitch/internal/workspace"
)

// fakeDownloader copies canned bytes into the workspace instead of hitting
// the network. failures counts down; while positive, calls fail.
type fakeDownloader struct {
	body     []byte
	failures int
	err      error
	calls    int
}

func (d *fakeDownloader) DownloadFile(ctx context.Context, ws *workspace.Workspace, url, localName string) (string, error) {
	d.calls++
	if d.failures != 0 {
		if d.failures > 0 {
			d.failures--
		}
		err := d.err
		if err == nil {
			err = services.Wrap(services.ErrNetwork, "download", "fetch", "fetch "+url, nil)
		}
		return "", err
	}
	path, pathErr := ws.GetPath(localName)
	if pathErr != nil {
		return "", pathErr
	}
	if err := os.WriteFile(path, d.body, 0o644); err != nil {
		return "", err
	}
	ws.Register(path)
	return path, nil
}

// fakeTranscoder writes marker bytes to output paths and can be told to
// fail a single operation.
type fakeTranscoder struct {
	failOp string
	calls  []string
}

func (f *fakeTranscoder) op(name, outputPath string) error {
	f.calls = append(f.calls, name)
	if f.failOp == name {
		return services.Wrap(services.ErrAudioProcessing, name, "ffmpeg", "command failed", nil)
	}
	return os.WriteFile(outputPath, []byte(name+"-output"), 0o644)
}

func (f *fakeTranscoder) Normalize(ctx context.Context, in, out string) error { return f.op("normalize", out) }
func (f *fakeTranscoder) Trim(ctx context.Context, in, out string, start, end float64) error {
	return f.op("trim", out)
}
func (f *fakeTranscoder) Concatenate(ctx context.Context, inputs []string, out string) error {
	return f.op("concatenate", out)
}
func (f *fakeTranscoder) GenerateSilence(ctx context.Context, out string, d time.Duration) error {
	return f.op("generate-silence", out)
}
func (f *fakeTranscoder) Compress(ctx context.Context, in, out string) error {
	return f.op("compress", out)
}

func newTestProcessor(t *testing.T, dl *fakeDownloader, tc *fakeTranscoder) (*Processor, *workspace.Workspace) {
	t.Helper()
	ws := workspace.New(t.TempDir(), "task-a", nil)
	if err := ws.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = ws.Cleanup() })
	return NewProcessor(ws, dl, tc, nil), ws
}

func sampleSegment() Segment {
	return Segment{URL: "https://cdn.example/conv/a.webm", StartTime: 0.5, EndTime: 3.5, SpeakerLabel: "alice"}
}

func TestProcessProducesTrimmedFile(t *testing.T) {
	dl := &fakeDownloader{body: []byte("raw-audio")}
	tc := &fakeTranscoder{}
	processor, ws := newTestProcessor(t, dl, tc)

	processed, err := processor.Process(context.Background(), sampleSegment(), 0)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if processed.Index != 0 {
		t.Fatalf("expected index 0, got %d", processed.Index)
	}
	if processed.ByteSize == 0 {
		t.Fatal("expected non-zero processed size")
	}
	if _, err := os.Stat(processed.LocalPath); err != nil {
		t.Fatalf("expected trimmed file on disk: %v", err)
	}

	// Intermediates are deleted as soon as their successor verifies.
	rawPath, _ := ws.GetPath("segment-0-raw.webm")
	if _, err := os.Stat(rawPath); !os.IsNotExist(err) {
		t.Fatal("expected raw download to be deleted")
	}
	normPath, _ := ws.GetPath("segment-0-norm.wav")
	if _, err := os.Stat(normPath); !os.IsNotExist(err) {
		t.Fatal("expected normalized intermediate to be deleted")
	}

	if len(tc.calls) != 2 || tc.calls[0] != "normalize" || tc.calls[1] != "trim" {
		t.Fatalf("unexpected transcoder call order: %v", tc.calls)
	}
}

func TestProcessTagsFailurePhase(t *testing.T) {
	cases := []struct {
		name   string
		dl     *fakeDownloader
		tc     *fakeTranscoder
		phase  string
		marker error
	}{
		{
			name:   "download",
			dl:     &fakeDownloader{failures: -1},
			tc:     &fakeTranscoder{},
			phase:  "download",
			marker: services.ErrNetwork,
		},
		{
			name:   "normalize",
			dl:     &fakeDownloader{body: []byte("raw")},
			tc:     &fakeTranscoder{failOp: "normalize"},
			phase:  "normalize",
			marker: services.ErrAudioProcessing,
		},
		{
			name:   "trim",
			dl:     &fakeDownloader{body: []byte("raw")},
			tc:     &fakeTranscoder{failOp: "trim"},
			phase:  "trim",
			marker: services.ErrAudioProcessing,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			processor, _ := newTestProcessor(t, tc.dl, tc.tc)
			_, err := processor.Process(context.Background(), sampleSegment(), 2)
			if err == nil {
				t.Fatal("expected processing failure")
			}
			if PhaseOf(err) != tc.phase {
				t.Fatalf("expected phase %q, got %q", tc.phase, PhaseOf(err))
			}
			if !errors.Is(err, tc.marker) {
				t.Fatalf("expected %v classification, got %v", tc.marker, err)
			}
		})
	}
}

func TestProcessWithRetryExhaustsAttempts(t *testing.T) {
	dl := &fakeDownloader{failures: -1}
	processor, _ := newTestProcessor(t, dl, &fakeTranscoder{})

	var delays []time.Duration
	original := sleepContext
	sleepContext = func(ctx context.Context, delay time.Duration) error {
		delays = append(delays, delay)
		return nil
	}
	t.Cleanup(func() { sleepContext = original })

	_, err := processor.ProcessWithRetry(context.Background(), sampleSegment(), 1, DefaultRetryPolicy())
	if err == nil {
		t.Fatal("expected terminal error")
	}

	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %T: %v", err, err)
	}
	if dl.calls != 3 {
		t.Fatalf("expected exactly 3 attempts, got %d", dl.calls)
	}
	if len(exhausted.Attempts) != 3 {
		t.Fatalf("expected 3 recorded errors, got %d", len(exhausted.Attempts))
	}
	for i, attempt := range exhausted.Attempts {
		if attempt.Attempt != i+1 {
			t.Fatalf("expected attempt %d, got %d", i+1, attempt.Attempt)
		}
		if attempt.Phase != "download" {
			t.Fatalf("expected download phase, got %q", attempt.Phase)
		}
		if attempt.SegmentIndex != 1 {
			t.Fatalf("expected segment index 1, got %d", attempt.SegmentIndex)
		}
	}

	want := []time.Duration{time.Second, 2 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("expected %d backoff sleeps, got %v", len(want), delays)
	}
	for i, delay := range delays {
		if delay != want[i] {
			t.Fatalf("expected backoff %s at position %d, got %s", want[i], i, delay)
		}
	}
}

func TestProcessWithRetryRecoversOnLaterAttempt(t *testing.T) {
	dl := &fakeDownloader{body: []byte("raw"), failures: 2}
	processor, _ := newTestProcessor(t, dl, &fakeTranscoder{})

	original := sleepContext
	sleepContext = func(ctx context.Context, delay time.Duration) error { return nil }
	t.Cleanup(func() { sleepContext = original })

	processed, err := processor.ProcessWithRetry(context.Background(), sampleSegment(), 0, DefaultRetryPolicy())
	if err != nil {
		t.Fatalf("ProcessWithRetry: %v", err)
	}
	if processed == nil || processed.ByteSize == 0 {
		t.Fatalf("expected processed segment, got %+v", processed)
	}
	if dl.calls != 3 {
		t.Fatalf("expected 3 download calls, got %d", dl.calls)
	}
}

func TestProcessWithRetryStopsOnValidationError(t *testing.T) {
	dl := &fakeDownloader{
		failures: -1,
		err:      services.Wrap(services.ErrValidation, "download", "request", "malformed url", nil),
	}
	processor, _ := newTestProcessor(t, dl, &fakeTranscoder{})

	slept := false
	original := sleepContext
	sleepContext = func(ctx context.Context, delay time.Duration) error {
		slept = true
		return nil
	}
	t.Cleanup(func() { sleepContext = original })

	_, err := processor.ProcessWithRetry(context.Background(), sampleSegment(), 0, DefaultRetryPolicy())
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if dl.calls != 1 {
		t.Fatalf("expected a single attempt for validation failure, got %d", dl.calls)
	}
	if slept {
		t.Fatal("expected no backoff sleep for validation failure")
	}
}

func TestProcessWithRetryStopsOnNonRetryableFailure(t *testing.T) {
	dl := &fakeDownloader{body: []byte("raw")}
	tc := &fakeTranscoder{failOp: "normalize"}
	processor, _ := newTestProcessor(t, dl, tc)

	slept := false
	original := sleepContext
	sleepContext = func(ctx context.Context, delay time.Duration) error {
		slept = true
		return nil
	}
	t.Cleanup(func() { sleepContext = original })

	_, err := processor.ProcessWithRetry(context.Background(), sampleSegment(), 0, DefaultRetryPolicy())
	if err == nil {
		t.Fatal("expected terminal error")
	}
	if dl.calls != 1 {
		t.Fatalf("expected a single attempt for a deterministic transcode failure, got %d", dl.calls)
	}
	if slept {
		t.Fatal("expected no backoff sleep")
	}
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %T: %v", err, err)
	}
	if len(exhausted.Attempts) != 1 || exhausted.Attempts[0].Phase != "normalize" {
		t.Fatalf("unexpected attempt history: %+v", exhausted.Attempts)
	}
}

func TestBackoffCap(t *testing.T) {
	policy := DefaultRetryPolicy()
	for attempt, want := range map[int]time.Duration{
		1: time.Second,
		2: 2 * time.Second,
		3: 4 * time.Second,
		4: 5 * time.Second,
		8: 5 * time.Second,
	} {
		if got := policy.Backoff(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestRemoteExtension(t *testing.T) {
	cases := map[string]string{
		"https://cdn.example/a/b.webm":    ".webm",
		"https://cdn.example/a/b.mp3":     ".mp3",
		"https://cdn.example/a/b":         ".webm",
		"https://cdn.example/a/b.exe":     ".webm",
		"https://cdn.example/a/b.WAV?x=1": ".wav",
	}
	for rawURL, want := range cases {
		if got := remoteExtension(rawURL); got != want {
			t.Fatalf("%s: expected %s, got %s", rawURL, want, got)
		}
	}
}
