package batch_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"stitch/internal/batch"
	"stitch/internal/segments"
	"stitch/internal/workspace"
)

func makeSegments(count int, duration float64) []segments.Segment {
	segs := make([]segments.Segment, count)
	for i := range segs {
		segs[i] = segments.Segment{
			URL:          fmt.Sprintf("https://cdn.example/seg-%d.webm", i),
			StartTime:    0,
			EndTime:      duration,
			SpeakerLabel: "alice",
		}
	}
	return segs
}

func TestPolicySize(t *testing.T) {
	policy := batch.DefaultPolicy()

	cases := []struct {
		name string
		segs []segments.Segment
		want int
	}{
		{"short small job", makeSegments(4, 10), 5},
		{"many short segments", makeSegments(25, 2), 3},
		{"long duration wins over count", makeSegments(25, 20), 2},
		{"long duration few segments", makeSegments(3, 150), 2},
		{"boundary duration", makeSegments(10, 30), 5},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := policy.Size(tc.segs); got != tc.want {
				t.Fatalf("expected batch size %d, got %d", tc.want, got)
			}
		})
	}
}

func TestPartition(t *testing.T) {
	segs := makeSegments(12, 1)
	batches := batch.Partition(segs, 5)
	if len(batches) != 3 {
		t.Fatalf("expected 3 batches, got %d", len(batches))
	}
	if len(batches[0]) != 5 || len(batches[1]) != 5 || len(batches[2]) != 2 {
		t.Fatalf("unexpected batch sizes: %d, %d, %d", len(batches[0]), len(batches[1]), len(batches[2]))
	}
	if batches[2][1].URL != segs[11].URL {
		t.Fatal("expected partition to preserve order")
	}
}

// scriptedProcessor produces real files in the workspace and fails at a
// chosen segment index.
type scriptedProcessor struct {
	ws        *workspace.Workspace
	failIndex int
	calls     []int
}

func (p *scriptedProcessor) ProcessWithRetry(ctx context.Context, segment segments.Segment, index int, policy segments.RetryPolicy) (*segments.Processed, error) {
	p.calls = append(p.calls, index)
	if index == p.failIndex {
		return nil, &segments.ExhaustedError{SegmentIndex: index}
	}
	path, err := p.ws.GetPath(fmt.Sprintf("segment-%d.wav", index))
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, []byte("pcm"), 0o644); err != nil {
		return nil, err
	}
	p.ws.Register(path)
	return &segments.Processed{Index: index, LocalPath: path, ByteSize: 3}, nil
}

func newRunnerUnderTest(t *testing.T, failIndex int) (*batch.Runner, *scriptedProcessor, *workspace.Workspace) {
	t.Helper()
	ws := workspace.New(t.TempDir(), "task-a", nil)
	if err := ws.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { _ = ws.Cleanup() })

	processor := &scriptedProcessor{ws: ws, failIndex: failIndex}
	runner := batch.NewRunner(processor, ws, batch.DefaultPolicy(), segments.DefaultRetryPolicy(), nil)
	return runner, processor, ws
}

func TestRunnerProcessesSequentiallyWithProgress(t *testing.T) {
	runner, processor, _ := newRunnerUnderTest(t, -1)

	var updates []batch.ProgressUpdate
	processed, err := runner.Run(context.Background(), makeSegments(12, 1), func(update batch.ProgressUpdate) {
		updates = append(updates, update)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(processed) != 12 {
		t.Fatalf("expected 12 processed segments, got %d", len(processed))
	}

	for i, index := range processor.calls {
		if index != i {
			t.Fatalf("expected strictly sequential processing, call %d had index %d", i, index)
		}
	}

	// 12 segments at default size 5 -> progress after 5, 10, 12.
	if len(updates) != 3 {
		t.Fatalf("expected 3 progress updates, got %d", len(updates))
	}
	wantProcessed := []int{5, 10, 12}
	for i, update := range updates {
		if update.ProcessedSegments != wantProcessed[i] {
			t.Fatalf("update %d: expected %d processed, got %d", i, wantProcessed[i], update.ProcessedSegments)
		}
		if update.TotalSegments != 12 {
			t.Fatalf("update %d: expected total 12, got %d", i, update.TotalSegments)
		}
	}
	if updates[2].Percent != 100 {
		t.Fatalf("expected final percent 100, got %f", updates[2].Percent)
	}
}

func TestRunnerFailureDiscardsPriorOutput(t *testing.T) {
	runner, processor, _ := newRunnerUnderTest(t, 7)

	processed := make([]string, 0)
	_, err := runner.Run(context.Background(), makeSegments(12, 1), nil)
	if err == nil {
		t.Fatal("expected run failure")
	}
	var exhausted *segments.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("expected ExhaustedError, got %v", err)
	}
	if exhausted.SegmentIndex != 7 {
		t.Fatalf("expected failure at segment 7, got %d", exhausted.SegmentIndex)
	}

	// Remaining batches never start.
	if len(processor.calls) != 8 {
		t.Fatalf("expected processing to stop at failing segment, got calls %v", processor.calls)
	}

	// Everything produced before the failure is gone.
	for i := 0; i < 7; i++ {
		path, _ := processor.ws.GetPath(fmt.Sprintf("segment-%d.wav", i))
		if _, statErr := os.Stat(path); !os.IsNotExist(statErr) {
			processed = append(processed, path)
		}
	}
	if len(processed) != 0 {
		t.Fatalf("expected no leftover files, found %v", processed)
	}
}
