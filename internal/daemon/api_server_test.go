package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"stitch/internal/config"
	"stitch/internal/logging"
	"stitch/internal/publish"
	"stitch/internal/queue"
	"stitch/internal/segments"
	"stitch/internal/tasks"
	"stitch/internal/testsupport"
	"stitch/internal/workspace"
)

type nopDownloader struct{}

func (nopDownloader) DownloadFile(ctx context.Context, ws *workspace.Workspace, url, localName string) (string, error) {
	return ws.GetPath(localName)
}

type nopTranscoder struct{}

func (nopTranscoder) Normalize(ctx context.Context, in, out string) error { return nil }
func (nopTranscoder) Trim(ctx context.Context, in, out string, start, end float64) error {
	return nil
}
func (nopTranscoder) Concatenate(ctx context.Context, inputs []string, out string) error { return nil }
func (nopTranscoder) GenerateSilence(ctx context.Context, out string, d time.Duration) error {
	return nil
}
func (nopTranscoder) Compress(ctx context.Context, in, out string) error { return nil }

// newTestDaemon assembles a daemon without starting the worker so queued
// tasks stay queued for the duration of a test.
func newTestDaemon(t *testing.T, opts ...testsupport.ConfigOption) (*Daemon, *config.Config, *queue.Store) {
	t.Helper()

	cfg := testsupport.NewConfig(t, opts...)
	store := testsupport.MustOpenStore(t, cfg)
	worker := tasks.NewManager(store, cfg, nopTranscoder{}, publish.NewDirStore(cfg.Publish.ObjectStoreDir), nopDownloader{}, logging.NewNop())
	service := tasks.NewService(store, cfg, nil, logging.NewNop())

	d, err := New(cfg, store, worker, service, logging.NewNop())
	if err != nil {
		t.Fatalf("daemon.New: %v", err)
	}
	return d, cfg, store
}

func startAPI(t *testing.T, d *Daemon) string {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	if err := d.api.start(ctx); err != nil {
		cancel()
		t.Fatalf("api start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		d.api.stop()
	})
	return "http://" + d.api.addr()
}

func mergeRequest(conversationID string, n int) tasks.SubmitRequest {
	segs := make([]segments.Segment, n)
	for i := range segs {
		segs[i] = segments.Segment{
			URL:       fmt.Sprintf("https://cdn.example/%s/seg-%d.webm", conversationID, i),
			StartTime: 0,
			EndTime:   2,
		}
	}
	return tasks.SubmitRequest{ConversationID: conversationID, Segments: segs}
}

func postMerge(t *testing.T, base string, req any) *http.Response {
	t.Helper()

	body, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	resp, err := http.Post(base+"/api/merge", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("POST /api/merge: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, into any) {
	t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(into); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestAPIMergeQueuesThenConflicts(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	base := startAPI(t, d)
	req := mergeRequest("conv-1", 3)

	resp := postMerge(t, base, req)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.StatusCode)
	}
	var queued mergeQueuedResponse
	decodeBody(t, resp, &queued)
	if queued.TaskID == "" {
		t.Fatal("expected a task id in the queued response")
	}
	if queued.QueuePosition != 1 {
		t.Fatalf("expected queue position 1, got %d", queued.QueuePosition)
	}

	resubmit := postMerge(t, base, req)
	if resubmit.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409 on resubmit, got %d", resubmit.StatusCode)
	}
	var conflict mergeConflictResponse
	decodeBody(t, resubmit, &conflict)
	if conflict.TaskID != queued.TaskID {
		t.Fatalf("conflict task id %q does not match queued id %q", conflict.TaskID, queued.TaskID)
	}
	if conflict.Status != string(queue.StatusQueued) {
		t.Fatalf("expected queued status in conflict, got %q", conflict.Status)
	}
}

func TestAPIMergeReplaysCompletedResult(t *testing.T) {
	d, cfg, store := newTestDaemon(t)
	base := startAPI(t, d)
	req := mergeRequest("conv-replay", 2)

	taskID := tasks.TaskID(req.ConversationID, req.Segments)
	task := &queue.Task{ID: taskID, ConversationID: req.ConversationID, Segments: req.Segments}
	testsupport.EnqueueTask(t, store, task)
	result := &queue.Result{URL: "file:///objects/conv-replay/output.mp3", Format: "mp3", Size: 2048, IsLarge: true}
	if err := store.Complete(context.Background(), task, result, cfg.TaskTTL()); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	resp := postMerge(t, base, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 replay, got %d", resp.StatusCode)
	}
	var replayed queue.Result
	decodeBody(t, resp, &replayed)
	if replayed.URL != result.URL || replayed.Format != "mp3" || !replayed.IsLarge {
		t.Fatalf("unexpected replayed result: %+v", replayed)
	}
}

func TestAPIMergeReplaysInlineResult(t *testing.T) {
	d, cfg, store := newTestDaemon(t)
	base := startAPI(t, d)
	req := mergeRequest("conv-inline", 2)

	payload := []byte("compressed-audio-payload")
	taskID := tasks.TaskID(req.ConversationID, req.Segments)
	task := &queue.Task{ID: taskID, ConversationID: req.ConversationID, Segments: req.Segments}
	testsupport.EnqueueTask(t, store, task)
	result := &queue.Result{Bytes: payload, Format: "mp3", Size: int64(len(payload))}
	if err := store.Complete(context.Background(), task, result, cfg.TaskTTL()); err != nil {
		t.Fatalf("Complete: %v", err)
	}

	resp := postMerge(t, base, req)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 replay, got %d", resp.StatusCode)
	}
	var replayed queue.Result
	decodeBody(t, resp, &replayed)
	if !bytes.Equal(replayed.Bytes, payload) {
		t.Fatalf("inline payload did not round-trip: %q", replayed.Bytes)
	}
	if replayed.IsLarge || replayed.URL != "" {
		t.Fatalf("inline result should carry no URL: %+v", replayed)
	}
	if replayed.Format != "mp3" || replayed.Size != int64(len(payload)) {
		t.Fatalf("unexpected result metadata: %+v", replayed)
	}

	taskResp, err := http.Get(base + "/api/tasks/" + taskID)
	if err != nil {
		t.Fatalf("GET task: %v", err)
	}
	defer taskResp.Body.Close()
	if taskResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", taskResp.StatusCode)
	}
	var lookup taskResponse
	decodeBody(t, taskResp, &lookup)
	if lookup.Result == nil || !bytes.Equal(lookup.Result.Bytes, payload) {
		t.Fatalf("task lookup lost inline payload: %+v", lookup.Result)
	}
}

func TestAPIMergeValidation(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	base := startAPI(t, d)

	missing := mergeRequest("", 1)
	if resp := postMerge(t, base, missing); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing conversation id, got %d", resp.StatusCode)
	}

	bad := mergeRequest("conv-1", 1)
	bad.Segments[0].EndTime = bad.Segments[0].StartTime
	if resp := postMerge(t, base, bad); resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid segment range, got %d", resp.StatusCode)
	}

	resp, err := http.Post(base+"/api/merge", "application/json", bytes.NewReader([]byte("{not json")))
	if err != nil {
		t.Fatalf("POST /api/merge: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed body, got %d", resp.StatusCode)
	}

	get, err := http.Get(base + "/api/merge")
	if err != nil {
		t.Fatalf("GET /api/merge: %v", err)
	}
	defer get.Body.Close()
	if get.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET, got %d", get.StatusCode)
	}
}

func TestAPIMergeTestRequestReportsHealth(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	base := startAPI(t, d)

	resp := postMerge(t, base, map[string]any{"test": true})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 health response, got %d", resp.StatusCode)
	}
	var report tasks.HealthReport
	decodeBody(t, resp, &report)
	if !report.StoreReachable || !report.WorkspaceWritable || !report.TranscoderReady {
		t.Fatalf("expected healthy report, got %+v", report)
	}
}

func TestAPITaskLookup(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	base := startAPI(t, d)
	req := mergeRequest("conv-lookup", 2)

	resp := postMerge(t, base, req)
	var queued mergeQueuedResponse
	decodeBody(t, resp, &queued)

	taskResp, err := http.Get(base + "/api/tasks/" + queued.TaskID)
	if err != nil {
		t.Fatalf("GET task: %v", err)
	}
	defer taskResp.Body.Close()
	if taskResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", taskResp.StatusCode)
	}
	var payload taskResponse
	decodeBody(t, taskResp, &payload)
	if payload.TaskID != queued.TaskID || payload.Status != string(queue.StatusQueued) {
		t.Fatalf("unexpected task payload: %+v", payload)
	}
	if payload.TotalSegments != 2 {
		t.Fatalf("expected 2 total segments, got %d", payload.TotalSegments)
	}

	missing, err := http.Get(base + "/api/tasks/no-such-task")
	if err != nil {
		t.Fatalf("GET missing task: %v", err)
	}
	defer missing.Body.Close()
	if missing.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown task, got %d", missing.StatusCode)
	}

	progress, err := http.Get(base + "/api/tasks/" + queued.TaskID + "/progress")
	if err != nil {
		t.Fatalf("GET progress: %v", err)
	}
	defer progress.Body.Close()
	if progress.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 before any progress, got %d", progress.StatusCode)
	}
}

func TestAPIStatus(t *testing.T) {
	d, _, _ := newTestDaemon(t)
	base := startAPI(t, d)

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET /api/status: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	var status Status
	decodeBody(t, resp, &status)
	if status.TaskDBPath == "" || status.LockFilePath == "" {
		t.Fatalf("expected store and lock paths in status: %+v", status)
	}
	if !status.Health.StoreReachable {
		t.Fatal("expected store to be reachable")
	}
}

func TestAPIAuthToken(t *testing.T) {
	d, _, _ := newTestDaemon(t, testsupport.WithAPIToken("sekrit"))
	base := startAPI(t, d)

	resp, err := http.Get(base + "/api/status")
	if err != nil {
		t.Fatalf("GET without token: %v", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", resp.StatusCode)
	}

	req, err := http.NewRequest(http.MethodGet, base+"/api/status", nil)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer wrong")
	wrong, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with wrong token: %v", err)
	}
	io.Copy(io.Discard, wrong.Body)
	wrong.Body.Close()
	if wrong.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401 with wrong token, got %d", wrong.StatusCode)
	}

	req.Header.Set("Authorization", "Bearer sekrit")
	ok, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET with token: %v", err)
	}
	defer ok.Body.Close()
	if ok.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 with valid token, got %d", ok.StatusCode)
	}
}
