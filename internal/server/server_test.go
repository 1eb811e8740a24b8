package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"vehicleregistry/internal/app"
	"vehicleregistry/internal/ratelimit"
	"vehicleregistry/pkg/domain"
	"vehicleregistry/pkg/store"
)

const csvHeader = "Grantor First Name,Grantor Middle Names,Grantor Last Name,VIN,Registration start date,Registration duration,SPG ACN,SPG Organization Name\n"

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	a, err := app.New(app.Config{Store: store.NewMemoryStore(), Workers: 1, QueueCapacity: 10})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	srv := httptest.NewServer(New(Config{App: a}).Router())
	t.Cleanup(func() {
		srv.Close()
		a.Shutdown()
		cancel()
	})
	return srv
}

func multipartFile(t *testing.T, content []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	part, err := writer.CreateFormFile("file", "registrations.csv")
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := part.Write(content); err != nil {
		t.Fatalf("write form file: %v", err)
	}
	if err := writer.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return body, writer.FormDataContentType()
}

func postFile(t *testing.T, url string, content []byte) *http.Response {
	t.Helper()
	body, contentType := multipartFile(t, content)
	resp, err := http.Post(url, contentType, body)
	if err != nil {
		t.Fatalf("post %s: %v", url, err)
	}
	return resp
}

func TestUploadReturnsSummary(t *testing.T) {
	srv := newTestServer(t)

	file := []byte(csvHeader + "Alice,,Smith,JH4DA3340GS000123,2025-01-01,7,001000004,Company A\n")
	resp := postFile(t, srv.URL+"/api/batch/upload", file)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var summary domain.UploadSummary
	if err := json.NewDecoder(resp.Body).Decode(&summary); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	want := domain.UploadSummary{Submitted: 1, Processed: 1, Added: 1}
	if summary != want {
		t.Fatalf("summary = %+v, want %+v", summary, want)
	}
}

func TestUploadDuplicateFileConflict(t *testing.T) {
	srv := newTestServer(t)

	file := []byte(csvHeader + "Alice,,Smith,JH4DA3340GS000123,2025-01-01,7,001000004,Company A\n")
	resp := postFile(t, srv.URL+"/api/batch/upload", file)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first upload status = %d", resp.StatusCode)
	}

	resp = postFile(t, srv.URL+"/api/batch/upload", file)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("duplicate upload status = %d, want 409", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode error payload: %v", err)
	}
	if payload["error"] == "" {
		t.Fatalf("expected error message")
	}
}

func TestUploadEmptyFileBadRequest(t *testing.T) {
	srv := newTestServer(t)

	resp := postFile(t, srv.URL+"/api/batch/upload", []byte(csvHeader))
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadMissingFileField(t *testing.T) {
	srv := newTestServer(t)

	body := &bytes.Buffer{}
	writer := multipart.NewWriter(body)
	if err := writer.WriteField("other", "value"); err != nil {
		t.Fatalf("write field: %v", err)
	}
	writer.Close()

	resp, err := http.Post(srv.URL+"/api/batch/upload", writer.FormDataContentType(), body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", resp.StatusCode)
	}
}

func TestUploadMethodNotAllowed(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/batch/upload")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("status = %d, want 405", resp.StatusCode)
	}
}

func TestUploadBigFileAndStatusPolling(t *testing.T) {
	srv := newTestServer(t)

	file := []byte(csvHeader + "Alice,,Smith,JH4DA3340GS000123,2025-01-01,7,001000004,Company A\n")
	resp := postFile(t, srv.URL+"/api/batch/upload-big-file", file)
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, want 202", resp.StatusCode)
	}
	var accepted map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode accepted: %v", err)
	}
	resp.Body.Close()
	taskID := accepted["taskId"]
	if taskID == "" {
		t.Fatalf("no taskId in response: %+v", accepted)
	}

	deadline := time.Now().Add(5 * time.Second)
	for {
		resp, err := http.Get(srv.URL + "/api/batch/status/" + taskID)
		if err != nil {
			t.Fatalf("status poll: %v", err)
		}
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status poll = %d, want 200", resp.StatusCode)
		}
		var task struct {
			TaskID    string  `json:"taskId"`
			Status    string  `json:"status"`
			Submitted int     `json:"submitted"`
			Added     int     `json:"added"`
			Completed *string `json:"completedAt"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
			t.Fatalf("decode task: %v", err)
		}
		resp.Body.Close()
		if task.Status == string(domain.TaskFailed) {
			t.Fatalf("task failed: %+v", task)
		}
		if task.Status == string(domain.TaskCompleted) {
			if task.TaskID != taskID || task.Submitted != 1 || task.Added != 1 {
				t.Fatalf("task payload = %+v", task)
			}
			if task.Completed == nil {
				t.Fatalf("completedAt missing")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never completed: %+v", task)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestStatusUnknownTask(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/batch/status/unknown-id")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestUploadRateLimited(t *testing.T) {
	a, err := app.New(app.Config{Store: store.NewMemoryStore(), Workers: 1, QueueCapacity: 10})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)

	redis := miniredis.RunT(t)
	limiter, err := ratelimit.NewRedisFixedWindowLimiter(redis.Addr(), "", "test:ratelimit", 1, time.Minute)
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	srv := httptest.NewServer(New(Config{App: a, UploadLimiter: limiter}).Router())
	t.Cleanup(func() {
		srv.Close()
		a.Shutdown()
		cancel()
	})

	file := []byte(csvHeader + "Alice,,Smith,JH4DA3340GS000123,2025-01-01,7,001000004,Company A\n")
	resp := postFile(t, srv.URL+"/api/batch/upload", file)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("first upload status = %d", resp.StatusCode)
	}

	other := []byte(csvHeader + "Bob,,Jones,JH4DA3340GS000999,2025-01-01,7,001000004,Company A\n")
	resp = postFile(t, srv.URL+"/api/batch/upload", other)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("second upload status = %d, want 429", resp.StatusCode)
	}
	if resp.Header.Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}
}

type fakeArchive struct{}

func (fakeArchive) ArchiveCSV(_ context.Context, _ string, _ []byte) error {
	return nil
}

func (fakeArchive) PresignCSV(_ context.Context, hash string, _ time.Duration) (string, error) {
	return "https://archive.example/" + hash, nil
}

func TestArchivedFileURL(t *testing.T) {
	a, err := app.New(app.Config{Store: store.NewMemoryStore(), Workers: 1, QueueCapacity: 10, Archive: fakeArchive{}})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	a.Start(ctx)
	srv := httptest.NewServer(New(Config{App: a}).Router())
	t.Cleanup(func() {
		srv.Close()
		a.Shutdown()
		cancel()
	})

	file := []byte(csvHeader + "Alice,,Smith,JH4DA3340GS000123,2025-01-01,7,001000004,Company A\n")
	resp := postFile(t, srv.URL+"/api/batch/upload-big-file", file)
	var accepted map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&accepted); err != nil {
		t.Fatalf("decode accepted: %v", err)
	}
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/api/batch/status/" + accepted["taskId"] + "/file")
	if err != nil {
		t.Fatalf("get archived file: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var payload map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["url"] == "" {
		t.Fatalf("expected download url, got %+v", payload)
	}

	// Without a configured archive the link resolves to 404.
	plain := newTestServer(t)
	resp, err = http.Get(plain.URL + "/api/batch/status/whatever/file")
	if err != nil {
		t.Fatalf("get without archive: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	srv := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	var payload map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	if payload["status"] != "ok" {
		t.Fatalf("health payload = %+v", payload)
	}
}
