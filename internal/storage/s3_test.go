package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// fakeS3 answers the handful of calls the uploader makes
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := strings.Trim(r.URL.Path, "/")
	bucket, key, _ := strings.Cut(path, "/")
	if bucket != f.bucket {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	switch r.Method {
	case http.MethodHead:
		w.WriteHeader(http.StatusOK)
	case http.MethodPut:
		data, _ := io.ReadAll(r.Body)
		f.objects[key] = data
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func newFakeS3(t *testing.T) (*fakeS3, S3Config) {
	t.Helper()
	fake := &fakeS3{bucket: "artifacts", objects: map[string][]byte{}}
	ts := httptest.NewServer(fake)
	t.Cleanup(ts.Close)

	return fake, S3Config{
		Endpoint:  strings.TrimPrefix(ts.URL, "http://"),
		AccessKey: "access",
		SecretKey: "secret",
		Bucket:    "artifacts",
		Region:    "us-east-1",
	}
}

func TestS3Upload(t *testing.T) {
	fake, cfg := newFakeS3(t)

	uploader, err := NewS3Uploader(context.Background(), cfg)
	if err != nil {
		t.Fatalf("NewS3Uploader: %v", err)
	}

	url, err := uploader.Upload(context.Background(), "turn.wav", []byte("RIFF"), "audio/wav")
	if err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !strings.Contains(url, "/artifacts/turn.wav") || !strings.Contains(url, "X-Amz-Signature") {
		t.Errorf("Expected presigned object URL, got %s", url)
	}

	fake.mu.Lock()
	defer fake.mu.Unlock()
	// the body may arrive aws-chunked, so only check it landed under the key
	if _, ok := fake.objects["turn.wav"]; !ok {
		t.Errorf("Object not stored, have %d objects", len(fake.objects))
	}
}

func TestS3MissingBucket(t *testing.T) {
	_, cfg := newFakeS3(t)
	cfg.Bucket = "missing"

	if _, err := NewS3Uploader(context.Background(), cfg); err == nil {
		t.Error("Expected error for a missing bucket")
	}
}
