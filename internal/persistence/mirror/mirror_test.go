package mirror

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeS3 accepts path-style PUTs and remembers the bodies.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if req.Method != http.MethodPut {
		return &http.Response{StatusCode: http.StatusNotImplemented, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{}}, nil
	}
	key := strings.TrimPrefix(req.URL.Path, "/mirror-bucket/")
	body, _ := io.ReadAll(req.Body)
	f.objects[key] = body
	f.types[key] = req.Header.Get("Content-Type")
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(nil)), Header: http.Header{"ETag": {"\"etag\""}}}, nil
}

func newFakeClient(t *testing.T) (*Client, *fakeS3) {
	t.Helper()
	fake := &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
	c, err := NewClient(context.Background(), Config{
		Endpoint:        "https://mock.s3.local",
		Region:          "us-east-1",
		Bucket:          "mirror-bucket",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
	}, func(o *s3.Options) {
		o.HTTPClient = &http.Client{Transport: fake}
	})
	require.NoError(t, err)
	return c, fake
}

func writeFile(t *testing.T, p, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}

func TestMirrorUploadsRelativeKeys(t *testing.T) {
	c, fake := newFakeClient(t)
	dataDir := t.TempDir()
	export := filepath.Join(dataDir, "123456", "exports", "7.json.zst")
	writeFile(t, export, "export-bytes")

	m := New(c, dataDir, "/manv/", Options{}, zap.NewNop())
	m.Enqueue(export)
	m.Close()

	assert.Equal(t, "export-bytes", string(fake.objects["manv/123456/exports/7.json.zst"]))
	assert.Equal(t, "application/zstd", fake.types["manv/123456/exports/7.json.zst"])
	st := m.Stats()
	assert.Equal(t, uint64(1), st.EnqueuedTotal)
	assert.Equal(t, uint64(1), st.UploadSuccessTotal)
	assert.NotZero(t, st.LastSuccessUnix)
}

func TestNewClientRequiresBucket(t *testing.T) {
	_, err := NewClient(context.Background(), Config{Endpoint: "https://mock.s3.local"})
	assert.Error(t, err)
}

type flakyUploader struct {
	mu    sync.Mutex
	fails int
	calls int
	keys  []string
}

func (u *flakyUploader) PutFile(_ context.Context, key, _ string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.calls++
	if u.calls <= u.fails {
		return errors.New("temporary")
	}
	u.keys = append(u.keys, key)
	return nil
}

func TestMirrorRetriesThenGivesUp(t *testing.T) {
	dataDir := t.TempDir()
	p := filepath.Join(dataDir, "a.json")
	writeFile(t, p, "{}")
	noWait := func(int) time.Duration { return 0 }

	ok := &flakyUploader{fails: 2}
	m := New(ok, dataDir, "", Options{MaxAttempts: 3, Backoff: noWait}, nil)
	m.Enqueue(p)
	m.Close()
	assert.Equal(t, []string{"a.json"}, ok.keys)
	assert.Equal(t, uint64(1), m.Stats().UploadSuccessTotal)

	bad := &flakyUploader{fails: 10}
	m = New(bad, dataDir, "", Options{MaxAttempts: 3, Backoff: noWait}, nil)
	m.Enqueue(p)
	m.Close()
	assert.Equal(t, 3, bad.calls)
	assert.Equal(t, uint64(1), m.Stats().UploadFailTotal)
}

func TestMirrorSkipsFilesOutsideDataDir(t *testing.T) {
	outside := filepath.Join(t.TempDir(), "x.json")
	writeFile(t, outside, "{}")
	up := &flakyUploader{}
	m := New(up, t.TempDir(), "", Options{}, nil)
	m.Enqueue(outside)
	m.Enqueue(filepath.Join(t.TempDir(), "missing.json"))
	m.Close()
	assert.Zero(t, up.calls)
}

func TestNilMirrorIsInert(t *testing.T) {
	var m *Mirror
	m.Enqueue("x")
	m.Close()
	assert.Equal(t, Stats{}, m.Stats())
}
