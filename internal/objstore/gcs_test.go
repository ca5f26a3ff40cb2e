package objstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/greatdevaks/datahour-mlops-airflow/internal/config"
)

// fakeGCS implements the JSON API calls the store issues for buckets and uploads, and
// both the XML and JSON forms of object reads.
type fakeGCS struct {
	mu      sync.Mutex
	buckets map[string]map[string][]byte
}

func newFakeGCS() *fakeGCS {
	return &fakeGCS{buckets: make(map[string]map[string][]byte)}
}

func writeGCSError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":%q,"errors":[{"domain":"global","reason":"fake","message":%q}]}}`,
		status, msg, msg)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func (f *fakeGCS) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	path := r.URL.Path
	switch {
	case path == "/storage/v1/b" && r.Method == http.MethodGet:
		names := make([]string, 0, len(f.buckets))
		for n := range f.buckets {
			names = append(names, n)
		}
		sort.Strings(names)
		items := make([]map[string]string, 0, len(names))
		for _, n := range names {
			items = append(items, map[string]string{"kind": "storage#bucket", "name": n})
		}
		writeJSON(w, map[string]any{"kind": "storage#buckets", "items": items})
	case path == "/storage/v1/b" && r.Method == http.MethodPost:
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			writeGCSError(w, http.StatusBadRequest, "bucket name required")

			return
		}
		if _, ok := f.buckets[req.Name]; ok {
			writeGCSError(w, http.StatusConflict, "Your previous request to create the named bucket succeeded and you already own it.")

			return
		}
		f.buckets[req.Name] = make(map[string][]byte)
		writeJSON(w, map[string]string{"kind": "storage#bucket", "name": req.Name})
	case strings.HasPrefix(path, "/upload/storage/v1/b/") && r.Method == http.MethodPost:
		bucket, _, _ := strings.Cut(strings.TrimPrefix(path, "/upload/storage/v1/b/"), "/")
		f.insert(w, r, bucket)
	case strings.HasPrefix(path, "/storage/v1/b/") && r.Method == http.MethodGet && r.URL.Query().Get("alt") == "media":
		bucket, rest, _ := strings.Cut(strings.TrimPrefix(path, "/storage/v1/b/"), "/")
		f.read(w, bucket, strings.TrimPrefix(rest, "o/"))
	case r.Method == http.MethodGet:
		bucket, key, _ := strings.Cut(strings.TrimPrefix(path, "/"), "/")
		f.read(w, bucket, key)
	default:
		writeGCSError(w, http.StatusNotImplemented, r.Method+" "+path)
	}
}

// insert handles a multipart upload: object metadata first, then the media.
func (f *fakeGCS) insert(w http.ResponseWriter, r *http.Request, bucket string) {
	objects, ok := f.buckets[bucket]
	if !ok {
		writeGCSError(w, http.StatusNotFound, "The specified bucket does not exist.")

		return
	}
	_, params, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || params["boundary"] == "" {
		writeGCSError(w, http.StatusBadRequest, "multipart upload expected")

		return
	}
	mr := multipart.NewReader(r.Body, params["boundary"])
	metaPart, err := mr.NextPart()
	if err != nil {
		writeGCSError(w, http.StatusBadRequest, err.Error())

		return
	}
	meta := map[string]any{}
	if err := json.NewDecoder(metaPart).Decode(&meta); err != nil {
		writeGCSError(w, http.StatusBadRequest, err.Error())

		return
	}
	mediaPart, err := mr.NextPart()
	if err != nil {
		writeGCSError(w, http.StatusBadRequest, err.Error())

		return
	}
	data, err := io.ReadAll(mediaPart)
	if err != nil {
		writeGCSError(w, http.StatusBadRequest, err.Error())

		return
	}
	name, _ := meta["name"].(string)
	if name == "" {
		name = r.URL.Query().Get("name")
	}
	objects[name] = data

	meta["kind"] = "storage#object"
	meta["name"] = name
	meta["bucket"] = bucket
	meta["size"] = strconv.Itoa(len(data))
	meta["generation"] = "1"
	writeJSON(w, meta)
}

func (f *fakeGCS) object(bucket, key string) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	return f.buckets[bucket][key]
}

func (f *fakeGCS) read(w http.ResponseWriter, bucket, key string) {
	data, ok := f.buckets[bucket][key]
	if !ok {
		writeGCSError(w, http.StatusNotFound, "No such object: "+bucket+"/"+key)

		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	w.Header().Set("X-Goog-Generation", "1")
	w.Header().Set("X-Goog-Metageneration", "1")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)
}

func newTestGCSStore(t *testing.T, fake *fakeGCS) *GCSStore {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	s, err := NewGCSStore(context.Background(), GCSOptions{
		Project:   "airflow-playground-00",
		Endpoint:  srv.URL + "/storage/v1/",
		Anonymous: true,
	})
	require.NoError(t, err)

	return s
}

func TestGCSStore(t *testing.T) {
	exerciseStore(t, newTestGCSStore(t, newFakeGCS()))
}

func TestGCSStore_CreateConflict(t *testing.T) {
	fake := newFakeGCS()
	fake.buckets["airflow-ml-datasets-00"] = map[string][]byte{}
	s := newTestGCSStore(t, fake)

	_, err := s.CreateBucket(context.Background(), "airflow-ml-datasets-00")
	assert.ErrorIs(t, err, ErrBucketExists)

	names, err := s.ListBuckets(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"airflow-ml-datasets-00"}, names)
}

func TestGCSStore_RoundTrip(t *testing.T) {
	fake := newFakeGCS()
	fake.buckets["models"] = map[string][]byte{}
	s := newTestGCSStore(t, fake)
	ctx := context.Background()
	dir := t.TempDir()

	src := filepath.Join(dir, "model")
	payload := []byte{0x00, 0xff, 0x10, '\n', 0x7f}
	require.NoError(t, os.WriteFile(src, payload, 0o600))
	require.NoError(t, s.Bucket("models").Upload(ctx, "model", src))
	assert.Equal(t, payload, fake.object("models", "model"))

	dst := filepath.Join(dir, "out", "model")
	require.NoError(t, s.Bucket("models").Download(ctx, "model", dst))
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, payload, data)
}

func TestGCSStore_MissingObject(t *testing.T) {
	fake := newFakeGCS()
	fake.buckets["datasets"] = map[string][]byte{}
	s := newTestGCSStore(t, fake)

	dst := filepath.Join(t.TempDir(), "X_data.csv")
	err := s.Bucket("datasets").Download(context.Background(), "X_data.csv", dst)
	assert.ErrorIs(t, err, ErrNotFound)
	_, statErr := os.Stat(dst)
	assert.True(t, os.IsNotExist(statErr))
}

func TestOpen_GCS(t *testing.T) {
	srv := httptest.NewServer(newFakeGCS())
	t.Cleanup(srv.Close)

	s, err := Open(context.Background(), config.StorageConfig{
		Backend: config.BackendGCS,
		Project: "airflow-playground-00",
		GCS:     config.GCSConfig{Endpoint: srv.URL + "/storage/v1/", Anonymous: true},
	})
	require.NoError(t, err)
	assert.IsType(t, &GCSStore{}, s)

	names, err := s.ListBuckets(context.Background())
	require.NoError(t, err)
	assert.Empty(t, names)
	require.NoError(t, s.Close())

	_, err = Open(context.Background(), config.StorageConfig{Backend: config.BackendGCS})
	assert.Error(t, err, "the project is required")
}
