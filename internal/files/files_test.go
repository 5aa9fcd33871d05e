package files

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalStorage_ReadFixture(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "t1.in")
	require.NoError(t, os.WriteFile(path, []byte("1 2\n"), 0o644))

	store := NewLocalStorage()
	data, err := store.ReadFixture(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, "1 2\n", string(data))

	_, err = store.ReadFixture(context.Background(), filepath.Join(dir, "t2.in"))
	require.ErrorIs(t, err, os.ErrNotExist)
	assert.Contains(t, err.Error(), "t2.in")
}

func TestObjectKey(t *testing.T) {
	assert.Equal(t, "tests/in/t1.in", objectKey("tests/in/t1.in"))
	assert.Equal(t, "tests/in/t1.in", objectKey("/tests/in/t1.in"))
	assert.Equal(t, "tests/in/t1.in", objectKey("./tests//in/t1.in"))
}

// fakeS3 serves objects for path-style GET requests.
func fakeS3(t *testing.T, objects map[string]string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := objects[r.URL.Path]
		if !ok || r.Method != http.MethodGet {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?>`+
				`<Error><Code>NoSuchKey</Code><Message>The specified key does not exist.</Message>`+
				`<Key>%s</Key><BucketName>fixtures</BucketName></Error>`, strings.TrimPrefix(r.URL.Path, "/fixtures/"))
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFileStorage_ReadFixture(t *testing.T) {
	srv := fakeS3(t, map[string]string{
		"/fixtures/tests/in/t1.in": "3 4\n",
	})

	store, err := NewFileStorage(Config{
		Url:      strings.TrimPrefix(srv.URL, "http://"),
		Login:    "minio",
		Password: "minio123",
		Bucket:   "fixtures",
		Region:   "us-east-1",
	})
	require.NoError(t, err)

	data, err := store.ReadFixture(context.Background(), "tests/in/t1.in")
	require.NoError(t, err)
	assert.Equal(t, "3 4\n", string(data))

	_, err = store.ReadFixture(context.Background(), "tests/in/t2.in")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fixtures/tests/in/t2.in")
}
