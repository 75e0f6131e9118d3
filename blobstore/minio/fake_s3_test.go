package minio

import (
	"bufio"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// fakeS3 serves the subset of the S3 API the store uses: HEAD, ranged GET,
// single PUT, DELETE and ListObjectsV2 with path-style addressing.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string][]byte

	gets atomic.Int64
}

func newFakeS3(t *testing.T, bucket string) (*fakeS3, *httptest.Server) {
	t.Helper()
	f := &fakeS3{bucket: bucket, objects: make(map[string][]byte)}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return f, srv
}

func newTestStore(t *testing.T, prefix string) (*Store, *fakeS3) {
	t.Helper()
	f, srv := newFakeS3(t, "test-bucket")
	store, err := New(Config{
		Endpoint: strings.TrimPrefix(srv.URL, "http://"),
		Region:   "us-east-1",
		Bucket:   "test-bucket",
		Prefix:   prefix,
	})
	require.NoError(t, err)
	return store, f
}

var lastModified = time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	bucket, key, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	if bucket != f.bucket {
		writeError(w, r, http.StatusNotFound, "NoSuchBucket")
		return
	}

	if key == "" {
		if r.Method == http.MethodGet && r.URL.Query().Get("list-type") == "2" {
			f.list(w, r)
			return
		}
		writeError(w, r, http.StatusNotImplemented, "NotImplemented")
		return
	}

	switch r.Method {
	case http.MethodHead:
		f.head(w, r, key)
	case http.MethodGet:
		f.gets.Add(1)
		f.get(w, r, key)
	case http.MethodPut:
		f.put(w, r, key)
	case http.MethodDelete:
		f.mu.Lock()
		delete(f.objects, key)
		f.mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, r, http.StatusNotImplemented, "NotImplemented")
	}
}

func (f *fakeS3) lookup(key string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[key]
	return data, ok
}

func objectHeaders(w http.ResponseWriter, size int) {
	w.Header().Set("Content-Length", strconv.Itoa(size))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.Header().Set("Last-Modified", lastModified.Format(http.TimeFormat))
	w.Header().Set("Accept-Ranges", "bytes")
}

func (f *fakeS3) head(w http.ResponseWriter, r *http.Request, key string) {
	data, ok := f.lookup(key)
	if !ok {
		writeError(w, r, http.StatusNotFound, "NoSuchKey")
		return
	}
	objectHeaders(w, len(data))
	w.WriteHeader(http.StatusOK)
}

func (f *fakeS3) get(w http.ResponseWriter, r *http.Request, key string) {
	data, ok := f.lookup(key)
	if !ok {
		writeError(w, r, http.StatusNotFound, "NoSuchKey")
		return
	}

	rng := r.Header.Get("Range")
	if rng == "" {
		objectHeaders(w, len(data))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
		return
	}

	var start, end int
	if _, err := fmt.Sscanf(rng, "bytes=%d-%d", &start, &end); err != nil || start >= len(data) {
		writeError(w, r, http.StatusRequestedRangeNotSatisfiable, "InvalidRange")
		return
	}
	end = min(end, len(data)-1)

	objectHeaders(w, end-start+1)
	w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, len(data)))
	w.WriteHeader(http.StatusPartialContent)
	_, _ = w.Write(data[start : end+1])
}

func (f *fakeS3) put(w http.ResponseWriter, r *http.Request, key string) {
	var body io.Reader = r.Body
	if strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") ||
		strings.Contains(r.Header.Get("Content-Encoding"), "aws-chunked") {
		body = decodeChunked(r.Body)
	}

	data, err := io.ReadAll(body)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "IncompleteBody")
		return
	}

	f.mu.Lock()
	f.objects[key] = data
	f.mu.Unlock()

	w.Header().Set("ETag", `"d41d8cd98f00b204e9800998ecf8427e"`)
	w.WriteHeader(http.StatusOK)
}

type listContents struct {
	Key          string
	LastModified string
	ETag         string
	Size         int64
	StorageClass string
}

type listResult struct {
	XMLName     xml.Name `xml:"http://s3.amazonaws.com/doc/2006-03-01/ ListBucketResult"`
	Name        string
	Prefix      string
	KeyCount    int
	MaxKeys     int
	IsTruncated bool
	Contents    []listContents
}

func (f *fakeS3) list(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")

	f.mu.Lock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	res := listResult{Name: f.bucket, Prefix: prefix, MaxKeys: 1000}
	for _, k := range keys {
		res.Contents = append(res.Contents, listContents{
			Key:          k,
			LastModified: lastModified.Format("2006-01-02T15:04:05.000Z"),
			ETag:         `"d41d8cd98f00b204e9800998ecf8427e"`,
			Size:         int64(len(f.objects[k])),
			StorageClass: "STANDARD",
		})
	}
	f.mu.Unlock()
	res.KeyCount = len(res.Contents)

	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(http.StatusOK)
	_ = xml.NewEncoder(w).Encode(res)
}

type errorResponse struct {
	XMLName xml.Name `xml:"Error"`
	Code    string
	Message string
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code string) {
	if r.Method == http.MethodHead {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	w.WriteHeader(status)
	_ = xml.NewEncoder(w).Encode(errorResponse{Code: code, Message: code})
}

// decodeChunked strips aws-chunked framing: "<hex>[;ext]\r\n<data>\r\n",
// terminated by a zero-size chunk and optional trailers.
func decodeChunked(r io.Reader) io.Reader {
	pr, pw := io.Pipe()
	go func() {
		br := bufio.NewReader(r)
		for {
			line, err := br.ReadString('\n')
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			sizeStr, _, _ := strings.Cut(strings.TrimSpace(line), ";")
			n, err := strconv.ParseInt(sizeStr, 16, 64)
			if err != nil {
				pw.CloseWithError(err)
				return
			}
			if n == 0 {
				pw.Close()
				return
			}
			if _, err := io.CopyN(pw, br, n); err != nil {
				pw.CloseWithError(err)
				return
			}
			if _, err := br.Discard(2); err != nil {
				pw.CloseWithError(err)
				return
			}
		}
	}()
	return pr
}
