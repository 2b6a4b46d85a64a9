package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// fakeS3 serves the subset of the S3 REST API the store uses, path-style,
// from memory.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	// pageSize > 0 truncates list responses to exercise pagination.
	pageSize int
}

type fakeObject struct {
	body        []byte
	contentType string
	meta        map[string]string
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.list(req), nil
	}
	switch req.Method {
	case http.MethodHead, http.MethodGet:
		o, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, nil, nil), nil
		}
		h := http.Header{
			"Content-Length": {strconv.Itoa(len(o.body))},
			"Content-Type":   {o.contentType},
			"Etag":           {`"etag"`},
			"Last-Modified":  {time.Date(2024, 1, 15, 0, 0, 0, 0, time.UTC).Format(http.TimeFormat)},
		}
		for k, v := range o.meta {
			h.Set("X-Amz-Meta-"+k, v)
		}
		if req.Method == http.MethodHead {
			return respond(http.StatusOK, h, nil), nil
		}
		return respond(http.StatusOK, h, o.body), nil
	case http.MethodPut:
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		if strings.Contains(req.Header.Get("Content-Encoding"), "aws-chunked") || req.Header.Get("X-Amz-Decoded-Content-Length") != "" {
			if body, err = decodeAWSChunked(body); err != nil {
				return respond(http.StatusBadRequest, nil, nil), nil
			}
		}
		meta := make(map[string]string)
		for k, v := range req.Header {
			if len(k) > len("X-Amz-Meta-") && strings.EqualFold(k[:len("X-Amz-Meta-")], "X-Amz-Meta-") {
				meta[strings.ToLower(k[len("X-Amz-Meta-"):])] = v[0]
			}
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), meta: meta}
		return respond(http.StatusOK, http.Header{"Etag": {`"etag"`}}, nil), nil
	case http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, nil, nil), nil
	}
	return respond(http.StatusNotImplemented, nil, nil), nil
}

func (f *fakeS3) list(req *http.Request) *http.Response {
	q := req.URL.Query()
	prefix := q.Get("prefix")
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	start := 0
	if tok := q.Get("continuation-token"); tok != "" {
		start, _ = strconv.Atoi(tok)
	}
	end := len(keys)
	truncated := false
	if f.pageSize > 0 && start+f.pageSize < end {
		end = start + f.pageSize
		truncated = true
	}
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	fmt.Fprintf(&b, "<IsTruncated>%t</IsTruncated>", truncated)
	if truncated {
		fmt.Fprintf(&b, "<NextContinuationToken>%d</NextContinuationToken>", end)
	}
	for _, k := range keys[start:end] {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><LastModified>2024-01-15T00:00:00Z</LastModified></Contents>", k, len(f.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, http.Header{"Content-Type": {"application/xml"}}, []byte(b.String()))
}

func respond(status int, h http.Header, body []byte) *http.Response {
	if h == nil {
		h = http.Header{}
	}
	return &http.Response{StatusCode: status, Header: h, Body: io.NopCloser(bytes.NewReader(body)), ContentLength: int64(len(body))}
}

// decodeAWSChunked strips aws-chunked framing: <hex>[;ext]\r\n<data>\r\n
// repeated, ending with a zero-length chunk and optional trailers.
func decodeAWSChunked(b []byte) ([]byte, error) {
	var out []byte
	for {
		i := bytes.Index(b, []byte("\r\n"))
		if i < 0 {
			return nil, errors.New("missing chunk header")
		}
		head := string(b[:i])
		if j := strings.IndexByte(head, ';'); j >= 0 {
			head = head[:j]
		}
		n, err := strconv.ParseInt(head, 16, 64)
		if err != nil {
			return nil, err
		}
		b = b[i+2:]
		if n == 0 {
			return out, nil
		}
		if int64(len(b)) < n+2 {
			return nil, errors.New("short chunk")
		}
		out = append(out, b[:n]...)
		b = b[n+2:]
	}
}

func newFakeS3Store(t *testing.T, fake *fakeS3) *S3Store {
	t.Helper()
	cfg, err := config.LoadDefaultConfig(context.Background(),
		config.WithRegion("us-east-1"),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
	)
	if err != nil {
		t.Fatalf("aws config: %v", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String("https://mock.s3.local")
		o.HTTPClient = &http.Client{Transport: fake}
		o.UsePathStyle = true
	})
	return NewS3StoreFromClient(client, "vista-exports")
}

func TestS3Store_BasicFlow(t *testing.T) {
	fake := &fakeS3{objects: make(map[string]fakeObject)}
	store := newFakeS3Store(t, fake)
	ctx := context.Background()

	content := "^DPT(1,0)=\"DOE,JOHN\"^\"M\"^2800515\n"
	obj, err := store.Put(ctx, "vista/run-1/globals.txt", strings.NewReader(content), "text/plain", map[string]string{"Run-ID": "run-1"})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if obj.Size != int64(len(content)) || obj.Hash == "" {
		t.Errorf("unexpected object %+v", obj)
	}
	if got := string(fake.objects["vista/run-1/globals.txt"].body); got != content {
		t.Errorf("stored body = %q", got)
	}

	_, err = store.Put(ctx, "vista/run-1/globals.txt", strings.NewReader("again"), "text/plain", nil)
	if !errors.Is(err, ErrObjectExists) {
		t.Errorf("expected ErrObjectExists, got %v", err)
	}

	head, err := store.Head(ctx, "vista/run-1/globals.txt")
	if err != nil {
		t.Fatalf("head: %v", err)
	}
	if head.Hash != obj.Hash || head.Metadata["run-id"] != "run-1" {
		t.Errorf("head metadata = %+v", head.Metadata)
	}

	rc, got, err := store.Get(ctx, "vista/run-1/globals.txt")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	data, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(data) != content || got.ContentType != "text/plain" {
		t.Errorf("get = %q (%s)", data, got.ContentType)
	}

	if err := store.Delete(ctx, "vista/run-1/globals.txt"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := store.Delete(ctx, "vista/run-1/globals.txt"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("expected ErrObjectNotFound, got %v", err)
	}
}

func TestS3Store_NotFound(t *testing.T) {
	store := newFakeS3Store(t, &fakeS3{objects: make(map[string]fakeObject)})
	ctx := context.Background()
	if _, err := store.Head(ctx, "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("head: expected ErrObjectNotFound, got %v", err)
	}
	if _, _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrObjectNotFound) {
		t.Errorf("get: expected ErrObjectNotFound, got %v", err)
	}
	if _, err := store.Put(ctx, "/abs", strings.NewReader("x"), "", nil); !errors.Is(err, ErrInvalidKey) {
		t.Errorf("put: expected ErrInvalidKey, got %v", err)
	}
}

func TestS3Store_ListPaginates(t *testing.T) {
	fake := &fakeS3{objects: make(map[string]fakeObject), pageSize: 2}
	store := newFakeS3Store(t, fake)
	ctx := context.Background()
	for _, k := range []string{"vista/c", "vista/a", "vista/b", "other/x", "vista/d", "vista/e"} {
		if _, err := store.Put(ctx, k, strings.NewReader(k), "", nil); err != nil {
			t.Fatalf("put %s: %v", k, err)
		}
	}
	list, err := store.List(ctx, "vista/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	var keys []string
	for _, o := range list {
		keys = append(keys, o.Key)
	}
	if strings.Join(keys, ",") != "vista/a,vista/b,vista/c,vista/d,vista/e" {
		t.Errorf("keys = %v", keys)
	}
}

func TestS3Store_Archiver(t *testing.T) {
	store := newFakeS3Store(t, &fakeS3{objects: make(map[string]fakeObject)})
	a := NewArchiver(store, "vista")
	ctx := context.Background()

	m, err := a.Archive(ctx, Manifest{RunID: "r1", Mode: "legacy", ExportDate: "2024-10-15", Entries: 1}, strings.NewReader("^DPT(0)=x\n"))
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	back, err := a.Manifest(ctx, "r1")
	if err != nil {
		t.Fatalf("manifest: %v", err)
	}
	if back.Hash != m.Hash || back.Mode != "legacy" {
		t.Errorf("manifest = %+v", back)
	}
	all, err := a.Manifests(ctx)
	if err != nil || len(all) != 1 {
		t.Fatalf("manifests = %v, %v", all, err)
	}
}

func TestNewS3Store(t *testing.T) {
	if _, err := NewS3Store(context.Background(), S3Config{}); err == nil {
		t.Error("expected error for missing bucket")
	}
	s, err := NewS3Store(context.Background(), S3Config{
		Bucket:          "bkt",
		Endpoint:        "https://minio.local:9000",
		AccessKeyID:     "AKIA",
		SecretAccessKey: "SECRET",
		PathStyle:       true,
	})
	if err != nil {
		t.Fatalf("NewS3Store: %v", err)
	}
	if s.bucket != "bkt" {
		t.Errorf("bucket = %q", s.bucket)
	}
}

func TestDecodeAWSChunked(t *testing.T) {
	got, err := decodeAWSChunked([]byte("5;chunk-signature=abc\r\nhello\r\n6\r\n world\r\n0\r\nx-amz-checksum-crc32:AAAA\r\n\r\n"))
	if err != nil || string(got) != "hello world" {
		t.Errorf("decode = %q, %v", got, err)
	}
	if _, err := decodeAWSChunked([]byte("zz\r\n")); err == nil {
		t.Error("expected error for bad size")
	}
	if _, err := decodeAWSChunked([]byte("9\r\nabc\r\n")); err == nil {
		t.Error("expected error for short chunk")
	}
}
