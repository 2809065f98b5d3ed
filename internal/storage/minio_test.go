package storage

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
)

type fakeStore struct {
	buckets map[string]bool
	objects map[string]string
	putErrs []error
	makes   int
	listing []minio.ObjectInfo
}

func newFakeStore() *fakeStore {
	return &fakeStore{buckets: map[string]bool{}, objects: map[string]string{}}
}

func (s *fakeStore) BucketExists(_ context.Context, bucket string) (bool, error) {
	return s.buckets[bucket], nil
}

func (s *fakeStore) MakeBucket(_ context.Context, bucket string, _ minio.MakeBucketOptions) error {
	s.makes++
	s.buckets[bucket] = true
	return nil
}

func (s *fakeStore) PutObject(_ context.Context, bucket, object string, reader io.Reader, size int64, _ minio.PutObjectOptions) (minio.UploadInfo, error) {
	if len(s.putErrs) > 0 {
		err := s.putErrs[0]
		s.putErrs = s.putErrs[1:]
		return minio.UploadInfo{}, err
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		return minio.UploadInfo{}, err
	}
	s.objects[object] = string(data)
	return minio.UploadInfo{Bucket: bucket, Key: object, Size: size}, nil
}

func (s *fakeStore) ListObjects(_ context.Context, _ string, _ minio.ListObjectsOptions) <-chan minio.ObjectInfo {
	ch := make(chan minio.ObjectInfo, len(s.listing))
	for _, info := range s.listing {
		ch <- info
	}
	close(ch)
	return ch
}

func TestEnsureBucketCreatesMissingBucket(t *testing.T) {
	store := newFakeStore()
	c := &Client{store: store, bucket: "diag"}

	if err := c.ensureBucket(context.Background()); err != nil {
		t.Fatalf("ensure bucket: %v", err)
	}
	if err := c.ensureBucket(context.Background()); err != nil {
		t.Fatalf("ensure bucket again: %v", err)
	}
	if store.makes != 1 {
		t.Fatalf("expected bucket created once, got %d", store.makes)
	}
}

func TestSaveTimeoutHTML(t *testing.T) {
	store := newFakeStore()
	store.buckets["diag"] = true
	c := &Client{store: store, bucket: "diag"}

	if err := c.SaveTimeoutHTML(context.Background(), "2026-01-02/abc.html", "<html></html>"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if got := store.objects["render-diagnostics/2026-01-02/abc.html"]; got != "<html></html>" {
		t.Fatalf("unexpected stored html %q", got)
	}

	if err := c.SaveTimeoutHTML(context.Background(), "../../escape.html", "x"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, ok := store.objects["render-diagnostics/escape.html"]; !ok {
		t.Fatalf("expected object name to stay under the diagnostics prefix: %v", store.objects)
	}
}

func TestSaveTimeoutHTMLRecreatesBucket(t *testing.T) {
	store := newFakeStore()
	store.putErrs = []error{minio.ErrorResponse{Code: "NoSuchBucket"}}
	c := &Client{store: store, bucket: "diag"}

	if err := c.SaveTimeoutHTML(context.Background(), "d/x.html", "body"); err != nil {
		t.Fatalf("save: %v", err)
	}
	if store.makes != 1 {
		t.Fatalf("expected bucket to be recreated")
	}
	if store.objects["render-diagnostics/d/x.html"] != "body" {
		t.Fatalf("expected retry to store the object")
	}
}

func TestSaveTimeoutHTMLReportsOtherErrors(t *testing.T) {
	store := newFakeStore()
	store.putErrs = []error{errors.New("access denied")}
	c := &Client{store: store, bucket: "diag"}

	if err := c.SaveTimeoutHTML(context.Background(), "x.html", "body"); err == nil {
		t.Fatalf("expected error")
	}
	if store.makes != 0 {
		t.Fatalf("bucket must not be recreated for unrelated errors")
	}
}

func TestListDiagnosticsHonoursLimit(t *testing.T) {
	store := newFakeStore()
	now := time.Now()
	store.listing = []minio.ObjectInfo{
		{Key: "render-diagnostics/a.html", Size: 1, LastModified: now},
		{Key: "render-diagnostics/b.html", Size: 2, LastModified: now},
		{Key: "render-diagnostics/c.html", Size: 3, LastModified: now},
	}
	c := &Client{store: store, bucket: "diag"}

	got, err := c.ListDiagnostics(context.Background(), 2)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(got) != 2 || got[1].Key != "render-diagnostics/b.html" {
		t.Fatalf("unexpected listing %+v", got)
	}
}

func TestIsNoSuchBucket(t *testing.T) {
	if !IsNoSuchBucket(minio.ErrorResponse{Code: "NoSuchBucket"}) {
		t.Fatalf("expected NoSuchBucket to match")
	}
	if IsNoSuchBucket(errors.New("timeout")) || IsNoSuchBucket(nil) {
		t.Fatalf("unexpected match")
	}
}
