package blobstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
)

// ---------------------------------------------------------------------------
// Memory store
// ---------------------------------------------------------------------------

func TestMemory_PutAndGet(t *testing.T) {
	store := NewMemory()
	content := "webm-audio-bytes"

	size, err := store.Put(context.Background(), "clinic-a/recordings/r1.webm", "audio/webm", strings.NewReader(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), size)
	}

	rc, info, err := store.Get(context.Background(), "clinic-a/recordings/r1.webm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("error reading content: %v", err)
	}
	if string(data) != content {
		t.Errorf("expected content %q, got %q", content, string(data))
	}
	if info.ContentType != "audio/webm" {
		t.Errorf("expected content type audio/webm, got %s", info.ContentType)
	}
	if info.Size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), info.Size)
	}
}

func TestMemory_GetNotFound(t *testing.T) {
	store := NewMemory()

	_, _, err := store.Get(context.Background(), "missing-key")
	if !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestMemory_PutEmptyKey(t *testing.T) {
	store := NewMemory()

	_, err := store.Put(context.Background(), "", "text/plain", strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected error for empty key")
	}
}

func TestMemory_PutReplacesExisting(t *testing.T) {
	store := NewMemory()

	if _, err := store.Put(context.Background(), "k", "text/plain", strings.NewReader("first")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := store.Put(context.Background(), "k", "text/plain", strings.NewReader("second")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	rc, _, err := store.Get(context.Background(), "k")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != "second" {
		t.Errorf("expected replaced content, got %q", string(data))
	}
}

func TestMemory_Stat(t *testing.T) {
	store := NewMemory()
	if _, err := store.Put(context.Background(), "doc.pdf", "application/pdf", strings.NewReader("pdf-bytes")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info, err := store.Stat(context.Background(), "doc.pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if info.Key != "doc.pdf" {
		t.Errorf("expected key doc.pdf, got %s", info.Key)
	}
	if info.Size != int64(len("pdf-bytes")) {
		t.Errorf("expected size %d, got %d", len("pdf-bytes"), info.Size)
	}

	if _, err := store.Stat(context.Background(), "missing"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestMemory_Delete(t *testing.T) {
	store := NewMemory()
	if _, err := store.Put(context.Background(), "k", "text/plain", strings.NewReader("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if err := store.Delete(context.Background(), "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := store.Get(context.Background(), "k"); !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound after delete, got %v", err)
	}

	// Deleting a missing key succeeds.
	if err := store.Delete(context.Background(), "k"); err != nil {
		t.Errorf("expected idempotent delete, got %v", err)
	}
}

func TestMemory_ConcurrentAccess(t *testing.T) {
	store := NewMemory()
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := string(rune('a' + n%5))
			_, _ = store.Put(context.Background(), key, "text/plain", strings.NewReader("data"))
			if rc, _, err := store.Get(context.Background(), key); err == nil {
				rc.Close()
			}
		}(i)
	}
	wg.Wait()
}

// ---------------------------------------------------------------------------
// S3 store
// ---------------------------------------------------------------------------

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject

	putErr error
	getErr error
}

type fakeObject struct {
	data        []byte
	contentType string
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string]fakeObject)}
}

func (f *fakeS3) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	f.objects[aws.ToString(params.Key)] = fakeObject{data: data, contentType: aws.ToString(params.ContentType)}
	f.mu.Unlock()
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, params *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	f.mu.Lock()
	obj, ok := f.objects[aws.ToString(params.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &notFoundAPIError{code: "NoSuchKey"}
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   aws.String(obj.contentType),
	}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, params *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	obj, ok := f.objects[aws.ToString(params.Key)]
	f.mu.Unlock()
	if !ok {
		return nil, &notFoundAPIError{code: "NotFound"}
	}
	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   aws.String(obj.contentType),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, params *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	delete(f.objects, aws.ToString(params.Key))
	f.mu.Unlock()
	return &s3.DeleteObjectOutput{}, nil
}

// notFoundAPIError mimics the smithy error shape the SDK returns for
// missing objects.
type notFoundAPIError struct {
	code string
}

func (e *notFoundAPIError) Error() string                 { return e.code }
func (e *notFoundAPIError) ErrorCode() string             { return e.code }
func (e *notFoundAPIError) ErrorMessage() string          { return "object not found" }
func (e *notFoundAPIError) ErrorFault() smithy.ErrorFault { return smithy.FaultClient }

func TestS3_PutAndGet(t *testing.T) {
	fake := newFakeS3()
	store := NewS3(fake, "whiskr-blobs", "")

	content := "chunked-audio"
	size, err := store.Put(context.Background(), "clinic-a/recordings/r1.webm", "audio/webm", strings.NewReader(content))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if size != int64(len(content)) {
		t.Errorf("expected size %d, got %d", len(content), size)
	}

	rc, info, err := store.Get(context.Background(), "clinic-a/recordings/r1.webm")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer rc.Close()

	data, _ := io.ReadAll(rc)
	if string(data) != content {
		t.Errorf("expected content %q, got %q", content, string(data))
	}
	if info.ContentType != "audio/webm" {
		t.Errorf("expected content type audio/webm, got %s", info.ContentType)
	}
}

func TestS3_PrefixedKeys(t *testing.T) {
	fake := newFakeS3()
	store := NewS3(fake, "whiskr-blobs", "prod/")

	if _, err := store.Put(context.Background(), "doc.pdf", "application/pdf", strings.NewReader("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	fake.mu.Lock()
	_, ok := fake.objects["prod/doc.pdf"]
	fake.mu.Unlock()
	if !ok {
		t.Error("expected object stored under prefixed key prod/doc.pdf")
	}
}

func TestS3_GetNotFound(t *testing.T) {
	store := NewS3(newFakeS3(), "whiskr-blobs", "")

	_, _, err := store.Get(context.Background(), "missing")
	if !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestS3_StatNotFound(t *testing.T) {
	store := NewS3(newFakeS3(), "whiskr-blobs", "")

	_, err := store.Stat(context.Background(), "missing")
	if !errors.Is(err, ErrBlobNotFound) {
		t.Errorf("expected ErrBlobNotFound, got %v", err)
	}
}

func TestS3_DeleteIdempotent(t *testing.T) {
	fake := newFakeS3()
	store := NewS3(fake, "whiskr-blobs", "")

	if _, err := store.Put(context.Background(), "k", "text/plain", strings.NewReader("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Delete(context.Background(), "k"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := store.Delete(context.Background(), "k"); err != nil {
		t.Errorf("expected idempotent delete, got %v", err)
	}
}

func TestS3_PutError(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("connection reset")
	store := NewS3(fake, "whiskr-blobs", "")

	_, err := store.Put(context.Background(), "k", "text/plain", strings.NewReader("x"))
	if err == nil {
		t.Fatal("expected error from failed upload")
	}
}

func TestIsS3NotFound(t *testing.T) {
	if !isS3NotFound(&notFoundAPIError{code: "NoSuchKey"}) {
		t.Error("expected NoSuchKey to be treated as not found")
	}
	if !isS3NotFound(&notFoundAPIError{code: "NotFound"}) {
		t.Error("expected NotFound to be treated as not found")
	}
	if isS3NotFound(&notFoundAPIError{code: "AccessDenied"}) {
		t.Error("expected AccessDenied to not be treated as not found")
	}
	if isS3NotFound(errors.New("plain error")) {
		t.Error("expected plain error to not be treated as not found")
	}
}
