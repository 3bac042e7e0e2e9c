package archive_test

import (
	"context"
	"os"
	"strings"
	"testing"

	"github.com/google/uuid"

	"github.com/toecm/pureconvo/internal/ledger/archive"
)

func TestObjectName(t *testing.T) {
	id := uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")
	got := archive.ObjectName("contributions", id)
	if got != "contributions/6ba7b810-9dad-11d1-80b4-00c04fd430c8.wav" {
		t.Errorf("ObjectName = %q", got)
	}
}

func TestNew_RequiresEndpointAndBucket(t *testing.T) {
	if _, err := archive.New(context.Background(), archive.Config{Bucket: "b"}); err == nil {
		t.Error("expected error for missing endpoint")
	}
	if _, err := archive.New(context.Background(), archive.Config{Endpoint: "localhost:9000"}); err == nil {
		t.Error("expected error for missing bucket")
	}
}

// TestMinioArchive_Put runs against a real MinIO when
// PURECONVO_TEST_MINIO_ENDPOINT is set (access key and secret from
// PURECONVO_TEST_MINIO_ACCESS_KEY / PURECONVO_TEST_MINIO_SECRET_KEY).
func TestMinioArchive_Put(t *testing.T) {
	endpoint := os.Getenv("PURECONVO_TEST_MINIO_ENDPOINT")
	if endpoint == "" {
		t.Skip("PURECONVO_TEST_MINIO_ENDPOINT not set, skipping MinIO integration test")
	}
	ctx := context.Background()
	a, err := archive.New(ctx, archive.Config{
		Endpoint:  endpoint,
		AccessKey: os.Getenv("PURECONVO_TEST_MINIO_ACCESS_KEY"),
		SecretKey: os.Getenv("PURECONVO_TEST_MINIO_SECRET_KEY"),
		Bucket:    "pureconvo-test",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := a.Ping(ctx); err != nil {
		t.Fatalf("Ping: %v", err)
	}
	name, err := a.Put(ctx, []byte("RIFF....WAVE"))
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if !strings.HasPrefix(name, "contributions/") || !strings.HasSuffix(name, ".wav") {
		t.Errorf("object name = %q", name)
	}
}
