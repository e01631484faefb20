package storage

import (
	"context"
	"testing"
	"time"

	"github.com/silluthedon/delta/internal/config"
)

func TestObjectKey(t *testing.T) {
	now := time.UnixMilli(1717000000123)

	cases := []struct {
		prefix   string
		filename string
		want     string
	}{
		{prefix: "videos", filename: "Arrival.MP4", want: "videos/1717000000123.mp4"},
		{prefix: "/thumbnails/", filename: "poster.jpg", want: "thumbnails/1717000000123.jpg"},
		{prefix: "videos", filename: `C:\clips\trailer.webm`, want: "videos/1717000000123.webm"},
		{prefix: "videos", filename: "noextension", want: "videos/1717000000123"},
	}

	for _, tc := range cases {
		if got := ObjectKey(tc.prefix, tc.filename, now); got != tc.want {
			t.Fatalf("ObjectKey(%q, %q) = %q, want %q", tc.prefix, tc.filename, got, tc.want)
		}
	}
}

func TestNewS3StorageRequiresBucket(t *testing.T) {
	if _, err := NewS3Storage(context.Background(), config.ObjectStoreConfig{Region: "us-east-1"}); err == nil {
		t.Fatal("expected error without bucket")
	}
}

func TestSaveRejectsEmptyKey(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "test")
	t.Setenv("AWS_SECRET_ACCESS_KEY", "test")

	store, err := NewS3Storage(context.Background(), config.ObjectStoreConfig{
		Bucket:   "delta-assets",
		Endpoint: "http://127.0.0.1:9000",
		Region:   "us-east-1",
	})
	if err != nil {
		t.Fatalf("new storage: %v", err)
	}

	if _, err := store.Save(context.Background(), "/", nil); err == nil {
		t.Fatal("expected error for empty key")
	}
}
