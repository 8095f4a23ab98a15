package blobstore

import "testing"

func TestObjectKeyWithoutPrefix(t *testing.T) {
	s := &S3Store{bucket: "b"}
	if got := s.objectKey("compaction/x.json"); got != "compaction/x.json" {
		t.Fatalf("objectKey() = %q", got)
	}
}

func TestObjectKeyWithPrefix(t *testing.T) {
	s := &S3Store{bucket: "b", prefix: "checkpoints"}
	if got := s.objectKey("compaction/x.json"); got != "checkpoints/compaction/x.json" {
		t.Fatalf("objectKey() = %q", got)
	}
}

func TestNewS3StoreRequiresBucket(t *testing.T) {
	if _, err := NewS3Store(nil, Config{}); err == nil { //nolint:staticcheck // ctx unused before the bucket check
		t.Fatal("expected error for missing bucket")
	}
}
