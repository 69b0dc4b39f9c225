package blob

import (
	"context"
	"io"
	"strings"
	"testing"
)

func TestS3RoundTrip(t *testing.T) {
	store := NewS3MockForTests()
	ctx := context.Background()

	info, err := store.Put(ctx, "reports/j1/failures.json", strings.NewReader(`{"a":1}`), PutOptions{
		ContentType: "application/json",
	})
	if err != nil {
		t.Fatalf("put: %v", err)
	}
	if info.Size != 7 {
		t.Fatalf("info = %+v", info)
	}

	got, rc, err := store.Get(ctx, "reports/j1/failures.json")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	body, _ := io.ReadAll(rc)
	_ = rc.Close()
	if string(body) != `{"a":1}` || got.ContentType != "application/json" {
		t.Fatalf("body = %q, info = %+v", body, got)
	}

	if _, err := store.Put(ctx, "reports/j1/failures.json", strings.NewReader("x"), PutOptions{}); err == nil {
		t.Fatalf("second put must fail")
	}
}

func TestS3HeadMissingObject(t *testing.T) {
	store := NewS3MockForTests()
	if _, err := store.Head(context.Background(), "nope"); err == nil {
		t.Fatalf("head must fail for missing object")
	}
}

func TestS3ListByPrefix(t *testing.T) {
	store := NewS3MockForTests()
	ctx := context.Background()
	for _, key := range []string{"reports/j2/b.csv", "reports/j1/a.json", "other/x"} {
		if _, err := store.Put(ctx, key, strings.NewReader("data"), PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", key, err)
		}
	}

	infos, err := store.List(ctx, "reports/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Key != "reports/j1/a.json" || infos[1].Key != "reports/j2/b.csv" {
		t.Fatalf("infos = %+v", infos)
	}
}

func TestS3Delete(t *testing.T) {
	store := NewS3MockForTests()
	ctx := context.Background()
	if _, err := store.Put(ctx, "k", strings.NewReader("x"), PutOptions{}); err != nil {
		t.Fatalf("put: %v", err)
	}
	deleted, err := store.Delete(ctx, "k")
	if err != nil || !deleted {
		t.Fatalf("delete = %v %v", deleted, err)
	}
	if _, err := store.Head(ctx, "k"); err == nil {
		t.Fatalf("head after delete must fail")
	}
}

func TestS3PresignURL(t *testing.T) {
	store := NewS3MockForTests()
	ctx := context.Background()
	url, err := store.PresignURL(ctx, "reports/j1/a.json", SignedURLOptions{})
	if err != nil {
		t.Fatalf("presign: %v", err)
	}
	if !strings.Contains(url, "X-Amz-Signature") {
		t.Fatalf("url = %q", url)
	}
	if _, err := store.PresignURL(ctx, "k", SignedURLOptions{Method: "DELETE"}); err != ErrUnsupported {
		t.Fatalf("expected ErrUnsupported, got %v", err)
	}
}
