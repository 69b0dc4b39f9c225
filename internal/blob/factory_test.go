package blob

import (
	"context"
	"testing"
)

func TestOpenSelectsDriver(t *testing.T) {
	ctx := context.Background()

	t.Setenv("SELECTCORE_BLOB_DRIVER", "memory")
	store, err := Open(ctx)
	if err != nil || store.Driver() != DriverMemory {
		t.Fatalf("store = %v (%v)", store, err)
	}

	t.Setenv("SELECTCORE_BLOB_DRIVER", "fs")
	t.Setenv("SELECTCORE_BLOB_FS_ROOT", t.TempDir())
	store, err = Open(ctx)
	if err != nil || store.Driver() != DriverFilesystem {
		t.Fatalf("store = %v (%v)", store, err)
	}

	t.Setenv("SELECTCORE_BLOB_DRIVER", "tape")
	if _, err := Open(ctx); err == nil {
		t.Fatalf("unknown driver must fail")
	}

	t.Setenv("SELECTCORE_BLOB_DRIVER", "s3")
	t.Setenv("SELECTCORE_BLOB_S3_BUCKET", "")
	if _, err := Open(ctx); err == nil {
		t.Fatalf("s3 driver without bucket must fail")
	}
}
