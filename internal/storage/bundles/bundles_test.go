package bundles

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
)

func TestCleanKey(t *testing.T) {
	cases := []struct {
		key   string
		want  string
		valid bool
	}{
		{"example/gmt/k/h/output.json", "example/gmt/k/h/output.json", true},
		{"a//b/./c", "a/b/c", true},
		{"", "", false},
		{"/abs", "", false},
		{"a/../../etc", "", false},
		{"a/..", "", false},
	}
	for _, tc := range cases {
		got, err := CleanKey(tc.key)
		if tc.valid && (err != nil || got != tc.want) {
			t.Fatalf("CleanKey(%q)=(%q,%v), want %q", tc.key, got, err, tc.want)
		}
		if !tc.valid && err == nil {
			t.Fatalf("CleanKey(%q) err=nil, want error", tc.key)
		}
	}
}

func TestFilesystem_PutGetOverwrite(t *testing.T) {
	root := t.TempDir()
	s, err := NewFilesystem(root)
	if err != nil {
		t.Fatalf("NewFilesystem() err=%v", err)
	}
	ctx := context.Background()

	info, err := s.Put(ctx, "example/gmt/k/h/output.json", []byte(`{"v":1}`), "application/json")
	if err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	if want := filepath.Join(root, "example", "gmt", "k", "h", "output.json"); info.Location != want {
		t.Fatalf("location=%q, want %q", info.Location, want)
	}
	if _, err := s.Put(ctx, "example/gmt/k/h/output.json", []byte(`{"v":2}`), "application/json"); err != nil {
		t.Fatalf("overwrite err=%v", err)
	}
	got, err := s.Get(ctx, "example/gmt/k/h/output.json")
	if err != nil || string(got) != `{"v":2}` {
		t.Fatalf("Get()=%q,%v", got, err)
	}
	if _, err := s.Get(ctx, "missing.json"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err=%v, want ErrNotFound", err)
	}
	if _, err := s.Put(ctx, "../escape", nil, ""); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
	if err := s.Ping(ctx); err != nil {
		t.Fatalf("Ping() err=%v", err)
	}
}

func TestMemory_CopiesData(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	data := []byte("abc")
	if _, err := m.Put(ctx, "k", data, ""); err != nil {
		t.Fatalf("Put() err=%v", err)
	}
	data[0] = 'z'
	got, err := m.Get(ctx, "k")
	if err != nil || string(got) != "abc" {
		t.Fatalf("Get()=%q,%v, want abc", got, err)
	}
	if _, err := m.Get(ctx, "other"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing err=%v", err)
	}
}

func TestOpen_SelectsDriver(t *testing.T) {
	ctx := context.Background()

	t.Setenv("SOLVER_BUNDLE_DRIVER", "memory")
	s, err := Open(ctx)
	if err != nil || s.Driver() != DriverMemory {
		t.Fatalf("memory driver=(%v,%v)", s, err)
	}

	t.Setenv("SOLVER_BUNDLE_DRIVER", "fs")
	t.Setenv("SOLVER_BUNDLE_FS_ROOT", t.TempDir())
	s, err = Open(ctx)
	if err != nil || s.Driver() != DriverFilesystem {
		t.Fatalf("fs driver=(%v,%v)", s, err)
	}

	t.Setenv("SOLVER_BUNDLE_DRIVER", "s3")
	t.Setenv("SOLVER_S3_BUCKET", "")
	if _, err := Open(ctx); err == nil {
		t.Fatalf("expected s3 driver to require a bucket")
	}

	t.Setenv("SOLVER_BUNDLE_DRIVER", "ftp")
	if _, err := Open(ctx); err == nil {
		t.Fatalf("expected unknown driver error")
	}
}

func TestS3Config_Validate(t *testing.T) {
	if err := (S3Config{Bucket: "b", AccessKeyID: "id"}).Validate(); err == nil {
		t.Fatalf("expected error for key id without secret")
	}
	if err := (S3Config{Bucket: "b"}).Validate(); err != nil {
		t.Fatalf("default credential chain config err=%v", err)
	}
}
