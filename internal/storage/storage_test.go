package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	logx "notisync/pkg/logx"
)

func exerciseStore(t *testing.T, st Store) {
	t.Helper()
	ctx := context.Background()

	if _, err := st.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(missing) err = %v, want ErrNotFound", err)
	}
	if err := st.Put(ctx, "a", []byte(`{"x":true}`)); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if err := st.Put(ctx, "a", []byte(`{"x":false}`)); err != nil {
		t.Fatalf("Put overwrite: %v", err)
	}
	v, err := st.Get(ctx, "a")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(v) != `{"x":false}` {
		t.Fatalf("Get = %q", v)
	}
	if err := st.Put(ctx, "b", []byte("1")); err != nil {
		t.Fatalf("Put b: %v", err)
	}
	if err := st.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := st.Get(ctx, "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("Get(deleted) err = %v", err)
	}
}

func TestMemoryStore(t *testing.T) {
	st, err := Open(Config{}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exerciseStore(t, st)
	_ = st.Close()
	if _, err := st.Get(context.Background(), "a"); !errors.Is(err, ErrClosed) {
		t.Fatalf("Get after close err = %v, want ErrClosed", err)
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "notisync")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exerciseStore(t, st)
	if err := st.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	v, err := st2.Get(context.Background(), "a")
	if err != nil || string(v) != `{"x":false}` {
		t.Fatalf("after reopen Get = %q, %v", v, err)
	}
	if _, err := st2.Get(context.Background(), "b"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted key resurrected: %v", err)
	}
}

func TestFileStoreCompaction(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv")
	st, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	ctx := context.Background()
	for i := 0; i < compactEvery+3; i++ {
		if err := st.Put(ctx, "k", []byte{byte('a' + i%26)}); err != nil {
			t.Fatalf("Put %d: %v", i, err)
		}
	}
	want, _ := st.Get(ctx, "k")
	_ = st.Close()

	st2, err := Open(Config{Driver: "file", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	got, err := st2.Get(ctx, "k")
	if err != nil || string(got) != string(want) {
		t.Fatalf("Get after compaction = %q,%v want %q", got, err, want)
	}
}

func TestFileStoreRequiresPath(t *testing.T) {
	if _, err := Open(Config{Driver: "file"}, logx.Nop()); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestSQLiteStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kv.db")
	st, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	exerciseStore(t, st)
	_ = st.Close()

	st2, err := Open(Config{Driver: "sqlite", Path: path}, logx.Nop())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer st2.Close()
	v, err := st2.Get(context.Background(), "a")
	if err != nil || string(v) != `{"x":false}` {
		t.Fatalf("after reopen Get = %q, %v", v, err)
	}
}

func TestOpenRejectsUnknownDriverAndRedisWithoutAddr(t *testing.T) {
	if _, err := Open(Config{Driver: "etcd"}, logx.Nop()); err == nil {
		t.Fatal("expected unknown driver error")
	}
	if _, err := Open(Config{Driver: "redis"}, logx.Nop()); err == nil {
		t.Fatal("expected missing addr error")
	}
}
