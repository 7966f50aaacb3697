package store

import (
	"path/filepath"
	"testing"
	"time"
)

// BenchmarkMemoryStorage_OnWrite benchmarks the OnWrite hook for MemoryStorage.
func BenchmarkMemoryStorage_OnWrite(b *testing.B) {
	ms := NewMemoryStorage()
	// No setup needed, OnWrite is no-op.
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ms.OnWrite(10)
	}
}

func BenchmarkFileStorage_OnWrite(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_file.bin")
	fs := NewFileStorage(path)
	tbl, err := fs.Load()
	if err != nil {
		b.Fatalf("Failed to load file storage: %v", err)
	}
	defer fs.Close()

	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tbl.Set(10, Entry{Time: now, Value: int32(i)})
		fs.OnWrite(10)
	}
}

// BenchmarkMmapStorage_OnWrite benchmarks the OnWrite hook for MmapStorage (msync).
func BenchmarkMmapStorage_OnWrite(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_mmap.bin")
	ms := NewMmapStorage(path)
	tbl, err := ms.Load()
	if err != nil {
		b.Fatalf("Failed to load mmap storage: %v", err)
	}
	defer ms.Close()

	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		// Dirty the page again, as a sampling cycle would.
		_ = tbl.Set(10, Entry{Time: now, Value: int32(i)})
		ms.OnWrite(10)
	}
}

// BenchmarkMmapStorage_Load benchmarks the Load operation for MmapStorage.
// Note: This involves file open, fstat, and mmap system calls.
func BenchmarkMmapStorage_Load(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_mmap_load.bin")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ms := NewMmapStorage(path)
		if _, err := ms.Load(); err != nil {
			b.Fatalf("Load failed: %v", err)
		}
		ms.Close() // Cleanup to allow next Load
	}
}

// BenchmarkTable_Set benchmarks the in-memory encode (baseline).
func BenchmarkTable_Set(b *testing.B) {
	tbl := NewTable()
	now := time.Now()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = tbl.Set(10, Entry{Time: now, Value: int32(i)})
	}
}
