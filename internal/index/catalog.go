package index

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cespare/xxhash/v2"

	"github.com/Aman-CERP/amangrep/internal/bloom"
	"github.com/Aman-CERP/amangrep/internal/order"
	"github.com/Aman-CERP/amangrep/internal/scanner"
	"github.com/Aman-CERP/amangrep/internal/store"
)

// catalogResult is the outcome of tokenizing one file, ready to persist.
type catalogResult struct {
	entry       *store.FileEntry
	sensitive   []byte
	insensitive []byte
}

// fingerprint derives the stable identity of a file from its metadata.
// Content drift that leaves size and mtime untouched is the watcher's
// problem, not the fingerprint's.
func fingerprint(size, mtimeNS int64) uint64 {
	var buf [16]byte
	for i := 0; i < 8; i++ {
		buf[i] = byte(size >> (8 * i))
		buf[8+i] = byte(mtimeNS >> (8 * i))
	}
	return xxhash.Sum64(buf[:])
}

// catalogFile stats, reads, and tokenizes one enumerated file into a
// persistable result. It never fails the build: unreadable, oversize,
// and binary files become catalog entries with the matching status and
// no filters, which keeps them searchable and never excludable.
func catalogFile(fi *scanner.FileInfo, params bloom.Params, maxFileSize int64, epoch uint64) *catalogResult {
	entry := &store.FileEntry{
		RelPath:        fi.RelPath,
		OrderKey:       order.Key(fi.RelPath),
		Size:           fi.Size,
		MtimeNS:        fi.ModTime.UnixNano(),
		Fingerprint:    fingerprint(fi.Size, fi.ModTime.UnixNano()),
		Status:         store.StatusPending,
		ConfirmedEpoch: epoch,
	}

	if fi.Unreadable {
		entry.Status = store.StatusUnreadable
		return &catalogResult{entry: entry}
	}
	if maxFileSize > 0 && fi.Size > maxFileSize {
		entry.Status = store.StatusOversize
		return &catalogResult{entry: entry}
	}

	content, err := os.ReadFile(fi.AbsPath)
	if err != nil {
		entry.Status = store.StatusUnreadable
		return &catalogResult{entry: entry}
	}

	tok := bloom.Tokenize(content, params.NgramSize)
	if tok.Binary {
		entry.Status = store.StatusBinary
		return &catalogResult{entry: entry}
	}

	sensitive := bloom.NewFilter(params)
	sensitive.AddAll(tok.Sensitive)
	insensitive := bloom.NewFilter(params)
	insensitive.AddAll(tok.Insensitive)

	sensBits, err := sensitive.MarshalBinary()
	if err != nil {
		entry.Status = store.StatusUnreadable
		return &catalogResult{entry: entry}
	}
	insensBits, err := insensitive.MarshalBinary()
	if err != nil {
		entry.Status = store.StatusUnreadable
		return &catalogResult{entry: entry}
	}

	entry.Status = store.StatusTokenized
	return &catalogResult{entry: entry, sensitive: sensBits, insensitive: insensBits}
}

// persistResults writes a batch of catalog results in one store pass.
// The file entry lands only after its filters, so a reader never sees a
// tokenized status without the bitsets backing it.
func persistResults(ctx context.Context, st store.Store, results []*catalogResult) (int64, error) {
	var bytes int64
	entries := make([]*store.FileEntry, 0, len(results))
	for _, r := range results {
		if r.sensitive != nil {
			if err := st.PutBloom(ctx, r.entry.RelPath, bloom.Sensitive, r.sensitive); err != nil {
				return bytes, fmt.Errorf("persisting filter for %s: %w", r.entry.RelPath, err)
			}
			bytes += int64(len(r.sensitive))
		}
		if r.insensitive != nil {
			if err := st.PutBloom(ctx, r.entry.RelPath, bloom.Insensitive, r.insensitive); err != nil {
				return bytes, fmt.Errorf("persisting filter for %s: %w", r.entry.RelPath, err)
			}
			bytes += int64(len(r.insensitive))
		}
		bytes += int64(len(r.entry.RelPath)) + int64(len(r.entry.OrderKey)) + 64
		entries = append(entries, r.entry)
	}
	if err := st.UpsertFiles(ctx, entries); err != nil {
		return bytes, fmt.Errorf("persisting catalog batch: %w", err)
	}
	return bytes, nil
}

// statFile re-stats one path under the root, returning nil when the
// file no longer exists or is not a regular file.
func statFile(root, relPath string) *scanner.FileInfo {
	abs := filepath.Join(root, filepath.FromSlash(relPath))
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return nil
	}
	return &scanner.FileInfo{
		RelPath: relPath,
		AbsPath: abs,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}
}
