package ignore

import (
	"io/fs"
	"os"
	"path/filepath"
	"sort"

	"github.com/cespare/xxhash/v2"
)

// TreeDigest hashes every ignore file under root into one value. Two
// trees with identical ignore rules produce the same digest, so a
// changed digest means enumeration coverage may have shifted and a
// catalog built against the old rules can no longer prove exclusions.
//
// Files that vanish between discovery and read are skipped rather than
// failing the digest; the next reconcile pass settles the difference.
func TreeDigest(root string) (uint64, error) {
	var files []string

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if path == root {
				return err
			}
			return nil
		}
		if d.IsDir() {
			if d.Name() == ".git" && path != root {
				return filepath.SkipDir
			}
			return nil
		}
		if !IsIgnoreFile(d.Name()) {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return 0, err
	}

	// WalkDir visits lexically but sort anyway so the digest never
	// depends on traversal details.
	sort.Strings(files)

	h := xxhash.New()
	for _, rel := range files {
		data, readErr := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
		if readErr != nil {
			continue
		}
		_, _ = h.WriteString(rel)
		_, _ = h.Write([]byte{0})
		_, _ = h.Write(data)
		_, _ = h.Write([]byte{0})
	}
	return h.Sum64(), nil
}
