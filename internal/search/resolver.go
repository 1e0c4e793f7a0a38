package search

import (
	"context"
	"os"

	amerrors "github.com/Aman-CERP/amangrep/internal/errors"
	"github.com/Aman-CERP/amangrep/internal/order"
)

// PathResolver canonicalizes request paths. The default resolver does
// pure canonicalization; callers embedding this engine behind a
// sandbox supply their own resolver carrying the containment policy.
type PathResolver interface {
	Resolve(ctx context.Context, path string) (string, error)
}

// DefaultResolver canonicalizes via the ordering rules and verifies
// the path exists. It enforces no containment policy.
type DefaultResolver struct{}

func (DefaultResolver) Resolve(_ context.Context, path string) (string, error) {
	if path == "" {
		path = "."
	}
	canonical, err := order.Canonicalize(path)
	if err != nil {
		return "", amerrors.New(amerrors.ErrCodeInvalidPath, "cannot canonicalize search path", err)
	}
	if _, err := os.Stat(canonical); err != nil {
		return "", amerrors.New(amerrors.ErrCodeInvalidPath, "search path does not exist", err)
	}
	return canonical, nil
}
