package repos

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing/transport"
)

// ErrCloneFailed / ErrCloneTimeout map to spec.md §7's clone error kinds.
var (
	ErrCloneFailed  = errors.New("repos: clone failed")
	ErrCloneTimeout = errors.New("repos: clone timed out")
)

// Clone downloads cloneURL into a fresh temporary directory under
// tempRoot, shallow (depth 1) unless full is true (spec.md §4.7 step 3,
// §9's used "download to a fresh temp dir" path). Callers are
// responsible for removing the returned directory.
func Clone(ctx context.Context, tempRoot, cloneURL string, full bool, auth transport.AuthMethod) (string, error) {
	dir, err := os.MkdirTemp(tempRoot, "gsast-clone-")
	if err != nil {
		return "", fmt.Errorf("repos: mktemp: %w", err)
	}

	opts := &git.CloneOptions{
		URL:  cloneURL,
		Auth: auth,
	}
	if !full {
		opts.Depth = 1
	}

	_, err = git.PlainCloneContext(ctx, dir, false, opts)
	if err != nil {
		os.RemoveAll(dir)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("%w: %s: %v", ErrCloneTimeout, cloneURL, err)
		}
		return "", fmt.Errorf("%w: %s: %v", ErrCloneFailed, cloneURL, err)
	}
	return dir, nil
}
