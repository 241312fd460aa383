package httpclient

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// PartialSuffix is appended to the destination while a download is in flight.
const PartialSuffix = ".part"

// DownloadFile downloads url to dest. The body is written to dest+PartialSuffix
// and renamed onto dest only after check, if non-nil, accepts the byte count.
// On any failure the partial file and any existing dest are removed, so dest
// either holds a complete download or does not exist.
func (c *Client) DownloadFile(ctx context.Context, url, dest string, progress ProgressFunc, check func(written int64) error) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create directory for %s: %w", dest, err)
	}

	partial := dest + PartialSuffix
	f, err := os.OpenFile(partial, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, fmt.Errorf("create partial file: %w", err)
	}

	fail := func(n int64, cause error) (int64, error) {
		_ = f.Close()
		return n, errors.Join(cause, removeIfExists(partial), removeIfExists(dest))
	}

	n, err := c.Download(ctx, url, f, progress)
	if err != nil {
		return fail(n, err)
	}
	if err := f.Sync(); err != nil {
		return fail(n, fmt.Errorf("sync partial file: %w", err))
	}
	if check != nil {
		if err := check(n); err != nil {
			return fail(n, err)
		}
	}
	if err := f.Close(); err != nil {
		return n, errors.Join(fmt.Errorf("close partial file: %w", err), removeIfExists(partial), removeIfExists(dest))
	}
	if err := os.Rename(partial, dest); err != nil {
		return n, errors.Join(fmt.Errorf("move download into place: %w", err), removeIfExists(partial), removeIfExists(dest))
	}

	return n, nil
}

func removeIfExists(path string) error {
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove %s: %w", path, err)
	}
	return nil
}
