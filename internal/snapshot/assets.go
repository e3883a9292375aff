package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// AssetCopier copies referenced photos into snapshot-scoped storage at
// freeze time and removes them again on snapshot deletion. A missing source
// is reported as ErrAssetMissing, not a failure: the freeze substitutes a
// marker and proceeds.
type AssetCopier interface {
	Copy(ctx context.Context, snapshotID uuid.UUID, itemID, sourcePath string) (string, error)
	RemoveAll(ctx context.Context, snapshotID uuid.UUID) error
}

// ErrAssetMissing marks a source photo that no longer exists.
var ErrAssetMissing = errors.New("source asset missing")

// FSAssetCopier stores copies under root/<snapshotID>/<itemID>-<unixnano>.
// The root must not live inside any store's data directory; snapshot assets
// get their own namespace like the snapshot rows do.
type FSAssetCopier struct {
	root  string
	clock func() time.Time
}

func NewFSAssetCopier(root string) *FSAssetCopier {
	return &FSAssetCopier{root: root, clock: time.Now}
}

func (c *FSAssetCopier) Copy(_ context.Context, snapshotID uuid.UUID, itemID, sourcePath string) (string, error) {
	src, err := os.Open(sourcePath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", ErrAssetMissing
		}
		return "", fmt.Errorf("open source asset: %w", err)
	}
	defer src.Close()

	dir := filepath.Join(c.root, snapshotID.String())
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create snapshot asset dir: %w", err)
	}

	name := itemID + "-" + strconv.FormatInt(c.clock().UnixNano(), 10) + filepath.Ext(sourcePath)
	dstPath := filepath.Join(dir, name)
	dst, err := os.Create(dstPath)
	if err != nil {
		return "", fmt.Errorf("create asset copy: %w", err)
	}
	defer dst.Close()

	if _, err := io.Copy(dst, src); err != nil {
		os.Remove(dstPath)
		return "", fmt.Errorf("copy asset: %w", err)
	}
	return dstPath, nil
}

func (c *FSAssetCopier) RemoveAll(_ context.Context, snapshotID uuid.UUID) error {
	return os.RemoveAll(filepath.Join(c.root, snapshotID.String()))
}
