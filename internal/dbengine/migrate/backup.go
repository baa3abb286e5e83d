package migrate

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
)

// backup snapshots the database file set to <path>.backup.<epoch_ms>,
// copying the -wal and -shm siblings too when present. If WAL is enabled it
// checkpoints first so the copied set is self-consistent without needing
// post-restore recovery. A in-memory engine (no file path) has nothing to
// back up.
//
// The main file and its siblings are disjoint files, so they are copied
// concurrently via errgroup rather than one at a time. A failed copy does
// not stop the others; once every copy has finished, the first error is
// returned to the caller.
func (m *Manager) backup(ctx context.Context) ([]string, error) {
	path := m.handle.Path()
	if path == "" || path == ":memory:" {
		return nil, nil
	}

	if m.handle.WALEnabled() {
		if _, err := m.handle.DB().ExecContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
			log.Printf("migrate: checkpoint before backup failed: %v", err)
		}
	}

	suffix := fmt.Sprintf(".backup.%d", time.Now().UnixMilli())
	if _, err := os.Stat(path + suffix); err == nil {
		// Two migrate() calls landed in the same millisecond (common under
		// fast-running tests); disambiguate with a short random suffix
		// rather than silently overwriting the earlier backup.
		suffix += "." + uuid.NewString()[:8]
	}

	type pair struct{ src, dst string }
	var pairs []pair
	for _, ext := range []string{"", "-wal", "-shm"} {
		src := path + ext
		if _, err := os.Stat(src); err != nil {
			if ext == "" {
				return nil, fmt.Errorf("stat %s: %w", src, err)
			}
			continue
		}
		pairs = append(pairs, pair{src: src, dst: path + suffix + ext})
	}

	copied := make([]string, len(pairs))
	g, _ := errgroup.WithContext(ctx)
	for i, p := range pairs {
		i, p := i, p
		g.Go(func() error {
			if err := copyFile(p.src, p.dst); err != nil {
				return fmt.Errorf("copy %s: %w", p.src, err)
			}
			copied[i] = p.dst
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return copied, nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
