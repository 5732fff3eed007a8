// Package convert owns the conversion cache: the mapping from a source audio
// file's content identity to a wire-ready OGG/Opus artifact. Every artifact
// is computed at most once per content identity and reused until the source
// changes, at which point the new content hashes to a new key and the old
// artifact is left behind for Clear() to sweep.
package convert

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	logx "audiocast/pkg/logx"
)

const artifactExt = ".ogg"

// passthroughExts are containers Telegram accepts as voice without transcoding.
var passthroughExts = map[string]bool{".ogg": true, ".opus": true}

// sourceExts are the formats the engine accepts as conversion input.
var sourceExts = map[string]bool{".mp3": true, ".wav": true, ".m4a": true, ".ogg": true, ".opus": true}

type Cache struct {
	dir   string
	trans Transcoder
	log   logx.Logger

	mu       sync.Mutex
	inflight map[string]*call
}

// call tracks one in-progress computation so concurrent requests for the
// same key share a single transcode.
type call struct {
	done chan struct{}
	path string
	err  error
}

func NewCache(dir string, trans Transcoder, log logx.Logger) (*Cache, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("cache dir: %w", err)
	}
	return &Cache{
		dir:      dir,
		trans:    trans,
		log:      log,
		inflight: make(map[string]*call),
	}, nil
}

// Artifact returns the wire-ready artifact for sourcePath, transcoding on a
// cache miss. Safe for concurrent use; requests for the same source content
// serialize on one computation and share its outcome.
func (c *Cache) Artifact(ctx context.Context, sourcePath string) (string, error) {
	ext := strings.ToLower(filepath.Ext(sourcePath))
	if !sourceExts[ext] {
		return "", conversionErr(sourcePath, fmt.Errorf("unsupported audio format %q", ext))
	}
	if passthroughExts[ext] {
		if _, err := os.Stat(sourcePath); err != nil {
			return "", conversionErr(sourcePath, err)
		}
		return sourcePath, nil
	}

	key, err := contentKey(sourcePath)
	if err != nil {
		return "", conversionErr(sourcePath, err)
	}
	artifact := filepath.Join(c.dir, key+artifactExt)

	// Fast path: artifact already on disk for this content identity.
	if _, err := os.Stat(artifact); err == nil {
		return artifact, nil
	}

	c.mu.Lock()
	if cl, ok := c.inflight[key]; ok {
		c.mu.Unlock()
		select {
		case <-cl.done:
			return cl.path, cl.err
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	// Re-check under the lock: a concurrent computation may have finished
	// between the stat above and here. The rename into place happens before
	// the inflight entry is dropped, so a hit here is complete.
	if _, err := os.Stat(artifact); err == nil {
		c.mu.Unlock()
		return artifact, nil
	}
	cl := &call{done: make(chan struct{})}
	c.inflight[key] = cl
	c.mu.Unlock()

	cl.path, cl.err = c.compute(ctx, sourcePath, artifact)
	close(cl.done)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	return cl.path, cl.err
}

// compute transcodes into a temp file and renames it into place, so a
// partially-written artifact is never observable under the cache key.
func (c *Cache) compute(ctx context.Context, sourcePath, artifact string) (string, error) {
	tmp := artifact + ".tmp"

	const attempts = 2
	var err error
	for i := 1; i <= attempts; i++ {
		err = c.trans.Transcode(ctx, sourcePath, tmp)
		if err == nil {
			break
		}
		_ = os.Remove(tmp)
		if !isTransient(err) || i == attempts || ctx.Err() != nil {
			return "", conversionErr(sourcePath, err)
		}
		c.log.Warn("transcode attempt failed; retrying",
			logx.String("src", sourcePath), logx.Int("attempt", i), logx.Err(err))
	}

	if err := os.Rename(tmp, artifact); err != nil {
		_ = os.Remove(tmp)
		return "", conversionErr(sourcePath, err)
	}
	return artifact, nil
}

// Clear removes every cached artifact. In-flight computations finish and
// re-materialize their artifact afterwards.
func (c *Cache) Clear() error {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if err := os.Remove(filepath.Join(c.dir, e.Name())); err != nil {
			return err
		}
	}
	c.log.Info("conversion cache cleared", logx.String("dir", c.dir))
	return nil
}

// Stats reports cache occupancy for diagnostics. Disk usage is unbounded by
// design; periodic audits are the operator's concern.
type Stats struct {
	Entries    int   `json:"entries"`
	TotalBytes int64 `json:"total_bytes"`
}

func (c *Cache) Stats() (Stats, error) {
	entries, err := os.ReadDir(c.dir)
	if err != nil {
		return Stats{}, err
	}
	var st Stats
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		st.Entries++
		st.TotalBytes += info.Size()
	}
	return st, nil
}

// contentKey hashes the source file's content together with the target
// format. A changed source yields a new key, which is what invalidates
// stale cache entries.
func contentKey(sourcePath string) (string, error) {
	f, err := os.Open(sourcePath)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	h.Write([]byte("\x00opus"))
	return hex.EncodeToString(h.Sum(nil)), nil
}
