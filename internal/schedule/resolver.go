package schedule

import (
	"context"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	logx "audiocast/pkg/logx"
)

// Resolver turns a tabular schedule plus a target date into the ordered list
// of absolute source paths due for delivery. It holds no schedule state: the
// source is re-read on every call.
type Resolver struct {
	src     Source
	fs      afero.Fs
	baseDir string
	log     logx.Logger
}

func NewResolver(src Source, fs afero.Fs, baseDir string, log logx.Logger) *Resolver {
	return &Resolver{src: src, fs: fs, baseDir: baseDir, log: log}
}

// Resolve returns the absolute paths of all enabled rows matching date, in
// schedule order (first listed, first sent). Existence of the files is not
// checked here; the conversion step surfaces missing sources per item.
func (r *Resolver) Resolve(ctx context.Context, date time.Time, names []string) ([]string, []Warning, error) {
	rows, warns, err := r.src.Rows(ctx, names)
	if err != nil {
		return nil, warns, err
	}

	var paths []string
	for _, row := range rows {
		if !row.Enabled || !row.SameDate(date) {
			continue
		}
		paths = append(paths, filepath.Join(r.baseDir, row.Path, row.TrackName))
	}
	return paths, warns, nil
}

// VerifyFiles checks existence of every file referenced by the schedule,
// keyed by resolved absolute path. Used by diagnostics.
func (r *Resolver) VerifyFiles(ctx context.Context) (map[string]bool, error) {
	rows, _, err := r.src.Rows(ctx, nil)
	if err != nil {
		return nil, err
	}

	out := make(map[string]bool, len(rows))
	for _, row := range rows {
		p := filepath.Join(r.baseDir, row.Path, row.TrackName)
		ok, statErr := afero.Exists(r.fs, p)
		out[p] = statErr == nil && ok
	}
	return out, nil
}
