package schedule

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	logx "audiocast/pkg/logx"
)

// Source yields schedule rows for a set of schedule files.
//
// Implementations re-read the backing data on every call: schedule edits
// must take effect without a restart, so nothing is cached across calls.
type Source interface {
	// Rows returns rows from the named schedule files, preserving file order
	// and row order within each file. Empty names means every schedule file
	// the source knows about, in lexical filename order.
	Rows(ctx context.Context, names []string) ([]Row, []Warning, error)
}

// dateLayouts covers hand-written dates plus common spreadsheet exports.
var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02.01.2006",
}

// FileSource reads schedule*.csv files from a directory.
//
// The expected header is Date, Path, Track Name, Enabled (case-insensitive,
// any column order). The Enabled column is optional and defaults to true.
type FileSource struct {
	fs  afero.Fs
	dir string
	log logx.Logger
}

func NewFileSource(fs afero.Fs, dir string, log logx.Logger) *FileSource {
	return &FileSource{fs: fs, dir: dir, log: log}
}

// List returns the schedule file names present in the data dir, lexically sorted.
func (s *FileSource) List() ([]string, error) {
	matches, err := afero.Glob(s.fs, filepath.Join(s.dir, "schedule*.csv"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnreadable, err)
	}
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, filepath.Base(m))
	}
	sort.Strings(names)
	return names, nil
}

func (s *FileSource) Rows(ctx context.Context, names []string) ([]Row, []Warning, error) {
	if len(names) == 0 {
		var err error
		names, err = s.List()
		if err != nil {
			return nil, nil, err
		}
	}

	var (
		rows  []Row
		warns []Warning
	)
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			return nil, nil, err
		}
		fileRows, fileWarns, err := s.readFile(name)
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, fileRows...)
		warns = append(warns, fileWarns...)
	}

	for _, w := range warns {
		s.log.Warn("schedule row skipped",
			logx.String("file", w.File),
			logx.Int("line", w.Line),
			logx.String("reason", w.Reason))
	}
	return rows, warns, nil
}

func (s *FileSource) readFile(name string) ([]Row, []Warning, error) {
	path := filepath.Join(s.dir, filepath.Base(name))
	f, err := s.fs.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, name, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, name, err)
	}
	cols, err := mapColumns(header)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %v", ErrUnreadable, name, err)
	}

	var (
		rows  []Row
		warns []Warning
	)
	for line := 2; ; line++ {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			warns = append(warns, Warning{File: name, Line: line, Reason: err.Error()})
			continue
		}
		row, reason := parseRecord(rec, cols)
		if reason != "" {
			warns = append(warns, Warning{File: name, Line: line, Reason: reason})
			continue
		}
		rows = append(rows, row)
	}
	return rows, warns, nil
}

type columns struct {
	date    int
	path    int
	track   int
	enabled int // -1 if absent
}

func mapColumns(header []string) (columns, error) {
	c := columns{date: -1, path: -1, track: -1, enabled: -1}
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "date":
			c.date = i
		case "path":
			c.path = i
		case "track name", "track_name", "track":
			c.track = i
		case "enabled":
			c.enabled = i
		}
	}
	if c.date < 0 || c.path < 0 || c.track < 0 {
		return c, fmt.Errorf("missing required columns (need Date, Path, Track Name)")
	}
	return c, nil
}

func parseRecord(rec []string, c columns) (Row, string) {
	field := func(i int) string {
		if i < 0 || i >= len(rec) {
			return ""
		}
		return strings.TrimSpace(rec[i])
	}

	rawDate := field(c.date)
	path := field(c.path)
	track := field(c.track)
	if rawDate == "" || path == "" || track == "" {
		return Row{}, "empty required cell"
	}

	date, ok := parseDate(rawDate)
	if !ok {
		return Row{}, fmt.Sprintf("unparseable date %q", rawDate)
	}

	enabled := true
	if raw := field(c.enabled); c.enabled >= 0 && raw != "" {
		b, ok := parseBool(raw)
		if !ok {
			return Row{}, fmt.Sprintf("unparseable enabled flag %q", raw)
		}
		enabled = b
	}

	return Row{Date: date, Path: path, TrackName: track, Enabled: enabled}, ""
}

func parseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), true
		}
	}
	return time.Time{}, false
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(s) {
	case "yes", "y":
		return true, true
	case "no", "n":
		return false, true
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return false, false
	}
	return b, true
}
