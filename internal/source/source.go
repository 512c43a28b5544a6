// Package source loads campaign target lists from CSV exports.
package source

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"

	"outreach/internal/config"
	"outreach/internal/domain"
)

// ReadError reports a list file that could not be read or parsed.
type ReadError struct {
	Path string
	Err  error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("read targets %s: %v", e.Path, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }

var ErrNoHandleColumn = errors.New("no username column in header")

type Options struct {
	// Type is config.CSVTypeList or config.CSVTypeFollowers.
	Type string
	// Keywords is a comma-separated list matched against display names when
	// Type is followers.
	Keywords string
	Logger   *zap.Logger
}

// Load reads path and returns the targets in file order.
func Load(path string, opts Options) ([]domain.TargetRecord, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	defer f.Close()
	targets, err := Read(f, opts)
	if err != nil {
		return nil, &ReadError{Path: path, Err: err}
	}
	return targets, nil
}

// Read parses CSV from r. Rows with an empty handle are dropped.
func Read(r io.Reader, opts Options) ([]domain.TargetRecord, error) {
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	cols := make([]string, len(header))
	for i, h := range header {
		cols[i] = normalizeHeader(h)
	}
	handleCol := indexOf(cols, "username")
	if handleCol < 0 {
		handleCol = indexOf(cols, "user")
	}
	if handleCol < 0 {
		handleCol = indexOf(cols, "usuario")
	}
	if handleCol < 0 {
		return nil, ErrNoHandleColumn
	}
	nameCol := indexOf(cols, "fullname")
	log.Debug("csv header", zap.Strings("columns", cols))

	var out []domain.TargetRecord
	rows, dropped := 0, 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		rows++
		t := domain.TargetRecord{Handle: field(rec, handleCol)}
		if nameCol >= 0 {
			t.DisplayName = strings.TrimSpace(field(rec, nameCol))
		}
		for i, col := range cols {
			if i == handleCol || i == nameCol || col == "" {
				continue
			}
			if v := field(rec, i); v != "" {
				if t.Extra == nil {
					t.Extra = map[string]string{}
				}
				t.Extra[col] = v
			}
		}
		if t.NormalizedHandle() == "" {
			dropped++
			continue
		}
		out = append(out, t)
	}
	log.Info("targets read", zap.Int("rows", rows), zap.Int("dropped_empty", dropped))

	if opts.Type == config.CSVTypeFollowers {
		out = FilterByName(out, opts.Keywords, log)
	}
	return out, nil
}

// FilterByName keeps targets whose display name contains any of the
// comma-separated keywords, case-insensitively. Targets without a display name
// never match. An empty keyword list keeps everything.
func FilterByName(targets []domain.TargetRecord, keywords string, log *zap.Logger) []domain.TargetRecord {
	if log == nil {
		log = zap.NewNop()
	}
	kws := SplitKeywords(keywords)
	if len(kws) == 0 {
		log.Info("no name filter keywords; keeping all targets")
		return targets
	}
	var out []domain.TargetRecord
	for _, t := range targets {
		name := strings.ToLower(t.DisplayName)
		if name == "" {
			continue
		}
		for _, kw := range kws {
			if strings.Contains(name, kw) {
				out = append(out, t)
				break
			}
		}
	}
	log.Info("filtered targets by name", zap.Strings("keywords", kws),
		zap.Int("before", len(targets)), zap.Int("after", len(out)))
	return out
}

func SplitKeywords(s string) []string {
	var out []string
	for _, kw := range strings.Split(strings.ToLower(s), ",") {
		if kw = strings.TrimSpace(kw); kw != "" {
			out = append(out, kw)
		}
	}
	return out
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	return strings.Join(strings.Fields(strings.ToLower(h)), "")
}

func indexOf(cols []string, name string) int {
	for i, c := range cols {
		if c == name {
			return i
		}
	}
	return -1
}

func field(rec []string, i int) string {
	if i < 0 || i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}
