package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/opef/betalist/internal/metrics"
	"github.com/opef/betalist/internal/model"
)

// FileOptions configures a File ledger.
type FileOptions struct {
	// Strict surfaces an unparsable file as ErrCorruptState instead of
	// treating the ledger as empty.
	Strict  bool
	Logger  *slog.Logger
	Metrics metrics.Recorder
}

// File is a durable Ledger backed by a single JSON array on disk.
//
// Every Append rewrites the whole file through a temp file and rename.
// Writers in one process are serialized by a mutex; two processes sharing
// the same path can still lose updates to each other.
type File struct {
	path    string
	strict  bool
	logger  *slog.Logger
	metrics metrics.Recorder
	now     func() time.Time

	mu sync.Mutex
}

// fileEntry is the on-disk shape of one record.
type fileEntry struct {
	Email     string `json:"email"`
	Timestamp string `json:"timestamp"`
}

// NewFile returns a File ledger at path, creating its directory if needed.
func NewFile(path string, opts FileOptions) (*File, error) {
	if path == "" {
		return nil, errors.New("file ledger: path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, Unavailable(BackendFile, "init", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := opts.Metrics
	if rec == nil {
		rec = metrics.NewNoop()
	}

	return &File{
		path:    path,
		strict:  opts.Strict,
		logger:  logger,
		metrics: rec,
		now:     model.Now,
	}, nil
}

// Path returns the backing file path.
func (f *File) Path() string {
	return f.path
}

// Exists implements Ledger.
func (f *File) Exists(ctx context.Context, email string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, _, err := f.load(OpExists)
	if err != nil {
		return false, err
	}
	for _, rec := range records {
		if rec.Email == email {
			return true, nil
		}
	}
	return false, nil
}

// Append implements Ledger.
func (f *File) Append(ctx context.Context, email string) (*model.SignupRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, corrupt, err := f.load(OpAppend)
	if err != nil {
		return nil, err
	}
	if corrupt {
		if err := f.quarantine(); err != nil {
			return nil, err
		}
	}

	var last time.Time
	for _, rec := range records {
		if rec.Email == email {
			return nil, ErrDuplicateKey
		}
		if rec.CreatedAt.After(last) {
			last = rec.CreatedAt
		}
	}

	rec := &model.SignupRecord{
		ID:        strconv.Itoa(len(records) + 1),
		Email:     email,
		CreatedAt: model.NextCreatedAt(f.now(), last),
	}
	records = append(records, rec)

	if err := f.write(records); err != nil {
		return nil, err
	}

	return copyRecord(rec), nil
}

// Count implements Ledger.
func (f *File) Count(ctx context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, _, err := f.load(OpCount)
	if err != nil {
		return 0, err
	}
	return len(records), nil
}

// List implements Ledger.
func (f *File) List(ctx context.Context) ([]*model.SignupRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, _, err := f.load(OpList)
	if err != nil {
		return nil, err
	}

	out := make([]*model.SignupRecord, 0, len(records))
	for i := len(records) - 1; i >= 0; i-- {
		out = append(out, records[i])
	}
	// The file may have been edited by hand; newest first regardless.
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// Ping checks that the ledger directory is reachable.
func (f *File) Ping(ctx context.Context) error {
	if _, err := os.Stat(filepath.Dir(f.path)); err != nil {
		return Unavailable(BackendFile, "ping", err)
	}
	return nil
}

// load reads every record from disk in file order.
// A missing file is an empty ledger. An unparsable file is reported and,
// unless strict, also treated as empty with corrupt set.
func (f *File) load(op string) (records []*model.SignupRecord, corrupt bool, err error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, Unavailable(BackendFile, op, err)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil, false, nil
	}

	records, parseErr := decodeEntries(data)
	if parseErr == nil {
		return records, false, nil
	}

	f.metrics.IncLedgerCorrupt()
	f.logger.Error("ledger_corrupt_state",
		slog.String("backend", BackendFile),
		slog.String("op", op),
		slog.String("path", f.path),
		slog.Bool("strict", f.strict),
		slog.String("error", parseErr.Error()),
	)

	if f.strict {
		return nil, true, fmt.Errorf("%w: %s: %v", ErrCorruptState, f.path, parseErr)
	}
	return nil, true, nil
}

// quarantine moves an unparsable file aside so the next write cannot destroy it.
func (f *File) quarantine() error {
	dest := fmt.Sprintf("%s.corrupt-%d", f.path, time.Now().Unix())
	if err := os.Rename(f.path, dest); err != nil {
		return Unavailable(BackendFile, OpAppend, err)
	}
	f.logger.Warn("ledger_corrupt_file_quarantined",
		slog.String("path", f.path),
		slog.String("moved_to", dest),
	)
	return nil
}

// write replaces the file atomically with records.
func (f *File) write(records []*model.SignupRecord) error {
	entries := make([]fileEntry, len(records))
	for i, rec := range records {
		entries[i] = fileEntry{Email: rec.Email, Timestamp: rec.Timestamp()}
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("encode ledger file: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".tmp-*")
	if err != nil {
		return Unavailable(BackendFile, OpAppend, err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return Unavailable(BackendFile, OpAppend, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Unavailable(BackendFile, OpAppend, err)
	}
	if err := tmp.Close(); err != nil {
		return Unavailable(BackendFile, OpAppend, err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		return Unavailable(BackendFile, OpAppend, err)
	}
	return nil
}

func decodeEntries(data []byte) ([]*model.SignupRecord, error) {
	var entries []fileEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, err
	}

	records := make([]*model.SignupRecord, 0, len(entries))
	for i, e := range entries {
		if e.Email == "" {
			return nil, fmt.Errorf("entry %d: missing email", i)
		}
		createdAt, err := model.ParseTimestamp(e.Timestamp)
		if err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
		records = append(records, &model.SignupRecord{
			ID:        strconv.Itoa(i + 1),
			Email:     e.Email,
			CreatedAt: createdAt,
		})
	}
	return records, nil
}
