package audit

import (
	"bytes"
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"sync"

	"github.com/rotisserie/eris"
)

// CSVLog is the single writer for the prediction audit file.
type CSVLog struct {
	path string

	mu   sync.Mutex
	file *os.File
}

// OpenCSV opens path for appending, creating it and writing the header row when the
// file is missing or empty. Reopening a non-empty file leaves its header untouched.
func OpenCSV(path string) (*CSVLog, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, eris.Wrapf(err, "audit: create dir %s", dir)
		}
	}
	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, eris.Wrapf(err, "audit: open %s", path)
	}

	l := &CSVLog{path: path, file: file}
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.write(nil); err != nil {
		file.Close()
		return nil, err
	}
	return l, nil
}

func (l *CSVLog) Path() string {
	return l.path
}

func (l *CSVLog) Record(ctx context.Context, row Row) error {
	if err := ctx.Err(); err != nil {
		return eris.Wrap(err, "audit: record")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return eris.New("audit: log is closed")
	}
	return l.write(row.Fields())
}

// write emits the header if the file is empty, then fields (if any), in a single
// write call followed by fsync. Caller holds mu.
func (l *CSVLog) write(fields []string) error {
	info, err := l.file.Stat()
	if err != nil {
		return eris.Wrapf(err, "audit: stat %s", l.path)
	}

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = true
	if info.Size() == 0 {
		if err := w.Write(Header); err != nil {
			return eris.Wrap(err, "audit: encode header")
		}
	}
	if fields != nil {
		if err := w.Write(fields); err != nil {
			return eris.Wrap(err, "audit: encode row")
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return eris.Wrap(err, "audit: encode")
	}
	if buf.Len() == 0 {
		return nil
	}

	if _, err := l.file.Write(buf.Bytes()); err != nil {
		return eris.Wrapf(err, "audit: append %s", l.path)
	}
	return eris.Wrapf(l.file.Sync(), "audit: sync %s", l.path)
}

func (l *CSVLog) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return eris.Wrapf(err, "audit: close %s", l.path)
}

// ReadAll returns the header and data rows of the audit file at path.
func ReadAll(path string) (header []string, rows [][]string, err error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "audit: open %s", path)
	}
	defer file.Close()

	r := csv.NewReader(file)
	r.FieldsPerRecord = len(Header)
	records, err := r.ReadAll()
	if err != nil {
		return nil, nil, eris.Wrapf(err, "audit: parse %s", path)
	}
	if len(records) == 0 {
		return nil, nil, nil
	}
	return records[0], records[1:], nil
}
