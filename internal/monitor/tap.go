package monitor

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/rohanbalixz/clad-pv/internal/model"
	"github.com/rohanbalixz/clad-pv/internal/telemetry"
)

// TapWriter appends one CSV row per reading, flushing after each row.
type TapWriter struct {
	mu     sync.Mutex
	w      *csv.Writer
	closer io.Closer
}

// NewTapWriter writes the header immediately.
func NewTapWriter(w io.Writer) (*TapWriter, error) {
	t := &TapWriter{w: csv.NewWriter(w)}
	if c, ok := w.(io.Closer); ok {
		t.closer = c
	}
	if err := t.w.Write(telemetry.Columns); err != nil {
		return nil, err
	}
	t.w.Flush()
	return t, t.w.Error()
}

// CreateTapFile truncates path and returns a writer over it.
func CreateTapFile(path string) (*TapWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	t, err := NewTapWriter(f)
	if err != nil {
		f.Close()
		return nil, err
	}
	return t, nil
}

func (t *TapWriter) Record(_ context.Context, r model.Reading) error {
	row := []string{
		fmtTime(r.At),
		fmtFloat(r.V1V),
		fmtFloat(r.V1PU),
		fmtFloat(r.FHz),
		fmtFloat(r.PPVkW),
		fmtFloat(r.QPVkVAR),
		fmtFloat(r.PSourcekW),
		fmtFloat(r.QSourcekVAR),
		fmtFloat(r.PFSource),
		fmtFloat(r.PFPV),
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := t.w.Write(row); err != nil {
		return err
	}
	t.w.Flush()
	return t.w.Error()
}

func (t *TapWriter) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.w.Flush()
	if t.closer != nil {
		return t.closer.Close()
	}
	return t.w.Error()
}

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339Nano)
}

func fmtFloat(x float64) string {
	return strconv.FormatFloat(x, 'f', -1, 64)
}
