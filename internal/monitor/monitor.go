// Package monitor tails a solver history file as it is written, emitting
// one record per completed iteration row. The live view uses it to show
// residuals from an in-flight solve.
package monitor

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Record is one parsed history row.
type Record struct {
	Iter   int
	Values map[string]float64
}

// Tailer follows one history file.
type Tailer struct {
	path   string
	log    *zap.Logger
	header []string
	offset int64
	line   int
}

func New(path string, log *zap.Logger) *Tailer {
	if log == nil {
		log = zap.NewNop()
	}
	return &Tailer{path: path, log: log}
}

// Tail watches the history file and streams new rows until the context is
// cancelled. The returned channel is closed on exit.
func (t *Tailer) Tail(ctx context.Context) (<-chan Record, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory: the solver may not have created the file yet.
	if err := w.Add(filepath.Dir(t.path)); err != nil {
		w.Close()
		return nil, err
	}

	out := make(chan Record, 64)
	go func() {
		defer close(out)
		defer w.Close()

		t.drain(ctx, out)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Name != t.path {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
					t.drain(ctx, out)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				t.log.Warn("history watch error", zap.Error(err))
			}
		}
	}()
	return out, nil
}

// drain reads any complete rows past the byte offset already consumed.
// An unterminated trailing line is left in the file; the solver is still
// writing it and the next event will pick it up whole.
func (t *Tailer) drain(ctx context.Context, out chan<- Record) {
	f, err := os.Open(t.path)
	if err != nil {
		return
	}
	defer f.Close()

	if _, err := f.Seek(t.offset, io.SeekStart); err != nil {
		return
	}
	r := bufio.NewReader(f)
	for {
		raw, err := r.ReadString('\n')
		if err != nil {
			return
		}
		t.offset += int64(len(raw))
		t.line++
		text := strings.TrimSpace(raw)
		if text == "" {
			continue
		}
		if t.header == nil {
			t.header = splitRow(text)
			continue
		}
		rec, err := t.parseRow(text)
		if err != nil {
			t.log.Debug("skipping history row", zap.Int("line", t.line), zap.Error(err))
			continue
		}
		select {
		case out <- rec:
		case <-ctx.Done():
			return
		}
	}
}

func (t *Tailer) parseRow(text string) (Record, error) {
	fields := splitRow(text)
	if len(fields) != len(t.header) {
		return Record{}, fmt.Errorf("row has %d fields, header has %d", len(fields), len(t.header))
	}
	rec := Record{Values: make(map[string]float64, len(fields))}
	for i, field := range fields {
		val, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return Record{}, fmt.Errorf("field %q: %w", field, err)
		}
		rec.Values[t.header[i]] = val
		if i == 0 {
			rec.Iter = int(val)
		}
	}
	return rec, nil
}

func splitRow(text string) []string {
	parts := strings.Split(text, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		out = append(out, strings.Trim(strings.TrimSpace(p), `"`))
	}
	return out
}
