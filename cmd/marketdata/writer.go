package main

import (
	"os"
	"path/filepath"
)

// dateWriter appends lines to <root>/<date>.jsonl, keeping one file open at a
// time. Each date file is truncated when first opened in a run.
type dateWriter struct {
	root        string
	currentDate string
	currentFile *os.File
	opened      map[string]bool
}

func newDateWriter(root string) (*dateWriter, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &dateWriter{root: root, opened: make(map[string]bool)}, nil
}

func (w *dateWriter) write(date string, line []byte) error {
	if err := w.rotate(date); err != nil {
		return err
	}
	_, err := w.currentFile.Write(append(line, '\n'))
	return err
}

func (w *dateWriter) rotate(date string) error {
	if date == w.currentDate && w.currentFile != nil {
		return nil
	}
	if err := w.close(); err != nil {
		return err
	}
	flags := os.O_CREATE | os.O_WRONLY | os.O_APPEND
	if !w.opened[date] {
		flags |= os.O_TRUNC
	}
	f, err := os.OpenFile(filepath.Join(w.root, date+".jsonl"), flags, 0o644)
	if err != nil {
		return err
	}
	w.opened[date] = true
	w.currentFile = f
	w.currentDate = date
	return nil
}

func (w *dateWriter) close() error {
	if w == nil || w.currentFile == nil {
		return nil
	}
	if err := w.currentFile.Sync(); err != nil {
		_ = w.currentFile.Close()
		w.currentFile = nil
		return err
	}
	err := w.currentFile.Close()
	w.currentFile = nil
	return err
}
