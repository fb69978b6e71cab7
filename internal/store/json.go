package store

import (
	"encoding/json"
	"log"
	"os"
	"path/filepath"
)

// WriteJSON writes v as indented JSON to path through a temp file and a
// rename, so readers never see a partial document.
func WriteJSON(path string, v any) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	fail := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fail(err)
	}
	if err := tmp.Sync(); err != nil {
		return fail(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	syncDir(dir, path)
	return nil
}

func syncDir(dir, path string) {
	d, err := os.Open(dir)
	if err != nil {
		log.Printf("level=WARN event=store_dir_fsync_skipped reason=%q dir=%q target=%q", err.Error(), dir, path)
		return
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		log.Printf("level=WARN event=store_dir_fsync_failed reason=%q dir=%q target=%q", err.Error(), dir, path)
	}
}
