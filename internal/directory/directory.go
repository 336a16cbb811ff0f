// Package directory walks the source directory once, building an ordered
// index of every regular file and tracking which manifest row (if any) has
// claimed each one, per spec §4.C.
package directory

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileInfo describes one on-disk file discovered under the source root.
type FileInfo struct {
	Name string // base filename, e.g. "report.pdf"
	Path string // directory component, relative to the source root
	Base string // filename without extension
	Ext  string // extension without leading dot
	Size int64  // bytes

	// Associated holds the manifest_id that claimed this file, or "" if
	// unassociated. At most one row may claim a file.
	Associated string
}

// Filepath returns the path relative to the source root, joining Path and
// Name (Path may be "." for files at the root).
func (f FileInfo) Filepath() string {
	if f.Path == "." || f.Path == "" {
		return f.Name
	}
	return filepath.ToSlash(filepath.Join(f.Path, f.Name))
}

// Flat returns the map view of a FileInfo used as the `file` key in a
// matcher's per-file template context.
func (f FileInfo) Flat() map[string]any {
	return map[string]any{
		"name": f.Name,
		"path": f.Path,
		"base": f.Base,
		"ext":  f.Ext,
		"size": f.Size,
	}
}

// Entry pairs a filepath with its FileInfo, preserving walk order.
type Entry struct {
	Path string
	Info *FileInfo
}

// Directory is an ordered filepath -> FileInfo index. A process owns at
// most one loaded Directory; a second Load call on the same instance fails.
type Directory struct {
	mu      sync.Mutex
	loaded  bool
	root    string
	entries []Entry
	byPath  map[string]*FileInfo
}

// New returns an unloaded Directory.
func New() *Directory {
	return &Directory{byPath: map[string]*FileInfo{}}
}

// Load verifies root is a readable directory, changes the process working
// directory to it (so relative paths in later output are relative to the
// source root), and walks it, recording every regular file. Load may only
// be called once per Directory; a second call returns an error.
func (d *Directory) Load(root string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.loaded {
		return fmt.Errorf("directory: already loaded; a process may only load one source directory")
	}

	fi, err := os.Stat(root)
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	if !fi.IsDir() {
		return fmt.Errorf("directory: %q is not a directory", root)
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	if err := os.Chdir(absRoot); err != nil {
		return fmt.Errorf("directory: chdir %q: %w", absRoot, err)
	}

	err = filepath.WalkDir(".", func(p string, de os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if de.IsDir() {
			return nil
		}
		info, err := de.Info()
		if err != nil {
			return err
		}

		rel := strings.TrimPrefix(p, "./")
		dir := filepath.Dir(rel)
		base := filepath.Base(rel)
		ext := strings.TrimPrefix(filepath.Ext(base), ".")
		nameNoExt := strings.TrimSuffix(base, filepath.Ext(base))

		fi := &FileInfo{
			Name: base,
			Path: dir,
			Base: nameNoExt,
			Ext:  ext,
			Size: info.Size(),
		}
		d.entries = append(d.entries, Entry{Path: rel, Info: fi})
		d.byPath[rel] = fi
		return nil
	})
	if err != nil {
		return fmt.Errorf("directory: walk %q: %w", absRoot, err)
	}

	d.root = absRoot
	d.loaded = true
	return nil
}

// Root returns the absolute source root path (after Load has changed into it).
func (d *Directory) Root() string { return d.root }

// All yields (filepath, *FileInfo) pairs in walk (insertion) order.
func (d *Directory) All() []Entry {
	out := make([]Entry, len(d.entries))
	copy(out, d.entries)
	return out
}

// Files yields only entries whose association state matches associated:
// Files(true) yields claimed files, Files(false) yields unclaimed files.
func (d *Directory) Files(associated bool) []Entry {
	var out []Entry
	for _, e := range d.entries {
		isAssoc := e.Info.Associated != ""
		if isAssoc == associated {
			out = append(out, e)
		}
	}
	return out
}

// Lookup returns the FileInfo for a given relative filepath, if present.
func (d *Directory) Lookup(path string) (*FileInfo, bool) {
	fi, ok := d.byPath[path]
	return fi, ok
}

// Associate claims path for manifestID. It fails if path is already
// associated with any manifest_id, the same one included (spec §3 FileInfo
// invariant).
func (d *Directory) Associate(path, manifestID string) error {
	fi, ok := d.byPath[path]
	if !ok {
		return fmt.Errorf("directory: no such file %q", path)
	}
	if fi.Associated != "" {
		return fmt.Errorf("file %q already associated with %q", path, fi.Associated)
	}
	fi.Associated = manifestID
	return nil
}
