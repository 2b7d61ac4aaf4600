// Package inbox serves a directory tree over OBEX: Object Push into the
// current folder and Folder Browsing with SETPATH, GET listings and delete.
package inbox

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
)

// FolderBrowsingUUID is the Target of the OBEX Folder Browsing service.
var FolderBrowsingUUID = []byte{
	0xF9, 0xEC, 0x7B, 0xC4, 0x95, 0x3C, 0x11, 0xD2,
	0x98, 0x4E, 0x52, 0x54, 0x00, 0xDC, 0x9E, 0x09,
}

const ListingType = "x-obex/folder-listing"

var (
	ErrInvalidName  = errors.New("inbox: invalid object name")
	ErrEscapesRoot  = errors.New("inbox: path escapes root")
	ErrAtRoot       = errors.New("inbox: already at root")
	ErrTooLarge     = errors.New("inbox: object too large")
	ErrStoreMissing = errors.New("inbox: root missing")
)

type Options struct {
	Root           string
	ReadOnly       bool
	AllowCreate    bool
	MaxObjectBytes int64
}

// Store is a directory shared by every session; each session browses it
// through its own Handler.
type Store struct {
	root   string
	opts   Options
	nextID atomic.Uint32
}

// New opens root, creating it when missing.
func New(opts Options) (*Store, error) {
	resolved := strings.TrimSpace(opts.Root)
	if resolved == "" {
		resolved = filepath.Join("local", "inbox")
	}
	root, err := filepath.Abs(resolved)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreMissing, err)
	}
	return &Store{root: root, opts: opts}, nil
}

func (s *Store) Root() string { return s.root }

// Handler returns a fresh per-session handler positioned at the root.
func (s *Store) Handler() *Handler {
	return &Handler{store: s}
}

func (s *Store) connectionID() uint32 {
	return s.nextID.Add(1)
}

// checkName accepts one path element.
func checkName(name string) error {
	switch {
	case name == "", name == ".", name == "..":
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	case strings.ContainsAny(name, `/\`), strings.ContainsRune(name, 0):
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// resolve maps a folder (slash separated, relative to root) plus an optional
// child name onto an absolute path under root.
func (s *Store) resolve(folder, name string) (string, error) {
	rel := folder
	if name != "" {
		if err := checkName(name); err != nil {
			return "", err
		}
		rel = path.Join(folder, name)
	}
	p := filepath.Clean(filepath.Join(s.root, filepath.FromSlash(rel)))
	if !isWithin(p, s.root) {
		return "", ErrEscapesRoot
	}
	return p, nil
}

func isWithin(p string, root string) bool {
	p = filepath.Clean(p)
	r := filepath.Clean(root)
	if p == r {
		return true
	}
	return strings.HasPrefix(p, r+string(os.PathSeparator))
}

func isFolderBrowsing(target []byte) bool {
	return bytes.Equal(target, FolderBrowsingUUID)
}
