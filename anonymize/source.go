package anonymize

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
)

// Source is the input side of a run: something that can list the files below
// a root and open them by their slash separated relative path.
type Source interface {
	Root() string
	List(ctx context.Context) ([]string, error)
	Open(ctx context.Context, rel string) (io.ReadCloser, int64, error)
}

// OpenSource picks a zip source for roots ending in .zip, a Google Storage
// source for other gs:// roots and a local filesystem source for everything
// else. The storage client is only created when it is needed. Callers should
// close the returned source when it implements io.Closer.
func OpenSource(ctx context.Context, root string) (Source, error) {
	var client *storage.Client
	if IsGoogleStoragePath(root) {
		var err error
		client, err = storage.NewClient(ctx)
		if err != nil {
			return nil, pfx.Err(err)
		}
	}

	switch {
	case IsZipPath(root):
		src, err := OpenZipSource(ctx, root, client)
		if err != nil {
			return nil, err
		}
		return src, nil
	case client != nil:
		src, err := NewGSSource(client, root)
		if err != nil {
			return nil, err
		}
		return src, nil
	}

	info, err := os.Stat(root)
	if err != nil {
		return nil, pfx.Err(err)
	}
	if !info.IsDir() {
		return nil, pfx.Err(&os.PathError{Op: "open", Path: root, Err: os.ErrInvalid})
	}

	return NewFSSource(osfs.New(root), root), nil
}

// FSSource lists and reads files from a billy filesystem rooted at the input
// directory.
type FSSource struct {
	fs   billy.Filesystem
	root string
}

// NewFSSource wraps fs. name is only used for display.
func NewFSSource(fs billy.Filesystem, name string) *FSSource {
	return &FSSource{fs: fs, root: name}
}

func (s *FSSource) Root() string { return s.root }

// List walks the whole tree and returns every regular file in lexical order.
func (s *FSSource) List(ctx context.Context) ([]string, error) {
	var out []string

	err := util.Walk(s.fs, "", func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		out = append(out, strings.TrimPrefix(filepath.ToSlash(path), "/"))
		return nil
	})
	if err != nil {
		return nil, pfx.Err(err)
	}

	sort.Strings(out)

	return out, nil
}

func (s *FSSource) Open(ctx context.Context, rel string) (io.ReadCloser, int64, error) {
	f, err := s.fs.Open(filepath.FromSlash(rel))
	if err != nil {
		return nil, 0, pfx.Err(err)
	}

	info, err := s.fs.Stat(filepath.FromSlash(rel))
	if err != nil {
		f.Close()
		return nil, 0, pfx.Err(err)
	}

	return f, info.Size(), nil
}
