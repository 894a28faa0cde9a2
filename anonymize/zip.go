package anonymize

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
)

// IsZipPath reports whether root names a zip archive rather than a directory.
func IsZipPath(root string) bool {
	return strings.EqualFold(path.Ext(root), ".zip")
}

// ReaderAtCloser is what zip.NewReader needs, plus a way to release it.
type ReaderAtCloser interface {
	io.ReaderAt
	io.Closer
}

// gsReaderAt decorates a Google Storage object handle with ReadAt. Every call
// is its own range request.
type gsReaderAt struct {
	ctx    context.Context
	handle *storage.ObjectHandle
}

func (o gsReaderAt) ReadAt(p []byte, offset int64) (int, error) {
	rdr, err := o.handle.NewRangeReader(o.ctx, offset, int64(len(p)))
	if err != nil {
		return 0, err
	}
	defer rdr.Close()

	n, err := io.ReadFull(rdr, p)
	if err == io.ErrUnexpectedEOF {
		err = io.EOF
	}

	return n, err
}

func (o gsReaderAt) Close() error { return nil }

// openReaderAt opens a local file, or a gs:// object when client is set, for
// random access and reports its size.
func openReaderAt(ctx context.Context, root string, client *storage.Client) (ReaderAtCloser, int64, error) {
	if IsGoogleStoragePath(root) {
		if client == nil {
			return nil, 0, pfx.Err(fmt.Errorf("%s: no storage client", root))
		}

		bucket, name, err := SplitGoogleStoragePath(root)
		if err != nil {
			return nil, 0, err
		}
		name = strings.TrimSuffix(name, "/")

		handle := client.Bucket(bucket).Object(name)

		// Make a hard call to get the filesize
		attrs, err := handle.Attrs(ctx)
		if err != nil {
			return nil, 0, pfx.Err(fmt.Errorf("%s: %v", root, err))
		}

		return gsReaderAt{ctx: ctx, handle: handle}, attrs.Size, nil
	}

	f, err := os.Open(root)
	if err != nil {
		return nil, 0, pfx.Err(err)
	}

	fstat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, pfx.Err(err)
	}

	return f, fstat.Size(), nil
}

// ZipSource lists and reads the entries of a zip archive, the way bulk
// imaging exports are often delivered. Entry names are the relative paths.
type ZipSource struct {
	root   string
	closer io.Closer
	files  map[string]*zip.File
}

// NewZipSource reads the central directory of the archive in r.
func NewZipSource(r io.ReaderAt, size int64, root string) (*ZipSource, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, pfx.Err(fmt.Errorf("%s: %v", root, err))
	}

	s := &ZipSource{
		root:  root,
		files: make(map[string]*zip.File, len(zr.File)),
	}
	for _, v := range zr.File {
		if v.FileInfo().IsDir() {
			continue
		}
		name := path.Clean(strings.TrimPrefix(v.Name, "/"))
		if name == ".." || strings.HasPrefix(name, "../") {
			// Entries may not escape the output root.
			continue
		}
		s.files[name] = v
	}

	return s, nil
}

// OpenZipSource opens a local or gs:// zip archive. client may be nil for
// local archives.
func OpenZipSource(ctx context.Context, root string, client *storage.Client) (*ZipSource, error) {
	r, size, err := openReaderAt(ctx, root, client)
	if err != nil {
		return nil, err
	}

	s, err := NewZipSource(r, size, root)
	if err != nil {
		r.Close()
		return nil, err
	}
	s.closer = r

	return s, nil
}

func (s *ZipSource) Root() string { return s.root }

func (s *ZipSource) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, pfx.Err(err)
	}

	out := make([]string, 0, len(s.files))
	for name := range s.files {
		out = append(out, name)
	}
	sort.Strings(out)

	return out, nil
}

func (s *ZipSource) Open(ctx context.Context, rel string) (io.ReadCloser, int64, error) {
	v, ok := s.files[rel]
	if !ok {
		return nil, 0, pfx.Err(fmt.Errorf("%s: no entry %q", s.root, rel))
	}

	rc, err := v.Open()
	if err != nil {
		return nil, 0, pfx.Err(fmt.Errorf("%s/%s: %v", s.root, rel, err))
	}

	return rc, int64(v.UncompressedSize64), nil
}

// Close releases the underlying archive.
func (s *ZipSource) Close() error {
	if s.closer == nil {
		return nil
	}

	return pfx.Err(s.closer.Close())
}
