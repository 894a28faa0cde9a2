package anonymize

import (
	"context"
	"fmt"
	"io"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"google.golang.org/api/iterator"
)

const gsPrefix = "gs://"

// IsGoogleStoragePath reports whether path points into Google Storage.
func IsGoogleStoragePath(path string) bool {
	return strings.HasPrefix(path, gsPrefix)
}

// SplitGoogleStoragePath detects the bucket and the object prefix of a gs://
// path. The prefix is returned with a trailing slash, or empty when the path
// names the whole bucket.
func SplitGoogleStoragePath(path string) (bucket, prefix string, err error) {
	if !IsGoogleStoragePath(path) {
		return "", "", pfx.Err(fmt.Errorf("%q is not a google storage path", path))
	}

	pathParts := strings.SplitN(strings.TrimPrefix(path, gsPrefix), "/", 2)
	bucket = pathParts[0]
	if bucket == "" {
		return "", "", pfx.Err(fmt.Errorf("%q does not name a bucket", path))
	}

	if len(pathParts) == 2 {
		prefix = strings.Trim(pathParts[1], "/")
	}
	if prefix != "" {
		prefix += "/"
	}

	return bucket, prefix, nil
}

// GSSource lists and reads objects below a gs://bucket/prefix root. Object
// names are reported relative to the prefix.
type GSSource struct {
	client *storage.Client
	root   string
	bucket string
	prefix string
}

// NewGSSource does not contact Google Storage; errors surface from List and
// Open.
func NewGSSource(client *storage.Client, root string) (*GSSource, error) {
	bucket, prefix, err := SplitGoogleStoragePath(root)
	if err != nil {
		return nil, err
	}

	return &GSSource{
		client: client,
		root:   root,
		bucket: bucket,
		prefix: prefix,
	}, nil
}

func (s *GSSource) Root() string { return s.root }

func (s *GSSource) List(ctx context.Context) ([]string, error) {
	var out []string

	it := s.client.Bucket(s.bucket).Objects(ctx, &storage.Query{Prefix: s.prefix})
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, pfx.Err(fmt.Errorf("%s: %v", s.root, err))
		}

		// Zero-byte placeholders ending in "/" stand in for folders.
		if strings.HasSuffix(attrs.Name, "/") {
			continue
		}

		out = append(out, strings.TrimPrefix(attrs.Name, s.prefix))
	}

	sort.Strings(out)

	return out, nil
}

func (s *GSSource) Open(ctx context.Context, rel string) (io.ReadCloser, int64, error) {
	name := s.prefix + rel
	handle := s.client.Bucket(s.bucket).Object(name)

	// Make a hard call to get the filesize
	attrs, err := handle.Attrs(ctx)
	if err != nil {
		return nil, 0, pfx.Err(fmt.Errorf("%s%s/%s: %v", gsPrefix, s.bucket, name, err))
	}

	r, err := handle.NewReader(ctx)
	if err != nil {
		return nil, 0, pfx.Err(fmt.Errorf("%s%s/%s: %v", gsPrefix, s.bucket, name, err))
	}

	return r, attrs.Size, nil
}
