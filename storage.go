package segupload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/pfx"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

const gsPrefix = "gs://"

// IsGoogleStoragePath reports whether path names a gs:// object or prefix.
func IsGoogleStoragePath(path string) bool {
	return strings.HasPrefix(path, gsPrefix)
}

// NewStorageClient creates a Google Storage client. If credentialsFile is
// empty, application default credentials are used.
func NewStorageClient(ctx context.Context, credentialsFile string) (*storage.Client, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}

	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, pfx.Err(err)
	}

	return client, nil
}

func splitGoogleStoragePath(path string) (bucket, object string, err error) {
	pathParts := strings.SplitN(strings.TrimPrefix(path, gsPrefix), "/", 2)
	if len(pathParts) != 2 {
		return "", "", fmt.Errorf("Tried to split your google storage path into 2 parts, but got %d: %v", len(pathParts), pathParts)
	}

	return pathParts[0], pathParts[1], nil
}

// MaybeOpenFromGoogleStorage opens path from Google Storage if it has a gs://
// prefix and a client is available, and from the local filesystem otherwise.
// It also returns the size of the object in bytes. A local file that does not
// exist yields a *MissingFileError.
func MaybeOpenFromGoogleStorage(path string, client *storage.Client) (io.ReadCloser, int64, error) {
	if client != nil && IsGoogleStoragePath(path) {
		bucketName, pathName, err := splitGoogleStoragePath(path)
		if err != nil {
			return nil, 0, err
		}

		ctx := context.Background()
		handle := client.Bucket(bucketName).Object(pathName)

		attrs, err := handle.Attrs(ctx)
		if errors.Is(err, storage.ErrObjectNotExist) {
			return nil, 0, &MissingFileError{Path: path}
		} else if err != nil {
			return nil, 0, pfx.Err(fmt.Errorf("%s: %s", path, err))
		}

		rdr, err := handle.NewReader(ctx)
		if err != nil {
			return nil, 0, pfx.Err(fmt.Errorf("%s: %s", path, err))
		}

		return rdr, attrs.Size, nil
	}

	f, err := os.Open(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, 0, &MissingFileError{Path: path}
	} else if err != nil {
		return nil, 0, err
	}
	fstat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}

	return f, fstat.Size(), nil
}

// ReadAllFromLocalOrGoogleStorage reads the whole file at path into memory.
func ReadAllFromLocalOrGoogleStorage(path string, client *storage.Client) ([]byte, error) {
	f, _, err := MaybeOpenFromGoogleStorage(path, client)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}

// ListFromGoogleStorage lists the full gs:// paths of every object directly
// under the gs:// prefix, sorted by name.
func ListFromGoogleStorage(path string, client *storage.Client) ([]string, error) {
	if client == nil {
		return nil, fmt.Errorf("a storage client is required to list %s", path)
	}

	bucketName, prefix, err := splitGoogleStoragePath(path)
	if err != nil {
		return nil, err
	}
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}

	it := client.Bucket(bucketName).Objects(context.Background(), &storage.Query{
		Prefix:    prefix,
		Delimiter: "/",
	})

	var out []string
	for {
		attrs, err := it.Next()
		if err == iterator.Done {
			break
		} else if err != nil {
			return nil, pfx.Err(err)
		}

		// Sub-prefixes show up with an empty Name
		if attrs.Name == "" {
			continue
		}

		out = append(out, gsPrefix+bucketName+"/"+attrs.Name)
	}

	sort.Strings(out)

	return out, nil
}

// DownloadToTemp copies a gs:// object into a local temporary file that keeps
// the object's suffix, for readers that only accept filenames. The caller
// removes the file.
func DownloadToTemp(path string, client *storage.Client) (string, error) {
	src, _, err := MaybeOpenFromGoogleStorage(path, client)
	if err != nil {
		return "", err
	}
	defer src.Close()

	suffix := path[strings.LastIndex(path, "/")+1:]
	if idx := strings.Index(suffix, "."); idx >= 0 {
		suffix = suffix[idx:]
	} else {
		suffix = ""
	}

	dst, err := os.CreateTemp("", "segupload-*"+suffix)
	if err != nil {
		return "", pfx.Err(err)
	}

	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return "", pfx.Err(err)
	}

	if err := dst.Close(); err != nil {
		os.Remove(dst.Name())
		return "", pfx.Err(err)
	}

	return dst.Name(), nil
}
