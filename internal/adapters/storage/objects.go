// Package storage provides the backends dataset files are listed and
// downloaded from.
package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/jobrunner/geopreview/internal/ports/output"
)

// CompanionExtensions are the side files read together with a main file.
var CompanionExtensions = []string{".dbf", ".shx", ".prj", ".cpg"}

// partSuffix marks downloads in progress.
const partSuffix = ".part"

// Extensions selects the object keys a storage backend lists. The zero
// value selects every key except unfinished downloads.
type Extensions map[string]struct{}

// NewExtensions creates a selection of the given extensions. Case and a
// missing leading dot are ignored.
func NewExtensions(exts ...[]string) Extensions {
	set := make(Extensions)
	for _, list := range exts {
		for _, ext := range list {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			set[ext] = struct{}{}
		}
	}
	return set
}

// Match reports whether key has a selected extension.
func (e Extensions) Match(key string) bool {
	if len(e) == 0 {
		return !strings.HasSuffix(key, partSuffix)
	}
	_, ok := e[strings.ToLower(path.Ext(key))]
	return ok
}

// objectKey joins a backend prefix and a relative key.
func objectKey(prefix, key string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return key
	}
	return prefix + "/" + key
}

// listPrefix is the prefix used to list the objects below prefix. It ends
// in a slash so "data" does not select "database/...".
func listPrefix(prefix string) string {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return ""
	}
	return prefix + "/"
}

// relativeKey strips the backend prefix from an object key.
func relativeKey(prefix, key string) string {
	return strings.TrimPrefix(key, listPrefix(prefix))
}

// opener opens the content of a relative key.
type opener func(ctx context.Context, key string) (io.ReadCloser, error)

// download copies obj to dest unless dest is current.
func download(ctx context.Context, obj output.StorageObject, dest string, open opener) error {
	if current(dest, obj) {
		return nil
	}

	body, err := open(ctx, obj.Key)
	if err != nil {
		return err
	}
	defer func() { _ = body.Close() }()

	return writeFile(dest, body, obj.LastModified)
}

// current reports whether dest already holds obj. Objects without a
// modification time are never current.
func current(dest string, obj output.StorageObject) bool {
	if obj.LastModified == 0 {
		return false
	}
	info, err := os.Stat(dest)
	return err == nil && info.Mode().IsRegular() &&
		info.Size() == obj.Size && info.ModTime().Unix() == obj.LastModified
}

// writeFile writes r to a temporary file next to dest and renames it into
// place, so dest is either the old or the complete new content. A modified
// time > 0 is stamped on the file.
func writeFile(dest string, r io.Reader, modified int64) error {
	dir := filepath.Dir(dest)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(dest)+".*"+partSuffix)
	if err != nil {
		return err
	}
	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}

	if _, err := io.Copy(tmp, r); err != nil {
		return cleanup(fmt.Errorf("writing %s: %w", dest, err))
	}
	if err := tmp.Close(); err != nil {
		return cleanup(err)
	}
	if modified > 0 {
		t := time.Unix(modified, 0)
		if err := os.Chtimes(tmp.Name(), t, t); err != nil {
			return cleanup(err)
		}
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		return cleanup(err)
	}
	return nil
}
