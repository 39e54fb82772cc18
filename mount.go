package kiss

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
)

// nestedSeparator splits an archive path from the path of an archive inside
// it, as in modules.zip!/plugin.jar.
const nestedSeparator = "!/"

// canonicalPath makes path absolute and resolves symbolic links of its
// outer file when it exists.
func canonicalPath(path string) (string, error) {
	outer, inner, nested := strings.Cut(path, nestedSeparator)
	abs, err := filepath.Abs(outer)
	if err != nil {
		return "", fmt.Errorf("%w: %s: %w", ErrModuleMount, path, err)
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		abs = resolved
	}
	if nested {
		return abs + nestedSeparator + strings.TrimPrefix(filepath.ToSlash(inner), "/"), nil
	}
	return abs, nil
}

// mount opens the module at a canonical path as a file system. A path that
// does not exist yields a nil file system and no error.
func mount(path string) (fs.FS, io.Closer, error) {
	outer, inner, nested := strings.Cut(path, nestedSeparator)
	info, err := os.Stat(outer)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrModuleMount, path, err)
	}
	if info.IsDir() {
		if nested {
			return nil, nil, fmt.Errorf("%w: %s: %s is a directory", ErrModuleMount, path, outer)
		}
		return os.DirFS(outer), nil, nil
	}
	rc, err := zip.OpenReader(outer)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrModuleMount, path, err)
	}
	if !nested {
		return rc, rc, nil
	}
	defer rc.Close()
	data, err := fs.ReadFile(rc, inner)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrModuleMount, path, err)
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %s: %w", ErrModuleMount, path, err)
	}
	return zr, nil, nil
}
