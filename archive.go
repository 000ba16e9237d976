package main

import (
	"archive/zip"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// writeArchive zips the committed content of every registry file under
// prefix into <tmp>/<project>-<caller>.zip and returns the archive path.
// Runs on the scheduler worker; content comes from the in-memory buffers,
// so the archive reflects exactly the flushed state at the time the task
// executes.
func (c *Core) writeArchive(prefix, caller string) (string, error) {
	name := fmt.Sprintf("%s-%s.zip", c.cfg.Name, sanitizeFilename(caller))
	dest := filepath.Join(c.cfg.TmpDir, name)

	f, err := os.Create(dest)
	if err != nil {
		return "", fmt.Errorf("creating archive: %w", err)
	}
	defer f.Close()

	w := zip.NewWriter(f)
	var n int
	var zerr error
	c.registry.Each(func(path string, entry *FileEntry) {
		if zerr != nil || !underPrefix(path, prefix) {
			return
		}
		// Archive member names are project paths without the leading slash.
		member, err := w.Create(strings.TrimPrefix(path, "/"))
		if err != nil {
			zerr = err
			return
		}
		if _, err := member.Write(entry.Buffer.Content()); err != nil {
			zerr = err
			return
		}
		n++
	})
	if zerr != nil {
		w.Close()
		return "", fmt.Errorf("writing archive: %w", zerr)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("closing archive: %w", err)
	}
	if n == 0 {
		os.Remove(dest)
		return "", fmt.Errorf("no files under %s", prefix)
	}
	return dest, nil
}

// underPrefix reports whether a project path falls under the given archive
// prefix. "/" covers the whole project; otherwise the prefix matches the
// path itself or any path below it.
func underPrefix(path, prefix string) bool {
	if prefix == "/" || path == prefix {
		return true
	}
	return strings.HasPrefix(path, prefix+"/")
}

// sanitizeFilename strips characters that would break out of the tmp
// directory when the caller identity is embedded in the archive name.
func sanitizeFilename(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', 0:
			return '_'
		}
		return r
	}, s)
}
