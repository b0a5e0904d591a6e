package fetcher

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"sort"
)

// extractMember returns the first zip entry, by name, whose base name
// matches pattern.
func extractMember(data []byte, pattern string) ([]byte, string, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return nil, "", fmt.Errorf("bad archive pattern %q: %w", pattern, err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, "", fmt.Errorf("open zip: %w", err)
	}

	var matches []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if ok, _ := path.Match(pattern, path.Base(f.Name)); ok {
			matches = append(matches, f)
		}
	}
	if len(matches) == 0 {
		return nil, "", fmt.Errorf("no archive member matches %q", pattern)
	}
	sort.Slice(matches, func(i, j int) bool { return matches[i].Name < matches[j].Name })

	member := matches[0]
	rc, err := member.Open()
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w", member.Name, err)
	}
	defer rc.Close()

	body, err := io.ReadAll(rc)
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", member.Name, err)
	}
	return body, member.Name, nil
}
