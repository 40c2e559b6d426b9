package downloader

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ArchiveFileName is the download archive kept at the root of an output dir.
const ArchiveFileName = "downloaded.txt"

// ArchivePath returns the download archive location for an output root.
func ArchivePath(outputRoot string) string {
	return filepath.Join(outputRoot, ArchiveFileName)
}

// ReadArchiveIDs returns the video IDs recorded in a download archive. yt-dlp
// writes "<extractor> <id>" lines; bare IDs are accepted too. A missing file
// yields an empty set.
func ReadArchiveIDs(path string) (map[string]struct{}, error) {
	ids := make(map[string]struct{})
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ids, nil
		}
		return nil, fmt.Errorf("open download archive: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		ids[fields[len(fields)-1]] = struct{}{}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read download archive: %w", err)
	}
	return ids, nil
}
