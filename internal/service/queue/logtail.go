package queue

import (
	"bufio"
	"errors"
	"os"
)

// Log tail bounds and placeholder lines.
const (
	MinTailLines = 1
	MaxTailLines = 1000

	logNotSpecified = "Log file not specified."
	logNotCreated   = "Log file not created yet."
	logUnreadable   = "Unable to read log file."
)

// ReadLogTail returns the last n lines of the file at path, with n clamped
// to [MinTailLines, MaxTailLines]. Problems are reported as a single
// placeholder line instead of an error.
func ReadLogTail(path string, n int) []string {
	n = min(max(n, MinTailLines), MaxTailLines)
	if path == "" {
		return []string{logNotSpecified}
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{logNotCreated}
		}
		return []string{logUnreadable}
	}
	defer f.Close()

	ring := make([]string, n)
	count := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		ring[count%n] = scanner.Text()
		count++
	}
	if scanner.Err() != nil {
		return []string{logUnreadable}
	}

	if count <= n {
		return ring[:count]
	}
	start := count % n
	return append(ring[start:], ring[:start]...)
}
