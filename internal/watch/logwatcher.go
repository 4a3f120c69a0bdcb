package watch

import (
	"os"
	"strings"
	"sync"
)

// LogWatcher tails a plain-text log file, tracking the byte offset it
// has already delivered. Grounded on the original LogWatcher class:
// an mtime+size snapshot taken before each read, with truncation or
// file replacement detected by a size regression and handled by
// resetting the cursor to the start of the file.
type LogWatcher struct {
	mu       sync.Mutex
	path     string
	offset   int64
	lastSize int64
	lastMod  int64
}

// NewLogWatcher returns a watcher over path. The file need not exist
// yet.
func NewLogWatcher(path string) *LogWatcher {
	return &LogWatcher{path: path}
}

// Reset rewinds the watcher to the beginning of the file, used when
// the observation server switches which log file it is tailing.
func (w *LogWatcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.offset = 0
	w.lastSize = 0
	w.lastMod = 0
}

// GetNewLines returns any log lines appended since the previous call,
// and whether anything changed (including a truncation-triggered
// reset to the top of the file).
func (w *LogWatcher) GetNewLines() ([]string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		// Non-existence resets the cursor (spec.md §4.6.1: "handles
		// ... non-existence (returns empty, resets)").
		w.offset = 0
		w.lastSize = 0
		w.lastMod = 0
		return nil, false
	}
	size := info.Size()
	mod := info.ModTime().UnixNano()

	if size < w.offset {
		// File was truncated or replaced; start over.
		w.offset = 0
	}
	if size == w.lastSize && mod == w.lastMod && w.offset != 0 {
		return nil, false
	}

	data, err := readFromOffset(w.path, w.offset)
	if err != nil {
		return nil, false
	}
	w.offset += int64(len(data))
	w.lastSize = size
	w.lastMod = mod

	if len(data) == 0 {
		return nil, false
	}
	return splitLines(data), true
}

// GetAllLines returns up to maxLines of the file's current full
// content, tailed from the end, and sets the cursor to EOF (spec.md
// §4.6.1: "get_all_lines(max) returns the last N lines and sets
// cursor to end") — a subsequent GetNewLines call only reports lines
// appended after this call, never re-delivering what was just read.
func (w *LogWatcher) GetAllLines(maxLines int) []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		w.offset = 0
		w.lastSize = 0
		w.lastMod = 0
		return nil
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil
	}

	w.offset = info.Size()
	w.lastSize = info.Size()
	w.lastMod = info.ModTime().UnixNano()

	lines := splitLines(data)
	if maxLines > 0 && len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	return lines
}

func readFromOffset(path string, offset int64) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	if _, err := f.Seek(offset, 0); err != nil {
		return nil, err
	}
	buf := make([]byte, 0, 4096)
	chunk := make([]byte, 4096)
	for {
		n, err := f.Read(chunk)
		if n > 0 {
			buf = append(buf, chunk[:n]...)
		}
		if err != nil {
			break
		}
	}
	return buf, nil
}

func splitLines(data []byte) []string {
	text := strings.TrimRight(string(data), "\n")
	if text == "" {
		return nil
	}
	return strings.Split(text, "\n")
}

// TailLines returns up to maxLines from the end of lines.
func TailLines(lines []string, maxLines int) []string {
	if maxLines <= 0 || len(lines) <= maxLines {
		return lines
	}
	return lines[len(lines)-maxLines:]
}
