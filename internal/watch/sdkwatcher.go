package watch

import (
	"encoding/json"
	"os"
	"sync"
)

// SDKOutputWatcher tails sdk-output.json, reporting messages and tool
// calls appended since the previous poll. Grounded on the original
// SDKOutputWatcher class: an mtime+size snapshot before each read, a
// last-delivered message/tool-call index, and silent recovery from a
// partially-written (malformed) JSON document — the writer side is
// not atomic (runner/output.py's save() writes the file directly, no
// temp-plus-rename), so a reader racing a write must tolerate a
// truncated parse and simply retry on the next poll.
type SDKOutputWatcher struct {
	mu                sync.Mutex
	path              string
	lastSize          int64
	lastMod           int64
	lastMessageIndex  int
	lastToolCallIndex int
}

// NewSDKOutputWatcher returns a watcher over path.
func NewSDKOutputWatcher(path string) *SDKOutputWatcher {
	return &SDKOutputWatcher{path: path}
}

// Reset clears the watcher's delivered-index cursors, used when a new
// run starts and produces a fresh sdk-output.json.
func (w *SDKOutputWatcher) Reset() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lastSize = 0
	w.lastMod = 0
	w.lastMessageIndex = 0
	w.lastToolCallIndex = 0
}

// GetUpdates returns messages and tool calls appended since the
// previous call, and whether the file changed at all.
func (w *SDKOutputWatcher) GetUpdates() (newMessages []Message, newToolCalls []ToolCall, changed bool) {
	w.mu.Lock()
	defer w.mu.Unlock()

	info, err := os.Stat(w.path)
	if err != nil {
		return nil, nil, false
	}
	size := info.Size()
	mod := info.ModTime().UnixNano()
	if size == w.lastSize && mod == w.lastMod {
		return nil, nil, false
	}

	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, nil, false
	}
	var out SDKOutput
	if err := json.Unmarshal(data, &out); err != nil {
		// Likely a torn read racing a non-atomic writer; try again
		// next poll rather than surfacing an error.
		return nil, nil, false
	}

	if len(out.Messages) > w.lastMessageIndex {
		newMessages = out.Messages[w.lastMessageIndex:]
		w.lastMessageIndex = len(out.Messages)
	}
	if len(out.ToolCalls) > w.lastToolCallIndex {
		newToolCalls = out.ToolCalls[w.lastToolCallIndex:]
		w.lastToolCallIndex = len(out.ToolCalls)
	}

	w.lastSize = size
	w.lastMod = mod
	return newMessages, newToolCalls, true
}

// Snapshot reads the full current document without disturbing the
// incremental cursors, used for the initial SSE replay.
func (w *SDKOutputWatcher) Snapshot() (*SDKOutput, bool) {
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, false
	}
	var out SDKOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return &out, true
}
