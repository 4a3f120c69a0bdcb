package obsserver

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/andywolf/agentium/internal/watch"
)

const (
	logPollInterval   = 100 * time.Millisecond
	sdkPollInterval   = 100 * time.Millisecond
	statePollInterval = 500 * time.Millisecond
	heartbeatInterval = 15 * time.Second
)

// handleStream implements GET /api/stream (spec.md §4.8, §6): one
// SSE connection per observer, each with its own log/SDK-output
// cursors, so N concurrent observers never interfere with each
// other's replay position. Grounded on JeevesViewerHandler's
// do_GET("/api/stream") generator loop, ported onto the
// http.Flusher-per-write idiom.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	// Padding comment to defeat intermediary response buffering before
	// the first real event, per spec.md §4.8.
	fmt.Fprint(w, ":"+paddingComment()+"\n\n")
	flusher.Flush()

	conn := &streamConn{w: w, flusher: flusher}
	ref, stateDir, _, _, _, builder, hasIssue := s.activeWatchers()
	if !hasIssue {
		conn.send("state", Snapshot{Mode: ModeUnknown, Run: s.orch.Status()})
	}

	logW := watch.NewLogWatcher(stateDir + "/last-run.log")
	sdkW := watch.NewSDKOutputWatcher(stateDir + "/sdk-output.json")
	dirWatcher := newDirWatcher(stateDir)
	defer func() { closeDirWatcher(dirWatcher) }()

	var msgCount int
	if hasIssue {
		snap := builder.Build(true, true)
		conn.send("state", snap)
		msgCount = replaySDKOutput(conn, sdkW)
		logW.GetNewLines() // advance the cursor past what the state snapshot already showed
	}

	logTicker := time.NewTicker(logPollInterval)
	sdkTicker := time.NewTicker(sdkPollInterval)
	stateTicker := time.NewTicker(statePollInterval)
	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer logTicker.Stop()
	defer sdkTicker.Stop()
	defer stateTicker.Stop()
	defer heartbeatTicker.Stop()

	currentRef := ref
	lastSig := ""
	if hasIssue {
		lastSig = builder.Build(false, false).signature()
	}

	pollLogs := func() {
		if !hasIssue {
			return
		}
		if lines, changed := logW.GetNewLines(); changed {
			conn.send("logs", map[string]interface{}{"lines": lines})
		}
	}
	pollSDK := func() {
		if !hasIssue {
			return
		}
		if msgs, calls, changed := sdkW.GetUpdates(); changed {
			msgCount = emitSDKUpdates(conn, msgs, calls, msgCount)
		}
	}

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return

		// fsWatcherEvents is the low-latency path: a write to
		// last-run.log or sdk-output.json wakes the loop immediately
		// instead of waiting out the next 100ms poll tick. The tickers
		// below remain the source of truth — this is a best-effort
		// accelerator, not a replacement, since fsnotify can coalesce
		// or drop events under bursty writers.
		case _, ok := <-fsWatcherEvents(dirWatcher):
			if !ok {
				continue
			}
			pollLogs()
			pollSDK()

		case <-fsWatcherErrors(dirWatcher):
			// A watch error (e.g. the directory was removed) just
			// falls back to pure polling; nothing to report here.

		case <-logTicker.C:
			newRef, newStateDir, _, _, _, newBuilder, newOK := s.activeWatchers()
			if newOK != hasIssue || newRef != currentRef {
				hasIssue = newOK
				currentRef = newRef
				builder = newBuilder
				lastSig = ""
				closeDirWatcher(dirWatcher)
				dirWatcher = nil
				if hasIssue {
					logW = watch.NewLogWatcher(newStateDir + "/last-run.log")
					sdkW = watch.NewSDKOutputWatcher(newStateDir + "/sdk-output.json")
					dirWatcher = newDirWatcher(newStateDir)
					conn.send("logs", map[string]interface{}{"lines": []string{}, "reset": true})
					snap := builder.Build(true, true)
					conn.send("state", snap)
					msgCount = replaySDKOutput(conn, sdkW)
					logW.GetNewLines()
					lastSig = snap.signature()
				} else {
					msgCount = 0
				}
				continue
			}
			pollLogs()

		case <-sdkTicker.C:
			pollSDK()

		case <-stateTicker.C:
			if !hasIssue || builder == nil {
				continue
			}
			snap := builder.Build(false, false)
			if sig := snap.signature(); sig != lastSig {
				lastSig = sig
				conn.send("state", snap)
			}

		case <-heartbeatTicker.C:
			conn.send("heartbeat", map[string]interface{}{"timestamp": time.Now().UTC()})
		}
	}
}

// newDirWatcher starts a best-effort fsnotify watch on dir. A nil
// result (directory not yet created, or fsnotify unavailable on this
// platform) degrades gracefully to the poll-only tickers.
func newDirWatcher(dir string) *fsnotify.Watcher {
	if dir == "" {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil
	}
	return w
}

func closeDirWatcher(w *fsnotify.Watcher) {
	if w != nil {
		w.Close()
	}
}

// fsWatcherEvents and fsWatcherErrors return a nil watcher's channels
// as nil, which blocks forever in a select — exactly the behaviour
// wanted when no watcher is active.
func fsWatcherEvents(w *fsnotify.Watcher) chan fsnotify.Event {
	if w == nil {
		return nil
	}
	return w.Events
}

func fsWatcherErrors(w *fsnotify.Watcher) chan error {
	if w == nil {
		return nil
	}
	return w.Errors
}

// replaySDKOutput sends the full current sdk-output.json document as
// the ordered sdk-init/sdk-message/sdk-tool-start+complete/sdk-complete
// sequence spec.md §8 scenario S5 requires on connect, then leaves
// sdkW's delivered-index cursors at the end of the replayed document.
func replaySDKOutput(conn *streamConn, sdkW *watch.SDKOutputWatcher) int {
	out, found := sdkW.Snapshot()
	if !found {
		return 0
	}
	if out.SessionID != "" {
		conn.send("sdk-init", map[string]interface{}{
			"session_id": out.SessionID,
			"iteration":  out.Iteration,
			"started_at": out.StartedAt,
		})
	}
	msgCount := emitSDKUpdates(conn, out.Messages, out.ToolCalls, 0)
	if out.EndedAt != "" {
		conn.send("sdk-complete", out)
	}
	sdkW.GetUpdates() // advance cursors past what was just replayed
	return msgCount
}

// sdkMessageEvent wraps a watch.Message with its position in the full
// messages array, per spec.md §4.8: "emit `sdk-message` for every new
// message (with its running index and total count)" — and §8's
// invariant that message indices are strictly increasing and equal to
// their position in `messages`.
type sdkMessageEvent struct {
	watch.Message
	Index int `json:"index"`
	Total int `json:"total"`
}

// emitSDKUpdates sends msgs/calls as sdk-message/sdk-tool-start+complete
// events. msgsBefore is the count of messages already delivered on this
// connection prior to this batch, used to compute each message's index;
// it returns the updated running total.
func emitSDKUpdates(conn *streamConn, msgs []watch.Message, calls []watch.ToolCall, msgsBefore int) int {
	total := msgsBefore + len(msgs)
	for i, m := range msgs {
		conn.send("sdk-message", sdkMessageEvent{Message: m, Index: msgsBefore + i, Total: total})
	}
	for _, c := range calls {
		conn.send("sdk-tool-start", c)
		conn.send("sdk-tool-complete", c)
	}
	return total
}

// streamConn writes one event per call in the standard SSE
// "event: <type>\ndata: <json>\n\n" shape and flushes immediately,
// grounded on kadirpekel-hector's sendSSEEvent.
type streamConn struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func (c *streamConn) send(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	fmt.Fprintf(c.w, "event: %s\ndata: %s\n\n", event, data)
	c.flusher.Flush()
}

func paddingComment() string {
	padding := make([]byte, 2048)
	for i := range padding {
		padding[i] = ' '
	}
	return string(padding)
}
