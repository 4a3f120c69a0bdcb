package obsserver

import (
	"net/http"

	"github.com/andywolf/agentium/internal/watch"
)

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	_, _, logWatcher, _, _, _, ok := s.activeWatchers()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"lines": []string{}})
		return
	}
	lines := logWatcher.GetAllLines(500)
	writeJSON(w, http.StatusOK, map[string]interface{}{"lines": lines})
}

func (s *Server) handleGetSDKOutput(w http.ResponseWriter, r *http.Request) {
	_, _, _, sdkWatcher, _, _, ok := s.activeWatchers()
	if !ok {
		writeJSON(w, http.StatusOK, watch.SDKOutput{Schema: watch.SchemaVersion})
		return
	}
	out, found := sdkWatcher.Snapshot()
	if !found {
		writeJSON(w, http.StatusOK, watch.SDKOutput{Schema: watch.SchemaVersion})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetSDKMessages(w http.ResponseWriter, r *http.Request) {
	_, _, _, sdkWatcher, _, _, ok := s.activeWatchers()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": []watch.Message{}})
		return
	}
	out, found := sdkWatcher.Snapshot()
	if !found {
		writeJSON(w, http.StatusOK, map[string]interface{}{"messages": []watch.Message{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": out.Messages})
}

func (s *Server) handleGetSDKToolCalls(w http.ResponseWriter, r *http.Request) {
	_, _, _, sdkWatcher, _, _, ok := s.activeWatchers()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]interface{}{"tool_calls": []watch.ToolCall{}})
		return
	}
	out, found := sdkWatcher.Snapshot()
	if !found {
		writeJSON(w, http.StatusOK, map[string]interface{}{"tool_calls": []watch.ToolCall{}})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"tool_calls": out.ToolCalls})
}
