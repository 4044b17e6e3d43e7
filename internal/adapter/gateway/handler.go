package gateway

import (
	"encoding/json"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strconv"

	"modelrelay/internal/domain"
	"modelrelay/internal/usecase/orchestrator"
)

// maxRequestBody bounds request bodies on every route.
const maxRequestBody = 1 << 20

func (s *Server) handleModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.deps.Catalog.AllModels(r.Context())))
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, nonNil(s.deps.Catalog.Working()))
}

func nonNil(names []string) []string {
	if names == nil {
		return []string{}
	}
	return names
}

func (s *Server) handleTitle(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"title": ""})
}

func (s *Server) handleClientError(w http.ResponseWriter, r *http.Request) {
	var report map[string]any
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&report); err != nil {
		s.logger.Warn("client error report unreadable", "error", err)
	} else {
		s.logger.Warn("client reported error", "report", report)
	}
	w.Write([]byte("ok"))
}

func (s *Server) handleAttempts(w http.ResponseWriter, r *http.Request) {
	if s.deps.Attempts == nil {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: "STORE_DISABLED", Error: "attempt store is disabled"})
		return
	}
	var (
		attempts []orchestrator.Attempt
		err      error
	)
	if id := r.URL.Query().Get("request_id"); id != "" {
		attempts, err = s.deps.Attempts.ByRequest(r.Context(), id)
	} else {
		limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
		attempts, err = s.deps.Attempts.Recent(r.Context(), limit)
	}
	if err != nil {
		s.logger.Error("list attempts failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Code: "STORE_ERROR", Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

// handleConversation streams the relay output as raw text. A failure before the first
// chunk is answered with 400 and a JSON envelope; a later failure is appended as a
// final line because the status is already sent.
func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	s.metrics.RequestsTotal.Add(1)

	var body conversationRequest
	if err := json.NewDecoder(io.LimitReader(r.Body, maxRequestBody)).Decode(&body); err != nil {
		s.metrics.ErrorsTotal.Add(1)
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Action: "_ask", Error: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if msg := body.validate(); msg != "" {
		s.metrics.ErrorsTotal.Add(1)
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "INVALID_REQUEST", Action: "_ask", Error: msg})
		return
	}
	req := body.toRequest(r, s.deps.DefaultModel)

	next, stop := iter.Pull(s.deps.Relay.Stream(r.Context(), req))
	defer stop()

	c, ok := next()
	if !ok || c.Kind == domain.ChunkError {
		s.metrics.ErrorsTotal.Add(1)
		msg := "relay produced no output"
		if ok && c.Err != nil {
			msg = c.Err.Error()
		}
		s.logger.Warn("conversation failed", "model", req.Model, "adapter", req.Adapter, "error", msg)
		writeJSON(w, http.StatusBadRequest, errorResponse{Code: "RELAY_ERROR", Action: "_ask", Error: "an error occurred " + msg})
		return
	}

	flusher, _ := w.(http.Flusher)
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	for {
		switch c.Kind {
		case domain.ChunkText:
			io.WriteString(w, c.Text)
		case domain.ChunkImage:
			fmt.Fprintf(w, "![%s](%s)", c.Image.Prompt, c.Image.URL)
		case domain.ChunkError:
			s.metrics.ErrorsTotal.Add(1)
			s.logger.Warn("conversation interrupted", "adapter", c.Adapter, "error", c.Err)
			fmt.Fprintf(w, "\n%s\n", c.Err.Error())
		}
		s.metrics.ChunksSent.Add(1)
		if flusher != nil {
			flusher.Flush()
		}
		if c.Terminal() {
			return
		}
		if c, ok = next(); !ok {
			return
		}
	}
}
