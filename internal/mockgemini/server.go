// Package mockgemini serves a fake Gemini generateContent endpoint with gin.
// Tests queue canned replies per model; without a queued reply the server
// answers every batch item with a neutral decision (or a short draft), so
// it can also back local dry runs.
package mockgemini

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// Reply is one canned response.
type Reply struct {
	Status int
	// Text is wrapped in a candidates envelope.
	Text string
	// Raw, when set, is sent verbatim instead of an envelope.
	Raw string
	// Delay holds the response back, for timeout tests.
	Delay time.Duration
}

// Request is a recorded generateContent call.
type Request struct {
	Model string
	Key   string
	Text  string
}

// Server is the mock state behind the gin engine.
type Server struct {
	mu       sync.Mutex
	queued   map[string][]Reply
	requests []Request
}

// New creates an empty mock.
func New() *Server {
	return &Server{queued: make(map[string][]Reply)}
}

// Enqueue adds replies for model, served in order.
func (s *Server) Enqueue(model string, replies ...Reply) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued[model] = append(s.queued[model], replies...)
}

// Requests returns the calls received so far.
func (s *Server) Requests() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.requests...)
}

// Engine returns a gin engine serving /models/{model}:generateContent and
// /health.
func (s *Server) Engine() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.POST("/models/:call", s.handleGenerate)
	return r
}

type generateBody struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
}

func apiError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": gin.H{"code": status, "message": msg}})
}

func (s *Server) handleGenerate(c *gin.Context) {
	model, ok := strings.CutSuffix(c.Param("call"), ":generateContent")
	if !ok || model == "" {
		apiError(c, http.StatusNotFound, "unknown method")
		return
	}
	key := c.Query("key")
	if key == "" {
		apiError(c, http.StatusForbidden, "API key missing")
		return
	}

	var body generateBody
	if err := c.ShouldBindJSON(&body); err != nil {
		apiError(c, http.StatusBadRequest, "invalid JSON payload: "+err.Error())
		return
	}
	var text strings.Builder
	for _, content := range body.Contents {
		for _, p := range content.Parts {
			text.WriteString(p.Text)
		}
	}

	reply := s.next(Request{Model: model, Key: key, Text: text.String()})
	if reply.Delay > 0 {
		select {
		case <-time.After(reply.Delay):
		case <-c.Request.Context().Done():
			return
		}
	}

	status := reply.Status
	if status == 0 {
		status = http.StatusOK
	}
	if reply.Raw != "" {
		c.Data(status, "application/json", []byte(reply.Raw))
		return
	}
	c.JSON(status, Envelope(reply.Text))
}

func (s *Server) next(req Request) Reply {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	if q := s.queued[req.Model]; len(q) > 0 {
		s.queued[req.Model] = q[1:]
		return q[0]
	}
	return Reply{Text: defaultReply(req.Text)}
}

// Envelope wraps text the way generateContent returns it.
func Envelope(text string) gin.H {
	return gin.H{
		"candidates": []gin.H{{
			"content": gin.H{
				"role":  "model",
				"parts": []gin.H{{"text": text}},
			},
			"finishReason": "STOP",
		}},
	}
}

var idRe = regexp.MustCompile(`\(ID: (msg_\d+)\)`)

// defaultReply answers each batch id found in the prompt. Drafting
// prompts get a placeholder reply; triage prompts get NEITHER.
func defaultReply(prompt string) string {
	drafting := strings.Contains(prompt, "DRAFT REPLIES")
	out := make(map[string]any)
	for _, m := range idRe.FindAllStringSubmatch(prompt, -1) {
		if drafting {
			out[m[1]] = map[string]any{
				"draft_text": "Thanks for the note. I will follow up shortly.",
				"reason":     "mock draft",
			}
			continue
		}
		out[m[1]] = map[string]any{
			"importance":  "NEITHER",
			"draft_reply": false,
			"notify":      false,
			"reason":      "mock triage",
		}
	}
	data, err := json.Marshal(out)
	if err != nil {
		return fmt.Sprintf(`{"error": %q}`, err.Error())
	}
	return string(data)
}
