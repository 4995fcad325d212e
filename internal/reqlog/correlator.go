// Package reqlog records every chat API exchange as one JSON line, so a run
// can be audited after the fact. The correlator taps the HTTP transport to
// capture wire-level metadata and merges it with the parsed response and the
// active task context when the gateway calls Record. Logging is best-effort
// by contract: a failure here never fails the caller's request.
package reqlog

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"subvox/internal/taskctx"
	"subvox/pkg/logger"
)

// DefaultMaxSize is the rotation threshold for the JSONL file.
const DefaultMaxSize = 10 << 20

// Entry is one persisted request/response record.
type Entry struct {
	Timestamp    string      `json:"timestamp"`
	TaskID       string      `json:"task_id,omitempty"`
	FileName     string      `json:"file_name,omitempty"`
	Stage        string      `json:"stage,omitempty"`
	URL          string      `json:"url"`
	Status       int         `json:"status"`
	DurationMS   int64       `json:"duration_ms"`
	RequestBody  interface{} `json:"request_body,omitempty"`
	ResponseBody interface{} `json:"response_body,omitempty"`
}

// pendingRequest is the transient record staged between send and Record.
type pendingRequest struct {
	start     time.Time
	url       string
	body      interface{}
	status    int
	duration  time.Duration
	completed bool
}

// Correlator wraps a transport and stages in-flight chat requests keyed by
// the request object's identity. The pending map and the log file have
// independent locks so unrelated writers do not contend.
type Correlator struct {
	path    string
	maxSize int64
	next    http.RoundTripper

	pendingMu sync.Mutex
	pending   map[*http.Request]*pendingRequest
	order     []*http.Request

	fileMu sync.Mutex
}

// New creates a correlator logging to path. next may be nil, in which case
// the default transport is used.
func New(path string, next http.RoundTripper) *Correlator {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Correlator{
		path:    path,
		maxSize: DefaultMaxSize,
		next:    next,
		pending: make(map[*http.Request]*pendingRequest),
	}
}

// RoundTrip stages request metadata before the send and annotates the staged
// entry with status and elapsed time once the response headers arrive. The
// parsed body is not knowable at this layer; Record fills it in later.
func (c *Correlator) RoundTrip(req *http.Request) (*http.Response, error) {
	c.onSend(req)

	resp, err := c.next.RoundTrip(req)
	if err != nil {
		// A request that will never get a response must not leak a
		// pending entry.
		c.evict(req)
		return nil, err
	}

	c.onReceive(req, resp)
	return resp, nil
}

func (c *Correlator) onSend(req *http.Request) {
	if !strings.Contains(req.URL.Path, "/chat/completions") {
		return
	}

	p := &pendingRequest{
		start: time.Now(),
		url:   req.URL.String(),
		body:  decodeRequestBody(req),
	}

	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	c.pending[req] = p
	c.order = append(c.order, req)
}

func (c *Correlator) onReceive(req *http.Request, resp *http.Response) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	p, ok := c.pending[req]
	if !ok {
		return
	}
	p.status = resp.StatusCode
	p.duration = time.Since(p.start)
	p.completed = true
}

func (c *Correlator) evict(req *http.Request) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	if _, ok := c.pending[req]; !ok {
		return
	}
	delete(c.pending, req)
	c.removeFromOrder(req)
}

// Record flushes one logical call: it takes a staged entry (preferring one
// with a recorded status over an unmatched one, to avoid pairing concurrent
// in-flight requests wrongly), merges the parsed response and the current
// task context, and appends a JSONL line. Failures are swallowed.
func (c *Correlator) Record(parsedResponse interface{}) {
	p := c.takePending()

	entry := Entry{
		Timestamp:    time.Now().Format(time.RFC3339),
		ResponseBody: parsedResponse,
	}
	if tc, ok := taskctx.Get(); ok {
		entry.TaskID = tc.TaskID
		entry.FileName = tc.FileName
		entry.Stage = string(tc.Stage)
	}
	if p != nil {
		entry.URL = p.url
		entry.Status = p.status
		entry.DurationMS = p.duration.Milliseconds()
		entry.RequestBody = p.body
	}

	if err := c.append(entry); err != nil {
		logger.Warn("request log write failed", zap.Error(err))
	}
}

// takePending removes and returns at most one staged entry.
func (c *Correlator) takePending() *pendingRequest {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()

	var chosen *http.Request
	for _, req := range c.order {
		if c.pending[req].completed {
			chosen = req
			break
		}
	}
	if chosen == nil && len(c.order) > 0 {
		chosen = c.order[0]
	}
	if chosen == nil {
		return nil
	}

	p := c.pending[chosen]
	delete(c.pending, chosen)
	c.removeFromOrder(chosen)
	return p
}

func (c *Correlator) removeFromOrder(req *http.Request) {
	for i, r := range c.order {
		if r == req {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func (c *Correlator) append(entry Entry) error {
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	c.fileMu.Lock()
	defer c.fileMu.Unlock()

	if err := c.rotateLocked(); err != nil {
		logger.Warn("request log rotation failed", zap.Error(err))
	}

	if dir := filepath.Dir(c.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}

	f, err := os.OpenFile(c.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}
	return nil
}

// rotateLocked renames the current file to a single .old backup once it
// exceeds the size threshold. A prior backup is replaced, never accumulated.
func (c *Correlator) rotateLocked() error {
	info, err := os.Stat(c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Size() <= c.maxSize {
		return nil
	}

	backup := c.path + ".old"
	if err := os.Remove(backup); err != nil && !os.IsNotExist(err) {
		return err
	}
	return os.Rename(c.path, backup)
}

// SetMaxSize overrides the rotation threshold.
func (c *Correlator) SetMaxSize(n int64) {
	c.maxSize = n
}

// SetNext replaces the wrapped transport. Called once during gateway
// construction, before any request flows.
func (c *Correlator) SetNext(next http.RoundTripper) {
	if next != nil {
		c.next = next
	}
}

// decodeRequestBody best-effort reads a clone of the outgoing body and
// decodes it as JSON, falling back to the raw text.
func decodeRequestBody(req *http.Request) interface{} {
	if req.GetBody == nil {
		return nil
	}
	rc, err := req.GetBody()
	if err != nil {
		return nil
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil || len(data) == 0 {
		return nil
	}

	var decoded interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		return string(data)
	}
	return decoded
}
