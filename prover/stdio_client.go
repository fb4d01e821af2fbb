package prover

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"sync"
	"sync/atomic"

	"github.com/proofls/proofls/buffer"
	"github.com/proofls/proofls/errors"
	"github.com/proofls/proofls/logger"
)

// jsonrpcRequest and jsonrpcResponse mirror the framing used for the
// prover's private wire protocol: JSON-RPC 2.0 bodies, each preceded by
// a Content-Length header and a blank line, exactly like LSP's own
// transport.
type jsonrpcRequest struct {
	JSONRPC string      `json:"jsonrpc"`
	ID      int64       `json:"id,omitempty"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
}

type jsonrpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonrpcError   `json:"error,omitempty"`
	// Method/Params are set when the message is actually an unsolicited
	// notification rather than a response to one of our requests.
	Method string          `json:"method,omitempty"`
	Params json.RawMessage `json:"params,omitempty"`
}

type jsonrpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *jsonrpcError) Error() string {
	return e.Message
}

// StdioClient is a Client that drives a prover subprocess over stdin/
// stdout. Responses are matched to calls by request id; the client does
// not itself limit how many calls are in flight.
type StdioClient struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser

	nextID atomic.Int64

	mu       sync.Mutex
	pending  map[int64]chan *jsonrpcResponse
	shutdown bool

	events      chan Event
	closeEvents sync.Once
}

// NewStdioClient spawns binary with args and wires up its stdio. The
// subprocess is not sent any requests until Init is called.
func NewStdioClient(binary string, args ...string) (*StdioClient, error) {
	cmd := exec.Command(binary, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, errors.Wrap(err, "prover: open stdin pipe")
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "prover: open stdout pipe")
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, errors.Wrap(err, "prover: open stderr pipe")
	}

	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "prover: start %s", binary)
	}

	c := &StdioClient{
		cmd:     cmd,
		stdin:   stdin,
		stdout:  stdout,
		stderr:  stderr,
		pending: make(map[int64]chan *jsonrpcResponse),
		events:  make(chan Event, 64),
	}

	go c.readLoop()
	go c.stderrLoop()

	return c, nil
}

func (c *StdioClient) Init(ctx context.Context) (string, <-chan Event, error) {
	var result struct {
		RootStateID string `json:"rootStateId"`
	}
	if err := c.call(ctx, "prover/init", nil, &result); err != nil {
		return "", nil, err
	}
	return result.RootStateID, c.events, nil
}

func (c *StdioClient) Add(ctx context.Context, text string, parentStateID string, endPos buffer.Position, version int) (AddResult, error) {
	params := map[string]interface{}{
		"text":          text,
		"parentStateId": parentStateID,
		"endPosition":   endPos,
		"version":       version,
	}
	var result struct {
		StateID   string           `json:"stateId"`
		FocusHint *buffer.Position `json:"focusHint,omitempty"`
	}
	if err := c.call(ctx, "prover/stepForward", params, &result); err != nil {
		return AddResult{}, err
	}
	return AddResult{StateID: result.StateID, FocusHint: result.FocusHint}, nil
}

func (c *StdioClient) EditAt(ctx context.Context, stateID string) (FocusChange, error) {
	params := map[string]interface{}{"stateId": stateID}
	var result struct {
		Kind         string `json:"kind"`
		StateID      string `json:"stateId,omitempty"`
		QedStateID   string `json:"qedStateId,omitempty"`
		FocusStateID string `json:"focusStateId,omitempty"`
	}
	if err := c.call(ctx, "prover/interpretToPoint", params, &result); err != nil {
		return FocusChange{}, err
	}
	if result.Kind == "newFocus" {
		return FocusChange{Kind: NewFocus, QedStateID: result.QedStateID, FocusStateID: result.FocusStateID}, nil
	}
	return FocusChange{Kind: NewTip, StateID: result.StateID}, nil
}

func (c *StdioClient) Query(ctx context.Context, command string) (string, error) {
	var result struct {
		Text string `json:"text"`
	}
	if err := c.call(ctx, "prover/query", map[string]interface{}{"command": command}, &result); err != nil {
		return "", err
	}
	return result.Text, nil
}

func (c *StdioClient) Interrupt() {
	_ = c.notify("prover/interrupt", nil)
}

func (c *StdioClient) Resize(ctx context.Context, columns int) error {
	return c.call(ctx, "prover/resize", map[string]interface{}{"columns": columns}, nil)
}

func (c *StdioClient) LtacProfile(ctx context.Context, stateID *string) error {
	return c.call(ctx, "prover/requestLtacProfResults", map[string]interface{}{"stateId": stateID}, nil)
}

func (c *StdioClient) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.shutdown {
		c.mu.Unlock()
		return nil
	}
	c.shutdown = true
	c.mu.Unlock()

	err := c.call(ctx, "prover/shutdown", nil, nil)
	_ = c.notify("prover/exit", nil)
	_ = c.stdin.Close()

	done := make(chan error, 1)
	go func() { done <- c.cmd.Wait() }()
	select {
	case <-done:
	case <-ctx.Done():
		_ = c.cmd.Process.Kill()
		<-done
	}
	c.closeEvents.Do(func() { close(c.events) })
	return err
}

// ForceKill terminates the subprocess without attempting a graceful
// shutdown handshake.
func (c *StdioClient) ForceKill() error {
	if c.cmd.Process == nil {
		return nil
	}
	return c.cmd.Process.Kill()
}

func (c *StdioClient) call(ctx context.Context, method string, params interface{}, result interface{}) error {
	id := c.nextID.Add(1)
	respCh := make(chan *jsonrpcResponse, 1)

	c.mu.Lock()
	if c.shutdown && method != "prover/shutdown" {
		c.mu.Unlock()
		return errors.New("prover: client is shut down")
	}
	c.pending[id] = respCh
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	req := jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method, Params: params}
	if err := c.writeMessage(req); err != nil {
		return err
	}

	select {
	case resp := <-respCh:
		if resp == nil {
			return errors.New("prover: connection closed before response")
		}
		if resp.Error != nil {
			return c.translateError(resp.Error)
		}
		if result != nil && len(resp.Result) > 0 {
			if err := json.Unmarshal(resp.Result, result); err != nil {
				return errors.Wrap(err, "prover: decode response")
			}
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// translateError recognizes the prover's FailureAt shape (data carries
// stateId/range/message) and surfaces it as a *Failure so callers can
// branch on it with AsFailure; anything else is returned as a plain
// wrapped error.
func (c *StdioClient) translateError(rpcErr *jsonrpcError) error {
	var data struct {
		StateID string        `json:"stateId"`
		Range   *buffer.Range `json:"range"`
		Message string        `json:"message"`
	}
	if len(rpcErr.Data) > 0 {
		if err := json.Unmarshal(rpcErr.Data, &data); err == nil && data.Range != nil {
			return &Failure{StateID: data.StateID, Range: *data.Range, Message: data.Message}
		}
	}
	return errors.Newf("prover: %s", rpcErr.Message)
}

func (c *StdioClient) notify(method string, params interface{}) error {
	return c.writeMessage(jsonrpcRequest{JSONRPC: "2.0", Method: method, Params: params})
}

func (c *StdioClient) writeMessage(msg interface{}) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, "prover: marshal message")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := fmt.Fprintf(c.stdin, "Content-Length: %d\r\n\r\n", len(body)); err != nil {
		return errors.Wrap(err, "prover: write header")
	}
	if _, err := c.stdin.Write(body); err != nil {
		return errors.Wrap(err, "prover: write body")
	}
	return nil
}

func (c *StdioClient) readLoop() {
	reader := bufio.NewReader(c.stdout)
	for {
		length, err := readContentLength(reader)
		if err != nil {
			c.dispatchDeath(err)
			return
		}
		body := make([]byte, length)
		if _, err := io.ReadFull(reader, body); err != nil {
			c.dispatchDeath(err)
			return
		}
		var msg jsonrpcResponse
		if err := json.Unmarshal(body, &msg); err != nil {
			logger.Errorw("prover: malformed message", "error", err)
			continue
		}
		if msg.Method != "" {
			c.dispatchEvent(msg.Method, msg.Params)
			continue
		}
		c.mu.Lock()
		ch, ok := c.pending[msg.ID]
		c.mu.Unlock()
		if ok {
			ch <- &msg
		}
	}
}

func readContentLength(r *bufio.Reader) (int, error) {
	var length int
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return 0, err
		}
		line = string(bytes.TrimRight([]byte(line), "\r\n"))
		if line == "" {
			break
		}
		if n, err := fmt.Sscanf(line, "Content-Length: %d", &length); err == nil && n == 1 {
			continue
		}
	}
	if length == 0 {
		return 0, errors.New("prover: missing Content-Length header")
	}
	return length, nil
}

func (c *StdioClient) dispatchEvent(method string, params json.RawMessage) {
	switch method {
	case "prover/statusUpdate":
		var p struct {
			StateID string `json:"stateId"`
			Status  Status `json:"status"`
		}
		_ = json.Unmarshal(params, &p)
		c.events <- Event{Kind: EventStatusUpdate, StateID: p.StateID, Status: p.Status}
	case "prover/error":
		var p struct {
			StateID  string       `json:"stateId"`
			SubRange buffer.Range `json:"subRange"`
			Message  string       `json:"message"`
		}
		_ = json.Unmarshal(params, &p)
		c.events <- Event{Kind: EventError, StateID: p.StateID, SubRange: p.SubRange, Message: p.Message}
	case "prover/message":
		var p struct {
			Level MessageLevel `json:"level"`
			Text  string       `json:"text"`
			Rich  string       `json:"rich,omitempty"`
		}
		_ = json.Unmarshal(params, &p)
		c.events <- Event{Kind: EventMessage, Level: p.Level, Text: p.Text, Rich: p.Rich}
	case "prover/ltacProfResults":
		var p struct {
			StateID string `json:"stateId"`
			Results string `json:"results"`
		}
		_ = json.Unmarshal(params, &p)
		c.events <- Event{Kind: EventLtacProfResults, StateID: p.StateID, Results: p.Results}
	case "prover/died":
		var p struct {
			Reason string `json:"reason,omitempty"`
		}
		_ = json.Unmarshal(params, &p)
		c.events <- Event{Kind: EventDied, Reason: p.Reason}
	default:
		logger.Warnw("prover: unrecognized notification", "method", method)
	}
}

func (c *StdioClient) dispatchDeath(cause error) {
	logger.Errorw("prover: connection lost", "error", cause)
	c.mu.Lock()
	already := c.shutdown
	c.shutdown = true
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
	if !already {
		c.events <- Event{Kind: EventDied, Reason: cause.Error()}
	}
	c.closeEvents.Do(func() { close(c.events) })
}

func (c *StdioClient) stderrLoop() {
	scanner := bufio.NewScanner(c.stderr)
	for scanner.Scan() {
		logger.Debugw("prover stderr", "line", scanner.Text())
	}
}
