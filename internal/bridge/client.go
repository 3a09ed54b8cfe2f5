package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sourcegraph/jsonrpc2"

	"github.com/alucardeht/mfhost/internal/logger"
)

var (
	ErrClosed = errors.New("bridge closed")

	log = logger.ForComponent("bridge")
)

type Codec string

const (
	CodecPlain  Codec = "plain"
	CodecVSCode Codec = "vscode"
)

type ClientConfig struct {
	Codec          Codec         `yaml:"codec" mapstructure:"codec"`
	RequestTimeout time.Duration `yaml:"request_timeout" mapstructure:"request_timeout"`
	Circuit        CircuitConfig `yaml:"circuit" mapstructure:"circuit"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Codec:          CodecPlain,
		RequestTimeout: 10 * time.Second,
		Circuit:        DefaultCircuitConfig(),
	}
}

// Handlers receive what the page pushes to the host. Nil handlers are skipped.
// They run on the connection's read loop and must not call back into the
// client synchronously.
type Handlers struct {
	OnHello           func(ctx context.Context, p HelloParams) (HelloResult, error)
	OnLocationChanged func(p LocationChangedParams)
	OnFragmentError   func(p FragmentErrorParams)
}

// Client speaks JSON-RPC 2.0 to the in-page agent.
type Client struct {
	conn     *jsonrpc2.Conn
	config   ClientConfig
	circuit  *CircuitBreaker
	handlers Handlers

	requestCount int64
	errorCount   int64
	closed       atomic.Bool
}

// NewStream frames rwc with the configured codec.
func NewStream(rwc io.ReadWriteCloser, codec Codec) jsonrpc2.ObjectStream {
	if codec == CodecVSCode {
		return jsonrpc2.NewBufferedStream(rwc, jsonrpc2.VSCodeObjectCodec{})
	}
	return jsonrpc2.NewPlainObjectStream(rwc)
}

func NewClient(ctx context.Context, stream jsonrpc2.ObjectStream, config ClientConfig, handlers Handlers) *Client {
	c := &Client{
		config:   config,
		circuit:  NewCircuitBreaker(config.Circuit),
		handlers: handlers,
	}

	handler := jsonrpc2.HandlerWithError(c.handle).SuppressErrClosed()
	c.conn = jsonrpc2.NewConn(ctx, stream, handler, jsonrpc2.SetLogger(connLogger{}))
	return c
}

// connLogger routes jsonrpc2's internal messages into the bridge logger.
type connLogger struct{}

func (connLogger) Printf(format string, v ...any) {
	log.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (c *Client) handle(ctx context.Context, conn *jsonrpc2.Conn, req *jsonrpc2.Request) (any, error) {
	switch req.Method {
	case MethodPing:
		return "pong", nil

	case MethodHello:
		var p HelloParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		if c.handlers.OnHello == nil {
			return HelloResult{}, nil
		}
		return c.handlers.OnHello(ctx, p)

	case MethodLocationChanged:
		var p LocationChangedParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		if c.handlers.OnLocationChanged != nil {
			c.handlers.OnLocationChanged(p)
		}
		return nil, nil

	case MethodFragmentError:
		var p FragmentErrorParams
		if err := unmarshalParams(req, &p); err != nil {
			return nil, err
		}
		if c.handlers.OnFragmentError != nil {
			c.handlers.OnFragmentError(p)
		}
		return nil, nil
	}

	return nil, &jsonrpc2.Error{
		Code:    jsonrpc2.CodeMethodNotFound,
		Message: fmt.Sprintf("method not supported: %s", req.Method),
	}
}

func unmarshalParams(req *jsonrpc2.Request, v any) error {
	if req.Params == nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: "missing params"}
	}
	if err := json.Unmarshal(*req.Params, v); err != nil {
		return &jsonrpc2.Error{Code: jsonrpc2.CodeInvalidParams, Message: err.Error()}
	}
	return nil
}

// Invoke calls function in the page with args. A function that throws yields
// a *ScriptError; transport failures count against the circuit breaker.
func (c *Client) Invoke(ctx context.Context, function string, args ...any) (json.RawMessage, error) {
	if c.closed.Load() {
		return nil, ErrClosed
	}
	if !c.circuit.Allow() {
		return nil, fmt.Errorf("%w: %s", ErrCircuitOpen, function)
	}

	atomic.AddInt64(&c.requestCount, 1)

	callCtx, cancel := WithTimeout(ctx, c.config.RequestTimeout)
	defer cancel()

	if args == nil {
		args = []any{}
	}

	var result json.RawMessage
	err := c.conn.Call(callCtx, MethodInvoke, InvokeParams{Function: function, Args: args}, &result)

	var rpcErr *jsonrpc2.Error
	if errors.As(err, &rpcErr) {
		err = &ScriptError{Function: function, Message: rpcErr.Message}
	}
	c.circuit.Record(err)

	switch {
	case err == nil:
		return result, nil
	case rpcErr != nil:
		return nil, err
	}

	atomic.AddInt64(&c.errorCount, 1)
	log.Debug("invoke failed", "function", function, "error", err)
	return nil, fmt.Errorf("invoke %s: %w", function, err)
}

// Render pushes markup for a slot to the page.
func (c *Client) Render(ctx context.Context, slot, html string) error {
	if c.closed.Load() {
		return ErrClosed
	}
	return c.conn.Notify(ctx, MethodRender, RenderParams{Slot: slot, HTML: html})
}

// DisconnectNotify is closed when the underlying connection goes away.
func (c *Client) DisconnectNotify() <-chan struct{} {
	return c.conn.DisconnectNotify()
}

func (c *Client) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	// the peer may already have hung up
	if err := c.conn.Close(); err != nil && !errors.Is(err, jsonrpc2.ErrClosed) {
		return err
	}
	return nil
}

type ClientStats struct {
	RequestCount int64        `json:"request_count"`
	ErrorCount   int64        `json:"error_count"`
	Circuit      CircuitState `json:"circuit"`
	CircuitTrips int          `json:"circuit_trips"`
}

func (c *Client) Stats() ClientStats {
	return ClientStats{
		RequestCount: atomic.LoadInt64(&c.requestCount),
		ErrorCount:   atomic.LoadInt64(&c.errorCount),
		Circuit:      c.circuit.State(),
		CircuitTrips: c.circuit.Trips(),
	}
}

func WithTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
