package bridge

import (
	"context"
	"encoding/json"
	"fmt"
)

// Invoker is the JS execution bridge: it calls a globally addressable
// function in the page and returns its JSON-encoded result.
type Invoker interface {
	Invoke(ctx context.Context, function string, args ...any) (json.RawMessage, error)
}

// Functions the in-page agent provides.
const (
	FuncLoadScript = "mfhost.loadScript"
	FuncLoadCSS    = "mfhost.loadCss"
)

// Methods on the wire.
const (
	MethodInvoke          = "invoke"
	MethodRender          = "slot/render"
	MethodLocationChanged = "location/changed"
	MethodFragmentError   = "fragment/error"
	MethodHello           = "host/hello"
	MethodPing            = "ping"
)

type InvokeParams struct {
	Function string `json:"function"`
	Args     []any  `json:"args"`
}

type RenderParams struct {
	Slot string `json:"slot"`
	HTML string `json:"html"`
}

type LocationChangedParams struct {
	URL         string `json:"url"`
	Intercepted bool   `json:"intercepted"`
}

type FragmentErrorParams struct {
	Message      string `json:"message"`
	Source       string `json:"source"`
	LineNumber   int    `json:"lineNumber,omitempty"`
	ColumnNumber int    `json:"columnNumber,omitempty"`
}

// HelloParams is the first request the page sends after connecting.
type HelloParams struct {
	URL       string `json:"url"`
	UserAgent string `json:"userAgent,omitempty"`
}

type HelloResult struct {
	SessionID string `json:"sessionId"`
	BaseURL   string `json:"baseUrl"`
}

// ScriptError is returned when the page ran the function and it threw.
type ScriptError struct {
	Function string
	Message  string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("%s: %s", e.Function, e.Message)
}
