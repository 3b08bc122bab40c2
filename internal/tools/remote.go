package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/soyeahso/conductor/internal/version"
)

// Wire types of the tool server protocol: GET /tools lists descriptors and
// POST /execute runs one tool.

// ListResponse is the body of GET /tools.
type ListResponse struct {
	Tools []ToolDef `json:"tools"`
}

// ExecuteRequest is the body of POST /execute.
type ExecuteRequest struct {
	Tool       string         `json:"tool"`
	Parameters map[string]any `json:"parameters,omitempty"`
}

// ExecuteResponse is the body returned by POST /execute.
type ExecuteResponse struct {
	Result any        `json:"result,omitempty"`
	Error  *ErrorBody `json:"error,omitempty"`
}

// ErrorBody is the error object of a failed execution.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error codes used in ErrorBody.
const (
	CodeToolNotFound  = "tool_not_found"
	CodeInvalidParams = "invalid_params"
	CodeExecution     = "execution_failed"
	CodeUnauthorized  = "unauthorized"
)

// RemoteError is a failure reported by a tool server.
type RemoteError struct {
	Status  int
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("tool server (%d) %s: %s", e.Status, e.Code, e.Message)
}

// Remote executes tools on a tool server over HTTP.
type Remote struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewRemote creates a client for the tool server at baseURL. A non-empty
// token is sent as a bearer credential.
func NewRemote(baseURL, token string, client *http.Client) *Remote {
	if client == nil {
		client = &http.Client{Timeout: 5 * time.Minute}
	}
	return &Remote{baseURL: strings.TrimRight(baseURL, "/"), token: token, client: client}
}

// Definitions fetches the server's tool descriptors.
func (r *Remote) Definitions(ctx context.Context) ([]ToolDef, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.baseURL+"/tools", nil)
	if err != nil {
		return nil, err
	}
	var out ListResponse
	if err := r.do(req, &out); err != nil {
		return nil, err
	}
	return out.Tools, nil
}

// Execute runs a tool on the server. A tool the server does not know
// reports ErrToolNotFound.
func (r *Remote) Execute(ctx context.Context, tool string, params map[string]any) (any, error) {
	body, err := json.Marshal(ExecuteRequest{Tool: tool, Parameters: params})
	if err != nil {
		return nil, fmt.Errorf("encoding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/execute", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var out ExecuteResponse
	if err := r.do(req, &out); err != nil {
		return nil, err
	}
	return out.Result, nil
}

func (r *Remote) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", version.UserAgent())
	if r.token != "" {
		req.Header.Set("Authorization", "Bearer "+r.token)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("tool server request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("reading tool server response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var eb ExecuteResponse
		if json.Unmarshal(data, &eb) == nil && eb.Error != nil {
			if eb.Error.Code == CodeToolNotFound {
				return fmt.Errorf("%w: %s", ErrToolNotFound, eb.Error.Message)
			}
			return &RemoteError{Status: resp.StatusCode, Code: eb.Error.Code, Message: eb.Error.Message}
		}
		return &RemoteError{Status: resp.StatusCode, Code: http.StatusText(resp.StatusCode), Message: strings.TrimSpace(string(data))}
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decoding tool server response: %w", err)
	}
	if er, ok := out.(*ExecuteResponse); ok && er.Error != nil {
		return &RemoteError{Status: resp.StatusCode, Code: er.Error.Code, Message: er.Error.Message}
	}
	return nil
}
