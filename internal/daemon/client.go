package daemon

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/jcdickinson/ferrisindex/internal/rpc"
)

type Client struct {
	socketPath string
	httpClient *http.Client
}

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					var d net.Dialer
					return d.DialContext(ctx, "unix", socketPath)
				},
			},
			Timeout: 5 * time.Minute, // large doc roots load slowly
		},
	}
}

// StatusError is a non-200 reply from the daemon.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("daemon returned %d: %s", e.Code, e.Message)
}

// ConnectOrSpawn tries to connect to the daemon, spawning it if necessary.
func ConnectOrSpawn(socketPath string) (*Client, error) {
	client := NewClient(socketPath)
	if client.IsAvailable() {
		return client, nil
	}

	if err := spawn(); err != nil {
		return nil, fmt.Errorf("spawning daemon: %w", err)
	}
	if !client.waitAvailable(5*time.Second, 100*time.Millisecond) {
		return nil, fmt.Errorf("daemon did not start within 5 seconds")
	}
	return client, nil
}

// spawn starts "<self> daemon" in its own session so it outlives the caller.
func spawn() error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("finding executable path: %w", err)
	}

	cmd := exec.Command(exe, "daemon")
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("starting daemon: %w", err)
	}
	return cmd.Process.Release()
}

func (c *Client) IsAvailable() bool {
	conn, err := net.DialTimeout("unix", c.socketPath, 100*time.Millisecond)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

// WaitAvailable polls until the socket accepts connections or timeout passes.
func (c *Client) WaitAvailable(timeout time.Duration) bool {
	return c.waitAvailable(timeout, 50*time.Millisecond)
}

func (c *Client) waitAvailable(timeout, every time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		time.Sleep(every)
		if c.IsAvailable() {
			return true
		}
	}
	return false
}

// Load streams a load request, reporting progress lines as they arrive.
func (c *Client) Load(ctx context.Context, load rpc.LoadRequest, onProgress func(string)) (*rpc.LoadResponse, error) {
	resp, err := c.do(ctx, http.MethodPost, "/load", load)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var result rpc.LoadResponse
	dec := json.NewDecoder(resp.Body)
	for dec.More() {
		var line rpc.ProgressLine
		if err := dec.Decode(&line); err != nil {
			return nil, fmt.Errorf("decoding progress: %w", err)
		}
		switch line.Type {
		case "progress":
			if onProgress != nil {
				onProgress(line.Message)
			}
		case "result":
			if line.Result != nil {
				result.Results = append(result.Results, *line.Result)
			}
		}
	}
	return &result, nil
}

func (c *Client) Implementors(ctx context.Context, req rpc.ImplementorsRequest) (*rpc.ImplementorsResponse, error) {
	return call[rpc.ImplementorsResponse](ctx, c, http.MethodPost, "/implementors", req)
}

func (c *Client) TraitsForType(ctx context.Context, req rpc.TraitsForTypeRequest) (*rpc.TraitsForTypeResponse, error) {
	return call[rpc.TraitsForTypeResponse](ctx, c, http.MethodPost, "/traits-for-type", req)
}

func (c *Client) Sidebar(ctx context.Context, req rpc.SidebarRequest) (*rpc.SidebarResponse, error) {
	return call[rpc.SidebarResponse](ctx, c, http.MethodPost, "/sidebar", req)
}

func (c *Client) Search(ctx context.Context, req rpc.SearchRequest) (*rpc.SearchResponse, error) {
	return call[rpc.SearchResponse](ctx, c, http.MethodPost, "/search", req)
}

func (c *Client) Export(ctx context.Context, req rpc.ExportRequest) (*rpc.ExportResponse, error) {
	return call[rpc.ExportResponse](ctx, c, http.MethodPost, "/export", req)
}

func (c *Client) Status(ctx context.Context) (*rpc.StatusResponse, error) {
	return call[rpc.StatusResponse](ctx, c, http.MethodGet, "/status", nil)
}

func (c *Client) Forget(ctx context.Context, source string) (*rpc.ForgetResponse, error) {
	return call[rpc.ForgetResponse](ctx, c, http.MethodPost, "/forget", rpc.ForgetRequest{Source: source})
}

func (c *Client) Clear(ctx context.Context) error {
	_, err := call[map[string]string](ctx, c, http.MethodPost, "/clear", nil)
	return err
}

// Shutdown asks the daemon to exit. The daemon may drop the connection
// before the reply arrives.
func (c *Client) Shutdown(ctx context.Context) error {
	_, err := call[map[string]string](ctx, c, http.MethodPost, "/shutdown", nil)
	return err
}

func call[T any](ctx context.Context, c *Client, method, path string, body any) (*T, error) {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out T
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", path, err)
	}
	return &out, nil
}

// do sends one request and returns the response when the daemon answered
// 200. Any other status is returned as a *StatusError.
func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshaling request: %w", err)
		}
		reader = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequestWithContext(ctx, method, "http://unix"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sending request: %w", err)
	}
	if resp.StatusCode == http.StatusOK {
		return resp, nil
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	var reply struct {
		Error string `json:"error"`
	}
	msg := string(bytes.TrimSpace(respBody))
	if json.Unmarshal(respBody, &reply) == nil && reply.Error != "" {
		msg = reply.Error
	}
	return nil, &StatusError{Code: resp.StatusCode, Message: msg}
}
