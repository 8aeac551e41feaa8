package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"

	"github.com/coder/websocket"
)

// Client talks to a running daemon over its unix socket.
type Client struct {
	socketPath string
	http       *http.Client
	token      string
}

func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		http: &http.Client{
			Transport: &http.Transport{
				DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
					return net.Dial("unix", socketPath)
				},
			},
		},
	}
}

// Connect mints a bearer token for this client instance. Must be called
// before any other method.
func (c *Client) Connect(clientName string) error {
	body, _ := json.Marshal(map[string]string{"client": clientName})
	resp, err := c.http.Post("http://perchd/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("is perchd running? %w", err)
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return err
	}
	var out struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decode token response: %w", err)
	}
	c.token = out.Token
	return nil
}

func (c *Client) request(method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequest(method, "http://perchd"+path, body)
	if err != nil {
		return nil, err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	return c.http.Do(req)
}

func (c *Client) getJSON(path string, out any) error {
	resp, err := c.request(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, http.StatusOK); err != nil {
		return err
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *Client) postJSON(path string, body any, wantStatus int, out any) error {
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	resp, err := c.request(http.MethodPost, path, &buf)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := checkStatus(resp, wantStatus); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func checkStatus(resp *http.Response, want int) error {
	if resp.StatusCode == want {
		return nil
	}
	var e struct {
		Error string `json:"error"`
	}
	json.NewDecoder(resp.Body).Decode(&e)
	if e.Error != "" {
		return fmt.Errorf("daemon: %s", e.Error)
	}
	return fmt.Errorf("daemon returned status %d", resp.StatusCode)
}

func (c *Client) CreateSession() (*SessionInfo, error) {
	var s SessionInfo
	if err := c.postJSON("/sessions", nil, http.StatusCreated, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) ListSessions() ([]SessionInfo, error) {
	var out []SessionInfo
	if err := c.getJSON("/sessions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) GetSession(id string) (*SessionInfo, error) {
	var s SessionInfo
	if err := c.getJSON("/sessions/"+id, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) DeleteSession(id string) error {
	resp, err := c.request(http.MethodDelete, "/sessions/"+id, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

func (c *Client) RenameSession(id, name string) (*SessionInfo, error) {
	var s SessionInfo
	if err := c.postJSON("/sessions/"+id+"/rename", map[string]string{"name": name}, http.StatusOK, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *Client) FinalizeSession(id string) error {
	return c.postJSON("/sessions/"+id+"/finalize", nil, http.StatusOK, nil)
}

func (c *Client) ArchiveSession(id string) error {
	return c.postJSON("/sessions/"+id+"/archive", nil, http.StatusOK, nil)
}

func (c *Client) SendMessage(id, text string) (string, error) {
	var out struct {
		Reply string `json:"reply"`
	}
	if err := c.postJSON("/sessions/"+id+"/messages", map[string]string{"text": text}, http.StatusOK, &out); err != nil {
		return "", err
	}
	return out.Reply, nil
}

func (c *Client) Interrupt(id string) error {
	return c.postJSON("/sessions/"+id+"/interrupt", nil, http.StatusOK, nil)
}

func (c *Client) UploadFile(id, name string, r io.Reader) error {
	req, err := http.NewRequest(http.MethodPut, "http://perchd/sessions/"+id+"/files/"+name, r)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusCreated)
}

func (c *Client) ListFiles(id string) ([]string, error) {
	var out []string
	if err := c.getJSON("/sessions/"+id+"/files", &out); err != nil {
		return nil, err
	}
	return out, nil
}

type PermissionRule struct {
	Tool      string `json:"tool"`
	Verdict   string `json:"verdict"`
	UpdatedAt string `json:"updated_at"`
}

func (c *Client) ListPermissions() ([]PermissionRule, error) {
	var out []PermissionRule
	if err := c.getJSON("/permissions", &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) PutPermission(tool, verdict string) error {
	var buf bytes.Buffer
	json.NewEncoder(&buf).Encode(map[string]string{"verdict": verdict})
	req, err := http.NewRequest(http.MethodPut, "http://perchd/permissions/"+tool, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

func (c *Client) DeletePermission(tool string) error {
	resp, err := c.request(http.MethodDelete, "/permissions/"+tool, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return checkStatus(resp, http.StatusOK)
}

// DialWS opens the live chat channel for a session.
func (c *Client) DialWS(ctx context.Context, sessionID string) (*websocket.Conn, error) {
	url := "http://perchd/ws?session=" + sessionID + "&token=" + c.token
	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient: c.http,
	})
	if err != nil {
		return nil, fmt.Errorf("dial ws: %w", err)
	}
	return conn, nil
}
