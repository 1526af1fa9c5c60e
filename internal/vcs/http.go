package vcs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/autoloop-io/autoloop/internal/domain"
)

// HTTPClient talks to a provider bridge service over JSON/HTTP. The
// bridge holds the OAuth tokens; this process never stores credentials.
type HTTPClient struct {
	client  *http.Client
	baseURL string
}

func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPClient{
		client:  &http.Client{Timeout: timeout},
		baseURL: baseURL,
	}
}

var _ Client = (*HTTPClient)(nil)

func (c *HTTPClient) Connect(ctx context.Context, authorizationCode string) (Account, error) {
	var out Account
	err := c.do(ctx, http.MethodPost, "/connect", map[string]string{"code": authorizationCode}, &out)
	return out, err
}

func (c *HTTPClient) ListRepositories(ctx context.Context) ([]RepoRef, error) {
	var out []RepoRef
	err := c.do(ctx, http.MethodGet, "/repositories", nil, &out)
	return out, err
}

func (c *HTTPClient) CreateRepository(ctx context.Context, name string, private bool) (RepoRef, error) {
	var out RepoRef
	err := c.do(ctx, http.MethodPost, "/repositories", map[string]any{"name": name, "private": private}, &out)
	return out, err
}

func (c *HTTPClient) LinkRepository(ctx context.Context, automationID uuid.UUID, repo RepoRef) error {
	return c.do(ctx, http.MethodPost, "/links/"+automationID.String(), repo, nil)
}

func (c *HTTPClient) UnlinkRepository(ctx context.Context, automationID uuid.UUID) error {
	return c.do(ctx, http.MethodDelete, "/links/"+automationID.String(), nil, nil)
}

func (c *HTTPClient) Disconnect(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/disconnect", nil, nil)
}

type pushBody struct {
	Repo          RepoRef           `json:"repo"`
	SemVer        string            `json:"semver"`
	CommitMessage string            `json:"commit_message"`
	Files         []domain.CodeFile `json:"files"`
	Dependencies  []string          `json:"dependencies"`
	EnvVarNames   []string          `json:"env_var_names"`
}

func (c *HTTPClient) Push(ctx context.Context, req PushRequest) error {
	files := req.Code.Files
	if !req.Code.MultiFile() {
		files = []domain.CodeFile{{Name: "main", Content: req.Code.Inline}}
	}
	return c.do(ctx, http.MethodPost, "/push", pushBody{
		Repo:          req.Repo,
		SemVer:        req.SemVer,
		CommitMessage: req.CommitMessage,
		Files:         files,
		Dependencies:  req.Dependencies,
		EnvVarNames:   req.EnvVarNames,
	}, nil)
}

func (c *HTTPClient) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal: %w", err)
		}
		rd = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rd)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("vcs bridge: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return domain.ErrNotFound
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("vcs bridge: %s %s returned %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
