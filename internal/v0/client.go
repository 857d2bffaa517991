// Package v0 is a client for the site generation platform's REST API: projects, chats and
// their generated versions, deployments and aliases.
//
// Responses are decoded tolerantly. The platform has answered with bare objects ({"id":...}),
// objects nested under the resource name ({"chat":{...}}) and data envelopes ({"data":{...}})
// over time, and every shape is accepted.
package v0

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/site-rebuilder/internal/faults"
	"github.com/JakeFAU/site-rebuilder/internal/httpclient"
	"github.com/JakeFAU/site-rebuilder/internal/logging"
)

// DefaultBaseURL is the public API root.
const DefaultBaseURL = "https://api.v0.dev/v1"

// Version statuses reported on a chat's latest version.
const (
	VersionCompleted = "completed"
	VersionFailed    = "failed"
)

// Project is a remote project.
type Project struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
}

// Version is one generated revision of a chat.
type Version struct {
	ID     string          `json:"id"`
	Status string          `json:"status"`
	Errors json.RawMessage `json:"errors,omitempty"`
}

// Chat is a generation conversation under a project.
type Chat struct {
	ID            string   `json:"id"`
	WebURL        string   `json:"webUrl,omitempty"`
	LatestVersion *Version `json:"latestVersion,omitempty"`
}

// VersionStatus returns the latest version's status, or "missing".
func (c Chat) VersionStatus() string {
	if c.LatestVersion == nil || c.LatestVersion.Status == "" {
		return "missing"
	}
	return c.LatestVersion.Status
}

// Deployment is a hosted build of a chat version. Raw keeps the record as the platform sent
// it.
type Deployment struct {
	ID           string          `json:"id"`
	Status       string          `json:"status,omitempty"`
	WebURL       string          `json:"webUrl,omitempty"`
	InspectorURL string          `json:"inspectorUrl,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// Record returns the deployment as JSON. The platform's own record is kept as sent, with
// id, status and URLs filled in where it left them out.
func (d Deployment) Record() ([]byte, error) {
	if len(d.Raw) == 0 {
		return json.Marshal(d)
	}
	var fields map[string]any
	if err := json.Unmarshal(d.Raw, &fields); err != nil {
		return nil, fmt.Errorf("decode deployment record: %w", err)
	}
	for key, value := range map[string]string{
		"id":           d.ID,
		"status":       d.Status,
		"webUrl":       d.WebURL,
		"inspectorUrl": d.InspectorURL,
	} {
		if existing, ok := fields[key].(string); value != "" && (!ok || existing == "") {
			fields[key] = value
		}
	}
	return json.Marshal(fields)
}

// DeploymentRequest references the version to deploy.
type DeploymentRequest struct {
	ProjectID string `json:"projectId"`
	ChatID    string `json:"chatId"`
	VersionID string `json:"versionId"`
}

// Alias is an assigned domain alias.
type Alias struct {
	Alias string `json:"alias"`
	URL   string `json:"url,omitempty"`
}

// Client talks to the platform through the resilient HTTP client.
type Client struct {
	http    *httpclient.Client
	baseURL string
	logger  *zap.Logger
}

// New returns a Client. An empty baseURL selects DefaultBaseURL.
func New(client *httpclient.Client, baseURL string, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{http: client, baseURL: baseURL, logger: logging.OrNop(logger).Named("v0")}
}

// CreateProject creates a project named name.
func (c *Client) CreateProject(ctx context.Context, name, idempotencyKey string) (Project, error) {
	var p Project
	if err := c.post(ctx, "/projects", map[string]string{"name": name}, idempotencyKey, nil, &p, "project"); err != nil {
		return Project{}, err
	}
	if p.ID == "" {
		return Project{}, fmt.Errorf("%w: project creation returned no id", faults.ErrPermanentRemote)
	}
	return p, nil
}

// CreateChat starts a chat under projectID with message as the first prompt.
func (c *Client) CreateChat(ctx context.Context, projectID, message, idempotencyKey string) (Chat, error) {
	body := map[string]string{"projectId": projectID, "message": message}
	var chat Chat
	if err := c.post(ctx, "/chats", body, idempotencyKey, nil, &chat, "chat"); err != nil {
		return Chat{}, err
	}
	if chat.ID == "" {
		return Chat{}, fmt.Errorf("%w: chat creation returned no id", faults.ErrPermanentRemote)
	}
	return chat, nil
}

// GetChat fetches the chat detail including its latest version.
func (c *Client) GetChat(ctx context.Context, chatID string) (Chat, error) {
	var chat Chat
	if err := c.get(ctx, "/chats/"+url.PathEscape(chatID), &chat, "chat"); err != nil {
		return Chat{}, err
	}
	return chat, nil
}

// CreateDeployment deploys a chat version. It is sent once: the first answer is
// authoritative and a retry could start a second deployment.
func (c *Client) CreateDeployment(ctx context.Context, req DeploymentRequest, idempotencyKey string) (Deployment, error) {
	var d Deployment
	raw, err := c.postRaw(ctx, "/deployments", req, idempotencyKey, httpclient.SingleAttempt(), "deployment")
	if err != nil {
		return Deployment{}, err
	}
	if err := decodeDeployment(raw, &d); err != nil {
		return Deployment{}, err
	}
	if d.ID == "" {
		return Deployment{}, fmt.Errorf("%w: deployment response missing id", faults.ErrPermanentRemote)
	}
	return d, nil
}

// GetDeployment fetches the current state of a deployment.
func (c *Client) GetDeployment(ctx context.Context, deploymentID string) (Deployment, error) {
	resp, err := c.http.Do(ctx, http.MethodGet, "/deployments/"+url.PathEscape(deploymentID), httpclient.Options{BaseURL: c.baseURL})
	if err != nil {
		return Deployment{}, err
	}
	raw, err := unwrap(resp.Body, "deployment")
	if err != nil {
		return Deployment{}, err
	}
	var d Deployment
	if err := decodeDeployment(raw, &d); err != nil {
		return Deployment{}, err
	}
	if d.ID == "" {
		d.ID = deploymentID
	}
	return d, nil
}

// GetDeploymentErrors returns the error entries reported for a deployment. The endpoint
// answers with a bare array or an object wrapping one under "data" or "errors".
func (c *Client) GetDeploymentErrors(ctx context.Context, deploymentID string) ([]json.RawMessage, error) {
	resp, err := c.http.Do(ctx, http.MethodGet, "/deployments/"+url.PathEscape(deploymentID)+"/errors", httpclient.Options{BaseURL: c.baseURL})
	if err != nil {
		return nil, err
	}
	return decodeErrorList(resp.Body)
}

// AssignAlias points alias at a deployment.
func (c *Client) AssignAlias(ctx context.Context, deploymentID, alias string) (Alias, error) {
	body := map[string]string{"deploymentId": deploymentID, "alias": alias}
	var out Alias
	if err := c.post(ctx, "/aliases", body, "", nil, &out, "alias"); err != nil {
		return Alias{}, err
	}
	if out.Alias == "" {
		out.Alias = alias
	}
	if out.URL == "" {
		out.URL = "https://" + out.Alias
	}
	return out, nil
}

func (c *Client) post(ctx context.Context, path string, body any, idempotencyKey string, retry *httpclient.RetryPolicy, out any, names ...string) error {
	raw, err := c.postRaw(ctx, path, body, idempotencyKey, retry, names...)
	if err != nil {
		return err
	}
	return decode(raw, out)
}

func (c *Client) postRaw(ctx context.Context, path string, body any, idempotencyKey string, retry *httpclient.RetryPolicy, names ...string) (json.RawMessage, error) {
	resp, err := c.http.Do(ctx, http.MethodPost, path, httpclient.Options{
		BaseURL:        c.baseURL,
		Body:           body,
		IdempotencyKey: idempotencyKey,
		Retry:          retry,
	})
	if err != nil {
		return nil, err
	}
	c.logger.Debug("platform call", zap.String("path", path), zap.Int("status", resp.Status))
	return unwrap(resp.Body, names...)
}

func (c *Client) get(ctx context.Context, path string, out any, names ...string) error {
	resp, err := c.http.Do(ctx, http.MethodGet, path, httpclient.Options{BaseURL: c.baseURL})
	if err != nil {
		return err
	}
	raw, err := unwrap(resp.Body, names...)
	if err != nil {
		return err
	}
	return decode(raw, out)
}

// unwrap returns the resource object inside body. A top-level "id" wins; otherwise the first
// object found under one of names or "data" is returned. Bodies without either are returned
// as they are.
func unwrap(body []byte, names ...string) (json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return json.RawMessage("{}"), nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return nil, fmt.Errorf("%w: expected a JSON object, got %.80q", faults.ErrPermanentRemote, trimmed)
	}
	var top map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trimmed), &top); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if _, ok := top["id"]; ok {
		return json.RawMessage(trimmed), nil
	}
	candidates := append(append([]string(nil), names...), "data")
	for _, name := range candidates {
		if inner, ok := top[name]; ok && isObject(inner) {
			return inner, nil
		}
	}
	return json.RawMessage(trimmed), nil
}

func isObject(raw json.RawMessage) bool {
	return strings.HasPrefix(strings.TrimSpace(string(raw)), "{")
}

func decode(raw json.RawMessage, out any) error {
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeDeployment(raw json.RawMessage, d *Deployment) error {
	if err := decode(raw, d); err != nil {
		return err
	}
	d.Raw = append(json.RawMessage(nil), raw...)
	return nil
}

func decodeErrorList(body []byte) ([]json.RawMessage, error) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return nil, nil
	}
	var list []json.RawMessage
	if strings.HasPrefix(trimmed, "[") {
		if err := json.Unmarshal([]byte(trimmed), &list); err != nil {
			return nil, fmt.Errorf("decode deployment errors: %w", err)
		}
		return list, nil
	}
	var wrapped struct {
		Data   []json.RawMessage `json:"data"`
		Errors []json.RawMessage `json:"errors"`
	}
	if err := json.Unmarshal([]byte(trimmed), &wrapped); err != nil {
		return nil, fmt.Errorf("decode deployment errors: %w", err)
	}
	if len(wrapped.Data) > 0 {
		return wrapped.Data, nil
	}
	return wrapped.Errors, nil
}

// Describe renders one error entry for humans: a bare string, the "message" field of an
// object, or the raw JSON cut to faults.MaxBodySnippet runes.
func Describe(entry json.RawMessage) string {
	var s string
	if err := json.Unmarshal(entry, &s); err == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(entry, &obj); err == nil {
		if obj.Message != "" {
			return obj.Message
		}
		if obj.Error != "" {
			return obj.Error
		}
	}
	return faults.Snippet(string(entry))
}
