package adminclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/cuemby/stark/pkg/types"
)

// Client talks to a running orchestrator's pkg/adminapi REST surface.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client against addr, e.g. "https://127.0.0.1:8443".
func NewClient(addr string) *Client {
	return &Client{
		baseURL: addr,
		http:    &http.Client{Timeout: 15 * time.Second},
	}
}

// ErrorResponse is the error envelope pkg/adminapi's respondErr writes.
// Kind mirrors one of starkerr's taxonomy names.
type ErrorResponse struct {
	Kind       string
	Message    string
	StatusCode int
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// ExitCode maps the error's kind to the exit codes the CLI surface commits
// to: 0 success, 1 user error, 2 auth, 3 transient, 4 conflict.
func (e *ErrorResponse) ExitCode() int {
	switch e.Kind {
	case "AuthError", "PolicyDenied":
		return 2
	case "Conflict":
		return 4
	case "Timeout", "Cancelled", "TransportClosed", "ResourceExhausted":
		return 3
	default:
		return 1
	}
}

func (c *Client) do(ctx context.Context, method, path string, body any, out any) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return &ErrorResponse{Kind: "TransportClosed", Message: err.Error()}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errResp struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		return &ErrorResponse{Kind: errResp.Error, Message: errResp.Message, StatusCode: resp.StatusCode}
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// RegisterNode registers a new node and returns the created row.
func (c *Client) RegisterNode(ctx context.Context, name string, runtimeType types.RuntimeType, capabilities []string) (*types.Node, error) {
	var node types.Node
	req := map[string]any{
		"name":         name,
		"runtimeType":  runtimeType,
		"capabilities": capabilities,
	}
	if err := c.do(ctx, http.MethodPost, "/nodes", req, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// CordonNode marks a node unschedulable without touching its running pods.
func (c *Client) CordonNode(ctx context.Context, id string) (*types.Node, error) {
	var node types.Node
	if err := c.do(ctx, http.MethodPost, "/nodes/"+url.PathEscape(id)+"/cordon", nil, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// DrainNode marks a node draining so the scheduler evacuates its pods.
func (c *Client) DrainNode(ctx context.Context, id string) (*types.Node, error) {
	var node types.Node
	if err := c.do(ctx, http.MethodPost, "/nodes/"+url.PathEscape(id)+"/drain", nil, &node); err != nil {
		return nil, err
	}
	return &node, nil
}

// ListNodes returns every registered node.
func (c *Client) ListNodes(ctx context.Context) ([]*types.Node, error) {
	var resp struct {
		Nodes []*types.Node `json:"nodes"`
	}
	if err := c.do(ctx, http.MethodGet, "/nodes", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Nodes, nil
}

// CreateServiceRequest carries the fields stark service create accepts.
type CreateServiceRequest struct {
	Name        string            `json:"name"`
	Namespace   string            `json:"namespace"`
	PackID      string            `json:"packId"`
	PackVersion string            `json:"packVersion"`
	Replicas    int               `json:"replicas"`
	Labels      map[string]string `json:"labels,omitempty"`
	Scheduling  types.Scheduling  `json:"scheduling"`
	Resources   types.Resources   `json:"resources"`
	Visibility  types.Visibility  `json:"visibility"`
	Exposed     bool              `json:"exposed"`
	IngressPort int               `json:"ingressPort,omitempty"`
}

// CreateService creates a new service.
func (c *Client) CreateService(ctx context.Context, req CreateServiceRequest) (*types.Service, error) {
	var svc types.Service
	if err := c.do(ctx, http.MethodPost, "/services", req, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// ScaleService changes a service's target replica count.
func (c *Client) ScaleService(ctx context.Context, id string, replicas int) (*types.Service, error) {
	var svc types.Service
	req := map[string]int{"replicas": replicas}
	if err := c.do(ctx, http.MethodPut, "/services/"+url.PathEscape(id)+"/scale", req, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// RolloutService starts a rolling update to packVersion.
func (c *Client) RolloutService(ctx context.Context, id, packVersion string) (*types.Service, error) {
	var svc types.Service
	req := map[string]string{"packVersion": packVersion}
	if err := c.do(ctx, http.MethodPost, "/services/"+url.PathEscape(id)+"/rollout", req, &svc); err != nil {
		return nil, err
	}
	return &svc, nil
}

// GetServiceByName finds a service by name, since the CLI surface takes
// names where the REST surface keys on ID.
func (c *Client) GetServiceByName(ctx context.Context, name string) (*types.Service, error) {
	var resp struct {
		Services []*types.Service `json:"services"`
	}
	if err := c.do(ctx, http.MethodGet, "/services", nil, &resp); err != nil {
		return nil, err
	}
	for _, svc := range resp.Services {
		if svc.Name == name {
			return svc, nil
		}
	}
	return nil, &ErrorResponse{Kind: "NotFound", Message: "no service named " + name}
}

// SetNetworkPolicy creates an allow or deny rule between two services,
// resolving their names to IDs first since §4.7's rule rows are keyed on ID.
func (c *Client) SetNetworkPolicy(ctx context.Context, sourceName, targetName string, action types.PolicyAction) (*types.NetworkPolicy, error) {
	source, err := c.GetServiceByName(ctx, sourceName)
	if err != nil {
		return nil, fmt.Errorf("resolve source service %q: %w", sourceName, err)
	}
	target, err := c.GetServiceByName(ctx, targetName)
	if err != nil {
		return nil, fmt.Errorf("resolve target service %q: %w", targetName, err)
	}

	var policy types.NetworkPolicy
	req := map[string]any{
		"sourceService": source.ID,
		"targetService": target.ID,
		"action":        action,
	}
	if err := c.do(ctx, http.MethodPost, "/network-policies", req, &policy); err != nil {
		return nil, err
	}
	return &policy, nil
}
