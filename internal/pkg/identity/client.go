package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/provado-app/provado/internal/pkg/env"
)

// Client talks to the hosted identity directory's admin API: user lookup by
// email, metadata updates and email-based signup invitations.
type Client struct {
	BaseURL    string
	ServiceKey string

	HTTPClient *http.Client
}

// DirectoryUser is the directory's view of an account.
type DirectoryUser struct {
	ID          string                 `json:"id"`
	Email       string                 `json:"email"`
	AppMetadata map[string]interface{} `json:"app_metadata"`
	CreatedAt   string                 `json:"created_at"`
}

// Invitation is the result of an invite call.
type Invitation struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	InvitedAt string `json:"invited_at"`
	ActionURL string `json:"action_link"`
}

func NewClientFromEnv() *Client {
	return &Client{
		BaseURL:    strings.TrimRight(env.GetEnv("IDENTITY_API_URL", ""), "/"),
		ServiceKey: strings.TrimSpace(env.GetEnv("IDENTITY_SERVICE_KEY", "")),
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	req.Header.Set("Authorization", "Bearer "+c.ServiceKey)
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return body, resp.StatusCode, nil
}

// GetUserByEmail resolves an email to a directory user. A missing user is not
// an error: the result is (nil, nil).
func (c *Client) GetUserByEmail(ctx context.Context, email string) (*DirectoryUser, error) {
	if strings.TrimSpace(c.BaseURL) == "" || strings.TrimSpace(c.ServiceKey) == "" {
		return nil, errors.New("IDENTITY_API_URL/IDENTITY_SERVICE_KEY are not configured")
	}
	addr := strings.TrimSpace(email)
	if addr == "" {
		return nil, errors.New("email is required")
	}

	u := c.BaseURL + "/admin/users?email=" + url.QueryEscape(addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	body, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status == http.StatusNotFound {
		return nil, nil
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("identity user lookup failed: status=%d body=%s", status, string(body))
	}

	var out struct {
		Users []DirectoryUser `json:"users"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if len(out.Users) == 0 {
		return nil, nil
	}
	return &out.Users[0], nil
}

// UpdateUserMetadata merges app metadata into the directory user record.
// The directory applies the patch idempotently, so re-running after a partial
// provisioning failure is safe.
func (c *Client) UpdateUserMetadata(ctx context.Context, userID string, metadata map[string]interface{}) error {
	if strings.TrimSpace(userID) == "" {
		return errors.New("user id is required")
	}

	payload, err := json.Marshal(map[string]interface{}{"app_metadata": metadata})
	if err != nil {
		return err
	}

	u := c.BaseURL + "/admin/users/" + url.PathEscape(userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, u, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return err
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("identity metadata update failed: status=%d body=%s", status, string(body))
	}
	return nil
}

// CreateInvitation issues an email-based signup link carrying payment
// metadata as claim context. Inviting an already-invited email returns the
// existing invitation rather than failing.
func (c *Client) CreateInvitation(ctx context.Context, email, redirectTo string, metadata map[string]interface{}) (*Invitation, error) {
	addr := strings.TrimSpace(email)
	if addr == "" {
		return nil, errors.New("email is required")
	}

	payload, err := json.Marshal(map[string]interface{}{
		"email":       addr,
		"redirect_to": redirectTo,
		"data":        metadata,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/invite", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	body, status, err := c.do(req)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, fmt.Errorf("identity invitation failed: status=%d body=%s", status, string(body))
	}

	var out Invitation
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("identity invitation response missing id")
	}
	return &out, nil
}
