// Package identity resolves application-level roles from the external
// identity service.
//
// The resolver treats this service as advisory: lookup failures are reported
// to the caller, who logs them and continues the waterfall with the roles
// already present on the token.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/colinmxs/spendgate/internal/quota"
	"github.com/colinmxs/spendgate/internal/retry"
)

// Static serves a fixed role mapping. Used in demo mode and tests.
type Static struct {
	roles map[string][]string
}

// NewStatic creates a static resolver from a userID -> app roles map.
func NewStatic(roles map[string][]string) *Static {
	if roles == nil {
		roles = make(map[string][]string)
	}
	return &Static{roles: roles}
}

func (s *Static) AppRoles(_ context.Context, p quota.Principal) ([]string, error) {
	return s.roles[p.UserID], nil
}

// Client fetches app roles over HTTP from the permissions service.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a permissions service client for baseURL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 5 * time.Second},
	}
}

type rolesResponse struct {
	AppRoles []string `json:"appRoles"`
}

// AppRoles fetches GET {base}/users/{id}/roles, retrying transient failures.
func (c *Client) AppRoles(ctx context.Context, p quota.Principal) ([]string, error) {
	endpoint := fmt.Sprintf("%s/users/%s/roles", c.baseURL, url.PathEscape(p.UserID))

	var roles []string
	err := retry.Do(ctx, 3, 100*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return retry.Permanent(err)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()

		switch {
		case resp.StatusCode == http.StatusNotFound:
			// Unknown user means no app roles, not an outage.
			roles = nil
			return nil
		case resp.StatusCode >= 500:
			return fmt.Errorf("permissions service returned %d", resp.StatusCode)
		case resp.StatusCode != http.StatusOK:
			return retry.Permanent(fmt.Errorf("permissions service returned %d", resp.StatusCode))
		}

		var body rolesResponse
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return fmt.Errorf("decode roles response: %w", err)
		}
		roles = body.AppRoles
		return nil
	})
	if err != nil {
		return nil, err
	}
	return roles, nil
}

var (
	_ quota.PermissionResolver = (*Static)(nil)
	_ quota.PermissionResolver = (*Client)(nil)
)
