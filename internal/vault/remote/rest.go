package remote

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
	"sync"
	"time"

	"github.com/akorchagin/passvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/sethvargo/go-retry"
)

const (
	secretsTable = "secrets"
	usersTable   = "users"
	grantsTable  = "vault_access"
	auditTable   = "security_audit"
)

// RESTClient implements Client against a PostgREST-style table API.
type RESTClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client

	mu       sync.RWMutex
	identity Identity
}

// NewRESTClient validates the service credential and returns a client.
// The credential is a JWT; it is not verified here (the remote does that),
// but an already-expired credential is rejected up front instead of
// producing confusing 401s mid-sync.
func NewRESTClient(baseURL, serviceKey string) (*RESTClient, error) {
	if err := checkServiceKey(serviceKey); err != nil {
		return nil, err
	}
	return &RESTClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}, nil
}

func checkServiceKey(serviceKey string) error {
	token, _, err := jwt.NewParser().ParseUnverified(serviceKey, jwt.MapClaims{})
	if err != nil {
		return fmt.Errorf("service credential is not a valid JWT: %w", err)
	}
	exp, err := token.Claims.GetExpirationTime()
	if err != nil {
		return fmt.Errorf("service credential claims: %w", err)
	}
	if exp != nil && exp.Before(time.Now()) {
		return fmt.Errorf("service credential expired at %s", exp.Time.Format(time.RFC3339))
	}
	return nil
}

func (c *RESTClient) SetIdentity(id Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.identity = id
}

func (c *RESTClient) setHeaders(req *http.Request) {
	c.mu.RLock()
	id := c.identity
	c.mu.RUnlock()

	req.Header.Set("apikey", c.serviceKey)
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-vault-user", strings.ToUpper(id.Username))
	req.Header.Set("x-vault-user-id", id.UserID)
	req.Header.Set("x-vault-id", id.VaultID)
	req.Header.Set("x-vault-role", strings.ToLower(id.Role))
}

// do runs one request and decodes the JSON response into out (when out is
// non-nil). Transient failures are retried with fibonacci backoff; the
// final error is mapped onto the common sentinel taxonomy.
func (c *RESTClient) do(ctx context.Context, method, rawURL string, body []byte, prefer string, out any) error {
	backoff := retry.WithMaxRetries(3, retry.NewFibonacci(200*time.Millisecond))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		var reader io.Reader
		if body != nil {
			reader = bytes.NewReader(body)
		}
		req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
		if err != nil {
			return err
		}
		c.setHeaders(req)
		if prefer != "" {
			req.Header.Set("Prefer", prefer)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("%w: %v", common.ErrTransport, err))
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusConflict:
			return common.ErrConflict
		case resp.StatusCode >= 500:
			b, _ := io.ReadAll(resp.Body)
			return retry.RetryableError(fmt.Errorf("%w: HTTP %d: %s", common.ErrTransport, resp.StatusCode, b))
		case resp.StatusCode >= 400:
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("remote error: HTTP %d: %s", resp.StatusCode, b)
		}

		if out == nil {
			return nil
		}
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
		return nil
	})
}

func (c *RESTClient) tableURL(table, params string) string {
	u := c.baseURL + "/rest/v1/" + table
	if params != "" {
		u += "?" + params
	}
	return u
}

func (c *RESTClient) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return c.do(ctx, http.MethodGet, c.tableURL(secretsTable, "select=id&limit=1"), nil, "", nil)
}

func (c *RESTClient) ResolveUser(ctx context.Context, username string) (*UserRow, error) {
	params := "select=*&username=eq." + url.QueryEscape(username)
	var rows []UserRow
	if err := c.do(ctx, http.MethodGet, c.tableURL(usersTable, params), nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, common.ErrNotFound
	}
	return &rows[0], nil
}

func (c *RESTClient) UpsertUser(ctx context.Context, u *UserRow) error {
	body, err := json.Marshal([]*UserRow{u})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, c.tableURL(usersTable, ""), body, "resolution=merge-duplicates", nil)
}

func (c *RESTClient) ListGrants(ctx context.Context, userID string) ([]GrantRow, error) {
	params := "select=*&user_id=eq." + url.QueryEscape(userID)
	var rows []GrantRow
	if err := c.do(ctx, http.MethodGet, c.tableURL(grantsTable, params), nil, "", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *RESTClient) UpsertGrant(ctx context.Context, g *GrantRow) error {
	body, err := json.Marshal([]*GrantRow{g})
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, c.tableURL(grantsTable, ""), body, "resolution=merge-duplicates", nil)
}

func (c *RESTClient) ListSecrets(ctx context.Context, owner string, since int64) ([]SecretRow, error) {
	// The privacy boundary is enforced in the filter itself: shared rows,
	// or private rows belonging to the caller. Never select foreign
	// private rows and discard them client-side.
	params := fmt.Sprintf("select=*&or=(is_private.eq.false,owner_name.eq.%s)",
		url.QueryEscape(strings.ToUpper(owner)))
	if since > 0 {
		params += fmt.Sprintf("&updated_at=gt.%d", since)
	}
	var rows []SecretRow
	if err := c.do(ctx, http.MethodGet, c.tableURL(secretsTable, params), nil, "", &rows); err != nil {
		return nil, err
	}
	return rows, nil
}

func (c *RESTClient) FindSecret(ctx context.Context, service, username, owner string) (*SecretRow, error) {
	params := fmt.Sprintf("select=*&service=eq.%s&username=eq.%s&owner_name=eq.%s",
		url.QueryEscape(service), url.QueryEscape(username), url.QueryEscape(strings.ToUpper(owner)))
	var rows []SecretRow
	if err := c.do(ctx, http.MethodGet, c.tableURL(secretsTable, params), nil, "", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, common.ErrNotFound
	}
	return &rows[0], nil
}

func (c *RESTClient) InsertSecret(ctx context.Context, s *SecretRow) (*SecretRow, error) {
	body, err := json.Marshal([]*SecretRow{s})
	if err != nil {
		return nil, err
	}
	var rows []SecretRow
	if err := c.do(ctx, http.MethodPost, c.tableURL(secretsTable, ""), body, "return=representation", &rows); err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, errors.New("insert returned no representation")
	}
	return &rows[0], nil
}

func (c *RESTClient) UpdateSecret(ctx context.Context, s *SecretRow) error {
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	params := "id=eq." + url.QueryEscape(s.ID)
	return c.do(ctx, http.MethodPatch, c.tableURL(secretsTable, params), body, "", nil)
}

func (c *RESTClient) DeleteSecret(ctx context.Context, id string) error {
	params := "id=eq." + url.QueryEscape(id)
	return c.do(ctx, http.MethodDelete, c.tableURL(secretsTable, params), nil, "", nil)
}

func (c *RESTClient) InsertAuditEvents(ctx context.Context, events []AuditRow) error {
	if len(events) == 0 {
		return nil
	}
	body, err := json.Marshal(events)
	if err != nil {
		return err
	}
	return c.do(ctx, http.MethodPost, c.tableURL(auditTable, ""), body, "", nil)
}

func (c *RESTClient) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}
