package identity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"eleve/internal/errs"
	"eleve/internal/models"
)

const defaultPageSize = 100

// RemoteProvider talks to a managed identity service's admin API. Requests are
// authorised with an OAuth2 client-credentials token.
type RemoteProvider struct {
	baseURL     string
	client      *http.Client
	emailDomain string
	pageSize    int
}

// RemoteConfig holds the admin API location and client credentials
type RemoteConfig struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
	EmailDomain  string
	Timeout      time.Duration
}

// NewRemoteProvider creates a provider for the admin API at cfg.BaseURL
func NewRemoteProvider(cfg RemoteConfig) *RemoteProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	creds := clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     cfg.TokenURL,
		AuthStyle:    oauth2.AuthStyleInHeader,
	}
	// the token fetch uses the same timeout as the API calls
	base := &http.Client{Timeout: timeout}
	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	client := creds.Client(ctx)
	client.Timeout = timeout

	return &RemoteProvider{
		baseURL:     strings.TrimRight(cfg.BaseURL, "/"),
		client:      client,
		emailDomain: cfg.EmailDomain,
		pageSize:    defaultPageSize,
	}
}

type createUserRequest struct {
	Username   string                    `json:"username"`
	Password   string                    `json:"password"`
	Email      string                    `json:"email"`
	Attributes models.IdentityAttributes `json:"attributes"`
}

type remoteUser struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

type listUsersResponse struct {
	Users []remoteUser `json:"users"`
}

// CreateIdentity registers a user with the admin API and returns its ID
func (p *RemoteProvider) CreateIdentity(ctx context.Context, handle, secret string, attrs models.IdentityAttributes) (string, error) {
	body, err := json.Marshal(createUserRequest{
		Username:   handle,
		Password:   secret,
		Email:      handle + "@" + p.emailDomain,
		Attributes: attrs,
	})
	if err != nil {
		return "", fmt.Errorf("failed to encode identity: %w", err)
	}

	resp, err := p.do(ctx, http.MethodPost, "/admin/users", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusCreated || resp.StatusCode == http.StatusOK:
		var user remoteUser
		if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
			return "", fmt.Errorf("%w: decode created identity: %w", errs.ErrProviderUnavailable, err)
		}
		if user.ID == "" {
			return "", fmt.Errorf("%w: created identity has no id", errs.ErrProviderUnavailable)
		}
		return user.ID, nil
	case resp.StatusCode == http.StatusConflict || resp.StatusCode == http.StatusUnprocessableEntity:
		return "", fmt.Errorf("create identity %q: %w", handle, errs.ErrDuplicateHandle)
	default:
		return "", statusError("create identity", resp)
	}
}

// DeleteIdentity removes a user. A user the API no longer knows counts as deleted.
func (p *RemoteProvider) DeleteIdentity(ctx context.Context, id string) error {
	resp, err := p.do(ctx, http.MethodDelete, "/admin/users/"+url.PathEscape(id), nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK, http.StatusNoContent, http.StatusNotFound:
		return nil
	default:
		return statusError("delete identity", resp)
	}
}

// ListHandles pages through every username known to the admin API. Paging
// stops at the first empty page, or at a page that brings no new users, so
// servers that cap the page size or ignore the page parameter still terminate.
func (p *RemoteProvider) ListHandles(ctx context.Context) ([]string, error) {
	var handles []string
	seen := make(map[string]bool)
	for page := 1; ; page++ {
		users, err := p.listPage(ctx, page)
		if err != nil {
			return nil, err
		}
		added := 0
		for _, u := range users {
			if seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			handles = append(handles, u.Username)
			added++
		}
		if added == 0 {
			return handles, nil
		}
	}
}

// HandleExists scans the admin API's user list for handle
func (p *RemoteProvider) HandleExists(ctx context.Context, handle string) (bool, error) {
	handles, err := p.ListHandles(ctx)
	if err != nil {
		return false, err
	}
	for _, h := range handles {
		if h == handle {
			return true, nil
		}
	}
	return false, nil
}

func (p *RemoteProvider) listPage(ctx context.Context, page int) ([]remoteUser, error) {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("per_page", strconv.Itoa(p.pageSize))

	resp, err := p.do(ctx, http.MethodGet, "/admin/users?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, statusError("list identities", resp)
	}
	var list listUsersResponse
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, fmt.Errorf("%w: decode identity page %d: %w", errs.ErrProviderUnavailable, page, err)
	}
	return list.Users, nil
}

func (p *RemoteProvider) do(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build identity request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		// transport failures, token failures and timeouts all mean the provider can't be reached
		return nil, fmt.Errorf("%w: %s %s: %w", errs.ErrProviderUnavailable, method, path, err)
	}
	return resp, nil
}

// statusError describes an unexpected response. 5xx and 429 are unavailability.
func statusError(op string, resp *http.Response) error {
	msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	err := fmt.Errorf("%s: unexpected status %d: %s", op, resp.StatusCode, strings.TrimSpace(string(msg)))
	if resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", errs.ErrProviderUnavailable, err)
	}
	return err
}
