package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eleve/internal/errs"
	"eleve/internal/models"
)

// fakeAdminAPI is an in-memory identity service with a token endpoint
type fakeAdminAPI struct {
	mu         sync.Mutex
	users      map[string]string // id -> username
	nextID     int
	failCreate int
	tokens     int
	maxPerPage int  // caps per_page when set
	ignorePage bool // always serve the first page
}

func newFakeAdminAPI(t *testing.T) (*fakeAdminAPI, *httptest.Server) {
	t.Helper()
	api := &fakeAdminAPI{users: make(map[string]string)}
	srv := httptest.NewServer(api)
	t.Cleanup(srv.Close)
	return api, srv
}

func (f *fakeAdminAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if r.URL.Path == "/token" {
		f.tokens++
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"test-token","token_type":"bearer","expires_in":3600}`))
		return
	}
	if r.Header.Get("Authorization") != "Bearer test-token" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	switch {
	case r.Method == http.MethodPost && r.URL.Path == "/admin/users":
		if f.failCreate > 0 {
			f.failCreate--
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var body createUserRequest
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		for _, name := range f.users {
			if name == body.Username {
				w.WriteHeader(http.StatusConflict)
				return
			}
		}
		f.nextID++
		id := fmt.Sprintf("user-%d", f.nextID)
		f.users[id] = body.Username
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(remoteUser{ID: id, Username: body.Username})
	case r.Method == http.MethodDelete && strings.HasPrefix(r.URL.Path, "/admin/users/"):
		id := strings.TrimPrefix(r.URL.Path, "/admin/users/")
		if _, ok := f.users[id]; !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		delete(f.users, id)
		w.WriteHeader(http.StatusNoContent)
	case r.Method == http.MethodGet && r.URL.Path == "/admin/users":
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		perPage, _ := strconv.Atoi(r.URL.Query().Get("per_page"))
		if f.maxPerPage > 0 && perPage > f.maxPerPage {
			perPage = f.maxPerPage
		}
		if f.ignorePage {
			page = 1
		}
		var ids []int
		for id := range f.users {
			n, _ := strconv.Atoi(strings.TrimPrefix(id, "user-"))
			ids = append(ids, n)
		}
		sort.Ints(ids)
		var resp listUsersResponse
		for i := (page - 1) * perPage; i < len(ids) && i < page*perPage; i++ {
			id := fmt.Sprintf("user-%d", ids[i])
			resp.Users = append(resp.Users, remoteUser{ID: id, Username: f.users[id]})
		}
		_ = json.NewEncoder(w).Encode(resp)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func newRemote(srv *httptest.Server) *RemoteProvider {
	return NewRemoteProvider(RemoteConfig{
		BaseURL:      srv.URL,
		TokenURL:     srv.URL + "/token",
		ClientID:     "eleve",
		ClientSecret: "secret",
		EmailDomain:  "students.test",
		Timeout:      2 * time.Second,
	})
}

func TestRemoteProviderLifecycle(t *testing.T) {
	api, srv := newFakeAdminAPI(t)
	p := newRemote(srv)
	ctx := context.Background()

	id, err := p.CreateIdentity(ctx, "alexjohnson", "secret", models.IdentityAttributes{FullName: "Alex Johnson"})
	require.NoError(t, err)
	assert.Equal(t, "user-1", id)

	exists, err := p.HandleExists(ctx, "alexjohnson")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = p.CreateIdentity(ctx, "alexjohnson", "secret", models.IdentityAttributes{})
	assert.ErrorIs(t, err, errs.ErrDuplicateHandle)

	require.NoError(t, p.DeleteIdentity(ctx, id))
	require.NoError(t, p.DeleteIdentity(ctx, id), "deleting a missing identity succeeds")

	exists, err = p.HandleExists(ctx, "alexjohnson")
	require.NoError(t, err)
	assert.False(t, exists)

	api.mu.Lock()
	defer api.mu.Unlock()
	assert.Equal(t, 1, api.tokens, "token is cached across calls")
}

func TestRemoteProviderListHandlesPages(t *testing.T) {
	_, srv := newFakeAdminAPI(t)
	p := newRemote(srv)
	p.pageSize = 2
	ctx := context.Background()

	for _, h := range []string{"a", "b", "c", "d", "e"} {
		_, err := p.CreateIdentity(ctx, h, "secret", models.IdentityAttributes{})
		require.NoError(t, err)
	}

	handles, err := p.ListHandles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, handles)
}

func TestRemoteProviderUnavailable(t *testing.T) {
	api, srv := newFakeAdminAPI(t)
	p := newRemote(srv)
	api.failCreate = 1

	_, err := p.CreateIdentity(context.Background(), "jo", "secret", models.IdentityAttributes{})
	assert.ErrorIs(t, err, errs.ErrProviderUnavailable)

	srv.Close()
	_, err = p.HandleExists(context.Background(), "jo")
	assert.ErrorIs(t, err, errs.ErrProviderUnavailable)
}

func seedUsers(api *fakeAdminAPI, n int) {
	api.mu.Lock()
	defer api.mu.Unlock()
	for i := 0; i < n; i++ {
		api.nextID++
		api.users[fmt.Sprintf("user-%d", api.nextID)] = fmt.Sprintf("skater%d", api.nextID)
	}
}

func TestRemoteProviderListHandlesServerCappedPageSize(t *testing.T) {
	api, srv := newFakeAdminAPI(t)
	api.maxPerPage = 50
	seedUsers(api, 120)
	p := newRemote(srv)

	handles, err := p.ListHandles(context.Background())
	require.NoError(t, err)
	assert.Len(t, handles, 120)

	exists, err := p.HandleExists(context.Background(), "skater100")
	require.NoError(t, err)
	assert.True(t, exists, "users past the first page are found")
}

func TestRemoteProviderListHandlesServerIgnoresPage(t *testing.T) {
	api, srv := newFakeAdminAPI(t)
	api.ignorePage = true
	seedUsers(api, 3)
	p := newRemote(srv)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	handles, err := p.ListHandles(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"skater1", "skater2", "skater3"}, handles)
}
