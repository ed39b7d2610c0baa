package remote

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/akorchagin/passvault/internal/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testServiceKey(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"role": "service_role",
		"exp":  exp.Unix(),
	})
	signed, err := token.SignedString([]byte("test-signing-key"))
	require.NoError(t, err)
	return signed
}

func newTestClient(t *testing.T, handler http.Handler) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := NewRESTClient(srv.URL, testServiceKey(t, time.Now().Add(time.Hour)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewRESTClient_RejectsBadCredential(t *testing.T) {
	_, err := NewRESTClient("http://localhost", "not-a-jwt")
	require.Error(t, err)

	_, err = NewRESTClient("http://localhost", testServiceKey(t, time.Now().Add(-time.Hour)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestResolveUser(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/rest/v1/users", r.URL.Path)
		assert.NotEmpty(t, r.Header.Get("apikey"))
		assert.Contains(t, r.Header.Get("Authorization"), "Bearer ")

		switch r.URL.Query().Get("username") {
		case "eq.alice":
			_ = json.NewEncoder(w).Encode([]UserRow{{ID: "uid-1", Username: "alice", Role: "admin"}})
		default:
			_ = json.NewEncoder(w).Encode([]UserRow{})
		}
	}))

	u, err := c.ResolveUser(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, "uid-1", u.ID)

	_, err = c.ResolveUser(context.Background(), "nobody")
	assert.ErrorIs(t, err, common.ErrNotFound)
}

func TestListSecrets_PrivacyFilterAndWatermark(t *testing.T) {
	var gotQuery string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.RawQuery
		_ = json.NewEncoder(w).Encode([]SecretRow{{
			ID:      "cloud-1",
			Service: "github",
			Secret:  base64.StdEncoding.EncodeToString([]byte("blob")),
			Version: 3,
		}})
	}))

	rows, err := c.ListSecrets(context.Background(), "alice", 1725000000)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, int64(3), rows[0].Version)

	assert.Contains(t, gotQuery, "or=")
	assert.Contains(t, gotQuery, "is_private.eq.false")
	assert.Contains(t, gotQuery, "owner_name.eq.ALICE")
	assert.Contains(t, gotQuery, "updated_at=gt.1725000000")
}

func TestInsertSecret_ReturnsRepresentation(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "return=representation", r.Header.Get("Prefer"))

		var in []SecretRow
		require.NoError(t, json.NewDecoder(r.Body).Decode(&in))
		require.Len(t, in, 1)

		out := in[0]
		out.ID = "cloud-42"
		out.Version = 1
		_ = json.NewEncoder(w).Encode([]SecretRow{out})
	}))

	stored, err := c.InsertSecret(context.Background(), &SecretRow{Service: "github", Username: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "cloud-42", stored.ID)
	assert.Equal(t, int64(1), stored.Version)
}

func TestInsertSecret_OmitsEmptyID(t *testing.T) {
	var body []byte
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var err error
		body, err = io.ReadAll(r.Body)
		require.NoError(t, err)
		_ = json.NewEncoder(w).Encode([]SecretRow{{ID: "cloud-1"}})
	}))

	_, err := c.InsertSecret(context.Background(), &SecretRow{Service: "github", Username: "alice"})
	require.NoError(t, err)
	// The id column is remote-generated; sending "id":"" would fail the
	// uuid cast on insert.
	assert.NotContains(t, string(body), `"id"`)
}

func TestInsertSecret_ConflictMapsToSentinel(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	}))

	_, err := c.InsertSecret(context.Background(), &SecretRow{Service: "github"})
	assert.ErrorIs(t, err, common.ErrConflict)
}

func TestDo_RetriesServerErrors(t *testing.T) {
	var calls int
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_ = json.NewEncoder(w).Encode([]SecretRow{})
	}))

	err := c.Ping(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_TransportErrorAfterRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c, err := NewRESTClient(srv.URL, testServiceKey(t, time.Now().Add(time.Hour)))
	require.NoError(t, err)
	srv.Close() // connection refused from here on

	err = c.Ping(context.Background())
	assert.ErrorIs(t, err, common.ErrTransport)
}

func TestIdentityHeaders(t *testing.T) {
	var got http.Header
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		_ = json.NewEncoder(w).Encode([]SecretRow{})
	}))

	c.SetIdentity(Identity{Username: "alice", UserID: "uid-1", VaultID: "vault-1", Role: "Admin"})
	require.NoError(t, c.Ping(context.Background()))

	assert.Equal(t, "ALICE", got.Get("x-vault-user"))
	assert.Equal(t, "uid-1", got.Get("x-vault-user-id"))
	assert.Equal(t, "vault-1", got.Get("x-vault-id"))
	assert.Equal(t, "admin", got.Get("x-vault-role"))
}

func TestUpdateAndDeleteSecret(t *testing.T) {
	var method, query string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		query = r.URL.RawQuery
		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, c.UpdateSecret(context.Background(), &SecretRow{ID: "cloud-7"}))
	assert.Equal(t, http.MethodPatch, method)
	assert.Equal(t, "id=eq.cloud-7", query)

	require.NoError(t, c.DeleteSecret(context.Background(), "cloud-7"))
	assert.Equal(t, http.MethodDelete, method)
	assert.Equal(t, "id=eq.cloud-7", query)
}
