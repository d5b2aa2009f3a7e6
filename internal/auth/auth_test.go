package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/ATPFlow/internal/config"
	"github.com/MikeSquared-Agency/ATPFlow/internal/store"
)

func TestStaticVerifier(t *testing.T) {
	v, err := NewStaticVerifier(map[string]config.StaticToken{
		"tok-bo": {UserID: "alice", Role: "bo"},
	})
	require.NoError(t, err)

	p, err := v.VerifyRole(context.Background(), "tok-bo")
	require.NoError(t, err)
	assert.Equal(t, &Principal{UserID: "alice", Role: store.RoleBO}, p)

	_, err = v.VerifyRole(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnauthorized)
	_, err = v.VerifyRole(context.Background(), "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestStaticVerifierRejectsBadEntries(t *testing.T) {
	_, err := NewStaticVerifier(map[string]config.StaticToken{"t": {UserID: "bob", Role: "janitor"}})
	assert.ErrorContains(t, err, "unknown role")

	_, err = NewStaticVerifier(map[string]config.StaticToken{"t": {Role: "SME"}})
	assert.ErrorContains(t, err, "no user id")
}

func TestHTTPVerifier(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/verify", r.URL.Path)
		assert.Equal(t, "svc-secret", r.Header.Get("X-Service-Token"))
		switch r.Header.Get("Authorization") {
		case "Bearer good":
			json.NewEncoder(w).Encode(map[string]string{"user_id": "u-7", "role": "REGION_TEAM"})
		case "Bearer odd-role":
			json.NewEncoder(w).Encode(map[string]string{"user_id": "u-8", "role": "WIZARD"})
		case "Bearer broken":
			http.Error(w, "boom", http.StatusInternalServerError)
		default:
			w.WriteHeader(http.StatusUnauthorized)
		}
	}))
	defer srv.Close()

	v := NewHTTPVerifier(srv.URL, "svc-secret")
	ctx := context.Background()

	p, err := v.VerifyRole(ctx, "good")
	require.NoError(t, err)
	assert.Equal(t, "u-7", p.UserID)
	assert.Equal(t, store.RoleRegionTeam, p.Role)

	_, err = v.VerifyRole(ctx, "expired")
	assert.ErrorIs(t, err, ErrUnauthorized)

	_, err = v.VerifyRole(ctx, "odd-role")
	assert.ErrorContains(t, err, "unknown role")

	_, err = v.VerifyRole(ctx, "broken")
	assert.ErrorContains(t, err, "500")
	assert.NotErrorIs(t, err, ErrUnauthorized)

	_, err = v.VerifyRole(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestPrincipalContext(t *testing.T) {
	assert.Nil(t, FromContext(context.Background()))

	p := &Principal{UserID: "u", Role: store.RoleSME}
	ctx := WithPrincipal(context.Background(), p)
	assert.Same(t, p, FromContext(ctx))
}
