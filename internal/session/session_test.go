package session

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mcpgateway/internal/token"
	"mcpgateway/pkg/logger"
	"mcpgateway/pkg/middleware"
)

func newRedisStore(t *testing.T) (Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return NewRedisStore(rdb), mr
}

func TestStores_PutGetDelete(t *testing.T) {
	redisStore, _ := newRedisStore(t)
	stores := map[string]Store{
		"memory": NewMemoryStore(),
		"redis":  redisStore,
	}
	for name, st := range stores {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			sess := Session{ID: "s1", TenantID: "zaxon", User: User{ID: "u1", Email: "u1@example.com"}, CreatedAt: time.Now().UTC().Truncate(time.Second)}

			_, ok, err := st.Get(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, st.Put(ctx, sess, time.Minute))
			got, ok, err := st.Get(ctx, "s1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "zaxon", got.TenantID)
			assert.Equal(t, "u1@example.com", got.User.Email)

			require.NoError(t, st.Delete(ctx, "s1"))
			require.NoError(t, st.Delete(ctx, "s1"))
			_, ok, err = st.Get(ctx, "s1")
			require.NoError(t, err)
			assert.False(t, ok)
		})
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	st := NewMemoryStore().(*memoryStore)
	now := time.Now()
	st.now = func() time.Time { return now }
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, Session{ID: "s"}, time.Minute))
	now = now.Add(time.Minute)
	_, ok, err := st.Get(ctx, "s")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisStore_Expiry(t *testing.T) {
	st, mr := newRedisStore(t)
	ctx := context.Background()

	require.NoError(t, st.Put(ctx, Session{ID: "s"}, time.Minute))
	mr.FastForward(2 * time.Minute)
	_, ok, err := st.Get(ctx, "s")
	require.NoError(t, err)
	assert.False(t, ok)
}

func newService(store Store, ttl time.Duration) *Service {
	return NewService(token.NewSigner("test-secret", "mcp-gateway-oauth2", 0), store, ttl, logger.Nop())
}

func TestService_Lifecycle(t *testing.T) {
	svc := newService(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	raw, sess, err := svc.Create(ctx, "zaxon", User{Email: "aaron@example.com", Name: "Aaron", Permissions: []string{"deploy"}})
	require.NoError(t, err)
	assert.Equal(t, "aaron@example.com", sess.User.ID)
	assert.Equal(t, "user", sess.User.Role)
	assert.Equal(t, time.Hour, sess.ExpiresAt.Sub(sess.CreatedAt))

	res, err := svc.Verify(ctx, raw)
	require.NoError(t, err)
	require.True(t, res.Valid)
	assert.Equal(t, "zaxon", res.Claims["tenant"])
	assert.Equal(t, "session", res.Claims["type"])
	assert.Equal(t, sess.ID, res.Session.ID)

	require.NoError(t, svc.Revoke(ctx, raw))
	require.NoError(t, svc.Revoke(ctx, raw), "revoke is idempotent")

	res, err = svc.Verify(ctx, raw)
	require.NoError(t, err)
	assert.False(t, res.Valid)
	assert.Equal(t, ReasonSessionNotFound, res.Reason)
}

func TestService_VerifyReasons(t *testing.T) {
	svc := newService(NewMemoryStore(), time.Hour)
	ctx := context.Background()

	res, err := svc.Verify(ctx, "garbage")
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidToken, res.Reason)

	// An access token is correctly signed but is not a session token.
	m, err := token.NewSigner("test-secret", "mcp-gateway-oauth2", 0).Sign("abc", "", time.Hour, map[string]any{"tenant": "t"})
	require.NoError(t, err)
	res, err = svc.Verify(ctx, m.Raw)
	require.NoError(t, err)
	assert.Equal(t, ReasonInvalidToken, res.Reason)

	short := newService(NewMemoryStore(), time.Second)
	raw, _, err := short.Create(ctx, "t", User{ID: "u"})
	require.NoError(t, err)
	time.Sleep(2100 * time.Millisecond)
	res, err = short.Verify(ctx, raw)
	require.NoError(t, err)
	assert.Equal(t, ReasonTokenExpired, res.Reason)
}

func TestService_CreateRequiresIdentity(t *testing.T) {
	svc := newService(NewMemoryStore(), time.Hour)
	_, _, err := svc.Create(context.Background(), "t", User{Name: "nobody"})
	assert.Error(t, err)
}

func TestService_RevokeRejectsForgedToken(t *testing.T) {
	svc := newService(NewMemoryStore(), time.Hour)
	assert.Error(t, svc.Revoke(context.Background(), "not-a-jwt"))
}

func TestHTTP_SessionFlow(t *testing.T) {
	svc := newService(NewMemoryStore(), time.Hour)
	r := chi.NewRouter()
	r.Use(middleware.ResolveTenant("X-Tenant-ID"))
	RegisterHTTP(r, svc)

	req := httptest.NewRequest(http.MethodPost, "/api/sallyport/session", strings.NewReader(`{"user":{"email":"a@zaxon.example","role":"admin"}}`))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Tenant-ID", "zaxon")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code)

	var created struct {
		Token  string `json:"session_token"`
		Tenant string `json:"tenant"`
		User   User   `json:"user"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	assert.Equal(t, "zaxon", created.Tenant)
	assert.Equal(t, "admin", created.User.Role)

	verify := func() (int, Result) {
		req := httptest.NewRequest(http.MethodGet, "/api/sallyport/verify", nil)
		req.Header.Set("Authorization", "Bearer "+created.Token)
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		var res Result
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		return rec.Code, res
	}

	code, res := verify()
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, res.Valid)

	req = httptest.NewRequest(http.MethodPost, "/api/sallyport/logout", strings.NewReader(`{"session_token":"`+created.Token+`"}`))
	req.Header.Set("Content-Type", "application/json")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	code, res = verify()
	assert.Equal(t, http.StatusUnauthorized, code)
	assert.Equal(t, ReasonSessionNotFound, res.Reason)
}
