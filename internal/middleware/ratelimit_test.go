package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/santaserver/santaserver/internal/cache"
)

type loginPayload struct {
	Username string `json:"username"`
	Password string `json:"password"`
	Note     string `json:"note,omitempty"`
}

func loginRouter(store RateStore, cfg LoginRateLimitConfig) *gin.Engine {
	r := gin.New()
	r.POST("/login", LoginRateLimit(store, cfg), func(c *gin.Context) {
		var payload loginPayload
		if err := c.ShouldBindBodyWith(&payload, binding.JSON); err != nil {
			c.Status(http.StatusBadRequest)
			return
		}
		c.JSON(http.StatusOK, payload)
	})
	return r
}

func postLogin(r http.Handler, ip, username string) *httptest.ResponseRecorder {
	return postLoginBody(r, ip, `{"username":"`+username+`","password":"x"}`)
}

func postLoginBody(r http.Handler, ip, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = ip + ":12345"
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestMemoryRateStoreWindows(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryRateStore(WithRateClock(clock.Now))
	ctx := context.Background()

	count, ttl, err := store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, count)
	require.Equal(t, time.Minute, ttl)

	clock.Advance(20 * time.Second)
	count, ttl, err = store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 2, count)
	require.Equal(t, 40*time.Second, ttl)

	clock.Advance(40 * time.Second)
	count, _, err = store.Increment(ctx, "k", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 1, count)
}

func TestMemoryRateStoreConcurrentIncrements(t *testing.T) {
	store := NewMemoryRateStore()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, _ = store.Increment(context.Background(), "shared", time.Minute)
		}()
	}
	wg.Wait()

	count, _, err := store.Increment(context.Background(), "shared", time.Minute)
	require.NoError(t, err)
	require.Equal(t, 51, count)
}

func TestLoginRateLimitPerAccount(t *testing.T) {
	clock := newTestClock()
	store := NewMemoryRateStore(WithRateClock(clock.Now))
	r := loginRouter(store, LoginRateLimitConfig{
		PerIP:      WindowLimit{Limit: 100, Window: time.Minute},
		PerAccount: WindowLimit{Limit: 2, Window: 5 * time.Minute},
	})

	for i, ip := range []string{"10.0.0.1", "10.0.0.2"} {
		rec := postLogin(r, ip, "Bob")
		require.Equal(t, http.StatusOK, rec.Code, "attempt %d", i)
		require.Contains(t, rec.Body.String(), `"username":"Bob"`)
	}

	rec := postLogin(r, "10.0.0.3", "bob")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, "300", rec.Header().Get("Retry-After"))
	require.Equal(t, "RATE_LIMIT_EXCEEDED", decodeError(t, rec).ErrorCode)

	require.Equal(t, http.StatusOK, postLogin(r, "10.0.0.3", "alice").Code)

	clock.Advance(5 * time.Minute)
	require.Equal(t, http.StatusOK, postLogin(r, "10.0.0.3", "bob").Code)
}

func TestLoginRateLimitPerIP(t *testing.T) {
	store := NewMemoryRateStore()
	r := loginRouter(store, LoginRateLimitConfig{PerIP: WindowLimit{Limit: 2, Window: time.Minute}})

	require.Equal(t, http.StatusOK, postLogin(r, "10.0.0.9", "a").Code)
	require.Equal(t, http.StatusOK, postLogin(r, "10.0.0.9", "b").Code)
	rec := postLogin(r, "10.0.0.9", "c")
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.NotEmpty(t, rec.Header().Get("Retry-After"))

	require.Equal(t, http.StatusOK, postLogin(r, "10.0.0.10", "c").Code)
}

func TestLoginRateLimitKeepsLargeBody(t *testing.T) {
	store := NewMemoryRateStore()
	r := loginRouter(store, LoginRateLimitConfig{PerAccount: WindowLimit{Limit: 1, Window: time.Minute}})

	note := strings.Repeat("n", 200<<10)
	body := `{"note":"` + note + `","username":" Dave ","password":"secret"}`

	rec := postLoginBody(r, "10.0.0.1", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var echoed loginPayload
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &echoed))
	require.Equal(t, " Dave ", echoed.Username)
	require.Equal(t, "secret", echoed.Password)
	require.Len(t, echoed.Note, len(note))

	rec = postLoginBody(r, "10.0.0.2", body)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	require.Equal(t, http.StatusTooManyRequests, postLogin(r, "10.0.0.3", "dave").Code)
}

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (int, time.Duration, error) {
	return 0, 0, errors.New("unavailable")
}

func TestLoginRateLimitFailsOpen(t *testing.T) {
	r := loginRouter(failingStore{}, DefaultLoginRateLimitConfig())
	require.Equal(t, http.StatusOK, postLogin(r, "10.0.0.1", "bob").Code)
}

func TestStoreRateStoreWithRedis(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewStoreRateStore(cache.NewRedisStoreFromClient(client))
	r := loginRouter(store, LoginRateLimitConfig{PerAccount: WindowLimit{Limit: 1, Window: time.Minute}})

	require.Equal(t, http.StatusOK, postLogin(r, "10.0.0.1", "carol").Code)
	require.Equal(t, http.StatusTooManyRequests, postLogin(r, "10.0.0.1", "carol").Code)

	mr.FastForward(time.Minute + time.Second)
	require.Equal(t, http.StatusOK, postLogin(r, "10.0.0.1", "carol").Code)

	require.Nil(t, NewStoreRateStore(nil))
}
