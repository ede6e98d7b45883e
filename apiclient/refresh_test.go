package apiclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lgc202/apikit/apierr"
	"github.com/lgc202/apikit/credential"
	"github.com/lgc202/apikit/httpx"
)

// authBackend serves /items (bearer protected) and the refresh endpoint.
type authBackend struct {
	t *testing.T

	valid      atomic.Value // string: access token accepted by /items
	itemStatus int          // status once authorized, defaults to 200

	// onUnauthorized runs before a 401 is written.
	onUnauthorized func()

	refreshStatus int
	refreshBody   string
	refreshGate   chan struct{}

	itemCalls    atomic.Int32
	refreshCalls atomic.Int32
	lastAuth     atomic.Value

	// barrier holds the first n unauthorized responses until all arrived.
	barrierN    int32
	barrierSeen atomic.Int32
	barrier     chan struct{}
}

func newAuthBackend(t *testing.T, valid string) *authBackend {
	b := &authBackend{
		t:             t,
		itemStatus:    http.StatusOK,
		refreshStatus: http.StatusOK,
		refreshBody:   `{"accessToken":"a2","refreshToken":"r2"}`,
	}
	b.valid.Store(valid)
	return b
}

func (b *authBackend) withBarrier(n int) *authBackend {
	b.barrierN = int32(n)
	b.barrier = make(chan struct{})
	return b
}

func (b *authBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case DefaultRefreshPath:
		b.refreshCalls.Add(1)
		if r.Method != http.MethodPost || r.URL.Query().Get("refreshToken") == "" {
			b.t.Errorf("unexpected refresh call: %s %s", r.Method, r.URL)
		}
		if r.Header.Get("Authorization") != "" {
			b.t.Errorf("refresh call must not carry a bearer token")
		}
		if b.refreshGate != nil {
			<-b.refreshGate
		}
		w.WriteHeader(b.refreshStatus)
		_, _ = io.WriteString(w, b.refreshBody)
	default:
		b.itemCalls.Add(1)
		auth := r.Header.Get("Authorization")
		b.lastAuth.Store(auth)
		if auth != "Bearer "+b.valid.Load().(string) {
			if b.barrier != nil && b.barrierSeen.Load() < b.barrierN {
				if b.barrierSeen.Add(1) == b.barrierN {
					close(b.barrier)
				}
				select {
				case <-b.barrier:
				case <-time.After(5 * time.Second):
					b.t.Errorf("barrier timed out")
				}
			}
			if b.onUnauthorized != nil {
				b.onUnauthorized()
			}
			w.WriteHeader(http.StatusUnauthorized)
			_, _ = io.WriteString(w, `{"message":"token expired"}`)
			return
		}
		w.WriteHeader(b.itemStatus)
		body, _ := io.ReadAll(r.Body)
		if len(body) == 0 {
			body = []byte(`{"ok":true}`)
		}
		_, _ = w.Write(body)
	}
}

func (b *authBackend) start() *httptest.Server {
	srv := httptest.NewServer(b)
	b.t.Cleanup(srv.Close)
	return srv
}

func internalGet(ctx context.Context, c *Client) ([]byte, error) {
	return c.Get(ctx, "/items", httpx.WithOrigin(httpx.OriginInternal))
}

func TestRefresh_SuccessReplaysOnce(t *testing.T) {
	b := newAuthBackend(t, "a2")
	srv := b.start()
	store := credential.NewMemoryStore(credential.Pair{AccessToken: "a1", RefreshToken: "r1"})

	var observed int32
	c := New(newTransport(t, srv.URL),
		WithStore(store),
		WithRefreshObserver(func(err error, _ time.Duration) {
			if err == nil {
				atomic.AddInt32(&observed, 1)
			}
		}),
	)

	body, err := internalGet(context.Background(), c)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(body) != `{"ok":true}` {
		t.Fatalf("payload = %s", body)
	}
	if got := b.itemCalls.Load(); got != 2 {
		t.Fatalf("expected original call + one replay, got %d", got)
	}
	if got := b.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected one refresh, got %d", got)
	}
	if got := b.lastAuth.Load().(string); got != "Bearer a2" {
		t.Fatalf("replay Authorization = %q", got)
	}
	if p := store.Pair(); p.AccessToken != "a2" || p.RefreshToken != "r2" {
		t.Fatalf("store not updated: %+v", p)
	}
	if atomic.LoadInt32(&observed) != 1 {
		t.Fatalf("refresh observer not called")
	}
}

func TestRefresh_ReplayOutcomeIsClassified(t *testing.T) {
	b := newAuthBackend(t, "a2")
	b.itemStatus = http.StatusNotFound
	srv := b.start()
	c := New(newTransport(t, srv.URL),
		WithStore(credential.NewMemoryStore(credential.Pair{AccessToken: "a1", RefreshToken: "r1"})),
	)

	_, err := internalGet(context.Background(), c)
	e := mustTyped(t, err)
	if e.Code != apierr.CodeNotFound || e.Status != http.StatusNotFound {
		t.Fatalf("replay outcome should be classified normally, got %+v", e)
	}
}

func TestRefresh_SecondUnauthorizedIsTerminal(t *testing.T) {
	b := newAuthBackend(t, "never-valid")
	srv := b.start()
	var expired int32
	c := New(newTransport(t, srv.URL),
		WithStore(credential.NewMemoryStore(credential.Pair{AccessToken: "a1", RefreshToken: "r1"})),
		WithOnExpired(func(context.Context, *apierr.Error) { atomic.AddInt32(&expired, 1) }),
	)

	_, err := internalGet(context.Background(), c)
	e := mustTyped(t, err)
	if e.Code != apierr.CodeExpiredToken || e.UserMessage != apierr.MsgLoginRequired {
		t.Fatalf("got %+v", e)
	}
	if got := b.refreshCalls.Load(); got != 1 {
		t.Fatalf("a replayed 401 must not refresh again, refresh calls = %d", got)
	}
	if got := b.itemCalls.Load(); got != 2 {
		t.Fatalf("expected exactly one replay, item calls = %d", got)
	}
	if atomic.LoadInt32(&expired) != 1 {
		t.Fatalf("expiry hook should run once, ran %d", expired)
	}
}

func TestRefresh_FailureIsExpiredToken(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr func(error) bool
	}{
		{"refresh unauthorized", http.StatusUnauthorized, `{"message":"invalid refresh token"}`, func(err error) bool {
			return httpx.IsHTTPStatus(err, http.StatusUnauthorized)
		}},
		{"refresh server error", http.StatusInternalServerError, `{}`, func(err error) bool {
			return httpx.IsHTTPStatus(err, http.StatusInternalServerError)
		}},
		{"empty access token", http.StatusOK, `{"accessToken":"","refreshToken":"r2"}`, func(err error) bool {
			return errors.Is(err, ErrEmptyAccessToken)
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newAuthBackend(t, "a2")
			b.refreshStatus = tt.status
			b.refreshBody = tt.body
			srv := b.start()
			store := credential.NewMemoryStore(credential.Pair{AccessToken: "a1", RefreshToken: "r1"})
			c := New(newTransport(t, srv.URL), WithStore(store))

			_, err := internalGet(context.Background(), c)
			e := mustTyped(t, err)
			if e.Code != apierr.CodeExpiredToken || e.Status != http.StatusUnauthorized || e.Origin != apierr.OriginInternal {
				t.Fatalf("got %+v", e)
			}
			if !tt.wantErr(err) {
				t.Fatalf("unexpected cause: %v", err)
			}
			if got := b.refreshCalls.Load(); got != 1 {
				t.Fatalf("refresh calls = %d, want 1", got)
			}
			if got := b.itemCalls.Load(); got != 1 {
				t.Fatalf("no replay after failed refresh, item calls = %d", got)
			}
			if p := store.Pair(); p.AccessToken != "a1" {
				t.Fatalf("store must be untouched by a failed refresh: %+v", p)
			}
		})
	}
}

func TestRefresh_KeepsRefreshTokenWhenNotRotated(t *testing.T) {
	b := newAuthBackend(t, "a2")
	b.refreshBody = `{"accessToken":"a2"}`
	srv := b.start()
	store := credential.NewMemoryStore(credential.Pair{AccessToken: "a1", RefreshToken: "r1"})
	c := New(newTransport(t, srv.URL), WithStore(store))

	if _, err := internalGet(context.Background(), c); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if p := store.Pair(); p.AccessToken != "a2" || p.RefreshToken != "r1" {
		t.Fatalf("pair = %+v", p)
	}
}

func TestRefresh_ReplaysBody(t *testing.T) {
	b := newAuthBackend(t, "a2")
	srv := b.start()
	c := New(newTransport(t, srv.URL),
		WithStore(credential.NewMemoryStore(credential.Pair{AccessToken: "a1", RefreshToken: "r1"})),
	)

	body, err := c.Post(context.Background(), "/items", map[string]string{"name": "x"}, httpx.WithOrigin(httpx.OriginInternal))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	if string(body) != `{"name":"x"}` {
		t.Fatalf("replayed body = %s", body)
	}
}

func TestRefresh_BodyNotReplayable(t *testing.T) {
	b := newAuthBackend(t, "a2")
	srv := b.start()
	c := New(newTransport(t, srv.URL),
		WithStore(credential.NewMemoryStore(credential.Pair{AccessToken: "a1", RefreshToken: "r1"})),
	)

	req, _ := c.NewRequest(context.Background(), http.MethodPost, "/items", httpx.WithOrigin(httpx.OriginInternal))
	req.Body = io.NopCloser(bytes.NewBufferString(`{"name":"x"}`))
	req.GetBody = nil

	_, err := c.Do(req)
	if !apierr.IsExpiredToken(err) || !errors.Is(err, ErrBodyNotReplayable) {
		t.Fatalf("expected EXPIRED_TOKEN caused by ErrBodyNotReplayable, got %v", err)
	}
}

func TestRefresh_AlreadyRefreshedByAnotherRequest(t *testing.T) {
	b := newAuthBackend(t, "a2")
	store := credential.NewMemoryStore(credential.Pair{AccessToken: "a1", RefreshToken: "r1"})
	// Another request finishes its refresh while this one is in flight.
	var once sync.Once
	b.onUnauthorized = func() {
		once.Do(func() {
			_ = store.Save(context.Background(), credential.Pair{AccessToken: "a2", RefreshToken: "r2"})
		})
	}
	srv := b.start()
	c := New(newTransport(t, srv.URL), WithStore(store))

	body, err := internalGet(context.Background(), c)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if len(body) == 0 {
		t.Fatalf("expected payload")
	}
	if got := b.refreshCalls.Load(); got != 0 {
		t.Fatalf("no refresh needed when the store already holds a newer token, got %d", got)
	}
	if got := b.lastAuth.Load(); got != "Bearer a2" {
		t.Fatalf("replay sent %v", got)
	}
}

func TestRefresh_SuppliedBearerStillRefreshes(t *testing.T) {
	tests := []struct {
		name string
		opts []Option
		req  []httpx.RequestOption
	}{
		{"caller bearer", nil, []httpx.RequestOption{httpx.WithBearerToken("caller-token")}},
		{"static token", []Option{WithStaticToken("static-token")}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := newAuthBackend(t, "a2")
			srv := b.start()
			store := credential.NewMemoryStore(credential.Pair{AccessToken: "a1", RefreshToken: "r1"})
			var expired int32
			opts := append([]Option{
				WithStore(store),
				WithOnExpired(func(ctx context.Context, _ *apierr.Error) {
					atomic.AddInt32(&expired, 1)
					_ = store.Clear(ctx)
				}),
			}, tt.opts...)
			c := New(newTransport(t, srv.URL), opts...)

			reqOpts := append([]httpx.RequestOption{httpx.WithOrigin(httpx.OriginInternal)}, tt.req...)
			if _, err := c.Get(context.Background(), "/items", reqOpts...); err != nil {
				t.Fatalf("Get: %v", err)
			}
			if got := b.refreshCalls.Load(); got != 1 {
				t.Fatalf("expected one refresh, got %d", got)
			}
			if got := b.lastAuth.Load(); got != "Bearer a2" {
				t.Fatalf("replay sent %v", got)
			}
			if atomic.LoadInt32(&expired) != 0 {
				t.Fatalf("expiry hook must not run")
			}
			if p := store.Pair(); p != (credential.Pair{AccessToken: "a2", RefreshToken: "r2"}) {
				t.Fatalf("store = %+v", p)
			}
		})
	}
}

func TestRefresh_CustomRefresherUsesRawTransport(t *testing.T) {
	b := newAuthBackend(t, "a2")
	srv := b.start()
	tr := newTransport(t, srv.URL)
	var depth int32
	refresher := RefresherFunc(func(ctx context.Context, rt string) (credential.Pair, error) {
		atomic.AddInt32(&depth, 1)
		return NewTokenRefresher(tr, "").Refresh(ctx, rt)
	})
	c := New(tr,
		WithStore(credential.NewMemoryStore(credential.Pair{AccessToken: "a1", RefreshToken: "r1"})),
		WithRefresher(refresher),
	)
	if _, err := internalGet(context.Background(), c); err != nil {
		t.Fatalf("Get: %v", err)
	}
	if atomic.LoadInt32(&depth) != 1 {
		t.Fatalf("refresher called %d times", depth)
	}
}

func TestRefresh_ConcurrentUnauthorizedShareOneRefresh(t *testing.T) {
	const n = 8
	b := newAuthBackend(t, "a2").withBarrier(n)
	b.refreshGate = make(chan struct{})
	srv := b.start()
	store := credential.NewMemoryStore(credential.Pair{AccessToken: "a1", RefreshToken: "r1"})
	c := New(newTransport(t, srv.URL), WithStore(store))

	go func() {
		<-b.barrier
		time.Sleep(50 * time.Millisecond)
		close(b.refreshGate)
	}()

	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := internalGet(context.Background(), c)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Errorf("request failed: %v", err)
		}
	}
	if got := b.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected a single shared refresh, got %d", got)
	}
	if got := b.itemCalls.Load(); got != 2*n {
		t.Fatalf("expected each request to be replayed once, item calls = %d", got)
	}
}

func TestRefresh_ConcurrentFailureIsUniform(t *testing.T) {
	const n = 6
	b := newAuthBackend(t, "a2").withBarrier(n)
	b.refreshStatus = http.StatusUnauthorized
	b.refreshBody = `{"message":"invalid refresh token"}`
	b.refreshGate = make(chan struct{})
	srv := b.start()
	c := New(newTransport(t, srv.URL),
		WithStore(credential.NewMemoryStore(credential.Pair{AccessToken: "a1", RefreshToken: "r1"})),
	)

	go func() {
		<-b.barrier
		time.Sleep(50 * time.Millisecond)
		close(b.refreshGate)
	}()

	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := internalGet(context.Background(), c)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if !apierr.IsExpiredToken(err) {
			t.Errorf("expected EXPIRED_TOKEN, got %v", err)
		}
	}
	if got := b.refreshCalls.Load(); got != 1 {
		t.Fatalf("expected a single shared refresh, got %d", got)
	}
}

func TestRefresh_AbandonedWaiterDoesNotCancelSharedRefresh(t *testing.T) {
	b := newAuthBackend(t, "a2").withBarrier(2)
	b.refreshGate = make(chan struct{})
	srv := b.start()
	var expired int32
	store := &countingStore{MemoryStore: credential.NewMemoryStore(credential.Pair{AccessToken: "a1", RefreshToken: "r1"})}
	c := New(newTransport(t, srv.URL),
		WithStore(store),
		WithOnExpired(func(context.Context, *apierr.Error) { atomic.AddInt32(&expired, 1) }),
	)

	ctxA, cancelA := context.WithCancel(context.Background())
	defer cancelA()
	errA := make(chan error, 1)
	errB := make(chan error, 1)
	go func() {
		_, err := internalGet(ctxA, c)
		errA <- err
	}()
	go func() {
		_, err := internalGet(context.Background(), c)
		errB <- err
	}()

	// Both callers looked up the refresh token and the shared call is in flight.
	deadline := time.Now().Add(5 * time.Second)
	for store.refreshReads.Load() < 3 || b.refreshCalls.Load() == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("callers never reached the shared refresh")
		}
		time.Sleep(time.Millisecond)
	}
	cancelA()

	select {
	case err := <-errA:
		e, ok := apierr.As(err)
		if !ok || !errors.Is(err, context.Canceled) || e.Status != http.StatusUnauthorized || e.Code != "" {
			t.Fatalf("abandoned caller should get an unclassified 401: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("abandoned caller did not return")
	}

	close(b.refreshGate)
	select {
	case err := <-errB:
		if err != nil {
			t.Fatalf("remaining caller should succeed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("remaining caller did not return")
	}
	if got := b.refreshCalls.Load(); got != 1 {
		t.Fatalf("refresh calls = %d", got)
	}
	if atomic.LoadInt32(&expired) != 0 {
		t.Fatalf("abandoned requests must not trigger the expiry hook")
	}
}

type countingStore struct {
	*credential.MemoryStore
	refreshReads atomic.Int32
}

func (s *countingStore) RefreshToken(ctx context.Context) (string, error) {
	s.refreshReads.Add(1)
	return s.MemoryStore.RefreshToken(ctx)
}
