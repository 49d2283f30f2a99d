package identity

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/ax-mentor/internal/domain"
)

type fakeRepo struct {
	mu        sync.Mutex
	users     map[string]*domain.User
	lastSeens int
}

func (f *fakeRepo) GetUser(_ context.Context, userID string) (*domain.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user := f.users[userID]
	if user == nil {
		return nil, nil
	}
	copy := *user
	return &copy, nil
}

func (f *fakeRepo) UpsertUser(_ context.Context, user *domain.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	copy := *user
	f.users[user.UserID] = &copy
	return nil
}

func (f *fakeRepo) UpdateLastSeen(_ context.Context, userID string, lastSeen time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastSeens++
	if u := f.users[userID]; u != nil {
		u.LastSeenAt = lastSeen
	}
	return nil
}

func (f *fakeRepo) CreateExport(context.Context, *domain.Export) error { return nil }
func (f *fakeRepo) GetExport(context.Context, string, string) (*domain.Export, error) {
	return nil, nil
}
func (f *fakeRepo) ListExports(context.Context, string, int) ([]*domain.Export, error) {
	return nil, nil
}
func (f *fakeRepo) DeleteExportsBefore(context.Context, time.Time) (int64, error) { return 0, nil }
func (f *fakeRepo) Ping(context.Context) error                                    { return nil }
func (f *fakeRepo) Close() error                                                  { return nil }

func TestMiddlewareIssuesCookieAndSession(t *testing.T) {
	repo := &fakeRepo{users: make(map[string]*domain.User)}
	var gotUser, gotSession string
	h := Middleware(repo, true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotUser = UserIDFromContext(r.Context())
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.Header.Set(SessionHeaderName, "tab-7")
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if !isValidAnonID(gotUser) {
		t.Fatalf("expected generated anon id, got %q", gotUser)
	}
	if gotSession != "tab-7" {
		t.Fatalf("expected session tab-7, got %q", gotSession)
	}
	if repo.users[gotUser] == nil {
		t.Fatal("expected user to be created")
	}

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != AnonCookieName || cookies[0].Value != gotUser {
		t.Fatalf("unexpected cookies: %+v", cookies)
	}
}

func TestMiddlewareSessionFromQuery(t *testing.T) {
	repo := &fakeRepo{users: make(map[string]*domain.User)}
	var gotSession string
	h := Middleware(repo, true)(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		gotSession = SessionIDFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/ws/mentor?session_id=tab-ws", nil)
	h.ServeHTTP(httptest.NewRecorder(), req)

	if gotSession != "tab-ws" {
		t.Fatalf("expected session tab-ws, got %q", gotSession)
	}
}

func TestMiddlewareRefreshesLastSeen(t *testing.T) {
	id := "anon_0123456789abcdef0123456789abcdef"
	repo := &fakeRepo{users: map[string]*domain.User{
		id: {UserID: id, LastSeenAt: time.Now().Add(-time.Hour)},
	}}
	h := Middleware(repo, true)(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.AddCookie(&http.Cookie{Name: AnonCookieName, Value: id})
		h.ServeHTTP(httptest.NewRecorder(), req)
	}

	if repo.lastSeens != 1 {
		t.Fatalf("expected a single last-seen refresh, got %d", repo.lastSeens)
	}
}

func TestSanitizeSessionID(t *testing.T) {
	if got := sanitizeSessionID("bad id with spaces"); got != DefaultSessionIDValue {
		t.Fatalf("expected default, got %q", got)
	}
	if got := sanitizeSessionID(" tab-1 "); got != "tab-1" {
		t.Fatalf("expected tab-1, got %q", got)
	}
}
