package authserver

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/suite"
	"golang.org/x/crypto/bcrypt"

	"github.com/lk2023060901/danmu-garden-gateway/internal/account"
	"github.com/lk2023060901/danmu-garden-gateway/internal/auth"
	"github.com/lk2023060901/danmu-garden-gateway/internal/json"
)

type owner struct{ id uint64 }

func (o owner) ConnectionID() uint64                    { return o.id }
func (o owner) AttachSession(*auth.ClientSession) error { return nil }

type ServerSuite struct {
	suite.Suite

	sessions *auth.Manager
	handler  http.Handler
}

func (s *ServerSuite) SetupTest() {
	store, err := account.NewMemoryStore(bcrypt.MinCost,
		account.Seed{Email: "alice@example.com", Password: "secret"},
		account.Seed{Email: "banned@example.com", Password: "secret", Banned: true},
	)
	s.Require().NoError(err)
	s.sessions, err = auth.NewManager(auth.DefaultConfig(), store)
	s.Require().NoError(err)

	registry := prometheus.NewRegistry()
	registry.MustRegister(prometheus.NewCounter(prometheus.CounterOpts{Name: "auth_test_total"}))
	s.handler = New(DefaultConfig(), s.sessions, registry).Handler()
}

func (s *ServerSuite) post(path string, v any) *httptest.ResponseRecorder {
	var body []byte
	switch v := v.(type) {
	case []byte:
		body = v
	default:
		var err error
		body, err = json.Marshal(v)
		s.Require().NoError(err)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, path, bytes.NewReader(body)))
	return rec
}

func (s *ServerSuite) login(email, password string) (*httptest.ResponseRecorder, *auth.AuthTicket) {
	rec := s.post(PathLogin, auth.LoginInfo{Email: email, Password: password, ClientVersion: "1.0.0"})
	if rec.Code != http.StatusOK {
		return rec, nil
	}
	ticket := &auth.AuthTicket{}
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), ticket))
	return rec, ticket
}

func (s *ServerSuite) TestLogin() {
	rec, ticket := s.login("alice@example.com", "secret")
	s.Equal(http.StatusOK, rec.Code)
	s.Require().NotNil(ticket)
	s.NotZero(ticket.SessionID)
	s.Len(ticket.SessionKey, 32)
	s.NotEmpty(ticket.PlatformToken)
	s.True(s.sessions.IsPending(ticket.SessionID))
}

func (s *ServerSuite) TestLoginFailures() {
	rec, _ := s.login("alice@example.com", "wrong")
	s.Equal(int(auth.StatusIncorrectUsernameOrPassword), rec.Code)
	s.Contains(rec.Body.String(), `"status":403`)

	rec, _ = s.login("banned@example.com", "secret")
	s.Equal(int(auth.StatusAccountBanned), rec.Code)

	rec = s.post(PathLogin, auth.LoginInfo{Email: "alice@example.com", Password: "secret", ClientVersion: "0.9.0"})
	s.Equal(int(auth.StatusVersionMismatch), rec.Code)

	rec = s.post(PathLogin, []byte("{"))
	s.Equal(http.StatusBadRequest, rec.Code)

	get := httptest.NewRecorder()
	s.handler.ServeHTTP(get, httptest.NewRequest(http.MethodGet, PathLogin, nil))
	s.Equal(http.StatusMethodNotAllowed, get.Code)
	s.Equal(0, s.sessions.PendingCount())
}

func (s *ServerSuite) TestPlatformVerify() {
	_, ticket := s.login("alice@example.com", "secret")
	s.Require().NotNil(ticket)
	req := PlatformVerifyRequest{Email: "alice@example.com", Token: ticket.PlatformToken}

	// 会话未激活时拒绝。
	s.Equal(http.StatusUnauthorized, s.post(PathPlatformVerify, req).Code)

	creds, err := auth.SealCredentials(ticket)
	s.Require().NoError(err)
	_, err = s.sessions.VerifyClientCredentials(owner{id: 1}, creds)
	s.Require().NoError(err)

	s.Equal(http.StatusUnauthorized, s.post(PathPlatformVerify, PlatformVerifyRequest{Email: "eve@example.com", Token: ticket.PlatformToken}).Code)

	rec := s.post(PathPlatformVerify, req)
	s.Require().Equal(http.StatusOK, rec.Code)
	var resp PlatformVerifyResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal(uint64(1), resp.AccountID)

	// 令牌只能使用一次。
	s.Equal(http.StatusUnauthorized, s.post(PathPlatformVerify, req).Code)
}

func (s *ServerSuite) TestMetricsAndHealth() {
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathMetrics, nil))
	s.Equal(http.StatusOK, rec.Code)
	s.Contains(rec.Body.String(), "auth_test_total")

	rec = httptest.NewRecorder()
	s.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, PathHealth, nil))
	s.Equal(http.StatusOK, rec.Code)
}

func TestServer(t *testing.T) {
	suite.Run(t, new(ServerSuite))
}
