package auth

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/atomic"

	"github.com/lk2023060901/danmu-garden-gateway/internal/network/crypto"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

type fakeVerifier struct {
	status  StatusCode
	account *Account
}

func (v *fakeVerifier) VerifyCredentials(ctx context.Context, info LoginInfo) (StatusCode, *Account) {
	return v.status, v.account
}

type fakeOwner struct {
	connID    uint64
	attachErr error

	mu      sync.Mutex
	session *ClientSession
}

func (o *fakeOwner) ConnectionID() uint64 {
	return o.connID
}

func (o *fakeOwner) AttachSession(sess *ClientSession) error {
	if o.attachErr != nil {
		return o.attachErr
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.session = sess
	return nil
}

type ManagerSuite struct {
	suite.Suite

	clock    time.Time
	verifier *fakeVerifier
	manager  *Manager
}

func (s *ManagerSuite) SetupTest() {
	s.clock = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	s.verifier = &fakeVerifier{
		status:  StatusSuccess,
		account: &Account{ID: 42, Email: "player@example.com", PlayerName: "player"},
	}
	m, err := NewManager(Config{ServerVersion: "1.2.3"}, s.verifier, WithClock(func() time.Time { return s.clock }))
	s.Require().NoError(err)
	s.manager = m
}

func (s *ManagerSuite) login() *AuthTicket {
	status, ticket := s.manager.TryCreateSession(context.Background(), LoginInfo{
		Email:         "player@example.com",
		Password:      "secret",
		ClientVersion: "1.2.3",
	})
	s.Require().Equal(StatusSuccess, status)
	s.Require().NotNil(ticket)
	return ticket
}

func (s *ManagerSuite) credentials(ticket *AuthTicket) Credentials {
	creds, err := SealCredentials(ticket)
	s.Require().NoError(err)
	return creds
}

func (s *ManagerSuite) TestCreateSession() {
	ticket := s.login()

	s.NotZero(ticket.SessionID)
	s.Len(ticket.SessionKey, crypto.KeySize)
	s.Len(ticket.SessionToken, crypto.TokenSize)
	s.NotEmpty(ticket.PlatformToken)
	s.Equal("1.2.3", ticket.ServerVersion)
	s.True(s.manager.IsPending(ticket.SessionID))
	s.Equal(0, s.manager.ActiveCount())

	other := s.login()
	s.NotEqual(ticket.SessionID, other.SessionID)
	s.NotEqual(ticket.PlatformToken, other.PlatformToken)
}

func (s *ManagerSuite) TestVersionMismatch() {
	status, ticket := s.manager.TryCreateSession(context.Background(), LoginInfo{ClientVersion: "1.2.4"})
	s.Equal(StatusVersionMismatch, status)
	s.Nil(ticket)

	status, _ = s.manager.TryCreateSession(context.Background(), LoginInfo{ClientVersion: "garbage"})
	s.Equal(StatusVersionMismatch, status)
	s.Equal(0, s.manager.PendingCount())
}

func (s *ManagerSuite) TestCheckVersionCause() {
	err := s.manager.checkVersion("1.2.4")
	s.ErrorIs(err, merr.ErrSessionVersionMismatch)
	s.Contains(err.Error(), "client=1.2.4")
	s.Contains(err.Error(), "server=1.2.3")

	s.ErrorIs(s.manager.checkVersion("garbage"), merr.ErrSessionVersionMismatch)
	s.NoError(s.manager.checkVersion("1.2.3"))
}

func (s *ManagerSuite) TestVersionTolerance() {
	m, err := NewManager(Config{ServerVersion: "1.2.3", VersionTolerance: VersionMinor}, s.verifier)
	s.Require().NoError(err)

	status, _ := m.TryCreateSession(context.Background(), LoginInfo{ClientVersion: "1.9.0"})
	s.Equal(StatusSuccess, status)
	status, _ = m.TryCreateSession(context.Background(), LoginInfo{ClientVersion: "2.0.0"})
	s.Equal(StatusVersionMismatch, status)

	_, err = NewManager(Config{VersionTolerance: "loose"}, s.verifier)
	s.ErrorIs(err, merr.ErrParameterInvalid)
}

func (s *ManagerSuite) TestVerifierStatusPropagated() {
	for _, status := range []StatusCode{
		StatusIncorrectUsernameOrPassword,
		StatusAccountBanned,
		StatusAccountArchived,
		StatusPasswordExpired,
	} {
		s.verifier.status = status
		got, ticket := s.manager.TryCreateSession(context.Background(), LoginInfo{ClientVersion: "1.2.3"})
		s.Equal(status, got)
		s.Nil(ticket)
	}
	s.Equal(0, s.manager.PendingCount())
}

func (s *ManagerSuite) TestVerifyCredentials() {
	ticket := s.login()
	owner := &fakeOwner{connID: 1}

	sess, err := s.manager.VerifyClientCredentials(owner, s.credentials(ticket))
	s.Require().NoError(err)
	s.Equal(ticket.SessionID, sess.ID)
	s.Same(sess, owner.session)
	s.Same(owner, sess.Owner())
	s.Equal(uint64(1), sess.ConnectionID())
	s.False(s.manager.IsPending(ticket.SessionID))
	s.Equal(1, s.manager.ActiveCount())

	// 第二条连接使用同一会话被拒绝。
	_, err = s.manager.VerifyClientCredentials(&fakeOwner{connID: 2}, s.credentials(ticket))
	s.ErrorIs(err, merr.ErrSessionNotFound)
	s.Equal(1, s.manager.ActiveCount())
}

func (s *ManagerSuite) TestConcurrentClaimSingleWinner() {
	ticket := s.login()
	creds := s.credentials(ticket)

	const claimers = 16
	var (
		wg        sync.WaitGroup
		successes atomic.Int32
		start     = make(chan struct{})
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(connID uint64) {
			defer wg.Done()
			<-start
			if _, err := s.manager.VerifyClientCredentials(&fakeOwner{connID: connID}, creds); err == nil {
				successes.Inc()
			}
		}(uint64(i + 1))
	}
	close(start)
	wg.Wait()

	s.Equal(int32(1), successes.Load())
	s.Equal(1, s.manager.ActiveCount())
}

func (s *ManagerSuite) TestDecryptFailure() {
	ticket := s.login()
	creds := s.credentials(ticket)
	creds.EncryptedToken[0] ^= 0xFF

	_, err := s.manager.VerifyClientCredentials(&fakeOwner{connID: 1}, creds)
	s.ErrorIs(err, merr.ErrSessionDecryptFailed)
	s.False(s.manager.IsPending(ticket.SessionID))
	s.Equal(0, s.manager.ActiveCount())

	_, err = s.manager.VerifyPlatformTicket("player@example.com", ticket.PlatformToken)
	s.ErrorIs(err, merr.ErrPlatformTicketInvalid)
}

func (s *ManagerSuite) TestTokenMismatch() {
	ticket := s.login()

	iv, err := crypto.RandomBytes(crypto.IVSize)
	s.Require().NoError(err)
	c, err := crypto.NewTokenCipher(ticket.SessionKey)
	s.Require().NoError(err)
	wrong := make([]byte, crypto.TokenSize)
	sealed, err := c.Seal(iv, wrong, ticket.SessionID)
	s.Require().NoError(err)

	_, err = s.manager.VerifyClientCredentials(&fakeOwner{connID: 1}, Credentials{
		SessionID:      ticket.SessionID,
		IV:             iv,
		EncryptedToken: sealed,
	})
	s.ErrorIs(err, merr.ErrSessionTokenMismatch)
	s.Equal(0, s.manager.ActiveCount())
}

func (s *ManagerSuite) TestConnectionOwnsOneSession() {
	owner := &fakeOwner{connID: 1}
	_, err := s.manager.VerifyClientCredentials(owner, s.credentials(s.login()))
	s.Require().NoError(err)

	_, err = s.manager.VerifyClientCredentials(&fakeOwner{connID: 1}, s.credentials(s.login()))
	s.ErrorIs(err, merr.ErrSessionAlreadyActive)
	s.Equal(1, s.manager.ActiveCount())
}

func (s *ManagerSuite) TestAttachFailureRollsBack() {
	ticket := s.login()
	owner := &fakeOwner{connID: 1, attachErr: merr.WrapErrSessionAlreadyBound(ticket.SessionID)}

	_, err := s.manager.VerifyClientCredentials(owner, s.credentials(ticket))
	s.ErrorIs(err, merr.ErrSessionAlreadyBound)
	s.Equal(0, s.manager.ActiveCount())

	_, ok := s.manager.ActiveSession(ticket.SessionID)
	s.False(ok)
}

func (s *ManagerSuite) TestPendingExpiry() {
	ticket := s.login()

	s.Equal(0, s.manager.PurgeExpired(s.clock.Add(59*time.Second)))
	s.True(s.manager.IsPending(ticket.SessionID))

	s.Equal(1, s.manager.PurgeExpired(s.clock.Add(61*time.Second)))
	s.False(s.manager.IsPending(ticket.SessionID))
	_, ok := s.manager.ActiveSession(ticket.SessionID)
	s.False(ok)
	s.Equal(0, s.manager.platform.Len())

	_, err := s.manager.VerifyClientCredentials(&fakeOwner{connID: 1}, s.credentials(ticket))
	s.ErrorIs(err, merr.ErrSessionNotFound)
}

func (s *ManagerSuite) TestUpdateCooldown() {
	ticket := s.login()

	// 未到清理间隔，即使会话已过期也不清理。
	s.clock = s.clock.Add(2 * time.Second)
	s.manager.cfg.PendingLifespan = time.Second
	s.manager.Update(s.clock)
	s.True(s.manager.IsPending(ticket.SessionID))

	s.clock = s.clock.Add(5 * time.Second)
	s.manager.Update(s.clock)
	s.False(s.manager.IsPending(ticket.SessionID))
}

func (s *ManagerSuite) TestPlatformTicket() {
	ticket := s.login()

	_, err := s.manager.VerifyPlatformTicket("player@example.com", ticket.PlatformToken)
	s.ErrorIs(err, merr.ErrPlatformTicketInvalid, "pending session must not verify")

	_, err = s.manager.VerifyClientCredentials(&fakeOwner{connID: 1}, s.credentials(ticket))
	s.Require().NoError(err)

	_, err = s.manager.VerifyPlatformTicket("someone@example.com", ticket.PlatformToken)
	s.ErrorIs(err, merr.ErrPlatformTicketInvalid)

	accountID, err := s.manager.VerifyPlatformTicket(" Player@Example.com ", ticket.PlatformToken)
	s.Require().NoError(err)
	s.Equal(uint64(42), accountID)

	_, err = s.manager.VerifyPlatformTicket("player@example.com", ticket.PlatformToken)
	s.ErrorIs(err, merr.ErrPlatformTicketInvalid)
}

func (s *ManagerSuite) TestRemoveActiveSession() {
	ticket := s.login()
	_, err := s.manager.VerifyClientCredentials(&fakeOwner{connID: 1}, s.credentials(ticket))
	s.Require().NoError(err)

	s.NoError(s.manager.RemoveActiveSession(ticket.SessionID))
	s.Equal(0, s.manager.ActiveCount())
	s.Equal(0, s.manager.platform.Len())

	err = s.manager.RemoveActiveSession(ticket.SessionID)
	s.True(errors.Is(err, merr.ErrSessionNotFound))
}

func (s *ManagerSuite) TestMissingVerifier() {
	_, err := NewManager(DefaultConfig(), nil)
	s.ErrorIs(err, merr.ErrParameterMissing)
}

func TestManager(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func TestIDGenerator(t *testing.T) {
	g := NewIDGenerator("node-a", time.Unix(1700000000, 0))
	seen := make(map[uint64]struct{})
	for i := 0; i < 1000; i++ {
		id := g.Next()
		assert.NotZero(t, id)
		assert.NotContains(t, seen, id)
		seen[id] = struct{}{}
	}
}

func TestStatusCode(t *testing.T) {
	assert.Equal(t, "AccountBanned", StatusAccountBanned.String())
	assert.Equal(t, "StatusCode(999)", StatusCode(999).String())
	assert.True(t, StatusSuccess.OK())
	assert.False(t, StatusInternalError.OK())
}
