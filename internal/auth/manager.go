package auth

import (
	"context"
	"crypto/subtle"
	"strings"
	"time"

	"github.com/blang/semver/v4"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-gateway/internal/network/crypto"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/log"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/metrics"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// 会话 ID 冲突时的最大重试次数。
const maxSessionIDAttempts = 8

// Manager 负责会话的签发、校验与过期清理。
//
// 会话状态：
//   - TryCreateSession 在账号校验通过后创建 Pending 会话；
//   - VerifyClientCredentials 取出 Pending 会话并校验令牌，成功后转为 Active 并绑定连接；
//   - RemoveActiveSession 在连接断开时移除 Active 会话；
//   - Pending 会话超过 PendingLifespan 未被领取时由 Update 清理。
type Manager struct {
	log.Binder

	cfg           Config
	verifier      AccountVerifier
	serverVersion semver.Version

	ids      *IDGenerator
	pending  *pendingTable
	active   *activeTable
	platform *platformTable

	now       func() time.Time
	lastSweep atomic.Time
}

// Option 为 Manager 的可选参数。
type Option func(m *Manager)

// WithClock 替换时间来源，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		m.now = now
	}
}

func NewManager(cfg Config, verifier AccountVerifier, opts ...Option) (*Manager, error) {
	if verifier == nil {
		return nil, merr.WrapErrParameterMissing("account verifier")
	}
	cfg = cfg.withDefaults()

	version, err := semver.ParseTolerant(cfg.ServerVersion)
	if err != nil {
		return nil, merr.WrapErrParameterInvalidMsg("invalid server version %q: %s", cfg.ServerVersion, err.Error())
	}
	switch cfg.VersionTolerance {
	case VersionExact, VersionPatch, VersionMinor, VersionAny:
	default:
		return nil, merr.WrapErrParameterInvalidMsg("unknown version tolerance %q", cfg.VersionTolerance)
	}

	m := &Manager{
		cfg:           cfg,
		verifier:      verifier,
		serverVersion: version,
		pending:       newPendingTable(),
		active:        newActiveTable(),
		platform:      newPlatformTable(),
		now:           time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.ids = NewIDGenerator(cfg.NodeName, m.now())
	m.lastSweep.Store(m.now())
	m.SetLogger(log.With(log.FieldComponent("session-manager")))
	return m, nil
}

// TryCreateSession 校验登录请求并创建 Pending 会话。
//
// 账号服务返回的非成功状态码原样返回；仅在 StatusSuccess 时票据非空。
func (m *Manager) TryCreateSession(ctx context.Context, info LoginInfo) (StatusCode, *AuthTicket) {
	status, ticket := m.tryCreateSession(ctx, info)
	metrics.SessionAuthResults.WithLabelValues(status.String()).Inc()
	return status, ticket
}

func (m *Manager) tryCreateSession(ctx context.Context, info LoginInfo) (StatusCode, *AuthTicket) {
	logger := m.Logger().With(zap.String("email", info.Email))

	if err := m.checkVersion(info.ClientVersion); err != nil {
		logger.Info("login rejected", zap.Error(err))
		return StatusVersionMismatch, nil
	}

	status, account := m.verifier.VerifyCredentials(ctx, info)
	if !status.OK() {
		logger.Info("login rejected by account service", zap.Stringer("status", status))
		return status, nil
	}
	if account == nil {
		logger.Error("account service returned success without account")
		return StatusInternalError, nil
	}

	sess, err := m.newSession(*account)
	if err != nil {
		logger.Error("failed to create session", zap.Error(err))
		return StatusInternalError, nil
	}
	m.platform.Add(sess.PlatformToken, sess.ID)
	metrics.SessionsPending.Set(float64(m.pending.Len()))

	logger.Info("session created", log.FieldSessionID(sess.ID), log.FieldAccountID(account.ID))
	return StatusSuccess, &AuthTicket{
		SessionID:       sess.ID,
		SessionKey:      sess.Key,
		SessionToken:    sess.Token,
		PlatformToken:   sess.PlatformToken,
		FrontendAddress: m.cfg.FrontendAddress,
		FrontendPort:    m.cfg.FrontendPort,
		ServerVersion:   m.serverVersion.String(),
		ShowNews:        m.cfg.ShowNews,
	}
}

// newSession 生成会话并登记到 Pending 表，ID 与现有会话冲突时重新生成。
func (m *Manager) newSession(account Account) (*ClientSession, error) {
	key, err := crypto.RandomBytes(crypto.KeySize)
	if err != nil {
		return nil, err
	}
	token, err := crypto.RandomBytes(crypto.TokenSize)
	if err != nil {
		return nil, err
	}

	for i := 0; i < maxSessionIDAttempts; i++ {
		sess := &ClientSession{
			ID:            m.ids.Next(),
			Key:           key,
			Token:         token,
			Account:       account,
			PlatformToken: uuid.NewString(),
			CreatedAt:     m.now(),
		}
		if _, ok := m.active.Get(sess.ID); ok {
			continue
		}
		if m.pending.Add(sess) {
			return sess, nil
		}
	}
	return nil, merr.WrapErrServiceInternal("session id space exhausted")
}

// checkVersion 按容忍级别比较客户端与服务端版本，不匹配时返回 ErrSessionVersionMismatch。
func (m *Manager) checkVersion(client string) error {
	if m.cfg.VersionTolerance == VersionAny {
		return nil
	}
	mismatch := merr.WrapErrSessionVersionMismatch(client, m.serverVersion.String())
	v, err := semver.ParseTolerant(client)
	if err != nil {
		return errors.Wrap(mismatch, err.Error())
	}
	var ok bool
	switch m.cfg.VersionTolerance {
	case VersionMinor:
		ok = v.Major == m.serverVersion.Major
	case VersionPatch:
		ok = v.Major == m.serverVersion.Major && v.Minor == m.serverVersion.Minor
	default:
		ok = v.Equals(m.serverVersion)
	}
	if !ok {
		return mismatch
	}
	return nil
}

// VerifyClientCredentials 校验客户端提交的凭据，成功时会话转为 Active 并绑定到 owner。
//
// 同一会话只能被领取一次：并发的重复领取中只有一个成功。
func (m *Manager) VerifyClientCredentials(owner SessionOwner, creds Credentials) (*ClientSession, error) {
	logger := m.Logger().With(log.FieldSessionID(creds.SessionID), log.FieldConnID(owner.ConnectionID()))

	sess, ok := m.pending.Claim(creds.SessionID)
	if !ok {
		metrics.SessionsPending.Set(float64(m.pending.Len()))
		logger.Warn("credentials rejected, no pending session")
		return nil, merr.WrapErrSessionNotFound(creds.SessionID)
	}
	metrics.SessionsPending.Set(float64(m.pending.Len()))

	// 会话已被取出，失败路径上需使其平台令牌一并失效。
	fail := func(err error) (*ClientSession, error) {
		m.platform.InvalidateSession(sess.ID)
		return nil, err
	}

	cipher, err := crypto.NewTokenCipher(sess.Key)
	if err != nil {
		logger.Error("invalid session key", zap.Error(err))
		return fail(merr.WrapErrSessionDecryptFailed(sess.ID, err))
	}
	token, err := cipher.Open(creds.IV, creds.EncryptedToken, sess.ID)
	if err != nil {
		logger.Warn("credentials rejected, token decryption failed", zap.Error(err))
		return fail(merr.WrapErrSessionDecryptFailed(sess.ID, err))
	}
	if subtle.ConstantTimeCompare(token, sess.Token) != 1 {
		logger.Warn("credentials rejected, token mismatch", log.FieldSecurity())
		return fail(merr.WrapErrSessionTokenMismatch(sess.ID))
	}

	if err := m.active.TryActivate(sess, owner.ConnectionID()); err != nil {
		logger.Warn("credentials rejected, session claimed twice", log.FieldSecurity(), zap.Error(err))
		return fail(err)
	}
	if err := sess.bind(owner); err != nil {
		m.active.Remove(sess.ID)
		logger.Warn("credentials rejected, session owner already bound", log.FieldSecurity(), zap.Error(err))
		return fail(err)
	}
	metrics.SessionsActive.Set(float64(m.active.Len()))

	logger.Info("session activated", log.FieldAccountID(sess.Account.ID))
	return sess, nil
}

// RemoveActiveSession 移除 Active 会话并使其平台令牌失效。重复移除只记录日志。
func (m *Manager) RemoveActiveSession(id uint64) error {
	sess, ok := m.active.Remove(id)
	if !ok {
		m.Logger().Warn("remove active session twice or unknown session", log.FieldSessionID(id))
		return merr.WrapErrSessionNotFound(id, "remove active session")
	}
	m.platform.InvalidateSession(id)
	metrics.SessionsActive.Set(float64(m.active.Len()))

	m.Logger().Info("session removed", log.FieldSessionID(id), log.FieldAccountID(sess.Account.ID))
	return nil
}

// VerifyPlatformTicket 校验平台令牌，成功时返回账号 ID 并使令牌失效。
//
// 要求令牌对应的会话仍处于 Active 状态，且 email 与会话账号一致。
func (m *Manager) VerifyPlatformTicket(email, token string) (uint64, error) {
	sessionID, ok := m.platform.Lookup(token)
	if !ok {
		return 0, merr.WrapErrPlatformTicketInvalid("unknown token")
	}
	sess, ok := m.active.Get(sessionID)
	if !ok {
		return 0, merr.WrapErrPlatformTicketInvalid("session not active")
	}
	if !strings.EqualFold(strings.TrimSpace(email), sess.Account.Email) {
		m.Logger().Warn("platform ticket email mismatch", log.FieldSecurity(), log.FieldSessionID(sessionID))
		return 0, merr.WrapErrPlatformTicketInvalid("email mismatch")
	}
	if !m.platform.Consume(token, sessionID) {
		return 0, merr.WrapErrPlatformTicketInvalid("token already used")
	}
	return sess.Account.ID, nil
}

// Update 在距上次清理超过 SweepInterval 时清理过期的 Pending 会话。
func (m *Manager) Update(now time.Time) {
	if now.Sub(m.lastSweep.Load()) < m.cfg.SweepInterval {
		return
	}
	m.lastSweep.Store(now)
	m.PurgeExpired(now)
}

// PurgeExpired 立即清理过期的 Pending 会话，返回清理数量。
func (m *Manager) PurgeExpired(now time.Time) int {
	purged := m.pending.PurgeExpired(now, m.cfg.PendingLifespan)
	for _, sess := range purged {
		m.platform.InvalidateSession(sess.ID)
	}
	if len(purged) > 0 {
		m.Logger().Info("expired pending sessions purged", zap.Int("count", len(purged)))
	}
	metrics.SessionsPending.Set(float64(m.pending.Len()))
	return len(purged)
}

// IsPending 报告会话是否处于 Pending 状态。
func (m *Manager) IsPending(id uint64) bool {
	return m.pending.Contains(id)
}

// ActiveSession 返回 Active 会话。
func (m *Manager) ActiveSession(id uint64) (*ClientSession, bool) {
	return m.active.Get(id)
}

// PendingCount 返回 Pending 会话数。
func (m *Manager) PendingCount() int {
	return m.pending.Len()
}

// ActiveCount 返回 Active 会话数。
func (m *Manager) ActiveCount() int {
	return m.active.Len()
}
