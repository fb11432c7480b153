package auth

import (
	"context"
	"sync"
	"time"

	"github.com/lk2023060901/danmu-garden-gateway/internal/network/crypto"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// LoginInfo 为客户端的登录请求。
type LoginInfo struct {
	Email         string `json:"email"`
	Password      string `json:"password"`
	ClientVersion string `json:"clientVersion"`
	Platform      string `json:"platform,omitempty"`
}

// Account 为账号校验通过后得到的账号信息。
type Account struct {
	ID         uint64 `json:"id"`
	Email      string `json:"email"`
	PlayerName string `json:"playerName"`
}

// AccountVerifier 为外部账号服务，负责校验登录凭据。
// 返回的状态码被视为权威结果，原样透传给客户端。
type AccountVerifier interface {
	VerifyCredentials(ctx context.Context, info LoginInfo) (StatusCode, *Account)
}

// AuthTicket 为登录成功后返回给客户端的票据。
type AuthTicket struct {
	SessionID     uint64 `json:"sessionId"`
	SessionKey    []byte `json:"sessionKey"`
	SessionToken  []byte `json:"sessionToken"`
	PlatformToken string `json:"platformToken"`

	FrontendAddress string `json:"frontendAddress"`
	FrontendPort    int    `json:"frontendPort"`

	ServerVersion string `json:"serverVersion"`
	ShowNews      bool   `json:"showNews"`
}

// Credentials 为客户端连接网关后提交的会话凭据。
// EncryptedToken 为使用会话密钥与 IV 加密的会话令牌。
type Credentials struct {
	SessionID      uint64 `json:"sessionId"`
	IV             []byte `json:"iv"`
	EncryptedToken []byte `json:"encryptedToken"`
}

// SealCredentials 使用票据中的会话密钥生成凭据，供客户端调用。
func SealCredentials(ticket *AuthTicket) (Credentials, error) {
	iv, err := crypto.RandomBytes(crypto.IVSize)
	if err != nil {
		return Credentials{}, err
	}
	c, err := crypto.NewTokenCipher(ticket.SessionKey)
	if err != nil {
		return Credentials{}, err
	}
	sealed, err := c.Seal(iv, ticket.SessionToken, ticket.SessionID)
	if err != nil {
		return Credentials{}, err
	}
	return Credentials{
		SessionID:      ticket.SessionID,
		IV:             iv,
		EncryptedToken: sealed,
	}, nil
}

// SessionOwner 为会话绑定的连接所有者（例如前端客户端）。
type SessionOwner interface {
	ConnectionID() uint64
	AttachSession(sess *ClientSession) error
}

// ClientSession 为一次登录产生的会话。
//
// 生命周期：Pending（等待客户端连接）-> Active（绑定到唯一连接）-> 移除。
// 除 owner 外，字段在创建后只读。
type ClientSession struct {
	ID            uint64
	Key           []byte
	Token         []byte
	Account       Account
	PlatformToken string
	CreatedAt     time.Time

	mu     sync.Mutex
	owner  SessionOwner
	connID uint64
}

// Owner 返回会话绑定的连接所有者，未绑定时为 nil。
func (s *ClientSession) Owner() SessionOwner {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.owner
}

// ConnectionID 返回会话绑定的连接 ID。
func (s *ClientSession) ConnectionID() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connID
}

// bind 将会话绑定到 owner，只允许成功一次。
func (s *ClientSession) bind(owner SessionOwner) error {
	s.mu.Lock()
	if s.owner != nil {
		s.mu.Unlock()
		return merr.WrapErrSessionAlreadyBound(s.ID)
	}
	s.owner = owner
	s.connID = owner.ConnectionID()
	s.mu.Unlock()

	if err := owner.AttachSession(s); err != nil {
		return err
	}
	return nil
}

func (s *ClientSession) expired(now time.Time, lifespan time.Duration) bool {
	return now.Sub(s.CreatedAt) > lifespan
}
