package account

import (
	"context"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/lk2023060901/danmu-garden-gateway/internal/auth"
	"github.com/lk2023060901/danmu-garden-gateway/internal/player"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

// Seed 为启动时写入的账号。
type Seed struct {
	Email           string `mapstructure:"email"`
	Password        string `mapstructure:"password"`
	PlayerName      string `mapstructure:"player-name"`
	Banned          bool   `mapstructure:"banned"`
	EmailUnverified bool   `mapstructure:"email-unverified"`
	Archived        bool   `mapstructure:"archived"`
	PasswordExpired bool   `mapstructure:"password-expired"`
}

// PlayerData 为内存中的玩家数据记录。
type PlayerData struct {
	AccountID  uint64
	Loads      int
	Saves      int
	LastLoaded time.Time
	LastSaved  time.Time
}

type record struct {
	account auth.Account
	hash    []byte
	seed    Seed
}

// MemoryStore 为开发与测试使用的账号库，密码以 bcrypt 哈希保存。
// 同时作为账号校验与玩家数据持久化的外部组件。
type MemoryStore struct {
	mu      sync.RWMutex
	cost    int
	nextID  uint64
	byEmail map[string]*record
	data    map[uint64]*PlayerData
}

var (
	_ auth.AccountVerifier = (*MemoryStore)(nil)
	_ player.Store         = (*MemoryStore)(nil)
)

// NewMemoryStore 创建账号库并写入 seeds。cost 为 bcrypt 强度，<=0 时使用 bcrypt.DefaultCost。
func NewMemoryStore(cost int, seeds ...Seed) (*MemoryStore, error) {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	s := &MemoryStore{
		cost:    cost,
		byEmail: make(map[string]*record),
		data:    make(map[uint64]*PlayerData),
	}
	for _, seed := range seeds {
		if _, err := s.AddAccount(seed); err != nil {
			return nil, err
		}
	}
	return s, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// AddAccount 新增账号，邮箱不区分大小写且不可重复。
func (s *MemoryStore) AddAccount(seed Seed) (auth.Account, error) {
	email := normalizeEmail(seed.Email)
	if email == "" {
		return auth.Account{}, merr.WrapErrParameterMissing("email")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(seed.Password), s.cost)
	if err != nil {
		return auth.Account{}, merr.WrapErrParameterInvalidMsg("hash password for %s: %s", email, err.Error())
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.byEmail[email]; exists {
		return auth.Account{}, merr.WrapErrParameterInvalidMsg("account %s already exists", email)
	}
	s.nextID++
	name := seed.PlayerName
	if name == "" {
		name = email[:strings.IndexByte(email+"@", '@')]
	}
	rec := &record{
		account: auth.Account{ID: s.nextID, Email: email, PlayerName: name},
		hash:    hash,
		seed:    seed,
	}
	s.byEmail[email] = rec
	s.data[rec.account.ID] = &PlayerData{AccountID: rec.account.ID}
	return rec.account, nil
}

// VerifyCredentials 实现 auth.AccountVerifier。
func (s *MemoryStore) VerifyCredentials(ctx context.Context, info auth.LoginInfo) (auth.StatusCode, *auth.Account) {
	if ctx.Err() != nil {
		return auth.StatusServiceUnavailable, nil
	}

	s.mu.RLock()
	rec, ok := s.byEmail[normalizeEmail(info.Email)]
	s.mu.RUnlock()
	if !ok {
		return auth.StatusIncorrectUsernameOrPassword, nil
	}
	if bcrypt.CompareHashAndPassword(rec.hash, []byte(info.Password)) != nil {
		return auth.StatusIncorrectUsernameOrPassword, nil
	}

	switch {
	case rec.seed.Banned:
		return auth.StatusAccountBanned, nil
	case rec.seed.EmailUnverified:
		return auth.StatusEmailNotVerified, nil
	case rec.seed.Archived:
		return auth.StatusAccountArchived, nil
	case rec.seed.PasswordExpired:
		return auth.StatusPasswordExpired, nil
	}
	account := rec.account
	return auth.StatusSuccess, &account
}

// LoadPlayerData 实现 player.Store。
func (s *MemoryStore) LoadPlayerData(ctx context.Context, account auth.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[account.ID]
	if !ok {
		return merr.WrapErrPlayerNotFound(account.ID, "load")
	}
	d.Loads++
	d.LastLoaded = time.Now()
	return nil
}

// SavePlayerData 实现 player.Store。
func (s *MemoryStore) SavePlayerData(ctx context.Context, account auth.Account) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.data[account.ID]
	if !ok {
		return merr.WrapErrPlayerNotFound(account.ID, "save")
	}
	d.Saves++
	d.LastSaved = time.Now()
	return nil
}

// PlayerData 返回玩家数据记录的副本。
func (s *MemoryStore) PlayerData(accountID uint64) (PlayerData, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.data[accountID]
	if !ok {
		return PlayerData{}, false
	}
	return *d, true
}
