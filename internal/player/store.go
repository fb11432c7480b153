package player

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-gateway/internal/auth"
	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/log"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/conc"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/lock"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/retry"
)

// Store 为外部玩家数据存储。调用方保证同一账号的调用不会并发。
type Store interface {
	LoadPlayerData(ctx context.Context, account auth.Account) error
	SavePlayerData(ctx context.Context, account auth.Account) error
}

// PersistenceConfig 为持久化任务配置。
type PersistenceConfig struct {
	Workers  int           `mapstructure:"workers"`
	Attempts uint          `mapstructure:"attempts"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

func DefaultPersistenceConfig() PersistenceConfig {
	return PersistenceConfig{
		Workers:  8,
		Attempts: 3,
		Timeout:  10 * time.Second,
	}
}

// persister 在协程池中执行持久化任务，并将结果投递回玩家管理服务。
//
// 同一账号的加载与保存在账号级锁内串行执行：断线触发的保存可能与重连触发的加载竞争。
type persister struct {
	log.Binder

	cfg   PersistenceConfig
	store Store
	dir   *service.Directory
	locks *lock.KeyLock[uint64]
	pool  *conc.Pool[struct{}]
}

func newPersister(cfg PersistenceConfig, store Store, dir *service.Directory) (*persister, error) {
	def := DefaultPersistenceConfig()
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Attempts == 0 {
		cfg.Attempts = def.Attempts
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}

	pool, err := conc.NewPool[struct{}](cfg.Workers,
		conc.WithName("player-persistence"),
		conc.WithExpiryDuration(time.Minute),
		conc.WithConcealPanic(true))
	if err != nil {
		return nil, err
	}
	p := &persister{
		cfg:   cfg,
		store: store,
		dir:   dir,
		locks: lock.NewKeyLock[uint64](),
		pool:  pool,
	}
	p.SetLogger(log.With(log.FieldComponent("player-persistence")))
	return p, nil
}

func (p *persister) Load(account auth.Account) *conc.Future[struct{}] {
	return p.submit(service.PlayerDataLoad, account)
}

func (p *persister) Save(account auth.Account) *conc.Future[struct{}] {
	return p.submit(service.PlayerDataSave, account)
}

func (p *persister) submit(op service.PlayerDataOp, account auth.Account) *conc.Future[struct{}] {
	return p.pool.Submit(func() (struct{}, error) {
		err := p.run(op, account)
		if sendErr := p.dir.Send(service.PlayerManager, service.PlayerDataOpResult{
			Op:        op,
			AccountID: account.ID,
			Err:       err,
		}); sendErr != nil {
			p.Logger().Warn("failed to deliver persistence result", zap.Error(sendErr))
		}
		return struct{}{}, err
	})
}

func (p *persister) run(op service.PlayerDataOp, account auth.Account) error {
	p.locks.Lock(account.ID)
	defer p.locks.Unlock(account.ID)

	intentCtx, sp := log.NewIntentContext("player-persistence", op.String())
	defer sp.End()
	ctx, cancel := context.WithTimeout(log.WithFields(intentCtx, log.FieldAccountID(account.ID)), p.cfg.Timeout)
	defer cancel()

	fn := p.store.LoadPlayerData
	if op == service.PlayerDataSave {
		fn = p.store.SavePlayerData
	}
	err := retry.Do(ctx, func() error {
		return fn(ctx, account)
	}, retry.Attempts(p.cfg.Attempts))
	if err == nil {
		return nil
	}

	log.Ctx(ctx).Warn("player data operation failed", zap.Error(err))
	if op == service.PlayerDataSave {
		return merr.WrapErrPlayerDataSaveFailed(account.ID, err)
	}
	return merr.WrapErrPlayerDataLoadFailed(account.ID, err)
}

func (p *persister) Release() {
	p.pool.Release()
}
