package instance

import (
	"go.uber.org/zap"

	"github.com/lk2023060901/danmu-garden-gateway/internal/service"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/log"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/typeutil"
)

// Service 为游戏实例服务的邮箱处理逻辑。
//
// 它只维护实例与玩家的归属关系，并按邮箱顺序确认玩家加入/离开操作；
// 实体模拟不在网关内完成。
type Service struct {
	log.Binder

	dir   *service.Directory
	games map[uint64]typeutil.Set[uint64]
}

func NewService(dir *service.Directory) *Service {
	s := &Service{
		dir:   dir,
		games: make(map[uint64]typeutil.Set[uint64]),
	}
	s.SetLogger(log.With(log.FieldService(service.GameInstance.String())))
	return s
}

// HandleMessage 实现 service.Handler。
func (s *Service) HandleMessage(msg service.Message) error {
	op, ok := msg.(service.GameInstanceOp)
	if !ok {
		return merr.WrapErrMailboxUnknownMessage(service.GameInstance, msg)
	}

	switch op.Op {
	case service.OpCreateGame:
		if _, exists := s.games[op.GameID]; !exists {
			s.games[op.GameID] = typeutil.NewSet[uint64]()
			s.Logger().Info("game started", zap.Uint64("gameID", op.GameID))
		}
		return nil

	case service.OpShutdownGame:
		players, exists := s.games[op.GameID]
		if !exists {
			return merr.WrapErrInstanceNotFound(op.GameID, "shutdown")
		}
		delete(s.games, op.GameID)
		s.Logger().Info("game shut down", zap.Uint64("gameID", op.GameID), zap.Int("players", players.Len()))
		return nil

	case service.OpAddPlayer:
		var err error
		if players, exists := s.games[op.GameID]; exists {
			if !players.TryInsert(op.AccountID) {
				s.Logger().Warn("player already in game", zap.Uint64("gameID", op.GameID), log.FieldAccountID(op.AccountID))
			}
		} else {
			err = merr.WrapErrInstanceNotFound(op.GameID, "add player")
		}
		return s.ack(op, err)

	case service.OpRemovePlayer:
		var err error
		if players, exists := s.games[op.GameID]; exists {
			if !players.TryRemove(op.AccountID) {
				s.Logger().Warn("player not in game", zap.Uint64("gameID", op.GameID), log.FieldAccountID(op.AccountID))
			}
		} else {
			err = merr.WrapErrInstanceNotFound(op.GameID, "remove player")
		}
		return s.ack(op, err)

	default:
		return merr.WrapErrMailboxUnknownMessage(service.GameInstance, op.Op)
	}
}

func (s *Service) ack(op service.GameInstanceOp, err error) error {
	return s.dir.Send(service.PlayerManager, service.GameInstanceOpAck{
		Op:        op.Op,
		GameID:    op.GameID,
		AccountID: op.AccountID,
		Err:       err,
	})
}

// Players 返回实例中的玩家，实例不存在时返回 nil。只能在服务处理循环中调用。
func (s *Service) Players(gameID uint64) []uint64 {
	players, ok := s.games[gameID]
	if !ok {
		return nil
	}
	return players.Collect()
}
