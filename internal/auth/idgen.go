package auth

import (
	"hash/fnv"
	"os"
	"time"

	"go.uber.org/atomic"
)

const (
	idNodeBits  = 16
	idEpochBits = 24
	idSeqBits   = 24
)

// IDGenerator 生成 64 位会话 ID：节点哈希（16 位）| 启动时间（24 位）| 序号（24 位）。
// 同一进程内序号单调递增，回绕后由调用方检测冲突并重新生成。
type IDGenerator struct {
	prefix uint64
	seq    atomic.Uint64
}

func NewIDGenerator(node string, start time.Time) *IDGenerator {
	if node == "" {
		node, _ = os.Hostname()
	}
	h := fnv.New32a()
	_, _ = h.Write([]byte(node))

	nodeBits := uint64(h.Sum32()) & (1<<idNodeBits - 1)
	epochBits := uint64(start.Unix()) & (1<<idEpochBits - 1)
	return &IDGenerator{
		prefix: nodeBits<<(idEpochBits+idSeqBits) | epochBits<<idSeqBits,
	}
}

// Next 返回下一个 ID，结果永不为 0。
func (g *IDGenerator) Next() uint64 {
	for {
		id := g.prefix | g.seq.Inc()&(1<<idSeqBits-1)
		if id != 0 {
			return id
		}
	}
}
