package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

type recordingService struct {
	handled []Message
	ticks   int
}

func (s *recordingService) HandleMessage(msg Message) error {
	switch msg.(type) {
	case AddClient, RemoveClient:
		s.handled = append(s.handled, msg)
		return nil
	case GameInstanceOp:
		panic("boom")
	default:
		return merr.WrapErrMailboxUnknownMessage("recording", msg)
	}
}

func (s *recordingService) Tick(now time.Time) {
	s.ticks++
}

func TestLoop_RunOnce(t *testing.T) {
	mb := NewMailbox(GroupingManager)
	svc := &recordingService{}
	loop := NewLoop(mb, svc, 0)

	mb.Enqueue(AddClient{})
	mb.Enqueue(ClientDisconnected{})
	mb.Enqueue(GameInstanceOp{})
	mb.Enqueue(RemoveClient{})

	n := loop.RunOnce(time.Now())
	assert.Equal(t, 4, n)
	require.Len(t, svc.handled, 2)
	assert.IsType(t, AddClient{}, svc.handled[0])
	assert.IsType(t, RemoveClient{}, svc.handled[1])
	assert.Equal(t, 1, svc.ticks)
}

func TestLoop_Run(t *testing.T) {
	mb := NewMailbox(GroupingManager)
	svc := &recordingService{}
	loop := NewLoop(mb, svc, time.Millisecond)

	mb.Enqueue(AddClient{})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Run(ctx) }()

	assert.Eventually(t, func() bool { return mb.Len() == 0 }, time.Second, time.Millisecond)
	cancel()
	assert.NoError(t, <-done)
	assert.Len(t, svc.handled, 1)
}
