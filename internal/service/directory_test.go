package service

import (
	"sync"
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lk2023060901/danmu-garden-gateway/pkg/util/merr"
)

func TestDirectory(t *testing.T) {
	d := NewDirectory()

	mb, err := d.Register(PlayerManager)
	require.NoError(t, err)
	assert.Equal(t, PlayerManager, mb.Service())

	_, err = d.Register(PlayerManager)
	assert.ErrorIs(t, err, merr.ErrParameterInvalid)

	d.Seal()
	_, err = d.Register(GroupingManager)
	assert.Error(t, err)

	require.NoError(t, d.Send(PlayerManager, AddClient{}))
	assert.Equal(t, 1, mb.Len())

	err = d.Send(GroupingManager, AddClient{})
	assert.ErrorIs(t, err, merr.ErrServiceNotFound)

	got, ok := d.Mailbox(PlayerManager)
	assert.True(t, ok)
	assert.Same(t, mb, got)
}

func TestDirectory_RegisterRacesSeal(t *testing.T) {
	for i := 0; i < 50; i++ {
		d := NewDirectory()
		var (
			wg      sync.WaitGroup
			mu      sync.Mutex
			success []Type
		)
		for _, typ := range Types {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := d.Register(typ); err == nil {
					mu.Lock()
					success = append(success, typ)
					mu.Unlock()
				} else {
					assert.ErrorIs(t, err, merr.ErrServiceInternal)
				}
			}()
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.Seal()
		}()
		wg.Wait()

		// 登记成功与邮箱存在一一对应，Seal 之后不再出现新邮箱。
		for _, typ := range Types {
			_, ok := d.Mailbox(typ)
			assert.Equal(t, ok, lo.Contains(success, typ), "service %s", typ)
		}
		_, err := d.Register(Types[0])
		assert.Error(t, err)
	}
}

func TestType(t *testing.T) {
	assert.Equal(t, "GroupingManager", GroupingManager.String())
	assert.Equal(t, "Type(9)", Type(9).String())

	typ, ok := ParseType("GameInstance")
	assert.True(t, ok)
	assert.Equal(t, GameInstance, typ)

	_, ok = ParseType("Chat")
	assert.False(t, ok)

	assert.Equal(t, "AddPlayer", OpAddPlayer.String())
	assert.Equal(t, "Save", PlayerDataSave.String())
}
