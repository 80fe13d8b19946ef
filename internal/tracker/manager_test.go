package tracker

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManager_ConnectionIsReused(t *testing.T) {
	srv := newTestServer(t)
	m := srv.manager(t)

	var wg sync.WaitGroup
	conns := make([]*Conn, 8)
	for i := range conns {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c, err := m.Connection(context.Background())
			assert.NoError(t, err)
			conns[i] = c
		}(i)
	}
	wg.Wait()

	for _, c := range conns[1:] {
		assert.Same(t, conns[0], c)
	}
	assert.Equal(t, int64(1), srv.upgrades.Load())
}

func TestManager_JoinBeforeConnect(t *testing.T) {
	srv := newTestServer(t)
	m := srv.manager(t)

	m.Join(42)
	m.Join(42)
	assert.Equal(t, 0, srv.hub.RoomSize(42))

	_, err := m.Connection(context.Background())
	require.NoError(t, err)
	srv.waitRoomSize(t, 42, 1)

	m.Leave(42)
	assert.Equal(t, []int64{42}, m.Rooms())
	m.Leave(42)
	srv.waitRoomSize(t, 42, 0)

	// Leaving a room never joined is a no-op.
	m.Leave(99)
}

func TestManager_LeaveDuringConnectIsNotUndone(t *testing.T) {
	srv := newTestServer(t)

	for i := 0; i < 20; i++ {
		m := srv.manager(t)
		id, marker := int64(100+i), int64(1000+i)
		m.Join(id)

		connected := make(chan error, 1)
		go func() {
			_, err := m.Connection(context.Background())
			connected <- err
		}()
		m.Leave(id)
		require.NoError(t, <-connected)

		// Frames on one connection are handled in order, so once the marker
		// room is joined every earlier join or leave has been applied.
		m.Join(marker)
		srv.waitRoomSize(t, marker, 1)
		assert.Equal(t, 0, srv.hub.RoomSize(id), "iteration %d", i)
		assert.Equal(t, []int64{marker}, m.Rooms())
		require.NoError(t, m.Close())
	}
}

func TestManager_Close(t *testing.T) {
	srv := newTestServer(t)
	m := srv.manager(t)
	m.Join(42)

	_, err := m.Connection(context.Background())
	require.NoError(t, err)
	srv.waitRoomSize(t, 42, 1)

	require.NoError(t, m.Close())
	require.NoError(t, m.Close())
	srv.waitRoomSize(t, 42, 0)

	_, err = m.Connection(context.Background())
	assert.ErrorIs(t, err, ErrManagerClosed)
	assert.Equal(t, int64(1), srv.upgrades.Load())
}

func TestManager_ChannelURL(t *testing.T) {
	testCases := []struct {
		base string
		want string
	}{
		{"http://localhost:8080", "ws://localhost:8080/ws/orders"},
		{"https://shop.example.com/", "wss://shop.example.com/ws/orders"},
		{"wss://shop.example.com/store", "wss://shop.example.com/store/ws/orders"},
	}
	for _, tc := range testCases {
		t.Run(tc.base, func(t *testing.T) {
			got, err := NewManager(tc.base).channelURL()
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}

	_, err := NewManager("ftp://example.com").channelURL()
	assert.Error(t, err)
}
