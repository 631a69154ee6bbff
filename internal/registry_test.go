package internal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRegistry_CreateRoom 測試房間代碼的生成與登記
func TestRegistry_CreateRoom(t *testing.T) {
	reg := NewRegistry(testLogger())

	room, err := reg.CreateRoom("sess-host")
	require.NoError(t, err)
	assert.Len(t, room.Code, roomCodeLength)

	got, ok := reg.Get(room.Code)
	require.True(t, ok)
	assert.Equal(t, room, got)
}

// TestRegistry_CreateRoomWithCode 測試指定代碼還原房間與代碼衝突時的退回邏輯
func TestRegistry_CreateRoomWithCode(t *testing.T) {
	reg := NewRegistry(testLogger())

	room, err := reg.CreateRoomWithCode("WXYZ", "sess-host-1")
	require.NoError(t, err)
	assert.Equal(t, "WXYZ", room.Code)

	other, err := reg.CreateRoomWithCode("WXYZ", "sess-host-2")
	require.NoError(t, err)
	assert.NotEqual(t, "WXYZ", other.Code, "a taken code must fall back to a freshly minted one")
}

// TestRegistry_Delete 測試結構相等防護：只有登記表目前指向的那個房間實例才能被刪除
func TestRegistry_Delete(t *testing.T) {
	reg := NewRegistry(testLogger())

	room, err := reg.CreateRoom("sess-host")
	require.NoError(t, err)

	imposter := newRoom(room.Code, "sess-other", reg, testLogger())
	assert.False(t, reg.Delete(room.Code, imposter))

	_, ok := reg.Get(room.Code)
	assert.True(t, ok, "delete with a mismatched instance must not remove the real room")

	assert.True(t, reg.Delete(room.Code, room))
	_, ok = reg.Get(room.Code)
	assert.False(t, ok)
}

// TestRegistry_Stats 測試房間與玩家統計數字
func TestRegistry_Stats(t *testing.T) {
	reg := NewRegistry(testLogger())

	room, err := reg.CreateRoom("sess-host")
	require.NoError(t, err)

	conn := newConnection(nil, testLogger())
	_, _, err = room.AddNewPlayer("sess-p1", "Anna", conn)
	require.NoError(t, err)
	room.DetachPlayer("sess-p1")

	conn2 := newConnection(nil, testLogger())
	_, _, err = room.AddNewPlayer("sess-p2", "Bruno", conn2)
	require.NoError(t, err)

	stats := reg.Stats()
	assert.Equal(t, 1, stats["rooms"])
	assert.Equal(t, 2, stats["total_players"])
	assert.Equal(t, 1, stats["connected_players"])
}

// TestRegistry_Shutdown 測試關機時清空登記表並廣播終止訊息
func TestRegistry_Shutdown(t *testing.T) {
	reg := NewRegistry(testLogger())

	room, err := reg.CreateRoom("sess-host")
	require.NoError(t, err)

	hostConn := newConnection(nil, testLogger())
	room.AttachHost(hostConn)

	reg.Shutdown()

	_, ok := reg.Get(room.Code)
	assert.False(t, ok)

	select {
	case msg := <-hostConn.send:
		assert.Contains(t, string(msg), "quiz_terminated")
	default:
		t.Fatal("expected quiz_terminated frame on shutdown")
	}
}
