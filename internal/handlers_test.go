package internal

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *Registry) {
	t.Helper()
	reg := NewRegistry(testLogger())
	return NewDispatcher(reg, testLogger()), reg
}

func recvFrame(t *testing.T, c *Connection) map[string]any {
	t.Helper()
	select {
	case data := <-c.send:
		var m map[string]any
		require.NoError(t, json.Unmarshal(data, &m))
		return m
	case <-time.After(time.Second):
		t.Fatal("expected a frame, got none")
		return nil
	}
}

// TestDispatch_CreateRoom 建立房間後連線被綁定為主持人
func TestDispatch_CreateRoom(t *testing.T) {
	d, reg := newTestDispatcher(t)
	c := newConnection(nil, testLogger())

	d.Dispatch(c, []byte(`{"type":"create_room"}`))

	frame := recvFrame(t, c)
	assert.Equal(t, "room_created", frame["type"])
	roomCode, _ := frame["roomId"].(string)
	require.NotEmpty(t, roomCode)

	_, ok := reg.Get(roomCode)
	assert.True(t, ok)

	_, _, role := c.Binding()
	assert.Equal(t, RoleHost, role)
}

// TestDispatch_CreateRoom_RejectsSecondAttempt 同一連線不得建立第二個房間
func TestDispatch_CreateRoom_RejectsSecondAttempt(t *testing.T) {
	d, _ := newTestDispatcher(t)
	c := newConnection(nil, testLogger())

	d.Dispatch(c, []byte(`{"type":"create_room"}`))
	recvFrame(t, c)

	d.Dispatch(c, []byte(`{"type":"create_room"}`))
	frame := recvFrame(t, c)
	assert.Equal(t, "error", frame["type"])
}

// TestDispatch_JoinAndSubmitAnswer 玩家加入、主持人開始題目、玩家答題轉送給主持人
// (情境 1 + 情境 2 的逐字訊框)
func TestDispatch_JoinAndSubmitAnswer(t *testing.T) {
	d, reg := newTestDispatcher(t)
	host := newConnection(nil, testLogger())
	d.Dispatch(host, []byte(`{"type":"create_room"}`))
	created := recvFrame(t, host)
	roomCode := created["roomId"].(string)

	player := newConnection(nil, testLogger())
	d.Dispatch(player, []byte(`{"type":"join","roomCode":"`+roomCode+`","playerName":"Eve"}`))

	joined := recvFrame(t, player)
	assert.Equal(t, "joined", joined["type"])
	assert.Equal(t, "Eve", joined["playerName"])
	assert.Equal(t, false, joined["isReconnect"])
	assert.Equal(t, float64(0), joined["score"])

	playerJoined := recvFrame(t, host)
	assert.Equal(t, "player_joined", playerJoined["type"])

	room, ok := reg.Get(roomCode)
	require.True(t, ok)

	d.handleStartQuestion(room, startQuestionMsg{
		Index:    0,
		Total:    5,
		Question: json.RawMessage(`"what is 2+2?"`),
		Options:  json.RawMessage(`["3","4","5"]`),
	})
	started := recvFrame(t, player)
	assert.Equal(t, "question", started["type"])
	assert.Equal(t, float64(0), started["index"])
	assert.Equal(t, float64(5), started["total"])

	_, sessionID, _ := player.Binding()
	d.Dispatch(player, []byte(`{"type":"submit_answer","sessionId":"`+sessionID+`","answerData":[1],"answerTime":1234}`))

	answer := recvFrame(t, host)
	assert.Equal(t, "player_answered", answer["type"])
	assert.Equal(t, sessionID, answer["sessionId"])
	assert.Equal(t, "Eve", answer["name"])
	assert.NotNil(t, answer["answerTime"])
	assert.NotNil(t, answer["elapsedMs"])
}

// TestDispatch_SubmitAnswer_LengthBoundary 超過 20 筆的 answerData 被捨棄，
// 剛好 20 筆的轉送給主持人
func TestDispatch_SubmitAnswer_LengthBoundary(t *testing.T) {
	d, reg := newTestDispatcher(t)
	host := newConnection(nil, testLogger())
	d.Dispatch(host, []byte(`{"type":"create_room"}`))
	roomCode := recvFrame(t, host)["roomId"].(string)

	player := newConnection(nil, testLogger())
	d.Dispatch(player, []byte(`{"type":"join","roomCode":"`+roomCode+`","playerName":"Anna"}`))
	recvFrame(t, player)
	recvFrame(t, host)

	room, ok := reg.Get(roomCode)
	require.True(t, ok)
	d.handleStartQuestion(room, startQuestionMsg{Index: 0, Total: 1})
	recvFrame(t, player)

	_, sessionID, _ := player.Binding()

	twenty := make([]int, 20)
	raw20, err := json.Marshal(twenty)
	require.NoError(t, err)
	d.Dispatch(player, []byte(`{"type":"submit_answer","sessionId":"`+sessionID+`","answerData":`+string(raw20)+`}`))
	frame := recvFrame(t, host)
	assert.Equal(t, "player_answered", frame["type"])

	twentyOne := make([]int, 21)
	raw21, err := json.Marshal(twentyOne)
	require.NoError(t, err)
	d.Dispatch(player, []byte(`{"type":"submit_answer","sessionId":"`+sessionID+`","answerData":`+string(raw21)+`}`))

	select {
	case data := <-host.send:
		t.Fatalf("expected no frame for oversize answerData, got %s", data)
	case <-time.After(100 * time.Millisecond):
	}
}

// TestDispatch_AuthorizeHost 只有已綁定為該房間主持人的連線才能執行主持人限定動作
func TestDispatch_AuthorizeHost(t *testing.T) {
	d, reg := newTestDispatcher(t)
	room, err := reg.CreateRoom("sess-host")
	require.NoError(t, err)

	imposter := newConnection(nil, testLogger())
	imposter.Bind(room.Code, "sess-not-host", RoleHost)

	_, ok := d.authorizeHost(imposter)
	assert.False(t, ok)

	realHost := newConnection(nil, testLogger())
	room.AttachHost(realHost)
	realHost.Bind(room.Code, "sess-host", RoleHost)

	got, ok := d.authorizeHost(realHost)
	assert.True(t, ok)
	assert.Equal(t, room, got)
}

// TestDispatch_MalformedFrame 無法解析的訊框回報 MalformedFrame
func TestDispatch_MalformedFrame(t *testing.T) {
	d, _ := newTestDispatcher(t)
	c := newConnection(nil, testLogger())

	d.Dispatch(c, []byte(`not json`))
	frame := recvFrame(t, c)
	assert.Equal(t, "error", frame["type"])
	assert.Equal(t, ErrKindMalformedFrame.Message(), frame["message"])
}

// TestHandleDisconnect_PlayerNotifiesHost 玩家斷線後房間狀態更新並通知主持人
func TestHandleDisconnect_PlayerNotifiesHost(t *testing.T) {
	d, reg := newTestDispatcher(t)
	room, err := reg.CreateRoom("sess-host")
	require.NoError(t, err)

	hostConn := newConnection(nil, testLogger())
	room.AttachHost(hostConn)
	hostConn.Bind(room.Code, "sess-host", RoleHost)

	playerConn := newConnection(nil, testLogger())
	_, _, err = room.AddNewPlayer("sess-p1", "Anna", playerConn)
	require.NoError(t, err)
	playerConn.Bind(room.Code, "sess-p1", RolePlayer)

	d.HandleDisconnect(playerConn)

	p, ok := room.FindPlayer("sess-p1")
	require.True(t, ok)
	assert.False(t, p.IsConnected)

	frame := recvFrame(t, hostConn)
	assert.Equal(t, "player_left", frame["type"])
}

// TestHandleDisconnect_HostArmsGracePeriod 主持人斷線後房間進入寬限期而非立即終止
func TestHandleDisconnect_HostArmsGracePeriod(t *testing.T) {
	d, reg := newTestDispatcher(t)
	room, err := reg.CreateRoom("sess-host")
	require.NoError(t, err)

	hostConn := newConnection(nil, testLogger())
	room.AttachHost(hostConn)
	hostConn.Bind(room.Code, "sess-host", RoleHost)

	d.HandleDisconnect(hostConn)

	assert.False(t, room.HasHost())
	_, ok := reg.Get(room.Code)
	assert.True(t, ok, "room must survive until the grace timer actually fires")
}

// TestClampDuration 測試時長欄位的預設值與邊界裁切
func TestClampDuration(t *testing.T) {
	tests := []struct {
		name string
		raw  json.RawMessage
		want int
	}{
		{"missing field defaults", nil, defaultQuestionDuration},
		{"unparsable defaults", json.RawMessage(`"abc"`), defaultQuestionDuration},
		{"zero defaults", json.RawMessage(`0`), defaultQuestionDuration},
		{"negative defaults", json.RawMessage(`-5`), defaultQuestionDuration},
		{"too large defaults", json.RawMessage(`99999`), defaultQuestionDuration},
		{"valid value passes through", json.RawMessage(`45`), 45},
		{"upper bound passes through", json.RawMessage(`80`), 80},
		{"just over upper bound defaults", json.RawMessage(`81`), defaultQuestionDuration},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, clampDuration(tt.raw))
		})
	}
}

// TestSanitizeLeaderboard 測試還原快照時無效項目被捨棄而非讓整個請求失敗
func TestSanitizeLeaderboard(t *testing.T) {
	valid := generateSessionID()
	entries := []leaderboardEntryMsg{
		{SessionID: valid, Name: "Anna", Score: 12},
		{SessionID: "not-a-real-session", Name: "Ghost", Score: 5},
	}

	out := sanitizeLeaderboard(entries)
	require.Len(t, out, 1)
	assert.Equal(t, valid, out[0]["sessionId"])
}

// TestDispatch_RestoreRoom_SendsHostReconnected restore_room 一律回覆
// host_reconnected 並標示 isRestored，供已遺失房間記憶的主持人重建使用
func TestDispatch_RestoreRoom_SendsHostReconnected(t *testing.T) {
	d, reg := newTestDispatcher(t)
	c := newConnection(nil, testLogger())

	d.Dispatch(c, []byte(`{"type":"restore_room","roomId":"ZZZZ","sessionId":"`+generateSessionID()+`","players":[]}`))

	frame := recvFrame(t, c)
	assert.Equal(t, "host_reconnected", frame["type"])
	assert.Equal(t, true, frame["isRestored"])
	require.NotEmpty(t, frame["roomId"])

	_, ok := reg.Get(frame["roomId"].(string))
	assert.True(t, ok)
}

// TestDispatch_SendResults 主持人送出結果後，每位玩家收到含 correct/isFinal/
// leaderboard/playerScore 的個人化 result 訊框
func TestDispatch_SendResults(t *testing.T) {
	d, reg := newTestDispatcher(t)
	room, err := reg.CreateRoom("sess-host")
	require.NoError(t, err)

	playerConn := newConnection(nil, testLogger())
	_, _, err = room.AddNewPlayer("sess-p1", "Anna", playerConn)
	require.NoError(t, err)

	d.handleSendResults(room, sendResultsMsg{
		Correct:      json.RawMessage(`[1]`),
		IsFinal:      true,
		PlayerScores: map[string]float64{"sess-p1": 42},
		Leaderboard:  []leaderboardEntryMsg{{Name: "Anna", Score: 42}},
	})

	frame := recvFrame(t, playerConn)
	assert.Equal(t, "result", frame["type"])
	assert.Equal(t, true, frame["isFinal"])
	assert.Equal(t, float64(42), frame["playerScore"])
	require.NotNil(t, frame["leaderboard"])

	p, ok := room.FindPlayer("sess-p1")
	require.True(t, ok)
	assert.Equal(t, float64(42), p.Score)
}
