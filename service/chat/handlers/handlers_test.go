package handlers

import (
	"context"
	"encoding/json"
	"testing"

	"ChatRelay/service/chat"

	"github.com/tj/assert"
)

type staticFriends map[int64][]int64

func (s staticFriends) Friends(_ context.Context, id int64) ([]int64, error) {
	return s[id], nil
}

func newRelay(t *testing.T, opts chat.Options) *chat.Server {
	t.Helper()
	srv := chat.NewServer(opts)
	RegisterAll(srv.Disp(), srv.Protocol())
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv
}

func attach(srv *chat.Server, userID int64) *chat.Conn {
	c := chat.NewConn(userID, nil, srv.ConnOptions())
	srv.Attach(c)
	return c
}

func recv(t *testing.T, c *chat.Conn) map[string]any {
	t.Helper()
	select {
	case b, ok := <-c.Outbox():
		assert.True(t, ok, "outbox closed")
		var m map[string]any
		assert.Nil(t, json.Unmarshal(b, &m))
		return m
	default:
		t.Fatalf("conn %d (user %d) got nothing", c.ID, c.UserID)
		return nil
	}
}

func expectNone(t *testing.T, c *chat.Conn) {
	t.Helper()
	select {
	case b, ok := <-c.Outbox():
		if ok {
			t.Fatalf("user %d got unexpected frame %s", c.UserID, b)
		}
	default:
	}
}

func TestDirectMessage(t *testing.T) {
	srv := newRelay(t, chat.Options{})
	a, b := attach(srv, 1), attach(srv, 2)

	srv.HandleFrame(a, []byte(`{"type":1,"data":{"sender":{"id":1},"receiver":{"id":2},"message":"hi"}}`))

	m := recv(t, b)
	assert.Equal(t, float64(1), m["type"])
	data := m["data"].(map[string]any)
	assert.Equal(t, "hi", data["message"])
	assert.Equal(t, float64(1), data["sender"].(map[string]any)["id"])
	assert.Equal(t, float64(2), data["receiver"].(map[string]any)["id"])
	expectNone(t, a)
}

func TestDirectReachesEveryDevice(t *testing.T) {
	srv := newRelay(t, chat.Options{})
	a := attach(srv, 1)
	phone, laptop := attach(srv, 2), attach(srv, 2)
	other := attach(srv, 1)

	srv.HandleFrame(a, []byte(`{"type":1,"data":{"sender":{"userId":1},"receiver":{"user_id":2},"message":"yo"}}`))
	recv(t, phone)
	recv(t, laptop)
	expectNone(t, a)
	expectNone(t, other)
}

func TestDirectOfflineDropped(t *testing.T) {
	srv := newRelay(t, chat.Options{})
	a := attach(srv, 1)

	srv.HandleFrame(a, []byte(`{"type":1,"data":{"sender":{"id":1},"receiver":{"id":3},"message":"hi"}}`))
	expectNone(t, a)
	assert.Equal(t, chat.StateOpen, a.State())
	assert.Equal(t, int64(0), srv.Stats().Dropped)
}

func TestDirectLooksUpReceiverByID(t *testing.T) {
	srv := newRelay(t, chat.Options{})
	a := attach(srv, 1)
	byID, byUserID := attach(srv, 2), attach(srv, 9)

	srv.HandleFrame(a, []byte(`{"type":1,"data":{"sender":{"id":1,"user_id":5},"receiver":{"id":2,"user_id":9},"message":"hi"}}`))

	m := recv(t, byID)
	data := m["data"].(map[string]any)
	assert.Equal(t, "hi", data["message"])
	assert.Equal(t, float64(9), data["receiver"].(map[string]any)["id"])
	assert.Equal(t, float64(5), data["sender"].(map[string]any)["id"])
	expectNone(t, byUserID)
	expectNone(t, a)
}

func TestPresenceLooksUpFriendByID(t *testing.T) {
	srv := newRelay(t, chat.Options{})
	a := attach(srv, 1)
	attach(srv, 2)

	srv.HandleFrame(a, []byte(`{"type":3,"data":{"sender":{"id":1},"friends":[{"id":2,"user_id":9},{"id":9,"user_id":2}]}}`))

	friends := recv(t, a)["data"].(map[string]any)["friends"].([]any)
	assert.Equal(t, true, friends[0].(map[string]any)["online"])
	assert.Equal(t, false, friends[1].(map[string]any)["online"])
}

func TestGroupSkipsSenderAndDuplicates(t *testing.T) {
	srv := newRelay(t, chat.Options{})
	a, b, c := attach(srv, 1), attach(srv, 2), attach(srv, 3)

	srv.HandleFrame(a, []byte(`{"type":2,"receivers":[{"userId":1},{"userId":2},{"userId":2},{"userId":3},{"userId":4}],"data":{"sender":{"userId":1},"message":"all"}}`))

	for _, conn := range []*chat.Conn{b, c} {
		m := recv(t, conn)
		data := m["data"].(map[string]any)
		v, ok := data["receiver"]
		assert.True(t, ok)
		assert.Nil(t, v)
		expectNone(t, conn)
	}
	expectNone(t, a)
}

func TestPresenceRepliesToSender(t *testing.T) {
	srv := newRelay(t, chat.Options{})
	a, b := attach(srv, 1), attach(srv, 2)

	srv.HandleFrame(a, []byte(`{"type":3,"data":{"sender":{"id":1},"friends":[{"id":2,"name":"bo"},{"id":3}]}}`))

	m := recv(t, a)
	friends := m["data"].(map[string]any)["friends"].([]any)
	assert.Equal(t, 2, len(friends))
	assert.Equal(t, true, friends[0].(map[string]any)["online"])
	assert.Equal(t, "bo", friends[0].(map[string]any)["name"])
	assert.Equal(t, false, friends[1].(map[string]any)["online"])
	expectNone(t, b)
	assert.Equal(t, []int64{2, 3}, a.Friends())
}

func TestPresenceReplyStaysOnAskingHandle(t *testing.T) {
	srv := newRelay(t, chat.Options{})
	phone, laptop := attach(srv, 1), attach(srv, 1)

	srv.HandleFrame(phone, []byte(`{"type":3,"data":{"sender":{"id":1},"friends":[{"id":2}]}}`))
	recv(t, phone)
	expectNone(t, laptop)
	assert.Equal(t, []int64{2}, phone.Friends())
	assert.Equal(t, 0, len(laptop.Friends()))
}

func TestPresenceForOtherSenderNotRemembered(t *testing.T) {
	srv := newRelay(t, chat.Options{})
	a, b := attach(srv, 1), attach(srv, 2)

	srv.HandleFrame(a, []byte(`{"type":3,"data":{"sender":{"id":2},"friends":[{"id":1}]}}`))
	m := recv(t, b)
	assert.Equal(t, true, m["data"].(map[string]any)["friends"].([]any)[0].(map[string]any)["online"])
	expectNone(t, a)
	assert.Equal(t, 0, len(a.Friends()))
}

func TestDisconnectNotifiesOnlineFriends(t *testing.T) {
	srv := newRelay(t, chat.Options{})
	a, b := attach(srv, 1), attach(srv, 2)
	c := attach(srv, 3)

	srv.HandleFrame(a, []byte(`{"type":4,"data":{"sender":{"id":1},"friends":[{"id":2},{"id":4},{"id":2}]}}`))

	m := recv(t, b)
	assert.Equal(t, float64(4), m["type"])
	assert.Equal(t, float64(1), m["data"].(map[string]any)["sender"])
	expectNone(t, b)
	expectNone(t, c)
}

func TestCloseNotifiesFriendsOnLastHandle(t *testing.T) {
	srv := newRelay(t, chat.Options{Friends: staticFriends{1: {2, 3}}})
	phone, laptop := attach(srv, 1), attach(srv, 1)
	b := attach(srv, 2)

	srv.Release(phone)
	expectNone(t, b)

	srv.Release(laptop)
	m := recv(t, b)
	assert.Equal(t, float64(1), m["data"].(map[string]any)["sender"])

	// releasing twice is a no-op
	srv.Release(laptop)
	expectNone(t, b)
}

func TestCloseFallsBackToCheckedFriends(t *testing.T) {
	srv := newRelay(t, chat.Options{})
	a, b := attach(srv, 1), attach(srv, 2)

	srv.HandleFrame(a, []byte(`{"type":3,"data":{"sender":1,"friends":[2]}}`))
	recv(t, a)

	srv.Release(a)
	m := recv(t, b)
	assert.Equal(t, float64(4), m["type"])
}

func TestBroadcastReachesEveryone(t *testing.T) {
	srv := newRelay(t, chat.Options{})
	conns := []*chat.Conn{attach(srv, 1), attach(srv, 2), attach(srv, 3)}
	raw := `{"type":5,"data":{"text":"maintenance"}}`

	srv.HandleFrame(conns[0], []byte(raw))
	for _, c := range conns {
		select {
		case b := <-c.Outbox():
			assert.Equal(t, raw, string(b))
		default:
			t.Fatalf("user %d missed broadcast", c.UserID)
		}
	}
}

func TestMuteForwardedUnchanged(t *testing.T) {
	srv := newRelay(t, chat.Options{})
	a, b := attach(srv, 1), attach(srv, 2)
	raw := `{"type":7,"receiverId":2,"data":{"by":1}}`

	srv.HandleFrame(a, []byte(raw))
	select {
	case got := <-b.Outbox():
		assert.Equal(t, raw, string(got))
	default:
		t.Fatal("unmute not forwarded")
	}
	expectNone(t, a)
}

func TestKeyExchangeProtocol(t *testing.T) {
	srv := newRelay(t, chat.Options{Protocol: chat.KeyExchangeProtocol})
	a, b := attach(srv, 1), attach(srv, 2)

	raw := `{"type":3,"data":{"senderID":1,"receiverID":2,"key":"pub"}}`
	srv.HandleFrame(a, []byte(raw))
	select {
	case got := <-b.Outbox():
		assert.Equal(t, raw, string(got))
	default:
		t.Fatal("key accept not forwarded")
	}

	// group is not part of this protocol
	assert.Nil(t, srv.Disp().GetHandler(chat.KindGroup))
	srv.HandleFrame(a, []byte(`{"type":5,"data":{}}`))
	expectNone(t, a)
	expectNone(t, b)
}

func TestMalformedFrameKeepsConnection(t *testing.T) {
	srv := newRelay(t, chat.Options{})
	a, b := attach(srv, 1), attach(srv, 2)

	srv.HandleFrame(a, []byte(`{"type":1,"data":`))
	srv.HandleFrame(a, []byte(`{"type":99}`))
	assert.Equal(t, chat.StateOpen, a.State())
	assert.Equal(t, int64(2), srv.Stats().Dropped)

	srv.HandleFrame(a, []byte(`{"type":1,"data":{"sender":{"id":1},"receiver":{"id":2},"message":"still here"}}`))
	m := recv(t, b)
	assert.Equal(t, "still here", m["data"].(map[string]any)["message"])
}

func TestInjectHasNoSource(t *testing.T) {
	srv := newRelay(t, chat.Options{})
	a := attach(srv, 1)

	err := srv.Inject(context.Background(), []byte(`{"type":1,"data":{"sender":{"id":9},"receiver":{"id":1},"message":"from bus"}}`))
	assert.Nil(t, err)
	recv(t, a)

	err = srv.Inject(context.Background(), []byte(`nope`))
	assert.NotNil(t, err)
}
