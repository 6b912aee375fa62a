package chat

import (
	"encoding/json"
	"testing"

	"ChatRelay/tools/errs"

	"github.com/tj/assert"
)

func TestDecodeDirectCanonicalID(t *testing.T) {
	c := NewCodec(ChatProtocol)
	env, err := c.Decode([]byte(`{"type":1,"data":{"id":"m1","sender":{"user_id":7,"name":"a"},"receiver":{"userId":"9"},"message":"hi","sentAt":"2024-01-01"}}`))
	assert.Nil(t, err)
	assert.Equal(t, KindDirect, env.Kind)

	m := env.Payload.(DirectMessage)
	assert.Equal(t, int64(7), m.Sender.ID)
	assert.Equal(t, int64(9), m.Receiver.ID)
	assert.Equal(t, "hi", m.Message)

	out, err := c.Encode(&Envelope{Kind: KindDirect, Payload: m})
	assert.Nil(t, err)
	var got struct {
		Type int `json:"type"`
		Data struct {
			Sender   map[string]any `json:"sender"`
			Receiver map[string]any `json:"receiver"`
			Message  string         `json:"message"`
		} `json:"data"`
	}
	assert.Nil(t, json.Unmarshal(out, &got))
	assert.Equal(t, 1, got.Type)
	assert.Equal(t, float64(7), got.Data.Sender["id"])
	assert.Equal(t, "a", got.Data.Sender["name"])
	assert.Equal(t, float64(9), got.Data.Receiver["id"])
	assert.Equal(t, "hi", got.Data.Message)
}

func TestPartyPrefersIDForLookup(t *testing.T) {
	p, err := partyFrom(map[string]any{"id": json.Number("2"), "user_id": json.Number("9")})
	assert.Nil(t, err)
	assert.Equal(t, int64(2), p.ID)
	assert.Equal(t, int64(9), p.Canonical().ID)

	p, err = partyFrom(map[string]any{"userId": "4"})
	assert.Nil(t, err)
	assert.Equal(t, int64(4), p.ID)
	assert.Equal(t, int64(4), p.Canonical().ID)

	p, err = partyFrom(map[string]any{"id": json.Number("3")})
	assert.Nil(t, err)
	assert.Equal(t, int64(3), p.Canonical().ID)
}

func TestDecodeDirectNeedsBothParties(t *testing.T) {
	c := NewCodec(ChatProtocol)
	_, err := c.Decode([]byte(`{"type":1,"data":{"sender":{"id":1},"message":"hi"}}`))
	assert.True(t, errs.ErrDecode.Is(err))
}

func TestDecodeGroupLegacyShape(t *testing.T) {
	c := NewCodec(ChatProtocol)
	// receivers beside data, as plain objects and bare numbers
	env, err := c.Decode([]byte(`{"type":2,"receivers":[{"userId":1},{"userId":2},3],"data":{"id":5,"sender":{"user_id":1},"message":"yo"}}`))
	assert.Nil(t, err)
	m := env.Payload.(GroupMessage)
	assert.Equal(t, 3, len(m.Receivers))
	assert.Equal(t, int64(2), m.Receivers[1].ID)
	assert.Equal(t, int64(3), m.Receivers[2].ID)

	out, err := c.Encode(&Envelope{Kind: KindGroup, Payload: m})
	assert.Nil(t, err)
	var got map[string]map[string]any
	assert.Nil(t, json.Unmarshal(out, &got))
	v, ok := got["data"]["receiver"]
	assert.True(t, ok)
	assert.Nil(t, v)
	_, ok = got["data"]["receivers"]
	assert.False(t, ok)
}

func TestDecodePresenceFriendsAsString(t *testing.T) {
	c := NewCodec(ChatProtocol)
	env, err := c.Decode([]byte(`{"type":3,"data":{"sender":4,"friends":"[{\"id\":1,\"name\":\"x\"},{\"user_id\":2}]"}}`))
	assert.Nil(t, err)
	m := env.Payload.(PresenceCheck)
	assert.Equal(t, int64(4), m.Sender.ID)
	assert.Equal(t, 2, len(m.Friends))
	assert.Equal(t, int64(2), m.Friends[1].ID)

	res := PresenceResult{Sender: m.Sender, Friends: []FriendStatus{{Party: m.Friends[0], Online: true}}}
	out, err := c.Encode(&Envelope{Kind: KindPresence, Payload: res})
	assert.Nil(t, err)
	assert.Equal(t, `{"type":3,"data":{"sender":4,"friends":[{"id":1,"name":"x","online":true}]}}`, string(out))
}

func TestDecodeMalformed(t *testing.T) {
	c := NewCodec(ChatProtocol)
	for _, raw := range []string{
		``,
		`not json`,
		`[1,2]`,
		`{"data":{}}`,
		`{"type":"abc"}`,
		`{"type":1,"data":"text"}`,
		`{"type":1,"data":{"sender":{"id":"x"},"receiver":{"id":2}}}`,
		`{"type":1} {"type":1}`,
	} {
		_, err := c.Decode([]byte(raw))
		assert.True(t, errs.ErrDecode.Is(err), "input %q: %v", raw, err)
	}
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := NewCodec(ChatProtocol).Decode([]byte(`{"type":42,"data":{}}`))
	assert.True(t, errs.ErrRouteMiss.Is(err))

	// 5 is a broadcast in chat but undefined in keyexchange
	_, err = NewCodec(KeyExchangeProtocol).Decode([]byte(`{"type":5,"data":{}}`))
	assert.True(t, errs.ErrRouteMiss.Is(err))
}

func TestKeyExchangeTable(t *testing.T) {
	c := NewCodec(KeyExchangeProtocol)
	raw := []byte(`{"type":2,"data":{"senderID":1,"receiverID":2,"publicKey":"AAAA"}}`)
	env, err := c.Decode(raw)
	assert.Nil(t, err)
	assert.Equal(t, KindKeyRequest, env.Kind)
	k := env.Payload.(KeySignal)
	assert.Equal(t, int64(2), k.ReceiverID)
	assert.Equal(t, "AAAA", k.Extra["publicKey"])

	out, err := c.Encode(env)
	assert.Nil(t, err)
	assert.Equal(t, string(raw), string(out))

	_, ok := KeyExchangeProtocol.Wire(KindGroup)
	assert.False(t, ok)
}

func TestPassthroughKeepsBytes(t *testing.T) {
	c := NewCodec(ChatProtocol)
	raw := []byte(`{ "type": 6, "receiverId": 3, "data": {"by": 1} }`)
	env, err := c.Decode(raw)
	assert.Nil(t, err)
	assert.Equal(t, KindMute, env.Kind)
	assert.Equal(t, int64(3), env.Payload.(MuteNotice).ReceiverID)

	out, err := c.Encode(env)
	assert.Nil(t, err)
	assert.Equal(t, string(raw), string(out))

	raw = []byte(`{"type":5,"data":[1,"two"]}`)
	env, err = c.Decode(raw)
	assert.Nil(t, err)
	out, err = c.Encode(env)
	assert.Nil(t, err)
	assert.Equal(t, string(raw), string(out))
}

func TestEncodeDisconnectNotice(t *testing.T) {
	out, err := NewCodec(ChatProtocol).Encode(&Envelope{Kind: KindDisconnect, Payload: DisconnectNotice{Sender: 5}})
	assert.Nil(t, err)
	assert.Equal(t, `{"type":4,"data":{"sender":5}}`, string(out))
}

func TestDecodeDisconnectSenderID(t *testing.T) {
	env, err := NewCodec(ChatProtocol).Decode([]byte(`{"type":4,"senderID":5,"data":{"friends":[1,2]}}`))
	assert.Nil(t, err)
	d := env.Payload.(Disconnect)
	assert.Equal(t, int64(5), d.Sender.ID)
	assert.Equal(t, 2, len(d.Friends))
}

func TestProtocolByName(t *testing.T) {
	p, err := ProtocolByName("")
	assert.Nil(t, err)
	assert.Equal(t, "chat", p.Name())
	p, err = ProtocolByName("KeyExchange")
	assert.Nil(t, err)
	assert.Equal(t, []Kind{KindDirect, KindKeyRequest, KindKeyAccept, KindKeyRevoke}, p.Kinds())
	_, err = ProtocolByName("mqtt")
	assert.NotNil(t, err)
}
