package chat

import (
	"encoding/json"
	"fmt"
	"reflect"

	"ChatRelay/tools/decode"

	"github.com/mitchellh/mapstructure"
)

// Envelope is one decoded frame. Raw keeps the exact inbound bytes so the
// passthrough kinds can be forwarded unmodified.
type Envelope struct {
	Kind    Kind
	Payload Payload
	Raw     []byte
}

// Payload is implemented by the variant types below only.
type Payload interface {
	payload()
}

// Party identifies a user inside a payload. Clients have sent the id as
// id, user_id or userId over time, and sometimes as a bare number. ID is the
// registry key: id when present, else user_id, else userId. UserID keeps the
// user_id/userId value so outbound copies can be re-addressed by it. Every
// other key is kept in Extra and written back out.
type Party struct {
	ID     int64
	UserID int64
	Extra  map[string]any
	scalar bool
}

func NewParty(id int64) Party { return Party{ID: id, scalar: true} }

func (p Party) IsZero() bool { return p.ID == 0 }

// Canonical returns p with ID replaced by its user_id, when it has one.
func (p Party) Canonical() Party {
	if p.UserID != 0 {
		p.ID = p.UserID
	}
	return p
}

func (p Party) MarshalJSON() ([]byte, error) {
	if p.scalar && len(p.Extra) == 0 {
		return json.Marshal(p.ID)
	}
	out := make(map[string]any, len(p.Extra)+1)
	for k, v := range p.Extra {
		out[k] = v
	}
	out["id"] = p.ID
	return json.Marshal(out)
}

var partyUserKeys = []string{"user_id", "userId"}

func firstID(m map[string]any, keys ...string) (int64, error) {
	for _, k := range keys {
		raw, ok := m[k]
		if !ok || raw == nil {
			continue
		}
		id, err := decode.ToInt64(raw)
		if err != nil {
			return 0, fmt.Errorf("party %s: %w", k, err)
		}
		if id != 0 {
			return id, nil
		}
	}
	return 0, nil
}

func partyFrom(v any) (Party, error) {
	switch t := v.(type) {
	case nil:
		return Party{}, nil
	case Party:
		return t, nil
	case map[string]any:
		p := Party{Extra: make(map[string]any, len(t))}
		for k, val := range t {
			p.Extra[k] = val
		}
		uid, err := firstID(t, partyUserKeys...)
		if err != nil {
			return Party{}, err
		}
		id, err := firstID(t, "id")
		if err != nil && uid == 0 {
			return Party{}, err
		}
		p.UserID = uid
		p.ID = id
		if p.ID == 0 {
			p.ID = uid
		}
		return p, nil
	default:
		id, err := decode.ToInt64(v)
		if err != nil {
			return Party{}, fmt.Errorf("party: %w", err)
		}
		return Party{ID: id, scalar: true}, nil
	}
}

var partyType = reflect.TypeOf(Party{})

func partyHook() mapstructure.DecodeHookFuncType {
	return func(from, to reflect.Type, data any) (any, error) {
		if to != partyType {
			return data, nil
		}
		return partyFrom(data)
	}
}

// DirectMessage is a one-to-one chat message. Message and SentAt are opaque.
type DirectMessage struct {
	ID         any   `mapstructure:"id" json:"id"`
	Sender     Party `mapstructure:"sender" json:"sender"`
	Receiver   Party `mapstructure:"receiver" json:"receiver"`
	ReceiverID int64 `mapstructure:"receiverID" json:"-"`
	Message    any   `mapstructure:"message" json:"message"`
	SentAt     any   `mapstructure:"sentAt" json:"sentAt"`
}

// GroupMessage goes to every listed receiver but the sender. The outbound
// form drops the receivers list and carries receiver: null.
type GroupMessage struct {
	ID        any     `mapstructure:"id"`
	Sender    Party   `mapstructure:"sender"`
	Receivers []Party `mapstructure:"receivers"`
	Message   any     `mapstructure:"message"`
	SentAt    any     `mapstructure:"sentAt"`
}

func (g GroupMessage) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		ID       any    `json:"id"`
		Sender   Party  `json:"sender"`
		Receiver *Party `json:"receiver"`
		Message  any    `json:"message"`
		SentAt   any    `json:"sentAt"`
	}{g.ID, g.Sender, nil, g.Message, g.SentAt})
}

// PresenceCheck asks which of Friends are online.
type PresenceCheck struct {
	Sender  Party   `mapstructure:"sender" json:"sender"`
	Friends []Party `mapstructure:"friends" json:"friends"`
}

// FriendStatus is a friend entry annotated with online.
type FriendStatus struct {
	Party
	Online bool
}

func (f FriendStatus) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(f.Extra)+2)
	for k, v := range f.Extra {
		out[k] = v
	}
	out["id"] = f.ID
	out["online"] = f.Online
	return json.Marshal(out)
}

// PresenceResult is the reply to a PresenceCheck.
type PresenceResult struct {
	Sender  Party          `json:"sender"`
	Friends []FriendStatus `json:"friends"`
}

// Disconnect is a client announcing it is leaving.
type Disconnect struct {
	Sender   Party   `mapstructure:"sender" json:"sender"`
	SenderID int64   `mapstructure:"senderID" json:"-"`
	Friends  []Party `mapstructure:"friends" json:"friends"`
}

// DisconnectNotice tells a friend that Sender went offline.
type DisconnectNotice struct {
	Sender int64 `json:"sender"`
}

// Broadcast carries any JSON value.
type Broadcast struct {
	Data any
}

func (b Broadcast) MarshalJSON() ([]byte, error) { return json.Marshal(b.Data) }

// MuteNotice covers both mute and unmute.
type MuteNotice struct {
	ReceiverID int64          `mapstructure:"receiverId" json:"receiverId"`
	Extra      map[string]any `mapstructure:",remain" json:"-"`
}

func (m MuteNotice) MarshalJSON() ([]byte, error) {
	return mergeJSON(m.Extra, "receiverId", m.ReceiverID)
}

// KeySignal is a key-exchange request, accept or revoke. Key material
// rides in Extra untouched.
type KeySignal struct {
	SenderID   int64          `mapstructure:"senderID" json:"senderID"`
	ReceiverID int64          `mapstructure:"receiverID" json:"receiverID"`
	Extra      map[string]any `mapstructure:",remain" json:"-"`
}

func (k KeySignal) MarshalJSON() ([]byte, error) {
	return mergeJSON(k.Extra, "senderID", k.SenderID, "receiverID", k.ReceiverID)
}

func (DirectMessage) payload()    {}
func (GroupMessage) payload()     {}
func (PresenceCheck) payload()    {}
func (PresenceResult) payload()   {}
func (Disconnect) payload()       {}
func (DisconnectNotice) payload() {}
func (Broadcast) payload()        {}
func (MuteNotice) payload()       {}
func (KeySignal) payload()        {}

func mergeJSON(extra map[string]any, kv ...any) ([]byte, error) {
	out := make(map[string]any, len(extra)+len(kv)/2)
	for k, v := range extra {
		out[k] = v
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return json.Marshal(out)
}
