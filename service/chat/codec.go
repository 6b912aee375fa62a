package chat

import (
	"encoding/json"

	"ChatRelay/tools/decode"
	"ChatRelay/tools/errs"

	"github.com/mitchellh/mapstructure"
)

// Codec turns frames into Envelopes and back for one Protocol.
type Codec struct {
	proto *Protocol
}

func NewCodec(p *Protocol) *Codec {
	if p == nil {
		p = ChatProtocol
	}
	return &Codec{proto: p}
}

func (c *Codec) Protocol() *Protocol { return c.proto }

// Decode parses one text frame. Malformed input yields ErrDecode, a type
// number the protocol does not define yields ErrRouteMiss. Neither is fatal
// to the connection.
func (c *Codec) Decode(raw []byte) (*Envelope, error) {
	obj, err := decode.UnmarshalObject(raw)
	if err != nil {
		return nil, errs.ErrDecode.WrapMsg("frame is not a json object", "err", err.Error())
	}
	rawType, ok := obj["type"]
	if !ok || rawType == nil {
		return nil, errs.ErrDecode.WrapMsg("missing type")
	}
	wire, err := decode.ToInt64(rawType)
	if err != nil {
		return nil, errs.ErrDecode.WrapMsg("type is not an integer", "type", rawType)
	}
	kind, ok := c.proto.Kind(int(wire))
	if !ok {
		return nil, errs.ErrRouteMiss.WrapMsg("unknown type", "type", wire, "protocol", c.proto.Name())
	}

	env := &Envelope{Kind: kind, Raw: append([]byte(nil), raw...)}
	if kind == KindBroadcast {
		env.Payload = Broadcast{Data: obj["data"]}
		return env, nil
	}

	data, err := payloadObject(obj)
	if err != nil {
		return nil, err
	}
	if env.Payload, err = decodePayload(kind, data); err != nil {
		return nil, err
	}
	return env, nil
}

// payloadObject returns data merged with the top-level keys older clients
// put beside it (receivers, receiverId, senderID). Keys inside data win.
func payloadObject(obj map[string]any) (map[string]any, error) {
	data := map[string]any{}
	switch d := obj["data"].(type) {
	case nil:
	case map[string]any:
		for k, v := range d {
			data[k] = v
		}
	default:
		return nil, errs.ErrDecode.WrapMsg("data is not an object")
	}
	for k, v := range obj {
		if k == "type" || k == "data" {
			continue
		}
		if _, exists := data[k]; !exists {
			data[k] = v
		}
	}
	return data, nil
}

func decodeOpts() decode.Options {
	return decode.Options{
		WeaklyTypedInput: true,
		Hooks:            []mapstructure.DecodeHookFunc{partyHook()},
	}
}

func decodePayload(kind Kind, data map[string]any) (Payload, error) {
	switch kind {
	case KindDirect:
		m, err := decode.Decode[DirectMessage](data, decodeOpts())
		if err != nil {
			return nil, errs.ErrDecode.WrapMsg("direct message", "err", err.Error())
		}
		if m.Receiver.IsZero() && m.ReceiverID != 0 {
			m.Receiver = NewParty(m.ReceiverID)
		}
		if m.Sender.IsZero() || m.Receiver.IsZero() {
			return nil, errs.ErrDecode.WrapMsg("direct message needs sender and receiver ids")
		}
		return *m, nil
	case KindGroup:
		m, err := decode.Decode[GroupMessage](data, decodeOpts())
		if err != nil {
			return nil, errs.ErrDecode.WrapMsg("group message", "err", err.Error())
		}
		if m.Sender.IsZero() {
			return nil, errs.ErrDecode.WrapMsg("group message needs a sender id")
		}
		return *m, nil
	case KindPresence:
		m, err := decode.Decode[PresenceCheck](data, decodeOpts())
		if err != nil {
			return nil, errs.ErrDecode.WrapMsg("presence check", "err", err.Error())
		}
		if m.Sender.IsZero() {
			return nil, errs.ErrDecode.WrapMsg("presence check needs a sender id")
		}
		return *m, nil
	case KindDisconnect:
		m, err := decode.Decode[Disconnect](data, decodeOpts())
		if err != nil {
			return nil, errs.ErrDecode.WrapMsg("disconnect", "err", err.Error())
		}
		if m.Sender.IsZero() && m.SenderID != 0 {
			m.Sender = NewParty(m.SenderID)
		}
		if m.Sender.IsZero() {
			return nil, errs.ErrDecode.WrapMsg("disconnect needs a sender id")
		}
		return *m, nil
	case KindMute, KindUnmute:
		m, err := decode.Decode[MuteNotice](data, decodeOpts())
		if err != nil {
			return nil, errs.ErrDecode.WrapMsg("mute notice", "err", err.Error())
		}
		if m.ReceiverID == 0 {
			return nil, errs.ErrDecode.WrapMsg("mute notice needs receiverId")
		}
		return *m, nil
	case KindKeyRequest, KindKeyAccept, KindKeyRevoke:
		m, err := decode.Decode[KeySignal](data, decodeOpts())
		if err != nil {
			return nil, errs.ErrDecode.WrapMsg("key signal", "err", err.Error())
		}
		if m.ReceiverID == 0 {
			return nil, errs.ErrDecode.WrapMsg("key signal needs receiverID")
		}
		return *m, nil
	}
	return nil, errs.ErrRouteMiss.WrapMsg("no payload for kind", "kind", kind.String())
}

type wireFrame struct {
	Type int     `json:"type"`
	Data Payload `json:"data"`
}

// Encode serializes env. Passthrough kinds that arrived over the wire are
// returned byte-for-byte.
func (c *Codec) Encode(env *Envelope) ([]byte, error) {
	if env == nil {
		return nil, errs.ErrInternal.WrapMsg("nil envelope")
	}
	if env.Kind.Passthrough() && len(env.Raw) > 0 {
		return env.Raw, nil
	}
	wire, ok := c.proto.Wire(env.Kind)
	if !ok {
		return nil, errs.ErrRouteMiss.WrapMsg("kind not in protocol", "kind", env.Kind.String(), "protocol", c.proto.Name())
	}
	b, err := json.Marshal(wireFrame{Type: wire, Data: env.Payload})
	if err != nil {
		return nil, errs.Wrap(err)
	}
	return b, nil
}
