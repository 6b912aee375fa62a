package chat

import (
	"fmt"
	"sort"
	"strings"
)

// Kind is the closed set of envelope variants the relay understands.
// Wire numbers are assigned by a Protocol, never by Kind itself.
type Kind int

const (
	KindUnknown Kind = iota
	KindDirect
	KindGroup
	KindPresence
	KindDisconnect
	KindBroadcast
	KindMute
	KindUnmute
	KindKeyRequest
	KindKeyAccept
	KindKeyRevoke
)

var kindNames = map[Kind]string{
	KindDirect:     "DIRECT_MESSAGE",
	KindGroup:      "GROUP_MESSAGE",
	KindPresence:   "PRESENCE_CHECK",
	KindDisconnect: "DISCONNECT",
	KindBroadcast:  "BROADCAST_COMMENT",
	KindMute:       "MUTE",
	KindUnmute:     "UNMUTE",
	KindKeyRequest: "KEY_REQUEST",
	KindKeyAccept:  "KEY_ACCEPT",
	KindKeyRevoke:  "KEY_REVOKE",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Passthrough kinds are forwarded byte-for-byte.
func (k Kind) Passthrough() bool {
	switch k {
	case KindBroadcast, KindMute, KindUnmute, KindKeyRequest, KindKeyAccept, KindKeyRevoke:
		return true
	}
	return false
}

// Protocol is one fixed wire enumeration. The chat and key-exchange tables
// reuse the same numbers for different meanings, so a server speaks
// exactly one of them.
type Protocol struct {
	name   string
	toKind map[int]Kind
	toWire map[Kind]int
}

func newProtocol(name string, table map[int]Kind) *Protocol {
	p := &Protocol{name: name, toKind: table, toWire: make(map[Kind]int, len(table))}
	for w, k := range table {
		p.toWire[k] = w
	}
	return p
}

var (
	ChatProtocol = newProtocol("chat", map[int]Kind{
		1: KindDirect,
		2: KindGroup,
		3: KindPresence,
		4: KindDisconnect,
		5: KindBroadcast,
		6: KindMute,
		7: KindUnmute,
	})
	KeyExchangeProtocol = newProtocol("keyexchange", map[int]Kind{
		1: KindDirect,
		2: KindKeyRequest,
		3: KindKeyAccept,
		4: KindKeyRevoke,
	})
)

func ProtocolByName(name string) (*Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "chat":
		return ChatProtocol, nil
	case "keyexchange":
		return KeyExchangeProtocol, nil
	}
	return nil, fmt.Errorf("unknown protocol %q", name)
}

func (p *Protocol) Name() string { return p.name }

func (p *Protocol) Kind(wire int) (Kind, bool) {
	k, ok := p.toKind[wire]
	return k, ok
}

func (p *Protocol) Wire(k Kind) (int, bool) {
	w, ok := p.toWire[k]
	return w, ok
}

// Kinds lists the kinds of p in wire order.
func (p *Protocol) Kinds() []Kind {
	wires := make([]int, 0, len(p.toKind))
	for w := range p.toKind {
		wires = append(wires, w)
	}
	sort.Ints(wires)
	out := make([]Kind, 0, len(wires))
	for _, w := range wires {
		out = append(out, p.toKind[w])
	}
	return out
}
