package filo

import (
	"fmt"
	"unicode"
)

// asciiSub replaces anything outside the 7-bit range on text paths.
const asciiSub = '?'

// Message is an immutable payload received from or sent to a peer.
//
// The receive loop emits one Message per accumulation cycle, so its
// boundaries are a product of arrival timing, not of any framing: a
// logical message may be split or coalesced by the network. Protocols
// that need exact boundaries must frame their payloads themselves.
type Message struct {
	payload []byte
}

// NewMessage copies `payload` so callers may reuse their buffer.
func NewMessage(payload []byte) Message {
	cp := make([]byte, len(payload))
	copy(cp, payload)
	return Message{payload: cp}
}

// TextMessage encodes `text` as ASCII. Code points above 0x7F are
// substituted with '?'.
func TextMessage(text string) Message {
	return Message{payload: encodeASCII(text)}
}

// Bytes returns a copy of the payload.
func (m Message) Bytes() []byte {
	cp := make([]byte, len(m.payload))
	copy(cp, m.payload)
	return cp
}

// Text decodes the payload as ASCII. Bytes above 0x7F are substituted
// with '?'.
func (m Message) Text() string {
	return decodeASCII(m.payload)
}

func (m Message) Len() int {
	return len(m.payload)
}

func (m Message) String() string {
	return fmt.Sprintf("message of %d bytes", len(m.payload))
}

func encodeASCII(text string) []byte {
	out := make([]byte, 0, len(text))
	for _, r := range text {
		if r > unicode.MaxASCII {
			out = append(out, asciiSub)
		} else {
			out = append(out, byte(r))
		}
	}
	return out
}

func decodeASCII(payload []byte) string {
	clean := true
	for _, b := range payload {
		if b > unicode.MaxASCII {
			clean = false
			break
		}
	}
	if clean {
		return string(payload)
	}

	out := make([]byte, len(payload))
	for i, b := range payload {
		if b > unicode.MaxASCII {
			out[i] = asciiSub
		} else {
			out[i] = b
		}
	}
	return string(out)
}
