package message

import (
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
)

// Envelope field names.
const (
	FieldPerformative     = "performative"
	FieldConversationID   = "conversation-id"
	FieldActivityType     = "x-activity-type"
	FieldParentScope      = "x-parent-scope"
	FieldParentType       = "x-parent-type"
	FieldContent          = "content"
	FieldReplyTo          = "reply-to"
	FieldReplyWith        = "reply-with"
	FieldInReplyTo        = "in-reply-to"
	FieldWhyNotUnderstood = "x-why-not-understood"
	FieldLanguage         = "language"
	FieldOperation        = "operation"
)

// Message is the envelope exchanged between peers.
//
// Values are plain Go values: strings, booleans, integers, json.Number,
// []any and map[string]any. Nil values are treated as absent.
type Message map[string]any

// New creates a message with the given performative.
func New(p Performative) Message {
	return Message{FieldPerformative: string(p)}
}

// Set stores a value and returns the message for chaining.
// Setting a nil value removes the key.
func (m Message) Set(key string, v any) Message {
	if v == nil {
		delete(m, key)
		return m
	}
	if p, ok := v.(Performative); ok {
		v = string(p)
	}
	m[key] = v
	return m
}

// Get returns the raw value stored under key.
func (m Message) Get(key string) (any, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Has reports whether key carries a non-nil value.
func (m Message) Has(key string) bool {
	_, ok := m.Get(key)
	return ok
}

// String returns the value under key rendered as a string.
// Non-scalar values yield "".
func (m Message) String(key string) string {
	v, ok := m.Get(key)
	if !ok {
		return ""
	}
	s, _ := scalarString(v)
	return s
}

// Clone returns a shallow copy of the message.
func (m Message) Clone() Message {
	if m == nil {
		return nil
	}
	return maps.Clone(m)
}

func (m Message) Performative() Performative { return Performative(m.String(FieldPerformative)) }
func (m Message) ConversationID() string     { return m.String(FieldConversationID) }
func (m Message) ActivityType() string       { return m.String(FieldActivityType) }
func (m Message) ParentScope() string        { return m.String(FieldParentScope) }
func (m Message) ParentType() string         { return m.String(FieldParentType) }
func (m Message) ReplyTo() string            { return m.String(FieldReplyTo) }
func (m Message) ReplyWith() string          { return m.String(FieldReplyWith) }
func (m Message) InReplyTo() string          { return m.String(FieldInReplyTo) }
func (m Message) WhyNotUnderstood() string   { return m.String(FieldWhyNotUnderstood) }

// Content returns the application payload, or nil.
func (m Message) Content() any {
	v, _ := m.Get(FieldContent)
	return v
}

// Sender returns the network address the message came from.
func Sender(m Message) string {
	return m.ReplyTo()
}

// Reply builds a reply envelope for m. The reply keeps the activity type,
// conversation id and parent scope of the original, and pairs with it
// through in-reply-to when the original carried reply-with.
func Reply(m Message) Message {
	r := Message{}
	for _, k := range []string{FieldActivityType, FieldConversationID, FieldParentScope, FieldParentType} {
		if v, ok := m.Get(k); ok {
			r[k] = v
		}
	}
	if rw := m.ReplyWith(); rw != "" {
		r[FieldInReplyTo] = rw
	}
	return r
}

// ReplyAs is Reply with the performative set.
func ReplyAs(m Message, p Performative) Message {
	return Reply(m).Set(FieldPerformative, p)
}

// ReplyWithContent is ReplyAs with a content payload.
func ReplyWithContent(m Message, p Performative, content any) Message {
	return ReplyAs(m, p).Set(FieldContent, content)
}

// Attributes returns the scalar, non-empty attributes of m as strings.
// These are the attributes considered when resolving message transitions.
func Attributes(m Message) map[string]string {
	attrs := make(map[string]string, len(m))
	for k, v := range m {
		s, ok := scalarString(v)
		if !ok || s == "" {
			continue
		}
		attrs[k] = s
	}
	return attrs
}

func scalarString(v any) (string, bool) {
	switch val := v.(type) {
	case string:
		return val, true
	case Performative:
		return string(val), true
	case json.Number:
		return val.String(), true
	case bool:
		return strconv.FormatBool(val), true
	case int:
		return strconv.Itoa(val), true
	case int32:
		return strconv.FormatInt(int64(val), 10), true
	case int64:
		return strconv.FormatInt(val, 10), true
	case uint64:
		return strconv.FormatUint(val, 10), true
	case fmt.Stringer:
		return val.String(), true
	default:
		return "", false
	}
}
