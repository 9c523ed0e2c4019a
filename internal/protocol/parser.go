package protocol

import (
	"encoding/json"
	"errors"
	"time"
)

var ErrNotObject = errors.New("message is not a JSON object")

// Message is a decoded control message. Commands carry open-ended fields,
// so the representation stays a generic object rather than a struct per type.
type Message map[string]interface{}

// Parse decodes a text frame into a Message. The payload must be a JSON
// object; arrays and scalars are rejected.
func Parse(data []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg == nil {
		return nil, ErrNotObject
	}
	return msg, nil
}

// Type returns the classified message type. Messages without a string
// "type" field classify as unknown.
func (m Message) Type() MessageType {
	t, ok := m["type"].(string)
	if !ok {
		return TypeUnknown
	}
	return TypeFromString(t)
}

// String returns the raw string value of a field, or "" if absent.
func (m Message) String(field string) string {
	s, _ := m[field].(string)
	return s
}

// Number returns a numeric field value. encoding/json decodes all JSON
// numbers into float64 inside a generic object.
func (m Message) Number(field string) (float64, bool) {
	n, ok := m[field].(float64)
	return n, ok
}

func (m Message) has(fields ...string) bool {
	for _, f := range fields {
		if _, ok := m[f]; !ok {
			return false
		}
	}
	return true
}

func (m Message) hasNumbers(fields ...string) bool {
	for _, f := range fields {
		if _, ok := m[f].(float64); !ok {
			return false
		}
	}
	return true
}

// Validate performs structural validation for the message's type.
// Unknown types validate trivially; the command router decides whether
// to forward them.
func (m Message) Validate() bool {
	switch m.Type() {
	case TypeAuthRequest:
		return m.String("device_id") != "" && m.String("secret") != ""
	case TypeJoinSession:
		return m.String("session_id") != "" && m.String("jwt_token") != ""
	case TypeTouch:
		switch m.String("action") {
		case "tap", "long_press":
			return m.hasNumbers("x", "y")
		case "swipe":
			return m.hasNumbers("start_x", "start_y", "end_x", "end_y")
		case "":
			return false
		}
		return true
	case TypeKey:
		switch m.String("action") {
		case "text":
			return m.has("text")
		case "press":
			_, ok := m.Number("keycode")
			return ok
		case "":
			return false
		}
		return true
	case TypeSystem:
		// Action set is open (home, back, recent_apps, ...); only presence
		// is required here.
		return m.String("action") != ""
	case TypeUnknown:
		if _, ok := m["type"].(string); !ok {
			return false
		}
		return true
	}
	return true
}

// Encode emits compact JSON for relaying.
func (m Message) Encode() []byte {
	data, err := json.Marshal(m)
	if err != nil {
		// Parse only produces marshalable values; a failure here means a
		// handler inserted something unserializable.
		return []byte(`{"type":"error","code":"` + CodeInvalidMessage + `","message":"encode failure"}`)
	}
	return data
}

func nowMillis() int64 {
	return time.Now().UnixMilli()
}

// MakeAuthResponse builds the server reply to a successful (or failed)
// device authentication.
func MakeAuthResponse(success bool, sessionID, jwtToken string, expiresAt int64) []byte {
	resp := map[string]interface{}{
		"type":        string(TypeAuthResponse),
		"success":     success,
		"session_id":  sessionID,
		"jwt_token":   jwtToken,
		"expires_at":  expiresAt,
		"server_time": nowMillis(),
	}
	data, _ := json.Marshal(resp)
	return data
}

// MakeJoinResponse builds the server reply to a controller join.
func MakeJoinResponse(success bool, info DeviceInfo, video VideoConfig) []byte {
	resp := map[string]interface{}{
		"type":         string(TypeJoinResponse),
		"success":      success,
		"device_info":  info,
		"video_config": video,
	}
	data, _ := json.Marshal(resp)
	return data
}

// MakeError builds an error payload with one of the closed-set codes.
func MakeError(code, message string) []byte {
	resp := map[string]interface{}{
		"type":    string(TypeError),
		"code":    code,
		"message": message,
	}
	data, _ := json.Marshal(resp)
	return data
}

// MakePong answers a ping with the server timestamp in epoch millis.
func MakePong() []byte {
	resp := map[string]interface{}{
		"type":      string(TypePong),
		"timestamp": nowMillis(),
	}
	data, _ := json.Marshal(resp)
	return data
}

// MakeSessionEnded notifies controllers that the device side went away.
func MakeSessionEnded(sessionID string) []byte {
	resp := map[string]interface{}{
		"type":       string(TypeStatus),
		"event":      "session_ended",
		"session_id": sessionID,
	}
	data, _ := json.Marshal(resp)
	return data
}
