package protocol

// MessageType classifies inbound and outbound control messages.
type MessageType string

const (
	TypeAuthRequest  MessageType = "auth_request"
	TypeAuthResponse MessageType = "auth_response"
	TypeJoinSession  MessageType = "join_session"
	TypeJoinResponse MessageType = "join_response"
	TypeTouch        MessageType = "touch"
	TypeKey          MessageType = "key"
	TypeSystem       MessageType = "system"
	TypeAppControl   MessageType = "app_control"
	TypeMacro        MessageType = "macro"
	TypeAI           MessageType = "ai"
	TypePing         MessageType = "ping"
	TypePong         MessageType = "pong"
	TypeStatus       MessageType = "status"
	TypeError        MessageType = "error"
	TypeUnknown      MessageType = "unknown"
)

// Error codes returned to clients. Closed set.
const (
	CodeAuthFailed      = "ERR_AUTH_FAILED"
	CodeInvalidToken    = "INVALID_TOKEN"
	CodeSessionNotFound = "SESSION_NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeRateLimit       = "ERR_RATE_LIMIT"
	CodeInvalidMessage  = "INVALID_MESSAGE"
)

var knownTypes = map[string]MessageType{
	"auth_request":  TypeAuthRequest,
	"auth_response": TypeAuthResponse,
	"join_session":  TypeJoinSession,
	"join_response": TypeJoinResponse,
	"touch":         TypeTouch,
	"key":           TypeKey,
	"system":        TypeSystem,
	"app_control":   TypeAppControl,
	"macro":         TypeMacro,
	"ai":            TypeAI,
	"ping":          TypePing,
	"pong":          TypePong,
	"status":        TypeStatus,
	"error":         TypeError,
}

// TypeFromString maps a wire type string onto the closed enumeration.
// Anything not listed classifies as TypeUnknown.
func TypeFromString(s string) MessageType {
	if t, ok := knownTypes[s]; ok {
		return t
	}
	return TypeUnknown
}

// DeviceInfo is embedded in join_response.
type DeviceInfo struct {
	DeviceID       string `json:"device_id"`
	Model          string `json:"model"`
	AndroidVersion string `json:"android_version,omitempty"`
}

// VideoConfig describes the stream the controller is about to consume.
type VideoConfig struct {
	Width  int    `json:"width"`
	Height int    `json:"height"`
	Codec  string `json:"codec"`
}

// DefaultVideoConfig matches the device-side encoder defaults.
var DefaultVideoConfig = VideoConfig{Width: 1080, Height: 2400, Codec: "h264"}
