package router

import (
	"encoding/json"
	"testing"

	"github.com/technosupport/arcs-relay/internal/protocol"
	"github.com/technosupport/arcs-relay/internal/ratelimit"
)

func parse(t *testing.T, raw string) protocol.Message {
	t.Helper()
	msg, err := protocol.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse(%s): %v", raw, err)
	}
	return msg
}

func TestRouteValidCommandForwardsOriginal(t *testing.T) {
	r := NewCommandRouter(ratelimit.NewLimiter(), nil)
	cmd := parse(t, `{"type":"touch","action":"tap","x":100,"y":200}`)

	payload, forward := r.RouteToDevice("sess-1", cmd)
	if !forward {
		t.Fatal("valid command not forwarded")
	}

	var decoded map[string]interface{}
	if err := json.Unmarshal(payload, &decoded); err != nil {
		t.Fatalf("unmarshal forwarded payload: %v", err)
	}
	if decoded["type"] != "touch" || decoded["x"] != float64(100) {
		t.Errorf("forwarded payload = %v", decoded)
	}
}

func TestRouteInvalidCommandDropped(t *testing.T) {
	r := NewCommandRouter(ratelimit.NewLimiter(), nil)
	cmd := parse(t, `{"type":"touch","action":"tap","x":100}`)

	payload, forward := r.RouteToDevice("sess-1", cmd)
	if forward || payload != nil {
		t.Errorf("invalid command should drop: %q, %v", payload, forward)
	}
}

func TestRouteRateLimited(t *testing.T) {
	r := NewCommandRouter(ratelimit.NewLimiter(), nil)
	cmd := parse(t, `{"type":"touch","action":"tap","x":1,"y":1}`)

	for i := 0; i < 100; i++ {
		if _, forward := r.RouteToDevice("sess-1", cmd); !forward {
			t.Fatalf("command %d rejected within budget", i+1)
		}
	}

	payload, forward := r.RouteToDevice("sess-1", cmd)
	if forward {
		t.Fatal("101st command was forwarded")
	}
	errMsg, err := protocol.Parse(payload)
	if err != nil {
		t.Fatalf("error payload unparsable: %v", err)
	}
	if errMsg.Type() != protocol.TypeError || errMsg.String("code") != protocol.CodeRateLimit {
		t.Errorf("error payload = %v", errMsg)
	}
}

func TestKeyPressUncounted(t *testing.T) {
	r := NewCommandRouter(ratelimit.NewLimiter(), nil)
	press := parse(t, `{"type":"key","action":"press","keycode":66}`)

	// Way past the text budget; presses must not consume it.
	for i := 0; i < 50; i++ {
		if _, forward := r.RouteToDevice("sess-1", press); !forward {
			t.Fatalf("key press %d rejected", i+1)
		}
	}

	text := parse(t, `{"type":"key","action":"text","text":"hi"}`)
	if _, forward := r.RouteToDevice("sess-1", text); !forward {
		t.Error("text budget was drained by key presses")
	}
}

func TestAICategoryMapping(t *testing.T) {
	r := NewCommandRouter(ratelimit.NewLimiter(), nil)

	ocr := parse(t, `{"type":"ai","action":"ocr"}`)
	if _, fwd := r.RouteToDevice("s", ocr); !fwd {
		t.Fatal("first ocr rejected")
	}
	if _, fwd := r.RouteToDevice("s", ocr); !fwd {
		t.Fatal("second ocr rejected")
	}
	if _, fwd := r.RouteToDevice("s", ocr); fwd {
		t.Error("third ocr should exceed capacity 2")
	}

	// Other ai actions are uncounted.
	summarize := parse(t, `{"type":"ai","action":"summarize"}`)
	for i := 0; i < 10; i++ {
		if _, fwd := r.RouteToDevice("s", summarize); !fwd {
			t.Fatal("uncounted ai action rejected")
		}
	}
}

func TestRouteToControllerNoRateLimit(t *testing.T) {
	r := NewCommandRouter(ratelimit.NewLimiter(), nil)
	resp := parse(t, `{"type":"status","battery":80}`)

	for i := 0; i < 500; i++ {
		if payload := r.RouteToController("sess-1", resp); payload == nil {
			t.Fatal("controller-bound responses must never be limited")
		}
	}
}

func TestSanitizeMasksSecrets(t *testing.T) {
	cmd := parse(t, `{"type":"auth_request","device_id":"d1","secret":"hunter2","jwt_token":"abc","password":"pw","x":5}`)

	sanitized := Sanitize(cmd)
	for _, field := range []string{"secret", "jwt_token", "password"} {
		if sanitized.String(field) != "***" {
			t.Errorf("%s = %q, want ***", field, sanitized.String(field))
		}
	}
	if sanitized.String("device_id") != "d1" {
		t.Error("non-sensitive field altered")
	}
	if n, _ := sanitized.Number("x"); n != 5 {
		t.Error("numeric field altered")
	}

	// Original must be untouched.
	if cmd.String("secret") != "hunter2" {
		t.Error("Sanitize mutated its input")
	}
}

func TestSanitizeWithoutSensitiveFieldsIsIdentity(t *testing.T) {
	cmd := parse(t, `{"type":"touch","action":"tap","x":1,"y":2}`)
	sanitized := Sanitize(cmd)
	if len(sanitized) != len(cmd) {
		t.Errorf("sanitized changed field count: %v", sanitized)
	}
	for k, v := range cmd {
		if sanitized[k] != v {
			t.Errorf("field %s changed: %v -> %v", k, v, sanitized[k])
		}
	}
}

func TestNilLimiterAllowsEverything(t *testing.T) {
	r := NewCommandRouter(nil, nil)
	cmd := parse(t, `{"type":"macro","name":"m"}`)
	for i := 0; i < 10; i++ {
		if _, forward := r.RouteToDevice("sess-1", cmd); !forward {
			t.Fatal("nil limiter should admit all")
		}
	}
}
