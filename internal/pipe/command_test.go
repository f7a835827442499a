package pipe

import (
	"encoding/json"
	"errors"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/edgepipe/internal/testutil/testlog"
)

func TestEnvelopeWireShape(t *testing.T) {
	testlog.Start(t)

	cmd := Command{
		Method:    "render",
		Params:    map[string]any{"page": "home"},
		RequestID: "caller-7",
	}.WithTimeout(1500 * time.Millisecond)
	payload, err := encodeEnvelope("abc123", cmd)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}

	var raw map[string]any
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if raw["requestId"] != "abc123" {
		t.Fatalf("outer request id missing: %s", payload)
	}
	inner, ok := raw["command"].(map[string]any)
	if !ok {
		t.Fatalf("command object missing: %s", payload)
	}
	if inner["method"] != "render" || inner["timeout"] != float64(1500) || inner["requestId"] != "caller-7" {
		t.Fatalf("unexpected command object: %v", inner)
	}

	env, err := decodeEnvelope(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.RequestID != "abc123" || env.Command.Params["page"] != "home" {
		t.Fatalf("decoded envelope mismatch: %+v", env)
	}
}

func TestEnvelopeOmitsUnsetFields(t *testing.T) {
	testlog.Start(t)

	payload, err := encodeEnvelope("x", Command{Method: MethodHi})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if want := `{"command":{"method":":>hi"},"requestId":"x"}`; payload != want {
		t.Fatalf("payload mismatch:\n got=%s\nwant=%s", payload, want)
	}
}

func TestDecodeEnvelopeErrors(t *testing.T) {
	testlog.Start(t)

	for _, payload := range []string{
		"",
		"hello",
		`{"command":"nope"}`,
		`{"command":{"params":{}},"requestId":"x"}`,
		`{"requestId":"x"}`,
	} {
		if _, err := decodeEnvelope(payload); !errors.Is(err, ErrParse) {
			t.Fatalf("payload %q: expected parse error, got %v", payload, err)
		}
	}
}

func TestControlMethods(t *testing.T) {
	testlog.Start(t)

	for _, m := range []string{MethodHello, MethodHi, MethodResponse} {
		if !IsControl(m) {
			t.Fatalf("%s should be a control method", m)
		}
	}
	if IsControl("hello") || IsControl("response") {
		t.Fatalf("application methods must not collide with control methods")
	}
	if kindOf(MethodResponse) != "response" || kindOf(MethodHello) != "control" || kindOf("ping") != "command" {
		t.Fatalf("unexpected method kinds")
	}
}

func TestFireAndForgetCommand(t *testing.T) {
	testlog.Start(t)

	if (Command{Method: "a"}).fireAndForget() {
		t.Fatalf("command without timeout is tracked")
	}
	if !(Command{Method: "a"}).FireAndForget().fireAndForget() {
		t.Fatalf("FireAndForget not detected")
	}
	if (Command{Method: "a"}).WithTimeout(time.Second).fireAndForget() {
		t.Fatalf("positive timeout detected as fire-and-forget")
	}
}

func TestStringParam(t *testing.T) {
	testlog.Start(t)

	params := map[string]any{"s": "v", "n": 3, "z": nil}
	if v, ok := stringParam(params, "s"); !ok || v != "v" {
		t.Fatalf("string param: %q %v", v, ok)
	}
	if _, ok := stringParam(params, "n"); ok {
		t.Fatalf("non-string param accepted")
	}
	if v, ok := stringParam(params, "z"); !ok || v != "" {
		t.Fatalf("nil param: %q %v", v, ok)
	}
	if v, ok := stringParam(nil, "missing"); !ok || v != "" {
		t.Fatalf("missing param: %q %v", v, ok)
	}
}

func TestShortIDs(t *testing.T) {
	testlog.Start(t)

	next := ShortIDs(rand.New(rand.NewSource(1)))
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := next()
		if len(id) != shortIDLen {
			t.Fatalf("unexpected id length: %q", id)
		}
		if strings.Trim(id, shortIDAlphabet) != "" {
			t.Fatalf("id outside base36 alphabet: %q", id)
		}
		seen[id] = true
	}
	if len(seen) < 990 {
		t.Fatalf("too many collisions: %d unique of 1000", len(seen))
	}
}

func TestSequenceAndUUIDs(t *testing.T) {
	testlog.Start(t)

	seq := SequenceIDs("req")
	if a, b := seq(), seq(); a != "req-1" || b != "req-2" {
		t.Fatalf("unexpected sequence: %s %s", a, b)
	}
	u := UUIDs()
	a, b := u(), u()
	if len(a) != 36 || a == b {
		t.Fatalf("unexpected uuids: %s %s", a, b)
	}
}

func TestRequestTablePrune(t *testing.T) {
	testlog.Start(t)

	table := newRequestTable()
	for _, id := range []string{"a", "b", "c", "d"} {
		if !table.insert(&request{id: id, future: newFuture()}) {
			t.Fatalf("insert %s failed", id)
		}
	}
	if table.insert(&request{id: "b"}) {
		t.Fatalf("duplicate insert accepted")
	}
	table.byID["b"].sent, table.byID["b"].responded = true, true
	table.byID["d"].timedOut = true
	table.byID["c"].responded = true // not sent yet: must stay

	if n := table.prune((*request).settled); n != 2 {
		t.Fatalf("expected 2 pruned, got %d", n)
	}
	var order []string
	table.each(func(r *request) { order = append(order, r.id) })
	if strings.Join(order, ",") != "a,c" || table.has("b") || table.has("d") {
		t.Fatalf("unexpected table after prune: %v", order)
	}
	table.remove("a")
	if table.len() != 1 || table.has("a") {
		t.Fatalf("remove failed: len=%d", table.len())
	}
}
