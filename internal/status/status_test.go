package status

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEncodeEnvelope(t *testing.T) {
	line, err := Encode(&Address{
		Interface:    "tap0",
		Address:      "fe80::1",
		PrefixLength: 64,
		State:        "tentative",
		Source:       "link-local",
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if !bytes.HasPrefix(line, []byte(`{"v":1,"kind":"address","interface":"tap0"`)) {
		t.Fatalf("line = %s", line)
	}

	var generic map[string]interface{}
	if err := json.Unmarshal(line, &generic); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if generic["state"] != "tentative" {
		t.Fatalf("state field = %v", generic["state"])
	}
}

func TestDecodeToleratesUnknown(t *testing.T) {
	e, err := Decode([]byte(`{"v":1,"kind":"address","interface":"tap0","address":"fe80::1","state":"preferred","source":"slaac","prefix_length":64,"future":true}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	want := &Address{Interface: "tap0", Address: "fe80::1", State: "preferred", Source: "slaac", PrefixLength: 64}
	if diff := cmp.Diff(want, e); diff != "" {
		t.Fatalf("decoded mismatch (-want +got):\n%s", diff)
	}

	raw := `{"v":2,"kind":"neighbor","interface":"tap0","ip":"fe80::2"}`
	e, err = Decode([]byte(raw))
	if err != nil {
		t.Fatalf("Decode(unknown): %v", err)
	}
	u, ok := e.(*Unknown)
	if !ok || u.Kind() != "neighbor" || u.Iface() != "tap0" {
		t.Fatalf("unknown kind decoded as %#v", e)
	}
	again, _ := Encode(u)
	if string(again) != raw {
		t.Fatalf("unknown event re-encoded as %s", again)
	}

	if _, err := Decode([]byte(`{"v":1}`)); err == nil {
		t.Fatalf("line without kind accepted")
	}
}

func TestStreamAnnouncesFirst(t *testing.T) {
	var buf bytes.Buffer
	s := NewStream(&buf)

	err := s.Emit(&InterfaceState{Interface: "tap0", State: StateEnabled})
	if !errors.Is(err, ErrNotAnnounced) {
		t.Fatalf("event before announcement error = %v", err)
	}
	if buf.Len() != 0 {
		t.Fatalf("rejected event written: %q", buf.String())
	}

	if err := s.Emit(&Interface{Name: "tap0"}); err != nil {
		t.Fatalf("announce: %v", err)
	}
	if err := s.Emit(&Interface{Name: "tap0"}); !errors.Is(err, ErrAlreadyAnnounced) {
		t.Fatalf("second announcement error = %v", err)
	}
	if err := s.Emit(&DAD{Interface: "tap0", Address: "fe80::1", Outcome: OutcomeUnique}); err != nil {
		t.Fatalf("dad event: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %q", lines)
	}
	first, err := Decode([]byte(lines[0]))
	if err != nil || first.Kind() != KindInterface {
		t.Fatalf("first line = %s (%v)", lines[0], err)
	}
}

func TestSnapshot(t *testing.T) {
	var buf bytes.Buffer
	s := NewSnapshot(&buf)
	for _, e := range []Event{
		&Interface{Name: "tap0"},
		&Address{Interface: "tap0", Address: "fe80::1", PrefixLength: 64, State: "tentative", Source: "link-local"},
		&DAD{Interface: "tap0", Address: "fe80::1", Outcome: OutcomeUnique},
		&Address{Interface: "tap0", Address: "fe80::1", PrefixLength: 64, State: "preferred", Source: "link-local"},
	} {
		if err := s.Emit(e); err != nil {
			t.Fatalf("Emit(%T): %v", e, err)
		}
	}

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("snapshot lines = %d, want 3: %q", len(lines), lines)
	}
	var doc struct {
		Interface struct {
			Name      string `json:"name"`
			Addresses map[string]struct {
				State string `json:"state"`
			} `json:"addresses"`
		} `json:"interface"`
	}
	if err := json.Unmarshal([]byte(lines[2]), &doc); err != nil {
		t.Fatalf("snapshot line: %v", err)
	}
	if doc.Interface.Name != "tap0" || doc.Interface.Addresses["fe80::1"].State != "preferred" {
		t.Fatalf("snapshot = %s", lines[2])
	}
}

func TestMulti(t *testing.T) {
	var a, b bytes.Buffer
	m := Multi{NewStream(&a), NewSnapshot(&b)}
	if err := m.Emit(&Interface{Name: "tap0"}); err != nil {
		t.Fatalf("Emit: %v", err)
	}
	if a.Len() == 0 || b.Len() == 0 {
		t.Fatalf("fan-out missed a sink")
	}
}
