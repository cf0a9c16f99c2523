package relay

import (
	"errors"
	"strings"
	"testing"
	"time"
)

func TestEncodeDecodeWireFormat(t *testing.T) {
	env := MustMessage(MsgMinLengthChanged, 500)
	raw, err := Encode(env)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got, want := string(raw), `{"id":"min_ptt_length_changed","value":500}`; got != want {
		t.Fatalf("Encode() = %s, want %s", got, want)
	}

	pulse, err := Encode(MustMessage(MsgExtShortcutPushed, nil))
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	if got, want := string(pulse), `{"id":"ext_shortcut_pushed"}`; got != want {
		t.Fatalf("Encode() = %s, want %s", got, want)
	}
}

func TestEncodeRejectsEmptyID(t *testing.T) {
	if _, err := Encode(Envelope{}); err == nil {
		t.Fatal("Encode() expected error for empty id")
	}
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantID  string
		wantErr bool
	}{
		{name: "broadcasting", raw: `{"id":"broadcasting","value":true}`, wantID: MsgBroadcasting},
		{name: "unknown tag still decodes", raw: `{"id":"future_thing","value":{"a":1}}`, wantID: "future_thing"},
		{name: "missing id", raw: `{"value":true}`, wantErr: true},
		{name: "invalid json", raw: `{`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env, err := Decode([]byte(tt.raw))
			if tt.wantErr {
				if err == nil {
					t.Fatalf("Decode() expected error, got %+v", env)
				}
				return
			}
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if env.ID != tt.wantID {
				t.Fatalf("Decode().ID = %q, want %q", env.ID, tt.wantID)
			}
		})
	}
}

func TestEnvelopeMinLength(t *testing.T) {
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: `{"id":"min_ptt_length_changed","value":1200}`, want: 1200 * time.Millisecond},
		{raw: `{"id":"min_ptt_length_changed","value":0}`, wantErr: true},
		{raw: `{"id":"min_ptt_length_changed","value":-5}`, wantErr: true},
		{raw: `{"id":"min_ptt_length_changed","value":"800"}`, wantErr: true},
		{raw: `{"id":"min_ptt_length_changed"}`, wantErr: true},
	}
	for _, tt := range tests {
		env, err := Decode([]byte(tt.raw))
		if err != nil {
			t.Fatalf("Decode(%s) error = %v", tt.raw, err)
		}
		got, err := env.MinLength()
		if tt.wantErr {
			if err == nil {
				t.Errorf("MinLength(%s) expected error, got %v", tt.raw, got)
			}
			continue
		}
		if err != nil || got != tt.want {
			t.Errorf("MinLength(%s) = %v, %v; want %v", tt.raw, got, err, tt.want)
		}
	}
}

func TestEnvelopeBoolMissingValue(t *testing.T) {
	env := Envelope{ID: MsgBroadcasting}
	_, err := env.Bool()
	if !errors.Is(err, ErrMissingValue) {
		t.Fatalf("Bool() error = %v, want ErrMissingValue", err)
	}

	env = Envelope{ID: MsgBroadcasting, Value: []byte("null")}
	if _, err := env.Bool(); !errors.Is(err, ErrMissingValue) {
		t.Fatalf("Bool() on null error = %v, want ErrMissingValue", err)
	}
}

func TestReplyCarriesRequestID(t *testing.T) {
	req := Envelope{ID: MsgDiscordLoaded, Req: "abc"}
	reply, err := Reply(req, DefaultMinLengthMS)
	if err != nil {
		t.Fatalf("Reply() error = %v", err)
	}
	if reply.ID != MsgReply || reply.Req != "abc" {
		t.Fatalf("Reply() = %+v", reply)
	}
	raw, _ := Encode(reply)
	if !strings.Contains(string(raw), `"req":"abc"`) {
		t.Fatalf("encoded reply %s lacks req id", raw)
	}
}

func TestNewMessageMarshalError(t *testing.T) {
	if _, err := NewMessage(MsgStatus, make(chan int)); err == nil {
		t.Fatal("NewMessage() expected marshal error")
	}
}
