package comms

import (
	"encoding/base64"
	"strings"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	cases := []struct {
		name      string
		plaintext string
		channel   string
	}{
		{"simple", "meet at the usual place", "alpha"},
		{"empty", "", "alpha"},
		{"unicode", "金継ぎ — golden repair ✨", "ops-room"},
		{"long", strings.Repeat("all work and no play ", 200), "alpha"},
		{"channel with dashes", "payload", "a1b2-c3d4"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			enc, err := EncryptMessage(tc.plaintext, tc.channel)
			if err != nil {
				t.Fatalf("encrypt: %v", err)
			}
			if enc == tc.plaintext && tc.plaintext != "" {
				t.Fatalf("ciphertext equals plaintext")
			}
			got := DecryptMessage(enc, tc.channel)
			if got != tc.plaintext {
				t.Fatalf("round trip mismatch: got %q want %q", got, tc.plaintext)
			}
		})
	}
}

func TestEncryptProducesFreshIV(t *testing.T) {
	a, err := EncryptMessage("same message", "alpha")
	if err != nil {
		t.Fatal(err)
	}
	b, err := EncryptMessage("same message", "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if a == b {
		t.Fatalf("two encryptions produced identical ciphertext")
	}
}

func TestDecryptWrongChannelReturnsSentinel(t *testing.T) {
	enc, err := EncryptMessage("the plan", "alpha")
	if err != nil {
		t.Fatal(err)
	}
	got := DecryptMessage(enc, "bravo")
	if got != DecryptFailed {
		t.Fatalf("expected sentinel, got %q", got)
	}
	if got == "the plan" {
		t.Fatalf("wrong channel recovered plaintext")
	}
}

func TestDecryptGarbageReturnsSentinel(t *testing.T) {
	for _, in := range []string{
		"",
		"not base64 !!!",
		base64.StdEncoding.EncodeToString([]byte("short")),
		base64.StdEncoding.EncodeToString(make([]byte, 40)),
	} {
		if got := DecryptMessage(in, "alpha"); got != DecryptFailed {
			t.Fatalf("input %q: expected sentinel, got %q", in, got)
		}
	}
}

func TestGenerateChannelID(t *testing.T) {
	a, err := GenerateChannelID()
	if err != nil {
		t.Fatal(err)
	}
	if len(a) != 32 {
		t.Fatalf("expected 32 hex chars, got %d", len(a))
	}
	b, _ := GenerateChannelID()
	if a == b {
		t.Fatalf("channel ids not unique")
	}
}

func TestHashStringStable(t *testing.T) {
	if HashString("kintsugi") != HashString("kintsugi") {
		t.Fatalf("hash not deterministic")
	}
	if len(HashString("x")) != 64 {
		t.Fatalf("expected sha256 hex length")
	}
}
