package core

import (
	"errors"
	"testing"
)

func TestParseMoney(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.0", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"0.01", "0.01", true},
		{" 2.50 ", "2.5", true},
		{"-1", "", false},
		{"+1", "", false},
		{"0", "", false},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseMoney(tc.in)
		if tc.ok {
			if err != nil || got.String() != tc.out {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got.String(), err)
			}
		} else if !errors.Is(err, ErrValidation) {
			t.Fatalf("%q expected validation error, got %v", tc.in, err)
		}
	}
}

func TestMoneyArithmetic(t *testing.T) {
	a := MustMoney("10.10")
	b := MustMoney("0.20")
	if got := a.Add(b); !got.Equal(MustMoney("10.30")) {
		t.Fatalf("add: got %s", got)
	}
	if got := b.Sub(a); got.IsPositive() {
		t.Fatalf("sub should go negative, got %s", got)
	}
}

func TestInviteCode(t *testing.T) {
	code, err := NewInviteCode()
	if err != nil {
		t.Fatalf("NewInviteCode: %v", err)
	}
	if len(code) != InviteCodeLength {
		t.Fatalf("length %d, want %d", len(code), InviteCodeLength)
	}
	for _, r := range code {
		switch r {
		case '0', 'O', '1', 'I':
			t.Fatalf("ambiguous symbol %q in %s", r, code)
		}
	}

	// deterministic source: byte 32 maps back to the first symbol
	src := make([]byte, InviteCodeLength)
	for i := range src {
		src[i] = byte(32 * i)
	}
	got, err := GenerateInviteCode(bytesReader(src))
	if err != nil || got != "AAAAAAAAAA" {
		t.Fatalf("got %q err=%v", got, err)
	}

	if NormalizeInviteCode(" abcd ") != "ABCD" {
		t.Fatalf("normalize failed")
	}
}

type bytesReader []byte

func (b bytesReader) Read(p []byte) (int, error) {
	return copy(p, b), nil
}
