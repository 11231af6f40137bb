package monnify

import (
	"strings"
	"testing"
)

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"eventType":"SUCCESSFUL_TRANSACTION"}`)
	sig := ComputeSignature(body, "secret")

	cases := []struct {
		name   string
		header string
		secret string
		want   bool
	}{
		{"exact", sig, "secret", true},
		{"upper case", strings.ToUpper(sig), "secret", true},
		{"padded", "  " + sig + " ", "secret", true},
		{"wrong secret", sig, "other", false},
		{"empty header", "", "secret", false},
		{"no secret", sig, "", false},
		{"tampered", sig[:len(sig)-1] + "0", "secret", sig[len(sig)-1] == '0'},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := VerifySignature(body, tc.header, tc.secret); got != tc.want {
				t.Fatalf("VerifySignature() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestComputeSignatureLength(t *testing.T) {
	if got := len(ComputeSignature([]byte("x"), "k")); got != 128 {
		t.Fatalf("expected 128 hex chars, got %d", got)
	}
}
