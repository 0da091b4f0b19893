package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySignature(t *testing.T) {
	key := []byte("signing-key")
	body := []byte(`{"session_id":"abc123"}`)

	tests := []struct {
		name      string
		key       []byte
		body      []byte
		signature string
		want      bool
	}{
		{
			name:      "valid signature",
			key:       key,
			body:      body,
			signature: SignBody(key, body),
			want:      true,
		},
		{
			name:      "wrong key",
			key:       []byte("other-key"),
			body:      body,
			signature: SignBody(key, body),
			want:      false,
		},
		{
			name:      "tampered body",
			key:       key,
			body:      []byte(`{"session_id":"evil"}`),
			signature: SignBody(key, body),
			want:      false,
		},
		{
			name:      "malformed signature",
			key:       key,
			body:      body,
			signature: "not-hex",
			want:      false,
		},
		{
			name:      "empty signature",
			key:       key,
			body:      body,
			signature: "",
			want:      false,
		},
		{
			name:      "no key configured passes",
			key:       nil,
			body:      body,
			signature: "",
			want:      true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, VerifySignature(tt.key, tt.body, tt.signature))
		})
	}
}
