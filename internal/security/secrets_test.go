package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifySecret(t *testing.T) {
	t.Parallel()

	stored := HashSecretSHA256("devsecret")
	assert.Len(t, stored, 64)

	tests := []struct {
		name      string
		stored    string
		presented string
		want      bool
	}{
		{name: "match", stored: stored, presented: "devsecret", want: true},
		{name: "wrong secret", stored: stored, presented: "other", want: false},
		{name: "no stored hash", stored: "", presented: "", want: false},
		{name: "corrupt stored hash", stored: "zz", presented: "devsecret", want: false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, VerifySecret(tt.stored, tt.presented))
		})
	}
}

func TestConstantTimeEqual(t *testing.T) {
	t.Parallel()

	assert.True(t, ConstantTimeEqual("token", "token"))
	assert.False(t, ConstantTimeEqual("token", "token2"))
	assert.False(t, ConstantTimeEqual("token", ""))
}
