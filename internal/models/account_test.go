package models

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseAccount(t *testing.T) {
	tests := []struct {
		name string
		line string
		want Account
	}{
		{
			name: "username with trailing payload",
			line: "user1:pass1:extra:data",
			want: Account{Username: "user1", Password: "pass1", AdditionalData: "extra:data"},
		},
		{
			name: "email and password",
			line: "a@b.com:pw",
			want: Account{Email: "a@b.com", Password: "pw"},
		},
		{
			name: "malformed",
			line: "malformed",
			want: Account{Raw: "malformed"},
		},
		{
			name: "empty password kept",
			line: "bob:",
			want: Account{Username: "bob"},
		},
		{
			name: "empty line",
			line: "",
			want: Account{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseAccount(tt.line))
		})
	}
}

func TestUndeliveredError(t *testing.T) {
	cause := errors.New("disk full")
	err := &UndeliveredError{
		Generation: Generation{ID: "g1", Service: "netflix", CreatedAt: time.Now()},
		Err:        cause,
	}

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "g1")
	assert.Contains(t, err.Error(), "netflix")

	var target *UndeliveredError
	assert.True(t, errors.As(error(err), &target))
}
