package discord

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePosition(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"90", 90 * time.Second},
		{"0", 0},
		{"1:30", 90 * time.Second},
		{"0:05", 5 * time.Second},
		{"1:02:30", time.Hour + 2*time.Minute + 30*time.Second},
		{" 2:00 ", 2 * time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parsePosition(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParsePosition_Invalid(t *testing.T) {
	for _, in := range []string{"", "abc", "1:2:3:4", "-5", "1:-30", "1:75", "1:02:75"} {
		t.Run(in, func(t *testing.T) {
			_, err := parsePosition(in)
			assert.Error(t, err)
		})
	}
}
