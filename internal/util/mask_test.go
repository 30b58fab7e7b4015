package util

import "testing"

func TestMaskSecret(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", "<empty>"},
		{"short", "***"},
		{"1//0gLongRefreshTokenValue-abcdef", "...abcdef"},
	}
	for _, tt := range tests {
		if got := MaskSecret(tt.in); got != tt.want {
			t.Errorf("MaskSecret(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
