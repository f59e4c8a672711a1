package transport

import "testing"

func TestNormalizeChatID(t *testing.T) {
	tests := []struct{ in, want string }{
		{"iMessage;-;chat123", "chat123"},
		{"iMessage;+;+15551234567", "+15551234567"},
		{"chat123", "chat123"},
		{"  chat123 ", "chat123"},
	}
	for _, tt := range tests {
		if got := NormalizeChatID(tt.in); got != tt.want {
			t.Errorf("NormalizeChatID(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeSender(t *testing.T) {
	tests := []struct{ in, want string }{
		{"Alice@Example.COM", "alice@example.com"},
		{"+1 (555) 123-4567", "15551234567"},
		{"555.123.4567", "5551234567"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := NormalizeSender(tt.in); got != tt.want {
			t.Errorf("NormalizeSender(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestSameIdentity(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"alice@example.com", "ALICE@example.com", true},
		{"+15551234567", "5551234567", true},
		{"+1 555 123 4567", "(555) 123-4567", true},
		{"5551234567", "5559999999", false},
		{"alice@example.com", "bob@example.com", false},
		{"", "alice@example.com", false},
		{"12345", "12345", true},     // exact short match is fine
		{"12345", "9912345", false},  // suffix match needs full-length numbers
	}
	for _, tt := range tests {
		if got := SameIdentity(tt.a, tt.b); got != tt.want {
			t.Errorf("SameIdentity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
