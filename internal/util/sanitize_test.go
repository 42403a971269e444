package util

import "testing"

func TestNormalizeEmail(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"  Alice@Pharmacy.LK ", "alice@pharmacy.lk", true},
		{"bob@example.com", "bob@example.com", true},
		{"", "", false},
		{"no-at-sign", "", false},
		{"@example.com", "", false},
		{"trailing@", "", false},
		{"<script>@x.com", "", false},
		{"glob*@example.com", "", false},
		{"with space@example.com", "", false},
	}
	for _, tt := range tests {
		got, ok := NormalizeEmail(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("NormalizeEmail(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestContainsSuspicious(t *testing.T) {
	if !ContainsSuspicious("x onLoad=y") {
		t.Error("expected mixed-case handler to be flagged")
	}
	if ContainsSuspicious("cashier@branch-01.lk") {
		t.Error("plain email flagged")
	}
}

func TestSanitizeInput(t *testing.T) {
	if got := SanitizeInput("  <b>hi</b> "); got != "&lt;b&gt;hi&lt;/b&gt;" {
		t.Errorf("SanitizeInput = %q", got)
	}
}
