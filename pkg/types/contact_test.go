package types

import "testing"

func TestNormalizePhoneCanonicalizesToE164(t *testing.T) {
	cases := []struct {
		raw  string
		want string
	}{
		{"+1 (555) 123-4567", "+15551234567"},
		{"(555) 123-4567", "+15551234567"},
		{"555-123-4567", "+15551234567"},
		{"+15551234567", "+15551234567"},
		{"15551234567", "+15551234567"},
	}
	for _, tc := range cases {
		if got := NormalizePhone(tc.raw); got != tc.want {
			t.Fatalf("NormalizePhone(%q) = %q, want %q", tc.raw, got, tc.want)
		}
	}
}

func TestNormalizePhoneFallsBackForUnparseable(t *testing.T) {
	if got := NormalizePhone("ext. 12"); got != "12" {
		t.Fatalf("expected digit strip for unparseable input, got %q", got)
	}
	if got := NormalizePhone("   "); got != "" {
		t.Fatalf("expected empty result for blank input, got %q", got)
	}
}

func TestNormalizedEmailLowercasesAndTrims(t *testing.T) {
	c := Contact{Email: "  Dana@Example.COM "}
	if got := c.NormalizedEmail(); got != "dana@example.com" {
		t.Fatalf("unexpected normalized email %q", got)
	}
}
