package markup

import "testing"

func TestEncodeCopyPayload(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"", ""},
		{"abcXYZ019", "abcXYZ019"},
		{"-_.!~*'()", "-_.!~*'()"},
		{"a b", "a%20b"},
		{"a+b", "a%2Bb"},
		{`"<&>"`, "%22%3C%26%3E%22"},
		{"line\n", "line%0A"},
		{"é", "%C3%A9"},
		{"100%", "100%25"},
	}
	for _, tc := range tests {
		got := EncodeCopyPayload(tc.in)
		if got != tc.want {
			t.Errorf("EncodeCopyPayload(%q) = %q, want %q", tc.in, got, tc.want)
		}
		dec, err := DecodeCopyPayload(got)
		if err != nil {
			t.Fatalf("DecodeCopyPayload(%q): %v", got, err)
		}
		if dec != tc.in {
			t.Errorf("round trip of %q = %q", tc.in, dec)
		}
	}
}

func TestDecodeCopyPayload_Invalid(t *testing.T) {
	if _, err := DecodeCopyPayload("%zz"); err == nil {
		t.Fatal("expected error for malformed escape")
	}
}
