package ref

import "testing"

func TestCompareVersions(t *testing.T) {
	tt := []struct {
		a, b string
		want Ordering
	}{
		{"5.10.1", "5.9.1", Greater},
		{"1.2.2", "1.2.2", Equal},
		{"1.2", "1.2.0", Equal},
		{"1.2.3", "1.10.0", Less},
		{"2", "1.9.9", Greater},
	}
	for _, tc := range tt {
		a, err := ParseVersion(tc.a)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", tc.a, err)
		}
		b, err := ParseVersion(tc.b)
		if err != nil {
			t.Fatalf("ParseVersion(%q): %v", tc.b, err)
		}
		if got := Compare(a, b); got != tc.want {
			t.Errorf("Compare(%q, %q) = %v, want %v", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestParseVersionRejectsNonNumeric(t *testing.T) {
	for _, in := range []string{"1.2.a", "v1.2.3", ""} {
		if _, err := ParseVersion(in); err == nil {
			t.Errorf("ParseVersion(%q): expected error, got nil", in)
		}
	}
}

func TestHasDottedPrefix(t *testing.T) {
	v := MustParseVersion("1.2.3")
	if !v.HasDottedPrefix(MustParseVersion("1.2")) {
		t.Error("expected 1.2.3 to have dotted prefix 1.2")
	}
	if v.HasDottedPrefix(MustParseVersion("1.3")) {
		t.Error("did not expect 1.2.3 to have dotted prefix 1.3")
	}
	if !v.HasDottedPrefix(Version{}) {
		t.Error("expected empty prefix to match everything")
	}
}
