package ref

import "testing"

func TestParseRoundTrip(t *testing.T) {
	tt := []string{
		"org.example.calculator",
		"org.example.calculator/1.2.2",
		"org.example.calculator/1.2.2/x86_64",
		"org.example.calculator/1.2.2/x86_64/devel",
		"stable:org.example.calculator/1.2.2/x86_64/devel",
	}
	for _, in := range tt {
		r, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		if r.Channel == "" || r.ID == "" || r.Arch == "" || r.Module == "" {
			t.Fatalf("Parse(%q) = %#v: defaults not filled", in, r)
		}
		formatted := Format(r)
		r2, err := Parse(formatted)
		if err != nil {
			t.Fatalf("Parse(Format(%q)=%q): %v", in, formatted, err)
		}
		if !r2.Equal(r) {
			t.Errorf("round trip mismatch for %q: %#v != %#v", in, r2, r)
		}
	}
}

func TestParseDefaults(t *testing.T) {
	r, err := Parse("org.example.calculator")
	if err != nil {
		t.Fatal(err)
	}
	if r.Channel != DefaultChannel {
		t.Errorf("channel = %q, want %q", r.Channel, DefaultChannel)
	}
	if r.Arch != HostArch() {
		t.Errorf("arch = %q, want host arch %q", r.Arch, HostArch())
	}
	if r.Module != ModuleRuntime {
		t.Errorf("module = %q, want %q", r.Module, ModuleRuntime)
	}
	if !r.Version.IsZero() {
		t.Errorf("version = %q, want unresolved", r.Version)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	tt := []string{
		"",
		"/1.2.2",
		"a/b/c/d/e/f",
		"id/1.2.2/sparc64",
		"id/1.2.2/x86_64/beta",
		"id/1.2.a",
	}
	for _, in := range tt {
		if _, err := Parse(in); err == nil {
			t.Errorf("Parse(%q): expected error, got nil", in)
		}
	}
}

func TestLatestOf(t *testing.T) {
	mk := func(v string) Reference {
		return Reference{Channel: DefaultChannel, ID: "x", Version: MustParseVersion(v), Arch: ArchX86_64, Module: ModuleRuntime}
	}
	candidates := []Reference{mk("1.2.2"), mk("1.2.3"), mk("1.10.0")}

	got, ok := LatestOf("x", "", candidates)
	if !ok || got.Version.String() != "1.10.0" {
		t.Errorf("LatestOf(\"\") = %v, %v, want 1.10.0", got, ok)
	}

	got, ok = LatestOf("x", "1.2", candidates)
	if !ok || got.Version.String() != "1.2.3" {
		t.Errorf("LatestOf(\"1.2\") = %v, %v, want 1.2.3", got, ok)
	}

	if _, ok := LatestOf("nonexistent", "", candidates); ok {
		t.Error("expected no match for unknown id")
	}
}

func TestPURL(t *testing.T) {
	r, err := Parse("org.example.calculator/1.2.2/x86_64/devel")
	if err != nil {
		t.Fatal(err)
	}
	p := r.PURL()
	if p == "" {
		t.Fatal("expected non-empty purl")
	}
	t.Logf("purl: %s", p)
}
