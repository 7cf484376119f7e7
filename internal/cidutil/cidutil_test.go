package cidutil

import "testing"

// Well-known equivalent pair: the v0 and v1 spellings of the same dag-pb
// sha2-256 root (the empty unixfs directory).
const (
	emptyDirV0 = "QmUNLLsPACCz1vLxQVkXqqLX5R1X345qqfHbsf67hvA3Nn"
	emptyDirV1 = "bafybeiczsscdsbs7ffqz55asqdf3smv6klcw3gofszvwlyarci47bgf354"
)

func TestExpandVariantsV0(t *testing.T) {
	variants := ExpandVariants(emptyDirV0)
	if len(variants) != 2 {
		t.Fatalf("expected 2 variants for a dag-pb v0 CID, got %d: %v", len(variants), variants)
	}
	if variants[0] != emptyDirV0 {
		t.Errorf("original spelling must come first, got %s", variants[0])
	}
	if variants[1] != emptyDirV1 {
		t.Errorf("expected canonical v1 %s, got %s", emptyDirV1, variants[1])
	}
}

func TestExpandVariantsV1RoundTrip(t *testing.T) {
	variants := ExpandVariants(emptyDirV1)
	foundV0 := false
	for _, v := range variants {
		if v == emptyDirV0 {
			foundV0 = true
		}
	}
	if !foundV0 {
		t.Errorf("v1 input must expand to include the v0 spelling, got %v", variants)
	}
}

func TestExpandVariantsGarbage(t *testing.T) {
	variants := ExpandVariants("not-a-cid")
	if len(variants) != 1 || variants[0] != "not-a-cid" {
		t.Errorf("garbage must expand to itself only, got %v", variants)
	}
	if ExpandVariants("  ") != nil {
		t.Errorf("blank input must expand to nil")
	}
}

func TestCanonicalIsStableAcrossSpellings(t *testing.T) {
	if Canonical(emptyDirV0) != Canonical(emptyDirV1) {
		t.Errorf("canonical form must not depend on input spelling: %s vs %s",
			Canonical(emptyDirV0), Canonical(emptyDirV1))
	}
}

func TestLooksLikeCID(t *testing.T) {
	cases := []struct {
		in   string
		want bool
	}{
		{emptyDirV0, true},
		{emptyDirV1, true},
		{"hello world", false},
		{"Qmshort", false},
		{"", false},
	}
	for _, c := range cases {
		if got := LooksLikeCID(c.in); got != c.want {
			t.Errorf("LooksLikeCID(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}
