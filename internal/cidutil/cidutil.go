// Package cidutil normalizes content identifiers. A CID has distinct v0 and
// v1 string spellings that name the same content; ownership bookkeeping must
// treat them as one, so every store lookup fans out over ExpandVariants.
package cidutil

import (
	"regexp"
	"strings"

	"github.com/ipfs/go-cid"
	mh "github.com/multiformats/go-multihash"
)

// Shape patterns used for fast query-string sniffing. Decode is still the
// authority; these only decide whether a search query is CID-direct.
var (
	cidV0Pattern = regexp.MustCompile(`^Qm[1-9A-HJ-NP-Za-km-z]{44}$`)
	cidV1Pattern = regexp.MustCompile(`^b[a-z2-7]{8,}$`)
)

// LooksLikeCID reports whether s is shaped like a CIDv0 or CIDv1 string.
func LooksLikeCID(s string) bool {
	s = strings.TrimSpace(s)
	return cidV0Pattern.MatchString(s) || cidV1Pattern.MatchString(s)
}

// IsValid reports whether s parses as a CID.
func IsValid(s string) bool {
	_, err := cid.Decode(strings.TrimSpace(s))
	return err == nil
}

// Canonical returns the canonical v1 spelling, or the input unchanged when it
// does not parse. Cache keys and dedupe sets use this form.
func Canonical(s string) string {
	c, err := cid.Decode(strings.TrimSpace(s))
	if err != nil {
		return s
	}
	if c.Version() == 0 {
		return cid.NewCidV1(cid.DagProtobuf, c.Hash()).String()
	}
	return c.String()
}

// ExpandVariants returns every string spelling of s this system must treat as
// equivalent: the original, the canonical v1 form, and the v0 form when one
// is defined (dag-pb + sha2-256 only). Unparseable input expands to itself so
// lookups still see the literal key.
func ExpandVariants(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	c, err := cid.Decode(s)
	if err != nil {
		return []string{s}
	}

	variants := []string{s}
	add := func(v string) {
		for _, existing := range variants {
			if existing == v {
				return
			}
		}
		variants = append(variants, v)
	}

	v1 := c
	if c.Version() == 0 {
		v1 = cid.NewCidV1(cid.DagProtobuf, c.Hash())
	}
	add(v1.String())

	// v0 exists only for dag-pb content addressed with sha2-256.
	p := v1.Prefix()
	if p.Codec == cid.DagProtobuf && p.MhType == mh.SHA2_256 && p.MhLength == 32 {
		add(cid.NewCidV0(v1.Hash()).String())
	}

	return variants
}
