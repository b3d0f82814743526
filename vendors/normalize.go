package vendors

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Reason records which containment rule accepted a vendor.
type Reason string

const (
	ReasonNone                    Reason = ""
	ReasonVendorContainsTarget    Reason = "vendor-contains-target"
	ReasonVendorContainsBrandRoot Reason = "vendor-contains-brand-root"
	ReasonTargetContainsVendor    Reason = "target-contains-vendor"
)

// minFragmentLen guards the brand root and reverse containment rules
// against one-character matches.
const minFragmentLen = 2

// Normalize lower-cases s and removes every whitespace rune.
func Normalize(s string) string {
	var b strings.Builder

	b.Grow(len(s))

	for _, r := range strings.ToLower(s) {
		if unicode.IsSpace(r) {
			continue
		}

		b.WriteRune(r)
	}

	return b.String()
}

var (
	locationSuffix = regexp.MustCompile(`(?i)\s*(?:\bbranch|\blocation\s*\d+|\d+\s*호점|지점|본점|점)\s*$`)
	trailingPunct  = " \t-_,.·|/:"
)

// BrandRoot strips trailing locational suffixes such as "Branch",
// "Location 3", "2호점" or "강남점" so that a chain name can match any
// of its outlets.
func BrandRoot(s string) string {
	root := strings.TrimSpace(s)

	for {
		next := strings.TrimRight(locationSuffix.ReplaceAllString(root, ""), trailingPunct)
		if next == root {
			return root
		}

		root = next
	}
}

// MatchVendor applies the containment rules in priority order and returns
// the first that holds. Rules are directional: a vendor text that extends the
// target and a target that extends the vendor text match for different
// reasons.
func MatchVendor(vendorText, target string) (Reason, bool) {
	nv := Normalize(vendorText)
	nt := Normalize(target)

	if nv == "" || nt == "" {
		return ReasonNone, false
	}

	if strings.Contains(nv, nt) {
		return ReasonVendorContainsTarget, true
	}

	if root := Normalize(BrandRoot(target)); utf8.RuneCountInString(root) >= minFragmentLen && strings.Contains(nv, root) {
		return ReasonVendorContainsBrandRoot, true
	}

	if utf8.RuneCountInString(nv) >= minFragmentLen && strings.Contains(nt, nv) {
		return ReasonTargetContainsVendor, true
	}

	return ReasonNone, false
}
