package entities

import "strings"

// tokenSet lowercases text and splits it into a set of alphanumeric tokens.
func tokenSet(text string) map[string]struct{} {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !isAlnum(r)
	})
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		set[f] = struct{}{}
	}
	return set
}

func isAlnum(r rune) bool {
	return r == 'ç' || r == 'ã' || r == 'õ' || r == 'á' || r == 'é' || r == 'í' ||
		r == 'ó' || r == 'ú' || r == 'â' || r == 'ê' || r == 'ô' || r == 'à' ||
		(r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

// TokenSimilarity scores two texts by token-set overlap: the intersection
// size divided by the smaller set's size. Unlike plain Jaccard over the
// union, this treats containment as a strong match, so "Sertralina" scores
// 1.0 against "sertralina 50mg" and a short entity scores high against the
// long segment that contains it.
func TokenSimilarity(a, b string) float64 {
	sa, sb := tokenSet(a), tokenSet(b)
	if len(sa) == 0 || len(sb) == 0 {
		return 0
	}

	small, large := sa, sb
	if len(sb) < len(sa) {
		small, large = sb, sa
	}

	inter := 0
	for tok := range small {
		if _, ok := large[tok]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(small))
}
