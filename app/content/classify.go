package content

import (
	"strings"
	"unicode"

	"golang.org/x/text/cases"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var categoryKeywords = map[Category][]string{
	CategoryCrypto: {
		"crypto", "bitcoin", "btc", "eth", "ethereum", "hodl", "defi", "nft", "blockchain",
		"solana", "web3", "altcoin", "memecoin", "wallet", "satoshi", "cryptocurrency", "doge",
	},
	CategoryStartup: {
		"startup", "founder", "founders", "vc", "mvp", "pitch", "saas", "funding", "unicorn",
		"yc", "ycombinator", "seed", "series", "ceo", "hustle", "productivity", "entrepreneur",
	},
	CategoryFitness: {
		"gym", "fitness", "workout", "legday", "gains", "protein", "lifting", "cardio",
		"bulk", "cutting", "gymrat", "bodybuilding", "crossfit", "running", "yoga",
	},
	CategoryGenZ: {
		"genz", "zoomer", "vibe", "vibes", "slay", "rizz", "skibidi", "npc", "pov", "bussin",
		"sus", "delulu", "tiktok", "brainrot", "cringe", "based",
	},
	CategoryDating: {
		"dating", "tinder", "bumble", "hinge", "crush", "situationship", "breakup", "date",
		"boyfriend", "girlfriend", "relationship", "single", "love", "redflag", "ghosted",
	},
}

type Classifier struct {
	index map[string]Category
}

func NewClassifier() *Classifier {
	return NewClassifierWithKeywords(nil)
}

// NewClassifierWithKeywords adds extra keywords on top of the built-in
// vocabulary. Extra keywords win over built-in ones.
func NewClassifierWithKeywords(extra map[Category][]string) *Classifier {
	index := make(map[string]Category)
	for _, category := range Categories {
		for _, keyword := range categoryKeywords[category] {
			index[foldText(keyword)] = category
		}
	}
	for category, keywords := range extra {
		for _, keyword := range keywords {
			index[foldText(keyword)] = category
		}
	}
	return &Classifier{index: index}
}

// Classify picks the category with the most keyword hits across texts.
// Ties go to the earlier category in Categories; no hits is general.
func (c *Classifier) Classify(texts ...string) Category {
	hits := make(map[Category]int)
	for _, text := range texts {
		for _, token := range tokenize(text) {
			if category, ok := c.index[token]; ok {
				hits[category]++
			}
		}
	}

	best := CategoryGeneral
	bestHits := 0
	for _, category := range Categories {
		if hits[category] > bestHits {
			best = category
			bestHits = hits[category]
		}
	}
	return best
}

func tokenize(text string) []string {
	folded := foldText(text)
	return strings.FieldsFunc(folded, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

// foldText case-folds and strips diacritics so "Crÿpto" matches "crypto".
func foldText(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return cases.Fold().String(stripped)
}
