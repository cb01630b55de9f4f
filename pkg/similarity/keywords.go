package similarity

import (
	"sort"
	"strings"
)

// stopWords covers the Malay and English function words seen in intake
// text; they carry no signal for case titles.
var stopWords = map[string]bool{
	"yang": true, "dan": true, "ke": true, "pada": true, "untuk": true,
	"dengan": true, "ini": true, "itu": true, "adalah": true, "dari": true,
	"oleh": true, "kepada": true, "telah": true, "akan": true, "ada": true,
	"atau": true,
	"the": true, "with": true, "been": true, "have": true, "has": true,
	"had": true, "does": true, "did": true, "can": true, "could": true,
	"would": true, "should": true, "may": true, "might": true, "was": true,
	"were": true, "are": true, "is": true, "this": true, "that": true,
	"for": true, "from": true, "and": true, "not": true, "but": true,
}

// ExtractKeywords returns the topN most frequent meaningful words
// (length >= 4, stop words removed) from text, most frequent first.
// Ties are broken alphabetically so output is reproducible.
func ExtractKeywords(text string, topN int) []string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !((r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_')
	})

	freq := make(map[string]int)
	for _, word := range words {
		if len(word) >= 4 && !stopWords[word] {
			freq[word]++
		}
	}

	keywords := make([]string, 0, len(freq))
	for word := range freq {
		keywords = append(keywords, word)
	}
	sort.Slice(keywords, func(i, j int) bool {
		if freq[keywords[i]] != freq[keywords[j]] {
			return freq[keywords[i]] > freq[keywords[j]]
		}
		return keywords[i] < keywords[j]
	})

	if topN > 0 && len(keywords) > topN {
		keywords = keywords[:topN]
	}
	return keywords
}

// GenerateCaseTitle builds a case title from the member record titles.
// A single member keeps its own title; multiple members get a "Kes: ..."
// title from their three most common keywords.
func GenerateCaseTitle(recordTitles []string) string {
	if len(recordTitles) == 0 {
		return "Untitled Case"
	}
	if len(recordTitles) == 1 {
		return recordTitles[0]
	}

	keywords := ExtractKeywords(strings.Join(recordTitles, " "), 3)
	if len(keywords) == 0 {
		return recordTitles[0]
	}

	titled := make([]string, len(keywords))
	for i, kw := range keywords {
		titled[i] = capitalize(kw)
	}
	return "Kes: " + strings.Join(titled, " ")
}

func capitalize(word string) string {
	if word == "" {
		return word
	}
	return strings.ToUpper(word[:1]) + word[1:]
}
