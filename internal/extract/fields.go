package extract

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

// Fields is the best-effort guess pulled from recognized text. Zero values
// mean "no candidate found"; callers supply their own fallbacks.
type Fields struct {
	Title      string
	Date       string // YYYY-MM-DD
	Amount     decimal.Decimal
	Category   string
	Confidence *float64
}

const (
	titleScanLines = 12
	keywordWindow  = 60
	keywordBoost   = 10
	contextPenalty = 10
)

// Extract runs the field heuristics over recognized text. It is a pure
// function: the same text and confidence always produce the same result.
func Extract(text string, pageConfidence *float64) Fields {
	return Fields{
		Title:      guessTitle(text),
		Date:       guessDate(text),
		Amount:     guessAmount(text),
		Category:   guessCategory(text),
		Confidence: NormalizeConfidence(pageConfidence),
	}
}

// NormalizeConfidence maps a recognizer confidence into [0,1] with two
// decimals. Values above 1 are treated as percentages.
func NormalizeConfidence(raw *float64) *float64 {
	if raw == nil {
		return nil
	}
	v := *raw
	if v > 1 {
		v = v / 100
	}
	if v < 0 {
		v = 0
	}
	if v > 1 {
		v = 1
	}
	v = math.Round(v*100) / 100
	return &v
}

var (
	letterRe   = regexp.MustCompile(`[A-Za-z]`)
	pageNumRe  = regexp.MustCompile(`(?i)^page\s*\d+(\s*of\s*\d+)?$`)
	bareDateRe = regexp.MustCompile(`^[\d/\-.\s]+$`)
	boilerRe   = regexp.MustCompile(`(?i)^(statement|invoice|receipt|bill)$`)
)

func guessTitle(text string) string {
	lines := strings.Split(text, "\n")
	if len(lines) > titleScanLines {
		lines = lines[:titleScanLines]
	}
	for _, line := range lines {
		candidate := strings.TrimSpace(line)
		if len(candidate) < 3 || len(candidate) > 80 {
			continue
		}
		if !letterRe.MatchString(candidate) {
			continue
		}
		if pageNumRe.MatchString(candidate) || bareDateRe.MatchString(candidate) || boilerRe.MatchString(candidate) {
			continue
		}
		return candidate
	}
	return ""
}

type candidate struct {
	value    string
	offset   int
	priority int
}

var dateKeywords = []string{
	"date of service", "service date", "invoice date", "statement date",
	"billing date", "visit date", "date:",
}

var monthsByName = map[string]int{
	"jan": 1, "feb": 2, "mar": 3, "apr": 4, "may": 5, "jun": 6,
	"jul": 7, "aug": 8, "sep": 9, "oct": 10, "nov": 11, "dec": 12,
}

var (
	numericDate4Re = regexp.MustCompile(`\b(\d{1,2})[/\-](\d{1,2})[/\-](\d{4})\b`)
	isoDateRe      = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	numericDate2Re = regexp.MustCompile(`\b(\d{1,2})[/\-](\d{1,2})[/\-](\d{2})\b`)
	monthFirstRe   = regexp.MustCompile(`(?i)\b(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?\s+(\d{1,2}),?\s+(\d{4})\b`)
	dayFirstRe     = regexp.MustCompile(`(?i)\b(\d{1,2})\s+(jan|feb|mar|apr|may|jun|jul|aug|sep|oct|nov|dec)[a-z]*\.?,?\s+(\d{4})\b`)
)

func guessDate(text string) string {
	lower := strings.ToLower(text)
	var candidates []candidate

	add := func(offset int, year, month, day, base int) {
		if month < 1 || month > 12 || day < 1 || day > 31 {
			return
		}
		priority := base
		if keywordBefore(lower, offset, dateKeywords) {
			priority += keywordBoost
		}
		candidates = append(candidates, candidate{
			value:    fmt.Sprintf("%04d-%02d-%02d", year, month, day),
			offset:   offset,
			priority: priority,
		})
	}

	for _, m := range numericDate4Re.FindAllStringSubmatchIndex(text, -1) {
		month := atoi(text[m[2]:m[3]])
		day := atoi(text[m[4]:m[5]])
		year := atoi(text[m[6]:m[7]])
		add(m[0], year, month, day, 2)
	}
	for _, m := range isoDateRe.FindAllStringSubmatchIndex(text, -1) {
		year := atoi(text[m[2]:m[3]])
		month := atoi(text[m[4]:m[5]])
		day := atoi(text[m[6]:m[7]])
		add(m[0], year, month, day, 2)
	}
	for _, m := range monthFirstRe.FindAllStringSubmatchIndex(text, -1) {
		month := monthsByName[strings.ToLower(text[m[2]:m[3]])]
		day := atoi(text[m[4]:m[5]])
		year := atoi(text[m[6]:m[7]])
		add(m[0], year, month, day, 2)
	}
	for _, m := range dayFirstRe.FindAllStringSubmatchIndex(text, -1) {
		day := atoi(text[m[2]:m[3]])
		month := monthsByName[strings.ToLower(text[m[4]:m[5]])]
		year := atoi(text[m[6]:m[7]])
		add(m[0], year, month, day, 2)
	}
	for _, m := range numericDate2Re.FindAllStringSubmatchIndex(text, -1) {
		// Skip spans already claimed by a 4-digit-year match.
		if covered(numericDate4Re, text, m[0]) {
			continue
		}
		month := atoi(text[m[2]:m[3]])
		day := atoi(text[m[4]:m[5]])
		year := expandYear(atoi(text[m[6]:m[7]]))
		add(m[0], year, month, day, 1)
	}

	best := pickBest(candidates)
	if best == nil {
		return ""
	}
	return best.value
}

var amountKeywords = []string{
	"amount due", "total due", "balance due", "patient responsibility",
	"amount owed", "grand total", "total charges", "please pay", "total",
	"amount:",
}

var amountContextPenalties = []string{
	"phone", "fax", "tel", "account #", "account number", "acct", "member #",
	"member id", "invoice #", "zip",
}

var amountRe = regexp.MustCompile(`\$\s*\d[\d,]*(?:\.\d{1,2})?|\b\d[\d,]*\.\d{2}\b|\b\d[\d,]*\b`)

func guessAmount(text string) decimal.Decimal {
	lower := strings.ToLower(text)
	var candidates []candidate

	for _, m := range amountRe.FindAllStringIndex(text, -1) {
		raw := text[m[0]:m[1]]
		cleaned := strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(raw), "$"))
		cleaned = strings.ReplaceAll(cleaned, ",", "")
		if _, err := decimal.NewFromString(cleaned); err != nil {
			continue
		}

		priority := 0
		if strings.HasPrefix(strings.TrimSpace(raw), "$") {
			priority += 2
		}
		if strings.Contains(cleaned, ".") {
			priority++
		}
		if keywordBefore(lower, m[0], amountKeywords) {
			priority += keywordBoost
		}
		if keywordBefore(lower, m[0], amountContextPenalties) {
			priority -= contextPenalty
		}
		candidates = append(candidates, candidate{value: cleaned, offset: m[0], priority: priority})
	}
	if len(candidates) == 0 {
		return decimal.Zero
	}

	best := pickBest(candidates)
	if best.priority > 0 {
		return decimal.RequireFromString(best.value)
	}

	// Nothing stood out: fall back to the largest raw candidate.
	largest := decimal.Zero
	for _, cand := range candidates {
		if v := decimal.RequireFromString(cand.value); v.GreaterThan(largest) {
			largest = v
		}
	}
	return largest
}

// categoryKeywords is ordered so tie-breaking is deterministic; the first
// category with the top score wins, and a zero score yields "".
var categoryKeywords = []struct {
	name     string
	keywords []string
}{
	{"medical", []string{"clinic", "hospital", "physician", "medical", "patient", "copay", "diagnosis", "provider", "lab"}},
	{"dental", []string{"dental", "dentist", "orthodont", "oral surgery", "crown", "filling"}},
	{"vision", []string{"vision", "optometr", "ophthalmolog", "eyewear", "contact lens", "frames", "lenses"}},
	{"pharmacy", []string{"pharmacy", "prescription", "rx ", "dispense", "refill", "drug"}},
	{"insurance", []string{"insurance", "premium", "policy number", "coverage", "claim", "deductible"}},
	{"utilities", []string{"electric", "utility", "kwh", "water service", "gas service", "sewer"}},
	{"travel", []string{"airline", "flight", "hotel", "lodging", "mileage", "rental car"}},
}

func guessCategory(text string) string {
	lower := strings.ToLower(text)
	bestName := ""
	bestScore := 0
	for _, entry := range categoryKeywords {
		score := 0
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				score++
			}
		}
		if score > bestScore {
			bestScore = score
			bestName = entry.name
		}
	}
	return bestName
}

func keywordBefore(lower string, offset int, keywords []string) bool {
	start := offset - keywordWindow
	if start < 0 {
		start = 0
	}
	if offset > len(lower) {
		offset = len(lower)
	}
	window := lower[start:offset]
	for _, kw := range keywords {
		if strings.Contains(window, kw) {
			return true
		}
	}
	return false
}

func pickBest(candidates []candidate) *candidate {
	if len(candidates) == 0 {
		return nil
	}
	best := candidates[0]
	for _, cand := range candidates[1:] {
		if cand.priority > best.priority ||
			(cand.priority == best.priority && cand.offset < best.offset) {
			best = cand
		}
	}
	return &best
}

func covered(re *regexp.Regexp, text string, offset int) bool {
	for _, m := range re.FindAllStringIndex(text, -1) {
		if offset >= m[0] && offset < m[1] {
			return true
		}
	}
	return false
}

func expandYear(yy int) int {
	if yy < 50 {
		return 2000 + yy
	}
	return 1900 + yy
}

func atoi(s string) int {
	v, _ := strconv.Atoi(s)
	return v
}
