// Package brformat parses Brazilian-locale values found in noisy financial
// documents. Every parser is best-effort: unparseable input yields ok=false,
// never an error, so partial rows survive instead of failing a whole run.
package brformat

import (
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	moneyRe      = regexp.MustCompile(`(?i)-?\s*(?:r\$\s*)?([\d\.]+(?:,\d{1,2})?)`)
	dateSlashRe  = regexp.MustCompile(`^(\d{1,2})/(\d{1,2})/(\d{4})$`)
	dateISORe    = regexp.MustCompile(`^(\d{4})-(\d{1,2})-(\d{1,2})$`)
	nonIntRe     = regexp.MustCompile(`[^\d-]+`)
	nonFloatRe   = regexp.MustCompile(`[^\d\.-]+`)
	nonDigitRe   = regexp.MustCompile(`\D+`)
	multiSpaceRe = regexp.MustCompile(`\s+`)
	headerBadRe  = regexp.MustCompile(`[^\w\s%/().-]+`)
	unsafeFileRe = regexp.MustCompile(`[^a-zA-Z0-9 _\-.()\[\]]+`)

	accentStripper = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)))
)

// StripAccents removes combining marks: "Previsão" -> "Previsao".
func StripAccents(s string) string {
	out, _, err := transform.String(accentStripper, s)
	if err != nil {
		return s
	}
	return out
}

// NormalizeWhitespace replaces non-breaking spaces, collapses runs of
// whitespace to a single space and trims.
func NormalizeWhitespace(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	return strings.TrimSpace(multiSpaceRe.ReplaceAllString(s, " "))
}

// NormalizeHeader produces the canonical join key used for fuzzy column and
// label matching: lowercased, accent-free, whitespace-collapsed, punctuation
// outside a small allow-list removed. Idempotent.
func NormalizeHeader(s string) string {
	s = strings.ReplaceAll(s, " ", " ")
	s = strings.ReplaceAll(s, "\n", " ")
	s = NormalizeWhitespace(s)
	s = strings.ToLower(StripAccents(s))
	s = headerBadRe.ReplaceAllString(s, "")
	return NormalizeWhitespace(s)
}

// OnlyDigits strips everything that is not a decimal digit.
func OnlyDigits(s string) string {
	return nonDigitRe.ReplaceAllString(s, "")
}

// SafeFilename sanitizes a display name for use inside a storage path.
func SafeFilename(name string) string {
	name = NormalizeWhitespace(name)
	name = unsafeFileRe.ReplaceAllString(name, "_")
	if len(name) > 180 {
		name = name[:180]
	}
	return name
}

func asString(val any) (string, bool) {
	switch v := val.(type) {
	case nil:
		return "", false
	case string:
		s := strings.TrimSpace(v)
		return s, s != ""
	default:
		return "", false
	}
}

// ParseMoney parses a BRL amount ("R$ 1.234,56" -> 1234.56). "." is the
// thousands separator and "," the decimal separator. Already-numeric values
// pass through unchanged.
func ParseMoney(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	s, ok := asString(val)
	if !ok {
		return 0, false
	}
	s = strings.ReplaceAll(s, " ", " ")
	m := moneyRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	num := strings.ReplaceAll(m[1], ".", "")
	num = strings.ReplaceAll(num, ",", ".")
	f, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseInt parses an integer after stripping everything but digits and sign.
func ParseInt(val any) (int64, bool) {
	switch v := val.(type) {
	case int:
		return int64(v), true
	case int64:
		return v, true
	}
	s, ok := asString(val)
	if !ok {
		return 0, false
	}
	s = nonIntRe.ReplaceAllString(s, "")
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ParseFloat parses a pt-BR decimal ("1.234,5" -> 1234.5).
func ParseFloat(val any) (float64, bool) {
	switch v := val.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	s, ok := asString(val)
	if !ok {
		return 0, false
	}
	s = strings.ReplaceAll(s, ".", "")
	s = strings.ReplaceAll(s, ",", ".")
	s = nonFloatRe.ReplaceAllString(s, "")
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return f, true
}

// ParseDate accepts DD/MM/YYYY and YYYY-MM-DD. Invalid calendar dates
// (e.g. 32/01/2024) are rejected, not normalized.
func ParseDate(val any) (time.Time, bool) {
	if t, ok := val.(time.Time); ok {
		return t, true
	}
	s, ok := asString(val)
	if !ok {
		return time.Time{}, false
	}

	if m := dateSlashRe.FindStringSubmatch(s); m != nil {
		return makeDate(m[3], m[2], m[1])
	}
	if m := dateISORe.FindStringSubmatch(s); m != nil {
		return makeDate(m[1], m[2], m[3])
	}
	return time.Time{}, false
}

func makeDate(y, mo, d string) (time.Time, bool) {
	year, _ := strconv.Atoi(y)
	month, _ := strconv.Atoi(mo)
	day, _ := strconv.Atoi(d)
	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (day 32 -> next month); reject those.
	if t.Year() != year || int(t.Month()) != month || t.Day() != day {
		return time.Time{}, false
	}
	return t, true
}

// ValidCPF validates an 11-digit Brazilian individual tax ID, including the
// two mod-11 check digits. Uniform repeated digits are always invalid.
func ValidCPF(cpf string) bool {
	cpf = OnlyDigits(cpf)
	if len(cpf) != 11 || uniformDigits(cpf) {
		return false
	}
	nums := digitSlice(cpf)
	for _, j := range []int{9, 10} {
		sum := 0
		for i := 0; i < j; i++ {
			sum += nums[i] * ((j + 1) - i)
		}
		d := (sum * 10) % 11
		if d == 10 {
			d = 0
		}
		if d != nums[j] {
			return false
		}
	}
	return true
}

var (
	cnpjWeights1 = []int{5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
	cnpjWeights2 = []int{6, 5, 4, 3, 2, 9, 8, 7, 6, 5, 4, 3, 2}
)

// ValidCNPJ validates a 14-digit Brazilian company tax ID.
func ValidCNPJ(cnpj string) bool {
	cnpj = OnlyDigits(cnpj)
	if len(cnpj) != 14 || uniformDigits(cnpj) {
		return false
	}
	nums := digitSlice(cnpj)
	calc := func(weights []int) int {
		sum := 0
		for i, w := range weights {
			sum += nums[i] * w
		}
		r := sum % 11
		if r < 2 {
			return 0
		}
		return 11 - r
	}
	return calc(cnpjWeights1) == nums[12] && calc(cnpjWeights2) == nums[13]
}

func uniformDigits(s string) bool {
	for i := 1; i < len(s); i++ {
		if s[i] != s[0] {
			return false
		}
	}
	return true
}

func digitSlice(s string) []int {
	out := make([]int, len(s))
	for i := range s {
		out[i] = int(s[i] - '0')
	}
	return out
}
