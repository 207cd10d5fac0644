// Package normalize приводит сырой текст поста к каноническому виду.
//
// Очистка описана упорядоченным списком правил; каждое правило является чистой
// функцией string -> string, поэтому их можно тестировать по отдельности.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/maine/x_relay_bot/internal/config"
)

// Rule описывает одно именованное преобразование текста.
type Rule struct {
	Name  string
	Apply func(string) string
}

// Normalizer применяет правила по порядку.
type Normalizer struct {
	rules []Rule
}

var (
	reURL     = regexp.MustCompile(`https?://\S*`)
	reNumber  = regexp.MustCompile(`\b\d+[kKmM]?\b`)
	reReshare = regexp.MustCompile(`(?i)\b(?:reposted|retweeted)\b`)
	reMention = regexp.MustCompile(`@\w+`)
)

// New собирает нормализатор с правилами по умолчанию.
func New(cfg config.Normalizer) *Normalizer {
	return &Normalizer{rules: DefaultRules(cfg)}
}

// NewWithRules позволяет задать собственный набор правил.
func NewWithRules(rules []Rule) *Normalizer {
	return &Normalizer{rules: rules}
}

// DefaultRules возвращает цепочку очистки в обязательном порядке.
func DefaultRules(cfg config.Normalizer) []Rule {
	return []Rule{
		{Name: "attribution", Apply: StripAttribution(cfg.AttributionSeparators)},
		{Name: "urls", Apply: StripURLs},
		{Name: "numbers", Apply: StripNumbers},
		{Name: "ellipsis", Apply: StripEllipsis},
		{Name: "reshare", Apply: StripReshareMarkers},
		{Name: "mentions", Apply: StripMentions},
		{Name: "denylist", Apply: StripPhrases(cfg.Denylist)},
		{Name: "repeats", Apply: CollapseRepeatedWords},
		{Name: "whitespace", Apply: CollapseWhitespace},
		{Name: "hashtags", Apply: DropHashtags},
		{Name: "trim", Apply: strings.TrimSpace},
	}
}

// Rules возвращает копию списка правил.
func (n *Normalizer) Rules() []Rule {
	out := make([]Rule, len(n.rules))
	copy(out, n.rules)
	return out
}

// Normalize прогоняет цепочку до неподвижной точки.
// Каждое правило только удаляет символы или заменяет пробельные серии одним
// пробелом, поэтому цикл конечен, а результат идемпотентен.
func (n *Normalizer) Normalize(raw string) string {
	text := raw
	for {
		next := n.pass(text)
		if next == text {
			return next
		}
		text = next
	}
}

func (n *Normalizer) pass(text string) string {
	for _, r := range n.rules {
		text = r.Apply(text)
	}
	return text
}

// StripAttribution отрезает префикс атрибуции до первого отдельно стоящего
// разделителя («Имя @handle · текст»). Остальные одиночные разделители удаляются.
func StripAttribution(separators []string) func(string) string {
	seps := make([]string, 0, len(separators))
	for _, s := range separators {
		if s = strings.TrimSpace(s); s != "" {
			seps = append(seps, s)
		}
	}
	return func(text string) string {
		if len(seps) == 0 {
			return text
		}
		fields := strings.Fields(text)
		cut := -1
		for i, f := range fields {
			if isSeparator(f, seps) {
				cut = i
				break
			}
		}
		if cut < 0 {
			return text
		}
		kept := make([]string, 0, len(fields)-cut-1)
		for _, f := range fields[cut+1:] {
			if isSeparator(f, seps) {
				continue
			}
			kept = append(kept, f)
		}
		return strings.Join(kept, " ")
	}
}

func isSeparator(token string, seps []string) bool {
	for _, s := range seps {
		if token == s {
			return true
		}
	}
	return false
}

// StripURLs удаляет абсолютные ссылки вместе с хвостом до пробела.
func StripURLs(text string) string {
	return reURL.ReplaceAllString(text, "")
}

// StripNumbers удаляет отдельные числа, в том числе 12k / 3M.
func StripNumbers(text string) string {
	return reNumber.ReplaceAllString(text, "")
}

// StripEllipsis удаляет «…» и «...».
func StripEllipsis(text string) string {
	text = strings.ReplaceAll(text, "…", "")
	return strings.ReplaceAll(text, "...", "")
}

// StripReshareMarkers удаляет слова reposted/retweeted.
func StripReshareMarkers(text string) string {
	return reReshare.ReplaceAllString(text, "")
}

// StripMentions удаляет @упоминания.
func StripMentions(text string) string {
	return reMention.ReplaceAllString(text, "")
}

// StripPhrases удаляет фразы из стоп-листа без учёта регистра.
func StripPhrases(phrases []string) func(string) string {
	quoted := make([]string, 0, len(phrases))
	for _, p := range phrases {
		if p = strings.TrimSpace(p); p != "" {
			quoted = append(quoted, regexp.QuoteMeta(p))
		}
	}
	if len(quoted) == 0 {
		return func(text string) string { return text }
	}
	re := regexp.MustCompile(`(?i)(?:` + strings.Join(quoted, "|") + `)`)
	return func(text string) string {
		return re.ReplaceAllString(text, "")
	}
}

// CollapseRepeatedWords схлопывает подряд идущие одинаковые слова.
// Несоседние повторы не трогаются.
func CollapseRepeatedWords(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	prev := ""
	rest := text
	for rest != "" {
		space, word, tail := nextWord(rest)
		rest = tail
		if word != "" && word == prev {
			continue
		}
		b.WriteString(space)
		b.WriteString(word)
		if word != "" {
			prev = word
		}
	}
	return b.String()
}

// nextWord делит s на ведущие пробелы, следующее слово и остаток.
func nextWord(s string) (space, word, rest string) {
	i := strings.IndexFunc(s, func(r rune) bool { return !unicode.IsSpace(r) })
	if i < 0 {
		return s, "", ""
	}
	j := strings.IndexFunc(s[i:], unicode.IsSpace)
	if j < 0 {
		return s[:i], s[i:], ""
	}
	return s[:i], s[i : i+j], s[i+j:]
}

// CollapseWhitespace заменяет любые пробельные серии одним пробелом.
func CollapseWhitespace(text string) string {
	var b strings.Builder
	b.Grow(len(text))

	inSpace := false
	for _, r := range text {
		if unicode.IsSpace(r) {
			if !inSpace {
				b.WriteByte(' ')
				inSpace = true
			}
			continue
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}

// DropHashtags убирает слова, начинающиеся с #.
func DropHashtags(text string) string {
	fields := strings.Fields(text)
	kept := fields[:0]
	for _, f := range fields {
		if strings.HasPrefix(f, "#") {
			continue
		}
		kept = append(kept, f)
	}
	return strings.Join(kept, " ")
}
