package filter

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/maine/x_relay_bot/internal/config"
	"github.com/maine/x_relay_bot/internal/post"
)

var (
	reshareMarkers = []string{"reposted", "retweeted"}
	// Заголовок репоста: короткое имя, маркер последним словом строки, затем
	// перевод строки или имя автора оригинала перед разделителем «·».
	reReshareHeader = regexp.MustCompile(`(?i)^\s*(?:\S+[ \t]+){0,3}(?:reposted|retweeted)(?:[ \t]*\n|[ \t]+(?:[^\s·]+[ \t]+){0,3}[^\s·]+[ \t]*·)`)
)

// Filter реализует правила допуска поста к публикации.
type Filter struct {
	minLength int
	maxLength int
}

// New создаёт экземпляр фильтра.
func New(cfg config.Pipeline) *Filter {
	return &Filter{
		minLength: cfg.MinLength,
		maxLength: cfg.MaxLength,
	}
}

// Check оценивает канонический текст. Правила проверяются по порядку,
// срабатывает первое подходящее.
func (f *Filter) Check(canonical string) post.Decision {
	return f.decide(canonical, "")
}

// CheckWithRaw дополнительно учитывает сырой текст: ссылки и многоточия,
// вырезанные нормализацией, и заголовок репоста говорят о том же, что и
// остатки в каноническом тексте.
func (f *Filter) CheckWithRaw(canonical, raw string) post.Decision {
	return f.decide(canonical, raw)
}

func (f *Filter) decide(canonical, raw string) post.Decision {
	trimmed := strings.TrimSpace(canonical)
	length := utf8.RuneCountInString(trimmed)

	switch {
	case trimmed == "" || length < f.minLength:
		return post.RejectedEmpty
	case length > f.maxLength:
		return post.RejectedTooLong
	case hasLinkOrEllipsis(trimmed) || endsTruncated(trimmed) || (raw != "" && hasLinkOrEllipsis(raw)):
		return post.RejectedLinkOrEllipsis
	case startsAsReshare(trimmed) || (raw != "" && reReshareHeader.MatchString(raw)):
		return post.RejectedRetweet
	default:
		return post.Accepted
	}
}

func hasLinkOrEllipsis(text string) bool {
	return strings.Contains(text, "http://") ||
		strings.Contains(text, "https://") ||
		strings.Contains(text, "...") ||
		strings.Contains(text, "…")
}

func endsTruncated(text string) bool {
	return strings.HasSuffix(text, ".") || strings.HasSuffix(text, "…")
}

func startsAsReshare(text string) bool {
	if strings.HasPrefix(text, "@") {
		return true
	}
	lower := strings.ToLower(text)
	for _, m := range reshareMarkers {
		if strings.HasPrefix(lower, m) {
			return true
		}
	}
	return false
}
