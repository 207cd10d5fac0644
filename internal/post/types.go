package post

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// RawPost описывает пост сразу после получения из источника.
type RawPost struct {
	SourceID   string    `json:"source_id"`
	RawText    string    `json:"raw_text"`
	ImageURLs  []string  `json:"image_urls,omitempty"`
	ObservedAt time.Time `json:"observed_at,omitempty"` // нулевое значение, если источник не сообщил время
}

// Decision описывает результат оценки одного поста.
type Decision int

const (
	Accepted Decision = iota
	RejectedEmpty
	RejectedTooLong
	RejectedLinkOrEllipsis
	RejectedRetweet
	RejectedDuplicate
	RejectedRateLimited
	// SkippedLookupFailed: хранилище не ответило, был ли пост опубликован.
	SkippedLookupFailed
)

var decisionNames = [...]string{
	Accepted:               "accepted",
	RejectedEmpty:          "rejected_empty",
	RejectedTooLong:        "rejected_too_long",
	RejectedLinkOrEllipsis: "rejected_link_or_ellipsis",
	RejectedRetweet:        "rejected_retweet",
	RejectedDuplicate:      "rejected_duplicate",
	RejectedRateLimited:    "rejected_rate_limited",
	SkippedLookupFailed:    "skipped_lookup_failed",
}

func (d Decision) String() string {
	if d < 0 || int(d) >= len(decisionNames) {
		return "unknown"
	}
	return decisionNames[d]
}

// Fingerprint возвращает hex SHA-256 канонического текста.
func Fingerprint(canonical string) string {
	sum := sha256.Sum256([]byte(canonical))
	return hex.EncodeToString(sum[:])
}

// Outcome хранит итог обработки одного поста за прогон.
type Outcome struct {
	SourceID    string   `json:"source_id"`
	Canonical   string   `json:"canonical"`
	Fingerprint string   `json:"fingerprint,omitempty"`
	Decision    Decision `json:"decision"`
	Published   bool     `json:"published"`
	Err         error    `json:"-"`
}

// SourceResult собирает итоги по одному источнику.
type SourceResult struct {
	SourceID    string    `json:"source_id"`
	RateLimited bool      `json:"rate_limited"`
	Fetched     int       `json:"fetched"`
	Outcomes    []Outcome `json:"outcomes"`
	Err         error     `json:"-"`
}

// Report содержит сводку одного прогона пайплайна.
type Report struct {
	RunID      string         `json:"run_id"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Purged     int64          `json:"purged"`
	Sources    []SourceResult `json:"sources"`
}

// Published возвращает количество успешно опубликованных постов.
func (r Report) Published() int {
	n := 0
	for _, src := range r.Sources {
		for _, o := range src.Outcomes {
			if o.Published {
				n++
			}
		}
	}
	return n
}

// Count возвращает количество исходов с заданным решением.
func (r Report) Count(d Decision) int {
	n := 0
	for _, src := range r.Sources {
		for _, o := range src.Outcomes {
			if o.Decision == d {
				n++
			}
		}
	}
	return n
}
