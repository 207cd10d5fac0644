package main

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/maine/x_relay_bot/internal/config"
	"github.com/maine/x_relay_bot/internal/post"
)

func TestWriteReport(t *testing.T) {
	report := post.Report{
		RunID: "run-1",
		Sources: []post.SourceResult{
			{SourceID: "whale_alert", RateLimited: true},
			{SourceID: "aicoin_eth", Err: errors.New("navigation timeout")},
			{SourceID: "openai", Outcomes: []post.Outcome{
				{Canonical: "Introducing a faster reasoning model today", Decision: post.Accepted},
				{Canonical: "Nice!", Decision: post.RejectedEmpty},
				{Canonical: "Our agents platform is generally available", Decision: post.SkippedLookupFailed, Err: errors.New("database is locked")},
			}},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, report))
	out := buf.String()

	assert.Contains(t, out, "rejected_rate_limited")
	assert.Contains(t, out, "navigation timeout")
	assert.Contains(t, out, "Introducing a faster reasoning model today")
	assert.Contains(t, out, "rejected_empty")
	assert.Contains(t, out, "skipped_lookup_failed")
	assert.True(t, strings.HasSuffix(out, "run run-1\n"))

	var footer string
	for _, line := range strings.Split(out, "\n") {
		if strings.Contains(strings.ToLower(line), "would publish") {
			footer = line
		}
	}
	require.NotEmpty(t, footer)
	assert.Equal(t, "1", lastCell(footer))
}

func lastCell(line string) string {
	cells := strings.FieldsFunc(line, func(r rune) bool { return r == '│' })
	for i := len(cells) - 1; i >= 0; i-- {
		if cell := strings.TrimSpace(cells[i]); cell != "" {
			return cell
		}
	}
	return ""
}

func TestWriteReport_Trailer(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeReport(&buf, post.Report{RunID: "run-1"}))
	out := buf.String()

	assert.Contains(t, strings.ToLower(out), "would publish")
	assert.True(t, strings.HasSuffix(out, "run run-1\n"))
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "short", shorten("short", 10))
	assert.Equal(t, "Биткоин…", shorten("Биткоин растёт", 7))
}

func TestApplyOverrides(t *testing.T) {
	cfg := config.Root{Sources: config.Sources{Kind: config.SourceKindBrowser, IDs: []string{"a", "b"}}}
	applyOverrides(&cfg, &previewOptions{sources: []string{"openai"}, kind: config.SourceKindRSS})

	assert.Equal(t, []string{"openai"}, cfg.Sources.IDs)
	assert.Equal(t, config.SourceKindRSS, cfg.Sources.Kind)
	assert.False(t, cfg.Pipeline.ShuffleSources())
}

func TestNewRootCommand_Flags(t *testing.T) {
	cmd := newRootCommand()
	require.NoError(t, cmd.ParseFlags([]string{"--sources", "openai,whale_alert", "-k", "rss"}))

	sources, err := cmd.Flags().GetStringSlice("sources")
	require.NoError(t, err)
	assert.Equal(t, []string{"openai", "whale_alert"}, sources)
	assert.Equal(t, "rss", cmd.Flag("kind").Value.String())
}
