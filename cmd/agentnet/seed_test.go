package main

import (
	"context"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alphabot-ai/agentnet/internal/activity"
	"github.com/alphabot-ai/agentnet/internal/auth"
	"github.com/alphabot-ai/agentnet/internal/config"
	httpapp "github.com/alphabot-ai/agentnet/internal/http"
	"github.com/alphabot-ai/agentnet/internal/logging"
	"github.com/alphabot-ai/agentnet/internal/rate"
	"github.com/alphabot-ai/agentnet/internal/store/sqlite"
)

func TestDefaultFixturesParse(t *testing.T) {
	fx, err := ParseFixtures(defaultFixtures)
	require.NoError(t, err)
	require.Len(t, fx.Agents, 5)
	assert.Equal(t, "alphabot", fx.Agents[0].Name)
	require.Len(t, fx.Agents[0].Threads, 1)
	assert.Equal(t, []string{"show", "agents"}, fx.Agents[0].Threads[0].Tags)
	require.Len(t, fx.Agents[0].Threads[0].Comments[0].Replies, 1)
	assert.Equal(t, "Daily check-in", fx.Agents[2].Tasks[0].Payload["title"])
}

func TestParseFixturesErrors(t *testing.T) {
	cases := map[string]string{
		"empty":          "agents: []",
		"missing name":   "agents:\n  - description: nameless",
		"duplicate":      "agents:\n  - name: a-bot\n  - name: a-bot",
		"unknown author": "agents:\n  - name: a-bot\n    threads:\n      - title: t\n        comments:\n          - agent: ghost\n            body: boo",
		"nested author":  "agents:\n  - name: a-bot\n    threads:\n      - title: t\n        comments:\n          - body: ok\n            replies:\n              - agent: ghost\n                body: boo",
		"bad yaml":       "agents: [",
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ParseFixtures([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestSeedAgainstServer(t *testing.T) {
	st, err := sqlite.Open(fmt.Sprintf("file:seed_%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_")))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Config{
		AdminSecret:  "admin",
		SessionTTL:   time.Hour,
		ChallengeTTL: time.Minute,
		CORSOrigins:  []string{"*"},
		RateLimits:   config.RateLimits{AuthPerMinute: 1000, ThreadPerMinute: 1000, CommentPerMinute: 1000},
	}
	log := logging.Discard()
	authSvc := auth.NewService(st, cfg.SessionTTL, cfg.ChallengeTTL, "agentnet.test")
	server, err := httpapp.NewServer(st, authSvc, rate.NewMemory(), activity.NewHub(log, cfg.CORSOrigins), cfg, log)
	require.NoError(t, err)
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	fx, err := ParseFixtures(defaultFixtures)
	require.NoError(t, err)

	res, err := seed(ts.URL, fx, log)
	require.NoError(t, err)
	assert.Equal(t, seedResult{Agents: 5, Threads: 4, Comments: 7, Tasks: 2}, res)

	stats, err := st.GetSiteStats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 5, stats.Agents)
	assert.EqualValues(t, 4, stats.Threads)
	assert.EqualValues(t, 7, stats.Comments)
}

func TestSeedReusesWalletAgent(t *testing.T) {
	st, err := sqlite.Open(fmt.Sprintf("file:seed_%s?mode=memory&cache=shared", t.Name()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	cfg := config.Config{
		SessionTTL:   time.Hour,
		ChallengeTTL: time.Minute,
		CORSOrigins:  []string{"*"},
		RateLimits:   config.RateLimits{AuthPerMinute: 1000, ThreadPerMinute: 1000, CommentPerMinute: 1000},
	}
	log := logging.Discard()
	authSvc := auth.NewService(st, cfg.SessionTTL, cfg.ChallengeTTL, "agentnet.test")
	server, err := httpapp.NewServer(st, authSvc, rate.NewMemory(), activity.NewHub(log, cfg.CORSOrigins), cfg, log)
	require.NoError(t, err)
	ts := httptest.NewServer(server)
	t.Cleanup(ts.Close)

	fx, err := ParseFixtures([]byte(`
agents:
  - name: keyed-bot
    privateKey: "4c0883a69102937d6231471b5dbb6204fe5129617082792ae468d01a3f362318"
    threads:
      - title: hello again
        body: seeded twice
`))
	require.NoError(t, err)

	_, err = seed(ts.URL, fx, log)
	require.NoError(t, err)
	res, err := seed(ts.URL, fx, log)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Threads)

	stats, err := st.GetSiteStats(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, stats.Agents)
	assert.EqualValues(t, 2, stats.Threads)
}
