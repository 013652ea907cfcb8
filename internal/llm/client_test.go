package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"studycal/internal/curriculum"
	apperrors "studycal/internal/errors"
	appLog "studycal/internal/log"
	"studycal/internal/planner"
)

func TestMain(m *testing.M) {
	appLog.SetOutput(io.Discard)
	os.Exit(m.Run())
}

func reply(text string) string {
	raw, _ := json.Marshal(messagesResponse{Content: []contentBlock{{Type: "text", Text: text}}})
	return string(raw)
}

func TestGenerate(t *testing.T) {
	var got messagesRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/messages", r.URL.Path)
		require.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.Equal(t, apiVersion, r.Header.Get("anthropic-version"))
		require.NotEmpty(t, r.Header.Get("X-Request-Id"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		_, _ = io.WriteString(w, reply(`Plan: {"summary": "ok", "schedule": [{"start_time": "08:00", "end_time": "09:30", "subject": "SQL"}]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL + "/", APIKey: "test-key"})
	plan, err := c.Generate(context.Background(), planner.Request{
		Date:                time.Date(2025, 9, 22, 0, 0, 0, 0, time.UTC),
		EffectiveStudyHours: 10,
	})
	require.NoError(t, err)
	require.Len(t, plan.Schedule, 1)
	require.Equal(t, "SQL", plan.Schedule[0].Subject)

	require.Equal(t, DefaultModel, got.Model)
	require.Equal(t, planMaxTokens, got.MaxTokens)
	require.Len(t, got.Messages, 1)
	require.Contains(t, got.Messages[0].Content, "Effective study hours: 10.0h")
}

func TestGenerate_Failures(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"api error": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = io.WriteString(w, `{"error": {"type": "rate_limit_error", "message": "slow down"}}`)
		},
		"no plan": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, reply("I cannot help with that."))
		},
		"null schedule": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, reply(`{"schedule": null}`))
		},
		"garbage body": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = io.WriteString(w, "<html>")
		},
	}

	for name, h := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(h)
			defer srv.Close()

			c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"})
			_, err := c.Generate(context.Background(), planner.Request{Date: time.Now()})
			require.Error(t, err)
			require.True(t, apperrors.Is(err, apperrors.ErrGenerationFailure))
		})
	}
}

func TestGenerate_NoKey(t *testing.T) {
	c := NewClient(Config{BaseURL: "http://127.0.0.1:1"})
	_, err := c.Generate(context.Background(), planner.Request{Date: time.Now()})
	require.True(t, apperrors.Is(err, apperrors.ErrGenerationFailure))
}

func TestGenerate_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k"})
	_, err := c.Generate(ctx, planner.Request{Date: time.Now()})
	require.Error(t, err)
}

func TestAnalyze(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, coverageMaxTokens, req.MaxTokens)
		require.Contains(t, req.Messages[0].Content, "lecture; ai")

		_, _ = io.WriteString(w, reply(`{"covered_by_msc": {"python": {"coverage_percentage": 40}}, "pure_gaps": ["sql"]}`))
	}))
	defer srv.Close()

	c := NewClient(Config{BaseURL: srv.URL, APIKey: "k", Model: "m"})
	r, err := c.Analyze(context.Background(), []string{"lecture; ai"}, curriculum.Default().Summary())
	require.NoError(t, err)
	require.NotEmpty(t, r.Version)
	require.InDelta(t, 40, r.CoveredBySkillID["python"].CoveragePercentage, 1e-9)
}
