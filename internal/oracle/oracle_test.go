package oracle

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"sceneport/internal/config"
)

func TestBuildPromptIncludesAllSections(t *testing.T) {
	p := buildPrompt(Request{
		UnitName:          "scene_a.py",
		Candidate:         "from manim import *\n",
		ErrorText:         "NameError: name 'Squrae' is not defined",
		DependencyContext: "def helper():\n    pass\n",
		PriorDiffs:        []string{"-Squrae\n+Sqare"},
		Attempt:           2,
	})
	assert.Contains(t, p, "scene_a.py")
	assert.Contains(t, p, "NameError")
	assert.Contains(t, p, "def helper()")
	assert.Contains(t, p, "Do not repeat them")
	assert.Contains(t, p, "-Squrae")
	assert.Contains(t, p, "complete corrected file")
}

func TestBuildPromptOmitsEmptySections(t *testing.T) {
	p := buildPrompt(Request{UnitName: "u.py", Candidate: "x = 1\n", ErrorText: "e"})
	assert.NotContains(t, p, "Inlined dependencies")
	assert.NotContains(t, p, "Earlier attempts")
}

func TestExtractCode(t *testing.T) {
	cases := []struct {
		name   string
		reply  string
		want   string
		fenced bool
	}{
		{
			name:   "python fence",
			reply:  "Here is the fix:\n```python\nx = 1\n```\nDone.",
			want:   "x = 1\n",
			fenced: true,
		},
		{
			name:   "bare fence",
			reply:  "```\ny = 2\n```",
			want:   "y = 2\n",
			fenced: true,
		},
		{
			name:   "no fence",
			reply:  "x = 3",
			want:   "x = 3\n",
			fenced: false,
		},
		{
			name:   "unterminated fence falls back",
			reply:  "```python\nx = 4\n",
			want:   "```python\nx = 4\n",
			fenced: false,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, fenced := extractCode(tc.reply)
			assert.Equal(t, tc.want, got)
			assert.Equal(t, tc.fenced, fenced)
		})
	}
}

func TestScriptedReplaysInOrder(t *testing.T) {
	s := NewScripted(
		Response{ProposedText: "first\n"},
		Response{ProposedText: "second\n"},
	)
	ctx := context.Background()

	r1, err := s.Repair(ctx, Request{Attempt: 1})
	require.NoError(t, err)
	r2, err := s.Repair(ctx, Request{Attempt: 2})
	require.NoError(t, err)
	assert.Equal(t, "first\n", r1.ProposedText)
	assert.Equal(t, "second\n", r2.ProposedText)

	_, err = s.Repair(ctx, Request{Attempt: 3})
	assert.Error(t, err, "exhausted double errors")
	assert.Equal(t, 3, s.CallCount())
	assert.Equal(t, 1, s.Calls()[0].Attempt)
}

func TestScriptedFailWith(t *testing.T) {
	s := NewScripted(Response{ProposedText: "ok\n"}).FailWith(errors.New("boom"))
	_, err := s.Repair(context.Background(), Request{})
	assert.EqualError(t, err, "boom")
	r, err := s.Repair(context.Background(), Request{})
	require.NoError(t, err)
	assert.Equal(t, "ok\n", r.ProposedText)
}

func TestGeminiRequiresAPIKey(t *testing.T) {
	_, err := NewGemini(context.Background(), config.OracleConfig{})
	assert.Error(t, err)
}

func TestEscalationSettings(t *testing.T) {
	g := &Gemini{
		model: "base-model",
		escalation: []config.EscalationStep{
			{Model: "fast", Temperature: 0.1},
			{Model: "", Temperature: 0.5},
			{Model: "big", Temperature: 0.9},
		},
	}
	model, temp := g.settings(1)
	assert.Equal(t, "fast", model)
	assert.InDelta(t, 0.1, float64(temp), 1e-6)

	model, _ = g.settings(2)
	assert.Equal(t, "base-model", model, "empty step model falls back")

	model, temp = g.settings(4)
	assert.Equal(t, "base-model", model, "past the table uses the base model")
	assert.InDelta(t, 0.2, float64(temp), 1e-6)
}

func TestEstimateCost(t *testing.T) {
	usage := &genai.GenerateContentResponseUsageMetadata{
		PromptTokenCount:     1_000_000,
		CandidatesTokenCount: 2_000_000,
	}
	assert.InDelta(t, 0.30+2*2.50, estimateCost("gemini-2.5-flash", usage), 1e-9)
	assert.Zero(t, estimateCost("some-unknown-model", usage), "unlisted models are not priced")
	assert.Zero(t, estimateCost("gemini-2.5-flash", nil))
}

func TestTransientClassification(t *testing.T) {
	assert.True(t, transient(errors.New("googleapi: Error 429: rate limit")))
	assert.True(t, transient(errors.New("server UNAVAILABLE")))
	assert.True(t, transient(context.DeadlineExceeded))
	assert.False(t, transient(errors.New("invalid api key")))
	assert.False(t, transient(nil))
}
