package oracle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"
	"google.golang.org/genai"

	"sceneport/internal/config"
	"sceneport/internal/logging"
)

// Gemini is the production oracle client.
type Gemini struct {
	client     *genai.Client
	model      string
	escalation []config.EscalationStep
	timeout    time.Duration
	maxRetries int
	gate       *semaphore.Weighted
}

// NewGemini builds the client from config. The API key is required; it
// normally arrives via the GEMINI_API_KEY override.
func NewGemini(ctx context.Context, cfg config.OracleConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("oracle API key is required")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = 2 * time.Minute
	}
	inFlight := int64(cfg.MaxInFlight)
	if inFlight < 1 {
		inFlight = 2
	}
	retries := cfg.MaxRetries
	if retries < 0 {
		retries = 0
	}
	model := cfg.Model
	if model == "" {
		model = "gemini-2.5-flash"
	}
	return &Gemini{
		client:     client,
		model:      model,
		escalation: cfg.Escalation,
		timeout:    timeout,
		maxRetries: retries,
		gate:       semaphore.NewWeighted(inFlight),
	}, nil
}

// settings resolves the model and temperature for a semantic attempt from
// the escalation table, falling back to the base model.
func (g *Gemini) settings(attempt int) (string, float32) {
	if attempt >= 1 && attempt <= len(g.escalation) {
		step := g.escalation[attempt-1]
		model := step.Model
		if model == "" {
			model = g.model
		}
		return model, float32(step.Temperature)
	}
	return g.model, 0.2
}

// Repair sends one repair request. Blocks on the in-flight gate; transient
// transport failures are retried with backoff, which is independent of the
// repair loop's attempt budget.
func (g *Gemini) Repair(ctx context.Context, req Request) (Response, error) {
	if err := g.gate.Acquire(ctx, 1); err != nil {
		return Response{}, err
	}
	defer g.gate.Release(1)

	model, temp := g.settings(req.Attempt)
	prompt := buildPrompt(req)
	start := time.Now()

	var reply string
	var usage *genai.GenerateContentResponseUsageMetadata
	var lastErr error
	for try := 0; try <= g.maxRetries; try++ {
		if try > 0 {
			backoff := time.Duration(try*try) * time.Second
			logging.Oracle("transient failure, retry %d in %s: %v", try, backoff, lastErr)
			select {
			case <-ctx.Done():
				return Response{}, ctx.Err()
			case <-time.After(backoff):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		resp, err := g.client.Models.GenerateContent(callCtx, model,
			genai.Text(prompt),
			&genai.GenerateContentConfig{Temperature: genai.Ptr(temp)},
		)
		cancel()
		if err != nil {
			lastErr = err
			if transient(err) {
				continue
			}
			return Response{}, fmt.Errorf("oracle call failed: %w", err)
		}
		reply = resp.Text()
		usage = resp.UsageMetadata
		lastErr = nil
		break
	}
	if lastErr != nil {
		return Response{}, fmt.Errorf("oracle call failed after %d retries: %w", g.maxRetries, lastErr)
	}

	text, fenced := extractCode(reply)
	confidence := 0.8
	if !fenced {
		confidence = 0.4
	}
	latency := time.Since(start)
	cost := estimateCost(model, usage)
	logging.Oracle("%s attempt %d: model=%s fenced=%t latency=%s cost=$%.4f",
		req.UnitName, req.Attempt, model, fenced, latency.Round(time.Millisecond), cost)

	return Response{
		ProposedText: text,
		Confidence:   confidence,
		Model:        model,
		Latency:      latency,
		CostUSD:      cost,
	}, nil
}

// modelRates is USD per million tokens, input then output. Unlisted models
// report zero cost rather than a made-up number.
var modelRates = map[string]struct{ in, out float64 }{
	"gemini-2.5-flash":       {0.30, 2.50},
	"gemini-2.5-pro":         {1.25, 10.00},
	"gemini-3-flash-preview": {0.50, 3.00},
}

// estimateCost prices a call from its usage metadata.
func estimateCost(model string, usage *genai.GenerateContentResponseUsageMetadata) float64 {
	if usage == nil {
		return 0
	}
	rate, ok := modelRates[model]
	if !ok {
		return 0
	}
	in := float64(usage.PromptTokenCount)
	out := float64(usage.CandidatesTokenCount)
	return (in*rate.in + out*rate.out) / 1e6
}

// transient reports whether the failure is worth a transport retry.
func transient(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range []string{"429", "500", "502", "503", "unavailable", "overloaded", "rate limit", "internal error", "deadline exceeded"} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
