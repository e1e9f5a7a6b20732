package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"google.golang.org/genai"
)

const geminiTimeout = 15 * time.Second

// GeminiVerifier calls the Gemini API to judge uncertain pairs in one
// request. The call is bounded by geminiTimeout so a slow model never
// blocks an import pipeline.
type GeminiVerifier struct {
	model  string
	apiKey string
}

func NewGeminiVerifier(apiKey, model string) *GeminiVerifier {
	if model == "" {
		model = "gemini-2.0-flash"
	}
	return &GeminiVerifier{apiKey: strings.TrimSpace(apiKey), model: model}
}

func (g *GeminiVerifier) VerifyBatch(ctx context.Context, pairs []Pair) ([]PairVerdict, error) {
	if g.apiKey == "" {
		return nil, ErrUnavailable
	}
	if len(pairs) == 0 {
		return nil, nil
	}
	if len(pairs) > MaxBatchPairs {
		return nil, fmt.Errorf("llm: batch of %d exceeds cap of %d", len(pairs), MaxBatchPairs)
	}

	ctx, cancel := context.WithTimeout(ctx, geminiTimeout)
	defer cancel()

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      g.apiKey,
		HTTPOptions: genai.HTTPOptions{APIVersion: "v1"},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: create genai client: %w", err)
	}

	payload, err := json.Marshal(pairs)
	if err != nil {
		return nil, fmt.Errorf("llm: marshal pairs: %w", err)
	}

	prompt := "You compare bank transaction descriptions. For each pair below, decide whether " +
		"\"newTransaction\" and \"candidate\" denote the SAME merchant. Bank descriptors vary in " +
		"processor prefixes (SQ *, TST*, PAYPAL *), store numbers, and locations; ignore those.\n\n" +
		"Return ONLY a raw JSON array, one object per pair, in input order:\n" +
		"[{\"index\": 0, \"isSameMerchant\": true, \"confidence\": \"high\"}, ...]\n" +
		"confidence is one of \"high\", \"medium\", \"low\".\n" +
		"Do NOT wrap the response in code fences.\n\n" +
		"Pairs:\n" + string(payload)

	contents := []*genai.Content{
		{
			Role:  "user",
			Parts: []*genai.Part{{Text: prompt}},
		},
	}

	resp, err := client.Models.GenerateContent(ctx, g.model, contents, nil)
	if err != nil {
		return nil, fmt.Errorf("llm: generate content: %w", err)
	}
	raw := resp.Text()
	if raw == "" {
		return nil, fmt.Errorf("llm: empty response from model")
	}

	var verdicts []PairVerdict
	if err := json.Unmarshal([]byte(cleanModelJSON(raw)), &verdicts); err != nil {
		return nil, fmt.Errorf("llm: parse verdicts: %w", err)
	}
	out := make([]PairVerdict, 0, len(verdicts))
	for _, v := range verdicts {
		if v.Index < 0 || v.Index >= len(pairs) {
			continue
		}
		v.Confidence = strings.ToLower(strings.TrimSpace(v.Confidence))
		out = append(out, v)
	}
	return out, nil
}

// cleanModelJSON strips markdown fences the model may emit despite
// instructions.
func cleanModelJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx != -1 {
			s = s[idx+1:]
		}
		s = strings.TrimSpace(s)
	}
	if idx := strings.LastIndex(s, "```"); idx != -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
