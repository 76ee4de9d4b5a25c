package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"github.com/rs/zerolog"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/googleai"

	"github.com/replyloop/internal/errs"
	"github.com/replyloop/internal/retry"
)

// LangchainClassifier classifies and drafts via an LLM behind the langchaingo
// abstraction. Model output is JSON; malformed output is run through the
// repair library before being rejected.
type LangchainClassifier struct {
	llm         llms.Model
	modelName   string
	retryConfig retry.RetryConfig
	logger      zerolog.Logger
}

// NewLangchainClassifier creates a classifier backed by the Google AI provider.
func NewLangchainClassifier(ctx context.Context, apiKey, modelName string, logger zerolog.Logger) (*LangchainClassifier, error) {
	llm, err := googleai.New(ctx,
		googleai.WithAPIKey(apiKey),
		googleai.WithDefaultModel(modelName),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create langchain model: %w", err)
	}

	return &LangchainClassifier{
		llm:         llm,
		modelName:   modelName,
		retryConfig: retry.ClassifierRetryConfig(),
		logger:      logger,
	}, nil
}

// NewLangchainClassifierWithModel wraps an existing model. Used in tests.
func NewLangchainClassifierWithModel(llm llms.Model, logger zerolog.Logger) *LangchainClassifier {
	return &LangchainClassifier{
		llm:         llm,
		retryConfig: retry.ClassifierRetryConfig(),
		logger:      logger,
	}
}

// Classify prompts the model with the thread history and policy and parses
// its JSON decision. Transient model failures are retried with backoff here;
// the queue applies its own coarser retry on top.
func (lc *LangchainClassifier) Classify(ctx context.Context, req Request) (Decision, error) {
	prompt := buildPrompt(req)

	var raw string
	result := retry.RetryWithBackoff(ctx, lc.retryConfig, lc.logger, func() error {
		out, err := llms.GenerateFromSinglePrompt(ctx, lc.llm, prompt)
		if err != nil {
			return err
		}
		raw = out
		return nil
	})
	if !result.Success {
		return Decision{}, &errs.TransientDependencyError{Dependency: "classifier", Err: result.LastError}
	}

	decision, err := parseDecision(raw)
	if err != nil {
		lc.logger.Warn().Err(err).Msg("classifier returned unparseable decision, treating as low confidence")
		return Decision{Intent: IntentLowConfidence}, nil
	}

	if len(decision.Drafts) > MaxDrafts {
		decision.Drafts = decision.Drafts[:MaxDrafts]
	}
	return decision, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder

	b.WriteString("You are a sales assistant drafting replies to an inbound prospect message.\n")
	fmt.Fprintf(&b, "Tone: %s. Length: %s. Format: %s. Objection posture: %s.\n",
		req.Policy.ReplyStyle.Tone, req.Policy.ReplyStyle.Length,
		req.Policy.ReplyStyle.Format, req.Policy.ReplyStyle.ObjectionPosture)

	if req.Policy.Assets.DemoVideoURL != "" {
		fmt.Fprintf(&b, "Demo video: %s\n", req.Policy.Assets.DemoVideoURL)
	}
	if req.Policy.Assets.PricingURL != "" {
		fmt.Fprintf(&b, "Pricing page: %s\n", req.Policy.Assets.PricingURL)
	}
	for _, offer := range req.Policy.Offers {
		fmt.Fprintf(&b, "Offer: %s (%s) %s\n", offer.Name, offer.SKU, offer.Price)
	}

	b.WriteString("\nConversation so far (oldest first):\n")
	for _, m := range req.History {
		fmt.Fprintf(&b, "[%s] %s\n", m.Direction, m.Body)
	}
	fmt.Fprintf(&b, "\nLatest inbound message:\n%s\n", req.Latest.Body)

	b.WriteString(`
Respond with JSON only, no markdown fences:
{"intent": "reply" | "schedule" | "low_confidence", "scheduling_intent": bool, "drafts": [{"subject": string?, "body": string}]}
Produce at most 3 drafts. If the prospect wants to book time, set intent "schedule".
If you are unsure or the message is hostile or an opt-out, set intent "low_confidence" and produce no drafts.`)

	return b.String()
}

func parseDecision(raw string) (Decision, error) {
	cleaned := stripFences(raw)

	var decision Decision
	if err := json.Unmarshal([]byte(cleaned), &decision); err != nil {
		repaired, repairErr := jsonrepair.JSONRepair(cleaned)
		if repairErr != nil {
			return Decision{}, fmt.Errorf("failed to parse decision: %w", err)
		}
		if err := json.Unmarshal([]byte(repaired), &decision); err != nil {
			return Decision{}, fmt.Errorf("failed to parse repaired decision: %w", err)
		}
	}

	switch decision.Intent {
	case IntentReply, IntentSchedule, IntentLowConfidence:
	default:
		return Decision{}, fmt.Errorf("unknown intent %q", decision.Intent)
	}
	return decision, nil
}

// stripFences removes a markdown code fence if the model wrapped its JSON.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	return strings.TrimSpace(s)
}
