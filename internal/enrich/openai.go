package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/johnayoung/go-futures-quality/internal/models"
)

const annotationSystemPrompt = `You are a commodity futures data-quality analyst.
For each daily OHLCV record you are given the anomaly rules it triggered and up
to a week of surrounding records for the same symbol. Respond with a JSON
object containing exactly two string fields: "explanation" (one or two
sentences on the most likely cause of the anomaly) and "trend" (one of
"up", "down", "sideways" describing the local price trend).`

// OpenAIProvider annotates flagged records through the OpenAI chat API.
type OpenAIProvider struct {
	client *openai.Client
	model  string
}

// NewOpenAIProvider creates a provider for the given API key and model.
func NewOpenAIProvider(apiKey, model string) *OpenAIProvider {
	return &OpenAIProvider{
		client: openai.NewClient(apiKey),
		model:  model,
	}
}

// Name implements Provider.
func (p *OpenAIProvider) Name() string {
	return "openai"
}

// Annotate implements Provider. Each request becomes one chat completion;
// the first failure aborts the batch so the caller's retry policy governs.
func (p *OpenAIProvider) Annotate(ctx context.Context, reqs []Request) ([]Annotation, error) {
	annotations := make([]Annotation, 0, len(reqs))
	for _, req := range reqs {
		ann, err := p.annotateOne(ctx, req)
		if err != nil {
			return nil, err
		}
		annotations = append(annotations, ann)
	}
	return annotations, nil
}

func (p *OpenAIProvider) annotateOne(ctx context.Context, req Request) (Annotation, error) {
	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: annotationSystemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: buildPrompt(req)},
		},
	})
	if err != nil {
		return Annotation{}, &models.ProviderFailure{Key: req.Key, Err: classify(err)}
	}
	if len(resp.Choices) == 0 {
		return Annotation{}, &models.ProviderFailure{Key: req.Key, Err: errors.New("no response choices")}
	}

	var parsed struct {
		Explanation string `json:"explanation"`
		Trend       string `json:"trend"`
	}
	content := strings.TrimSpace(resp.Choices[0].Message.Content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.Trim(content, "` \n")
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return Annotation{}, &models.ProviderFailure{Key: req.Key, Err: fmt.Errorf("malformed response: %w", err)}
	}

	return Annotation{
		Key:         req.Key,
		Explanation: parsed.Explanation,
		Trend:       parsed.Trend,
	}, nil
}

func buildPrompt(req Request) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Symbol: %s\nDate: %s\nSeverity: %s\nTriggered rules: %s\n",
		req.Key.Symbol, req.Key.Date, req.Severity, strings.Join(req.Rules, ", "))
	if req.Record != nil {
		fmt.Fprintf(&b, "Record: open=%s high=%s low=%s close=%s volume=%s open_interest=%s\n",
			req.Record.Open, req.Record.High, req.Record.Low, req.Record.Close,
			req.Record.Volume, req.Record.OpenInterest)
	} else {
		b.WriteString("Record: no row exists for this date (calendar gap)\n")
	}
	if len(req.Context) > 0 {
		b.WriteString("Surrounding records:\n")
		for _, rec := range req.Context {
			fmt.Fprintf(&b, "  %s close=%s volume=%s\n",
				rec.Date.Format(models.DateLayout), rec.Close, rec.Volume)
		}
	}
	return b.String()
}

// classify maps API errors onto the transient sentinels so the retry policy
// can distinguish rate limits and timeouts from hard failures.
func classify(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", models.ErrProviderTimeout, err)
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests:
			return fmt.Errorf("%w: %v", models.ErrProviderRateLimited, err)
		case http.StatusRequestTimeout, http.StatusGatewayTimeout:
			return fmt.Errorf("%w: %v", models.ErrProviderTimeout, err)
		}
	}
	return err
}
