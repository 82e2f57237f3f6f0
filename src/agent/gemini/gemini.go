package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"finance-relay/src/logger"
	"finance-relay/src/models"
)

// -----------------------------------------------------------------------------
// Gemini Agent
// -----------------------------------------------------------------------------

// GeminiAgent implements the IAgent collaborator against the Google
// Generative Language API. The reply is requested in one call and
// re-emitted as word-level token events with no artificial delay.
type GeminiAgent struct {
	Config     models.MAgentConfig
	Logger     *logger.Logger
	HttpClient *http.Client

	apiKey   string
	endpoint string
}

// -----------------------------------------------------------------------------

func NewGeminiAgent(cfg models.MAgentConfig, log *logger.Logger) *GeminiAgent {
	// Default public endpoint; override via GEMINI_API_ENDPOINT for proxies
	endpoint := "https://generativelanguage.googleapis.com/v1beta"
	if ep := os.Getenv("GEMINI_API_ENDPOINT"); ep != "" {
		endpoint = ep
	}

	return &GeminiAgent{
		Config:     cfg,
		Logger:     log,
		HttpClient: &http.Client{Timeout: 60 * time.Second},
		apiKey:     os.Getenv(cfg.APIKeyEnv),
		endpoint:   endpoint,
	}
}

// -----------------------------------------------------------------------------

const systemPrompt = `You are %s, a highly capable financial assistant. Your purpose is to provide insightful and concise financial analysis to help users make informed decisions.

Today's date is %s.

When a user asks a finance-related question, follow these steps:
1. Identify the relevant financial data needed to answer the query
2. Analyze the data and extract key insights
3. Provide a concise, helpful response

Remember:
- Pay attention to the conversation history and remember details the user has shared (like their name).
- Maintain a consistent, helpful tone throughout the conversation.
- Avoid regurgitating raw data; provide a thoughtful interpretation and summary.`

// -----------------------------------------------------------------------------

type generateRequest struct {
	Contents []struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"contents"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// -----------------------------------------------------------------------------

// StreamTurn asks the model for a reply to message in the context of
// history and streams it as token events. The channel closes at
// end-of-turn or when ctx is cancelled.
func (a *GeminiAgent) StreamTurn(ctx context.Context, history []models.MTurn, message models.MTurn) (<-chan models.MAgentEvent, error) {
	if a.apiKey == "" {
		return nil, fmt.Errorf("%s not set", a.Config.APIKeyEnv)
	}

	text, err := a.generate(ctx, a.buildPrompt(history, message))
	if err != nil {
		return nil, err
	}

	out := make(chan models.MAgentEvent)
	go func() {
		defer close(out)
		for _, token := range tokenize(text) {
			select {
			case out <- models.MAgentEvent{Kind: models.AgentToken, Token: token}:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// -----------------------------------------------------------------------------

func (a *GeminiAgent) generate(ctx context.Context, prompt string) (string, error) {
	var req generateRequest
	req.Contents = make([]struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	}, 1)
	req.Contents[0].Parts = make([]struct {
		Text string `json:"text"`
	}, 1)
	req.Contents[0].Parts[0].Text = prompt

	bb, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", a.endpoint, a.Config.Model, a.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(bb))
	if err != nil {
		return "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := a.HttpClient.Do(httpReq)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}

	if resp.StatusCode >= 300 {
		return "", fmt.Errorf("gemini http %d: %s", resp.StatusCode, string(body))
	}

	var genResp generateResponse
	if err := json.Unmarshal(body, &genResp); err != nil {
		return "", fmt.Errorf("gemini response parse failed: %w", err)
	}
	if genResp.Error != nil {
		return "", fmt.Errorf("gemini api error %d: %s", genResp.Error.Code, genResp.Error.Message)
	}
	if len(genResp.Candidates) == 0 {
		return "", errors.New("gemini returned no candidates")
	}

	var sb strings.Builder
	for _, part := range genResp.Candidates[0].Content.Parts {
		sb.WriteString(part.Text)
	}
	if sb.Len() == 0 {
		return "", errors.New("gemini returned an empty reply")
	}
	return sb.String(), nil
}

// -----------------------------------------------------------------------------

// buildPrompt formats the system instructions, prior conversation and
// the current message the way the model expects a single-shot prompt.
func (a *GeminiAgent) buildPrompt(history []models.MTurn, message models.MTurn) string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintf(systemPrompt, a.Config.DisplayName, time.Now().Format("2006-01-02")))
	sb.WriteString("\n\n")

	if len(history) > 0 {
		sb.WriteString("Previous conversation:\n")
		for _, turn := range history {
			label := turn.Username
			if turn.Role != "user" || label == "" {
				label = roleLabel(turn.Role, a.Config.DisplayName)
			}
			sb.WriteString(fmt.Sprintf("%s: %s\n\n", label, turn.Content))
		}
	}

	sb.WriteString(fmt.Sprintf("User: %s\nAssistant:", message.Content))
	return sb.String()
}

// -----------------------------------------------------------------------------

func roleLabel(role, assistantName string) string {
	if role == "assistant" {
		return assistantName
	}
	return "User"
}

// -----------------------------------------------------------------------------

// tokenize splits text into whitespace-preserving word chunks, so that
// concatenating the tokens reproduces the reply exactly.
func tokenize(text string) []string {
	return strings.SplitAfter(text, " ")
}
