package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ideatorio/internal/domain"
)

// ChatGenerator asks an OpenAI-compatible chat completions endpoint for slide
// content and parses the JSON answer.
type ChatGenerator struct {
	httpClient *http.Client
	apiKey     string
	apiURL     string
	model      string
	logger     *zap.Logger
}

func NewChatGenerator(apiURL, apiKey, model string, timeout time.Duration, logger *zap.Logger) *ChatGenerator {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ChatGenerator{
		httpClient: &http.Client{Timeout: timeout},
		apiKey:     apiKey,
		apiURL:     strings.TrimRight(apiURL, "/"),
		model:      model,
		logger:     logger,
	}
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

const (
	ideasPrompt = `You help a teacher plan a class. Split the topic into 4 to 6 subtopics.
Respond with ONLY valid JSON (no markdown, no code fences) in this format:
{"subtopics":[{"id":"s1","title":"Subtopic title"}]}
Write in the same language as the topic.`

	questionsPrompt = `You help a teacher run a class discussion. Write 4 to 6 short open questions about the subtopic.
Respond with ONLY valid JSON (no markdown, no code fences) in this format:
{"questions":[{"id":"q1","text":"Question?"}]}
Write in the same language as the subtopic.`

	closedPrompt = `You write quiz questions. Write 3 to 5 questions about the subtopic, each with 3 or 4 options.
Exactly one option per question must have "isCorrect": true.
Respond with ONLY valid JSON (no markdown, no code fences) in this format:
{"questions":[{"id":"q1","text":"Question?","options":[{"id":"o1","text":"Option","isCorrect":true}]}]}
Write in the same language as the subtopic.`

	multiplePrompt = `You write quiz questions. Write 3 to 5 questions about the subtopic, each with 4 options.
One or more options per question have "isCorrect": true.
Respond with ONLY valid JSON (no markdown, no code fences) in this format:
{"questions":[{"id":"q1","text":"Question?","options":[{"id":"o1","text":"Option","isCorrect":true}]}]}
Write in the same language as the subtopic.`
)

func (g *ChatGenerator) GenerateIdeas(ctx context.Context, topic string) ([]domain.Subtopic, error) {
	var out struct {
		Subtopics []domain.Subtopic `json:"subtopics"`
	}
	if err := g.complete(ctx, ideasPrompt, topic, &out); err != nil {
		return nil, err
	}
	for i := range out.Subtopics {
		if out.Subtopics[i].ID == "" {
			out.Subtopics[i].ID = uuid.NewString()
		}
	}
	return out.Subtopics, nil
}

func (g *ChatGenerator) GenerateQuestions(ctx context.Context, subtopic string) ([]domain.Item, error) {
	var out struct {
		Questions []domain.Item `json:"questions"`
	}
	if err := g.complete(ctx, questionsPrompt, subtopic, &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

func (g *ChatGenerator) GenerateClosedQuestions(ctx context.Context, subtopic string) ([]domain.Question, error) {
	var out struct {
		Questions []domain.Question `json:"questions"`
	}
	if err := g.complete(ctx, closedPrompt, subtopic, &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

func (g *ChatGenerator) GenerateMultipleCorrectQuestions(ctx context.Context, subtopic string) ([]domain.Question, error) {
	var out struct {
		Questions []domain.Question `json:"questions"`
	}
	if err := g.complete(ctx, multiplePrompt, subtopic, &out); err != nil {
		return nil, err
	}
	return out.Questions, nil
}

func (g *ChatGenerator) complete(ctx context.Context, system, prompt string, dst any) error {
	reqBody := chatRequest{
		Model: g.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: prompt},
		},
	}
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.apiURL+"/chat/completions", bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: request: %v", domain.ErrGeneration, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrGeneration, err)
	}
	g.logger.Debug("chat completion",
		zap.Int("status", resp.StatusCode),
		zap.Duration("latency", time.Since(start)),
	)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: status %d: %s", domain.ErrGeneration, resp.StatusCode, truncate(string(body), 200))
	}

	var chatResp chatResponse
	if err := json.Unmarshal(body, &chatResp); err != nil {
		return fmt.Errorf("%w: parse response: %v", domain.ErrGeneration, err)
	}
	if chatResp.Error != nil {
		return fmt.Errorf("%w: %s", domain.ErrGeneration, chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return fmt.Errorf("%w: empty response", domain.ErrGeneration)
	}

	content := cleanJSONContent(chatResp.Choices[0].Message.Content)
	if err := json.Unmarshal([]byte(content), dst); err != nil {
		return fmt.Errorf("%w: invalid JSON from model: %v", domain.ErrGeneration, err)
	}
	return nil
}

func cleanJSONContent(content string) string {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")
	return strings.TrimSpace(content)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
