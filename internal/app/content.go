package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"ideatorio/internal/domain"
)

// ContentGenerator produces slide content for a topic (LLM-backed, static, etc).
type ContentGenerator interface {
	GenerateIdeas(ctx context.Context, topic string) ([]domain.Subtopic, error)
	GenerateQuestions(ctx context.Context, subtopic string) ([]domain.Item, error)
	GenerateClosedQuestions(ctx context.Context, subtopic string) ([]domain.Question, error)
	GenerateMultipleCorrectQuestions(ctx context.Context, subtopic string) ([]domain.Question, error)
}

// ContentCache memoizes encoded generator output by key.
type ContentCache interface {
	GetOrLoad(ctx context.Context, key string, load func(ctx context.Context) ([]byte, error)) ([]byte, error)
}

const maxTopicLength = 200

// ContentService fronts a ContentGenerator with validation and caching.
type ContentService struct {
	generator ContentGenerator
	cache     ContentCache
	logger    *zap.Logger
}

func NewContentService(generator ContentGenerator, cache ContentCache, logger *zap.Logger) *ContentService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ContentService{generator: generator, cache: cache, logger: logger}
}

// Ideas returns subtopics for topic.
func (s *ContentService) Ideas(ctx context.Context, topic string) ([]domain.Subtopic, error) {
	var out []domain.Subtopic
	err := s.load(ctx, "ideas", topic, &out, func(ctx context.Context, topic string) (any, error) {
		subtopics, err := s.generator.GenerateIdeas(ctx, topic)
		if err != nil {
			return nil, err
		}
		return cleanSubtopics(subtopics)
	})
	return out, err
}

// Questions returns open questions for subtopic, shaped as rankable items.
func (s *ContentService) Questions(ctx context.Context, subtopic string) ([]domain.Item, error) {
	var out []domain.Item
	err := s.load(ctx, "questions", subtopic, &out, func(ctx context.Context, subtopic string) (any, error) {
		items, err := s.generator.GenerateQuestions(ctx, subtopic)
		if err != nil {
			return nil, err
		}
		content, err := domain.NewContent(domain.Ranking{Items: items})
		if err != nil {
			return nil, err
		}
		return content.(domain.Ranking).Items, nil
	})
	return out, err
}

// ClosedQuestions returns single-answer questions for subtopic.
func (s *ContentService) ClosedQuestions(ctx context.Context, subtopic string) ([]domain.Question, error) {
	var out []domain.Question
	err := s.load(ctx, "closed", subtopic, &out, func(ctx context.Context, subtopic string) (any, error) {
		questions, err := s.generator.GenerateClosedQuestions(ctx, subtopic)
		if err != nil {
			return nil, err
		}
		content, err := domain.NewContent(domain.CloseQuestion{Questions: questions})
		if err != nil {
			return nil, err
		}
		return content.(domain.CloseQuestion).Questions, nil
	})
	return out, err
}

// MultipleCorrectQuestions returns questions with one or more correct options.
func (s *ContentService) MultipleCorrectQuestions(ctx context.Context, subtopic string) ([]domain.Question, error) {
	var out []domain.Question
	err := s.load(ctx, "multiple", subtopic, &out, func(ctx context.Context, subtopic string) (any, error) {
		questions, err := s.generator.GenerateMultipleCorrectQuestions(ctx, subtopic)
		if err != nil {
			return nil, err
		}
		content, err := domain.NewContent(domain.MultipleChoice{Questions: questions})
		if err != nil {
			return nil, err
		}
		return content.(domain.MultipleChoice).Questions, nil
	})
	return out, err
}

func (s *ContentService) load(ctx context.Context, kind, topic string, dst any, generate func(ctx context.Context, topic string) (any, error)) error {
	topic = strings.Join(strings.Fields(topic), " ")
	if topic == "" {
		return fmt.Errorf("%w: topic is required", domain.ErrValidation)
	}
	if len([]rune(topic)) > maxTopicLength {
		return fmt.Errorf("%w: topic longer than %d characters", domain.ErrValidation, maxTopicLength)
	}

	key := kind + ":" + strings.ToLower(topic)
	raw, err := s.cache.GetOrLoad(ctx, key, func(ctx context.Context) ([]byte, error) {
		v, err := generate(ctx, topic)
		if err != nil {
			s.logger.Warn("content generation failed", zap.String("kind", kind), zap.Error(err))
			if errors.Is(err, domain.ErrValidation) {
				return nil, fmt.Errorf("%w: generator returned unusable content: %v", domain.ErrGeneration, err)
			}
			if errors.Is(err, domain.ErrGeneration) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %v", domain.ErrGeneration, err)
		}
		return json.Marshal(v)
	})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode cached %s: %w", kind, err)
	}
	return nil
}

func cleanSubtopics(in []domain.Subtopic) ([]domain.Subtopic, error) {
	out := make([]domain.Subtopic, 0, len(in))
	for i, st := range in {
		st.Title = strings.TrimSpace(st.Title)
		if st.Title == "" {
			continue
		}
		if st.ID == "" {
			st.ID = fmt.Sprintf("s%d", i+1)
		}
		out = append(out, st)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: no subtopics", domain.ErrValidation)
	}
	return out, nil
}
