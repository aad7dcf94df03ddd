package app_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"ideatorio/internal/app"
	"ideatorio/internal/domain"
	"ideatorio/internal/infra/generator"
	"ideatorio/internal/infra/memory"
)

func TestContentServiceCachesByTopic(t *testing.T) {
	ctx := context.Background()
	gen := &countingGenerator{ContentGenerator: generator.NewStatic()}
	service := app.NewContentService(gen, memory.NewContentCache(time.Minute), nil)

	first, err := service.Ideas(ctx, "Renewable  energy")
	if err != nil {
		t.Fatalf("ideas: %v", err)
	}
	second, err := service.Ideas(ctx, "renewable energy")
	if err != nil {
		t.Fatalf("ideas again: %v", err)
	}
	if gen.calls != 1 {
		t.Fatalf("expected one generator call, got %d", gen.calls)
	}
	if len(first) == 0 || len(first) != len(second) {
		t.Fatalf("expected cached subtopics, got %+v and %+v", first, second)
	}
}

func TestContentServiceValidatesGeneratedQuizzes(t *testing.T) {
	ctx := context.Background()
	service := app.NewContentService(brokenGenerator{}, memory.NewContentCache(time.Minute), nil)

	if _, err := service.ClosedQuestions(ctx, "plants"); !errors.Is(err, domain.ErrGeneration) {
		t.Fatalf("expected generation error for two correct options, got %v", err)
	}
	if _, err := service.Ideas(ctx, " "); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected validation error for blank topic, got %v", err)
	}

	static := app.NewContentService(generator.NewStatic(), memory.NewContentCache(time.Minute), nil)
	questions, err := static.MultipleCorrectQuestions(ctx, "plants")
	if err != nil {
		t.Fatalf("multiple: %v", err)
	}
	if len(questions) == 0 || len(questions[0].Options) < 2 {
		t.Fatalf("unexpected questions %+v", questions)
	}
	items, err := static.Questions(ctx, "plants")
	if err != nil || len(items) == 0 {
		t.Fatalf("questions: %+v %v", items, err)
	}
}

type countingGenerator struct {
	app.ContentGenerator
	calls int
}

func (g *countingGenerator) GenerateIdeas(ctx context.Context, topic string) ([]domain.Subtopic, error) {
	g.calls++
	return g.ContentGenerator.GenerateIdeas(ctx, topic)
}

type brokenGenerator struct {
	generator.Static
}

func (brokenGenerator) GenerateClosedQuestions(context.Context, string) ([]domain.Question, error) {
	return []domain.Question{{
		ID:   "q1",
		Text: "Pick one",
		Options: []domain.Option{
			{ID: "o1", Text: "A", IsCorrect: true},
			{ID: "o2", Text: "B", IsCorrect: true},
		},
	}}, nil
}
