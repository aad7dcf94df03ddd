package generator

import (
	"context"
	"fmt"

	"ideatorio/internal/domain"
)

// Static produces deterministic placeholder content. It is used when no chat
// endpoint is configured and in tests.
type Static struct{}

func NewStatic() Static {
	return Static{}
}

func (Static) GenerateIdeas(_ context.Context, topic string) ([]domain.Subtopic, error) {
	return []domain.Subtopic{
		{ID: "s1", Title: "What is " + topic},
		{ID: "s2", Title: "History of " + topic},
		{ID: "s3", Title: topic + " in everyday life"},
		{ID: "s4", Title: "Open problems in " + topic},
	}, nil
}

func (Static) GenerateQuestions(_ context.Context, subtopic string) ([]domain.Item, error) {
	return []domain.Item{
		{ID: "q1", Text: fmt.Sprintf("What do you already know about %s?", subtopic)},
		{ID: "q2", Text: fmt.Sprintf("Where have you seen %s outside class?", subtopic)},
		{ID: "q3", Text: fmt.Sprintf("What would you like to learn about %s?", subtopic)},
	}, nil
}

func (Static) GenerateClosedQuestions(_ context.Context, subtopic string) ([]domain.Question, error) {
	return []domain.Question{{
		ID:   "q1",
		Text: fmt.Sprintf("Is %s part of today's class?", subtopic),
		Options: []domain.Option{
			{ID: "o1", Text: "Yes", IsCorrect: true},
			{ID: "o2", Text: "No"},
		},
	}}, nil
}

func (Static) GenerateMultipleCorrectQuestions(_ context.Context, subtopic string) ([]domain.Question, error) {
	return []domain.Question{{
		ID:   "q1",
		Text: fmt.Sprintf("Which statements about %s are true?", subtopic),
		Options: []domain.Option{
			{ID: "o1", Text: fmt.Sprintf("%s is today's subject", subtopic), IsCorrect: true},
			{ID: "o2", Text: fmt.Sprintf("%s can be discussed in class", subtopic), IsCorrect: true},
			{ID: "o3", Text: fmt.Sprintf("%s cannot be learned", subtopic)},
		},
	}}, nil
}
