package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DynamicType identifies the interactive content shown in a session.
type DynamicType int

const (
	DynamicNone DynamicType = iota
	DynamicRanking
	DynamicWordCloud
	DynamicCloseQuestion
	DynamicMultipleChoice
)

// DynamicTypes lists every dynamic type, None included.
var DynamicTypes = []DynamicType{
	DynamicNone,
	DynamicRanking,
	DynamicWordCloud,
	DynamicCloseQuestion,
	DynamicMultipleChoice,
}

// String returns the canonical kebab-case wire form.
func (t DynamicType) String() string {
	switch t {
	case DynamicNone:
		return "none"
	case DynamicRanking:
		return "ranking"
	case DynamicWordCloud:
		return "wordcloud"
	case DynamicCloseQuestion:
		return "close-question"
	case DynamicMultipleChoice:
		return "multiple-choice"
	default:
		return "dynamic(" + strconv.Itoa(int(t)) + ")"
	}
}

// ParseDynamicType accepts the kebab-case wire form as well as capitalised
// content tags such as "CloseQuestion" or "WordCloud".
func ParseDynamicType(raw string) (DynamicType, error) {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.NewReplacer("-", "", "_", "", " ", "").Replace(key)
	switch key {
	case "", "none", "idle":
		return DynamicNone, nil
	case "ranking":
		return DynamicRanking, nil
	case "wordcloud":
		return DynamicWordCloud, nil
	case "closequestion", "closedquestion", "singlechoice":
		return DynamicCloseQuestion, nil
	case "multiplechoice", "multiplecorrect":
		return DynamicMultipleChoice, nil
	}
	return DynamicNone, fmt.Errorf("%w: unknown dynamic type %q", ErrValidation, raw)
}

func (t DynamicType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *DynamicType) UnmarshalText(text []byte) error {
	parsed, err := ParseDynamicType(string(text))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// Content is the payload of an active dynamic. The set of implementations is
// closed: Ranking, WordCloud, CloseQuestion and MultipleChoice.
type Content interface {
	Type() DynamicType
	// Redacted returns a copy safe to send to students (no isCorrect flags).
	Redacted() Content
	sealed()
}

type normalizer interface {
	Content
	normalize() error
}

// Item is a rankable idea or a word cloud entry.
type Item struct {
	ID        string `json:"id"`
	Text      string `json:"text" validate:"required,max=500"`
	VoteCount int    `json:"voteCount"`
}

// Option is one answer choice of a question.
type Option struct {
	ID        string `json:"id"`
	Text      string `json:"text" validate:"required,max=500"`
	IsCorrect bool   `json:"isCorrect,omitempty"`
}

// Question is a quiz question with its options.
type Question struct {
	ID      string   `json:"id"`
	Text    string   `json:"text" validate:"required,max=1000"`
	Options []Option `json:"options" validate:"min=2,dive"`
}

type Ranking struct {
	Items []Item `json:"items" validate:"dive"`
}

type WordCloud struct {
	Words []Item `json:"words" validate:"dive"`
}

type CloseQuestion struct {
	Questions []Question `json:"questions" validate:"dive"`
}

type MultipleChoice struct {
	Questions []Question `json:"questions" validate:"dive"`
}

func (Ranking) sealed()        {}
func (WordCloud) sealed()      {}
func (CloseQuestion) sealed()  {}
func (MultipleChoice) sealed() {}

func (Ranking) Type() DynamicType        { return DynamicRanking }
func (WordCloud) Type() DynamicType      { return DynamicWordCloud }
func (CloseQuestion) Type() DynamicType  { return DynamicCloseQuestion }
func (MultipleChoice) Type() DynamicType { return DynamicMultipleChoice }

func (r Ranking) Redacted() Content {
	return Ranking{Items: append([]Item(nil), r.Items...)}
}

func (w WordCloud) Redacted() Content {
	return WordCloud{Words: append([]Item(nil), w.Words...)}
}

func (c CloseQuestion) Redacted() Content {
	return CloseQuestion{Questions: redactQuestions(c.Questions)}
}

func (m MultipleChoice) Redacted() Content {
	return MultipleChoice{Questions: redactQuestions(m.Questions)}
}

func redactQuestions(in []Question) []Question {
	out := make([]Question, len(in))
	for i, q := range in {
		opts := make([]Option, len(q.Options))
		for j, o := range q.Options {
			opts[j] = Option{ID: o.ID, Text: o.Text}
		}
		out[i] = Question{ID: q.ID, Text: q.Text, Options: opts}
	}
	return out
}

var validate = validator.New()

func (r *Ranking) normalize() error {
	return normalizeItems(r.Items, "i")
}

func (w *WordCloud) normalize() error {
	return normalizeItems(w.Words, "w")
}

func (c *CloseQuestion) normalize() error {
	if err := normalizeQuestions(c.Questions); err != nil {
		return err
	}
	for _, q := range c.Questions {
		if correctCount(q) != 1 {
			return fmt.Errorf("%w: question %s must have exactly one correct option", ErrValidation, q.ID)
		}
	}
	return nil
}

func (m *MultipleChoice) normalize() error {
	if err := normalizeQuestions(m.Questions); err != nil {
		return err
	}
	for _, q := range m.Questions {
		if correctCount(q) == 0 {
			return fmt.Errorf("%w: question %s has no correct option", ErrValidation, q.ID)
		}
	}
	return nil
}

func normalizeItems(items []Item, prefix string) error {
	seen := make(map[string]struct{}, len(items))
	for i := range items {
		items[i].Text = strings.TrimSpace(items[i].Text)
		items[i].VoteCount = 0
		if items[i].ID == "" {
			items[i].ID = prefix + strconv.Itoa(i+1)
		}
		if _, dup := seen[items[i].ID]; dup {
			return fmt.Errorf("%w: duplicate id %q", ErrValidation, items[i].ID)
		}
		seen[items[i].ID] = struct{}{}
	}
	return nil
}

func normalizeQuestions(questions []Question) error {
	seen := make(map[string]struct{}, len(questions))
	for i := range questions {
		q := &questions[i]
		if q.ID == "" {
			q.ID = "q" + strconv.Itoa(i+1)
		}
		if _, dup := seen[q.ID]; dup {
			return fmt.Errorf("%w: duplicate question id %q", ErrValidation, q.ID)
		}
		seen[q.ID] = struct{}{}

		opts := make(map[string]struct{}, len(q.Options))
		for j := range q.Options {
			if q.Options[j].ID == "" {
				q.Options[j].ID = "o" + strconv.Itoa(j+1)
			}
			if _, dup := opts[q.Options[j].ID]; dup {
				return fmt.Errorf("%w: duplicate option id %q in question %s", ErrValidation, q.Options[j].ID, q.ID)
			}
			opts[q.Options[j].ID] = struct{}{}
		}
	}
	return nil
}

func correctCount(q Question) int {
	n := 0
	for _, o := range q.Options {
		if o.IsCorrect {
			n++
		}
	}
	return n
}

// contentEnvelope accepts the payload shapes the host clients send: a named
// list ("items", "words", "questions", "ideas") or a bare array.
type contentEnvelope struct {
	Items     json.RawMessage `json:"items"`
	Words     json.RawMessage `json:"words"`
	Ideas     json.RawMessage `json:"ideas"`
	Questions json.RawMessage `json:"questions"`
}

// DecodeContent parses and validates the payload for a dynamic type.
// DynamicNone and an empty payload for a list dynamic are both allowed.
func DecodeContent(t DynamicType, raw json.RawMessage) (Content, error) {
	if t == DynamicNone {
		return nil, nil
	}
	list, err := pickList(t, raw)
	if err != nil {
		return nil, err
	}

	var content normalizer
	switch t {
	case DynamicRanking:
		c := &Ranking{Items: []Item{}}
		err = decodeList(list, &c.Items)
		content = c
	case DynamicWordCloud:
		c := &WordCloud{Words: []Item{}}
		err = decodeList(list, &c.Words)
		content = c
	case DynamicCloseQuestion:
		c := &CloseQuestion{}
		err = decodeList(list, &c.Questions)
		content = c
	case DynamicMultipleChoice:
		c := &MultipleChoice{}
		err = decodeList(list, &c.Questions)
		content = c
	default:
		return nil, fmt.Errorf("%w: unknown dynamic type %d", ErrValidation, int(t))
	}
	if err != nil {
		return nil, err
	}
	if err := content.normalize(); err != nil {
		return nil, err
	}
	if err := validate.Struct(content); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return deref(content), nil
}

// NewContent validates an already-typed content value.
func NewContent(c Content) (Content, error) {
	if c == nil {
		return nil, nil
	}
	raw, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return DecodeContent(c.Type(), raw)
}

func pickList(t DynamicType, raw json.RawMessage) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}
	if trimmed[0] == '[' {
		return trimmed, nil
	}
	var env contentEnvelope
	if err := json.Unmarshal(trimmed, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	var candidates []json.RawMessage
	switch t {
	case DynamicRanking:
		candidates = []json.RawMessage{env.Items, env.Ideas, env.Questions}
	case DynamicWordCloud:
		candidates = []json.RawMessage{env.Words, env.Items, env.Ideas}
	default:
		candidates = []json.RawMessage{env.Questions}
	}
	for _, c := range candidates {
		if len(c) > 0 && !bytes.Equal(c, []byte("null")) {
			return c, nil
		}
	}
	return nil, nil
}

func decodeList(list json.RawMessage, dst any) error {
	if len(list) == 0 {
		return nil
	}
	if err := json.Unmarshal(list, dst); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}
	return nil
}

func deref(c Content) Content {
	switch v := c.(type) {
	case *Ranking:
		return *v
	case *WordCloud:
		return *v
	case *CloseQuestion:
		return *v
	case *MultipleChoice:
		return *v
	}
	return c
}

// Grade reports whether selected is a correct answer to q. With single set,
// exactly one option must be selected; otherwise the selected set must equal
// the set of correct options.
func (q Question) Grade(selected []string, single bool) (bool, error) {
	known := make(map[string]bool, len(q.Options))
	for _, o := range q.Options {
		known[o.ID] = o.IsCorrect
	}
	picked := make(map[string]struct{}, len(selected))
	for _, id := range selected {
		if _, ok := known[id]; !ok {
			return false, fmt.Errorf("%w: unknown option %q for question %s", ErrValidation, id, q.ID)
		}
		picked[id] = struct{}{}
	}
	if single {
		if len(picked) != 1 {
			return false, fmt.Errorf("%w: question %s takes exactly one option", ErrValidation, q.ID)
		}
		for id := range picked {
			return known[id], nil
		}
	}
	if len(picked) != correctCount(q) {
		return false, nil
	}
	for id := range picked {
		if !known[id] {
			return false, nil
		}
	}
	return true, nil
}

// NormalizeWord is the key used to match free-text words.
func NormalizeWord(text string) string {
	return strings.ToLower(strings.Join(strings.Fields(text), " "))
}
