package app

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"ideatorio/internal/domain"
)

// tally accumulates responses for one kind of dynamic.
type tally interface {
	apply(p *domain.Participant, sub domain.Submission) (score int, feedback map[string]bool, err error)
	items() []domain.ItemCount
	scores() []domain.ScoreEntry
}

// collector holds the responses for the current dynamic generation of one
// session. It is owned by the session task loop.
type collector struct {
	pin        string
	now        func() time.Time
	generation uint64
	kind       domain.DynamicType
	tally      tally
	updatedAt  time.Time
}

func newCollector(pin string, now func() time.Time) *collector {
	return &collector{pin: pin, now: now, updatedAt: now()}
}

// reset discards every response and starts collecting for content at generation.
func (c *collector) reset(generation uint64, content domain.Content) {
	c.generation = generation
	c.kind = domain.DynamicNone
	c.tally = nil
	c.updatedAt = c.now()
	if content == nil {
		return
	}
	c.kind = content.Type()
	c.tally = newTally(content)
}

func (c *collector) submit(p *domain.Participant, generation uint64, sub domain.Submission) (domain.SubmitResult, error) {
	if generation != c.generation {
		return domain.SubmitResult{}, fmt.Errorf("%w: got generation %d, current is %d", domain.ErrStaleDynamic, generation, c.generation)
	}
	if c.tally == nil {
		return domain.SubmitResult{}, fmt.Errorf("%w: no active dynamic", domain.ErrValidation)
	}
	score, feedback, err := c.tally.apply(p, sub)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	c.updatedAt = c.now()
	return domain.SubmitResult{
		Aggregate: c.aggregate(),
		Score:     score,
		Feedback:  feedback,
	}, nil
}

func (c *collector) aggregate() domain.Aggregate {
	agg := domain.Aggregate{
		PIN:        c.pin,
		Type:       c.kind,
		Generation: c.generation,
		UpdatedAt:  c.updatedAt,
	}
	if c.tally != nil {
		agg.Items = c.tally.items()
		agg.Scores = c.tally.scores()
	}
	return agg
}

func newTally(content domain.Content) tally {
	switch v := content.(type) {
	case domain.Ranking:
		return newRankingTally(v.Items)
	case domain.WordCloud:
		return newWordTally(v.Words)
	case domain.CloseQuestion:
		return newQuizTally(v.Questions, true)
	case domain.MultipleChoice:
		return newQuizTally(v.Questions, false)
	default:
		panic(fmt.Sprintf("collector: unhandled content %T", content))
	}
}

func sortCounts(counts []domain.ItemCount) []domain.ItemCount {
	sort.SliceStable(counts, func(i, j int) bool {
		return counts[i].Votes > counts[j].Votes
	})
	return counts
}

type rankingTally struct {
	list  []domain.Item
	known map[string]struct{}
	votes map[string]string
}

func newRankingTally(items []domain.Item) *rankingTally {
	known := make(map[string]struct{}, len(items))
	for _, it := range items {
		known[it.ID] = struct{}{}
	}
	return &rankingTally{list: items, known: known, votes: make(map[string]string)}
}

func (t *rankingTally) apply(p *domain.Participant, sub domain.Submission) (int, map[string]bool, error) {
	if sub.Kind != domain.SubmitVote {
		return 0, nil, fmt.Errorf("%w: ranking takes votes, got %s", domain.ErrValidation, sub.Kind)
	}
	if _, ok := t.known[sub.Target]; !ok {
		return 0, nil, fmt.Errorf("%w: unknown idea %q", domain.ErrValidation, sub.Target)
	}
	t.votes[p.ID] = sub.Target
	return 0, nil, nil
}

func (t *rankingTally) items() []domain.ItemCount {
	perItem := make(map[string]int, len(t.list))
	for _, id := range t.votes {
		perItem[id]++
	}
	counts := make([]domain.ItemCount, 0, len(t.list))
	for _, it := range t.list {
		counts = append(counts, domain.ItemCount{ID: it.ID, Text: it.Text, Votes: perItem[it.ID]})
	}
	return sortCounts(counts)
}

func (t *rankingTally) scores() []domain.ScoreEntry { return nil }

type word struct {
	id     string
	text   string
	seeded bool
}

// wordTally counts each participant's idea and vote towards the word cloud.
// Words are kept in first-seen order, which breaks ties.
type wordTally struct {
	words  []word
	byKey  map[string]int
	byID   map[string]int
	ideas  map[string]string
	votes  map[string]string
	nextID int
}

func newWordTally(seed []domain.Item) *wordTally {
	t := &wordTally{
		byKey:  make(map[string]int),
		byID:   make(map[string]int),
		ideas:  make(map[string]string),
		votes:  make(map[string]string),
		nextID: len(seed),
	}
	for _, it := range seed {
		t.add(it.ID, it.Text, true)
	}
	return t
}

func (t *wordTally) add(id, text string, seeded bool) string {
	key := domain.NormalizeWord(text)
	if _, ok := t.byKey[key]; ok {
		return key
	}
	t.byKey[key] = len(t.words)
	t.byID[id] = len(t.words)
	t.words = append(t.words, word{id: id, text: text, seeded: seeded})
	return key
}

func (t *wordTally) apply(p *domain.Participant, sub domain.Submission) (int, map[string]bool, error) {
	switch sub.Kind {
	case domain.SubmitIdea:
		text := strings.Join(strings.Fields(sub.Text), " ")
		key := domain.NormalizeWord(text)
		if key == "" {
			return 0, nil, fmt.Errorf("%w: empty idea", domain.ErrValidation)
		}
		if len(key) > 500 {
			return 0, nil, fmt.Errorf("%w: idea too long", domain.ErrValidation)
		}
		if _, ok := t.byKey[key]; !ok {
			t.nextID++
			t.add("w"+strconv.Itoa(t.nextID), text, false)
		}
		t.ideas[p.ID] = key
	case domain.SubmitVote:
		key, ok := t.lookup(sub.Target)
		if !ok {
			return 0, nil, fmt.Errorf("%w: unknown word %q", domain.ErrValidation, sub.Target)
		}
		t.votes[p.ID] = key
	default:
		return 0, nil, fmt.Errorf("%w: word cloud takes ideas or votes, got %s", domain.ErrValidation, sub.Kind)
	}
	return 0, nil, nil
}

func (t *wordTally) lookup(target string) (string, bool) {
	if i, ok := t.byID[target]; ok {
		return domain.NormalizeWord(t.words[i].text), true
	}
	key := domain.NormalizeWord(target)
	_, ok := t.byKey[key]
	return key, ok
}

func (t *wordTally) items() []domain.ItemCount {
	perKey := make(map[string]int, len(t.words))
	for _, key := range t.ideas {
		perKey[key]++
	}
	for _, key := range t.votes {
		perKey[key]++
	}
	counts := make([]domain.ItemCount, 0, len(t.words))
	for _, w := range t.words {
		n := perKey[domain.NormalizeWord(w.text)]
		if n == 0 && !w.seeded {
			continue
		}
		counts = append(counts, domain.ItemCount{ID: w.id, Text: w.text, Votes: n})
	}
	return sortCounts(counts)
}

func (t *wordTally) scores() []domain.ScoreEntry { return nil }

type quizEntry struct {
	name    string
	correct map[string]bool
}

// quizTally grades answers per (participant, question); a new answer for the
// same question replaces the previous one.
type quizTally struct {
	single    bool
	questions map[string]domain.Question
	entries   map[string]*quizEntry
	order     []string
}

func newQuizTally(questions []domain.Question, single bool) *quizTally {
	byID := make(map[string]domain.Question, len(questions))
	for _, q := range questions {
		byID[q.ID] = q
	}
	return &quizTally{
		single:    single,
		questions: byID,
		entries:   make(map[string]*quizEntry),
	}
}

func (t *quizTally) apply(p *domain.Participant, sub domain.Submission) (int, map[string]bool, error) {
	if sub.Kind != domain.SubmitAnswers {
		return 0, nil, fmt.Errorf("%w: quiz takes answers, got %s", domain.ErrValidation, sub.Kind)
	}
	if len(sub.Answers) == 0 {
		return 0, nil, fmt.Errorf("%w: no answers", domain.ErrValidation)
	}

	feedback := make(map[string]bool, len(sub.Answers))
	for qid, selected := range sub.Answers {
		q, ok := t.questions[qid]
		if !ok {
			return 0, nil, fmt.Errorf("%w: unknown question %q", domain.ErrValidation, qid)
		}
		correct, err := q.Grade(selected, t.single)
		if err != nil {
			return 0, nil, err
		}
		feedback[qid] = correct
	}

	entry, ok := t.entries[p.ID]
	if !ok {
		entry = &quizEntry{correct: make(map[string]bool)}
		t.entries[p.ID] = entry
		t.order = append(t.order, p.ID)
	}
	entry.name = p.Name
	for qid, correct := range feedback {
		entry.correct[qid] = correct
	}
	return entryScore(entry), feedback, nil
}

func entryScore(e *quizEntry) int {
	score := 0
	for _, ok := range e.correct {
		if ok {
			score++
		}
	}
	return score
}

func (t *quizTally) items() []domain.ItemCount { return nil }

func (t *quizTally) scores() []domain.ScoreEntry {
	out := make([]domain.ScoreEntry, 0, len(t.order))
	for _, pid := range t.order {
		e := t.entries[pid]
		out = append(out, domain.ScoreEntry{
			ParticipantID: pid,
			Name:          e.name,
			Score:         entryScore(e),
			Answered:      len(e.correct),
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Score > out[j].Score
	})
	return out
}
