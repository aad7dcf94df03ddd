package domain

import "time"

// SessionInfo is the externally visible record of a live session.
type SessionInfo struct {
	PIN       string      `json:"pin"`
	HostID    string      `json:"hostId"`
	Type      DynamicType `json:"type"`
	CreatedAt time.Time   `json:"createdAt"`
}

// Participant is a student who joined a session with a display name.
type Participant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	SessionID string    `json:"sessionId"`
	JoinedAt  time.Time `json:"joinedAt"`
}

// Snapshot is the point-in-time view of a session's active dynamic.
type Snapshot struct {
	PIN           string      `json:"pin"`
	SessionType   DynamicType `json:"sessionType"`
	Type          DynamicType `json:"type"`
	Generation    uint64      `json:"generation"`
	Content       Content     `json:"content,omitempty"`
	HostConnected bool        `json:"hostConnected"`
	Participants  int         `json:"participants"`
}

// SubmissionKind tells the collector how to interpret a Submission.
type SubmissionKind int

const (
	SubmitVote SubmissionKind = iota + 1
	SubmitIdea
	SubmitAnswers
)

func (k SubmissionKind) String() string {
	switch k {
	case SubmitVote:
		return "vote"
	case SubmitIdea:
		return "idea"
	case SubmitAnswers:
		return "answers"
	default:
		return "unknown"
	}
}

// Submission is a single participant response for the active dynamic.
// Target is the voted item/word id, Text a free-text word, Answers maps
// question ids to the selected option ids.
type Submission struct {
	Kind    SubmissionKind
	Target  string
	Text    string
	Answers map[string][]string
}

// ItemCount is one ranked entry of a Ranking or WordCloud aggregate.
type ItemCount struct {
	ID    string `json:"id"`
	Text  string `json:"text"`
	Votes int    `json:"votes"`
}

// ScoreEntry is one participant's quiz score.
type ScoreEntry struct {
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
	Score         int    `json:"score"`
	Answered      int    `json:"answered"`
}

// Aggregate is the collector's view of all responses for one dynamic activation.
type Aggregate struct {
	PIN        string       `json:"pin"`
	Type       DynamicType  `json:"type"`
	Generation uint64       `json:"generation"`
	Items      []ItemCount  `json:"items,omitempty"`
	Scores     []ScoreEntry `json:"scores,omitempty"`
	UpdatedAt  time.Time    `json:"updatedAt"`
}

// SubmitResult is returned to the submitting participant.
type SubmitResult struct {
	Aggregate Aggregate       `json:"aggregate"`
	Score     int             `json:"score"`
	Feedback  map[string]bool `json:"feedback,omitempty"`
}

// Event is a message fanned out to room members.
type Event struct {
	Name string
	Data any
}

// Room event names.
const (
	EventSlideUpdate     = "slide-update"
	EventVoteUpdate      = "vote-update"
	EventWordCloudUpdate = "wordcloud-update"
	EventIdeaReceived    = "idea-received"
	EventAnswersUpdate   = "answers-update"
	EventHostStatus      = "host-status"
	EventSessionEnded    = "session-ended"
)

// Subtopic is produced by the idea generator for a topic.
type Subtopic struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// SlideUpdate announces a dynamic change to the room. CurrentSlideContent
// carries the dynamic type name for clients that switch views on it.
type SlideUpdate struct {
	PIN                 string      `json:"pin"`
	Type                DynamicType `json:"type"`
	CurrentSlideContent string      `json:"currentSlideContent"`
	Generation          uint64      `json:"generation"`
	Content             Content     `json:"content,omitempty"`
}

// HostStatus tells students whether the host is connected.
type HostStatus struct {
	PIN       string `json:"pin"`
	Connected bool   `json:"connected"`
}

// IdeaReceived confirms a word cloud idea to its author.
type IdeaReceived struct {
	PIN           string      `json:"pin"`
	ParticipantID string      `json:"participantId"`
	Idea          string      `json:"idea"`
	Words         []ItemCount `json:"words"`
}
