package http

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ideatorio/internal/app"
	"ideatorio/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

type WSHandler struct {
	service  *app.Service
	upgrader websocket.Upgrader
	validate *validator.Validate
	logger   *zap.Logger
}

func NewWSHandler(service *app.Service, logger *zap.Logger) *WSHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WSHandler{
		service: service,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		validate: validator.New(),
		logger:   logger,
	}
}

type inboundMessage struct {
	Event string          `json:"event"`
	Ref   string          `json:"ref,omitempty"`
	Data  json.RawMessage `json:"data"`
}

type outboundMessage struct {
	Event string `json:"event"`
	Ref   string `json:"ref,omitempty"`
	Data  any    `json:"data"`
}

// ack is the success payload of an acknowledged request.
type ack map[string]any

type eventFunc func(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error)

// ServeWS upgrades the request and serves room events until the client goes away.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	c := &wsConn{
		handler: h,
		conn:    conn,
		id:      uuid.NewString(),
		send:    make(chan outboundMessage, sendBuffer),
		done:    make(chan struct{}),
	}
	c.logger = h.logger.With(zap.String("conn_id", c.id))
	c.logger.Debug("ws connected", zap.String("remote", r.RemoteAddr))

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		c.writePump()
	}()

	c.readPump()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	c.unbind(ctx)
	cancel()
	close(c.done)
	wg.Wait()
	_ = conn.Close()
	c.logger.Debug("ws disconnected")
}

// wsConn is one client connection. Inbound events are handled in order on the
// read goroutine, which alone owns sub and generation. Room events are
// forwarded by a goroutine per subscription.
type wsConn struct {
	handler *WSHandler
	conn    *websocket.Conn
	id      string
	logger  *zap.Logger

	send chan outboundMessage
	done chan struct{}

	sub        *app.Subscription
	generation uint64
}

func (c *wsConn) readPump() {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("ws read error", zap.Error(err))
			}
			return
		}
		var in inboundMessage
		if err := json.Unmarshal(raw, &in); err != nil || in.Event == "" {
			c.push(outboundMessage{Event: "error", Data: errorBody{Error: "invalid message", Code: "validation"}})
			continue
		}
		c.handle(in)
	}
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				c.logger.Debug("ws write error", zap.Error(err))
				_ = c.conn.Close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.conn.Close()
				return
			}
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

func (c *wsConn) push(msg outboundMessage) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

func (c *wsConn) handle(in inboundMessage) {
	fn, ok := wsEvents[in.Event]
	if !ok {
		c.reply(in, nil, fmt.Errorf("%w: unsupported event %q", domain.ErrValidation, in.Event))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := fn(ctx, c, in.Data)
	if err != nil && domain.Code(err) == "internal" {
		c.logger.Error("ws event failed", zap.String("event", in.Event), zap.Error(err))
	}
	c.reply(in, res, err)
}

// reply acks requests that carry a ref. Failures without a ref are pushed as
// an error event.
func (c *wsConn) reply(in inboundMessage, res ack, err error) {
	if err != nil {
		body := newErrorBody(err)
		if in.Ref == "" {
			c.push(outboundMessage{Event: "error", Data: ack{"event": in.Event, "error": body.Error, "code": body.Code}})
			return
		}
		body.Status = "error"
		c.push(outboundMessage{Event: "ack", Ref: in.Ref, Data: body})
		return
	}
	if in.Ref == "" {
		return
	}
	if res == nil {
		res = ack{}
	}
	res["status"] = "success"
	c.push(outboundMessage{Event: "ack", Ref: in.Ref, Data: res})
}

func (c *wsConn) bind(sub *app.Subscription, generation uint64) {
	c.sub = sub
	c.generation = generation
	go func() {
		for ev := range sub.Events() {
			c.push(outboundMessage{Event: ev.Name, Data: ev.Data})
		}
	}()
}

// observe records the generation the client was last served for its room.
// Submissions without an explicit generation are checked against it.
func (c *wsConn) observe(pin string, generation uint64) {
	if c.sub != nil && c.sub.PIN == pin {
		c.generation = generation
	}
}

func (c *wsConn) unbind(ctx context.Context) {
	if c.sub == nil {
		return
	}
	if err := c.sub.Close(ctx); err != nil {
		c.logger.Debug("leave room failed", zap.String("pin", c.sub.PIN), zap.Error(err))
	}
	c.sub = nil
}

// pin resolves the room for a request, defaulting to the bound room.
func (c *wsConn) pin(ref roomRef) (string, error) {
	if ref.PIN != "" {
		return ref.PIN.String(), nil
	}
	if c.sub != nil {
		return c.sub.PIN, nil
	}
	return "", fmt.Errorf("%w: pin is required", domain.ErrValidation)
}

func (c *wsConn) participant(pin string, fallback flexString) (string, error) {
	if c.sub != nil && c.sub.PIN == pin && c.sub.ParticipantID != "" {
		return c.sub.ParticipantID, nil
	}
	if fallback != "" {
		return fallback.String(), nil
	}
	return "", fmt.Errorf("%w: join the room as a participant first", domain.ErrValidation)
}

func (c *wsConn) isHost(pin string) bool {
	return c.sub != nil && c.sub.PIN == pin && c.sub.IsHost()
}

func (c *wsConn) requireHost(pin string) error {
	if !c.isHost(pin) {
		return fmt.Errorf("%w: only the session host may do this", domain.ErrNotHost)
	}
	return nil
}

func (c *wsConn) submissionGeneration(raw flexString) (uint64, error) {
	gen, ok, err := parseGeneration(&raw)
	if err != nil {
		return 0, err
	}
	if !ok {
		gen = c.generation
	}
	return gen, nil
}

// decode unmarshals data into dst and validates it. A bare string or number
// is taken as the room pin.
func (c *wsConn) decode(data json.RawMessage, dst any) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		data = []byte("{}")
	case data[0] != '{':
		var pin flexString
		if err := json.Unmarshal(data, &pin); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrValidation, err)
		}
		data, _ = json.Marshal(map[string]string{"pin": pin.String()})
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	if err := c.handler.validate.Struct(dst); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrValidation, err)
	}
	return nil
}

type roomRef struct {
	PIN flexString `json:"pin"`
}

type joinRoomData struct {
	roomRef
	ParticipantID flexString `json:"participantId"`
	HostID        flexString `json:"hostId"`
}

type changeDynamicData struct {
	roomRef
	DynamicType         string `json:"dynamicType"`
	Type                string `json:"type"`
	CurrentSlideContent string `json:"currentSlideContent"`
}

func (d changeDynamicData) typeName() string {
	for _, v := range []string{d.DynamicType, d.Type, d.CurrentSlideContent} {
		if v != "" {
			return v
		}
	}
	return ""
}

type dynamicData struct {
	roomRef
	Data json.RawMessage `json:"data"`
}

type typedRef struct {
	roomRef
	Type string `json:"type"`
}

type castVoteData struct {
	roomRef
	ParticipantID flexString `json:"participantId"`
	Generation    flexString `json:"generation"`
	IdeaID        flexString `json:"ideaId" validate:"required"`
}

type castWordVoteData struct {
	roomRef
	ParticipantID flexString `json:"participantId"`
	Generation    flexString `json:"generation"`
	WordID        flexString `json:"wordId"`
	WordText      string     `json:"wordText" validate:"max=100"`
}

type sendIdeaData struct {
	roomRef
	ParticipantID flexString `json:"participantId"`
	Generation    flexString `json:"generation"`
	Idea          string     `json:"idea" validate:"required,max=100"`
}

type submitAnswersData struct {
	roomRef
	ParticipantID flexString            `json:"participantId"`
	Generation    flexString            `json:"generation"`
	Answers       map[string]optionList `json:"answers" validate:"required,min=1"`
}

type participantRef struct {
	roomRef
	ParticipantID flexString `json:"participantId"`
}

var wsEvents = map[string]eventFunc{
	"join-room":               onJoinRoom,
	"leave-room":              onLeaveRoom,
	"change-dynamic":          onChangeDynamic,
	"slide-update":            onChangeDynamic,
	"update-dynamic-data":     onUpdateDynamicData,
	"initialize-ideas":        onInitializeIdeas,
	"request-slide-content":   onRequestSlideContent,
	"request-ideas":           onRequestIdeas,
	"request-questions":       onRequestQuestions,
	"cast-vote":               onCastVote,
	"cast-vote-wordcloud":     onCastWordVote,
	"send-idea":               onSendIdea,
	"submit-answers":          onSubmitAnswers,
	"submit-answers-multiple": onSubmitAnswers,
	"reset-responses":         onResetResponses,
	"leave-session":           onLeaveSession,
	"end-session":             onEndSession,
}

func onJoinRoom(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error) {
	var p joinRoomData
	if err := c.decode(data, &p); err != nil {
		return nil, err
	}
	if p.PIN == "" {
		return nil, fmt.Errorf("%w: pin is required", domain.ErrValidation)
	}
	c.unbind(ctx)
	sub, snap, err := c.handler.service.JoinRoom(ctx, p.PIN.String(), c.id, p.ParticipantID.String(), p.HostID.String())
	if err != nil {
		return nil, err
	}
	c.bind(sub, snap.Generation)
	c.logger.Info("joined room",
		zap.String("pin", sub.PIN),
		zap.Bool("host", sub.IsHost()),
		zap.String("participant_id", sub.ParticipantID),
	)
	return ack{"state": snap, "currentSlideContent": snap.Type.String()}, nil
}

func onLeaveRoom(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error) {
	c.unbind(ctx)
	return nil, nil
}

func onChangeDynamic(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error) {
	var p changeDynamicData
	if err := c.decode(data, &p); err != nil {
		return nil, err
	}
	pin, err := c.pin(p.roomRef)
	if err != nil {
		return nil, err
	}
	t, err := domain.ParseDynamicType(p.typeName())
	if err != nil {
		return nil, err
	}
	return c.setDynamic(ctx, pin, t, nil)
}

func onUpdateDynamicData(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error) {
	var p dynamicData
	if err := c.decode(data, &p); err != nil {
		return nil, err
	}
	pin, err := c.pin(p.roomRef)
	if err != nil {
		return nil, err
	}
	var typed struct {
		Type string `json:"type"`
	}
	_ = json.Unmarshal(p.Data, &typed)

	var t domain.DynamicType
	if typed.Type != "" {
		if t, err = domain.ParseDynamicType(typed.Type); err != nil {
			return nil, err
		}
	} else {
		snap, err := c.handler.service.CurrentState(ctx, pin, true)
		if err != nil {
			return nil, err
		}
		t = snap.Type
	}
	content, err := domain.DecodeContent(t, p.Data)
	if err != nil {
		return nil, err
	}
	return c.setDynamic(ctx, pin, t, content)
}

func onInitializeIdeas(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error) {
	var p roomRef
	if err := c.decode(data, &p); err != nil {
		return nil, err
	}
	pin, err := c.pin(p)
	if err != nil {
		return nil, err
	}
	content, err := domain.DecodeContent(domain.DynamicRanking, data)
	if err != nil {
		return nil, err
	}
	return c.setDynamic(ctx, pin, domain.DynamicRanking, content)
}

func (c *wsConn) setDynamic(ctx context.Context, pin string, t domain.DynamicType, content domain.Content) (ack, error) {
	snap, err := c.handler.service.SetDynamic(ctx, pin, c.id, t, content)
	if err != nil {
		return nil, err
	}
	c.generation = snap.Generation
	return ack{"state": snap}, nil
}

func onRequestSlideContent(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error) {
	var p roomRef
	if err := c.decode(data, &p); err != nil {
		return nil, err
	}
	pin, err := c.pin(p)
	if err != nil {
		return nil, err
	}
	snap, err := c.handler.service.CurrentState(ctx, pin, !c.isHost(pin))
	if err != nil {
		return nil, err
	}
	c.observe(pin, snap.Generation)
	return ack{
		"currentSlideContent": snap.Type.String(),
		"type":                snap.Type,
		"generation":          snap.Generation,
		"content":             snap.Content,
	}, nil
}

func onRequestIdeas(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error) {
	var p typedRef
	if err := c.decode(data, &p); err != nil {
		return nil, err
	}
	pin, err := c.pin(p.roomRef)
	if err != nil {
		return nil, err
	}
	t := domain.DynamicRanking
	if p.Type != "" {
		if t, err = domain.ParseDynamicType(p.Type); err != nil {
			return nil, err
		}
	}
	items, generation, err := c.handler.service.Items(ctx, pin, t)
	if err != nil {
		return nil, err
	}
	c.observe(pin, generation)
	return ack{"ideas": items, "generation": generation}, nil
}

func onRequestQuestions(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error) {
	var p typedRef
	if err := c.decode(data, &p); err != nil {
		return nil, err
	}
	pin, err := c.pin(p.roomRef)
	if err != nil {
		return nil, err
	}
	snap, err := c.handler.service.CurrentState(ctx, pin, !c.isHost(pin))
	if err != nil {
		return nil, err
	}
	if p.Type != "" {
		t, err := domain.ParseDynamicType(p.Type)
		if err != nil {
			return nil, err
		}
		if t != snap.Type {
			return nil, fmt.Errorf("%w: active dynamic is %s, not %s", domain.ErrValidation, snap.Type, t)
		}
	}
	var questions []domain.Question
	switch content := snap.Content.(type) {
	case domain.CloseQuestion:
		questions = content.Questions
	case domain.MultipleChoice:
		questions = content.Questions
	default:
		return nil, fmt.Errorf("%w: active dynamic %s has no questions", domain.ErrValidation, snap.Type)
	}
	c.observe(pin, snap.Generation)
	return ack{"questions": questions, "generation": snap.Generation}, nil
}

func (c *wsConn) submit(ctx context.Context, ref roomRef, pid, gen flexString, sub domain.Submission) (domain.SubmitResult, error) {
	pin, err := c.pin(ref)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	participantID, err := c.participant(pin, pid)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	generation, err := c.submissionGeneration(gen)
	if err != nil {
		return domain.SubmitResult{}, err
	}
	return c.handler.service.Submit(ctx, pin, participantID, generation, sub)
}

func onCastVote(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error) {
	var p castVoteData
	if err := c.decode(data, &p); err != nil {
		return nil, err
	}
	res, err := c.submit(ctx, p.roomRef, p.ParticipantID, p.Generation, domain.Submission{
		Kind:   domain.SubmitVote,
		Target: p.IdeaID.String(),
	})
	if err != nil {
		return nil, err
	}
	return ack{"ideas": res.Aggregate.Items}, nil
}

func onCastWordVote(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error) {
	var p castWordVoteData
	if err := c.decode(data, &p); err != nil {
		return nil, err
	}
	target := p.WordID.String()
	if target == "" {
		target = p.WordText
	}
	if target == "" {
		return nil, fmt.Errorf("%w: wordId or wordText is required", domain.ErrValidation)
	}
	res, err := c.submit(ctx, p.roomRef, p.ParticipantID, p.Generation, domain.Submission{
		Kind:   domain.SubmitVote,
		Target: target,
	})
	if err != nil {
		return nil, err
	}
	return ack{"words": res.Aggregate.Items}, nil
}

func onSendIdea(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error) {
	var p sendIdeaData
	if err := c.decode(data, &p); err != nil {
		return nil, err
	}
	res, err := c.submit(ctx, p.roomRef, p.ParticipantID, p.Generation, domain.Submission{
		Kind: domain.SubmitIdea,
		Text: p.Idea,
	})
	if err != nil {
		return nil, err
	}
	return ack{"words": res.Aggregate.Items}, nil
}

func onSubmitAnswers(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error) {
	var p submitAnswersData
	if err := c.decode(data, &p); err != nil {
		return nil, err
	}
	answers := make(map[string][]string, len(p.Answers))
	for qid, options := range p.Answers {
		answers[qid] = options
	}
	res, err := c.submit(ctx, p.roomRef, p.ParticipantID, p.Generation, domain.Submission{
		Kind:    domain.SubmitAnswers,
		Answers: answers,
	})
	if err != nil {
		return nil, err
	}
	return ack{
		"score":      res.Score,
		"feedback":   res.Feedback,
		"generation": res.Aggregate.Generation,
	}, nil
}

func onResetResponses(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error) {
	var p roomRef
	if err := c.decode(data, &p); err != nil {
		return nil, err
	}
	pin, err := c.pin(p)
	if err != nil {
		return nil, err
	}
	if err := c.requireHost(pin); err != nil {
		return nil, err
	}
	return nil, c.handler.service.Reset(ctx, pin)
}

func onLeaveSession(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error) {
	var p participantRef
	if err := c.decode(data, &p); err != nil {
		return nil, err
	}
	pin, err := c.pin(p.roomRef)
	if err != nil {
		return nil, err
	}
	participantID, err := c.participant(pin, p.ParticipantID)
	if err != nil {
		return nil, err
	}
	if c.sub != nil && c.sub.PIN == pin && c.sub.ParticipantID == participantID {
		c.unbind(ctx)
	}
	return nil, c.handler.service.LeaveSession(ctx, pin, participantID)
}

func onEndSession(ctx context.Context, c *wsConn, data json.RawMessage) (ack, error) {
	var p roomRef
	if err := c.decode(data, &p); err != nil {
		return nil, err
	}
	pin, err := c.pin(p)
	if err != nil {
		return nil, err
	}
	if err := c.handler.service.EndSessionAsHost(ctx, pin, c.id); err != nil {
		return nil, err
	}
	return ack{"pin": pin}, nil
}
