package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/bytedance/sonic"
	"github.com/coder/websocket"

	"github.com/MrWong99/readalong/internal/app"
	"github.com/MrWong99/readalong/internal/observe"
	"github.com/MrWong99/readalong/pkg/audio"
)

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.originPatterns})
	if err != nil {
		observe.Logger(r.Context()).Warn("server: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageBytes)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	log := observe.Logger(ctx)

	start, err := readStart(ctx, conn)
	if err != nil {
		_ = writeEvent(ctx, conn, Event{Type: EventError, Error: &ErrorInfo{Kind: KindBadRequest, Message: err.Error()}})
		conn.Close(websocket.StatusPolicyViolation, "expected start message")
		return
	}

	rd, err := s.sessions.Start(ctx, app.SessionInfo{
		StudentID:    start.StudentID,
		StudentName:  start.StudentName,
		PassageID:    start.PassageID,
		PassageTitle: start.PassageTitle,
		PassageText:  start.PassageText,
	})
	if err != nil {
		log.Warn("server: reading did not start", "student_id", start.StudentID, "err", err)
		_ = writeEvent(ctx, conn, Event{Type: EventError, Error: errorInfo(err)})
		conn.Close(websocket.StatusInternalError, "reading did not start")
		return
	}
	ctx = observe.WithSession(ctx, rd.ID())
	log = observe.Logger(ctx)

	words := make([]string, len(rd.Words()))
	for i, w := range rd.Words() {
		words[i] = w.Text
	}
	if err := writeEvent(ctx, conn, Event{Type: EventStarted, SessionID: rd.ID(), TraceID: observe.CorrelationID(ctx), Words: words}); err != nil {
		rd.Stop()
		return
	}

	conv := &audio.FormatConverter{Source: start.Format()}
	go func() {
		if err := readAudio(ctx, conn, rd, conv); err != nil && !closedNormally(err) {
			log.Debug("server: capture stream ended", "err", err)
		}
	}()

	if err := forward(ctx, conn, rd); err != nil {
		log.Debug("server: client went away before the refined result", "err", err)
		return
	}
	conn.Close(websocket.StatusNormalClosure, "session complete")
}

func readStart(ctx context.Context, conn *websocket.Conn) (Control, error) {
	typ, data, err := conn.Read(ctx)
	if err != nil {
		return Control{}, err
	}
	if typ != websocket.MessageText {
		return Control{}, errors.New("first message must be a JSON start message")
	}
	var c Control
	if err := sonic.Unmarshal(data, &c); err != nil {
		return Control{}, fmt.Errorf("decode start message: %w", err)
	}
	if c.Type != ControlStart {
		return Control{}, fmt.Errorf("first message has type %q, want %q", c.Type, ControlStart)
	}
	var problems []string
	if c.StudentID == "" {
		problems = append(problems, "student_id is required")
	}
	if strings.TrimSpace(c.PassageText) == "" {
		problems = append(problems, "passage_text is required")
	}
	if c.SampleRate < 0 || c.Channels < 0 {
		problems = append(problems, "sample_rate and channels must not be negative")
	}
	if len(problems) > 0 {
		return Control{}, errors.New(strings.Join(problems, "; "))
	}
	return c, nil
}

// readAudio feeds binary frames to rd until the client sends stop or the
// connection ends. Either way capture stops.
func readAudio(ctx context.Context, conn *websocket.Conn, rd *app.Reading, conv *audio.FormatConverter) error {
	defer rd.Stop()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		switch typ {
		case websocket.MessageBinary:
			if err := rd.Write(conv.Convert(audio.DecodePCM16(data))); err != nil && !errors.Is(err, app.ErrReadingStopped) {
				return err
			}
		case websocket.MessageText:
			var c Control
			if err := sonic.Unmarshal(data, &c); err != nil {
				return fmt.Errorf("decode control message: %w", err)
			}
			if c.Type == ControlStop {
				return nil
			}
		}
	}
}

// forward streams session events to the client until the session is done,
// ending with the refined event.
func forward(ctx context.Context, conn *websocket.Conn, rd *app.Reading) error {
	updates, partials, provisional := rd.Updates(), rd.Partials(), rd.Provisional()
	for updates != nil || partials != nil || provisional != nil {
		var ev Event
		select {
		case <-ctx.Done():
			return ctx.Err()
		case v, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			ev = Event{Type: EventVerdict, SessionID: rd.ID(), Verdict: &v}
		case text, ok := <-partials:
			if !ok {
				partials = nil
				continue
			}
			ev = Event{Type: EventPartial, SessionID: rd.ID(), Text: text}
		case o, ok := <-provisional:
			if !ok {
				provisional = nil
				continue
			}
			ev = outcomeEvent(EventProvisional, o)
		}
		if err := writeEvent(ctx, conn, ev); err != nil {
			return err
		}
	}

	o, err := rd.Wait(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	ev := outcomeEvent(EventRefined, o)
	ev.SessionID = rd.ID()
	ev.Error = errorInfo(err)
	if o.Result.SessionID == "" {
		ev.Result = nil
	}
	return writeEvent(ctx, conn, ev)
}

func writeEvent(ctx context.Context, conn *websocket.Conn, ev Event) error {
	data, err := sonic.Marshal(ev)
	if err != nil {
		return fmt.Errorf("server: encode %s event: %w", ev.Type, err)
	}
	return conn.Write(ctx, websocket.MessageText, data)
}

func closedNormally(err error) bool {
	return websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled)
}
