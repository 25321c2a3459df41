package service

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/xiaot623/agentmux/internal/choice"
	"github.com/xiaot623/agentmux/internal/domain"
	"github.com/xiaot623/agentmux/internal/extract"
	"github.com/xiaot623/agentmux/internal/transcript"
	"github.com/xiaot623/agentmux/policy"
)

// SendMessage types text into the agent's session. It fails when a choice prompt is
// waiting for the user or when the previous turn has not been collected yet.
func (s *Service) SendMessage(ctx context.Context, agentID, text string) error {
	if strings.TrimSpace(text) == "" {
		return domain.NewError(domain.CodeInvalidRequest, agentID, "text is required", nil)
	}

	e, err := s.runningEntry(agentID)
	if err != nil {
		return err
	}

	if err := s.checkPolicy(ctx, policy.Input{
		Action:     "send",
		AgentID:    agentID,
		Kind:       string(e.spec.Kind),
		TextLength: len(text),
		LineCount:  strings.Count(text, "\n") + 1,
	}); err != nil {
		return err
	}

	e.mu.Lock()
	prompt, pending := e.prompt, e.pending
	e.mu.Unlock()
	if prompt != nil {
		return domain.NewError(domain.CodeUserActionRequired, agentID, "agent is waiting for a choice: "+prompt.Title, nil)
	}
	if pending != nil {
		return domain.NewError(domain.CodeTurnPending, agentID, "previous message is still awaiting a response", nil)
	}

	// The poller may not have caught a prompt that appeared since its last tick.
	if raw, err := extract.Capture(ctx, s.mux, e.session.SessionName, e.grammar); err == nil {
		if p := choice.Detect(raw, s.config.ChoiceTailLines); p != nil {
			p.AgentID = agentID
			s.setPrompt(ctx, e, p)
			return domain.NewError(domain.CodeUserActionRequired, agentID, "agent is waiting for a choice: "+p.Title, nil)
		}
	} else {
		log.Printf("WARN: pre-send capture for %s: %v", agentID, err)
	}

	now := time.Now()
	ptc := &domain.PendingTurnContext{
		UserText:     text,
		MinTimestamp: now.Truncate(time.Millisecond),
		SentAt:       now,
	}
	if e.grammar.StructuredLog {
		path, turnID, err := s.transcripts.Baseline(e.spec.WorkDir)
		if err != nil {
			log.Printf("WARN: transcript baseline for %s: %v", agentID, err)
		}
		ptc.LogPath = path
		ptc.BaselineTurnID = turnID
	}

	e.mu.Lock()
	if e.pending != nil {
		e.mu.Unlock()
		return domain.NewError(domain.CodeTurnPending, agentID, "previous message is still awaiting a response", nil)
	}
	e.pending = ptc
	e.mu.Unlock()

	if err := s.mux.SendText(ctx, e.session.SessionName, text); err != nil {
		s.DiscardPending(agentID)
		return err
	}

	s.emitTurn(ctx, e, domain.RoleUser, text)
	return nil
}

// WaitForResponse collects the reply to the pending message of agentID. Agents with a
// structured transcript are read from the log; everything else is read from the screen.
// An incomplete reply is returned together with a Timeout error.
func (s *Service) WaitForResponse(ctx context.Context, agentID string) (string, error) {
	e, err := s.runningEntry(agentID)
	if err != nil {
		return "", err
	}

	e.mu.Lock()
	pending := e.pending
	e.mu.Unlock()

	onUpdate := func(text string) {
		s.publishEvent(agentID, domain.EventTypeStreamDelta, map[string]string{"text": text})
	}

	var (
		text     string
		complete bool
	)
	switch {
	case e.grammar.StructuredLog && pending == nil:
		text, complete, err = s.latestTranscriptReply(e)
	case e.grammar.StructuredLog:
		text, complete, err = s.transcriptReply(ctx, e, pending, onUpdate)
	case pending == nil:
		return "", domain.NewError(domain.CodeInvalidRequest, agentID, "no message is awaiting a response", nil)
	default:
		var res extract.Result
		res, err = s.streamer.Stream(ctx, e.session.SessionName, e.grammar, pending.UserText, onUpdate)
		text, complete = res.Text, res.Complete
	}

	s.clearPending(e, pending)

	if err != nil {
		return text, err
	}

	if text != "" {
		s.emitTurn(ctx, e, domain.RoleAssistant, text)
	}
	if !complete {
		return text, domain.NewError(domain.CodeTimeout, agentID, "no complete response within "+s.config.MaxWait.String(), nil)
	}
	return text, nil
}

func (s *Service) transcriptReply(ctx context.Context, e *entry, pending *domain.PendingTurnContext, onUpdate func(string)) (string, bool, error) {
	res, err := s.transcripts.Stream(ctx, transcript.Request{
		Path:         pending.LogPath,
		WorkDir:      e.spec.WorkDir,
		AfterTurnID:  pending.BaselineTurnID,
		ExpectedText: pending.UserText,
		MinTimestamp: pending.MinTimestamp,
		StableFor:    s.config.TranscriptStable,
		MaxWait:      s.config.MaxWait,
		PollInterval: s.config.PollInterval,
	}, onUpdate)
	if err != nil || res.Text != "" {
		return res.Text, res.Complete, err
	}

	// No transcript reply at all; read whatever the screen shows.
	raw, cerr := extract.Capture(ctx, s.mux, e.session.SessionName, e.grammar)
	if cerr != nil {
		return "", false, cerr
	}
	text := extract.StripThinking(extract.ExtractResponse(raw, e.grammar, pending.UserText))
	if text != "" {
		log.Printf("WARN: no transcript reply for %s, using screen text", e.spec.ID)
	}
	return text, false, nil
}

func (s *Service) latestTranscriptReply(e *entry) (string, bool, error) {
	path, err := s.transcripts.LogPath(e.spec.WorkDir)
	if err != nil {
		return "", false, domain.NewError(domain.CodeInvalidRequest, e.spec.ID, "no message is awaiting a response", err)
	}
	res, err := s.transcripts.Latest(path)
	if err != nil {
		return "", false, err
	}
	log.Printf("INFO: best-effort reply for %s from latest transcript turn %s", e.spec.ID, res.TurnID)
	return res.Text, res.Complete, nil
}

func (s *Service) clearPending(e *entry, pending *domain.PendingTurnContext) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == pending {
		e.pending = nil
	}
}

// Ask sends text and waits for the reply.
func (s *Service) Ask(ctx context.Context, agentID, text string) (string, error) {
	if err := s.SendMessage(ctx, agentID, text); err != nil {
		return "", err
	}
	return s.WaitForResponse(ctx, agentID)
}

// CollectResponse waits for the reply in the background. Failures are reported as a
// system turn of the agent.
func (s *Service) CollectResponse(agentID string) {
	go func() {
		if _, err := s.WaitForResponse(s.baseCtx, agentID); err != nil && s.baseCtx.Err() == nil {
			s.SystemMessage(s.baseCtx, agentID, "response failed: "+err.Error())
		}
	}()
}

// Interrupt sends the agent's interrupt key and forgets the pending turn.
func (s *Service) Interrupt(ctx context.Context, agentID string) error {
	e, err := s.runningEntry(agentID)
	if err != nil {
		return err
	}
	if err := s.mux.SendKey(ctx, e.session.SessionName, e.grammar.InterruptKey); err != nil {
		return err
	}
	s.DiscardPending(agentID)
	return nil
}

// DiscardPending forgets the pending turn of agentID so a new message can be sent.
func (s *Service) DiscardPending(agentID string) {
	e, err := s.entry(agentID)
	if err != nil {
		return
	}
	e.mu.Lock()
	e.pending = nil
	e.mu.Unlock()
}

// Pending returns a copy of the pending turn of agentID, or nil.
func (s *Service) Pending(agentID string) *domain.PendingTurnContext {
	e, err := s.entry(agentID)
	if err != nil {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.pending == nil {
		return nil
	}
	p := *e.pending
	return &p
}

// Capture returns the ANSI-stripped scrollback of agentID.
func (s *Service) Capture(ctx context.Context, agentID string) (string, error) {
	e, err := s.runningEntry(agentID)
	if err != nil {
		return "", err
	}
	raw, err := extract.Capture(ctx, s.mux, e.session.SessionName, e.grammar)
	if err != nil {
		return "", err
	}
	return extract.StripANSI(raw), nil
}
