package service

import (
	"context"
	"log"
	"strconv"

	"github.com/xiaot623/agentmux/internal/choice"
	"github.com/xiaot623/agentmux/internal/domain"
	"github.com/xiaot623/agentmux/internal/extract"
	"github.com/xiaot623/agentmux/policy"
)

// GetPrompt returns the choice prompt recorded for agentID, or nil.
func (s *Service) GetPrompt(agentID string) (*domain.InteractiveChoicePrompt, error) {
	e, err := s.entry(agentID)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.prompt, nil
}

// SubmitChoice answers the agent's choice prompt by typing the option number.
// When no prompt is recorded the keys are still sent.
func (s *Service) SubmitChoice(ctx context.Context, agentID string, number int) error {
	if number < 1 {
		return domain.NewError(domain.CodeInvalidRequest, agentID, "option number must be positive", nil)
	}

	e, err := s.runningEntry(agentID)
	if err != nil {
		return err
	}

	if err := s.checkPolicy(ctx, policy.Input{
		Action:  "choice",
		AgentID: agentID,
		Kind:    string(e.spec.Kind),
	}); err != nil {
		return err
	}

	e.mu.Lock()
	prompt := e.prompt
	e.mu.Unlock()
	if prompt != nil && !prompt.HasOption(number) {
		return domain.NewError(domain.CodeInvalidRequest, agentID, "option "+strconv.Itoa(number)+" is not offered", nil)
	}

	name := e.session.SessionName
	if err := s.mux.SendLiteral(ctx, name, strconv.Itoa(number)); err != nil {
		return err
	}
	if err := s.mux.SendKey(ctx, name, "Enter"); err != nil {
		return err
	}

	s.setPrompt(ctx, e, nil)

	// A menu that is still drawn after the keys were sent must be reported again.
	e.mu.Lock()
	poller := e.poller
	e.mu.Unlock()
	if poller != nil {
		poller.Reset()
	}
	return nil
}

// setPrompt records p (nil clears) and publishes the change.
func (s *Service) setPrompt(ctx context.Context, e *entry, p *domain.InteractiveChoicePrompt) {
	e.mu.Lock()
	prev := e.prompt
	if prev.SameAs(p) {
		e.mu.Unlock()
		return
	}
	e.prompt = p
	e.mu.Unlock()

	if p != nil {
		log.Printf("INFO: %s is waiting for a choice (%d options)", e.spec.ID, len(p.Options))
		_ = s.RecordEvent(ctx, e.spec.ID, domain.EventTypeChoiceRequired, p)
		return
	}
	_ = s.RecordEvent(ctx, e.spec.ID, domain.EventTypeChoiceCleared, map[string]string{"agent_id": e.spec.ID})
}

// startPoller runs the choice detector for e until the session stops or the service closes.
func (s *Service) startPoller(e *entry) {
	ctx, cancel := context.WithCancel(s.baseCtx)

	e.mu.Lock()
	if e.stopPoller != nil {
		e.stopPoller()
	}
	e.stopPoller = cancel
	name := e.session.SessionName
	e.mu.Unlock()

	poller := choice.NewPoller(e.spec.ID, s.config.ChoicePollInterval, s.config.ChoiceTailLines,
		func(ctx context.Context) (string, error) {
			return extract.Capture(ctx, s.mux, name, e.grammar)
		},
		func(p *domain.InteractiveChoicePrompt) {
			s.setPrompt(ctx, e, p)
		},
	)
	e.mu.Lock()
	e.poller = poller
	e.mu.Unlock()
	go poller.Run(ctx)
}
