package chat

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/hypernetix/foundry-chat-go/pkg/apperr"
	"github.com/hypernetix/foundry-chat-go/pkg/augment"
	"github.com/hypernetix/foundry-chat-go/pkg/config"
	"github.com/hypernetix/foundry-chat-go/pkg/foundry"
	"github.com/hypernetix/foundry-chat-go/pkg/logging"
)

// State is the chat session state.
type State int

const (
	StateNoModel State = iota
	StateModelLoading
	StateReady
	StateStreaming
)

func (s State) String() string {
	switch s {
	case StateNoModel:
		return "NoModel"
	case StateModelLoading:
		return "ModelLoading"
	case StateReady:
		return "Ready"
	case StateStreaming:
		return "Streaming"
	}
	return "Unknown"
}

// Result stream lines.
const (
	MsgInputEmpty = "Input is empty.\n"
	MsgNoModel    = "No active model loaded.\n"
	MsgStart      = "[Start]\n"
	MsgEnd        = "\n[End]\n"
)

// Outcomes reported to the Observer.
const (
	OutcomeOK          = "ok"
	OutcomeRejected    = "rejected"
	OutcomeError       = "error"
	OutcomeUnavailable = "unavailable"
)

// Observer receives counters from the session. Implementations must be safe
// for concurrent use.
type Observer interface {
	SendFinished(outcome string)
	FragmentForwarded()
	Augmented(outcome string)
}

type nopObserver struct{}

func (nopObserver) SendFinished(string) {}
func (nopObserver) FragmentForwarded()  {}
func (nopObserver) Augmented(string)    {}

// Options configure a Session.
type Options struct {
	SystemPrompt string
	MaxTokens    int
	Fold         string // config.FoldInline or config.FoldInstruction
	Observer     Observer
}

// Session drives completions against the active model. Send and the model
// transitions must not run concurrently; the caller serializes them.
type Session struct {
	logger    logging.Logger
	completer Completer
	augmenter augment.Strategy
	opts      Options

	mu      sync.Mutex
	state   State
	model   *foundry.ActiveModel
	history History
}

// NewSession creates a session with no model. A nil augmenter disables web search.
func NewSession(completer Completer, augmenter augment.Strategy, opts Options, logger logging.Logger) *Session {
	if augmenter == nil {
		augmenter = augment.Disabled{}
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Fold == "" {
		opts.Fold = config.FoldInline
	}
	return &Session{
		logger:    logging.OrDefault(logger),
		completer: completer,
		augmenter: augmenter,
		opts:      opts,
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// ActiveModel returns the loaded model, if any.
func (s *Session) ActiveModel() (foundry.ActiveModel, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.model == nil {
		return foundry.ActiveModel{}, false
	}
	return *s.model, true
}

// History returns a copy of the conversation.
func (s *Session) History() []Turn {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.Turns()
}

// BeginLoading enters ModelLoading and returns a function that restores the
// previous state if the load does not complete.
func (s *Session) BeginLoading() (abort func()) {
	s.mu.Lock()
	prev := s.state
	s.state = StateModelLoading
	s.mu.Unlock()
	return func() { s.setState(prev) }
}

// SetModel makes m the active model and starts a new conversation.
func (s *Session) SetModel(m foundry.ActiveModel) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.model = &m
	s.history.Reset()
	s.state = StateReady
}

// Send runs one turn of the conversation, writing every user-visible line to
// emit. Rejections and failures are reported through emit and also returned.
func (s *Session) Send(ctx context.Context, text string, useAugmentation bool, emit func(string)) error {
	if text == "" {
		emit(MsgInputEmpty)
		s.opts.Observer.SendFinished(OutcomeRejected)
		return apperr.New(apperr.ErrInvalidRequest, "input is empty")
	}
	model, ok := s.ActiveModel()
	if !ok {
		emit(MsgNoModel)
		s.opts.Observer.SendFinished(OutcomeRejected)
		return apperr.New(apperr.ErrInvalidRequest, "no active model")
	}

	requestID := uuid.NewString()
	s.setState(StateStreaming)
	defer s.setState(StateReady)

	userText, instruction := text, ""
	if useAugmentation {
		r := s.augmenter.Augment(ctx, text)
		if !r.Available() {
			s.logger.Info("[%s] Continuing without web search (%s): %s", requestID, s.augmenter.Name(), r.Reason)
			emit("[Web search unavailable: " + r.Reason + "]\n")
			s.opts.Observer.Augmented(OutcomeUnavailable)
		} else {
			s.logger.Debug("[%s] Folding %d search results (%s)", requestID, len(r.Snippets), s.opts.Fold)
			s.opts.Observer.Augmented(OutcomeOK)
			if s.opts.Fold == config.FoldInstruction {
				instruction = augment.Instruction(r)
			} else {
				userText = augment.Inline(text, r)
			}
		}
	}

	s.mu.Lock()
	if s.history.EnsureSystem(s.opts.SystemPrompt) {
		s.logger.Debug("[%s] Injected system prompt", requestID)
	}
	s.history.AddUser(userText)
	turns := s.history.Request(instruction)
	s.mu.Unlock()

	emit(MsgStart)
	answer, err := s.stream(ctx, model, turns, emit)
	if err != nil {
		s.logger.Error("[%s] Completion failed: %v", requestID, err)
		err = apperr.Wrap(apperr.ErrCompletion, err, "")
		emit(apperr.UserMessage(err))
		s.opts.Observer.SendFinished(OutcomeError)
		return err
	}
	emit(MsgEnd)

	s.mu.Lock()
	s.history.AddAssistant(answer)
	s.mu.Unlock()
	s.opts.Observer.SendFinished(OutcomeOK)
	s.logger.Debug("[%s] Completion finished (%d chars)", requestID, len(answer))
	return nil
}

func (s *Session) stream(ctx context.Context, model foundry.ActiveModel, turns []Turn, emit func(string)) (string, error) {
	stream, err := s.completer.Stream(ctx, model, turns, s.opts.MaxTokens)
	if err != nil {
		return "", err
	}
	defer stream.Close()

	var answer strings.Builder
	for {
		fragment, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return answer.String(), nil
		}
		if err != nil {
			return "", err
		}
		if fragment == "" {
			continue
		}
		answer.WriteString(fragment)
		emit(fragment)
		s.opts.Observer.FragmentForwarded()
	}
}
