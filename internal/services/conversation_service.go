package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"ratechat-backend/internal/llm"
	"ratechat-backend/internal/models"
	"ratechat-backend/internal/retrieval"
	"ratechat-backend/internal/store"
	"ratechat-backend/internal/tools"
)

// DefaultInstructions is the system prompt used when generating the final answer.
const DefaultInstructions = "You are an assistant that provides accurate information about U.S. utility rates. " +
	"Use the context below to answer the user's question. " +
	"If you don't have sufficient data, say that you don't know. " +
	"Keep your response concise (three sentences maximum)."

var (
	// ErrInvalidConversation is returned when the incoming messages cannot start a run.
	ErrInvalidConversation = errors.New("invalid conversation")
	// ErrEmptyThread is returned when a thread has no messages.
	ErrEmptyThread = errors.New("thread has no messages")
)

// ChatModel is the language model the orchestrator talks to.
type ChatModel interface {
	Chat(ctx context.Context, req llm.ChatRequest) (models.Message, error)
}

// ToolInvoker runs tools by name and declares them to the model.
type ToolInvoker interface {
	Definitions() []models.ToolDefinition
	Invoke(ctx context.Context, name string, args json.RawMessage) (tools.Result, error)
}

// Step is one unit of progress of a run: a message just appended to the thread,
// or the terminal error. The channel returned by Run closes after the last step.
type Step struct {
	Message models.Message
	Sources []models.Source
	Final   bool
	Err     error
}

// ConversationConfig tunes the orchestrator.
type ConversationConfig struct {
	Instructions  string
	MaxToolRounds int
}

// ConversationService drives one question through DecideOrRespond, ExecuteTools
// and Generate for a thread.
type ConversationService struct {
	model   ChatModel
	tools   ToolInvoker
	threads store.ThreadStore
	locks   *store.ThreadLocks
	cfg     ConversationConfig
}

// NewConversationService creates a new ConversationService.
func NewConversationService(model ChatModel, toolset ToolInvoker, threads store.ThreadStore, locks *store.ThreadLocks, cfg ConversationConfig) *ConversationService {
	if strings.TrimSpace(cfg.Instructions) == "" {
		cfg.Instructions = DefaultInstructions
	}
	if cfg.MaxToolRounds <= 0 {
		cfg.MaxToolRounds = 1
	}
	if locks == nil {
		locks = store.NewThreadLocks()
	}
	return &ConversationService{
		model:   model,
		tools:   toolset,
		threads: threads,
		locks:   locks,
		cfg:     cfg,
	}
}

// ValidateIncoming checks that a request can start a run: at least one message,
// the last one from the user with non-blank content.
func ValidateIncoming(incoming []models.IncomingMessage) error {
	if len(incoming) == 0 {
		return fmt.Errorf("%w: no messages", ErrInvalidConversation)
	}
	last := incoming[len(incoming)-1]
	if last.Role != models.RoleUser || strings.TrimSpace(last.Content) == "" {
		return fmt.Errorf("%w: the last message must be a user message", ErrInvalidConversation)
	}
	return nil
}

// History returns the stored messages of a thread.
func (s *ConversationService) History(ctx context.Context, threadID string) ([]models.Message, error) {
	msgs, err := s.threads.Load(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("failed to load thread %s: %w", threadID, err)
	}
	if len(msgs) == 0 {
		return nil, ErrEmptyThread
	}
	return msgs, nil
}

// Run starts a run in its own goroutine and returns the steps it produces.
// Runs on the same thread id are serialised. Cancelling ctx stops the run;
// the channel is always closed.
func (s *ConversationService) Run(ctx context.Context, threadID string, incoming []models.IncomingMessage) <-chan Step {
	out := make(chan Step)
	go func() {
		defer close(out)
		r := &run{svc: s, ctx: ctx, out: out, threadID: threadID}
		if err := r.execute(incoming); err != nil {
			if ctx.Err() != nil {
				log.Printf("[ConversationService] run on thread %s cancelled: %v", threadID, err)
				return
			}
			log.Printf("ERROR [ConversationService] run on thread %s failed: %v", threadID, err)
			r.emit(Step{Err: err})
		}
	}()
	return out
}

// run holds the state of one orchestration.
type run struct {
	svc      *ConversationService
	ctx      context.Context
	out      chan<- Step
	threadID string

	history  []models.Message
	turn     int
	question string
	sources  []models.Source
}

func (r *run) execute(incoming []models.IncomingMessage) error {
	if err := ValidateIncoming(incoming); err != nil {
		return err
	}
	if strings.TrimSpace(r.threadID) == "" {
		return store.ErrInvalidThreadID
	}

	unlock, err := r.svc.locks.Lock(r.ctx, r.threadID)
	if err != nil {
		return err
	}
	defer unlock()
	// The client may have gone while this run waited for the thread.
	if err := r.ctx.Err(); err != nil {
		return err
	}

	if err := r.start(incoming); err != nil {
		return err
	}

	for round := 1; ; round++ {
		proceed, err := r.decideOrRespond(round)
		if err != nil {
			return err
		}
		if !proceed {
			break
		}
		if err := r.executeTools(); err != nil {
			return err
		}
		if round >= r.svc.cfg.MaxToolRounds {
			break
		}
	}

	return r.generate()
}

// start loads the thread, seeds it from the request when it is empty, and
// appends the trailing user message.
func (r *run) start(incoming []models.IncomingMessage) error {
	history, err := r.svc.threads.Load(r.ctx, r.threadID)
	if err != nil {
		return fmt.Errorf("failed to load thread: %w", err)
	}
	r.history = history

	if len(r.history) == 0 && len(incoming) > 1 {
		seed, err := store.PrepareMessages(r.threadID, seedMessages(incoming[:len(incoming)-1]), time.Now())
		if err != nil {
			return err
		}
		if len(seed) > 0 {
			if err := r.svc.threads.Append(r.ctx, r.threadID, seed...); err != nil {
				return fmt.Errorf("failed to seed thread: %w", err)
			}
			r.history = append(r.history, seed...)
			log.Printf("[ConversationService] seeded thread %s with %d messages from the request", r.threadID, len(seed))
		}
	}

	r.turn = models.LastTurn(r.history) + 1
	last := incoming[len(incoming)-1]
	r.question = last.Content
	return r.appendAndEmit(Step{Message: models.Message{
		Role:    models.RoleUser,
		Content: last.Content,
		Turn:    r.turn,
	}})
}

// decideOrRespond asks the model, with tools bound, what to do next. It reports
// whether there are tool calls to execute.
func (r *run) decideOrRespond(round int) (bool, error) {
	resp, err := r.svc.model.Chat(r.ctx, llm.ChatRequest{
		Messages: models.ReconcileToolCalls(r.history),
		Tools:    r.svc.tools.Definitions(),
	})
	if err != nil {
		return false, err
	}
	resp.Role = models.RoleAssistant
	resp.ToolCallID = ""
	resp.Turn = r.turn

	if !resp.HasPendingToolCalls() {
		if round > 1 {
			log.Printf("[ConversationService] thread %s round %d: model answered without tools, moving to generation", r.threadID, round)
			return false, nil
		}
		// Every turn goes through retrieval, so a direct answer is recorded
		// as a retrieve call for the user's question.
		resp.ToolCalls = []models.ToolCall{{
			ID:        "call_" + uuid.NewString(),
			Name:      tools.RetrieveToolName,
			Arguments: tools.QueryArguments(r.question),
		}}
	}

	stored, err := r.persist(r.ctx, resp)
	if err != nil {
		return false, err
	}
	if !r.emit(Step{Message: stored}) {
		r.closeCalls(stored.ToolCalls, r.ctx.Err())
		return false, r.ctx.Err()
	}
	return true, nil
}

// executeTools runs every pending call of the last assistant message in order
// and appends one tool message per call. Once the assistant message is stored
// every call gets a response, even when the run stops early.
func (r *run) executeTools() (err error) {
	calls := r.history[len(r.history)-1].ToolCalls
	answered := 0
	defer func() {
		if answered < len(calls) {
			r.closeCalls(calls[answered:], err)
		}
	}()

	for _, call := range calls {
		if err := r.ctx.Err(); err != nil {
			return err
		}
		result, err := r.svc.tools.Invoke(r.ctx, call.Name, call.Arguments)
		content := result.Content
		if err != nil {
			switch {
			case errors.Is(err, retrieval.ErrRetrievalUnavailable):
				log.Printf("ERROR [ConversationService] thread %s: retrieval unavailable for call %s: %v", r.threadID, call.ID, err)
			case r.ctx.Err() != nil:
				return r.ctx.Err()
			default:
				log.Printf("[ConversationService] thread %s: tool %s failed: %v", r.threadID, call.Name, err)
				content = "Error: " + err.Error()
			}
		}

		source := models.Source{Content: tools.QueryArgument(call.Arguments), Result: result.Artifact}
		r.sources = append(r.sources, source)

		// Tool responses are written even if the client has gone.
		stored, err := r.persist(context.WithoutCancel(r.ctx), models.Message{
			Role:       models.RoleTool,
			Content:    content,
			ToolCallID: call.ID,
			Turn:       r.turn,
		})
		if err != nil {
			return err
		}
		answered++
		if !r.emit(Step{Message: stored, Sources: []models.Source{source}}) {
			return r.ctx.Err()
		}
	}
	return nil
}

// closeCalls stores an error response for each call so the thread never keeps
// a tool call without its answer. Nothing is streamed.
func (r *run) closeCalls(calls []models.ToolCall, cause error) {
	if cause == nil {
		cause = context.Canceled
	}
	ctx := context.WithoutCancel(r.ctx)
	for _, call := range calls {
		_, err := r.persist(ctx, models.Message{
			Role:       models.RoleTool,
			Content:    "Error: " + cause.Error(),
			ToolCallID: call.ID,
			Turn:       r.turn,
		})
		if err != nil {
			log.Printf("ERROR [ConversationService] thread %s: could not close tool call %s: %v", r.threadID, call.ID, err)
			return
		}
	}
	log.Printf("[ConversationService] thread %s: closed %d unanswered tool calls (%v)", r.threadID, len(calls), cause)
}

// generate composes the final answer from this turn's tool output.
func (r *run) generate() error {
	prompt := BuildGeneratePrompt(r.svc.cfg.Instructions, r.history, r.turn)
	answer, err := r.svc.model.Chat(r.ctx, llm.ChatRequest{Messages: prompt})
	if err != nil {
		return err
	}
	answer.Role = models.RoleAssistant
	answer.ToolCalls = nil
	answer.ToolCallID = ""
	answer.Turn = r.turn

	sources := r.sources
	if sources == nil {
		sources = []models.Source{}
	}
	return r.appendAndEmit(Step{Message: answer, Sources: sources, Final: true})
}

// BuildGeneratePrompt returns one system message (instructions followed by the
// turn's tool output) and then the conversational part of the history.
func BuildGeneratePrompt(instructions string, history []models.Message, turn int) []models.Message {
	var docs []string
	for _, msg := range history {
		if msg.Role == models.RoleTool && msg.Turn == turn && msg.Content != "" {
			docs = append(docs, msg.Content)
		}
	}
	prompt := make([]models.Message, 0, len(history)+1)
	prompt = append(prompt, models.Message{
		Role:    models.RoleSystem,
		Content: instructions + "\n\n" + strings.Join(docs, "\n"),
		Turn:    turn,
	})
	for _, msg := range history {
		if msg.IsConversational() {
			prompt = append(prompt, msg)
		}
	}
	return prompt
}

func (r *run) appendAndEmit(step Step) error {
	stored, err := r.persist(r.ctx, step.Message)
	if err != nil {
		return err
	}
	step.Message = stored
	if !r.emit(step) {
		return r.ctx.Err()
	}
	return nil
}

// persist stamps msg, appends it to the thread and to the run's history.
func (r *run) persist(ctx context.Context, msg models.Message) (models.Message, error) {
	prepared, err := store.PrepareMessages(r.threadID, []models.Message{msg}, time.Now())
	if err != nil {
		return models.Message{}, err
	}
	msg = prepared[0]
	if err := r.svc.threads.Append(ctx, r.threadID, msg); err != nil {
		return models.Message{}, fmt.Errorf("failed to append %s message: %w", msg.Role, err)
	}
	r.history = append(r.history, msg)
	return msg, nil
}

func (r *run) emit(step Step) bool {
	select {
	case r.out <- step:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// seedMessages converts earlier request messages into stored history. Only user
// and assistant messages with content are kept; each user message opens a turn.
func seedMessages(incoming []models.IncomingMessage) []models.Message {
	var (
		seed []models.Message
		turn int
	)
	for _, in := range incoming {
		if strings.TrimSpace(in.Content) == "" {
			continue
		}
		switch in.Role {
		case models.RoleUser:
			turn++
		case models.RoleAssistant:
			if turn == 0 {
				turn = 1
			}
		case models.RoleSystem, models.RoleTool:
			continue
		default:
			continue
		}
		seed = append(seed, models.Message{Role: in.Role, Content: in.Content, Turn: turn})
	}
	return seed
}
