package reasoning

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harun/kosmo/internal/observability"
	"github.com/harun/kosmo/internal/tracing"
	"github.com/harun/kosmo/pkg/errclass"
	"github.com/harun/kosmo/pkg/toolregistry"
	"github.com/harun/kosmo/pkg/trace"
	"github.com/rs/zerolog"
)

const (
	// DefaultHistoryWindow is the number of earlier turns passed to the model
	DefaultHistoryWindow = 20

	defaultCooldown = 60 * time.Second

	continuePrompt = "Continue. Call a tool, or reply with \"Final Answer:\" followed by the answer."
)

// Message is one provider-neutral chat message
type Message struct {
	Role       string     `json:"role"` // user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// Completion is one provider request
type Completion struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []toolregistry.Definition
	Temperature  float64
	MaxTokens    int
}

// Provider is a model API behind the LLM oracle
type Provider interface {
	Complete(ctx context.Context, req Completion) (*Output, error)
	Name() string
}

// Profile is one set of credentials for a provider
type Profile struct {
	ID          string  `json:"id" mapstructure:"id"`
	Provider    string  `json:"provider" mapstructure:"provider"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	BaseURL     string  `json:"base_url,omitempty" mapstructure:"base_url"`
	Model       string  `json:"model" mapstructure:"model"`
	Temperature float64 `json:"temperature,omitempty" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty" mapstructure:"max_tokens"`
	Priority    int     `json:"priority" mapstructure:"priority"`
}

// ProviderFactory builds a provider for a profile
type ProviderFactory func(profile Profile) (Provider, error)

// NewProvider is the default ProviderFactory
func NewProvider(profile Profile) (Provider, error) {
	switch profile.Provider {
	case "anthropic":
		return NewAnthropicProvider(profile.APIKey, profile.BaseURL), nil
	case "openai":
		return NewOpenAIProvider(profile.APIKey, profile.BaseURL), nil
	default:
		return nil, errclass.New(errclass.CategoryConfiguration, "unsupported provider: %s", profile.Provider)
	}
}

// LLMConfig holds LLM oracle configuration
type LLMConfig struct {
	Profiles      []Profile
	Factory       ProviderFactory
	SystemPrompt  string
	HistoryWindow int
	Cooldown      time.Duration
	Logger        zerolog.Logger
	Now           func() time.Time
}

type profileState struct {
	profile       Profile
	provider      Provider
	failureCount  int
	cooldownUntil time.Time
}

// LLMOracle is an Oracle backed by chat-completion providers. Profiles are
// tried in priority order; a transient failure puts a profile in cooldown and
// moves on to the next one.
type LLMOracle struct {
	profiles      []*profileState
	systemPrompt  string
	historyWindow int
	cooldown      time.Duration
	classifier    *errclass.Classifier
	logger        zerolog.Logger
	now           func() time.Time
	mu            sync.Mutex
}

// NewLLMOracle creates the oracle and its providers
func NewLLMOracle(cfg LLMConfig) (*LLMOracle, error) {
	if len(cfg.Profiles) == 0 {
		return nil, errclass.New(errclass.CategoryConfiguration, "no AI profiles configured")
	}
	if cfg.Factory == nil {
		cfg.Factory = NewProvider
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	if cfg.HistoryWindow <= 0 {
		cfg.HistoryWindow = DefaultHistoryWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = defaultCooldown
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	profiles := append([]Profile(nil), cfg.Profiles...)
	sort.SliceStable(profiles, func(i, j int) bool {
		return profiles[i].Priority < profiles[j].Priority
	})

	states := make([]*profileState, 0, len(profiles))
	for _, profile := range profiles {
		if profile.Model == "" {
			return nil, errclass.New(errclass.CategoryConfiguration, "profile %s has no model", profile.ID)
		}
		provider, err := cfg.Factory(profile)
		if err != nil {
			return nil, fmt.Errorf("profile %s: %w", profile.ID, err)
		}
		states = append(states, &profileState{profile: profile, provider: provider})
	}

	return &LLMOracle{
		profiles:      states,
		systemPrompt:  cfg.SystemPrompt,
		historyWindow: cfg.HistoryWindow,
		cooldown:      cfg.Cooldown,
		classifier:    errclass.NewClassifier(),
		logger:        cfg.Logger,
		now:           cfg.Now,
	}, nil
}

// Reason builds the conversation and calls the first healthy profile
func (o *LLMOracle) Reason(ctx context.Context, req Request) (*Output, error) {
	logger := tracing.LoggerFromContext(ctx, o.logger)
	messages, omitted := BuildMessages(req, o.historyWindow)

	systemPrompt := o.systemPrompt
	if omitted > 0 {
		systemPrompt = fmt.Sprintf("%s\n\n[Previous conversation summary: %d earlier turns omitted]", systemPrompt, omitted)
	}

	var lastErr error
	tried := 0
	for _, state := range o.available() {
		tried++
		profile := state.profile
		start := time.Now()

		out, err := state.provider.Complete(ctx, Completion{
			Model:        profile.Model,
			SystemPrompt: systemPrompt,
			Messages:     messages,
			Tools:        req.Tools,
			Temperature:  profile.Temperature,
			MaxTokens:    profile.MaxTokens,
		})
		observability.RecordReasoningCall(state.provider.Name(), time.Since(start), err == nil)

		if err == nil {
			o.markSuccess(state)
			return out, nil
		}

		lastErr = err
		if errclass.KindOf(o.classifier.Categorize(err)) != errclass.KindTransient {
			logger.Warn().Str("profile", profile.ID).Err(err).Msg("Reasoning call failed")
			return nil, err
		}

		o.markFailure(state)
		logger.Warn().Str("profile", profile.ID).Err(err).Msg("Profile failed, trying next")
	}

	if tried == 0 {
		return nil, errclass.New(errclass.CategoryUnavailable, "all AI profiles are cooling down")
	}
	return nil, lastErr
}

func (o *LLMOracle) available() []*profileState {
	o.mu.Lock()
	defer o.mu.Unlock()

	now := o.now()
	out := make([]*profileState, 0, len(o.profiles))
	for _, state := range o.profiles {
		if now.Before(state.cooldownUntil) {
			observability.SetProviderCooldown(state.profile.Provider, true)
			continue
		}
		out = append(out, state)
	}
	return out
}

func (o *LLMOracle) markSuccess(state *profileState) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state.failureCount = 0
	state.cooldownUntil = time.Time{}
	observability.SetProviderCooldown(state.profile.Provider, false)
}

// markFailure cools a profile down, but only when another profile can take
// over; a single profile is left to the caller's retry policy.
func (o *LLMOracle) markFailure(state *profileState) {
	o.mu.Lock()
	defer o.mu.Unlock()

	state.failureCount++
	if len(o.profiles) < 2 {
		return
	}
	state.cooldownUntil = o.now().Add(time.Duration(state.failureCount) * o.cooldown)
	observability.SetProviderCooldown(state.profile.Provider, true)
}

// BuildMessages renders history and trace as chat messages. Only the last
// window turns of history are kept; the number of omitted turns is returned.
func BuildMessages(req Request, window int) ([]Message, int) {
	history := req.History
	omitted := 0
	if window > 0 && len(history) > window {
		omitted = len(history) - window
		history = history[omitted:]
	}

	messages := make([]Message, 0, 2*len(history)+2*len(req.Trace)+1)
	for _, turn := range history {
		messages = append(messages,
			Message{Role: "user", Content: turn.Query},
			Message{Role: "assistant", Content: turn.Answer},
		)
	}

	messages = append(messages, Message{Role: "user", Content: req.Query})

	for _, step := range req.Trace {
		switch {
		case step.Invoked():
			messages = append(messages, Message{
				Role:    "assistant",
				Content: step.Thought,
				ToolCalls: []ToolCall{{
					ID:        step.Action.CallID,
					Name:      step.Action.Tool,
					Arguments: trace.CloneArguments(step.Action.Arguments),
				}},
			})
			observation := "(no result)"
			if step.Observation != nil {
				observation = step.Observation.Content
			}
			messages = append(messages, Message{
				Role:       "tool",
				Content:    observation,
				ToolCallID: step.Action.CallID,
			})
		case step.Status != trace.StatusSuccess:
			messages = append(messages, Message{
				Role:    "user",
				Content: fmt.Sprintf("Your previous reply could not be used: %s. %s", step.Error, continuePrompt),
			})
		case step.Thought != "":
			messages = append(messages,
				Message{Role: "assistant", Content: "Thought: " + step.Thought},
				Message{Role: "user", Content: continuePrompt},
			)
		}
	}

	return messages, omitted
}
