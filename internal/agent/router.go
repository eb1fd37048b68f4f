// Package agent routes user queries: it decides, with the language-model
// collaborator, whether a weather tool is needed, invokes it, composes the
// final reply, and records the exchange in conversation memory.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/mstefanon/nimbus/internal/memory"
	"github.com/mstefanon/nimbus/internal/model"
	"github.com/mstefanon/nimbus/internal/observability"
	"github.com/mstefanon/nimbus/internal/prompt"
	"github.com/mstefanon/nimbus/internal/reliability"
	"github.com/mstefanon/nimbus/internal/weather"
)

var (
	ErrLocationNotFound = errors.New("location not found")
	ErrToolFailure      = errors.New("weather tool failure")
	ErrMaxIterations    = errors.New("tool selection iterations exhausted")
)

// availableTools is the closed set the router can dispatch to.
var availableTools = []model.Tool{model.ToolCurrentWeather, model.ToolForecast}

// maxIterations bounds the Decide→Invoke cycle to one more than the number
// of available tools, so tool-selection thrashing always terminates.
var maxIterations = len(availableTools) + 1

const (
	replyModelDown = "I'm having trouble thinking right now. Please try again in a moment."
	replyToolDown  = "I'm sorry, weather data is temporarily unavailable. Please try again shortly."
	replyFallback  = "I'm sorry, I couldn't work out how to answer that. Could you rephrase your question?"
	recordTimeout  = 10 * time.Second
)

// session is the bounded working set for one routing decision.
type session struct {
	context []model.ContextTurn
	system  prompt.Entry
}

// Router owns the per-query agent loop. It is safe for concurrent use;
// queries for the same user are serialized for the full Decide→Record
// cycle.
type Router struct {
	prompts     *prompt.Cache
	memory      *memory.Manager
	model       model.Adapter
	weather     weather.Client
	metrics     *observability.Metrics
	stages      *observability.StageWindow
	toolTimeout time.Duration

	lockMu    sync.Mutex
	userLocks map[string]*userLock
}

// userLock serializes queries for one user. Entries are reference-counted
// so the table only holds users with an in-flight query.
type userLock struct {
	mu   sync.Mutex
	refs int
}

func NewRouter(
	prompts *prompt.Cache,
	mem *memory.Manager,
	adapter model.Adapter,
	wx weather.Client,
	metrics *observability.Metrics,
	stages *observability.StageWindow,
	toolTimeout time.Duration,
) *Router {
	if toolTimeout <= 0 {
		toolTimeout = 10 * time.Second
	}
	if stages == nil {
		stages = observability.NewStageWindow(0)
	}
	return &Router{
		prompts:     prompts,
		memory:      mem,
		model:       adapter,
		weather:     wx,
		metrics:     metrics,
		stages:      stages,
		toolTimeout: toolTimeout,
		userLocks:   make(map[string]*userLock),
	}
}

// Answer routes one user query to a reply. The reply is always user-facing
// natural language; internal failures never leak as the reply text. The
// returned error reports Record-step store failures, which callers may not
// silently ignore.
func (r *Router) Answer(ctx context.Context, userID, query string, onDelta model.DeltaHandler) (string, error) {
	userID = strings.TrimSpace(userID)
	query = strings.TrimSpace(query)
	if userID == "" {
		return "", errors.New("user id is required")
	}
	if query == "" {
		return "", errors.New("query is required")
	}

	// Per-user serialization point: two in-flight queries for the same user
	// must not interleave their memory writes.
	lock := r.acquireUser(userID)
	defer r.releaseUser(userID, lock)

	if r.metrics != nil {
		r.metrics.InFlightQueries.Inc()
		defer r.metrics.InFlightQueries.Dec()
	}
	start := time.Now()
	defer func() {
		r.stages.ObserveSince(observability.StageTurnTotal, start)
		if r.metrics != nil {
			r.metrics.ObserveReplyLatency(time.Since(start))
		}
	}()

	sess := r.buildSession(ctx, userID)

	var (
		toolResults []string
		toolTurns   []memory.TurnRecord
	)

	for iter := 0; iter < maxIterations; iter++ {
		decideStart := time.Now()
		decision, err := r.model.Decide(ctx, model.DecideRequest{
			SystemPrompt: sess.system.Content,
			Context:      sess.context,
			Query:        query,
			ToolResults:  toolResults,
		})
		r.stages.ObserveSince(observability.StageDecide, decideStart)
		if err != nil {
			if r.metrics != nil {
				r.metrics.ModelErrors.WithLabelValues("decide").Inc()
			}
			log.Printf("agent: decide failed for user %s: %v", userID, err)
			return r.finish(ctx, userID, query, toolTurns, replyModelDown, onDelta)
		}

		if decision.Tool == model.ToolNone {
			if len(toolResults) == 0 {
				reply := strings.TrimSpace(decision.Reply)
				if reply == "" {
					reply = replyFallback
				}
				return r.finish(ctx, userID, query, toolTurns, reply, onDelta)
			}
			reply := r.compose(ctx, sess, query, toolResults, onDelta)
			return r.record(ctx, userID, query, toolTurns, reply)
		}

		loc, err := r.resolveLocation(ctx, decision.Location)
		if err != nil {
			if errors.Is(err, ErrLocationNotFound) {
				reply := fmt.Sprintf("I'm sorry, I couldn't find a place called %q. Could you check the spelling?", decision.Location)
				return r.finish(ctx, userID, query, toolTurns, reply, onDelta)
			}
			// Resolution itself failed; same degradation as a tool failure.
			toolTurns = append(toolTurns, failedToolTurn(userID, decision.Tool))
			return r.finish(ctx, userID, query, toolTurns, replyToolDown, onDelta)
		}

		resultText, err := r.invoke(ctx, decision, loc)
		if err != nil {
			toolTurns = append(toolTurns, failedToolTurn(userID, decision.Tool))
			return r.finish(ctx, userID, query, toolTurns, replyToolDown, onDelta)
		}

		toolResults = append(toolResults, resultText)
		toolTurns = append(toolTurns, memory.TurnRecord{
			UserID:   userID,
			Role:     memory.RoleTool,
			ToolName: string(decision.Tool),
			Content:  resultText,
		})
	}

	r.stages.ObserveIndicator("max_iterations")
	log.Printf("agent: iteration ceiling reached for user %s: %v", userID, ErrMaxIterations)
	return r.finish(ctx, userID, query, toolTurns, replyFallback, onDelta)
}

// buildSession assembles the prompt and bounded context for one decision.
// An unreadable history degrades to an empty context rather than failing
// the query; the outage is still visible in the logs and indicators.
func (r *Router) buildSession(ctx context.Context, userID string) session {
	sess := session{system: r.prompts.Get(ctx, prompt.NameAgentSystem)}

	turns, err := r.memory.GetContext(ctx, userID, 0)
	if err != nil {
		log.Printf("agent: context unreadable for user %s, continuing without history: %v", userID, err)
		r.stages.ObserveIndicator("context_unreadable")
		return sess
	}
	sess.context = make([]model.ContextTurn, 0, len(turns))
	for _, t := range turns {
		sess.context = append(sess.context, model.ContextTurn{Role: t.Role, Content: t.Content})
	}
	return sess
}

// resolveLocation geocodes a place name, taking only the first candidate.
func (r *Router) resolveLocation(ctx context.Context, name string) (weather.Location, error) {
	resolveStart := time.Now()
	defer r.stages.ObserveSince(observability.StageResolveLocation, resolveStart)

	callCtx, cancel := context.WithTimeout(ctx, r.toolTimeout)
	defer cancel()

	locs, err := r.weather.ResolveLocation(callCtx, name)
	if err != nil {
		return weather.Location{}, fmt.Errorf("%w: resolve %q: %v", ErrToolFailure, name, err)
	}
	if len(locs) == 0 {
		return weather.Location{}, fmt.Errorf("%w: %q", ErrLocationNotFound, name)
	}
	return locs[0], nil
}

// invoke calls the selected weather tool, retrying once with the same
// arguments on failure to ride out transient provider errors.
func (r *Router) invoke(ctx context.Context, decision model.Decision, loc weather.Location) (string, error) {
	invokeStart := time.Now()
	defer r.stages.ObserveSince(observability.StageToolInvoke, invokeStart)

	var lastErr error
	for attempt := 0; attempt < 2; attempt++ {
		text, err := r.invokeOnce(ctx, decision, loc)
		if err == nil {
			outcome := "ok"
			if attempt > 0 {
				outcome = "retried_ok"
			}
			r.countTool(decision.Tool, outcome)
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if !reliability.IsTransient(err) && !errors.Is(err, weather.ErrProvider) {
			break
		}
	}
	r.countTool(decision.Tool, "error")
	log.Printf("agent: tool %s failed twice for %s: %v", decision.Tool, loc.Name, lastErr)
	return "", fmt.Errorf("%w: %v", ErrToolFailure, lastErr)
}

func (r *Router) invokeOnce(ctx context.Context, decision model.Decision, loc weather.Location) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, r.toolTimeout)
	defer cancel()

	switch decision.Tool {
	case model.ToolCurrentWeather:
		cond, err := r.weather.Current(callCtx, loc.Lat, loc.Lon)
		if err != nil {
			return "", err
		}
		return weather.FormatCurrent(loc, cond), nil
	case model.ToolForecast:
		days, err := r.weather.Forecast(callCtx, loc.Lat, loc.Lon, decision.Days)
		if err != nil {
			return "", err
		}
		return weather.FormatForecast(loc, days), nil
	default:
		return "", fmt.Errorf("unknown tool %q", decision.Tool)
	}
}

func (r *Router) compose(ctx context.Context, sess session, query string, toolResults []string, onDelta model.DeltaHandler) string {
	composeStart := time.Now()
	defer r.stages.ObserveSince(observability.StageCompose, composeStart)

	composePrompt := r.prompts.Get(ctx, prompt.NameCompose)
	reply, err := r.model.Compose(ctx, model.ComposeRequest{
		Prompt:      composePrompt.Content,
		Query:       query,
		ToolResults: toolResults,
		Context:     sess.context,
	}, onDelta)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ModelErrors.WithLabelValues("compose").Inc()
		}
		log.Printf("agent: compose failed: %v", err)
		emit(onDelta, replyModelDown)
		return replyModelDown
	}
	return reply
}

// finish emits a non-streamed reply and records the cycle.
func (r *Router) finish(ctx context.Context, userID, query string, toolTurns []memory.TurnRecord, reply string, onDelta model.DeltaHandler) (string, error) {
	emit(onDelta, reply)
	return r.record(ctx, userID, query, toolTurns, reply)
}

// record persists the full cycle as one atomic batch. The write runs on a
// context detached from request cancellation: a client disconnect either
// happens before the record step (nothing written) or the whole batch
// lands.
func (r *Router) record(ctx context.Context, userID, query string, toolTurns []memory.TurnRecord, reply string) (string, error) {
	recordStart := time.Now()
	defer r.stages.ObserveSince(observability.StageRecord, recordStart)

	batch := make([]memory.TurnRecord, 0, len(toolTurns)+2)
	batch = append(batch, memory.TurnRecord{UserID: userID, Role: memory.RoleUser, Content: query})
	batch = append(batch, toolTurns...)
	batch = append(batch, memory.TurnRecord{UserID: userID, Role: memory.RoleAssistant, Content: reply})

	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()

	if err := r.memory.Record(writeCtx, batch); err != nil {
		log.Printf("agent: record failed for user %s: %v", userID, err)
		return reply, err
	}
	if r.metrics != nil {
		r.metrics.TurnsRecorded.WithLabelValues(memory.RoleUser).Inc()
		r.metrics.TurnsRecorded.WithLabelValues(memory.RoleAssistant).Inc()
		for range toolTurns {
			r.metrics.TurnsRecorded.WithLabelValues(memory.RoleTool).Inc()
		}
	}
	return reply, nil
}

func (r *Router) acquireUser(userID string) *userLock {
	r.lockMu.Lock()
	lock, ok := r.userLocks[userID]
	if !ok {
		lock = &userLock{}
		r.userLocks[userID] = lock
	}
	lock.refs++
	r.lockMu.Unlock()

	lock.mu.Lock()
	return lock
}

func (r *Router) releaseUser(userID string, lock *userLock) {
	lock.mu.Unlock()

	r.lockMu.Lock()
	lock.refs--
	if lock.refs == 0 {
		delete(r.userLocks, userID)
	}
	r.lockMu.Unlock()
}

func (r *Router) countTool(tool model.Tool, outcome string) {
	if r.metrics == nil {
		return
	}
	r.metrics.ToolInvocations.WithLabelValues(string(tool), outcome).Inc()
}

func failedToolTurn(userID string, tool model.Tool) memory.TurnRecord {
	return memory.TurnRecord{
		UserID:   userID,
		Role:     memory.RoleTool,
		ToolName: string(tool),
		Content:  fmt.Sprintf("%s failed: weather data unavailable after retry", tool),
	}
}

func emit(onDelta model.DeltaHandler, reply string) {
	if onDelta == nil || reply == "" {
		return
	}
	// The reply is already final; a delivery error only affects streaming.
	_ = onDelta(reply)
}
