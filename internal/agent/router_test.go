package agent

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mstefanon/nimbus/internal/memory"
	"github.com/mstefanon/nimbus/internal/model"
	"github.com/mstefanon/nimbus/internal/observability"
	"github.com/mstefanon/nimbus/internal/prompt"
	"github.com/mstefanon/nimbus/internal/registry"
	"github.com/mstefanon/nimbus/internal/weather"
)

type routerFixture struct {
	router  *Router
	memory  *memory.Manager
	weather *weather.Mock
	adapter *model.MockAdapter
}

func newRouterFixture(t *testing.T, store memory.Store) *routerFixture {
	t.Helper()
	if store == nil {
		store = memory.NewInMemoryStore()
	}
	mgr := memory.NewManager(store, 10, 40)
	wx := weather.NewMock()
	adapter := model.NewMockAdapter()
	prompts := prompt.NewCache(registry.NewMock(), time.Second, nil)
	stages := observability.NewStageWindow(32)
	return &routerFixture{
		router:  NewRouter(prompts, mgr, adapter, wx, nil, stages, time.Second),
		memory:  mgr,
		weather: wx,
		adapter: adapter,
	}
}

func (f *routerFixture) history(t *testing.T, userID string) []memory.TurnRecord {
	t.Helper()
	turns, err := f.memory.GetContext(context.Background(), userID, 0)
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	return turns
}

func TestAnswerCurrentWeather(t *testing.T) {
	f := newRouterFixture(t, nil)

	reply, err := f.router.Answer(context.Background(), "u1", "What's the weather in London?", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !strings.Contains(reply, "London") {
		t.Errorf("reply = %q, want mention of London", reply)
	}
	if f.weather.CurrentCalls != 1 {
		t.Errorf("CurrentCalls = %d, want 1", f.weather.CurrentCalls)
	}
	if f.weather.ForecastCalls != 0 {
		t.Errorf("ForecastCalls = %d, want 0", f.weather.ForecastCalls)
	}

	turns := f.history(t, "u1")
	if len(turns) != 3 {
		t.Fatalf("recorded %d turns, want 3 (user, tool, assistant)", len(turns))
	}
	if turns[0].Role != memory.RoleUser {
		t.Errorf("turns[0].Role = %q, want %q", turns[0].Role, memory.RoleUser)
	}
	if turns[1].Role != memory.RoleTool || turns[1].ToolName != string(model.ToolCurrentWeather) {
		t.Errorf("turns[1] = %q/%q, want tool turn for %s", turns[1].Role, turns[1].ToolName, model.ToolCurrentWeather)
	}
	if turns[2].Role != memory.RoleAssistant || turns[2].Content != reply {
		t.Errorf("turns[2] = %q/%q, want assistant turn with reply", turns[2].Role, turns[2].Content)
	}
}

func TestAnswerForecast(t *testing.T) {
	f := newRouterFixture(t, nil)

	reply, err := f.router.Answer(context.Background(), "u1", "What's the forecast for Paris over the next 5 days?", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !strings.Contains(reply, "Paris") {
		t.Errorf("reply = %q, want mention of Paris", reply)
	}
	if f.weather.ForecastCalls != 1 {
		t.Errorf("ForecastCalls = %d, want 1", f.weather.ForecastCalls)
	}
	if f.weather.CurrentCalls != 0 {
		t.Errorf("CurrentCalls = %d, want 0", f.weather.CurrentCalls)
	}

	turns := f.history(t, "u1")
	if len(turns) != 3 {
		t.Fatalf("recorded %d turns, want 3", len(turns))
	}
	if turns[1].ToolName != string(model.ToolForecast) {
		t.Errorf("tool turn name = %q, want %q", turns[1].ToolName, model.ToolForecast)
	}
}

func TestAnswerUnknownLocation(t *testing.T) {
	f := newRouterFixture(t, nil)

	reply, err := f.router.Answer(context.Background(), "u1", "What's the weather in Atlantis?", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !strings.Contains(reply, "Atlantis") {
		t.Errorf("reply = %q, want the unknown place named back", reply)
	}
	if f.weather.CurrentCalls != 0 || f.weather.ForecastCalls != 0 {
		t.Errorf("tool calls = %d/%d, want none for an unresolvable place", f.weather.CurrentCalls, f.weather.ForecastCalls)
	}

	turns := f.history(t, "u1")
	if len(turns) != 2 {
		t.Fatalf("recorded %d turns, want 2 (user, assistant), no tool turn", len(turns))
	}
}

func TestAnswerToolFailureAfterRetry(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.weather.FailNext = 2

	reply, err := f.router.Answer(context.Background(), "u1", "weather in Rome", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !strings.Contains(reply, "temporarily unavailable") {
		t.Errorf("reply = %q, want degraded-mode wording", reply)
	}
	if f.weather.CurrentCalls != 2 {
		t.Errorf("CurrentCalls = %d, want 2 (original plus one retry)", f.weather.CurrentCalls)
	}

	turns := f.history(t, "u1")
	if len(turns) != 3 {
		t.Fatalf("recorded %d turns, want 3", len(turns))
	}
	if turns[1].Role != memory.RoleTool || !strings.Contains(turns[1].Content, "failed") {
		t.Errorf("turns[1] = %q/%q, want failed tool turn", turns[1].Role, turns[1].Content)
	}
}

func TestAnswerRetryRecovers(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.weather.FailNext = 1

	reply, err := f.router.Answer(context.Background(), "u1", "weather in Tokyo", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !strings.Contains(reply, "Tokyo") {
		t.Errorf("reply = %q, want successful answer after retry", reply)
	}
	if f.weather.CurrentCalls != 2 {
		t.Errorf("CurrentCalls = %d, want 2", f.weather.CurrentCalls)
	}
}

func TestAnswerIterationCeiling(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.adapter.AlwaysTool = true

	reply, err := f.router.Answer(context.Background(), "u1", "weather in London", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if reply != replyFallback {
		t.Errorf("reply = %q, want fallback %q", reply, replyFallback)
	}
	if f.weather.CurrentCalls != maxIterations {
		t.Errorf("CurrentCalls = %d, want loop bound %d", f.weather.CurrentCalls, maxIterations)
	}

	turns := f.history(t, "u1")
	want := maxIterations + 2
	if len(turns) != want {
		t.Errorf("recorded %d turns, want %d (user, tool turns, assistant)", len(turns), want)
	}
}

func TestAnswerOffTopicSkipsTools(t *testing.T) {
	f := newRouterFixture(t, nil)

	var streamed []string
	onDelta := func(s string) error {
		streamed = append(streamed, s)
		return nil
	}
	reply, err := f.router.Answer(context.Background(), "u1", "tell me a joke", onDelta)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if reply == "" {
		t.Fatal("reply is empty")
	}
	if f.weather.ResolveCalls != 0 {
		t.Errorf("ResolveCalls = %d, want 0 for an off-topic query", f.weather.ResolveCalls)
	}
	if strings.Join(streamed, "") != reply {
		t.Errorf("streamed %q, want the reply %q", strings.Join(streamed, ""), reply)
	}

	turns := f.history(t, "u1")
	if len(turns) != 2 {
		t.Errorf("recorded %d turns, want 2", len(turns))
	}
}

func TestAnswerModelDown(t *testing.T) {
	f := newRouterFixture(t, nil)
	f.adapter.DecideErr = model.ErrUnavailable

	reply, err := f.router.Answer(context.Background(), "u1", "weather in London", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if reply != replyModelDown {
		t.Errorf("reply = %q, want %q", reply, replyModelDown)
	}

	// The degraded exchange is still recorded.
	turns := f.history(t, "u1")
	if len(turns) != 2 {
		t.Errorf("recorded %d turns, want 2", len(turns))
	}
}

type brokenStore struct {
	memory.Store
}

func (s *brokenStore) AppendTurns(context.Context, []memory.TurnRecord) error {
	return errors.New("connection refused")
}

func TestAnswerSurfacesRecordFailure(t *testing.T) {
	f := newRouterFixture(t, &brokenStore{Store: memory.NewInMemoryStore()})

	reply, err := f.router.Answer(context.Background(), "u1", "weather in London", nil)
	if !errors.Is(err, memory.ErrStoreUnavailable) {
		t.Fatalf("Answer() error = %v, want %v", err, memory.ErrStoreUnavailable)
	}
	if reply == "" {
		t.Error("reply is empty, want the composed answer even when the record fails")
	}
}

func TestAnswerValidatesInputs(t *testing.T) {
	f := newRouterFixture(t, nil)

	if _, err := f.router.Answer(context.Background(), "", "hi", nil); err == nil {
		t.Error("Answer() with empty user id should error")
	}
	if _, err := f.router.Answer(context.Background(), "u1", "   ", nil); err == nil {
		t.Error("Answer() with blank query should error")
	}
}

func TestAnswerContextOutageDegrades(t *testing.T) {
	store := &readBrokenStore{Store: memory.NewInMemoryStore()}
	f := newRouterFixture(t, store)

	reply, err := f.router.Answer(context.Background(), "u1", "weather in London", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if !strings.Contains(reply, "London") {
		t.Errorf("reply = %q, want an answer despite unreadable history", reply)
	}
}

type readBrokenStore struct {
	memory.Store
}

func (s *readBrokenStore) RecentTurns(context.Context, string, int) ([]memory.TurnRecord, error) {
	return nil, errors.New("connection refused")
}

// pacingAdapter widens the race window on the first decide of each cycle
// and records how much history that decide saw.
type pacingAdapter struct {
	*model.MockAdapter
	delay time.Duration

	mu           sync.Mutex
	contextSizes []int
}

func (a *pacingAdapter) Decide(ctx context.Context, req model.DecideRequest) (model.Decision, error) {
	if len(req.ToolResults) == 0 {
		a.mu.Lock()
		a.contextSizes = append(a.contextSizes, len(req.Context))
		a.mu.Unlock()
		time.Sleep(a.delay)
	}
	return a.MockAdapter.Decide(ctx, req)
}

// batchStore records the role sequence of every AppendTurns call.
type batchStore struct {
	memory.Store
	mu      sync.Mutex
	batches [][]string
}

func (s *batchStore) AppendTurns(ctx context.Context, records []memory.TurnRecord) error {
	roles := make([]string, 0, len(records))
	for _, r := range records {
		roles = append(roles, r.Role)
	}
	s.mu.Lock()
	s.batches = append(s.batches, roles)
	s.mu.Unlock()
	return s.Store.AppendTurns(ctx, records)
}

func TestAnswerSerializesSameUser(t *testing.T) {
	store := &batchStore{Store: memory.NewInMemoryStore()}
	mgr := memory.NewManager(store, 10, 40)
	adapter := &pacingAdapter{MockAdapter: model.NewMockAdapter(), delay: 30 * time.Millisecond}
	prompts := prompt.NewCache(registry.NewMock(), time.Second, nil)
	router := NewRouter(prompts, mgr, adapter, weather.NewMock(), nil, observability.NewStageWindow(32), time.Second)

	var wg sync.WaitGroup
	for _, q := range []string{"weather in London", "weather in Paris"} {
		wg.Add(1)
		go func(q string) {
			defer wg.Done()
			if _, err := router.Answer(context.Background(), "u1", q, nil); err != nil {
				t.Errorf("Answer(%q) error = %v", q, err)
			}
		}(q)
	}
	wg.Wait()

	// Whichever query went second must have seen the first query's full
	// exchange in its context; without the per-user lock both see none.
	adapter.mu.Lock()
	sizes := append([]int(nil), adapter.contextSizes...)
	adapter.mu.Unlock()
	sort.Ints(sizes)
	if len(sizes) != 2 || sizes[0] != 0 || sizes[1] != 3 {
		t.Fatalf("decide context sizes = %v, want [0 3]", sizes)
	}

	store.mu.Lock()
	batches := append([][]string(nil), store.batches...)
	store.mu.Unlock()
	if len(batches) != 2 {
		t.Fatalf("store received %d batches, want 2", len(batches))
	}
	for i, roles := range batches {
		want := []string{memory.RoleUser, memory.RoleTool, memory.RoleAssistant}
		if len(roles) != len(want) {
			t.Fatalf("batch %d roles = %v, want %v", i, roles, want)
		}
		for j := range want {
			if roles[j] != want[j] {
				t.Fatalf("batch %d roles = %v, want %v", i, roles, want)
			}
		}
	}

	turns, err := mgr.GetContext(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if len(turns) != 6 {
		t.Fatalf("recorded %d turns, want 6", len(turns))
	}
	for i := 1; i < len(turns); i++ {
		if turns[i].Seq <= turns[i-1].Seq {
			t.Fatalf("turn order not monotonic: seq %d after %d", turns[i].Seq, turns[i-1].Seq)
		}
	}

	// With no queries in flight the lock table must be empty again.
	router.lockMu.Lock()
	held := len(router.userLocks)
	router.lockMu.Unlock()
	if held != 0 {
		t.Fatalf("lock table holds %d entries after completion, want 0", held)
	}
}

// cancellingWeather cancels the request context as soon as the tool call
// returns, so the record step runs under a dead request.
type cancellingWeather struct {
	*weather.Mock
	cancel context.CancelFunc
}

func (c *cancellingWeather) Current(ctx context.Context, lat, lon float64) (weather.Conditions, error) {
	cond, err := c.Mock.Current(ctx, lat, lon)
	c.cancel()
	return cond, err
}

// ctxAwareStore refuses writes on a dead context, the way a real driver
// would.
type ctxAwareStore struct {
	memory.Store
}

func (s *ctxAwareStore) AppendTurns(ctx context.Context, records []memory.TurnRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.Store.AppendTurns(ctx, records)
}

func TestAnswerCancelledRequestRecordsWholeBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := &ctxAwareStore{Store: memory.NewInMemoryStore()}
	mgr := memory.NewManager(store, 10, 40)
	wx := &cancellingWeather{Mock: weather.NewMock(), cancel: cancel}
	prompts := prompt.NewCache(registry.NewMock(), time.Second, nil)
	router := NewRouter(prompts, mgr, model.NewMockAdapter(), wx, nil, observability.NewStageWindow(32), time.Second)

	reply, err := router.Answer(ctx, "u1", "weather in London", nil)
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if reply == "" {
		t.Fatal("reply is empty")
	}

	// The cancelled request context must not produce a partial sequence:
	// the user turn, the tool turn, and the reply land together.
	turns, err := mgr.GetContext(context.Background(), "u1", 0)
	if err != nil {
		t.Fatalf("GetContext() error = %v", err)
	}
	if len(turns) != 3 {
		t.Fatalf("recorded %d turns, want all 3 or none, never a partial write", len(turns))
	}
	if turns[0].Role != memory.RoleUser || turns[1].Role != memory.RoleTool || turns[2].Role != memory.RoleAssistant {
		t.Fatalf("turn roles = %q/%q/%q, want user/tool/assistant", turns[0].Role, turns[1].Role, turns[2].Role)
	}
}
