package cloudsync

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/mschirtzinger/studysync/internal/kvdb"
	"github.com/mschirtzinger/studysync/internal/localstore"
	"github.com/mschirtzinger/studysync/internal/model"
	"github.com/mschirtzinger/studysync/internal/remote"
	"github.com/mschirtzinger/studysync/internal/state"
)

const testUser = "user-1"

var errNetwork = errors.New("network down")

// recordingStore records successful writes and lets tests fail writes or
// drop streams.
type recordingStore struct {
	*remote.MemoryStore
	fail atomic.Bool
	puts chan model.AppData

	mu    sync.Mutex
	drops []chan error
}

func newRecordingStore() *recordingStore {
	return &recordingStore{
		MemoryStore: remote.NewMemoryStore(),
		puts:        make(chan model.AppData, 16),
	}
}

func (r *recordingStore) Put(ctx context.Context, id string, d model.AppData) error {
	if r.fail.Load() {
		return errNetwork
	}
	if err := r.MemoryStore.Put(ctx, id, d); err != nil {
		return err
	}
	r.puts <- d
	return nil
}

func (r *recordingStore) Subscribe(ctx context.Context, id string, fn func(model.AppData)) (<-chan error, error) {
	inner, err := r.MemoryStore.Subscribe(ctx, id, fn)
	if err != nil {
		return nil, err
	}
	drop := make(chan error, 1)
	r.mu.Lock()
	r.drops = append(r.drops, drop)
	r.mu.Unlock()

	out := make(chan error, 1)
	go func() {
		select {
		case err := <-inner:
			out <- err
		case err := <-drop:
			out <- err
		}
	}()
	return out, nil
}

func (r *recordingStore) subscriptions() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.drops)
}

func (r *recordingStore) dropLatest(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.drops[len(r.drops)-1] <- err
}

type notice struct {
	level   state.Level
	message string
}

type noticeLog struct {
	mu      sync.Mutex
	notices []notice
}

func (n *noticeLog) Notify(level state.Level, message string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.notices = append(n.notices, notice{level, message})
}

func (n *noticeLog) has(level state.Level) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, x := range n.notices {
		if x.level == level {
			return true
		}
	}
	return false
}

type testEnv struct {
	state   *state.Store
	remote  *recordingStore
	clock   *clock.Mock
	notices *noticeLog
	sync    *Coordinator
	remotes atomic.Int32
}

func setup(t *testing.T, identity string) *testEnv {
	t.Helper()
	db, err := kvdb.Open(filepath.Join(t.TempDir(), "sync.db"))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	if err := db.InitSchema(); err != nil {
		t.Fatalf("InitSchema() failed: %v", err)
	}

	clk := clock.NewMock()
	clk.Set(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))

	st, err := state.New(state.Config{
		Persister: localstore.New(db, &localstore.Config{Clock: clk}),
		Confirmer: state.AlwaysConfirm,
		Clock:     clk,
	})
	if err != nil {
		t.Fatalf("state.New() failed: %v", err)
	}
	if err := st.Init(identity); err != nil {
		t.Fatalf("Init() failed: %v", err)
	}

	env := &testEnv{
		state:   st,
		remote:  newRecordingStore(),
		clock:   clk,
		notices: &noticeLog{},
	}
	st.Subscribe(func(ch state.Change) {
		if ch.Origin == state.OriginRemote {
			env.remotes.Add(1)
		}
	})
	env.sync = New(st, &Config{
		DebounceInterval: 5 * time.Second,
		IgnoreWindow:     2 * time.Second,
		ReconnectDelay:   10 * time.Second,
		RequestTimeout:   time.Second,
		Clock:            clk,
		Notifier:         env.notices,
	})
	t.Cleanup(func() { _ = env.sync.Close() })
	return env
}

// bindInSync stores the local aggregate remotely and binds to it, so no
// upload happens during Bind.
func bindInSync(t *testing.T, env *testEnv) {
	t.Helper()
	if err := env.remote.MemoryStore.Put(context.Background(), testUser, env.state.Snapshot()); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := env.sync.Bind(context.Background(), testUser, env.remote); err != nil {
		t.Fatalf("Bind() failed: %v", err)
	}
	expectNoPut(t, env)
}

func addTask(t *testing.T, env *testEnv, title string) {
	t.Helper()
	if _, err := env.state.AddTask(model.Task{Subject: "Math", Topic: title, StudyType: model.StudyTypeStudy}); err != nil {
		t.Fatalf("AddTask() failed: %v", err)
	}
}

func waitPut(t *testing.T, env *testEnv) model.AppData {
	t.Helper()
	select {
	case d := <-env.remote.puts:
		return d
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for upload")
		return model.AppData{}
	}
}

func expectNoPut(t *testing.T, env *testEnv) {
	t.Helper()
	select {
	case d := <-env.remote.puts:
		t.Fatalf("unexpected upload with lastUpdated %d", d.LastUpdated)
	case <-time.After(50 * time.Millisecond):
	}
}

func currentGen(c *Coordinator) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestBind_AnonymousNeverBinds(t *testing.T) {
	env := setup(t, localstore.LocalIdentity)

	if err := env.sync.Bind(context.Background(), localstore.LocalIdentity, env.remote); err != nil {
		t.Fatalf("Bind() failed: %v", err)
	}
	if got := env.sync.Status(); got != StatusOffline {
		t.Errorf("Status() = %q, want %q", got, StatusOffline)
	}
	if got := env.sync.Identity(); got != "" {
		t.Errorf("Identity() = %q, want empty", got)
	}

	addTask(t, env, "offline work")
	env.clock.Add(10 * time.Second)
	expectNoPut(t, env)
	if env.remote.subscriptions() != 0 {
		t.Error("anonymous identity opened a remote stream")
	}
}

func TestBind_SeedsMissingRemoteDocument(t *testing.T) {
	env := setup(t, testUser)
	local := env.state.Snapshot()

	if err := env.sync.Bind(context.Background(), testUser, env.remote); err != nil {
		t.Fatalf("Bind() failed: %v", err)
	}
	seed := waitPut(t, env)
	if len(seed.Tasks) != len(local.Tasks) {
		t.Errorf("seed has %d tasks, want %d", len(seed.Tasks), len(local.Tasks))
	}
	if seed.LastUpdated < local.LastUpdated {
		t.Errorf("seed lastUpdated %d older than local %d", seed.LastUpdated, local.LastUpdated)
	}
	if got := env.sync.Status(); got != StatusConnected {
		t.Errorf("Status() = %q, want %q", got, StatusConnected)
	}

	// The remote document now exists, so binding again does not reseed.
	env.sync.Unbind()
	if err := env.sync.Bind(context.Background(), testUser, env.remote); err != nil {
		t.Fatalf("second Bind() failed: %v", err)
	}
	expectNoPut(t, env)
}

func TestBind_AdoptsNewerRemote(t *testing.T) {
	env := setup(t, testUser)
	newer := env.state.Snapshot()
	newer.XP = 777
	newer.LastUpdated += 60_000
	if err := env.remote.MemoryStore.Put(context.Background(), testUser, newer); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	if err := env.sync.Bind(context.Background(), testUser, env.remote); err != nil {
		t.Fatalf("Bind() failed: %v", err)
	}
	if got := env.state.Snapshot().XP; got != 777 {
		t.Errorf("XP = %d after bind, want 777", got)
	}
	expectNoPut(t, env)
}

func TestDebounce_CollapsesBurst(t *testing.T) {
	env := setup(t, testUser)
	bindInSync(t, env)
	before := len(env.state.Snapshot().Tasks)

	for i := 0; i < 5; i++ {
		addTask(t, env, "burst")
		env.clock.Add(200 * time.Millisecond)
	}
	if !env.sync.Pending() {
		t.Fatal("Pending() = false after local changes")
	}
	expectNoPut(t, env)

	env.clock.Add(5 * time.Second)
	got := waitPut(t, env)
	if len(got.Tasks) != before+5 {
		t.Errorf("uploaded %d tasks, want %d", len(got.Tasks), before+5)
	}
	expectNoPut(t, env)
	if env.sync.Pending() {
		t.Error("Pending() = true after upload")
	}
}

func TestDebounce_IgnoresNonLocalChanges(t *testing.T) {
	env := setup(t, testUser)
	bindInSync(t, env)

	env.sync.OnChange(state.Change{Origin: state.OriginRemote, Identity: testUser})
	env.sync.OnChange(state.Change{Origin: state.OriginHydrate, Identity: testUser})
	env.sync.OnChange(state.Change{Origin: state.OriginLocal, Identity: "someone-else"})

	env.clock.Add(10 * time.Second)
	expectNoPut(t, env)
}

func TestEcho_OwnUploadIsIgnored(t *testing.T) {
	env := setup(t, testUser)
	bindInSync(t, env)

	addTask(t, env, "echo")
	revision := env.state.Snapshot()
	env.clock.Add(5 * time.Second)
	uploaded := waitPut(t, env)

	// The memory store pushed the upload back to our own subscription.
	time.Sleep(50 * time.Millisecond)
	if n := env.remotes.Load(); n != 0 {
		t.Errorf("own upload applied %d times", n)
	}
	if got := env.state.Snapshot().LastUpdated; got != revision.LastUpdated {
		t.Errorf("local lastUpdated changed to %d, want %d", got, revision.LastUpdated)
	}

	// Replaying the same document is still an echo.
	env.sync.onRemote(currentGen(env.sync), uploaded)
	env.clock.Add(10 * time.Second)
	expectNoPut(t, env)
	if n := env.remotes.Load(); n != 0 {
		t.Errorf("echo applied %d times", n)
	}
}

func TestRemote_AppliesNewerOnce(t *testing.T) {
	env := setup(t, testUser)
	bindInSync(t, env)

	other := env.state.Snapshot()
	other.XP = 500
	other.LastUpdated += 10_000
	if err := env.remote.MemoryStore.Put(context.Background(), testUser, other); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	waitFor(t, "remote document", func() bool { return env.state.Snapshot().XP == 500 })

	env.sync.onRemote(currentGen(env.sync), other)

	if n := env.remotes.Load(); n != 1 {
		t.Errorf("remote applied %d times, want 1", n)
	}
	env.clock.Add(10 * time.Second)
	expectNoPut(t, env)
}

func TestIgnoreWindow_HoldsUpload(t *testing.T) {
	env := setup(t, testUser)
	bindInSync(t, env)
	base := env.state.Snapshot().LastUpdated

	env.clock.Add(time.Second)
	addTask(t, env, "held") // debounce fires at +6s

	// At +4.5s a remote document arrives that is newer than the baseline
	// but older than the local edit, so it is not adopted.
	env.clock.Add(3500 * time.Millisecond)
	stale := env.state.Snapshot()
	stale.LastUpdated = base + 500
	env.sync.onRemote(currentGen(env.sync), stale)
	if n := env.remotes.Load(); n != 0 {
		t.Fatalf("stale remote applied %d times", n)
	}

	// The debounce expires inside the window and is held until +6.5s.
	env.clock.Add(1500 * time.Millisecond)
	expectNoPut(t, env)
	if !env.sync.Pending() {
		t.Fatal("held change was dropped")
	}

	env.clock.Add(time.Second)
	got := waitPut(t, env)
	if got.LastUpdated <= stale.LastUpdated {
		t.Errorf("uploaded lastUpdated %d not newer than %d", got.LastUpdated, stale.LastUpdated)
	}
}

func TestFlush_UploadsPendingImmediately(t *testing.T) {
	env := setup(t, testUser)
	bindInSync(t, env)

	if err := env.sync.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() with nothing pending failed: %v", err)
	}
	expectNoPut(t, env)

	addTask(t, env, "flush me")
	if err := env.sync.Flush(context.Background()); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}
	waitPut(t, env)

	// The debounce timer was cancelled.
	env.clock.Add(10 * time.Second)
	expectNoPut(t, env)
}

func TestUpload_FailureReportsErrorAndStaysPending(t *testing.T) {
	env := setup(t, testUser)
	bindInSync(t, env)
	env.remote.fail.Store(true)

	addTask(t, env, "unsent")
	if err := env.sync.Flush(context.Background()); !errors.Is(err, errNetwork) {
		t.Fatalf("Flush() error = %v, want %v", err, errNetwork)
	}
	if got := env.sync.Status(); got != StatusError {
		t.Errorf("Status() = %q, want %q", got, StatusError)
	}
	if !errors.Is(env.sync.LastError(), errNetwork) {
		t.Errorf("LastError() = %v, want %v", env.sync.LastError(), errNetwork)
	}
	if !env.notices.has(state.LevelError) {
		t.Error("failure was not reported")
	}
	if !env.sync.Pending() {
		t.Fatal("failed change is no longer pending")
	}
	// Local state is untouched by the failure.
	if got := env.state.Snapshot().Tasks; got[len(got)-1].Topic != "unsent" {
		t.Errorf("last task = %q, want %q", got[len(got)-1].Topic, "unsent")
	}

	env.remote.fail.Store(false)
	if err := env.sync.Flush(context.Background()); err != nil {
		t.Fatalf("retry Flush() failed: %v", err)
	}
	waitPut(t, env)
	if got := env.sync.Status(); got != StatusConnected {
		t.Errorf("Status() = %q, want %q", got, StatusConnected)
	}
	if !env.notices.has(state.LevelSuccess) {
		t.Error("recovery was not reported")
	}
}

func TestStream_ReconnectsAfterDrop(t *testing.T) {
	env := setup(t, testUser)
	bindInSync(t, env)

	env.remote.dropLatest(errNetwork)
	waitFor(t, "disconnected status", func() bool { return env.sync.Status() == StatusDisconnected })
	if !env.notices.has(state.LevelWarning) {
		t.Error("disconnect was not reported")
	}

	env.clock.Add(10 * time.Second)
	waitFor(t, "reconnect", func() bool {
		return env.remote.subscriptions() == 2 && env.sync.Status() == StatusConnected
	})
}

func TestUnbind_StopsSync(t *testing.T) {
	env := setup(t, testUser)
	bindInSync(t, env)

	addTask(t, env, "dropped")
	env.sync.Unbind()
	if got := env.sync.Status(); got != StatusOffline {
		t.Errorf("Status() = %q, want %q", got, StatusOffline)
	}
	env.clock.Add(10 * time.Second)
	expectNoPut(t, env)

	// Remote pushes no longer reach the state store.
	newer := env.state.Snapshot()
	newer.LastUpdated += 60_000
	if err := env.remote.MemoryStore.Put(context.Background(), testUser, newer); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if n := env.remotes.Load(); n != 0 {
		t.Errorf("remote applied %d times after Unbind", n)
	}
}

func TestPush(t *testing.T) {
	env := setup(t, testUser)
	if err := env.sync.Push(context.Background()); !errors.Is(err, ErrNotBound) {
		t.Fatalf("Push() unbound error = %v, want %v", err, ErrNotBound)
	}

	bindInSync(t, env)
	if err := env.sync.Push(context.Background()); err != nil {
		t.Fatalf("Push() failed: %v", err)
	}
	got := waitPut(t, env)
	if got.LastUpdated < env.state.Snapshot().LastUpdated {
		t.Errorf("pushed lastUpdated %d is stale", got.LastUpdated)
	}
}

// hookedState runs afterApply once ApplyRemote has committed, standing in
// for a local edit that lands while onRemote has released its lock.
type hookedState struct {
	*state.Store
	armed      atomic.Bool
	afterApply func()
}

func (h *hookedState) ApplyRemote(d model.AppData) (bool, error) {
	applied, err := h.Store.ApplyRemote(d)
	if h.armed.CompareAndSwap(true, false) {
		h.afterApply()
	}
	return applied, err
}

func TestRemote_LocalEditDuringApplyStaysPending(t *testing.T) {
	env := setup(t, testUser)
	hooked := &hookedState{Store: env.state}
	hooked.afterApply = func() { addTask(t, env, "typed during apply") }
	c := New(hooked, &Config{
		DebounceInterval: 5 * time.Second,
		IgnoreWindow:     2 * time.Second,
		ReconnectDelay:   10 * time.Second,
		RequestTimeout:   time.Second,
		Clock:            env.clock,
	})
	t.Cleanup(func() { _ = c.Close() })

	if err := env.remote.MemoryStore.Put(context.Background(), testUser, env.state.Snapshot()); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := c.Bind(context.Background(), testUser, env.remote); err != nil {
		t.Fatalf("Bind() failed: %v", err)
	}
	expectNoPut(t, env)

	other := env.state.Snapshot()
	other.XP = 500
	other.LastUpdated += 10_000
	hooked.armed.Store(true)
	c.onRemote(currentGen(c), other)

	if !c.Pending() {
		t.Fatal("local edit made during remote apply was dropped")
	}
	env.clock.Add(6 * time.Second)
	got := waitPut(t, env)
	if got.XP != 500 {
		t.Errorf("uploaded XP = %d, want 500", got.XP)
	}
	if last := got.Tasks[len(got.Tasks)-1]; last.Topic != "typed during apply" {
		t.Errorf("last uploaded task = %q, want %q", last.Topic, "typed during apply")
	}
}

func TestFlush_ConcurrentCallsUploadOnce(t *testing.T) {
	env := setup(t, testUser)
	bindInSync(t, env)

	addTask(t, env, "once")
	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := env.sync.Flush(context.Background()); err != nil {
				t.Errorf("Flush() failed: %v", err)
			}
		}()
	}
	wg.Wait()
	waitPut(t, env)
	expectNoPut(t, env)

	// A caller that got past its own pending check before the first upload
	// cleared it finds nothing left to send.
	if err := env.sync.upload(context.Background(), currentGen(env.sync), false); err != nil {
		t.Fatalf("upload() failed: %v", err)
	}
	expectNoPut(t, env)
	env.clock.Add(10 * time.Second)
	expectNoPut(t, env)
}
