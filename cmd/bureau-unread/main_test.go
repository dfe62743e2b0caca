// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bureau-foundation/unread/lib/clock"
	"github.com/bureau-foundation/unread/lib/config"
	"github.com/bureau-foundation/unread/lib/notification"
	"github.com/bureau-foundation/unread/lib/ref"
	"github.com/bureau-foundation/unread/lib/roomgraph"
	"github.com/bureau-foundation/unread/lib/statecache"
	"github.com/bureau-foundation/unread/lib/testutil"
	"github.com/bureau-foundation/unread/messaging"
)

const accessToken = "syt_test_token"

var (
	me      = ref.MustParseUserID("@me:test.local")
	alice   = ref.MustParseUserID("@alice:test.local")
	team    = ref.MustParseRoomID("!team:test.local")
	general = ref.MustParseRoomID("!general:test.local")
	random  = ref.MustParseRoomID("!random:test.local")
)

const teamFixture = `{
  "user_id": "@me:test.local",
  "rooms": [
    {"id": "!team:test.local", "kind": "space", "name": "Team",
     "children": ["!general:test.local", "!random:test.local"]},
    {"id": "!general:test.local", "name": "general", "unread": {"total": 3, "highlight": 1}},
    {"id": "!random:test.local", "name": "random", "unread": {"total": 1}},
    {"id": "!lobby:test.local", "name": "lobby"},
  ],
}`

func writeFile(t *testing.T, name, content string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), mode); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

// fixtureConfig writes a config that reads teamFixture.
func fixtureConfig(t *testing.T) string {
	t.Helper()
	fixturePath := writeFile(t, "rooms.jsonc", teamFixture, 0o644)
	return writeFile(t, "unread.yaml", "fixture:\n  path: "+fixturePath+"\n"+
		"cache:\n  path: \"\"\nlogging:\n  level: error\n", 0o644)
}

func runCommandLine(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var stdout bytes.Buffer
	err := run(context.Background(), args, &stdout)
	return stdout.String(), err
}

func TestUsage(t *testing.T) {
	output, err := runCommandLine(t)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	for _, name := range []string{"run", "tree", "mark-read", "check", "cache"} {
		if !strings.Contains(output, "  "+name+" ") {
			t.Errorf("usage does not list %s:\n%s", name, output)
		}
	}
}

func TestCommandHelp(t *testing.T) {
	output, err := runCommandLine(t, "tree", "--help")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(output, "--unread-only") || !strings.Contains(output, "--config") {
		t.Fatalf("help missing flags:\n%s", output)
	}
}

func TestUsageErrors(t *testing.T) {
	tests := []struct {
		name string
		args []string
	}{
		{"unknown command", []string{"frobnicate"}},
		{"unknown flag", []string{"tree", "--bogus"}},
		{"extra argument", []string{"check", "--config", "unused", "extra"}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if test.name == "extra argument" {
				test.args[2] = fixtureConfig(t)
			}
			_, err := runCommandLine(t, test.args...)
			var coded *exitError
			if !errors.As(err, &coded) || coded.code != 2 {
				t.Fatalf("run(%v) = %v, want exit code 2", test.args, err)
			}
		})
	}
}

func TestMissingConfig(t *testing.T) {
	t.Setenv(config.EnvironmentVariable, "")
	if _, err := runCommandLine(t, "tree"); !errors.Is(err, config.ErrNoConfig) {
		t.Fatalf("run = %v, want ErrNoConfig", err)
	}
}

func TestInvalidConfig(t *testing.T) {
	path := writeFile(t, "unread.yaml", "logging:\n  level: loud\n", 0o644)
	_, err := runCommandLine(t, "tree", "--config", path)
	if err == nil || !strings.Contains(err.Error(), "invalid configuration") {
		t.Fatalf("run = %v, want invalid configuration", err)
	}
}

func TestTreeFromFixture(t *testing.T) {
	output, err := runCommandLine(t, "tree", "--config", fixtureConfig(t))
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	want := "" +
		"lobby\n" +
		"Team [4 @1]\n" +
		"├── general [3 @1]\n" +
		"└── random [1]\n"
	if output != want {
		t.Fatalf("tree:\n%s\nwant:\n%s", output, want)
	}
}

func TestTreeFromConfigVariable(t *testing.T) {
	t.Setenv(config.EnvironmentVariable, fixtureConfig(t))
	output, err := runCommandLine(t, "tree", "--unread-only")
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	if strings.Contains(output, "lobby") || !strings.Contains(output, "Team [4 @1]") {
		t.Fatalf("unread-only tree:\n%s", output)
	}
}

func TestCheckFixture(t *testing.T) {
	output, err := runCommandLine(t, "check", "--config", fixtureConfig(t))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if output != "ok: 4 containers, 3 with unread activity\n" {
		t.Fatalf("check output %q", output)
	}
}

func TestCheckRollupDetectsDrift(t *testing.T) {
	graph := roomgraph.New(me, roomgraph.Options{Logger: testutil.Logger(t)})
	graph.SetChild(team, general, true)
	aggregator := notification.New(graph, nil, notification.Options{Logger: testutil.Logger(t)})
	t.Cleanup(aggregator.Close)

	// Counts injected directly, with no raw unread behind them.
	aggregator.Increment(general, notification.Counts{Total: 2}, ref.RoomID{})

	err := checkRollup(graph, aggregator)
	if err == nil || !strings.Contains(err.Error(), general.String()) {
		t.Fatalf("checkRollup = %v, want a mismatch for %s", err, general)
	}
}

func TestMarkReadRejectsFixture(t *testing.T) {
	_, err := runCommandLine(t, "mark-read", "--config", fixtureConfig(t), "general")
	if err == nil || !strings.Contains(err.Error(), "needs a homeserver") {
		t.Fatalf("mark-read = %v, want homeserver error", err)
	}
}

// homeserver is a fake Matrix homeserver answering the calls the
// binary makes. Initial syncs get initialSync; incremental syncs
// block until the client gives up.
type homeserver struct {
	server  *httptest.Server
	polling chan string

	mutex    sync.Mutex
	since    []string
	receipts []string
}

func newHomeserver(t *testing.T) *homeserver {
	t.Helper()
	h := &homeserver{polling: make(chan string, 16)}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /_matrix/client/v3/account/whoami", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, messaging.WhoAmIResponse{UserID: me})
	})
	mux.HandleFunc("GET /_matrix/client/v3/sync", func(w http.ResponseWriter, r *http.Request) {
		since := r.URL.Query().Get("since")
		h.mutex.Lock()
		h.since = append(h.since, since)
		h.mutex.Unlock()
		if since == "" {
			writeJSON(w, initialSync())
			return
		}
		select {
		case h.polling <- since:
		default:
		}
		<-r.Context().Done()
	})
	mux.HandleFunc("POST /_matrix/client/v3/rooms/{room}/receipt/{type}/{event}", func(w http.ResponseWriter, r *http.Request) {
		h.mutex.Lock()
		h.receipts = append(h.receipts, r.PathValue("room")+" "+r.PathValue("type")+" "+r.PathValue("event"))
		h.mutex.Unlock()
		writeJSON(w, struct{}{})
	})

	h.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+accessToken {
			w.WriteHeader(http.StatusUnauthorized)
			writeJSON(w, map[string]string{"errcode": "M_UNKNOWN_TOKEN", "error": "bad token"})
			return
		}
		mux.ServeHTTP(w, r)
	}))
	t.Cleanup(h.server.Close)
	return h
}

func (h *homeserver) syncs() []string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return append([]string(nil), h.since...)
}

func (h *homeserver) sentReceipts() []string {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	return append([]string(nil), h.receipts...)
}

// config writes a config pointing at the fake server, with the state
// cache at cachePath.
func (h *homeserver) config(t *testing.T, cachePath string) string {
	t.Helper()
	return h.configWithToken(t, cachePath, accessToken)
}

func (h *homeserver) configWithToken(t *testing.T, cachePath, token string) string {
	t.Helper()
	tokenPath := writeFile(t, "token", token+"\n", 0o600)
	return writeFile(t, "unread.yaml", ""+
		"matrix:\n"+
		"  homeserver_url: "+h.server.URL+"\n"+
		"  user_id: \"@me:test.local\"\n"+
		"  token_file: "+tokenPath+"\n"+
		"cache:\n"+
		"  path: \""+cachePath+"\"\n"+
		"logging:\n"+
		"  level: error\n", 0o644)
}

func writeJSON(w http.ResponseWriter, value any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(value)
}

func stateKey(key string) *string { return &key }

func stateEvent(eventType ref.EventType, key string, content map[string]any) messaging.Event {
	return messaging.Event{Type: eventType, Sender: alice, StateKey: stateKey(key), Content: content}
}

func message(id string) messaging.Event {
	return messaging.Event{
		EventID: ref.MustParseEventID(id),
		Type:    ref.EventTypeMessage,
		Sender:  alice,
		Content: map[string]any{"body": "hello"},
	}
}

// initialSync is a Team space holding general (3 unread, 1
// highlight) and random (read).
func initialSync() *messaging.SyncResponse {
	child := func(id ref.RoomID) messaging.Event {
		return stateEvent(ref.EventTypeSpaceChild, id.String(), map[string]any{"via": []any{"test.local"}})
	}
	return &messaging.SyncResponse{
		NextBatch: "batch-1",
		Rooms: messaging.RoomsSection{
			Join: map[ref.RoomID]messaging.JoinedRoom{
				team: {
					State: messaging.StateSection{Events: []messaging.Event{
						stateEvent(ref.EventTypeCreate, "", map[string]any{"type": "m.space"}),
						stateEvent(ref.EventTypeName, "", map[string]any{"name": "Team"}),
						child(general),
						child(random),
					}},
				},
				general: {
					State: messaging.StateSection{Events: []messaging.Event{
						stateEvent(ref.EventTypeCreate, "", map[string]any{}),
						stateEvent(ref.EventTypeName, "", map[string]any{"name": "general"}),
					}},
					Timeline:            messaging.TimelineSection{Events: []messaging.Event{message("$g1"), message("$g2"), message("$g3")}},
					UnreadNotifications: &messaging.UnreadNotificationCounts{NotificationCount: 3, HighlightCount: 1},
				},
				random: {
					State: messaging.StateSection{Events: []messaging.Event{
						stateEvent(ref.EventTypeCreate, "", map[string]any{}),
						stateEvent(ref.EventTypeName, "", map[string]any{"name": "random"}),
					}},
					Timeline:            messaging.TimelineSection{Events: []messaging.Event{message("$r1")}},
					UnreadNotifications: &messaging.UnreadNotificationCounts{},
					Ephemeral: messaging.EphemeralSection{Events: []messaging.Event{{
						Type: ref.EventTypeReceipt,
						Content: map[string]any{
							"$r1": map[string]any{
								messaging.ReceiptTypeRead: map[string]any{
									me.String(): map[string]any{"ts": 1},
								},
							},
						},
					}}},
				},
			},
		},
	}
}

func TestTreeAgainstHomeserver(t *testing.T) {
	h := newHomeserver(t)
	output, err := runCommandLine(t, "tree", "--config", h.config(t, ""))
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	want := "" +
		"Team [3 @1]\n" +
		"├── general [3 @1]\n" +
		"└── random\n"
	if output != want {
		t.Fatalf("tree:\n%s\nwant:\n%s", output, want)
	}
}

func TestMarkRead(t *testing.T) {
	tests := []struct {
		name     string
		argument string
	}{
		{"by id", general.String()},
		{"by name", "general"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			h := newHomeserver(t)
			output, err := runCommandLine(t, "mark-read", "--config", h.config(t, ""), test.argument)
			if err != nil {
				t.Fatalf("mark-read: %v", err)
			}
			if output != "marked !general:test.local read up to $g3\n" {
				t.Fatalf("output %q", output)
			}
			receipts := h.sentReceipts()
			if len(receipts) != 1 || receipts[0] != "!general:test.local m.read $g3" {
				t.Fatalf("receipts = %v", receipts)
			}
		})
	}
}

func TestMarkReadUnknownRoom(t *testing.T) {
	h := newHomeserver(t)
	for _, argument := range []string{"!missing:test.local", "nowhere"} {
		if _, err := runCommandLine(t, "mark-read", "--config", h.config(t, ""), argument); err == nil {
			t.Errorf("mark-read %s succeeded", argument)
		}
	}
	if receipts := h.sentReceipts(); len(receipts) != 0 {
		t.Fatalf("receipts sent for unknown rooms: %v", receipts)
	}
}

func TestBadTokenIsReported(t *testing.T) {
	h := newHomeserver(t)
	_, err := runCommandLine(t, "tree", "--config", h.configWithToken(t, "", "syt_revoked"))
	if err == nil || !strings.Contains(err.Error(), "validating access token") {
		t.Fatalf("tree = %v, want token validation failure", err)
	}
}

// startRun runs the daemon until the fake server sees a long-poll,
// then stops it and returns the since token of that poll.
func startRun(t *testing.T, h *homeserver, configPath string) string {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"run", "--config", configPath}, &bytes.Buffer{}) }()

	since := testutil.RequireReceive(t, h.polling, 10*time.Second, "waiting for long-poll")
	cancel()
	if err := testutil.RequireReceive(t, done, 10*time.Second, "waiting for run to stop"); err != nil {
		t.Fatalf("run: %v", err)
	}
	return since
}

func TestRunPersistsAndResumes(t *testing.T) {
	h := newHomeserver(t)
	cachePath := filepath.Join(t.TempDir(), "state", "state.bunc")
	configPath := h.config(t, cachePath)

	if since := startRun(t, h, configPath); since != "batch-1" {
		t.Fatalf("first run polled since %q, want batch-1", since)
	}
	state, err := statecache.Load(cachePath)
	if err != nil {
		t.Fatalf("loading cache after first run: %v", err)
	}
	if state.NextBatch != "batch-1" || state.UserID != me || len(state.Graph.Rooms) != 3 {
		t.Fatalf("cache = next_batch %q user %s rooms %d", state.NextBatch, state.UserID, len(state.Graph.Rooms))
	}

	// The second run resumes from the cache without an initial sync.
	if since := startRun(t, h, configPath); since != "batch-1" {
		t.Fatalf("second run polled since %q, want batch-1", since)
	}
	syncs := h.syncs()
	initial := 0
	for _, since := range syncs {
		if since == "" {
			initial++
		}
	}
	if initial != 1 {
		t.Fatalf("initial syncs = %d (all syncs %q), want 1", initial, syncs)
	}
}

func TestRunFixtureStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- run(ctx, []string{"run", "--config", fixtureConfig(t)}, &bytes.Buffer{}) }()
	cancel()
	if err := testutil.RequireReceive(t, done, 10*time.Second, "waiting for run to stop"); err != nil {
		t.Fatalf("run: %v", err)
	}
}

func newTestApp(t *testing.T, cachePath string) *app {
	t.Helper()
	cfg := config.Default()
	cfg.Cache.Path = cachePath
	return &app{config: cfg, logger: testutil.Logger(t), stdout: &bytes.Buffer{}}
}

func sampleGraph(t *testing.T, user ref.UserID) *roomgraph.Graph {
	t.Helper()
	graph := roomgraph.New(user, roomgraph.Options{Logger: testutil.Logger(t)})
	graph.SetChild(team, general, true)
	graph.SetName(team, "Team")
	return graph
}

func TestCacheSaverThrottles(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bunc")
	fake := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	saver := &cacheSaver{
		path:        path,
		compression: statecache.CompressionZstd,
		graph:       sampleGraph(t, me),
		clock:       fake,
		logger:      testutil.Logger(t),
	}
	saved := func() string {
		t.Helper()
		state, err := statecache.Load(path)
		if err != nil {
			t.Fatalf("Load: %v", err)
		}
		return state.NextBatch
	}

	saver.batch("b1")
	if got := saved(); got != "b1" {
		t.Fatalf("after first batch cache holds %q", got)
	}
	saver.batch("b2")
	if got := saved(); got != "b1" {
		t.Fatalf("batch within the interval was saved: %q", got)
	}
	fake.Advance(cacheInterval)
	saver.batch("b3")
	if got := saved(); got != "b3" {
		t.Fatalf("after the interval cache holds %q, want b3", got)
	}
	saver.batch("b4")
	saver.flush()
	if got := saved(); got != "b4" {
		t.Fatalf("flush left %q, want b4", got)
	}
}

func TestRestoreCache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.bunc")
	source := sampleGraph(t, me)
	state := statecache.State{NextBatch: "batch-9", UserID: me, Graph: source.Snapshot()}
	if err := statecache.Save(path, state, statecache.CompressionLZ4); err != nil {
		t.Fatalf("Save: %v", err)
	}

	a := newTestApp(t, path)
	graph := a.newGraph(me)
	if since := a.restoreCache(graph); since != "batch-9" {
		t.Fatalf("restoreCache = %q, want batch-9", since)
	}
	if room, ok := graph.Room(team); !ok || room.Name != "Team" {
		t.Fatalf("restored team = %+v, %v", room, ok)
	}

	other := a.newGraph(alice)
	if since := a.restoreCache(other); since != "" {
		t.Fatalf("cache for another account restored: %q", since)
	}
	if len(other.Containers()) != 0 {
		t.Fatalf("graph of another account modified: %v", other.Containers())
	}
}

func TestRestoreCacheDiscardsCorruptFile(t *testing.T) {
	path := writeFile(t, "state.bunc", "BUNC not really a cache", 0o600)
	a := newTestApp(t, path)
	if since := a.restoreCache(a.newGraph(me)); since != "" {
		t.Fatalf("restoreCache = %q from a corrupt file", since)
	}
	if _, err := os.Stat(path); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("corrupt cache not removed: %v", err)
	}
}

func TestCacheCommand(t *testing.T) {
	cachePath := filepath.Join(t.TempDir(), "state.bunc")
	fixturePath := writeFile(t, "rooms.jsonc", teamFixture, 0o644)
	configPath := writeFile(t, "unread.yaml", "fixture:\n  path: "+fixturePath+"\n"+
		"cache:\n  path: "+cachePath+"\nlogging:\n  level: error\n", 0o644)

	output, err := runCommandLine(t, "cache", "--config", configPath)
	if err != nil || !strings.Contains(output, "no state cache") {
		t.Fatalf("cache with no file = %q, %v", output, err)
	}

	state := statecache.State{NextBatch: "batch-5", UserID: me, Graph: sampleGraph(t, me).Snapshot()}
	if err := statecache.Save(cachePath, state, statecache.CompressionZstd); err != nil {
		t.Fatalf("Save: %v", err)
	}

	output, err = runCommandLine(t, "cache", "--config", configPath)
	if err != nil {
		t.Fatalf("cache: %v", err)
	}
	for _, want := range []string{"compression:  ", "digest:       ", "next batch:   batch-5", "rooms:        2", "user:         @me:test.local"} {
		if !strings.Contains(output, want) {
			t.Errorf("cache output missing %q:\n%s", want, output)
		}
	}

	output, err = runCommandLine(t, "cache", "--config", configPath, "--diagnose")
	if err != nil {
		t.Fatalf("cache --diagnose: %v", err)
	}
	if !strings.Contains(output, `"next_batch"`) || !strings.Contains(output, `"batch-5"`) {
		t.Errorf("diagnostic output missing next_batch:\n%s", output)
	}

	if _, err := runCommandLine(t, "cache", "--config", configPath, "--clear"); err != nil {
		t.Fatalf("cache --clear: %v", err)
	}
	if _, err := os.Stat(cachePath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("cache file survived --clear: %v", err)
	}
}
