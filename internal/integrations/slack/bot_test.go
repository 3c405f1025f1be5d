package slackbot

import (
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"

	"github.com/raulgabino/panwhat-sub000/internal/config"
	"github.com/raulgabino/panwhat-sub000/internal/domain"
	"github.com/raulgabino/panwhat-sub000/internal/jobs"
	"github.com/raulgabino/panwhat-sub000/internal/storage/sqlite"
)

type slackCall struct {
	method  string
	channel string
	user    string
	text    string
}

type mockSlack struct {
	mu        sync.Mutex
	calls     []slackCall
	userInfos int
	failPosts bool
}

func (m *mockSlack) record(c slackCall) {
	m.mu.Lock()
	m.calls = append(m.calls, c)
	m.mu.Unlock()
}

func (m *mockSlack) userInfoCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.userInfos
}

func (m *mockSlack) posts() []slackCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []slackCall
	for _, c := range m.calls {
		if c.method != "users.info" {
			out = append(out, c)
		}
	}
	return out
}

func newMockSlack(t *testing.T) (*mockSlack, *slack.Client) {
	t.Helper()
	m := &mockSlack{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		method := strings.TrimPrefix(r.URL.Path, "/")
		m.record(slackCall{method: method, channel: r.Form.Get("channel"), user: r.Form.Get("user"), text: r.Form.Get("text")})
		w.Header().Set("Content-Type", "application/json")
		switch method {
		case "users.info":
			m.mu.Lock()
			m.userInfos++
			m.mu.Unlock()
			_ = json.NewEncoder(w).Encode(map[string]any{
				"ok":   true,
				"user": map[string]any{"id": r.Form.Get("user"), "name": "ana", "real_name": "Ana Ruiz", "profile": map[string]any{"display_name": "Ana"}},
			})
		case "chat.postMessage", "chat.postEphemeral":
			m.mu.Lock()
			fail := m.failPosts
			m.mu.Unlock()
			if fail {
				_, _ = w.Write([]byte(`{"ok": false, "error": "channel_not_found"}`))
				return
			}
			_, _ = w.Write([]byte(`{"ok": true, "channel": "C1", "ts": "1.0", "message_ts": "1.0"}`))
		default:
			_, _ = w.Write([]byte(`{"ok": false, "error": "unknown_method"}`))
		}
	}))
	t.Cleanup(srv.Close)
	return m, slack.New("xoxb-test", slack.OptionAPIURL(srv.URL+"/"))
}

func newTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sqlite.InitDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("init test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

type stubQueue struct {
	texts        []string
	accumulative []bool
	err          error
}

func (q *stubQueue) Submit(ctx context.Context, text string, accumulative bool) (domain.Job, error) {
	q.texts = append(q.texts, text)
	q.accumulative = append(q.accumulative, accumulative)
	return domain.Job{ID: "job-42", Status: domain.JobPending, Accumulative: accumulative}, q.err
}

func sampleResult() domain.AnalysisResult {
	clients := make([]domain.ClientReport, 12)
	for i := range clients {
		clients[i] = domain.ClientReport{
			ClientMetrics: domain.ClientMetrics{Name: "Cliente " + string(rune('A'+i)), TotalOrders: 1, TotalPieces: 12 - i, TotalSpent: float64(12-i) * 850},
			Profile:       domain.ClientProfile{RiskLevel: domain.RiskLow},
		}
	}
	clients[0].PreferredProducts = []domain.PreferredProduct{{Product: "conchas", Count: 12, Percentage: 100}}
	return domain.AnalysisResult{
		Summary:  domain.Summary{TotalClients: 12, TotalOrders: 12, TotalPieces: 78, TotalRevenue: 66300, AverageOrderValue: 5525, FallbackProfiles: 12},
		Clients:  clients,
		Products: []domain.ProductStat{{Product: "conchas", Count: 40, Revenue: 36000, Clients: 5, Popularity: "high"}},
	}
}

func storeJob(t *testing.T, db *sql.DB, id string, result *domain.AnalysisResult) {
	t.Helper()
	now := time.Now().UTC()
	if err := sqlite.CreateJob(db, domain.Job{ID: id, Status: domain.JobPending, CreatedAt: now, UpdatedAt: now}); err != nil {
		t.Fatalf("CreateJob: %v", err)
	}
	if result == nil {
		return
	}
	if err := sqlite.SaveResult(db, id, *result, sqlite.ResultUsage{InputTokens: 1200, OutputTokens: 300}); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if err := sqlite.UpdateJobStatus(db, id, domain.JobCompleted, ""); err != nil {
		t.Fatalf("UpdateJobStatus: %v", err)
	}
}

func command(name, text string) slack.SlashCommand {
	return slack.SlashCommand{Command: name, Text: text, ChannelID: "C-req", UserID: "U123456789", UserName: "ana.r"}
}

func lastText(t *testing.T, m *mockSlack) string {
	t.Helper()
	posts := m.posts()
	if len(posts) == 0 {
		t.Fatal("no message posted")
	}
	return posts[len(posts)-1].text
}

func TestAnalyzeCommandQueuesJob(t *testing.T) {
	m, api := newMockSlack(t)
	q := &stubQueue{}
	bot := NewBot(config.Config{BakeryName: "Panaderia Quilantan"}, newTestDB(t), api, q)

	bot.handleSlashCommand(context.Background(), command("/analyze", "+ [8:00 AM, 3/7/2025] Ana: 2 conchas"))
	if len(q.texts) != 1 || q.texts[0] != "[8:00 AM, 3/7/2025] Ana: 2 conchas" || !q.accumulative[0] {
		t.Fatalf("submitted = %q accumulative=%v", q.texts, q.accumulative)
	}
	if got := lastText(t, m); !strings.Contains(got, "`job-42`") {
		t.Fatalf("reply = %q, want job id", got)
	}
	if _, ok := bot.origins.take("job-42"); !ok {
		t.Fatal("origin of queued job not recorded")
	}
}

func TestAnalyzeCommandUsageAndQueueFull(t *testing.T) {
	m, api := newMockSlack(t)
	q := &stubQueue{}
	bot := NewBot(config.Config{}, newTestDB(t), api, q)

	bot.handleSlashCommand(context.Background(), command("/analyze", "   "))
	if got := lastText(t, m); !strings.HasPrefix(got, "Uso: /analyze") {
		t.Fatalf("reply = %q, want usage", got)
	}
	if len(q.texts) != 0 {
		t.Fatal("empty command should not submit")
	}

	q.err = jobs.ErrQueueFull
	bot.handleSlashCommand(context.Background(), command("/analyze", "hola"))
	if got := lastText(t, m); !strings.Contains(got, "cola de análisis está llena") {
		t.Fatalf("reply = %q, want queue full notice", got)
	}
}

func TestJobCommand(t *testing.T) {
	m, api := newMockSlack(t)
	db := newTestDB(t)
	result := sampleResult()
	storeJob(t, db, "done", &result)
	storeJob(t, db, "waiting", nil)
	bot := NewBot(config.Config{}, db, api, &stubQueue{})

	bot.handleSlashCommand(context.Background(), command("/job", "done"))
	got := lastText(t, m)
	for _, want := range []string{"Estado: completed", "Clientes: 12", "Pedidos: 12 (78 piezas)", "Tokens usados: 1.5k"} {
		if !strings.Contains(got, want) {
			t.Fatalf("reply missing %q:\n%s", want, got)
		}
	}

	bot.handleSlashCommand(context.Background(), command("/job", "waiting"))
	if got := lastText(t, m); !strings.Contains(got, "Estado: pending") || strings.Contains(got, "Clientes") {
		t.Fatalf("reply = %q", got)
	}

	bot.handleSlashCommand(context.Background(), command("/job", "nope"))
	if got := lastText(t, m); !strings.Contains(got, "No existe el job `nope`") {
		t.Fatalf("reply = %q", got)
	}
}

func TestClientsCommandPaginates(t *testing.T) {
	m, api := newMockSlack(t)
	db := newTestDB(t)
	result := sampleResult()
	storeJob(t, db, "done", &result)
	bot := NewBot(config.Config{}, db, api, &stubQueue{})

	bot.handleSlashCommand(context.Background(), command("/clients", "done"))
	got := lastText(t, m)
	if !strings.Contains(got, "(página 1 de 2)") || !strings.Contains(got, "1. *Cliente A*") || !strings.Contains(got, "prefiere conchas") {
		t.Fatalf("page 1 = %s", got)
	}
	if !strings.Contains(got, "Siguiente: `/clients done 2`") {
		t.Fatalf("page 1 missing next hint: %s", got)
	}

	bot.handleSlashCommand(context.Background(), command("/clients", "done 2"))
	got = lastText(t, m)
	if !strings.Contains(got, "11. *Cliente K*") || strings.Contains(got, "Siguiente") {
		t.Fatalf("page 2 = %s", got)
	}

	bot.handleSlashCommand(context.Background(), command("/clients", "done 922337203685477580"))
	if got := lastText(t, m); !strings.Contains(got, "no existe") {
		t.Fatalf("huge page reply = %q", got)
	}

	bot.handleSlashCommand(context.Background(), command("/clients", "done x"))
	if got := lastText(t, m); !strings.Contains(got, "Página inválida") {
		t.Fatalf("reply = %q", got)
	}
}

func TestProductsCommandNotReady(t *testing.T) {
	m, api := newMockSlack(t)
	db := newTestDB(t)
	storeJob(t, db, "waiting", nil)
	bot := NewBot(config.Config{}, db, api, &stubQueue{})

	bot.handleSlashCommand(context.Background(), command("/products", "waiting"))
	if got := lastText(t, m); !strings.Contains(got, "aún no tiene resultado (estado: pending)") {
		t.Fatalf("reply = %q", got)
	}
}

func TestHelpCommand(t *testing.T) {
	m, api := newMockSlack(t)
	bot := NewBot(config.Config{ReanalysisSchedule: "0 6 * * *"}, newTestDB(t), api, &stubQueue{})
	bot.handleSlashCommand(context.Background(), command("/panwhat-help", ""))
	got := lastText(t, m)
	for _, want := range []string{"/analyze", "/job", "/clients", "/products", "0 6 * * *"} {
		if !strings.Contains(got, want) {
			t.Fatalf("help missing %q", want)
		}
	}
}

func TestNotifierPostsToChannelAndRequester(t *testing.T) {
	m, api := newMockSlack(t)
	bot := NewBot(config.Config{BakeryName: "Panaderia Quilantan", ReportChannelID: "C-report"}, newTestDB(t), api, &stubQueue{})
	bot.origins.put("job-1", origin{channelID: "C-req", userID: "U1"})

	err := bot.Notifier().JobCompleted(context.Background(), domain.Job{ID: "job-1", Status: domain.JobCompleted}, sampleResult())
	if err != nil {
		t.Fatalf("JobCompleted failed: %v", err)
	}
	posts := m.posts()
	if len(posts) != 2 {
		t.Fatalf("posts = %+v, want 2", posts)
	}
	if posts[0].method != "chat.postMessage" || posts[0].channel != "C-report" {
		t.Fatalf("first post = %+v", posts[0])
	}
	if posts[1].method != "chat.postEphemeral" || posts[1].channel != "C-req" || posts[1].user != "U1" {
		t.Fatalf("second post = %+v", posts[1])
	}
	for _, want := range []string{"Panaderia Quilantan - Análisis terminado", "Mejor cliente: Cliente A ($10200)", "Producto más pedido: conchas (40 piezas)"} {
		if !strings.Contains(posts[0].text, want) {
			t.Fatalf("message missing %q:\n%s", want, posts[0].text)
		}
	}
	if _, ok := bot.origins.take("job-1"); ok {
		t.Fatal("origin should be consumed")
	}
}

func TestNotifierReportsPostErrors(t *testing.T) {
	m, api := newMockSlack(t)
	m.mu.Lock()
	m.failPosts = true
	m.mu.Unlock()
	n := NewNotifier(api, "C-report", "Panaderia Quilantan")
	if err := n.JobCompleted(context.Background(), domain.Job{ID: "x"}, domain.AnalysisResult{}); err == nil {
		t.Fatal("JobCompleted should fail when Slack rejects the post")
	}

	quiet := NewNotifier(api, "", "Panaderia Quilantan")
	if err := quiet.JobCompleted(context.Background(), domain.Job{ID: "y"}, domain.AnalysisResult{}); err != nil {
		t.Fatalf("JobCompleted without channel = %v, want nil", err)
	}
}

func TestDisplayNameIsCached(t *testing.T) {
	m, api := newMockSlack(t)
	u := newUserNames()
	for i := 0; i < 3; i++ {
		if got := u.displayName(api, "U123456789", "fallback"); got != "Ana" {
			t.Fatalf("displayName = %q, want Ana", got)
		}
	}
	if n := m.userInfoCalls(); n != 1 {
		t.Fatalf("users.info calls = %d, want 1", n)
	}

	u.now = func() time.Time { return time.Now().Add(userCacheTTL + time.Minute) }
	u.displayName(api, "U123456789", "fallback")
	if n := m.userInfoCalls(); n != 2 {
		t.Fatalf("users.info calls after expiry = %d, want 2", n)
	}
	if got := u.displayName(api, "", "fallback"); got != "fallback" {
		t.Fatalf("empty id = %q, want fallback", got)
	}
}

func TestFormatTokenCount(t *testing.T) {
	tests := []struct {
		in   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{1000, "1k"},
		{1500, "1.5k"},
		{12345, "12.3k"},
	}
	for _, tt := range tests {
		if got := formatTokenCount(tt.in); got != tt.want {
			t.Fatalf("formatTokenCount(%d) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

var _ API = (*slack.Client)(nil)

func TestOriginsTakeIsOneShot(t *testing.T) {
	o := &origins{jobs: make(map[string]origin)}
	o.put("a", origin{channelID: "C"})
	if _, ok := o.take("a"); !ok {
		t.Fatal("first take should find origin")
	}
	if _, ok := o.take("a"); ok {
		t.Fatal("second take should miss")
	}
}
