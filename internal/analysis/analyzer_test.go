package analysis

import (
	"context"
	"errors"
	"math"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
	"github.com/raulgabino/panwhat-sub000/internal/profile"
)

const sampleTranscript = `[7:00 AM, 3/7/2025] Panaderia Quilantan: Buenos días, ¿cuántas piezas?
[8:00 AM, 3/7/2025] Ana: 2 pastelitos 1 donas
[9:15 AM, 3/8/2025] Luis: 10 conchas
[9:20 AM, 3/8/2025] Panaderia Quilantan: Listo
this line is not a message
[10:00 AM, 3/10/2025] Ana: gracias, perfecto`

var fixedNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func newTestAnalyzer(t *testing.T, opts Options) *Analyzer {
	t.Helper()
	if opts.BakeryName == "" {
		opts.BakeryName = "Panaderia Quilantan"
	}
	a, err := New(DefaultTuning(), opts)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return a
}

func TestAnalyzeSingleOrderValue(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	res, err := a.Analyze(context.Background(), "[10:19 AM, 3/7/2025] Cliente: 2 pastelitos 1 donas", fixedNow)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(res.Orders) != 1 {
		t.Fatalf("orders = %d, want 1", len(res.Orders))
	}
	if res.Orders[0].EstimatedValue != 3500 || res.Orders[0].TotalPieces != 3 {
		t.Fatalf("unexpected order: %+v", res.Orders[0])
	}
	if res.Summary.TotalRevenue != 3500 {
		t.Fatalf("TotalRevenue = %v, want 3500", res.Summary.TotalRevenue)
	}
}

func TestAnalyzeSummaryAndOrdering(t *testing.T) {
	a := newTestAnalyzer(t, Options{Workers: 2})
	res, err := a.Analyze(context.Background(), sampleTranscript, fixedNow)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	s := res.Summary
	if s.TotalClients != 2 || s.TotalOrders != 2 || s.TotalPieces != 13 || s.TotalMessages != 5 {
		t.Fatalf("unexpected summary: %+v", s)
	}
	if s.TotalRevenue != 12500 || s.AverageOrderValue != 6250 {
		t.Fatalf("revenue/avg = %v/%v", s.TotalRevenue, s.AverageOrderValue)
	}
	if math.Abs(s.AvgResponseTimeHours-1.0) > 1e-9 {
		t.Fatalf("AvgResponseTimeHours = %v, want 1.0", s.AvgResponseTimeHours)
	}
	if s.FallbackProfiles != 2 || s.AIProfiles != 0 {
		t.Fatalf("profile sources = %d ai / %d fallback", s.AIProfiles, s.FallbackProfiles)
	}
	if !s.GeneratedAt.Equal(fixedNow) {
		t.Fatalf("GeneratedAt = %s", s.GeneratedAt)
	}

	if res.Clients[0].Name != "Luis" || res.Clients[1].Name != "Ana" {
		t.Fatalf("clients not sorted by spend: %s, %s", res.Clients[0].Name, res.Clients[1].Name)
	}
	ana := res.Clients[1]
	if ana.MessageCount != 3 || ana.ClientMessageCount != 2 || ana.Compliments != 2 {
		t.Fatalf("unexpected Ana metrics: %+v", ana.ClientMetrics)
	}
	if ana.ResponseTimeHours != 1 {
		t.Fatalf("Ana ResponseTimeHours = %v, want 1", ana.ResponseTimeHours)
	}
	if ana.Profile.Source != domain.ProfileSourceFallback || len(ana.Profile.Insights) == 0 {
		t.Fatalf("unexpected profile: %+v", ana.Profile)
	}

	if res.Orders[0].Client != "Ana" || res.Orders[1].Client != "Luis" {
		t.Fatalf("orders not sorted by date: %+v", res.Orders)
	}

	var names []string
	for _, p := range res.Products {
		names = append(names, p.Product)
	}
	if !reflect.DeepEqual(names, []string{"conchas", "pastelitos", "donas"}) {
		t.Fatalf("products = %v", names)
	}
	conchas := res.Products[0]
	if conchas.Count != 10 || conchas.Revenue != 9000 || conchas.Clients != 1 || conchas.Popularity != PopularityLow {
		t.Fatalf("unexpected conchas stat: %+v", conchas)
	}
}

func TestAnalyzeTotalsMatchClients(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	res, err := a.Analyze(context.Background(), sampleTranscript, fixedNow)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	var orders, pieces, messages int
	var revenue float64
	for _, c := range res.Clients {
		orders += c.TotalOrders
		pieces += c.TotalPieces
		messages += c.MessageCount
		revenue += c.TotalSpent
	}
	s := res.Summary
	if orders != s.TotalOrders || pieces != s.TotalPieces || messages != s.TotalMessages || revenue != s.TotalRevenue {
		t.Fatalf("summary %+v does not match client sums %d/%d/%d/%v", s, orders, pieces, messages, revenue)
	}
	if len(res.Orders) != s.TotalOrders {
		t.Fatalf("order log has %d entries, want %d", len(res.Orders), s.TotalOrders)
	}
}

func TestAnalyzeTrends(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	res, err := a.Analyze(context.Background(), sampleTranscript, fixedNow)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	tr := res.Trends
	if len(tr.Hourly) != 24 || len(tr.Daily) != 7 || len(tr.Monthly) != 12 {
		t.Fatalf("trend sizes = %d/%d/%d", len(tr.Hourly), len(tr.Daily), len(tr.Monthly))
	}
	if tr.Hourly[8].Messages != 1 || tr.Hourly[8].Orders != 1 || tr.Hourly[8].Label != "08:00" {
		t.Fatalf("hour 8 = %+v", tr.Hourly[8])
	}
	// 7 March 2025 is a Friday.
	if tr.Daily[5].Messages != 2 || tr.Daily[5].Orders != 1 || tr.Daily[5].Label != "Viernes" {
		t.Fatalf("friday = %+v", tr.Daily[5])
	}
	if tr.Monthly[2].Index != 3 || tr.Monthly[2].Messages != 5 || tr.Monthly[2].Orders != 2 {
		t.Fatalf("march = %+v", tr.Monthly[2])
	}
	total := 0
	for _, slot := range tr.Hourly {
		total += slot.Messages
	}
	if total != res.Summary.TotalMessages {
		t.Fatalf("hourly messages = %d, want %d", total, res.Summary.TotalMessages)
	}
}

func TestAnalyzeIsDeterministic(t *testing.T) {
	a := newTestAnalyzer(t, Options{Workers: 4})
	first, err := a.Analyze(context.Background(), sampleTranscript, fixedNow)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	for i := 0; i < 5; i++ {
		again, err := a.Analyze(context.Background(), sampleTranscript, fixedNow)
		if err != nil {
			t.Fatalf("Analyze failed: %v", err)
		}
		if !reflect.DeepEqual(first, again) {
			t.Fatalf("run %d differs from the first run", i)
		}
	}
}

func TestAnalyzeEmptyInput(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	for _, text := range []string{"", "hola\nnada que ver"} {
		res, err := a.Analyze(context.Background(), text, fixedNow)
		if err != nil {
			t.Fatalf("Analyze(%q) failed: %v", text, err)
		}
		if res.Summary.TotalClients != 0 || res.Summary.TotalOrders != 0 || res.Summary.AvgResponseTimeHours != 0 {
			t.Fatalf("expected zero summary, got %+v", res.Summary)
		}
		if res.Clients == nil || res.Products == nil || res.Orders == nil {
			t.Fatal("lists should be empty, not nil")
		}
		if len(res.Trends.Hourly) != 24 {
			t.Fatalf("expected 24 hourly slots, got %d", len(res.Trends.Hourly))
		}
	}
}

func TestAnalyzeCanceledContext(t *testing.T) {
	a := newTestAnalyzer(t, Options{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := a.Analyze(ctx, sampleTranscript, fixedNow); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}

type fakeRemote struct {
	failFor string
}

func (f fakeRemote) Profile(_ context.Context, req profile.Request) (profile.ClientProfile, error) {
	if req.Metrics.Name == f.failFor {
		return profile.ClientProfile{}, errors.New("upstream unavailable")
	}
	return profile.ClientProfile{
		Insights:             []string{"remoto"},
		Recommendations:      []string{"remoto"},
		RiskLevel:            domain.RiskLow,
		RiskScore:            99,
		BehaviorProfile:      "b",
		CommunicationStyle:   "c",
		BusinessValue:        "v",
		PredictedActions:     []string{},
		SatisfactionAnalysis: "s",
	}, nil
}

func TestAnalyzeMixesRemoteAndFallbackProfiles(t *testing.T) {
	var mu sync.Mutex
	outcomes := map[string]int{}
	a := newTestAnalyzer(t, Options{
		Remote:        fakeRemote{failFor: "Ana"},
		EnrichTimeout: time.Second,
		OnProfile: func(source string, _ error) {
			mu.Lock()
			outcomes[source]++
			mu.Unlock()
		},
	})
	res, err := a.Analyze(context.Background(), sampleTranscript, fixedNow)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if res.Summary.AIProfiles != 1 || res.Summary.FallbackProfiles != 1 {
		t.Fatalf("profile sources = %d ai / %d fallback", res.Summary.AIProfiles, res.Summary.FallbackProfiles)
	}
	if outcomes[domain.ProfileSourceAI] != 1 || outcomes[domain.ProfileSourceFallback] != 1 {
		t.Fatalf("outcomes = %v", outcomes)
	}
	for _, c := range res.Clients {
		switch c.Name {
		case "Luis":
			if c.Profile.Source != domain.ProfileSourceAI {
				t.Fatalf("Luis source = %q", c.Profile.Source)
			}
			if want := profile.RiskScore(c.ClientMetrics, profile.DefaultRiskWeights()); c.Profile.RiskScore != want {
				t.Fatalf("RiskScore = %d, want deterministic %d", c.Profile.RiskScore, want)
			}
		case "Ana":
			if c.Profile.Source != domain.ProfileSourceFallback {
				t.Fatalf("Ana source = %q", c.Profile.Source)
			}
		}
	}
}
