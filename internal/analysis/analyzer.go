package analysis

import (
	"context"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
	"github.com/raulgabino/panwhat-sub000/internal/profile"
	"github.com/raulgabino/panwhat-sub000/internal/transcript"
)

const defaultWorkers = 8

type Options struct {
	BakeryName string
	// Workers bounds how many clients are analyzed (and enriched) at once.
	Workers int
	// Remote is the optional enrichment profiler. Nil means fallback only.
	Remote        profile.Profiler
	EnrichTimeout time.Duration
	// OnProfile observes which profile source each client ended up with.
	OnProfile func(source string, reason error)
}

// Analyzer runs the whole pipeline: tokenize, group, then per client extract,
// aggregate and profile, and finally assemble the report.
type Analyzer struct {
	extractor  *Extractor
	tuning     Tuning
	bakeryName string
	workers    int
	resolver   profile.Resolver
}

func New(t Tuning, opts Options) (*Analyzer, error) {
	ext, err := NewExtractor(t)
	if err != nil {
		return nil, err
	}
	workers := opts.Workers
	if workers < 1 {
		workers = defaultWorkers
	}
	return &Analyzer{
		extractor:  ext,
		tuning:     t,
		bakeryName: opts.BakeryName,
		workers:    workers,
		resolver: profile.Resolver{
			Remote:    opts.Remote,
			Fallback:  profile.Fallback{Risk: t.Risk, Narrative: t.Narrative},
			Timeout:   opts.EnrichTimeout,
			OnOutcome: opts.OnProfile,
		},
	}, nil
}

func (a *Analyzer) BakeryName() string {
	return a.bakeryName
}

// Analyze produces the full result for a transcript. Text without any
// recognizable line yields an all-zero result, not an error. now is the only
// clock the analysis reads.
func (a *Analyzer) Analyze(ctx context.Context, text string, now time.Time) (domain.AnalysisResult, error) {
	messages := transcript.Parse(text, a.bakeryName)
	conv := transcript.Group(messages)
	log.Printf("analysis start messages=%d clients=%d workers=%d", len(messages), len(conv.Clients), a.workers)

	partials := make([]clientPartial, len(conv.Clients))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers)
	for i, name := range conv.Clients {
		i, name := i, name
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			partials[i] = a.analyzeClient(gctx, name, conv.ByClient[name], now)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return domain.AnalysisResult{}, err
	}

	res := assemble(partials, a.extractor.t.prices, a.tuning.Popularity, now)
	log.Printf("analysis done clients=%d orders=%d pieces=%d revenue=%.0f ai_profiles=%d fallback_profiles=%d",
		res.Summary.TotalClients, res.Summary.TotalOrders, res.Summary.TotalPieces, res.Summary.TotalRevenue,
		res.Summary.AIProfiles, res.Summary.FallbackProfiles)
	return res, nil
}

func (a *Analyzer) analyzeClient(ctx context.Context, name string, messages []Message, now time.Time) clientPartial {
	cs := a.extractor.ScanConversation(messages)
	metrics := ComputeMetrics(name, messages, cs, a.tuning, now)
	req := profile.NewRequest(metrics, messages, cs.Orders)
	report := domain.ClientReport{
		ClientMetrics: metrics,
		Profile:       a.resolver.Resolve(ctx, req),
	}
	return newClientPartial(report, messages, cs)
}
