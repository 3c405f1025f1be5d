package profile

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
)

type ClientProfile = domain.ClientProfile

// Request is what a profiler sees about one client.
type Request struct {
	Metrics        domain.ClientMetrics
	RecentMessages []string       // up to 5 most recent client message texts
	RecentOrders   []domain.Order // up to 3 most recent orders
}

const (
	MaxRecentMessages = 5
	MaxRecentOrders   = 3
)

// Profiler turns a client summary into a narrative profile.
type Profiler interface {
	Profile(ctx context.Context, req Request) (ClientProfile, error)
}

var ErrInvalidProfile = errors.New("invalid profile")

// Validate checks that a remotely produced profile has every required field
// and a known risk band.
func Validate(p ClientProfile) error {
	var missing []string
	if len(p.Insights) == 0 {
		missing = append(missing, "insights")
	}
	if len(p.Recommendations) == 0 {
		missing = append(missing, "recommendations")
	}
	if strings.TrimSpace(p.BehaviorProfile) == "" {
		missing = append(missing, "behaviorProfile")
	}
	if strings.TrimSpace(p.CommunicationStyle) == "" {
		missing = append(missing, "communicationStyle")
	}
	if strings.TrimSpace(p.BusinessValue) == "" {
		missing = append(missing, "businessValue")
	}
	if p.PredictedActions == nil {
		missing = append(missing, "predictedActions")
	}
	if strings.TrimSpace(p.SatisfactionAnalysis) == "" {
		missing = append(missing, "satisfactionAnalysis")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidProfile, strings.Join(missing, ", "))
	}
	switch p.RiskLevel {
	case domain.RiskLow, domain.RiskMedium, domain.RiskHigh:
	default:
		return fmt.Errorf("%w: risk level %q", ErrInvalidProfile, p.RiskLevel)
	}
	return nil
}

// Resolver picks the profile for a client: the remote profiler when one is
// configured and answers in time with a valid shape, the fallback otherwise.
type Resolver struct {
	Remote   Profiler
	Fallback Fallback
	Timeout  time.Duration
	// OnOutcome is called once per resolution with the source used and, for
	// fallbacks caused by a remote failure, the reason.
	OnOutcome func(source string, reason error)
}

func (r Resolver) Resolve(ctx context.Context, req Request) ClientProfile {
	if r.Remote == nil {
		r.report(domain.ProfileSourceFallback, nil)
		return r.Fallback.Build(req.Metrics)
	}

	callCtx := ctx
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	p, err := r.Remote.Profile(callCtx, req)
	if err == nil {
		err = Validate(p)
	}
	if err != nil {
		log.Printf("profile enrichment fallback client=%q err=%v", req.Metrics.Name, err)
		r.report(domain.ProfileSourceFallback, err)
		return r.Fallback.Build(req.Metrics)
	}

	// Risk score is always the deterministic one.
	p.RiskScore = RiskScore(req.Metrics, r.Fallback.weights())
	p.Source = domain.ProfileSourceAI
	r.report(domain.ProfileSourceAI, nil)
	return p
}

func (r Resolver) report(source string, reason error) {
	if r.OnOutcome != nil {
		r.OnOutcome(source, reason)
	}
}

// NewRequest trims a client's conversation down to what a profiler is shown.
func NewRequest(m domain.ClientMetrics, messages []domain.Message, orders []domain.Order) Request {
	req := Request{Metrics: m}
	for i := len(messages) - 1; i >= 0 && len(req.RecentMessages) < MaxRecentMessages; i-- {
		if messages[i].IsClient {
			req.RecentMessages = append(req.RecentMessages, messages[i].Content)
		}
	}
	reverseStrings(req.RecentMessages)

	start := len(orders) - MaxRecentOrders
	if start < 0 {
		start = 0
	}
	req.RecentOrders = append([]domain.Order(nil), orders[start:]...)
	return req
}

func reverseStrings(s []string) {
	for i, j := 0, len(s)-1; i < j; i, j = i+1, j-1 {
		s[i], s[j] = s[j], s[i]
	}
}
