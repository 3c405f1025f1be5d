package profile

import (
	"context"
	"fmt"

	"github.com/raulgabino/panwhat-sub000/internal/domain"
)

type RiskWeights struct {
	Difficulty        int     `yaml:"difficulty"`
	PaymentIssue      int     `yaml:"payment_issue"`
	Unsatisfied       int     `yaml:"unsatisfied"`
	SlowResponse      int     `yaml:"slow_response"`
	SlowResponseAbove float64 `yaml:"slow_response_above_hours"`
	LowFrequency      int     `yaml:"low_frequency"`
	LowFrequencyBelow float64 `yaml:"low_frequency_below"`
	HighAt            int     `yaml:"high_at"`
	MediumAt          int     `yaml:"medium_at"`
}

type NarrativeThresholds struct {
	PremiumSpent float64 `yaml:"premium_spent"`
	HighSpent    float64 `yaml:"high_spent"`
	VeryFrequent float64 `yaml:"very_frequent_per_week"`
	Occasional   float64 `yaml:"occasional_per_week"`
}

func DefaultRiskWeights() RiskWeights {
	return RiskWeights{
		Difficulty:        2,
		PaymentIssue:      3,
		Unsatisfied:       2,
		SlowResponse:      2,
		SlowResponseAbove: 6,
		LowFrequency:      1,
		LowFrequencyBelow: 1,
		HighAt:            8,
		MediumAt:          4,
	}
}

func DefaultNarrativeThresholds() NarrativeThresholds {
	return NarrativeThresholds{
		PremiumSpent: 100000,
		HighSpent:    50000,
		VeryFrequent: 5,
		Occasional:   1,
	}
}

// RiskScore = 2·difficulty + 3·paymentIssues + 2·[complaints>compliments]
// + 2·[responseTime>6h] + 1·[orderFrequency<1], with configurable weights.
func RiskScore(m domain.ClientMetrics, w RiskWeights) int {
	score := w.Difficulty*m.DifficultyScore + w.PaymentIssue*m.PaymentIssues
	if m.Complaints > m.Compliments {
		score += w.Unsatisfied
	}
	if m.ResponseTimeHours > w.SlowResponseAbove {
		score += w.SlowResponse
	}
	if m.OrderFrequency < w.LowFrequencyBelow {
		score += w.LowFrequency
	}
	return score
}

func RiskBand(score int, w RiskWeights) string {
	switch {
	case score >= w.HighAt:
		return domain.RiskHigh
	case score >= w.MediumAt:
		return domain.RiskMedium
	default:
		return domain.RiskLow
	}
}

// Fallback is the deterministic rule-based profiler. Its zero value uses the
// default weights and thresholds.
type Fallback struct {
	Risk      RiskWeights
	Narrative NarrativeThresholds
}

func (f Fallback) Profile(_ context.Context, req Request) (ClientProfile, error) {
	return f.Build(req.Metrics), nil
}

func (f Fallback) weights() RiskWeights {
	if f.Risk == (RiskWeights{}) {
		return DefaultRiskWeights()
	}
	return f.Risk
}

func (f Fallback) thresholds() NarrativeThresholds {
	if f.Narrative == (NarrativeThresholds{}) {
		return DefaultNarrativeThresholds()
	}
	return f.Narrative
}

// Build never returns empty insights, recommendations or predicted actions.
func (f Fallback) Build(m domain.ClientMetrics) ClientProfile {
	w := f.weights()
	n := f.thresholds()
	score := RiskScore(m, w)
	level := RiskBand(score, w)

	var top *domain.PreferredProduct
	if len(m.PreferredProducts) > 0 {
		top = &m.PreferredProducts[0]
	}

	p := ClientProfile{
		RiskLevel: level,
		RiskScore: score,
		Source:    domain.ProfileSourceFallback,
	}

	switch {
	case m.TotalSpent > n.PremiumSpent:
		p.BusinessValue = "Muy alto: cliente premium"
		p.Insights = append(p.Insights, fmt.Sprintf("Cliente premium con $%.0f en compras estimadas", m.TotalSpent))
		p.Recommendations = append(p.Recommendations, "Ofrecer un programa de lealtad o descuento por volumen")
	case m.TotalSpent > n.HighSpent:
		p.BusinessValue = "Alto: cliente valioso"
		p.Insights = append(p.Insights, fmt.Sprintf("Cliente valioso con $%.0f en compras estimadas", m.TotalSpent))
		p.Recommendations = append(p.Recommendations, "Mantener atención prioritaria en sus pedidos")
	case m.TotalSpent > 0:
		p.BusinessValue = "Medio"
		p.Insights = append(p.Insights, fmt.Sprintf("%d pedidos detectados por $%.0f", m.TotalOrders, m.TotalSpent))
	default:
		p.BusinessValue = "Bajo: sin pedidos detectados"
		p.Insights = append(p.Insights, "No se detectaron pedidos en la conversación")
	}

	switch {
	case m.OrderFrequency > n.VeryFrequent:
		p.BehaviorProfile = "Comprador muy frecuente"
		p.Insights = append(p.Insights, fmt.Sprintf("Ordena %.1f veces por semana", m.OrderFrequency))
		p.Recommendations = append(p.Recommendations, "Proponer pedidos recurrentes programados")
		p.PredictedActions = append(p.PredictedActions, "Nuevo pedido en los próximos días")
	case m.OrderFrequency < n.Occasional:
		p.BehaviorProfile = "Comprador ocasional"
		p.Insights = append(p.Insights, "Compra con poca frecuencia")
		p.Recommendations = append(p.Recommendations, "Enviar promociones para reactivar sus compras")
	default:
		p.BehaviorProfile = "Comprador regular"
		p.PredictedActions = append(p.PredictedActions, "Pedido dentro de la próxima semana")
	}

	if top != nil {
		p.Insights = append(p.Insights, fmt.Sprintf("Prefiere %s (%d%% de sus piezas)", top.Product, top.Percentage))
		p.Recommendations = append(p.Recommendations, fmt.Sprintf("Avisarle cuando haya %s recién hechos", top.Product))
		p.PredictedActions = append(p.PredictedActions, fmt.Sprintf("Volverá a pedir %s", top.Product))
	} else {
		p.Insights = append(p.Insights, "Aún no hay un producto preferido identificado")
	}

	if m.PaymentIssues > 0 {
		p.Recommendations = append(p.Recommendations, "Solicitar pago anticipado o confirmar el pago antes de entregar")
	}
	switch level {
	case domain.RiskHigh:
		p.Recommendations = append(p.Recommendations, "Dar seguimiento personal: cliente de alto riesgo")
		p.PredictedActions = append(p.PredictedActions, "Posible abandono si no se atienden sus incidencias")
	case domain.RiskMedium:
		p.Recommendations = append(p.Recommendations, "Vigilar tiempos de respuesta y pagos")
	}
	if len(p.Recommendations) == 0 {
		p.Recommendations = append(p.Recommendations, "Mantener comunicación regular")
	}
	if len(p.PredictedActions) == 0 {
		p.PredictedActions = append(p.PredictedActions, "Sin historial suficiente para predecir su próxima compra")
	}

	switch {
	case m.TotalOrders == 0:
		p.CommunicationStyle = "Consultivo: conversa sin concretar pedidos"
	case m.MessagesPerOrder > 2:
		p.CommunicationStyle = "Conversacional: necesita varios mensajes por pedido"
	default:
		p.CommunicationStyle = "Directo: pide en pocos mensajes"
	}

	switch {
	case m.Satisfaction > 0:
		p.SatisfactionAnalysis = fmt.Sprintf("Satisfecho (%d elogios, %d quejas)", m.Compliments, m.Complaints)
	case m.Satisfaction < 0:
		p.SatisfactionAnalysis = fmt.Sprintf("Insatisfecho (%d elogios, %d quejas)", m.Compliments, m.Complaints)
	default:
		p.SatisfactionAnalysis = fmt.Sprintf("Neutral (%d elogios, %d quejas)", m.Compliments, m.Complaints)
	}
	return p
}
