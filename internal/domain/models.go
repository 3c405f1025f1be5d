package domain

import "time"

// Message is one recognized transcript line.
type Message struct {
	Timestamp time.Time `json:"timestamp"`
	Sender    string    `json:"sender"`
	Content   string    `json:"content"`
	IsClient  bool      `json:"isClient"`
}

type ProductMention struct {
	Product string `json:"product"`
	Count   int    `json:"count"`
}

// Order is inferred from exactly one client message and never mutated afterwards.
type Order struct {
	Date              time.Time        `json:"date"`
	Client            string           `json:"client"`
	Products          []ProductMention `json:"products"`
	TotalPieces       int              `json:"totalPieces"`
	OrderType         string           `json:"orderType"` // "large", "medium" or "small"
	EstimatedValue    float64          `json:"estimatedValue"`
	ResponseTimeHours float64          `json:"responseTimeHours"`
	DayOfWeek         int              `json:"dayOfWeek"` // 0 = Sunday
	Hour              int              `json:"hour"`
	Message           string           `json:"message"`
}

type PreferredProduct struct {
	Product    string `json:"product"`
	Count      int    `json:"count"`
	Percentage int    `json:"percentage"`
}

type ClientMetrics struct {
	Name               string             `json:"name"`
	MessageCount       int                `json:"messageCount"`
	ClientMessageCount int                `json:"clientMessageCount"`
	TotalOrders        int                `json:"totalOrders"`
	TotalPieces        int                `json:"totalPieces"`
	TotalSpent         float64            `json:"totalSpent"`
	AvgOrderValue      float64            `json:"avgOrderValue"`
	AvgPiecesPerOrder  float64            `json:"avgPiecesPerOrder"`
	MessagesPerOrder   float64            `json:"messagesPerOrder"`
	ResponseTimeHours  float64            `json:"responseTimeHours"`
	ResponseSamples    int                `json:"responseSamples"`
	OrderFrequency     float64            `json:"orderFrequency"` // orders per week
	Complaints         int                `json:"complaints"`
	Compliments        int                `json:"compliments"`
	Satisfaction       int                `json:"satisfaction"`
	PaymentIssues      int                `json:"paymentIssues"`
	NoResponseDays     int                `json:"noResponseDays"`
	DifficultyScore    int                `json:"difficultyScore"`
	PreferredProducts  []PreferredProduct `json:"preferredProducts"`
	Patterns           []string           `json:"patterns"`
	FirstOrderDate     time.Time          `json:"firstOrderDate"`
	LastOrderDate      time.Time          `json:"lastOrderDate"`
	DaysSinceLastOrder int                `json:"daysSinceLastOrder"`
}

const (
	RiskLow    = "low"
	RiskMedium = "medium"
	RiskHigh   = "high"
)

const (
	ProfileSourceAI       = "ai"
	ProfileSourceFallback = "fallback"
)

// ClientProfile is the narrative layer on top of ClientMetrics, produced either
// by remote enrichment or by the deterministic fallback.
type ClientProfile struct {
	Insights             []string `json:"insights"`
	Recommendations      []string `json:"recommendations"`
	RiskLevel            string   `json:"riskLevel"`
	RiskScore            int      `json:"riskScore"`
	BehaviorProfile      string   `json:"behaviorProfile"`
	CommunicationStyle   string   `json:"communicationStyle"`
	BusinessValue        string   `json:"businessValue"`
	PredictedActions     []string `json:"predictedActions"`
	SatisfactionAnalysis string   `json:"satisfactionAnalysis"`
	Source               string   `json:"source"`
}

type ClientReport struct {
	ClientMetrics
	Profile ClientProfile `json:"profile"`
}

type ProductStat struct {
	Product    string  `json:"product"`
	Count      int     `json:"count"`
	Revenue    float64 `json:"revenue"`
	UnitPrice  float64 `json:"unitPrice"`
	Clients    int     `json:"clients"`
	Popularity string  `json:"popularity"`
}

type TrendSlot struct {
	Index    int    `json:"index"`
	Label    string `json:"label"`
	Messages int    `json:"messages"`
	Orders   int    `json:"orders"`
}

type Trends struct {
	Hourly  []TrendSlot `json:"hourly"`
	Daily   []TrendSlot `json:"daily"`
	Monthly []TrendSlot `json:"monthly"`
}

type Summary struct {
	TotalClients         int       `json:"totalClients"`
	TotalOrders          int       `json:"totalOrders"`
	TotalPieces          int       `json:"totalPieces"`
	TotalRevenue         float64   `json:"totalRevenue"`
	AverageOrderValue    float64   `json:"averageOrderValue"`
	AvgResponseTimeHours float64   `json:"avgResponseTimeHours"`
	TotalMessages        int       `json:"totalMessages"`
	AIProfiles           int       `json:"aiProfiles"`
	FallbackProfiles     int       `json:"fallbackProfiles"`
	GeneratedAt          time.Time `json:"generatedAt"`
}

// AnalysisResult is assembled once per run and read-only afterwards.
type AnalysisResult struct {
	Summary  Summary        `json:"summary"`
	Clients  []ClientReport `json:"clients"`
	Products []ProductStat  `json:"products"`
	Trends   Trends         `json:"trends"`
	Orders   []Order        `json:"orders"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}
