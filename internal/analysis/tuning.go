package analysis

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/raulgabino/panwhat-sub000/internal/profile"
)

// Tuning holds the bakery-specific business values the heuristics run on. The
// magnitudes come from one bakery's vocabulary and currency and have not been
// validated against outcomes; change them through a tuning file, not code.
type Tuning struct {
	Products []ProductRule `yaml:"products"`

	PositiveWords      []string `yaml:"positive_words"`
	NegativeWords      []string `yaml:"negative_words"`
	PaymentIssueWords  []string `yaml:"payment_issue_phrases"`
	NoResponsePhrases  []string `yaml:"no_response_phrases"`
	NoResponseWord     string   `yaml:"no_response_word"`
	NoResponseMaxChars int      `yaml:"no_response_max_chars"`
	ResponseCues       []string `yaml:"response_cues"`
	// PriceWords must sit right before or after a bare number (no "$", no
	// thousands separator) for it to count as a price.
	PriceWords []string `yaml:"price_words"`

	ResponseWindowHours float64 `yaml:"response_window_hours"`
	MinExplicitPrice    float64 `yaml:"min_explicit_price"`
	AverageUnitPrice    float64 `yaml:"average_unit_price"`

	LargeOrderPieces  int `yaml:"large_order_pieces"`
	MediumOrderPieces int `yaml:"medium_order_pieces"`

	Difficulty DifficultyWeights `yaml:"difficulty"`
	Patterns   PatternThresholds `yaml:"patterns"`
	Popularity PopularityBuckets `yaml:"popularity"`

	Risk      profile.RiskWeights         `yaml:"risk"`
	Narrative profile.NarrativeThresholds `yaml:"narrative"`
}

type ProductRule struct {
	Name      string  `yaml:"name"`
	Pattern   string  `yaml:"pattern"`
	UnitPrice float64 `yaml:"unit_price"`
}

type DifficultyWeights struct {
	MessagesPerOrder      int     `yaml:"messages_per_order"`
	MessagesPerOrderAbove float64 `yaml:"messages_per_order_above"`
	SlowResponse          int     `yaml:"slow_response"`
	SlowResponseAbove     float64 `yaml:"slow_response_above_hours"`
	PaymentIssue          int     `yaml:"payment_issue"`
	NoResponse            int     `yaml:"no_response"`
	NoResponseAbove       int     `yaml:"no_response_above"`
	LowFrequency          int     `yaml:"low_frequency"`
	LowFrequencyBelow     float64 `yaml:"low_frequency_below"`
	Unsatisfied           int     `yaml:"unsatisfied"`
}

type PatternThresholds struct {
	LargeOrdersAvgPieces float64 `yaml:"large_orders_avg_pieces"`
	FrequentPerWeek      float64 `yaml:"frequent_per_week"`
	SlowResponseHours    float64 `yaml:"slow_response_hours"`
	InactivityNoDays     int     `yaml:"inactivity_no_days"`
	SatisfiedAbove       int     `yaml:"satisfied_above"`
	DissatisfiedBelow    int     `yaml:"dissatisfied_below"`
	HighValueSpent       float64 `yaml:"high_value_spent"`
}

type PopularityBuckets struct {
	VeryHighAbove int `yaml:"very_high_above"`
	HighAbove     int `yaml:"high_above"`
	MediumAbove   int `yaml:"medium_above"`
}

func DefaultTuning() Tuning {
	return Tuning{
		Products: []ProductRule{
			{Name: "pastelitos", Pattern: `pastelit(?:o|os|a|as)`, UnitPrice: 1200},
			{Name: "donas", Pattern: `donas?`, UnitPrice: 1100},
			{Name: "conchas", Pattern: `conchas?`, UnitPrice: 900},
			{Name: "cuernitos", Pattern: `cuernit(?:o|os)|croissants?`, UnitPrice: 950},
			{Name: "empanadas", Pattern: `empanadas?`, UnitPrice: 1000},
			{Name: "galletas", Pattern: `galletas?`, UnitPrice: 700},
			{Name: "orejas", Pattern: `orejas?`, UnitPrice: 800},
			{Name: "bolillos", Pattern: `bolill(?:o|os)`, UnitPrice: 500},
			{Name: "roles", Pattern: `rol(?:es)?\s+de\s+canela|roles`, UnitPrice: 1000},
			{Name: "pan dulce", Pattern: `pan(?:es)?\s+dulces?`, UnitPrice: 850},
		},
		PositiveWords: []string{"gracias", "perfecto", "excelente", "bueno", "ok", "genial", "delicioso", "riquísimo"},
		NegativeWords: []string{"problema", "mal", "error", "queja", "reclamo", "demora", "tarde"},
		PaymentIssueWords: []string{
			"pago pendiente", "pagar después", "pago después", "pago mañana", "pagar mañana",
			"no he pagado", "no pude pagar", "no puedo pagar", "falta el pago", "falta pagar", "pago atrasado",
		},
		NoResponsePhrases:   []string{"hoy no"},
		NoResponseWord:      "no",
		NoResponseMaxChars:  20,
		ResponseCues:        []string{"cuántas piezas"},
		PriceWords: []string{
			"pesos", "peso", "mxn", "total", "deposito", "depósito", "deposité", "transfiero",
			"transferencia", "cuesta", "cuestan", "precio", "cobro", "cobras", "son", "pago",
		},
		ResponseWindowHours: 24,
		MinExplicitPrice:    1000,
		AverageUnitPrice:    850,
		LargeOrderPieces:    25,
		MediumOrderPieces:   15,
		Difficulty: DifficultyWeights{
			MessagesPerOrder:      1,
			MessagesPerOrderAbove: 2,
			SlowResponse:          2,
			SlowResponseAbove:     4,
			PaymentIssue:          3,
			NoResponse:            2,
			NoResponseAbove:       3,
			LowFrequency:          1,
			LowFrequencyBelow:     1,
			Unsatisfied:           2,
		},
		Patterns: PatternThresholds{
			LargeOrdersAvgPieces: 25,
			FrequentPerWeek:      4,
			SlowResponseHours:    3,
			InactivityNoDays:     3,
			SatisfiedAbove:       2,
			DissatisfiedBelow:    -1,
			HighValueSpent:       20000,
		},
		Popularity: PopularityBuckets{
			VeryHighAbove: 50,
			HighAbove:     20,
			MediumAbove:   10,
		},
		Risk:      profile.DefaultRiskWeights(),
		Narrative: profile.DefaultNarrativeThresholds(),
	}
}

// LoadTuning overlays the YAML file at path on DefaultTuning. Keys absent from
// the file keep their default; lists present in the file replace the default list.
func LoadTuning(path string) (Tuning, error) {
	t := DefaultTuning()
	if strings.TrimSpace(path) == "" {
		return t, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return t, fmt.Errorf("read tuning: %w", err)
	}
	if err := yaml.Unmarshal(data, &t); err != nil {
		return t, fmt.Errorf("parse tuning yaml: %w", err)
	}
	return t, nil
}

type compiledProduct struct {
	name      string
	unitPrice float64
	re        *regexp.Regexp
}

type compiledTuning struct {
	Tuning
	products   []compiledProduct
	positive   []*regexp.Regexp
	negative   []*regexp.Regexp
	priceWords map[string]bool
	prices     map[string]float64
}

var (
	piecesRegex = regexp.MustCompile(`(?i)(\d+)\s*piezas?\b`)
	// $1,500 | $ 2000.50 | 1,500 | 2500; bare amounts need four digits and a price word.
	priceRegex = regexp.MustCompile(`\$\s?\d{1,3}(?:,\d{3})+(?:\.\d+)?|\$\s?\d+(?:\.\d+)?|\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d{4,}(?:\.\d+)?`)
)

func (t Tuning) compile() (*compiledTuning, error) {
	ct := &compiledTuning{Tuning: t, prices: make(map[string]float64, len(t.Products))}
	for _, p := range t.Products {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("product rule with empty name")
		}
		pattern := strings.TrimSpace(p.Pattern)
		if pattern == "" {
			pattern = regexp.QuoteMeta(name)
		}
		re, err := regexp.Compile(`(?i)(?:\b(\d+)\s*)?\b(?:` + pattern + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("product %q pattern: %w", name, err)
		}
		ct.products = append(ct.products, compiledProduct{name: name, unitPrice: p.UnitPrice, re: re})
		ct.prices[name] = p.UnitPrice
	}
	ct.positive = compileWords(t.PositiveWords)
	ct.negative = compileWords(t.NegativeWords)
	ct.priceWords = make(map[string]bool, len(t.PriceWords))
	for _, w := range t.PriceWords {
		if w = strings.ToLower(strings.TrimSpace(w)); w != "" {
			ct.priceWords[w] = true
		}
	}
	return ct, nil
}

func compileWords(words []string) []*regexp.Regexp {
	var out []*regexp.Regexp
	for _, w := range words {
		w = strings.TrimSpace(w)
		if w == "" {
			continue
		}
		out = append(out, wordRegex(w))
	}
	return out
}

// RE2's \b is ASCII-only, so word edges are spelled out to keep accented
// letters from counting as boundaries.
func wordRegex(word string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)(?:^|[^\p{L}\p{N}])(` + regexp.QuoteMeta(strings.ToLower(word)) + `)(?:[^\p{L}\p{N}]|$)`)
}

func countWord(re *regexp.Regexp, text string) int {
	n := 0
	for len(text) > 0 {
		loc := re.FindStringSubmatchIndex(text)
		if loc == nil {
			break
		}
		n++
		// Resume right after the word itself so a shared separator can start the next match.
		text = text[loc[3]:]
	}
	return n
}
