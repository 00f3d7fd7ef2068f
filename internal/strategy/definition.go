package strategy

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/guyghost/quantbt/internal/market"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Definition is the serialized form of a strategy, as stored in YAML files,
// JSON request bodies and the strategies table.
type Definition struct {
	ID         string     `yaml:"id" json:"id"`
	Name       string     `yaml:"name,omitempty" json:"name,omitempty"`
	Symbol     string     `yaml:"symbol,omitempty" json:"symbol,omitempty"`
	Timeframe  string     `yaml:"timeframe" json:"timeframe"`
	EntryRules []RuleSpec `yaml:"entry_rules" json:"entry_rules"`
	ExitRules  []RuleSpec `yaml:"exit_rules,omitempty" json:"exit_rules,omitempty"`
	RiskRules  RiskSpec   `yaml:"risk_rules" json:"risk_rules"`
}

// RuleSpec is the tagged wire form of a Rule
type RuleSpec struct {
	Type       RuleKind `yaml:"type" json:"type"`
	Period     int      `yaml:"period,omitempty" json:"period,omitempty"`
	Threshold  *float64 `yaml:"threshold,omitempty" json:"threshold,omitempty"`
	Multiplier *float64 `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
}

// RiskSpec is the wire form of RiskRules. Absent fields take the defaults.
type RiskSpec struct {
	StopLossPercent    *float64 `yaml:"stop_loss_percent,omitempty" json:"stop_loss_percent,omitempty"`
	TakeProfitPercent  *float64 `yaml:"take_profit_percent,omitempty" json:"take_profit_percent,omitempty"`
	MaxPositionPercent *float64 `yaml:"max_position_percent,omitempty" json:"max_position_percent,omitempty"`
}

// Build converts a definition into a validated Strategy
func (d Definition) Build() (*Strategy, error) {
	entry, err := buildRules(d.EntryRules)
	if err != nil {
		return nil, fmt.Errorf("%w: entry_rules: %v", ErrInvalidStrategy, err)
	}
	exit, err := buildRules(d.ExitRules)
	if err != nil {
		return nil, fmt.Errorf("%w: exit_rules: %v", ErrInvalidStrategy, err)
	}

	tf := market.Timeframe(d.Timeframe)
	if tf == "" {
		tf = market.Timeframe1d
	}

	s := &Strategy{
		ID:         d.ID,
		Name:       d.Name,
		Symbol:     d.Symbol,
		Timeframe:  tf,
		EntryRules: entry,
		ExitRules:  exit,
		Risk:       d.RiskRules.build(),
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

func (r RiskSpec) build() RiskRules {
	rules := DefaultRiskRules()
	if r.StopLossPercent != nil {
		rules.StopLossPercent = decimal.NewFromFloat(*r.StopLossPercent)
	}
	if r.TakeProfitPercent != nil {
		rules.TakeProfitPercent = decimal.NewFromFloat(*r.TakeProfitPercent)
	}
	if r.MaxPositionPercent != nil {
		rules.MaxPositionPercent = decimal.NewFromFloat(*r.MaxPositionPercent)
	}
	return rules
}

func buildRules(specs []RuleSpec) ([]Rule, error) {
	rules := make([]Rule, 0, len(specs))
	for i, spec := range specs {
		r, err := spec.Build()
		if err != nil {
			return nil, fmt.Errorf("rule %d: %w", i, err)
		}
		rules = append(rules, r)
	}
	return rules, nil
}

// Build converts a rule spec into its Rule variant. Defaults apply only to
// absent fields; an explicit zero is kept and left to validation.
func (s RuleSpec) Build() (Rule, error) {
	switch s.Type {
	case KindPriceAboveMA:
		return NewPriceAboveMA(s.Period), nil
	case KindRSIOversold:
		return RSIOversold{
			Period:    orDefault(s.Period, DefaultRSIPeriod),
			Threshold: decimalOr(s.Threshold, DefaultOversold),
		}, nil
	case KindRSIOverbought:
		return RSIOverbought{
			Period:    orDefault(s.Period, DefaultRSIPeriod),
			Threshold: decimalOr(s.Threshold, DefaultOverbought),
		}, nil
	case KindVolumeSurge:
		return VolumeSurge{
			Multiplier: decimalOr(s.Multiplier, DefaultSurgeMultiplier),
			Lookback:   orDefault(s.Period, DefaultVolumeLookback),
		}, nil
	default:
		return nil, fmt.Errorf("unknown rule type %q", s.Type)
	}
}

func orDefault(n, def int) int {
	if n == 0 {
		return def
	}
	return n
}

func decimalOr(f *float64, def decimal.Decimal) decimal.Decimal {
	if f == nil {
		return def
	}
	return decimal.NewFromFloat(*f)
}

// SpecOf converts a Rule back into its wire form
func SpecOf(r Rule) RuleSpec {
	switch r := r.(type) {
	case PriceAboveMA:
		return RuleSpec{Type: r.Kind(), Period: r.Period}
	case RSIOversold:
		return RuleSpec{Type: r.Kind(), Period: r.Period, Threshold: floatPtr(r.Threshold)}
	case RSIOverbought:
		return RuleSpec{Type: r.Kind(), Period: r.Period, Threshold: floatPtr(r.Threshold)}
	case VolumeSurge:
		return RuleSpec{Type: r.Kind(), Period: r.Lookback, Multiplier: floatPtr(r.Multiplier)}
	default:
		panic(fmt.Sprintf("strategy: unhandled rule %T", r))
	}
}

// Definition converts the strategy back into its serialized form
func (s *Strategy) Definition() Definition {
	d := Definition{
		ID:        s.ID,
		Name:      s.Name,
		Symbol:    s.Symbol,
		Timeframe: string(s.Timeframe),
		RiskRules: RiskSpec{
			StopLossPercent:    floatPtr(s.Risk.StopLossPercent),
			TakeProfitPercent:  floatPtr(s.Risk.TakeProfitPercent),
			MaxPositionPercent: floatPtr(s.Risk.MaxPositionPercent),
		},
	}
	for _, r := range s.EntryRules {
		d.EntryRules = append(d.EntryRules, SpecOf(r))
	}
	for _, r := range s.ExitRules {
		d.ExitRules = append(d.ExitRules, SpecOf(r))
	}
	return d
}

func floatPtr(d decimal.Decimal) *float64 {
	f := d.InexactFloat64()
	return &f
}

// ParseYAML decodes a YAML strategy definition
func ParseYAML(data []byte) (*Strategy, error) {
	var d Definition
	if err := yaml.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse strategy: %w", err)
	}
	return d.Build()
}

// ParseJSON decodes a JSON strategy definition
func ParseJSON(data []byte) (*Strategy, error) {
	var d Definition
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("failed to parse strategy: %w", err)
	}
	return d.Build()
}

// LoadFile reads a strategy from a .yaml, .yml or .json file. The ID falls
// back to the file name when the definition has none.
func LoadFile(path string) (*Strategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read strategy file: %w", err)
	}

	var s *Strategy
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		s, err = ParseJSON(data)
	default:
		s, err = ParseYAML(data)
	}
	if err != nil {
		return nil, err
	}

	if s.ID == "" {
		s.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return s, nil
}
