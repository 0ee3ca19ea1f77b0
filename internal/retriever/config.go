package retriever

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/chatdochq/chatdoc/internal/docs"
)

// Strategy is the closed set of selection policies. Strategy strings are
// parsed once at the boundary so an invalid name fails at configuration time,
// not inside a request.
type Strategy int

const (
	StrategySimilarity Strategy = iota
	StrategyThreshold
	StrategyDiversity
)

func (s Strategy) String() string {
	switch s {
	case StrategySimilarity:
		return "similarity"
	case StrategyThreshold:
		return "similarity_with_threshold"
	case StrategyDiversity:
		return "diversity"
	default:
		return fmt.Sprintf("strategy(%d)", int(s))
	}
}

// ParseStrategy maps a strategy name to its enum value.
func ParseStrategy(value string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "similarity":
		return StrategySimilarity, nil
	case "similarity_with_threshold":
		return StrategyThreshold, nil
	case "diversity", "mmr":
		return StrategyDiversity, nil
	default:
		return 0, fmt.Errorf("%w: unknown strategy %q", docs.ErrInvalidConfig, value)
	}
}

func (s Strategy) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *Strategy) UnmarshalJSON(data []byte) error {
	var raw string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParseStrategy(raw)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Config is the tunable retrieval policy. It is plain data supplied by the
// caller and may be replaced between calls; validation happens when it is
// applied, not at construction.
type Config struct {
	Strategy       Strategy `json:"strategy"`
	TopK           int      `json:"top_k"`
	ScoreThreshold float64  `json:"score_threshold"`
	FetchK         int      `json:"fetch_k"`
	DiversityBias  float64  `json:"diversity_bias"`
}

// DefaultConfig mirrors the retrieval defaults of the upstream vector-store
// retrievers: top 4 results, a 20-candidate diversity pool, balanced bias.
func DefaultConfig() Config {
	return Config{
		Strategy:       StrategySimilarity,
		TopK:           4,
		ScoreThreshold: 0.5,
		FetchK:         20,
		DiversityBias:  0.5,
	}
}

// LoadConfig builds the boundary-level default config from RETRIEVER_*
// environment variables. Internal components never read the environment;
// the resolved value is passed in explicitly.
func LoadConfig() (Config, error) {
	cfg := DefaultConfig()
	if raw := strings.TrimSpace(os.Getenv("RETRIEVER_STRATEGY")); raw != "" {
		strategy, err := ParseStrategy(raw)
		if err != nil {
			return Config{}, err
		}
		cfg.Strategy = strategy
	}
	if raw := strings.TrimSpace(os.Getenv("RETRIEVER_TOP_K")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("%w: parse RETRIEVER_TOP_K: %v", docs.ErrInvalidConfig, err)
		}
		cfg.TopK = value
	}
	if raw := strings.TrimSpace(os.Getenv("RETRIEVER_SCORE_THRESHOLD")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%w: parse RETRIEVER_SCORE_THRESHOLD: %v", docs.ErrInvalidConfig, err)
		}
		cfg.ScoreThreshold = value
	}
	if raw := strings.TrimSpace(os.Getenv("RETRIEVER_FETCH_K")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Config{}, fmt.Errorf("%w: parse RETRIEVER_FETCH_K: %v", docs.ErrInvalidConfig, err)
		}
		cfg.FetchK = value
	}
	if raw := strings.TrimSpace(os.Getenv("RETRIEVER_DIVERSITY_BIAS")); raw != "" {
		value, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return Config{}, fmt.Errorf("%w: parse RETRIEVER_DIVERSITY_BIAS: %v", docs.ErrInvalidConfig, err)
		}
		cfg.DiversityBias = value
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects combinations that can never execute. Called both when a
// config is installed on a collection and at the top of every retrieval.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategySimilarity, StrategyThreshold, StrategyDiversity:
	default:
		return fmt.Errorf("%w: unknown strategy %q", docs.ErrInvalidConfig, c.Strategy)
	}
	if c.TopK <= 0 {
		return fmt.Errorf("%w: top_k must be positive, got %d", docs.ErrInvalidConfig, c.TopK)
	}
	if c.Strategy == StrategyThreshold {
		if c.ScoreThreshold < -1 || c.ScoreThreshold > 1 {
			return fmt.Errorf("%w: score_threshold must be within [-1,1], got %g", docs.ErrInvalidConfig, c.ScoreThreshold)
		}
	}
	if c.Strategy == StrategyDiversity {
		if c.FetchK < c.TopK {
			return fmt.Errorf("%w: fetch_k (%d) must be at least top_k (%d)", docs.ErrInvalidConfig, c.FetchK, c.TopK)
		}
		if c.DiversityBias < 0 || c.DiversityBias > 1 {
			return fmt.Errorf("%w: diversity_bias must be within [0,1], got %g", docs.ErrInvalidConfig, c.DiversityBias)
		}
	}
	return nil
}
