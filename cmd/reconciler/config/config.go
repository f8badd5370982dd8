package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/api"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/classifier"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/money"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/parsers"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/reconciler"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/reporter"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/logger"
)

// Configuration keys, shared by flags, the config file and RECONCILER_* variables
const (
	KeyPoolLimit              = "pool-limit"
	KeyPoolPolicy             = "pool-policy"
	KeyBandOK                 = "band-ok"
	KeyBandAcceptable         = "band-acceptable"
	KeyEligibleOrigins        = "eligible-origins"
	KeyWorkers                = "workers"
	KeyExplainMaxItems        = "explain-max-items"
	KeyExplainTolerance       = "explain-tolerance"
	KeyInconsistencyTolerance = "inconsistency-tolerance"
	KeyRules                  = "rules"
	KeyDB                     = "db"
	KeyDelimiter              = "delimiter"
	KeyEncoding               = "encoding"
	KeyMaxErrors              = "max-errors"
	KeyAddr                   = "addr"
	KeyRateLimit              = "rate-limit"
	KeyRateBurst              = "rate-burst"
	KeyLogLevel               = "log-level"
	KeyLogFormat              = "log-format"
	KeyLogFile                = "log-file"
	KeyVerbose                = "verbose"
)

// SetDefaults registers the default of every key
func SetDefaults(v *viper.Viper) {
	rc := reconciler.DefaultConfig()
	v.SetDefault(KeyPoolLimit, rc.PoolLimit)
	v.SetDefault(KeyPoolPolicy, string(rc.PoolPolicy))
	v.SetDefault(KeyBandOK, rc.Bands.OK.String())
	v.SetDefault(KeyBandAcceptable, rc.Bands.Acceptable.String())
	v.SetDefault(KeyEligibleOrigins, originNames(rc.EligibleOrigins))
	v.SetDefault(KeyWorkers, 0)
	v.SetDefault(KeyExplainMaxItems, rc.ExplainMaxItems)
	v.SetDefault(KeyExplainTolerance, rc.ExplainTolerance.String())
	v.SetDefault(KeyInconsistencyTolerance, rc.InconsistencyTolerance.String())

	pc := parsers.DefaultParseConfig()
	v.SetDefault(KeyDelimiter, string(pc.Delimiter))
	v.SetDefault(KeyEncoding, pc.Encoding)
	v.SetDefault(KeyMaxErrors, pc.MaxErrors)

	ac := api.DefaultConfig()
	v.SetDefault(KeyAddr, ac.Addr)
	v.SetDefault(KeyRateLimit, ac.RateLimit)
	v.SetDefault(KeyRateBurst, ac.RateBurst)

	v.SetDefault(KeyLogLevel, string(logger.InfoLevel))
	v.SetDefault(KeyLogFormat, string(logger.TextFormat))
}

// CreateReconcilerConfig builds the reconciliation settings
func CreateReconcilerConfig(v *viper.Viper) (*reconciler.Config, error) {
	cfg := reconciler.DefaultConfig()
	cfg.PoolLimit = v.GetInt(KeyPoolLimit)

	policy, err := reconciler.ParsePoolPolicy(v.GetString(KeyPoolPolicy))
	if err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyPoolPolicy, v.GetString(KeyPoolPolicy), err).
			WithSuggestion("use magnitude or recurrence")
	}
	cfg.PoolPolicy = policy

	if cfg.Bands.OK, err = decimalKey(v, KeyBandOK); err != nil {
		return nil, err
	}
	if cfg.Bands.Acceptable, err = decimalKey(v, KeyBandAcceptable); err != nil {
		return nil, err
	}
	if cfg.ExplainTolerance, err = decimalKey(v, KeyExplainTolerance); err != nil {
		return nil, err
	}
	if cfg.InconsistencyTolerance, err = decimalKey(v, KeyInconsistencyTolerance); err != nil {
		return nil, err
	}
	cfg.ExplainMaxItems = v.GetInt(KeyExplainMaxItems)

	if v.IsSet(KeyEligibleOrigins) {
		origins, err := parseOrigins(v.GetStringSlice(KeyEligibleOrigins))
		if err != nil {
			return nil, err
		}
		cfg.EligibleOrigins = origins
	}

	cfg.Workers = v.GetInt(KeyWorkers)
	if cfg.Workers == 0 {
		cfg.Workers = runtime.NumCPU()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CreateParseConfig builds the CSV parsing settings
func CreateParseConfig(v *viper.Viper) (*parsers.ParseConfig, error) {
	cfg := parsers.DefaultParseConfig()

	delim := v.GetString(KeyDelimiter)
	if delim == `\t` || strings.EqualFold(delim, "tab") {
		delim = "\t"
	}
	if utf8.RuneCountInString(delim) != 1 {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyDelimiter, delim, nil).
			WithSuggestion("the delimiter must be a single character such as ';' or ','")
	}
	cfg.Delimiter, _ = utf8.DecodeRuneInString(delim)
	cfg.Encoding = v.GetString(KeyEncoding)
	cfg.MaxErrors = v.GetInt(KeyMaxErrors)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CreateReportConfig builds the report settings for a format name
func CreateReportConfig(format string, includeRadar bool) (*reporter.ReportConfig, error) {
	f, err := reporter.ParseFormat(format)
	if err != nil {
		return nil, err
	}

	cfg := reporter.DefaultReportConfig()
	cfg.Format = f
	cfg.IncludeRadar = includeRadar
	switch f {
	case reporter.FormatJSON, reporter.FormatXLSX:
		// machine readable outputs carry every returned item
		cfg.MaxChosenPerGroup = 0
	case reporter.FormatCSV:
		cfg.CSVHeaders = true
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CreateAPIConfig builds the HTTP server settings
func CreateAPIConfig(v *viper.Viper) (*api.Config, error) {
	cfg := api.DefaultConfig()
	cfg.Addr = v.GetString(KeyAddr)
	cfg.RateLimit = v.GetFloat64(KeyRateLimit)
	cfg.RateBurst = v.GetInt(KeyRateBurst)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// CreateLoggerConfig builds the logger settings; logs go to stderr so that
// reports can be piped from stdout
func CreateLoggerConfig(v *viper.Viper) (*logger.Config, error) {
	cfg := logger.DefaultConfig()
	cfg.Level = logger.Level(strings.ToLower(v.GetString(KeyLogLevel)))
	cfg.Format = logger.Format(strings.ToLower(v.GetString(KeyLogFormat)))
	if v.GetBool(KeyVerbose) {
		cfg.Level = logger.DebugLevel
	}
	if file := v.GetString(KeyLogFile); file != "" {
		cfg.Output = logger.FileOutput
		cfg.File = file
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "logging", cfg.Level, err)
	}
	return cfg, nil
}

// CreateClassifier loads the rules file, or the built-in rules when none is set
func CreateClassifier(v *viper.Viper) (*classifier.Classifier, error) {
	path := v.GetString(KeyRules)
	if path == "" {
		return classifier.New(nil), nil
	}
	rules, err := classifier.LoadRules(path)
	if err != nil {
		return nil, err
	}
	return classifier.New(rules), nil
}

// ParseCandidates reads "label=value:ORIGIN" entries separated by commas or
// semicolons. The origin is optional and values may use the Brazilian format,
// so "Diárias=1.234,56:NEUTRA;Bônus=300" has two candidates.
func ParseCandidates(list string) ([]models.Candidate, error) {
	var out []models.Candidate
	for _, entry := range splitEntries(list) {
		eq := strings.LastIndex(entry, "=")
		if eq <= 0 {
			return nil, errors.ValidationError(errors.CodeInvalidData, "candidates", entry, nil).
				WithSuggestion("use label=value or label=value:ORIGIN")
		}
		label := strings.TrimSpace(entry[:eq])
		rest := strings.TrimSpace(entry[eq+1:])

		var origin models.Origin
		if colon := strings.LastIndex(rest, ":"); colon >= 0 {
			o, err := models.ParseOrigin(rest[colon+1:])
			if err != nil {
				return nil, errors.ValidationError(errors.CodeInvalidData, "candidates", entry, err).
					WithSuggestion("origins are ENTRA, NEUTRA or FORA")
			}
			origin = o
			rest = strings.TrimSpace(rest[:colon])
		}

		value, err := parseAmount(rest)
		if err != nil {
			return nil, errors.ValidationError(errors.CodeInvalidAmount, "candidates", entry, err)
		}
		out = append(out, models.NewCandidate(label, value, origin))
	}
	return out, nil
}

// splitEntries splits on ";" when present, since "," is the decimal separator
// of Brazilian amounts
func splitEntries(list string) []string {
	sep := ","
	if strings.Contains(list, ";") {
		sep = ";"
	}
	var out []string
	for _, part := range strings.Split(list, sep) {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// LoadCandidates reads a JSON or YAML list of {label, value, origin_tag}
func LoadCandidates(path string) ([]models.Candidate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "candidates", "", err)
		}
		if data, err = json.Marshal(doc); err != nil {
			return nil, errors.ParseError(errors.CodeInvalidFormat, path, 0, "candidates", "", err)
		}
	case ".json":
	default:
		return nil, errors.FileError(errors.CodeUnsupportedFormat, path, nil).
			WithSuggestion("use a .json or .yaml candidates file")
	}

	var candidates []models.Candidate
	if err := json.Unmarshal(data, &candidates); err != nil {
		return nil, errors.ParseError(errors.CodeInvalidData, path, 0, "candidates", "", err)
	}
	return candidates, nil
}

// ParseAmount reads a Brazilian formatted amount: "1.234,56", "1234,56" or
// "1234.56". A dot before exactly three digits groups thousands.
func ParseAmount(s string) (*decimal.Decimal, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	d, err := parseAmount(s)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	return money.ParseBRL(s)
}

// decimalKey keeps numbers from config files as numbers; only text goes
// through the Brazilian parser
func decimalKey(v *viper.Viper, key string) (decimal.Decimal, error) {
	switch n := v.Get(key).(type) {
	case float64:
		return decimal.NewFromFloat(n), nil
	case int:
		return decimal.NewFromInt(int64(n)), nil
	case int64:
		return decimal.NewFromInt(n), nil
	}
	raw := v.GetString(key)
	d, err := parseAmount(raw)
	if err != nil {
		return decimal.Zero, errors.ConfigurationError(errors.CodeInvalidConfig, key, raw, err)
	}
	return d, nil
}

func parseOrigins(names []string) ([]models.Origin, error) {
	var out []models.Origin
	for _, name := range names {
		for _, part := range strings.Split(name, ",") {
			if strings.TrimSpace(part) == "" {
				continue
			}
			o, err := models.ParseOrigin(part)
			if err != nil {
				return nil, errors.ConfigurationError(errors.CodeInvalidConfig, KeyEligibleOrigins, part, err).
					WithSuggestion("origins are ENTRA, NEUTRA or FORA")
			}
			out = append(out, o)
		}
	}
	return out, nil
}

func originNames(origins []models.Origin) []string {
	out := make([]string, len(origins))
	for i, o := range origins {
		out[i] = string(o)
	}
	return out
}

// Describe renders the effective settings for --verbose output
func Describe(v *viper.Viper) string {
	var b strings.Builder
	for _, key := range []string{KeyPoolLimit, KeyPoolPolicy, KeyBandOK, KeyBandAcceptable, KeyEligibleOrigins, KeyWorkers, KeyRules, KeyDB} {
		fmt.Fprintf(&b, "%s=%v\n", key, v.Get(key))
	}
	return b.String()
}
