// Package classifier sorts payroll rubrics into base buckets using keyword
// rules: earnings become ENTRA, NEUTRA or FORA and deductions become
// financial, base-reducing or neutral.
//
// Rules come from a YAML file:
//
//	entra_base: [salario, horas extras, adicional noturno]
//	nao_entra_base: [vale transporte, salario familia]
//	descontos_reduzem_base: [faltas, atrasos]
//	descontos_financeiros: [emprestimo, pensao alimenticia]
//	catalogo:
//	  "HE 50% DIURNAS": ENTRA
//
// Keywords and labels are compared lowercased and without accents. Catalogue
// entries are matched exactly first and then with a fuzzy lookup, which copes
// with labels mangled by PDF extraction.
package classifier

import (
	"os"
	"strings"
	"unicode"

	"github.com/schollz/closestmatch"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
	"gopkg.in/yaml.v3"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/logger"
)

// Rules is the YAML rules document
type Rules struct {
	EntraBase            []string          `yaml:"entra_base" json:"entra_base"`
	NaoEntraBase         []string          `yaml:"nao_entra_base" json:"nao_entra_base"`
	DescontosReduzemBase []string          `yaml:"descontos_reduzem_base" json:"descontos_reduzem_base"`
	DescontosFinanceiros []string          `yaml:"descontos_financeiros" json:"descontos_financeiros"`
	Catalogo             map[string]string `yaml:"catalogo" json:"catalogo"`
}

// DefaultRules covers the rubrics most payroll systems print
func DefaultRules() *Rules {
	return &Rules{
		EntraBase: []string{
			"salario", "ordenado", "horas extras", "hora extra", "adicional noturno",
			"insalubridade", "periculosidade", "comissao", "comissoes", "gratificacao",
			"dsr", "descanso semanal", "ferias", "decimo terceiro", "premio",
			"adicional de funcao", "quebra de caixa", "saldo de salario",
		},
		NaoEntraBase: []string{
			"vale transporte", "salario familia", "salario-familia", "ajuda de custo",
			"diarias para viagem", "reembolso", "auxilio creche", "plr",
			"participacao nos lucros", "abono pecuniario", "ferias indenizadas",
			"aviso previo indenizado", "multa rescisoria", "indenizacao",
		},
		DescontosReduzemBase: []string{"faltas", "atrasos", "dsr s/ faltas", "desconto de ferias"},
		DescontosFinanceiros: []string{
			"emprestimo", "consignado", "pensao alimenticia", "adiantamento",
			"vale refeicao", "vale alimentacao", "plano de saude", "contribuicao sindical",
		},
	}
}

// LoadRules reads a YAML rules file
func LoadRules(path string) (*Rules, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, errors.FileError(errors.CodeFilePermission, path, err)
	}
	return ParseRules(data, path)
}

// ParseRules decodes YAML rules; name is used in error messages
func ParseRules(data []byte, name string) (*Rules, error) {
	var r Rules
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, errors.ParseError(errors.CodeInvalidFormat, name, 0, "rules", "", err).
			WithSuggestion("check the YAML syntax of the rules file")
	}
	for label, class := range r.Catalogo {
		if _, err := models.ParseOrigin(class); err != nil {
			return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "catalogo."+label, class, err).
				WithSuggestion("catalogue classes must be ENTRA, NEUTRA or FORA")
		}
	}
	return &r, nil
}

// Classifier applies a rule set
type Classifier struct {
	entra      []string
	naoEntra   []string
	reduzem    []string
	financeiro []string
	catalogue  map[string]models.Origin
	fuzzy      *closestmatch.ClosestMatch
	logger     logger.Logger
}

// New compiles the rules; nil rules means DefaultRules
func New(rules *Rules) *Classifier {
	if rules == nil {
		rules = DefaultRules()
	}

	c := &Classifier{
		entra:      normalizeAll(rules.EntraBase),
		naoEntra:   normalizeAll(rules.NaoEntraBase),
		reduzem:    normalizeAll(rules.DescontosReduzemBase),
		financeiro: normalizeAll(rules.DescontosFinanceiros),
		catalogue:  make(map[string]models.Origin, len(rules.Catalogo)),
		logger:     logger.WithComponent("classifier"),
	}

	keys := make([]string, 0, len(rules.Catalogo))
	for label, class := range rules.Catalogo {
		origin, err := models.ParseOrigin(class)
		if err != nil {
			continue
		}
		key := Normalize(label)
		c.catalogue[key] = origin
		keys = append(keys, key)
	}
	if len(keys) > 0 {
		c.fuzzy = closestmatch.New(keys, []int{3, 4})
	}

	c.logger.WithFields(logger.Fields{
		"entra":     len(c.entra),
		"nao_entra": len(c.naoEntra),
		"catalogue": len(c.catalogue),
	}).Debug("Compiled classification rules")

	return c
}

// ClassifyEarning returns the base bucket of a rubric of the given kind.
// Anything that is not an earning stays out of the base.
func (c *Classifier) ClassifyEarning(label string, kind models.ItemKind) models.Origin {
	if kind != models.KindEarning {
		return models.OriginExcluded
	}

	text := Normalize(label)
	if containsAny(text, c.naoEntra) {
		return models.OriginExcluded
	}
	if containsAny(text, c.entra) {
		return models.OriginIncluded
	}
	if origin, ok := c.lookupCatalogue(text); ok {
		return origin
	}
	return models.OriginAmbiguous
}

// ClassifyDeduction tells whether a deduction is financial, reduces the base or neither
func (c *Classifier) ClassifyDeduction(label string) models.DeductionClass {
	text := Normalize(label)
	if containsAny(text, c.financeiro) {
		return models.DeductionFinancial
	}
	if containsAny(text, c.reduzem) {
		return models.DeductionReducesBase
	}
	return models.DeductionNeutral
}

// Apply fills Origin and Deduction for items that came without them
func (c *Classifier) Apply(items []models.LineItem) {
	for i := range items {
		it := &items[i]
		if it.Origin == "" {
			it.Origin = c.ClassifyEarning(it.Label, it.Kind)
		}
		if it.Kind == models.KindDeduction && it.Deduction == "" {
			it.Deduction = c.ClassifyDeduction(it.Label)
		}
	}
}

func (c *Classifier) lookupCatalogue(text string) (models.Origin, bool) {
	if origin, ok := c.catalogue[text]; ok {
		return origin, true
	}
	if c.fuzzy == nil || len(text) < 4 {
		return "", false
	}

	match := c.fuzzy.Closest(text)
	if match == "" {
		return "", false
	}
	// closestmatch always answers; only trust it when one label contains the other
	if !strings.Contains(text, match) && !strings.Contains(match, text) {
		return "", false
	}
	c.logger.WithFields(logger.Fields{"label": text, "match": match}).Debug("Fuzzy catalogue match")
	return c.catalogue[match], true
}

// Normalize lowercases s, strips accents and collapses whitespace
func Normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, s)
	if err != nil {
		out = s
	}
	return strings.Join(strings.Fields(strings.ToLower(out)), " ")
}

func normalizeAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if n := Normalize(s); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func containsAny(text string, keywords []string) bool {
	for _, k := range keywords {
		if strings.Contains(text, k) {
			return true
		}
	}
	return false
}
