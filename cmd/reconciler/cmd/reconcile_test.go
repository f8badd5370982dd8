package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
)

// jsonReport mirrors the JSON report written by the reporter
type jsonReport struct {
	Source  string                        `json:"source"`
	Results []models.ReconciliationResult `json:"results"`
	Errors  []json.RawMessage             `json:"errors"`
	Radar   []json.RawMessage             `json:"radar"`
}

func resetFlags(cmd *cobra.Command) {
	reset := func(f *pflag.Flag) {
		_ = f.Value.Set(f.DefValue)
		f.Changed = false
	}
	cmd.Flags().VisitAll(reset)
	cmd.PersistentFlags().VisitAll(reset)
	for _, c := range cmd.Commands() {
		resetFlags(c)
	}
}

// executeCommand runs the CLI in-process with fresh flags and settings
func executeCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()
	viper.Reset()
	resetFlags(rootCmd)

	var stdout, stderr bytes.Buffer
	rootCmd.SetOut(&stdout)
	rootCmd.SetErr(&stderr)
	rootCmd.SetArgs(append(args, "--log-level", "error"))
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetArgs(nil)
	})

	err := rootCmd.ExecuteContext(context.Background())
	return stdout.String(), err
}

func decodeReport(t *testing.T, data []byte) jsonReport {
	t.Helper()
	var report jsonReport
	if err := json.Unmarshal(data, &report); err != nil {
		t.Fatalf("report is not valid JSON: %v\n%s", err, data)
	}
	return report
}

func TestReconcileCommand(t *testing.T) {
	out, err := executeCommand(t, "reconcile",
		"--current-base", "80000",
		"--target", "98834,04",
		"--candidates", "Diárias=6202,87:NEUTRA;Bônus=12631,17:FORA;Salário=500:ENTRA",
		"--period", "01/2024",
		"--segment", "ativos",
		"--format", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report := decodeReport(t, []byte(out))
	if len(report.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(report.Results))
	}
	result := report.Results[0]

	if result.State != models.StateApproximated {
		t.Errorf("expected state %s, got %s", models.StateApproximated, result.State)
	}
	if result.ResidualError == nil || !result.ResidualError.IsZero() {
		t.Errorf("expected a zero residual, got %v", result.ResidualError)
	}
	if result.Status != models.StatusOK {
		t.Errorf("expected status %s, got %s", models.StatusOK, result.Status)
	}
	if !result.ApproximatedBase.Equal(decimal.RequireFromString("98834.04")) {
		t.Errorf("expected approximated base 98834.04, got %s", result.ApproximatedBase)
	}
	if len(result.ChosenCandidates) != 2 {
		t.Errorf("expected both eligible candidates chosen, got %v", result.ChosenCandidates)
	}
	for _, c := range result.ChosenCandidates {
		if c.Origin == models.OriginIncluded {
			t.Errorf("ENTRA candidate %s should not be searched", c.Label)
		}
	}
	if result.Group.Segment != models.SegmentActive || result.Group.Period != "01/2024" {
		t.Errorf("unexpected group %s", result.Group)
	}
	if report.Source != "01/2024 ATIVOS" {
		t.Errorf("unexpected source %q", report.Source)
	}
}

func TestReconcileCommandWithoutTarget(t *testing.T) {
	out, err := executeCommand(t, "reconcile", "--current-base", "1000", "--candidates", "A=10,B=20", "--format", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	report := decodeReport(t, []byte(out))
	if len(report.Results) != 1 {
		t.Fatalf("expected 1 result, got %d", len(report.Results))
	}
	if report.Results[0].State != models.StateNoTarget {
		t.Errorf("expected state %s, got %s", models.StateNoTarget, report.Results[0].State)
	}
	if !report.Results[0].ApproximatedBase.Equal(decimal.NewFromInt(1000)) {
		t.Errorf("expected the current base to be kept, got %s", report.Results[0].ApproximatedBase)
	}
}

func TestReconcileCommandCandidatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "candidatos.yaml")
	content := "- label: Diárias\n  value: \"150,00\"\n  origin_tag: NEUTRA\n- label: Bônus\n  value: 400\n  origin_tag: FORA\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write candidates: %v", err)
	}

	out, err := executeCommand(t, "reconcile", "--current-base", "1.000,00", "--target", "1200", "--candidates-file", path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, want := range []string{"RECONCILIATION REPORT", "=== SUMMARY ===", "Diárias"} {
		if !strings.Contains(out, want) {
			t.Errorf("console report should contain %q\n%s", want, out)
		}
	}
}

func TestReconcileCommandPoolLimitFlag(t *testing.T) {
	out, err := executeCommand(t, "reconcile",
		"--current-base", "0",
		"--target", "100",
		"--candidates", "A=60,B=50,C=40",
		"--pool-limit", "1",
		"--format", "json")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	result := decodeReport(t, []byte(out)).Results[0]
	if result.PoolSize != 1 {
		t.Errorf("expected pool size 1, got %d", result.PoolSize)
	}
	if !result.Truncated {
		t.Error("expected the pool to be truncated")
	}
	if !result.ApproximatedBase.Equal(decimal.NewFromInt(60)) {
		t.Errorf("expected only the largest candidate, got %s", result.ApproximatedBase)
	}
}

func TestValidateReconcileFlags(t *testing.T) {
	tmpDir := t.TempDir()

	tests := []struct {
		name     string
		setup    func()
		wantCode errors.ErrorCode
	}{
		{
			name:     "missing current base",
			setup:    func() {},
			wantCode: errors.CodeMissingField,
		},
		{
			name: "both candidate sources",
			setup: func() {
				viper.Set(flagCurrentBase, "10")
				viper.Set(flagCandidates, "A=1")
				viper.Set(flagCandidatesFile, "c.json")
			},
			wantCode: errors.CodeInvalidConfig,
		},
		{
			name: "missing candidates file",
			setup: func() {
				viper.Set(flagCurrentBase, "10")
				viper.Set(flagCandidatesFile, filepath.Join(tmpDir, "missing.json"))
			},
			wantCode: errors.CodeFileNotFound,
		},
		{
			name: "invalid output format",
			setup: func() {
				viper.Set(flagCurrentBase, "10")
				viper.Set(flagFormat, "xml")
			},
			wantCode: errors.CodeInvalidConfig,
		},
		{
			name: "xlsx without output file",
			setup: func() {
				viper.Set(flagCurrentBase, "10")
				viper.Set(flagFormat, "xlsx")
			},
			wantCode: errors.CodeInvalidConfig,
		},
		{
			name: "missing output directory",
			setup: func() {
				viper.Set(flagCurrentBase, "10")
				viper.Set(flagFormat, "json")
				viper.Set(flagOutput, filepath.Join(tmpDir, "nope", "out.json"))
			},
			wantCode: errors.CodeFileNotFound,
		},
		{
			name: "valid",
			setup: func() {
				viper.Set(flagCurrentBase, "10")
				viper.Set(flagFormat, "console")
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			viper.Reset()
			viper.Set(flagFormat, "console")
			tt.setup()

			err := validateReconcileFlags(&cobra.Command{}, nil)
			if tt.wantCode == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if !errors.HasCode(err, tt.wantCode) {
				t.Errorf("expected error code %s, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestReconcileCommandRejectsBadInput(t *testing.T) {
	tests := []struct {
		name     string
		args     []string
		wantCode errors.ErrorCode
	}{
		{
			name:     "bad current base",
			args:     []string{"--current-base", "mil"},
			wantCode: errors.CodeInvalidAmount,
		},
		{
			name:     "bad candidate",
			args:     []string{"--current-base", "10", "--candidates", "A"},
			wantCode: errors.CodeInvalidData,
		},
		{
			name:     "negative target",
			args:     []string{"--current-base", "10", "--target=-5"},
			wantCode: errors.CodeNegativeTarget,
		},
		{
			name:     "pool limit too large",
			args:     []string{"--current-base", "10", "--pool-limit", "61"},
			wantCode: errors.CodeInvalidPoolLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := executeCommand(t, append([]string{"reconcile"}, tt.args...)...)
			if !errors.HasCode(err, tt.wantCode) {
				t.Errorf("expected error code %s, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestReconcileCommandHelp(t *testing.T) {
	var helpOutput bytes.Buffer
	reconcileCmd.SetOut(&helpOutput)
	defer reconcileCmd.SetOut(nil)
	if err := reconcileCmd.Help(); err != nil {
		t.Fatalf("help failed: %v", err)
	}

	helpText := helpOutput.String()
	for _, section := range []string{"Usage:", "Examples:", "Flags:", "--current-base", "--candidates-file", "--pool-limit"} {
		if !strings.Contains(helpText, section) {
			t.Errorf("help text should contain '%s'", section)
		}
	}
}
