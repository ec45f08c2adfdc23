package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const applicantsCSV = "../../internal/harness/testdata/applicants.csv"

// writeClassifierConfig configures only the local benchmark so no remote
// model is needed.
func writeClassifierConfig(t *testing.T) (configPath, outputPath string) {
	t.Helper()
	dir := t.TempDir()
	outputPath = filepath.Join(dir, "summary.csv")
	configPath = filepath.Join(dir, "fairscore.yaml")

	body := `
data:
  path: ` + applicantsCSV + `
spacing: -1ns
backends:
  - kind: classifier
    artifact: ../../models/benchmark_scorecard.yaml
output:
  path: ` + outputPath + `
`
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return configPath, outputPath
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRunCommand(t *testing.T) {
	configPath, outputPath := writeClassifierConfig(t)

	out, err := execute(t, "run", "--config", configPath)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	for _, want := range []string{"Benchmark ML", "FairnessDisparity_age", "Evaluated 4 applicants", "Summary saved to " + outputPath} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if _, err := os.Stat(outputPath); err != nil {
		t.Errorf("summary file not written: %v", err)
	}
}

func TestRunCommandFlagsOverrideConfig(t *testing.T) {
	configPath, _ := writeClassifierConfig(t)
	override := filepath.Join(t.TempDir(), "override.csv")

	out, err := execute(t, "run", "-c", configPath, "--limit", "2", "-o", override, "--quiet")
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if !strings.Contains(out, "Evaluated 2 applicants") {
		t.Errorf("limit not applied:\n%s", out)
	}
	if strings.Contains(out, "Accuracy") {
		t.Errorf("--quiet still printed the table:\n%s", out)
	}
	if _, err := os.Stat(override); err != nil {
		t.Errorf("override output not written: %v", err)
	}
}

func TestRunCommandRejectsInvalidConfig(t *testing.T) {
	configPath, _ := writeClassifierConfig(t)
	if _, err := execute(t, "run", "-c", configPath, "--limit", "-5"); err != nil {
		t.Fatalf("negative --limit means unset, got %v", err)
	}

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	os.WriteFile(bad, []byte("attributes: [income]\n"), 0o644)
	if _, err := execute(t, "run", "-c", bad); err == nil || !strings.Contains(err.Error(), "invalid protected attribute") {
		t.Errorf("run error = %v, want invalid attribute", err)
	}
}

func TestScoreCommand(t *testing.T) {
	configPath, _ := writeClassifierConfig(t)

	t.Run("single backend", func(t *testing.T) {
		out, err := execute(t, "score", "-c", configPath, "--id", "c-002", "--backend", "Benchmark ML")
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		if !strings.Contains(out, "Applicant: c-002 (ground truth Bad)") || !strings.Contains(out, "Verdict:") {
			t.Errorf("unexpected output:\n%s", out)
		}
	})

	t.Run("all backends", func(t *testing.T) {
		out, err := execute(t, "score", "-c", configPath)
		if err != nil {
			t.Fatalf("score failed: %v", err)
		}
		for _, want := range []string{"Applicant c-001", "Benchmark ML", "age", "gender", "region"} {
			if !strings.Contains(out, want) {
				t.Errorf("output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("unknown applicant", func(t *testing.T) {
		if _, err := execute(t, "score", "-c", configPath, "--id", "nobody"); err == nil {
			t.Error("expected error for unknown applicant")
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		if _, err := execute(t, "score", "-c", configPath, "--backend", "Oracle"); err == nil {
			t.Error("expected error for unknown backend")
		}
	})
}
