package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const testExperiment = `experimentName: FR1
experimentClass: FRExperiment
wordpool: [a0, a1, a2, a3, a4, a5]
wordsPerList: 2
practiceLists: 1
preNoStimLists: 0
encodingOnlyLists: 0
retrievalOnlyLists: 0
encodingAndRetrievalLists: 0
noStimLists: 0
restDuration: 1
stimulusDuration: 1
interStimulusInterval: [1, 2]
encodingDelay: [1, 2]
distractorDuration: 5
recallPromptDuration: 1
recallDuration: 1
micTestDuration: 1
`

// setupDirs writes a config directory and returns it with an empty data dir.
func setupDirs(t *testing.T) (configDir, dataDir string) {
	t.Helper()
	root := t.TempDir()
	configDir = filepath.Join(root, "configs")
	dataDir = filepath.Join(root, "data")
	if err := os.MkdirAll(configDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "config.json"), []byte(`{"eventsPerFrame": 5}`), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "FR1.yaml"), []byte(testExperiment), 0o644); err != nil {
		t.Fatalf("write experiment: %v", err)
	}
	return configDir, dataDir
}

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetIn(strings.NewReader(stdin))
	root.SetArgs(append(args, "--log-level", "error"))
	err := root.Execute()
	return out.String(), err
}

func TestRun_RequiresArgs(t *testing.T) {
	if _, err := execute(t, "", "run", "FR1"); err == nil {
		t.Fatal("expected error for missing participant")
	}
}

func TestRun_QuitFromStdinSavesSnapshot(t *testing.T) {
	configDir, dataDir := setupDirs(t)

	_, err := execute(t, "escape\n", "run", "FR1", "LTP001",
		"--config-dir", configDir,
		"--data-dir", dataDir,
		"--store", "file",
		"--session", "1",
		"--tick", "1ms",
	)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	snapshot := filepath.Join(dataDir, "LTP001", "session_1", "state.json")
	if _, err := os.Stat(snapshot); err != nil {
		t.Fatalf("expected snapshot at %s: %v", snapshot, err)
	}
}

func TestRun_UnknownExperiment(t *testing.T) {
	configDir, dataDir := setupDirs(t)

	_, err := execute(t, "", "run", "catFR", "LTP001",
		"--config-dir", configDir,
		"--data-dir", dataDir,
		"--store", "memory",
	)
	if err == nil || !strings.Contains(err.Error(), "catFR") {
		t.Fatalf("expected launch error naming catFR, got %v", err)
	}
}

func TestInspect_UnknownStore(t *testing.T) {
	if _, err := execute(t, "", "inspect", "--store", "etcd"); err == nil {
		t.Fatal("expected error for unknown store kind")
	}
}

func TestExperiments_MissingConfigDir(t *testing.T) {
	if _, err := execute(t, "", "experiments", "--config-dir", filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing config dir")
	}
}
