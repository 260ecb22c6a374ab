package buzzer

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func withModel(t *testing.T, content string) {
	t.Helper()
	old := modelPath
	t.Cleanup(func() { modelPath = old })

	if content == "" {
		modelPath = filepath.Join(t.TempDir(), "missing")
		return
	}
	modelPath = filepath.Join(t.TempDir(), "model")
	if err := os.WriteFile(modelPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestIsRaspberryPi(t *testing.T) {
	withModel(t, "Raspberry Pi 4 Model B Rev 1.4\x00")
	if !IsRaspberryPi() {
		t.Fatalf("expected Raspberry Pi model to be detected")
	}

	withModel(t, "Pine64 RockPro64\x00")
	if IsRaspberryPi() {
		t.Fatalf("other boards must not be detected")
	}

	withModel(t, "")
	if IsRaspberryPi() {
		t.Fatalf("missing model file must not be detected")
	}
}

func TestOpen(t *testing.T) {
	b, err := Open(0)
	if err != nil || b != nil {
		t.Fatalf("Open(0) = %v, %v; want nil, nil", b, err)
	}

	withModel(t, "")
	if _, err := Open(DefaultPin); !errors.Is(err, ErrNotRaspberryPi) {
		t.Fatalf("expected ErrNotRaspberryPi, got %v", err)
	}
}

func TestNewGPIOInvalidPin(t *testing.T) {
	if _, err := NewGPIO(-3); err == nil {
		t.Fatalf("expected error for negative pin")
	}
}
