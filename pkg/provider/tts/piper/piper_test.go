package piper

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/MrWong99/valet/pkg/provider/tts"
)

// fakePiper writes a shell script that records its arguments and stdin and
// prints 8 zero bytes (four silent samples).
func fakePiper(t *testing.T, body string) (bin, argsFile, stdinFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script fake requires a POSIX shell")
	}
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	stdinFile = filepath.Join(dir, "stdin")
	bin = filepath.Join(dir, "piper")
	script := "#!/bin/sh\n" +
		"echo \"$@\" > " + argsFile + "\n" +
		"cat > " + stdinFile + "\n" +
		body + "\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake piper: %v", err)
	}
	return bin, argsFile, stdinFile
}

func TestNew_RequiresModel(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestSynthesize(t *testing.T) {
	bin, argsFile, stdinFile := fakePiper(t, "head -c 8 /dev/zero")

	s, err := New("/voices/en_GB-alan-medium.onnx", WithBinary(bin), WithSpeaker(2), WithSampleRate(16000))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	clip, err := s.Synthesize(context.Background(), "  Good morning, sir.  ")
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(clip.Samples) != 4 || clip.SampleRate != 16000 {
		t.Errorf("clip = %d samples at %d Hz, want 4 at 16000", len(clip.Samples), clip.SampleRate)
	}

	args, _ := os.ReadFile(argsFile)
	for _, want := range []string{"--model /voices/en_GB-alan-medium.onnx", "--output-raw", "--speaker 2"} {
		if !strings.Contains(string(args), want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
	stdin, _ := os.ReadFile(stdinFile)
	if string(stdin) != "Good morning, sir.\n" {
		t.Errorf("stdin = %q", stdin)
	}
}

func TestSynthesize_Failures(t *testing.T) {
	bin, _, _ := fakePiper(t, "echo 'model not found' >&2; exit 1")
	s, _ := New("missing.onnx", WithBinary(bin))
	if _, err := s.Synthesize(context.Background(), "hello"); err == nil || !strings.Contains(err.Error(), "model not found") {
		t.Errorf("err = %v, want stderr in error", err)
	}

	silent, _, _ := fakePiper(t, "true")
	s, _ = New("m.onnx", WithBinary(silent))
	if _, err := s.Synthesize(context.Background(), "hello"); err == nil {
		t.Error("expected error when piper produces no audio")
	}

	if _, err := s.Synthesize(context.Background(), " "); !errors.Is(err, tts.ErrEmptyText) {
		t.Errorf("err = %v, want ErrEmptyText", err)
	}
}
