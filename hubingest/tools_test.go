package hubingest_test

import (
	"path/filepath"
	"testing"

	"github.com/js402/ollamagate/hubingest"
	"github.com/stretchr/testify/require"
)

func TestToolRunnerSuccess(t *testing.T) {
	tr := &hubingest.ToolRunner{ConvertCmd: "true", QuantizeCmd: "true"}
	require.NoError(t, tr.Convert(t.Context(), t.TempDir(), filepath.Join(t.TempDir(), "out.gguf")))
	require.NoError(t, tr.Quantize(t.Context(), "in.gguf", "out.gguf", "Q4_K_M"))
}

func TestToolRunnerFailureCapturesDiagnostic(t *testing.T) {
	tr := &hubingest.ToolRunner{ConvertCmd: "false", QuantizeCmd: "false"}

	err := tr.Convert(t.Context(), t.TempDir(), "out.gguf")
	require.ErrorIs(t, err, hubingest.ErrToolFailed)

	err = tr.Quantize(t.Context(), "in.gguf", "out.gguf", "Q4_K_M")
	require.ErrorIs(t, err, hubingest.ErrToolFailed)
	require.ErrorContains(t, err, "Q4_K_M")
}

func TestToolRunnerMissingBinary(t *testing.T) {
	tr := &hubingest.ToolRunner{ConvertCmd: "definitely-not-a-binary-on-path"}
	require.ErrorIs(t, tr.Convert(t.Context(), t.TempDir(), "out.gguf"), hubingest.ErrToolFailed)
}
