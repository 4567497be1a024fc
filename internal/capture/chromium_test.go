package capture

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCaptureRequiresURL(t *testing.T) {
	t.Parallel()

	_, err := CaptureDialPNG(context.Background(), CaptureOptions{})
	require.ErrorContains(t, err, "URL is required")
}

func TestWritePNGCreatesDir(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "nested", "dial.png")
	require.NoError(t, WritePNG(path, []byte("png")))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "png", string(got))
}
