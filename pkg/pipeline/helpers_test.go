package pipeline

import (
	"bytes"
	"image"
	_ "image/jpeg"
	"testing"
)

func dims(t *testing.T, data []byte) (int, int) {
	t.Helper()
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("decode config: %v", err)
	}
	return cfg.Width, cfg.Height
}

func imageFormat(data []byte) (image.Config, string, error) {
	return image.DecodeConfig(bytes.NewReader(data))
}
