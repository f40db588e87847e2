package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCalculateTokens(t *testing.T) {
	tests := []struct {
		name       string
		resolution string
		ratio      string
		duration   int
		want       int64
	}{
		{"720p 16:9 5s", "720p", "16:9", 5, 108000},
		{"720p 16:9 10s", "720p", "16:9", 10, 216000},
		{"720p 1:1 5s", "720p", "1:1", 5, 108000},
		{"480p 16:9 5s", "480p", "16:9", 5, 50220},
		{"480p 9:16 5s", "480p", "9:16", 5, 50220},
		{"unknown resolution falls back to 720p", "1080p", "16:9", 5, 108000},
		{"unknown ratio falls back to 16:9", "720p", "5:4", 5, 108000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CalculateTokens(tt.resolution, tt.ratio, tt.duration))
		})
	}
}

func TestCalculateVideoPrice(t *testing.T) {
	assert.InDelta(t, 1.728, CalculateVideoPrice(108000, true), 1e-9)
	assert.InDelta(t, 0.864, CalculateVideoPrice(108000, false), 1e-9)
}

func TestCalculateImagePrice(t *testing.T) {
	assert.InDelta(t, 1.0, CalculateImagePrice(4), 1e-9)
}
