package services

// Video generation pricing per kilotoken (USD)
const (
	PriceWithAudio    = 0.0160
	PriceWithoutAudio = 0.0080
)

// Flat per-image price (USD), informational only
const ImagePrice = 0.25

const videoFPS = 24

// resolutionPixels maps (resolution, ratio) to output dimensions.
var resolutionPixels = map[string]map[string][2]int{
	"480p": {
		"16:9": {864, 496},
		"4:3":  {752, 560},
		"1:1":  {640, 640},
		"3:4":  {560, 752},
		"9:16": {496, 864},
		"21:9": {992, 432},
	},
	"720p": {
		"16:9": {1280, 720},
		"4:3":  {1112, 834},
		"1:1":  {960, 960},
		"3:4":  {834, 1112},
		"9:16": {720, 1280},
		"21:9": {1470, 630},
	},
}

// CalculateTokens estimates the token cost of one video:
// width * height * fps * duration / 1024, truncated. Unknown resolutions
// fall back to 720p, unknown ratios to 16:9.
func CalculateTokens(resolution, ratio string, duration int) int64 {
	ratios, ok := resolutionPixels[resolution]
	if !ok {
		ratios = resolutionPixels["720p"]
	}
	dims, ok := ratios[ratio]
	if !ok {
		dims = ratios["16:9"]
	}
	return int64(dims[0]) * int64(dims[1]) * videoFPS * int64(duration) / 1024
}

// CalculateVideoPrice converts a token count to USD.
func CalculateVideoPrice(tokens int64, withAudio bool) float64 {
	perK := PriceWithoutAudio
	if withAudio {
		perK = PriceWithAudio
	}
	return float64(tokens) / 1000 * perK
}

// CalculateImagePrice converts an image count to USD.
func CalculateImagePrice(count int64) float64 {
	return float64(count) * ImagePrice
}
