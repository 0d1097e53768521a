package anomaly

import (
	"errors"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/govguard/govguard/internal/invoice"
)

const (
	eulerGamma    = 0.5772156649015329
	maxSubsamples = 256
)

// Calibration ties the synthetic reference distribution to the constants
// that rescale raw features into its frame. They must change together:
// moving a cluster without recomputing the centers and scales silently
// shifts every score.
type Calibration struct {
	AmountCenter    float64
	AmountScale     float64
	FrequencyCenter float64
	FrequencyScale  float64

	// Reference distribution in the rescaled frame.
	NormalCenter [2]float64
	NormalSize   int
	NoiseCenter  [2]float64
	NoiseSize    int
	Spread       float64

	Trees         int
	Contamination float64
	Seed          uint64
}

// DefaultCalibration is the reference frame the service ships with:
// a dense normal cluster at amount≈1000, frequency≈50 and a smaller,
// more central noise cluster.
func DefaultCalibration() Calibration {
	return Calibration{
		AmountCenter:    5000,
		AmountScale:     2500,
		FrequencyCenter: 50,
		FrequencyScale:  25,

		NormalCenter: [2]float64{-1.6, 0},
		NormalSize:   100,
		NoiseCenter:  [2]float64{0, 0},
		NoiseSize:    50,
		Spread:       0.5,

		Trees:         100,
		Contamination: 0.1,
		Seed:          42,
	}
}

func (c Calibration) validate() error {
	switch {
	case c.AmountScale <= 0 || c.FrequencyScale <= 0:
		return errors.New("calibration scales must be positive")
	case c.NormalSize <= 0 || c.NoiseSize < 0:
		return errors.New("calibration cluster sizes must be positive")
	case c.Spread <= 0:
		return errors.New("calibration spread must be positive")
	case c.Trees <= 0:
		return errors.New("calibration needs at least one tree")
	case c.Contamination <= 0 || c.Contamination > 0.5:
		return errors.New("calibration contamination must be in (0, 0.5]")
	}
	return nil
}

// Rescale maps raw features into the model's training frame.
func (c Calibration) Rescale(f invoice.Features) [2]float64 {
	return [2]float64{
		(f.Amount - c.AmountCenter) / c.AmountScale,
		(float64(f.VendorFrequency) - c.FrequencyCenter) / c.FrequencyScale,
	}
}

// reference draws the synthetic training set.
func (c Calibration) reference(rng *rand.Rand) [][2]float64 {
	points := make([][2]float64, 0, c.NormalSize+c.NoiseSize)
	draw := func(center [2]float64, n int) {
		for i := 0; i < n; i++ {
			points = append(points, [2]float64{
				center[0] + c.Spread*rng.NormFloat64(),
				center[1] + c.Spread*rng.NormFloat64(),
			})
		}
	}
	draw(c.NormalCenter, c.NormalSize)
	draw(c.NoiseCenter, c.NoiseSize)
	return points
}

// ApproximateModel is an isolation forest fit once on the calibration's
// reference distribution. It is never mutated after FitApproximate returns,
// so one instance can score concurrently without locking.
//
// The score is the forest's normalized anomaly score 2^(-E[h(x)]/c(ψ)),
// in (0, 1], higher meaning easier to isolate.
type ApproximateModel struct {
	calib     Calibration
	trees     []*isoNode
	norm      float64
	threshold float64
}

// FitApproximate builds the forest deterministically from calib.Seed.
func FitApproximate(calib Calibration) (*ApproximateModel, error) {
	if err := calib.validate(); err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewPCG(calib.Seed, calib.Seed^0x9e3779b97f4a7c15))
	data := calib.reference(rng)

	psi := len(data)
	if psi > maxSubsamples {
		psi = maxSubsamples
	}
	maxDepth := int(math.Ceil(math.Log2(float64(psi))))

	m := &ApproximateModel{
		calib: calib,
		trees: make([]*isoNode, calib.Trees),
		norm:  averagePathLength(psi),
	}
	for i := range m.trees {
		perm := rng.Perm(len(data))[:psi]
		sample := make([][2]float64, psi)
		for j, idx := range perm {
			sample[j] = data[idx]
		}
		m.trees[i] = buildTree(sample, 0, maxDepth, rng)
	}

	// Flag the most isolated Contamination share of the reference set.
	scores := make([]float64, len(data))
	for i, p := range data {
		scores[i] = m.score(p)
	}
	sort.Float64s(scores)
	m.threshold = stat.Quantile(1-calib.Contamination, stat.Empirical, scores, nil)

	return m, nil
}

// Calibration returns the frame the model was fit in.
func (m *ApproximateModel) Calibration() Calibration { return m.calib }

// Score returns the anomaly score of f and whether it is an outlier.
func (m *ApproximateModel) Score(f invoice.Features) (float64, bool) {
	s := m.score(m.calib.Rescale(f))
	return s, s > m.threshold
}

// Detect scores f into the shared result shape.
func (m *ApproximateModel) Detect(f invoice.Features) invoice.AnomalyResult {
	score, outlier := m.Score(f)
	return invoice.AnomalyResult{
		InvoiceID:    f.InvoiceID,
		AnomalyScore: score,
		IsAnomaly:    outlier,
		RiskLevel:    approximateLevel(outlier, score),
		Details:      detailsApproximate,
	}
}

func (m *ApproximateModel) score(x [2]float64) float64 {
	depths := make([]float64, len(m.trees))
	for i, t := range m.trees {
		depths[i] = t.pathLength(x)
	}
	return math.Pow(2, -stat.Mean(depths, nil)/m.norm)
}

// isoNode is an isolation tree node; leaves have nil children.
type isoNode struct {
	feature     int
	split       float64
	left, right *isoNode
	size        int
}

func buildTree(points [][2]float64, depth, maxDepth int, rng *rand.Rand) *isoNode {
	if depth >= maxDepth || len(points) <= 1 {
		return &isoNode{size: len(points)}
	}

	lo, hi := points[0], points[0]
	for _, p := range points[1:] {
		for d := 0; d < 2; d++ {
			lo[d] = math.Min(lo[d], p[d])
			hi[d] = math.Max(hi[d], p[d])
		}
	}

	var candidates []int
	for d := 0; d < 2; d++ {
		if hi[d] > lo[d] {
			candidates = append(candidates, d)
		}
	}
	if len(candidates) == 0 {
		return &isoNode{size: len(points)}
	}

	feature := candidates[rng.IntN(len(candidates))]
	split := lo[feature] + rng.Float64()*(hi[feature]-lo[feature])

	var left, right [][2]float64
	for _, p := range points {
		if p[feature] < split {
			left = append(left, p)
		} else {
			right = append(right, p)
		}
	}

	return &isoNode{
		feature: feature,
		split:   split,
		left:    buildTree(left, depth+1, maxDepth, rng),
		right:   buildTree(right, depth+1, maxDepth, rng),
	}
}

func (n *isoNode) pathLength(x [2]float64) float64 {
	depth := 0
	for n.left != nil {
		if x[n.feature] < n.split {
			n = n.left
		} else {
			n = n.right
		}
		depth++
	}
	return float64(depth) + averagePathLength(n.size)
}

// averagePathLength is c(n), the mean depth of an unsuccessful BST search.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	default:
		fn := float64(n)
		return 2*(math.Log(fn-1)+eulerGamma) - 2*(fn-1)/fn
	}
}
