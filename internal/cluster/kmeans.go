package cluster

import (
	"math"
	"math/rand/v2"

	"precursor/internal/vectors"
)

// KMeans clusters with Lloyd's algorithm seeded by k-means++.
// The same Seed and samples always produce the same clusters.
type KMeans struct {
	K             int
	MaxIterations int
	Tolerance     float64
	Seed          uint64

	state
}

func (m *KMeans) Algorithm() string { return AlgorithmKMeans }

func (m *KMeans) Semantics() Semantics { return Exact }

// Fit clusters samples. K is clamped to the number of samples.
func (m *KMeans) Fit(samples []Sample) error {
	dim, err := checkSamples(samples)
	if err != nil {
		return err
	}

	k := m.K
	if k <= 0 || k > len(samples) {
		k = len(samples)
	}
	maxIter := m.MaxIterations
	if maxIter <= 0 {
		maxIter = 300
	}

	rng := rand.New(rand.NewPCG(m.Seed, m.Seed^0x9e3779b97f4a7c15))
	centroids := seedPlusPlus(samples, k, rng)
	labels := make([]int, len(samples))

	for iter := 0; iter < maxIter; iter++ {
		// Assignment step
		for i, s := range samples {
			labels[i] = nearest(s.Vector, centroids)
		}

		// Update step
		next := make([][]float64, k)
		counts := make([]int, k)
		for c := range next {
			next[c] = make([]float64, dim)
		}
		for i, s := range samples {
			counts[labels[i]]++
			for d, x := range s.Vector {
				next[labels[i]][d] += x
			}
		}
		reseeded := make(map[int]bool)
		for c := range next {
			if counts[c] == 0 {
				// Reseed an empty cluster with the point farthest from its
				// centroid; each point seeds at most one cluster per pass.
				far := farthest(samples, labels, centroids, reseeded)
				if far < 0 {
					copy(next[c], centroids[c])
					continue
				}
				copy(next[c], samples[far].Vector)
				reseeded[far] = true
				continue
			}
			for d := range next[c] {
				next[c][d] /= float64(counts[c])
			}
		}

		shift := 0.0
		for c := range centroids {
			shift = math.Max(shift, vectors.Euclidean(centroids[c], next[c]))
		}
		centroids = next
		if shift <= m.Tolerance {
			break
		}
	}

	// Final assignment against the converged centroids.
	members := make([][]Sample, k)
	for _, s := range samples {
		c := nearest(s.Vector, centroids)
		members[c] = append(members[c], s)
	}

	clusters := make([]Metadata, 0, k)
	for c := range centroids {
		if len(members[c]) == 0 {
			continue
		}
		clusters = append(clusters, summarize(len(clusters), centroids[c], members[c], false))
	}
	m.set(clusters, false)
	return nil
}

// seedPlusPlus picks k initial centroids with probability proportional to
// squared distance from the nearest already chosen centroid.
func seedPlusPlus(samples []Sample, k int, rng *rand.Rand) [][]float64 {
	centroids := make([][]float64, 0, k)
	first := samples[rng.IntN(len(samples))].Vector
	centroids = append(centroids, append([]float64(nil), first...))

	d2 := make([]float64, len(samples))
	for len(centroids) < k {
		var total float64
		for i, s := range samples {
			d := vectors.Euclidean(s.Vector, centroids[nearest(s.Vector, centroids)])
			d2[i] = d * d
			total += d2[i]
		}

		pick := rng.IntN(len(samples))
		if total > 0 {
			target := rng.Float64() * total
			for i, w := range d2 {
				target -= w
				if target <= 0 {
					pick = i
					break
				}
			}
		}
		centroids = append(centroids, append([]float64(nil), samples[pick].Vector...))
	}
	return centroids
}

func nearest(vec []float64, centroids [][]float64) int {
	best, bestDist := 0, math.Inf(1)
	for c, centroid := range centroids {
		if d := vectors.Euclidean(vec, centroid); d < bestDist {
			best, bestDist = c, d
		}
	}
	return best
}

func farthest(samples []Sample, labels []int, centroids [][]float64, skip map[int]bool) int {
	best, bestDist := -1, -1.0
	for i, s := range samples {
		if skip[i] {
			continue
		}
		if d := vectors.Euclidean(s.Vector, centroids[labels[i]]); d > bestDist {
			best, bestDist = i, d
		}
	}
	return best
}
