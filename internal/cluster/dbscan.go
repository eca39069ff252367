package cluster

import (
	"precursor/internal/errors"
	"precursor/internal/vectors"
)

const noise = -1

// DBSCAN clusters by density. Noise points belong to no cluster. Centroids
// are member means, so Assign is approximate.
type DBSCAN struct {
	Eps       float64
	MinPoints int

	noiseIDs []string
	state
}

func (m *DBSCAN) Algorithm() string { return AlgorithmDBSCAN }

func (m *DBSCAN) Semantics() Semantics { return Approximate }

// Noise returns the case ids left unclustered by the last Fit.
func (m *DBSCAN) Noise() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]string(nil), m.noiseIDs...)
}

// Fit clusters samples. It fails with INSUFFICIENT_DATA when every point is
// noise.
func (m *DBSCAN) Fit(samples []Sample) error {
	dim, err := checkSamples(samples)
	if err != nil {
		return err
	}
	if m.Eps <= 0 || m.MinPoints <= 0 {
		return errors.Newf(errors.ConfigInvalid, "dbscan needs eps > 0 and minPoints > 0, got %v/%d", m.Eps, m.MinPoints)
	}

	const unvisited = -2
	labels := make([]int, len(samples))
	for i := range labels {
		labels[i] = unvisited
	}

	next := 0
	for i := range samples {
		if labels[i] != unvisited {
			continue
		}
		neighbors := m.regionQuery(samples, i)
		if len(neighbors) < m.MinPoints {
			labels[i] = noise
			continue
		}

		labels[i] = next
		queue := append([]int(nil), neighbors...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]
			if labels[j] == noise {
				// Border point
				labels[j] = next
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = next
			if nb := m.regionQuery(samples, j); len(nb) >= m.MinPoints {
				queue = append(queue, nb...)
			}
		}
		next++
	}

	members := make([][]Sample, next)
	var noiseIDs []string
	for i, s := range samples {
		if labels[i] == noise {
			noiseIDs = append(noiseIDs, s.CaseID)
			continue
		}
		members[labels[i]] = append(members[labels[i]], s)
	}
	if next == 0 {
		return errors.Newf(errors.InsufficientData,
			"dbscan found no clusters: all %d points are noise (eps=%v, minPoints=%d)", len(samples), m.Eps, m.MinPoints)
	}

	clusters := make([]Metadata, next)
	for c := range members {
		clusters[c] = summarize(c, mean(members[c], dim), members[c], true)
	}
	m.set(clusters, true)

	m.mu.Lock()
	m.noiseIDs = noiseIDs
	m.mu.Unlock()
	return nil
}

// regionQuery returns the indices within Eps of point i, including i.
func (m *DBSCAN) regionQuery(samples []Sample, i int) []int {
	var out []int
	for j, s := range samples {
		if vectors.Euclidean(samples[i].Vector, s.Vector) <= m.Eps {
			out = append(out, j)
		}
	}
	return out
}
