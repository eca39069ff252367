// Package cluster groups historical vulnerability cases by vector similarity
// and assigns new vectors to the learned groups.
//
// Two algorithms implement Model. KMeans has true centroids and exact
// assignment. DBSCAN has no native assignment for unseen points, so it uses
// the nearest member-mean and reports approximate semantics.
package cluster

import (
	"fmt"
	"slices"
	"sort"
	"sync"

	"precursor/internal/config"
	"precursor/internal/errors"
	"precursor/internal/vectors"
)

// Semantics describes how Assign relates to the fitted clustering.
type Semantics string

const (
	// Exact assignment agrees with how training points were clustered.
	Exact Semantics = "exact"
	// Approximate assignment is a nearest-mean stand-in.
	Approximate Semantics = "approximate"
)

// Algorithm names accepted by New and Restore.
const (
	AlgorithmKMeans = "kmeans"
	AlgorithmDBSCAN = "dbscan"
)

// maxExamples bounds Metadata.ExampleCaseIDs.
const maxExamples = 5

// maxDominantWeaknesses bounds Metadata.DominantWeaknesses.
const maxDominantWeaknesses = 3

// Sample is one historical case vector.
type Sample struct {
	CaseID     string    `json:"case_id"`
	Vector     []float64 `json:"vector"`
	Severity   *float64  `json:"severity,omitempty"`   // CVSS 0-10, nil when unknown
	Weaknesses []string  `json:"weaknesses,omitempty"` // CWE ids
}

// Assignment is the result of placing a vector into a cluster.
type Assignment struct {
	ClusterID   int     `json:"cluster_id"`
	Distance    float64 `json:"distance"`
	Approximate bool    `json:"approximate"`
}

// ClusterDistance pairs a cluster with its distance from a vector.
type ClusterDistance struct {
	ClusterID int     `json:"cluster_id"`
	Distance  float64 `json:"distance"`
}

// Metadata summarises one cluster.
type Metadata struct {
	ID                 int       `json:"id"`
	Centroid           []float64 `json:"centroid"`
	Size               int       `json:"size"`
	DominantWeaknesses []string  `json:"dominant_weaknesses,omitempty"`
	AvgSeverity        *float64  `json:"avg_severity,omitempty"`
	MaxSeverity        float64   `json:"max_severity"`
	SeverityCount      int       `json:"severity_count"`
	ExampleCaseIDs     []string  `json:"example_case_ids,omitempty"`
	Approximate        bool      `json:"approximate"`
}

// Model is the clustering capability the scorer depends on.
// Fit must not run concurrently with the other methods.
type Model interface {
	Algorithm() string
	Semantics() Semantics
	Fit(samples []Sample) error
	Assign(vec []float64) (Assignment, error)
	// Distances lists every cluster ordered by ascending distance.
	Distances(vec []float64) ([]ClusterDistance, error)
	Metadata(id int) (Metadata, error)
	Clusters() []Metadata
	Fitted() bool
}

// New constructs an unfitted model from configuration.
func New(cfg config.ClusteringConfig) (Model, error) {
	switch cfg.Algorithm {
	case AlgorithmKMeans, "":
		return &KMeans{
			K:             cfg.K,
			MaxIterations: cfg.MaxIterations,
			Tolerance:     cfg.Tolerance,
			Seed:          cfg.Seed,
		}, nil
	case AlgorithmDBSCAN:
		return &DBSCAN{Eps: cfg.Eps, MinPoints: cfg.MinPoints}, nil
	default:
		return nil, errors.Newf(errors.ConfigInvalid, "unknown clustering algorithm %q", cfg.Algorithm)
	}
}

// Restore rebuilds a fitted model from persisted cluster metadata.
func Restore(algorithm string, clusters []Metadata) (Model, error) {
	if len(clusters) == 0 {
		return nil, errors.New(errors.InsufficientData, "no clusters to restore", nil)
	}
	dim := len(clusters[0].Centroid)
	for _, c := range clusters {
		if len(c.Centroid) != dim || dim == 0 {
			return nil, errors.Newf(errors.FeatureMismatch,
				"cluster %d centroid has dimension %d, want %d", c.ID, len(c.Centroid), dim)
		}
	}

	switch algorithm {
	case AlgorithmKMeans:
		m := &KMeans{}
		m.set(clusters, false)
		return m, nil
	case AlgorithmDBSCAN:
		m := &DBSCAN{}
		m.set(clusters, true)
		return m, nil
	default:
		return nil, errors.Newf(errors.ConfigInvalid, "unknown clustering algorithm %q", algorithm)
	}
}

// state is the fitted part shared by both algorithms.
type state struct {
	mu          sync.RWMutex
	clusters    []Metadata
	byID        map[int]int
	dim         int
	approximate bool
}

func (s *state) set(clusters []Metadata, approximate bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.clusters = make([]Metadata, len(clusters))
	s.byID = make(map[int]int, len(clusters))
	for i, c := range clusters {
		c.Approximate = approximate
		c.Centroid = slices.Clone(c.Centroid)
		s.clusters[i] = c
		s.byID[c.ID] = i
	}
	s.dim = 0
	if len(clusters) > 0 {
		s.dim = len(clusters[0].Centroid)
	}
	s.approximate = approximate
}

// Fitted reports whether the model has clusters.
func (s *state) Fitted() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clusters) > 0
}

// Assign returns the nearest cluster.
func (s *state) Assign(vec []float64) (Assignment, error) {
	ds, err := s.Distances(vec)
	if err != nil {
		return Assignment{}, err
	}
	s.mu.RLock()
	approx := s.approximate
	s.mu.RUnlock()
	return Assignment{ClusterID: ds[0].ClusterID, Distance: ds[0].Distance, Approximate: approx}, nil
}

// Distances returns the distance to every cluster, nearest first.
func (s *state) Distances(vec []float64) ([]ClusterDistance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.clusters) == 0 {
		return nil, errors.New(errors.ModelNotFit, "clusterer has not been fit", nil)
	}
	if len(vec) != s.dim {
		return nil, errors.Newf(errors.FeatureMismatch,
			"vector has dimension %d, clusters have %d", len(vec), s.dim)
	}

	out := make([]ClusterDistance, len(s.clusters))
	for i, c := range s.clusters {
		out[i] = ClusterDistance{ClusterID: c.ID, Distance: vectors.Euclidean(vec, c.Centroid)}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Distance != out[j].Distance {
			return out[i].Distance < out[j].Distance
		}
		return out[i].ClusterID < out[j].ClusterID
	})
	return out, nil
}

// Metadata returns a copy of one cluster's metadata.
func (s *state) Metadata(id int) (Metadata, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if len(s.clusters) == 0 {
		return Metadata{}, errors.New(errors.ModelNotFit, "clusterer has not been fit", nil)
	}
	i, ok := s.byID[id]
	if !ok {
		return Metadata{}, errors.New(errors.ClusterNotFound, fmt.Sprintf("cluster %d does not exist", id), nil)
	}
	return s.clusters[i], nil
}

// Clusters returns all cluster metadata ordered by id.
func (s *state) Clusters() []Metadata {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Clone(s.clusters)
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// checkSamples validates sample count and a shared dimension.
func checkSamples(samples []Sample) (int, error) {
	if len(samples) == 0 {
		return 0, errors.New(errors.InsufficientData, "cannot cluster zero samples", nil)
	}
	dim := len(samples[0].Vector)
	if dim == 0 {
		return 0, errors.New(errors.InsufficientData, "samples have empty vectors", nil)
	}
	for _, s := range samples[1:] {
		if len(s.Vector) != dim {
			return 0, errors.Newf(errors.FeatureMismatch,
				"sample %q has dimension %d, want %d", s.CaseID, len(s.Vector), dim)
		}
	}
	return dim, nil
}

// summarize builds metadata for one cluster from its members.
func summarize(id int, centroid []float64, members []Sample, approximate bool) Metadata {
	md := Metadata{
		ID:          id,
		Centroid:    centroid,
		Size:        len(members),
		Approximate: approximate,
	}

	var sevSum float64
	cwe := make(map[string]int)
	for _, m := range members {
		if m.Severity != nil {
			sevSum += *m.Severity
			md.SeverityCount++
			if *m.Severity > md.MaxSeverity {
				md.MaxSeverity = *m.Severity
			}
		}
		for _, w := range m.Weaknesses {
			cwe[w]++
		}
	}
	if md.SeverityCount > 0 {
		avg := sevSum / float64(md.SeverityCount)
		md.AvgSeverity = &avg
	}
	md.DominantWeaknesses = topWeaknesses(cwe, maxDominantWeaknesses)

	// Examples are the members closest to the centroid.
	byDist := slices.Clone(members)
	sort.SliceStable(byDist, func(i, j int) bool {
		return vectors.Euclidean(byDist[i].Vector, centroid) < vectors.Euclidean(byDist[j].Vector, centroid)
	})
	for i := 0; i < len(byDist) && i < maxExamples; i++ {
		md.ExampleCaseIDs = append(md.ExampleCaseIDs, byDist[i].CaseID)
	}
	return md
}

func topWeaknesses(counts map[string]int, n int) []string {
	ids := make([]string, 0, len(counts))
	for id := range counts {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if counts[ids[i]] != counts[ids[j]] {
			return counts[ids[i]] > counts[ids[j]]
		}
		return ids[i] < ids[j]
	})
	if len(ids) > n {
		ids = ids[:n]
	}
	return ids
}

// mean returns the component-wise mean of the member vectors.
func mean(members []Sample, dim int) []float64 {
	out := make([]float64, dim)
	for _, m := range members {
		for i, x := range m.Vector {
			out[i] += x
		}
	}
	for i := range out {
		out[i] /= float64(len(members))
	}
	return out
}
