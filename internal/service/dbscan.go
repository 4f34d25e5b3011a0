package service

// Noise is the label of points that belong to no cluster.
const Noise = -1

// DBSCAN groups vectors by cosine distance. Points within Eps of each other are
// neighbours; a point with at least MinSamples neighbours (itself included) is a core
// point. Groups smaller than MinClusterSize are relabelled as noise.
type DBSCAN struct {
	Eps            float64
	MinSamples     int
	MinClusterSize int
}

// NewDBSCAN returns a DBSCAN whose neighbourhood matches the similarity threshold.
func NewDBSCAN(threshold float64, minSamples, minClusterSize int) *DBSCAN {
	if minSamples < 1 {
		minSamples = 1
	}
	if minClusterSize < 2 {
		minClusterSize = 2
	}
	return &DBSCAN{
		Eps:            EpsilonForThreshold(threshold),
		MinSamples:     minSamples,
		MinClusterSize: minClusterSize,
	}
}

// Fit assigns a label to every vector. Labels are 0..k-1 numbered in order of each
// cluster's first point, or Noise. Input order fully determines the output.
func (d *DBSCAN) Fit(vectors [][]float32) []int {
	const unvisited = -2

	n := len(vectors)
	labels := make([]int, n)
	for i := range labels {
		labels[i] = unvisited
	}

	neighbours := d.neighbourhoods(vectors)

	cluster := 0
	for i := 0; i < n; i++ {
		if labels[i] != unvisited {
			continue
		}
		if len(neighbours[i]) < d.MinSamples {
			labels[i] = Noise
			continue
		}

		labels[i] = cluster
		queue := append([]int(nil), neighbours[i]...)
		for len(queue) > 0 {
			j := queue[0]
			queue = queue[1:]

			if labels[j] == Noise {
				labels[j] = cluster // border point
			}
			if labels[j] != unvisited {
				continue
			}
			labels[j] = cluster
			if len(neighbours[j]) >= d.MinSamples {
				queue = append(queue, neighbours[j]...)
			}
		}
		cluster++
	}

	return d.dropSmall(labels, cluster)
}

func (d *DBSCAN) neighbourhoods(vectors [][]float32) [][]int {
	n := len(vectors)
	out := make([][]int, n)
	for i := 0; i < n; i++ {
		out[i] = append(out[i], i)
	}
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if CosineDistance(vectors[i], vectors[j]) <= d.Eps+1e-12 {
				out[i] = append(out[i], j)
				out[j] = append(out[j], i)
			}
		}
	}
	return out
}

// dropSmall turns undersized clusters into noise and renumbers the rest densely.
func (d *DBSCAN) dropSmall(labels []int, clusters int) []int {
	sizes := make([]int, clusters)
	for _, l := range labels {
		if l >= 0 {
			sizes[l]++
		}
	}

	remap := make([]int, clusters)
	next := 0
	for c := 0; c < clusters; c++ {
		if sizes[c] >= d.MinClusterSize {
			remap[c] = next
			next++
		} else {
			remap[c] = Noise
		}
	}

	for i, l := range labels {
		if l >= 0 {
			labels[i] = remap[l]
		}
	}
	return labels
}

// GroupLabels returns the member indices of each cluster label, in label order.
func GroupLabels(labels []int) [][]int {
	var groups [][]int
	for i, l := range labels {
		if l < 0 {
			continue
		}
		for len(groups) <= l {
			groups = append(groups, nil)
		}
		groups[l] = append(groups[l], i)
	}
	return groups
}
