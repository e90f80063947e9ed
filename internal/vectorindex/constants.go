package vectorindex

// HNSW parameters for 512-dim person embeddings.
const (
	// HNSWMaxNeighbors (M) is the maximum number of neighbors per node.
	// Higher values improve recall but increase memory and build time.
	HNSWMaxNeighbors = 16

	// HNSWEfSearch is the search candidate pool size.
	// Higher values improve recall but slow down search.
	HNSWEfSearch = 100

	// HNSWSearchMultiplier is the factor to request more candidates from HNSW
	// so that exact re-scoring still has k results to choose from.
	HNSWSearchMultiplier = 3

	// HNSWMinCandidates is the smallest candidate set requested from the
	// graph. The graph search stops once it holds that many nodes and stops
	// improving, so small requests end in local minima.
	HNSWMinCandidates = 400

	// HNSWSeed seeds level generation so a given insertion order always
	// builds the same layer assignment.
	HNSWSeed = 1

	// HNSWMinVectors is the size below which the hnsw strategy scans exactly.
	HNSWMinVectors = 2048
)

const (
	// NoMatch pads result rows when fewer than k vectors exist.
	NoMatch int64 = -1

	// MinScore accompanies NoMatch in padded result slots.
	MinScore float32 = -3.4028235e+38
)
