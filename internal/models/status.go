package models

// StatusConfig is the configuration summary reported by status.
type StatusConfig struct {
	VectorIndexType     string `json:"vector_index_type"`
	EmbeddingProvider   string `json:"embedding_provider"`
	EmbeddingDimensions int    `json:"embedding_dimensions"`
	ChunkSize           int    `json:"chunk_size"`
	ChunkOverlap        int    `json:"chunk_overlap"`
	RetrievalK          int    `json:"retrieval_k"`
	DefaultModel        string `json:"default_model"`
	DatabasePath        string `json:"database_path,omitempty"`
	VectorIndexPath     string `json:"vector_index_path,omitempty"`
}

// Status is the shape of GET /api/v1/status.
type Status struct {
	Documents      int64         `json:"documents"`
	Passages       int           `json:"passages"`
	Turns          int64         `json:"turns"`
	DiskUsageBytes *int64        `json:"disk_usage_bytes,omitempty"`
	Config         *StatusConfig `json:"config,omitempty"`
}
