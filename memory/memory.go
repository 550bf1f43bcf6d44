// Package memory is the unified embedding store and retrieval service. One
// logical collection holds vectors for every modality; rows carry the
// embedding model that produced them and retrieval refuses to compare vectors
// across model families.
package memory

import (
	"math"
	"time"
)

// DataType is the modality of the embedded content.
type DataType string

const (
	DataText  DataType = "text"
	DataImage DataType = "image"
	DataAudio DataType = "audio"
)

// SourceType names the domain row a vector was derived from.
type SourceType string

const (
	SourceMeal          SourceType = "meal"
	SourceActivity      SourceType = "activity"
	SourceWorkout       SourceType = "workout"
	SourceVoiceNote     SourceType = "voice_note"
	SourceProgressPhoto SourceType = "progress_photo"
	SourceConsultation  SourceType = "consultation"
	SourceSummary       SourceType = "summary"
)

type (
	// Row is one stored embedding.
	Row struct {
		ID       string
		UserID   string
		DataType DataType
		// SourceType and SourceID reference the owning domain row, when any.
		SourceType SourceType
		SourceID   string
		Vector     []float32
		// ContentText is the embedded text: raw text for text rows, the vision
		// description for image rows, the transcript for audio rows.
		ContentText string
		// Storage fields are set for image rows only.
		StorageURL    string
		StorageBucket string
		FileName      string
		FileSizeBytes int64
		MimeType      string

		Metadata        map[string]any
		ConfidenceScore float64
		CreatedAt       time.Time
		// EmbeddingModel stamps the model family that produced Vector.
		EmbeddingModel string
	}

	// Query selects candidate rows for similarity search. EmbeddingModel is
	// required: rows produced by a different model are never compared.
	Query struct {
		UserID         string
		Vector         []float32
		EmbeddingModel string
		SourceTypes    []SourceType
		DataTypes      []DataType
		Limit          int
		// Threshold discards matches with cosine similarity below it.
		Threshold float64
	}

	// Match pairs a row with its cosine similarity to the query vector.
	Match struct {
		Row        Row
		Similarity float64
	}

	// ScoredMatch augments a Match with the recency-blended score used by
	// SearchSimilarEntries.
	ScoredMatch struct {
		Match
		Score float64
	}
)

// Cosine returns the cosine similarity of two vectors. Mismatched lengths or
// zero vectors yield 0.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// Recency maps the age of a row to (0,1]: fresh rows score near 1 and the
// score halves every 30 days.
func Recency(createdAt, now time.Time) float64 {
	age := now.Sub(createdAt)
	if age < 0 {
		age = 0
	}
	days := age.Hours() / 24
	return math.Pow(0.5, days/30)
}
