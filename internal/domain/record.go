package domain

import (
	"encoding/hex"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"
)

// Record is a source record read from the relational store. It is either a
// dataset row fed to the generator or a generated sample fed to the vector
// index.
type Record struct {
	ID          string    `json:"id"`
	DatasetID   string    `json:"dataset_id"`
	Content     string    `json:"content"`
	Tags        []string  `json:"tags,omitempty"`
	ContentHash string    `json:"content_hash"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Sample is one derived training example synthesized from a record.
type Sample struct {
	ID          uuid.UUID `json:"id"`
	TaskID      uuid.UUID `json:"task_id"`
	DatasetID   string    `json:"dataset_id"`
	RecordID    string    `json:"record_id"`
	Instruction string    `json:"instruction"`
	Response    string    `json:"response"`
	Provider    string    `json:"provider"`
	CreatedAt   time.Time `json:"created_at"`
}

// NewSample creates a sample with a fresh identifier.
func NewSample(taskID uuid.UUID, datasetID, recordID, instruction, response, provider string, now time.Time) Sample {
	return Sample{
		ID:          uuid.New(),
		TaskID:      taskID,
		DatasetID:   datasetID,
		RecordID:    recordID,
		Instruction: instruction,
		Response:    response,
		Provider:    provider,
		CreatedAt:   now.UTC(),
	}
}

// Text is the content of the sample as it is embedded into the index.
func (s Sample) Text() string {
	return s.Instruction + "\n\n" + s.Response
}

// ContentHash returns the hex-encoded BLAKE2b-256 digest of content. Two
// records are considered unchanged for incremental sync iff their hashes
// are equal.
func ContentHash(content string) string {
	sum := blake2b.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
