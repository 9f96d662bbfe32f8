package models

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"
)

// KnowledgeFile is an uploaded document whose text backs AI replies.
type KnowledgeFile struct {
	ID               uint             `gorm:"primaryKey;autoIncrement"`
	FilenameOriginal string           `gorm:"size:255;not null"`
	StoredPath       string           `gorm:"size:512;not null"`
	MimeType         string           `gorm:"size:128"`
	SizeBytes        int64            `gorm:"not null"`
	TotalChunks      int              `gorm:"not null"`
	Chunks           []KnowledgeChunk `gorm:"foreignKey:FileID;constraint:OnDelete:CASCADE"`
	CreatedAt        time.Time        `gorm:"index"`
}

// KnowledgeChunk is one retrievable slice of a knowledge file. Embedding
// holds a JSON float array, or JSON null when no vector was computed.
type KnowledgeChunk struct {
	ID         uint   `gorm:"primaryKey;autoIncrement"`
	FileID     uint   `gorm:"not null;index:idx_chunk_file_index,priority:1"`
	ChunkIndex int    `gorm:"not null;index:idx_chunk_file_index,priority:2"`
	Text       string `gorm:"type:text;not null"`
	Embedding  datatypes.JSON
}

// SetEmbedding stores vec as the chunk's JSON embedding. A nil vector is
// stored as JSON null.
func (c *KnowledgeChunk) SetEmbedding(vec []float64) error {
	if vec == nil {
		c.Embedding = datatypes.JSON("null")
		return nil
	}
	data, err := json.Marshal(vec)
	if err != nil {
		return err
	}
	c.Embedding = datatypes.JSON(data)
	return nil
}

// Vector decodes the stored embedding. It returns nil when none is stored.
func (c *KnowledgeChunk) Vector() ([]float64, error) {
	if len(c.Embedding) == 0 {
		return nil, nil
	}
	var vec []float64
	if err := json.Unmarshal(c.Embedding, &vec); err != nil {
		return nil, err
	}
	return vec, nil
}
