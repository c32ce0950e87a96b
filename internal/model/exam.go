package model

import (
	"time"

	"github.com/google/uuid"
)

// ExamPolicy holds the per-exam attributes that govern attempt creation.
type ExamPolicy struct {
	ExamID      uuid.UUID `json:"exam_id"`
	IsSimulator bool      `json:"is_simulator"`
}

// Exam represents an exam entity.
type Exam struct {
	ID          uuid.UUID `json:"id"`
	Title       string    `json:"title"`
	IsSimulator bool      `json:"is_simulator"`
	CreatedAt   time.Time `json:"created_at"`
}

// ExamDefinition is the authoring shape used by the seeder: an exam with its
// ordered questions and options.
type ExamDefinition struct {
	ID          uuid.UUID            `yaml:"id" json:"id"`
	Title       string               `yaml:"title" json:"title"`
	IsSimulator bool                 `yaml:"is_simulator" json:"is_simulator"`
	Questions   []QuestionDefinition `yaml:"questions" json:"questions"`
}

// QuestionDefinition is one authored question. Position follows slice order.
type QuestionDefinition struct {
	ID      uuid.UUID          `yaml:"id" json:"id"`
	Prompt  string             `yaml:"prompt" json:"prompt"`
	Options []OptionDefinition `yaml:"options" json:"options"`
}

// OptionDefinition is one authored option.
type OptionDefinition struct {
	ID      uuid.UUID `yaml:"id" json:"id"`
	Label   string    `yaml:"label" json:"label"`
	Correct bool      `yaml:"correct" json:"correct"`
}
