package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// QuestionKind tags the answer payload shape carried by a question. The
// session engine treats payloads as opaque; kinds exist so the view layer
// can dispatch rendering and so persisted drafts stay self-describing.
type QuestionKind string

const (
	QuestionMCQ         QuestionKind = "mcq"
	QuestionMSQ         QuestionKind = "msq"
	QuestionTrueFalse   QuestionKind = "true_false"
	QuestionNumeric     QuestionKind = "numeric"
	QuestionDescriptive QuestionKind = "descriptive"
	QuestionCoding      QuestionKind = "coding"
	QuestionFileUpload  QuestionKind = "file_upload"
)

// Valid reports whether the kind is one of the enumerated variants.
func (k QuestionKind) Valid() bool {
	switch k {
	case QuestionMCQ, QuestionMSQ, QuestionTrueFalse, QuestionNumeric,
		QuestionDescriptive, QuestionCoding, QuestionFileUpload:
		return true
	}
	return false
}

// Question is one exam question as delivered to a joining student.
type Question struct {
	ID      uuid.UUID       `json:"id"`
	Kind    QuestionKind    `json:"kind"`
	Order   int             `json:"order"`
	Content json.RawMessage `json:"content"`
}

// Per-kind answer payload shapes. The buffer and the persistence layer never
// inspect these; they exist for the clients of the API.

type MCQAnswer struct {
	SelectedOption string `json:"selected_option"`
}

type MSQAnswer struct {
	SelectedOptions []string `json:"selected_options"`
}

type TrueFalseAnswer struct {
	Answer bool `json:"answer"`
}

type NumericAnswer struct {
	Value float64 `json:"value"`
}

type DescriptiveAnswer struct {
	Text string `json:"text"`
}

type CodingAnswer struct {
	Language string `json:"language"`
	Source   string `json:"source"`
}

type FileUploadAnswer struct {
	FileID   string `json:"file_id"`
	Filename string `json:"filename"`
}
