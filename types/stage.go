package types

// Stage identifies one of the pipeline's processing stages.
// Stage names appear in log fields, metric labels, and quarantine paths.
type Stage string

// Pipeline stages, in flow order.
const (
	StageNormalizer Stage = "normalizer"
	StageClassifier Stage = "classifier"
	StageExtractor  Stage = "extractor"
	StageLoader     Stage = "loader"
	StageDLQ        Stage = "dlq"
)

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageNormalizer, StageClassifier, StageExtractor, StageLoader, StageDLQ:
		return true
	}
	return false
}

func (s Stage) String() string { return string(s) }
