package domain

// SentimentCategory is the provider's overall classification.
type SentimentCategory string

const (
	SentimentPositive SentimentCategory = "POSITIVE"
	SentimentNeutral  SentimentCategory = "NEUTRAL"
	SentimentNegative SentimentCategory = "NEGATIVE"
	SentimentMixed    SentimentCategory = "MIXED"
)

// SentimentScores are independently rounded integer percentages. They are not
// guaranteed to sum to exactly 100.
type SentimentScores struct {
	Positive int
	Neutral  int
	Negative int
	Mixed    int
}

// Max returns the largest of the four scores.
func (s SentimentScores) Max() int {
	m := s.Positive
	for _, v := range []int{s.Neutral, s.Negative, s.Mixed} {
		if v > m {
			m = v
		}
	}
	return m
}

// SentimentVerdict is the gate's decision for one inbound message.
type SentimentVerdict struct {
	Category    SentimentCategory
	Confidence  int
	Scores      SentimentScores
	Keywords    []string
	Block       bool
	BlockReason string
	// Degraded is set when the provider could not be consulted.
	Degraded bool
}
