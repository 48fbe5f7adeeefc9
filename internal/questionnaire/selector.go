package questionnaire

import (
	"math/rand/v2"
	"sync"
)

// Selection is the outcome of choosing the next question for a record.
type Selection struct {
	Question    QuestionDefinition
	AllAnswered bool
}

// Prompt returns the text handed to the reply chain: the question prompt, or the
// completion sentinel once every field is answered.
func (s Selection) Prompt() string {
	if s.AllAnswered {
		return CompletionSentinel
	}
	return s.Question.Prompt
}

// Selector picks the next unanswered question uniformly at random so the interview
// does not follow a fixed order.
type Selector struct {
	catalog *Catalog

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector creates a selector over catalog. A nil src seeds a fresh PCG source from
// the runtime's entropy; tests pass a fixed-seed source to pin the sequence.
func NewSelector(catalog *Catalog, src rand.Source) *Selector {
	if src == nil {
		src = rand.NewPCG(rand.Uint64(), rand.Uint64())
	}
	return &Selector{
		catalog: catalog,
		rng:     rand.New(src),
	}
}

// Unanswered returns the catalog entries whose value in r is unanswered, in catalog
// order. A key absent from r counts as unanswered.
func (s *Selector) Unanswered(r Record) []QuestionDefinition {
	var out []QuestionDefinition
	for _, q := range s.catalog.questions {
		if IsUnanswered(r[q.Key]) {
			out = append(out, q)
		}
	}
	return out
}

// Next selects the next question for r.
func (s *Selector) Next(r Record) Selection {
	unanswered := s.Unanswered(r)
	if len(unanswered) == 0 {
		return Selection{AllAnswered: true}
	}
	s.mu.Lock()
	i := s.rng.IntN(len(unanswered))
	s.mu.Unlock()
	return Selection{Question: unanswered[i]}
}
