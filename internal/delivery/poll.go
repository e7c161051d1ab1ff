package delivery

import (
	"fmt"

	"quizbot/internal/quiz"
	kit "quizbot/internal/transport"
	"quizbot/pkg/tgui"
)

// Telegram quiz poll limits, in characters.
const (
	MaxQuestionLen    = 300
	MaxOptionLen      = 100
	MaxExplanationLen = 200
	MinOptions        = 2
	MaxOptions        = 10
)

// ToPoll converts a question into a quiz poll that fits Telegram's limits.
// Long texts are cut with an ellipsis. When there are more than MaxOptions
// choices the correct one is always kept.
func ToPoll(q quiz.Question, anonymous bool) (kit.QuizPoll, error) {
	if len(q.Choices) < MinOptions {
		return kit.QuizPoll{}, fmt.Errorf("question %s: %d choices, need at least %d", q.ID, len(q.Choices), MinOptions)
	}
	if q.Correct < 0 || q.Correct >= len(q.Choices) {
		return kit.QuizPoll{}, fmt.Errorf("question %s: correct index %d out of range", q.ID, q.Correct)
	}

	keep := make([]int, 0, MaxOptions)
	for i := range q.Choices {
		if len(keep) == MaxOptions-1 && q.Correct > i {
			keep = append(keep, q.Correct)
			break
		}
		keep = append(keep, i)
		if len(keep) == MaxOptions {
			break
		}
	}

	p := kit.QuizPoll{
		Question:    tgui.TruncRunes(q.Text, MaxQuestionLen),
		Options:     make([]string, 0, len(keep)),
		Explanation: tgui.TruncRunes(q.Explanation, MaxExplanationLen),
		Anonymous:   anonymous,
	}
	for _, i := range keep {
		if i == q.Correct {
			p.CorrectOption = len(p.Options)
		}
		p.Options = append(p.Options, tgui.TruncRunes(q.Choices[i], MaxOptionLen))
	}
	return p, nil
}
