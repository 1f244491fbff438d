package domain

import "math"

// QuizResult summarizes one scoring pass over a quiz.
type QuizResult struct {
	Correct    int `json:"correct"`
	Total      int `json:"total"`
	Percentage int `json:"percentage"`
}

// ScoreQuiz evaluates selected answers against the quiz's answer key.
// Answers are keyed by question index; comparison is exact case-sensitive
// string equality with no trimming. Unanswered questions count as incorrect.
// Pure and deterministic; no partial credit.
func ScoreQuiz(quiz []Question, answers map[int]string) QuizResult {
	correct := 0
	for i, q := range quiz {
		if selected, ok := answers[i]; ok && selected == q.Answer {
			correct++
		}
	}
	total := len(quiz)
	percentage := 0
	if total > 0 {
		percentage = int(math.Round(float64(correct) / float64(total) * 100))
	}
	return QuizResult{Correct: correct, Total: total, Percentage: percentage}
}
