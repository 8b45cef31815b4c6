package domain

import "testing"

func scoringQuiz() Quiz {
	return Quiz{
		ID:              "quiz-1",
		DurationMinutes: 30,
		Questions: []Question{
			{
				ID: "q1",
				Options: []Option{
					{ID: "o1", Correct: false},
					{ID: "o2", Correct: true},
				},
				Points: 2,
			},
			{
				ID:    "q2",
				Multi: true,
				Options: []Option{
					{ID: "o1", Correct: true},
					{ID: "o2", Correct: true},
					{ID: "o3", Correct: false},
				},
				Points: 3,
			},
		},
	}
}

func TestScoreExactMatch(t *testing.T) {
	score := ScoreAttempt(scoringQuiz(), map[string][]string{
		"q1": {"o2"},
		"q2": {"o2", "o1"}, // order must not matter
	})
	if score.Total != 5 || score.Max != 5 {
		t.Fatalf("expected 5/5, got %d/%d", score.Total, score.Max)
	}
	for _, qs := range score.Questions {
		if !qs.Correct {
			t.Fatalf("expected %s correct, got %+v", qs.QuestionID, qs)
		}
	}
}

func TestScoreNoPartialCredit(t *testing.T) {
	cases := []struct {
		name    string
		answers []string
	}{
		{"proper subset", []string{"o1"}},
		{"superset", []string{"o1", "o2", "o3"}},
		{"disjoint", []string{"o3"}},
	}
	for _, tc := range cases {
		score := ScoreAttempt(scoringQuiz(), map[string][]string{"q2": tc.answers})
		if score.Total != 0 {
			t.Fatalf("%s: expected 0 points, got %d", tc.name, score.Total)
		}
	}
}

func TestScoreUnansweredCountsAgainstMax(t *testing.T) {
	score := ScoreAttempt(scoringQuiz(), map[string][]string{"q1": {"o2"}})
	if score.Total != 2 || score.Max != 5 {
		t.Fatalf("expected 2/5, got %d/%d", score.Total, score.Max)
	}
	if score.Questions[1].Correct || score.Questions[1].Awarded != 0 {
		t.Fatalf("expected q2 unanswered to score zero, got %+v", score.Questions[1])
	}
}

func TestScoreDefaultsPointsToOne(t *testing.T) {
	quiz := Quiz{Questions: []Question{{
		ID:      "q1",
		Options: []Option{{ID: "o1", Correct: true}},
	}}}
	score := ScoreAttempt(quiz, map[string][]string{"q1": {"o1"}})
	if score.Total != 1 || score.Max != 1 {
		t.Fatalf("expected 1/1, got %d/%d", score.Total, score.Max)
	}
}
