package domain

// ScoreAttempt grades a set of submitted answers against quiz content.
// A question awards its points only when the submitted option set is
// exactly the correct set (same size, same members); partial selections
// on multi-answer questions score zero. Unanswered questions score zero
// but still count toward the maximum.
func ScoreAttempt(quiz Quiz, answers map[string][]string) Score {
	score := Score{Questions: make([]QuestionScore, 0, len(quiz.Questions))}
	for _, q := range quiz.Questions {
		points := q.Points
		if points == 0 {
			points = 1
		}
		score.Max += points

		qs := QuestionScore{QuestionID: q.ID}
		if sameSet(answers[q.ID], q.CorrectSet()) {
			qs.Correct = true
			qs.Awarded = points
			score.Total += points
		}
		score.Questions = append(score.Questions, qs)
	}
	return score
}

// sameSet compares two option ID slices as sets. Duplicates collapse;
// both empty is not a match (an unanswered question is never correct).
func sameSet(a, b []string) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	other := make(map[string]struct{}, len(b))
	for _, id := range b {
		other[id] = struct{}{}
	}
	if len(set) != len(other) {
		return false
	}
	for id := range set {
		if _, ok := other[id]; !ok {
			return false
		}
	}
	return true
}
