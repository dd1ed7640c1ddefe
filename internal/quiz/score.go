package quiz

// Score counts questions whose selected letter equals the correct letter.
// Unanswered questions (Unanswered) count as incorrect.
func Score(questions []Question, selections []int) int {
	score := 0
	for i, q := range questions {
		if i >= len(selections) || selections[i] == Unanswered {
			continue
		}
		if l := Letter(selections[i]); l != "" && l == q.Correct {
			score++
		}
	}
	return score
}

// Percent is round(100*score/total), halves rounded up.
func Percent(score, total int) int {
	if total <= 0 {
		return 0
	}
	return (200*score + total) / (2 * total)
}

// Passed applies an inclusive threshold.
func Passed(percent int, threshold float64) bool {
	return float64(percent) >= threshold
}

// LocalResult scores sheet entirely on the client.
func LocalResult(sheet Sheet) Result {
	total := len(sheet.Questions)
	score := Score(sheet.Questions, sheet.Selections)
	pct := Percent(score, total)
	return Result{
		Score:   score,
		Total:   total,
		Percent: pct,
		Passed:  Passed(pct, sheet.PassPercent),
	}
}
