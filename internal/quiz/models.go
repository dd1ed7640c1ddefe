package quiz

import "strings"

const (
	MinChoices = 2
	MaxChoices = 4
)

var letters = [MaxChoices]string{"A", "B", "C", "D"}

// Letter maps a 0-based choice index to its letter; "" when out of range.
func Letter(i int) string {
	if i < 0 || i >= len(letters) {
		return ""
	}
	return letters[i]
}

// ChoiceIndex maps a letter (case-insensitive) back to its index, or -1.
func ChoiceIndex(letter string) int {
	l := strings.ToUpper(strings.TrimSpace(letter))
	for i, v := range letters {
		if v == l {
			return i
		}
	}
	return -1
}

// Figure is an optional illustration attached to a question. URLs are tried
// in the order primary, alternate, thumbnail.
type Figure struct {
	PrimaryURL   string `json:"primary_url"`
	AlternateURL string `json:"alternate_url,omitempty"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
	Number       string `json:"number"`
	WidthPx      int    `json:"width_px,omitempty"`
}

// URLs returns the load order with blanks and repeats removed.
func (f *Figure) URLs() []string {
	if f == nil {
		return nil
	}
	out := make([]string, 0, 3)
	seen := map[string]bool{}
	for _, u := range []string{f.PrimaryURL, f.AlternateURL, f.ThumbnailURL} {
		u = strings.TrimSpace(u)
		if u == "" || seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}

// Caption is shown whether or not the image loads.
func (f *Figure) Caption() string {
	if f == nil {
		return ""
	}
	return "Figure " + f.Number
}

type Question struct {
	ID          string   `json:"id"`
	Text        string   `json:"text"`
	Choices     []string `json:"choices"`
	Correct     string   `json:"correct,omitempty"` // letter A-D, or opaque/empty when the server grades
	Explanation string   `json:"explanation,omitempty"`
	Figure      *Figure  `json:"figure,omitempty"`
}

// Public strips the answer key, for handing questions to a student.
func (q Question) Public() Question {
	q.Correct = ""
	q.Explanation = ""
	q.Choices = append([]string(nil), q.Choices...)
	if q.Figure != nil {
		f := *q.Figure
		q.Figure = &f
	}
	return q
}

func (q Question) clone() Question {
	q.Choices = append([]string(nil), q.Choices...)
	if q.Figure != nil {
		f := *q.Figure
		q.Figure = &f
	}
	return q
}
