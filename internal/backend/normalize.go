package backend

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/mind-engage/groundschool/internal/apperrors"
	"github.com/mind-engage/groundschool/internal/quiz"
)

// flexString accepts a JSON string or number.
type flexString string

func (f *flexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if string(b) == "null" {
		*f = ""
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// flexInt accepts a JSON number or a numeric string; anything else is 0.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	var s flexString
	if err := s.UnmarshalJSON(b); err != nil {
		return err
	}
	n, err := strconv.ParseFloat(strings.TrimSpace(string(s)), 64)
	if err != nil {
		*f = 0
		return nil
	}
	*f = flexInt(n)
	return nil
}

type rawFigure struct {
	URL          string     `json:"url"`
	PrimaryURL   string     `json:"primaryUrl"`
	AltURL       string     `json:"altUrl"`
	AlternateURL string     `json:"alternateUrl"`
	ThumbURL     string     `json:"thumbUrl"`
	ThumbnailURL string     `json:"thumbnailUrl"`
	Number       flexString `json:"number"`
	Width        flexInt    `json:"width"`
}

// rawQuestion covers both payload shapes: a flat choices array with a
// separate correct letter, and the richer explanation/figure form.
type rawQuestion struct {
	ID          flexString `json:"id"`
	Text        string     `json:"text"`
	Question    string     `json:"question"`
	Stem        string     `json:"stem"`
	Choices     []string   `json:"choices"`
	Options     []string   `json:"options"`
	Correct     string     `json:"correct"`
	Answer      string     `json:"answer"`
	Explanation string     `json:"explanation"`
	Figure      *rawFigure `json:"figure"`
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func normalizeFigure(r *rawFigure) *quiz.Figure {
	if r == nil {
		return nil
	}
	urls := make([]string, 0, 3)
	for _, u := range []string{firstNonEmpty(r.PrimaryURL, r.URL), firstNonEmpty(r.AlternateURL, r.AltURL), firstNonEmpty(r.ThumbnailURL, r.ThumbURL)} {
		if u != "" {
			urls = append(urls, u)
		}
	}
	if len(urls) == 0 {
		return nil
	}
	f := &quiz.Figure{PrimaryURL: urls[0], Number: strings.TrimSpace(string(r.Number))}
	if r.Width > 0 {
		f.WidthPx = int(r.Width)
	}
	// Keep slot semantics when present; otherwise shift the survivors up.
	if alt := firstNonEmpty(r.AlternateURL, r.AltURL); alt != "" && alt != f.PrimaryURL {
		f.AlternateURL = alt
	}
	if th := firstNonEmpty(r.ThumbnailURL, r.ThumbURL); th != "" && th != f.PrimaryURL {
		f.ThumbnailURL = th
	}
	return f
}

// normalize converts raw questions to the uniform shape. body is only used
// for the error preview.
func normalize(op string, raws []rawQuestion, body []byte) ([]quiz.Question, error) {
	out := make([]quiz.Question, 0, len(raws))
	seen := make(map[string]bool, len(raws))
	for i, r := range raws {
		id := strings.TrimSpace(string(r.ID))
		if id == "" {
			return nil, apperrors.Protocol(op, fmt.Sprintf("question %d has no id", i), body)
		}
		if seen[id] {
			return nil, apperrors.Protocol(op, fmt.Sprintf("duplicate question id %q", id), body)
		}
		seen[id] = true

		text := firstNonEmpty(r.Text, r.Question, r.Stem)
		if text == "" {
			return nil, apperrors.Protocol(op, fmt.Sprintf("question %q has no text", id), body)
		}
		choices := r.Choices
		if len(choices) == 0 {
			choices = r.Options
		}
		if len(choices) < quiz.MinChoices || len(choices) > quiz.MaxChoices {
			return nil, apperrors.Protocol(op, fmt.Sprintf("question %q has %d choices", id, len(choices)), body)
		}
		out = append(out, quiz.Question{
			ID:          id,
			Text:        text,
			Choices:     append([]string(nil), choices...),
			Correct:     strings.ToUpper(firstNonEmpty(r.Correct, r.Answer)),
			Explanation: strings.TrimSpace(r.Explanation),
			Figure:      normalizeFigure(r.Figure),
		})
	}
	return out, nil
}
