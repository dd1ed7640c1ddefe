// Package lessongrade holds the instructor lesson-grading form and the
// checks it must pass before it is sent anywhere.
package lessongrade

import "strings"

// Grade is S (satisfactory), I (incomplete) or U (unsatisfactory).
type Grade string

const (
	Satisfactory   Grade = "S"
	Incomplete     Grade = "I"
	Unsatisfactory Grade = "U"
)

func ParseGrade(s string) (Grade, bool) {
	switch g := Grade(strings.ToUpper(strings.TrimSpace(s))); g {
	case Satisfactory, Incomplete, Unsatisfactory:
		return g, true
	}
	return "", false
}

// DateLayout is the format of Form.Date.
const DateLayout = "2006-01-02"

type LineItem struct {
	ItemCode string `json:"itemCode"`
	Grade    Grade  `json:"grade"`
	Comment  string `json:"comment"`
}

type Form struct {
	StudentEmail string             `json:"studentEmail"`
	Lesson       string             `json:"lesson"`
	OverallGrade Grade              `json:"overallGrade"`
	Date         string             `json:"date"` // YYYY-MM-DD
	AircraftType string             `json:"aircraftType,omitempty"`
	TailNumber   string             `json:"tailNumber,omitempty"`
	Landings     int                `json:"landings"`
	TimeTotals   map[string]float64 `json:"timeTotals,omitempty"` // category -> hours
	LineItems    []LineItem         `json:"lineItems"`
}

type Student struct {
	Name  string `json:"name"`
	Email string `json:"email"`
}

// Lesson is the metadata the form is built from.
type Lesson struct {
	Code  string   `json:"code"`
	Title string   `json:"title"`
	Type  string   `json:"type"` // FL / FLE mark a flight lesson
	Items []string `json:"items"`
}

// IsFlight reports whether lessons of this type need aircraft and tail number.
func IsFlight(lessonType string) bool {
	switch strings.ToUpper(strings.TrimSpace(lessonType)) {
	case "FL", "FLE":
		return true
	}
	return false
}

// Outcome is what the backend reports after accepting a form.
type Outcome struct {
	Draft        bool     `json:"draft"`
	CarryForward []string `json:"carryForward"`
}
