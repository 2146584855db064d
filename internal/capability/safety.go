package capability

import "strings"

var (
	diagnosisTerms = []string{"you have", "diagnosis", "you are suffering from", "condition is"}
	dosageTerms    = []string{"increase dose", "decrease dose", "change dosage", "take more", "take less", "double the dose"}
	emergencyTerms = []string{"emergency", "call 911", "immediate medical attention", "chest pain", "trouble breathing", "can't breathe"}
)

const (
	diagnosisNote = "Note: this is not a medical diagnosis. Please consult your healthcare provider."
	dosageNote    = "Note: any change to medication dosage must be made by your prescribing physician."
	emergencyNote = "Important: if this is an emergency, contact your healthcare provider or emergency services immediately."
)

func containsAny(text string, terms []string) bool {
	lower := strings.ToLower(text)
	for _, t := range terms {
		if strings.Contains(lower, t) {
			return true
		}
	}
	return false
}

// Sanitize appends the safety notes generated text calls for.
func Sanitize(text string) string {
	var notes []string
	if containsAny(text, diagnosisTerms) {
		notes = append(notes, diagnosisNote)
	}
	if containsAny(text, dosageTerms) {
		notes = append(notes, dosageNote)
	}
	if containsAny(text, emergencyTerms) {
		notes = append(notes, emergencyNote)
	}
	if len(notes) == 0 {
		return text
	}
	return text + "\n\n" + strings.Join(notes, "\n")
}

// EmergencyRequested reports whether the patient's own words describe an emergency.
func EmergencyRequested(taskText string) bool {
	return containsAny(taskText, emergencyTerms)
}
