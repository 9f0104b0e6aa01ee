// Package assist implements the rule-based patient and doctor assistants.
// Intent detection is keyword matching over the lowercased message; there is
// no model behind it and replies are deterministic given the upstream data.
package assist

import (
	"regexp"
	"strings"
	"sync"
)

// Patient intents.
const (
	IntentBookAppointment   = "book_appointment"
	IntentViewAppointments  = "view_appointments"
	IntentModifyAppointment = "modify_appointment"
	IntentViewPrescriptions = "view_prescriptions"
	IntentViewReports       = "view_reports"
	IntentDoctorInfo        = "doctor_info"
	IntentGeneralChat       = "general_chat"
)

// Doctor intents.
const (
	IntentViewPatients       = "view_patients"
	IntentAddPrescription    = "add_prescription"
	IntentAddDiagnosis       = "add_diagnosis"
	IntentPatientHistory     = "patient_history"
	IntentEmergencyPatients  = "emergency_patients"
	IntentScheduleManagement = "schedule_management"
)

var emergencyKeywords = []string{
	"emergency", "urgent", "critical", "severe pain", "chest pain",
	"difficulty breathing", "unconscious", "bleeding", "heart attack",
	"stroke", "allergic reaction", "overdose", "suicide",
}

// Specializations is the canonical specialization list offered to patients.
var Specializations = []string{
	"Cardiology", "Dermatology", "Endocrinology", "Gastroenterology",
	"Neurology", "Oncology", "Orthopedics", "Pediatrics", "Psychiatry",
	"Pulmonology", "Radiology", "Urology", "Gynecology", "ENT",
	"Ophthalmology", "Internal Medicine", "General Practice",
}

// Lay terms that map onto a specialization when no canonical name appears.
var specializationSynonyms = map[string]string{
	"heart":   "Cardiology",
	"skin":    "Dermatology",
	"brain":   "Neurology",
	"bone":    "Orthopedics",
	"eye":     "Ophthalmology",
	"ear":     "ENT",
	"mental":  "Psychiatry",
	"lung":    "Pulmonology",
	"stomach": "Gastroenterology",
	"kidney":  "Urology",
	"child":   "Pediatrics",
	"cancer":  "Oncology",
}

var (
	dateRe = regexp.MustCompile(`(?i)\b(\d{1,2}[/-]\d{1,2}[/-]\d{4}|\d{4}[/-]\d{1,2}[/-]\d{1,2})\b`)
	timeRe = regexp.MustCompile(`(?i)\b(\d{1,2}:\d{2}\s*(?:am|pm)?|\d{1,2}\s*(?:am|pm))\b`)

	medicationRe = regexp.MustCompile(`(?i)(?:prescribe|give|add)\s+([a-zA-Z]+(?:\s+[a-zA-Z]+)*)`)
	dosageRe     = regexp.MustCompile(`(?i)(\d+(?:\.\d+)?)\s*(mg|g|ml|tablets?|capsules?)`)
	frequencyRe  = regexp.MustCompile(`(?i)(once|twice|thrice|\d+\s*times?)\s*(?:a\s*|per\s*)?(?:daily|day|weekly|week)`)
	durationRe   = regexp.MustCompile(`(?i)(?:for\s+)?(\d+)\s*(days?|weeks?|months?)`)

	patientForRe  = regexp.MustCompile(`(?:for|to|patient)\s+([A-Z][a-z]+\s+[A-Z][a-z]+)`)
	patientTailRe = regexp.MustCompile(`([A-Z][a-z]+\s+[A-Z][a-z]+)(?:\s+history|\s+record)`)
)

var wordRes sync.Map

func wordRe(word string) *regexp.Regexp {
	if re, ok := wordRes.Load(word); ok {
		return re.(*regexp.Regexp)
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(word) + `\b`)
	wordRes.Store(word, re)
	return re
}

func containsAny(haystack string, needles ...string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// IsEmergency reports whether message contains an emergency keyword.
// Emergencies short-circuit patient intent routing.
func IsEmergency(message string) bool {
	return containsAny(strings.ToLower(message), emergencyKeywords...)
}

// PatientIntent classifies a patient message. Keyword order matters: booking
// outranks viewing, which outranks the rest.
func PatientIntent(message string) string {
	m := strings.ToLower(strings.TrimSpace(message))

	switch {
	case containsAny(m, "book", "schedule", "appointment", "meet"):
		return IntentBookAppointment
	case containsAny(m, "my appointments", "upcoming", "scheduled"):
		return IntentViewAppointments
	case containsAny(m, "cancel", "reschedule", "change"):
		return IntentModifyAppointment
	case containsAny(m, "prescription", "medicine", "medication", "pills"):
		return IntentViewPrescriptions
	case containsAny(m, "report", "test result", "lab result"):
		return IntentViewReports
	case containsAny(m, "doctor", "specialist", "available"):
		return IntentDoctorInfo
	default:
		return IntentGeneralChat
	}
}

// DoctorIntent classifies a doctor message.
func DoctorIntent(message string) string {
	m := strings.ToLower(strings.TrimSpace(message))

	switch {
	case containsAny(m, "appointments", "schedule", "calendar", "today"):
		return IntentViewAppointments
	case containsAny(m, "patients", "my patients", "patient list"):
		return IntentViewPatients
	case containsAny(m, "prescribe", "prescription", "medication", "medicine"):
		return IntentAddPrescription
	case containsAny(m, "diagnosis", "diagnose", "condition", "treatment"):
		return IntentAddDiagnosis
	case containsAny(m, "history", "medical history", "previous"):
		return IntentPatientHistory
	case containsAny(m, "emergency", "urgent", "critical"):
		return IntentEmergencyPatients
	case containsAny(m, "availability", "time slots"):
		return IntentScheduleManagement
	default:
		return IntentGeneralChat
	}
}

// ExtractSpecialization finds a medical specialization mentioned in message,
// by canonical name first and lay synonym second. Names ending in "y" match
// on the stem so "cardiologist" resolves to Cardiology. Empty when none match.
func ExtractSpecialization(message string) string {
	m := strings.ToLower(message)

	for _, spec := range Specializations {
		needle := strings.ToLower(spec)
		if len(needle) <= 3 {
			// Short names like ENT would otherwise match inside words
			// such as "appointment".
			if wordRe(needle).MatchString(m) {
				return spec
			}
			continue
		}
		if strings.Contains(m, needle) || strings.Contains(m, strings.TrimSuffix(needle, "y")) {
			return spec
		}
	}
	for keyword, spec := range specializationSynonyms {
		if strings.Contains(m, keyword) {
			return spec
		}
	}
	return ""
}

// DateTime holds a date and/or time mention pulled from free text.
type DateTime struct {
	Date string
	Time string
}

// ExtractDateTime pulls the first date and time mention out of message.
// Returns ok=false when neither is present.
func ExtractDateTime(message string) (DateTime, bool) {
	var dt DateTime
	if m := dateRe.FindString(message); m != "" {
		dt.Date = m
	}
	if m := timeRe.FindString(message); m != "" {
		dt.Time = m
	}
	return dt, dt.Date != "" || dt.Time != ""
}

// Prescription holds fields extracted from a doctor's free-text order.
type Prescription struct {
	Medication  string
	Dosage      string
	Frequency   string
	Duration    string
	PatientName string
}

// ExtractPrescription parses a prescription order like
// "prescribe paracetamol 500mg twice daily for 5 days for John Smith".
// At least two fields must match for the extraction to count.
func ExtractPrescription(message string) (Prescription, bool) {
	var p Prescription
	fields := 0

	if m := medicationRe.FindStringSubmatch(message); m != nil {
		p.Medication = strings.TrimSpace(m[1])
		fields++
	}
	if m := dosageRe.FindStringSubmatch(message); m != nil {
		p.Dosage = m[1] + m[2]
		fields++
	}
	if m := frequencyRe.FindString(message); m != "" {
		p.Frequency = strings.TrimSpace(m)
		fields++
	}
	if m := durationRe.FindStringSubmatch(message); m != nil {
		p.Duration = m[1] + " " + m[2]
		fields++
	}
	if m := patientForRe.FindStringSubmatch(message); m != nil {
		p.PatientName = m[1]
		fields++
	}

	return p, fields >= 2
}

// ExtractPatientName finds a patient name in phrases like "history for John
// Smith" or "John Smith record". Empty when no name is present.
func ExtractPatientName(message string) string {
	if m := patientForRe.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	if m := patientTailRe.FindStringSubmatch(message); m != nil {
		return m[1]
	}
	return ""
}

// Diagnosis holds fields extracted from a doctor's clinical note.
type Diagnosis struct {
	Condition string
	Severity  string
	Symptoms  string
}

var diagnosisConditions = []string{
	"hypertension", "diabetes", "asthma", "pneumonia", "bronchitis",
	"gastritis", "migraine", "arthritis", "depression", "anxiety",
}

var diagnosisSeverities = []string{"mild", "moderate", "severe", "critical"}

var diagnosisSymptoms = []string{"pain", "fever", "cough", "headache", "nausea", "fatigue"}

// ExtractDiagnosis scans a clinical note for a known condition, a severity
// marker, and symptom keywords. Returns ok=false when nothing matched.
func ExtractDiagnosis(message string) (Diagnosis, bool) {
	m := strings.ToLower(message)
	var d Diagnosis

	for _, c := range diagnosisConditions {
		if strings.Contains(m, c) {
			d.Condition = title(c)
			break
		}
	}
	for _, s := range diagnosisSeverities {
		if strings.Contains(m, s) {
			d.Severity = title(s)
			break
		}
	}

	var found []string
	for _, s := range diagnosisSymptoms {
		if strings.Contains(m, s) {
			found = append(found, s)
		}
	}
	d.Symptoms = strings.Join(found, ", ")

	return d, d.Condition != "" || d.Severity != "" || d.Symptoms != ""
}

func title(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
