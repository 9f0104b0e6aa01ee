package assist

import (
	"fmt"
	"strings"

	"careline/cmd/internal/backend"
)

// Action is a suggested follow-up rendered as a button by chat clients.
type Action struct {
	Type  string `json:"type"`
	Label string `json:"label"`
	Value string `json:"value,omitempty"`
}

// Reply is one assistant answer. Data carries structured rows alongside the
// rendered text so clients can build richer views than plain markdown.
type Reply struct {
	Response string         `json:"response"`
	Type     string         `json:"type"`
	Actions  []Action       `json:"actions"`
	Data     map[string]any `json:"data,omitempty"`
}

func errorReply(message string) Reply {
	return Reply{Response: message, Type: "error", Actions: []Action{}}
}

func rowString(row backend.Row, key, fallback string) string {
	if v, ok := row[key].(string); ok && v != "" {
		return v
	}
	return fallback
}

// rowValue renders any upstream field, numeric ids included.
func rowValue(row backend.Row, key, fallback string) string {
	v, ok := row[key]
	if !ok || v == nil {
		return fallback
	}
	switch t := v.(type) {
	case string:
		if t == "" {
			return fallback
		}
		return t
	case float64:
		if t == float64(int64(t)) {
			return fmt.Sprintf("%d", int64(t))
		}
		return fmt.Sprintf("%g", t)
	default:
		return fmt.Sprintf("%v", t)
	}
}

func formatAppointments(appointments []backend.Row) string {
	if len(appointments) == 0 {
		return "No upcoming appointments found."
	}

	var b strings.Builder
	b.WriteString("**Your Upcoming Appointments:**\n\n")
	for i, apt := range appointments {
		fmt.Fprintf(&b, "%d. **Dr. %s**\n", i+1, rowString(apt, "doctorName", "Unknown Doctor"))
		fmt.Fprintf(&b, "   Date: %s\n", rowString(apt, "appointmentDate", "TBD"))
		fmt.Fprintf(&b, "   Time: %s\n", rowString(apt, "appointmentTime", "TBD"))
		fmt.Fprintf(&b, "   Reason: %s\n\n", rowString(apt, "reason", "General consultation"))
	}
	return b.String()
}

func formatPrescriptions(prescriptions []backend.Row) string {
	if len(prescriptions) == 0 {
		return "No prescriptions found."
	}

	var b strings.Builder
	b.WriteString("**Your Current Prescriptions:**\n\n")
	for i, p := range prescriptions {
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, rowString(p, "medicationName", "Unknown"))
		fmt.Fprintf(&b, "   Dosage: %s\n", rowString(p, "dosage", "As prescribed"))
		fmt.Fprintf(&b, "   Frequency: %s\n\n", rowString(p, "frequency", "As directed"))
	}
	return b.String()
}

func formatReports(reports []backend.Row) string {
	var b strings.Builder
	b.WriteString("**Your Medical Reports:**\n\n")
	for i, r := range reports {
		fmt.Fprintf(&b, "%d. **%s**\n", i+1, rowString(r, "reportType", "General Report"))
		fmt.Fprintf(&b, "   Date: %s\n", rowString(r, "reportDate", "Unknown date"))
		fmt.Fprintf(&b, "   Doctor: Dr. %s\n\n", rowString(r, "doctorName", "Unknown doctor"))
	}
	return b.String()
}

func formatDoctors(doctors []backend.Row, specialization string) string {
	var b strings.Builder
	if specialization != "" {
		fmt.Fprintf(&b, "**Available %s Doctors:**\n\n", specialization)
	} else {
		b.WriteString("**Available Doctors:**\n\n")
	}

	for i, doc := range doctors {
		if i == 5 {
			break
		}
		fmt.Fprintf(&b, "%d. **Dr. %s**\n", i+1, rowString(doc, "name", "Unknown"))
		fmt.Fprintf(&b, "   Experience: %s years\n", rowValue(doc, "experience", "N/A"))
		fmt.Fprintf(&b, "   Rating: %s/5\n\n", rowValue(doc, "rating", "N/A"))
	}
	return b.String()
}

func formatPatients(patients []backend.Row) string {
	var b strings.Builder
	b.WriteString("**Your Patients**\n\n")
	for i, p := range patients {
		if i == 10 {
			break
		}
		fmt.Fprintf(&b, "%d. **%s** (%sy, %s)\n", i+1,
			rowString(p, "name", "Unknown Patient"),
			rowValue(p, "age", "N/A"),
			rowString(p, "gender", "N/A"))
		fmt.Fprintf(&b, "   Last visit: %s\n", rowString(p, "lastVisit", "Never"))
		fmt.Fprintf(&b, "   Condition: %s\n\n", rowString(p, "primaryCondition", "General care"))
	}
	return b.String()
}
