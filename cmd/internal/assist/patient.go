package assist

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"careline/cmd/internal/auth"
	"careline/cmd/internal/backend"
)

// PatientAPI is the slice of the business API the patient assistant needs.
// *backend.Client satisfies it.
type PatientAPI interface {
	Appointments(ctx context.Context, token, userID, role string) ([]backend.Row, error)
	Doctors(ctx context.Context, token, specialization string) ([]backend.Row, error)
	Prescriptions(ctx context.Context, token, patientID string) ([]backend.Row, error)
	MedicalReports(ctx context.Context, token, patientID string) ([]backend.Row, error)
}

// Booking flow steps.
const (
	stepDoctorSelection = "doctor_selection"
)

type bookingState struct {
	Step           string
	Specialization string
}

// PatientBot answers patient messages. Booking is a multi-step flow keyed by
// conversation id; all other intents are stateless.
type PatientBot struct {
	log *slog.Logger
	api PatientAPI

	mu     sync.Mutex
	states map[string]*bookingState
}

// NewPatientBot constructs a patient assistant backed by api.
func NewPatientBot(log *slog.Logger, api PatientAPI) *PatientBot {
	return &PatientBot{
		log:    log,
		api:    api,
		states: make(map[string]*bookingState),
	}
}

// Process answers one patient message. Upstream API failures degrade into a
// canned error reply; they never propagate to the caller.
func (b *PatientBot) Process(ctx context.Context, message, token string, id auth.Identity, conversationID string) Reply {
	if IsEmergency(message) {
		return b.emergency()
	}

	switch PatientIntent(message) {
	case IntentBookAppointment:
		return b.book(ctx, message, token, conversationID)
	case IntentViewAppointments:
		return b.viewAppointments(ctx, token, id)
	case IntentModifyAppointment:
		return b.modifyAppointment(ctx, message, token, id)
	case IntentViewPrescriptions:
		return b.viewPrescriptions(ctx, token, id)
	case IntentViewReports:
		return b.viewReports(ctx, token, id)
	case IntentDoctorInfo:
		return b.doctorInfo(ctx, message, token)
	default:
		return b.generalChat(message, id)
	}
}

// Reset clears the booking state of one conversation.
func (b *PatientBot) Reset(conversationID string) {
	b.mu.Lock()
	delete(b.states, conversationID)
	b.mu.Unlock()
}

func (b *PatientBot) state(conversationID string) *bookingState {
	b.mu.Lock()
	defer b.mu.Unlock()

	st, ok := b.states[conversationID]
	if !ok {
		st = &bookingState{}
		b.states[conversationID] = st
	}
	return st
}

func (b *PatientBot) emergency() Reply {
	return Reply{
		Response: `**EMERGENCY DETECTED**

I understand this may be urgent. For immediate medical emergencies:

- **Call Emergency Services: 911**
- **Go to the nearest Emergency Room**
- **Contact your doctor immediately**

If this is not a life-threatening emergency, I can help you book an urgent appointment or connect you with a doctor.`,
		Type: "emergency",
		Actions: []Action{
			{Type: "call_emergency", Label: "Call 911", Value: "911"},
			{Type: "book_urgent", Label: "Book Urgent Appointment"},
			{Type: "find_urgent_care", Label: "Find Urgent Care"},
		},
	}
}

func (b *PatientBot) book(ctx context.Context, message, token, conversationID string) Reply {
	st := b.state(conversationID)
	specialization := ExtractSpecialization(message)

	if st.Step == stepDoctorSelection {
		return Reply{
			Response: "Please select a preferred date and time for your appointment. I can check availability for the next 30 days.",
			Type:     "datetime_selection",
			Actions: []Action{
				{Type: "date_picker", Label: "Select Date"},
				{Type: "time_picker", Label: "Select Time"},
			},
		}
	}

	if specialization == "" {
		actions := make([]Action, 0, 6)
		for _, spec := range Specializations[:6] {
			actions = append(actions, Action{Type: "specialization", Label: spec, Value: spec})
		}
		return Reply{
			Response: `I'd be happy to help you book an appointment!

Which type of doctor would you like to see? For example:
- Cardiologist (heart specialist)
- Dermatologist (skin specialist)
- Neurologist (brain/nerve specialist)
- General Practitioner

Or tell me your symptoms and I'll suggest the right specialist.`,
			Type:    "specialization_request",
			Actions: actions,
		}
	}

	doctors, err := b.api.Doctors(ctx, token, specialization)
	if err != nil {
		b.log.Warn("assist.patient.doctors.fail", "specialization", specialization, "err", err)
		return errorReply("I'm having trouble accessing doctor information. Please try again later.")
	}
	if len(doctors) == 0 {
		return Reply{
			Response: fmt.Sprintf("I couldn't find any %s doctors available right now. Would you like me to check other specializations or help you find general practitioners?", specialization),
			Type:     "no_doctors",
			Actions: []Action{
				{Type: "general_practice", Label: "General Practice"},
				{Type: "other_specialization", Label: "Other Specialization"},
			},
		}
	}

	st.Specialization = specialization
	st.Step = stepDoctorSelection

	var list strings.Builder
	for i, doc := range doctors {
		if i == 5 {
			break
		}
		fmt.Fprintf(&list, "- **Dr. %s** - %s years experience\n",
			rowString(doc, "name", "Unknown"), rowValue(doc, "experience", "N/A"))
	}

	actions := make([]Action, 0, 4)
	for i, doc := range doctors {
		if i == 3 {
			break
		}
		actions = append(actions, Action{
			Type:  "select_doctor",
			Label: "Dr. " + rowString(doc, "name", "Unknown"),
			Value: rowValue(doc, "id", ""),
		})
	}
	actions = append(actions, Action{Type: "any_doctor", Label: "Any Available Doctor"})

	return Reply{
		Response: fmt.Sprintf(`Great! I found %d %s doctors available.

%s
Please tell me which doctor you'd prefer, or say "any doctor" for the next available appointment.`, len(doctors), specialization, list.String()),
		Type:    "doctor_selection",
		Data:    map[string]any{"doctors": doctors},
		Actions: actions,
	}
}

func (b *PatientBot) viewAppointments(ctx context.Context, token string, id auth.Identity) Reply {
	appointments, err := b.api.Appointments(ctx, token, id.UserID, auth.RolePatient)
	if err != nil {
		b.log.Warn("assist.patient.appointments.fail", "user_id", id.UserID, "err", err)
		return errorReply("I'm having trouble accessing your appointment information. Please try again later.")
	}

	if len(appointments) == 0 {
		return Reply{
			Response: "You don't have any upcoming appointments scheduled.\n\nWould you like me to help you book a new appointment?",
			Type:     "no_appointments",
			Actions: []Action{
				{Type: "book_appointment", Label: "Book New Appointment"},
				{Type: "find_doctors", Label: "Find Doctors"},
			},
		}
	}

	return Reply{
		Response: formatAppointments(appointments),
		Type:     "appointments_list",
		Data:     map[string]any{"appointments": appointments},
		Actions: []Action{
			{Type: "reschedule", Label: "Reschedule Appointment"},
			{Type: "cancel", Label: "Cancel Appointment"},
			{Type: "book_new", Label: "Book New Appointment"},
		},
	}
}

func (b *PatientBot) modifyAppointment(ctx context.Context, message, token string, id auth.Identity) Reply {
	appointments, err := b.api.Appointments(ctx, token, id.UserID, auth.RolePatient)
	if err != nil {
		b.log.Warn("assist.patient.appointments.fail", "user_id", id.UserID, "err", err)
		return errorReply("I'm having trouble accessing your appointments. Please try again later.")
	}
	if len(appointments) == 0 {
		return Reply{
			Response: "You don't have any appointments to modify.",
			Type:     "no_appointments",
			Actions:  []Action{},
		}
	}

	if strings.Contains(strings.ToLower(message), "cancel") {
		var list strings.Builder
		actions := make([]Action, 0, len(appointments))
		for i, apt := range appointments {
			fmt.Fprintf(&list, "%d. Dr. %s - %s at %s\n", i+1,
				rowString(apt, "doctorName", "Unknown"),
				rowString(apt, "appointmentDate", "TBD"),
				rowString(apt, "appointmentTime", "TBD"))
			actions = append(actions, Action{
				Type:  "cancel_appointment",
				Label: fmt.Sprintf("Cancel #%d", i+1),
				Value: rowValue(apt, "id", ""),
			})
		}

		return Reply{
			Response: fmt.Sprintf("Which appointment would you like to cancel?\n\n%s\nPlease tell me the number of the appointment you want to cancel.", list.String()),
			Type:     "cancel_selection",
			Data:     map[string]any{"appointments": appointments},
			Actions:  actions,
		}
	}

	return Reply{
		Response: "I can help you reschedule your appointment. Which appointment would you like to reschedule, and what's your preferred new date and time?",
		Type:     "reschedule_request",
		Data:     map[string]any{"appointments": appointments},
		Actions:  []Action{},
	}
}

func (b *PatientBot) viewPrescriptions(ctx context.Context, token string, id auth.Identity) Reply {
	prescriptions, err := b.api.Prescriptions(ctx, token, id.UserID)
	if err != nil {
		b.log.Warn("assist.patient.prescriptions.fail", "user_id", id.UserID, "err", err)
		return errorReply("I'm having trouble accessing your prescription information. Please try again later.")
	}

	if len(prescriptions) == 0 {
		return Reply{
			Response: `You don't have any active prescriptions in our system.

If you have prescriptions from recent appointments, they may not be updated yet. You can contact your doctor's office, check with your pharmacy, or book a follow-up appointment.`,
			Type: "no_prescriptions",
			Actions: []Action{
				{Type: "contact_doctor", Label: "Contact Doctor"},
				{Type: "book_appointment", Label: "Book Appointment"},
			},
		}
	}

	return Reply{
		Response: formatPrescriptions(prescriptions) + "\n**Reminder:** Take medications as prescribed by your doctor.",
		Type:     "prescriptions_list",
		Data:     map[string]any{"prescriptions": prescriptions},
		Actions: []Action{
			{Type: "set_reminder", Label: "Set Medication Reminder"},
			{Type: "pharmacy_info", Label: "Find Nearby Pharmacy"},
			{Type: "side_effects", Label: "Check Side Effects"},
		},
	}
}

func (b *PatientBot) viewReports(ctx context.Context, token string, id auth.Identity) Reply {
	reports, err := b.api.MedicalReports(ctx, token, id.UserID)
	if err != nil {
		b.log.Warn("assist.patient.reports.fail", "user_id", id.UserID, "err", err)
		return errorReply("I'm having trouble accessing your medical reports. Please try again later.")
	}

	if len(reports) == 0 {
		return Reply{
			Response: `You don't have any medical reports available yet.

Medical reports are typically available after lab tests, imaging studies, or diagnostic procedures. Would you like me to help you book a test or check with your doctor?`,
			Type: "no_reports",
			Actions: []Action{
				{Type: "book_test", Label: "Book Lab Test"},
				{Type: "contact_doctor", Label: "Contact Doctor"},
			},
		}
	}

	return Reply{
		Response: formatReports(reports),
		Type:     "reports_list",
		Data:     map[string]any{"reports": reports},
		Actions: []Action{
			{Type: "download_report", Label: "Download Report"},
			{Type: "share_report", Label: "Share with Doctor"},
			{Type: "explain_report", Label: "Explain Results"},
		},
	}
}

func (b *PatientBot) doctorInfo(ctx context.Context, message, token string) Reply {
	specialization := ExtractSpecialization(message)

	doctors, err := b.api.Doctors(ctx, token, specialization)
	if err != nil {
		b.log.Warn("assist.patient.doctors.fail", "specialization", specialization, "err", err)
		return errorReply("I'm having trouble accessing doctor information. Please try again later.")
	}

	if len(doctors) == 0 {
		suffix := ""
		if specialization != "" {
			suffix = " for " + specialization
		}
		return Reply{
			Response: fmt.Sprintf("I couldn't find any doctors%s at the moment. Would you like me to check other specializations?", suffix),
			Type:     "no_doctors_found",
			Actions:  []Action{},
		}
	}

	actions := make([]Action, 0, 4)
	for i, doc := range doctors {
		if i == 3 {
			break
		}
		actions = append(actions, Action{
			Type:  "book_with_doctor",
			Label: "Book with Dr. " + rowString(doc, "name", "Unknown"),
			Value: rowValue(doc, "id", ""),
		})
	}
	actions = append(actions, Action{Type: "view_all", Label: "View All Doctors"})

	return Reply{
		Response: formatDoctors(doctors, specialization),
		Type:     "doctor_list",
		Data:     map[string]any{"doctors": doctors},
		Actions:  actions,
	}
}

func (b *PatientBot) generalChat(message string, id auth.Identity) Reply {
	m := strings.ToLower(strings.TrimSpace(message))

	if containsAny(m, "hello", "hi", "hey", "good morning", "good afternoon") {
		name := id.DisplayName
		if name == "" {
			name = "there"
		}
		return Reply{
			Response: fmt.Sprintf(`Hello %s!

I'm your careline assistant. I can help you with:

- **Book appointments** with doctors
- **View your upcoming appointments**
- **Check your prescriptions**
- **View your medical reports**
- **Find doctor information**
- **Chat with your assigned doctor**

What would you like to do today?`, name),
			Type: "greeting",
			Actions: []Action{
				{Type: "book_appointment", Label: "Book Appointment"},
				{Type: "view_appointments", Label: "My Appointments"},
				{Type: "view_prescriptions", Label: "My Prescriptions"},
				{Type: "find_doctors", Label: "Find Doctors"},
			},
		}
	}

	if containsAny(m, "help", "what can you do", "options") {
		return Reply{
			Response: `I'm here to help with your healthcare needs! Here's what I can do:

**Appointments:** book, view, cancel, or reschedule appointments.
**Medications:** view prescriptions, set reminders, find pharmacies.
**Medical Records:** view reports, download results, share with doctors.
**Doctor Services:** find doctors by specialization, check availability.
**Communication:** chat with your assigned doctor, emergency assistance.

Just tell me what you need help with!`,
			Type: "help",
			Actions: []Action{
				{Type: "book_appointment", Label: "Book Appointment"},
				{Type: "view_appointments", Label: "My Appointments"},
				{Type: "view_prescriptions", Label: "My Prescriptions"},
				{Type: "emergency", Label: "Emergency Help"},
			},
		}
	}

	return Reply{
		Response: `I understand you're looking for assistance. I can help you with:

- Booking appointments
- Viewing your medical information
- Finding doctors
- Managing prescriptions

Could you please tell me specifically what you'd like to do?`,
		Type: "clarification",
		Actions: []Action{
			{Type: "book_appointment", Label: "Book Appointment"},
			{Type: "view_info", Label: "View My Info"},
			{Type: "find_doctors", Label: "Find Doctors"},
			{Type: "help", Label: "Show All Options"},
		},
	}
}
