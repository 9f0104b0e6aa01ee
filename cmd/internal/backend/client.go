// Package backend is the HTTP client for the upstream business API that owns
// appointments, doctors, prescriptions, and medical reports. The relay passes
// the caller's bearer token through unchanged; this service holds no upstream
// credentials of its own.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"careline/cmd/internal/auth"
)

const defaultTimeout = 30 * time.Second

// APIError is a non-2xx reply from the upstream API. The upstream status and
// body are preserved so handlers can relay them instead of masking them.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("backend: status %d: %s", e.Status, e.Body)
}

// Client calls the upstream business API.
type Client struct {
	baseURL string
	http    *http.Client
}

// New constructs a client for the API at baseURL. A zero timeout falls back
// to the default.
func New(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Row is one upstream record. The upstream schema is not ours to define, so
// records stay dynamic and formatting layers pick the fields they need.
type Row = map[string]any

func (c *Client) do(ctx context.Context, method, endpoint, token string, body any, query url.Values) (json.RawMessage, error) {
	u := c.baseURL + endpoint
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("backend: encode request: %w", err)
		}
		rd = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, rd)
	if err != nil {
		return nil, fmt.Errorf("backend: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+strings.TrimPrefix(token, "Bearer "))
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("backend: %s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("backend: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &APIError{Status: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	return raw, nil
}

func (c *Client) getRows(ctx context.Context, endpoint, token string, query url.Values) ([]Row, error) {
	raw, err := c.do(ctx, http.MethodGet, endpoint, token, nil, query)
	if err != nil {
		return nil, err
	}

	var rows []Row
	if err := json.Unmarshal(raw, &rows); err != nil {
		// Some endpoints wrap errors in an object; treat that as no rows,
		// matching the upstream contract for list endpoints.
		return []Row{}, nil
	}
	return rows, nil
}

func (c *Client) getRow(ctx context.Context, endpoint, token string, query url.Values) (Row, error) {
	raw, err := c.do(ctx, http.MethodGet, endpoint, token, nil, query)
	if err != nil {
		return nil, err
	}

	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("backend: decode response: %w", err)
	}
	return row, nil
}

func (c *Client) writeRow(ctx context.Context, method, endpoint, token string, body any) (Row, error) {
	raw, err := c.do(ctx, method, endpoint, token, body, nil)
	if err != nil {
		return nil, err
	}
	if len(raw) == 0 {
		return Row{}, nil
	}

	var row Row
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, fmt.Errorf("backend: decode response: %w", err)
	}
	return row, nil
}

// Appointments lists appointments for userID, routed by role: patients and
// doctors own different upstream collections.
func (c *Client) Appointments(ctx context.Context, token, userID, role string) ([]Row, error) {
	endpoint := "/appointments/doctor/" + url.PathEscape(userID)
	if role == auth.RolePatient {
		endpoint = "/appointments/patient/" + url.PathEscape(userID)
	}
	return c.getRows(ctx, endpoint, token, nil)
}

// BookAppointment creates a new appointment.
func (c *Client) BookAppointment(ctx context.Context, token string, appointment Row) (Row, error) {
	return c.writeRow(ctx, http.MethodPost, "/appointments/book", token, appointment)
}

// CancelAppointment cancels appointmentID.
func (c *Client) CancelAppointment(ctx context.Context, token, appointmentID string) (Row, error) {
	return c.writeRow(ctx, http.MethodPut, "/appointments/"+url.PathEscape(appointmentID)+"/cancel", token, nil)
}

// RescheduleAppointment moves appointmentID to the slot described by change.
func (c *Client) RescheduleAppointment(ctx context.Context, token, appointmentID string, change Row) (Row, error) {
	return c.writeRow(ctx, http.MethodPut, "/appointments/"+url.PathEscape(appointmentID)+"/reschedule", token, change)
}

// Doctors lists doctors, optionally filtered by specialization.
func (c *Client) Doctors(ctx context.Context, token, specialization string) ([]Row, error) {
	var q url.Values
	if specialization != "" {
		q = url.Values{"specialization": {specialization}}
	}
	return c.getRows(ctx, "/doctors", token, q)
}

// DoctorAvailability returns the open slots of doctorID on date (YYYY-MM-DD).
func (c *Client) DoctorAvailability(ctx context.Context, token, doctorID, date string) (Row, error) {
	return c.getRow(ctx, "/doctors/"+url.PathEscape(doctorID)+"/available-slots", token, url.Values{"date": {date}})
}

// Prescriptions lists prescriptions for patientID.
func (c *Client) Prescriptions(ctx context.Context, token, patientID string) ([]Row, error) {
	return c.getRows(ctx, "/prescriptions/patient/"+url.PathEscape(patientID), token, nil)
}

// AddPrescription records a new prescription.
func (c *Client) AddPrescription(ctx context.Context, token string, prescription Row) (Row, error) {
	return c.writeRow(ctx, http.MethodPost, "/prescriptions", token, prescription)
}

// MedicalReports lists medical reports for patientID.
func (c *Client) MedicalReports(ctx context.Context, token, patientID string) ([]Row, error) {
	return c.getRows(ctx, "/medical-reports/patient/"+url.PathEscape(patientID), token, nil)
}

// Patients lists the patients assigned to doctorID.
func (c *Client) Patients(ctx context.Context, token, doctorID string) ([]Row, error) {
	return c.getRows(ctx, "/doctors/"+url.PathEscape(doctorID)+"/patients", token, nil)
}
