package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-intake-backend/internal/domain"
	"github.com/tbourn/go-intake-backend/internal/repo"
	"github.com/tbourn/go-intake-backend/internal/services"
	"github.com/tbourn/go-intake-backend/internal/session"
)

type testPatientRepo struct{}

func (testPatientRepo) GetPatient(ctx context.Context, db *gorm.DB, id string) (*domain.Patient, error) {
	return repo.GetPatient(ctx, db, id)
}

func (testPatientRepo) PatientExists(ctx context.Context, db *gorm.DB, id string) (bool, error) {
	return repo.PatientExists(ctx, db, id)
}

func (testPatientRepo) InsertPatient(ctx context.Context, db *gorm.DB, p *domain.Patient) error {
	return repo.InsertPatient(ctx, db, p)
}

// newTestAPI wires real services over a temp SQLite store and returns the
// router plus the report directory for on-disk assertions.
func newTestAPI(t *testing.T) (*gin.Engine, *services.IdentityService, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := filepath.Join(t.TempDir(), fmt.Sprintf("handlers_test_%d.db", time.Now().UnixNano()))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	if err := db.AutoMigrate(&domain.Patient{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}

	reportDir := t.TempDir()
	identitySvc := services.NewIdentityService(db, testPatientRepo{})
	reportSvc := services.NewReportService(reportDir)
	reportSvc.Backoff = 0

	mgr := session.NewManager(identitySvc, reportSvc)
	h := New(mgr, NewPatientDirectory(identitySvc), 2000)

	r := gin.New()
	api := r.Group("/api/v1")
	api.POST("/sessions", h.StartSession)
	api.GET("/sessions", h.ListSessions)
	api.GET("/sessions/:id", h.GetSession)
	api.DELETE("/sessions/:id", h.AbandonSession)
	api.POST("/sessions/:id/patient-id", h.SubmitPatientID)
	api.POST("/sessions/:id/profile", h.RequestNewProfile)
	api.POST("/sessions/:id/fields", h.SubmitDemographicField)
	api.POST("/sessions/:id/corrections", h.RequestCorrection)
	api.POST("/sessions/:id/symptoms", h.ReportSymptom)
	api.POST("/sessions/:id/complete", h.SignalComplete)
	api.GET("/sessions/:id/report", h.GetReportLocation)
	api.GET("/patients/:id", h.GetPatient)
	return r, identitySvc, reportDir
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return out
}

func profileBody() map[string]any {
	return map[string]any{
		"name":        "John Smith",
		"age":         35,
		"height_cm":   180,
		"gender":      "male",
		"blood_group": "O+",
		"weight_kg":   75.5,
	}
}

func TestAPI_NewPatientConsultationFlow(t *testing.T) {
	r, _, reportDir := newTestAPI(t)

	// Start a session.
	w := doJSON(t, r, http.MethodPost, "/api/v1/sessions", nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("start: %d %s", w.Code, w.Body)
	}
	sess := decode[SessionResponse](t, w)
	if sess.Phase != "IDENTITY_RESOLUTION" {
		t.Fatalf("start phase = %s", sess.Phase)
	}
	base := "/api/v1/sessions/" + sess.ID

	// Unknown returning-patient ID: a miss, not a failure of the session.
	w = doJSON(t, r, http.MethodPost, base+"/patient-id", map[string]string{"patient_id": "P99999999"})
	if w.Code != http.StatusNotFound {
		t.Fatalf("unknown patient: %d %s", w.Code, w.Body)
	}
	if e := decode[ErrorResponse](t, w); e.Code != ErrCodePatientNotFound {
		t.Fatalf("error code = %s", e.Code)
	}

	// Create a full profile instead.
	w = doJSON(t, r, http.MethodPost, base+"/profile", profileBody())
	if w.Code != http.StatusOK {
		t.Fatalf("profile: %d %s", w.Code, w.Body)
	}
	sess = decode[SessionResponse](t, w)
	if sess.Phase != "SYMPTOM_COLLECTION" || sess.Patient == nil {
		t.Fatalf("after profile: %+v", sess)
	}
	patientID := sess.Patient.PatientID

	// Report symptoms, one with attributes and one bare.
	w = doJSON(t, r, http.MethodPost, base+"/symptoms", map[string]string{
		"description": "headache", "severity": "mild", "duration": "2 days",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("symptom: %d %s", w.Code, w.Body)
	}
	w = doJSON(t, r, http.MethodPost, base+"/symptoms", map[string]string{"description": "fatigue"})
	if w.Code != http.StatusOK {
		t.Fatalf("symptom: %d %s", w.Code, w.Body)
	}
	sess = decode[SessionResponse](t, w)
	if len(sess.Symptoms) != 2 {
		t.Fatalf("symptoms = %d, want 2", len(sess.Symptoms))
	}

	// Correct a field mid consultation; symptoms survive.
	w = doJSON(t, r, http.MethodPost, base+"/corrections", map[string]string{"field": "age", "value": "36"})
	if w.Code != http.StatusOK {
		t.Fatalf("correction: %d %s", w.Code, w.Body)
	}
	sess = decode[SessionResponse](t, w)
	if sess.Patient.Age != 36 || len(sess.Symptoms) != 2 {
		t.Fatalf("after correction: %+v", sess)
	}

	// Complete: report lands on disk.
	w = doJSON(t, r, http.MethodPost, base+"/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("complete: %d %s", w.Code, w.Body)
	}
	comp := decode[CompleteResponse](t, w)
	if filepath.Dir(comp.ReportPath) != reportDir {
		t.Fatalf("report outside dir: %s", comp.ReportPath)
	}
	data, err := os.ReadFile(comp.ReportPath)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	if !bytes.Contains(data, []byte("PATIENT ID: "+patientID)) ||
		!bytes.Contains(data, []byte("Age: 36 years")) {
		t.Fatalf("report content unexpected:\n%s", data)
	}

	// Repeat completion returns the same path.
	w = doJSON(t, r, http.MethodPost, base+"/complete", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("repeat complete: %d %s", w.Code, w.Body)
	}
	if again := decode[CompleteResponse](t, w); again.ReportPath != comp.ReportPath {
		t.Fatalf("repeat path %q != %q", again.ReportPath, comp.ReportPath)
	}

	// Report location endpoint agrees.
	w = doJSON(t, r, http.MethodGet, base+"/report", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("report location: %d %s", w.Code, w.Body)
	}

	// The durable record kept the original age; corrections are session-local.
	w = doJSON(t, r, http.MethodGet, "/api/v1/patients/"+patientID, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get patient: %d %s", w.Code, w.Body)
	}
	p := decode[domain.Patient](t, w)
	if p.Age != 35 {
		t.Fatalf("stored age = %d, want 35", p.Age)
	}
}

func TestAPI_ReturningPatientFlow(t *testing.T) {
	r, identitySvc, _ := newTestAPI(t)

	// Seed a patient directly through the service.
	fields := domain.ProfileFields{}
	for k, v := range map[string]string{
		"name": "Jane Doe", "age": "41", "height_cm": "165",
		"gender": "female", "blood_group": "A-", "weight_kg": "58",
	} {
		if err := fields.Set(k, v); err != nil {
			t.Fatalf("seed field %s: %v", k, err)
		}
	}
	seeded, err := identitySvc.Create(context.Background(), fields)
	if err != nil {
		t.Fatalf("seed create: %v", err)
	}

	w := doJSON(t, r, http.MethodPost, "/api/v1/sessions", nil)
	sess := decode[SessionResponse](t, w)
	base := "/api/v1/sessions/" + sess.ID

	w = doJSON(t, r, http.MethodPost, base+"/patient-id", map[string]string{"patient_id": seeded.PatientID})
	if w.Code != http.StatusOK {
		t.Fatalf("patient-id: %d %s", w.Code, w.Body)
	}
	sess = decode[SessionResponse](t, w)
	if sess.Phase != "SYMPTOM_COLLECTION" || sess.Patient == nil || sess.Patient.Name != "Jane Doe" {
		t.Fatalf("returning flow: %+v", sess)
	}
}

func TestAPI_IncrementalFieldsAndValidation(t *testing.T) {
	r, _, _ := newTestAPI(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sessions", nil)
	sess := decode[SessionResponse](t, w)
	base := "/api/v1/sessions/" + sess.ID

	// Begin with an empty field set.
	w = doJSON(t, r, http.MethodPost, base+"/profile", map[string]any{})
	if w.Code != http.StatusOK {
		t.Fatalf("empty profile: %d %s", w.Code, w.Body)
	}
	sess = decode[SessionResponse](t, w)
	if sess.Phase != "INFO_COLLECTION" || len(sess.MissingFields) != 6 {
		t.Fatalf("after empty profile: %+v", sess)
	}

	// An invalid answer names the field.
	w = doJSON(t, r, http.MethodPost, base+"/fields", map[string]string{"field": "age", "value": "-3"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad age: %d %s", w.Code, w.Body)
	}
	if e := decode[ErrorResponse](t, w); e.Code != ErrCodeInvalidField {
		t.Fatalf("error code = %s", e.Code)
	}

	// Answer one by one; the last valid answer advances the phase.
	answers := []struct{ field, value string }{
		{"name", "John Smith"}, {"age", "35"}, {"height_cm", "180"},
		{"gender", "male"}, {"blood_group", "o+"}, {"weight_kg", "75.5"},
	}
	for i, a := range answers {
		w = doJSON(t, r, http.MethodPost, base+"/fields", map[string]string{"field": a.field, "value": a.value})
		if w.Code != http.StatusOK {
			t.Fatalf("field %s: %d %s", a.field, w.Code, w.Body)
		}
		sess = decode[SessionResponse](t, w)
		last := i == len(answers)-1
		if last && sess.Phase != "SYMPTOM_COLLECTION" {
			t.Fatalf("final answer did not advance: %+v", sess)
		}
		if !last && sess.Phase != "INFO_COLLECTION" {
			t.Fatalf("premature advance after %s: %s", a.field, sess.Phase)
		}
	}
	if sess.Patient == nil || sess.Patient.BloodGroup != "O+" {
		t.Fatalf("created patient: %+v", sess.Patient)
	}
}

func TestAPI_PhaseConflictsAndBadInput(t *testing.T) {
	r, _, _ := newTestAPI(t)

	w := doJSON(t, r, http.MethodPost, "/api/v1/sessions", nil)
	sess := decode[SessionResponse](t, w)
	base := "/api/v1/sessions/" + sess.ID

	// Symptoms before identity resolution: phase conflict.
	w = doJSON(t, r, http.MethodPost, base+"/symptoms", map[string]string{"description": "headache"})
	if w.Code != http.StatusConflict {
		t.Fatalf("early symptom: %d %s", w.Code, w.Body)
	}
	if e := decode[ErrorResponse](t, w); e.Code != ErrCodePhaseConflict {
		t.Fatalf("error code = %s", e.Code)
	}

	// Resolve, then invalid severity and empty description.
	doJSON(t, r, http.MethodPost, base+"/profile", profileBody())
	w = doJSON(t, r, http.MethodPost, base+"/symptoms", map[string]string{"description": "headache", "severity": "critical"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("bad severity: %d %s", w.Code, w.Body)
	}
	w = doJSON(t, r, http.MethodPost, base+"/symptoms", map[string]string{"description": ""})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("empty description: %d %s", w.Code, w.Body)
	}

	// A second profile request after resolution conflicts.
	w = doJSON(t, r, http.MethodPost, base+"/profile", profileBody())
	if w.Code != http.StatusConflict {
		t.Fatalf("second profile: %d %s", w.Code, w.Body)
	}

	// Invalid profile payload (wrong blood group) surfaces invalid_field.
	w2 := doJSON(t, r, http.MethodPost, "/api/v1/sessions", nil)
	sess2 := decode[SessionResponse](t, w2)
	body := profileBody()
	body["blood_group"] = "Z+"
	w2 = doJSON(t, r, http.MethodPost, "/api/v1/sessions/"+sess2.ID+"/profile", body)
	if w2.Code != http.StatusBadRequest {
		t.Fatalf("bad profile: %d %s", w2.Code, w2.Body)
	}
	if e := decode[ErrorResponse](t, w2); e.Code != ErrCodeInvalidField {
		t.Fatalf("error code = %s", e.Code)
	}
}

func TestAPI_ListAndAbandon(t *testing.T) {
	r, _, _ := newTestAPI(t)

	var ids []string
	for i := 0; i < 3; i++ {
		w := doJSON(t, r, http.MethodPost, "/api/v1/sessions", nil)
		ids = append(ids, decode[SessionResponse](t, w).ID)
	}

	w := doJSON(t, r, http.MethodGet, "/api/v1/sessions?page=1&page_size=2", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list: %d %s", w.Code, w.Body)
	}
	list := decode[SessionListResponse](t, w)
	if len(list.Items) != 2 || list.Pagination.Total != 3 || list.Pagination.PageSize != 2 {
		t.Fatalf("pagination: %+v", list.Pagination)
	}

	w = doJSON(t, r, http.MethodDelete, "/api/v1/sessions/"+ids[0], nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("abandon: %d %s", w.Code, w.Body)
	}
	w = doJSON(t, r, http.MethodGet, "/api/v1/sessions/"+ids[0], nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("get abandoned: %d %s", w.Code, w.Body)
	}
	w = doJSON(t, r, http.MethodDelete, "/api/v1/sessions/"+ids[0], nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("double abandon: %d %s", w.Code, w.Body)
	}
}

func TestAPI_UnknownSessionIs404(t *testing.T) {
	r, _, _ := newTestAPI(t)
	for _, req := range []struct{ method, path string }{
		{http.MethodGet, "/api/v1/sessions/nope"},
		{http.MethodPost, "/api/v1/sessions/nope/complete"},
		{http.MethodGet, "/api/v1/sessions/nope/report"},
	} {
		w := doJSON(t, r, req.method, req.path, nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("%s %s: %d", req.method, req.path, w.Code)
		}
	}
}
