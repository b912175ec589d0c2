package controller_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"coursebank/config"
	controller "coursebank/controllers"
	"coursebank/middleware"
	"coursebank/models"
	"coursebank/routes"
	"coursebank/utils"
)

type unenrollCall struct {
	userID       uint
	courseRunKey string
	skipRefund   bool
}

// recordingUnenroller delegates to the real enrollment store but keeps a log
// of every call for assertions.
type recordingUnenroller struct {
	calls []unenrollCall
}

func (r *recordingUnenroller) Unenroll(db *gorm.DB, userID uint, courseRunKey string, skipRefund bool) error {
	r.calls = append(r.calls, unenrollCall{userID, courseRunKey, skipRefund})
	return models.Unenroll(db, userID, courseRunKey, skipRefund)
}

func setupTest(t *testing.T) (*fiber.App, *gorm.DB, *recordingUnenroller) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	// the in-memory database lives and dies with a single connection
	sqlDB.SetMaxOpenConns(1)
	require.NoError(t, config.MigrateDB(db))

	config.DB = db
	config.AppConfig = config.Config{
		JWTSecret:          "test-secret",
		JWTExpirationHours: 1,
		DefaultCourseMode:  "audit",
		RateLimitAdminAPI:  1000,
	}

	unenroller := &recordingUnenroller{}
	ec := controller.NewEntitlementController(db, log.New(io.Discard, "", 0))
	ec.Enrollment = unenroller

	app := fiber.New()
	api := app.Group("/api/v1", middleware.Protected(), middleware.StaffOnly())
	routes.RegisterEntitlementRoutes(api, ec)
	return app, db, unenroller
}

func createUser(t *testing.T, db *gorm.DB, username string, staff bool) *models.User {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password"), bcrypt.MinCost)
	require.NoError(t, err)
	user := &models.User{
		Username:     username,
		Email:        username + "@example.com",
		PasswordHash: string(hash),
		IsActive:     true,
		IsStaff:      staff,
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func authHeader(t *testing.T, user *models.User) string {
	t.Helper()
	token, err := utils.GenerateJWTToken(user)
	require.NoError(t, err)
	return "Bearer " + token
}

func doRequest(t *testing.T, app *fiber.App, method, target, auth string, body interface{}) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if auth != "" {
		req.Header.Set("Authorization", auth)
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp
}

func decodeResults(t *testing.T, resp *http.Response) []map[string]interface{} {
	t.Helper()
	var payload struct {
		Results []map[string]interface{} `json:"results"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	return payload.Results
}

func entitlementBody(username, courseUUID string) map[string]string {
	return map[string]string{
		"username":     username,
		"course_uuid":  courseUUID,
		"mode":         "verified",
		"order_number": "EDX-1001",
	}
}

func TestEntitlementAuthRequired(t *testing.T) {
	app, _, _ := setupTest(t)

	resp := doRequest(t, app, http.MethodGet, "/api/v1/entitlements/", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp = doRequest(t, app, http.MethodGet, "/api/v1/entitlements/", "Bearer not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestEntitlementStaffRequired(t *testing.T) {
	app, db, _ := setupTest(t)
	learner := createUser(t, db, "learner", false)

	resp := doRequest(t, app, http.MethodGet, "/api/v1/entitlements/", authHeader(t, learner), nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCreateEntitlementMissingData(t *testing.T) {
	app, db, _ := setupTest(t)
	staff := createUser(t, db, "admin", true)

	body := entitlementBody("admin", uuid.NewString())
	delete(body, "mode")

	resp := doRequest(t, app, http.MethodPost, "/api/v1/entitlements/", authHeader(t, staff), body)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateEntitlementInvalidCourseUUID(t *testing.T) {
	app, db, _ := setupTest(t)
	staff := createUser(t, db, "admin", true)

	resp := doRequest(t, app, http.MethodPost, "/api/v1/entitlements/", authHeader(t, staff),
		entitlementBody("admin", "not-a-course-uuid"))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateEntitlementUnknownUsername(t *testing.T) {
	app, db, _ := setupTest(t)
	staff := createUser(t, db, "admin", true)

	resp := doRequest(t, app, http.MethodPost, "/api/v1/entitlements/", authHeader(t, staff),
		entitlementBody("nobody", uuid.NewString()))
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestCreateEntitlementIdempotent(t *testing.T) {
	app, db, _ := setupTest(t)
	staff := createUser(t, db, "admin", true)
	body := entitlementBody("admin", uuid.NewString())

	resp := doRequest(t, app, http.MethodPost, "/api/v1/entitlements/", authHeader(t, staff), body)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decodeResults(t, resp)
	require.Len(t, first, 1)

	resp = doRequest(t, app, http.MethodPost, "/api/v1/entitlements/", authHeader(t, staff), body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := decodeResults(t, resp)
	require.Len(t, second, 1)
	require.Equal(t, first[0]["uuid"], second[0]["uuid"])

	var count int64
	require.NoError(t, db.Model(&models.CourseEntitlement{}).Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestGetEntitlementsUnfilteredCap(t *testing.T) {
	app, db, _ := setupTest(t)
	staff := createUser(t, db, "admin", true)
	courseUUID := uuid.New()

	for i := 0; i < 120; i++ {
		_, created, err := models.GrantEntitlement(db, staff, courseUUID, "verified",
			fmt.Sprintf("TESTX-%04d", i))
		require.NoError(t, err)
		require.True(t, created)
	}

	resp := doRequest(t, app, http.MethodGet, "/api/v1/entitlements/", authHeader(t, staff), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, decodeResults(t, resp), 100)
}

func TestGetEntitlementsFiltered(t *testing.T) {
	app, db, _ := setupTest(t)
	staff := createUser(t, db, "admin", true)
	bob := createUser(t, db, "bob", false)
	alice := createUser(t, db, "alice", false)

	bobEnt, _, err := models.GrantEntitlement(db, bob, uuid.New(), "verified", "TESTX-1001")
	require.NoError(t, err)
	_, _, err = models.GrantEntitlement(db, alice, uuid.New(), "audit", "TESTX-1002")
	require.NoError(t, err)

	// username filter, with an unrecognized parameter that must be ignored
	resp := doRequest(t, app, http.MethodGet,
		"/api/v1/entitlements/?username=bob&unknown_param=1", authHeader(t, staff), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := decodeResults(t, resp)
	require.Len(t, results, 1)
	require.Equal(t, "bob", results[0]["user"])

	// mode AND username must intersect
	resp = doRequest(t, app, http.MethodGet,
		"/api/v1/entitlements/?username=bob&mode=audit", authHeader(t, staff), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Empty(t, decodeResults(t, resp))

	resp = doRequest(t, app, http.MethodGet,
		"/api/v1/entitlements/?order_number=TESTX-1002", authHeader(t, staff), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results = decodeResults(t, resp)
	require.Len(t, results, 1)
	require.Equal(t, "alice", results[0]["user"])

	resp = doRequest(t, app, http.MethodGet,
		"/api/v1/entitlements/?uuid="+bobEnt.UUID.String(), authHeader(t, staff), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results = decodeResults(t, resp)
	require.Len(t, results, 1)
	require.Equal(t, bobEnt.UUID.String(), results[0]["uuid"])

	// a malformed uuid filter must not reach the store
	resp = doRequest(t, app, http.MethodGet,
		"/api/v1/entitlements/?uuid=not-a-uuid", authHeader(t, staff), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestGetEntitlementByUUID(t *testing.T) {
	app, db, _ := setupTest(t)
	staff := createUser(t, db, "admin", true)
	ent, _, err := models.GrantEntitlement(db, staff, uuid.New(), "verified", "TESTX-1001")
	require.NoError(t, err)

	resp := doRequest(t, app, http.MethodGet,
		"/api/v1/entitlements/"+ent.UUID.String(), authHeader(t, staff), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := decodeResults(t, resp)
	require.Len(t, results, 1)
	require.Equal(t, ent.UUID.String(), results[0]["uuid"])

	// unknown uuid
	resp = doRequest(t, app, http.MethodGet,
		"/api/v1/entitlements/"+uuid.NewString(), authHeader(t, staff), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// malformed uuid
	resp = doRequest(t, app, http.MethodGet,
		"/api/v1/entitlements/not-a-uuid", authHeader(t, staff), nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestPatchEntitlement(t *testing.T) {
	app, db, _ := setupTest(t)
	staff := createUser(t, db, "admin", true)
	bob := createUser(t, db, "bob", false)
	ent, _, err := models.GrantEntitlement(db, staff, uuid.New(), "verified", "TESTX-1001")
	require.NoError(t, err)

	resp := doRequest(t, app, http.MethodPatch,
		"/api/v1/entitlements/"+ent.UUID.String(), authHeader(t, staff),
		map[string]string{"mode": "credit", "username": "bob"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results := decodeResults(t, resp)
	require.Len(t, results, 1)
	require.Equal(t, "credit", results[0]["mode"])
	require.Equal(t, "bob", results[0]["user"])
	// untouched fields survive
	require.Equal(t, "TESTX-1001", results[0]["order_number"])
	require.Equal(t, ent.CourseUUID.String(), results[0]["course_uuid"])

	// the owner change is persisted, not just echoed
	var stored models.CourseEntitlement
	require.NoError(t, db.First(&stored, ent.ID).Error)
	require.Equal(t, bob.ID, stored.UserID)
	require.Equal(t, "credit", stored.Mode)

	// malformed path uuid
	resp = doRequest(t, app, http.MethodPatch,
		"/api/v1/entitlements/not-a-uuid", authHeader(t, staff),
		map[string]string{"mode": "credit"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// malformed course uuid in body
	resp = doRequest(t, app, http.MethodPatch,
		"/api/v1/entitlements/"+ent.UUID.String(), authHeader(t, staff),
		map[string]string{"course_uuid": "not-a-uuid"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	// unknown username in body
	resp = doRequest(t, app, http.MethodPatch,
		"/api/v1/entitlements/"+ent.UUID.String(), authHeader(t, staff),
		map[string]string{"username": "nobody"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestRevokeEntitlementIdempotent(t *testing.T) {
	app, db, _ := setupTest(t)
	staff := createUser(t, db, "admin", true)
	ent, _, err := models.GrantEntitlement(db, staff, uuid.New(), "verified", "TESTX-1001")
	require.NoError(t, err)

	resp := doRequest(t, app, http.MethodDelete,
		"/api/v1/entitlements/"+ent.UUID.String(), authHeader(t, staff), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var first models.CourseEntitlement
	require.NoError(t, db.First(&first, ent.ID).Error)
	require.NotNil(t, first.ExpiredAt)

	resp = doRequest(t, app, http.MethodDelete,
		"/api/v1/entitlements/"+ent.UUID.String(), authHeader(t, staff), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	var second models.CourseEntitlement
	require.NoError(t, db.First(&second, ent.ID).Error)
	require.NotNil(t, second.ExpiredAt)
	require.True(t, first.ExpiredAt.Equal(*second.ExpiredAt), "second delete must not overwrite expired_at")
}

func TestRevokeEntitlementUnenrolls(t *testing.T) {
	app, db, unenroller := setupTest(t)
	staff := createUser(t, db, "admin", true)
	bob := createUser(t, db, "bob", false)

	enrollment := models.CourseEnrollment{
		UserID:       bob.ID,
		CourseRunKey: "course-v1:TestX+TS101+T1",
		Mode:         "verified",
		IsActive:     true,
	}
	require.NoError(t, db.Create(&enrollment).Error)

	ent, _, err := models.GrantEntitlement(db, bob, uuid.New(), "verified", "TESTX-1001")
	require.NoError(t, err)
	require.NoError(t, ent.LinkEnrollment(db, &enrollment))

	resp := doRequest(t, app, http.MethodDelete,
		"/api/v1/entitlements/"+ent.UUID.String(), authHeader(t, staff), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	require.Len(t, unenroller.calls, 1)
	require.Equal(t, bob.ID, unenroller.calls[0].userID)
	require.Equal(t, "course-v1:TestX+TS101+T1", unenroller.calls[0].courseRunKey)
	require.True(t, unenroller.calls[0].skipRefund)

	var stored models.CourseEntitlement
	require.NoError(t, db.First(&stored, ent.ID).Error)
	require.Nil(t, stored.EnrollmentID)

	var storedEnrollment models.CourseEnrollment
	require.NoError(t, db.First(&storedEnrollment, enrollment.ID).Error)
	require.False(t, storedEnrollment.IsActive)

	// second revoke has nothing left to unenroll
	resp = doRequest(t, app, http.MethodDelete,
		"/api/v1/entitlements/"+ent.UUID.String(), authHeader(t, staff), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Len(t, unenroller.calls, 1)
}

func TestRevokeEntitlementInactiveEnrollment(t *testing.T) {
	app, db, unenroller := setupTest(t)
	staff := createUser(t, db, "admin", true)
	bob := createUser(t, db, "bob", false)

	enrollment := models.CourseEnrollment{
		UserID:       bob.ID,
		CourseRunKey: "course-v1:TestX+TS101+T1",
		Mode:         "verified",
		IsActive:     true,
	}
	require.NoError(t, db.Create(&enrollment).Error)

	ent, _, err := models.GrantEntitlement(db, bob, uuid.New(), "verified", "TESTX-1001")
	require.NoError(t, err)
	require.NoError(t, ent.LinkEnrollment(db, &enrollment))

	// the learner dropped the run some other way before the revoke
	require.NoError(t, db.Model(&enrollment).Update("is_active", false).Error)

	resp := doRequest(t, app, http.MethodDelete,
		"/api/v1/entitlements/"+ent.UUID.String(), authHeader(t, staff), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Len(t, unenroller.calls, 1)

	var stored models.CourseEntitlement
	require.NoError(t, db.First(&stored, ent.ID).Error)
	require.NotNil(t, stored.ExpiredAt)
	require.Nil(t, stored.EnrollmentID)
}

func TestPatchEntitlementRedeemedOwner(t *testing.T) {
	app, db, _ := setupTest(t)
	staff := createUser(t, db, "admin", true)
	bob := createUser(t, db, "bob", false)
	createUser(t, db, "alice", false)

	enrollment := models.CourseEnrollment{
		UserID:       bob.ID,
		CourseRunKey: "course-v1:TestX+TS101+T1",
		Mode:         "verified",
		IsActive:     true,
	}
	require.NoError(t, db.Create(&enrollment).Error)

	ent, _, err := models.GrantEntitlement(db, bob, uuid.New(), "verified", "TESTX-1001")
	require.NoError(t, err)
	require.NoError(t, ent.LinkEnrollment(db, &enrollment))

	// a redeemed entitlement keeps its owner
	resp := doRequest(t, app, http.MethodPatch,
		"/api/v1/entitlements/"+ent.UUID.String(), authHeader(t, staff),
		map[string]string{"username": "alice"})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var stored models.CourseEntitlement
	require.NoError(t, db.First(&stored, ent.ID).Error)
	require.Equal(t, bob.ID, stored.UserID)

	// re-stating the current owner alongside other changes still works
	resp = doRequest(t, app, http.MethodPatch,
		"/api/v1/entitlements/"+ent.UUID.String(), authHeader(t, staff),
		map[string]string{"username": "bob", "mode": "credit"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, db.First(&stored, ent.ID).Error)
	require.Equal(t, "credit", stored.Mode)
}

func TestEntitlementLifecycle(t *testing.T) {
	app, db, _ := setupTest(t)
	staff := createUser(t, db, "admin", true)
	bob := createUser(t, db, "Bob", false)
	courseUUID := uuid.NewString()

	resp := doRequest(t, app, http.MethodPost, "/api/v1/entitlements/", authHeader(t, staff),
		map[string]string{
			"username":     "Bob",
			"course_uuid":  courseUUID,
			"mode":         "verified",
			"order_number": "EDX-1001",
		})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	results := decodeResults(t, resp)
	require.Len(t, results, 1)
	require.Nil(t, results[0]["enrollment_course_run_key"])
	require.Nil(t, results[0]["expired_at"])
	entUUID := results[0]["uuid"].(string)

	// redeem against a concrete run
	enrollment := models.CourseEnrollment{
		UserID:       bob.ID,
		CourseRunKey: "course-v1:TestX+TS101+T1",
		Mode:         "verified",
		IsActive:     true,
	}
	require.NoError(t, db.Create(&enrollment).Error)
	var ent models.CourseEntitlement
	require.NoError(t, db.Where("uuid = ?", entUUID).First(&ent).Error)
	require.NoError(t, ent.LinkEnrollment(db, &enrollment))

	resp = doRequest(t, app, http.MethodGet, "/api/v1/entitlements/"+entUUID, authHeader(t, staff), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results = decodeResults(t, resp)
	require.Equal(t, "course-v1:TestX+TS101+T1", results[0]["enrollment_course_run_key"])

	// revoke
	resp = doRequest(t, app, http.MethodDelete, "/api/v1/entitlements/"+entUUID, authHeader(t, staff), nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = doRequest(t, app, http.MethodGet, "/api/v1/entitlements/"+entUUID, authHeader(t, staff), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	results = decodeResults(t, resp)
	require.NotNil(t, results[0]["expired_at"])
	require.Nil(t, results[0]["enrollment_course_run_key"])
}
