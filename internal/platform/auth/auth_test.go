package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

var testKey = []byte("test-signing-key")

func signToken(t *testing.T, claims *Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	s, err := token.SignedString(testKey)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return s
}

func doRequest(t *testing.T, mw echo.MiddlewareFunc, authHeader string) (*httptest.ResponseRecorder, Actor) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	var got Actor
	handler := mw(func(c echo.Context) error {
		got = ActorFromContext(c.Request().Context())
		return c.NoContent(http.StatusOK)
	})

	if err := handler(c); err != nil {
		e.HTTPErrorHandler(err, c)
	}
	return rec, got
}

func TestJWTMiddleware_StaffToken(t *testing.T) {
	userID := uuid.New()
	hospitalID := uuid.New()
	tok := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		HospitalID: hospitalID.String(),
		Role:       "nurse",
	})

	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	rec, actor := doRequest(t, mw, "Bearer "+tok)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !actor.IsStaff() || actor.UserID == nil || *actor.UserID != userID {
		t.Errorf("expected staff actor %s, got %+v", userID, actor)
	}
	if actor.HospitalID != hospitalID {
		t.Errorf("expected hospital %s, got %s", hospitalID, actor.HospitalID)
	}
	if actor.Role != "nurse" {
		t.Errorf("expected role nurse, got %s", actor.Role)
	}
}

func TestJWTMiddleware_PatientToken(t *testing.T) {
	patientID := uuid.New()
	tok := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   patientID.String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		HospitalID: uuid.New().String(),
		PatientID:  patientID.String(),
	})

	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	rec, actor := doRequest(t, mw, "Bearer "+tok)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !actor.IsPatient() {
		t.Errorf("expected patient actor, got %+v", actor)
	}
	if actor.IsStaff() {
		t.Error("patient actor must not also be staff")
	}
}

func TestJWTMiddleware_MissingHeader(t *testing.T) {
	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	rec, _ := doRequest(t, mw, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestJWTMiddleware_BadSignature(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{Subject: uuid.New().String()},
		HospitalID:       uuid.New().String(),
	})
	s, _ := token.SignedString([]byte("wrong-key"))

	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	rec, _ := doRequest(t, mw, "Bearer "+s)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestJWTMiddleware_MissingHospital(t *testing.T) {
	tok := signToken(t, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})

	mw := JWTMiddleware(JWTConfig{SigningKey: testKey})
	rec, _ := doRequest(t, mw, "Bearer "+tok)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for token without hospital_id, got %d", rec.Code)
	}
}

func TestDevAuthMiddleware(t *testing.T) {
	hospitalID := uuid.New()
	rec, actor := doRequest(t, DevAuthMiddleware(hospitalID), "")

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if actor.HospitalID != hospitalID {
		t.Errorf("expected dev hospital %s, got %s", hospitalID, actor.HospitalID)
	}
	if actor.Role != "admin" {
		t.Errorf("expected admin role, got %s", actor.Role)
	}
}

func TestRequireRole(t *testing.T) {
	uid := uuid.New()
	staff := Actor{UserID: &uid, HospitalID: uuid.New(), Role: "registrar"}

	e := echo.New()
	run := func(actor Actor, roles ...string) int {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req = req.WithContext(WithActor(req.Context(), actor))
		rec := httptest.NewRecorder()
		c := e.NewContext(req, rec)
		h := RequireRole(roles...)(func(c echo.Context) error {
			return c.NoContent(http.StatusOK)
		})
		if err := h(c); err != nil {
			e.HTTPErrorHandler(err, c)
		}
		return rec.Code
	}

	if code := run(staff, "registrar", "nurse"); code != http.StatusOK {
		t.Errorf("registrar should pass registrar guard, got %d", code)
	}
	if code := run(staff, "physician"); code != http.StatusForbidden {
		t.Errorf("registrar should fail physician guard, got %d", code)
	}

	admin := Actor{UserID: &uid, HospitalID: uuid.New(), Role: "admin"}
	if code := run(admin, "physician"); code != http.StatusOK {
		t.Errorf("admin should pass any guard, got %d", code)
	}

	pid := uuid.New()
	patient := Actor{PatientID: &pid, HospitalID: uuid.New()}
	if code := run(patient, "nurse"); code != http.StatusForbidden {
		t.Errorf("patient should fail staff guard, got %d", code)
	}
}
