package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"attendancesvc/internal/apperr"
	"attendancesvc/internal/attendance"
	"attendancesvc/internal/auth"
	"attendancesvc/internal/clock"
	"attendancesvc/internal/queue"
	"attendancesvc/internal/rpc"
	"attendancesvc/internal/users"
)

const (
	testKey    = "gateway-test-key"
	testIssuer = "gateway-test"
)

type response struct {
	Success    bool            `json:"success"`
	StatusCode int             `json:"statusCode"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Meta       *struct {
		Total      int `json:"total"`
		Page       int `json:"page"`
		Limit      int `json:"limit"`
		TotalPages int `json:"totalPages"`
	} `json:"meta"`
	Operation string `json:"operation"`
}

type testGateway struct {
	t         *testing.T
	router    *gin.Engine
	uploadDir string
}

func newGateway(t *testing.T, api AttendanceAPI) *testGateway {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dir := t.TempDir()
	photos, err := NewLocalPhotos(dir, 1<<10)
	if err != nil {
		t.Fatal(err)
	}
	r := NewRouter(Options{
		Attendance:     api,
		Photos:         photos,
		Log:            zap.NewNop(),
		JWTSigningKey:  testKey,
		JWTIssuer:      testIssuer,
		UploadDir:      dir,
		MaxUploadBytes: 1 << 10,
	})
	return &testGateway{t: t, router: r, uploadDir: dir}
}

// serviceAPI runs the attendance service behind an in-memory RPC channel.
func serviceAPI(t *testing.T) AttendanceAPI {
	t.Helper()
	q := queue.NewInMemory(16)
	svc := attendance.NewService(attendance.NewMemoryStore(), users.NewStatic("u1", "admin"), nil,
		clock.NewManual(time.Date(2024, 3, 4, 8, 0, 0, 0, time.UTC)), nil)
	srv := rpc.NewServer("attendance", q, q, zap.NewNop(), rpc.ServerOptions{Workers: 2, PopWait: 50 * time.Millisecond})
	attendance.Register(srv, svc)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- srv.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = q.Close()
	})
	<-srv.Ready()
	return attendance.NewClient(rpc.NewClient(rpc.NewQueueTransport(q, q, "attendance"), rpc.WithTimeout(2*time.Second)))
}

func token(t *testing.T, sub, role string) string {
	t.Helper()
	tok, err := auth.Issue(sub, sub+"@example.com", role, testIssuer, testKey, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	return tok.AccessToken
}

func (g *testGateway) do(req *http.Request, bearer string) (int, response) {
	g.t.Helper()
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}
	w := httptest.NewRecorder()
	g.router.ServeHTTP(w, req)
	var body response
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		g.t.Fatalf("decode %s: %v", w.Body.String(), err)
	}
	return w.Code, body
}

func (g *testGateway) get(path, bearer string) (int, response) {
	return g.do(httptest.NewRequest(http.MethodGet, path, nil), bearer)
}

func (g *testGateway) checkIn(bearer, contentType string, photo []byte) (int, response) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := textproto.MIMEHeader{}
	h.Set("Content-Disposition", `form-data; name="photo"; filename="selfie.JPG"`)
	h.Set("Content-Type", contentType)
	part, err := w.CreatePart(h)
	if err != nil {
		g.t.Fatal(err)
	}
	part.Write(photo)
	w.Close()

	req := httptest.NewRequest(http.MethodPost, "/attendance/check-in", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	return g.do(req, bearer)
}

func (g *testGateway) uploads() []string {
	entries, err := os.ReadDir(g.uploadDir)
	if err != nil {
		g.t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	return names
}

func TestGateway_AttendanceFlow(t *testing.T) {
	g := newGateway(t, serviceAPI(t))
	u1 := token(t, "u1", auth.RoleEmployee)

	code, body := g.get("/attendance/status", u1)
	if code != http.StatusOK || !strings.Contains(string(body.Data), `"NOT_CHECKED_IN"`) {
		t.Fatalf("initial status %d %s", code, body.Data)
	}

	code, body = g.checkIn(u1, "image/jpeg", []byte("jpeg bytes"))
	if code != http.StatusCreated || !body.Success {
		t.Fatalf("check-in %d %+v", code, body)
	}
	var rec struct {
		ID           string     `json:"id"`
		PhotoURL     string     `json:"photoUrl"`
		CheckOutTime *time.Time `json:"checkOutTime"`
	}
	if err := json.Unmarshal(body.Data, &rec); err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(rec.PhotoURL, "/public/uploads/") || !strings.HasSuffix(rec.PhotoURL, ".jpg") {
		t.Errorf("photoUrl = %q", rec.PhotoURL)
	}
	if rec.CheckOutTime != nil {
		t.Error("new session has a check-out time")
	}
	if files := g.uploads(); len(files) != 1 {
		t.Fatalf("uploads = %v", files)
	}

	code, body = g.checkIn(u1, "image/png", []byte("png bytes"))
	if code != http.StatusConflict || body.Success || body.Message == "" {
		t.Errorf("second check-in %d %+v", code, body)
	}
	if files := g.uploads(); len(files) != 1 {
		t.Errorf("rejected check-in left its photo behind: %v", files)
	}

	code, body = g.get("/attendance/status", u1)
	if code != http.StatusOK || !strings.Contains(string(body.Data), `"CHECKED_IN"`) {
		t.Errorf("status after check-in %d %s", code, body.Data)
	}

	code, body = g.do(httptest.NewRequest(http.MethodPost, "/attendance/check-out", nil), u1)
	if code != http.StatusCreated {
		t.Fatalf("check-out %d %+v", code, body)
	}

	code, body = g.get("/attendance/my?limit=5", u1)
	if code != http.StatusOK || body.Meta == nil {
		t.Fatalf("my %d %+v", code, body)
	}
	if body.Meta.Total != 1 || body.Meta.Limit != 5 || body.Meta.TotalPages != 1 {
		t.Errorf("meta = %+v", *body.Meta)
	}
}

func TestGateway_Auth(t *testing.T) {
	g := newGateway(t, serviceAPI(t))
	employee := token(t, "u1", auth.RoleEmployee)
	admin := token(t, "admin", auth.RoleAdmin)

	tests := []struct {
		name   string
		path   string
		bearer string
		want   int
	}{
		{"anonymous status", "/attendance/status", "", http.StatusUnauthorized},
		{"employee lists all", "/attendance", employee, http.StatusForbidden},
		{"admin lists all", "/attendance?userId=u1", admin, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, body := g.get(tt.path, tt.bearer)
			if code != tt.want || body.StatusCode != tt.want {
				t.Errorf("status = %d (body %d), want %d", code, body.StatusCode, tt.want)
			}
		})
	}
}

func TestGateway_PhotoValidation(t *testing.T) {
	g := newGateway(t, serviceAPI(t))
	u1 := token(t, "u1", auth.RoleEmployee)

	code, body := g.checkIn(u1, "application/pdf", []byte("%PDF"))
	if code != http.StatusBadRequest || body.Message != "Only image files are allowed!" {
		t.Errorf("pdf upload %d %q", code, body.Message)
	}

	code, body = g.checkIn(u1, "image/jpeg", bytes.Repeat([]byte("x"), 2<<10))
	if code != http.StatusRequestEntityTooLarge {
		t.Errorf("oversized upload %d %q", code, body.Message)
	}

	code, _ = g.do(httptest.NewRequest(http.MethodPost, "/attendance/check-in", nil), u1)
	if code != http.StatusBadRequest {
		t.Errorf("check-in without photo %d", code)
	}
	if files := g.uploads(); len(files) != 0 {
		t.Errorf("rejected uploads stored: %v", files)
	}
}

func TestGateway_ListValidation(t *testing.T) {
	g := newGateway(t, serviceAPI(t))
	u1 := token(t, "u1", auth.RoleEmployee)

	for _, path := range []string{
		"/attendance/my?page=0",
		"/attendance/my?limit=abc",
		"/attendance/my?startDate=03-04-2024",
		"/attendance/my?startDate=2024-03-05&endDate=2024-03-01",
		"/attendance/my?page=92233720368547759&limit=100",
	} {
		if code, _ := g.get(path, u1); code != http.StatusBadRequest {
			t.Errorf("%s -> %d, want 400", path, code)
		}
	}
}

func TestGateway_TransportFailures(t *testing.T) {
	blocking := rpc.TransportFunc(func(ctx context.Context, _ rpc.Request) (rpc.Response, error) {
		<-ctx.Done()
		return rpc.Response{}, ctx.Err()
	})
	absent := queue.NewInMemory(1)
	t.Cleanup(func() { _ = absent.Close() })

	tests := []struct {
		name      string
		transport rpc.Transport
		want      int
		message   string
	}{
		{"timeout", blocking, http.StatusGatewayTimeout, "Service timeout after 50ms"},
		{"unavailable", rpc.NewQueueTransport(absent, absent, "attendance"), http.StatusServiceUnavailable, "Service is unavailable"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := attendance.NewClient(rpc.NewClient(tt.transport, rpc.WithTimeout(50*time.Millisecond)))
			g := newGateway(t, api)
			code, body := g.get("/attendance/status", token(t, "u1", auth.RoleEmployee))
			if code != tt.want || body.Message != tt.message {
				t.Errorf("got %d %q, want %d %q", code, body.Message, tt.want, tt.message)
			}
			if body.Operation != attendance.OpGetStatus {
				t.Errorf("operation = %q", body.Operation)
			}
		})
	}
}

// brokenAPI fails every call with an unclassified error.
type brokenAPI struct{ AttendanceAPI }

func (brokenAPI) Status(context.Context, string) (attendance.StatusResult, error) {
	return attendance.StatusResult{}, errors.New("pq: connection reset by peer at 10.0.0.3")
}

func TestGateway_UnknownErrorsDoNotLeak(t *testing.T) {
	g := newGateway(t, brokenAPI{})
	code, body := g.get("/attendance/status", token(t, "u1", auth.RoleEmployee))
	if code != http.StatusInternalServerError || body.Message != "Internal server error" {
		t.Errorf("got %d %q", code, body.Message)
	}
}

// checkInFails rejects every check-in with err.
type checkInFails struct {
	AttendanceAPI
	err error
}

func (f checkInFails) CheckIn(context.Context, string, string) (attendance.Record, error) {
	return attendance.Record{}, f.err
}

func TestGateway_CheckInPhotoCleanup(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		want     int
		keepsPic bool
	}{
		{"conflict", apperr.Conflict("You have already checked in today and have not checked out"), http.StatusConflict, false},
		{"unknown user", apperr.NotFound("User not found"), http.StatusNotFound, false},
		{"bad input", apperr.InvalidArgument("photoUrl is required"), http.StatusBadRequest, false},
		{"service down", &apperr.Error{Kind: apperr.KindUnavailable, Op: attendance.OpCheckIn, Message: "Service is unavailable"}, http.StatusServiceUnavailable, false},
		{"timeout", &apperr.Error{Kind: apperr.KindTimeout, Op: attendance.OpCheckIn, Message: "Service timeout after 50ms"}, http.StatusGatewayTimeout, true},
		{"unclassified", errors.New("reply mailbox vanished"), http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := newGateway(t, checkInFails{err: tt.err})
			code, _ := g.checkIn(token(t, "u1", auth.RoleEmployee), "image/jpeg", []byte("jpeg bytes"))
			if code != tt.want {
				t.Errorf("status = %d, want %d", code, tt.want)
			}
			files := g.uploads()
			if tt.keepsPic && len(files) != 1 {
				t.Errorf("photo of a possibly recorded check-in removed: %v", files)
			}
			if !tt.keepsPic && len(files) != 0 {
				t.Errorf("photo of a rejected check-in kept: %v", files)
			}
		})
	}
}

func TestGateway_Healthz(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Options{
		Health: map[string]HealthCheck{
			"redis": func(context.Context) bool { return true },
			"db":    func(context.Context) bool { return false },
		},
	})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if w.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d", w.Code)
	}
	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	if body["redis"] != true || body["db"] != false {
		t.Errorf("body = %v", body)
	}
}

func TestPublicPhotoURL(t *testing.T) {
	tests := map[string]string{
		"uploads/a.jpg":          "/public/uploads/a.jpg",
		"https://cdn/x/a.jpg":    "https://cdn/x/a.jpg",
		"":                       "",
		"/public/uploads/b.webp": "/public/uploads/b.webp",
	}
	for in, want := range tests {
		if got := publicPhotoURL(in); got != want {
			t.Errorf("publicPhotoURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func ExampleNewRouter() {
	gin.SetMode(gin.TestMode)
	r := NewRouter(Options{})
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	fmt.Println(w.Code, w.Body.String())
	// Output: 200 {"status":"ok"}
}
