package server

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"studyshare/internal/app"
	"studyshare/pkg/auth"
	"studyshare/pkg/domain"
	"studyshare/pkg/storage"
	"studyshare/pkg/store"
)

func newTestServer(t *testing.T, maxUploadBytes int64) *httptest.Server {
	t.Helper()
	blobs, err := storage.NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("new file store: %v", err)
	}
	tokens, err := auth.NewTokenIssuer("test-secret", time.Hour)
	if err != nil {
		t.Fatalf("new token issuer: %v", err)
	}
	hash, err := auth.HashPassword("admin-pass")
	if err != nil {
		t.Fatalf("hash admin password: %v", err)
	}
	appCore, err := app.New(app.Options{
		Store:             store.NewMemoryStore(),
		Blobs:             blobs,
		Tokens:            tokens,
		AdminPasswordHash: hash,
		DevEchoOTP:        true,
	})
	if err != nil {
		t.Fatalf("new app: %v", err)
	}
	srv, err := New(Config{App: appCore, MaxUploadBytes: maxUploadBytes})
	if err != nil {
		t.Fatalf("new server: %v", err)
	}
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return ts
}

func multipartBody(t *testing.T, fields map[string]string, files map[string][2]string) (*bytes.Buffer, string) {
	t.Helper()
	buf := &bytes.Buffer{}
	wr := multipart.NewWriter(buf)
	for k, v := range fields {
		if err := wr.WriteField(k, v); err != nil {
			t.Fatalf("write field %s: %v", k, err)
		}
	}
	for field, nameAndContent := range files {
		fw, err := wr.CreateFormFile(field, nameAndContent[0])
		if err != nil {
			t.Fatalf("create form file %s: %v", field, err)
		}
		if _, err := fw.Write([]byte(nameAndContent[1])); err != nil {
			t.Fatalf("write form file %s: %v", field, err)
		}
	}
	if err := wr.Close(); err != nil {
		t.Fatalf("close multipart writer: %v", err)
	}
	return buf, wr.FormDataContentType()
}

func projectFields() map[string]string {
	return map[string]string{
		"courseCode":   "cs101",
		"subjectName":  "Data Structures",
		"professor":    "Dr. Rao",
		"semester":     "4",
		"description":  "AVL tree visualizer",
		"techStack":    "Go, HTMX",
		"uploaderName": "Asha",
		"uploaderRoll": "21bce123",
	}
}

func doJSON(t *testing.T, method, url, token string, payload any) *http.Response {
	t.Helper()
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, dst any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(dst); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func createProject(t *testing.T, ts *httptest.Server) domain.Project {
	t.Helper()
	body, contentType := multipartBody(t, projectFields(), map[string][2]string{
		"projectFile": {"demo.zip", "zip bytes"},
	})
	resp, err := http.Post(ts.URL+"/api/projects", contentType, body)
	if err != nil {
		t.Fatalf("post project: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("post project status = %d, body %s", resp.StatusCode, raw)
	}
	var p domain.Project
	decodeBody(t, resp, &p)
	return p
}

func TestHealthz(t *testing.T) {
	ts := newTestServer(t, 0)
	resp, err := http.Get(ts.URL + "/healthz")
	if err != nil {
		t.Fatalf("get healthz: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestProjectUploadFilterAndDownload(t *testing.T) {
	ts := newTestServer(t, 0)
	p := createProject(t, ts)
	if p.CourseCode != "CS101" {
		t.Fatalf("courseCode = %q, want CS101", p.CourseCode)
	}

	// Lowercase course filter still matches the uppercased record.
	var page app.ProjectPage
	resp, err := http.Get(ts.URL + "/api/projects?course=cs101")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	decodeBody(t, resp, &page)
	if len(page.Items) != 1 || page.Items[0].ID != p.ID {
		t.Fatalf("filtered items = %v", page.Items)
	}

	// Download the archive and check the counter moved.
	resp, err = http.Get(ts.URL + "/api/download/project/" + p.ID)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("download status = %d", resp.StatusCode)
	}
	if string(raw) != "zip bytes" {
		t.Fatalf("download body = %q", raw)
	}
	if cd := resp.Header.Get("Content-Disposition"); !strings.Contains(cd, "attachment") {
		t.Fatalf("content-disposition = %q", cd)
	}

	var detail struct {
		Project domain.Project `json:"project"`
	}
	resp, err = http.Get(ts.URL + "/api/projects/" + p.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	decodeBody(t, resp, &detail)
	if detail.Project.Downloads != 1 {
		t.Fatalf("downloads = %d, want 1", detail.Project.Downloads)
	}

	// Missing slots and unknown projects are JSON 404s.
	resp, err = http.Get(ts.URL + "/api/download/report/" + p.ID)
	if err != nil {
		t.Fatalf("download report: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing report status = %d, want 404", resp.StatusCode)
	}
}

func TestVerifyEndpointIncrementsExactlyOncePerCall(t *testing.T) {
	ts := newTestServer(t, 0)
	p := createProject(t, ts)

	for i := 0; i < 2; i++ {
		resp := doJSON(t, http.MethodPost, ts.URL+"/api/projects/"+p.ID+"/verify", "", map[string]any{
			"userName": "Asha",
			"worked":   true,
		})
		resp.Body.Close()
		if resp.StatusCode != http.StatusCreated {
			t.Fatalf("verify status = %d, want 201", resp.StatusCode)
		}
	}
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/projects/"+p.ID+"/verify", "", map[string]any{
		"userName": "Ben",
		"worked":   false,
		"comment":  "needs env file",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("verify status = %d, want 201", resp.StatusCode)
	}

	var detail struct {
		Project       domain.Project        `json:"project"`
		Verifications []domain.Verification `json:"verifications"`
	}
	getResp, err := http.Get(ts.URL + "/api/projects/" + p.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	decodeBody(t, getResp, &detail)
	if detail.Project.VerifiedCount != 2 {
		t.Fatalf("verifiedCount = %d, want 2", detail.Project.VerifiedCount)
	}
	if len(detail.Verifications) != 3 {
		t.Fatalf("verifications = %d, want 3", len(detail.Verifications))
	}
}

func TestUploadTooLargeReturns413JSON(t *testing.T) {
	ts := newTestServer(t, 1024)
	body, contentType := multipartBody(t, projectFields(), map[string][2]string{
		"projectFile": {"demo.zip", strings.Repeat("x", 4096)},
	})
	resp, err := http.Post(ts.URL+"/api/projects", contentType, body)
	if err != nil {
		t.Fatalf("post: %v", err)
	}
	if resp.StatusCode != http.StatusRequestEntityTooLarge {
		t.Fatalf("status = %d, want 413", resp.StatusCode)
	}
	var errBody struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	decodeBody(t, resp, &errBody)
	if errBody.Code != "UPLOAD_TOO_LARGE" {
		t.Fatalf("code = %q", errBody.Code)
	}
}

func TestNoteUploadChaptersAndDownload(t *testing.T) {
	ts := newTestServer(t, 0)
	body, contentType := multipartBody(t, map[string]string{
		"courseCode":   "cs101",
		"subjectName":  "Data Structures",
		"unitNumber":   "2",
		"title":        "Trees and heaps",
		"uploaderName": "Asha",
		"uploaderRoll": "21bce123",
	}, map[string][2]string{
		"chapter_1": {"ch1.txt", "notes one"},
		"chapter_3": {"ch3.txt", "notes three"},
	})
	resp, err := http.Post(ts.URL+"/api/notes", contentType, body)
	if err != nil {
		t.Fatalf("post note: %v", err)
	}
	if resp.StatusCode != http.StatusCreated {
		raw, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("post note status = %d, body %s", resp.StatusCode, raw)
	}
	var n domain.Note
	decodeBody(t, resp, &n)
	if len(n.Attachments) != 2 {
		t.Fatalf("attachments = %d, want 2", len(n.Attachments))
	}

	resp, err = http.Get(ts.URL + "/api/download/note/" + n.ID + "?chapter=3")
	if err != nil {
		t.Fatalf("download chapter: %v", err)
	}
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK || string(raw) != "notes three" {
		t.Fatalf("chapter download status = %d, body %q", resp.StatusCode, raw)
	}

	resp, err = http.Get(ts.URL + "/api/download/note/" + n.ID + "?chapter=2")
	if err != nil {
		t.Fatalf("download missing chapter: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing chapter status = %d, want 404", resp.StatusCode)
	}
}

func TestAdminLoginAndGatedRoutes(t *testing.T) {
	ts := newTestServer(t, 0)
	p := createProject(t, ts)

	// Wrong password gets no token.
	resp := doJSON(t, http.MethodPost, ts.URL+"/api/admin/login", "", map[string]string{"password": "wrong"})
	raw, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("wrong password status = %d, want 401", resp.StatusCode)
	}
	if strings.Contains(string(raw), `"token"`) {
		t.Fatalf("wrong password leaked a token: %s", raw)
	}

	// Gated route without a token.
	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/admin/projects/"+p.ID, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete without token: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("no token status = %d, want 401", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/admin/login", "", map[string]string{"password": "admin-pass"})
	var login struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &login)
	if login.Token == "" {
		t.Fatalf("expected admin token")
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/admin/projects/"+p.ID+"/feedback", login.Token, map[string]string{"feedback": "add a README"})
	var updated domain.Project
	decodeBody(t, resp, &updated)
	if updated.AdminFeedback != "add a README" {
		t.Fatalf("feedback = %q", updated.AdminFeedback)
	}

	resp = doJSON(t, http.MethodDelete, ts.URL+"/api/admin/projects/"+p.ID, login.Token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("admin delete status = %d, want 200", resp.StatusCode)
	}
	getResp, err := http.Get(ts.URL + "/api/projects/" + p.ID)
	if err != nil {
		t.Fatalf("get deleted: %v", err)
	}
	getResp.Body.Close()
	if getResp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted project status = %d, want 404", getResp.StatusCode)
	}
}

func TestStudentTokenCannotUseAdminRoutes(t *testing.T) {
	ts := newTestServer(t, 0)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/phone", "", map[string]string{"phone": "9876543210"})
	var issue app.OTPIssue
	decodeBody(t, resp, &issue)
	if issue.DevCode == "" {
		t.Fatalf("expected dev echo code")
	}
	resp = doJSON(t, http.MethodPost, ts.URL+"/api/auth/verify-otp", "", map[string]string{
		"phone": "9876543210",
		"code":  issue.DevCode,
	})
	var session struct {
		Token string `json:"token"`
	}
	decodeBody(t, resp, &session)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/admin/requests", session.Token, nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("student on admin route status = %d, want 403", resp.StatusCode)
	}
}

func TestOTPLoginProfileGateOverHTTP(t *testing.T) {
	ts := newTestServer(t, 0)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/auth/phone", "", map[string]string{"phone": "9876543210"})
	var issue app.OTPIssue
	decodeBody(t, resp, &issue)

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/auth/verify-otp", "", map[string]string{
		"phone": "9876543210",
		"code":  issue.DevCode,
	})
	var session struct {
		Token           string      `json:"token"`
		ProfileComplete bool        `json:"profileComplete"`
		User            domain.User `json:"user"`
	}
	decodeBody(t, resp, &session)
	if session.Token == "" || session.ProfileComplete {
		t.Fatalf("session = %+v, want token with incomplete profile", session)
	}

	// Uploading with an incomplete profile is blocked.
	body, contentType := multipartBody(t, projectFields(), map[string][2]string{
		"projectFile": {"demo.zip", "zip bytes"},
	})
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/projects", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	uploadResp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	uploadResp.Body.Close()
	if uploadResp.StatusCode != http.StatusForbidden {
		t.Fatalf("incomplete profile upload status = %d, want 403", uploadResp.StatusCode)
	}

	resp = doJSON(t, http.MethodPost, ts.URL+"/api/auth/complete-profile", session.Token, map[string]any{
		"displayName":    "Priya",
		"rollNumber":     "21bce999",
		"department":     "CSE",
		"graduationYear": 2026,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("complete profile status = %d, want 200", resp.StatusCode)
	}

	// Now the upload is attributed to the profile, not the form fields.
	body, contentType = multipartBody(t, projectFields(), map[string][2]string{
		"projectFile": {"demo.zip", "zip bytes"},
	})
	req, _ = http.NewRequest(http.MethodPost, ts.URL+"/api/projects", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	uploadResp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	var created domain.Project
	decodeBody(t, uploadResp, &created)
	if created.UploaderName != "Priya" || created.UploaderRoll != "21bce999" {
		t.Fatalf("uploader = %s/%s, want session identity", created.UploaderName, created.UploaderRoll)
	}

	meResp := doJSON(t, http.MethodGet, ts.URL+"/api/auth/me", session.Token, nil)
	var me struct {
		ProfileComplete bool `json:"profileComplete"`
	}
	decodeBody(t, meResp, &me)
	if !me.ProfileComplete {
		t.Fatalf("expected complete profile from /api/auth/me")
	}
}

func TestSearchEndpoint(t *testing.T) {
	ts := newTestServer(t, 0)
	createProject(t, ts)

	resp, err := http.Get(ts.URL + "/api/search?q=data+structures")
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	var result app.SearchResult
	decodeBody(t, resp, &result)
	if len(result.Projects) != 1 {
		t.Fatalf("projects = %d, want 1", len(result.Projects))
	}
}

func TestProjectRequestsFlow(t *testing.T) {
	ts := newTestServer(t, 0)

	resp := doJSON(t, http.MethodPost, ts.URL+"/api/requests", "", map[string]any{
		"courseCode":    "ee201",
		"subjectName":   "Signals",
		"semester":      5,
		"requesterName": "Ben",
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("request status = %d, want 201", resp.StatusCode)
	}

	login := doJSON(t, http.MethodPost, ts.URL+"/api/admin/login", "", map[string]string{"password": "admin-pass"})
	var adminSession struct {
		Token string `json:"token"`
	}
	decodeBody(t, login, &adminSession)

	resp = doJSON(t, http.MethodGet, ts.URL+"/api/admin/requests", adminSession.Token, nil)
	var list struct {
		Items []domain.ProjectRequest `json:"items"`
		Count int                     `json:"count"`
	}
	decodeBody(t, resp, &list)
	if list.Count != 1 || list.Items[0].CourseCode != "EE201" {
		t.Fatalf("requests = %+v", list)
	}
}

func TestUnknownRoutesAndMethods(t *testing.T) {
	ts := newTestServer(t, 0)

	resp, err := http.Get(ts.URL + "/api/projects/nope")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown project status = %d, want 404", resp.StatusCode)
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/projects", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusMethodNotAllowed {
		t.Fatalf("bad method status = %d, want 405", resp.StatusCode)
	}
}
