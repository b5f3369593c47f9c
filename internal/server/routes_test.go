package server

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func do(t *testing.T, srv *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	w := httptest.NewRecorder()
	srv.ServeHTTP(w, req)
	return w
}

func createDrink(t *testing.T, srv *Server, body string) map[string]any {
	t.Helper()
	w := do(t, srv, "POST", "/api/drinks", body)
	if w.Code != http.StatusCreated {
		t.Fatalf("create drink: status = %d, want %d; body: %s", w.Code, http.StatusCreated, w.Body.String())
	}
	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	return resp
}

func TestCreateDrinkExplicit(t *testing.T) {
	srv := testServer(t)

	resp := createDrink(t, srv, `{"name":"Espresso","amount_mg":63,"consumed_at":"2025-08-26T08:00:00Z"}`)
	if resp["name"] != "Espresso" {
		t.Errorf("name = %v, want Espresso", resp["name"])
	}
	if resp["amount_mg"] != 63.0 {
		t.Errorf("amount_mg = %v, want 63", resp["amount_mg"])
	}
	if resp["consumed_at"] != "2025-08-26T08:00:00Z" {
		t.Errorf("consumed_at = %v", resp["consumed_at"])
	}
	if resp["id"] == "" || resp["id"] == nil {
		t.Error("expected id in response")
	}
}

func TestCreateDrinkFromTemplate(t *testing.T) {
	srv := testServer(t)

	tests := []struct {
		body     string
		wantName string
		wantMg   float64
	}{
		{`{"template":"coffee"}`, "Coffee", 100},
		{`{"template":"tea","volume_ml":500}`, "Tea", 100},
		{`{"template":"energy-drink","volume_ml":100}`, "Energy Drink", 32},
		{`{"template":"coffee","name":"Flat White","volume_ml":150}`, "Flat White", 60},
		{`{"template":"coffee","amount_mg":150}`, "Coffee", 150},
	}

	for _, tt := range tests {
		resp := createDrink(t, srv, tt.body)
		if resp["name"] != tt.wantName {
			t.Errorf("%s: name = %v, want %s", tt.body, resp["name"], tt.wantName)
		}
		if resp["amount_mg"] != tt.wantMg {
			t.Errorf("%s: amount_mg = %v, want %v", tt.body, resp["amount_mg"], tt.wantMg)
		}
	}
}

func TestCreateDrinkValidation(t *testing.T) {
	srv := testServer(t)

	bad := []string{
		`not json`,
		`{}`,
		`{"name":"Coffee"}`,
		`{"name":"Coffee","amount_mg":-5}`,
		`{"name":"Coffee","amount_mg":99999}`,
		`{"template":"mate"}`,
		`{"template":"coffee","volume_ml":-1}`,
		`{"name":"Coffee","amount_mg":50,"consumed_at":"yesterday"}`,
		`{"name":"   ","amount_mg":50}`,
	}

	for _, body := range bad {
		w := do(t, srv, "POST", "/api/drinks", body)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", body, w.Code, http.StatusBadRequest)
			continue
		}
		var resp map[string]string
		json.Unmarshal(w.Body.Bytes(), &resp)
		if resp["error"] == "" {
			t.Errorf("%s: expected error message", body)
		}
	}
}

func TestCreateDrinkValidationMessage(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "POST", "/api/drinks", `{"template":"mate"}`)
	var resp map[string]string
	json.Unmarshal(w.Body.Bytes(), &resp)
	if !strings.Contains(resp["error"], "template must be one of") {
		t.Errorf("error = %q, want template list", resp["error"])
	}
}

func TestListDrinks(t *testing.T) {
	srv := testServer(t)
	createDrink(t, srv, `{"name":"Coffee","amount_mg":100,"consumed_at":"2025-08-26T08:00:00Z"}`)
	createDrink(t, srv, `{"name":"Tea","amount_mg":40,"consumed_at":"2025-08-26T10:00:00Z"}`)

	w := do(t, srv, "GET", "/api/drinks?limit=1", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Count  int         `json:"count"`
		Drinks []drinkJSON `json:"drinks"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Count != 1 || len(resp.Drinks) != 1 {
		t.Fatalf("count = %d, want 1", resp.Count)
	}
	if resp.Drinks[0].Name != "Tea" {
		t.Errorf("first drink = %s, want Tea (newest)", resp.Drinks[0].Name)
	}
	if resp.Drinks[0].Icon != "leaf" {
		t.Errorf("icon = %s, want leaf", resp.Drinks[0].Icon)
	}
}

func TestGetAndDeleteDrink(t *testing.T) {
	srv := testServer(t)
	created := createDrink(t, srv, `{"name":"Coffee","amount_mg":100}`)
	id := created["id"].(string)

	w := do(t, srv, "GET", "/api/drinks/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get: status = %d, want %d", w.Code, http.StatusOK)
	}

	w = do(t, srv, "DELETE", "/api/drinks/"+id, "")
	if w.Code != http.StatusOK {
		t.Fatalf("delete: status = %d, want %d", w.Code, http.StatusOK)
	}

	w = do(t, srv, "GET", "/api/drinks/"+id, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("get after delete: status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = do(t, srv, "DELETE", "/api/drinks/"+id, "")
	if w.Code != http.StatusNotFound {
		t.Errorf("delete twice: status = %d, want %d", w.Code, http.StatusNotFound)
	}
}

func TestDrinkStatus(t *testing.T) {
	srv := testServer(t)
	created := createDrink(t, srv, `{"name":"Coffee","amount_mg":40,"consumed_at":"2025-08-26T08:00:00Z"}`)
	id := created["id"].(string)

	w := do(t, srv, "GET", "/api/drinks/"+id+"/status?at=2025-08-26T13:00:00Z", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Status struct {
			RemainingMg float64 `json:"remaining_mg"`
			Cleared     bool    `json:"cleared"`
			ClearanceAt string  `json:"clearance_at"`
			Progress    float64 `json:"progress"`
		} `json:"status"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if math.Abs(resp.Status.RemainingMg-20) > 1e-6 {
		t.Errorf("remaining_mg = %v, want 20", resp.Status.RemainingMg)
	}
	if resp.Status.Cleared {
		t.Error("cleared = true, want false")
	}
	if !strings.HasPrefix(resp.Status.ClearanceAt, "2025-08-26T17:59:59") && !strings.HasPrefix(resp.Status.ClearanceAt, "2025-08-26T18:00:00") {
		t.Errorf("clearance_at = %s, want ~18:00", resp.Status.ClearanceAt)
	}
	if math.Abs(resp.Status.Progress-0.5) > 1e-3 {
		t.Errorf("progress = %v, want 0.5", resp.Status.Progress)
	}

	w = do(t, srv, "GET", "/api/drinks/missing/status", "")
	if w.Code != http.StatusNotFound {
		t.Errorf("missing drink: status = %d, want %d", w.Code, http.StatusNotFound)
	}

	w = do(t, srv, "GET", "/api/drinks/"+id+"/status?at=noon", "")
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad at: status = %d, want %d", w.Code, http.StatusBadRequest)
	}
}

func TestAnalytics(t *testing.T) {
	srv := testServer(t)
	createDrink(t, srv, `{"name":"Coffee","amount_mg":100,"consumed_at":"2025-08-26T08:00:00Z"}`)
	createDrink(t, srv, `{"name":"Coffee","amount_mg":80,"consumed_at":"2025-08-26T10:00:00Z"}`)
	createDrink(t, srv, `{"name":"Energy Drink","amount_mg":150,"consumed_at":"2025-08-26T14:00:00Z"}`)

	w := do(t, srv, "GET", "/api/analytics?at=2025-08-26T12:00:00Z", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["today_mg"] != 330.0 {
		t.Errorf("today_mg = %v, want 330", resp["today_mg"])
	}
	want := 100*math.Pow(0.5, 4.0/5) + 80*math.Pow(0.5, 2.0/5)
	if got, _ := resp["current_mg"].(float64); math.Abs(got-want) > 1e-6 {
		t.Errorf("current_mg = %v, want %v", resp["current_mg"], want)
	}
	if resp["clearance_at"] == nil {
		t.Error("clearance_at = null, want a timestamp")
	}
}

func TestAnalyticsTodayUsesServerZone(t *testing.T) {
	srv := testServer(t)
	srv.loc = time.FixedZone("UTC-5", -5*3600)
	// 22:00 on the 25th in the server's zone, but the 26th in UTC.
	createDrink(t, srv, `{"name":"Coffee","amount_mg":100,"consumed_at":"2025-08-26T03:00:00Z"}`)

	w := do(t, srv, "GET", "/api/analytics?at=2025-08-26T12:00:00Z", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["today_mg"] != 0.0 || resp["today_drinks"] != 0.0 {
		t.Errorf("today_mg = %v, today_drinks = %v; want yesterday's drink excluded", resp["today_mg"], resp["today_drinks"])
	}
	want := 100 * math.Pow(0.5, 9.0/5)
	if got, _ := resp["current_mg"].(float64); math.Abs(got-want) > 1e-6 {
		t.Errorf("current_mg = %v, want %v", resp["current_mg"], want)
	}
}

func TestAnalyticsEmpty(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "GET", "/api/analytics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]any
	json.Unmarshal(w.Body.Bytes(), &resp)
	if resp["today_mg"] != 0.0 || resp["current_mg"] != 0.0 {
		t.Errorf("analytics = %v, want zeros", resp)
	}
	if v, ok := resp["clearance_at"]; !ok || v != nil {
		t.Errorf("clearance_at = %v, want explicit null", v)
	}
}

func TestTimeline(t *testing.T) {
	srv := testServer(t)
	createDrink(t, srv, `{"name":"Coffee","amount_mg":200,"consumed_at":"2025-08-26T08:00:00Z"}`)

	w := do(t, srv, "GET", "/api/timeline?from=2025-08-26T08:00:00Z&to=2025-08-26T13:00:00Z&step=1h", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusOK, w.Body.String())
	}

	var resp struct {
		Samples []struct {
			LevelMg float64 `json:"level_mg"`
		} `json:"samples"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Samples) != 6 {
		t.Fatalf("got %d samples, want 6", len(resp.Samples))
	}
	if resp.Samples[0].LevelMg != 200 {
		t.Errorf("first sample = %v, want 200", resp.Samples[0].LevelMg)
	}
	if math.Abs(resp.Samples[5].LevelMg-100) > 1e-6 {
		t.Errorf("last sample = %v, want ~100", resp.Samples[5].LevelMg)
	}
}

func TestTimelineDefaultsToToday(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "GET", "/api/timeline", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Samples []any `json:"samples"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	// 00:00 through 24:00 inclusive at 15 minute steps
	if len(resp.Samples) != 97 {
		t.Errorf("got %d samples, want 97", len(resp.Samples))
	}
}

func TestTimelineBadParams(t *testing.T) {
	srv := testServer(t)

	paths := []string{
		"/api/timeline?step=soon",
		"/api/timeline?step=0s",
		"/api/timeline?from=2025-08-26T13:00:00Z&to=2025-08-26T08:00:00Z",
		"/api/timeline?from=tomorrow",
	}
	for _, p := range paths {
		w := do(t, srv, "GET", p, "")
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want %d", p, w.Code, http.StatusBadRequest)
		}
	}
}

func TestTemplates(t *testing.T) {
	srv := testServer(t)

	w := do(t, srv, "GET", "/api/templates", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp struct {
		Templates []struct {
			Name string `json:"name"`
		} `json:"templates"`
		VolumeOptions []float64 `json:"volume_options"`
	}
	json.Unmarshal(w.Body.Bytes(), &resp)
	if len(resp.Templates) != 3 {
		t.Errorf("got %d templates, want 3", len(resp.Templates))
	}
	if len(resp.VolumeOptions) != 8 {
		t.Errorf("got %d volume options, want 8", len(resp.VolumeOptions))
	}
}
