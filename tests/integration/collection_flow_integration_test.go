//go:build integration

package integration_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"testing"
	"time"
)

func baseURL() string {
	if v := os.Getenv("EQUIP_TEST_BASE_URL"); strings.TrimSpace(v) != "" {
		return strings.TrimRight(v, "/")
	}
	return "http://127.0.0.1:18080"
}

func adminCredentials() (string, string) {
	user := os.Getenv("EQUIP_TEST_ADMIN_USER")
	if user == "" {
		user = "admin"
	}
	pass := os.Getenv("EQUIP_TEST_ADMIN_PASSWORD")
	if pass == "" {
		pass = "admin"
	}
	return user, pass
}

// Exercises the whole collection loop against a running server: login,
// define a register, submit records, save a report, run it over the fiscal
// week, and pull the CSV export.
func TestCollectionJourneyIntegration(t *testing.T) {
	client := &http.Client{Timeout: 5 * time.Second}
	base := baseURL()
	adminUser, adminPass := adminCredentials()

	var loginResp struct {
		Token string `json:"token"`
	}
	doPost(t, client, base+"/api/auth/login", "", map[string]string{
		"username": adminUser,
		"password": adminPass,
	}, &loginResp)
	token := loginResp.Token
	if token == "" {
		t.Fatalf("login did not return token")
	}

	registerName := fmt.Sprintf("ANC Visits %d", time.Now().UnixNano())
	var registerResp struct {
		ID string `json:"id"`
	}
	doPost(t, client, base+"/api/registers", token, map[string]any{
		"name": registerName,
		"fields": []map[string]any{
			{"label": "Visit Date", "type": "date", "required": true},
			{"label": "Status", "type": "select_one", "choices": []string{"Pregnant", "Breastfeeding"}},
		},
	}, &registerResp)
	if registerResp.ID == "" {
		t.Fatalf("expected register id in response")
	}

	today := time.Now().UTC().Format("2006-01-02")
	for _, status := range []string{"Pregnant", "Pregnant", "Breastfeeding"} {
		var recordResp struct {
			ID string `json:"id"`
		}
		doPost(t, client, base+"/api/registers/"+registerResp.ID+"/records", token, map[string]any{
			"Visit Date": today,
			"Status":     status,
		}, &recordResp)
		if recordResp.ID == "" {
			t.Fatalf("expected record id in response")
		}
	}

	var reportResp struct {
		ID string `json:"id"`
	}
	doPost(t, client, base+"/api/reports", token, map[string]any{
		"name":        "Weekly ANC Summary",
		"register_id": registerResp.ID,
		"metrics": []map[string]any{
			{"name": "Pregnant clients", "expression": `{Status} = "Pregnant"`, "active": true},
			{"name": "All visits", "expression": "true", "active": true},
		},
	}, &reportResp)
	if reportResp.ID == "" {
		t.Fatalf("expected report id in response")
	}

	var runResp struct {
		Totals map[string]float64 `json:"totals"`
	}
	doPost(t, client, base+"/api/reports/"+reportResp.ID+"/run", token, map[string]any{
		"date": today,
	}, &runResp)
	if got := runResp.Totals["Pregnant clients"]; got != 2 {
		t.Fatalf("Pregnant clients = %v, want 2", got)
	}
	if got := runResp.Totals["All visits"]; got != 3 {
		t.Fatalf("All visits = %v, want 3", got)
	}

	exportURL := fmt.Sprintf("%s/api/reports/%s/export.csv?date=%s", base, reportResp.ID, today)
	req, err := http.NewRequest(http.MethodGet, exportURL, nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("export request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("export status %d body %s", resp.StatusCode, string(body))
	}
	csvData, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read export data: %v", err)
	}
	if !strings.Contains(string(csvData), "Pregnant clients,2") {
		t.Fatalf("export csv missing metric row; csv=%s", string(csvData))
	}
}

func doPost(t *testing.T, client *http.Client, url, token string, body any, out any) {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if strings.TrimSpace(token) != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("http post %s failed: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		bodyBytes, _ := io.ReadAll(resp.Body)
		t.Fatalf("unexpected status %d for %s: %s", resp.StatusCode, url, string(bodyBytes))
	}
	if out != nil {
		decoder := json.NewDecoder(resp.Body)
		if err := decoder.Decode(out); err != nil && err != io.EOF {
			t.Fatalf("decode response from %s: %v", url, err)
		}
	}
}
