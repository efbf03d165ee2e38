// Command smoke-ingest drives a running sitewatch-api through the position
// ingestion path end to end: site setup, a safe sample, an approved FIRE
// report and the resulting DANGER sample.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"time"
)

type client struct {
	base string
	http *http.Client
}

func (c *client) call(method, path, token string, body any, out any) (int, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		if err != nil {
			return 0, err
		}
	}
	req, err := http.NewRequest(method, c.base+path, bytes.NewReader(payload))
	if err != nil {
		return 0, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode %s %s: %w", method, path, err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) token(userID, role string) string {
	var out struct {
		Token string `json:"token"`
	}
	code, err := c.call(http.MethodPost, "/v1/auth/token", "", map[string]any{
		"user_id":    userID,
		"project_id": "smoke-project",
		"role":       role,
	}, &out)
	if err != nil || code != http.StatusOK {
		log.Fatalf("mint %s token: code=%d err=%v", role, code, err)
	}
	return out.Token
}

func main() {
	base := os.Getenv("SITEWATCH_SMOKE_URL")
	if base == "" {
		base = "http://localhost:8080"
	}
	c := &client{base: base, http: &http.Client{Timeout: 10 * time.Second}}

	manager := c.token("smoke-manager", "manager")
	worker := c.token("smoke-worker", "worker")

	var created struct {
		ID        string  `json:"id"`
		AnchorLat float64 `json:"anchor_lat"`
		AnchorLng float64 `json:"anchor_lng"`
	}
	code, err := c.call(http.MethodPost, "/v1/sites", manager, map[string]any{
		"name":       fmt.Sprintf("smoke-site-%d", time.Now().Unix()),
		"anchor_lat": 37.5665,
		"anchor_lng": 126.978,
		"rows":       3,
		"cols":       3,
		"spacing_m":  20,
	}, &created)
	if err != nil || code != http.StatusCreated {
		log.Fatalf("create site: code=%d err=%v", code, err)
	}

	var zones struct {
		Zones []struct {
			ID  string `json:"id"`
			Row int    `json:"row"`
			Col int    `json:"col"`
		} `json:"zones"`
	}
	code, err = c.call(http.MethodPost, "/v1/sites/"+created.ID+"/zones", manager, map[string]any{}, &zones)
	if err != nil || code != http.StatusCreated {
		log.Fatalf("generate zones: code=%d err=%v", code, err)
	}
	if len(zones.Zones) != 9 {
		log.Fatalf("expected 9 zones, got %d", len(zones.Zones))
	}
	var anchorZone string
	for _, z := range zones.Zones {
		if z.Row == 0 && z.Col == 0 {
			anchorZone = z.ID
		}
	}

	position := map[string]any{
		"site_id": created.ID,
		"mode":    "GPS",
		"lat":     created.AnchorLat,
		"lng":     created.AnchorLng,
	}
	var ack struct {
		Position struct {
			ZoneID string `json:"zone_id"`
			Alert  string `json:"alert_level"`
		} `json:"position"`
	}
	code, err = c.call(http.MethodPost, "/v1/positions", worker, position, &ack)
	if err != nil || code != http.StatusOK {
		log.Fatalf("submit position: code=%d err=%v", code, err)
	}
	if ack.Position.ZoneID != anchorZone || ack.Position.Alert != "SAFE" {
		log.Fatalf("baseline sample: zone=%s alert=%s", ack.Position.ZoneID, ack.Position.Alert)
	}

	var report struct {
		ID string `json:"id"`
	}
	code, err = c.call(http.MethodPost, "/v1/danger-reports", worker, map[string]any{
		"zone_id":     anchorZone,
		"risk_type":   "FIRE",
		"description": "smoke drill: fire at anchor cell",
	}, &report)
	if err != nil || code != http.StatusCreated {
		log.Fatalf("create report: code=%d err=%v", code, err)
	}
	code, err = c.call(http.MethodPost, "/v1/danger-reports/"+report.ID+"/review", manager, map[string]any{
		"status": "APPROVED",
	}, nil)
	if err != nil || code != http.StatusOK {
		log.Fatalf("approve report: code=%d err=%v", code, err)
	}

	code, err = c.call(http.MethodPost, "/v1/positions", worker, position, &ack)
	if err != nil || code != http.StatusOK {
		log.Fatalf("submit danger position: code=%d err=%v", code, err)
	}
	if ack.Position.Alert != "DANGER" {
		log.Fatalf("expected DANGER after approval, got %s", ack.Position.Alert)
	}

	fmt.Printf("✅ ingestion smoke test passed: site=%s zone=%s\n", created.ID, anchorZone)
}
