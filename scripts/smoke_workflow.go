// smoke_workflow.go drives one ATP document through every review stage via
// the ATPFlow API and prints the progress after each decision.
//
// Usage:
//
//	go run scripts/smoke_workflow.go -api http://localhost:8700 -site JKT001 -category SW \
//	    -tokens VENDOR=tok-vendor,DOC_CONTROL=tok-dc,BO=tok-bo,SME=tok-sme,HEAD_NOC=tok-noc
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

type stage struct {
	ID           string `json:"id"`
	StageNumber  int    `json:"stage_number"`
	StageName    string `json:"stage_name"`
	RoleRequired string `json:"role_required"`
	Status       string `json:"status"`
}

type documentView struct {
	ID       string  `json:"id"`
	Code     string  `json:"code"`
	Status   string  `json:"status"`
	Stages   []stage `json:"stages"`
	Progress struct {
		Percentage int `json:"progress_percentage"`
	} `json:"progress"`
}

var client = &http.Client{Timeout: 10 * time.Second}

func call(api, token, method, path string, body, out interface{}) error {
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		r = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, api+path, r)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %d %s", method, path, resp.StatusCode, strings.TrimSpace(string(data)))
	}
	if out != nil {
		return json.Unmarshal(data, out)
	}
	return nil
}

func parseTokens(raw string) map[string]string {
	tokens := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		role, tok, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok {
			tokens[strings.ToUpper(role)] = tok
		}
	}
	return tokens
}

func main() {
	apiURL := flag.String("api", "http://localhost:8700", "ATPFlow API base URL")
	site := flag.String("site", "JKT001", "site id for the document")
	category := flag.String("category", "SW", "declared category (SW, HW, BOTH)")
	tokenList := flag.String("tokens", "", "comma separated ROLE=token pairs")
	reject := flag.Int("reject-at", 0, "reject at this stage number instead of approving")
	flag.Parse()

	tokens := parseTokens(*tokenList)
	token := func(role string) string {
		t, ok := tokens[role]
		if !ok {
			log.Fatalf("no token for role %s", role)
		}
		return t
	}
	api := strings.TrimRight(*apiURL, "/") + "/api/v1"

	var submitted struct {
		ID   string `json:"id"`
		Code string `json:"code"`
	}
	err := call(api, token("VENDOR"), "POST", "/documents", map[string]string{
		"site_id":   *site,
		"category":  *category,
		"file_name": "smoke-" + *site + ".pdf",
	}, &submitted)
	if err != nil {
		log.Fatalf("submit: %v", err)
	}
	fmt.Printf("submitted %s (%s)\n", submitted.Code, submitted.ID)

	err = call(api, token("DOC_CONTROL"), "POST", "/documents/"+submitted.ID+"/document-control",
		map[string]string{"decision": "approve"}, nil)
	if err != nil {
		log.Fatalf("document control: %v", err)
	}

	for {
		var doc documentView
		if err := call(api, token("VENDOR"), "GET", "/documents/"+submitted.ID, nil, &doc); err != nil {
			log.Fatalf("get document: %v", err)
		}
		var current *stage
		for i := range doc.Stages {
			if doc.Stages[i].Status == "pending" {
				current = &doc.Stages[i]
				break
			}
		}
		if current == nil {
			fmt.Printf("%s finished: %s at %d%%\n", doc.Code, doc.Status, doc.Progress.Percentage)
			return
		}

		decision := "approve"
		if current.StageNumber == *reject {
			decision = "reject"
		}
		var res struct {
			Status             string `json:"status"`
			ProgressPercentage int    `json:"progress_percentage"`
		}
		path := "/documents/" + submitted.ID + "/stages/" + current.ID + "/decision"
		body := map[string]interface{}{
			"decision": decision,
			"comments": "smoke test",
			"checklist": []map[string]string{
				{"section_name": "General", "description": "Document complete", "result": "pass"},
			},
		}
		if err := call(api, token(current.RoleRequired), "POST", path, body, &res); err != nil {
			log.Fatalf("decide stage %d: %v", current.StageNumber, err)
		}
		fmt.Printf("  stage %d %-40s %-8s -> %s %d%%\n", current.StageNumber, current.StageName, decision, res.Status, res.ProgressPercentage)
	}
}
