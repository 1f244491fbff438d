package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"sdm-elearning-service/internal/domain"
)

// Sheet names served by the Apps Script endpoint.
const (
	sheetModules      = "Modules"
	sheetQuizzes      = "Quizzes"
	sheetModuleStatus = "ModuleStatus"
)

// maxQuizQuestions caps the number of questions attached to one module.
const maxQuizQuestions = 5

// Source is the full content-source contract: catalog reads plus the two
// fire-and-forget writes (score export, activation toggle).
type Source interface {
	FetchCatalog(ctx context.Context) ([]domain.Module, error)
	ExportScore(ctx context.Context, profile domain.UserProfile, entry domain.ScoreEntry) error
	UpdateModuleStatus(ctx context.Context, moduleID string, active bool) error
}

// Client talks to the spreadsheet-backed HTTP endpoint. Row field names are
// case/style-inconsistent across sheets, so every field is normalized once at
// ingestion; downstream code only sees the canonical domain schema.
type Client struct {
	url  string
	http *http.Client
}

func NewClient(url string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{url: url, http: httpClient}
}

type sheetEnvelope struct {
	Success bool             `json:"success"`
	Data    []map[string]any `json:"data"`
}

// FetchCatalog loads the three sheets concurrently and assembles the module
// catalog: module rows joined with their quiz questions and activation flags.
func (c *Client) FetchCatalog(ctx context.Context) ([]domain.Module, error) {
	if c.url == "" {
		return nil, domain.ErrEndpointNotConfigured
	}

	var moduleRows, quizRows, statusRows []map[string]any
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		moduleRows, err = c.fetchSheet(gctx, sheetModules)
		return err
	})
	g.Go(func() (err error) {
		quizRows, err = c.fetchSheet(gctx, sheetQuizzes)
		return err
	})
	g.Go(func() (err error) {
		statusRows, err = c.fetchSheet(gctx, sheetModuleStatus)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrContentUnavailable, err)
	}

	statuses := make(map[string]bool, len(statusRows))
	for _, row := range statusRows {
		id := stringField(row, "moduleId", "ModuleID", "id")
		if id == "" {
			continue
		}
		statuses[id] = boolField(row, "isActive", "IsActive")
	}

	quizzes := make(map[string][]domain.Question)
	for _, row := range quizRows {
		moduleID := stringField(row, "moduleId", "ModuleID")
		if moduleID == "" || len(quizzes[moduleID]) >= maxQuizQuestions {
			continue
		}
		quizzes[moduleID] = append(quizzes[moduleID], domain.Question{
			Question: stringField(row, "Question", "question"),
			Options: filterBlank(
				stringField(row, "OptionA", "optionA"),
				stringField(row, "OptionB", "optionB"),
				stringField(row, "OptionC", "optionC"),
				stringField(row, "OptionD", "optionD"),
			),
			Answer: stringField(row, "CorrectAnswer", "answer"),
		})
	}

	modules := make([]domain.Module, 0, len(moduleRows))
	for _, row := range moduleRows {
		id := stringField(row, "id", "ID")
		if id == "" {
			continue
		}
		day := intField(row, "Day", "day")
		if day < 1 {
			day = 1
		}
		moduleType := domain.ModuleType(stringField(row, "Type", "type"))
		if moduleType == "" {
			moduleType = domain.ModuleDailyMaterial
		}
		modules = append(modules, domain.Module{
			ID:          id,
			Title:       stringField(row, "Title", "title"),
			Description: stringField(row, "Description", "description"),
			Day:         day,
			Type:        moduleType,
			IsActive:    statuses[id],
			Material:    stringField(row, "Material", "material"),
			Quiz:        quizzes[id],
		})
	}
	return modules, nil
}

// ExportScore pushes a quiz result row to the sheet. The response is not
// verified; only transport failure is reported, and callers log it at most.
func (c *Client) ExportScore(ctx context.Context, profile domain.UserProfile, entry domain.ScoreEntry) error {
	return c.post(ctx, map[string]any{
		"action": "addResult",
		"userProfile": map[string]string{
			"name":       profile.Name,
			"externalId": profile.ExternalID,
		},
		"scoreData": entry,
	})
}

// UpdateModuleStatus records an activation toggle on the sheet, fire-and-forget.
func (c *Client) UpdateModuleStatus(ctx context.Context, moduleID string, active bool) error {
	return c.post(ctx, map[string]any{
		"action":   "updateStatus",
		"moduleId": moduleID,
		"isActive": active,
	})
}

func (c *Client) fetchSheet(ctx context.Context, name string) ([]map[string]any, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url+"?sheet="+name, nil)
	if err != nil {
		return nil, err
	}
	res, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch sheet %s: %w", name, err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch sheet %s: unexpected status %d", name, res.StatusCode)
	}
	var envelope sheetEnvelope
	if err := json.NewDecoder(res.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode sheet %s: %w", name, err)
	}
	if !envelope.Success {
		return nil, fmt.Errorf("sheet %s: endpoint reported failure", name)
	}
	return envelope.Data, nil
}

func (c *Client) post(ctx context.Context, payload map[string]any) error {
	if c.url == "" {
		return domain.ErrEndpointNotConfigured
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	// Response intentionally unread beyond draining; the endpoint's reply is
	// not part of the contract.
	_, _ = io.Copy(io.Discard, res.Body)
	return res.Body.Close()
}

// stringField returns the first non-empty value among the candidate keys,
// falling back to a case-insensitive scan over the row.
func stringField(row map[string]any, names ...string) string {
	for _, name := range names {
		if v, ok := row[name]; ok {
			if s := asString(v); s != "" {
				return s
			}
		}
	}
	for key, v := range row {
		for _, name := range names {
			if strings.EqualFold(key, name) {
				if s := asString(v); s != "" {
					return s
				}
			}
		}
	}
	return ""
}

func intField(row map[string]any, names ...string) int {
	raw := stringField(row, names...)
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0
	}
	return n
}

// boolField treats only boolean true or the string "TRUE" (any casing) as set;
// everything else, including absence, is false.
func boolField(row map[string]any, names ...string) bool {
	for _, name := range names {
		if v, ok := lookupFold(row, name); ok {
			switch t := v.(type) {
			case bool:
				return t
			case string:
				return strings.EqualFold(t, "TRUE")
			}
		}
	}
	return false
}

func lookupFold(row map[string]any, name string) (any, bool) {
	if v, ok := row[name]; ok {
		return v, true
	}
	for key, v := range row {
		if strings.EqualFold(key, name) {
			return v, true
		}
	}
	return nil, false
}

func asString(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func filterBlank(options ...string) []string {
	kept := make([]string, 0, len(options))
	for _, opt := range options {
		if strings.TrimSpace(opt) != "" {
			kept = append(kept, opt)
		}
	}
	return kept
}
