// Package spira is a thin client for the SpiraTeam REST API (v6.0). Requests
// authenticate via username/api-key query parameters; bodies are PascalCase
// JSON with WCF-encoded dates. The client performs no retries: a failed call
// surfaces to the caller, which decides whether the artifact or the whole
// project pairing is affected.
package spira

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Inflectra/spira-gitlab-datasync/common/logger"
	"github.com/Inflectra/spira-gitlab-datasync/core/config"
	"github.com/Inflectra/spira-gitlab-datasync/internal/model"
)

var (
	// ErrNotFound is returned when Spira answers 404 for a lookup.
	ErrNotFound = errors.New("spira: not found")

	// ErrUnauthorized is returned when Spira rejects the configured credentials.
	ErrUnauthorized = errors.New("spira: unauthorized")
)

const servicePath = "Services/v6_0/RestService.svc"

type Client struct {
	httpClient *http.Client
	baseURL    string
	login      string
	apiKey     string
	dataSyncID int
	pageSize   int
}

func NewClient(cfg config.SpiraConfig, pageSize int) *Client {
	if pageSize <= 0 {
		pageSize = 100
	}
	return &Client{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/") + "/" + servicePath,
		login:      cfg.Login,
		apiKey:     cfg.APIKey,
		dataSyncID: cfg.DataSyncID,
		pageSize:   pageSize,
	}
}

// Authenticate verifies the configured credentials and returns the sync
// account's profile. Cheap enough to repeat between phases.
func (c *Client) Authenticate(ctx context.Context) (model.User, error) {
	var user apiUser
	if err := c.do(ctx, http.MethodGet, "users", nil, nil, &user); err != nil {
		return model.User{}, fmt.Errorf("authenticating: %w", err)
	}
	return user.toModel(), nil
}

// ConnectProject verifies the sync account can access the project.
func (c *Client) ConnectProject(ctx context.Context, projectID int64) error {
	var project json.RawMessage
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%d", projectID), nil, nil, &project); err != nil {
		return fmt.Errorf("connecting to project %d: %w", projectID, err)
	}
	return nil
}

// IncidentsSince lists incidents updated on or after since, oldest first.
// Pages through start_row/number_rows until a short page.
func (c *Client) IncidentsSince(ctx context.Context, projectID int64, since time.Time) ([]model.Incident, error) {
	filter := []apiFilter{{
		PropertyName:   "LastUpdateDate",
		DateRangeValue: &apiDateRange{StartDate: wcf(since), ConsiderTimes: true},
	}}

	var incidents []model.Incident
	for startRow := 1; ; startRow += c.pageSize {
		query := url.Values{}
		query.Set("start_row", strconv.Itoa(startRow))
		query.Set("number_rows", strconv.Itoa(c.pageSize))
		query.Set("sort_by", "LastUpdateDate ASC")

		var page []apiIncident
		err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%d/incidents/search", projectID), query, filter, &page)
		if err != nil {
			return nil, fmt.Errorf("listing incidents for project %d: %w", projectID, err)
		}

		for _, item := range page {
			incidents = append(incidents, item.toModel())
		}
		if len(page) < c.pageSize {
			break
		}
	}
	return incidents, nil
}

func (c *Client) Incident(ctx context.Context, projectID, incidentID int64) (model.Incident, error) {
	var incident apiIncident
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%d/incidents/%d", projectID, incidentID), nil, nil, &incident)
	if err != nil {
		return model.Incident{}, fmt.Errorf("fetching incident %d: %w", incidentID, err)
	}
	return incident.toModel(), nil
}

// CreateIncident returns the created incident with its server-assigned id,
// dates and defaulted fields.
func (c *Client) CreateIncident(ctx context.Context, projectID int64, incident model.Incident) (model.Incident, error) {
	body := incidentToAPI(incident)
	body.IncidentID = nil
	body.ProjectID = projectID

	var created apiIncident
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%d/incidents", projectID), nil, body, &created)
	if err != nil {
		return model.Incident{}, fmt.Errorf("creating incident: %w", err)
	}
	return created.toModel(), nil
}

func (c *Client) UpdateIncident(ctx context.Context, projectID int64, incident model.Incident) error {
	body := incidentToAPI(incident)
	err := c.do(ctx, http.MethodPut, fmt.Sprintf("projects/%d/incidents/%d", projectID, incident.ID), nil, body, nil)
	if err != nil {
		return fmt.Errorf("updating incident %d: %w", incident.ID, err)
	}
	return nil
}

func (c *Client) Comments(ctx context.Context, projectID, incidentID int64) ([]model.Comment, error) {
	var comments []apiComment
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%d/incidents/%d/comments", projectID, incidentID), nil, nil, &comments)
	if err != nil {
		return nil, fmt.Errorf("listing comments for incident %d: %w", incidentID, err)
	}

	out := make([]model.Comment, 0, len(comments))
	for _, comment := range comments {
		out = append(out, comment.toModel())
	}
	return out, nil
}

// AddComments posts comments in one bulk call.
func (c *Client) AddComments(ctx context.Context, projectID, incidentID int64, comments []model.Comment) error {
	if len(comments) == 0 {
		return nil
	}

	body := make([]apiComment, 0, len(comments))
	for _, comment := range comments {
		item := commentToAPI(comment)
		item.ArtifactID = incidentID
		body = append(body, item)
	}

	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%d/incidents/%d/comments", projectID, incidentID), nil, body, nil)
	if err != nil {
		return fmt.Errorf("adding %d comments to incident %d: %w", len(comments), incidentID, err)
	}
	return nil
}

func (c *Client) Releases(ctx context.Context, projectID int64) ([]model.Release, error) {
	var releases []apiRelease
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("projects/%d/releases", projectID), nil, nil, &releases); err != nil {
		return nil, fmt.Errorf("listing releases for project %d: %w", projectID, err)
	}

	out := make([]model.Release, 0, len(releases))
	for _, release := range releases {
		out = append(out, release.toModel())
	}
	return out, nil
}

func (c *Client) CreateRelease(ctx context.Context, projectID int64, release model.Release) (model.Release, error) {
	body := releaseToAPI(release)
	body.ReleaseID = nil

	var created apiRelease
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%d/releases", projectID), nil, body, &created)
	if err != nil {
		return model.Release{}, fmt.Errorf("creating release %q: %w", release.Name, err)
	}
	return created.toModel(), nil
}

// AddWebLink attaches a URL document to an incident, used to cross-reference
// the GitLab issue from Spira.
func (c *Client) AddWebLink(ctx context.Context, projectID, incidentID int64, linkURL, description string) error {
	body := apiDocument{
		AttachmentTypeID: attachmentTypeURL,
		FilenameOrURL:    linkURL,
		Description:      description,
		AttachedArtifacts: []apiAttachedArtifact{
			{ArtifactID: incidentID, ArtifactTypeID: model.ArtifactTypeIncident},
		},
	}

	err := c.do(ctx, http.MethodPost, fmt.Sprintf("projects/%d/documents/url", projectID), nil, body, nil)
	if err != nil {
		return fmt.Errorf("attaching web link to incident %d: %w", incidentID, err)
	}
	return nil
}

func (c *Client) User(ctx context.Context, userID int64) (model.User, error) {
	var user apiUser
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("users/%d", userID), nil, nil, &user); err != nil {
		return model.User{}, fmt.Errorf("fetching user %d: %w", userID, err)
	}
	return user.toModel(), nil
}

func (c *Client) UserByLogin(ctx context.Context, login string) (model.User, error) {
	var user apiUser
	err := c.do(ctx, http.MethodGet, "users/usernames/"+url.PathEscape(login), nil, nil, &user)
	if err != nil {
		return model.User{}, fmt.Errorf("fetching user %q: %w", login, err)
	}
	return user.toModel(), nil
}

// FieldValueMappings returns the configured value pairings for one standard
// incident field (FieldStatus, FieldSeverity, FieldPriority, FieldType).
func (c *Client) FieldValueMappings(ctx context.Context, projectID, fieldID int64) ([]model.ValueMapping, error) {
	var mappings []apiDataMapping
	path := fmt.Sprintf("projects/%d/data-mappings/field-values/%d", projectID, fieldID)
	if err := c.do(ctx, http.MethodGet, path, c.mappingQuery(), nil, &mappings); err != nil {
		return nil, fmt.Errorf("listing field %d value mappings: %w", fieldID, err)
	}
	return toValueMappings(mappings, projectID), nil
}

// UserMappings returns the Spira-user to GitLab-username pairings.
func (c *Client) UserMappings(ctx context.Context, projectID int64) ([]model.ValueMapping, error) {
	var mappings []apiDataMapping
	path := fmt.Sprintf("projects/%d/data-mappings/users", projectID)
	if err := c.do(ctx, http.MethodGet, path, c.mappingQuery(), nil, &mappings); err != nil {
		return nil, fmt.Errorf("listing user mappings: %w", err)
	}
	return toValueMappings(mappings, projectID), nil
}

// PropertyOptionMappings returns the option pairings for one custom property.
func (c *Client) PropertyOptionMappings(ctx context.Context, projectID, customPropertyID int64) ([]model.ValueMapping, error) {
	var mappings []apiDataMapping
	path := fmt.Sprintf("projects/%d/data-mappings/custom-properties/%d/options", projectID, customPropertyID)
	if err := c.do(ctx, http.MethodGet, path, c.mappingQuery(), nil, &mappings); err != nil {
		return nil, fmt.Errorf("listing custom property %d option mappings: %w", customPropertyID, err)
	}
	return toValueMappings(mappings, projectID), nil
}

// ArtifactMappings reads the persisted identity-mapping table for one
// artifact type.
func (c *Client) ArtifactMappings(ctx context.Context, projectID, artifactTypeID int64) ([]model.ArtifactMapping, error) {
	var mappings []apiDataMapping
	path := fmt.Sprintf("projects/%d/data-mappings/artifacts/%d", projectID, artifactTypeID)
	if err := c.do(ctx, http.MethodGet, path, c.mappingQuery(), nil, &mappings); err != nil {
		return nil, fmt.Errorf("listing artifact mappings for type %d: %w", artifactTypeID, err)
	}

	out := make([]model.ArtifactMapping, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, m.toArtifactMapping(projectID))
	}
	return out, nil
}

// AddArtifactMappings persists new identity mappings in one bulk call.
func (c *Client) AddArtifactMappings(ctx context.Context, projectID, artifactTypeID int64, mappings []model.ArtifactMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	path := fmt.Sprintf("projects/%d/data-mappings/artifacts/%d", projectID, artifactTypeID)
	if err := c.do(ctx, http.MethodPost, path, c.mappingQuery(), toAPIMappings(mappings), nil); err != nil {
		return fmt.Errorf("adding %d artifact mappings for type %d: %w", len(mappings), artifactTypeID, err)
	}
	return nil
}

// RemoveArtifactMappings deletes stale identity mappings in one bulk call.
func (c *Client) RemoveArtifactMappings(ctx context.Context, projectID, artifactTypeID int64, mappings []model.ArtifactMapping) error {
	if len(mappings) == 0 {
		return nil
	}

	path := fmt.Sprintf("projects/%d/data-mappings/artifacts/%d/remove", projectID, artifactTypeID)
	if err := c.do(ctx, http.MethodPost, path, c.mappingQuery(), toAPIMappings(mappings), nil); err != nil {
		return fmt.Errorf("removing %d artifact mappings for type %d: %w", len(mappings), artifactTypeID, err)
	}
	return nil
}

func (c *Client) mappingQuery() url.Values {
	query := url.Values{}
	query.Set("data_sync_system_id", strconv.Itoa(c.dataSyncID))
	return query
}

func toValueMappings(mappings []apiDataMapping, projectID int64) []model.ValueMapping {
	out := make([]model.ValueMapping, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, m.toValueMapping(projectID))
	}
	return out
}

func toAPIMappings(mappings []model.ArtifactMapping) []apiDataMapping {
	out := make([]apiDataMapping, 0, len(mappings))
	for _, m := range mappings {
		out = append(out, artifactMappingToAPI(m))
	}
	return out
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	merged := url.Values{}
	for key, values := range query {
		merged[key] = values
	}
	merged.Set("username", c.login)
	merged.Set("api-key", c.apiKey)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/"+path+"?"+merged.Encode(), reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling spira: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	switch {
	case resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices:
		if out != nil && len(bytes.TrimSpace(data)) > 0 {
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decoding response: %w", err)
			}
		}
		return nil
	case resp.StatusCode == http.StatusBadRequest:
		return parseValidationError(data)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return fmt.Errorf("%w: %s %s returned %d", ErrUnauthorized, method, path, resp.StatusCode)
	case resp.StatusCode == http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotFound, method, path)
	default:
		return fmt.Errorf("spira: %s %s returned %d: %s", method, path, resp.StatusCode, logger.Truncate(string(data), 200))
	}
}

func parseValidationError(data []byte) error {
	var payload struct {
		Messages []ValidationMessage `json:"Messages"`
		Message  string              `json:"Message"`
	}
	if err := json.Unmarshal(data, &payload); err == nil {
		if len(payload.Messages) > 0 {
			return &ValidationError{Messages: payload.Messages}
		}
		if payload.Message != "" {
			return &ValidationError{Messages: []ValidationMessage{{Message: payload.Message}}}
		}
	}
	return &ValidationError{Messages: []ValidationMessage{{Message: logger.Truncate(strings.TrimSpace(string(data)), 200)}}}
}
