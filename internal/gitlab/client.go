// Package gitlab talks to the GitLab v4 REST API on behalf of one project.
package gitlab

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

	"github.com/hochfrequenz/mr-automerge/internal/domain"
)

var (
	// ErrNotFound is returned when GitLab answers 404.
	ErrNotFound = errors.New("not found")

	// ErrNotMergeable is returned when GitLab refuses a merge command
	// because the merge request is not in a mergeable state (yet).
	ErrNotMergeable = errors.New("merge request is not mergeable")
)

// APIError carries a non-2xx response from GitLab.
type APIError struct {
	Method     string
	Path       string
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s %s: API returned status %d: %s", e.Method, e.Path, e.StatusCode, e.Message)
}

// Is maps status codes onto the package sentinels.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.StatusCode == http.StatusNotFound
}

// HTTPClient interface for HTTP operations (allows mocking in tests).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config holds connection settings.
type Config struct {
	BaseURL string
	Token   string
	// Project is the "org/project" path or numeric ID.
	Project string
}

// Client is scoped to a single project.
type Client struct {
	baseURL    string
	token      string
	project    string
	httpClient HTTPClient
}

// NewClient creates a new GitLab client. BaseURL may be given with or
// without the trailing "/api/v4".
func NewClient(cfg Config, httpClient HTTPClient) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &Client{
		baseURL:    strings.TrimSuffix(strings.TrimRight(cfg.BaseURL, "/"), "/api/v4"),
		token:      cfg.Token,
		project:    cfg.Project,
		httpClient: httpClient,
	}
}

// Project returns the project path the client is bound to.
func (c *Client) Project() string {
	return c.project
}

// GetProject verifies the project exists and is visible to the token.
func (c *Client) GetProject(ctx context.Context) (*Project, error) {
	var glp gitlabProject
	if err := c.do(ctx, http.MethodGet, c.projectPath(""), nil, &glp); err != nil {
		return nil, fmt.Errorf("failed to get project %s: %w", c.project, err)
	}
	return &Project{ID: glp.ID, PathWithNamespace: glp.PathWithNamespace, WebURL: glp.WebURL}, nil
}

// GetMergeRequest fetches a full merge request snapshot.
func (c *Client) GetMergeRequest(ctx context.Context, iid int) (*domain.MergeRequest, error) {
	var glmr gitlabMergeRequest
	if err := c.do(ctx, http.MethodGet, c.projectPath(fmt.Sprintf("/merge_requests/%d", iid)), nil, &glmr); err != nil {
		return nil, fmt.Errorf("failed to get MR #%d: %w", iid, err)
	}
	mr := convertMergeRequest(glmr)
	return &mr, nil
}

// GetApprovals fetches who approved a merge request.
func (c *Client) GetApprovals(ctx context.Context, iid int) (*domain.Approvals, error) {
	var gla gitlabApprovals
	if err := c.do(ctx, http.MethodGet, c.projectPath(fmt.Sprintf("/merge_requests/%d/approvals", iid)), nil, &gla); err != nil {
		return nil, fmt.Errorf("failed to get approvals of MR #%d: %w", iid, err)
	}

	approvals := &domain.Approvals{Approved: gla.Approved}
	for _, a := range gla.ApprovedBy {
		approvals.ApprovedBy = append(approvals.ApprovedBy, a.User.Username)
	}
	return approvals, nil
}

// Rebase asks GitLab to rebase the source branch. GitLab performs the
// rebase asynchronously.
func (c *Client) Rebase(ctx context.Context, iid int) error {
	if err := c.do(ctx, http.MethodPut, c.projectPath(fmt.Sprintf("/merge_requests/%d/rebase", iid)), nil, nil); err != nil {
		return fmt.Errorf("failed to rebase MR #%d: %w", iid, err)
	}
	return nil
}

// MergeWhenPipelineSucceeds sets the merge request to auto-merge.
// Refusals caused by the merge request's state wrap ErrNotMergeable.
func (c *Client) MergeWhenPipelineSucceeds(ctx context.Context, iid int) error {
	body := map[string]any{"merge_when_pipeline_succeeds": true}
	err := c.do(ctx, http.MethodPut, c.projectPath(fmt.Sprintf("/merge_requests/%d/merge", iid)), body, nil)
	if err == nil {
		return nil
	}

	var apiErr *APIError
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case http.StatusMethodNotAllowed, http.StatusNotAcceptable, http.StatusConflict, http.StatusUnprocessableEntity:
			return fmt.Errorf("%w: %s", ErrNotMergeable, apiErr.Message)
		}
	}
	return fmt.Errorf("failed to merge MR #%d: %w", iid, err)
}

// GetPipeline fetches a pipeline snapshot.
func (c *Client) GetPipeline(ctx context.Context, id int) (*domain.Pipeline, error) {
	var glp gitlabPipeline
	if err := c.do(ctx, http.MethodGet, c.projectPath(fmt.Sprintf("/pipelines/%d", id)), nil, &glp); err != nil {
		return nil, fmt.Errorf("failed to get pipeline %d: %w", id, err)
	}
	return &domain.Pipeline{
		ID:     glp.ID,
		Status: domain.PipelineStatus(glp.Status),
		Ref:    glp.Ref,
		WebURL: glp.WebURL,
	}, nil
}

// RetryPipeline restarts the failed and canceled jobs of a pipeline.
func (c *Client) RetryPipeline(ctx context.Context, id int) error {
	if err := c.do(ctx, http.MethodPost, c.projectPath(fmt.Sprintf("/pipelines/%d/retry", id)), nil, nil); err != nil {
		return fmt.Errorf("failed to retry pipeline %d: %w", id, err)
	}
	return nil
}

// ListOpenMergeRequests lists the author's open merge requests that have
// at least one approval, oldest first.
func (c *Client) ListOpenMergeRequests(ctx context.Context, author string) ([]domain.MergeRequest, error) {
	query := url.Values{}
	query.Set("state", "opened")
	query.Set("author_username", author)
	query.Set("approved_by_ids", "Any")
	query.Set("order_by", "created_at")
	query.Set("sort", "asc")
	query.Set("per_page", strconv.Itoa(DefaultPageSize))

	var result []domain.MergeRequest
	page := "1"
	for page != "" {
		query.Set("page", page)

		var glmrs []gitlabMergeRequest
		header, err := c.doWithHeader(ctx, http.MethodGet, c.projectPath("/merge_requests?"+query.Encode()), nil, &glmrs)
		if err != nil {
			return nil, fmt.Errorf("failed to list merge requests of %s: %w", author, err)
		}
		for _, glmr := range glmrs {
			result = append(result, convertMergeRequest(glmr))
		}
		page = header.Get("X-Next-Page")
	}
	return result, nil
}

// DefaultPageSize is the number of items requested per page.
const DefaultPageSize = 100

func (c *Client) projectPath(suffix string) string {
	return "/projects/" + url.PathEscape(c.project) + suffix
}

func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	_, err := c.doWithHeader(ctx, method, path, body, result)
	return err
}

// doWithHeader performs an HTTP request against the GitLab API.
func (c *Client) doWithHeader(ctx context.Context, method, path string, body, result any) (http.Header, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v4"+path, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("PRIVATE-TOKEN", c.token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{
			Method:     method,
			Path:       strings.SplitN(path, "?", 2)[0],
			StatusCode: resp.StatusCode,
			Message:    errorMessage(resp.Body),
		}
	}

	if result == nil {
		return resp.Header, nil
	}
	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	return resp.Header, nil
}

// errorMessage extracts GitLab's "message" or "error" field, falling back
// to the raw body.
func errorMessage(r io.Reader) string {
	raw, _ := io.ReadAll(io.LimitReader(r, 64*1024))

	var payload struct {
		Message any    `json:"message"`
		Error   string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil {
		switch m := payload.Message.(type) {
		case string:
			if m != "" {
				return m
			}
		case nil:
		default:
			if encoded, err := json.Marshal(m); err == nil {
				return string(encoded)
			}
		}
		if payload.Error != "" {
			return payload.Error
		}
	}
	return strings.TrimSpace(string(raw))
}

func convertMergeRequest(glmr gitlabMergeRequest) domain.MergeRequest {
	mr := domain.MergeRequest{
		IID:                 glmr.IID,
		Title:               glmr.Title,
		State:               domain.MergeState(glmr.State),
		DetailedMergeStatus: domain.DetailedMergeStatus(glmr.DetailedMergeStatus),
		Author:              glmr.Author.Username,
		WebURL:              glmr.WebURL,
	}
	if glmr.HeadPipeline != nil {
		mr.HeadPipeline = &domain.PipelineRef{
			ID:     glmr.HeadPipeline.ID,
			Status: domain.PipelineStatus(glmr.HeadPipeline.Status),
		}
	}
	return mr
}

// Project is the subset of project attributes the tool uses.
type Project struct {
	ID                int
	PathWithNamespace string
	WebURL            string
}

// GitLab API response types
type gitlabProject struct {
	ID                int    `json:"id"`
	PathWithNamespace string `json:"path_with_namespace"`
	WebURL            string `json:"web_url"`
}

type gitlabUser struct {
	Username string `json:"username"`
}

type gitlabMergeRequest struct {
	IID                 int             `json:"iid"`
	Title               string          `json:"title"`
	State               string          `json:"state"`
	DetailedMergeStatus string          `json:"detailed_merge_status"`
	WebURL              string          `json:"web_url"`
	Author              gitlabUser      `json:"author"`
	HeadPipeline        *gitlabPipeline `json:"head_pipeline"`
}

type gitlabPipeline struct {
	ID     int    `json:"id"`
	Status string `json:"status"`
	Ref    string `json:"ref"`
	WebURL string `json:"web_url"`
}

type gitlabApprovals struct {
	Approved   bool `json:"approved"`
	ApprovedBy []struct {
		User gitlabUser `json:"user"`
	} `json:"approved_by"`
}
