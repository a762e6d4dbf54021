// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AleutianAI/AleutianGovernance/services/governance/activity"
	"github.com/AleutianAI/AleutianGovernance/services/governance/datatypes"
	"github.com/AleutianAI/AleutianGovernance/services/governance/handlers"
	"github.com/AleutianAI/AleutianGovernance/services/governance/monitor"
	"github.com/AleutianAI/AleutianGovernance/services/governance/plan"
	"github.com/AleutianAI/AleutianGovernance/services/governance/project"
	"github.com/AleutianAI/AleutianGovernance/services/governance/vectorindex"
)

// APIError is a non-2xx response from the governance server.
type APIError struct {
	Status int
	handlers.ErrorResponse
}

func (e *APIError) Error() string {
	msg := fmt.Sprintf("%d %s", e.Status, e.ErrorResponse.Error)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

// Client calls the governance HTTP API.
type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

// NewClient creates a client for baseURL.
func NewClient(baseURL, token string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Token:   token,
		HTTP:    &http.Client{Timeout: 60 * time.Second},
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if err := json.Unmarshal(data, &apiErr.ErrorResponse); err != nil || apiErr.ErrorResponse.Error == "" {
			apiErr.ErrorResponse.Error = http.StatusText(resp.StatusCode)
		}
		return apiErr
	}
	if out == nil || len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, out)
}

func projectPath(projectID string) string {
	return "/v1/projects/" + url.PathEscape(projectID)
}

func planPath(projectID, planID string) string {
	return projectPath(projectID) + "/plans/" + url.PathEscape(planID)
}

// =============================================================================
// Projects
// =============================================================================

func (c *Client) CreateProject(ctx context.Context, req project.CreateRequest) (*datatypes.Project, error) {
	var p datatypes.Project
	err := c.do(ctx, http.MethodPost, "/v1/projects", req, &p)
	return &p, err
}

func (c *Client) ListProjects(ctx context.Context) ([]datatypes.Project, error) {
	var out struct {
		Projects []datatypes.Project `json:"projects"`
	}
	err := c.do(ctx, http.MethodGet, "/v1/projects", nil, &out)
	return out.Projects, err
}

func (c *Client) GetProject(ctx context.Context, id string) (*datatypes.Project, error) {
	var p datatypes.Project
	err := c.do(ctx, http.MethodGet, projectPath(id), nil, &p)
	return &p, err
}

func (c *Client) FocusProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, projectPath(id)+"/focus", nil, nil)
}

func (c *Client) DeleteProject(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, projectPath(id), nil, nil)
}

func (c *Client) Search(ctx context.Context, projectID, query string, k int) ([]vectorindex.Match, error) {
	var out struct {
		Matches []vectorindex.Match `json:"matches"`
	}
	err := c.do(ctx, http.MethodPost, projectPath(projectID)+"/search", map[string]any{"query": query, "k": k}, &out)
	return out.Matches, err
}

// =============================================================================
// Plans
// =============================================================================

func (c *Client) CreatePlan(ctx context.Context, projectID string, req plan.CreateRequest) (*handlers.PlanView, error) {
	var v handlers.PlanView
	err := c.do(ctx, http.MethodPost, projectPath(projectID)+"/plans", req, &v)
	return &v, err
}

func (c *Client) ListPlans(ctx context.Context, projectID string) ([]handlers.PlanView, error) {
	var out struct {
		Plans []handlers.PlanView `json:"plans"`
	}
	err := c.do(ctx, http.MethodGet, projectPath(projectID)+"/plans", nil, &out)
	return out.Plans, err
}

func (c *Client) GetPlan(ctx context.Context, projectID, planID string) (*handlers.PlanView, error) {
	var v handlers.PlanView
	err := c.do(ctx, http.MethodGet, planPath(projectID, planID), nil, &v)
	return &v, err
}

func (c *Client) ActivePlan(ctx context.Context, projectID string) (*handlers.PlanView, error) {
	var v handlers.PlanView
	err := c.do(ctx, http.MethodGet, projectPath(projectID)+"/active-plan", nil, &v)
	return &v, err
}

func (c *Client) UpdatePlan(ctx context.Context, projectID, planID string, req plan.UpdateRequest) (*handlers.PlanView, error) {
	var v handlers.PlanView
	err := c.do(ctx, http.MethodPatch, planPath(projectID, planID), req, &v)
	return &v, err
}

func (c *Client) RequestApproval(ctx context.Context, projectID, planID string) (*datatypes.VerificationChallenge, error) {
	var ch datatypes.VerificationChallenge
	err := c.do(ctx, http.MethodPost, planPath(projectID, planID)+"/approval", nil, &ch)
	return &ch, err
}

// ApprovalResult is the body of a successful approve call.
type ApprovalResult struct {
	Plan       handlers.PlanView `json:"plan"`
	ApprovedBy string            `json:"approved_by"`
	ApprovedAt time.Time         `json:"approved_at"`
}

func (c *Client) ApprovePlan(ctx context.Context, projectID, planID, code, secondaryKey string) (*ApprovalResult, error) {
	var res ApprovalResult
	err := c.do(ctx, http.MethodPost, planPath(projectID, planID)+"/approve",
		handlers.ApprovalRequest{Code: code, SecondaryKey: secondaryKey}, &res)
	return &res, err
}

func (c *Client) RejectPlan(ctx context.Context, projectID, planID, reason string) (*handlers.PlanView, error) {
	var v handlers.PlanView
	err := c.do(ctx, http.MethodPost, planPath(projectID, planID)+"/reject", handlers.RejectRequest{Reason: reason}, &v)
	return &v, err
}

func (c *Client) LockPlan(ctx context.Context, projectID, planID string) (*handlers.PlanView, error) {
	var v handlers.PlanView
	err := c.do(ctx, http.MethodPost, planPath(projectID, planID)+"/lock", nil, &v)
	return &v, err
}

func (c *Client) VerifyIntegrity(ctx context.Context, projectID string) error {
	return c.do(ctx, http.MethodGet, projectPath(projectID)+"/integrity", nil, nil)
}

// =============================================================================
// Activity and drift
// =============================================================================

func (c *Client) RecordActivity(ctx context.Context, projectID string, req activity.RecordRequest) (*activity.Item, error) {
	var it activity.Item
	err := c.do(ctx, http.MethodPost, projectPath(projectID)+"/activity", req, &it)
	return &it, err
}

func (c *Client) ListActivity(ctx context.Context, projectID string, since time.Duration) ([]activity.Item, error) {
	var out struct {
		Items []activity.Item `json:"items"`
	}
	path := projectPath(projectID) + "/activity"
	if since > 0 {
		path += "?since=" + url.QueryEscape(since.String())
	}
	err := c.do(ctx, http.MethodGet, path, nil, &out)
	return out.Items, err
}

func (c *Client) AnalyzeDrift(ctx context.Context, projectID string) (*datatypes.DriftAnalysis, error) {
	var a datatypes.DriftAnalysis
	err := c.do(ctx, http.MethodPost, projectPath(projectID)+"/drift", nil, &a)
	return &a, err
}

func (c *Client) LatestDrift(ctx context.Context, projectID string) (*datatypes.DriftAnalysis, error) {
	var a datatypes.DriftAnalysis
	err := c.do(ctx, http.MethodGet, projectPath(projectID)+"/drift", nil, &a)
	return &a, err
}

func (c *Client) DriftHistory(ctx context.Context, projectID string, n int) ([]*datatypes.DriftAnalysis, error) {
	var out struct {
		Analyses []*datatypes.DriftAnalysis `json:"analyses"`
	}
	err := c.do(ctx, http.MethodGet, projectPath(projectID)+"/drift?history="+strconv.Itoa(n), nil, &out)
	return out.Analyses, err
}

// WatchAlerts streams projectID's alerts to fn until ctx ends or the server
// closes the stream.
func (c *Client) WatchAlerts(ctx context.Context, projectID string, fn func(monitor.Alert)) error {
	u, err := url.Parse(c.BaseURL + projectPath(projectID) + "/alerts/stream")
	if err != nil {
		return err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	header := http.Header{}
	if c.Token != "" {
		header.Set("Authorization", "Bearer "+c.Token)
	}
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, u.String(), header)
	if err != nil {
		if resp != nil {
			return &APIError{Status: resp.StatusCode, ErrorResponse: handlers.ErrorResponse{Error: http.StatusText(resp.StatusCode)}}
		}
		return err
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
		_ = conn.Close()
	}()

	for {
		var a monitor.Alert
		if err := conn.ReadJSON(&a); err != nil {
			if ctx.Err() != nil || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return nil
			}
			return err
		}
		fn(a)
	}
}
