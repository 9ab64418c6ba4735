// Copyright 2026 fanjia1024
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

func apiBaseURL() string {
	if u := os.Getenv("DRONE_API_URL"); u != "" {
		return u
	}
	return "http://localhost:8080"
}

// apiClient 访问 cmd/api 暴露的控制接口
type apiClient struct {
	rc *resty.Client
}

func newAPIClient(baseURL string) *apiClient {
	return &apiClient{rc: resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(30*time.Second).
		SetHeader("Content-Type", "application/json")}
}

// apiError 非预期状态码
type apiError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *apiError) Error() string {
	var body struct {
		Error string `json:"error"`
	}
	msg := strings.TrimSpace(e.Body)
	if json.Unmarshal([]byte(e.Body), &body) == nil && body.Error != "" {
		msg = body.Error
	}
	return fmt.Sprintf("%s %s: %d %s", e.Method, e.Path, e.Status, msg)
}

func (c *apiClient) do(method, path string, body any, want int) (map[string]any, error) {
	var out map[string]any
	req := c.rc.R().SetResult(&out)
	if body != nil {
		req.SetBody(body)
	}
	resp, err := req.Execute(method, path)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode() != want {
		return nil, &apiError{Method: method, Path: path, Status: resp.StatusCode(), Body: resp.String()}
	}
	return out, nil
}

func (c *apiClient) startSession(goal, source string) (map[string]any, error) {
	return c.do(http.MethodPost, "/api/sessions", map[string]string{"goal": goal, "source": source}, http.StatusAccepted)
}

func (c *apiClient) listSessions() (map[string]any, error) {
	return c.do(http.MethodGet, "/api/sessions", nil, http.StatusOK)
}

func (c *apiClient) getSession(id string) (map[string]any, error) {
	return c.do(http.MethodGet, "/api/sessions/"+id, nil, http.StatusOK)
}

func (c *apiClient) sessionEvents(id string, after uint64) (map[string]any, error) {
	return c.do(http.MethodGet, "/api/sessions/"+id+"/events?after="+strconv.FormatUint(after, 10), nil, http.StatusOK)
}

func (c *apiClient) emergency(id string) (map[string]any, error) {
	return c.do(http.MethodPost, "/api/sessions/"+id+"/emergency", nil, http.StatusAccepted)
}

func (c *apiClient) saveSession(id string) (map[string]any, error) {
	return c.do(http.MethodPost, "/api/sessions/"+id+"/save", nil, http.StatusOK)
}

func (c *apiClient) deleteSession(id string) (map[string]any, error) {
	return c.do(http.MethodDelete, "/api/sessions/"+id, nil, http.StatusOK)
}

func (c *apiClient) resetDrone() (map[string]any, error) {
	return c.do(http.MethodPost, "/api/drone/reset", nil, http.StatusOK)
}

func (c *apiClient) getArchive(id string) (map[string]any, error) {
	return c.do(http.MethodGet, "/api/archive/"+id, nil, http.StatusOK)
}
