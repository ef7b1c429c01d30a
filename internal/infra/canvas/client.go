// Package canvas is a client for the Canvas LMS REST API.
package canvas

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sirupsen/logrus"

	"harkness_helper/internal/domain/provider"
)

const (
	ItemAssignment = "assignment"
	ItemDiscussion = "discussion"
)

var ErrNoBaseURL = errors.New("canvas base url is not configured")

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	maxElapsed time.Duration
	logger     *logrus.Entry
}

// NewClient returns nil when token is empty.
func NewClient(baseURL, token string, timeout time.Duration, logger *logrus.Entry) *Client {
	if token == "" {
		return nil
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: timeout},
		maxElapsed: time.Minute,
		logger:     logger.WithField("component", "canvas"),
	}
}

type section struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type enrollment struct {
	UserID int64 `json:"user_id"`
	User   struct {
		Name    string `json:"name"`
		Email   string `json:"email"`
		LoginID string `json:"login_id"`
	} `json:"user"`
}

type assignment struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

type discussionTopic struct {
	ID           int64  `json:"id"`
	Title        string `json:"title"`
	AssignmentID *int64 `json:"assignment_id"`
}

func (c *Client) ListSections(ctx context.Context, course provider.CourseRef) ([]provider.Section, error) {
	var raw []section
	if err := c.getAll(ctx, course, fmt.Sprintf("/api/v1/courses/%s/sections", url.PathEscape(course.CourseID)), nil, &raw); err != nil {
		return nil, fmt.Errorf("list sections: %w", err)
	}
	out := make([]provider.Section, 0, len(raw))
	for _, s := range raw {
		out = append(out, provider.Section{ID: strconv.FormatInt(s.ID, 10), Name: s.Name})
	}
	return out, nil
}

func (c *Client) ListSectionStudents(ctx context.Context, course provider.CourseRef, sectionID string) ([]provider.Enrollment, error) {
	q := url.Values{}
	q.Add("type[]", "StudentEnrollment")
	q.Add("state[]", "active")
	q.Add("include[]", "email")
	var raw []enrollment
	if err := c.getAll(ctx, course, fmt.Sprintf("/api/v1/sections/%s/enrollments", url.PathEscape(sectionID)), q, &raw); err != nil {
		return nil, fmt.Errorf("list section students: %w", err)
	}
	out := make([]provider.Enrollment, 0, len(raw))
	for _, e := range raw {
		email := e.User.Email
		if email == "" && strings.Contains(e.User.LoginID, "@") {
			email = e.User.LoginID
		}
		out = append(out, provider.Enrollment{UserID: strconv.FormatInt(e.UserID, 10), Name: e.User.Name, Email: email})
	}
	return out, nil
}

// ListItems lists assignments, or graded discussions identified by their
// assignment id.
func (c *Client) ListItems(ctx context.Context, course provider.CourseRef, itemType string) ([]provider.GradeItem, error) {
	cid := url.PathEscape(course.CourseID)
	if itemType == ItemDiscussion {
		var raw []discussionTopic
		if err := c.getAll(ctx, course, fmt.Sprintf("/api/v1/courses/%s/discussion_topics", cid), nil, &raw); err != nil {
			return nil, fmt.Errorf("list discussions: %w", err)
		}
		out := make([]provider.GradeItem, 0, len(raw))
		for _, d := range raw {
			if d.AssignmentID == nil {
				continue
			}
			out = append(out, provider.GradeItem{ID: strconv.FormatInt(*d.AssignmentID, 10), Name: d.Title, ItemType: ItemDiscussion})
		}
		return out, nil
	}

	var raw []assignment
	if err := c.getAll(ctx, course, fmt.Sprintf("/api/v1/courses/%s/assignments", cid), nil, &raw); err != nil {
		return nil, fmt.Errorf("list assignments: %w", err)
	}
	out := make([]provider.GradeItem, 0, len(raw))
	for _, a := range raw {
		out = append(out, provider.GradeItem{ID: strconv.FormatInt(a.ID, 10), Name: a.Name, ItemType: ItemAssignment})
	}
	return out, nil
}

// PostGrade is not retried; a repeated grade post would add a duplicate comment.
func (c *Client) PostGrade(ctx context.Context, course provider.CourseRef, itemID, userID, grade, comment string) error {
	base, err := c.base(course)
	if err != nil {
		return err
	}
	form := url.Values{}
	form.Set("submission[posted_grade]", grade)
	if comment != "" {
		form.Set("comment[text_comment]", comment)
	}
	endpoint := fmt.Sprintf("%s/api/v1/courses/%s/assignments/%s/submissions/%s",
		base, url.PathEscape(course.CourseID), url.PathEscape(itemID), url.PathEscape(userID))

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post grade: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("post grade failed with status %d: %s", resp.StatusCode, string(body))
	}
	return nil
}

func (c *Client) base(course provider.CourseRef) (string, error) {
	if course.BaseURL != "" {
		return strings.TrimRight(course.BaseURL, "/"), nil
	}
	if c.baseURL == "" {
		return "", ErrNoBaseURL
	}
	return c.baseURL, nil
}

// getAll follows Link rel="next" headers and decodes every page into out,
// which must point to a slice.
func (c *Client) getAll(ctx context.Context, course provider.CourseRef, path string, q url.Values, out interface{}) error {
	base, err := c.base(course)
	if err != nil {
		return err
	}
	if q == nil {
		q = url.Values{}
	}
	q.Set("per_page", "100")
	next := base + path + "?" + q.Encode()

	var all []json.RawMessage
	for next != "" {
		page, link, err := c.get(ctx, next)
		if err != nil {
			return err
		}
		var items []json.RawMessage
		if err := json.Unmarshal(page, &items); err != nil {
			return fmt.Errorf("json decode error: %w", err)
		}
		all = append(all, items...)
		next = nextLink(link)
	}

	merged, err := json.Marshal(all)
	if err != nil {
		return err
	}
	return json.Unmarshal(merged, out)
}

func (c *Client) get(ctx context.Context, endpoint string) ([]byte, string, error) {
	var body []byte
	var link string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Authorization", "Bearer "+c.token)
		req.Header.Set("Accept", "application/json")
		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		switch {
		case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
			c.logger.WithField("status", resp.StatusCode).Warn("Canvas request failed, retrying")
			return fmt.Errorf("request failed with status %d", resp.StatusCode)
		case resp.StatusCode >= 300:
			return backoff.Permanent(fmt.Errorf("request failed with status %d: %s", resp.StatusCode, string(data)))
		}
		body, link = data, resp.Header.Get("Link")
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = c.maxElapsed
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, "", err
	}
	return body, link, nil
}

var linkPattern = regexp.MustCompile(`<([^>]+)>;\s*rel="([^"]+)"`)

func nextLink(header string) string {
	for _, m := range linkPattern.FindAllStringSubmatch(header, -1) {
		if m[2] == "next" {
			return m[1]
		}
	}
	return ""
}
