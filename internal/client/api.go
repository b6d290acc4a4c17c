package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"familyledger/internal/apperr"
)

// APIError is a failed API call as reported by the server
type APIError struct {
	Status  int
	Code    apperr.Code
	Message string
}

func (e *APIError) Error() string {
	if e.Code == "" {
		return fmt.Sprintf("request failed with status %d", e.Status)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

type errorEnvelope struct {
	Error struct {
		Code    apperr.Code `json:"code"`
		Message string      `json:"message"`
	} `json:"error"`
}

type User struct {
	ID              int64      `json:"id"`
	Email           string     `json:"email"`
	Name            string     `json:"name"`
	IsEmailVerified bool       `json:"isEmailVerified"`
	FamilyID        *int64     `json:"familyId"`
	Role            string     `json:"role"`
	HasPassword     bool       `json:"hasPassword"`
	LastLoginAt     *time.Time `json:"lastLoginAt"`
}

type Tokens struct {
	AccessToken      string    `json:"accessToken"`
	AccessExpiresAt  time.Time `json:"accessExpiresAt"`
	RefreshToken     string    `json:"refreshToken"`
	RefreshExpiresAt time.Time `json:"refreshExpiresAt"`
}

type Session struct {
	Tokens Tokens `json:"tokens"`
	User   *User  `json:"user"`
}

type Member struct {
	ID    int64  `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Role  string `json:"role"`
}

type Family struct {
	ID          int64    `json:"id"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	OwnerID     int64    `json:"ownerId"`
	InviteCode  string   `json:"inviteCode"`
	Members     []Member `json:"members"`
}

type JoinRequest struct {
	ID              int64      `json:"id"`
	UserID          int64      `json:"userId"`
	FamilyID        int64      `json:"familyId"`
	Status          string     `json:"status"`
	Message         string     `json:"message"`
	ResponseMessage string     `json:"responseMessage"`
	RequestedAt     time.Time  `json:"requestedAt"`
	RespondedAt     *time.Time `json:"respondedAt"`
	UserName        string     `json:"userName"`
	UserEmail       string     `json:"userEmail"`
	FamilyName      string     `json:"familyName"`
}

// Client calls the familyledger JSON API through a Guard
type Client struct {
	baseURL string
	http    *http.Client
	guard   *Guard
}

// New creates a client for baseURL. Requests go through guard.
func New(baseURL string, guard *Guard) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http: &http.Client{
			Transport: guard.RoundTripper(http.DefaultTransport),
			Timeout:   15 * time.Second,
		},
		guard: guard,
	}
}

func (c *Client) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= http.StatusBadRequest {
		apiErr := &APIError{Status: resp.StatusCode}
		var envelope errorEnvelope
		if json.NewDecoder(resp.Body).Decode(&envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// Register creates an account. At most one of familyName and inviteCode may be set.
func (c *Client) Register(ctx context.Context, email, password, name, familyName, inviteCode string) (*User, error) {
	var user User
	err := c.do(ctx, http.MethodPost, "/api/auth/register", map[string]string{
		"email":      email,
		"password":   password,
		"name":       name,
		"familyName": familyName,
		"inviteCode": inviteCode,
	}, &user)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// Login stores the new session tokens and re-arms the guard
func (c *Client) Login(ctx context.Context, email, password string) (*Session, error) {
	var session Session
	err := c.do(ctx, http.MethodPost, "/api/auth/login", map[string]string{
		"email":    email,
		"password": password,
	}, &session)
	if err != nil {
		return nil, err
	}
	if err := c.guard.Tokens().SetTokens(session.Tokens.AccessToken, session.Tokens.RefreshToken); err != nil {
		return nil, err
	}
	c.guard.Reset()
	return &session, nil
}

// Logout revokes the session on the server and clears local tokens. Local
// tokens are cleared even when the server call fails.
func (c *Client) Logout(ctx context.Context) error {
	tokens := c.guard.Tokens()
	err := c.do(ctx, http.MethodPost, "/api/auth/logout", map[string]string{
		"refreshToken": tokens.RefreshToken(),
	}, nil)
	if clearErr := tokens.Clear(); clearErr != nil && err == nil {
		err = clearErr
	}
	return err
}

// Refresh replaces the stored access token
func (c *Client) Refresh(ctx context.Context) error {
	tokens := c.guard.Tokens()
	var session Session
	err := c.do(ctx, http.MethodPost, "/api/auth/refresh", map[string]string{
		"refreshToken": tokens.RefreshToken(),
	}, &session)
	if err != nil {
		return err
	}
	return tokens.SetTokens(session.Tokens.AccessToken, session.Tokens.RefreshToken)
}

func (c *Client) Me(ctx context.Context) (*User, error) {
	var user User
	if err := c.do(ctx, http.MethodGet, "/api/auth/me", nil, &user); err != nil {
		return nil, err
	}
	return &user, nil
}

func (c *Client) MyFamily(ctx context.Context) (*Family, error) {
	var family Family
	if err := c.do(ctx, http.MethodGet, "/api/families/mine", nil, &family); err != nil {
		return nil, err
	}
	return &family, nil
}

func (c *Client) CreateFamily(ctx context.Context, name, description string) (*Family, error) {
	var family Family
	err := c.do(ctx, http.MethodPost, "/api/families", map[string]string{
		"name":        name,
		"description": description,
	}, &family)
	if err != nil {
		return nil, err
	}
	return &family, nil
}

func (c *Client) SearchFamilies(ctx context.Context, query string) ([]Family, error) {
	var families []Family
	if err := c.do(ctx, http.MethodGet, "/api/families/search?q="+url.QueryEscape(query), nil, &families); err != nil {
		return nil, err
	}
	return families, nil
}

func (c *Client) JoinByCode(ctx context.Context, code string) (*Family, error) {
	var family Family
	if err := c.do(ctx, http.MethodPost, "/api/families/join", map[string]string{"inviteCode": code}, &family); err != nil {
		return nil, err
	}
	return &family, nil
}

func (c *Client) RequestJoin(ctx context.Context, familyID int64, message string) (*JoinRequest, error) {
	var jr JoinRequest
	path := fmt.Sprintf("/api/families/%d/join-requests", familyID)
	if err := c.do(ctx, http.MethodPost, path, map[string]string{"message": message}, &jr); err != nil {
		return nil, err
	}
	return &jr, nil
}

func (c *Client) PendingRequests(ctx context.Context) ([]JoinRequest, error) {
	var reqs []JoinRequest
	if err := c.do(ctx, http.MethodGet, "/api/join-requests", nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

func (c *Client) MyRequests(ctx context.Context) ([]JoinRequest, error) {
	var reqs []JoinRequest
	if err := c.do(ctx, http.MethodGet, "/api/join-requests/mine", nil, &reqs); err != nil {
		return nil, err
	}
	return reqs, nil
}

// RespondToJoinRequest sends APPROVE or REJECT
func (c *Client) RespondToJoinRequest(ctx context.Context, requestID int64, response, message string) (*JoinRequest, error) {
	var jr JoinRequest
	path := fmt.Sprintf("/api/join-requests/%d/respond", requestID)
	err := c.do(ctx, http.MethodPost, path, map[string]string{
		"response": strings.ToUpper(response),
		"message":  message,
	}, &jr)
	if err != nil {
		return nil, err
	}
	return &jr, nil
}

func (c *Client) LeaveFamily(ctx context.Context) error {
	return c.do(ctx, http.MethodPost, "/api/families/leave", nil, nil)
}
