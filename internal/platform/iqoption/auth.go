package iqoption

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

// AuthClient performs the one-shot login exchange and account switching
// against the broker's REST API. Session cookies are kept in its jar.
type AuthClient struct {
	baseURL    string
	platformID int
	httpClient *http.Client
}

// LoginResult is the credential and account snapshot from a login.
type LoginResult struct {
	SSID    string
	Profile domain.Profile
}

// APIURL returns the REST API root for a broker host.
func APIURL(host string) string {
	return "https://" + host + "/api"
}

// NewAuthClient creates a client for the API root, e.g. "https://iqoption.com/api".
func NewAuthClient(baseURL string, platformID int) (*AuthClient, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("iqoption: cookie jar: %w", err)
	}
	return &AuthClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		platformID: platformID,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
			Jar:     jar,
		},
	}, nil
}

// Login exchanges credentials for a session id and the account profile.
func (c *AuthClient) Login(ctx context.Context, username, password string) (LoginResult, error) {
	form := url.Values{"email": {username}, "password": {password}}
	resp, body, err := c.do(ctx, http.MethodPost, "/login", form)
	if err != nil {
		return LoginResult{}, fmt.Errorf("iqoption: login: %w", err)
	}

	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return LoginResult{}, fmt.Errorf("iqoption: decode login: %w", err)
	}
	if !lr.IsSuccessful {
		return LoginResult{}, fmt.Errorf("iqoption: login rejected: %v: %w", lr.Message, domain.ErrUnauthorized)
	}

	var ssid string
	for _, ck := range resp.Cookies() {
		if ck.Name == "ssid" {
			ssid = ck.Value
		}
	}
	if ssid == "" {
		return LoginResult{}, fmt.Errorf("iqoption: login: no ssid cookie: %w", domain.ErrUnauthorized)
	}
	c.setPlatformCookie()

	profile, err := lr.Result.toProfile()
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{SSID: ssid, Profile: profile}, nil
}

// ChangeBalance makes balanceID the active account on the server.
func (c *AuthClient) ChangeBalance(ctx context.Context, balanceID int64) error {
	form := url.Values{"balance_id": {strconv.FormatInt(balanceID, 10)}}
	if _, _, err := c.do(ctx, http.MethodPost, "/profile/changebalance", form); err != nil {
		return fmt.Errorf("iqoption: change balance %d: %w", balanceID, err)
	}
	return nil
}

// GetProfile fetches the current account profile.
func (c *AuthClient) GetProfile(ctx context.Context) (domain.Profile, error) {
	_, body, err := c.do(ctx, http.MethodGet, "/getprofile", nil)
	if err != nil {
		return domain.Profile{}, fmt.Errorf("iqoption: get profile: %w", err)
	}
	var lr loginResponse
	if err := json.Unmarshal(body, &lr); err != nil {
		return domain.Profile{}, fmt.Errorf("iqoption: decode profile: %w", err)
	}
	return lr.Result.toProfile()
}

func (c *AuthClient) setPlatformCookie() {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return
	}
	c.httpClient.Jar.SetCookies(u, []*http.Cookie{{
		Name:  "platform",
		Value: strconv.Itoa(c.platformID),
		Path:  "/",
	}})
}

func (c *AuthClient) do(ctx context.Context, method, path string, form url.Values) (*http.Response, []byte, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, nil, fmt.Errorf("create request: %w", err)
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, fmt.Errorf("read response: %w", err)
	}
	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, nil, fmt.Errorf("status %d: %w", resp.StatusCode, domain.ErrUnauthorized)
	case resp.StatusCode >= 300:
		return nil, nil, fmt.Errorf("status %d: %s", resp.StatusCode, string(data))
	}
	return resp, data, nil
}
