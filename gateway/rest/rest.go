package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/docstamp/docstamp/gateway"
	"github.com/docstamp/docstamp/models"
	"github.com/docstamp/docstamp/session"
)

const (
	defaultTimeout = 30 * time.Second

	// Client-side ceiling on outbound requests; cancellation still wins
	// because the limiter waits on the request context.
	requestsPerSecond = 10
	burstLimit        = 20
)

// Gateway talks HTTP to the timestamping service. Authenticated calls go
// through a client whose transport injects the stored session's bearer
// token; anonymous calls use a bare client so a leftover session can never
// leak onto login, register or OTP requests.
type Gateway struct {
	baseURL    string
	anonClient *http.Client
	authClient *http.Client
	limiter    *rate.Limiter
}

func NewGateway(baseURL string, sessions session.Store, timeout time.Duration) *Gateway {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Gateway{
		baseURL: strings.TrimRight(baseURL, "/"),
		anonClient: &http.Client{
			Timeout: timeout,
		},
		authClient: &http.Client{
			Timeout: timeout,
			Transport: &oauth2.Transport{
				Source: &storeTokenSource{sessions: sessions},
			},
		},
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), burstLimit),
	}
}

// storeTokenSource adapts the session store to oauth2's TokenSource so the
// transport formats the Authorization header. A missing session surfaces as
// an unauthorized gateway error instead of a bare transport failure.
type storeTokenSource struct {
	sessions session.Store
}

func (s *storeTokenSource) Token() (*oauth2.Token, error) {
	sess, err := s.sessions.Get(context.Background())
	if err != nil {
		if errors.Is(err, session.ErrNoSession) {
			return nil, &gateway.Error{Kind: gateway.KindUnauthorized, Reason: "no active session"}
		}
		return nil, err
	}
	return &oauth2.Token{AccessToken: sess.AccessToken, TokenType: "Bearer"}, nil
}

type loginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	Requires2FA bool   `json:"requires_2fa"`
	TempToken   string `json:"temp_token"`
}

func (g *Gateway) Login(ctx context.Context, username, password string) (gateway.LoginResult, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/auth/token", strings.NewReader(form.Encode()))
	if err != nil {
		return gateway.LoginResult{}, &gateway.Error{Kind: gateway.KindUnknown, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := g.do(req, g.anonClient)
	if err != nil {
		return gateway.LoginResult{}, err
	}

	var body loginResponse
	if err := decodeResponse(resp, &body); err != nil {
		return gateway.LoginResult{}, err
	}
	return gateway.LoginResult{
		Requires2FA: body.Requires2FA,
		TempToken:   body.TempToken,
		AccessToken: body.AccessToken,
	}, nil
}

type registerRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type registerResponse struct {
	TempToken string `json:"temp_token"`
}

func (g *Gateway) Register(ctx context.Context, username, email, password string) (gateway.RegisterResult, error) {
	req, err := g.jsonRequest(ctx, http.MethodPost, "/auth/register", registerRequest{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return gateway.RegisterResult{}, err
	}

	resp, err := g.do(req, g.anonClient)
	if err != nil {
		return gateway.RegisterResult{}, err
	}

	var body registerResponse
	if err := decodeResponse(resp, &body); err != nil {
		return gateway.RegisterResult{}, err
	}
	return gateway.RegisterResult{TempToken: body.TempToken}, nil
}

type otpRequest struct {
	Code string `json:"code"`
}

type otpResponse struct {
	AccessToken string `json:"access_token"`
}

func (g *Gateway) VerifyOTP(ctx context.Context, mode models.ChallengeMode, tempToken, code string) (string, error) {
	path := "/auth/verify-login"
	if mode == models.ModeRegister {
		path = "/auth/verify-otp"
	}

	req, err := g.jsonRequest(ctx, http.MethodPost, path, otpRequest{Code: code})
	if err != nil {
		return "", err
	}
	req.Header.Set("X-Temp-Token", tempToken)

	resp, err := g.do(req, g.anonClient)
	if err != nil {
		return "", err
	}

	var body otpResponse
	if err := decodeResponse(resp, &body); err != nil {
		return "", err
	}
	if body.AccessToken == "" {
		return "", &gateway.Error{Kind: gateway.KindUnknown, Reason: "verification response carried no access token"}
	}
	return body.AccessToken, nil
}

func (g *Gateway) FetchProfile(ctx context.Context, accessToken string) (models.Profile, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/auth/me", nil)
	if err != nil {
		return models.Profile{}, &gateway.Error{Kind: gateway.KindUnknown, Reason: err.Error()}
	}
	// The explicit token, not the stored session: the session does not
	// exist yet while login is still in flight.
	(&oauth2.Token{AccessToken: accessToken, TokenType: "Bearer"}).SetAuthHeader(req)

	resp, err := g.do(req, g.anonClient)
	if err != nil {
		return models.Profile{}, err
	}

	var profile models.Profile
	if err := decodeResponse(resp, &profile); err != nil {
		return models.Profile{}, err
	}
	return profile, nil
}

func (g *Gateway) Upload(ctx context.Context, filename string, content io.Reader) (models.TimestampRecord, error) {
	req, err := g.multipartRequest(ctx, "/api/timestamps/upload", filename, content)
	if err != nil {
		return models.TimestampRecord{}, err
	}

	resp, err := g.do(req, g.authClient)
	if err != nil {
		return models.TimestampRecord{}, err
	}

	var record models.TimestampRecord
	if err := decodeResponse(resp, &record); err != nil {
		return models.TimestampRecord{}, err
	}
	return record, nil
}

type verifyResponse struct {
	Verified     bool                    `json:"verified"`
	OriginalName string                  `json:"original_name"`
	Record       *models.TimestampRecord `json:"record"`
}

func (g *Gateway) Verify(ctx context.Context, filename string, content io.Reader) (models.VerificationOutcome, error) {
	req, err := g.multipartRequest(ctx, "/api/timestamps/verify", filename, content)
	if err != nil {
		return models.VerificationOutcome{}, err
	}

	resp, err := g.do(req, g.authClient)
	if err != nil {
		return models.VerificationOutcome{}, err
	}

	var body verifyResponse
	if err := decodeResponse(resp, &body); err != nil {
		return models.VerificationOutcome{}, err
	}
	return models.VerificationOutcome{
		Verified:      body.Verified,
		MatchedRecord: body.Record,
	}, nil
}

func (g *Gateway) ListRecords(ctx context.Context, skip, limit int) ([]models.TimestampRecord, error) {
	query := url.Values{}
	query.Set("skip", fmt.Sprintf("%d", skip))
	query.Set("limit", fmt.Sprintf("%d", limit))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/timestamps/?"+query.Encode(), nil)
	if err != nil {
		return nil, &gateway.Error{Kind: gateway.KindUnknown, Reason: err.Error()}
	}

	resp, err := g.do(req, g.authClient)
	if err != nil {
		return nil, err
	}

	var records []models.TimestampRecord
	if err := decodeResponse(resp, &records); err != nil {
		return nil, err
	}
	return records, nil
}

func (g *Gateway) DeleteRecord(ctx context.Context, id int64) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, fmt.Sprintf("%s/api/timestamps/%d", g.baseURL, id), nil)
	if err != nil {
		return &gateway.Error{Kind: gateway.KindUnknown, Reason: err.Error()}
	}

	resp, err := g.do(req, g.authClient)
	if err != nil {
		return err
	}
	return decodeResponse(resp, nil)
}

type certificateResponse struct {
	Certificate string `json:"certificate"`
}

func (g *Gateway) FetchCertificate(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.baseURL+"/api/timestamps/cert", nil)
	if err != nil {
		return "", &gateway.Error{Kind: gateway.KindUnknown, Reason: err.Error()}
	}

	resp, err := g.do(req, g.anonClient)
	if err != nil {
		return "", err
	}

	var body certificateResponse
	if err := decodeResponse(resp, &body); err != nil {
		return "", err
	}
	return body.Certificate, nil
}

func (g *Gateway) jsonRequest(ctx context.Context, method, path string, payload any) (*http.Request, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, &gateway.Error{Kind: gateway.KindUnknown, Reason: err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, strings.NewReader(string(data)))
	if err != nil {
		return nil, &gateway.Error{Kind: gateway.KindUnknown, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// multipartRequest streams the file through a pipe so large documents are
// never buffered whole.
func (g *Gateway) multipartRequest(ctx context.Context, path, filename string, content io.Reader) (*http.Request, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		part, err := mw.CreateFormFile("file", filename)
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, content); err != nil {
			pw.CloseWithError(err)
			return
		}
		pw.CloseWithError(mw.Close())
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+path, pr)
	if err != nil {
		return nil, &gateway.Error{Kind: gateway.KindUnknown, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req, nil
}

// do applies the rate ceiling, tags the request for server-side correlation
// and normalizes transport failures.
func (g *Gateway) do(req *http.Request, client *http.Client) (*http.Response, error) {
	if err := g.limiter.Wait(req.Context()); err != nil {
		return nil, &gateway.Error{Kind: gateway.KindNetworkUnreachable, Reason: err.Error()}
	}
	if id, err := uuid.NewV4(); err == nil {
		req.Header.Set("X-Request-Id", id.String())
	}

	resp, err := client.Do(req)
	if err != nil {
		var gerr *gateway.Error
		if errors.As(err, &gerr) {
			// Token source failure (no stored session).
			return nil, gerr
		}
		return nil, &gateway.Error{Kind: gateway.KindNetworkUnreachable, Reason: err.Error()}
	}
	return resp, nil
}

// decodeResponse classifies non-2xx statuses and otherwise decodes the JSON
// body into out (out == nil just drains the body).
func decodeResponse(resp *http.Response, out any) error {
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return classify(resp)
	}
	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &gateway.Error{Kind: gateway.KindUnknown, Reason: "malformed response: " + err.Error()}
	}
	return nil
}

func classify(resp *http.Response) *gateway.Error {
	var kind gateway.ErrorKind
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		kind = gateway.KindUnauthorized
	case resp.StatusCode == http.StatusForbidden:
		kind = gateway.KindForbidden
	case resp.StatusCode == http.StatusNotFound:
		kind = gateway.KindNotFound
	case resp.StatusCode == http.StatusBadRequest,
		resp.StatusCode == http.StatusConflict,
		resp.StatusCode == http.StatusUnprocessableEntity:
		kind = gateway.KindUnprocessable
	case resp.StatusCode >= http.StatusInternalServerError:
		kind = gateway.KindServerFault
	default:
		kind = gateway.KindUnknown
	}
	return &gateway.Error{Kind: kind, Reason: extractDetail(resp.Body)}
}

// extractDetail pulls the server's detail message out of an error body. The
// service reports either a plain string or a list of {msg} objects.
func extractDetail(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 64*1024))
	if err != nil || len(data) == 0 {
		return ""
	}

	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(data, &envelope); err != nil || len(envelope.Detail) == 0 {
		return ""
	}

	var detail string
	if err := json.Unmarshal(envelope.Detail, &detail); err == nil {
		return detail
	}

	var items []struct {
		Msg string `json:"msg"`
	}
	if err := json.Unmarshal(envelope.Detail, &items); err == nil && len(items) > 0 {
		parts := make([]string, 0, len(items))
		for _, item := range items {
			if item.Msg != "" {
				parts = append(parts, item.Msg)
			}
		}
		return strings.Join(parts, "; ")
	}
	return ""
}
