// Package classifier sends document payloads to the Gemini API and returns the
// structured verdict text. Uploaded files are always deleted before returning.
package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/rand"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"invoicewatch/internal"
	"invoicewatch/internal/config"
	"invoicewatch/internal/util"
)

const maxAttempts = 5

type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *RateLimiter
	log        *zap.Logger

	// backoff returns the wait before retry attempt n (1-based).
	backoff      func(attempt int) time.Duration
	pollInterval time.Duration
}

type fileHandle struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	MimeType string `json:"mimeType"`
	State    string `json:"state"`
}

type uploadResponse struct {
	File fileHandle `json:"file"`
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *fileData `json:"fileData,omitempty"`
}

type fileData struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
}

type generationConfig struct {
	ResponseMimeType string         `json:"responseMimeType"`
	ResponseSchema   map[string]any `json:"responseSchema"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func NewClient(cfg config.Config, log *zap.Logger) *Client {
	return &Client{
		baseURL:    strings.TrimRight(cfg.GeminiBaseURL, "/"),
		httpClient: &http.Client{Timeout: time.Duration(cfg.GeminiTimeoutMs) * time.Millisecond},
		limiter:    NewRateLimiter(cfg.GeminiRateLimitRPS),
		log:        log.Named("classifier"),
		backoff: func(attempt int) time.Duration {
			return time.Duration(250*(1<<(attempt-1))+rand.Intn(100)) * time.Millisecond
		},
		pollInterval: time.Second,
	}
}

// Classify uploads payload, asks the model for a verdict constrained to the response
// schema and deletes the upload. The returned text is valid JSON.
func (c *Client) Classify(ctx context.Context, payload internal.Payload, s config.Settings) (json.RawMessage, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}

	file, err := c.upload(ctx, payload, s)
	if err != nil {
		return nil, classificationFailed(err, "upload %s", payload.Name)
	}
	defer c.release(ctx, file, s)

	if err := c.waitActive(ctx, &file, s); err != nil {
		return nil, classificationFailed(err, "wait for %s", file.Name)
	}

	text, err := c.generate(ctx, payload, file, s)
	if err != nil {
		return nil, classificationFailed(err, "generate content for %s", payload.Name)
	}
	if !json.Valid([]byte(text)) {
		return nil, classificationFailed(errors.Newf("response is not JSON: %s", util.Truncate(text, 200)), "schema violation for %s", payload.Name)
	}
	return json.RawMessage(text), nil
}

func (c *Client) upload(ctx context.Context, payload internal.Payload, s config.Settings) (fileHandle, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	meta, _ := json.Marshal(map[string]any{"file": map[string]string{"display_name": payload.Name}})
	metaPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {"application/json; charset=UTF-8"}})
	if err != nil {
		return fileHandle{}, err
	}
	if _, err := metaPart.Write(meta); err != nil {
		return fileHandle{}, err
	}

	mediaType := util.FirstNonEmpty(payload.MediaType, internal.MediaTypePDF)
	dataPart, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {mediaType}})
	if err != nil {
		return fileHandle{}, err
	}
	if _, err := dataPart.Write(payload.Data); err != nil {
		return fileHandle{}, err
	}
	if err := mw.Close(); err != nil {
		return fileHandle{}, err
	}

	endpoint := c.baseURL + "/upload/" + s.Version + "/files"
	headers := http.Header{
		"Content-Type":           {"multipart/related; boundary=" + mw.Boundary()},
		"X-Goog-Upload-Protocol": {"multipart"},
	}

	var resp uploadResponse
	if err := c.do(ctx, http.MethodPost, endpoint, headers, body.Bytes(), s.Credential, &resp); err != nil {
		return fileHandle{}, err
	}
	if resp.File.Name == "" || resp.File.URI == "" {
		return fileHandle{}, errors.New("upload response has no file handle")
	}
	c.log.Debug("payload uploaded", zap.String("file", resp.File.Name), zap.String("payload", payload.Name))
	return resp.File, nil
}

// waitActive polls the uploaded file until the service finished processing it.
func (c *Client) waitActive(ctx context.Context, file *fileHandle, s config.Settings) error {
	for i := 0; file.State == "PROCESSING"; i++ {
		if i >= 30 {
			return errors.Newf("file %s still processing", file.Name)
		}
		timer := time.NewTimer(c.pollInterval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		if err := c.do(ctx, http.MethodGet, c.baseURL+"/"+s.Version+"/"+file.Name, nil, nil, s.Credential, file); err != nil {
			return err
		}
	}
	if file.State == "FAILED" {
		return errors.Newf("file %s failed processing", file.Name)
	}
	return nil
}

func (c *Client) generate(ctx context.Context, payload internal.Payload, file fileHandle, s config.Settings) (string, error) {
	req := generateRequest{
		Contents: []content{{
			Role: "user",
			Parts: []part{
				{Text: instruction + "\nFilename: " + payload.Name},
				{FileData: &fileData{MimeType: util.FirstNonEmpty(file.MimeType, payload.MediaType), FileURI: file.URI}},
			},
		}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema:   responseSchema,
		},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	model := s.Model
	if !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	endpoint := c.baseURL + "/" + s.Version + "/" + model + ":generateContent"

	var resp generateResponse
	if err := c.do(ctx, http.MethodPost, endpoint, http.Header{"Content-Type": {"application/json"}}, body, s.Credential, &resp); err != nil {
		return "", err
	}
	if len(resp.Candidates) == 0 {
		if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return "", errors.Newf("prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return "", errors.New("response has no candidates")
	}

	var text strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		text.WriteString(p.Text)
	}
	if strings.TrimSpace(text.String()) == "" {
		return "", errors.Newf("empty response (finish reason %s)", resp.Candidates[0].FinishReason)
	}
	return text.String(), nil
}

// release deletes the uploaded file. It runs even when ctx is already canceled.
func (c *Client) release(ctx context.Context, file fileHandle, s config.Settings) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 30*time.Second)
	defer cancel()

	endpoint := c.baseURL + "/" + s.Version + "/" + file.Name
	if err := c.do(ctx, http.MethodDelete, endpoint, nil, nil, s.Credential, nil); err != nil {
		c.log.Warn("failed to delete uploaded file", zap.String("file", file.Name), zap.Error(err))
		return
	}
	c.log.Debug("uploaded file deleted", zap.String("file", file.Name))
}

func (c *Client) do(ctx context.Context, method, endpoint string, headers http.Header, body []byte, cred config.Credential, out any) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return err
	}
	if cred.APIKey != "" {
		q := u.Query()
		q.Set("key", cred.APIKey)
		u.RawQuery = q.Encode()
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if err := c.limiter.WaitTurn(ctx); err != nil {
			return err
		}

		req, err := http.NewRequestWithContext(ctx, method, u.String(), bytes.NewReader(body))
		if err != nil {
			return err
		}
		for k, v := range headers {
			req.Header[k] = v
		}
		req.Header.Set("Accept", "application/json")
		if cred.IsToken() {
			token, err := cred.TokenSource.Token()
			if err != nil {
				return errors.Mark(errors.Wrap(err, "obtain access token"), internal.ErrConfiguration)
			}
			token.SetAuthHeader(req)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			lastErr = err
			if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
				return err
			}
			continue
		}

		respBody, readErr := io.ReadAll(resp.Body)
		_ = resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			lastErr = errors.Newf("gemini api error: status=%d body=%s", resp.StatusCode, util.Truncate(string(respBody), 500))
			if isRetryableStatus(resp.StatusCode) && attempt < maxAttempts {
				c.log.Debug("retrying gemini request", zap.Int("status", resp.StatusCode), zap.Int("attempt", attempt))
				if err := sleepCtx(ctx, c.backoff(attempt)); err != nil {
					return err
				}
				continue
			}
			return lastErr
		}

		if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
			return nil
		}
		if err := json.Unmarshal(respBody, out); err != nil {
			return errors.Wrap(err, "decode gemini response")
		}
		return nil
	}

	if lastErr == nil {
		lastErr = errors.New("gemini request failed")
	}
	return lastErr
}

func classificationFailed(err error, format string, args ...any) error {
	if errors.Is(err, internal.ErrConfiguration) {
		return err
	}
	return errors.Mark(errors.Wrapf(err, format, args...), internal.ErrClassificationFailed)
}

func isRetryableStatus(status int) bool {
	switch status {
	case 429, 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
