package slackcmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

type slackAPI struct {
	http     *http.Client
	baseURL  string
	botToken string
	appToken string
}

func newSlackAPI(httpClient *http.Client, baseURL, botToken, appToken string) *slackAPI {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	baseURL = strings.TrimSpace(strings.TrimRight(baseURL, "/"))
	if baseURL == "" {
		baseURL = "https://slack.com/api"
	}
	return &slackAPI{
		http:     httpClient,
		baseURL:  baseURL,
		botToken: strings.TrimSpace(botToken),
		appToken: strings.TrimSpace(appToken),
	}
}

type slackAuthTestResponse struct {
	OK     bool   `json:"ok"`
	Error  string `json:"error,omitempty"`
	TeamID string `json:"team_id,omitempty"`
	UserID string `json:"user_id,omitempty"`
	BotID  string `json:"bot_id,omitempty"`
	Team   string `json:"team,omitempty"`
	User   string `json:"user,omitempty"`
}

type slackAuthTestResult struct {
	TeamID string
	UserID string
	BotID  string
	Team   string
	User   string
}

func (api *slackAPI) authTest(ctx context.Context) (slackAuthTestResult, error) {
	if api == nil {
		return slackAuthTestResult{}, fmt.Errorf("slack api is not initialized")
	}
	body, status, _, err := api.postAuthJSON(ctx, api.botToken, "/auth.test", nil)
	if err != nil {
		return slackAuthTestResult{}, err
	}
	if status < 200 || status >= 300 {
		return slackAuthTestResult{}, fmt.Errorf("slack auth.test http %d", status)
	}
	var out slackAuthTestResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return slackAuthTestResult{}, err
	}
	if !out.OK {
		return slackAuthTestResult{}, fmt.Errorf("slack auth.test failed: %s", errorCode(out.Error))
	}
	return slackAuthTestResult{
		TeamID: strings.TrimSpace(out.TeamID),
		UserID: strings.TrimSpace(out.UserID),
		BotID:  strings.TrimSpace(out.BotID),
		Team:   strings.TrimSpace(out.Team),
		User:   strings.TrimSpace(out.User),
	}, nil
}

type slackOpenConnectionResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	URL   string `json:"url,omitempty"`
}

func (api *slackAPI) openSocketURL(ctx context.Context) (string, error) {
	if api == nil {
		return "", fmt.Errorf("slack api is not initialized")
	}
	body, status, _, err := api.postAuthJSON(ctx, api.appToken, "/apps.connections.open", nil)
	if err != nil {
		return "", err
	}
	if status < 200 || status >= 300 {
		return "", fmt.Errorf("slack apps.connections.open http %d", status)
	}
	var out slackOpenConnectionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", err
	}
	if !out.OK {
		return "", fmt.Errorf("slack apps.connections.open failed: %s", errorCode(out.Error))
	}
	url := strings.TrimSpace(out.URL)
	if url == "" {
		return "", fmt.Errorf("slack apps.connections.open returned empty url")
	}
	return url, nil
}

func (api *slackAPI) connectSocket(ctx context.Context) (*websocket.Conn, error) {
	url, err := api.openSocketURL(ctx)
	if err != nil {
		return nil, err
	}
	dialer := *websocket.DefaultDialer
	conn, _, err := dialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type slackPostMessageRequest struct {
	Channel  string          `json:"channel"`
	Text     string          `json:"text"`
	ThreadTS string          `json:"thread_ts,omitempty"`
	Blocks   json.RawMessage `json:"blocks,omitempty"`
}

type slackPostMessageResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	TS    string `json:"ts,omitempty"`
}

// postMessage posts text (plus optional block kit blocks) and returns the
// message ts, retrying on rate limits and 5xx.
func (api *slackAPI) postMessage(ctx context.Context, channelID, text, threadTS string, blocks json.RawMessage) (string, error) {
	channelID = strings.TrimSpace(channelID)
	text = strings.TrimSpace(text)
	threadTS = strings.TrimSpace(threadTS)
	if channelID == "" {
		return "", fmt.Errorf("channel_id is required")
	}
	if text == "" {
		return "", fmt.Errorf("text is required")
	}
	const maxAttempts = 3
	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		body, status, headers, err := api.postAuthJSON(ctx, api.botToken, "/chat.postMessage", slackPostMessageRequest{
			Channel:  channelID,
			Text:     text,
			ThreadTS: threadTS,
			Blocks:   blocks,
		})
		if err != nil {
			lastErr = err
		} else {
			var out slackPostMessageResponse
			if parseErr := json.Unmarshal(body, &out); parseErr != nil {
				lastErr = parseErr
			} else if status < 200 || status >= 300 {
				lastErr = fmt.Errorf("slack chat.postMessage http %d", status)
			} else if out.OK {
				return strings.TrimSpace(out.TS), nil
			} else {
				lastErr = fmt.Errorf("slack chat.postMessage failed: %s", errorCode(out.Error))
			}
		}

		if attempt >= maxAttempts {
			break
		}
		wait, retryable := slackRetryDelay(status, headers, attempt)
		if !retryable {
			break
		}
		if err := sleepWithContext(ctx, wait); err != nil {
			return "", err
		}
	}
	return "", lastErr
}

type slackUpdateMessageRequest struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
	Text    string `json:"text"`
}

func (api *slackAPI) updateMessage(ctx context.Context, channelID, ts, text string) error {
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(ts) == "" {
		return fmt.Errorf("channel_id and ts are required")
	}
	body, status, _, err := api.postAuthJSON(ctx, api.botToken, "/chat.update", slackUpdateMessageRequest{
		Channel: strings.TrimSpace(channelID),
		TS:      strings.TrimSpace(ts),
		Text:    strings.TrimSpace(text),
	})
	if err != nil {
		return err
	}
	return checkOKResponse("chat.update", body, status)
}

type slackDeleteMessageRequest struct {
	Channel string `json:"channel"`
	TS      string `json:"ts"`
}

func (api *slackAPI) deleteMessage(ctx context.Context, channelID, ts string) error {
	if strings.TrimSpace(channelID) == "" || strings.TrimSpace(ts) == "" {
		return fmt.Errorf("channel_id and ts are required")
	}
	body, status, _, err := api.postAuthJSON(ctx, api.botToken, "/chat.delete", slackDeleteMessageRequest{
		Channel: strings.TrimSpace(channelID),
		TS:      strings.TrimSpace(ts),
	})
	if err != nil {
		return err
	}
	return checkOKResponse("chat.delete", body, status)
}

type slackOpenViewRequest struct {
	TriggerID string          `json:"trigger_id"`
	View      json.RawMessage `json:"view"`
}

func (api *slackAPI) openView(ctx context.Context, triggerID string, view json.RawMessage) error {
	triggerID = strings.TrimSpace(triggerID)
	if triggerID == "" {
		return fmt.Errorf("trigger_id is required")
	}
	if len(view) == 0 {
		return fmt.Errorf("view is required")
	}
	body, status, _, err := api.postAuthJSON(ctx, api.botToken, "/views.open", slackOpenViewRequest{
		TriggerID: triggerID,
		View:      view,
	})
	if err != nil {
		return err
	}
	return checkOKResponse("views.open", body, status)
}

// uploadResult is the single typed shape every upload tier normalizes into.
type uploadResult struct {
	FileID    string
	Permalink string
}

type slackGetUploadURLResponse struct {
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	UploadURL string `json:"upload_url,omitempty"`
	FileID    string `json:"file_id,omitempty"`
}

type slackCompleteUploadRequest struct {
	Files     []slackCompleteUploadFile `json:"files"`
	ChannelID string                    `json:"channel_id,omitempty"`
	ThreadTS  string                    `json:"thread_ts,omitempty"`
}

type slackCompleteUploadFile struct {
	ID    string `json:"id"`
	Title string `json:"title,omitempty"`
}

type slackCompleteUploadResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	Files []struct {
		ID        string `json:"id,omitempty"`
		Permalink string `json:"permalink,omitempty"`
	} `json:"files,omitempty"`
}

// uploadFileExternal is the preferred delivery path: reserve an upload URL,
// send the bytes, then finish the upload into the channel.
func (api *slackAPI) uploadFileExternal(ctx context.Context, channelID, threadTS, filename, title string, data []byte) (uploadResult, error) {
	if len(data) == 0 {
		return uploadResult{}, fmt.Errorf("file data is required")
	}
	form := "filename=" + filename + "&length=" + strconv.Itoa(len(data))
	body, status, _, err := api.postAuthForm(ctx, api.botToken, "/files.getUploadURLExternal", form)
	if err != nil {
		return uploadResult{}, err
	}
	if status < 200 || status >= 300 {
		return uploadResult{}, fmt.Errorf("slack files.getUploadURLExternal http %d", status)
	}
	var reserve slackGetUploadURLResponse
	if err := json.Unmarshal(body, &reserve); err != nil {
		return uploadResult{}, err
	}
	if !reserve.OK || strings.TrimSpace(reserve.UploadURL) == "" || strings.TrimSpace(reserve.FileID) == "" {
		return uploadResult{}, fmt.Errorf("slack files.getUploadURLExternal failed: %s", errorCode(reserve.Error))
	}

	putReq, err := http.NewRequestWithContext(ctx, http.MethodPost, reserve.UploadURL, bytes.NewReader(data))
	if err != nil {
		return uploadResult{}, err
	}
	putReq.Header.Set("Content-Type", "application/octet-stream")
	putResp, err := api.http.Do(putReq)
	if err != nil {
		return uploadResult{}, err
	}
	_, _ = io.Copy(io.Discard, putResp.Body)
	_ = putResp.Body.Close()
	if putResp.StatusCode < 200 || putResp.StatusCode >= 300 {
		return uploadResult{}, fmt.Errorf("slack upload url http %d", putResp.StatusCode)
	}

	completeBody, completeStatus, _, err := api.postAuthJSON(ctx, api.botToken, "/files.completeUploadExternal", slackCompleteUploadRequest{
		Files:     []slackCompleteUploadFile{{ID: reserve.FileID, Title: title}},
		ChannelID: strings.TrimSpace(channelID),
		ThreadTS:  strings.TrimSpace(threadTS),
	})
	if err != nil {
		return uploadResult{}, err
	}
	if completeStatus < 200 || completeStatus >= 300 {
		return uploadResult{}, fmt.Errorf("slack files.completeUploadExternal http %d", completeStatus)
	}
	var complete slackCompleteUploadResponse
	if err := json.Unmarshal(completeBody, &complete); err != nil {
		return uploadResult{}, err
	}
	if !complete.OK {
		return uploadResult{}, fmt.Errorf("slack files.completeUploadExternal failed: %s", errorCode(complete.Error))
	}
	result := uploadResult{FileID: reserve.FileID}
	if len(complete.Files) > 0 {
		if id := strings.TrimSpace(complete.Files[0].ID); id != "" {
			result.FileID = id
		}
		result.Permalink = strings.TrimSpace(complete.Files[0].Permalink)
	}
	return result, nil
}

type slackLegacyUploadResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
	File  struct {
		ID        string `json:"id,omitempty"`
		Permalink string `json:"permalink,omitempty"`
	} `json:"file,omitempty"`
}

// uploadFileLegacy is the fallback delivery path over the deprecated
// files.upload endpoint.
func (api *slackAPI) uploadFileLegacy(ctx context.Context, channelID, threadTS, filename, title string, data []byte) (uploadResult, error) {
	if len(data) == 0 {
		return uploadResult{}, fmt.Errorf("file data is required")
	}
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return uploadResult{}, err
	}
	if _, err := part.Write(data); err != nil {
		return uploadResult{}, err
	}
	_ = writer.WriteField("channels", strings.TrimSpace(channelID))
	if strings.TrimSpace(threadTS) != "" {
		_ = writer.WriteField("thread_ts", strings.TrimSpace(threadTS))
	}
	if strings.TrimSpace(title) != "" {
		_ = writer.WriteField("title", strings.TrimSpace(title))
	}
	if err := writer.Close(); err != nil {
		return uploadResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api.baseURL+"/files.upload", &buf)
	if err != nil {
		return uploadResult{}, err
	}
	req.Header.Set("Authorization", "Bearer "+api.botToken)
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := api.http.Do(req)
	if err != nil {
		return uploadResult{}, err
	}
	body, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return uploadResult{}, readErr
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return uploadResult{}, fmt.Errorf("slack files.upload http %d", resp.StatusCode)
	}
	var out slackLegacyUploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return uploadResult{}, err
	}
	if !out.OK {
		return uploadResult{}, fmt.Errorf("slack files.upload failed: %s", errorCode(out.Error))
	}
	return uploadResult{
		FileID:    strings.TrimSpace(out.File.ID),
		Permalink: strings.TrimSpace(out.File.Permalink),
	}, nil
}

func slackRetryDelay(status int, headers http.Header, attempt int) (time.Duration, bool) {
	switch {
	case status == http.StatusTooManyRequests:
		retryAfter := strings.TrimSpace(headers.Get("Retry-After"))
		if retryAfter == "" {
			return 1 * time.Second, true
		}
		secs, err := strconv.Atoi(retryAfter)
		if err != nil || secs <= 0 {
			return 1 * time.Second, true
		}
		return time.Duration(secs) * time.Second, true
	case status >= 500 && status <= 599:
		switch attempt {
		case 1:
			return 300 * time.Millisecond, true
		case 2:
			return 1 * time.Second, true
		default:
			return 2 * time.Second, true
		}
	default:
		return 0, false
	}
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
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

func checkOKResponse(method string, body []byte, status int) error {
	if status < 200 || status >= 300 {
		return fmt.Errorf("slack %s http %d", method, status)
	}
	var out struct {
		OK    bool   `json:"ok"`
		Error string `json:"error,omitempty"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		return err
	}
	if !out.OK {
		return fmt.Errorf("slack %s failed: %s", method, errorCode(out.Error))
	}
	return nil
}

func errorCode(code string) string {
	code = strings.TrimSpace(code)
	if code == "" {
		return "unknown_error"
	}
	return code
}

func (api *slackAPI) postAuthJSON(ctx context.Context, token, path string, payload any) ([]byte, int, http.Header, error) {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, nil, err
		}
		body = bytes.NewReader(raw)
	}
	return api.postAuth(ctx, token, path, "application/json", body)
}

func (api *slackAPI) postAuthForm(ctx context.Context, token, path, form string) ([]byte, int, http.Header, error) {
	return api.postAuth(ctx, token, path, "application/x-www-form-urlencoded", strings.NewReader(form))
}

func (api *slackAPI) postAuth(ctx context.Context, token, path, contentType string, body io.Reader) ([]byte, int, http.Header, error) {
	if api == nil || api.http == nil {
		return nil, 0, nil, fmt.Errorf("slack api is not initialized")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, 0, nil, fmt.Errorf("slack token is required")
	}
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, 0, nil, fmt.Errorf("slack api path is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, api.baseURL+path, body)
	if err != nil {
		return nil, 0, nil, err
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", contentType)

	resp, err := api.http.Do(req)
	if err != nil {
		return nil, 0, nil, err
	}
	raw, readErr := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if readErr != nil {
		return nil, resp.StatusCode, resp.Header, readErr
	}
	return raw, resp.StatusCode, resp.Header, nil
}
