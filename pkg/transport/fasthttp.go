package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"golang.org/x/time/rate"

	"inboxsync/pkg/logger"
	"inboxsync/pkg/models"
)

// HTTPClient is the fasthttp-backed Client. Short JSON calls go through a
// shared fasthttp.Client with per-call deadlines; media uploads stream
// through net/http so an in-flight upload can be cancelled via ctx.
type HTTPClient struct {
	baseURL   string
	mediaPath string
	token     string
	timeout   time.Duration
	limiter   *rate.Limiter
	fc        *fasthttp.Client
	hc        *http.Client
}

// Options configures a new HTTPClient.
type Options struct {
	BaseURL   string
	MediaPath string
	Token     string
	Timeout   time.Duration
	RPS       float64
	Burst     int
}

func New(opts Options) *HTTPClient {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	rps := opts.RPS
	if rps <= 0 {
		rps = 10
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 20
	}
	mediaPath := opts.MediaPath
	if mediaPath == "" {
		mediaPath = "/media"
	}
	return &HTTPClient{
		baseURL:   strings.TrimRight(opts.BaseURL, "/"),
		mediaPath: mediaPath,
		token:     opts.Token,
		timeout:   timeout,
		limiter:   rate.NewLimiter(rate.Limit(rps), burst),
		fc:        &fasthttp.Client{ReadTimeout: timeout, WriteTimeout: timeout},
		hc:        &http.Client{},
	}
}

var _ Client = (*HTTPClient)(nil)

// do issues one JSON request and returns the response body. Failures are
// always *Error; the body is only valid for 2xx responses.
func (c *HTTPClient) do(ctx context.Context, op, method, path string, body any) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, &Error{Kind: KindValidation, Op: op, Err: err}
		}
		req.Header.SetContentType("application/json")
		req.SetBody(b)
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.fc.DoDeadline(req, resp, deadline); err != nil {
		logger.Warn("transport_request_failed", "op", op, "path", path, "error", err)
		return nil, &Error{Kind: KindNetwork, Op: op, Err: err}
	}
	status := resp.StatusCode()
	if status >= 300 {
		kind := classifyStatus(status)
		msg := strings.TrimSpace(string(resp.Body()))
		logger.Warn("transport_status_error", "op", op, "status", status, "kind", string(kind))
		return nil, &Error{Kind: kind, Op: op, Status: status, Msg: msg}
	}
	// copy out: resp body is pooled
	out := append([]byte(nil), resp.Body()...)
	return out, nil
}

func (c *HTTPClient) ListConversations(ctx context.Context, f Filters) (Page[models.Conversation], error) {
	var page Page[models.Conversation]
	q := url.Values{}
	if f.Status != "" {
		q.Set("status", string(f.Status))
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	if f.Cursor != "" {
		q.Set("cursor", f.Cursor)
	}
	path := "/conversations"
	if enc := q.Encode(); enc != "" {
		path += "?" + enc
	}
	b, err := c.do(ctx, "list_conversations", fasthttp.MethodGet, path, nil)
	if err != nil {
		return page, err
	}
	if err := json.Unmarshal(b, &page); err != nil {
		return page, &Error{Kind: KindNetwork, Op: "list_conversations", Err: fmt.Errorf("decode: %w", err)}
	}
	return page, nil
}

func (c *HTTPClient) ListMessages(ctx context.Context, convID, cursor string) (Page[models.Message], error) {
	var out Page[models.Message]
	path := "/conversations/" + url.PathEscape(convID) + "/messages"
	if cursor != "" {
		path += "?cursor=" + url.QueryEscape(cursor)
	}
	b, err := c.do(ctx, "list_messages", fasthttp.MethodGet, path, nil)
	if err != nil {
		return out, err
	}
	// wire pages are oldest-first remote messages
	var page Page[models.RemoteMessage]
	if err := json.Unmarshal(b, &page); err != nil {
		return out, &Error{Kind: KindNetwork, Op: "list_messages", Err: fmt.Errorf("decode: %w", err)}
	}
	out.NextCursor = page.NextCursor
	out.Items = make([]models.Message, 0, len(page.Items))
	for _, rm := range page.Items {
		if rm.ConvID == "" {
			rm.ConvID = convID
		}
		out.Items = append(out.Items, rm.Message())
	}
	return out, nil
}

func (c *HTTPClient) SendMessage(ctx context.Context, convID string, out Outgoing) (models.Message, error) {
	body := struct {
		Text        string   `json:"text,omitempty"`
		Attachments []string `json:"attachments,omitempty"`
	}{Text: out.Text}
	if out.AttachmentURL != "" {
		body.Attachments = []string{out.AttachmentURL}
	}
	b, err := c.do(ctx, "send_message", fasthttp.MethodPost, "/conversations/"+url.PathEscape(convID)+"/messages", body)
	if err != nil {
		return models.Message{}, err
	}
	var rm models.RemoteMessage
	if err := json.Unmarshal(b, &rm); err != nil {
		return models.Message{}, &Error{Kind: KindNetwork, Op: "send_message", Err: fmt.Errorf("decode: %w", err)}
	}
	if rm.ConvID == "" {
		rm.ConvID = convID
	}
	rm.Direction = models.DirOperator
	return rm.Message(), nil
}

func (c *HTTPClient) MarkRead(ctx context.Context, convID string) error {
	_, err := c.do(ctx, "mark_read", fasthttp.MethodPost, "/conversations/"+url.PathEscape(convID)+"/read", nil)
	return err
}

func (c *HTTPClient) UpdateLead(ctx context.Context, leadID string, patch models.LeadPatch) error {
	_, err := c.do(ctx, "update_lead", fasthttp.MethodPatch, "/leads/"+url.PathEscape(leadID), patch)
	return err
}

// UploadMedia streams a multipart upload. Uses net/http because fasthttp
// requests cannot be aborted mid-flight by a context.
func (c *HTTPClient) UploadMedia(ctx context.Context, name, contentType string, src io.Reader) (string, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return "", &Error{Kind: KindNetwork, Op: "upload_media", Err: err}
	}
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", name)
		if err == nil {
			_, err = io.Copy(part, src)
		}
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.mediaPath, pr)
	if err != nil {
		return "", &Error{Kind: KindValidation, Op: "upload_media", Err: err}
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.token)
	if contentType != "" {
		req.Header.Set("X-Media-Type", contentType)
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return "", &Error{Kind: KindNetwork, Op: "upload_media", Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		rb, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", &Error{Kind: classifyStatus(resp.StatusCode), Op: "upload_media", Status: resp.StatusCode, Msg: strings.TrimSpace(string(rb))}
	}
	var body struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", &Error{Kind: KindNetwork, Op: "upload_media", Err: fmt.Errorf("decode: %w", err)}
	}
	if body.URL == "" {
		return "", &Error{Kind: KindValidation, Op: "upload_media", Msg: "media endpoint returned no url"}
	}
	return body.URL, nil
}
