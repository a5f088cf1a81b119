// Package backend は成果物生成バックエンドのHTTP APIクライアントを提供する。
// リクエストの組み立てとエラーの変換のみを行い、業務ロジックは持たない。
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/hitoshi/momentum/internal/model"
)

// maxResponseSize はバックエンド応答として読み取る最大バイト数。
const maxResponseSize = 10 * 1024 * 1024

// Recorder はバックエンド呼び出しのメトリクスを記録する。
type Recorder interface {
	RecordBackendRequest(route string, statusCode int, duration time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordBackendRequest(string, int, time.Duration) {}

// Client は生成バックエンドのAPIクライアント。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	recorder   Recorder
	baseURL    string
}

// NewClient はClientの新しいインスタンスを生成する。
// baseURLの末尾のスラッシュは取り除かれる。
func NewClient(baseURL string, httpClient *http.Client, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = NewHTTPClient(30 * time.Second)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		recorder:   nopRecorder{},
		baseURL:    strings.TrimRight(baseURL, "/"),
	}
}

// SetRecorder はメトリクスの記録先を設定する。
func (c *Client) SetRecorder(r Recorder) {
	if r != nil {
		c.recorder = r
	}
}

// NewHTTPClient はトレース伝播付きのHTTPクライアントを生成する。
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: otelhttp.NewTransport(http.DefaultTransport),
	}
}

// Upload はmultipartで送信するファイル。
type Upload struct {
	Filename string
	Content  io.Reader
}

// ListDeliverables は成果物の一覧を取得する。
// GET /deliverables
func (c *Client) ListDeliverables(ctx context.Context) ([]model.Deliverable, error) {
	var deliverables []model.Deliverable
	if err := c.doJSON(ctx, http.MethodGet, "/deliverables", nil, &deliverables); err != nil {
		return nil, err
	}
	if deliverables == nil {
		deliverables = []model.Deliverable{}
	}
	return deliverables, nil
}

// GetDeliverable は成果物を1件取得する。
// バックエンドがHTMLを直接返した場合は本文をHTMLとして扱う。
// GET /deliverables/{id}
func (c *Client) GetDeliverable(ctx context.Context, id string) (*model.Deliverable, error) {
	resp, err := c.send(ctx, http.MethodGet, "/deliverables/"+url.PathEscape(id), nil, "")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, model.NewDeliverableNotFoundError(id)
	}
	body, err := c.readBody(resp)
	if err != nil {
		return nil, err
	}

	mediaType, _, _ := mime.ParseMediaType(resp.Header.Get("Content-Type"))
	if mediaType != "application/json" {
		return &model.Deliverable{ID: id, HTML: string(body)}, nil
	}

	var d model.Deliverable
	if err := json.Unmarshal(body, &d); err != nil {
		return nil, c.decodeError(resp.Request, err)
	}
	if d.ID == "" {
		d.ID = id
	}
	return &d, nil
}

// generateRequest はPOST /generateのリクエストボディ。
type generateRequest struct {
	Transcript     string `json:"transcript"`
	ClientName     string `json:"client_name"`
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
	LogoURL        string `json:"logo_url,omitempty"`
	TemplateType   string `json:"template_type,omitempty"`
}

// Generate はトランスクリプトから成果物を生成する。
// POST /generate
func (c *Client) Generate(ctx context.Context, req model.GenerationRequest) (*model.GenerationResult, error) {
	body, err := json.Marshal(generateRequest{
		Transcript:     req.Transcript,
		ClientName:     req.ClientName,
		PrimaryColor:   req.PrimaryColor,
		SecondaryColor: req.SecondaryColor,
		LogoURL:        req.LogoURL,
		TemplateType:   req.TemplateType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode generate request: %w", err)
	}

	var result model.GenerationResult
	if err := c.doJSON(ctx, http.MethodPost, "/generate", bytes.NewReader(body), &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// UploadAudio は音声ファイルをアップロードして成果物を生成する。
// POST /upload (multipart/form-data)
func (c *Client) UploadAudio(ctx context.Context, req model.GenerationRequest, file Upload) (*model.GenerationResult, error) {
	fields := [][2]string{
		{"client_name", req.ClientName},
		{"primary_color", req.PrimaryColor},
		{"secondary_color", req.SecondaryColor},
	}
	if req.LogoURL != "" {
		fields = append(fields, [2]string{"logo_url", req.LogoURL})
	}
	if req.TemplateType != "" {
		fields = append(fields, [2]string{"template_type", req.TemplateType})
	}

	body, contentType, err := encodeMultipart(file, fields)
	if err != nil {
		return nil, err
	}

	var result model.GenerationResult
	if err := c.doMultipart(ctx, "/upload", body, contentType, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// PDFURL は成果物PDFの署名付きURLを取得する。
// GET /deliverables/{id}/pdf
func (c *Client) PDFURL(ctx context.Context, id string) (string, error) {
	var out struct {
		URL string `json:"url"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/deliverables/"+url.PathEscape(id)+"/pdf", nil, &out); err != nil {
		return "", err
	}
	if out.URL == "" {
		return "", model.NewBackendFailedError("PDF URL was not returned.")
	}
	return out.URL, nil
}

// UploadLogo はロゴ画像をアップロードし、保存先URLを返す。
// POST /brand/logo (multipart/form-data)
func (c *Client) UploadLogo(ctx context.Context, file Upload) (string, error) {
	body, contentType, err := encodeMultipart(file, nil)
	if err != nil {
		return "", err
	}

	var out struct {
		URL string `json:"url"`
	}
	if err := c.doMultipart(ctx, "/brand/logo", body, contentType, &out); err != nil {
		return "", err
	}
	return out.URL, nil
}

// GetBrandSettings はブランド設定を取得する。未設定のカラーはデフォルト値で補完する。
// GET /brand/settings
func (c *Client) GetBrandSettings(ctx context.Context) (model.BrandSettings, error) {
	var settings model.BrandSettings
	if err := c.doJSON(ctx, http.MethodGet, "/brand/settings", nil, &settings); err != nil {
		return model.BrandSettings{}, err
	}
	return settings.WithDefaults(), nil
}

// SaveBrandSettings はブランド設定を保存し、保存後の設定を返す。
// PUT /brand/settings
func (c *Client) SaveBrandSettings(ctx context.Context, settings model.BrandSettings) (model.BrandSettings, error) {
	body, err := json.Marshal(settings)
	if err != nil {
		return model.BrandSettings{}, fmt.Errorf("failed to encode brand settings: %w", err)
	}

	var out struct {
		Settings model.BrandSettings `json:"settings"`
	}
	if err := c.doJSON(ctx, http.MethodPut, "/brand/settings", bytes.NewReader(body), &out); err != nil {
		return model.BrandSettings{}, err
	}
	return out.Settings.WithDefaults(), nil
}

// doJSON はJSONリクエストを送信し、2xx応答をoutにデコードする。
func (c *Client) doJSON(ctx context.Context, method, path string, body io.Reader, out any) error {
	contentType := ""
	if body != nil {
		contentType = "application/json"
	}
	resp, err := c.send(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.decode(resp, out)
}

// doMultipart はmultipartリクエストを送信し、2xx応答をoutにデコードする。
func (c *Client) doMultipart(ctx context.Context, path string, body io.Reader, contentType string, out any) error {
	resp, err := c.send(ctx, http.MethodPost, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return c.decode(resp, out)
}

// send はリクエストを送信する。通信エラーはBACKEND_FAILEDに変換する。
func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to build backend request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.recorder.RecordBackendRequest(routeLabel(path), 0, time.Since(start))
		c.logger.Error("生成バックエンドの呼び出しに失敗しました",
			slog.String("method", method),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("backend request %s %s: %w", method, path, model.NewBackendFailedError(""))
	}
	c.recorder.RecordBackendRequest(routeLabel(path), resp.StatusCode, time.Since(start))
	return resp, nil
}

// routeLabel はメトリクスのラベル用に成果物IDを {id} に置き換える。
func routeLabel(path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	if len(segments) >= 2 && segments[0] == "deliverables" {
		segments[1] = "{id}"
	}
	return "/" + strings.Join(segments, "/")
}

// decode は応答ステータスを検証し、本文をoutにデコードする。
func (c *Client) decode(resp *http.Response, out any) error {
	body, err := c.readBody(resp)
	if err != nil {
		return err
	}
	if out == nil || len(bytes.TrimSpace(body)) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return c.decodeError(resp.Request, err)
	}
	return nil
}

// readBody は応答本文を読み取る。2xx以外はバックエンドのdetailを含むエラーを返す。
func (c *Client) readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read backend response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		detail := errorDetail(body)
		c.logger.Error("生成バックエンドがエラーステータスを返しました",
			slog.String("method", resp.Request.Method),
			slog.String("path", resp.Request.URL.Path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("detail", detail),
		)
		return nil, model.NewBackendFailedError(detail)
	}
	return body, nil
}

func (c *Client) decodeError(req *http.Request, err error) error {
	c.logger.Error("生成バックエンドの応答のパースに失敗しました",
		slog.String("path", req.URL.Path),
		slog.String("error", err.Error()),
	)
	return fmt.Errorf("failed to decode backend response: %w", model.NewBackendFailedError(""))
}

// errorDetail はエラー応答からdetailメッセージを取り出す。
// detailが文字列でない場合（検証エラーの配列など）は空文字列を返す。
func errorDetail(body []byte) string {
	var payload struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err != nil || len(payload.Detail) == 0 {
		return ""
	}
	var detail string
	if err := json.Unmarshal(payload.Detail, &detail); err != nil {
		return ""
	}
	return detail
}

// encodeMultipart はファイルとフォームフィールドをmultipart/form-dataにエンコードする。
func encodeMultipart(file Upload, fields [][2]string) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", file.Filename)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create form file: %w", err)
	}
	if _, err := io.Copy(part, file.Content); err != nil {
		return nil, "", fmt.Errorf("failed to write form file: %w", err)
	}
	for _, f := range fields {
		if err := w.WriteField(f[0], f[1]); err != nil {
			return nil, "", fmt.Errorf("failed to write form field %s: %w", f[0], err)
		}
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("failed to close multipart writer: %w", err)
	}
	return &buf, w.FormDataContentType(), nil
}
