package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/momentum/internal/backend"
	"github.com/hitoshi/momentum/internal/deliverable"
	"github.com/hitoshi/momentum/internal/middleware"
	"github.com/hitoshi/momentum/internal/model"
)

// multipartMemory はmultipartフォームをメモリ上に保持する上限。超過分は一時ファイルに書き出される。
const multipartMemory = 8 << 20

// 生成種別（メトリクスのラベル）
const (
	generationText  = "text"
	generationAudio = "audio"
)

// DeliverableServiceInterface は成果物ハンドラーが必要とするサービスインターフェース。
type DeliverableServiceInterface interface {
	List(ctx context.Context) ([]deliverable.Summary, error)
	Get(ctx context.Context, id string) (*model.Deliverable, error)
	GenerateFromText(ctx context.Context, req model.GenerationRequest) (string, error)
	GenerateFromAudio(ctx context.Context, req model.GenerationRequest, file backend.Upload) (string, error)
	OpenPDF(ctx context.Context, id string) (*deliverable.PDF, error)
	BrandSettings(ctx context.Context) (model.BrandSettings, error)
	SaveBrandSettings(ctx context.Context, settings model.BrandSettings) (model.BrandSettings, error)
	UploadLogo(ctx context.Context, file backend.Upload) (string, error)
}

// GenerationRecorder は成果物生成の結果を記録する。
type GenerationRecorder interface {
	RecordGeneration(kind string, err error)
}

type nopGenerationRecorder struct{}

func (nopGenerationRecorder) RecordGeneration(string, error) {}

// DeliverableHandler は成果物とブランド設定のHTTPハンドラー。
type DeliverableHandler struct {
	service       DeliverableServiceInterface
	recorder      GenerationRecorder
	uploadMaxSize int64
}

// NewDeliverableHandler はDeliverableHandlerを生成する。
// uploadMaxSizeは音声・ロゴアップロードのリクエストボディ上限（バイト）。
func NewDeliverableHandler(service DeliverableServiceInterface, uploadMaxSize int64, recorder GenerationRecorder) *DeliverableHandler {
	if recorder == nil {
		recorder = nopGenerationRecorder{}
	}
	return &DeliverableHandler{
		service:       service,
		recorder:      recorder,
		uploadMaxSize: uploadMaxSize,
	}
}

// generateRequest はテキストからの成果物生成リクエストのボディ。
type generateRequest struct {
	ClientName     string `json:"client_name"`
	Transcript     string `json:"transcript"`
	PrimaryColor   string `json:"primary_color"`
	SecondaryColor string `json:"secondary_color"`
	LogoURL        string `json:"logo_url"`
	TemplateType   string `json:"template_type"`
}

func (r generateRequest) toModel() model.GenerationRequest {
	return model.GenerationRequest{
		ClientName:     r.ClientName,
		Transcript:     r.Transcript,
		PrimaryColor:   r.PrimaryColor,
		SecondaryColor: r.SecondaryColor,
		LogoURL:        r.LogoURL,
		TemplateType:   r.TemplateType,
	}
}

// generatedResponse は生成結果のAPIレスポンス。
type generatedResponse struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

func newGeneratedResponse(id string) generatedResponse {
	return generatedResponse{ID: id, URL: "/deliverables/" + id}
}

// List は成果物の一覧を返す。
// GET /api/deliverables
func (h *DeliverableHandler) List(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.service.List(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summaries)
}

// Get は成果物を1件返す。HTMLはサニタイズ済み。
// GET /api/deliverables/{id}
func (h *DeliverableHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Generate はトランスクリプトから成果物を生成する。
// POST /api/deliverables/generate
func (h *DeliverableHandler) Generate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.service.GenerateFromText(r.Context(), req.toModel())
	h.recorder.RecordGeneration(generationText, err)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newGeneratedResponse(id))
}

// Upload は音声ファイルから成果物を生成する。
// multipartのフィールド: file, client_name, primary_color, secondary_color, logo_url, template_type
// POST /api/deliverables/upload
func (h *DeliverableHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if !h.parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	req := model.GenerationRequest{
		ClientName:     r.FormValue("client_name"),
		PrimaryColor:   r.FormValue("primary_color"),
		SecondaryColor: r.FormValue("secondary_color"),
		LogoURL:        r.FormValue("logo_url"),
		TemplateType:   r.FormValue("template_type"),
	}

	upload, closeFile, err := formUpload(r, "file")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer closeFile()

	id, err := h.service.GenerateFromAudio(r.Context(), req, upload)
	h.recorder.RecordGeneration(generationAudio, err)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newGeneratedResponse(id))
}

// DownloadPDF は成果物のPDFをストリーミングでダウンロードさせる。
// GET /api/deliverables/{id}/pdf, GET /deliverables/{id}/download
func (h *DeliverableHandler) DownloadPDF(w http.ResponseWriter, r *http.Request) {
	pdf, err := h.service.OpenPDF(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer pdf.Body.Close()

	w.Header().Set("Content-Type", pdf.ContentType)
	w.Header().Set("Content-Disposition", pdf.ContentDisposition())
	if pdf.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(pdf.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, pdf.Body); err != nil {
		slog.Error("PDF streaming interrupted",
			slog.String("filename", pdf.Filename),
			slog.String("error", err.Error()),
		)
		// ヘッダー送信後のため、接続を切断して不完全なファイルを完了扱いにさせない
		panic(http.ErrAbortHandler)
	}
}

// GetBrand は保存済みのブランド設定を返す。未設定のカラーはデフォルト値で補完される。
// GET /api/brand
func (h *DeliverableHandler) GetBrand(w http.ResponseWriter, r *http.Request) {
	settings, err := h.service.BrandSettings(r.Context())
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

// SaveBrand はブランド設定を保存する。
// PUT /api/brand
func (h *DeliverableHandler) SaveBrand(w http.ResponseWriter, r *http.Request) {
	var settings model.BrandSettings
	if !decodeJSON(w, r, &settings) {
		return
	}

	saved, err := h.service.SaveBrandSettings(r.Context(), settings)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, saved)
}

// UploadLogo はロゴ画像をアップロードし、保存先URLを返す。
// POST /api/brand/logo
func (h *DeliverableHandler) UploadLogo(w http.ResponseWriter, r *http.Request) {
	if !h.parseMultipart(w, r) {
		return
	}
	defer r.MultipartForm.RemoveAll()

	upload, closeFile, err := formUpload(r, "file")
	if err != nil {
		handleServiceError(w, err)
		return
	}
	defer closeFile()

	url, err := h.service.UploadLogo(r.Context(), upload)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}

// parseMultipart はリクエストボディの上限を設定してmultipartフォームを解析する。
// 失敗した場合はエラーレスポンスを書き込み、falseを返す。
func (h *DeliverableHandler) parseMultipart(w http.ResponseWriter, r *http.Request) bool {
	if h.uploadMaxSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.uploadMaxSize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			middleware.WriteErrorResponse(w, http.StatusRequestEntityTooLarge,
				model.NewValidationError("ファイルサイズが大きすぎます（上限 "+strconv.FormatInt(tooLarge.Limit>>20, 10)+" MB）。"))
			return false
		}
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError())
		return false
	}
	return true
}

// formUpload はフォームのファイルフィールドをUploadに変換する。
// ファイルが添付されていない場合は空のUploadを返し、検証はサービス層に委ねる。
func formUpload(r *http.Request, field string) (backend.Upload, func(), error) {
	file, header, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return backend.Upload{}, func() {}, nil
	}
	if err != nil {
		return backend.Upload{}, func() {}, err
	}
	return backend.Upload{Filename: header.Filename, Content: file}, func() { file.Close() }, nil
}
