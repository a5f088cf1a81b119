// Package deliverable は成果物の生成・一覧・閲覧・PDFダウンロードのドメインロジックを提供する。
// 生成そのものは外部の生成バックエンドが行い、このパッケージは入力検証と表示用の加工を担う。
package deliverable

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/hitoshi/momentum/internal/backend"
	"github.com/hitoshi/momentum/internal/model"
	"github.com/hitoshi/momentum/internal/security"
)

// 入力検証メッセージ
const (
	msgClientNameRequired = "Please enter a client name."
	msgTranscriptRequired = "Please paste a transcript or notes."
	msgAudioRequired      = "Please choose an audio file (MP3, M4A, MP4, WAV)."
)

// audioExtensions はアップロードを受け付ける音声ファイルの拡張子。
var audioExtensions = map[string]bool{
	".mp3": true,
	".m4a": true,
	".mp4": true,
	".wav": true,
}

// Backend はサービスが必要とする生成バックエンドの操作。
type Backend interface {
	ListDeliverables(ctx context.Context) ([]model.Deliverable, error)
	GetDeliverable(ctx context.Context, id string) (*model.Deliverable, error)
	Generate(ctx context.Context, req model.GenerationRequest) (*model.GenerationResult, error)
	UploadAudio(ctx context.Context, req model.GenerationRequest, file backend.Upload) (*model.GenerationResult, error)
	PDFURL(ctx context.Context, id string) (string, error)
	UploadLogo(ctx context.Context, file backend.Upload) (string, error)
	GetBrandSettings(ctx context.Context) (model.BrandSettings, error)
	SaveBrandSettings(ctx context.Context, settings model.BrandSettings) (model.BrandSettings, error)
}

var _ Backend = (*backend.Client)(nil)

// Summary はダッシュボードの一覧に表示する成果物の要約。
type Summary struct {
	ID         string `json:"id"`
	ClientName string `json:"client_name"`
	CreatedAt  string `json:"created_at"`
	Excerpt    string `json:"excerpt"`
}

// PDF はダウンロード中のPDF。呼び出し元はBodyを閉じる必要がある。
type PDF struct {
	Body          io.ReadCloser
	ContentType   string
	ContentLength int64
	Filename      string
}

// Service は成果物のサービス層。
type Service struct {
	backend   Backend
	sanitizer security.DeliverableSanitizer
	guard     security.SSRFGuardService
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(b Backend, sanitizer security.DeliverableSanitizer, guard security.SSRFGuardService) *Service {
	return &Service{
		backend:   b,
		sanitizer: sanitizer,
		guard:     guard,
	}
}

// List は成果物の一覧を本文の抜粋付きで返す。
func (s *Service) List(ctx context.Context) ([]Summary, error) {
	deliverables, err := s.backend.ListDeliverables(ctx)
	if err != nil {
		return nil, err
	}

	summaries := make([]Summary, 0, len(deliverables))
	for _, d := range deliverables {
		sum := Summary{
			ID:         d.ID,
			ClientName: d.ClientName,
			Excerpt:    Excerpt(d.HTML, excerptLength),
		}
		if !d.CreatedAt.IsZero() {
			sum.CreatedAt = d.CreatedAt.UTC().Format(time.RFC3339)
		}
		summaries = append(summaries, sum)
	}
	return summaries, nil
}

// Get は成果物を取得し、サニタイズ済みのHTMLを返す。
func (s *Service) Get(ctx context.Context, id string) (*model.Deliverable, error) {
	if strings.TrimSpace(id) == "" {
		return nil, model.NewDeliverableNotFoundError(id)
	}
	d, err := s.backend.GetDeliverable(ctx, id)
	if err != nil {
		return nil, err
	}
	d.HTML = s.sanitizer.Sanitize(d.HTML)
	return d, nil
}

// GenerateFromText はトランスクリプトから成果物を生成し、成果物IDを返す。
func (s *Service) GenerateFromText(ctx context.Context, req model.GenerationRequest) (string, error) {
	if err := ValidateText(req); err != nil {
		return "", err
	}
	req = s.withBrand(ctx, req)

	result, err := s.backend.Generate(ctx, req)
	if err != nil {
		return "", err
	}
	return generatedID(result, req)
}

// GenerateFromAudio は音声ファイルから成果物を生成し、成果物IDを返す。
func (s *Service) GenerateFromAudio(ctx context.Context, req model.GenerationRequest, file backend.Upload) (string, error) {
	if err := ValidateAudio(req, file.Filename); err != nil {
		return "", err
	}
	req = s.withBrand(ctx, req)

	result, err := s.backend.UploadAudio(ctx, req, file)
	if err != nil {
		return "", err
	}
	return generatedID(result, req)
}

// OpenPDF は成果物PDFの署名付きURLを取得し、SSRF防止付きクライアントで開く。
func (s *Service) OpenPDF(ctx context.Context, id string) (*PDF, error) {
	signedURL, err := s.backend.PDFURL(ctx, id)
	if err != nil {
		return nil, err
	}

	resp, err := s.guard.Fetch(ctx, signedURL)
	if err != nil {
		slog.Error("failed to fetch deliverable PDF",
			slog.String("deliverable_id", id),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("PDFの取得に失敗しました: %w", model.NewBackendFailedError("Failed to generate PDF. Please try again."))
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/pdf"
	}
	return &PDF{
		Body:          resp.Body,
		ContentType:   contentType,
		ContentLength: resp.ContentLength,
		Filename:      pdfFilename(id),
	}, nil
}

// pdfFilename は成果物IDからダウンロード用のファイル名を作る。
// 英数字・"-"・"_" 以外の文字は "_" に置き換える。
func pdfFilename(id string) string {
	safe := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		}
		return '_'
	}, id)
	return "deliverable-" + safe + ".pdf"
}

// BrandSettings は保存済みのブランド設定を返す。
func (s *Service) BrandSettings(ctx context.Context) (model.BrandSettings, error) {
	return s.backend.GetBrandSettings(ctx)
}

// SaveBrandSettings はブランド設定を検証して保存する。
func (s *Service) SaveBrandSettings(ctx context.Context, settings model.BrandSettings) (model.BrandSettings, error) {
	settings = settings.WithDefaults()
	if !validColor(settings.PrimaryColor) || !validColor(settings.SecondaryColor) {
		return model.BrandSettings{}, model.NewValidationError("カラーは #RRGGBB 形式で指定してください。")
	}
	if settings.LogoURL != "" {
		if err := s.guard.ValidateURL(settings.LogoURL); err != nil {
			return model.BrandSettings{}, model.NewInvalidURLError(err.Error())
		}
	}
	return s.backend.SaveBrandSettings(ctx, settings)
}

// UploadLogo はロゴ画像をアップロードし、保存先URLを返す。
func (s *Service) UploadLogo(ctx context.Context, file backend.Upload) (string, error) {
	if strings.TrimSpace(file.Filename) == "" || file.Content == nil {
		return "", model.NewValidationError("ロゴ画像を選択してください。")
	}
	return s.backend.UploadLogo(ctx, file)
}

// withBrand は未指定のブランド設定を保存済みの設定で補完する。
// 保存済み設定の取得に失敗した場合はデフォルトカラーで続行する。
func (s *Service) withBrand(ctx context.Context, req model.GenerationRequest) model.GenerationRequest {
	if req.TemplateType == "" {
		req.TemplateType = model.TemplateActionPlan
	}
	if req.PrimaryColor != "" && req.SecondaryColor != "" {
		return req
	}

	saved, err := s.backend.GetBrandSettings(ctx)
	if err != nil {
		slog.Warn("failed to load brand settings, using defaults",
			slog.String("error", err.Error()),
		)
		saved = model.BrandSettings{}.WithDefaults()
	}
	if req.PrimaryColor == "" {
		req.PrimaryColor = saved.PrimaryColor
	}
	if req.SecondaryColor == "" {
		req.SecondaryColor = saved.SecondaryColor
	}
	if req.LogoURL == "" {
		req.LogoURL = saved.LogoURL
	}
	return req
}

// ValidateText はテキスト生成の入力を検証する。
func ValidateText(req model.GenerationRequest) error {
	if strings.TrimSpace(req.ClientName) == "" {
		return model.NewValidationError(msgClientNameRequired)
	}
	if strings.TrimSpace(req.Transcript) == "" {
		return model.NewValidationError(msgTranscriptRequired)
	}
	return nil
}

// ValidateAudio は音声アップロードの入力を検証する。
func ValidateAudio(req model.GenerationRequest, filename string) error {
	if strings.TrimSpace(req.ClientName) == "" {
		return model.NewValidationError(msgClientNameRequired)
	}
	if strings.TrimSpace(filename) == "" {
		return model.NewValidationError(msgAudioRequired)
	}
	if !audioExtensions[strings.ToLower(filepath.Ext(filename))] {
		return model.NewUnsupportedAudioFileError(filename)
	}
	return nil
}

func generatedID(result *model.GenerationResult, req model.GenerationRequest) (string, error) {
	if result == nil || result.ID == "" {
		return "", model.NewMissingDeliverableIDError()
	}
	slog.Info("deliverable generated",
		slog.String("deliverable_id", result.ID),
		slog.String("client_name", req.ClientName),
		slog.String("template_type", req.TemplateType),
	)
	return result.ID, nil
}

func validColor(c string) bool {
	if len(c) != 7 || c[0] != '#' {
		return false
	}
	for _, r := range c[1:] {
		switch {
		case r >= '0' && r <= '9', r >= 'a' && r <= 'f', r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}

// ContentDisposition はダウンロード用のContent-Dispositionヘッダー値を返す。
func (p *PDF) ContentDisposition() string {
	if v := mime.FormatMediaType("attachment", map[string]string{"filename": p.Filename}); v != "" {
		return v
	}
	return "attachment"
}
