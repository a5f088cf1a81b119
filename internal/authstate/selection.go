package authstate

import (
	"context"
	"fmt"

	"github.com/hitoshi/momentum/internal/repository"
)

// SelectionKey はセッションデータ内で選択中の組織IDを保持するキー。
const SelectionKey = "current_org_id"

// SelectionStore は選択中の組織IDをセッション単位で永続化するインターフェース。
type SelectionStore interface {
	// Get は選択中の組織IDを返す。未選択の場合は空文字列を返す。
	Get(ctx context.Context, sessionID string) (string, error)
	// Set は選択中の組織IDを保存する。
	Set(ctx context.Context, sessionID, organizationID string) error
	// Remove は選択を削除する。
	Remove(ctx context.Context, sessionID string) error
}

// SessionSelection はsessionsテーブルのdata列に選択を保存するSelectionStore。
type SessionSelection struct {
	sessions repository.SessionRepository
}

// NewSessionSelection はSessionSelectionを生成する。
func NewSessionSelection(sessions repository.SessionRepository) *SessionSelection {
	return &SessionSelection{sessions: sessions}
}

func (s *SessionSelection) Get(ctx context.Context, sessionID string) (string, error) {
	v, err := s.sessions.GetValue(ctx, sessionID, SelectionKey)
	if err != nil {
		return "", fmt.Errorf("failed to get organization selection: %w", err)
	}
	return v, nil
}

func (s *SessionSelection) Set(ctx context.Context, sessionID, organizationID string) error {
	if err := s.sessions.SetValue(ctx, sessionID, SelectionKey, organizationID); err != nil {
		return fmt.Errorf("failed to save organization selection: %w", err)
	}
	return nil
}

func (s *SessionSelection) Remove(ctx context.Context, sessionID string) error {
	if err := s.sessions.DeleteValue(ctx, sessionID, SelectionKey); err != nil {
		return fmt.Errorf("failed to remove organization selection: %w", err)
	}
	return nil
}

// compile-time interface check
var _ SelectionStore = (*SessionSelection)(nil)
