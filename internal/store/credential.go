package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// credentialDocument はrefresh_tokenの永続化フォーマット。
type credentialDocument struct {
	RefreshToken string `json:"refresh_token"`
}

// CredentialStore はpixivのrefresh_tokenを保持するストア。
// 購読ストアと同じアトミック置換方式で永続化する。
type CredentialStore struct {
	mu           sync.Mutex
	path         string
	refreshToken string
}

// NewCredentialStore は指定パスのJSONドキュメントを読み込んでストアを生成する。
// ファイルが存在しない場合は空トークンから開始する。
func NewCredentialStore(path string) (*CredentialStore, error) {
	s := &CredentialStore{path: path}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return s, nil
		}
		return nil, fmt.Errorf("認証情報ファイルの読み込みに失敗しました: %w", err)
	}

	var doc credentialDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("認証情報ファイルのパースに失敗しました: %w", err)
	}
	s.refreshToken = doc.RefreshToken

	return s, nil
}

// RefreshToken は現在のrefresh_tokenを返す。未設定の場合は空文字列。
func (s *CredentialStore) RefreshToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.refreshToken
}

// SetRefreshToken はrefresh_tokenを更新して永続化する。
func (s *CredentialStore) SetRefreshToken(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.refreshToken = token

	data, err := json.MarshalIndent(credentialDocument{RefreshToken: token}, "", "  ")
	if err != nil {
		return fmt.Errorf("認証情報のエンコードに失敗しました: %w", err)
	}
	return atomicWrite(s.path, data)
}
