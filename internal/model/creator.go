package model

import "fmt"

// Creator はpixivの絵師（投稿アカウント）を表す。
// IDのみで参照され、表示名は必要時にAPIから取得する。
type Creator struct {
	ID      int64
	Name    string
	Account string
}

// DisplayName は表示用の絵師名を返す。
// 名前が取得できていない場合はIDベースの代替表記を返す。
func (c *Creator) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("絵師ID:%d", c.ID)
}
