// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, merge, validation, expense, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidCredential  = "AUTH_INVALID_CREDENTIAL"
	ErrCodeUserNotFound       = "AUTH_USER_NOT_FOUND"
	ErrCodeInvalidEmail       = "AUTH_INVALID_EMAIL"
	ErrCodeEmailInUse         = "AUTH_EMAIL_IN_USE"
	ErrCodeWeakPassword       = "AUTH_WEAK_PASSWORD"
	ErrCodeMergeRequired      = "MERGE_REQUIRED"
	ErrCodeMergeWrongPassword = "MERGE_WRONG_PASSWORD"
	ErrCodeMergeLinkFailed    = "MERGE_LINK_FAILED"
	ErrCodeMergeUnsupported   = "MERGE_UNSUPPORTED_KIND"
	ErrCodeMergeNotPending    = "MERGE_NOT_PENDING"
	ErrCodeInvalidAmount      = "VALIDATION_INVALID_AMOUNT"
	ErrCodeMissingCategory    = "VALIDATION_MISSING_CATEGORY"
	ErrCodeExpenseNotFound    = "EXPENSE_NOT_FOUND"
)

// NewInvalidCredentialError は認証情報不一致エラーを生成する。
// メールアドレスの存在有無を推測させないため、未登録の場合と同じ文言を使う。
func NewInvalidCredentialError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCredential,
		Message:  "メールアドレスまたはパスワードが正しくありません。",
		Category: "auth",
		Action:   "入力内容を確認して再度お試しください。",
	}
}

// NewUserNotFoundError はユーザー未登録エラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "このメールアドレスのユーザーは登録されていません。",
		Category: "auth",
		Action:   "先にサインアップしてください。",
	}
}

// NewInvalidEmailError は無効なメールアドレスエラーを生成する。
func NewInvalidEmailError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidEmail,
		Message:  "メールアドレスの形式が正しくありません。",
		Category: "auth",
		Action:   "正しいメールアドレスを入力してください。",
	}
}

// NewEmailInUseError はメールアドレス重複エラーを生成する。
func NewEmailInUseError() *APIError {
	return &APIError{
		Code:     ErrCodeEmailInUse,
		Message:  "このメールアドレスは既に登録されています。",
		Category: "auth",
		Action:   "ログインするか、別のメールアドレスでサインアップしてください。",
	}
}

// NewWeakPasswordError はパスワード強度不足エラーを生成する。
func NewWeakPasswordError(minLength int) *APIError {
	return &APIError{
		Code:     ErrCodeWeakPassword,
		Message:  fmt.Sprintf("パスワードは%d文字以上で設定してください。", minLength),
		Category: "auth",
		Action:   "より長いパスワードを入力してください。",
	}
}

// NewMergeRequiredError は認証手段の衝突を表すエラーを生成する。
// 通常のエラーとは異なり、アカウント統合フローへの遷移を指示する。
func NewMergeRequiredError(email string) *APIError {
	return &APIError{
		Code:     ErrCodeMergeRequired,
		Message:  fmt.Sprintf("メールアドレス %s は既にパスワードで登録されています。", email),
		Category: "merge",
		Action:   "パスワードを入力してアカウントを統合してください。",
	}
}

// NewMergeWrongPasswordError は統合時のパスワード不一致エラーを生成する。
// ユーザーによる再入力で回復可能。自動リトライはしない。
func NewMergeWrongPasswordError() *APIError {
	return &APIError{
		Code:     ErrCodeMergeWrongPassword,
		Message:  "パスワードが正しくありません。",
		Category: "merge",
		Action:   "パスワードを確認して再度入力してください。",
	}
}

// NewMergeLinkFailedError は再認証成功後のリンク失敗エラーを生成する。
// セッション自体はパスワード認証で確立済みのため、ログイン状態は維持される。
func NewMergeLinkFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeMergeLinkFailed,
		Message:  "Googleアカウントのリンクに失敗しました。パスワードでのログインは完了しています。",
		Category: "merge",
		Action:   "しばらく待ってから、再度Googleログインをお試しください。",
	}
}

// NewMergeUnsupportedKindError は統合先の認証手段が存在しない場合のエラーを生成する。
func NewMergeUnsupportedKindError() *APIError {
	return &APIError{
		Code:     ErrCodeMergeUnsupported,
		Message:  "このメールアドレスにはパスワード認証が登録されていないため、自動統合できません。",
		Category: "merge",
		Action:   "登録時に使用した方法でログインしてください。",
	}
}

// NewMergeNotPendingError は保留中の統合が存在しない場合のエラーを生成する。
func NewMergeNotPendingError() *APIError {
	return &APIError{
		Code:     ErrCodeMergeNotPending,
		Message:  "統合待ちのGoogleログインが見つかりません。",
		Category: "merge",
		Action:   "もう一度Googleログインからやり直してください。",
	}
}

// NewInvalidAmountError は金額バリデーションエラーを生成する。
// ストアへの書き込み前にローカルで検出される。
func NewInvalidAmountError(input string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAmount,
		Message:  fmt.Sprintf("金額が正しくありません: %s", input),
		Category: "validation",
		Action:   "0より大きい数値を入力してください。",
	}
}

// NewMissingCategoryError はカテゴリ未入力エラーを生成する。
func NewMissingCategoryError() *APIError {
	return &APIError{
		Code:     ErrCodeMissingCategory,
		Message:  "カテゴリが入力されていません。",
		Category: "validation",
		Action:   "カテゴリを入力してください。",
	}
}

// NewExpenseNotFoundError は支出レコード未検出エラーを生成する。
func NewExpenseNotFoundError(id string) *APIError {
	return &APIError{
		Code:     ErrCodeExpenseNotFound,
		Message:  fmt.Sprintf("指定された支出レコードが見つかりません: %s", id),
		Category: "expense",
		Action:   "レコードIDを確認してください。",
	}
}
