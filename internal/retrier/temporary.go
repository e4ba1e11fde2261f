package retrier

import "errors"

// Temporary 表示錯誤是暫時性的，重試可能成功
type Temporary interface {
	Temporary() bool
}

// IsTemporary 檢查錯誤是否實現 Temporary 接口
func IsTemporary(err error) bool {
	var temp Temporary
	if errors.As(err, &temp) {
		return temp.Temporary()
	}
	return false
}

type permanentError struct {
	err error
}

func (p *permanentError) Error() string   { return p.err.Error() }
func (p *permanentError) Unwrap() error   { return p.err }
func (p *permanentError) Temporary() bool { return false }

// Permanent 標記 err 不值得重試
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// IsPermanent 檢查 err 是否經 Permanent 標記
func IsPermanent(err error) bool {
	var p *permanentError
	return errors.As(err, &p)
}

// Retryable 默認分類，除永久性錯誤外都重試
func Retryable(err error) bool {
	return !IsPermanent(err)
}
