package consensus

import "fmt"

type ErrorCode string

const (
	HEADER_ERR_PARSE          ErrorCode = "HEADER_ERR_PARSE"
	HEADER_ERR_TARGET_INVALID ErrorCode = "HEADER_ERR_TARGET_INVALID"
	HEADER_ERR_POW_INVALID    ErrorCode = "HEADER_ERR_POW_INVALID"
)

type HeaderError struct {
	Code ErrorCode
	Msg  string
}

func (e *HeaderError) Error() string {
	if e == nil {
		return "<nil>"
	}
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

func hdrerr(code ErrorCode, msg string) error {
	return &HeaderError{Code: code, Msg: msg}
}
