package ingestion

import "errors"

var (
	// ErrEmptyReport 原始文本为空，无可摄取内容
	ErrEmptyReport = errors.New("ingestion: report text is empty")
	// ErrInvalidSourceType 未知的来源类型
	ErrInvalidSourceType = errors.New("ingestion: invalid source type")
)
