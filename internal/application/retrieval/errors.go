package retrieval

import "errors"

var (
	// ErrEmptyQuery 查询文本为空
	ErrEmptyQuery = errors.New("retrieval: query is empty")
)
