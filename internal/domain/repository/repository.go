// Package repository 定义领域仓储接口（port），由基础设施层实现
package repository

import (
	"context"
)

// TxKey 事务在 context 中的键
type TxKey struct{}

// Transactor 事务执行器
type Transactor interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// Pagination 分页参数
type Pagination struct {
	Page     int
	PageSize int
}

// Offset 计算偏移量
func (p Pagination) Offset() int {
	if p.Page <= 1 {
		return 0
	}
	return (p.Page - 1) * p.PageSize
}

// Limit 返回单页大小
func (p Pagination) Limit() int {
	if p.PageSize <= 0 {
		return 20
	}
	return p.PageSize
}

// PagedResult 分页结果
type PagedResult[T any] struct {
	Items      []T
	Total      int64
	Page       int
	PageSize   int
}
