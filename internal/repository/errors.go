// Package repository 提供了数据访问层的实现。
// 敏感文本字段（消息、扫描结果、摘要）在这一层加密后落库，上层只处理明文结构体。
package repository

import "errors"

// ErrNotFound 表示记录不存在。
var ErrNotFound = errors.New("record not found")
