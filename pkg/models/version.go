package models

import (
	"strconv"
	"strings"

	goversion "github.com/hashicorp/go-version"
)

// VersionIdentifier 是目录条目中解析出的版本号：整数元组加 beta 标记，构造后不可变。
type VersionIdentifier struct {
	tuple []int64
	beta  bool
	v     *goversion.Version
}

// NewVersionIdentifier 由整数元组与 beta 标记构造版本号，元组至少包含 major 与 minor。
func NewVersionIdentifier(tuple []int64, beta bool) (VersionIdentifier, bool) {
	if len(tuple) < 2 {
		return VersionIdentifier{}, false
	}
	parts := make([]string, len(tuple))
	for i, n := range tuple {
		if n < 0 {
			return VersionIdentifier{}, false
		}
		parts[i] = strconv.FormatInt(n, 10)
	}
	raw := strings.Join(parts, ".")
	if beta {
		raw += "-beta"
	}
	v, err := goversion.NewVersion(raw)
	if err != nil {
		return VersionIdentifier{}, false
	}
	clone := make([]int64, len(tuple))
	copy(clone, tuple)
	return VersionIdentifier{tuple: clone, beta: beta, v: v}, true
}

// IsZero 表示未初始化的版本号。
func (v VersionIdentifier) IsZero() bool {
	return v.v == nil
}

// Tuple 返回数字元组副本。
func (v VersionIdentifier) Tuple() []int64 {
	clone := make([]int64, len(v.tuple))
	copy(clone, v.tuple)
	return clone
}

// Beta 返回 beta 标记。
func (v VersionIdentifier) Beta() bool {
	return v.beta
}

// Compare 先按整数元组逐项比较，元组相同时正式版大于 beta。返回 -1、0、1。
func (v VersionIdentifier) Compare(other VersionIdentifier) int {
	switch {
	case v.v == nil && other.v == nil:
		return 0
	case v.v == nil:
		return -1
	case other.v == nil:
		return 1
	}
	return v.v.Compare(other.v)
}

// CompareTuple 仅比较数字元组，忽略 beta 标记。
func (v VersionIdentifier) CompareTuple(other VersionIdentifier) int {
	switch {
	case v.v == nil && other.v == nil:
		return 0
	case v.v == nil:
		return -1
	case other.v == nil:
		return 1
	}
	return v.v.Core().Compare(other.v.Core())
}

// GreaterThan 判断 v 是否严格大于 other。
func (v VersionIdentifier) GreaterThan(other VersionIdentifier) bool {
	return v.Compare(other) > 0
}

// Equal 判断元组与 beta 标记均相同。
func (v VersionIdentifier) Equal(other VersionIdentifier) bool {
	return v.Compare(other) == 0
}

// Number 返回不带 beta 后缀的点分版本号，例如 1.678。
func (v VersionIdentifier) Number() string {
	parts := make([]string, len(v.tuple))
	for i, n := range v.tuple {
		parts[i] = strconv.FormatInt(n, 10)
	}
	return strings.Join(parts, ".")
}

// String 返回展示用字符串，beta 版本追加 " (beta)"。
func (v VersionIdentifier) String() string {
	if v.v == nil {
		return ""
	}
	if v.beta {
		return v.Number() + " (beta)"
	}
	return v.Number()
}

// Key 返回目录索引使用的键，同一元组的正式版与 beta 视为不同版本。
func (v VersionIdentifier) Key() string {
	if v.beta {
		return v.Number() + "-beta"
	}
	return v.Number()
}

// CatalogEntry 描述远程目录中的一条固件记录。
type CatalogEntry struct {
	Index          int                // 在展示列表中的 1 起始序号
	DisplayName    string             // 目录中的显示名称
	SourceLocation string             // 压缩包下载地址
	Version        VersionIdentifier  // 驱动版本
	OSVersion      *VersionIdentifier // 可选的系统版本，仅作展示信息
	OSBeta         bool               // 系统版本是否为 beta
}
