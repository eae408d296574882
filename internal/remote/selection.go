package remote

import (
	"strconv"
	"strings"

	"github.com/liangyou/fwinstall/internal/fault"
	"github.com/liangyou/fwinstall/pkg/models"
)

// ParseSelection 解析逗号分隔的 1 起始序号。任一项非法时整个输入被拒绝，不返回部分结果。
// 重复序号只保留第一次出现的位置。
func ParseSelection(input string, n int) ([]int, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, fault.Newf(fault.ErrInvalidSelection, input, "empty selection")
	}

	seen := map[int]struct{}{}
	var picks []int
	for _, field := range strings.Split(trimmed, ",") {
		token := strings.TrimSpace(field)
		idx, err := strconv.Atoi(token)
		if err != nil {
			return nil, fault.Newf(fault.ErrInvalidSelection, input, "%q is not a number", token)
		}
		if idx < 1 || idx > n {
			return nil, fault.Newf(fault.ErrInvalidSelection, input, "%d is out of range 1-%d", idx, n)
		}
		if _, dup := seen[idx]; dup {
			continue
		}
		seen[idx] = struct{}{}
		picks = append(picks, idx)
	}
	return picks, nil
}

// Select 把已校验的序号映射为目录条目。
func (c *Catalog) Select(input string) ([]models.CatalogEntry, error) {
	picks, err := ParseSelection(input, c.Len())
	if err != nil {
		return nil, err
	}
	out := make([]models.CatalogEntry, 0, len(picks))
	for _, idx := range picks {
		entry, _ := c.At(idx)
		out = append(out, entry)
	}
	return out, nil
}
