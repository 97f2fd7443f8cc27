package collab

import (
	"fmt"
	"strings"
)

// 文档中可独立编辑的字段
const (
	FieldBanglish = "banglish"
	FieldBangla   = "bangla"
	FieldTitle    = "title"
	FieldCaption  = "caption"
	FieldTags     = "tags" // 逗号分隔
	FieldStatus   = "status"
)

const (
	StatusDraft     = "Draft"
	StatusPublished = "Published"
)

var knownFields = map[string]struct{}{
	FieldBanglish: {},
	FieldBangla:   {},
	FieldTitle:    {},
	FieldCaption:  {},
	FieldTags:     {},
	FieldStatus:   {},
}

// FieldNames 返回全部字段名（顺序固定）
func FieldNames() []string {
	return []string{FieldBanglish, FieldBangla, FieldTitle, FieldCaption, FieldTags, FieldStatus}
}

// ValidateChange 校验字段名与取值，不合法时不改任何状态
func ValidateChange(field, value string) error {
	if _, ok := knownFields[field]; !ok {
		return fmt.Errorf("%w: %q", ErrUnknownField, field)
	}
	if field == FieldStatus && value != StatusDraft && value != StatusPublished {
		return fmt.Errorf("%w: status must be %s or %s, got %q", ErrInvalidValue, StatusDraft, StatusPublished, value)
	}
	return nil
}

// FieldValue：字段最新值 + 单调递增的版本号
type FieldValue struct {
	Value    string `json:"value"`
	Revision uint64 `json:"revision"`
}

// SplitTags / JoinTags：tags 字段在内存里是逗号分隔字符串，存储层按需拆分
func SplitTags(v string) []string {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func JoinTags(tags []string) string {
	return strings.Join(tags, ",")
}
