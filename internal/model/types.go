package model

import (
	"database/sql/driver"
	"encoding/json"
)

// StringArray 用于 JSON 数组字段
type StringArray []string

func (s StringArray) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	return json.Marshal(s)
}

func (s *StringArray) Scan(value interface{}) error {
	if value == nil {
		*s = []string{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		if str, ok := value.(string); ok {
			bytes = []byte(str)
		} else {
			return nil
		}
	}
	return json.Unmarshal(bytes, s)
}

// FileChange 单个文件的变更统计
type FileChange struct {
	Path      string `json:"path"`
	Additions int    `json:"additions"`
	Deletions int    `json:"deletions"`
	Status    string `json:"status,omitempty"` // added, modified, removed, renamed
}

// FileChangeList 文件变更列表，存为 JSON 列
type FileChangeList []FileChange

func (l FileChangeList) Value() (driver.Value, error) {
	if l == nil {
		return "[]", nil
	}
	return json.Marshal(l)
}

func (l *FileChangeList) Scan(value interface{}) error {
	return scanJSON(value, l)
}

// ImpactFactors 影响力评分的因子拆解
type ImpactFactors struct {
	Base       float64 `json:"base"`
	Size       float64 `json:"size"`
	CoreModule float64 `json:"core_module"`
	Hotspot    float64 `json:"hotspot"`
	Test       float64 `json:"test"`
	Config     float64 `json:"config"`
}

func (f ImpactFactors) Value() (driver.Value, error) {
	return json.Marshal(f)
}

func (f *ImpactFactors) Scan(value interface{}) error {
	return scanJSON(value, f)
}

// scanJSON gorm JSON 列通用反序列化
func scanJSON(value interface{}, dest interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		str, ok := value.(string)
		if !ok {
			return nil
		}
		bytes = []byte(str)
	}
	return json.Unmarshal(bytes, dest)
}
