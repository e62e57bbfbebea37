package service

import (
	"bytes"
	"encoding/json"
	"fmt"
	"persona-chat-go/internal/model"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Scan 标识一次结构化扫描。
type Scan string

const (
	ScanBigFive    Scan = "big_five"
	ScanAttachment Scan = "attachment"
)

// ScanError 是扫描结果解析失败的类型化错误。
type ScanError struct {
	Scan   Scan
	Reason string
	Err    error
}

func (e *ScanError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s scan: %s: %v", e.Scan, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s scan: %s", e.Scan, e.Reason)
}

func (e *ScanError) Unwrap() error {
	return e.Err
}

// 指针字段用于区分“缺失”与“零值”。
type bigFiveWire struct {
	Openness          *float64 `json:"openness" validate:"required,gte=0,lte=1"`
	Conscientiousness *float64 `json:"conscientiousness" validate:"required,gte=0,lte=1"`
	Extraversion      *float64 `json:"extraversion" validate:"required,gte=0,lte=1"`
	Agreeableness     *float64 `json:"agreeableness" validate:"required,gte=0,lte=1"`
	Neuroticism       *float64 `json:"neuroticism" validate:"required,gte=0,lte=1"`
}

type attachmentWire struct {
	AnxietyScore   *float64 `json:"anxiety_score" validate:"required,gte=0,lte=1"`
	AvoidanceScore *float64 `json:"avoidance_score" validate:"required,gte=0,lte=1"`
	Style          string   `json:"style" validate:"required,oneof=secure anxious avoidant fearful-avoidant"`
}

var scanValidator = validator.New()

// extractJSON 去掉代码块包裹，并截取最外层的 {...}。
func extractJSON(text string) (string, bool) {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start < 0 || end < start {
		return "", false
	}
	return text[start : end+1], true
}

func decodeScan(scan Scan, text string, dst interface{}) error {
	raw, ok := extractJSON(text)
	if !ok {
		return &ScanError{Scan: scan, Reason: "no json object in response"}
	}
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &ScanError{Scan: scan, Reason: "malformed json", Err: err}
	}
	if err := scanValidator.Struct(dst); err != nil {
		return &ScanError{Scan: scan, Reason: "invalid fields", Err: err}
	}
	return nil
}

// ParseBigFive 严格解析人格特质扫描结果，每项必须存在且位于 [0,1]。
func ParseBigFive(text string) (*model.BigFive, error) {
	var w bigFiveWire
	if err := decodeScan(ScanBigFive, text, &w); err != nil {
		return nil, err
	}
	return &model.BigFive{
		Openness:          *w.Openness,
		Conscientiousness: *w.Conscientiousness,
		Extraversion:      *w.Extraversion,
		Agreeableness:     *w.Agreeableness,
		Neuroticism:       *w.Neuroticism,
	}, nil
}

// ParseAttachment 严格解析依恋风格扫描结果。
func ParseAttachment(text string) (*model.AttachmentStyle, error) {
	var w attachmentWire
	if err := decodeScan(ScanAttachment, text, &w); err != nil {
		return nil, err
	}
	return &model.AttachmentStyle{
		AnxietyScore:   *w.AnxietyScore,
		AvoidanceScore: *w.AvoidanceScore,
		Style:          w.Style,
	}, nil
}
