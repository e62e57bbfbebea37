// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// AnalysisTask represents a background personality analysis job for one user.
type AnalysisTask struct {
	TaskID      string    `json:"task_id"`
	UserID      string    `json:"user_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// NewAnalysisTask 创建一个带唯一 TaskID 的分析任务。
func NewAnalysisTask(userID string, now time.Time) AnalysisTask {
	return AnalysisTask{TaskID: uuid.NewString(), UserID: userID, RequestedAt: now.UTC()}
}

// PaymentEvent is a purchase that the payment provider has already verified.
type PaymentEvent struct {
	EventID string `json:"event_id"`
	UserID  string `json:"user_id"`
	Tokens  int    `json:"tokens"`
}

// Validate 检查事件字段是否完整。
func (e PaymentEvent) Validate() error {
	switch {
	case e.EventID == "":
		return errors.New("payment event has no event_id")
	case e.UserID == "":
		return errors.New("payment event has no user_id")
	case e.Tokens <= 0:
		return errors.New("payment event tokens must be positive")
	}
	return nil
}
