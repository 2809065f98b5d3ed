package tasks

import (
	"encoding/json"
	"time"

	"github.com/hibiken/asynq"
)

// 任务类型常量，确保队列生产者与消费者一致。
const (
	TypePDFPrewarm = "pdf:prewarm"
)

// PDFPrewarmPayload carries a render request to the worker.
// CVData is kept raw so the worker validates exactly what the client sent.
type PDFPrewarmPayload struct {
	CVData        json.RawMessage `json:"cv_data"`
	Template      string          `json:"template"`
	CorrelationID string          `json:"correlation_id"`
}

// NewPDFPrewarmTask 构造一个预渲染任务。
// Identical requests enqueued within the cache TTL collapse into one task.
func NewPDFPrewarmTask(cvData json.RawMessage, template, correlationID, key string, ttl time.Duration) (*asynq.Task, error) {
	payload, err := json.Marshal(PDFPrewarmPayload{
		CVData:        cvData,
		Template:      template,
		CorrelationID: correlationID,
	})
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TypePDFPrewarm, payload,
		asynq.TaskID("prewarm:"+key),
		asynq.Retention(ttl),
		asynq.MaxRetry(2),
		asynq.Timeout(time.Minute),
	), nil
}
