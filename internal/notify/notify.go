package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// PaymentNotification 支付完成通知载荷
type PaymentNotification struct {
	JobID          string `json:"job_id"`
	FileName       string `json:"file_name"`
	InsertedAmount int64  `json:"inserted_amount"`
	ChangeAmount   int64  `json:"change_amount"`
	TotalPrice     int64  `json:"total_price"`
	Status         string `json:"status"`
}

// Notifier 后端通知器
//
// 尽力而为：只发一次，失败记日志不重试，
// 通知失败绝不能阻塞打印流程。
type Notifier struct {
	url    string
	client *http.Client
	logger *zap.Logger
}

// NewNotifier 创建通知器，url 为空时所有通知都跳过
func NewNotifier(url string, timeout time.Duration, logger *zap.Logger) *Notifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Notifier{
		url:    url,
		client: &http.Client{Timeout: timeout},
		logger: logger,
	}
}

// PaymentCompleted 上报支付结果
func (n *Notifier) PaymentCompleted(ctx context.Context, p *PaymentNotification) {
	if n.url == "" {
		return
	}

	body, err := json.Marshal(p)
	if err != nil {
		n.logger.Error("通知载荷序列化失败", zap.Error(err))
		return
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		n.logger.Error("构建通知请求失败", zap.Error(err))
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		n.logger.Warn("支付通知发送失败",
			zap.String("job_id", p.JobID),
			zap.Error(err))
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		n.logger.Warn("支付通知被后端拒绝",
			zap.String("job_id", p.JobID),
			zap.Int("status", resp.StatusCode))
		return
	}
	n.logger.Info("支付通知已送达",
		zap.String("job_id", p.JobID),
		zap.Int64("inserted", p.InsertedAmount),
		zap.Int64("change", p.ChangeAmount))
}
