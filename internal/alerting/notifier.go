package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"infra-anomaly-alerts/internal/engine"
	"infra-anomaly-alerts/internal/report"
)

// Notifier 定义告警报告的输送接口。
type Notifier interface {
	Notify(ctx context.Context, report *engine.AnomalyReport) error
}

// SlackNotifier 通过 Slack Web API 推送异常报告。
type SlackNotifier struct {
	botToken string
	channel  string
	baseURL  string
	chartDir string
	client   *http.Client
	logger   zerolog.Logger
}

// NewSlackNotifier 构造 Slack 告警器。chartDir 为空时不附加图表。
func NewSlackNotifier(botToken, channel, baseURL, chartDir string, timeout time.Duration, logger zerolog.Logger) *SlackNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if baseURL == "" {
		baseURL = "https://slack.com"
	}

	return &SlackNotifier{
		botToken: botToken,
		channel:  channel,
		baseURL:  strings.TrimRight(baseURL, "/"),
		chartDir: chartDir,
		client:   &http.Client{Timeout: timeout},
		logger:   logger.With().Str("component", "alert_slack").Logger(),
	}
}

// Notify 调用 chat.postMessage 推送文本，并逐个上传信号图表。
func (n *SlackNotifier) Notify(ctx context.Context, report *engine.AnomalyReport) error {
	payload := map[string]string{
		"channel": n.channel,
		"text":    RenderReport(report),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal slack payload: %w", err)
	}

	url := fmt.Sprintf("%s/api/chat.postMessage", n.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.botToken)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send slack request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack 响应码异常: %d", resp.StatusCode)
	}

	var result struct {
		OK    bool   `json:"ok"`
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err == nil {
		if !result.OK {
			return fmt.Errorf("slack 返回 ok=false: %s", result.Error)
		}
	}

	if n.chartDir != "" {
		n.uploadCharts(ctx, report)
	}

	n.logger.Info().Str("trigger", report.Trigger).
		Int("signals", report.SignalCount()).
		Int("degraded", report.DegradedCount()).
		Msg("告警已发送 (Slack)")
	return nil
}

// uploadCharts 上传 chartDir 中与信号对应的 PNG，失败仅记录日志。
func (n *SlackNotifier) uploadCharts(ctx context.Context, rep *engine.AnomalyReport) {
	for _, sig := range rep.Batch.Signals {
		name := report.ChartFileName(sig.Metric)
		path := filepath.Join(n.chartDir, name)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := n.uploadFile(ctx, path, sig.Metric.String()); err != nil {
			n.logger.Warn().Err(err).Str("metric", sig.Metric.String()).Msg("图表上传失败")
		}
	}
}

func (n *SlackNotifier) uploadFile(ctx context.Context, path, title string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open chart: %w", err)
	}
	defer file.Close()

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if err := writer.WriteField("channels", n.channel); err != nil {
		return fmt.Errorf("write channels field: %w", err)
	}
	if err := writer.WriteField("title", title); err != nil {
		return fmt.Errorf("write title field: %w", err)
	}
	part, err := writer.CreateFormFile("file", filepath.Base(path))
	if err != nil {
		return fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, file); err != nil {
		return fmt.Errorf("copy chart body: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("finalize form: %w", err)
	}

	url := fmt.Sprintf("%s/api/files.upload", n.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, &body)
	if err != nil {
		return fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+n.botToken)

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send upload request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("slack 响应码异常: %d", resp.StatusCode)
	}
	return nil
}

var _ Notifier = (*SlackNotifier)(nil)
