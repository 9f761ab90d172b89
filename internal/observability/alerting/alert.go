// Package alerting 把执行失败事件扇出到邮件、钉钉与 Slack。
// 通知器只依赖各自的 sender 接口，便于在测试中替换。
package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	xerrors "VaultPilot/internal/errors"
	"VaultPilot/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

const (
	ChannelEmail    Channel = "email"
	ChannelDingTalk Channel = "dingtalk"
	ChannelSlack    Channel = "slack"
)

// Event 描述一次需要告警的执行事件。
// Channel 为空表示广播到全部渠道，否则只投递到指定渠道。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	Channel    Channel
	RequestID  string
	StrategyID int64
	Network    string
	Attempts   int
	MaxRetries int
	Metadata   map[string]string
	OccurredAt time.Time
}

// headline 是所有渠道共用的一行摘要。
func (e Event) headline() string {
	return fmt.Sprintf("[%s] %s", e.Severity, e.Code)
}

// details 渲染事件的多行正文。
func (e Event) details() string {
	var b strings.Builder
	fmt.Fprintf(&b, "告警时间: %s\n", e.OccurredAt.Format(time.RFC3339))
	fmt.Fprintf(&b, "执行请求: %s\n", e.RequestID)
	fmt.Fprintf(&b, "策略: %d\n", e.StrategyID)
	if e.Network != "" {
		fmt.Fprintf(&b, "网络: %s\n", e.Network)
	}
	fmt.Fprintf(&b, "重试: %d/%d\n", e.Attempts, e.MaxRetries)
	fmt.Fprintf(&b, "描述: %s", e.Message)
	if len(e.Metadata) > 0 {
		keys := make([]string, 0, len(e.Metadata))
		for k := range e.Metadata {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteString("\n详情:")
		for _, k := range keys {
			fmt.Fprintf(&b, "\n- %s: %s", k, e.Metadata[k])
		}
	}
	return b.String()
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 按渠道路由事件，统一收集各渠道的发送错误。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

var _ Dispatcher = (*FanoutDispatcher)(nil)

// NewFanout 组装分发器，nil 通知器被忽略，同渠道后注册者覆盖前者。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n != nil {
			set[n.Channel()] = n
		}
	}
	return &FanoutDispatcher{notifiers: set}
}

// Notify 投递事件。事件指定了渠道时只发该渠道，否则广播。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	if event.Channel != "" {
		notifier, ok := d.notifiers[event.Channel]
		if !ok {
			return fmt.Errorf("告警渠道 %s 未注册", event.Channel)
		}
		return notifier.Notify(ctx, event)
	}

	var errs []error
	for _, ch := range d.channels() {
		if err := d.notifiers[ch].Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", ch, err))
		}
	}
	return errors.Join(errs...)
}

func (d *FanoutDispatcher) channels() []Channel {
	chs := make([]Channel, 0, len(d.notifiers))
	for ch := range d.notifiers {
		chs = append(chs, ch)
	}
	sort.Slice(chs, func(i, j int) bool { return chs[i] < chs[j] })
	return chs
}

// EmailSender 定义发送邮件所需的能力。
type EmailSender interface {
	Send(ctx context.Context, subject, content string, to []string) error
}

// EmailNotifier 通过邮件发送告警。
type EmailNotifier struct {
	Sender        EmailSender
	To            []string
	SubjectPrefix string
}

func (n *EmailNotifier) Channel() Channel { return ChannelEmail }

func (n *EmailNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || len(n.To) == 0 {
		logger.L().Warn("EmailNotifier 未正确配置，跳过发送", slog.String("request_id", event.RequestID))
		return nil
	}
	subject := n.SubjectPrefix + event.headline()
	return n.Sender.Send(ctx, subject, event.details(), n.To)
}

// DingTalkSender 负责向钉钉机器人发送消息。
type DingTalkSender interface {
	Send(ctx context.Context, content string) error
}

// DingTalkNotifier 通过钉钉机器人发送告警。
type DingTalkNotifier struct {
	Sender DingTalkSender
}

func (n *DingTalkNotifier) Channel() Channel { return ChannelDingTalk }

func (n *DingTalkNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil {
		logger.L().Warn("DingTalkNotifier 未正确配置，跳过发送", slog.String("request_id", event.RequestID))
		return nil
	}
	return n.Sender.Send(ctx, event.headline()+"\n"+event.details())
}

// SlackSender 负责向 Slack 渠道发送消息。
type SlackSender interface {
	Send(ctx context.Context, channel, content string) error
}

// SlackNotifier 通过 Slack 发送告警。
type SlackNotifier struct {
	Sender    SlackSender
	ChannelID string
}

func (n *SlackNotifier) Channel() Channel { return ChannelSlack }

func (n *SlackNotifier) Notify(ctx context.Context, event Event) error {
	if n == nil || n.Sender == nil || n.ChannelID == "" {
		logger.L().Warn("SlackNotifier 未正确配置，跳过发送", slog.String("request_id", event.RequestID))
		return nil
	}
	content := fmt.Sprintf("*%s* %s (执行 %s, 重试 %d/%d)",
		event.headline(), event.Message, event.RequestID, event.Attempts, event.MaxRetries)
	return n.Sender.Send(ctx, n.ChannelID, content)
}
