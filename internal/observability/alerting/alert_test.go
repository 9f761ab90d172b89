package alerting

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	xerrors "VaultPilot/internal/errors"
)

type fakeDingTalkSender struct {
	contents []string
	err      error
}

func (s *fakeDingTalkSender) Send(_ context.Context, content string) error {
	s.contents = append(s.contents, content)
	return s.err
}

type fakeSlackSender struct {
	channels []string
	contents []string
}

func (s *fakeSlackSender) Send(_ context.Context, channel, content string) error {
	s.channels = append(s.channels, channel)
	s.contents = append(s.contents, content)
	return nil
}

type fakeEmailSender struct {
	subjects []string
	bodies   []string
	to       [][]string
}

func (s *fakeEmailSender) Send(_ context.Context, subject, content string, to []string) error {
	s.subjects = append(s.subjects, subject)
	s.bodies = append(s.bodies, content)
	s.to = append(s.to, to)
	return nil
}

func sampleEvent() Event {
	return Event{
		Code:       xerrors.CodeChainExecution,
		Message:    "提交批量交易失败",
		Severity:   xerrors.SeverityCritical,
		RequestID:  "req-42",
		StrategyID: 7,
		Network:    "sepolia",
		Attempts:   2,
		MaxRetries: 3,
		Metadata:   map[string]string{"stage": "terminal"},
		OccurredAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestFanoutBroadcastsToAllChannels(t *testing.T) {
	ding := &fakeDingTalkSender{}
	slack := &fakeSlackSender{}
	dispatcher := NewFanout(
		&DingTalkNotifier{Sender: ding},
		&SlackNotifier{Sender: slack, ChannelID: "#ops"},
	)

	if err := dispatcher.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if len(ding.contents) != 1 || len(slack.contents) != 1 {
		t.Fatalf("expected both channels notified, got dingtalk=%d slack=%d",
			len(ding.contents), len(slack.contents))
	}
	if !strings.Contains(ding.contents[0], "req-42") {
		t.Fatalf("dingtalk message missing request id: %s", ding.contents[0])
	}
	if slack.channels[0] != "#ops" {
		t.Fatalf("unexpected slack channel %s", slack.channels[0])
	}
}

func TestFanoutRoutesToNamedChannel(t *testing.T) {
	ding := &fakeDingTalkSender{}
	slack := &fakeSlackSender{}
	dispatcher := NewFanout(
		&DingTalkNotifier{Sender: ding},
		&SlackNotifier{Sender: slack, ChannelID: "#ops"},
	)

	event := sampleEvent()
	event.Channel = ChannelSlack
	if err := dispatcher.Notify(context.Background(), event); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if len(slack.contents) != 1 || len(ding.contents) != 0 {
		t.Fatalf("event must reach only the named channel, got dingtalk=%d slack=%d",
			len(ding.contents), len(slack.contents))
	}

	event.Channel = ChannelEmail
	if err := dispatcher.Notify(context.Background(), event); err == nil {
		t.Fatal("expected error for unregistered channel")
	}
}

func TestFanoutCollectsSendErrors(t *testing.T) {
	broken := &fakeDingTalkSender{err: errors.New("robot unreachable")}
	slack := &fakeSlackSender{}
	dispatcher := NewFanout(
		&DingTalkNotifier{Sender: broken},
		&SlackNotifier{Sender: slack, ChannelID: "#ops"},
	)

	err := dispatcher.Notify(context.Background(), sampleEvent())
	if err == nil {
		t.Fatal("expected aggregated send error")
	}
	if !strings.Contains(err.Error(), "dingtalk") {
		t.Fatalf("error should name the failing channel: %v", err)
	}
	if len(slack.contents) != 1 {
		t.Fatal("one failing channel must not block the others")
	}
}

func TestEmailNotifierRendersEventDetails(t *testing.T) {
	sender := &fakeEmailSender{}
	notifier := &EmailNotifier{Sender: sender, To: []string{"ops@example.com"}, SubjectPrefix: "[vaultpilot] "}

	if err := notifier.Notify(context.Background(), sampleEvent()); err != nil {
		t.Fatalf("Notify returned error: %v", err)
	}
	if len(sender.subjects) != 1 {
		t.Fatalf("expected one email, got %d", len(sender.subjects))
	}
	subject := sender.subjects[0]
	if !strings.HasPrefix(subject, "[vaultpilot] ") || !strings.Contains(subject, string(xerrors.CodeChainExecution)) {
		t.Fatalf("unexpected subject %q", subject)
	}
	body := sender.bodies[0]
	for _, want := range []string{"req-42", "sepolia", "2/3", "stage: terminal"} {
		if !strings.Contains(body, want) {
			t.Fatalf("email body missing %q:\n%s", want, body)
		}
	}
}

func TestDingTalkWebhookPostsTextPayload(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("decode webhook payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	webhook := &DingTalkWebhook{URL: server.URL}
	if err := webhook.Send(context.Background(), "链上执行失败"); err != nil {
		t.Fatalf("Send returned error: %v", err)
	}
	if got["msgtype"] != "text" {
		t.Fatalf("unexpected payload %v", got)
	}
}

func TestSlackWebhookReportsServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer server.Close()

	webhook := &SlackWebhook{URL: server.URL}
	err := webhook.Send(context.Background(), "#ops", "boom")
	if err == nil {
		t.Fatal("expected error for non-2xx response")
	}
	if !strings.Contains(err.Error(), "403") {
		t.Fatalf("error should carry the status code: %v", err)
	}
}
