package notify_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"depot/internal/config"
	"depot/internal/depot"
	"depot/internal/notify"
)

func TestRedisNotifier_Publishes(t *testing.T) {
	s := miniredis.RunT(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sub := redis.NewClient(&redis.Options{Addr: s.Addr()})
	defer sub.Close()
	ps := sub.Subscribe(ctx, "reminders")
	defer ps.Close()
	if _, err := ps.Receive(ctx); err != nil {
		t.Fatalf("Receive() subscription confirmation error = %v", err)
	}

	n, err := notify.NewRedisNotifier("redis://"+s.Addr(), "reminders")
	if err != nil {
		t.Fatalf("NewRedisNotifier() error = %v", err)
	}
	defer n.Close()

	notice := depot.Notice{RecipientID: "alice", Title: "Uploaded", Body: "delete the original", Link: "https://example.test/x"}
	if err := n.Notify(ctx, notice); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	msg, err := ps.ReceiveMessage(ctx)
	if err != nil {
		t.Fatalf("ReceiveMessage() error = %v", err)
	}
	var got depot.Notice
	if err := json.Unmarshal([]byte(msg.Payload), &got); err != nil {
		t.Fatalf("decoding payload: %v", err)
	}
	if got != notice {
		t.Errorf("notice = %+v, want %+v", got, notice)
	}
}

func TestRedisNotifier_DefaultChannel(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	n := notify.NewRedisNotifierWithClient(client, "")
	defer n.Close()

	if err := n.Notify(context.Background(), depot.Notice{RecipientID: "bob"}); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
}

func TestLogNotifier(t *testing.T) {
	n := notify.NewLogNotifier(depot.NewNopLogger())
	if err := n.Notify(context.Background(), depot.Notice{RecipientID: "alice"}); err != nil {
		t.Errorf("Notify() error = %v", err)
	}
}

func TestNewNotifierFromConfig(t *testing.T) {
	s := miniredis.RunT(t)
	tests := []struct {
		name    string
		cfg     config.NotifierConfig
		wantErr bool
	}{
		{"default", config.NotifierConfig{}, false},
		{"log", config.NotifierConfig{Type: "log"}, false},
		{"redis", config.NotifierConfig{Type: "redis", RedisURL: "redis://" + s.Addr()}, false},
		{"redis without url", config.NotifierConfig{Type: "redis"}, true},
		{"unknown", config.NotifierConfig{Type: "smtp"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n, err := notify.NewNotifierFromConfig(tt.cfg, depot.NewNopLogger())
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewNotifierFromConfig() error = %v, wantErr %v", err, tt.wantErr)
			}
			if n != nil {
				n.Close()
			}
		})
	}
}
