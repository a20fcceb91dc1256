package main

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/rushteam/matchkit/config"
)

type nopDispatcher struct{}

func (nopDispatcher) EnqueueDispatch(context.Context, string) error { return nil }

func TestNewScheduler(t *testing.T) {
	tests := []struct {
		name    string
		sc      config.ScheduleConfig
		wantErr bool
	}{
		{name: "valid", sc: config.ScheduleConfig{Cron: "0 3 * * *", Timezone: "Asia/Shanghai"}},
		{name: "unknown timezone", sc: config.ScheduleConfig{Cron: "0 3 * * *", Timezone: "Mars/Olympus"}, wantErr: true},
		{name: "bad cron", sc: config.ScheduleConfig{Cron: "every day", Timezone: "UTC"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := newScheduler(tt.sc, nopDispatcher{}, zap.NewNop())
			if (err != nil) != tt.wantErr {
				t.Fatalf("newScheduler() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			shanghai, _ := time.LoadLocation("Asia/Shanghai")
			from := time.Date(2024, 5, 20, 12, 0, 0, 0, shanghai)
			want := time.Date(2024, 5, 21, 3, 0, 0, 0, shanghai)
			if got := s.Next(from); !got.Equal(want) {
				t.Errorf("Next() = %v, want %v", got, want)
			}
		})
	}
}
