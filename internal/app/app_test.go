package app

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"hatbot/internal/chatops"
	"hatbot/internal/config"
	"hatbot/internal/moderation"
	"hatbot/internal/playtest"
	"hatbot/internal/rcon"
	"hatbot/internal/scheduler"
	"hatbot/internal/storage"
	"hatbot/internal/transport/telegram/router"
	logx "hatbot/pkg/logx"
)

func TestMapStorageConfig(t *testing.T) {
	cases := []struct {
		name    string
		in      config.StorageConfig
		driver  string
		busy    time.Duration
		wantErr bool
	}{
		{name: "empty is memory", in: config.StorageConfig{}, driver: "memory"},
		{name: "file", in: config.StorageConfig{Driver: "file", Path: "./data"}, driver: "file"},
		{name: "sqlite default busy", in: config.StorageConfig{Driver: "SQLite", Path: "x.db"}, driver: "sqlite", busy: time.Second},
		{name: "sqlite busy", in: config.StorageConfig{Driver: "sqlite3", Path: "x.db", BusyTimeout: "3s"}, driver: "sqlite3", busy: 3 * time.Second},
		{name: "sqlite without path", in: config.StorageConfig{Driver: "sqlite"}, wantErr: true},
		{name: "unknown", in: config.StorageConfig{Driver: "redis"}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := mapStorageConfig(&config.Config{Storage: tc.in})
			if tc.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got.Driver != tc.driver || got.BusyTimeout != tc.busy {
				t.Fatalf("got %s/%v, want %s/%v", got.Driver, got.BusyTimeout, tc.driver, tc.busy)
			}
		})
	}
}

func TestMapPlaytestConfig(t *testing.T) {
	cfg := &config.Config{Playtest: config.PlaytestConfig{
		CasualConfig:   " casual ",
		CompConfig:     "comp",
		PostgameConfig: "post",
		Delays:         config.PlaytestDelays{Settle: "2s", PostSettle: "20s"},
	}}
	got, err := mapPlaytestConfig(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.CasualConfig != "casual" {
		t.Fatalf("casual config not trimmed: %q", got.CasualConfig)
	}
	if got.Delays.Settle != 2*time.Second || got.Delays.PostSettle != 20*time.Second || got.Delays.StartSettle != 0 {
		t.Fatalf("got delays %+v", got.Delays)
	}

	cfg.Playtest.Delays.AnnounceGap = "soon"
	if _, err := mapPlaytestConfig(cfg); err == nil {
		t.Fatalf("expected error for a bad delay")
	}
}

func TestMapTargetsFallsBackToGroup(t *testing.T) {
	cfg := &config.Config{
		Telegram: config.TelegramConfig{ChatID: -100},
		Playtest: config.PlaytestConfig{TestingChatID: -200},
	}
	got := mapTargets(cfg)
	if got.Announce.ChatID != -100 || got.Testing.ChatID != -200 {
		t.Fatalf("got %+v", got)
	}
}

func TestCheckConfig(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.json")
	if err := os.WriteFile(good, []byte(`{
		"telegram": {"token": "t", "owner_user_ids": [1]},
		"playtest": {"casual_config": "casual", "comp_config": "comp", "postgame_config": "post"}
	}`), 0o600); err != nil {
		t.Fatal(err)
	}
	cfg, err := CheckConfig(good)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.Telegram.OwnerUserIDs) != 1 {
		t.Fatalf("got owners %v", cfg.Telegram.OwnerUserIDs)
	}

	bad := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(bad, []byte("telegram:\n  token: t\nstorage:\n  driver: sqlite\nplaytest:\n  casual_config: a\n  comp_config: b\n  postgame_config: c\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := CheckConfig(bad); err == nil {
		t.Fatalf("expected error for sqlite without a path")
	}
}

func TestApplyConfigHotReload(t *testing.T) {
	logs, log := logx.New(logx.Config{Level: "error"}, nil)
	defer logs.Close()

	store := storage.NewMemory()
	sched := scheduler.New(scheduler.Config{}, log, nil)
	roles := chatops.NewRoles(nil, 0)
	a := &App{
		log:   log,
		logs:  logs,
		cmdm:  router.NewCommandManager(log, nil, []int64{1}, nil),
		roles: roles,
		pub:   chatops.NewPublisher(nil, nil, store, chatops.Targets{}, log),
		mutes: moderation.NewEngine(store, roles, sched, log),
		rcon:  rcon.NewChannel(store, time.Second, log),
		orch:  playtest.NewOrchestrator(playtest.Deps{Log: log}, playtest.Config{}),
	}

	oldCfg := &config.Config{Telegram: config.TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}}}
	newCfg := &config.Config{
		Telegram:   config.TelegramConfig{Token: "t", OwnerUserIDs: []int64{1}, ModeratorUserIDs: []int64{7}, ChatID: -100},
		Rcon:       config.RconConfig{Timeout: "2s"},
		Playtest:   config.PlaytestConfig{CasualConfig: "casual", Delays: config.PlaytestDelays{Settle: "1s"}},
		Moderation: config.ModerationConfig{ImmuneUserIDs: []int64{5}},
	}
	if got := a.cmdm.AccessOf(7); got != router.AccessEveryone {
		t.Fatalf("before reload: got %v, want %v", got, router.AccessEveryone)
	}

	a.applyConfig(context.Background(), oldCfg, newCfg)

	if got := a.cmdm.AccessOf(7); got != router.AccessModerator {
		t.Fatalf("after reload: got %v, want %v", got, router.AccessModerator)
	}
	res, err := a.mutes.Mute(context.Background(), moderation.MuteRequest{UserID: 5, Duration: time.Hour, Reason: "spam"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Outcome != moderation.Immune {
		t.Fatalf("got outcome %v, want %v", res.Outcome, moderation.Immune)
	}
}
